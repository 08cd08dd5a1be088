package allowlist

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

type ChangeHandler func(path string)

// FileWatcher reports edits to configuration files that were loaded at
// startup. It never reloads anything itself.
type FileWatcher struct {
	watcher  *fsnotify.Watcher
	files    map[string]struct{}
	handler  ChangeHandler
	debounce time.Duration
	done     chan struct{}
	once     sync.Once
}

// NewFileWatcher watches the parent directories of paths and calls handler
// for writes to any of the named files. Paths whose directory does not exist
// are skipped.
func NewFileWatcher(paths []string, handler ChangeHandler) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	fw := &FileWatcher{
		watcher:  watcher,
		files:    make(map[string]struct{}),
		handler:  handler,
		debounce: 500 * time.Millisecond,
		done:     make(chan struct{}),
	}

	dirs := make(map[string]struct{})
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		fw.files[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}

	for dir := range dirs {
		if _, err := os.Stat(dir); err != nil {
			log.Debug().Str("dir", dir).Msg("skipping watch of missing directory")
			continue
		}
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("watch directory: %w", err)
		}
	}

	go fw.watch()
	return fw, nil
}

func (fw *FileWatcher) Close() error {
	var err error
	fw.once.Do(func() {
		close(fw.done)
		err = fw.watcher.Close()
	})
	return err
}

func (fw *FileWatcher) watch() {
	var pending *time.Timer
	for {
		select {
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if !fw.shouldHandle(event) {
				continue
			}
			// Debounce rapid changes
			if pending != nil {
				pending.Stop()
			}
			name := event.Name
			pending = time.AfterFunc(fw.debounce, func() { fw.handler(name) })
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("watcher error")
		case <-fw.done:
			if pending != nil {
				pending.Stop()
			}
			return
		}
	}
}

func (fw *FileWatcher) shouldHandle(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return false
	}
	_, ok := fw.files[filepath.Clean(event.Name)]
	return ok
}
