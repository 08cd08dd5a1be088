package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	dirTimeLayout = "20060102T150405Z"
	suffixLen     = 8
	createRetries = 3
	sealTimeout   = 30 * time.Second
)

// Recorder writes audit records under root. Record is asynchronous and never
// fails the caller; Close waits for every pending record.
type Recorder struct {
	root   string
	sealer Sealer
	index  Index
	now    func() time.Time

	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewRecorder returns a Recorder writing under root. sealer and index may be
// nil.
func NewRecorder(root string, sealer Sealer, index Index) *Recorder {
	return &Recorder{
		root:   root,
		sealer: sealer,
		index:  index,
		now:    time.Now,
	}
}

// Record persists rec in the background. Failures are logged.
func (r *Recorder) Record(rec Record) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		log.Warn().Str("action", rec.Request.Action).Msg("audit recorder closed, record dropped")
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		if _, err := r.Write(context.Background(), rec); err != nil {
			log.Warn().Err(err).Str("action", rec.Request.Action).Str("request_id", rec.Request.RequestID).Msg("audit write failed")
		}
	}()
}

// Write persists rec synchronously and returns the audit directory. The
// three documents appear atomically; sealing and indexing failures are
// logged and do not fail the write.
func (r *Recorder) Write(ctx context.Context, rec Record) (string, error) {
	docs, err := encodeRecord(rec)
	if err != nil {
		return "", err
	}

	dir, err := r.create(docs)
	if err != nil {
		return "", err
	}

	if r.sealer != nil {
		sealCtx, cancel := context.WithTimeout(ctx, sealTimeout)
		if err := r.sealer.Seal(sealCtx, dir); err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("audit seal failed")
		}
		cancel()
	}

	if r.index != nil {
		if err := r.index.Append(ctx, filepath.Base(dir), rec); err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("audit index append failed")
		}
	}

	log.Debug().Str("dir", dir).Bool("allowed", rec.Decision.Allowed).Msg("audit record written")
	return dir, nil
}

// Wait blocks until every pending record has been written.
func (r *Recorder) Wait() {
	r.wg.Wait()
}

// Close stops accepting records, waits for pending ones and closes the index.
func (r *Recorder) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.wg.Wait()
	if r.index != nil {
		return r.index.Close()
	}
	return nil
}

// create writes the documents into a staging directory and renames it into
// place.
func (r *Recorder) create(docs map[string][]byte) (string, error) {
	if err := os.MkdirAll(r.root, 0o755); err != nil {
		return "", fmt.Errorf("create audit root: %w", err)
	}

	staging, err := os.MkdirTemp(r.root, ".staging-")
	if err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	for name, data := range docs {
		if err := os.WriteFile(filepath.Join(staging, name), data, 0o644); err != nil {
			os.RemoveAll(staging)
			return "", fmt.Errorf("write %s: %w", name, err)
		}
	}
	if err := os.Chmod(staging, 0o755); err != nil {
		os.RemoveAll(staging)
		return "", fmt.Errorf("chmod staging dir: %w", err)
	}

	for attempt := 0; attempt < createRetries; attempt++ {
		dir := filepath.Join(r.root, r.dirName())
		if _, err := os.Lstat(dir); err == nil {
			continue
		} else if !errors.Is(err, fs.ErrNotExist) {
			os.RemoveAll(staging)
			return "", fmt.Errorf("stat audit dir: %w", err)
		}
		if err := os.Rename(staging, dir); err != nil {
			os.RemoveAll(staging)
			return "", fmt.Errorf("publish audit dir: %w", err)
		}
		return dir, nil
	}

	os.RemoveAll(staging)
	return "", fmt.Errorf("no free audit directory name after %d attempts", createRetries)
}

func (r *Recorder) dirName() string {
	id := uuid.New()
	suffix := fmt.Sprintf("%x", id[:])[:suffixLen]
	return r.now().UTC().Format(dirTimeLayout) + "-" + suffix
}

func encodeRecord(rec Record) (map[string][]byte, error) {
	docs := map[string][]byte{}
	for name, v := range map[string]any{
		RequestFile:  rec.Request,
		DecisionFile: rec.Decision,
		ResponseFile: rec.Response,
	} {
		data, err := encodeDocument(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", name, err)
		}
		docs[name] = data
	}
	return docs, nil
}

// encodeDocument renders v as indented JSON with keys sorted at every level
// and a trailing newline.
func encodeDocument(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
