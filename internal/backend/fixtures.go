package backend

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Fixtures serves canned backend responses in test/CI mode.
type Fixtures struct {
	dir string
}

func NewFixtures(dir string) *Fixtures {
	return &Fixtures{dir: dir}
}

// Load returns the named fixture document marked with source=fixture. A
// missing fixture degrades to a fixture_missing document rather than an
// error.
func (f *Fixtures) Load(name string) (map[string]any, error) {
	data, err := os.ReadFile(filepath.Join(f.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]any{"ok": false, "error": "fixture_missing", "source": "fixture"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", name, err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode fixture %s: %w", name, err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	doc["source"] = "fixture"
	return doc, nil
}
