package audit

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/zeebo/blake3"
)

// Algorithm names accepted by NewDigestSealer.
const (
	AlgoSHA256 = "sha256"
	AlgoBLAKE3 = "blake3"
)

// ScriptManifest is the manifest name the external script is asked to write.
const ScriptManifest = "manifest.sha256"

// DigestSealer hashes every document in the directory in-process and writes
// a manifest in sha256sum line format.
type DigestSealer struct {
	algo     string
	manifest string
	newHash  func() hash.Hash
}

func NewDigestSealer(algo string) (*DigestSealer, error) {
	switch algo {
	case AlgoSHA256, "":
		return &DigestSealer{algo: AlgoSHA256, manifest: "manifest.sha256", newHash: sha256.New}, nil
	case AlgoBLAKE3:
		return &DigestSealer{algo: AlgoBLAKE3, manifest: "manifest.b3", newHash: func() hash.Hash { return blake3.New() }}, nil
	}
	return nil, fmt.Errorf("unsupported manifest algorithm %q", algo)
}

// Manifest returns the file name the sealer writes.
func (s *DigestSealer) Manifest() string {
	return s.manifest
}

func (s *DigestSealer) Seal(_ context.Context, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read audit dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && !strings.HasPrefix(e.Name(), "manifest.") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var buf bytes.Buffer
	for _, name := range names {
		sum, err := s.digest(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		fmt.Fprintf(&buf, "%s  %s\n", sum, name)
	}

	if err := os.WriteFile(filepath.Join(dir, s.manifest), buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

func (s *DigestSealer) digest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	h := s.newHash()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", filepath.Base(path), err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ScriptSealer runs the external manifest utility as
// <script> --dir <dir> --out <dir>/manifest.sha256.
type ScriptSealer struct {
	script string
}

func NewScriptSealer(script string) *ScriptSealer {
	return &ScriptSealer{script: script}
}

func (s *ScriptSealer) Seal(ctx context.Context, dir string) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.script, "--dir", dir, "--out", filepath.Join(dir, ScriptManifest))
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("manifest script: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// ManifestSealer prefers the external script when it exists and falls back
// to the in-process digest otherwise. Presence is checked on every seal.
type ManifestSealer struct {
	script   *ScriptSealer
	path     string
	fallback *DigestSealer
}

func NewManifestSealer(script string, fallback *DigestSealer) *ManifestSealer {
	return &ManifestSealer{
		script:   NewScriptSealer(script),
		path:     script,
		fallback: fallback,
	}
}

func (s *ManifestSealer) Seal(ctx context.Context, dir string) error {
	if s.path != "" {
		if info, err := os.Stat(s.path); err == nil && info.Mode().IsRegular() {
			return s.script.Seal(ctx, dir)
		}
	}
	if s.fallback == nil {
		log.Debug().Str("dir", dir).Msg("no manifest sealer available")
		return nil
	}
	return s.fallback.Seal(ctx, dir)
}
