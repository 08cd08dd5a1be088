// Package pathguard keeps every filesystem access inside the allowlisted part
// of the repository. Paths are compared in normalized, slash-separated form
// relative to the repository root, and resolved paths are re-checked after
// symlink evaluation.
package pathguard

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"
)

var (
	ErrInvalid  = errors.New("invalid path")
	ErrEscape   = errors.New("path escapes root")
	ErrNotFound = errors.New("path not found")
)

// Normalize strips surrounding whitespace and leading slashes, converts
// backslashes to forward slashes and cleans the result. An empty input stays
// empty. A result of ".." or one starting with "../" points outside the root.
func Normalize(relpath string) string {
	rel := strings.TrimSpace(relpath)
	rel = strings.ReplaceAll(rel, `\`, "/")
	rel = strings.TrimLeft(rel, "/")
	if rel == "" {
		return ""
	}
	return path.Clean(rel)
}

// Escapes reports whether a normalized path leaves the root.
func Escapes(rel string) bool {
	return rel == ".." || strings.HasPrefix(rel, "../")
}

// Allowed reports whether relpath equals one of files or equals or descends
// from one of roots. Both sides are normalized before comparison.
func Allowed(relpath string, roots, files []string) bool {
	rel := Normalize(relpath)
	if rel == "" || rel == "." || Escapes(rel) || strings.ContainsRune(rel, 0) {
		return false
	}
	for _, f := range files {
		if rel == Normalize(f) {
			return true
		}
	}
	for _, r := range roots {
		root := Normalize(r)
		if root == "" || root == "." || Escapes(root) {
			continue
		}
		if rel == root || strings.HasPrefix(rel, root+"/") {
			return true
		}
	}
	return false
}

// Contain reports whether resolved is base or a descendant of base. Both must
// be absolute and already free of symlinks.
func Contain(base, resolved string) bool {
	rel, err := filepath.Rel(base, resolved)
	if err != nil || filepath.IsAbs(rel) {
		return false
	}
	rel = filepath.ToSlash(rel)
	return !Escapes(rel)
}

// HasSegment reports whether seg appears as a whole path segment of rel.
func HasSegment(rel, seg string) bool {
	if !ValidSegment(seg) {
		return false
	}
	for _, part := range strings.Split(Normalize(rel), "/") {
		if part == seg {
			return true
		}
	}
	return false
}

// HasSegmentBelow reports whether seg appears as a whole path segment of rel
// strictly below one of roots. Segments that belong to the root itself never
// match.
func HasSegmentBelow(rel string, roots []string, seg string) bool {
	rel = Normalize(rel)
	for _, r := range roots {
		root := Normalize(r)
		if root == "" || root == "." || Escapes(root) {
			continue
		}
		if rest, found := strings.CutPrefix(rel, root+"/"); found && HasSegment(rest, seg) {
			return true
		}
	}
	return false
}

// ValidSegment reports whether s can only ever match a single path segment.
func ValidSegment(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	return !strings.ContainsAny(s, "/\\\x00")
}

// Guard resolves allowlisted relative paths against a fixed root.
type Guard struct {
	root string
}

// New returns a Guard for root. root must be absolute with symlinks resolved.
func New(root string) *Guard {
	return &Guard{root: root}
}

// Resolve joins relpath onto the root, evaluates symlinks and verifies the
// result is still contained in the root.
func (g *Guard) Resolve(relpath string) (string, error) {
	rel := Normalize(relpath)
	if rel == "" || Escapes(rel) || strings.ContainsRune(rel, 0) {
		return "", ErrInvalid
	}

	joined := filepath.Join(g.root, filepath.FromSlash(rel))
	resolved, err := filepath.EvalSymlinks(joined)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("resolve %s: %w", rel, err)
	}

	if !Contain(g.root, resolved) {
		return "", ErrEscape
	}
	return resolved, nil
}

// Relative returns abs relative to the root in slash form.
func (g *Guard) Relative(abs string) string {
	rel, err := filepath.Rel(g.root, abs)
	if err != nil {
		return ""
	}
	return filepath.ToSlash(rel)
}
