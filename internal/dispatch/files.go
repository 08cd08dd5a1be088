package dispatch

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dagbolade/mcp-readonly-gateway/internal/pathguard"
	"github.com/dagbolade/mcp-readonly-gateway/internal/policy"
	"github.com/dagbolade/mcp-readonly-gateway/internal/redaction"
	"github.com/rs/zerolog/log"
)

const (
	maxListedFiles = 500
	maxListedDirs  = 200
)

// fileAccess is the shared Path Guard + Redaction Filter pipeline of the
// file-serving kinds.
type fileAccess struct {
	guard  *pathguard.Guard
	filter *redaction.Filter
}

// resolve maps an allowlisted relative path to an absolute one and checks
// that the symlink-free target is still allowlisted. A missing target is
// reported as file_not_found.
func (f *fileAccess) resolve(rel string, roots, files []string) (string, policy.Code) {
	abs, err := f.guard.Resolve(rel)
	switch {
	case errors.Is(err, pathguard.ErrNotFound):
		return "", policy.CodeFileNotFound
	case errors.Is(err, pathguard.ErrEscape):
		log.Warn().Str("path", rel).Msg("resolved path escapes repository root")
		return "", policy.CodePathNotAllowed
	case errors.Is(err, pathguard.ErrInvalid):
		return "", policy.CodeInvalidPath
	case err != nil:
		log.Warn().Err(err).Str("path", rel).Msg("path resolution failed")
		return "", policy.CodeFileNotFound
	}

	if resolved := f.guard.Relative(abs); resolved != rel && !pathguard.Allowed(resolved, roots, files) {
		log.Warn().Str("path", rel).Str("resolved", resolved).Msg("symlink target outside allowlist")
		return "", policy.CodePathNotAllowed
	}
	return abs, ""
}

// read loads a resolved regular file through the redaction filter.
func (f *fileAccess) read(abs string) (redaction.Text, policy.Code) {
	info, err := os.Stat(abs)
	if err != nil || !info.Mode().IsRegular() {
		return redaction.Text{}, policy.CodeFileNotFound
	}

	text, err := f.filter.ReadText(abs)
	if err != nil {
		log.Warn().Err(err).Msg("file read failed")
		return redaction.Text{}, policy.CodeReadFailed
	}
	if text.Denied {
		return redaction.Text{}, policy.CodeRedacted
	}
	return text, ""
}

// listFiles walks root and returns up to max regular files as prefix/rel.
// Symlinks are not followed. A missing root yields an empty list.
func listFiles(root, prefix string, max int) []string {
	items := []string{}
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		items = append(items, joinPrefix(prefix, filepath.ToSlash(rel)))
		if len(items) >= max {
			return fs.SkipAll
		}
		return nil
	})
	return items
}

// listDirs walks root and returns up to max directories below it, relative
// to the guard root, for which keep returns true.
func listDirs(guard *pathguard.Guard, root string, max int, keep func(rel string) bool) []string {
	items := []string{}
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() || path == root {
			return nil
		}
		rel := guard.Relative(path)
		if keep(rel) {
			items = append(items, rel)
			if len(items) >= max {
				return fs.SkipAll
			}
		}
		return nil
	})
	return items
}

func joinPrefix(prefix, rel string) string {
	if rel == "." {
		return prefix
	}
	return prefix + "/" + rel
}
