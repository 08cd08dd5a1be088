package dispatch

import (
	"context"
	"errors"

	"github.com/dagbolade/mcp-readonly-gateway/internal/allowlist"
	"github.com/dagbolade/mcp-readonly-gateway/internal/git"
	"github.com/dagbolade/mcp-readonly-gateway/internal/params"
	"github.com/dagbolade/mcp-readonly-gateway/internal/pathguard"
	"github.com/dagbolade/mcp-readonly-gateway/internal/policy"
	"github.com/dagbolade/mcp-readonly-gateway/internal/redaction"
	"github.com/rs/zerolog/log"
)

const (
	defaultLogLimit = 10
	maxLogLimit     = 20
)

type repoHandler struct {
	files *fileAccess
	allow *allowlist.Allowlist
	git   git.Runner
}

func (h *repoHandler) handle(ctx context.Context, call Call) (Result, error) {
	switch call.Action {
	case "list_files":
		return h.listFiles(call)
	case "read_file":
		return h.readFile(call)
	case "git_diff":
		return h.gitDiff(ctx, call)
	case "git_log":
		return h.gitLog(ctx, call)
	}
	return reject(policy.CodeUnknownAction)
}

func (h *repoHandler) listFiles(call Call) (Result, error) {
	target, err := call.Params.String("path")
	if err != nil {
		return invalidParams(err)
	}

	if target == "" {
		items := listRoots(h.files.guard, h.allow.Roots, h.allow.Files)
		items = append(items, h.allow.Files...)
		return ok(policy.ReasonOK, map[string]any{"files": items}), nil
	}

	if !pathguard.Allowed(target, h.allow.Roots, h.allow.Files) {
		return reject(policy.CodePathNotAllowed)
	}
	rel := pathguard.Normalize(target)
	abs, err := h.files.guard.Resolve(rel)
	switch {
	case errors.Is(err, pathguard.ErrNotFound):
		return ok(policy.ReasonOK, map[string]any{"files": []string{}}), nil
	case err != nil:
		return reject(policy.CodeInvalidPath)
	}
	if resolved := h.files.guard.Relative(abs); resolved != rel && !pathguard.Allowed(resolved, h.allow.Roots, h.allow.Files) {
		return reject(policy.CodeInvalidPath)
	}

	return ok(policy.ReasonOK, map[string]any{"files": listFiles(abs, rel, maxListedFiles)}), nil
}

func (h *repoHandler) readFile(call Call) (Result, error) {
	target, err := call.Params.String("path")
	if err != nil {
		return invalidParams(err)
	}
	if target == "" || !pathguard.Allowed(target, h.allow.Roots, h.allow.Files) {
		return reject(policy.CodePathNotAllowed)
	}

	abs, code := h.files.resolve(pathguard.Normalize(target), h.allow.Roots, h.allow.Files)
	if code != "" {
		return reject(code)
	}
	text, code := h.files.read(abs)
	if code != "" {
		return reject(code)
	}

	return ok(policy.ReasonOK, map[string]any{
		"path":      target,
		"content":   text.Content,
		"truncated": text.Truncated,
	}), nil
}

func (h *repoHandler) gitDiff(ctx context.Context, call Call) (Result, error) {
	base, err := call.Params.String("base")
	if err != nil {
		return invalidParams(err)
	}
	target, err := call.Params.String("target")
	if err != nil {
		return invalidParams(err)
	}
	relpath, err := call.Params.String("path")
	if err != nil {
		return invalidParams(err)
	}

	if !git.SafeRef(base) || !git.SafeRef(target) {
		return reject(policy.CodeInvalidRef)
	}
	if relpath != "" {
		if !pathguard.Allowed(relpath, h.allow.Roots, h.allow.Files) {
			return reject(policy.CodePathNotAllowed)
		}
		relpath = pathguard.Normalize(relpath)
	}

	diff, err := h.git.Diff(ctx, base, target, relpath)
	if errors.Is(err, git.ErrUnsafeRef) {
		return reject(policy.CodeInvalidRef)
	}
	if err != nil {
		return Result{}, err
	}

	output, truncated := redaction.Truncate(diff.Output, redaction.MaxContentBytes)
	return ok(policy.ReasonOK, map[string]any{
		"diff":      output,
		"truncated": truncated || diff.Truncated,
	}), nil
}

func (h *repoHandler) gitLog(ctx context.Context, call Call) (Result, error) {
	relpath, err := call.Params.String("path")
	if err != nil {
		return invalidParams(err)
	}
	limit, err := call.Params.Int("limit", defaultLogLimit)
	if err != nil {
		return invalidParams(err)
	}

	if relpath != "" {
		if !pathguard.Allowed(relpath, h.allow.Roots, h.allow.Files) {
			return reject(policy.CodePathNotAllowed)
		}
		relpath = pathguard.Normalize(relpath)
	}

	commits, err := h.git.Log(ctx, relpath, int(params.Clamp(limit, 1, maxLogLimit)))
	if err != nil {
		return Result{}, err
	}
	if commits == nil {
		commits = []git.Commit{}
	}
	return ok(policy.ReasonOK, map[string]any{"log": commits}), nil
}

// listRoots lists every existing root, each entry prefixed with its root. A
// root that resolves outside the allowlist is skipped.
func listRoots(guard *pathguard.Guard, roots, files []string) []string {
	items := []string{}
	for _, root := range roots {
		abs, err := guard.Resolve(root)
		if err != nil {
			continue
		}
		if resolved := guard.Relative(abs); resolved != pathguard.Normalize(root) && !pathguard.Allowed(resolved, roots, files) {
			log.Warn().Str("root", root).Str("resolved", resolved).Msg("skipping root that resolves outside the allowlist")
			continue
		}
		items = append(items, listFiles(abs, root, maxListedFiles)...)
	}
	return items
}
