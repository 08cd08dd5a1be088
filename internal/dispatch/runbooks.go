package dispatch

import (
	"context"

	"github.com/dagbolade/mcp-readonly-gateway/internal/allowlist"
	"github.com/dagbolade/mcp-readonly-gateway/internal/pathguard"
	"github.com/dagbolade/mcp-readonly-gateway/internal/policy"
)

// runbooksHandler serves files under the runbook roots. Explicit files are
// not part of this kind.
type runbooksHandler struct {
	files *fileAccess
	allow *allowlist.Allowlist
}

func (h *runbooksHandler) handle(_ context.Context, call Call) (Result, error) {
	switch call.Action {
	case "list_runbooks":
		return ok(policy.ReasonOK, map[string]any{"runbooks": listRoots(h.files.guard, h.allow.Roots, nil)}), nil
	case "read_runbook":
		return h.readRunbook(call)
	}
	return reject(policy.CodeUnknownAction)
}

func (h *runbooksHandler) readRunbook(call Call) (Result, error) {
	target, err := call.Params.String("path")
	if err != nil {
		return invalidParams(err)
	}
	if target == "" || !pathguard.Allowed(target, h.allow.Roots, nil) {
		return reject(policy.CodePathNotAllowed)
	}

	abs, code := h.files.resolve(pathguard.Normalize(target), h.allow.Roots, nil)
	if code != "" {
		return reject(code)
	}
	text, code := h.files.read(abs)
	if code != "" {
		return reject(code)
	}
	return ok(policy.ReasonOK, map[string]any{
		"path":    target,
		"content": text.Content,
	}), nil
}
