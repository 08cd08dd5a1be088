package dispatch

import (
	"context"
	"errors"

	"github.com/dagbolade/mcp-readonly-gateway/internal/allowlist"
	"github.com/dagbolade/mcp-readonly-gateway/internal/pathguard"
	"github.com/dagbolade/mcp-readonly-gateway/internal/policy"
	"github.com/rs/zerolog/log"
)

const defaultEvidencePath = "evidence"

// evidenceHandler serves tenant-scoped evidence. On top of the allowlist,
// every path must carry the caller's tenant as a whole path segment below an
// evidence root.
type evidenceHandler struct {
	files *fileAccess
	allow *allowlist.Allowlist
}

func (h *evidenceHandler) handle(_ context.Context, call Call) (Result, error) {
	switch call.Action {
	case "list_evidence":
		return h.listEvidence(call)
	case "read_file":
		return h.readFile(call)
	}
	return reject(policy.CodeUnknownAction)
}

func (h *evidenceHandler) listEvidence(call Call) (Result, error) {
	base, err := call.Params.String("path")
	if err != nil {
		return invalidParams(err)
	}
	if base == "" {
		base = defaultEvidencePath
	}
	if !pathguard.Allowed(base, h.allow.Roots, nil) {
		return reject(policy.CodePathNotAllowed)
	}

	rel := pathguard.Normalize(base)
	abs, err := h.files.guard.Resolve(rel)
	switch {
	case errors.Is(err, pathguard.ErrNotFound):
		return reject(policy.CodeFileNotFound)
	case err != nil:
		return reject(policy.CodeInvalidPath)
	}
	if resolved := h.files.guard.Relative(abs); resolved != rel && !pathguard.Allowed(resolved, h.allow.Roots, nil) {
		return reject(policy.CodeInvalidPath)
	}

	dirs := listDirs(h.files.guard, abs, maxListedDirs, func(dir string) bool {
		return pathguard.HasSegmentBelow(dir, h.allow.Roots, call.Tenant)
	})
	return ok(policy.ReasonOK, map[string]any{"directories": dirs}), nil
}

func (h *evidenceHandler) readFile(call Call) (Result, error) {
	target, err := call.Params.String("path")
	if err != nil {
		return invalidParams(err)
	}
	if target == "" {
		return reject(policy.CodePathNotAllowed)
	}

	rel := pathguard.Normalize(target)
	if !pathguard.HasSegmentBelow(rel, h.allow.Roots, call.Tenant) {
		log.Info().Str("tenant", call.Tenant).Str("path", rel).Msg("evidence path outside tenant")
		return reject(policy.CodeTenantIsolation)
	}
	if !pathguard.Allowed(rel, h.allow.Roots, nil) {
		return reject(policy.CodePathNotAllowed)
	}

	abs, code := h.files.resolve(rel, h.allow.Roots, nil)
	if code != "" {
		return reject(code)
	}
	if !pathguard.HasSegmentBelow(h.files.guard.Relative(abs), h.allow.Roots, call.Tenant) {
		log.Warn().Str("tenant", call.Tenant).Str("path", rel).Msg("evidence symlink leaves tenant")
		return reject(policy.CodeTenantIsolation)
	}

	text, code := h.files.read(abs)
	if code != "" {
		return reject(code)
	}
	return ok(policy.ReasonOK, map[string]any{
		"path":    rel,
		"content": text.Content,
	}), nil
}
