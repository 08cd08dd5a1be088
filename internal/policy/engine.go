// Package policy holds the authorization preamble shared by every kind and
// the error code taxonomy of the gateway.
package policy

import (
	"github.com/dagbolade/mcp-readonly-gateway/internal/allowlist"
)

// Recognized identities. Operators act on behalf of the platform tenant only.
const (
	RoleOperator   = "operator"
	RoleTenant     = "tenant"
	PlatformTenant = "platform"
)

type Engine struct {
	actions allowlist.ActionSet
}

func NewEngine(actions allowlist.ActionSet) *Engine {
	return &Engine{actions: actions}
}

// Authorize runs the preamble checks in order and returns the first failing
// code. ok is true when every check passes.
func (e *Engine) Authorize(req Request) (code Code, ok bool) {
	if !e.actions.Allows(req.Action) {
		return CodeActionNotAllowed, false
	}
	if req.Identity != RoleOperator && req.Identity != RoleTenant {
		return CodeInvalidIdentity, false
	}
	if req.Tenant == "" {
		return CodeMissingTenant, false
	}
	if req.Identity == RoleOperator && req.Tenant != PlatformTenant {
		return CodeOperatorTenantRestricted, false
	}
	return "", true
}
