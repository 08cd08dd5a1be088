package policy

import "net/http"

// Code is an error code returned to callers and recorded as the decision
// reason of a denied request.
type Code string

const (
	CodeActionNotAllowed         Code = "action_not_allowed"
	CodeInvalidIdentity          Code = "invalid_identity"
	CodeMissingTenant            Code = "missing_tenant"
	CodeOperatorTenantRestricted Code = "operator_tenant_restricted"

	CodePathNotAllowed Code = "path_not_allowed"
	CodeInvalidPath    Code = "invalid_path"
	CodeFileNotFound   Code = "file_not_found"

	CodeInvalidRef Code = "invalid_ref"

	CodeRedacted   Code = "redacted"
	CodeReadFailed Code = "read_failed"

	CodeTenantIsolation Code = "tenant_isolation"

	CodeRangeInvalid    Code = "range_invalid"
	CodeQueryNotAllowed Code = "query_not_allowed"
	CodeLiveDisabled    Code = "live_disabled"

	CodeVectorRequired Code = "vector_required"
	CodeVectorTooLarge Code = "vector_too_large"

	CodeInvalidParams   Code = "invalid_params"
	CodeInvalidJSON     Code = "invalid_json"
	CodePayloadTooLarge Code = "payload_too_large"

	CodeUnknownAction Code = "unknown_action"
	CodeUnknownMCP    Code = "unknown_mcp"
	CodeInternalError Code = "internal_error"
)

var codeStatus = map[Code]int{
	CodeActionNotAllowed:         http.StatusForbidden,
	CodeInvalidIdentity:          http.StatusForbidden,
	CodeMissingTenant:            http.StatusBadRequest,
	CodeOperatorTenantRestricted: http.StatusForbidden,
	CodePathNotAllowed:           http.StatusForbidden,
	CodeInvalidPath:              http.StatusBadRequest,
	CodeFileNotFound:             http.StatusNotFound,
	CodeInvalidRef:               http.StatusBadRequest,
	CodeRedacted:                 http.StatusForbidden,
	CodeReadFailed:               http.StatusInternalServerError,
	CodeTenantIsolation:          http.StatusForbidden,
	CodeRangeInvalid:             http.StatusBadRequest,
	CodeQueryNotAllowed:          http.StatusForbidden,
	CodeLiveDisabled:             http.StatusForbidden,
	CodeVectorRequired:           http.StatusBadRequest,
	CodeVectorTooLarge:           http.StatusBadRequest,
	CodeInvalidParams:            http.StatusBadRequest,
	CodeInvalidJSON:              http.StatusBadRequest,
	CodePayloadTooLarge:          http.StatusRequestEntityTooLarge,
	CodeUnknownAction:            http.StatusBadRequest,
	CodeUnknownMCP:               http.StatusInternalServerError,
	CodeInternalError:            http.StatusInternalServerError,
}

// Status returns the HTTP status that accompanies the code.
func (c Code) Status() int {
	if status, ok := codeStatus[c]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Reasons recorded for allowed requests.
const (
	ReasonOK      = "ok"
	ReasonFixture = "fixture"
	ReasonLive    = "live"
)

// Decision is recorded for every request, allowed or not.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

func Allow(reason string) Decision {
	return Decision{Allowed: true, Reason: reason}
}

func Deny(code Code) Decision {
	return Decision{Allowed: false, Reason: string(code)}
}

// Request is the caller-supplied part of a query that the preamble checks.
type Request struct {
	Identity string
	Tenant   string
	Action   string
}
