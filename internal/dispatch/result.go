package dispatch

import (
	"net/http"

	"github.com/dagbolade/mcp-readonly-gateway/internal/params"
	"github.com/dagbolade/mcp-readonly-gateway/internal/policy"
)

// Call is one authorized-or-not query as seen by the dispatcher.
type Call struct {
	Identity  string
	Tenant    string
	RequestID string
	Action    string
	Params    params.Params
	// ParamsErr is set when the params field could not be decoded. It is
	// reported only after the authorization preamble has passed.
	ParamsErr error
}

// Response is the JSON body returned to the caller.
type Response struct {
	OK    bool   `json:"ok"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

type Result struct {
	Status   int
	Response Response
	Decision policy.Decision
}

// Reject builds the result for a denied or invalid request.
func Reject(code policy.Code) Result {
	return Result{
		Status:   code.Status(),
		Response: Response{OK: false, Error: string(code)},
		Decision: policy.Deny(code),
	}
}

// Internal builds the result for an unexpected failure. The error text is
// kept in the decision only; the caller sees internal_error.
func Internal(err error) Result {
	return Result{
		Status:   http.StatusInternalServerError,
		Response: Response{OK: false, Error: string(policy.CodeInternalError)},
		Decision: policy.Decision{Allowed: false, Reason: err.Error()},
	}
}

func ok(reason string, data any) Result {
	return Result{
		Status:   http.StatusOK,
		Response: Response{OK: true, Data: data},
		Decision: policy.Allow(reason),
	}
}
