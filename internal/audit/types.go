// Package audit persists one record per query exchange: a directory holding
// the request, decision and response metadata documents, sealed with a
// checksum manifest. Records are write-once and never read back.
package audit

import (
	"context"

	"github.com/dagbolade/mcp-readonly-gateway/internal/policy"
)

// Document file names inside an audit directory.
const (
	RequestFile  = "request.json"
	DecisionFile = "decision.json"
	ResponseFile = "response.meta.json"
)

// RequestMeta is the audited view of a request. Params must already be
// sanitized.
type RequestMeta struct {
	MCP       string         `json:"mcp"`
	Identity  string         `json:"identity"`
	Tenant    string         `json:"tenant"`
	Action    string         `json:"action"`
	Params    map[string]any `json:"params"`
	RequestID string         `json:"request_id"`
}

// ResponseMeta describes the response without its payload.
type ResponseMeta struct {
	Status    int    `json:"status"`
	Bytes     int    `json:"bytes"`
	RequestID string `json:"request_id"`
	Action    string `json:"action"`
}

type Record struct {
	Request  RequestMeta
	Decision policy.Decision
	Response ResponseMeta
}

// Sealer writes a checksum manifest into a finished audit directory.
type Sealer interface {
	Seal(ctx context.Context, dir string) error
}

// Index receives one row per written record.
type Index interface {
	Append(ctx context.Context, dir string, rec Record) error
	Close() error
}
