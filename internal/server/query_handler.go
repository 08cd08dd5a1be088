package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/dagbolade/mcp-readonly-gateway/internal/audit"
	"github.com/dagbolade/mcp-readonly-gateway/internal/auth"
	"github.com/dagbolade/mcp-readonly-gateway/internal/dispatch"
	"github.com/dagbolade/mcp-readonly-gateway/internal/params"
	"github.com/dagbolade/mcp-readonly-gateway/internal/policy"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// MaxBodyBytes caps the size of a query body.
const MaxBodyBytes = 1 << 20

var errBodyTooLarge = errors.New("request body too large")

type Dispatcher interface {
	Dispatch(ctx context.Context, call dispatch.Call) dispatch.Result
	Kind() dispatch.Kind
}

type Recorder interface {
	Record(rec audit.Record)
}

type QueryHandler struct {
	dispatcher Dispatcher
	recorder   Recorder
	kind       string
}

func NewQueryHandler(d Dispatcher, rec Recorder) *QueryHandler {
	return &QueryHandler{
		dispatcher: d,
		recorder:   rec,
		kind:       d.Kind().String(),
	}
}

// HandleQuery answers POST /query. Every exchange, including rejected
// bodies and internal failures, is handed to the recorder exactly once.
func (h *QueryHandler) HandleQuery(c echo.Context) error {
	caller := auth.GetCallerFromContext(c)
	meta := audit.RequestMeta{
		MCP:       h.kind,
		Identity:  caller.Identity,
		Tenant:    caller.Tenant,
		Params:    map[string]any{},
		RequestID: caller.RequestID,
	}

	res := h.process(c, caller, &meta)

	data, err := json.Marshal(res.Response)
	if err != nil {
		res = dispatch.Internal(fmt.Errorf("encode response: %w", err))
		data, _ = json.Marshal(res.Response)
	}

	h.recorder.Record(audit.Record{
		Request:  meta,
		Decision: res.Decision,
		Response: audit.ResponseMeta{
			Status:    res.Status,
			Bytes:     len(data),
			RequestID: meta.RequestID,
			Action:    meta.Action,
		},
	})

	if !res.Decision.Allowed {
		log.Info().
			Str("reason", res.Decision.Reason).
			Str("action", meta.Action).
			Str("tenant", meta.Tenant).
			Int("status", res.Status).
			Msg("query denied")
	}

	return c.JSONBlob(res.Status, data)
}

func (h *QueryHandler) process(c echo.Context, caller *auth.Caller, meta *audit.RequestMeta) (res dispatch.Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("query handler panicked")
			res = dispatch.Internal(fmt.Errorf("panic: %v", r))
		}
	}()

	body, err := readBody(c.Request())
	if errors.Is(err, errBodyTooLarge) {
		return dispatch.Reject(policy.CodePayloadTooLarge)
	}
	if err != nil {
		log.Warn().Err(err).Msg("read request body")
		return dispatch.Reject(policy.CodeInvalidJSON)
	}

	action, rawParams, err := parseBody(body)
	if err != nil {
		log.Debug().Err(err).Msg("invalid query body")
		return dispatch.Reject(policy.CodeInvalidJSON)
	}
	meta.Action = action

	call := dispatch.Call{
		Identity:  caller.Identity,
		Tenant:    caller.Tenant,
		RequestID: caller.RequestID,
		Action:    action,
	}
	if p, err := params.Parse(rawParams); err != nil {
		call.ParamsErr = err
	} else {
		call.Params = p
		meta.Params = p.Sanitized()
	}

	return h.dispatcher.Dispatch(c.Request().Context(), call)
}

func readBody(r *http.Request) ([]byte, error) {
	if r.ContentLength > MaxBodyBytes {
		return nil, errBodyTooLarge
	}
	if r.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > MaxBodyBytes {
		return nil, errBodyTooLarge
	}
	return body, nil
}

// parseBody decodes {"action": ..., "params": ...}. An empty body counts as
// an empty object; a non-string action is treated as absent.
func parseBody(body []byte) (string, json.RawMessage, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return "", nil, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return "", nil, fmt.Errorf("decode body: %w", err)
	}
	if fields == nil {
		return "", nil, errors.New("body must be a JSON object")
	}

	var action string
	if raw, ok := fields["action"]; ok {
		if err := json.Unmarshal(raw, &action); err != nil {
			action = ""
		}
	}
	return action, fields["params"], nil
}
