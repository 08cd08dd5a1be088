// Package dispatch routes an authorized query to the handler of the kind the
// gateway instance serves. Every path through Dispatch yields a Result with
// a decision, including unexpected failures.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dagbolade/mcp-readonly-gateway/internal/allowlist"
	"github.com/dagbolade/mcp-readonly-gateway/internal/backend"
	"github.com/dagbolade/mcp-readonly-gateway/internal/git"
	"github.com/dagbolade/mcp-readonly-gateway/internal/pathguard"
	"github.com/dagbolade/mcp-readonly-gateway/internal/policy"
	"github.com/dagbolade/mcp-readonly-gateway/internal/redaction"
	"github.com/rs/zerolog/log"
)

// RangeQuerier runs a resolved expression over a time range. The last
// argument is the Prometheus step or the Loki entry limit.
type RangeQuerier interface {
	QueryRange(ctx context.Context, expr string, start, end, n int64) (json.RawMessage, error)
}

type VectorSearcher interface {
	Search(ctx context.Context, collection string, req backend.SearchRequest) (json.RawMessage, error)
}

type FixtureSource interface {
	Load(name string) (map[string]any, error)
}

// Options is the immutable configuration a Dispatcher is built from. Only
// the fields the selected kind needs must be set.
type Options struct {
	Kind Kind
	// Root is the repository root, absolute with symlinks resolved.
	Root      string
	Allowlist *allowlist.Allowlist
	Actions   allowlist.ActionSet
	Filter    *redaction.Filter

	Git        git.Runner
	Prometheus RangeQuerier
	Loki       RangeQuerier
	Qdrant     VectorSearcher
	Fixtures   FixtureSource

	TestMode   bool
	ObsLive    bool
	QdrantLive bool
}

type handler interface {
	handle(ctx context.Context, call Call) (Result, error)
}

type Dispatcher struct {
	kind    Kind
	engine  *policy.Engine
	handler handler
}

func New(opts Options) (*Dispatcher, error) {
	if opts.Allowlist == nil {
		return nil, errors.New("dispatch: allowlist is required")
	}
	if opts.Filter == nil {
		opts.Filter = &redaction.Filter{}
	}

	var files *fileAccess
	if opts.Kind == KindRepo || opts.Kind == KindEvidence || opts.Kind == KindRunbooks {
		if opts.Root == "" {
			return nil, errors.New("dispatch: repository root is required")
		}
		files = &fileAccess{guard: pathguard.New(opts.Root), filter: opts.Filter}
	}
	if opts.TestMode && (opts.Kind == KindObservability || opts.Kind == KindQdrant) && opts.Fixtures == nil {
		return nil, fmt.Errorf("dispatch: %s in test mode needs a fixture source", opts.Kind)
	}

	d := &Dispatcher{kind: opts.Kind, engine: policy.NewEngine(opts.Actions)}

	switch opts.Kind {
	case KindRepo:
		if opts.Git == nil {
			return nil, errors.New("dispatch: repo kind needs a git runner")
		}
		d.handler = &repoHandler{files: files, allow: opts.Allowlist, git: opts.Git}
	case KindEvidence:
		d.handler = &evidenceHandler{files: files, allow: opts.Allowlist}
	case KindObservability:
		if !opts.TestMode && (opts.Prometheus == nil || opts.Loki == nil) {
			return nil, errors.New("dispatch: observability kind needs prometheus and loki clients")
		}
		d.handler = &observabilityHandler{
			allow:      opts.Allowlist,
			prometheus: opts.Prometheus,
			loki:       opts.Loki,
			fixtures:   opts.Fixtures,
			testMode:   opts.TestMode,
			live:       opts.ObsLive,
		}
	case KindRunbooks:
		d.handler = &runbooksHandler{files: files, allow: opts.Allowlist}
	case KindQdrant:
		if !opts.TestMode && opts.Qdrant == nil {
			return nil, errors.New("dispatch: qdrant kind needs a search client")
		}
		d.handler = &qdrantHandler{
			search:   opts.Qdrant,
			fixtures: opts.Fixtures,
			testMode: opts.TestMode,
			live:     opts.QdrantLive,
		}
	default:
		// Unknown kinds still answer every request with unknown_mcp.
		log.Warn().Int("kind", int(opts.Kind)).Msg("dispatcher built for unknown kind")
	}

	return d, nil
}

func (d *Dispatcher) Kind() Kind {
	return d.kind
}

// Dispatch runs the authorization preamble and then the kind handler. It
// never panics; unexpected failures become internal_error results whose
// decision reason carries the error text.
func (d *Dispatcher) Dispatch(ctx context.Context, call Call) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("action", call.Action).Msg("dispatch panicked")
			res = Internal(fmt.Errorf("panic: %v", r))
		}
	}()

	req := policy.Request{Identity: call.Identity, Tenant: call.Tenant, Action: call.Action}
	if code, ok := d.engine.Authorize(req); !ok {
		return Reject(code)
	}
	if call.ParamsErr != nil {
		return Reject(policy.CodeInvalidParams)
	}
	if d.handler == nil {
		return Reject(policy.CodeUnknownMCP)
	}

	res, err := d.handler.handle(ctx, call)
	if err != nil {
		log.Error().Err(err).Str("kind", d.kind.String()).Str("action", call.Action).Msg("dispatch failed")
		return Internal(err)
	}
	return res
}

// invalidParams logs the type error and rejects the request.
func invalidParams(err error) (Result, error) {
	log.Debug().Err(err).Msg("invalid params")
	return Reject(policy.CodeInvalidParams), nil
}

func reject(code policy.Code) (Result, error) {
	return Reject(code), nil
}
