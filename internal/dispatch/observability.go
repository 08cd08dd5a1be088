package dispatch

import (
	"context"

	"github.com/dagbolade/mcp-readonly-gateway/internal/allowlist"
	"github.com/dagbolade/mcp-readonly-gateway/internal/params"
	"github.com/dagbolade/mcp-readonly-gateway/internal/policy"
	"github.com/rs/zerolog/log"
)

const (
	defaultStepSeconds = 60
	defaultLokiLimit   = 100
	maxLokiLimit       = 1000

	prometheusFixture = "prometheus.json"
	lokiFixture       = "loki.json"
)

// observabilityHandler runs server-side named queries. Callers pick a
// query_name; the expression itself never comes from the request.
type observabilityHandler struct {
	allow      *allowlist.Allowlist
	prometheus RangeQuerier
	loki       RangeQuerier
	fixtures   FixtureSource
	testMode   bool
	live       bool
}

type timeRange struct {
	start, end int64
}

func (h *observabilityHandler) handle(ctx context.Context, call Call) (Result, error) {
	switch call.Action {
	case "query_prometheus":
		return h.queryPrometheus(ctx, call)
	case "query_loki":
		return h.queryLoki(ctx, call)
	}
	return reject(policy.CodeUnknownAction)
}

func (h *observabilityHandler) queryPrometheus(ctx context.Context, call Call) (Result, error) {
	name, err := call.Params.String("query_name")
	if err != nil {
		return invalidParams(err)
	}
	r, valid := h.parseRange(call.Params)
	if !valid {
		return reject(policy.CodeRangeInvalid)
	}
	step, err := call.Params.Int("step", defaultStepSeconds)
	if err != nil || step <= 0 || step > h.allow.Limits.MaxStepSeconds {
		return reject(policy.CodeRangeInvalid)
	}

	expr, found := h.allow.Prometheus.Lookup(name)
	if !found {
		log.Info().Str("query_name", name).Msg("prometheus query not in allowlist")
		return reject(policy.CodeQueryNotAllowed)
	}

	return h.run(prometheusFixture, func() (any, error) {
		return h.prometheus.QueryRange(ctx, expr, r.start, r.end, step)
	})
}

func (h *observabilityHandler) queryLoki(ctx context.Context, call Call) (Result, error) {
	name, err := call.Params.String("query_name")
	if err != nil {
		return invalidParams(err)
	}
	r, valid := h.parseRange(call.Params)
	if !valid {
		return reject(policy.CodeRangeInvalid)
	}
	limit, err := call.Params.Int("limit", defaultLokiLimit)
	if err != nil {
		return invalidParams(err)
	}
	limit = params.Clamp(limit, 1, maxLokiLimit)

	expr, found := h.allow.Loki.Lookup(name)
	if !found {
		log.Info().Str("query_name", name).Msg("loki query not in allowlist")
		return reject(policy.CodeQueryNotAllowed)
	}

	return h.run(lokiFixture, func() (any, error) {
		return h.loki.QueryRange(ctx, expr, r.start, r.end, limit)
	})
}

// parseRange reads start and end and checks them against the configured
// maximum range. Missing bounds default to 0, which never forms a range.
func (h *observabilityHandler) parseRange(p params.Params) (timeRange, bool) {
	start, err := p.Int("start", 0)
	if err != nil {
		return timeRange{}, false
	}
	end, err := p.Int("end", 0)
	if err != nil {
		return timeRange{}, false
	}
	if end <= start {
		return timeRange{}, false
	}
	// end > start, so a non-positive difference means the subtraction overflowed.
	if span := end - start; span <= 0 || span > h.allow.Limits.MaxRangeSeconds {
		return timeRange{}, false
	}
	return timeRange{start: start, end: end}, true
}

// run serves the fixture in test mode, refuses when live access is off and
// otherwise calls the backend.
func (h *observabilityHandler) run(fixture string, query func() (any, error)) (Result, error) {
	if h.testMode {
		return fixtureResult(h.fixtures, fixture)
	}
	if !h.live {
		return reject(policy.CodeLiveDisabled)
	}
	data, err := query()
	if err != nil {
		return Result{}, err
	}
	return ok(policy.ReasonLive, data), nil
}

func fixtureResult(fixtures FixtureSource, name string) (Result, error) {
	doc, err := fixtures.Load(name)
	if err != nil {
		return Result{}, err
	}
	return ok(policy.ReasonFixture, doc), nil
}
