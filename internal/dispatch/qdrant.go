package dispatch

import (
	"context"
	"fmt"
	"regexp"

	"github.com/dagbolade/mcp-readonly-gateway/internal/backend"
	"github.com/dagbolade/mcp-readonly-gateway/internal/params"
	"github.com/dagbolade/mcp-readonly-gateway/internal/policy"
)

const (
	maxVectorLen = 4096
	defaultTopK  = 5
	maxTopK      = 10

	platformCollection = "kb_platform"
	searchFixture      = "search.json"
)

var tenantCollectionPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

type qdrantHandler struct {
	search   VectorSearcher
	fixtures FixtureSource
	testMode bool
	live     bool
}

func (h *qdrantHandler) handle(ctx context.Context, call Call) (Result, error) {
	if call.Action != "search" {
		return reject(policy.CodeUnknownAction)
	}

	v, present := call.Params.Lookup("vector")
	if !present || v.Kind() != params.List || len(v.List()) == 0 {
		return reject(policy.CodeVectorRequired)
	}
	if len(v.List()) > maxVectorLen {
		return reject(policy.CodeVectorTooLarge)
	}
	vector := make([]float64, len(v.List()))
	for i, item := range v.List() {
		f, err := item.Float()
		if err != nil {
			return invalidParams(fmt.Errorf("vector[%d]: %w", i, err))
		}
		vector[i] = f
	}

	topK, err := call.Params.Int("top_k", defaultTopK)
	if err != nil {
		return invalidParams(err)
	}
	sourceType, err := call.Params.String("source_type")
	if err != nil {
		return invalidParams(err)
	}

	collection, allowed := collectionFor(call.Tenant)
	if !allowed {
		return reject(policy.CodeTenantIsolation)
	}

	if h.testMode {
		return fixtureResult(h.fixtures, searchFixture)
	}
	if !h.live {
		return reject(policy.CodeLiveDisabled)
	}

	req := backend.SearchRequest{
		Vector:      vector,
		Limit:       params.Clamp(topK, 1, maxTopK),
		WithPayload: true,
	}
	if sourceType != "" {
		req.Filter = backend.SourceTypeFilter(sourceType)
	}

	data, err := h.search.Search(ctx, collection, req)
	if err != nil {
		return Result{}, err
	}
	return ok(policy.ReasonLive, data), nil
}

// collectionFor maps a tenant to the only collection it may search. Tenants
// that cannot form a safe collection name are refused.
func collectionFor(tenant string) (string, bool) {
	if tenant == policy.PlatformTenant {
		return platformCollection, true
	}
	if !tenantCollectionPattern.MatchString(tenant) {
		return "", false
	}
	return "kb_tenant_" + tenant, true
}
