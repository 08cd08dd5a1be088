package backend

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
)

type Prometheus struct {
	forwarder *Forwarder
	baseURL   string
}

func NewPrometheus(f *Forwarder, baseURL string) *Prometheus {
	return &Prometheus{forwarder: f, baseURL: baseURL}
}

func (p *Prometheus) QueryRange(ctx context.Context, expr string, start, end, step int64) (json.RawMessage, error) {
	query := url.Values{}
	query.Set("query", expr)
	query.Set("start", strconv.FormatInt(start, 10))
	query.Set("end", strconv.FormatInt(end, 10))
	query.Set("step", strconv.FormatInt(step, 10))
	return p.forwarder.Get(ctx, p.baseURL, query, "api", "v1", "query_range")
}

type Loki struct {
	forwarder *Forwarder
	baseURL   string
}

func NewLoki(f *Forwarder, baseURL string) *Loki {
	return &Loki{forwarder: f, baseURL: baseURL}
}

func (l *Loki) QueryRange(ctx context.Context, expr string, start, end, limit int64) (json.RawMessage, error) {
	query := url.Values{}
	query.Set("query", expr)
	query.Set("start", strconv.FormatInt(start, 10))
	query.Set("end", strconv.FormatInt(end, 10))
	query.Set("limit", strconv.FormatInt(limit, 10))
	return l.forwarder.Get(ctx, l.baseURL, query, "loki", "api", "v1", "query_range")
}

type MatchValue struct {
	Value string `json:"value"`
}

type FieldCondition struct {
	Key   string     `json:"key"`
	Match MatchValue `json:"match"`
}

type Filter struct {
	Must []FieldCondition `json:"must"`
}

type SearchRequest struct {
	Vector      []float64 `json:"vector"`
	Limit       int64     `json:"limit"`
	WithPayload bool      `json:"with_payload"`
	Filter      *Filter   `json:"filter,omitempty"`
}

// SourceTypeFilter restricts a search to points whose source_type payload
// equals sourceType.
func SourceTypeFilter(sourceType string) *Filter {
	return &Filter{
		Must: []FieldCondition{{Key: "source_type", Match: MatchValue{Value: sourceType}}},
	}
}

type Qdrant struct {
	forwarder *Forwarder
	baseURL   string
}

func NewQdrant(f *Forwarder, baseURL string) *Qdrant {
	return &Qdrant{forwarder: f, baseURL: baseURL}
}

func (q *Qdrant) Search(ctx context.Context, collection string, req SearchRequest) (json.RawMessage, error) {
	return q.forwarder.Post(ctx, q.baseURL, req, "collections", collection, "points", "search")
}
