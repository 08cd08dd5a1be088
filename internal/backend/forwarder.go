// Package backend forwards already-authorized, server-resolved queries to the
// observability and vector search backends. Responses are passed through as
// raw JSON.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// maxResponseBytes bounds how much of a backend response is read.
const maxResponseBytes = 10 << 20

var ErrNoBaseURL = errors.New("backend base_url not configured")

type Forwarder struct {
	client *http.Client
}

func NewForwarder(timeout time.Duration) *Forwarder {
	return &Forwarder{
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Get issues GET base/elem...?query and returns the JSON body.
func (f *Forwarder) Get(ctx context.Context, base string, query url.Values, elem ...string) (json.RawMessage, error) {
	target, err := buildURL(base, query, elem...)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return f.do(req)
}

// Post issues POST base/elem... with payload encoded as JSON.
func (f *Forwarder) Post(ctx context.Context, base string, payload any, elem ...string) (json.RawMessage, error) {
	target, err := buildURL(base, nil, elem...)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return f.do(req)
}

func (f *Forwarder) do(req *http.Request) (json.RawMessage, error) {
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("upstream returned %d", resp.StatusCode)
	}
	return readResponse(resp.Body)
}

func readResponse(body io.Reader) (json.RawMessage, error) {
	data, err := io.ReadAll(io.LimitReader(body, maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(data) > maxResponseBytes {
		return nil, fmt.Errorf("upstream response exceeds %d bytes", maxResponseBytes)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("upstream response is not valid JSON")
	}
	return json.RawMessage(data), nil
}

func buildURL(base string, query url.Values, elem ...string) (string, error) {
	if base == "" {
		return "", ErrNoBaseURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("base_url must be http or https, got %q", u.Scheme)
	}
	u = u.JoinPath(elem...)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String(), nil
}
