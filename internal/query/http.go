package query

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rendis/resolver/pkg/schema"
)

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultHTTPTimeout     = 30 * time.Second
)

// HTTPConfig configures an HTTPQuerier.
type HTTPConfig struct {
	// Endpoint receives every query. POST sends the request as the body; GET
	// sends it URL-encoded in the "request" parameter.
	Endpoint        string
	Method          string
	Headers         map[string]string
	Timeout         time.Duration
	MaxResponseBody int64
}

// HTTPQuerier forwards state queries to a chain query endpoint over HTTP.
// It never retries; the caller sees the first failure.
type HTTPQuerier struct {
	config HTTPConfig
	client *http.Client
}

// NewHTTPQuerier validates cfg and creates a querier.
func NewHTTPQuerier(cfg HTTPConfig) (*HTTPQuerier, error) {
	u, err := url.ParseRequestURI(cfg.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("query endpoint %q must be an absolute http(s) url", cfg.Endpoint)
	}
	cfg.Method = strings.ToUpper(cfg.Method)
	if cfg.Method == "" {
		cfg.Method = http.MethodPost
	}
	if cfg.Method != http.MethodPost && cfg.Method != http.MethodGet {
		return nil, fmt.Errorf("query method %q must be GET or POST", cfg.Method)
	}
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	return &HTTPQuerier{config: cfg, client: &http.Client{Transport: transport}}, nil
}

// Query sends request to the endpoint and returns the JSON response body.
func (q *HTTPQuerier) Query(ctx context.Context, request json.RawMessage) (json.RawMessage, error) {
	reqCtx, cancel := context.WithTimeout(ctx, q.config.Timeout)
	defer cancel()

	var (
		req *http.Request
		err error
	)
	if q.config.Method == http.MethodGet {
		target := q.config.Endpoint + "?" + url.Values{"request": {string(request)}}.Encode()
		req, err = http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	} else {
		req, err = http.NewRequestWithContext(reqCtx, http.MethodPost, q.config.Endpoint, bytes.NewReader(request))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeQueryFailed, "failed to create query request").WithCause(err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range q.config.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := q.client.Do(req)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeQueryFailed, "query request failed: %v", err).WithCause(err)
	}
	defer resp.Body.Close()

	// Read one byte past the limit to tell a full body from a truncated one.
	body, err := io.ReadAll(io.LimitReader(resp.Body, q.config.MaxResponseBody+1))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeQueryFailed, "failed to read query response").WithCause(err)
	}
	details := map[string]any{
		"status_code": resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if int64(len(body)) > q.config.MaxResponseBody {
		return nil, schema.NewErrorf(schema.ErrCodeQueryFailed,
			"query response exceeds %d bytes", q.config.MaxResponseBody).WithDetails(details)
	}
	if resp.StatusCode >= 400 {
		details["body"] = truncate(string(body), 512)
		return nil, schema.NewErrorf(schema.ErrCodeQueryFailed, "query endpoint returned %d", resp.StatusCode).
			WithDetails(details)
	}
	if !json.Valid(body) {
		return nil, schema.NewError(schema.ErrCodeQueryFailed, "query response is not valid JSON").WithDetails(details)
	}
	return json.RawMessage(body), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
