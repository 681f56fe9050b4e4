package query

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/rendis/resolver/pkg/schema"
)

// Fixture pairs a query request with the response it should produce.
type Fixture struct {
	Request  json.RawMessage `json:"request"`
	Response json.RawMessage `json:"response"`
}

// StaticQuerier answers queries from a fixed set of fixtures. Requests are
// matched by canonical form, so key order and whitespace do not matter.
type StaticQuerier struct {
	mu        sync.RWMutex
	responses map[string]json.RawMessage
}

// NewStaticQuerier creates a querier holding fixtures.
func NewStaticQuerier(fixtures ...Fixture) (*StaticQuerier, error) {
	q := &StaticQuerier{responses: make(map[string]json.RawMessage, len(fixtures))}
	for i, f := range fixtures {
		if err := q.Add(f.Request, f.Response); err != nil {
			return nil, fmt.Errorf("fixture %d: %w", i, err)
		}
	}
	return q, nil
}

// LoadFixtures reads a JSON array of fixtures from path.
func LoadFixtures(path string) ([]Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	var fixtures []Fixture
	if err := json.Unmarshal(data, &fixtures); err != nil {
		return nil, fmt.Errorf("parse fixtures %s: %w", path, err)
	}
	return fixtures, nil
}

// Add registers (or replaces) the response for request.
func (q *StaticQuerier) Add(request, response json.RawMessage) error {
	key, err := Canonical(request)
	if err != nil {
		return err
	}
	if !json.Valid(response) {
		return fmt.Errorf("response for %s is not valid JSON", key)
	}
	q.mu.Lock()
	q.responses[string(key)] = response
	q.mu.Unlock()
	return nil
}

// Query returns the fixture response for request.
func (q *StaticQuerier) Query(_ context.Context, request json.RawMessage) (json.RawMessage, error) {
	key, err := Canonical(request)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeQueryFailed, "query request is not valid JSON").WithCause(err)
	}
	q.mu.RLock()
	resp, ok := q.responses[string(key)]
	q.mu.RUnlock()
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeQueryFailed, "no fixture for query %s", key).
			WithDetails(map[string]any{"request": string(key)})
	}
	return resp, nil
}
