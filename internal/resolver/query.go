package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"github.com/rendis/resolver/pkg/schema"
	"github.com/rendis/resolver/pkg/value"
)

// QueryCapability issues an opaque state query on behalf of the resolver.
// Implementations must not retry: a failed query aborts the resolution.
type QueryCapability interface {
	Query(ctx context.Context, request json.RawMessage) (json.RawMessage, error)
}

// QueryFunc adapts a plain function to QueryCapability.
type QueryFunc func(ctx context.Context, request json.RawMessage) (json.RawMessage, error)

// Query calls f.
func (f QueryFunc) Query(ctx context.Context, request json.RawMessage) (json.RawMessage, error) {
	return f(ctx, request)
}

// runQuery sends request and returns the raw response. Failures of any kind
// are reported as QUERY_FAILED.
func (r *Resolver) runQuery(ctx context.Context, request json.RawMessage) (json.RawMessage, error) {
	if r.querier == nil {
		return nil, schema.NewError(schema.ErrCodeQueryFailed, "no query capability configured")
	}
	request = bytes.TrimSpace(request)
	if len(request) == 0 || !json.Valid(request) {
		return nil, schema.NewError(schema.ErrCodeQueryFailed, "query request is not valid JSON")
	}

	resp, err := r.querier.Query(ctx, request)
	if err != nil {
		var rerr *schema.ResolverError
		if errors.As(err, &rerr) && rerr.Code == schema.ErrCodeQueryFailed {
			return nil, err
		}
		return nil, schema.NewErrorf(schema.ErrCodeQueryFailed, "query failed: %s", err.Error()).WithCause(err)
	}
	return resp, nil
}

// resolveQuery runs a query expression and converts the selected leaf to kind.
func (r *Resolver) resolveQuery(ctx context.Context, q *schema.QueryExpr, kind schema.Kind) (value.Value, error) {
	resp, err := r.runQuery(ctx, q.Query)
	if err != nil {
		return value.Value{}, err
	}

	node, err := r.selector.Select(ctx, q.Selector, resp)
	if err != nil {
		return value.Value{}, err
	}

	v, err := value.FromJSON(node, kind)
	if err != nil {
		return value.Value{}, schema.NewErrorf(schema.ErrCodeTypeConversionFailed,
			"selected value does not convert to %s", kind).
			WithCause(err).
			WithDetails(map[string]any{"selector": q.Selector, "kind": string(kind)})
	}
	return v, nil
}
