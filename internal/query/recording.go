package query

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/rendis/resolver/internal/logging"
	"github.com/rendis/resolver/internal/resolver"
)

// SnapshotSink persists query responses.
type SnapshotSink interface {
	SaveSnapshot(ctx context.Context, request, response json.RawMessage) error
}

// RecordingQuerier forwards queries to an inner capability and saves every
// successful response to a sink. A failed save is logged and does not fail
// the query: recording is a side channel.
type RecordingQuerier struct {
	inner  resolver.QueryCapability
	sink   SnapshotSink
	logger *slog.Logger
}

// NewRecordingQuerier wraps inner. A nil logger uses slog.Default().
func NewRecordingQuerier(inner resolver.QueryCapability, sink SnapshotSink, logger *slog.Logger) *RecordingQuerier {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordingQuerier{inner: inner, sink: sink, logger: logger}
}

// Query implements resolver.QueryCapability.
func (q *RecordingQuerier) Query(ctx context.Context, request json.RawMessage) (json.RawMessage, error) {
	resp, err := q.inner.Query(ctx, request)
	if err != nil {
		return nil, err
	}
	if err := q.sink.SaveSnapshot(ctx, request, resp); err != nil {
		logging.LogWith(ctx, q.logger).Warn("failed to record query snapshot", "error", err)
	}
	return resp, nil
}

var (
	_ resolver.QueryCapability = (*HTTPQuerier)(nil)
	_ resolver.QueryCapability = (*StaticQuerier)(nil)
	_ resolver.QueryCapability = (*RecordingQuerier)(nil)
)
