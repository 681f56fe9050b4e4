// Package store persists query snapshots and the evaluation log in an
// embedded libSQL database.
package store

import (
	"context"
	"encoding/json"
	"time"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Query snapshots
	SaveSnapshot(ctx context.Context, request, response json.RawMessage) error
	GetSnapshot(ctx context.Context, request json.RawMessage) (*Snapshot, error)
	ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]*Snapshot, error)
	DeleteSnapshot(ctx context.Context, hash string) error

	// Evaluation log (append-only)
	AppendEvaluation(ctx context.Context, ev *Evaluation) error
	ListEvaluations(ctx context.Context, filter EvaluationFilter) ([]*Evaluation, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}

// Snapshot is a recorded query response, keyed by the hash of the
// canonical request.
type Snapshot struct {
	Hash       string          `json:"hash"`
	Request    json.RawMessage `json:"request"`
	Response   json.RawMessage `json:"response"`
	RecordedAt time.Time       `json:"recorded_at"`
	Hits       int64           `json:"hits"`
}

// SnapshotFilter narrows ListSnapshots.
type SnapshotFilter struct {
	Since *time.Time
	Limit int
}

// Evaluation is one logged entry point call. Sequence is assigned on append
// and counts from 1 within a cycle.
type Evaluation struct {
	ID         int64     `json:"id"`
	CycleID    string    `json:"cycle_id"`
	JobID      string    `json:"job_id,omitempty"`
	EntryPoint string    `json:"entry_point"`
	Code       string    `json:"code,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	Sequence   int64     `json:"sequence"`
	Timestamp  time.Time `json:"timestamp"`
}

// EvaluationFilter narrows ListEvaluations.
type EvaluationFilter struct {
	CycleID    string
	JobID      string
	EntryPoint string
	FailedOnly bool
	Limit      int
}
