package store

import (
	"context"
	"fmt"

	"github.com/rendis/resolver/internal/resolver"
	"github.com/rendis/resolver/pkg/schema"
)

// EvaluationLog is the append-only log of entry point calls. It implements
// resolver.Auditor, so a Resolver can write to it directly.
type EvaluationLog struct {
	store *LibSQLStore
}

var _ resolver.Auditor = (*EvaluationLog)(nil)

// NewEvaluationLog wraps a LibSQLStore.
func NewEvaluationLog(s *LibSQLStore) *EvaluationLog {
	return &EvaluationLog{store: s}
}

// Append stores ev with a sequence one past the last entry of its cycle.
func (el *EvaluationLog) Append(ctx context.Context, ev *Evaluation) error {
	if ev.CycleID == "" {
		return schema.NewError(schema.ErrCodeStore, "evaluation requires a cycle id")
	}

	tx, err := el.store.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM evaluations WHERE cycle_id = ?`, ev.CycleID,
	).Scan(&seq); err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	ev.Sequence = seq
	ev.Timestamp = timeOrNow(ev.Timestamp)

	res, err := tx.ExecContext(ctx,
		`INSERT INTO evaluations (cycle_id, job_id, entry_point, code, duration_ms, sequence, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.CycleID, nullStr(ev.JobID), ev.EntryPoint, nullStr(ev.Code), ev.DurationMs, seq, ev.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert evaluation: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		ev.ID = id
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit evaluation: %w", err)
	}
	return nil
}

// RecordEvaluation implements resolver.Auditor.
func (el *EvaluationLog) RecordEvaluation(ctx context.Context, ev resolver.Evaluation) error {
	return el.Append(ctx, &Evaluation{
		CycleID:    ev.CycleID,
		JobID:      ev.JobID,
		EntryPoint: ev.EntryPoint,
		Code:       ev.Code,
		DurationMs: ev.Duration.Milliseconds(),
		Timestamp:  ev.At,
	})
}

// Cycle returns the calls of one cycle in order. It fails if the sequence has
// gaps, which means entries were deleted behind the log's back.
func (el *EvaluationLog) Cycle(ctx context.Context, cycleID string) ([]*Evaluation, error) {
	evs, err := el.store.ListEvaluations(ctx, EvaluationFilter{CycleID: cycleID})
	if err != nil {
		return nil, fmt.Errorf("list cycle evaluations: %w", err)
	}
	for i, ev := range evs {
		if want := int64(i + 1); ev.Sequence != want {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in cycle %s: expected %d, got %d", cycleID, want, ev.Sequence)
		}
	}
	return evs, nil
}

// CycleSummary condenses a cycle for reporting.
type CycleSummary struct {
	CycleID      string         `json:"cycle_id"`
	Calls        int            `json:"calls"`
	Failures     int            `json:"failures"`
	TotalMs      int64          `json:"total_ms"`
	FailureCodes map[string]int `json:"failure_codes,omitempty"`
}

// Summarize reads a cycle and aggregates it.
func (el *EvaluationLog) Summarize(ctx context.Context, cycleID string) (*CycleSummary, error) {
	evs, err := el.Cycle(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	sum := &CycleSummary{CycleID: cycleID, Calls: len(evs)}
	for _, ev := range evs {
		sum.TotalMs += ev.DurationMs
		if ev.Code == "" {
			continue
		}
		sum.Failures++
		if sum.FailureCodes == nil {
			sum.FailureCodes = map[string]int{}
		}
		sum.FailureCodes[ev.Code]++
	}
	return sum, nil
}
