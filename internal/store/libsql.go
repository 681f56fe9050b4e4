package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/resolver/internal/query"
	"github.com/rendis/resolver/pkg/schema"
)

// LibSQLStore implements Store using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

var _ Store = (*LibSQLStore)(nil)

// NewLibSQLStore opens a libSQL database at the given path.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	for _, p := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	} {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB (used by the evaluation log).
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Query snapshots ---

// SaveSnapshot records response for request, replacing any earlier snapshot
// of the same canonical request.
func (s *LibSQLStore) SaveSnapshot(ctx context.Context, request, response json.RawMessage) error {
	canonical, err := query.Canonical(request)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "snapshot request is not valid JSON").WithCause(err)
	}
	hash, err := query.Hash(canonical)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "hash snapshot request").WithCause(err)
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, response); err != nil {
		return schema.NewError(schema.ErrCodeStore, "snapshot response is not valid JSON").WithCause(err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO query_snapshots (hash, request, response, recorded_at, hits) VALUES (?, ?, ?, ?, 0)
		 ON CONFLICT(hash) DO UPDATE SET response=excluded.response, recorded_at=excluded.recorded_at`,
		hash, string(canonical), compact.String(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// GetSnapshot returns the snapshot recorded for request.
func (s *LibSQLStore) GetSnapshot(ctx context.Context, request json.RawMessage) (*Snapshot, error) {
	hash, err := query.Hash(request)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "snapshot request is not valid JSON").WithCause(err)
	}
	return s.getSnapshot(ctx, hash)
}

func (s *LibSQLStore) getSnapshot(ctx context.Context, hash string) (*Snapshot, error) {
	snap := &Snapshot{}
	var req, resp string
	err := s.db.QueryRowContext(ctx,
		`SELECT hash, request, response, recorded_at, hits FROM query_snapshots WHERE hash = ?`, hash,
	).Scan(&snap.Hash, &req, &resp, &snap.RecordedAt, &snap.Hits)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("snapshot", hash)
	}
	if err != nil {
		return nil, err
	}
	snap.Request = json.RawMessage(req)
	snap.Response = json.RawMessage(resp)
	return snap, nil
}

// ListSnapshots returns snapshots, newest first.
func (s *LibSQLStore) ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]*Snapshot, error) {
	q := `SELECT hash, request, response, recorded_at, hits FROM query_snapshots`
	var args []any
	if filter.Since != nil {
		q += ` WHERE recorded_at >= ?`
		args = append(args, filter.Since.UTC())
	}
	q += ` ORDER BY recorded_at DESC, hash`
	if filter.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Snapshot
	for rows.Next() {
		snap := &Snapshot{}
		var req, resp string
		if err := rows.Scan(&snap.Hash, &req, &resp, &snap.RecordedAt, &snap.Hits); err != nil {
			return nil, err
		}
		snap.Request = json.RawMessage(req)
		snap.Response = json.RawMessage(resp)
		out = append(out, snap)
	}
	return out, rows.Err()
}

// DeleteSnapshot removes the snapshot with the given hash.
func (s *LibSQLStore) DeleteSnapshot(ctx context.Context, hash string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM query_snapshots WHERE hash = ?`, hash)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "snapshot", hash)
}

// Query replays a recorded response, which makes the store a query capability
// for deterministic re-evaluation. A request with no snapshot fails with
// QUERY_FAILED like any other unanswerable query.
func (s *LibSQLStore) Query(ctx context.Context, request json.RawMessage) (json.RawMessage, error) {
	snap, err := s.GetSnapshot(ctx, request)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeQueryFailed, "replay: %s", err.Error()).WithCause(err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE query_snapshots SET hits = hits + 1 WHERE hash = ?`, snap.Hash); err != nil {
		return nil, schema.NewError(schema.ErrCodeQueryFailed, "replay: count hit").WithCause(err)
	}
	return snap.Response, nil
}

// --- Evaluations ---

// ListEvaluations returns logged calls in insertion order.
func (s *LibSQLStore) ListEvaluations(ctx context.Context, filter EvaluationFilter) ([]*Evaluation, error) {
	q := `SELECT id, cycle_id, job_id, entry_point, code, duration_ms, sequence, timestamp FROM evaluations`
	var (
		where []string
		args  []any
	)
	if filter.CycleID != "" {
		where = append(where, "cycle_id = ?")
		args = append(args, filter.CycleID)
	}
	if filter.JobID != "" {
		where = append(where, "job_id = ?")
		args = append(args, filter.JobID)
	}
	if filter.EntryPoint != "" {
		where = append(where, "entry_point = ?")
		args = append(args, filter.EntryPoint)
	}
	if filter.FailedOnly {
		where = append(where, "code IS NOT NULL")
	}
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id ASC"
	if filter.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Evaluation
	for rows.Next() {
		ev := &Evaluation{}
		var jobID, code sql.NullString
		if err := rows.Scan(&ev.ID, &ev.CycleID, &jobID, &ev.EntryPoint, &code, &ev.DurationMs, &ev.Sequence, &ev.Timestamp); err != nil {
			return nil, err
		}
		ev.JobID = jobID.String
		ev.Code = code.String
		out = append(out, ev)
	}
	return out, rows.Err()
}

// AppendEvaluation appends ev with the next sequence number of its cycle.
func (s *LibSQLStore) AppendEvaluation(ctx context.Context, ev *Evaluation) error {
	return NewEvaluationLog(s).Append(ctx, ev)
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.ResolverError {
	return schema.NewErrorf(schema.ErrCodeStore, "%s %q not found", resource, id).
		WithDetails(map[string]any{"resource": resource, "id": id})
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
