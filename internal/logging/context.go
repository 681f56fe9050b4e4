package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	jobIDKey ctxKey = iota
	cycleIDKey
	entryPointKey
)

// WithJobID returns a context with the job ID set.
func WithJobID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, jobIDKey, id)
}

// WithCycleID returns a context with the evaluation cycle ID set.
func WithCycleID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, cycleIDKey, id)
}

// WithEntryPoint returns a context naming the resolver entry point being served.
func WithEntryPoint(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, entryPointKey, name)
}

// JobID extracts the job ID from the context, or "" if absent.
func JobID(ctx context.Context) string {
	v, _ := ctx.Value(jobIDKey).(string)
	return v
}

// CycleID extracts the cycle ID from the context, or "" if absent.
func CycleID(ctx context.Context) string {
	v, _ := ctx.Value(cycleIDKey).(string)
	return v
}

// EntryPoint extracts the entry point name from the context, or "" if absent.
func EntryPoint(ctx context.Context) string {
	v, _ := ctx.Value(entryPointKey).(string)
	return v
}

// WithIDs sets the job and cycle IDs on the context at once.
func WithIDs(ctx context.Context, jobID, cycleID string) context.Context {
	ctx = WithJobID(ctx, jobID)
	ctx = WithCycleID(ctx, cycleID)
	return ctx
}

func correlationAttrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	if v := JobID(ctx); v != "" {
		attrs = append(attrs, slog.String("job_id", v))
	}
	if v := CycleID(ctx); v != "" {
		attrs = append(attrs, slog.String("cycle_id", v))
	}
	if v := EntryPoint(ctx); v != "" {
		attrs = append(attrs, slog.String("entry_point", v))
	}
	return attrs
}

// LogWith returns a logger enriched with correlation IDs from the context.
// Only non-empty values are added as attributes.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	for _, a := range correlationAttrs(ctx) {
		logger = logger.With(a)
	}
	return logger
}

// CorrelationHandler wraps an slog.Handler, automatically injecting
// correlation IDs from the context into every log record.
// Use with slog.New(NewCorrelationHandler(inner)) so callers can use
// logger.InfoContext(ctx, ...) and IDs appear automatically.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler with automatic correlation ID injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(correlationAttrs(ctx)...)
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
