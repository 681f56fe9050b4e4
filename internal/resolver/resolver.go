// Package resolver evaluates warp jobs: it validates job definitions, resolves
// variables from their sources, evaluates trigger conditions, hydrates
// instruction templates and computes next-cycle variable values.
//
// Every entry point takes the job fields as serialized text and returns fresh
// text; no job state is kept between calls.
package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/resolver/internal/expressions"
	"github.com/rendis/resolver/internal/logging"
	"github.com/rendis/resolver/internal/validation"
	"github.com/rendis/resolver/pkg/schema"
	"github.com/rendis/resolver/pkg/value"
)

// Entry point names, as they appear in logs and transport surfaces.
const (
	EntryValidateJob      = "validate_job"
	EntryHydrateVars      = "hydrate_vars"
	EntryResolveCondition = "resolve_condition"
	EntryApplyVarFn       = "apply_var_fn"
	EntryHydrateMsgs      = "hydrate_msgs"
	EntrySimulateQuery    = "simulate_query"
)

// Config holds the resolver's collaborators and options.
type Config struct {
	// Querier answers state queries. nil makes every query fail with QUERY_FAILED.
	Querier QueryCapability
	// Logger receives entry point traces (nil = text handler on stderr).
	Logger *slog.Logger
	// CompareEncoded makes conditions read encode=true variables as their
	// base64 text instead of the raw value.
	CompareEncoded bool
	// Auditor, when set, receives one record per entry point call.
	Auditor Auditor
}

// Evaluation describes one entry point call for auditing.
type Evaluation struct {
	CycleID    string
	JobID      string
	EntryPoint string
	Code       string // empty on success
	Duration   time.Duration
	At         time.Time
}

// Auditor records entry point calls. A failing auditor never fails the call.
type Auditor interface {
	RecordEvaluation(ctx context.Context, ev Evaluation) error
}

// Resolver is safe for concurrent use. The only state it holds is the
// compiled expression caches.
type Resolver struct {
	querier        QueryCapability
	logger         *slog.Logger
	compareEncoded bool
	auditor        Auditor

	cel       *expressions.CELCompiler
	exprs     *expressions.ExprCompiler
	selector  *expressions.Selector
	interp    *expressions.Interpolator
	validator *validation.JobValidator
}

// New creates a Resolver.
func New(cfg Config) (*Resolver, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(logging.NewCorrelationHandler(slog.NewTextHandler(os.Stderr, nil)))
	}

	cel, err := expressions.NewCELCompiler()
	if err != nil {
		return nil, err
	}
	exprs := expressions.NewExprCompiler()
	jv, err := validation.NewJobValidator(cel, exprs)
	if err != nil {
		return nil, err
	}

	return &Resolver{
		querier:        cfg.Querier,
		logger:         logger,
		compareEncoded: cfg.CompareEncoded,
		auditor:        cfg.Auditor,
		cel:            cel,
		exprs:          exprs,
		selector:       expressions.NewSelector(),
		interp:         expressions.NewInterpolator(),
		validator:      jv,
	}, nil
}

// observe tags ctx with the entry point and a cycle ID (unless the caller
// already set one) and logs the outcome.
func (r *Resolver) observe(ctx context.Context, entry string, fn func(ctx context.Context) error) error {
	ctx = logging.WithEntryPoint(ctx, entry)
	if logging.CycleID(ctx) == "" {
		ctx = logging.WithCycleID(ctx, uuid.New().String())
	}

	start := time.Now()
	r.logger.DebugContext(ctx, "entry point started")
	err := fn(ctx)
	r.audit(ctx, entry, start, err)
	if err != nil {
		r.logger.WarnContext(ctx, "entry point failed",
			slog.String("code", schema.CodeOf(err)),
			slog.String("error", err.Error()),
		)
		return err
	}
	r.logger.DebugContext(ctx, "entry point completed",
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))
	return nil
}

func (r *Resolver) audit(ctx context.Context, entry string, start time.Time, err error) {
	if r.auditor == nil {
		return
	}
	ev := Evaluation{
		CycleID:    logging.CycleID(ctx),
		JobID:      logging.JobID(ctx),
		EntryPoint: entry,
		Duration:   time.Since(start),
		At:         start.UTC(),
	}
	if err != nil {
		ev.Code = schema.CodeOf(err)
		if ev.Code == "" {
			ev.Code = "INTERNAL"
		}
	}
	if aerr := r.auditor.RecordEvaluation(ctx, ev); aerr != nil {
		r.logger.WarnContext(ctx, "failed to record evaluation", slog.String("error", aerr.Error()))
	}
}

// ValidateJobCreation checks a job definition before it is accepted.
func (r *Resolver) ValidateJobCreation(ctx context.Context, def schema.JobDefinition) error {
	return r.observe(ctx, EntryValidateJob, func(ctx context.Context) error {
		result := r.validator.Validate(&def)
		for _, w := range result.Warnings {
			r.logger.WarnContext(ctx, "job definition warning",
				slog.String("path", w.Path),
				slog.String("code", w.Code),
				slog.String("message", w.Message),
			)
		}
		return result.ToError()
	})
}

// HydrateVars resolves unresolved and reinitializing variables and returns the
// updated variable list.
func (r *Resolver) HydrateVars(ctx context.Context, vars string, inputs []schema.ExternalInput, exec schema.ExecContext) (string, error) {
	var out string
	err := r.observe(ctx, EntryHydrateVars, func(ctx context.Context) error {
		parsed, err := schema.ParseVariables(vars)
		if err != nil {
			return err
		}
		if err := r.hydrateVars(ctx, parsed, inputs, exec); err != nil {
			return err
		}
		out, err = schema.MarshalVariables(parsed)
		return err
	})
	return out, err
}

// ResolveCondition evaluates a condition, in JSON or textual form, against
// resolved variables.
func (r *Resolver) ResolveCondition(ctx context.Context, condition, vars string, exec schema.ExecContext) (bool, error) {
	var out bool
	err := r.observe(ctx, EntryResolveCondition, func(context.Context) error {
		cond, err := r.cel.ParseCondition(condition)
		if err != nil {
			return err
		}
		parsed, err := schema.ParseVariables(vars)
		if err != nil {
			return err
		}
		sc, err := newScope(parsed, exec, r.exprs)
		if err != nil {
			return err
		}
		sc.encoded = r.compareEncoded
		out, err = sc.condition(cond)
		return err
	})
	return out, err
}

// ApplyVarFn computes the variable list for the next cycle after a job ran
// with the given terminal status.
func (r *Resolver) ApplyVarFn(ctx context.Context, vars string, status schema.JobStatus, exec schema.ExecContext) (string, error) {
	var out string
	err := r.observe(ctx, EntryApplyVarFn, func(context.Context) error {
		st, err := schema.ParseJobStatus(string(status))
		if err != nil {
			return err
		}
		parsed, err := schema.ParseVariables(vars)
		if err != nil {
			return err
		}
		if err := r.applyVarFn(parsed, st, exec); err != nil {
			return err
		}
		out, err = schema.MarshalVariables(parsed)
		return err
	})
	return out, err
}

// HydrateMsgs substitutes resolved variables into instruction templates.
func (r *Resolver) HydrateMsgs(ctx context.Context, msgs, vars string) (string, error) {
	var out string
	err := r.observe(ctx, EntryHydrateMsgs, func(context.Context) error {
		parsed, err := schema.ParseVariables(vars)
		if err != nil {
			return err
		}
		out, err = r.interp.Resolve(msgs, substitutions(parsed))
		return err
	})
	return out, err
}

// SimulateQuery runs a raw query and returns the whole response.
func (r *Resolver) SimulateQuery(ctx context.Context, query string) (*schema.SimulateResponse, error) {
	var out *schema.SimulateResponse
	err := r.observe(ctx, EntrySimulateQuery, func(ctx context.Context) error {
		resp, err := r.runQuery(ctx, json.RawMessage(query))
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		if err := json.Compact(&buf, resp); err != nil {
			return schema.NewError(schema.ErrCodeQueryFailed, "query response is not valid JSON").WithCause(err)
		}
		out = &schema.SimulateResponse{Response: buf.String()}
		return nil
	})
	return out, err
}

// substitutions builds the template lookup over a variable list. Variables
// declared with encode=true substitute the base64 of their text form.
func substitutions(vars []schema.Variable) expressions.Lookup {
	byName := make(map[string]*schema.Variable, len(vars))
	for i := range vars {
		byName[vars[i].Name()] = &vars[i]
	}
	return func(name string) (expressions.Substitution, error) {
		v, ok := byName[name]
		if !ok {
			return expressions.Substitution{}, schema.NewErrorf(schema.ErrCodeUnresolvedVariable,
				"variable %q is not declared", name).WithVariable(name)
		}
		base := v.Base()
		if base.Value == nil {
			return expressions.Substitution{}, schema.NewErrorf(schema.ErrCodeUnresolvedVariable,
				"variable %q has no resolved value", name).WithVariable(name)
		}
		val, err := value.Parse(*base.Value, base.Kind)
		if err != nil {
			return expressions.Substitution{}, schema.NewErrorf(schema.ErrCodeTypeConversionFailed,
				"cached value %q is not a valid %s", *base.Value, base.Kind).WithVariable(name).WithCause(err)
		}
		if base.Encode {
			enc := value.Encoded(val)
			quoted, _ := json.Marshal(enc)
			return expressions.Substitution{JSON: quoted, Text: enc}, nil
		}
		return expressions.Substitution{JSON: value.JSON(val), Text: value.Format(val)}, nil
	}
}
