package resolver

import (
	"errors"

	"github.com/rendis/resolver/pkg/schema"
	"github.com/rendis/resolver/pkg/value"
)

// updateFn picks the update function that applies for status.
func updateFn(v *schema.Variable, status schema.JobStatus) *schema.Operand {
	fns := v.Base().UpdateFn
	if fns == nil {
		return nil
	}
	if status == schema.JobStatusExecuted {
		return fns.OnSuccess
	}
	return fns.OnError
}

// applyVarFn computes next-cycle values. Every update function reads the
// values as they were before any update ran, so declaration order does not
// change the result.
func (r *Resolver) applyVarFn(vars []schema.Variable, status schema.JobStatus, exec schema.ExecContext) error {
	if status != schema.JobStatusExecuted && status != schema.JobStatusFailed {
		return schema.NewErrorf(schema.ErrCodeInvalidStatus,
			"update functions apply only to executed or failed jobs, got %q", status)
	}

	sc, err := newScope(vars, exec, r.exprs)
	if err != nil {
		return err
	}
	sc.status = status

	next := make([]*string, len(vars))
	for i := range vars {
		v := &vars[i]
		base := v.Base()
		if base == nil {
			return schema.NewError(schema.ErrCodeInvalidVariables, "variable must set one of static, external, query")
		}

		fn := updateFn(v, status)
		switch {
		case fn != nil:
			out, err := r.evalUpdate(sc, fn, base.Kind)
			if err != nil {
				return updateFailed(base.Name, status, err)
			}
			text := value.Format(out)
			next[i] = &text
		case base.Reinitialize:
			next[i] = nil
		default:
			next[i] = base.Value
		}
	}

	for i := range vars {
		vars[i].Base().Value = next[i]
	}
	return nil
}

func (r *Resolver) evalUpdate(sc *scope, fn *schema.Operand, kind schema.Kind) (value.Value, error) {
	if err := checkFunction(fn); err != nil {
		return value.Value{}, err
	}
	out, err := sc.operand(fn, kind)
	if err != nil {
		return value.Value{}, err
	}
	return convert(out, kind, schema.ErrCodeTypeMismatch)
}

// updateFailed wraps an evaluation error. The underlying code stays
// reachable through the cause chain and the details.
func updateFailed(name string, status schema.JobStatus, err error) error {
	details := map[string]any{"status": string(status)}
	var rerr *schema.ResolverError
	if errors.As(err, &rerr) {
		details["cause_code"] = rerr.Code
	}
	return schema.NewErrorf(schema.ErrCodeUpdateFailed, "update function failed: %s", err.Error()).
		WithVariable(name).
		WithCause(err).
		WithDetails(details)
}
