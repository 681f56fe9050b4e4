package resolver

import (
	"github.com/rendis/resolver/internal/expressions"
	"github.com/rendis/resolver/pkg/schema"
	"github.com/rendis/resolver/pkg/value"
)

// scope is the evaluation environment of one entry-point call: the declared
// variables, the values resolved so far and the ambient execution context.
// It is built fresh for every call and never shared.
type scope struct {
	declared map[string]*schema.Variable
	values   map[string]value.Value
	exec     schema.ExecContext
	exprs    *expressions.ExprCompiler

	// status is set only while update functions run.
	status schema.JobStatus
	// encoded makes references to encode=true variables read the base64 text.
	encoded bool
}

// newScope indexes vars and parses every cached value with its declared kind.
func newScope(vars []schema.Variable, exec schema.ExecContext, exprs *expressions.ExprCompiler) (*scope, error) {
	sc := &scope{
		declared: make(map[string]*schema.Variable, len(vars)),
		values:   make(map[string]value.Value, len(vars)),
		exec:     exec,
		exprs:    exprs,
	}
	for i := range vars {
		v := &vars[i]
		name := v.Name()
		sc.declared[name] = v

		base := v.Base()
		if base == nil || base.Value == nil {
			continue
		}
		parsed, err := value.Parse(*base.Value, base.Kind)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeTypeConversionFailed,
				"cached value %q is not a valid %s", *base.Value, base.Kind).
				WithVariable(name).WithCause(err)
		}
		sc.values[name] = parsed
	}
	return sc, nil
}

// set records a freshly resolved value.
func (sc *scope) set(name string, v value.Value) {
	sc.values[name] = v
}

// clear forgets a value so later lookups report it unresolved.
func (sc *scope) clear(name string) {
	delete(sc.values, name)
}

// lookup returns the value a reference reads.
func (sc *scope) lookup(name string) (value.Value, error) {
	decl, ok := sc.declared[name]
	if !ok {
		return value.Value{}, schema.NewErrorf(schema.ErrCodeUnknownVariable,
			"reference to undeclared variable %q", name).WithVariable(name)
	}
	v, ok := sc.values[name]
	if !ok {
		return value.Value{}, schema.NewErrorf(schema.ErrCodeUnresolvedVariable,
			"variable %q has no resolved value", name).WithVariable(name)
	}
	if sc.encoded && decl.Base().Encode {
		return value.NewString(value.Encoded(v)), nil
	}
	return v, nil
}

// resolved reports whether a declared variable carries a value.
func (sc *scope) resolved(name string) (bool, error) {
	if _, ok := sc.declared[name]; !ok {
		return false, schema.NewErrorf(schema.ErrCodeUnknownVariable,
			"reference to undeclared variable %q", name).WithVariable(name)
	}
	_, ok := sc.values[name]
	return ok, nil
}

// withVariable attaches name to a ResolverError that does not already carry one.
func withVariable(err error, name string) error {
	if rerr, ok := err.(*schema.ResolverError); ok && rerr.Variable == "" {
		return rerr.WithVariable(name)
	}
	return err
}
