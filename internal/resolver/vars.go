package resolver

import (
	"context"

	"github.com/rendis/resolver/pkg/schema"
	"github.com/rendis/resolver/pkg/value"
)

// hydrateVars resolves every variable that has no cached value, or that is
// marked reinitialize. Variables are processed in declaration order, so a
// static init function may read any variable declared before it.
func (r *Resolver) hydrateVars(ctx context.Context, vars []schema.Variable, inputs []schema.ExternalInput, exec schema.ExecContext) error {
	sc, err := newScope(vars, exec, r.exprs)
	if err != nil {
		return err
	}

	byName := make(map[string]string, len(inputs))
	for _, in := range inputs {
		if _, dup := byName[in.Name]; !dup {
			byName[in.Name] = in.Input
		}
	}

	for i := range vars {
		v := &vars[i]
		base := v.Base()
		if base == nil {
			return schema.NewError(schema.ErrCodeInvalidVariables, "variable must set one of static, external, query")
		}
		if base.Value != nil && !base.Reinitialize {
			continue
		}

		resolved, err := r.resolveVariable(ctx, sc, v, byName)
		if err != nil {
			return withVariable(err, base.Name)
		}
		text := value.Format(resolved)
		base.Value = &text
		sc.set(base.Name, resolved)
	}
	return nil
}

func (r *Resolver) resolveVariable(ctx context.Context, sc *scope, v *schema.Variable, inputs map[string]string) (value.Value, error) {
	kind := v.Kind()
	switch {
	case v.Static != nil:
		initFn := &v.Static.InitFn
		if err := checkFunction(initFn); err != nil {
			return value.Value{}, err
		}
		out, err := sc.operand(initFn, kind)
		if err != nil {
			return value.Value{}, err
		}
		return convert(out, kind, schema.ErrCodeTypeConversionFailed)

	case v.External != nil:
		input, ok := inputs[v.External.Name]
		if !ok {
			return value.Value{}, schema.NewErrorf(schema.ErrCodeMissingExternalInput,
				"no external input supplied for %q", v.External.Name).
				WithDetails(map[string]any{"url": v.External.InitFn.URL})
		}
		out, err := value.Parse(input, kind)
		if err != nil {
			return value.Value{}, schema.NewErrorf(schema.ErrCodeTypeConversionFailed,
				"external input does not convert to %s", kind).WithCause(err)
		}
		return out, nil

	case v.Query != nil:
		return r.resolveQuery(ctx, &v.Query.InitFn, kind)
	}
	return value.Value{}, schema.NewError(schema.ErrCodeInvalidVariables, "variable has no source")
}
