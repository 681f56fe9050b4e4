package resolver

import (
	"encoding/json"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/robfig/cron/v3"

	"github.com/rendis/resolver/pkg/schema"
	"github.com/rendis/resolver/pkg/value"
)

// function is one entry of the closed function registry.
type function struct {
	minArgs int
	maxArgs int // -1 for variadic
	// args, when set, is the kind untyped literal arguments are read as.
	// Otherwise arguments share the kind of their typed siblings.
	args schema.Kind
	call func(sc *scope, args []value.Value) (value.Value, error)
}

// maxCronTimestamp keeps cron_next inside the years time.Time can step through.
const maxCronTimestamp = 253402300799 // 9999-12-31T23:59:59Z

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var functions map[string]function

func init() {
	functions = map[string]function{
		"add":   {minArgs: 2, maxArgs: -1, call: fnAdd},
		"sub":   binary(value.Sub),
		"mul":   binary(value.Mul),
		"div":   binary(value.Div),
		"mod":   binary(value.Mod),
		"pow":   binary(value.Pow),
		"min":   {minArgs: 1, maxArgs: -1, call: fold(value.Min)},
		"max":   {minArgs: 1, maxArgs: -1, call: fold(value.Max)},
		"abs":   unary(value.Abs),
		"neg":   unary(value.Neg),
		"floor": unary(value.Floor),
		"ceil":  unary(value.Ceil),
		"sqrt":  unary(value.Sqrt),

		"concat": {minArgs: 1, maxArgs: -1, args: schema.KindString, call: fnConcat},
		"upper":  {minArgs: 1, maxArgs: 1, args: schema.KindString, call: textFn("upper", strings.ToUpper)},
		"lower":  {minArgs: 1, maxArgs: 1, args: schema.KindString, call: textFn("lower", strings.ToLower)},
		"trim":   {minArgs: 1, maxArgs: 1, args: schema.KindString, call: textFn("trim", strings.TrimSpace)},
		"len":    {minArgs: 1, maxArgs: 1, args: schema.KindString, call: fnLen},

		"block_height": ambient(schema.EnvBlockHeight),
		"timestamp":    ambient(schema.EnvTimestamp),
		"status":       ambient(schema.EnvStatus),
		"cron_next":    {minArgs: 1, maxArgs: 1, args: schema.KindString, call: fnCronNext},
	}
}

// Functions lists the registered function names in sorted order.
func Functions() []string {
	names := make([]string, 0, len(functions))
	for name := range functions {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func binary(op func(a, b value.Value) (value.Value, error)) function {
	return function{minArgs: 2, maxArgs: 2, call: func(_ *scope, args []value.Value) (value.Value, error) {
		return op(args[0], args[1])
	}}
}

func unary(op func(a value.Value) (value.Value, error)) function {
	return function{minArgs: 1, maxArgs: 1, call: func(_ *scope, args []value.Value) (value.Value, error) {
		return op(args[0])
	}}
}

func ambient(ref schema.EnvRef) function {
	return function{call: func(sc *scope, _ []value.Value) (value.Value, error) {
		return sc.env(ref)
	}}
}

func fold(op func(a, b value.Value) (value.Value, error)) func(*scope, []value.Value) (value.Value, error) {
	return func(_ *scope, args []value.Value) (value.Value, error) {
		acc := args[0]
		for _, next := range args[1:] {
			var err error
			if acc, err = op(acc, next); err != nil {
				return value.Value{}, err
			}
		}
		return acc, nil
	}
}

// fnAdd sums numbers and joins strings.
func fnAdd(sc *scope, args []value.Value) (value.Value, error) {
	if args[0].Kind() == schema.KindString {
		return fnConcat(sc, args)
	}
	return fold(value.Add)(sc, args)
}

func fnConcat(_ *scope, args []value.Value) (value.Value, error) {
	var b strings.Builder
	for _, a := range args {
		b.WriteString(value.Format(a))
	}
	return value.NewString(b.String()), nil
}

func textFn(name string, fn func(string) string) func(*scope, []value.Value) (value.Value, error) {
	return func(_ *scope, args []value.Value) (value.Value, error) {
		if args[0].Kind() != schema.KindString {
			return value.Value{}, schema.NewErrorf(schema.ErrCodeTypeMismatch,
				"%s: expected string, got %s", name, args[0].Kind())
		}
		return value.NewString(fn(args[0].Str())), nil
	}
}

// fnLen counts characters of text, or elements of a JSON array or object.
func fnLen(_ *scope, args []value.Value) (value.Value, error) {
	a := args[0]
	switch a.Kind() {
	case schema.KindString, schema.KindAsset:
		return value.NewUint64(schema.KindUint, uint64(utf8.RuneCountInString(a.Str())))
	case schema.KindJSON:
		var doc any
		if err := json.Unmarshal([]byte(a.Str()), &doc); err != nil {
			return value.Value{}, schema.NewError(schema.ErrCodeParse, "len: invalid json value").WithCause(err)
		}
		switch d := doc.(type) {
		case []any:
			return value.NewUint64(schema.KindUint, uint64(len(d)))
		case map[string]any:
			return value.NewUint64(schema.KindUint, uint64(len(d)))
		}
	}
	return value.Value{}, schema.NewErrorf(schema.ErrCodeTypeMismatch, "len is not defined for %s", a.Kind())
}

// fnCronNext returns the first fire time of a standard cron spec strictly
// after the ambient timestamp.
func fnCronNext(sc *scope, args []value.Value) (value.Value, error) {
	if args[0].Kind() != schema.KindString {
		return value.Value{}, schema.NewErrorf(schema.ErrCodeTypeMismatch,
			"cron_next: expected string, got %s", args[0].Kind())
	}
	spec := args[0].Str()
	schedule, err := cronParser.Parse(spec)
	if err != nil {
		return value.Value{}, schema.NewErrorf(schema.ErrCodeParse, "cron_next: invalid cron spec %q", spec).
			WithCause(err).
			WithDetails(map[string]any{"spec": spec})
	}
	if sc.exec.Timestamp > maxCronTimestamp {
		return value.Value{}, schema.NewError(schema.ErrCodeOverflow, "cron_next: timestamp out of calendar range")
	}
	next := schedule.Next(time.Unix(int64(sc.exec.Timestamp), 0).UTC())
	if next.IsZero() {
		return value.Value{}, schema.NewErrorf(schema.ErrCodeParse, "cron_next: spec %q never fires", spec)
	}
	return value.NewUint64(schema.KindTimestamp, uint64(next.Unix()))
}

// env reads an ambient value.
func (sc *scope) env(ref schema.EnvRef) (value.Value, error) {
	switch ref {
	case schema.EnvBlockHeight:
		return value.NewUint64(schema.KindBlockHeight, sc.exec.BlockHeight)
	case schema.EnvTimestamp:
		return value.NewUint64(schema.KindTimestamp, sc.exec.Timestamp)
	case schema.EnvStatus:
		if sc.status == "" {
			return value.Value{}, schema.NewError(schema.ErrCodeUnsupportedFunction,
				"status is only available in update functions")
		}
		return value.NewString(string(sc.status)), nil
	}
	return value.Value{}, schema.NewErrorf(schema.ErrCodeUnsupportedFunction, "unknown env reference %q", ref)
}

// operand evaluates o. hint is the kind untyped literals are read as; empty
// means infer from the literal text.
func (sc *scope) operand(o *schema.Operand, hint schema.Kind) (value.Value, error) {
	switch {
	case o.Literal != nil:
		return literal(o.Literal, hint)
	case o.Ref != "":
		return sc.lookup(o.Ref)
	case o.Env != "":
		return sc.env(o.Env)
	case o.Fn != nil:
		return sc.call(o.Fn, hint)
	case o.Expr != "":
		compiled, err := sc.exprs.Compile(o.Expr)
		if err != nil {
			return value.Value{}, err
		}
		return sc.operand(&compiled, hint)
	}
	return value.Value{}, schema.NewError(schema.ErrCodeInvalidFunction, "empty operand")
}

func isUntyped(o *schema.Operand) bool {
	return o.Literal != nil && o.Literal.Kind == ""
}

func literal(lit *schema.Literal, hint schema.Kind) (value.Value, error) {
	switch {
	case lit.Kind != "":
		return value.Parse(lit.Text, lit.Kind)
	case hint != "":
		v, err := value.Parse(lit.Text, hint)
		if err != nil {
			return value.Value{}, schema.NewErrorf(schema.ErrCodeTypeMismatch,
				"literal %q is not a valid %s", lit.Text, hint).WithCause(err)
		}
		return v, nil
	}
	return value.Infer(lit.Text), nil
}

// evalRank orders operands so that those with an intrinsic kind are evaluated
// before the ones that borrow it.
func evalRank(o *schema.Operand) int {
	switch {
	case o.Ref != "" || o.Env != "":
		return 0
	case isUntyped(o):
		return 2
	}
	return 1
}

// unify evaluates operands that are combined or compared with each other.
// References are read first, then functions and typed literals (which see the
// kind found so far), then untyped literals, which take that kind. kind, when
// set, overrides what the operands would lend each other.
func (sc *scope) unify(ops []schema.Operand, kind schema.Kind) ([]value.Value, error) {
	vals := make([]value.Value, len(ops))
	shared := kind
	for rank := 0; rank <= 2; rank++ {
		for i := range ops {
			if evalRank(&ops[i]) != rank {
				continue
			}
			v, err := sc.operand(&ops[i], shared)
			if err != nil {
				return nil, err
			}
			vals[i] = v
			if shared == "" {
				shared = v.Kind()
			}
		}
	}
	return vals, nil
}

// call evaluates a function expression through the registry.
func (sc *scope) call(fn *schema.FunctionExpr, hint schema.Kind) (value.Value, error) {
	f, ok := functions[fn.Op]
	if !ok {
		return value.Value{}, schema.NewErrorf(schema.ErrCodeUnsupportedFunction, "unsupported function %q", fn.Op).
			WithDetails(map[string]any{"op": fn.Op})
	}
	if n := len(fn.Args); n < f.minArgs || (f.maxArgs >= 0 && n > f.maxArgs) {
		return value.Value{}, schema.NewErrorf(schema.ErrCodeInvalidFunction,
			"%s: wrong number of arguments (%d)", fn.Op, n)
	}

	var (
		args []value.Value
		err  error
	)
	if f.args != "" {
		args = make([]value.Value, len(fn.Args))
		for i := range fn.Args {
			if args[i], err = sc.operand(&fn.Args[i], f.args); err != nil {
				return value.Value{}, err
			}
		}
	} else {
		argKind := fn.Kind
		if argKind == "" {
			argKind = hint
		}
		if args, err = sc.unify(fn.Args, argKind); err != nil {
			return value.Value{}, err
		}
	}

	out, err := f.call(sc, args)
	if err != nil {
		return value.Value{}, err
	}
	if fn.Kind != "" && out.Kind() != fn.Kind {
		return convert(out, fn.Kind, schema.ErrCodeTypeMismatch)
	}
	return out, nil
}

// convert re-reads v's text form as kind, failing with code.
func convert(v value.Value, kind schema.Kind, code string) (value.Value, error) {
	if v.Kind() == kind {
		return v, nil
	}
	out, err := value.Parse(value.Format(v), kind)
	if err != nil {
		return value.Value{}, schema.NewErrorf(code, "cannot convert %s value %q to %s", v.Kind(), value.Format(v), kind).
			WithCause(err)
	}
	return out, nil
}

// checkFunction validates a standalone function value before evaluation.
func checkFunction(o *schema.Operand) error {
	if err := schema.CheckOperand(o); err != nil {
		return schema.NewError(schema.ErrCodeInvalidFunction, err.Error()).WithCause(err)
	}
	return nil
}
