package expressions

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	celast "github.com/google/cel-go/common/ast"
	"github.com/google/cel-go/common/operators"
	"github.com/google/cel-go/common/types"

	"github.com/rendis/resolver/pkg/schema"
)

var celComparisons = map[string]schema.Op{
	operators.Less:          schema.OpLt,
	operators.LessEquals:    schema.OpLte,
	operators.Greater:       schema.OpGt,
	operators.GreaterEquals: schema.OpGte,
	operators.Equals:        schema.OpEq,
	operators.NotEquals:     schema.OpNeq,
}

var celStringOps = map[string]schema.Op{
	"startsWith": schema.OpStartsWith,
	"endsWith":   schema.OpEndsWith,
	"contains":   schema.OpContains,
}

var celArithmetic = map[string]string{
	operators.Add:      "add",
	operators.Subtract: "sub",
	operators.Multiply: "mul",
	operators.Divide:   "div",
	operators.Modulo:   "mod",
	operators.Negate:   "neg",
}

// CELCompiler turns textual conditions into condition trees using the Common
// Expression Language parser. Only the parser is used: the result is evaluated
// by the resolver with its own typed value model.
//
//	price > 50 && !expired(deadline)
//	$warp.variable.max-fee >= fee * 2u
//	denom.startsWith("ibc/") || exists(fallback)
//
// Thread-safe: compiled trees are cached and shared; callers must not mutate them.
type CELCompiler struct {
	env *cel.Env

	mu    sync.RWMutex
	cache map[string]*schema.Condition
}

// NewCELCompiler creates a compiler with a macro-free CEL environment.
func NewCELCompiler() (*CELCompiler, error) {
	env, err := cel.NewEnv(cel.ClearMacros())
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &CELCompiler{
		env:   env,
		cache: make(map[string]*schema.Condition),
	}, nil
}

// Name returns the compiler identifier.
func (c *CELCompiler) Name() string {
	return "cel"
}

// Compile parses text (or retrieves it from cache) into a checked condition tree.
func (c *CELCompiler) Compile(text string) (*schema.Condition, error) {
	if strings.TrimSpace(text) == "" {
		return nil, schema.NewError(schema.ErrCodeInvalidCondition, "empty condition")
	}

	c.mu.RLock()
	if cond, ok := c.cache[text]; ok {
		c.mu.RUnlock()
		return cond, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock.
	if cond, ok := c.cache[text]; ok {
		return cond, nil
	}

	source, aliases, err := aliasSource(text)
	if err != nil {
		return nil, err
	}

	ast, issues := c.env.Parse(source)
	if issues != nil && issues.Err() != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidCondition,
			"condition parse error in %q: %s", text, issues.Err().Error()).
			WithCause(issues.Err()).
			WithDetails(map[string]any{"condition": text})
	}

	conv := celConverter{aliases: aliases, text: text}
	cond, err := conv.condition(ast.NativeRep().Expr(), 1)
	if err != nil {
		return nil, err
	}
	if err := cond.Check(); err != nil {
		return nil, err
	}

	c.cache[text] = cond
	return cond, nil
}

type celConverter struct {
	aliases map[string]schema.Operand
	text    string
}

func (cv celConverter) fail(format string, args ...any) *schema.ResolverError {
	return schema.NewErrorf(schema.ErrCodeInvalidCondition, format, args...).
		WithDetails(map[string]any{"condition": cv.text})
}

func (cv celConverter) condition(e celast.Expr, depth int) (*schema.Condition, error) {
	if depth > schema.MaxDepth {
		return nil, cv.fail("condition nesting exceeds %d levels", schema.MaxDepth)
	}

	switch e.Kind() {
	case celast.LiteralKind:
		b, ok := e.AsLiteral().(types.Bool)
		if !ok {
			return nil, cv.fail("literal %v is not a boolean condition", e.AsLiteral().Value())
		}
		v := bool(b)
		return &schema.Condition{Literal: &v}, nil

	case celast.IdentKind:
		op, err := cv.operand(e, depth+1)
		if err != nil {
			return nil, err
		}
		return &schema.Condition{Bool: &op}, nil

	case celast.CallKind:
		return cv.call(e.AsCall(), depth)
	}
	return nil, cv.fail("unsupported condition syntax")
}

func (cv celConverter) call(call celast.CallExpr, depth int) (*schema.Condition, error) {
	fn := call.FunctionName()
	args := call.Args()

	switch fn {
	case operators.LogicalAnd, operators.LogicalOr:
		var children []*schema.Condition
		for _, arg := range args {
			child, err := cv.condition(arg, depth+1)
			if err != nil {
				return nil, err
			}
			// a && b && c parses as nested binary calls; keep one flat node.
			switch {
			case fn == operators.LogicalAnd && child.And != nil:
				children = append(children, child.And...)
			case fn == operators.LogicalOr && child.Or != nil:
				children = append(children, child.Or...)
			default:
				children = append(children, child)
			}
		}
		if fn == operators.LogicalAnd {
			return &schema.Condition{And: children}, nil
		}
		return &schema.Condition{Or: children}, nil

	case operators.LogicalNot:
		child, err := cv.condition(args[0], depth+1)
		if err != nil {
			return nil, err
		}
		return &schema.Condition{Not: child}, nil

	case "exists", "expired":
		if call.IsMemberFunction() || len(args) != 1 {
			return nil, cv.fail("%s takes exactly one argument", fn)
		}
		op, err := cv.operand(args[0], depth+1)
		if err != nil {
			return nil, err
		}
		if fn == "exists" {
			return &schema.Condition{Exists: &op}, nil
		}
		return &schema.Condition{Expired: &op}, nil
	}

	if op, ok := celComparisons[fn]; ok {
		return cv.comparison(args[0], op, args[1], depth)
	}
	if op, ok := celStringOps[fn]; ok && call.IsMemberFunction() && len(args) == 1 {
		return cv.comparison(call.Target(), op, args[0], depth)
	}

	// Any other call yields a value that must be boolean at evaluation time.
	op, err := cv.callOperand(call, depth+1)
	if err != nil {
		return nil, err
	}
	return &schema.Condition{Bool: &op}, nil
}

func (cv celConverter) comparison(left celast.Expr, op schema.Op, right celast.Expr, depth int) (*schema.Condition, error) {
	l, err := cv.operand(left, depth+1)
	if err != nil {
		return nil, err
	}
	r, err := cv.operand(right, depth+1)
	if err != nil {
		return nil, err
	}
	return &schema.Condition{Expr: &schema.Comparison{Left: l, Op: op, Right: r}}, nil
}

func (cv celConverter) operand(e celast.Expr, depth int) (schema.Operand, error) {
	if depth > schema.MaxDepth {
		return schema.Operand{}, cv.fail("expression nesting exceeds %d levels", schema.MaxDepth)
	}

	switch e.Kind() {
	case celast.LiteralKind:
		return cv.literal(e.AsLiteral().Value())

	case celast.IdentKind:
		return identOperand(e.AsIdent(), cv.aliases), nil

	case celast.CallKind:
		return cv.callOperand(e.AsCall(), depth)

	case celast.SelectKind:
		return schema.Operand{}, cv.fail("field selection %q is not supported; declare a query variable instead",
			e.AsSelect().FieldName())
	}
	return schema.Operand{}, cv.fail("unsupported operand syntax")
}

func (cv celConverter) literal(v any) (schema.Operand, error) {
	switch v := v.(type) {
	case int64:
		return schema.Lit(strconv.FormatInt(v, 10)), nil
	case uint64:
		return schema.TypedLit(strconv.FormatUint(v, 10), schema.KindUint), nil
	case string:
		return schema.Lit(v), nil
	case bool:
		return schema.TypedLit(strconv.FormatBool(v), schema.KindBool), nil
	}
	return schema.Operand{}, cv.fail("unsupported literal %v", v)
}

func (cv celConverter) callOperand(call celast.CallExpr, depth int) (schema.Operand, error) {
	if call.IsMemberFunction() {
		return schema.Operand{}, cv.fail("method call %q is not supported here", call.FunctionName())
	}
	fn := call.FunctionName()
	args := call.Args()

	// -5 and -1.5 are literals, not neg() calls.
	if fn == operators.Negate {
		switch arg := args[0]; arg.Kind() {
		case celast.LiteralKind:
			if v, ok := arg.AsLiteral().(types.Int); ok {
				return schema.Lit(strconv.FormatInt(-int64(v), 10)), nil
			}
		case celast.IdentKind:
			if lit, ok := cv.aliases[arg.AsIdent()]; ok && lit.Literal != nil {
				return schema.Lit("-" + lit.Literal.Text), nil
			}
		}
	}

	// Kind casts on literals produce typed literals: decimal("1.5"), uint(3).
	if kind := schema.Kind(fn); kind.Valid() && len(args) == 1 {
		if lit, ok := cv.literalArg(args[0]); ok {
			return schema.TypedLit(lit.Literal.Text, kind), nil
		}
	}

	name := fn
	if op, ok := celArithmetic[fn]; ok {
		name = op
	} else if strings.HasPrefix(fn, "_") {
		return schema.Operand{}, cv.fail("operator %s is not supported in conditions", strings.Trim(fn, "_"))
	}

	fe := &schema.FunctionExpr{Op: name}
	for _, arg := range args {
		op, err := cv.operand(arg, depth+1)
		if err != nil {
			return schema.Operand{}, err
		}
		fe.Args = append(fe.Args, op)
	}
	return schema.Operand{Fn: fe}, nil
}

// literalArg returns the literal an argument stands for: a parsed literal or
// an aliased number. Unsigned and boolean literals keep their type.
func (cv celConverter) literalArg(e celast.Expr) (schema.Operand, bool) {
	switch e.Kind() {
	case celast.IdentKind:
		op, ok := cv.aliases[e.AsIdent()]
		return op, ok && op.Literal != nil
	case celast.LiteralKind:
		switch v := e.AsLiteral().Value().(type) {
		case int64:
			return schema.Lit(strconv.FormatInt(v, 10)), true
		case uint64:
			return schema.Lit(strconv.FormatUint(v, 10)), true
		case string:
			return schema.Lit(v), true
		case bool:
			return schema.Lit(strconv.FormatBool(v)), true
		}
	}
	return schema.Operand{}, false
}

// identOperand maps a bare identifier to an alias, an ambient reference or a
// variable.
func identOperand(name string, aliases map[string]schema.Operand) schema.Operand {
	if op, ok := aliases[name]; ok {
		return op
	}
	switch schema.EnvRef(name) {
	case schema.EnvBlockHeight, schema.EnvTimestamp, schema.EnvStatus:
		return schema.Operand{Env: schema.EnvRef(name)}
	}
	return schema.Ref(name)
}
