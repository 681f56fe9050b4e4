package expressions

import (
	"strconv"
	"strings"
	"sync"

	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"

	"github.com/rendis/resolver/pkg/schema"
)

var exprBinaryOps = map[string]string{
	"+":  "add",
	"-":  "sub",
	"*":  "mul",
	"/":  "div",
	"%":  "mod",
	"**": "pow",
	"^":  "pow",
}

// ExprCompiler turns textual function values into operand trees using the
// expr-lang parser. Arithmetic operators map onto the function registry and
// calls keep their name:
//
//	counter + 1
//	max($warp.variable.floor, price * 2)
//	decimal("0.05") * amount
//
// Thread-safe: compiled operands are cached and shared; callers must not mutate them.
type ExprCompiler struct {
	mu    sync.RWMutex
	cache map[string]schema.Operand
}

// NewExprCompiler creates a new function value compiler.
func NewExprCompiler() *ExprCompiler {
	return &ExprCompiler{
		cache: make(map[string]schema.Operand),
	}
}

// Name returns the compiler identifier.
func (c *ExprCompiler) Name() string {
	return "expr"
}

// Compile parses text (or retrieves it from cache) into an operand.
func (c *ExprCompiler) Compile(text string) (schema.Operand, error) {
	if strings.TrimSpace(text) == "" {
		return schema.Operand{}, schema.NewError(schema.ErrCodeInvalidFunction, "empty function expression")
	}

	c.mu.RLock()
	if op, ok := c.cache[text]; ok {
		c.mu.RUnlock()
		return op, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock.
	if op, ok := c.cache[text]; ok {
		return op, nil
	}

	source, aliases, err := aliasSource(text)
	if err != nil {
		return schema.Operand{}, schema.NewError(schema.ErrCodeInvalidFunction, err.Error()).WithCause(err)
	}

	tree, err := parser.Parse(source)
	if err != nil {
		return schema.Operand{}, schema.NewErrorf(schema.ErrCodeInvalidFunction,
			"function parse error in %q: %s", text, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": text})
	}

	conv := exprConverter{aliases: aliases, text: text}
	op, err := conv.operand(tree.Node, 1)
	if err != nil {
		return schema.Operand{}, err
	}
	if err := schema.CheckOperand(&op); err != nil {
		return schema.Operand{}, schema.NewErrorf(schema.ErrCodeInvalidFunction,
			"function %q: %s", text, err.Error()).WithCause(err)
	}

	c.cache[text] = op
	return op, nil
}

type exprConverter struct {
	aliases map[string]schema.Operand
	text    string
}

func (cv exprConverter) fail(format string, args ...any) *schema.ResolverError {
	return schema.NewErrorf(schema.ErrCodeInvalidFunction, format, args...).
		WithDetails(map[string]any{"expression": cv.text})
}

func (cv exprConverter) operand(node ast.Node, depth int) (schema.Operand, error) {
	if depth > schema.MaxDepth {
		return schema.Operand{}, cv.fail("expression nesting exceeds %d levels", schema.MaxDepth)
	}

	switch n := node.(type) {
	case *ast.IntegerNode:
		return schema.Lit(strconv.Itoa(n.Value)), nil
	case *ast.FloatNode:
		// Fractional literals are aliased before parsing; a float here lost digits.
		return schema.Operand{}, cv.fail("number literal %v cannot be represented exactly; use decimal(\"...\")", n.Value)
	case *ast.StringNode:
		return schema.Lit(n.Value), nil
	case *ast.BoolNode:
		return schema.TypedLit(strconv.FormatBool(n.Value), schema.KindBool), nil
	case *ast.IdentifierNode:
		return identOperand(n.Value, cv.aliases), nil

	case *ast.UnaryNode:
		switch n.Operator {
		case "+":
			return cv.operand(n.Node, depth+1)
		case "-":
			switch lit := n.Node.(type) {
			case *ast.IntegerNode:
				return schema.Lit(strconv.Itoa(-lit.Value)), nil
			case *ast.IdentifierNode:
				if op, ok := cv.aliases[lit.Value]; ok && op.Literal != nil {
					return schema.Lit("-" + op.Literal.Text), nil
				}
			}
			return cv.call("neg", []ast.Node{n.Node}, depth)
		}
		return schema.Operand{}, cv.fail("unary operator %q is not supported", n.Operator)

	case *ast.BinaryNode:
		name, ok := exprBinaryOps[n.Operator]
		if !ok {
			return schema.Operand{}, cv.fail("operator %q is not supported in function values", n.Operator)
		}
		return cv.call(name, []ast.Node{n.Left, n.Right}, depth)

	case *ast.BuiltinNode:
		return cv.call(n.Name, n.Arguments, depth)

	case *ast.CallNode:
		callee, ok := n.Callee.(*ast.IdentifierNode)
		if !ok {
			return schema.Operand{}, cv.fail("only named functions can be called")
		}
		return cv.call(callee.Value, n.Arguments, depth)

	case *ast.MemberNode:
		return schema.Operand{}, cv.fail("member access is not supported; declare a query variable instead")
	}
	return schema.Operand{}, cv.fail("unsupported syntax %T", node)
}

func (cv exprConverter) call(name string, args []ast.Node, depth int) (schema.Operand, error) {
	// Kind casts on literals produce typed literals: uint("5"), decimal("1.5").
	if kind := schema.Kind(name); kind.Valid() && len(args) == 1 {
		lit, err := cv.operand(args[0], depth+1)
		if err != nil {
			return schema.Operand{}, err
		}
		if lit.Literal == nil {
			return schema.Operand{}, cv.fail("%s() takes a literal argument", name)
		}
		return schema.TypedLit(lit.Literal.Text, kind), nil
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
