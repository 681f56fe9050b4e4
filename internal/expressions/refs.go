package expressions

import (
	"strings"

	"github.com/rendis/resolver/pkg/schema"
)

// IsJSONCondition reports whether a condition text uses the JSON tree form
// rather than the textual form.
func IsJSONCondition(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), "{")
}

// ParseCondition accepts either condition form and returns a checked tree.
func (c *CELCompiler) ParseCondition(text string) (*schema.Condition, error) {
	if IsJSONCondition(text) {
		return schema.ParseConditionJSON(text)
	}
	return c.Compile(text)
}

// refCollector gathers variable names in first-seen order, compiling textual
// function values it meets along the way.
type refCollector struct {
	exprs *ExprCompiler
	seen  map[string]bool
	names []string
}

func newRefCollector(exprs *ExprCompiler) *refCollector {
	return &refCollector{exprs: exprs, seen: map[string]bool{}}
}

func (rc *refCollector) add(name string) {
	if !rc.seen[name] {
		rc.seen[name] = true
		rc.names = append(rc.names, name)
	}
}

func (rc *refCollector) operand(o *schema.Operand) error {
	switch {
	case o == nil:
		return nil
	case o.Ref != "":
		rc.add(o.Ref)
	case o.Fn != nil:
		for i := range o.Fn.Args {
			if err := rc.operand(&o.Fn.Args[i]); err != nil {
				return err
			}
		}
	case o.Expr != "":
		compiled, err := rc.exprs.Compile(o.Expr)
		if err != nil {
			return err
		}
		return rc.operand(&compiled)
	}
	return nil
}

func (rc *refCollector) condition(c *schema.Condition) error {
	if c == nil {
		return nil
	}
	if c.Expr != nil {
		if err := rc.operand(&c.Expr.Left); err != nil {
			return err
		}
		if err := rc.operand(&c.Expr.Right); err != nil {
			return err
		}
	}
	for _, child := range append(append([]*schema.Condition{}, c.And...), c.Or...) {
		if err := rc.condition(child); err != nil {
			return err
		}
	}
	if err := rc.condition(c.Not); err != nil {
		return err
	}
	for _, o := range []*schema.Operand{c.Bool, c.Exists, c.Expired} {
		if err := rc.operand(o); err != nil {
			return err
		}
	}
	return nil
}

// ConditionReferences returns the variables a condition reads, including those
// inside textual function values.
func (c *ExprCompiler) ConditionReferences(cond *schema.Condition) ([]string, error) {
	rc := newRefCollector(c)
	if err := rc.condition(cond); err != nil {
		return nil, err
	}
	return rc.names, nil
}

// OperandReferences returns the variables a function value reads.
func (c *ExprCompiler) OperandReferences(o *schema.Operand) ([]string, error) {
	rc := newRefCollector(c)
	if err := rc.operand(o); err != nil {
		return nil, err
	}
	return rc.names, nil
}
