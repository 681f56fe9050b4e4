package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// MaxDepth bounds the nesting of condition and function trees.
const MaxDepth = 64

// Op is a relational operator.
type Op string

const (
	OpLt         Op = "lt"
	OpLte        Op = "lte"
	OpGt         Op = "gt"
	OpGte        Op = "gte"
	OpEq         Op = "eq"
	OpNeq        Op = "neq"
	OpStartsWith Op = "starts_with"
	OpEndsWith   Op = "ends_with"
	OpContains   Op = "contains"
)

var opSymbols = map[string]Op{
	"<": OpLt, "<=": OpLte, ">": OpGt, ">=": OpGte, "==": OpEq, "!=": OpNeq,
}

// ParseOp accepts an operator name or its symbol.
func ParseOp(s string) (Op, error) {
	if op, ok := opSymbols[s]; ok {
		return op, nil
	}
	switch op := Op(s); op {
	case OpLt, OpLte, OpGt, OpGte, OpEq, OpNeq, OpStartsWith, OpEndsWith, OpContains:
		return op, nil
	}
	return "", NewErrorf(ErrCodeInvalidCondition, "unknown operator %q", s)
}

// Ordering reports whether op compares by order rather than equality or text.
func (op Op) Ordering() bool {
	switch op {
	case OpLt, OpLte, OpGt, OpGte:
		return true
	}
	return false
}

// Textual reports whether op is a string-matching operator.
func (op Op) Textual() bool {
	switch op {
	case OpStartsWith, OpEndsWith, OpContains:
		return true
	}
	return false
}

// EnvRef names a value taken from the ambient execution context.
type EnvRef string

const (
	EnvBlockHeight EnvRef = "block_height"
	EnvTimestamp   EnvRef = "timestamp"
	EnvStatus      EnvRef = "status" // update expressions only
)

// Literal is a constant operand. An empty Kind means the literal takes the
// kind of whatever it is compared or combined with.
type Literal struct {
	Text string `json:"simple"`
	Kind Kind   `json:"kind,omitempty"`
}

// Operand is one input to a comparison or function. Exactly one field is set.
//
// JSON forms:
//
//	"$warp.variable.price"            variable reference
//	"100", 100, true                   untyped literal (bool literals are typed)
//	{"simple": "100", "kind": "uint"}  literal
//	{"ref": "$warp.variable.price"}    variable reference
//	{"fn": {"op": "add", "args": [..]}}
//	{"env": "block_height"}
//	{"expr": "price * 2"}              textual function value
type Operand struct {
	Literal *Literal
	Ref     string
	Fn      *FunctionExpr
	Env     EnvRef
	Expr    string
}

// IsZero reports whether no field is set.
func (o Operand) IsZero() bool {
	return o.Literal == nil && o.Ref == "" && o.Fn == nil && o.Env == "" && o.Expr == ""
}

// Lit builds an untyped literal operand.
func Lit(text string) Operand { return Operand{Literal: &Literal{Text: text}} }

// TypedLit builds a literal operand of the given kind.
func TypedLit(text string, kind Kind) Operand {
	return Operand{Literal: &Literal{Text: text, Kind: kind}}
}

// Ref builds a variable reference operand.
func Ref(name string) Operand { return Operand{Ref: name} }

// MarshalJSON writes the shortest unambiguous form.
func (o Operand) MarshalJSON() ([]byte, error) {
	switch {
	case o.Ref != "":
		return json.Marshal(Placeholder(o.Ref))
	case o.Literal != nil:
		return json.Marshal(o.Literal)
	case o.Fn != nil:
		return json.Marshal(map[string]*FunctionExpr{"fn": o.Fn})
	case o.Env != "":
		return json.Marshal(map[string]EnvRef{"env": o.Env})
	case o.Expr != "":
		return json.Marshal(map[string]string{"expr": o.Expr})
	}
	return []byte("null"), nil
}

// UnmarshalJSON accepts the shorthand and object forms listed on Operand.
func (o *Operand) UnmarshalJSON(data []byte) error {
	*o = Operand{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if name, ok := strings.CutPrefix(s, VariablePrefix); ok {
			o.Ref = name
			return nil
		}
		o.Literal = &Literal{Text: s}
		return nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		o.Literal = &Literal{Text: fmt.Sprint(b), Kind: KindBool}
		return nil
	case '{':
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("operand must be a string, number, bool or object: %w", err)
		}
		o.Literal = &Literal{Text: n.String()}
		return nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	if raw, ok := fields["simple"]; ok {
		var lit Literal
		var kind struct {
			Kind Kind `json:"kind"`
		}
		if err := json.Unmarshal(data, &kind); err != nil {
			return err
		}
		lit.Kind = kind.Kind
		if err := json.Unmarshal(raw, &lit.Text); err != nil {
			// Non-string simple values keep their JSON text (numbers, objects for json kind).
			lit.Text = string(bytes.TrimSpace(raw))
		}
		o.Literal = &lit
		return checkOperandKeys(fields, "simple", "kind")
	}

	if len(fields) != 1 {
		return fmt.Errorf("operand object must have exactly one key, got %d", len(fields))
	}
	for key, raw := range fields {
		switch key {
		case "ref":
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return err
			}
			o.Ref = strings.TrimPrefix(s, VariablePrefix)
		case "fn":
			o.Fn = &FunctionExpr{}
			return json.Unmarshal(raw, o.Fn)
		case "env":
			return json.Unmarshal(raw, &o.Env)
		case "expr":
			return json.Unmarshal(raw, &o.Expr)
		default:
			return fmt.Errorf("unknown operand key %q", key)
		}
	}
	return nil
}

func checkOperandKeys(fields map[string]json.RawMessage, allowed ...string) error {
	for key := range fields {
		ok := false
		for _, a := range allowed {
			if key == a {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("unknown operand key %q", key)
		}
	}
	return nil
}

// FunctionExpr applies a registered function to its arguments. Kind, when
// set, types untyped literal arguments and the result.
type FunctionExpr struct {
	Op   string    `json:"op"`
	Args []Operand `json:"args,omitempty"`
	Kind Kind      `json:"kind,omitempty"`
}

// Comparison is a relational node.
type Comparison struct {
	Left  Operand `json:"left"`
	Op    Op      `json:"op"`
	Right Operand `json:"right"`
	Kind  Kind    `json:"kind,omitempty"`
}

// Condition is a node of a boolean expression tree. Exactly one field is set.
type Condition struct {
	Literal *bool        `json:"literal,omitempty"`
	Expr    *Comparison  `json:"expr,omitempty"`
	And     []*Condition `json:"and,omitempty"`
	Or      []*Condition `json:"or,omitempty"`
	Not     *Condition   `json:"not,omitempty"`
	Bool    *Operand     `json:"bool,omitempty"`
	Exists  *Operand     `json:"exists,omitempty"`
	Expired *Operand     `json:"expired,omitempty"`
}

// Check verifies that every node sets exactly one field, that operators and
// kinds are known and that nesting stays within MaxDepth.
func (c *Condition) Check() error {
	return c.check(1)
}

func (c *Condition) check(depth int) error {
	if c == nil {
		return NewError(ErrCodeInvalidCondition, "empty condition node")
	}
	if depth > MaxDepth {
		return NewErrorf(ErrCodeInvalidCondition, "condition nesting exceeds %d levels", MaxDepth)
	}

	set := 0
	for _, present := range []bool{
		c.Literal != nil, c.Expr != nil, c.And != nil, c.Or != nil,
		c.Not != nil, c.Bool != nil, c.Exists != nil, c.Expired != nil,
	} {
		if present {
			set++
		}
	}
	if set != 1 {
		return NewErrorf(ErrCodeInvalidCondition, "condition node must set exactly one field (got %d)", set)
	}

	switch {
	case c.Expr != nil:
		if _, err := ParseOp(string(c.Expr.Op)); err != nil {
			return err
		}
		if c.Expr.Kind != "" && !c.Expr.Kind.Valid() {
			return NewErrorf(ErrCodeInvalidCondition, "unknown kind %q", c.Expr.Kind)
		}
		if err := c.Expr.Left.check(depth + 1); err != nil {
			return err
		}
		return c.Expr.Right.check(depth + 1)
	case c.And != nil || c.Or != nil:
		children := c.And
		if c.Or != nil {
			children = c.Or
		}
		if len(children) == 0 {
			return NewError(ErrCodeInvalidCondition, "and/or node requires at least one child")
		}
		for _, child := range children {
			if err := child.check(depth + 1); err != nil {
				return err
			}
		}
	case c.Not != nil:
		return c.Not.check(depth + 1)
	case c.Bool != nil:
		return c.Bool.check(depth + 1)
	case c.Exists != nil:
		if c.Exists.Ref == "" {
			return NewError(ErrCodeInvalidCondition, "exists requires a variable reference")
		}
	case c.Expired != nil:
		return c.Expired.check(depth + 1)
	}
	return nil
}

func (o *Operand) check(depth int) error {
	if depth > MaxDepth {
		return NewErrorf(ErrCodeInvalidCondition, "expression nesting exceeds %d levels", MaxDepth)
	}
	if o.IsZero() {
		return NewError(ErrCodeInvalidCondition, "empty operand")
	}
	switch {
	case o.Literal != nil:
		if o.Literal.Kind != "" && !o.Literal.Kind.Valid() {
			return NewErrorf(ErrCodeInvalidCondition, "unknown literal kind %q", o.Literal.Kind)
		}
	case o.Ref != "":
		if !IsValidName(o.Ref) {
			return NewErrorf(ErrCodeInvalidCondition, "invalid variable reference %q", o.Ref)
		}
	case o.Env != "":
		switch o.Env {
		case EnvBlockHeight, EnvTimestamp, EnvStatus:
		default:
			return NewErrorf(ErrCodeInvalidCondition, "unknown env reference %q", o.Env)
		}
	case o.Fn != nil:
		if o.Fn.Op == "" {
			return NewError(ErrCodeInvalidCondition, "function expression requires op")
		}
		if o.Fn.Kind != "" && !o.Fn.Kind.Valid() {
			return NewErrorf(ErrCodeInvalidCondition, "unknown function kind %q", o.Fn.Kind)
		}
		for i := range o.Fn.Args {
			if err := o.Fn.Args[i].check(depth + 1); err != nil {
				return err
			}
		}
	}
	return nil
}

// CheckOperand validates a standalone operand such as an init or update function.
func CheckOperand(o *Operand) error {
	return o.check(1)
}

// References returns the variable names referenced by the tree, in first-seen order.
// Textual operands (Expr) are not expanded; callers compile them first.
func (c *Condition) References() []string {
	seen := map[string]bool{}
	var out []string
	c.walkRefs(func(name string) {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	})
	return out
}

func (c *Condition) walkRefs(fn func(string)) {
	if c == nil {
		return
	}
	if c.Expr != nil {
		c.Expr.Left.WalkRefs(fn)
		c.Expr.Right.WalkRefs(fn)
	}
	for _, child := range c.And {
		child.walkRefs(fn)
	}
	for _, child := range c.Or {
		child.walkRefs(fn)
	}
	c.Not.walkRefs(fn)
	for _, o := range []*Operand{c.Bool, c.Exists, c.Expired} {
		if o != nil {
			o.WalkRefs(fn)
		}
	}
}

// WalkRefs calls fn for every variable reference inside the operand.
func (o *Operand) WalkRefs(fn func(string)) {
	if o.Ref != "" {
		fn(o.Ref)
	}
	if o.Fn != nil {
		for i := range o.Fn.Args {
			o.Fn.Args[i].WalkRefs(fn)
		}
	}
}

// ParseConditionJSON decodes and checks a condition tree written as JSON.
func ParseConditionJSON(text string) (*Condition, error) {
	var c Condition
	if err := json.Unmarshal([]byte(text), &c); err != nil {
		return nil, NewErrorf(ErrCodeInvalidCondition, "condition input invalid: %s", err.Error()).WithCause(err)
	}
	if err := c.Check(); err != nil {
		return nil, err
	}
	return &c, nil
}
