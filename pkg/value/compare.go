package value

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"

	"github.com/rendis/resolver/pkg/schema"
)

// Compare applies op to a and b. The operands must share a kind; values are
// never coerced. Ordering is defined for numeric kinds and strings; bool,
// asset and json support only eq and neq; string operators apply to string
// and asset.
func Compare(a, b Value, op schema.Op) (bool, error) {
	if a.kind != b.kind {
		return false, schema.NewErrorf(schema.ErrCodeTypeMismatch,
			"cannot compare %s with %s", a.kind, b.kind)
	}

	switch {
	case op == schema.OpEq:
		return Equal(a, b), nil
	case op == schema.OpNeq:
		return !Equal(a, b), nil
	case op.Ordering():
		c, err := order(a, b)
		if err != nil {
			return false, err
		}
		switch op {
		case schema.OpLt:
			return c < 0, nil
		case schema.OpLte:
			return c <= 0, nil
		case schema.OpGt:
			return c > 0, nil
		default:
			return c >= 0, nil
		}
	case op.Textual():
		if a.kind != schema.KindString && a.kind != schema.KindAsset {
			return false, schema.NewErrorf(schema.ErrCodeTypeMismatch, "%s is not defined for %s", op, a.kind)
		}
		switch op {
		case schema.OpStartsWith:
			return strings.HasPrefix(a.str, b.str), nil
		case schema.OpEndsWith:
			return strings.HasSuffix(a.str, b.str), nil
		default:
			return strings.Contains(a.str, b.str), nil
		}
	}
	return false, schema.NewErrorf(schema.ErrCodeInvalidCondition, "unknown operator %q", op)
}

// Equal reports whether a and b have the same kind and value. JSON values are
// equal when they decode to the same document, regardless of key order.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case schema.KindBool:
		return a.b == b.b
	case schema.KindDecimal:
		return a.dec.Cmp(b.dec) == 0
	case schema.KindJSON:
		return jsonEqual(a.str, b.str)
	}
	if a.kind.Integral() {
		return a.num.Cmp(b.num) == 0
	}
	return a.str == b.str
}

func order(a, b Value) (int, error) {
	if a.kind != b.kind {
		return 0, schema.NewErrorf(schema.ErrCodeTypeMismatch, "cannot order %s against %s", a.kind, b.kind)
	}
	switch {
	case a.kind == schema.KindDecimal:
		return a.dec.Cmp(b.dec), nil
	case a.kind.Integral():
		return a.num.Cmp(b.num), nil
	case a.kind == schema.KindString:
		return strings.Compare(a.str, b.str), nil
	}
	return 0, schema.NewErrorf(schema.ErrCodeTypeMismatch, "ordering is not defined for %s", a.kind)
}

func jsonEqual(x, y string) bool {
	if x == y {
		return true
	}
	var dx, dy any
	if decodeNumber(x, &dx) != nil || decodeNumber(y, &dy) != nil {
		return false
	}
	return reflect.DeepEqual(dx, dy)
}

func decodeNumber(s string, out *any) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	return dec.Decode(out)
}

// Infer picks a kind for an untyped literal that has nothing to borrow a kind
// from: int, then decimal, then bool, then string.
func Infer(text string) Value {
	for _, k := range []schema.Kind{schema.KindInt, schema.KindDecimal, schema.KindBool} {
		if v, err := Parse(text, k); err == nil {
			return v
		}
	}
	return NewString(text)
}
