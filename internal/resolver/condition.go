package resolver

import (
	"math/big"

	"github.com/rendis/resolver/pkg/schema"
	"github.com/rendis/resolver/pkg/value"
)

// condition evaluates a checked tree. and/or stop at the first child that
// decides the result; children after it are never evaluated.
func (sc *scope) condition(c *schema.Condition) (bool, error) {
	switch {
	case c.Literal != nil:
		return *c.Literal, nil

	case c.Expr != nil:
		return sc.compare(c.Expr)

	case c.And != nil:
		for _, child := range c.And {
			ok, err := sc.condition(child)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil

	case c.Or != nil:
		for _, child := range c.Or {
			ok, err := sc.condition(child)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case c.Not != nil:
		ok, err := sc.condition(c.Not)
		return !ok && err == nil, err

	case c.Bool != nil:
		v, err := sc.operand(c.Bool, schema.KindBool)
		if err != nil {
			return false, err
		}
		if v.Kind() != schema.KindBool {
			return false, schema.NewErrorf(schema.ErrCodeTypeMismatch, "expected bool, got %s", v.Kind())
		}
		return v.Bool(), nil

	case c.Exists != nil:
		return sc.resolved(c.Exists.Ref)

	case c.Expired != nil:
		v, err := sc.operand(c.Expired, schema.KindTimestamp)
		if err != nil {
			return false, err
		}
		if v.Kind() != schema.KindTimestamp {
			return false, schema.NewErrorf(schema.ErrCodeTypeMismatch, "expired expects a timestamp, got %s", v.Kind())
		}
		now := new(big.Int).SetUint64(sc.exec.Timestamp)
		return v.BigInt().Cmp(now) <= 0, nil
	}
	return false, schema.NewError(schema.ErrCodeInvalidCondition, "empty condition node")
}

func (sc *scope) compare(cmp *schema.Comparison) (bool, error) {
	vals, err := sc.unify([]schema.Operand{cmp.Left, cmp.Right}, cmp.Kind)
	if err != nil {
		return false, err
	}
	ok, err := value.Compare(vals[0], vals[1], cmp.Op)
	if err != nil {
		if rerr, isRes := err.(*schema.ResolverError); isRes && rerr.Details == nil {
			rerr.WithDetails(map[string]any{
				"op":    string(cmp.Op),
				"left":  string(vals[0].Kind()),
				"right": string(vals[1].Kind()),
			})
		}
		return false, err
	}
	return ok, nil
}
