package value

import (
	"math/big"

	"github.com/cockroachdb/apd/v3"

	"github.com/rendis/resolver/pkg/schema"
)

// decimalContext rounds toward zero; 78 digits covers the product of two
// in-range decimals before quantization.
var decimalContext = apd.Context{
	Precision:   78,
	MaxExponent: apd.MaxExponent,
	MinExponent: apd.MinExponent,
	Traps:       apd.DefaultTraps,
	Rounding:    apd.RoundDown,
}

var (
	maxUint256 = pow2Minus1(256)
	maxUint128 = pow2Minus1(128)
	maxUint64  = pow2Minus1(64)
	maxInt128  = pow2Minus1(127)
	minInt128  = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))

	// (2^128-1) atomics at 18 fractional digits.
	maxDecimal = mustDecimal("340282366920938463463.374607431768211455")
)

func pow2Minus1(bits uint) *big.Int {
	n := new(big.Int).Lsh(big.NewInt(1), bits)
	return n.Sub(n, big.NewInt(1))
}

func mustDecimal(s string) *apd.Decimal {
	d, _, err := apd.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func intBounds(k schema.Kind) (lo, hi *big.Int) {
	switch k {
	case schema.KindUint:
		return new(big.Int), maxUint256
	case schema.KindInt:
		return minInt128, maxInt128
	case schema.KindAmount:
		return new(big.Int), maxUint128
	case schema.KindTimestamp, schema.KindBlockHeight:
		return new(big.Int), maxUint64
	}
	return nil, nil
}

func checkIntRange(k schema.Kind, n *big.Int) *schema.ResolverError {
	lo, hi := intBounds(k)
	if lo == nil {
		return schema.NewErrorf(schema.ErrCodeTypeMismatch, "kind %s is not integral", k)
	}
	if n.Cmp(lo) < 0 {
		return schema.NewErrorf(schema.ErrCodeUnderflow, "%s below minimum for %s", n.String(), k)
	}
	if n.Cmp(hi) > 0 {
		return schema.NewErrorf(schema.ErrCodeOverflow, "%s exceeds maximum for %s", n.String(), k)
	}
	return nil
}

// newDecimal quantizes d to DecimalPlaces and checks the decimal range.
func newDecimal(d *apd.Decimal) (Value, error) {
	if d.Form != apd.Finite {
		return Value{}, schema.NewError(schema.ErrCodeOverflow, "decimal result is not finite")
	}
	q := new(apd.Decimal)
	if _, err := decimalContext.Quantize(q, d, -DecimalPlaces); err != nil {
		return Value{}, schema.NewError(schema.ErrCodeOverflow, "decimal result out of range").WithCause(err)
	}
	if q.IsZero() {
		q.Negative = false
	}
	if q.Negative {
		return Value{}, schema.NewErrorf(schema.ErrCodeUnderflow, "decimal result %s is negative", q.Text('f'))
	}
	if q.Cmp(maxDecimal) > 0 {
		return Value{}, schema.NewErrorf(schema.ErrCodeOverflow, "decimal result %s exceeds maximum", formatDecimal(q))
	}
	return Value{kind: schema.KindDecimal, dec: q}, nil
}

func formatDecimal(d *apd.Decimal) string {
	if d == nil {
		return ""
	}
	var r apd.Decimal
	r.Reduce(d)
	if r.IsZero() {
		return "0"
	}
	return r.Text('f')
}

// Add returns a + b.
func Add(a, b Value) (Value, error) { return arith("add", a, b) }

// Sub returns a - b.
func Sub(a, b Value) (Value, error) { return arith("sub", a, b) }

// Mul returns a * b.
func Mul(a, b Value) (Value, error) { return arith("mul", a, b) }

// Div returns a / b, truncated toward zero.
func Div(a, b Value) (Value, error) { return arith("div", a, b) }

// Mod returns the remainder of a / b, with the sign of a.
func Mod(a, b Value) (Value, error) { return arith("mod", a, b) }

// Pow returns a raised to the integral power b.
func Pow(a, b Value) (Value, error) { return arith("pow", a, b) }

func arith(op string, a, b Value) (Value, error) {
	if err := sameNumericKind(op, a, b); err != nil {
		return Value{}, err
	}
	if a.kind == schema.KindDecimal {
		return decimalArith(op, a.dec, b.dec)
	}
	return intArith(op, a.kind, a.num, b.num)
}

func sameNumericKind(op string, a, b Value) error {
	if a.kind != b.kind {
		return schema.NewErrorf(schema.ErrCodeTypeMismatch, "%s: operand kinds differ (%s, %s)", op, a.kind, b.kind)
	}
	if !a.kind.Numeric() {
		return schema.NewErrorf(schema.ErrCodeTypeMismatch, "%s: kind %s is not numeric", op, a.kind)
	}
	return nil
}

func intArith(op string, k schema.Kind, x, y *big.Int) (Value, error) {
	z := new(big.Int)
	switch op {
	case "add":
		z.Add(x, y)
	case "sub":
		z.Sub(x, y)
	case "mul":
		z.Mul(x, y)
	case "div":
		if y.Sign() == 0 {
			return Value{}, schema.NewError(schema.ErrCodeDivisionByZero, "division by zero")
		}
		z.Quo(x, y)
	case "mod":
		if y.Sign() == 0 {
			return Value{}, schema.NewError(schema.ErrCodeDivisionByZero, "modulo by zero")
		}
		z.Rem(x, y)
	case "pow":
		if y.Sign() < 0 {
			return Value{}, schema.NewError(schema.ErrCodeTypeMismatch, "pow: negative exponent")
		}
		// Reject before computing: |x| >= 2 with more than 257 result bits cannot fit any kind.
		if abs := new(big.Int).Abs(x); abs.Cmp(big.NewInt(1)) > 0 {
			if !y.IsInt64() || y.Int64()*int64(abs.BitLen()-1) > 257 {
				return Value{}, schema.NewErrorf(schema.ErrCodeOverflow, "pow result exceeds maximum for %s", k)
			}
		}
		z.Exp(x, y, nil)
	default:
		return Value{}, schema.NewErrorf(schema.ErrCodeUnsupportedFunction, "unknown arithmetic op %q", op)
	}
	if err := checkIntRange(k, z); err != nil {
		return Value{}, err
	}
	return Value{kind: k, num: z}, nil
}

func decimalArith(op string, x, y *apd.Decimal) (Value, error) {
	z := new(apd.Decimal)
	var err error
	switch op {
	case "add":
		_, err = decimalContext.Add(z, x, y)
	case "sub":
		_, err = decimalContext.Sub(z, x, y)
	case "mul":
		_, err = decimalContext.Mul(z, x, y)
	case "div":
		if y.IsZero() {
			return Value{}, schema.NewError(schema.ErrCodeDivisionByZero, "division by zero")
		}
		_, err = decimalContext.Quo(z, x, y)
	case "mod":
		if y.IsZero() {
			return Value{}, schema.NewError(schema.ErrCodeDivisionByZero, "modulo by zero")
		}
		_, err = decimalContext.Rem(z, x, y)
	case "pow":
		var exp int64
		exp, err = y.Int64()
		if err != nil {
			return Value{}, schema.NewError(schema.ErrCodeTypeMismatch, "pow: decimal exponent must be integral").WithCause(err)
		}
		if exp > 256 {
			return Value{}, schema.NewError(schema.ErrCodeOverflow, "pow exponent too large")
		}
		_, err = decimalContext.Pow(z, x, apd.New(exp, 0))
	default:
		return Value{}, schema.NewErrorf(schema.ErrCodeUnsupportedFunction, "unknown arithmetic op %q", op)
	}
	if err != nil {
		return Value{}, schema.NewErrorf(schema.ErrCodeOverflow, "decimal %s failed", op).WithCause(err)
	}
	return newDecimal(z)
}

// Min returns the smaller operand.
func Min(a, b Value) (Value, error) {
	c, err := order(a, b)
	if err != nil {
		return Value{}, err
	}
	if c <= 0 {
		return a, nil
	}
	return b, nil
}

// Max returns the larger operand.
func Max(a, b Value) (Value, error) {
	c, err := order(a, b)
	if err != nil {
		return Value{}, err
	}
	if c >= 0 {
		return a, nil
	}
	return b, nil
}

// Abs returns |a|.
func Abs(a Value) (Value, error) {
	if err := requireNumeric("abs", a); err != nil {
		return Value{}, err
	}
	if a.kind == schema.KindDecimal {
		return a, nil
	}
	return NewInt(a.kind, new(big.Int).Abs(a.num))
}

// Neg returns -a. Only int and zero values of other kinds can be negated.
func Neg(a Value) (Value, error) {
	if err := requireNumeric("neg", a); err != nil {
		return Value{}, err
	}
	if a.kind == schema.KindDecimal {
		z := new(apd.Decimal).Neg(a.dec)
		return newDecimal(z)
	}
	return NewInt(a.kind, new(big.Int).Neg(a.num))
}

// Floor rounds a decimal down to an integral decimal. Integral kinds are returned unchanged.
func Floor(a Value) (Value, error) { return roundDecimal("floor", a) }

// Ceil rounds a decimal up to an integral decimal. Integral kinds are returned unchanged.
func Ceil(a Value) (Value, error) { return roundDecimal("ceil", a) }

func roundDecimal(op string, a Value) (Value, error) {
	if err := requireNumeric(op, a); err != nil {
		return Value{}, err
	}
	if a.kind != schema.KindDecimal {
		return a, nil
	}
	z := new(apd.Decimal)
	var err error
	if op == "floor" {
		_, err = decimalContext.Floor(z, a.dec)
	} else {
		_, err = decimalContext.Ceil(z, a.dec)
	}
	if err != nil {
		return Value{}, schema.NewErrorf(schema.ErrCodeOverflow, "decimal %s failed", op).WithCause(err)
	}
	return newDecimal(z)
}

// Sqrt returns the square root: floored for integral kinds, truncated to 18
// digits for decimals.
func Sqrt(a Value) (Value, error) {
	if err := requireNumeric("sqrt", a); err != nil {
		return Value{}, err
	}
	if a.kind == schema.KindDecimal {
		z := new(apd.Decimal)
		if _, err := decimalContext.Sqrt(z, a.dec); err != nil {
			return Value{}, schema.NewError(schema.ErrCodeOverflow, "decimal sqrt failed").WithCause(err)
		}
		return newDecimal(z)
	}
	if a.num.Sign() < 0 {
		return Value{}, schema.NewError(schema.ErrCodeUnderflow, "sqrt of negative value")
	}
	return NewInt(a.kind, new(big.Int).Sqrt(a.num))
}

func requireNumeric(op string, a Value) error {
	if !a.kind.Numeric() {
		return schema.NewErrorf(schema.ErrCodeTypeMismatch, "%s: kind %s is not numeric", op, a.kind)
	}
	return nil
}
