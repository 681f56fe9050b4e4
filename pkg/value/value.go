// Package value is the typed value model shared by every resolver component.
//
// A Value always carries its kind. Parsing is strict and lossless: text that
// does not fit the kind's range or precision is rejected rather than rounded.
// Formatting produces the canonical text form, so Parse(Format(v), v.Kind())
// returns an equal value.
//
// Numeric ranges:
//
//	uint          0 .. 2^256-1
//	int           -2^127 .. 2^127-1
//	amount        0 .. 2^128-1
//	timestamp     0 .. 2^64-1 (unix seconds)
//	block_height  0 .. 2^64-1
//	decimal       0 .. (2^128-1)/10^18, at most 18 fractional digits
//
// Decimal arithmetic rounds toward zero to 18 fractional digits. Integer
// division truncates toward zero.
package value

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"math"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/cockroachdb/apd/v3"

	"github.com/rendis/resolver/pkg/schema"
)

// DecimalPlaces is the fixed fractional precision of decimal values.
const DecimalPlaces = 18

var (
	integerPattern = regexp.MustCompile(`^[+-]?[0-9]+$`)
	decimalPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)
)

// Value is an immutable typed value.
type Value struct {
	kind schema.Kind
	str  string       // string, asset, json (compact)
	num  *big.Int     // integral kinds
	dec  *apd.Decimal // decimal
	b    bool
}

// Kind returns the value's kind.
func (v Value) Kind() schema.Kind { return v.kind }

// IsValid reports whether v was produced by a constructor (the zero Value is not).
func (v Value) IsValid() bool { return v.kind != "" }

// Bool returns the boolean payload; false for other kinds.
func (v Value) Bool() bool { return v.b }

// BigInt returns a copy of the integral payload, or nil for non-integral kinds.
func (v Value) BigInt() *big.Int {
	if v.num == nil {
		return nil
	}
	return new(big.Int).Set(v.num)
}

// Str returns the text payload of string, asset and json values.
func (v Value) Str() string { return v.str }

// String returns the canonical text form.
func (v Value) String() string { return Format(v) }

// NewString builds a string value.
func NewString(s string) Value { return Value{kind: schema.KindString, str: s} }

// NewBool builds a boolean value.
func NewBool(b bool) Value { return Value{kind: schema.KindBool, b: b} }

// NewUint64 builds an integral value of kind k from n. k must be integral.
func NewUint64(k schema.Kind, n uint64) (Value, error) {
	return NewInt(k, new(big.Int).SetUint64(n))
}

// NewInt builds an integral value of kind k, checking the kind's range.
func NewInt(k schema.Kind, n *big.Int) (Value, error) {
	if !k.Integral() {
		return Value{}, schema.NewErrorf(schema.ErrCodeTypeMismatch, "kind %s is not integral", k)
	}
	if err := checkIntRange(k, n); err != nil {
		return Value{}, err
	}
	return Value{kind: k, num: new(big.Int).Set(n)}, nil
}

// Parse converts canonical text into a value of the given kind.
func Parse(text string, kind schema.Kind) (Value, error) {
	switch kind {
	case schema.KindString:
		return NewString(text), nil

	case schema.KindBool:
		switch text {
		case "true":
			return NewBool(true), nil
		case "false":
			return NewBool(false), nil
		}
		return Value{}, parseErr(text, kind, "expected true or false")

	case schema.KindUint, schema.KindInt, schema.KindAmount, schema.KindTimestamp, schema.KindBlockHeight:
		if !integerPattern.MatchString(text) {
			return Value{}, parseErr(text, kind, "expected a base-10 integer")
		}
		if kind != schema.KindInt && strings.HasPrefix(text, "-") {
			return Value{}, parseErr(text, kind, "negative value for unsigned kind")
		}
		n, ok := new(big.Int).SetString(strings.TrimPrefix(text, "+"), 10)
		if !ok {
			return Value{}, parseErr(text, kind, "expected a base-10 integer")
		}
		if err := checkIntRange(kind, n); err != nil {
			return Value{}, parseErr(text, kind, err.Error()).WithCause(err)
		}
		return Value{kind: kind, num: n}, nil

	case schema.KindDecimal:
		return parseDecimal(text)

	case schema.KindAsset:
		if text == "" || strings.IndexFunc(text, unicode.IsSpace) >= 0 {
			return Value{}, parseErr(text, kind, "asset must be non-empty and contain no whitespace")
		}
		return Value{kind: kind, str: text}, nil

	case schema.KindJSON:
		var buf bytes.Buffer
		if err := json.Compact(&buf, []byte(text)); err != nil {
			return Value{}, parseErr(text, kind, "invalid JSON").WithCause(err)
		}
		return Value{kind: kind, str: buf.String()}, nil
	}
	return Value{}, schema.NewErrorf(schema.ErrCodeParse, "unknown kind %q", kind)
}

func parseDecimal(text string) (Value, error) {
	if !decimalPattern.MatchString(text) {
		return Value{}, parseErr(text, schema.KindDecimal, "expected an unsigned fixed-point number")
	}
	if i := strings.IndexByte(text, '.'); i >= 0 && len(text)-i-1 > DecimalPlaces {
		return Value{}, parseErr(text, schema.KindDecimal, "more than 18 fractional digits")
	}
	d, _, err := apd.NewFromString(text)
	if err != nil {
		return Value{}, parseErr(text, schema.KindDecimal, err.Error()).WithCause(err)
	}
	v, err := newDecimal(d)
	if err != nil {
		return Value{}, parseErr(text, schema.KindDecimal, err.Error()).WithCause(err)
	}
	return v, nil
}

func parseErr(text string, kind schema.Kind, reason string) *schema.ResolverError {
	return schema.NewErrorf(schema.ErrCodeParse, "cannot parse %q as %s: %s", text, kind, reason).
		WithDetails(map[string]any{"text": text, "kind": string(kind)})
}

// Format returns the canonical text form of v.
func Format(v Value) string {
	switch v.kind {
	case schema.KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case schema.KindDecimal:
		return formatDecimal(v.dec)
	case schema.KindUint, schema.KindInt, schema.KindAmount, schema.KindTimestamp, schema.KindBlockHeight:
		return v.num.String()
	}
	return v.str
}

// JSON returns the value as a JSON fragment for template substitution.
// Numbers are quoted to survive JSON decoders limited to float64; booleans
// are bare and json values are embedded verbatim.
func JSON(v Value) []byte {
	switch v.kind {
	case schema.KindBool:
		return []byte(Format(v))
	case schema.KindJSON:
		return []byte(v.str)
	}
	b, _ := json.Marshal(Format(v))
	return b
}

// Encoded returns the base64 (standard alphabet) encoding of the value's text.
// This is the substitution form for variables declared with encode=true.
func Encoded(v Value) string {
	return base64.StdEncoding.EncodeToString([]byte(Format(v)))
}

// FromJSON converts a decoded JSON node (as produced by encoding/json with
// UseNumber) into a value of the given kind.
func FromJSON(node any, kind schema.Kind) (Value, error) {
	if kind == schema.KindJSON {
		b, err := json.Marshal(node)
		if err != nil {
			return Value{}, schema.NewError(schema.ErrCodeParse, "cannot encode JSON node").WithCause(err)
		}
		return Parse(string(b), kind)
	}

	switch n := node.(type) {
	case string:
		return Parse(n, kind)
	case json.Number:
		return Parse(n.String(), kind)
	case int:
		return Parse(strconv.Itoa(n), kind)
	case int64:
		return Parse(strconv.FormatInt(n, 10), kind)
	case *big.Int:
		return Parse(n.String(), kind)
	case float64:
		// jq emits float64 for non-integral numbers; accept exact integers too.
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return Value{}, schema.NewErrorf(schema.ErrCodeParse, "cannot convert %v to %s", n, kind)
		}
		f := big.NewFloat(n)
		if f.IsInt() {
			i, _ := f.Int(nil)
			return Parse(i.String(), kind)
		}
		return Parse(f.Text('f', -1), kind)
	case bool:
		if kind == schema.KindString {
			return NewString(Format(NewBool(n))), nil
		}
		return Parse(Format(NewBool(n)), kind)
	case nil:
		return Value{}, schema.NewErrorf(schema.ErrCodeParse, "cannot convert null to %s", kind)
	}
	return Value{}, schema.NewErrorf(schema.ErrCodeParse, "cannot convert %T to %s", node, kind)
}
