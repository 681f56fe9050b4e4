package value

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/resolver/pkg/schema"
)

func mustParse(t *testing.T, text string, kind schema.Kind) Value {
	t.Helper()
	v, err := Parse(text, kind)
	require.NoError(t, err)
	return v
}

// --- Parse / Format ---

func TestParse_CanonicalRoundTrip(t *testing.T) {
	cases := []struct {
		kind schema.Kind
		in   string
		want string
	}{
		{schema.KindString, "hello world", "hello world"},
		{schema.KindUint, "42", "42"},
		{schema.KindUint, "+7", "7"},
		{schema.KindUint, "115792089237316195423570985008687907853269984665640564039457584007913129639935", "115792089237316195423570985008687907853269984665640564039457584007913129639935"},
		{schema.KindInt, "-170141183460469231731687303715884105728", "-170141183460469231731687303715884105728"},
		{schema.KindAmount, "340282366920938463463374607431768211455", "340282366920938463463374607431768211455"},
		{schema.KindTimestamp, "1700000000", "1700000000"},
		{schema.KindBlockHeight, "18446744073709551615", "18446744073709551615"},
		{schema.KindDecimal, "1.500000", "1.5"},
		{schema.KindDecimal, "0.000000000000000001", "0.000000000000000001"},
		{schema.KindDecimal, "100", "100"},
		{schema.KindDecimal, "0.0", "0"},
		{schema.KindBool, "true", "true"},
		{schema.KindAsset, "uatom", "uatom"},
		{schema.KindJSON, `{ "a" : [1, 2] }`, `{"a":[1,2]}`},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind)+"/"+tc.in, func(t *testing.T) {
			v := mustParse(t, tc.in, tc.kind)
			assert.Equal(t, tc.kind, v.Kind())
			assert.Equal(t, tc.want, Format(v))

			again := mustParse(t, Format(v), tc.kind)
			assert.True(t, Equal(v, again))
		})
	}
}

func TestParse_Rejects(t *testing.T) {
	cases := []struct {
		kind schema.Kind
		in   string
	}{
		{schema.KindUint, "-1"},
		{schema.KindUint, "1.5"},
		{schema.KindUint, "abc"},
		{schema.KindUint, "115792089237316195423570985008687907853269984665640564039457584007913129639936"},
		{schema.KindInt, "170141183460469231731687303715884105728"},
		{schema.KindAmount, "340282366920938463463374607431768211456"},
		{schema.KindTimestamp, "18446744073709551616"},
		{schema.KindDecimal, "-1.0"},
		{schema.KindDecimal, "1.0000000000000000001"},
		{schema.KindDecimal, "1e5"},
		{schema.KindDecimal, "340282366920938463464"},
		{schema.KindBool, "TRUE"},
		{schema.KindAsset, ""},
		{schema.KindAsset, "u atom"},
		{schema.KindJSON, "{"},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind)+"/"+tc.in, func(t *testing.T) {
			_, err := Parse(tc.in, tc.kind)
			require.Error(t, err)
			assert.True(t, schema.IsCode(err, schema.ErrCodeParse), "got %v", err)
		})
	}
}

func TestParse_UnknownKind(t *testing.T) {
	_, err := Parse("1", schema.Kind("float"))
	require.Error(t, err)
}

func TestJSONForm(t *testing.T) {
	assert.Equal(t, `"42"`, string(JSON(mustParse(t, "42", schema.KindUint))))
	assert.Equal(t, `"1.25"`, string(JSON(mustParse(t, "1.25", schema.KindDecimal))))
	assert.Equal(t, `true`, string(JSON(NewBool(true))))
	assert.Equal(t, `"say \"hi\""`, string(JSON(NewString(`say "hi"`))))
	assert.Equal(t, `{"a":1}`, string(JSON(mustParse(t, `{"a": 1}`, schema.KindJSON))))
}

func TestEncoded(t *testing.T) {
	assert.Equal(t, "MTAw", Encoded(mustParse(t, "100", schema.KindUint)))
	assert.Equal(t, "eyJhIjoxfQ==", Encoded(mustParse(t, `{"a": 1}`, schema.KindJSON)))
}

func TestFromJSON(t *testing.T) {
	v, err := FromJSON("42", schema.KindUint)
	require.NoError(t, err)
	assert.Equal(t, "42", Format(v))

	v, err = FromJSON(float64(1700000000), schema.KindTimestamp)
	require.NoError(t, err)
	assert.Equal(t, "1700000000", Format(v))

	v, err = FromJSON(map[string]any{"denom": "uatom"}, schema.KindJSON)
	require.NoError(t, err)
	assert.Equal(t, `{"denom":"uatom"}`, Format(v))

	v, err = FromJSON(true, schema.KindString)
	require.NoError(t, err)
	assert.Equal(t, "true", Format(v))

	_, err = FromJSON(nil, schema.KindUint)
	assert.Error(t, err)
}

func TestFromJSON_NonFinite(t *testing.T) {
	for _, n := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		for _, kind := range []schema.Kind{schema.KindDecimal, schema.KindUint, schema.KindString, schema.KindJSON} {
			_, err := FromJSON(n, kind)
			require.Error(t, err, "%v as %s", n, kind)
			assert.True(t, schema.IsCode(err, schema.ErrCodeParse), "got %v", err)
		}
	}
}

// --- Compare ---

func TestCompare(t *testing.T) {
	ten := mustParse(t, "10", schema.KindUint)
	nine := mustParse(t, "9", schema.KindUint)

	cases := []struct {
		name string
		a, b Value
		op   schema.Op
		want bool
	}{
		{"uint gt", ten, nine, schema.OpGt, true},
		{"uint lte", ten, nine, schema.OpLte, false},
		{"uint eq", ten, mustParse(t, "10", schema.KindUint), schema.OpEq, true},
		{"decimal lt", mustParse(t, "1.5", schema.KindDecimal), mustParse(t, "1.50001", schema.KindDecimal), schema.OpLt, true},
		{"decimal eq scale", mustParse(t, "1.5", schema.KindDecimal), mustParse(t, "1.500", schema.KindDecimal), schema.OpEq, true},
		{"int negative", mustParse(t, "-5", schema.KindInt), mustParse(t, "3", schema.KindInt), schema.OpLt, true},
		{"string order", NewString("abc"), NewString("abd"), schema.OpLt, true},
		{"string starts_with", NewString("cosmos1abc"), NewString("cosmos1"), schema.OpStartsWith, true},
		{"asset ends_with", mustParse(t, "ibc/ABC", schema.KindAsset), mustParse(t, "ABC", schema.KindAsset), schema.OpEndsWith, true},
		{"string contains", NewString("hello"), NewString("ell"), schema.OpContains, true},
		{"bool neq", NewBool(true), NewBool(false), schema.OpNeq, true},
		{"json key order", mustParse(t, `{"a":1,"b":2}`, schema.KindJSON), mustParse(t, `{"b":2,"a":1}`, schema.KindJSON), schema.OpEq, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Compare(tc.a, tc.b, tc.op)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCompare_TypeMismatch(t *testing.T) {
	cases := []struct {
		name string
		a, b Value
		op   schema.Op
	}{
		{"kinds differ", mustParse(t, "1", schema.KindUint), mustParse(t, "1", schema.KindInt), schema.OpEq},
		{"bool ordering", NewBool(true), NewBool(false), schema.OpGt},
		{"asset ordering", mustParse(t, "a", schema.KindAsset), mustParse(t, "b", schema.KindAsset), schema.OpLt},
		{"uint contains", mustParse(t, "12", schema.KindUint), mustParse(t, "1", schema.KindUint), schema.OpContains},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Compare(tc.a, tc.b, tc.op)
			require.Error(t, err)
			assert.True(t, schema.IsCode(err, schema.ErrCodeTypeMismatch))
		})
	}
}

// --- Arithmetic ---

func TestIntArithmetic(t *testing.T) {
	a := mustParse(t, "7", schema.KindInt)
	b := mustParse(t, "-2", schema.KindInt)

	sum, err := Add(a, b)
	require.NoError(t, err)
	assert.Equal(t, "5", Format(sum))

	quo, err := Div(a, b)
	require.NoError(t, err)
	assert.Equal(t, "-3", Format(quo), "division truncates toward zero")

	rem, err := Mod(a, b)
	require.NoError(t, err)
	assert.Equal(t, "1", Format(rem))

	p, err := Pow(b, mustParse(t, "3", schema.KindInt))
	require.NoError(t, err)
	assert.Equal(t, "-8", Format(p))

	abs, err := Abs(b)
	require.NoError(t, err)
	assert.Equal(t, "2", Format(abs))
}

func TestIntArithmetic_Bounds(t *testing.T) {
	maxAmount := mustParse(t, "340282366920938463463374607431768211455", schema.KindAmount)
	one := mustParse(t, "1", schema.KindAmount)

	_, err := Add(maxAmount, one)
	assert.True(t, schema.IsCode(err, schema.ErrCodeOverflow))

	_, err = Sub(mustParse(t, "0", schema.KindUint), mustParse(t, "1", schema.KindUint))
	assert.True(t, schema.IsCode(err, schema.ErrCodeUnderflow))

	_, err = Pow(mustParse(t, "2", schema.KindUint), mustParse(t, "1000000", schema.KindUint))
	assert.True(t, schema.IsCode(err, schema.ErrCodeOverflow))

	_, err = Neg(one)
	assert.True(t, schema.IsCode(err, schema.ErrCodeUnderflow))
}

func TestDivisionByZero(t *testing.T) {
	_, err := Div(mustParse(t, "1", schema.KindUint), mustParse(t, "0", schema.KindUint))
	assert.True(t, schema.IsCode(err, schema.ErrCodeDivisionByZero))

	_, err = Mod(mustParse(t, "1", schema.KindUint), mustParse(t, "0", schema.KindUint))
	assert.True(t, schema.IsCode(err, schema.ErrCodeDivisionByZero))

	_, err = Div(mustParse(t, "1.5", schema.KindDecimal), mustParse(t, "0", schema.KindDecimal))
	assert.True(t, schema.IsCode(err, schema.ErrCodeDivisionByZero))
}

func TestDecimalArithmetic(t *testing.T) {
	third, err := Div(mustParse(t, "1", schema.KindDecimal), mustParse(t, "3", schema.KindDecimal))
	require.NoError(t, err)
	assert.Equal(t, "0.333333333333333333", Format(third), "truncated to 18 digits")

	twoThirds, err := Div(mustParse(t, "2", schema.KindDecimal), mustParse(t, "3", schema.KindDecimal))
	require.NoError(t, err)
	assert.Equal(t, "0.666666666666666666", Format(twoThirds), "rounds toward zero")

	prod, err := Mul(mustParse(t, "1.5", schema.KindDecimal), mustParse(t, "2.5", schema.KindDecimal))
	require.NoError(t, err)
	assert.Equal(t, "3.75", Format(prod))

	zero, err := Sub(mustParse(t, "1.5", schema.KindDecimal), mustParse(t, "1.5", schema.KindDecimal))
	require.NoError(t, err)
	assert.Equal(t, "0", Format(zero))

	_, err = Sub(mustParse(t, "1", schema.KindDecimal), mustParse(t, "2", schema.KindDecimal))
	assert.True(t, schema.IsCode(err, schema.ErrCodeUnderflow))

	floor, err := Floor(mustParse(t, "2.75", schema.KindDecimal))
	require.NoError(t, err)
	assert.Equal(t, "2", Format(floor))

	ceil, err := Ceil(mustParse(t, "2.25", schema.KindDecimal))
	require.NoError(t, err)
	assert.Equal(t, "3", Format(ceil))

	root, err := Sqrt(mustParse(t, "2", schema.KindDecimal))
	require.NoError(t, err)
	assert.Equal(t, "1.414213562373095048", Format(root))
}

func TestArithmetic_KindMismatch(t *testing.T) {
	_, err := Add(mustParse(t, "1", schema.KindUint), mustParse(t, "1", schema.KindDecimal))
	assert.True(t, schema.IsCode(err, schema.ErrCodeTypeMismatch))

	_, err = Add(NewString("a"), NewString("b"))
	assert.True(t, schema.IsCode(err, schema.ErrCodeTypeMismatch))
}

func TestMinMax(t *testing.T) {
	a := mustParse(t, "3", schema.KindUint)
	b := mustParse(t, "8", schema.KindUint)

	lo, err := Min(a, b)
	require.NoError(t, err)
	assert.Equal(t, "3", Format(lo))

	hi, err := Max(a, b)
	require.NoError(t, err)
	assert.Equal(t, "8", Format(hi))
}

func TestInfer(t *testing.T) {
	assert.Equal(t, schema.KindInt, Infer("-12").Kind())
	assert.Equal(t, schema.KindDecimal, Infer("1.5").Kind())
	assert.Equal(t, schema.KindBool, Infer("false").Kind())
	assert.Equal(t, schema.KindString, Infer("uatom").Kind())
}
