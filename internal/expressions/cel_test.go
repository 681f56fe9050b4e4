package expressions

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/resolver/pkg/schema"
)

func newCEL(t *testing.T) *CELCompiler {
	t.Helper()
	c, err := NewCELCompiler()
	require.NoError(t, err)
	return c
}

func TestNewCELCompiler(t *testing.T) {
	c := newCEL(t)
	assert.Equal(t, "cel", c.Name())
}

func TestCEL_SimpleComparison(t *testing.T) {
	cond, err := newCEL(t).Compile("price > 50")
	require.NoError(t, err)

	require.NotNil(t, cond.Expr)
	assert.Equal(t, schema.Ref("price"), cond.Expr.Left)
	assert.Equal(t, schema.OpGt, cond.Expr.Op)
	assert.Equal(t, schema.Lit("50"), cond.Expr.Right)
}

func TestCEL_PlaceholderForm(t *testing.T) {
	cond, err := newCEL(t).Compile("$warp.variable.max-fee >= $warp.variable.fee")
	require.NoError(t, err)

	require.NotNil(t, cond.Expr)
	assert.Equal(t, schema.Ref("max-fee"), cond.Expr.Left)
	assert.Equal(t, schema.Ref("fee"), cond.Expr.Right)
	assert.Equal(t, []string{"max-fee", "fee"}, cond.References())
}

func TestCEL_Connectives(t *testing.T) {
	cond, err := newCEL(t).Compile("a > 1 && b < 2 && !expired(deadline) || exists(override)")
	require.NoError(t, err)

	require.Len(t, cond.Or, 2)
	and := cond.Or[0]
	require.Len(t, and.And, 3, "nested && is flattened")
	require.NotNil(t, and.And[2].Not)
	require.NotNil(t, and.And[2].Not.Expired)
	assert.Equal(t, schema.Ref("deadline"), *and.And[2].Not.Expired)
	require.NotNil(t, cond.Or[1].Exists)
	assert.Equal(t, schema.Ref("override"), *cond.Or[1].Exists)
}

func TestCEL_Literals(t *testing.T) {
	c := newCEL(t)

	cond, err := c.Compile("true")
	require.NoError(t, err)
	require.NotNil(t, cond.Literal)
	assert.True(t, *cond.Literal)

	cond, err = c.Compile(`amount == 5u`)
	require.NoError(t, err)
	assert.Equal(t, schema.TypedLit("5", schema.KindUint), cond.Expr.Right)

	cond, err = c.Compile(`rate < decimal("0.05")`)
	require.NoError(t, err)
	assert.Equal(t, schema.TypedLit("0.05", schema.KindDecimal), cond.Expr.Right)

	cond, err = c.Compile(`delta > -3`)
	require.NoError(t, err)
	assert.Equal(t, schema.Lit("-3"), cond.Expr.Right)

	cond, err = c.Compile(`enabled == true`)
	require.NoError(t, err)
	assert.Equal(t, schema.TypedLit("true", schema.KindBool), cond.Expr.Right)
}

func TestCEL_NumberLiteralsKeepSourceDigits(t *testing.T) {
	cases := []struct {
		text string
		want schema.Operand
	}{
		{"p == 0.123456789012345678", schema.Lit("0.123456789012345678")},
		{"p > 123456789012345678.4", schema.Lit("123456789012345678.4")},
		{"p == 1.50", schema.Lit("1.50")},
		{"p < -1.5", schema.Lit("-1.5")},
		{"p >= 2.5e-3", schema.Lit("0.0025")},
		{"p < 1e3", schema.Lit("1000")},
		{"p == decimal(1.000000000000000001)", schema.TypedLit("1.000000000000000001", schema.KindDecimal)},
		{"p < 340282366920938463463374607431768211455", schema.Lit("340282366920938463463374607431768211455")},
		{`p == "0.123456789012345678"`, schema.Lit("0.123456789012345678")},
		{"p == 0x1F", schema.Lit("31")},
	}
	c := newCEL(t)
	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			cond, err := c.Compile(tc.text)
			require.NoError(t, err)
			require.NotNil(t, cond.Expr)
			assert.Equal(t, schema.Ref("p"), cond.Expr.Left)
			assert.Equal(t, tc.want, cond.Expr.Right)
		})
	}
}

func TestCEL_NumberLiteralInArithmetic(t *testing.T) {
	cond, err := newCEL(t).Compile("amount * 1.000000000000000001 > $warp.variable.floor")
	require.NoError(t, err)
	require.NotNil(t, cond.Expr.Left.Fn)
	assert.Equal(t, []schema.Operand{schema.Ref("amount"), schema.Lit("1.000000000000000001")}, cond.Expr.Left.Fn.Args)
	assert.Equal(t, schema.Ref("floor"), cond.Expr.Right)
}

func TestCEL_IdentifierNamedLikeAlias(t *testing.T) {
	cond, err := newCEL(t).Compile("$warp.variable.x > _warp0")
	require.NoError(t, err)
	assert.Equal(t, schema.Ref("x"), cond.Expr.Left)
	assert.Equal(t, schema.Ref("_warp0"), cond.Expr.Right)
	assert.Equal(t, []string{"x", "_warp0"}, cond.References())

	_, err = newCEL(t).Compile("$warp.variable.x > __warp_v0")
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeInvalidCondition), "got %v", err)
}

func TestCEL_AmbientAndFunctions(t *testing.T) {
	cond, err := newCEL(t).Compile("timestamp >= start + 3600 && block_height < max(a, b)")
	require.NoError(t, err)
	require.Len(t, cond.And, 2)

	first := cond.And[0].Expr
	assert.Equal(t, schema.EnvTimestamp, first.Left.Env)
	require.NotNil(t, first.Right.Fn)
	assert.Equal(t, "add", first.Right.Fn.Op)
	assert.Equal(t, []schema.Operand{schema.Ref("start"), schema.Lit("3600")}, first.Right.Fn.Args)

	second := cond.And[1].Expr
	assert.Equal(t, schema.EnvBlockHeight, second.Left.Env)
	assert.Equal(t, "max", second.Right.Fn.Op)
}

func TestCEL_StringOperators(t *testing.T) {
	cond, err := newCEL(t).Compile(`denom.startsWith("ibc/") || memo.contains("warp")`)
	require.NoError(t, err)
	require.Len(t, cond.Or, 2)
	assert.Equal(t, schema.OpStartsWith, cond.Or[0].Expr.Op)
	assert.Equal(t, schema.Ref("denom"), cond.Or[0].Expr.Left)
	assert.Equal(t, schema.Lit("ibc/"), cond.Or[0].Expr.Right)
	assert.Equal(t, schema.OpContains, cond.Or[1].Expr.Op)
}

func TestCEL_BoolVariable(t *testing.T) {
	cond, err := newCEL(t).Compile("enabled && !paused")
	require.NoError(t, err)
	require.Len(t, cond.And, 2)
	assert.Equal(t, schema.Ref("enabled"), *cond.And[0].Bool)
	assert.Equal(t, schema.Ref("paused"), *cond.And[1].Not.Bool)
}

func TestCEL_Rejects(t *testing.T) {
	cases := map[string]string{
		"empty":           "   ",
		"syntax":          "price >",
		"number as bool":  "42",
		"field selection": "balance.amount > 1",
		"ternary":         "a ? b : c",
		"exists arity":    "exists(a, b)",
		"method":          "a > b.size()",
		"nameless token":  "$warp.variable. > 1",
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := newCEL(t).Compile(text)
			require.Error(t, err)
			assert.True(t, schema.IsCode(err, schema.ErrCodeInvalidCondition), "got %v", err)
		})
	}
}

func TestCEL_DepthLimit(t *testing.T) {
	text := "x > " + strings.Repeat("max(", schema.MaxDepth+1) + "1" + strings.Repeat(", 1)", schema.MaxDepth+1)
	_, err := newCEL(t).Compile(text)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nesting")
}

func TestCEL_Caching(t *testing.T) {
	c := newCEL(t)

	first, err := c.Compile("x > 1")
	require.NoError(t, err)
	second, err := c.Compile("x > 1")
	require.NoError(t, err)

	assert.Same(t, first, second)
	c.mu.RLock()
	defer c.mu.RUnlock()
	assert.Len(t, c.cache, 1)
}

func TestCEL_Concurrent(t *testing.T) {
	c := newCEL(t)

	var wg sync.WaitGroup
	errs := make([]error, 50)
	for i := range 50 {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, errs[idx] = c.Compile("a > 1 || b < 2")
		}(i)
	}
	wg.Wait()

	for i := range 50 {
		assert.NoError(t, errs[i], "goroutine %d", i)
	}
}
