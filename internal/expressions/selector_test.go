package expressions

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/resolver/pkg/schema"
)

const balanceResponse = `{
	"balance": {"amount": "42", "denom": "uatom"},
	"pools": [
		{"id": 1, "assets": [{"denom": "uatom", "amount": "1000"}, {"denom": "uosmo", "amount": "2500"}]},
		{"id": 2, "assets": []}
	],
	"paused": false
}`

func TestPathEngine_ImplementsEngine(t *testing.T) {
	var _ Engine = PathEngine{}
	assert.Equal(t, "path", PathEngine{}.Name())
}

func TestSelector_Paths(t *testing.T) {
	s := NewSelector()
	cases := []struct {
		selector string
		want     any
	}{
		{"balance.amount", "42"},
		{"$.balance.amount", "42"},
		{"$balance.denom", "uatom"},
		{"pools[0].assets[1].amount", "2500"},
		{"$.pools[1].id", json.Number("2")},
		{"paused", false},
		{"jq:.pools[0].assets | map(.denom) | join(\",\")", "uatom,uosmo"},
	}
	for _, tc := range cases {
		t.Run(tc.selector, func(t *testing.T) {
			out, err := s.Select(context.Background(), tc.selector, json.RawMessage(balanceResponse))
			require.NoError(t, err)
			assert.Equal(t, tc.want, out)
		})
	}
}

func TestSelector_Root(t *testing.T) {
	s := NewSelector()
	for _, sel := range []string{"", "$"} {
		out, err := s.Select(context.Background(), sel, json.RawMessage(`{"a":1}`))
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"a": json.Number("1")}, out)
	}
}

func TestSelector_NotFound(t *testing.T) {
	s := NewSelector()
	cases := []struct {
		selector string
		segment  string
	}{
		{"balance.missing", "balance.missing"},
		{"pools[5].id", "pools[5]"},
		{"pools.id", "pools.id"},
		{"balance[0]", "balance[0]"},
		{"balance.amount.value", "balance.amount.value"},
	}
	for _, tc := range cases {
		t.Run(tc.selector, func(t *testing.T) {
			_, err := s.Select(context.Background(), tc.selector, json.RawMessage(balanceResponse))
			require.Error(t, err)

			var rerr *schema.ResolverError
			require.ErrorAs(t, err, &rerr)
			assert.Equal(t, schema.ErrCodeSelectorNotFound, rerr.Code)
			assert.Equal(t, tc.segment, rerr.Details["segment"])
		})
	}
}

func TestSelector_MissingFieldListsKeys(t *testing.T) {
	s := NewSelector()
	_, err := s.Select(context.Background(), "balance.amt", json.RawMessage(balanceResponse))

	var rerr *schema.ResolverError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, []string{"amount", "denom"}, rerr.Details["available_fields"])
}

func TestSelector_InvalidResponse(t *testing.T) {
	s := NewSelector()
	_, err := s.Select(context.Background(), "a", json.RawMessage(`{"a":`))
	assert.True(t, schema.IsCode(err, schema.ErrCodeQueryFailed))

	_, err = s.Select(context.Background(), "a", json.RawMessage(`{} {}`))
	assert.True(t, schema.IsCode(err, schema.ErrCodeQueryFailed))
}

func TestSelector_Check(t *testing.T) {
	s := NewSelector()
	for _, ok := range []string{"a.b", "$.a[0].b", "[1]", "jq:.a | length"} {
		assert.NoError(t, s.Check(ok), ok)
	}
	for _, bad := range []string{"a..b", "a.", "a[", "a[-1]", "a[x]", "jq:.["} {
		err := s.Check(bad)
		require.Error(t, err, bad)
		assert.True(t, schema.IsCode(err, schema.ErrCodeInvalidVariables), bad)
	}
}
