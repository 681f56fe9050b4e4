package migrate

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/resolver/pkg/schema"
)

const legacyVars = `[
	{"static": {"kind": "uint", "name": "threshold", "value": "100", "encode": false}},
	{"static": {"kind": "string", "name": "memo", "value": "hi", "encode": true,
		"update_fn": {"on_success": {"simple": "bye"}}}},
	{"query": {"kind": "amount", "name": "balance", "encode": false, "reinitialize": true,
		"init_fn": {"selector": "$.balance.amount", "query": {"bank": {"balance": {}}}}}}
]`

func TestVariables_ConvertsLegacyStatic(t *testing.T) {
	out, report, err := Variables(legacyVars)
	require.NoError(t, err)
	assert.Equal(t, []string{"threshold", "memo"}, report.Converted)
	assert.Equal(t, 1, report.Unchanged)

	vars, err := schema.ParseVariables(out)
	require.NoError(t, err)
	require.Len(t, vars, 3)

	threshold := vars[0].Static
	require.NotNil(t, threshold)
	require.NotNil(t, threshold.InitFn.Literal)
	assert.Equal(t, "100", threshold.InitFn.Literal.Text)
	require.NotNil(t, threshold.Value)
	assert.Equal(t, "100", *threshold.Value)
	assert.False(t, threshold.Reinitialize)

	memo := vars[1].Static
	assert.True(t, memo.Encode)
	require.NotNil(t, memo.UpdateFn)
	require.NotNil(t, memo.UpdateFn.OnSuccess)

	balance := vars[2].Query
	require.NotNil(t, balance)
	assert.True(t, balance.Reinitialize)
	assert.Nil(t, balance.Value)
}

func TestVariables_Idempotent(t *testing.T) {
	once, _, err := Variables(legacyVars)
	require.NoError(t, err)

	twice, report, err := Variables(once)
	require.NoError(t, err)
	assert.Empty(t, report.Converted)
	assert.Equal(t, 3, report.Unchanged)
	assert.JSONEq(t, once, twice)
}

func TestVariables_Failures(t *testing.T) {
	tests := []struct {
		name string
		vars string
	}{
		{"not json", `{`},
		{"static without value", `[{"static": {"kind": "uint", "name": "x"}}]`},
		{"bad name", `[{"static": {"kind": "uint", "name": "a b", "value": "1"}}]`},
		{"bad kind", `[{"static": {"kind": "float", "name": "x", "value": "1"}}]`},
		{"bad external url", `[{"external": {"kind": "string", "name": "e", "init_fn": {"url": "ftp://x", "selector": "$.a"}}}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Variables(tt.vars)
			require.Error(t, err)
			assert.Equal(t, schema.ErrCodeInvalidVariables, schema.CodeOf(err))
		})
	}
}

func TestConvertJob(t *testing.T) {
	old, err := ParseLegacyJob([]byte(`{
		"condition": "{\"expr\": {\"uint\": {\"left\": \"$warp.variable.threshold\", \"op\": \"gt\", \"right\": {\"simple\": \"1\"}}}}",
		"msgs": "[]",
		"vars": ` + quote(legacyVars) + `
	}`))
	require.NoError(t, err)

	job, report, err := ConvertJob(old)
	require.NoError(t, err)
	assert.Len(t, report.Converted, 2)
	require.Len(t, job.Executions, 1)
	assert.Equal(t, old.Condition, job.Executions[0].Condition)
	assert.Equal(t, "[]", job.Executions[0].Msgs)

	defs := job.Definitions()
	require.Len(t, defs, 1)
	assert.Equal(t, job.Vars, defs[0].Vars)
	assert.Equal(t, old.Condition, defs[0].Condition)
}

func TestParseLegacyJob_Failures(t *testing.T) {
	_, err := ParseLegacyJob([]byte(`nope`))
	assert.Error(t, err)

	_, err = ParseLegacyJob([]byte(`{"msgs": "[]", "vars": "[]"}`))
	assert.Equal(t, schema.ErrCodeInvalidCondition, schema.CodeOf(err))
}

func TestJob_DefinitionsPerExecution(t *testing.T) {
	job := &Job{
		TerminateCondition: "stop",
		Executions: []schema.Execution{
			{Condition: "a", Msgs: "[1]"},
			{Condition: "b", Msgs: "[2]"},
		},
		Vars: "[]",
	}
	defs := job.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "b", defs[1].Condition)
	assert.Equal(t, "[2]", defs[1].Msgs)
	assert.Equal(t, "stop", defs[1].TerminateCondition)
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
