package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/resolver/internal/query"
	"github.com/rendis/resolver/internal/resolver"
	"github.com/rendis/resolver/internal/store"
	"github.com/rendis/resolver/pkg/schema"
)

const (
	priceVars    = `[{"static": {"name": "price", "kind": "uint", "init_fn": "100"}}]`
	priceMsgs    = `[{"bank": {"send": {"amount": "$warp.variable.price"}}}]`
	balanceQuery = `{"bank": {"balance": {"address": "cosmos1", "denom": "uatom"}}}`
	balanceVars  = `[{"query": {"name": "balance", "kind": "uint", "init_fn": {"selector": "balance.amount", "query": ` + balanceQuery + `}}}]`
)

// --- Fixtures ---

func newTestEvaluationLog(t *testing.T) (*store.LibSQLStore, *store.EvaluationLog) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.NewLibSQLStore("file:" + filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() {
		_ = s.Close()
		_ = os.RemoveAll(dir)
	})
	return s, store.NewEvaluationLog(s)
}

func newTestServer(t *testing.T, log *store.EvaluationLog) *ResolverServer {
	t.Helper()
	q, err := query.NewStaticQuerier(query.Fixture{
		Request:  json.RawMessage(balanceQuery),
		Response: json.RawMessage(`{"balance": {"amount": "42", "denom": "uatom"}}`),
	})
	require.NoError(t, err)

	cfg := resolver.Config{
		Querier: q,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if log != nil {
		cfg.Auditor = log
	}
	r, err := resolver.New(cfg)
	require.NoError(t, err)

	return NewResolverServer(ResolverServerDeps{Resolver: r, Evaluations: log, Logger: cfg.Logger})
}

// --- Helpers ---

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

func unmarshalResult(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	text := extractText(t, result)
	require.NoError(t, json.Unmarshal([]byte(text), target))
}

// errorCode decodes the ResolverError carried by a failed tool result.
func errorCode(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.True(t, result.IsError)
	var rerr schema.ResolverError
	unmarshalResult(t, result, &rerr)
	return rerr.Code
}

// --- Tests ---

func TestValidateJobTool(t *testing.T) {
	s := newTestServer(t, nil)

	result, err := s.handleValidateJob(context.Background(), buildRequest("resolver.validate_job", map[string]any{
		"condition": "price > 50",
		"vars":      priceVars,
		"msgs":      priceMsgs,
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var out map[string]bool
	unmarshalResult(t, result, &out)
	assert.True(t, out["valid"])
}

func TestValidateJobTool_Invalid(t *testing.T) {
	s := newTestServer(t, nil)

	result, err := s.handleValidateJob(context.Background(), buildRequest("resolver.validate_job", map[string]any{
		"condition": "price > 50",
		"vars":      priceVars,
		"msgs":      `[{"bank": {"send": {"amount": "$warp.variable.fee"}}}]`,
	}))
	require.NoError(t, err)
	assert.Equal(t, schema.ErrCodeVariablesMissing, errorCode(t, result))
}

func TestValidateJobTool_MissingParams(t *testing.T) {
	s := newTestServer(t, nil)
	for _, drop := range []string{"condition", "vars", "msgs"} {
		args := map[string]any{"condition": "price > 50", "vars": priceVars, "msgs": priceMsgs}
		delete(args, drop)
		result, err := s.handleValidateJob(context.Background(), buildRequest("resolver.validate_job", args))
		require.NoError(t, err)
		assert.True(t, result.IsError, "missing %s", drop)
		assert.Contains(t, extractText(t, result), drop+" is required")
	}
}

func TestHydrateVarsTool(t *testing.T) {
	s := newTestServer(t, nil)

	result, err := s.handleHydrateVars(context.Background(), buildRequest("resolver.hydrate_vars", map[string]any{
		"vars":         balanceVars,
		"block_height": float64(1000),
		"timestamp":    float64(1700000000),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var out map[string]string
	unmarshalResult(t, result, &out)
	vars, err := schema.ParseVariables(out["vars"])
	require.NoError(t, err)
	require.Len(t, vars, 1)
	require.NotNil(t, vars[0].Base().Value)
	assert.Equal(t, "42", *vars[0].Base().Value)
}

func TestHydrateVarsTool_ExternalInputs(t *testing.T) {
	s := newTestServer(t, nil)
	vars := `[{"external": {"name": "rate", "kind": "decimal", "init_fn": {"url": "https://api.example.com/rate", "selector": "data.rate"}}}]`

	result, err := s.handleHydrateVars(context.Background(), buildRequest("resolver.hydrate_vars", map[string]any{
		"vars":            vars,
		"external_inputs": []any{map[string]any{"name": "rate", "input": "0.25"}},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	result, err = s.handleHydrateVars(context.Background(), buildRequest("resolver.hydrate_vars", map[string]any{
		"vars": vars,
	}))
	require.NoError(t, err)
	assert.Equal(t, schema.ErrCodeMissingExternalInput, errorCode(t, result))

	result, err = s.handleHydrateVars(context.Background(), buildRequest("resolver.hydrate_vars", map[string]any{
		"vars":            vars,
		"external_inputs": "not-a-list",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "invalid external_inputs")
}

func TestResolveConditionTool(t *testing.T) {
	s := newTestServer(t, nil)
	vars := `[{"static": {"name": "price", "kind": "uint", "value": "100", "init_fn": "100"}}]`

	tests := []struct {
		condition string
		want      bool
	}{
		{"price > 50", true},
		{"price > 500", false},
	}
	for _, tc := range tests {
		t.Run(tc.condition, func(t *testing.T) {
			result, err := s.handleResolveCondition(context.Background(), buildRequest("resolver.resolve_condition", map[string]any{
				"condition": tc.condition,
				"vars":      vars,
			}))
			require.NoError(t, err)
			require.False(t, result.IsError, extractText(t, result))

			var out map[string]bool
			unmarshalResult(t, result, &out)
			assert.Equal(t, tc.want, out["result"])
		})
	}

	result, err := s.handleResolveCondition(context.Background(), buildRequest("resolver.resolve_condition", map[string]any{
		"condition": "price > limit",
		"vars":      vars,
	}))
	require.NoError(t, err)
	assert.Equal(t, schema.ErrCodeUnknownVariable, errorCode(t, result))
}

func TestExecContextArguments(t *testing.T) {
	cases := []struct {
		name   string
		args   map[string]any
		want   schema.ExecContext
		errArg string
	}{
		{"absent", map[string]any{}, schema.ExecContext{}, ""},
		{"numbers", map[string]any{"block_height": float64(1000), "timestamp": float64(1700000000), "chain_id": "phoenix-1"},
			schema.ExecContext{BlockHeight: 1000, Timestamp: 1700000000, ChainID: "phoenix-1"}, ""},
		{"max uint64 as string", map[string]any{"block_height": "18446744073709551615"},
			schema.ExecContext{BlockHeight: 18446744073709551615}, ""},
		{"json number", map[string]any{"timestamp": json.Number("1700000000")},
			schema.ExecContext{Timestamp: 1700000000}, ""},
		{"negative", map[string]any{"block_height": float64(-1)}, schema.ExecContext{}, "block_height"},
		{"fractional", map[string]any{"timestamp": 1.5}, schema.ExecContext{}, "timestamp"},
		{"beyond exact float", map[string]any{"block_height": float64(1 << 60)}, schema.ExecContext{}, "block_height"},
		{"negative string", map[string]any{"timestamp": "-5"}, schema.ExecContext{}, "timestamp"},
		{"not a number", map[string]any{"block_height": true}, schema.ExecContext{}, "block_height"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := execContext(buildRequest("resolver.resolve_condition", tc.args))
			if tc.errArg != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.errArg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestResolveConditionTool_LargeBlockHeight(t *testing.T) {
	s := newTestServer(t, nil)

	result, err := s.handleResolveCondition(context.Background(), buildRequest("resolver.resolve_condition", map[string]any{
		"condition":    "block_height == 18446744073709551615",
		"vars":         `[]`,
		"block_height": "18446744073709551615",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))
	var out map[string]bool
	unmarshalResult(t, result, &out)
	assert.True(t, out["result"])

	result, err = s.handleResolveCondition(context.Background(), buildRequest("resolver.resolve_condition", map[string]any{
		"condition":    "block_height > 1",
		"vars":         `[]`,
		"block_height": float64(-3),
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "block_height")
}

func TestApplyVarFnTool(t *testing.T) {
	s := newTestServer(t, nil)
	vars := `[{"static": {"name": "counter", "kind": "uint", "value": "5", "init_fn": "0",
		"update_fn": {"on_success": {"expr": "counter + 1"}}}}]`

	result, err := s.handleApplyVarFn(context.Background(), buildRequest("resolver.apply_var_fn", map[string]any{
		"vars":   vars,
		"status": "executed",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var out map[string]string
	unmarshalResult(t, result, &out)
	parsed, err := schema.ParseVariables(out["vars"])
	require.NoError(t, err)
	assert.Equal(t, "6", *parsed[0].Base().Value)

	result, err = s.handleApplyVarFn(context.Background(), buildRequest("resolver.apply_var_fn", map[string]any{
		"vars":   vars,
		"status": "exploded",
	}))
	require.NoError(t, err)
	assert.Equal(t, schema.ErrCodeInvalidStatus, errorCode(t, result))
}

func TestHydrateMsgsTool(t *testing.T) {
	s := newTestServer(t, nil)
	vars := `[{"static": {"name": "price", "kind": "uint", "value": "100", "init_fn": "100"}}]`

	result, err := s.handleHydrateMsgs(context.Background(), buildRequest("resolver.hydrate_msgs", map[string]any{
		"msgs": priceMsgs,
		"vars": vars,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var out map[string]string
	unmarshalResult(t, result, &out)
	assert.JSONEq(t, `[{"bank": {"send": {"amount": "100"}}}]`, out["msgs"])

	result, err = s.handleHydrateMsgs(context.Background(), buildRequest("resolver.hydrate_msgs", map[string]any{
		"msgs": priceMsgs,
		"vars": priceVars,
	}))
	require.NoError(t, err)
	assert.Equal(t, schema.ErrCodeUnresolvedVariable, errorCode(t, result))
}

func TestSimulateQueryTool(t *testing.T) {
	s := newTestServer(t, nil)

	result, err := s.handleSimulateQuery(context.Background(), buildRequest("resolver.simulate_query", map[string]any{
		"query": balanceQuery,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var out schema.SimulateResponse
	unmarshalResult(t, result, &out)
	assert.JSONEq(t, `{"balance": {"amount": "42", "denom": "uatom"}}`, out.Response)

	result, err = s.handleSimulateQuery(context.Background(), buildRequest("resolver.simulate_query", map[string]any{
		"query": `{"unknown": {}}`,
	}))
	require.NoError(t, err)
	assert.Equal(t, schema.ErrCodeQueryFailed, errorCode(t, result))
}

func TestCycleTool(t *testing.T) {
	_, log := newTestEvaluationLog(t)
	s := newTestServer(t, log)
	ctx := context.Background()

	for _, cond := range []string{"price > 50", "price > limit"} {
		_, err := s.handleResolveCondition(ctx, buildRequest("resolver.resolve_condition", map[string]any{
			"condition": cond,
			"vars":      `[{"static": {"name": "price", "kind": "uint", "value": "100", "init_fn": "100"}}]`,
			"job_id":    "job-1",
			"cycle_id":  "cycle-mcp",
		}))
		require.NoError(t, err)
	}

	result, err := s.handleCycle(ctx, buildRequest("resolver.cycle", map[string]any{"cycle_id": "cycle-mcp"}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var out struct {
		Summary     store.CycleSummary  `json:"summary"`
		Evaluations []*store.Evaluation `json:"evaluations"`
	}
	unmarshalResult(t, result, &out)
	assert.Equal(t, 2, out.Summary.Calls)
	assert.Equal(t, 1, out.Summary.Failures)
	require.Len(t, out.Evaluations, 2)
	assert.Equal(t, resolver.EntryResolveCondition, out.Evaluations[0].EntryPoint)
	assert.Equal(t, "job-1", out.Evaluations[0].JobID)
	assert.Equal(t, schema.ErrCodeUnknownVariable, out.Evaluations[1].Code)

	result, err = s.handleCycle(ctx, buildRequest("resolver.cycle", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
