package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/resolver/pkg/schema"
)

// isolate points HOME at a temp dir so no real settings.json is read, and
// clears RESOLVER_* variables.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, kv := range os.Environ() {
		if k, _, _ := strings.Cut(kv, "="); strings.HasPrefix(k, "RESOLVER_") {
			t.Setenv(k, "")
		}
	}
	return home
}

func run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "resolver", cmd.Use)

	for _, name := range []string{
		"validate", "hydrate-vars", "resolve-condition", "apply-var-fn", "hydrate-msgs",
		"simulate-query", "evaluate", "migrate", "snapshots", "cycle", "serve", "version",
	} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestInvalidFormat(t *testing.T) {
	isolate(t)
	_, _, err := run(t, "", "--format", "xml", "version")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, exitCode(err))
}

func TestVersion(t *testing.T) {
	isolate(t)
	out, _, err := run(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, version+"\n", out)
}

func TestValidate(t *testing.T) {
	isolate(t)
	out, _, err := run(t, "", "validate", "testdata/job.yaml")
	require.NoError(t, err)
	assert.JSONEq(t, `{"valid": true}`, out)
}

func TestValidate_Invalid(t *testing.T) {
	isolate(t)
	job := `{"condition": "price > 50", "vars": [{"static": {"name": "price", "kind": "uint", "init_fn": "1"}}],
		"msgs": [{"amount": "$warp.variable.fee"}]}`

	_, errOut, err := run(t, job, "--log-level", "error", "validate", "-")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, exitCode(err))
	assert.True(t, reported(err))

	var body struct {
		Error schema.ResolverError `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(errOut[strings.Index(errOut, "{"):]), &body))
	assert.Equal(t, schema.ErrCodeVariablesMissing, body.Error.Code)
}

func TestValidate_MissingFile(t *testing.T) {
	isolate(t)
	_, _, err := run(t, "", "validate", "testdata/nope.json")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, exitCode(err))
}

func TestHydrateVars_TextFormat(t *testing.T) {
	isolate(t)
	out, _, err := run(t, "", "--format", "text", "hydrate-vars", "testdata/job.yaml")
	require.NoError(t, err)

	vars, err := schema.ParseVariables(strings.TrimSpace(out))
	require.NoError(t, err)
	require.Len(t, vars, 1)
	assert.Equal(t, "100", *vars[0].Base().Value)
}

func TestResolveCondition_Hydrate(t *testing.T) {
	isolate(t)

	out, _, err := run(t, "", "--format", "text", "resolve-condition", "--hydrate", "testdata/job.yaml")
	require.NoError(t, err)
	assert.Equal(t, "true\n", out)

	// Without hydration the variable has no value.
	_, _, err = run(t, "", "resolve-condition", "testdata/job.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, exitCode(err))
}

func TestApplyVarFn(t *testing.T) {
	isolate(t)

	out, _, err := run(t, "", "--format", "text", "apply-var-fn", "--status", "EXECUTED", "testdata/update_job.json")
	require.NoError(t, err)
	vars, err := schema.ParseVariables(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "6", *vars[0].Base().Value)

	_, _, err = run(t, "", "apply-var-fn", "testdata/update_job.json")
	require.Error(t, err, "status flag is required")
}

func TestHydrateMsgs_Unresolved(t *testing.T) {
	isolate(t)
	_, _, err := run(t, "", "hydrate-msgs", "testdata/job.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, exitCode(err))
}

func TestEvaluate_StaticFixtures(t *testing.T) {
	isolate(t)

	for _, fixtures := range []string{"testdata/fixtures.json", "testdata/fixtures.yaml"} {
		t.Run(filepath.Ext(fixtures), func(t *testing.T) {
			out, _, err := run(t, "", "--fixtures", fixtures, "--cycle-id", "c-1", "evaluate", "testdata/query_job.json")
			require.NoError(t, err)

			var res cycleResult
			require.NoError(t, json.Unmarshal([]byte(out), &res))
			assert.Equal(t, "c-1", res.CycleID)
			assert.False(t, res.Terminated)
			assert.True(t, res.Condition)
			assert.JSONEq(t, `[{"bank": {"send": {"amount": "42"}}}]`, res.Msgs)
		})
	}
}

func TestEvaluate_NoQueryCapability(t *testing.T) {
	isolate(t)
	_, errOut, err := run(t, "", "evaluate", "testdata/query_job.json")
	require.Error(t, err)
	assert.Contains(t, errOut, schema.ErrCodeQueryFailed)
}

func TestSimulateQuery(t *testing.T) {
	isolate(t)
	out, _, err := run(t, "", "--format", "text", "--fixtures", "testdata/fixtures.json",
		"simulate-query", `{"bank": {"balance": {"address": "cosmos1abc", "denom": "uatom"}}}`)
	require.NoError(t, err)
	assert.Equal(t, `{"balance":{"amount":"42","denom":"uatom"}}`+"\n", out)
}

func TestMigrate(t *testing.T) {
	isolate(t)
	out, _, err := run(t, "", "migrate", "testdata/legacy_job.json")
	require.NoError(t, err)

	var res struct {
		Job struct {
			Executions []schema.Execution `json:"executions"`
			Vars       string             `json:"vars"`
		} `json:"job"`
		Report struct {
			Converted []string `json:"converted"`
		} `json:"report"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Job.Executions, 1)
	assert.Equal(t, []string{"threshold"}, res.Report.Converted)
	assert.Contains(t, res.Job.Vars, `"init_fn":{"simple":"100"}`)
}

func TestRecordReplayAndAudit(t *testing.T) {
	home := isolate(t)
	db := filepath.Join(home, "snap.db")
	query := `{"bank": {"balance": {"address": "cosmos1abc", "denom": "uatom"}}}`

	// Replay answers only from recorded snapshots.
	_, _, err := run(t, "", "--db", db, "--query-mode", "replay", "simulate-query", query)
	require.Error(t, err, "nothing recorded yet")

	s, err := openStore(t.Context(), db)
	require.NoError(t, err)
	require.NoError(t, s.SaveSnapshot(t.Context(), json.RawMessage(query), json.RawMessage(`{"balance":{"amount":"42"}}`)))
	require.NoError(t, s.Close())

	out, _, err := run(t, "", "--db", db, "--query-mode", "replay", "--audit", "--cycle-id", "c-9",
		"--format", "text", "simulate-query", query)
	require.NoError(t, err)
	assert.Equal(t, `{"balance":{"amount":"42"}}`+"\n", out)

	out, _, err = run(t, "", "--db", db, "snapshots", "list")
	require.NoError(t, err)
	var snaps []struct {
		Hits int64 `json:"hits"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &snaps))
	require.Len(t, snaps, 1)
	assert.Equal(t, int64(1), snaps[0].Hits)

	out, _, err = run(t, "", "--db", db, "cycle", "c-9")
	require.NoError(t, err)
	var summary struct {
		CycleID  string `json:"cycle_id"`
		Calls    int    `json:"calls"`
		Failures int    `json:"failures"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, "c-9", summary.CycleID)
	assert.Equal(t, 1, summary.Calls)
	assert.Zero(t, summary.Failures)
}
