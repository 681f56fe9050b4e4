package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/resolver/internal/expressions"
	"github.com/rendis/resolver/pkg/schema"
)

func newJobValidator(t *testing.T) *JobValidator {
	t.Helper()
	cel, err := expressions.NewCELCompiler()
	require.NoError(t, err)
	jv, err := NewJobValidator(cel, expressions.NewExprCompiler())
	require.NoError(t, err)
	return jv
}

func TestJobValidator_ImplementsValidator(t *testing.T) {
	var _ Validator = (*JobValidator)(nil)
}

const (
	priceVar   = `{"static": {"name": "price", "kind": "uint", "init_fn": "100"}}`
	counterVar = `{"static": {"name": "counter", "kind": "uint", "init_fn": "0", "update_fn": {"on_success": {"expr": "counter + 1"}}}}`
	amountVar  = `{"query": {"name": "amount", "kind": "amount", "init_fn": {"selector": "balance.amount", "query": {"bank": {"balance": {"address": "cosmos1", "denom": "uatom"}}}}}}`
	sendMsgs   = `[{"bank": {"send": {"to_address": "cosmos1xyz", "amount": [{"denom": "uatom", "amount": "$warp.variable.amount"}]}}}]`
)

func validJob() *schema.JobDefinition {
	return &schema.JobDefinition{
		Condition:          "price > 50 && counter < 10",
		TerminateCondition: `{"expr": {"left": "$warp.variable.counter", "op": "gte", "right": "10"}}`,
		Vars:               "[" + priceVar + "," + counterVar + "," + amountVar + "]",
		Msgs:               sendMsgs,
	}
}

func TestJobValidator_Valid(t *testing.T) {
	jv := newJobValidator(t)
	r := jv.Validate(validJob())
	assert.True(t, r.Valid(), "errors: %v", r.Errors)
	assert.NoError(t, jv.ValidateJob(validJob()))
}

func TestJobValidator_Nil(t *testing.T) {
	r := newJobValidator(t).Validate(nil)
	require.False(t, r.Valid())
	assert.Equal(t, schema.ErrCodeValidation, r.Errors[0].Code)
}

func TestJobValidator_FailureClasses(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*schema.JobDefinition)
		code   string
	}{
		{"condition syntax", func(d *schema.JobDefinition) { d.Condition = "price >" }, schema.ErrCodeInvalidCondition},
		{"condition json", func(d *schema.JobDefinition) { d.Condition = `{"expr": {"op": "gt"}}` }, schema.ErrCodeInvalidCondition},
		{"terminate condition", func(d *schema.JobDefinition) { d.TerminateCondition = `{"bogus": 1}` }, schema.ErrCodeInvalidCondition},
		{"vars not json", func(d *schema.JobDefinition) { d.Vars = `[{` }, schema.ErrCodeInvalidVariables},
		{"vars schema", func(d *schema.JobDefinition) {
			d.Vars = `[{"static": {"name": "price", "kind": "float", "init_fn": "1"}}]`
		}, schema.ErrCodeInvalidVariables},
		{"init literal does not fit kind", func(d *schema.JobDefinition) {
			d.Vars = "[" + `{"static": {"name": "price", "kind": "uint", "init_fn": "-5"}}` + "," + counterVar + "," + amountVar + "]"
		}, schema.ErrCodeInvalidVariables},
		{"bad update function", func(d *schema.JobDefinition) {
			d.Vars = "[" + priceVar + "," + `{"static": {"name": "counter", "kind": "uint", "init_fn": "0", "update_fn": {"on_success": {"expr": "counter +"}}}}` + "," + amountVar + "]"
		}, schema.ErrCodeInvalidVariables},
		{"bad selector", func(d *schema.JobDefinition) {
			d.Vars = "[" + priceVar + "," + counterVar + "," + `{"query": {"name": "amount", "kind": "amount", "init_fn": {"selector": "balance..amount", "query": {}}}}` + "]"
		}, schema.ErrCodeInvalidVariables},
		{"duplicates", func(d *schema.JobDefinition) {
			d.Vars = "[" + priceVar + "," + priceVar + "," + counterVar + "," + amountVar + "]"
		}, schema.ErrCodeVariablesDuplicates},
		{"missing in condition", func(d *schema.JobDefinition) { d.Condition = "price > limit && counter < 10" }, schema.ErrCodeVariablesMissing},
		{"missing in msgs", func(d *schema.JobDefinition) {
			d.Msgs = `[{"bank": {"send": {"amount": "$warp.variable.amount", "to": "$warp.variable.recipient"}}}]`
		}, schema.ErrCodeVariablesMissing},
		{"function reads undeclared", func(d *schema.JobDefinition) {
			d.Vars = "[" + `{"static": {"name": "price", "kind": "uint", "init_fn": {"expr": "base * 2"}}}` + "," + counterVar + "," + amountVar + "]"
		}, schema.ErrCodeInvalidVariables},
		{"excess", func(d *schema.JobDefinition) {
			d.Vars = "[" + priceVar + "," + counterVar + "," + amountVar + "," + `{"static": {"name": "unused", "kind": "uint", "init_fn": "1"}}` + "]"
		}, schema.ErrCodeExcessVariables},
		{"msgs not json", func(d *schema.JobDefinition) {
			d.Msgs = `[{"bank": {"send": {"amount": "$warp.variable.amount"}}]`
		}, schema.ErrCodeInvalidInstructions},
		{"msgs not array", func(d *schema.JobDefinition) {
			d.Msgs = `{"bank": {"send": {"amount": "$warp.variable.amount"}}}`
		}, schema.ErrCodeInvalidInstructions},
		{"msgs nameless placeholder", func(d *schema.JobDefinition) {
			d.Msgs = `[{"bank": {"send": {"amount": "$warp.variable.amount", "memo": "$warp.variable."}}}]`
		}, schema.ErrCodeInvalidInstructions},
	}
	jv := newJobValidator(t)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			def := validJob()
			tc.mutate(def)
			err := jv.ValidateJob(def)
			require.Error(t, err)
			assert.Equal(t, tc.code, schema.CodeOf(err), "got %v", err)
		})
	}
}

func TestJobValidator_StageOrder(t *testing.T) {
	jv := newJobValidator(t)

	// Duplicates and an invalid condition: the condition is checked first.
	def := validJob()
	def.Condition = "price >"
	def.Vars = "[" + priceVar + "," + priceVar + "]"
	assert.Equal(t, schema.ErrCodeInvalidCondition, schema.CodeOf(jv.ValidateJob(def)))

	// Missing and excess at once: missing is reported.
	def = validJob()
	def.Condition = "price > limit"
	r := jv.Validate(def)
	require.False(t, r.Valid())
	for _, issue := range r.Errors {
		assert.Equal(t, schema.ErrCodeVariablesMissing, issue.Code)
	}
}

func TestJobValidator_EmptyTerminateConditionSkipped(t *testing.T) {
	def := validJob()
	def.TerminateCondition = "  "
	assert.NoError(t, newJobValidator(t).ValidateJob(def))
}

func TestJobValidator_ReferencesInsideTextualOperands(t *testing.T) {
	def := validJob()
	def.Condition = `{"expr": {"left": {"expr": "price * 2"}, "op": "gt", "right": {"expr": "counter + 1"}}}`
	assert.NoError(t, newJobValidator(t).ValidateJob(def))
}

func TestJobValidator_WarnsUpdateOnReinitializingVariable(t *testing.T) {
	jv := newJobValidator(t)

	r := jv.Validate(validJob())
	assert.Empty(t, r.Warnings)

	def := validJob()
	def.Vars = "[" + priceVar + "," + amountVar + "," +
		`{"static": {"name": "counter", "kind": "uint", "init_fn": "0", "reinitialize": true, "update_fn": {"on_success": {"expr": "counter + 1"}}}}` + "]"
	r = jv.Validate(def)
	assert.True(t, r.Valid(), "a warning does not reject the job: %v", r.Errors)
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, schema.WarnUpdateFnOverridden, r.Warnings[0].Code)
	assert.Equal(t, "vars[2].update_fn", r.Warnings[0].Path)
	assert.Equal(t, schema.SeverityWarning, r.Warnings[0].Severity)
	assert.NoError(t, jv.ValidateJob(def))
}
