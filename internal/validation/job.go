package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rendis/resolver/internal/expressions"
	"github.com/rendis/resolver/pkg/schema"
	"github.com/rendis/resolver/pkg/value"
)

// JobValidator runs the job-creation pipeline. Stages run in a fixed order
// and the first stage that reports errors stops the pipeline:
//  1. condition, then termination condition
//  2. variable list (JSON Schema, then decoding)
//  3. each variable's own structure and functions
//  4. duplicate names
//  5. placeholders without a declaration
//  6. declarations without a placeholder
//  7. instruction templates
type JobValidator struct {
	jsonSchema *JSONSchemaValidator
	cel        *expressions.CELCompiler
	exprs      *expressions.ExprCompiler
	selector   *expressions.Selector
	interp     *expressions.Interpolator
}

// NewJobValidator creates a JobValidator sharing the given compilers.
func NewJobValidator(cel *expressions.CELCompiler, exprs *expressions.ExprCompiler) (*JobValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &JobValidator{
		jsonSchema: jsv,
		cel:        cel,
		exprs:      exprs,
		selector:   expressions.NewSelector(),
		interp:     expressions.NewInterpolator(),
	}, nil
}

// Validate runs the pipeline and returns the issues of the first failing stage.
func (jv *JobValidator) Validate(def *schema.JobDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if def == nil {
		result.AddError("/", schema.ErrCodeValidation, "job definition is nil")
		return result
	}

	var used []located

	// Stage 1: conditions.
	names, ok := jv.conditionRefs("condition", def.Condition, result)
	if !ok {
		return result
	}
	used = append(used, located{path: "condition", names: names})

	if strings.TrimSpace(def.TerminateCondition) != "" {
		names, ok := jv.conditionRefs("terminate_condition", def.TerminateCondition, result)
		if !ok {
			return result
		}
		used = append(used, located{path: "terminate_condition", names: names})
	}

	// Stage 2: variable list.
	vars, ok := jv.parseVariables(def.Vars, result)
	if !ok {
		return result
	}

	// Stage 3: per-variable structure.
	for i := range vars {
		jv.validateVariable(fmt.Sprintf("vars[%d]", i), &vars[i], result)
	}
	if !result.Valid() {
		return result
	}

	// Stage 4: duplicates.
	if result.Merge(validateDuplicates(vars)); !result.Valid() {
		return result
	}

	// Stage 5 and 6: references in both directions.
	used = append(used, located{path: "msgs", names: expressions.References(def.Msgs)})
	if result.Merge(validateMissing(vars, used)); !result.Valid() {
		return result
	}
	if result.Merge(jv.validateVariableRefs(vars)); !result.Valid() {
		return result
	}
	if result.Merge(validateExcess(vars, used)); !result.Valid() {
		return result
	}

	// Stage 7: instructions.
	jv.validateInstructions(def.Msgs, result)
	return result
}

// ValidateJob satisfies the Validator interface.
func (jv *JobValidator) ValidateJob(def *schema.JobDefinition) error {
	return jv.Validate(def).ToError()
}

func (jv *JobValidator) conditionRefs(path, text string, result *schema.ValidationResult) ([]string, bool) {
	cond, err := jv.cel.ParseCondition(text)
	if err != nil {
		result.AddError(path, schema.ErrCodeInvalidCondition, messageOf(err))
		return nil, false
	}
	names, err := jv.exprs.ConditionReferences(cond)
	if err != nil {
		result.AddError(path, schema.ErrCodeInvalidCondition, messageOf(err))
		return nil, false
	}
	return names, true
}

func (jv *JobValidator) parseVariables(text string, result *schema.ValidationResult) ([]schema.Variable, bool) {
	if strings.TrimSpace(text) == "" {
		return []schema.Variable{}, true
	}
	if err := jv.jsonSchema.ValidateVariables(text); err != nil {
		addViolations(result, "vars", schema.ErrCodeInvalidVariables, err)
		return nil, false
	}
	vars, err := schema.ParseVariables(text)
	if err != nil {
		result.AddError("vars", schema.ErrCodeInvalidVariables, messageOf(err))
		return nil, false
	}
	return vars, true
}

// validateVariable checks one variable's structure, its functions and, for
// literal initial values, that the literal fits the declared kind.
func (jv *JobValidator) validateVariable(path string, v *schema.Variable, result *schema.ValidationResult) {
	if err := v.Validate(); err != nil {
		result.AddError(path, schema.ErrCodeInvalidVariables, messageOf(err))
		return
	}

	base := v.Base()
	switch {
	case v.Static != nil:
		jv.validateFunction(path+".init_fn", &v.Static.InitFn, result)
		if lit := v.Static.InitFn.Literal; lit != nil {
			kind := lit.Kind
			if kind == "" {
				kind = base.Kind
			}
			if _, err := value.Parse(lit.Text, kind); err != nil {
				result.AddError(path+".init_fn", schema.ErrCodeInvalidVariables,
					fmt.Sprintf("initial value does not fit kind %s: %s", kind, messageOf(err)))
			}
		}
	case v.Query != nil:
		if err := jv.selector.Check(v.Query.InitFn.Selector); err != nil {
			result.AddError(path+".init_fn.selector", schema.ErrCodeInvalidVariables, messageOf(err))
		}
	case v.External != nil:
		if sel := v.External.InitFn.Selector; sel != "" {
			if err := jv.selector.Check(sel); err != nil {
				result.AddError(path+".init_fn.selector", schema.ErrCodeInvalidVariables, messageOf(err))
			}
		}
	}

	if base.Value != nil {
		if _, err := value.Parse(*base.Value, base.Kind); err != nil {
			result.AddError(path+".value", schema.ErrCodeInvalidVariables, messageOf(err))
		}
	}
	if fns := base.UpdateFn; fns != nil {
		if fns.OnSuccess != nil {
			jv.validateFunction(path+".update_fn.on_success", fns.OnSuccess, result)
		}
		if fns.OnError != nil {
			jv.validateFunction(path+".update_fn.on_error", fns.OnError, result)
		}
		// HydrateVars re-resolves reinitializing variables, discarding the update.
		if base.Reinitialize && (fns.OnSuccess != nil || fns.OnError != nil) {
			result.AddWarning(path+".update_fn", schema.WarnUpdateFnOverridden,
				"update_fn has no effect: reinitialize re-resolves the variable every cycle")
		}
	}
}

func (jv *JobValidator) validateFunction(path string, o *schema.Operand, result *schema.ValidationResult) {
	if err := schema.CheckOperand(o); err != nil {
		result.AddError(path, schema.ErrCodeInvalidVariables, messageOf(err))
		return
	}
	if _, err := jv.exprs.OperandReferences(o); err != nil {
		result.AddError(path, schema.ErrCodeInvalidVariables, messageOf(err))
	}
}

// validateVariableRefs checks that init and update functions only read
// declared variables.
func (jv *JobValidator) validateVariableRefs(vars []schema.Variable) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	declared := declaredNames(vars)
	check := func(path string, o *schema.Operand) {
		names, _ := jv.exprs.OperandReferences(o)
		for _, name := range names {
			if !declared[name] {
				result.AddError(path, schema.ErrCodeInvalidVariables,
					fmt.Sprintf("function reads undeclared variable %q", name))
			}
		}
	}
	for i := range vars {
		path := fmt.Sprintf("vars[%d]", i)
		if s := vars[i].Static; s != nil {
			check(path+".init_fn", &s.InitFn)
		}
		if fns := vars[i].Base().UpdateFn; fns != nil {
			if fns.OnSuccess != nil {
				check(path+".update_fn.on_success", fns.OnSuccess)
			}
			if fns.OnError != nil {
				check(path+".update_fn.on_error", fns.OnError)
			}
		}
	}
	return result
}

// validateInstructions checks the templates with every placeholder replaced by null.
func (jv *JobValidator) validateInstructions(msgs string, result *schema.ValidationResult) {
	stripped, err := jv.interp.Strip(msgs)
	if err != nil {
		result.AddError("msgs", schema.ErrCodeInvalidInstructions, messageOf(err))
		return
	}
	if !json.Valid([]byte(stripped)) {
		result.AddError("msgs", schema.ErrCodeInvalidInstructions, "msgs are not valid JSON")
		return
	}
	if err := jv.jsonSchema.ValidateInstructions(stripped); err != nil {
		addViolations(result, "msgs", schema.ErrCodeInvalidInstructions, err)
	}
}

// addViolations records each schema violation as its own issue.
func addViolations(result *schema.ValidationResult, path, code string, err error) {
	var rerr *schema.ResolverError
	if errors.As(err, &rerr) && rerr.Details != nil {
		if violations, ok := rerr.Details["violations"].([]string); ok {
			for _, v := range violations {
				result.AddError(path, code, v)
			}
			return
		}
	}
	result.AddError(path, code, messageOf(err))
}

// messageOf returns the bare message of a ResolverError, or err.Error().
func messageOf(err error) string {
	var rerr *schema.ResolverError
	if errors.As(err, &rerr) {
		return rerr.Message
	}
	return err.Error()
}
