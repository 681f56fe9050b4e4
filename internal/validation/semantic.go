package validation

import (
	"fmt"

	"github.com/rendis/resolver/pkg/schema"
)

// validateDuplicates reports every variable name declared more than once.
func validateDuplicates(vars []schema.Variable) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	seen := make(map[string]int, len(vars))
	for i := range vars {
		name := vars[i].Name()
		if first, dup := seen[name]; dup {
			result.AddError(fmt.Sprintf("vars[%d].name", i), schema.ErrCodeVariablesDuplicates,
				fmt.Sprintf("variable %q already declared at vars[%d]", name, first))
			continue
		}
		seen[name] = i
	}
	return result
}

// validateMissing reports placeholders whose variable is not declared.
// used maps a location (condition, msgs, ...) to the names found there.
func validateMissing(vars []schema.Variable, used []located) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	declared := declaredNames(vars)
	reported := map[string]bool{}
	for _, u := range used {
		for _, name := range u.names {
			if name == "" || declared[name] || reported[name] {
				continue
			}
			reported[name] = true
			result.AddError(u.path, schema.ErrCodeVariablesMissing,
				fmt.Sprintf("%s is not declared", schema.Placeholder(name)))
		}
	}
	return result
}

// validateExcess reports declared variables that no template references.
func validateExcess(vars []schema.Variable, used []located) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	referenced := map[string]bool{}
	for _, u := range used {
		for _, name := range u.names {
			referenced[name] = true
		}
	}
	for i := range vars {
		if name := vars[i].Name(); !referenced[name] {
			result.AddError(fmt.Sprintf("vars[%d]", i), schema.ErrCodeExcessVariables,
				fmt.Sprintf("variable %q is declared but never referenced", name))
		}
	}
	return result
}

// located is a set of variable names found at one place of the job.
type located struct {
	path  string
	names []string
}

func declaredNames(vars []schema.Variable) map[string]bool {
	names := make(map[string]bool, len(vars))
	for i := range vars {
		names[vars[i].Name()] = true
	}
	return names
}
