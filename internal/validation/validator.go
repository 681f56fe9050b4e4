package validation

import "github.com/rendis/resolver/pkg/schema"

// Validator checks job definitions before they are accepted.
// Uses JSON Schema Draft 2020-12 for the serialized variable and instruction lists.
type Validator interface {
	ValidateJob(def *schema.JobDefinition) error
}

var _ Validator = (*JobValidator)(nil)
