package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	// Validation: job definition rejected at creation time.
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeInvalidVariables    = "INVALID_VARIABLES"
	ErrCodeVariablesDuplicates = "VARIABLES_CONTAIN_DUPLICATES"
	ErrCodeVariablesMissing    = "VARIABLES_MISSING_FROM_TEMPLATES"
	ErrCodeExcessVariables     = "EXCESS_VARIABLES_IN_TEMPLATES"
	ErrCodeInvalidInstructions = "INVALID_INSTRUCTIONS"
	ErrCodeInvalidCondition    = "INVALID_CONDITION"
	ErrCodeInvalidFunction     = "INVALID_FUNCTION"
	ErrCodeInvalidStatus       = "INVALID_STATUS"

	// Resolution: deriving a variable's value failed.
	ErrCodeQueryFailed          = "QUERY_FAILED"
	ErrCodeSelectorNotFound     = "SELECTOR_NOT_FOUND"
	ErrCodeTypeConversionFailed = "TYPE_CONVERSION_FAILED"
	ErrCodeMissingExternalInput = "MISSING_EXTERNAL_INPUT"

	// Evaluation: condition or function evaluation failed.
	ErrCodeUnknownVariable     = "UNKNOWN_VARIABLE"
	ErrCodeTypeMismatch        = "TYPE_MISMATCH"
	ErrCodeUnsupportedFunction = "UNSUPPORTED_FUNCTION"
	ErrCodeDivisionByZero      = "DIVISION_BY_ZERO"
	ErrCodeOverflow            = "OVERFLOW"
	ErrCodeUnderflow           = "UNDERFLOW"
	ErrCodeParse               = "PARSE_ERROR"
	ErrCodeUpdateFailed        = "UPDATE_FAILED"

	// Template: substitution produced unusable text.
	ErrCodeUnresolvedVariable = "UNRESOLVED_VARIABLE"
	ErrCodeTemplate           = "TEMPLATE_ERROR"

	ErrCodeStore = "STORE_ERROR"
)

// Category groups error codes by the stage that produced them.
type Category string

const (
	CategoryValidation Category = "validation"
	CategoryResolution Category = "resolution"
	CategoryEvaluation Category = "evaluation"
	CategoryTemplate   Category = "template"
	CategoryInternal   Category = "internal"
)

var codeCategories = map[string]Category{
	ErrCodeValidation:          CategoryValidation,
	ErrCodeInvalidVariables:    CategoryValidation,
	ErrCodeVariablesDuplicates: CategoryValidation,
	ErrCodeVariablesMissing:    CategoryValidation,
	ErrCodeExcessVariables:     CategoryValidation,
	ErrCodeInvalidInstructions: CategoryValidation,
	ErrCodeInvalidCondition:    CategoryValidation,
	ErrCodeInvalidFunction:     CategoryValidation,
	ErrCodeInvalidStatus:       CategoryValidation,

	ErrCodeQueryFailed:          CategoryResolution,
	ErrCodeSelectorNotFound:     CategoryResolution,
	ErrCodeTypeConversionFailed: CategoryResolution,
	ErrCodeMissingExternalInput: CategoryResolution,

	ErrCodeUnknownVariable:     CategoryEvaluation,
	ErrCodeTypeMismatch:        CategoryEvaluation,
	ErrCodeUnsupportedFunction: CategoryEvaluation,
	ErrCodeDivisionByZero:      CategoryEvaluation,
	ErrCodeOverflow:            CategoryEvaluation,
	ErrCodeUnderflow:           CategoryEvaluation,
	ErrCodeParse:               CategoryEvaluation,
	ErrCodeUpdateFailed:        CategoryEvaluation,

	ErrCodeUnresolvedVariable: CategoryTemplate,
	ErrCodeTemplate:           CategoryTemplate,
}

// ResolverError is the structured error type for all resolver operations.
type ResolverError struct {
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Details  map[string]any `json:"details,omitempty"`
	Variable string         `json:"variable,omitempty"`
	Cause    error          `json:"-"`
}

func (e *ResolverError) Error() string {
	if e.Variable != "" {
		return fmt.Sprintf("[%s] variable %s: %s", e.Code, e.Variable, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *ResolverError) Unwrap() error {
	return e.Cause
}

// Category reports which stage produced the error.
func (e *ResolverError) Category() Category {
	if c, ok := codeCategories[e.Code]; ok {
		return c
	}
	return CategoryInternal
}

// NewError creates a new ResolverError.
func NewError(code, message string) *ResolverError {
	return &ResolverError{Code: code, Message: message}
}

// NewErrorf creates a new ResolverError with a formatted message.
func NewErrorf(code, format string, args ...any) *ResolverError {
	return &ResolverError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithVariable attaches the name of the variable being processed.
func (e *ResolverError) WithVariable(name string) *ResolverError {
	e.Variable = name
	return e
}

// WithCause attaches an underlying cause.
func (e *ResolverError) WithCause(err error) *ResolverError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *ResolverError) WithDetails(details map[string]any) *ResolverError {
	e.Details = details
	return e
}

// CodeOf returns the code of the first ResolverError in err's chain, or "".
func CodeOf(err error) string {
	var rerr *ResolverError
	if errors.As(err, &rerr) {
		return rerr.Code
	}
	return ""
}

// IsCode reports whether err carries the given error code.
func IsCode(err error, code string) bool {
	return CodeOf(err) == code
}
