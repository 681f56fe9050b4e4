package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// VariablePrefix is the reserved token that introduces a variable placeholder
// in conditions and instruction templates: $warp.variable.<name>.
const VariablePrefix = "$warp.variable."

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// IsValidName reports whether name can be used as a variable name.
func IsValidName(name string) bool {
	return namePattern.MatchString(name)
}

// Placeholder returns the placeholder token for a variable name.
func Placeholder(name string) string {
	return VariablePrefix + name
}

// Kind is the declared type of a variable or literal.
type Kind string

const (
	KindString      Kind = "string"
	KindUint        Kind = "uint"
	KindInt         Kind = "int"
	KindDecimal     Kind = "decimal"
	KindBool        Kind = "bool"
	KindAmount      Kind = "amount"
	KindAsset       Kind = "asset"
	KindTimestamp   Kind = "timestamp"
	KindBlockHeight Kind = "block_height"
	KindJSON        Kind = "json"
)

// Kinds lists every supported kind in declaration order.
var Kinds = []Kind{
	KindString, KindUint, KindInt, KindDecimal, KindBool,
	KindAmount, KindAsset, KindTimestamp, KindBlockHeight, KindJSON,
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Numeric reports whether values of kind k support arithmetic.
func (k Kind) Numeric() bool {
	switch k {
	case KindUint, KindInt, KindDecimal, KindAmount, KindTimestamp, KindBlockHeight:
		return true
	}
	return false
}

// Integral reports whether k is a numeric kind backed by an integer.
func (k Kind) Integral() bool {
	return k.Numeric() && k != KindDecimal
}

// Source identifies where a variable's value comes from.
type Source string

const (
	SourceStatic   Source = "static"
	SourceExternal Source = "external"
	SourceQuery    Source = "query"
)

// UpdateFn holds the expressions applied after a job executes.
// OnSuccess runs for executed jobs, OnError for failed ones.
type UpdateFn struct {
	OnSuccess *Operand `json:"on_success,omitempty"`
	OnError   *Operand `json:"on_error,omitempty"`
}

// VariableBase carries the fields shared by every variable source.
type VariableBase struct {
	Kind         Kind      `json:"kind"`
	Name         string    `json:"name"`
	Encode       bool      `json:"encode"`
	Reinitialize bool      `json:"reinitialize"`
	Value        *string   `json:"value,omitempty"` // nil until resolved
	UpdateFn     *UpdateFn `json:"update_fn,omitempty"`
}

// StaticVariable is initialised from a literal or function value.
type StaticVariable struct {
	VariableBase
	InitFn Operand `json:"init_fn"`
}

// ExternalExpr describes where an off-chain input is fetched from. The engine
// never performs the fetch; the caller supplies the result as an ExternalInput.
type ExternalExpr struct {
	URL      string            `json:"url"`
	Method   string            `json:"method,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
	Body     string            `json:"body,omitempty"`
	Selector string            `json:"selector"`
}

// ExternalVariable is initialised from a caller-supplied input.
type ExternalVariable struct {
	VariableBase
	InitFn ExternalExpr `json:"init_fn"`
}

// QueryExpr is a state query plus the selector extracting a value from its response.
type QueryExpr struct {
	Selector string          `json:"selector"`
	Query    json.RawMessage `json:"query"`
}

// QueryVariable is initialised from a live state query.
type QueryVariable struct {
	VariableBase
	InitFn QueryExpr `json:"init_fn"`
}

// Variable is the tagged union of the three variable sources.
// Exactly one field is non-nil.
type Variable struct {
	Static   *StaticVariable   `json:"static,omitempty"`
	External *ExternalVariable `json:"external,omitempty"`
	Query    *QueryVariable    `json:"query,omitempty"`
}

// Source returns the variable's source, or "" for an empty variable.
func (v *Variable) Source() Source {
	switch {
	case v.Static != nil:
		return SourceStatic
	case v.External != nil:
		return SourceExternal
	case v.Query != nil:
		return SourceQuery
	}
	return ""
}

// Base returns the shared fields of whichever variant is set.
func (v *Variable) Base() *VariableBase {
	switch {
	case v.Static != nil:
		return &v.Static.VariableBase
	case v.External != nil:
		return &v.External.VariableBase
	case v.Query != nil:
		return &v.Query.VariableBase
	}
	return nil
}

// Name returns the variable name.
func (v *Variable) Name() string {
	if b := v.Base(); b != nil {
		return b.Name
	}
	return ""
}

// Kind returns the declared kind.
func (v *Variable) Kind() Kind {
	if b := v.Base(); b != nil {
		return b.Kind
	}
	return ""
}

// Resolved reports whether the variable carries a cached value.
func (v *Variable) Resolved() bool {
	b := v.Base()
	return b != nil && b.Value != nil
}

// Validate checks the variable's own structure. It does not check references
// to other variables.
func (v *Variable) Validate() error {
	set := 0
	if v.Static != nil {
		set++
	}
	if v.External != nil {
		set++
	}
	if v.Query != nil {
		set++
	}
	if set != 1 {
		return NewErrorf(ErrCodeInvalidVariables,
			"variable must set exactly one of static, external, query (got %d)", set)
	}

	b := v.Base()
	if !IsValidName(b.Name) {
		return NewErrorf(ErrCodeInvalidVariables,
			"invalid variable name %q: allowed characters are letters, digits, '_' and '-'", b.Name)
	}
	if !b.Kind.Valid() {
		return NewErrorf(ErrCodeInvalidVariables, "unknown kind %q", b.Kind).WithVariable(b.Name)
	}

	switch {
	case v.Static != nil:
		if v.Static.InitFn.IsZero() {
			return NewError(ErrCodeInvalidVariables, "static variable requires init_fn").WithVariable(b.Name)
		}
	case v.External != nil:
		u, err := url.Parse(v.External.InitFn.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return NewErrorf(ErrCodeInvalidVariables,
				"external init_fn url %q must be an absolute http(s) url", v.External.InitFn.URL).WithVariable(b.Name)
		}
		if m := strings.ToUpper(v.External.InitFn.Method); m != "" && m != "GET" && m != "POST" {
			return NewErrorf(ErrCodeInvalidVariables,
				"external init_fn method %q must be GET or POST", v.External.InitFn.Method).WithVariable(b.Name)
		}
	case v.Query != nil:
		q := bytes.TrimSpace(v.Query.InitFn.Query)
		if len(q) == 0 || !json.Valid(q) {
			return NewError(ErrCodeInvalidVariables, "query init_fn requires a JSON query request").WithVariable(b.Name)
		}
	}
	return nil
}

// ParseVariables decodes a serialized variable list.
func ParseVariables(text string) ([]Variable, error) {
	if strings.TrimSpace(text) == "" {
		return []Variable{}, nil
	}
	var vars []Variable
	dec := json.NewDecoder(strings.NewReader(text))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&vars); err != nil {
		return nil, NewErrorf(ErrCodeInvalidVariables, "vars input invalid: %s", err.Error()).WithCause(err)
	}
	if dec.More() {
		return nil, NewError(ErrCodeInvalidVariables, "vars input invalid: trailing data after variable list")
	}
	return vars, nil
}

// MarshalVariables serializes a variable list to its text form.
func MarshalVariables(vars []Variable) (string, error) {
	if vars == nil {
		vars = []Variable{}
	}
	b, err := json.Marshal(vars)
	if err != nil {
		return "", fmt.Errorf("marshal variables: %w", err)
	}
	return string(b), nil
}

// ExternalInput is a caller-supplied value for an external variable.
type ExternalInput struct {
	Name  string `json:"name"`
	Input string `json:"input"`
}
