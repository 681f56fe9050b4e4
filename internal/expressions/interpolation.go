package expressions

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/rendis/resolver/pkg/schema"
)

// Substitution is what one placeholder is replaced with.
type Substitution struct {
	// JSON is the typed JSON fragment used when the placeholder stands for a
	// whole value: a bare token, or a string holding nothing but the token.
	JSON []byte
	// Text is spliced (JSON-escaped) when the token is embedded in a longer string.
	Text string
}

// Lookup resolves a placeholder name to its substitution.
type Lookup func(name string) (Substitution, error)

// nullLookup stands in for every variable during the validation pass.
func nullLookup(string) (Substitution, error) {
	return Substitution{JSON: []byte("null")}, nil
}

// Interpolator replaces $warp.variable.<name> tokens inside JSON text.
//
// The scan tracks JSON string state so that
//
//	"$warp.variable.amount"        -> "100" (typed JSON form, quotes included)
//	"send $warp.variable.amount"   -> "send 100" (escaped text)
//	$warp.variable.flag            -> true (typed JSON form)
type Interpolator struct{}

// NewInterpolator creates a new Interpolator.
func NewInterpolator() *Interpolator {
	return &Interpolator{}
}

// Resolve substitutes every placeholder in input. The result must be valid
// JSON with no placeholder prefix left; otherwise it fails with TEMPLATE_ERROR.
func (interp *Interpolator) Resolve(input string, lookup Lookup) (string, error) {
	out, err := interp.resolvePass(input, lookup)
	if err != nil {
		return "", err
	}

	if HasPlaceholder(out) {
		return "", schema.NewError(schema.ErrCodeTemplate,
			"placeholder prefix remains after substitution").
			WithDetails(map[string]any{"residual": residualTokens(out)})
	}
	if !json.Valid([]byte(out)) {
		return "", schema.NewError(schema.ErrCodeTemplate, "template is not valid JSON after substitution")
	}
	return out, nil
}

// Strip replaces every placeholder with null (or an empty splice inside
// strings) so the template's own syntax can be checked before any variable
// is resolved.
func (interp *Interpolator) Strip(input string) (string, error) {
	return interp.resolvePass(input, nullLookup)
}

// resolvePass scans input once, copying it to the output and substituting
// tokens as they are found.
func (interp *Interpolator) resolvePass(input string, lookup Lookup) (string, error) {
	var result bytes.Buffer
	result.Grow(len(input))

	inString := false
	escaped := false
	stringStart := -1

	i := 0
	for i < len(input) {
		if strings.HasPrefix(input[i:], schema.VariablePrefix) {
			end := i + len(schema.VariablePrefix)
			for end < len(input) && isNameByte(input[end]) {
				end++
			}
			name := input[i+len(schema.VariablePrefix) : end]
			if name == "" {
				return "", schema.NewErrorf(schema.ErrCodeTemplate,
					"placeholder at offset %d has no variable name", i)
			}

			sub, err := lookup(name)
			if err != nil {
				return "", err
			}

			switch {
			case inString && stringStart == i-1 && end < len(input) && input[end] == '"':
				// The string is exactly the token: drop the opening quote
				// already written and emit the typed value.
				result.Truncate(result.Len() - 1)
				result.Write(sub.JSON)
				inString = false
				end++
			case inString:
				result.WriteString(escapeJSONText(sub.Text))
			default:
				result.Write(sub.JSON)
			}
			i = end
			continue
		}

		c := input[i]
		switch {
		case inString && escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case inString && c == '"':
			inString = false
		case !inString && c == '"':
			inString = true
			stringStart = i
		}
		result.WriteByte(c)
		i++
	}

	return result.String(), nil
}

// escapeJSONText escapes s for use inside a JSON string literal.
func escapeJSONText(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s) // strings always encode
	quoted := strings.TrimSuffix(buf.String(), "\n")
	return quoted[1 : len(quoted)-1]
}

func residualTokens(s string) []string {
	var names []string
	for _, tok := range ScanPlaceholders(s) {
		names = append(names, schema.Placeholder(tok.Name))
	}
	return names
}
