package expressions

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/apd/v3"

	"github.com/rendis/resolver/pkg/schema"
)

// Token is one placeholder occurrence in a template.
type Token struct {
	Name  string
	Start int // offset of the prefix
	End   int // offset one past the last name byte
}

func isNameByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' || c == '-'
}

// ScanPlaceholders returns every placeholder token in text, in order.
// A prefix with no name bytes after it yields a token with an empty Name.
func ScanPlaceholders(text string) []Token {
	var tokens []Token
	i := 0
	for {
		idx := strings.Index(text[i:], schema.VariablePrefix)
		if idx == -1 {
			return tokens
		}
		start := i + idx
		end := start + len(schema.VariablePrefix)
		for end < len(text) && isNameByte(text[end]) {
			end++
		}
		tokens = append(tokens, Token{Name: text[start+len(schema.VariablePrefix) : end], Start: start, End: end})
		i = end
	}
}

// References returns the distinct placeholder names used across texts, in
// first-seen order.
func References(texts ...string) []string {
	seen := map[string]bool{}
	var names []string
	for _, text := range texts {
		for _, tok := range ScanPlaceholders(text) {
			if !seen[tok.Name] {
				seen[tok.Name] = true
				names = append(names, tok.Name)
			}
		}
	}
	return names
}

// HasPlaceholder checks if text contains the placeholder prefix.
func HasPlaceholder(text string) bool {
	return strings.Contains(text, schema.VariablePrefix)
}

// aliasPrefix starts every identifier aliasSource introduces. Source text
// containing it is rejected so an alias never meets a user identifier.
const aliasPrefix = "__warp_"

// aliasSource rewrites text into a form the expression parsers accept and
// returns the alias -> operand mapping. Placeholder tokens become identifiers
// (names may contain '-') and fractional number literals become identifiers
// carrying their exact source digits, which a float64 literal would round.
func aliasSource(text string) (string, map[string]schema.Operand, error) {
	if strings.Contains(text, aliasPrefix) {
		return "", nil, schema.NewErrorf(schema.ErrCodeInvalidCondition,
			"identifier prefix %q is reserved", aliasPrefix)
	}
	aliases := make(map[string]schema.Operand)
	source, err := aliasPlaceholders(text, aliases)
	if err != nil {
		return "", nil, err
	}
	source, err = aliasNumbers(source, aliases)
	if err != nil {
		return "", nil, err
	}
	return source, aliases, nil
}

func aliasPlaceholders(text string, aliases map[string]schema.Operand) (string, error) {
	tokens := ScanPlaceholders(text)
	if len(tokens) == 0 {
		return text, nil
	}

	byName := make(map[string]string, len(tokens))
	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, tok := range tokens {
		if tok.Name == "" {
			return "", schema.NewErrorf(schema.ErrCodeInvalidCondition,
				"placeholder at offset %d has no variable name", tok.Start)
		}
		alias, ok := byName[tok.Name]
		if !ok {
			alias = aliasPrefix + "v" + strconv.Itoa(len(byName))
			byName[tok.Name] = alias
			aliases[alias] = schema.Ref(tok.Name)
		}
		b.WriteString(text[last:tok.Start])
		b.WriteString(alias)
		last = tok.End
	}
	b.WriteString(text[last:])
	return b.String(), nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || isDigit(c) || c == '_' || c == '$'
}

// aliasNumbers replaces literals of the form 12.5, 1.5e3 and 2e-4 outside
// string literals, plus integers too long for an int64. Shorter integers are
// left to the parsers, which read them exactly.
func aliasNumbers(text string, aliases map[string]schema.Operand) (string, error) {
	var b strings.Builder
	b.Grow(len(text))
	n := 0
	for i := 0; i < len(text); {
		c := text[i]
		switch {
		case c == '"' || c == '\'' || c == '`':
			end := skipString(text, i)
			b.WriteString(text[i:end])
			i = end
			continue
		case isDigit(c) && (i == 0 || !isIdentByte(text[i-1]) && text[i-1] != '.'):
			end, fractional := scanNumber(text, i)
			if !fractional && !longInteger(text[i:end]) {
				b.WriteString(text[i:end])
				i = end
				continue
			}
			exact, err := plainDecimal(text[i:end])
			if err != nil {
				return "", err
			}
			alias := aliasPrefix + "n" + strconv.Itoa(n)
			n++
			aliases[alias] = schema.Lit(exact)
			b.WriteString(alias)
			i = end
			continue
		}
		b.WriteByte(c)
		i++
	}
	return b.String(), nil
}

func longInteger(lit string) bool {
	if len(lit) <= 18 {
		return false
	}
	for i := 0; i < len(lit); i++ {
		if !isDigit(lit[i]) {
			return false
		}
	}
	return true
}

// skipString returns the offset one past the string literal opened at i, or
// len(text) when it is unterminated.
func skipString(text string, i int) int {
	quote := text[i]
	for j := i + 1; j < len(text); j++ {
		switch text[j] {
		case '\\':
			j++
		case quote:
			return j + 1
		}
	}
	return len(text)
}

// scanNumber reads the numeric token starting at i. A token running into
// identifier bytes (0x1F, 2u, 1e5x) is returned whole and never fractional.
func scanNumber(text string, i int) (end int, fractional bool) {
	j := i
	for j < len(text) && isDigit(text[j]) {
		j++
	}
	if j+1 < len(text) && text[j] == '.' && isDigit(text[j+1]) {
		fractional = true
		j++
		for j < len(text) && isDigit(text[j]) {
			j++
		}
	}
	if j < len(text) && (text[j] == 'e' || text[j] == 'E') {
		k := j + 1
		if k < len(text) && (text[k] == '+' || text[k] == '-') {
			k++
		}
		if k < len(text) && isDigit(text[k]) {
			fractional = true
			for k < len(text) && isDigit(text[k]) {
				k++
			}
			j = k
		}
	}
	if j < len(text) && isIdentByte(text[j]) {
		for j < len(text) && isIdentByte(text[j]) {
			j++
		}
		return j, false
	}
	return j, fractional
}

// plainDecimal rewrites a number literal without an exponent, keeping every digit.
func plainDecimal(lit string) (string, error) {
	if !strings.ContainsAny(lit, "eE") {
		return lit, nil
	}
	d, _, err := apd.NewFromString(lit)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeInvalidCondition, "invalid number literal %q", lit).WithCause(err)
	}
	return d.Text('f'), nil
}
