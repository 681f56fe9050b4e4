package expressions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/rendis/resolver/pkg/schema"
)

// JQPrefix marks a selector that is evaluated as a jq program.
const JQPrefix = "jq:"

// pathSegment is one step of a path selector: a field name or an array index.
type pathSegment struct {
	field string
	index int
	isIdx bool
}

func (s pathSegment) String() string {
	if s.isIdx {
		return "[" + strconv.Itoa(s.index) + "]"
	}
	return s.field
}

// parsePath splits a selector such as "$.balances[0].amount" into segments.
// A leading "$" or "$." is optional; an empty selector selects the root.
func parsePath(selector string) ([]pathSegment, error) {
	p := strings.TrimPrefix(selector, "$")
	p = strings.TrimPrefix(p, ".")

	var segs []pathSegment
	for len(p) > 0 {
		switch p[0] {
		case '[':
			end := strings.IndexByte(p, ']')
			if end < 0 {
				return nil, invalidSelector(selector, "unclosed '['")
			}
			n, err := strconv.Atoi(p[1:end])
			if err != nil || n < 0 {
				return nil, invalidSelector(selector, "array index must be a non-negative integer")
			}
			segs = append(segs, pathSegment{index: n, isIdx: true})
			p = p[end+1:]
			if strings.HasPrefix(p, ".") {
				p = p[1:]
				if p == "" {
					return nil, invalidSelector(selector, "trailing '.'")
				}
			}
		case '.':
			return nil, invalidSelector(selector, "empty field name")
		default:
			end := strings.IndexAny(p, ".[")
			if end < 0 {
				end = len(p)
			}
			segs = append(segs, pathSegment{field: p[:end]})
			p = p[end:]
			if strings.HasPrefix(p, ".") {
				p = p[1:]
				if p == "" {
					return nil, invalidSelector(selector, "trailing '.'")
				}
			}
		}
	}
	return segs, nil
}

func invalidSelector(selector, reason string) *schema.ResolverError {
	return schema.NewErrorf(schema.ErrCodeInvalidVariables, "invalid selector %q: %s", selector, reason).
		WithDetails(map[string]any{"selector": selector})
}

// PathEngine implements the Engine interface for dot/index path selectors.
type PathEngine struct{}

// Name returns the engine identifier.
func (PathEngine) Name() string {
	return "path"
}

// Evaluate walks selector into data. The first missing segment yields
// SELECTOR_NOT_FOUND naming the segment and the keys that were available.
func (PathEngine) Evaluate(_ context.Context, selector string, data any) (any, error) {
	segs, err := parsePath(selector)
	if err != nil {
		return nil, err
	}
	return traversePath(data, segs, selector)
}

// traversePath navigates into nested maps/slices.
func traversePath(root any, segs []pathSegment, selector string) (any, error) {
	current := root
	for i, seg := range segs {
		at := pathString(segs[:i+1])
		switch v := current.(type) {
		case map[string]any:
			if seg.isIdx {
				return nil, notFound(selector, at, "cannot index into an object")
			}
			val, ok := v[seg.field]
			if !ok {
				keys := slices.Sorted(maps.Keys(v))
				return nil, notFound(selector, at, "field not found").
					WithDetails(map[string]any{"selector": selector, "segment": at, "available_fields": keys})
			}
			current = val
		case []any:
			if !seg.isIdx {
				return nil, notFound(selector, at, "cannot select a field from an array")
			}
			if seg.index >= len(v) {
				return nil, notFound(selector, at, "index out of range (length "+strconv.Itoa(len(v))+")")
			}
			current = v[seg.index]
		default:
			return nil, notFound(selector, at, "cannot traverse into a scalar")
		}
	}
	return current, nil
}

func pathString(segs []pathSegment) string {
	var b strings.Builder
	for i, s := range segs {
		if i > 0 && !s.isIdx {
			b.WriteByte('.')
		}
		b.WriteString(s.String())
	}
	return b.String()
}

func notFound(selector, at, reason string) *schema.ResolverError {
	return schema.NewErrorf(schema.ErrCodeSelectorNotFound, "selector %q: %s at %q", selector, reason, at).
		WithDetails(map[string]any{"selector": selector, "segment": at})
}

var _ Engine = PathEngine{}

// Selector routes a selector to the path walker or, when prefixed with "jq:",
// to the jq engine.
type Selector struct {
	path PathEngine
	jq   *GoJQEngine
}

// NewSelector creates a Selector with its own jq program cache.
func NewSelector() *Selector {
	return &Selector{jq: NewGoJQEngine()}
}

// Select decodes doc and extracts the node addressed by selector.
func (s *Selector) Select(ctx context.Context, selector string, doc json.RawMessage) (any, error) {
	data, err := DecodeJSON(doc)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeQueryFailed, "query response is not valid JSON").WithCause(err)
	}
	return s.engine(selector).Evaluate(ctx, strings.TrimPrefix(selector, JQPrefix), data)
}

// Check validates selector syntax without evaluating it.
func (s *Selector) Check(selector string) error {
	if jq, ok := strings.CutPrefix(selector, JQPrefix); ok {
		return s.jq.Check(jq)
	}
	_, err := parsePath(selector)
	return err
}

func (s *Selector) engine(selector string) Engine {
	if strings.HasPrefix(selector, JQPrefix) {
		return s.jq
	}
	return s.path
}

// DecodeJSON decodes a document keeping numbers as json.Number.
func DecodeJSON(doc []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after JSON document")
	}
	return out, nil
}
