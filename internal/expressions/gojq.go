package expressions

import (
	"context"
	"sync"

	"github.com/itchyny/gojq"

	"github.com/rendis/resolver/pkg/schema"
)

// GoJQEngine implements the Engine interface using GoJQ. It evaluates the
// jq: form of query selectors against query responses.
// Thread-safe: compiled *Code objects are cached and reused across goroutines.
type GoJQEngine struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// NewGoJQEngine creates a new GoJQ expression engine.
func NewGoJQEngine() *GoJQEngine {
	return &GoJQEngine{
		cache: make(map[string]*gojq.Code),
	}
}

// Name returns the engine identifier.
func (e *GoJQEngine) Name() string {
	return "jq"
}

// Evaluate compiles (or retrieves from cache) a jq expression and runs it
// against data. data should come from encoding/json with UseNumber so large
// integers survive as *big.Int.
//
// One output is returned directly, several are collected into []any. No output
// at all is a SELECTOR_NOT_FOUND.
func (e *GoJQEngine) Evaluate(ctx context.Context, expression string, data any) (any, error) {
	results, err := e.EvaluateAll(ctx, expression, data)
	if err != nil {
		return nil, err
	}

	switch len(results) {
	case 0:
		return nil, schema.NewErrorf(schema.ErrCodeSelectorNotFound,
			"jq selector %q produced no output", expression).
			WithDetails(map[string]any{"selector": expression})
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

// EvaluateAll is like Evaluate but always returns a slice of all outputs,
// even if there is only one or zero results.
func (e *GoJQEngine) EvaluateAll(ctx context.Context, expression string, data any) ([]any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeSelectorNotFound, "empty jq selector")
	}

	code, err := e.getOrCompile(expression)
	if err != nil {
		return nil, err
	}

	iter := code.RunWithContext(ctx, data)

	var results []any
	for {
		val, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := val.(error); isErr {
			return nil, schema.NewErrorf(schema.ErrCodeSelectorNotFound,
				"jq evaluation failed for %q: %s", expression, err.Error()).
				WithCause(err).
				WithDetails(map[string]any{"selector": expression})
		}
		results = append(results, val)
	}

	return results, nil
}

// Check compiles the expression without running it.
func (e *GoJQEngine) Check(expression string) error {
	_, err := e.getOrCompile(expression)
	return err
}

// getOrCompile returns a cached compiled code or compiles and caches a new one.
func (e *GoJQEngine) getOrCompile(expression string) (*gojq.Code, error) {
	e.mu.RLock()
	if code, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return code, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check after acquiring write lock.
	if code, ok := e.cache[expression]; ok {
		return code, nil
	}

	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidVariables,
			"jq parse error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"selector": expression})
	}

	code, err := gojq.Compile(query,
		// Sandbox: return empty env to block $ENV and env access.
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidVariables,
			"jq compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"selector": expression})
	}

	e.cache[expression] = code
	return code, nil
}

var _ Engine = (*GoJQEngine)(nil)
