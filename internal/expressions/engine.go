package expressions

import "context"

// Engine evaluates a selector expression against a decoded JSON document.
// Two implementations: PathEngine (dot/index paths) and GoJQEngine (jq: selectors).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data any) (any, error)
}
