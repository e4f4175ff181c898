package routing

import (
	"context"
)

// DefaultKey is the routing key in effect when nothing has been pushed. It
// routes to the default datasource.
const DefaultKey = ""

type stackContextKey struct{}

type attributesContextKey struct{}

// WithStack returns a copy of ctx carrying stack. The stack in ctx itself
// is left as it was.
func WithStack(ctx context.Context, stack *Stack) context.Context {
	return context.WithValue(ctx, stackContextKey{}, stack)
}

// StackFrom returns the routing stack carried by ctx, nil when there is none.
func StackFrom(ctx context.Context) *Stack {
	if ctx == nil {
		return nil
	}
	stack, _ := ctx.Value(stackContextKey{}).(*Stack)
	return stack
}

// WithKey returns a copy of ctx with key pushed as the active routing key.
// Contexts derived from ctx before the call keep their own key.
func WithKey(ctx context.Context, key string) context.Context {
	return WithStack(ctx, StackFrom(ctx).Push(key))
}

// CurrentKey returns the active routing key of ctx, or DefaultKey when no key
// has been pushed.
func CurrentKey(ctx context.Context) string {
	key, ok := StackFrom(ctx).Peek()
	if !ok {
		return DefaultKey
	}
	return key
}

// WithAttribute returns a copy of ctx where the named routing attribute is
// set to value. Attribute markers read it to compute a key at call time.
func WithAttribute(ctx context.Context, name, value string) context.Context {
	existing, _ := ctx.Value(attributesContextKey{}).(map[string]string)
	attrs := make(map[string]string, len(existing)+1)
	for k, v := range existing {
		attrs[k] = v
	}
	attrs[name] = value
	return context.WithValue(ctx, attributesContextKey{}, attrs)
}

// AttributeFrom returns the routing attribute set on ctx under name.
func AttributeFrom(ctx context.Context, name string) (string, bool) {
	attrs, _ := ctx.Value(attributesContextKey{}).(map[string]string)
	value, ok := attrs[name]
	return value, ok
}
