package routing

import (
	"context"
	"fmt"
	"strings"

	"dynamic-datasource/internal/common/errors"
)

// attributePrefix marks a marker expression that reads a context attribute.
const attributePrefix = "#"

// Marker yields the routing key for a unit of work.
type Marker interface {
	RoutingKey(ctx context.Context) (string, error)
}

// Key is a static routing key: a datasource name or a group name.
type Key string

// RoutingKey implements Marker.
func (k Key) RoutingKey(context.Context) (string, error) {
	return string(k), nil
}

func (k Key) String() string { return string(k) }

// KeyFunc computes the routing key at call time.
type KeyFunc func(ctx context.Context) (string, error)

// RoutingKey implements Marker.
func (f KeyFunc) RoutingKey(ctx context.Context) (string, error) {
	return f(ctx)
}

// Attribute reads the routing key from the context attribute of that name,
// as set by WithAttribute.
type Attribute string

// RoutingKey implements Marker. A missing attribute is a validation error.
func (a Attribute) RoutingKey(ctx context.Context) (string, error) {
	value, ok := AttributeFrom(ctx, string(a))
	if !ok {
		return "", errors.ValidationError(fmt.Sprintf("routing attribute %s is not set", string(a)))
	}
	return value, nil
}

func (a Attribute) String() string { return attributePrefix + string(a) }

// ParseMarker turns a marker expression into a Marker. "#tenant" reads the
// "tenant" attribute; anything else is a static key.
func ParseMarker(expr string) (Marker, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, errors.ValidationError("routing marker must not be empty")
	}
	if name, ok := strings.CutPrefix(expr, attributePrefix); ok {
		if name == "" {
			return nil, errors.ValidationError(fmt.Sprintf("routing marker %q names no attribute", expr))
		}
		return Attribute(name), nil
	}
	return Key(expr), nil
}

// resolveKey evaluates marker and rejects empty keys.
func resolveKey(ctx context.Context, marker Marker) (string, error) {
	if marker == nil {
		return "", errors.ValidationError("routing marker must not be nil")
	}
	key, err := marker.RoutingKey(ctx)
	if err != nil {
		return "", err
	}
	if key == DefaultKey {
		return "", errors.ValidationError("routing marker resolved to an empty key")
	}
	return key, nil
}
