// Package registry provides a generic, thread-safe name-to-value registry.
//
// It backs the lookup tables that turn configuration strings into behaviour:
// strategy kinds ("load_balance", "random", ...) and provider drivers
// ("sqlite3", "pgx", "redis", ...).
//
//	strategies := registry.New[strategy.Factory]("strategy kind")
//	strategies.Register("random", randomFactory)
//	factory, err := strategies.Get("random")
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"dynamic-datasource/internal/common/errors"
)

// Registry maps case-insensitive keys to values of type T.
type Registry[T any] struct {
	kind  string
	items map[string]T
	mu    sync.RWMutex
}

// New creates an empty registry. kind describes the keys and is used in
// lookup errors, e.g. "strategy kind".
func New[T any](kind string) *Registry[T] {
	return &Registry[T]{
		kind:  kind,
		items: make(map[string]T),
	}
}

// Register adds or replaces the value for key.
func (r *Registry[T]) Register(key string, item T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[normalize(key)] = item
}

// Get retrieves the value registered for key.
func (r *Registry[T]) Get(key string) (T, error) {
	r.mu.RLock()
	item, exists := r.items[normalize(key)]
	r.mu.RUnlock()

	if !exists {
		var zero T
		return zero, errors.NotFoundError(fmt.Sprintf("%s %q", r.kind, key))
	}
	return item, nil
}

// IsRegistered reports whether key has a value.
func (r *Registry[T]) IsRegistered(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.items[normalize(key)]
	return exists
}

// Keys returns the registered keys in sorted order.
func (r *Registry[T]) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.items))
	for key := range r.items {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Count returns the number of registered values.
func (r *Registry[T]) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

func normalize(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
