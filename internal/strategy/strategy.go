// Package strategy chooses one datasource out of a group's candidates.
//
// Strategies hold only their own selection state (counters, smooth weights)
// keyed by group name. They never see the registry, so the routing façade
// can swap one for another at runtime.
package strategy

import (
	"context"
	"fmt"
	"strings"

	"dynamic-datasource/internal/common/errors"
	"dynamic-datasource/internal/common/registry"
	"dynamic-datasource/internal/datasource"
)

// Strategy kinds accepted by New.
const (
	KindLoadBalance        = "load_balance"
	KindRoundRobin         = "round_robin"
	KindRandom             = "random"
	KindWeighted           = "weighted"
	KindWeightedRoundRobin = "weighted_round_robin"
	KindHash               = "hash"
)

// Strategy picks one entry from a non-empty candidate list.
type Strategy interface {
	// Select returns one of candidates. group identifies the candidate set so
	// stateful strategies keep independent state per group.
	Select(ctx context.Context, group string, candidates []datasource.Entry) (datasource.Entry, error)
	// Kind names the strategy, as accepted by New.
	Kind() string
}

// Factory builds a fresh strategy instance.
type Factory func() Strategy

var factories = registry.New[Factory]("strategy kind")

func init() {
	Register(KindLoadBalance, func() Strategy { return NewLoadBalance() })
	Register(KindRoundRobin, func() Strategy { return NewLoadBalance() })
	Register(KindRandom, func() Strategy { return NewRandom() })
	Register(KindWeighted, func() Strategy { return NewWeighted() })
	Register(KindWeightedRoundRobin, func() Strategy { return NewWeightedRoundRobin() })
	Register(KindHash, func() Strategy { return NewHash() })
}

// Register makes a strategy available to New under kind.
func Register(kind string, factory Factory) {
	factories.Register(kind, factory)
}

// New builds the strategy registered under kind.
func New(kind string) (Strategy, error) {
	factory, err := factories.Get(kind)
	if err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("unknown routing strategy %q (known: %s)",
			kind, strings.Join(factories.Keys(), ", ")))
	}
	return factory(), nil
}

// Kinds returns every registered strategy kind in sorted order.
func Kinds() []string {
	return factories.Keys()
}

// IsKnown reports whether New accepts kind.
func IsKnown(kind string) bool {
	return factories.IsRegistered(kind)
}

type hashKeyContextKey struct{}

// WithHashKey attaches the key the hash strategy routes on, e.g. a tenant or
// user id, so the same key keeps landing on the same datasource.
func WithHashKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, hashKeyContextKey{}, key)
}

// HashKeyFrom returns the hash key attached to ctx.
func HashKeyFrom(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(hashKeyContextKey{}).(string)
	return key, ok && key != ""
}

func checkCandidates(group string, candidates []datasource.Entry) error {
	if len(candidates) == 0 {
		return errors.NoCandidatesError(group)
	}
	return nil
}
