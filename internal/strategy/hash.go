package strategy

import (
	"context"
	"hash"
	"hash/fnv"
	"sync"

	"dynamic-datasource/internal/datasource"
)

// fnvPool provides pooled FNV hashers to reduce allocations.
var fnvPool = sync.Pool{
	New: func() interface{} {
		return fnv.New32a()
	},
}

// Hash maps the hash key in the context (see WithHashKey) onto a candidate, so
// a given key sticks to one datasource while the candidate list is stable.
// Calls without a hash key are spread round robin.
type Hash struct {
	fallback *LoadBalance
}

// NewHash creates a key-hashing strategy.
func NewHash() *Hash {
	return &Hash{fallback: NewLoadBalance()}
}

// Select implements Strategy.
func (s *Hash) Select(ctx context.Context, group string, candidates []datasource.Entry) (datasource.Entry, error) {
	if err := checkCandidates(group, candidates); err != nil {
		return datasource.Entry{}, err
	}

	key, ok := HashKeyFrom(ctx)
	if !ok {
		return s.fallback.Select(ctx, group, candidates)
	}
	return candidates[hashToIndex(key, len(candidates))], nil
}

// Kind implements Strategy.
func (s *Hash) Kind() string { return KindHash }

func hashToIndex(input string, n int) int {
	h := fnvPool.Get().(hash.Hash32)
	h.Reset()
	_, _ = h.Write([]byte(input))
	sum := h.Sum32()
	fnvPool.Put(h)
	return int(uint64(sum) % uint64(n))
}
