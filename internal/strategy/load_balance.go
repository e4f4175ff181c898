package strategy

import (
	"context"
	"sync"
	"sync/atomic"

	"dynamic-datasource/internal/datasource"
)

// LoadBalance rotates through candidates in order, one counter per group.
type LoadBalance struct {
	counters sync.Map // group -> *atomic.Uint64
}

// NewLoadBalance creates a round-robin strategy.
func NewLoadBalance() *LoadBalance {
	return &LoadBalance{}
}

// Select returns candidates[n % len], where n counts prior selections for group.
func (s *LoadBalance) Select(_ context.Context, group string, candidates []datasource.Entry) (datasource.Entry, error) {
	if err := checkCandidates(group, candidates); err != nil {
		return datasource.Entry{}, err
	}
	return candidates[s.next(group, len(candidates))], nil
}

// Kind implements Strategy.
func (s *LoadBalance) Kind() string { return KindLoadBalance }

func (s *LoadBalance) next(group string, n int) int {
	counter, ok := s.counters.Load(group)
	if !ok {
		counter, _ = s.counters.LoadOrStore(group, new(atomic.Uint64))
	}
	idx := counter.(*atomic.Uint64).Add(1) - 1
	return int(idx % uint64(n))
}
