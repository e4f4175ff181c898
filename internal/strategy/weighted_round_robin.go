package strategy

import (
	"context"
	"sync"

	"dynamic-datasource/internal/datasource"
)

// WeightedRoundRobin is smooth weighted round robin: over a full cycle each
// candidate is chosen as often as its weight, and picks of a heavy candidate
// are spread out rather than bunched together.
type WeightedRoundRobin struct {
	groups sync.Map // group -> *wrrState
}

type wrrState struct {
	mu      sync.Mutex
	names   []string
	weights []int
	current []int
}

// NewWeightedRoundRobin creates a smooth weighted round-robin strategy.
func NewWeightedRoundRobin() *WeightedRoundRobin {
	return &WeightedRoundRobin{}
}

// Select implements Strategy.
func (s *WeightedRoundRobin) Select(_ context.Context, group string, candidates []datasource.Entry) (datasource.Entry, error) {
	if err := checkCandidates(group, candidates); err != nil {
		return datasource.Entry{}, err
	}

	v, ok := s.groups.Load(group)
	if !ok {
		v, _ = s.groups.LoadOrStore(group, &wrrState{})
	}
	state := v.(*wrrState)

	state.mu.Lock()
	defer state.mu.Unlock()

	// Reset when the member set or weights changed
	if !state.matches(candidates) {
		state.reset(candidates)
	}

	total := 0
	best := 0
	for i := range candidates {
		state.current[i] += state.weights[i]
		total += state.weights[i]
		if state.current[i] > state.current[best] {
			best = i
		}
	}
	state.current[best] -= total

	return candidates[best], nil
}

// Kind implements Strategy.
func (s *WeightedRoundRobin) Kind() string { return KindWeightedRoundRobin }

func (st *wrrState) matches(candidates []datasource.Entry) bool {
	if len(st.names) != len(candidates) {
		return false
	}
	for i, c := range candidates {
		if st.names[i] != c.Name || st.weights[i] != c.EffectiveWeight() {
			return false
		}
	}
	return true
}

func (st *wrrState) reset(candidates []datasource.Entry) {
	st.names = make([]string, len(candidates))
	st.weights = make([]int, len(candidates))
	st.current = make([]int, len(candidates))
	for i, c := range candidates {
		st.names[i] = c.Name
		st.weights[i] = c.EffectiveWeight()
	}
}
