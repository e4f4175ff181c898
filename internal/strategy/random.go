package strategy

import (
	"context"
	"math/rand"

	"dynamic-datasource/internal/datasource"
)

// Random picks a candidate uniformly.
type Random struct{}

// NewRandom creates a uniform random strategy.
func NewRandom() *Random {
	return &Random{}
}

// Select implements Strategy.
func (s *Random) Select(_ context.Context, group string, candidates []datasource.Entry) (datasource.Entry, error) {
	if err := checkCandidates(group, candidates); err != nil {
		return datasource.Entry{}, err
	}
	return candidates[rand.Intn(len(candidates))], nil
}

// Kind implements Strategy.
func (s *Random) Kind() string { return KindRandom }

// Weighted picks a candidate at random with probability proportional to its
// weight. Unset weights count as 1.
type Weighted struct{}

// NewWeighted creates a weighted random strategy.
func NewWeighted() *Weighted {
	return &Weighted{}
}

// Select implements Strategy.
func (s *Weighted) Select(_ context.Context, group string, candidates []datasource.Entry) (datasource.Entry, error) {
	if err := checkCandidates(group, candidates); err != nil {
		return datasource.Entry{}, err
	}
	if len(candidates) == 1 {
		return candidates[0], nil
	}

	total := 0
	for _, c := range candidates {
		total += c.EffectiveWeight()
	}

	pick := rand.Intn(total)
	for _, c := range candidates {
		pick -= c.EffectiveWeight()
		if pick < 0 {
			return c, nil
		}
	}
	return candidates[len(candidates)-1], nil
}

// Kind implements Strategy.
func (s *Weighted) Kind() string { return KindWeighted }
