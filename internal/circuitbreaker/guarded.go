package circuitbreaker

import (
	"context"

	"dynamic-datasource/internal/datasource"
)

// GuardedProvider routes Acquire and Ping through a breaker. Close always
// reaches the wrapped provider.
type GuardedProvider struct {
	inner   datasource.ConnectionProvider
	breaker *Breaker
}

// Guard wraps provider with breaker.
func Guard(provider datasource.ConnectionProvider, breaker *Breaker) *GuardedProvider {
	return &GuardedProvider{inner: provider, breaker: breaker}
}

// Acquire borrows a connection unless the breaker is open.
func (g *GuardedProvider) Acquire(ctx context.Context) (datasource.Connection, error) {
	var conn datasource.Connection
	err := g.breaker.Execute(func() error {
		c, err := g.inner.Acquire(ctx)
		conn = c
		return err
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Ping checks the endpoint. While the breaker is half-open a successful
// ping is what closes it again.
func (g *GuardedProvider) Ping(ctx context.Context) error {
	return g.breaker.Execute(func() error {
		return g.inner.Ping(ctx)
	})
}

// Close closes the wrapped provider.
func (g *GuardedProvider) Close() error {
	return g.inner.Close()
}

// Breaker returns the guarding breaker.
func (g *GuardedProvider) Breaker() *Breaker {
	return g.breaker
}

// Unwrap returns the wrapped provider.
func (g *GuardedProvider) Unwrap() datasource.ConnectionProvider {
	return g.inner
}
