package testutil

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"dynamic-datasource/internal/datasource"
)

// FakeProvider is an in-memory datasource.ConnectionProvider that counts
// what happens to it. Errors can be injected per method.
type FakeProvider struct {
	name string

	mu         sync.Mutex
	acquireErr error
	pingErr    error
	closeErr   error

	acquired atomic.Int64
	released atomic.Int64
	pings    atomic.Int64
	closed   atomic.Bool
}

// NewFakeProvider creates a provider whose connections report name as their source.
func NewFakeProvider(name string) *FakeProvider {
	return &FakeProvider{name: name}
}

// Acquire hands out a FakeConnection unless an acquire error is set or ctx is done.
func (p *FakeProvider) Acquire(ctx context.Context) (datasource.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	err := p.acquireErr
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if p.closed.Load() {
		return nil, fmt.Errorf("provider %s is closed", p.name)
	}

	id := p.acquired.Add(1)
	return &FakeConnection{Source: p.name, ID: id, provider: p}, nil
}

// Ping returns the injected ping error.
func (p *FakeProvider) Ping(ctx context.Context) error {
	p.pings.Add(1)
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pingErr
}

// Close marks the provider closed.
func (p *FakeProvider) Close() error {
	p.closed.Store(true)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeErr
}

// SetAcquireError makes Acquire fail with err (nil clears it).
func (p *FakeProvider) SetAcquireError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.acquireErr = err
}

// SetPingError makes Ping fail with err (nil clears it).
func (p *FakeProvider) SetPingError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pingErr = err
}

// SetCloseError makes Close fail with err.
func (p *FakeProvider) SetCloseError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeErr = err
}

// Name returns the provider name.
func (p *FakeProvider) Name() string { return p.name }

// Acquired returns how many connections were handed out.
func (p *FakeProvider) Acquired() int64 { return p.acquired.Load() }

// Released returns how many connections were closed.
func (p *FakeProvider) Released() int64 { return p.released.Load() }

// Pings returns how many times Ping was called.
func (p *FakeProvider) Pings() int64 { return p.pings.Load() }

// Closed reports whether Close was called.
func (p *FakeProvider) Closed() bool { return p.closed.Load() }

// FakeConnection is the connection type handed out by FakeProvider.
type FakeConnection struct {
	Source string
	ID     int64

	provider *FakeProvider
	closed   atomic.Bool
}

// Close returns the connection. Closing twice is an error.
func (c *FakeConnection) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("connection %s#%d already closed", c.Source, c.ID)
	}
	c.provider.released.Add(1)
	return nil
}

// Closed reports whether Close was called.
func (c *FakeConnection) Closed() bool { return c.closed.Load() }

// SourceOf returns the datasource name a connection came from, or "" when
// conn is not a FakeConnection.
func SourceOf(conn datasource.Connection) string {
	if fc, ok := datasource.As[*FakeConnection](conn); ok {
		return fc.Source
	}
	return ""
}
