package datasource

import (
	"context"
	"fmt"
	"sync"

	"dynamic-datasource/internal/common/errors"
	"dynamic-datasource/internal/common/logging"
)

// Lease tracks the connections borrowed from one registered provider.
//
// Remove and a replacing Add hand back the Lease of the entry that left the
// registry. Closing it retires the provider: the provider is closed as soon
// as the last borrowed connection is returned, so work that is already
// running keeps its connection. Until then the provider stays open.
type Lease struct {
	name     string
	provider ConnectionProvider
	logger   logging.Logger

	mu       sync.Mutex
	borrowed int
	retired  bool
	closed   bool
	closeErr error
	done     chan struct{}
}

func newLease(name string, provider ConnectionProvider, logger logging.Logger) *Lease {
	return &Lease{
		name:     name,
		provider: provider,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Name returns the datasource name the provider was registered under.
func (l *Lease) Name() string { return l.name }

// Provider returns the leased provider.
func (l *Lease) Provider() ConnectionProvider { return l.provider }

// InUse returns the number of connections borrowed and not yet returned.
func (l *Lease) InUse() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.borrowed
}

// Done is closed once the provider has been closed.
func (l *Lease) Done() <-chan struct{} { return l.done }

// Err returns the provider's close error. It is only meaningful after Done.
func (l *Lease) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeErr
}

// Close retires the provider. With nothing borrowed it is closed right away
// and its error returned. Otherwise Close returns nil at once and the
// provider is closed in the background when the last connection comes back;
// a failure there is logged and kept for Err.
func (l *Lease) Close() error {
	l.mu.Lock()
	if l.retired {
		l.mu.Unlock()
		return nil
	}
	l.retired = true
	if inUse := l.borrowed; inUse > 0 {
		l.mu.Unlock()
		l.logger.Info("Datasource retired, waiting for borrowed connections",
			logging.DataSource(l.name),
			logging.Int("in_use", inUse),
		)
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	return l.closeProvider()
}

// Wait blocks until the provider has been closed or ctx is done.
func (l *Lease) Wait(ctx context.Context) error {
	select {
	case <-l.done:
		return l.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Lease) acquire(ctx context.Context) (Connection, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, errors.ConnectionError(fmt.Sprintf("datasource %s has been closed", l.name), nil)
	}
	l.borrowed++
	l.mu.Unlock()

	conn, err := l.provider.Acquire(ctx)
	if err != nil {
		l.release()
		return nil, err
	}
	return &leasedConnection{Connection: conn, lease: l}, nil
}

func (l *Lease) release() {
	l.mu.Lock()
	l.borrowed--
	last := l.retired && !l.closed && l.borrowed == 0
	if last {
		l.closed = true
	}
	l.mu.Unlock()

	if last {
		go func() {
			if err := l.closeProvider(); err != nil {
				l.logger.Error("Failed to close retired datasource", err, logging.DataSource(l.name))
			}
		}()
	}
}

// shutdown closes the provider now, whatever is still borrowed.
func (l *Lease) shutdown() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.retired = true
	l.closed = true
	l.mu.Unlock()

	return l.closeProvider()
}

func (l *Lease) closeProvider() error {
	err := l.provider.Close()
	l.mu.Lock()
	l.closeErr = err
	l.mu.Unlock()
	close(l.done)
	if err == nil {
		l.logger.Debug("Datasource provider closed", logging.DataSource(l.name))
	}
	return err
}

// leasedConnection returns itself to its lease on Close.
type leasedConnection struct {
	Connection
	lease *Lease
	once  sync.Once
}

func (c *leasedConnection) Close() error {
	err := c.Connection.Close()
	c.once.Do(c.lease.release)
	return err
}

// Unwrap returns the connection the provider handed out.
func (c *leasedConnection) Unwrap() Connection {
	return c.Connection
}

// As finds the first connection in conn's wrapping chain that is a T, the
// way errors.As does for errors.
func As[T Connection](conn Connection) (T, bool) {
	for conn != nil {
		if t, ok := conn.(T); ok {
			return t, true
		}
		u, ok := conn.(interface{ Unwrap() Connection })
		if !ok {
			break
		}
		conn = u.Unwrap()
	}
	var zero T
	return zero, false
}
