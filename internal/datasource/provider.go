// Package datasource holds the registry of named datasources and the
// connection provider contract every datasource implements.
package datasource

import "context"

// Connection is a borrowed connection. Close hands it back to the provider
// it came from; what "back" means (pool return, real close) is up to the
// provider.
type Connection interface {
	Close() error
}

// ConnectionProvider wraps one physical database endpoint.
//
// Implementations must be safe for concurrent use. The routing layer never
// retries or reinterprets their errors.
type ConnectionProvider interface {
	// Acquire borrows a connection. It may block on pool exhaustion and
	// should honour ctx cancellation while doing so.
	Acquire(ctx context.Context) (Connection, error)

	// Ping reports whether the endpoint is reachable.
	Ping(ctx context.Context) error

	// Close shuts the provider down. Connections already handed out stay
	// the caller's responsibility.
	Close() error
}
