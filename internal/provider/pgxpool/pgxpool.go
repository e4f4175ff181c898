// Package pgxpool provides a connection provider on a native pgx pool.
package pgxpool

import (
	"context"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5/pgxpool"

	"dynamic-datasource/internal/common/logging"
	"dynamic-datasource/internal/config"
	"dynamic-datasource/internal/datasource"
	"dynamic-datasource/internal/provider"
)

func init() {
	provider.Register(config.DriverPgxPool, func(ctx context.Context, cfg config.DataSourceConfig, logger logging.Logger) (datasource.ConnectionProvider, error) {
		return Open(ctx, cfg, logger)
	})
}

// Provider hands out pooled pgx connections.
type Provider struct {
	name   string
	pool   *pgxpool.Pool
	logger logging.Logger
}

// ParseConfig turns cfg into a pool config. MaxIdleConns has no pgxpool
// counterpart and is ignored.
func ParseConfig(cfg config.DataSourceConfig) (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("invalid PostgreSQL connection string: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(min(cfg.MaxOpenConns, math.MaxInt32))
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	return poolConfig, nil
}

// Open creates the pool. No connection is made until the first Acquire or Ping.
func Open(ctx context.Context, cfg config.DataSourceConfig, logger logging.Logger) (*Provider, error) {
	poolConfig, err := ParseConfig(cfg)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	return &Provider{name: cfg.Name, pool: pool, logger: logging.OrGlobal(logger)}, nil
}

// Conn is a pooled connection. Close releases it back to the pool.
type Conn struct {
	*pgxpool.Conn
}

// Close releases the connection.
func (c *Conn) Close() error {
	c.Release()
	return nil
}

// Acquire borrows a connection from the pool.
func (p *Provider) Acquire(ctx context.Context) (datasource.Connection, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &Conn{Conn: conn}, nil
}

// Ping acquires a connection and pings the server.
func (p *Provider) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close closes the pool, waiting for acquired connections to be released.
func (p *Provider) Close() error {
	p.pool.Close()
	return nil
}

// Pool returns the underlying pool.
func (p *Provider) Pool() *pgxpool.Pool {
	return p.pool
}
