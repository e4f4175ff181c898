// Package sqldb provides connection providers backed by database/sql pools.
// It registers the sqlite3 driver (mattn/go-sqlite3) and the pgx driver
// (jackc/pgx stdlib).
package sqldb

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"dynamic-datasource/internal/common/logging"
	"dynamic-datasource/internal/config"
	"dynamic-datasource/internal/datasource"
	"dynamic-datasource/internal/provider"
)

func init() {
	provider.Register(config.DriverSQLite, factory)
	provider.Register(config.DriverPgx, factory)
}

func factory(ctx context.Context, cfg config.DataSourceConfig, logger logging.Logger) (datasource.ConnectionProvider, error) {
	return Open(cfg, logger)
}

// Provider hands out *sql.Conn values from one *sql.DB pool.
type Provider struct {
	name   string
	db     *sql.DB
	logger logging.Logger
}

// Open creates the pool for cfg. sql.Open does not dial, so an unreachable
// endpoint is only noticed on first use.
func Open(cfg config.DataSourceConfig, logger logging.Logger) (*Provider, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return New(cfg.Name, db, logger), nil
}

// New wraps an existing pool. The provider owns db from then on.
func New(name string, db *sql.DB, logger logging.Logger) *Provider {
	return &Provider{
		name:   name,
		db:     db,
		logger: logging.OrGlobal(logger),
	}
}

// Acquire reserves a single connection from the pool. Closing it returns it
// to the pool.
func (p *Provider) Acquire(ctx context.Context) (datasource.Connection, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Ping verifies a connection to the database is still alive.
func (p *Provider) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the pool. Connections already acquired finish first.
func (p *Provider) Close() error {
	stats := p.db.Stats()
	if stats.InUse > 0 {
		p.logger.Debug("Closing pool with connections in use", logging.Int("in_use", stats.InUse))
	}
	return p.db.Close()
}

// DB returns the underlying pool.
func (p *Provider) DB() *sql.DB {
	return p.db
}

// Name returns the datasource name.
func (p *Provider) Name() string {
	return p.name
}

// Stats returns pool statistics.
func (p *Provider) Stats() sql.DBStats {
	return p.db.Stats()
}
