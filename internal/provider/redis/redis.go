// Package redis provides a connection provider for Redis using go-redis.
package redis

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"dynamic-datasource/internal/common/logging"
	"dynamic-datasource/internal/config"
	"dynamic-datasource/internal/datasource"
	"dynamic-datasource/internal/provider"
)

func init() {
	provider.Register(config.DriverRedis, func(ctx context.Context, cfg config.DataSourceConfig, logger logging.Logger) (datasource.ConnectionProvider, error) {
		return Open(cfg, logger)
	})
}

// Provider hands out dedicated connections from a go-redis client pool.
type Provider struct {
	name   string
	client *redis.Client
	logger logging.Logger
}

// ParseOptions turns cfg into client options. The DSN is a redis:// or
// rediss:// URL.
func ParseOptions(cfg config.DataSourceConfig) (*redis.Options, error) {
	opts, err := redis.ParseURL(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		opts.PoolSize = cfg.MaxOpenConns
	}
	if cfg.ConnMaxLifetime > 0 {
		opts.MaxConnAge = cfg.ConnMaxLifetime
	}
	return opts, nil
}

// Open creates the client. go-redis dials lazily.
func Open(cfg config.DataSourceConfig, logger logging.Logger) (*Provider, error) {
	opts, err := ParseOptions(cfg)
	if err != nil {
		return nil, err
	}
	return New(cfg.Name, redis.NewClient(opts), logger), nil
}

// New wraps an existing client. The provider owns client from then on.
func New(name string, client *redis.Client, logger logging.Logger) *Provider {
	return &Provider{name: name, client: client, logger: logging.OrGlobal(logger)}
}

// Acquire pins a connection from the pool and checks it with a PING, so a
// dead server fails here rather than on first use. The returned *redis.Conn
// goes back to the pool on Close.
func (p *Provider) Acquire(ctx context.Context) (datasource.Connection, error) {
	conn := p.client.Conn(ctx)
	if err := conn.Ping(ctx).Err(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// Ping checks the server.
func (p *Provider) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close closes the client pool.
func (p *Provider) Close() error {
	return p.client.Close()
}

// Client returns the underlying client.
func (p *Provider) Client() *redis.Client {
	return p.client
}
