package sqldb

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dynamic-datasource/internal/common/logging"
	"dynamic-datasource/internal/config"
	"dynamic-datasource/internal/provider"
	"dynamic-datasource/internal/testutil"
)

func sqliteConfig(name string) config.DataSourceConfig {
	return config.DataSourceConfig{
		Name:            name,
		Driver:          config.DriverSQLite,
		DSN:             ":memory:",
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Minute,
	}
}

func TestOpen_SQLite(t *testing.T) {
	p, err := Open(sqliteConfig("primary"), logging.NewNopLogger())
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, "primary", p.Name())
	assert.Equal(t, 2, p.Stats().MaxOpenConnections)

	ctx := context.Background()
	require.NoError(t, p.Ping(ctx))

	conn, err := p.Acquire(ctx)
	require.NoError(t, err)

	sqlConn, ok := conn.(*sql.Conn)
	require.True(t, ok)
	var one int
	require.NoError(t, sqlConn.QueryRowContext(ctx, "SELECT 1").Scan(&one))
	assert.Equal(t, 1, one)

	assert.Equal(t, 1, p.Stats().InUse)
	require.NoError(t, conn.Close())
	assert.Equal(t, 0, p.Stats().InUse)
}

func TestOpen_RegisteredDrivers(t *testing.T) {
	assert.True(t, provider.IsRegistered(config.DriverSQLite))
	assert.True(t, provider.IsRegistered(config.DriverPgx))

	p, err := provider.Open(context.Background(), sqliteConfig("replica"), logging.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, p.Close())
}

func TestOpen_PgxIsLazy(t *testing.T) {
	cfg := config.DataSourceConfig{
		Name:   "reporting",
		Driver: config.DriverPgx,
		DSN:    "postgres://app@127.0.0.1:1/reporting?connect_timeout=1",
	}
	p, err := Open(cfg, logging.NewNopLogger())
	require.NoError(t, err, "opening does not dial")
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.Error(t, p.Ping(ctx))
}

func TestAcquire_Cancelled(t *testing.T) {
	p, err := Open(sqliteConfig("primary"), logging.NewNopLogger())
	require.NoError(t, err)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPing_Failure(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	p := New("replica", db, logging.NewNopLogger())
	mock.ExpectPing().WillReturnError(testutil.ErrUnreachable)
	mock.ExpectPing()

	assert.ErrorIs(t, p.Ping(context.Background()), testutil.ErrUnreachable)
	assert.NoError(t, p.Ping(context.Background()))

	mock.ExpectClose()
	require.NoError(t, p.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcquire_Mock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	p := New("replica", db, logging.NewNopLogger())
	assert.Same(t, db, p.DB())

	conn, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	mock.ExpectClose()
	require.NoError(t, p.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}
