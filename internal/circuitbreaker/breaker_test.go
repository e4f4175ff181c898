package circuitbreaker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dynamic-datasource/internal/common/errors"
	"dynamic-datasource/internal/common/logging"
	"dynamic-datasource/internal/datasource"
	"dynamic-datasource/internal/testutil"
)

func testConfig() Config {
	return Config{
		MaxFailures:           2,
		Timeout:               50 * time.Millisecond,
		MaxConcurrentRequests: 1,
	}
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	require.NoError(t, testConfig().Validate())

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero failures", func(c *Config) { c.MaxFailures = 0 }},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }},
		{"zero trial requests", func(c *Config) { c.MaxConcurrentRequests = 0 }},
		{"negative interval", func(c *Config) { c.Interval = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.modify(&c)
			err := c.Validate()
			assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
		})
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestBreaker(t *testing.T) {
	logger := logging.NewNopLogger()

	t.Run("basic operation", func(t *testing.T) {
		b := NewBreaker("basic", testConfig(), logger)
		assert.Equal(t, StateClosed, b.State())
		assert.NoError(t, b.Execute(func() error { return nil }))
		assert.Equal(t, "basic", b.Name())
	})

	t.Run("opens after consecutive failures", func(t *testing.T) {
		b := NewBreaker("failures", testConfig(), logger)
		for i := 0; i < 2; i++ {
			err := b.Execute(func() error { return fmt.Errorf("failure %d", i) })
			require.Error(t, err)
			assert.False(t, IsRejection(err))
		}
		assert.True(t, b.IsOpen())

		err := b.Execute(func() error {
			t.Fatal("must not be called while open")
			return nil
		})
		require.Error(t, err)
		assert.True(t, IsRejection(err))
		assert.ErrorIs(t, err, gobreaker.ErrOpenState)
		assert.True(t, errors.IsType(err, errors.ErrTypeConnection))
	})

	t.Run("half-open then closed", func(t *testing.T) {
		b := NewBreaker("recover", testConfig(), logger)
		for i := 0; i < 2; i++ {
			_ = b.Execute(func() error { return testutil.ErrUnreachable })
		}
		require.Equal(t, StateOpen, b.State())

		time.Sleep(70 * time.Millisecond)
		assert.Equal(t, StateHalfOpen, b.State())

		require.NoError(t, b.Execute(func() error { return nil }))
		assert.Equal(t, StateClosed, b.State())
	})

	t.Run("caller errors do not trip", func(t *testing.T) {
		b := NewBreaker("caller", testConfig(), logger)
		for i := 0; i < 5; i++ {
			_ = b.Execute(func() error { return context.Canceled })
			_ = b.Execute(func() error { return errors.ValidationError("bad input") })
		}
		assert.Equal(t, StateClosed, b.State())
	})

	t.Run("invalid config uses defaults", func(t *testing.T) {
		b := NewBreaker("defaults", Config{}, logger)
		for i := 0; i < DefaultConfig().MaxFailures-1; i++ {
			_ = b.Execute(func() error { return testutil.ErrUnreachable })
		}
		assert.Equal(t, StateClosed, b.State())
		_ = b.Execute(func() error { return testutil.ErrUnreachable })
		assert.Equal(t, StateOpen, b.State())
	})

	t.Run("stats", func(t *testing.T) {
		b := NewBreaker("stats", testConfig(), logger)
		_ = b.Execute(func() error { return nil })
		_ = b.Execute(func() error { return testutil.ErrUnreachable })

		stats := b.Stats()
		assert.Equal(t, "stats", stats.Name)
		assert.Equal(t, "closed", stats.State)
		assert.Equal(t, uint32(2), stats.Requests)
		assert.Equal(t, uint32(1), stats.Failures)
		assert.Equal(t, uint32(1), stats.ConsecutiveFailures)
	})

	t.Run("listeners see transitions", func(t *testing.T) {
		var seen []string
		b := NewBreaker("listen", testConfig(), logger, func(name string, from, to State) {
			seen = append(seen, fmt.Sprintf("%s:%s->%s", name, from, to))
		})
		for i := 0; i < 2; i++ {
			_ = b.Execute(func() error { return testutil.ErrUnreachable })
		}
		assert.Equal(t, []string{"listen:closed->open"}, seen)
	})
}

func TestGuardedProvider(t *testing.T) {
	provider := testutil.NewFakeProvider("replica")
	guarded := Guard(provider, NewBreaker("replica", testConfig(), logging.NewNopLogger()))

	conn, err := guarded.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "replica", testutil.SourceOf(conn))
	require.NoError(t, conn.Close())

	provider.SetAcquireError(testutil.ErrPoolExhausted)
	for i := 0; i < 2; i++ {
		_, err = guarded.Acquire(context.Background())
		assert.ErrorIs(t, err, testutil.ErrPoolExhausted)
	}

	acquired := provider.Acquired()
	_, err = guarded.Acquire(context.Background())
	assert.True(t, IsRejection(err))
	assert.Equal(t, acquired, provider.Acquired(), "open breaker does not reach the provider")

	err = guarded.Ping(context.Background())
	assert.True(t, IsRejection(err))

	require.NoError(t, guarded.Close())
	assert.True(t, provider.Closed())
	assert.Same(t, provider, guarded.Unwrap())
	assert.Equal(t, StateOpen, guarded.Breaker().State())
}

func TestManager_MirrorsHealth(t *testing.T) {
	registry := datasource.NewRegistry(logging.NewNopLogger())
	manager := NewManager(registry, testConfig(), logging.NewNopLogger())

	provider := testutil.NewFakeProvider("orders-1")
	_, err := registry.Add("orders-1", manager.Guard("orders-1", provider))
	require.NoError(t, err)
	_, err = registry.Add("orders-2", manager.Guard("orders-2", testutil.NewFakeProvider("orders-2")))
	require.NoError(t, err)

	entry, err := registry.Get("orders-1")
	require.NoError(t, err)

	provider.SetAcquireError(testutil.ErrUnreachable)
	for i := 0; i < 2; i++ {
		_, _ = entry.Provider.Acquire(context.Background())
	}

	entry, _ = registry.Get("orders-1")
	assert.False(t, entry.Healthy, "open breaker marks the datasource unhealthy")

	entries, degraded, err := registry.ResolveGroup("orders")
	require.NoError(t, err)
	assert.False(t, degraded)
	require.Len(t, entries, 1)
	assert.Equal(t, "orders-2", entries[0].Name)

	provider.SetAcquireError(nil)
	time.Sleep(70 * time.Millisecond)
	require.NoError(t, entry.Provider.Ping(context.Background()))

	entry, _ = registry.Get("orders-1")
	assert.True(t, entry.Healthy, "closing the breaker restores health")
}

func TestManager_Bookkeeping(t *testing.T) {
	manager := NewManager(nil, testConfig(), logging.NewNopLogger())

	a := manager.GetOrCreate("b-source")
	assert.Same(t, a, manager.GetOrCreate("b-source"))
	manager.GetOrCreate("a-source")

	got, ok := manager.Get("a-source")
	require.True(t, ok)
	assert.Equal(t, "a-source", got.Name())

	stats := manager.AllStats()
	require.Len(t, stats, 2)
	assert.Equal(t, "a-source", stats[0].Name)
	assert.Equal(t, "b-source", stats[1].Name)

	assert.True(t, manager.Remove("a-source"))
	assert.False(t, manager.Remove("a-source"))
	_, ok = manager.Get("a-source")
	assert.False(t, ok)

	// No registry: transitions are only logged.
	for i := 0; i < 2; i++ {
		_ = a.Execute(func() error { return testutil.ErrUnreachable })
	}
	assert.True(t, a.IsOpen())
}
