package datasource_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dynamic-datasource/internal/common/errors"
	"dynamic-datasource/internal/common/logging"
	"dynamic-datasource/internal/datasource"
	"dynamic-datasource/internal/testutil"
)

func newRegistry() *datasource.Registry {
	return datasource.NewRegistry(logging.NewNopLogger())
}

func TestRegistry_AddAndGet(t *testing.T) {
	r := newRegistry()
	primary := testutil.NewFakeProvider("primary")

	replaced, err := r.Add("primary", primary, datasource.WithWeight(3))
	require.NoError(t, err)
	assert.Nil(t, replaced)

	entry, err := r.Get("primary")
	require.NoError(t, err)
	assert.Equal(t, "primary", entry.Name)
	assert.Equal(t, 3, entry.Weight)
	assert.True(t, entry.Healthy)
	assert.Same(t, primary, entry.Provider)
	assert.True(t, r.Contains("primary"))
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_AddValidation(t *testing.T) {
	r := newRegistry()

	_, err := r.Add("", testutil.NewFakeProvider("x"))
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))

	_, err = r.Add("x", nil)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_Duplicate(t *testing.T) {
	r := newRegistry()
	first := testutil.NewFakeProvider("primary")
	second := testutil.NewFakeProvider("primary-v2")

	_, err := r.Add("primary", first)
	require.NoError(t, err)

	_, err = r.Add("primary", second)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeDuplicate))

	entry, _ := r.Get("primary")
	assert.Same(t, first, entry.Provider, "failed add must not touch the existing entry")
}

func TestRegistry_Replace(t *testing.T) {
	r := newRegistry()
	first := testutil.NewFakeProvider("a")
	second := testutil.NewFakeProvider("a2")

	_, err := r.Add("a", first)
	require.NoError(t, err)
	_, err = r.Add("b", testutil.NewFakeProvider("b"))
	require.NoError(t, err)

	replaced, err := r.Add("a", second, datasource.Replace())
	require.NoError(t, err)
	require.NotNil(t, replaced)
	assert.Same(t, first, replaced.Provider())
	assert.False(t, first.Closed(), "registry leaves closing the old provider to the caller")

	entry, err := r.Get("a")
	require.NoError(t, err)
	assert.Same(t, second, entry.Provider)
	assert.Equal(t, []string{"a", "b"}, r.Names(), "replace keeps registration order")
}

func TestRegistry_Remove(t *testing.T) {
	r := newRegistry()
	provider := testutil.NewFakeProvider("replica")
	_, err := r.Add("replica", provider)
	require.NoError(t, err)

	entry, err := r.Get("replica")
	require.NoError(t, err)
	conn, err := entry.Acquire(context.Background())
	require.NoError(t, err)

	removed, err := r.Remove("replica")
	require.NoError(t, err)
	assert.Same(t, provider, removed.Provider())
	assert.Equal(t, 1, removed.InUse())

	// The borrowed connection is unaffected by the removal.
	assert.Equal(t, "replica", testutil.SourceOf(conn))
	require.NoError(t, conn.Close())
	assert.Equal(t, int64(1), provider.Released())
	assert.False(t, provider.Closed())

	_, err = r.Get("replica")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))

	_, err = r.Remove("replica")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}

func TestRegistry_GroupMembership(t *testing.T) {
	r := newRegistry()
	for _, name := range []string{"orders-1", "orders_2", "ordersarchive", "primary"} {
		_, err := r.Add(name, testutil.NewFakeProvider(name))
		require.NoError(t, err)
	}
	_, err := r.Add("replica1", testutil.NewFakeProvider("replica1"), datasource.WithGroup("read"))
	require.NoError(t, err)
	_, err = r.Add("orders-3", testutil.NewFakeProvider("orders-3"), datasource.WithGroup("archive"))
	require.NoError(t, err)

	entries, degraded, err := r.ResolveGroup("orders")
	require.NoError(t, err)
	assert.False(t, degraded)
	assert.Equal(t, []string{"orders-1", "orders_2"}, names(entries),
		"prefix needs a separator and an explicit group overrides the prefix")

	entries, _, err = r.ResolveGroup("read")
	require.NoError(t, err)
	assert.Equal(t, []string{"replica1"}, names(entries))

	assert.True(t, r.HasGroup("archive"))
	assert.False(t, r.HasGroup("write"))

	_, _, err = r.ResolveGroup("write")
	assert.True(t, errors.IsType(err, errors.ErrTypeNoCandidates))
}

func TestRegistry_DegradeToUnhealthy(t *testing.T) {
	r := newRegistry()
	_, err := r.Add("orders-1", testutil.NewFakeProvider("orders-1"), datasource.Unhealthy())
	require.NoError(t, err)
	_, err = r.Add("orders-2", testutil.NewFakeProvider("orders-2"), datasource.Unhealthy())
	require.NoError(t, err)

	entries, degraded, err := r.ResolveGroup("orders")
	require.NoError(t, err)
	assert.True(t, degraded, "all-unhealthy group is served, flagged as degraded")
	assert.Equal(t, []string{"orders-1", "orders-2"}, names(entries))

	changed, err := r.MarkHealthy("orders-2", true)
	require.NoError(t, err)
	assert.True(t, changed)

	entries, degraded, err = r.ResolveGroup("orders")
	require.NoError(t, err)
	assert.False(t, degraded)
	assert.Equal(t, []string{"orders-2"}, names(entries))
}

func TestRegistry_MarkHealthy(t *testing.T) {
	r := newRegistry()
	_, err := r.Add("primary", testutil.NewFakeProvider("primary"))
	require.NoError(t, err)

	changed, err := r.MarkHealthy("primary", true)
	require.NoError(t, err)
	assert.False(t, changed, "already healthy")

	changed, err = r.MarkHealthy("primary", false)
	require.NoError(t, err)
	assert.True(t, changed)

	entry, _ := r.Get("primary")
	assert.False(t, entry.Healthy)

	_, err = r.MarkHealthy("ghost", false)
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}

func TestRegistry_EntriesAreCopies(t *testing.T) {
	r := newRegistry()
	_, err := r.Add("primary", testutil.NewFakeProvider("primary"))
	require.NoError(t, err)

	held, _ := r.Get("primary")
	_, err = r.MarkHealthy("primary", false)
	require.NoError(t, err)

	assert.True(t, held.Healthy, "an entry already handed out does not change")
}

func TestRegistry_ConcurrentAddDuringLookups(t *testing.T) {
	r := newRegistry()
	_, err := r.Add("A", testutil.NewFakeProvider("A"))
	require.NoError(t, err)

	const lookups = 1000
	var wg sync.WaitGroup
	failures := make(chan error, lookups)
	start := make(chan struct{})

	for i := 0; i < lookups; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			entry, err := r.Get("A")
			if err != nil {
				failures <- err
				return
			}
			if entry.Name != "A" || entry.Provider == nil {
				failures <- fmt.Errorf("partial entry observed: %+v", entry)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-start
		_, err := r.Add("B", testutil.NewFakeProvider("B"))
		if err != nil {
			failures <- err
		}
	}()

	close(start)
	wg.Wait()
	close(failures)

	for err := range failures {
		t.Error(err)
	}
	assert.True(t, r.Contains("B"))
}

func TestRegistry_ConcurrentMutation(t *testing.T) {
	r := newRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		name := fmt.Sprintf("orders-%d", i)
		wg.Add(3)
		go func() {
			defer wg.Done()
			_, _ = r.Add(name, testutil.NewFakeProvider(name))
		}()
		go func() {
			defer wg.Done()
			_, _ = r.MarkHealthy(name, false)
		}()
		go func() {
			defer wg.Done()
			entries, _, err := r.ResolveGroup("orders")
			if err == nil {
				for _, e := range entries {
					assert.NotNil(t, e.Provider)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, r.Len())
}

func TestRegistry_Close(t *testing.T) {
	r := newRegistry()
	a := testutil.NewFakeProvider("a")
	b := testutil.NewFakeProvider("b")
	b.SetCloseError(testutil.ErrTestFailure)
	c := testutil.NewFakeProvider("c")

	for name, p := range map[string]*testutil.FakeProvider{"a": a, "b": b, "c": c} {
		_, err := r.Add(name, p)
		require.NoError(t, err)
	}

	err := r.Close()
	require.Error(t, err)
	assert.ErrorIs(t, err, testutil.ErrTestFailure)
	assert.True(t, a.Closed())
	assert.True(t, b.Closed())
	assert.True(t, c.Closed(), "a failing provider does not stop the others closing")
	assert.Equal(t, 0, r.Len())
}

func TestEntry_InGroup(t *testing.T) {
	tests := []struct {
		entry datasource.Entry
		group string
		want  bool
	}{
		{datasource.Entry{Name: "slave_1"}, "slave", true},
		{datasource.Entry{Name: "slave-1"}, "slave", true},
		{datasource.Entry{Name: "slave1"}, "slave", false},
		{datasource.Entry{Name: "slave"}, "slave", false},
		{datasource.Entry{Name: "x", Group: "slave"}, "slave", true},
		{datasource.Entry{Name: "slave_1", Group: "other"}, "slave", false},
		{datasource.Entry{Name: "a"}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.entry.Name+"/"+tt.group, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.entry.InGroup(tt.group))
		})
	}
}

func TestEntry_EffectiveWeight(t *testing.T) {
	assert.Equal(t, 1, datasource.Entry{}.EffectiveWeight())
	assert.Equal(t, 1, datasource.Entry{Weight: -4}.EffectiveWeight())
	assert.Equal(t, 7, datasource.Entry{Weight: 7}.EffectiveWeight())
}

func names(entries []datasource.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}
