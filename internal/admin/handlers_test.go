package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dynamic-datasource/internal/circuitbreaker"
	"dynamic-datasource/internal/common/errors"
	"dynamic-datasource/internal/common/logging"
	"dynamic-datasource/internal/config"
	"dynamic-datasource/internal/datasource"
	"dynamic-datasource/internal/health"
	"dynamic-datasource/internal/routing"
	"dynamic-datasource/internal/strategy"
	"dynamic-datasource/internal/testutil"
)

type fixture struct {
	router    *mux.Router
	ds        *routing.DataSource
	registry  *datasource.Registry
	providers map[string]*testutil.FakeProvider
	breakers  *circuitbreaker.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := logging.NewNopLogger()
	registry := datasource.NewRegistry(logger)
	f := &fixture{registry: registry, providers: map[string]*testutil.FakeProvider{}}

	for _, name := range []string{"primary", "replica1", "replica2"} {
		p := testutil.NewFakeProvider(name)
		var opts []datasource.AddOption
		if name != "primary" {
			opts = append(opts, datasource.WithGroup("read"))
		}
		_, err := registry.Add(name, p, opts...)
		require.NoError(t, err)
		f.providers[name] = p
	}

	f.ds = routing.New(registry, strategy.NewLoadBalance(),
		routing.WithDefault("primary"), routing.WithLogger(logger))
	checker, err := health.NewChecker(registry, health.Config{}, health.WithLogger(logger))
	require.NoError(t, err)
	f.breakers = circuitbreaker.NewManager(registry, circuitbreaker.DefaultConfig(), logger)

	opener := func(ctx context.Context, cfg config.DataSourceConfig) (datasource.ConnectionProvider, error) {
		if cfg.DSN == "unreachable" {
			return nil, testutil.ErrUnreachable
		}
		p := testutil.NewFakeProvider(cfg.Name)
		f.providers[cfg.Name] = p
		return f.breakers.Guard(cfg.Name, p), nil
	}

	h := New(f.ds,
		WithChecker(checker),
		WithBreakers(f.breakers),
		WithOpener(opener),
		WithLogger(logger),
	)
	f.router = NewRouter(h, logger)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	_, err := f.registry.MarkHealthy("replica1", false)
	require.NoError(t, err)

	rr := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody[map[string]interface{}](t, rr)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, 3.0, body["datasources"])
	assert.Equal(t, 1.0, body["unhealthy"])
}

func TestListDataSources(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, http.MethodGet, "/api/datasources", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	views := decodeBody[[]DataSourceView](t, rr)
	require.Len(t, views, 3)
	assert.Equal(t, DataSourceView{Name: "primary", Weight: 1, Healthy: true, Default: true}, views[0])
	assert.Equal(t, "read", views[1].Group)
	assert.Equal(t, "replica2", views[2].Name)
}

func TestGetDataSource(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodGet, "/api/datasources/replica1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "replica1", decodeBody[DataSourceView](t, rr).Name)

	rr = f.do(t, http.MethodGet, "/api/datasources/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, errors.ErrTypeNotFound, decodeBody[errorResponse](t, rr).Type)
}

func TestCreateDataSource(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/api/datasources", CreateDataSourceRequest{
		Name: "replica3", Driver: "sqlite3", DSN: "file:replica3.db", Group: "read", Weight: 2,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	view := decodeBody[DataSourceView](t, rr)
	assert.Equal(t, "read", view.Group)
	assert.Equal(t, 2, view.Weight)
	assert.Equal(t, "closed", view.BreakerState)

	entries, _, err := f.registry.ResolveGroup("read")
	require.NoError(t, err)
	assert.Len(t, entries, 3, "new member is routable right away")

	rr = f.do(t, http.MethodPost, "/api/datasources", CreateDataSourceRequest{
		Name: "replica3", Driver: "sqlite3", DSN: "file:other.db",
	})
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestCreateDataSource_Replace(t *testing.T) {
	f := newFixture(t)
	old := f.providers["replica1"]

	rr := f.do(t, http.MethodPost, "/api/datasources", CreateDataSourceRequest{
		Name: "replica1", Driver: "pgx", DSN: "postgres://new", Group: "read", Replace: true,
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.True(t, old.Closed(), "replaced provider is closed")
	assert.Equal(t, []string{"primary", "replica1", "replica2"}, f.registry.Names())
}

func TestCreateDataSource_Invalid(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		body   interface{}
		status int
		field  string
	}{
		{"missing name", CreateDataSourceRequest{Driver: "sqlite3", DSN: "x"}, http.StatusBadRequest, "name"},
		{"bad name", CreateDataSourceRequest{Name: "has space", Driver: "sqlite3", DSN: "x"}, http.StatusBadRequest, "name"},
		{"bad driver", CreateDataSourceRequest{Name: "a", Driver: "oracle", DSN: "x"}, http.StatusBadRequest, "driver"},
		{"negative weight", CreateDataSourceRequest{Name: "a", Driver: "redis", DSN: "x", Weight: -1}, http.StatusBadRequest, "weight"},
		{"malformed json", `{"name":`, http.StatusBadRequest, ""},
		{"unknown field", `{"name":"a","driver":"redis","dsn":"x","colour":"red"}`, http.StatusBadRequest, ""},
		{"bad lifetime", CreateDataSourceRequest{Name: "a", Driver: "redis", DSN: "x", ConnMaxLifetime: "soon"}, http.StatusBadRequest, ""},
		{"open failure", CreateDataSourceRequest{Name: "a", Driver: "redis", DSN: "unreachable"}, http.StatusInternalServerError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := f.do(t, http.MethodPost, "/api/datasources", tt.body)
			assert.Equal(t, tt.status, rr.Code, rr.Body.String())
			if tt.field != "" {
				resp := decodeBody[errorResponse](t, rr)
				require.NotEmpty(t, resp.Fields)
				assert.Equal(t, tt.field, resp.Fields[0].Field)
			}
		})
	}
	assert.False(t, f.registry.Contains("a"))
}

func TestCreateDataSource_Disabled(t *testing.T) {
	f := newFixture(t)
	router := NewRouter(New(f.ds, WithLogger(logging.NewNopLogger())), logging.NewNopLogger())

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/datasources", strings.NewReader("{}")))
	assert.Equal(t, http.StatusNotImplemented, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/health/check", nil))
	assert.Equal(t, http.StatusNotImplemented, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/breakers", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, "[]", rr.Body.String())
}

func TestDeleteDataSource(t *testing.T) {
	f := newFixture(t)
	p := f.providers["replica2"]

	entry, err := f.registry.Get("replica2")
	require.NoError(t, err)
	conn, err := entry.Acquire(context.Background())
	require.NoError(t, err)

	rr := f.do(t, http.MethodDelete, "/api/datasources/replica2", nil)
	require.Equal(t, http.StatusNoContent, rr.Code, "delete does not wait for borrowed connections")
	assert.False(t, f.registry.Contains("replica2"))
	assert.False(t, p.Closed(), "provider stays open while a connection is borrowed")

	require.NoError(t, conn.Close())
	assert.Eventually(t, p.Closed, 2*time.Second, 5*time.Millisecond)

	rr = f.do(t, http.MethodDelete, "/api/datasources/replica2", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSetHealth(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPut, "/api/datasources/replica1/health", map[string]bool{"healthy": false})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.False(t, decodeBody[DataSourceView](t, rr).Healthy)

	err := routing.NewInterceptor().Do(context.Background(), routing.Key("read"), func(ctx context.Context) error {
		for i := 0; i < 3; i++ {
			entry, err := f.ds.Determine(ctx)
			require.NoError(t, err)
			assert.Equal(t, "replica2", entry.Name)
		}
		return nil
	})
	require.NoError(t, err)

	rr = f.do(t, http.MethodPut, "/api/datasources/replica1/health", `{}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code, "healthy is required")

	rr = f.do(t, http.MethodPut, "/api/datasources/ghost/health", map[string]bool{"healthy": true})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRoutingSettings(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodGet, "/api/routing", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	view := decodeBody[RoutingView](t, rr)
	assert.Equal(t, "primary", view.Default)
	assert.Equal(t, strategy.KindLoadBalance, view.Strategy)
	assert.Equal(t, "fail_fast", view.Policy)
	assert.Contains(t, view.Strategies, strategy.KindHash)

	rr = f.do(t, http.MethodPut, "/api/routing/strategy", StrategyRequest{Kind: "random"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, strategy.KindRandom, f.ds.Strategy().Kind())

	rr = f.do(t, http.MethodPut, "/api/routing/strategy", StrategyRequest{Kind: "fastest"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, http.MethodPut, "/api/routing/default", DefaultRequest{Name: "replica1"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "replica1", f.ds.Default())

	rr = f.do(t, http.MethodPut, "/api/routing/default", DefaultRequest{Name: "ghost"})
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "replica1", f.ds.Default())
}

func TestCheckHealth(t *testing.T) {
	f := newFixture(t)
	f.providers["replica2"].SetPingError(testutil.ErrUnreachable)

	rr := f.do(t, http.MethodPost, "/api/health/check", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	resp := decodeBody[HealthCheckResponse](t, rr)
	assert.Equal(t, 1, resp.Unhealthy)
	require.Len(t, resp.Results, 3)
	assert.Equal(t, "replica2", resp.Results[2].Name)
	assert.True(t, resp.Results[2].Changed)
	assert.Equal(t, testutil.ErrUnreachable.Error(), resp.Results[2].Error)
}

func TestListBreakers(t *testing.T) {
	f := newFixture(t)
	f.breakers.GetOrCreate("replica1")

	rr := f.do(t, http.MethodGet, "/api/breakers", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	stats := decodeBody[[]circuitbreaker.Stats](t, rr)
	require.Len(t, stats, 1)
	assert.Equal(t, "closed", stats[0].State)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "dynamic_datasource_routing_registered_datasources")
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, http.MethodPatch, "/api/datasources/primary", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}
