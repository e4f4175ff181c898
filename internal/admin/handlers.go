// Package admin exposes the datasource registry and routing settings over
// HTTP: listing datasources, adding and removing them at runtime, flipping
// health flags, switching strategy and default, and serving metrics.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"dynamic-datasource/internal/circuitbreaker"
	"dynamic-datasource/internal/common/errors"
	"dynamic-datasource/internal/common/logging"
	"dynamic-datasource/internal/common/validation"
	"dynamic-datasource/internal/config"
	"dynamic-datasource/internal/datasource"
	"dynamic-datasource/internal/health"
	"dynamic-datasource/internal/routing"
	"dynamic-datasource/internal/strategy"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Opener builds a provider for a datasource added at runtime.
type Opener func(ctx context.Context, cfg config.DataSourceConfig) (datasource.ConnectionProvider, error)

// Handlers serves the admin API.
type Handlers struct {
	router    *routing.DataSource
	registry  *datasource.Registry
	checker   *health.Checker
	breakers  *circuitbreaker.Manager
	opener    Opener
	validator *validation.Validator
	logger    logging.Logger
}

// Option customises Handlers.
type Option func(*Handlers)

// WithChecker enables the health check endpoint.
func WithChecker(checker *health.Checker) Option {
	return func(h *Handlers) { h.checker = checker }
}

// WithBreakers enables the circuit breaker endpoint and breaker cleanup on delete.
func WithBreakers(breakers *circuitbreaker.Manager) Option {
	return func(h *Handlers) { h.breakers = breakers }
}

// WithOpener enables adding datasources at runtime.
func WithOpener(opener Opener) Option {
	return func(h *Handlers) { h.opener = opener }
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(h *Handlers) { h.logger = logger }
}

// New creates the admin handlers for router.
func New(router *routing.DataSource, opts ...Option) *Handlers {
	h := &Handlers{
		router:    router,
		registry:  router.Registry(),
		validator: validation.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = logging.OrGlobal(h.logger).WithFields(logging.String("component", "admin"))
	return h
}

// DataSourceView is the JSON form of a registry entry.
type DataSourceView struct {
	Name         string `json:"name"`
	Group        string `json:"group,omitempty"`
	Weight       int    `json:"weight"`
	Healthy      bool   `json:"healthy"`
	Default      bool   `json:"default"`
	BreakerState string `json:"breaker_state,omitempty"`
}

// CreateDataSourceRequest adds a datasource.
type CreateDataSourceRequest struct {
	Name            string `json:"name" validate:"required,datasource_name"`
	Driver          string `json:"driver" validate:"required,oneof=sqlite3 pgx pgxpool redis"`
	DSN             string `json:"dsn" validate:"required"`
	Group           string `json:"group,omitempty" validate:"omitempty,datasource_name"`
	Weight          int    `json:"weight,omitempty" validate:"min=0"`
	MaxOpenConns    int    `json:"max_open_conns,omitempty" validate:"min=0"`
	MaxIdleConns    int    `json:"max_idle_conns,omitempty" validate:"min=0"`
	ConnMaxLifetime string `json:"conn_max_lifetime,omitempty"`
	Replace         bool   `json:"replace,omitempty"`
}

// HealthRequest sets a health flag.
type HealthRequest struct {
	Healthy *bool `json:"healthy" validate:"required"`
}

// StrategyRequest switches the group strategy.
type StrategyRequest struct {
	Kind string `json:"kind" validate:"required,strategy_kind"`
}

// DefaultRequest changes the default datasource.
type DefaultRequest struct {
	Name string `json:"name" validate:"required,datasource_name"`
}

// RoutingView describes the routing settings.
type RoutingView struct {
	Default    string   `json:"default"`
	Strategy   string   `json:"strategy"`
	Policy     string   `json:"unknown_key_policy"`
	Strategies []string `json:"available_strategies"`
}

// HealthCheckResult is one datasource in a health check response.
type HealthCheckResult struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Changed bool   `json:"changed"`
	Error   string `json:"error,omitempty"`
}

// HealthCheckResponse is the outcome of a forced health round.
type HealthCheckResponse struct {
	Results    []HealthCheckResult `json:"results"`
	Unhealthy  int                 `json:"unhealthy"`
	DurationMS int64               `json:"duration_ms"`
}

type errorResponse struct {
	Error  string                  `json:"error"`
	Type   errors.ErrorType        `json:"type"`
	Fields []validation.FieldError `json:"fields,omitempty"`
}

// Health reports liveness plus a registry summary.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	entries := h.registry.Snapshot()
	unhealthy := 0
	for _, e := range entries {
		if !e.Healthy {
			unhealthy++
		}
	}
	h.sendJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"datasources": len(entries),
		"unhealthy":   unhealthy,
	})
}

// ListDataSources returns every registered datasource in registration order.
func (h *Handlers) ListDataSources(w http.ResponseWriter, r *http.Request) {
	entries := h.registry.Snapshot()
	views := make([]DataSourceView, len(entries))
	for i, e := range entries {
		views[i] = h.view(e)
	}
	h.sendJSONResponse(w, http.StatusOK, views)
}

// GetDataSource returns one datasource.
func (h *Handlers) GetDataSource(w http.ResponseWriter, r *http.Request) {
	entry, err := h.registry.Get(mux.Vars(r)["name"])
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendJSONResponse(w, http.StatusOK, h.view(entry))
}

// CreateDataSource opens and registers a datasource.
func (h *Handlers) CreateDataSource(w http.ResponseWriter, r *http.Request) {
	if h.opener == nil {
		http.Error(w, "adding datasources at runtime is not enabled", http.StatusNotImplemented)
		return
	}

	var req CreateDataSourceRequest
	if !h.decode(w, r, &req) {
		return
	}

	cfg := config.DataSourceConfig{
		Name:         req.Name,
		Driver:       req.Driver,
		DSN:          req.DSN,
		Group:        req.Group,
		Weight:       req.Weight,
		MaxOpenConns: req.MaxOpenConns,
		MaxIdleConns: req.MaxIdleConns,
	}
	if cfg.Weight == 0 {
		cfg.Weight = 1
	}
	if req.ConnMaxLifetime != "" {
		lifetime, err := time.ParseDuration(req.ConnMaxLifetime)
		if err != nil || lifetime < 0 {
			h.sendError(w, errors.ValidationError(fmt.Sprintf("field 'conn_max_lifetime' must be a duration, got %q", req.ConnMaxLifetime)))
			return
		}
		cfg.ConnMaxLifetime = lifetime
	}

	if !req.Replace && h.registry.Contains(req.Name) {
		h.sendError(w, errors.DuplicateNameError(req.Name))
		return
	}

	provider, err := h.opener(r.Context(), cfg)
	if err != nil {
		h.sendError(w, err)
		return
	}

	opts := []datasource.AddOption{datasource.WithGroup(cfg.Group), datasource.WithWeight(cfg.Weight)}
	if req.Replace {
		opts = append(opts, datasource.Replace())
	}
	replaced, err := h.registry.Add(cfg.Name, provider, opts...)
	if err != nil {
		_ = provider.Close()
		h.sendError(w, err)
		return
	}
	if replaced != nil {
		if err := replaced.Close(); err != nil {
			h.logger.Error("Failed to close replaced datasource", err, logging.DataSource(cfg.Name))
		}
	}

	entry, err := h.registry.Get(cfg.Name)
	if err != nil {
		h.sendError(w, err)
		return
	}
	status := http.StatusCreated
	if replaced != nil {
		status = http.StatusOK
	}
	h.sendJSONResponse(w, status, h.view(entry))
}

// DeleteDataSource unregisters a datasource and retires its provider. The
// provider is closed once connections already borrowed are returned, so the
// response does not wait for them.
func (h *Handlers) DeleteDataSource(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	lease, err := h.registry.Remove(name)
	if err != nil {
		h.sendError(w, err)
		return
	}
	if h.breakers != nil {
		h.breakers.Remove(name)
	}
	if name == h.router.Default() {
		h.logger.Warn("Removed the default datasource; default lookups will fail until it is replaced",
			logging.DataSource(name))
	}
	if err := lease.Close(); err != nil {
		h.logger.Error("Failed to close removed datasource", err, logging.DataSource(name))
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetHealth sets the health flag of a datasource.
func (h *Handlers) SetHealth(w http.ResponseWriter, r *http.Request) {
	var req HealthRequest
	if !h.decode(w, r, &req) {
		return
	}

	name := mux.Vars(r)["name"]
	if _, err := h.registry.MarkHealthy(name, *req.Healthy); err != nil {
		h.sendError(w, err)
		return
	}
	entry, err := h.registry.Get(name)
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendJSONResponse(w, http.StatusOK, h.view(entry))
}

// GetRouting returns the routing settings.
func (h *Handlers) GetRouting(w http.ResponseWriter, r *http.Request) {
	h.sendJSONResponse(w, http.StatusOK, h.routingView())
}

// SetStrategy switches the group strategy.
func (h *Handlers) SetStrategy(w http.ResponseWriter, r *http.Request) {
	var req StrategyRequest
	if !h.decode(w, r, &req) {
		return
	}
	s, err := strategy.New(req.Kind)
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.router.SetStrategy(s)
	h.sendJSONResponse(w, http.StatusOK, h.routingView())
}

// SetDefault changes the default datasource. The name must be registered.
func (h *Handlers) SetDefault(w http.ResponseWriter, r *http.Request) {
	var req DefaultRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !h.registry.Contains(req.Name) {
		h.sendError(w, errors.NotFoundError(fmt.Sprintf("datasource %s", req.Name)))
		return
	}
	h.router.SetDefault(req.Name)
	h.sendJSONResponse(w, http.StatusOK, h.routingView())
}

// CheckHealth runs a health round now.
func (h *Handlers) CheckHealth(w http.ResponseWriter, r *http.Request) {
	if h.checker == nil {
		http.Error(w, "health checking is not enabled", http.StatusNotImplemented)
		return
	}

	report := h.checker.CheckNow(r.Context())
	resp := HealthCheckResponse{
		Results:    make([]HealthCheckResult, len(report.Results)),
		Unhealthy:  report.Unhealthy,
		DurationMS: report.Duration.Milliseconds(),
	}
	for i, res := range report.Results {
		resp.Results[i] = HealthCheckResult{Name: res.Name, Healthy: res.Healthy, Changed: res.Changed}
		if res.Err != nil {
			resp.Results[i].Error = res.Err.Error()
		}
	}
	h.sendJSONResponse(w, http.StatusOK, resp)
}

// ListBreakers returns circuit breaker stats.
func (h *Handlers) ListBreakers(w http.ResponseWriter, r *http.Request) {
	if h.breakers == nil {
		h.sendJSONResponse(w, http.StatusOK, []circuitbreaker.Stats{})
		return
	}
	h.sendJSONResponse(w, http.StatusOK, h.breakers.AllStats())
}

func (h *Handlers) view(e datasource.Entry) DataSourceView {
	v := DataSourceView{
		Name:    e.Name,
		Group:   e.Group,
		Weight:  e.EffectiveWeight(),
		Healthy: e.Healthy,
		Default: e.Name == h.router.Default(),
	}
	if h.breakers != nil {
		if b, ok := h.breakers.Get(e.Name); ok {
			v.BreakerState = b.State().String()
		}
	}
	return v
}

func (h *Handlers) routingView() RoutingView {
	return RoutingView{
		Default:    h.router.Default(),
		Strategy:   h.router.Strategy().Kind(),
		Policy:     h.router.Policy().String(),
		Strategies: strategy.Kinds(),
	}
}

// decode reads a JSON body into dst and validates it. It writes the error
// response itself and reports whether the handler should continue.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.sendError(w, errors.ValidationError(fmt.Sprintf("invalid request body: %v", err)))
		return false
	}
	if fields := h.validator.FieldErrors(dst); len(fields) > 0 {
		h.sendJSONResponse(w, http.StatusBadRequest, errorResponse{
			Error:  fields[0].Message,
			Type:   errors.ErrTypeValidation,
			Fields: fields,
		})
		return false
	}
	return true
}

func (h *Handlers) sendJSONResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode response", err)
	}
}

func (h *Handlers) sendError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Admin request failed", err)
	}
	h.sendJSONResponse(w, status, errorResponse{Error: err.Error(), Type: errors.GetType(err)})
}

func statusFor(err error) int {
	switch errors.GetType(err) {
	case errors.ErrTypeValidation, errors.ErrTypeConfig:
		return http.StatusBadRequest
	case errors.ErrTypeNotFound:
		return http.StatusNotFound
	case errors.ErrTypeDuplicate:
		return http.StatusConflict
	case errors.ErrTypeConnection:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
