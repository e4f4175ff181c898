package routing

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"dynamic-datasource/internal/common/errors"
	"dynamic-datasource/internal/common/logging"
	"dynamic-datasource/internal/datasource"
	"dynamic-datasource/internal/metrics"
	"dynamic-datasource/internal/strategy"
	"dynamic-datasource/internal/tracing"
)

// UnknownKeyPolicy decides what happens when the active key is neither a
// registered name nor a known group.
type UnknownKeyPolicy int

const (
	// FailFast returns a not-found error.
	FailFast UnknownKeyPolicy = iota
	// FallbackToDefault routes to the default datasource, logging a warning
	// and counting the fallback.
	FallbackToDefault
)

func (p UnknownKeyPolicy) String() string {
	switch p {
	case FallbackToDefault:
		return "fallback_default"
	default:
		return "fail_fast"
	}
}

// ParseUnknownKeyPolicy parses "fail_fast" or "fallback_default".
func ParseUnknownKeyPolicy(s string) (UnknownKeyPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fail_fast":
		return FailFast, nil
	case "fallback_default":
		return FallbackToDefault, nil
	default:
		return FailFast, errors.ConfigError(fmt.Sprintf("unknown routing policy %q (use fail_fast or fallback_default)", s))
	}
}

// Option configures a DataSource.
type Option func(*DataSource)

// WithDefault sets the datasource used when no routing key is active.
func WithDefault(name string) Option {
	return func(d *DataSource) { d.defaultName.Store(&name) }
}

// WithUnknownKeyPolicy sets the unknown-key policy. Defaults to FailFast.
func WithUnknownKeyPolicy(policy UnknownKeyPolicy) Option {
	return func(d *DataSource) { d.policy = policy }
}

// WithLogger sets the logger. Defaults to the global logger.
func WithLogger(logger logging.Logger) Option {
	return func(d *DataSource) { d.logger = logger }
}

// WithTracer sets the tracer. Defaults to a noop tracer.
func WithTracer(tracer *tracing.Tracer) Option {
	return func(d *DataSource) { d.tracer = tracer }
}

// WithMetrics turns selection and acquisition metrics on or off. On by default.
func WithMetrics(enabled bool) Option {
	return func(d *DataSource) { d.metrics = enabled }
}

type strategyHolder struct {
	strategy.Strategy
}

// DataSource is the routing façade. It looks like a single datasource to its
// callers and forwards each Acquire to whichever registered datasource the
// active routing key resolves to. It holds no connections itself.
type DataSource struct {
	registry    *datasource.Registry
	strategy    atomic.Pointer[strategyHolder]
	defaultName atomic.Pointer[string]
	policy      UnknownKeyPolicy
	logger      logging.Logger
	tracer      *tracing.Tracer
	metrics     bool
}

// New creates a façade over registry. A nil strategy means load balancing.
func New(registry *datasource.Registry, s strategy.Strategy, opts ...Option) *DataSource {
	d := &DataSource{
		registry: registry,
		metrics:  true,
	}
	if s == nil {
		s = strategy.NewLoadBalance()
	}
	d.strategy.Store(&strategyHolder{s})

	for _, opt := range opts {
		opt(d)
	}
	if d.tracer == nil {
		d.tracer = tracing.Noop()
	}
	d.logger = logging.OrGlobal(d.logger).WithFields(logging.String("component", "routing"))
	return d
}

// Registry returns the registry the façade routes over.
func (d *DataSource) Registry() *datasource.Registry {
	return d.registry
}

// Strategy returns the active group strategy.
func (d *DataSource) Strategy() strategy.Strategy {
	return d.strategy.Load().Strategy
}

// SetStrategy swaps the group strategy. Selections already in progress finish
// with the old one.
func (d *DataSource) SetStrategy(s strategy.Strategy) {
	if s == nil {
		return
	}
	d.strategy.Store(&strategyHolder{s})
	d.logger.Info("Routing strategy changed", logging.String("strategy", s.Kind()))
}

// Default returns the name of the default datasource ("" when unset).
func (d *DataSource) Default() string {
	if name := d.defaultName.Load(); name != nil {
		return *name
	}
	return ""
}

// SetDefault changes the default datasource.
func (d *DataSource) SetDefault(name string) {
	d.defaultName.Store(&name)
	d.logger.Info("Default datasource changed", logging.DataSource(name))
}

// Policy returns the unknown-key policy.
func (d *DataSource) Policy() UnknownKeyPolicy {
	return d.policy
}

// Determine resolves the active routing key of ctx to a registered entry.
func (d *DataSource) Determine(ctx context.Context) (datasource.Entry, error) {
	key := CurrentKey(ctx)

	ctx, span := d.tracer.StartDetermine(ctx, key)
	defer d.tracer.EndSpan(span)

	entry, err := d.determine(ctx, key, span)
	if err != nil {
		d.tracer.RecordError(span, err)
		return datasource.Entry{}, err
	}
	return entry, nil
}

func (d *DataSource) determine(ctx context.Context, key string, span trace.Span) (datasource.Entry, error) {
	if key == DefaultKey {
		return d.defaultEntry(span)
	}

	entry, err := d.registry.Get(key)
	if err == nil {
		d.recordSelection(entry.Name, "")
		d.tracer.RecordSelected(span, entry.Name, "", "", 1)
		return entry, nil
	}
	if !errors.IsType(err, errors.ErrTypeNotFound) {
		return datasource.Entry{}, err
	}

	if d.registry.HasGroup(key) {
		return d.selectFromGroup(ctx, key, span)
	}

	if d.policy == FallbackToDefault {
		d.recordFailure(metrics.ReasonDefaultFallback)
		d.tracer.RecordFallback(span, metrics.ReasonUnknownKey)
		d.logger.Warn("Unknown routing key, using default datasource",
			logging.RoutingKey(key),
			logging.DataSource(d.Default()),
		)
		return d.defaultEntry(span)
	}

	d.recordFailure(metrics.ReasonUnknownKey)
	return datasource.Entry{}, errors.NotFoundError(fmt.Sprintf("datasource or group %s", key)).
		WithContext("routing_key", key)
}

func (d *DataSource) defaultEntry(span trace.Span) (datasource.Entry, error) {
	name := d.Default()
	if name == "" {
		d.recordFailure(metrics.ReasonNotFound)
		return datasource.Entry{}, errors.NotFoundError("default datasource")
	}

	entry, err := d.registry.Get(name)
	if err != nil {
		d.recordFailure(metrics.ReasonNotFound)
		return datasource.Entry{}, err
	}
	d.recordSelection(entry.Name, "")
	d.tracer.RecordSelected(span, entry.Name, "", "", 1)
	return entry, nil
}

func (d *DataSource) selectFromGroup(ctx context.Context, group string, span trace.Span) (datasource.Entry, error) {
	candidates, degraded, err := d.registry.ResolveGroup(group)
	if err != nil {
		d.recordFailure(metrics.ReasonNoCandidates)
		return datasource.Entry{}, err
	}
	if degraded {
		d.tracer.RecordDegraded(span)
	}

	s := d.Strategy()
	entry, err := s.Select(ctx, group, candidates)
	if err != nil {
		d.recordFailure(metrics.ReasonNoCandidates)
		return datasource.Entry{}, err
	}

	d.recordSelection(entry.Name, s.Kind())
	d.tracer.RecordSelected(span, entry.Name, group, s.Kind(), len(candidates))
	return entry, nil
}

// Acquire borrows a connection from the datasource the active key resolves
// to. The caller must Close the connection. Provider errors are returned
// wrapped with the datasource name and still match errors.Is; the selected
// entry is returned alongside so callers can tell which datasource failed.
// Calling Acquire again runs a fresh selection. The connection is wrapped so
// the registry can count it; datasource.As reaches the provider's own type.
func (d *DataSource) Acquire(ctx context.Context) (datasource.Connection, datasource.Entry, error) {
	entry, err := d.Determine(ctx)
	if err != nil {
		return nil, datasource.Entry{}, err
	}

	ctx, span := d.tracer.StartAcquire(ctx, entry.Name)
	defer d.tracer.EndSpan(span)

	start := time.Now()
	conn, err := entry.Acquire(ctx)
	if d.metrics {
		metrics.ObserveAcquire(entry.Name, time.Since(start))
	}
	if err != nil {
		d.recordFailure(metrics.ReasonProviderAcquire)
		d.tracer.RecordError(span, err)
		d.logger.WithContext(ctx).Warn("Failed to acquire connection",
			logging.DataSource(entry.Name),
			logging.Err(err),
		)
		return nil, entry, fmt.Errorf("acquire from datasource %s: %w", entry.Name, err)
	}
	return conn, entry, nil
}

// WithConnection acquires a connection, hands it to fn and closes it
// afterwards. The close error is returned only when fn succeeded.
func (d *DataSource) WithConnection(ctx context.Context, fn func(ctx context.Context, conn datasource.Connection) error) (err error) {
	conn, entry, err := d.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("release connection to datasource %s: %w", entry.Name, closeErr)
		}
	}()
	return fn(ctx, conn)
}

func (d *DataSource) recordSelection(name, kind string) {
	if d.metrics {
		metrics.RecordSelection(name, kind)
	}
}

func (d *DataSource) recordFailure(reason string) {
	if d.metrics {
		metrics.RecordLookupFailure(reason)
	}
}
