// Package health keeps datasource health flags current by pinging every
// registered provider on a cron schedule.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"dynamic-datasource/internal/common/errors"
	"dynamic-datasource/internal/common/logging"
	"dynamic-datasource/internal/datasource"
	"dynamic-datasource/internal/tracing"
)

const (
	// DefaultSchedule runs a round every 30 seconds.
	DefaultSchedule = "@every 30s"
	// DefaultTimeout bounds a single ping.
	DefaultTimeout = 5 * time.Second

	maxConcurrentPings = 32
)

// Config controls the checker.
type Config struct {
	Schedule string
	Timeout  time.Duration
}

// Result is the outcome of pinging one datasource.
type Result struct {
	Name    string
	Healthy bool
	Changed bool
	Err     error
}

// Report summarises one round.
type Report struct {
	Results   []Result
	Unhealthy int
	Duration  time.Duration
}

// Checker pings providers and flips registry health flags when the outcome
// changes.
type Checker struct {
	registry *datasource.Registry
	config   Config
	logger   logging.Logger
	tracer   *tracing.Tracer

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
	roundMu sync.Mutex
	last    *Report
}

// Option customises a Checker.
type Option func(*Checker)

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *Checker) { c.logger = logger }
}

// WithTracer sets the tracer.
func WithTracer(tracer *tracing.Tracer) Option {
	return func(c *Checker) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// NewChecker validates config and creates a stopped checker.
func NewChecker(registry *datasource.Registry, config Config, opts ...Option) (*Checker, error) {
	if registry == nil {
		return nil, errors.ConfigError("health checker needs a registry")
	}
	if config.Schedule == "" {
		config.Schedule = DefaultSchedule
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if _, err := cron.ParseStandard(config.Schedule); err != nil {
		return nil, errors.ConfigError("invalid health check schedule " + config.Schedule).WithContext("cause", err.Error())
	}

	c := &Checker{
		registry: registry,
		config:   config,
		tracer:   tracing.Noop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrGlobal(c.logger).WithFields(logging.String("component", "health"))
	return c, nil
}

// Start schedules rounds until Stop is called. Calling Start twice is a no-op.
func (c *Checker) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	scheduler := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := scheduler.AddFunc(c.config.Schedule, func() {
		c.CheckNow(context.Background())
	}); err != nil {
		return errors.ConfigError("invalid health check schedule " + c.config.Schedule).WithContext("cause", err.Error())
	}
	scheduler.Start()

	c.cron = scheduler
	c.running = true
	c.logger.Info("Health checker started",
		logging.String("schedule", c.config.Schedule),
		logging.Duration("timeout", c.config.Timeout),
	)
	return nil
}

// Stop halts scheduling and waits for a running round to finish or ctx to
// expire.
func (c *Checker) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	done := c.cron.Stop()
	c.running = false
	c.mu.Unlock()

	select {
	case <-done.Done():
		c.logger.Info("Health checker stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether Start has been called without a matching Stop.
func (c *Checker) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// CheckNow runs one round synchronously. Providers are pinged in parallel,
// at most 32 at a time, each with its own timeout. Rounds never overlap.
func (c *Checker) CheckNow(ctx context.Context) Report {
	c.roundMu.Lock()
	defer c.roundMu.Unlock()

	ctx, span := c.tracer.StartHealthCheck(ctx)
	defer c.tracer.EndSpan(span)

	start := time.Now()
	entries := c.registry.Snapshot()
	results := make([]Result, len(entries))

	var g errgroup.Group
	g.SetLimit(maxConcurrentPings)
	for i, entry := range entries {
		i, entry := i, entry
		g.Go(func() error {
			results[i] = c.check(ctx, entry)
			return nil
		})
	}
	_ = g.Wait()

	report := Report{Results: results, Duration: time.Since(start)}
	for _, r := range results {
		if !r.Healthy {
			report.Unhealthy++
		}
	}
	c.tracer.RecordHealthRound(span, len(results), report.Unhealthy)
	c.logger.Debug("Health check round finished",
		logging.Int("checked", len(results)),
		logging.Int("unhealthy", report.Unhealthy),
		logging.Duration("duration", report.Duration),
	)

	c.last = &report
	return report
}

// LastReport returns the most recent round, if any.
func (c *Checker) LastReport() (Report, bool) {
	c.roundMu.Lock()
	defer c.roundMu.Unlock()
	if c.last == nil {
		return Report{}, false
	}
	return *c.last, true
}

func (c *Checker) check(ctx context.Context, entry datasource.Entry) Result {
	pingCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	err := entry.Provider.Ping(pingCtx)
	result := Result{Name: entry.Name, Healthy: err == nil, Err: err}

	// The snapshot flag may be stale by now, so always write the result and
	// let the registry say whether it flipped.
	changed, markErr := c.registry.MarkHealthy(entry.Name, result.Healthy)
	if markErr != nil {
		// Removed while the ping was in flight.
		c.logger.Debug("Skipping health update for removed datasource", logging.DataSource(entry.Name))
		return result
	}
	result.Changed = changed
	if changed && err != nil {
		c.logger.Warn("Datasource ping failed", logging.DataSource(entry.Name), logging.Err(err))
	}
	return result
}
