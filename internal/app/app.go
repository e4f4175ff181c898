// Package app wires configuration, providers, routing, health checking and
// the admin server into one running process.
package app

import (
	"context"
	"time"

	"dynamic-datasource/internal/admin"
	"dynamic-datasource/internal/circuitbreaker"
	"dynamic-datasource/internal/common/logging"
	"dynamic-datasource/internal/config"
	"dynamic-datasource/internal/datasource"
	"dynamic-datasource/internal/health"
	"dynamic-datasource/internal/provider"
	"dynamic-datasource/internal/routing"
	"dynamic-datasource/internal/strategy"
	"dynamic-datasource/internal/tracing"

	// Provider drivers
	_ "dynamic-datasource/internal/provider/pgxpool"
	_ "dynamic-datasource/internal/provider/redis"
	_ "dynamic-datasource/internal/provider/sqldb"
)

// ServiceName identifies this process in traces.
const ServiceName = "dynamic-datasource"

// App holds all the application dependencies
type App struct {
	Config      *config.Config
	Registry    *datasource.Registry
	Router      *routing.DataSource
	Interceptor *routing.Interceptor
	Checker     *health.Checker
	Breakers    *circuitbreaker.Manager
	Tracing     *tracing.Provider
	Logger      logging.Logger

	adminServer *admin.Server
	opener      Opener
}

// Option customises App construction.
type Option func(*App)

// WithOpener replaces provider.Open, mainly for tests.
func WithOpener(open Opener) Option {
	return func(a *App) { a.opener = open }
}

// WithLogger sets the logger. Defaults to the global logger.
func WithLogger(logger logging.Logger) Option {
	return func(a *App) { a.Logger = logger }
}

// New creates a new application instance with all dependencies. cfg must
// already be validated. Nothing is started yet; see Start.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	app := &App{
		Config: cfg,
		opener: provider.Open,
	}
	for _, opt := range opts {
		opt(app)
	}
	app.Logger = logging.OrGlobal(app.Logger).WithFields(logging.String("component", "app"))

	s, err := strategy.New(cfg.Strategy)
	if err != nil {
		return nil, err
	}
	policy, err := routing.ParseUnknownKeyPolicy(cfg.UnknownKeyPolicy)
	if err != nil {
		return nil, err
	}

	app.Tracing, err = tracing.NewProvider(tracing.Config{
		Enabled:     cfg.TracingEnabled,
		Exporter:    cfg.TracingExporter,
		SampleRate:  cfg.TracingSampleRate,
		ServiceName: ServiceName,
	})
	if err != nil {
		return nil, err
	}
	tracer := app.Tracing.Tracer()

	app.Registry = datasource.NewRegistry(app.Logger)
	if cfg.BreakerEnabled {
		app.Breakers = circuitbreaker.NewManager(app.Registry, circuitbreaker.Config{
			MaxFailures:           cfg.BreakerMaxFailures,
			Timeout:               cfg.BreakerTimeout,
			MaxConcurrentRequests: 1,
			Interval:              time.Minute,
		}, app.Logger)
	}

	if err := Register(ctx, app.Registry, cfg.DataSources, app.open, app.Logger); err != nil {
		_ = app.Tracing.Shutdown(context.Background())
		return nil, err
	}

	app.Router = routing.New(app.Registry, s,
		routing.WithDefault(cfg.DefaultDataSource),
		routing.WithUnknownKeyPolicy(policy),
		routing.WithLogger(app.Logger),
		routing.WithTracer(tracer),
	)
	app.Interceptor = routing.NewInterceptor(
		routing.WithInterceptorLogger(app.Logger),
		routing.WithInterceptorTracer(tracer),
	)

	app.Checker, err = health.NewChecker(app.Registry, health.Config{
		Schedule: cfg.HealthCheckSchedule,
		Timeout:  cfg.HealthCheckTimeout,
	}, health.WithLogger(app.Logger), health.WithTracer(tracer))
	if err != nil {
		_ = app.Registry.Close()
		_ = app.Tracing.Shutdown(context.Background())
		return nil, err
	}

	if cfg.AdminAddr != "" {
		handlers := admin.New(app.Router,
			admin.WithChecker(app.Checker),
			admin.WithBreakers(app.Breakers),
			admin.WithOpener(func(ctx context.Context, def config.DataSourceConfig) (datasource.ConnectionProvider, error) {
				return app.open(ctx, def, app.Logger)
			}),
			admin.WithLogger(app.Logger),
		)
		app.adminServer = admin.NewServer(cfg.AdminAddr, admin.NewRouter(handlers, app.Logger), app.Logger)
	}

	return app, nil
}

// open builds a provider and guards it with a breaker when breakers are on.
func (app *App) open(ctx context.Context, def config.DataSourceConfig, logger logging.Logger) (datasource.ConnectionProvider, error) {
	p, err := app.opener(ctx, def, logger)
	if err != nil {
		return nil, err
	}
	if app.Breakers != nil {
		return app.Breakers.Guard(def.Name, p), nil
	}
	return p, nil
}

// Start runs a first health round, then starts scheduled health checks and
// the admin server.
func (app *App) Start(ctx context.Context) error {
	report := app.Checker.CheckNow(ctx)
	if report.Unhealthy > 0 {
		app.Logger.Warn("Some datasources failed their first health check",
			logging.Int("unhealthy", report.Unhealthy),
			logging.Int("checked", len(report.Results)),
		)
	}

	if err := app.Checker.Start(); err != nil {
		return err
	}
	if app.adminServer != nil {
		if err := app.adminServer.Start(); err != nil {
			return err
		}
	}
	return nil
}

// Errors reports fatal background errors. It never delivers when the admin
// server is disabled.
func (app *App) Errors() <-chan error {
	if app.adminServer == nil {
		return nil
	}
	return app.adminServer.Errors()
}

// Close stops background work and releases every provider. All steps run
// even if one fails; the first error is returned.
func (app *App) Close(ctx context.Context) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if app.adminServer != nil {
		keep(app.adminServer.Shutdown(ctx))
	}
	keep(app.Checker.Stop(ctx))
	keep(app.Registry.Close())
	keep(app.Tracing.Shutdown(ctx))
	return firstErr
}
