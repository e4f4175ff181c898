package app

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"dynamic-datasource/internal/common/logging"
	"dynamic-datasource/internal/config"
)

// Run is the main entry point for the dsrouter binary.
func Run() error {
	envFile := flag.String("env-file", ".env", "Optional dotenv file loaded before reading the environment")
	shutdownTimeout := flag.Duration("shutdown-timeout", 30*time.Second, "Graceful shutdown timeout")
	flag.Parse()

	// A missing env file is fine; the environment alone may be enough
	_ = godotenv.Load(*envFile)

	cfg := config.Load()

	logging.InitGlobalLogger(cfg.LogLevel, cfg.LogFormat, nil)
	defer logging.MustSync()

	if err := cfg.Validate(); err != nil {
		logging.Error("Configuration validation failed", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := New(ctx, cfg)
	if err != nil {
		logging.Error("Failed to initialize application", err)
		return err
	}

	logging.Info("Starting datasource router",
		logging.Strings("datasources", app.Registry.Names()),
		logging.String("default", app.Router.Default()),
		logging.String("strategy", app.Router.Strategy().Kind()),
	)

	if err := app.Start(ctx); err != nil {
		logging.Error("Failed to start application", err)
		_ = app.Close(context.Background())
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
		logging.Info("Shutting down...")
	case err, ok := <-app.Errors():
		if ok {
			logging.Error("Admin server failed", err)
			runErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), *shutdownTimeout)
	defer cancel()
	if err := app.Close(shutdownCtx); err != nil {
		logging.Error("Shutdown finished with errors", err)
		if runErr == nil {
			runErr = err
		}
	}
	logging.Info("Datasource router stopped")
	return runErr
}
