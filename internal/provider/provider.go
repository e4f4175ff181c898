// Package provider turns datasource configuration into connection providers.
//
// Driver packages register a Factory under their driver name from init, the
// same way database/sql drivers do; importing them for side effects makes
// the driver available to Open:
//
//	import (
//		_ "dynamic-datasource/internal/provider/sqldb"
//		_ "dynamic-datasource/internal/provider/redis"
//	)
//
//	p, err := provider.Open(ctx, cfg.DataSources[0], logger)
package provider

import (
	"context"
	"fmt"
	"strings"

	"dynamic-datasource/internal/common/errors"
	"dynamic-datasource/internal/common/logging"
	"dynamic-datasource/internal/common/registry"
	"dynamic-datasource/internal/config"
	"dynamic-datasource/internal/datasource"
)

// Factory builds a provider for one configured datasource. Factories must
// not require the endpoint to be reachable: health checks decide that later.
type Factory func(ctx context.Context, cfg config.DataSourceConfig, logger logging.Logger) (datasource.ConnectionProvider, error)

var factories = registry.New[Factory]("datasource driver")

// Register makes a driver available to Open. Registering a driver twice
// replaces the earlier factory.
func Register(driver string, factory Factory) {
	factories.Register(driver, factory)
}

// Drivers returns the registered driver names, sorted.
func Drivers() []string {
	return factories.Keys()
}

// IsRegistered reports whether driver has a factory.
func IsRegistered(driver string) bool {
	return factories.IsRegistered(driver)
}

// Open builds the provider for cfg using the factory registered for its driver.
func Open(ctx context.Context, cfg config.DataSourceConfig, logger logging.Logger) (datasource.ConnectionProvider, error) {
	factory, err := factories.Get(cfg.Driver)
	if err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("datasource %s: unsupported driver %q (registered: %s)",
			cfg.Name, cfg.Driver, strings.Join(Drivers(), ", ")))
	}

	logger = logging.OrGlobal(logger).WithFields(
		logging.DataSource(cfg.Name),
		logging.String("driver", cfg.Driver),
	)
	p, err := factory(ctx, cfg, logger)
	if err != nil {
		return nil, errors.ConnectionError(fmt.Sprintf("open datasource %s", cfg.Name), err)
	}
	logger.Debug("Datasource provider opened")
	return p, nil
}
