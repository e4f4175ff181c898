package app

import (
	"context"
	"fmt"

	"dynamic-datasource/internal/common/logging"
	"dynamic-datasource/internal/config"
	"dynamic-datasource/internal/datasource"
)

// Opener builds the provider for one configured datasource.
type Opener func(ctx context.Context, cfg config.DataSourceConfig, logger logging.Logger) (datasource.ConnectionProvider, error)

// Register opens and registers every definition in order. If any step fails,
// everything registered by this call is removed and closed again, so the
// registry is left as it was.
func Register(ctx context.Context, registry *datasource.Registry, defs []config.DataSourceConfig, open Opener, logger logging.Logger) error {
	logger = logging.OrGlobal(logger)
	added := make([]string, 0, len(defs))

	rollback := func() {
		for i := len(added) - 1; i >= 0; i-- {
			p, err := registry.Remove(added[i])
			if err != nil {
				continue
			}
			if err := p.Close(); err != nil {
				logger.Error("Failed to close datasource during rollback", err, logging.DataSource(added[i]))
			}
		}
	}

	for _, def := range defs {
		if err := ctx.Err(); err != nil {
			rollback()
			return err
		}

		p, err := open(ctx, def, logger)
		if err != nil {
			rollback()
			return fmt.Errorf("register datasource %s: %w", def.Name, err)
		}

		opts := []datasource.AddOption{datasource.WithWeight(def.Weight)}
		if def.Group != "" {
			opts = append(opts, datasource.WithGroup(def.Group))
		}
		if _, err := registry.Add(def.Name, p, opts...); err != nil {
			_ = p.Close()
			rollback()
			return fmt.Errorf("register datasource %s: %w", def.Name, err)
		}
		added = append(added, def.Name)
	}

	logger.Info("Datasources registered", logging.Strings("datasources", added))
	return nil
}
