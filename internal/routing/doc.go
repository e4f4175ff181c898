// Package routing decides which registered datasource serves the current unit
// of work.
//
// # Overview
//
// Callers never pick a datasource directly. They declare intent with a
// routing key ("replica", "orders", "tenant_42") around a piece of work, and
// the DataSource façade resolves that key when a connection is requested:
//
//   - the key names a registered datasource: that one is used
//   - the key names a group: the configured strategy picks a member
//   - there is no key: the default datasource is used
//   - the key is unknown: the unknown-key policy decides (fail or fall back)
//
// # Routing stack
//
// Keys live on an immutable Stack carried in the context.Context. A nested
// scope derives a new context with its key on top, so a helper that routes
// to "primary" inside a "replica" scope leaves the caller on "replica"
// afterwards. Scoped contexts can be handed to other goroutines as they are:
// each one pushing its own key sees only its own.
//
// # Usage
//
//	registry := datasource.NewRegistry(nil)
//	registry.Add("primary", primaryProvider)
//	registry.Add("replica1", r1, datasource.WithGroup("read"))
//	registry.Add("replica2", r2, datasource.WithGroup("read"))
//
//	ds := routing.New(registry, strategy.NewLoadBalance(), routing.WithDefault("primary"))
//	interceptor := routing.NewInterceptor()
//
//	err := interceptor.Do(ctx, routing.Key("read"), func(ctx context.Context) error {
//		conn, _, err := ds.Acquire(ctx)
//		if err != nil {
//			return err
//		}
//		defer conn.Close()
//		// replica1 or replica2
//		return nil
//	})
package routing
