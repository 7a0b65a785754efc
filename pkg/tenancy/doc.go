// Package tenancy decides which tenant's data store a unit of work reads and
// writes, for applications that keep many tenants in one database system
// isolated by schema, database or connection target.
//
// # Architecture
//
//   - Adapter: the operations application code calls (Create, Drop, Switch,
//     SwitchPermanently, Current, Each, Reset, Seed, Migrate, SetCallback).
//     One implementation drives every backend through the small Driver
//     interface; the variants live in sub-packages (pgschema, pgdatabase,
//     mysql, sqlite, mongodb, memory).
//   - Registry: a static Kind → Constructor table filled at startup.
//     Unknown kinds fail with ErrUnsupportedAdapter, failing constructors
//     with ErrAdapterLoad.
//   - Manager and scopes: every unit of work carries a scope in its
//     context.Context (Manager.NewContext / Manager.Run). A scope owns one
//     adapter, built lazily, and with it the current tenant. Scopes are never
//     shared, so one goroutine's switch cannot leak into another.
//   - Policy: classifies entity types as tenant-scoped or shared from the
//     include/exclude lists and computes qualified table names.
//   - Hub: ordered, fail-fast listeners for tenant_created,
//     tenant_switched and tenant_dropped.
//
// Reload swaps the configuration and bumps a generation counter; scopes
// compare it on every access and rebuild a stale adapter, so no global lock
// is taken on the hot path.
//
// # Usage
//
//	registry := tenancy.NewRegistry()
//	registry.Register(tenancy.KindPostgresSchema, pgschema.New(pool))
//
//	m := tenancy.NewManager(registry, tenancy.WithEntityRegistry(catalog))
//	if err := m.Init(ctx, cfg); err != nil {
//		return err
//	}
//
//	err := m.Run(ctx, func(ctx context.Context) error {
//		return m.Switch(ctx, "acme", func(ctx context.Context) error {
//			conn, err := pgschema.Conn(ctx, m)
//			if err != nil {
//				return err
//			}
//			_, err = conn.Exec(ctx, "INSERT INTO orders (total) VALUES ($1)", 42)
//			return err
//		})
//	})
//
// # Error Handling
//
// Errors are sentinel values joined with their cause; test them with
// errors.Is. Backend failures are never retried. A scoped switch that cannot
// restore the previous tenant reports ErrRestoreFailed even when the unit of
// work failed too, because a scope left on the wrong tenant is worse than a
// lost error.
package tenancy
