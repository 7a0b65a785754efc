// Package migrate runs goose migrations and seed files against one tenant's
// database handle.
//
// Unlike goose's package-level API, which keeps the dialect and version table
// in globals, every call here builds its own goose.Provider, so migrations of
// different tenants can run concurrently.
//
// Migrations are versioned in the configured table inside the tenant, so each
// tenant tracks its own schema version. Seeds are plain goose files run with
// versioning disabled: they are applied in full every time and must be
// written to be idempotent.
//
//	r := migrate.New(database.DialectPostgres,
//		migrate.WithMigrations("db/migrations"),
//		migrate.WithSeeds("db/seeds"),
//		migrate.WithLogger(log),
//	)
//	if err := r.Up(ctx, db, "acme"); err != nil {
//		return err
//	}
package migrate
