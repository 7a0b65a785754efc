// Package pg connects to PostgreSQL with pgx/v5 and classifies the server
// errors the tenancy drivers care about.
//
// Connect builds a *pgxpool.Pool from Config (populated from PG_* environment
// variables) and retries until the server answers a ping. The pool is shared
// by every tenant scope: the schema-per-tenant driver acquires one dedicated
// connection per scope and points its search_path at the active tenant.
//
//	var cfg pg.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
// # Error Handling
//
// IsDuplicateSchemaError, IsInvalidSchemaNameError, IsDuplicateDatabaseError,
// IsInvalidCatalogNameError and IsConnectionError unwrap *pgconn.PgError and
// friends so drivers can map them onto the tenancy sentinels.
package pg
