// Package pgschema isolates tenants as PostgreSQL schemas in one database.
//
// Each adapter handle acquires a dedicated connection from a shared pgx pool
// and switches tenants with SET search_path on it, so a switch never affects
// another scope's session. Persistent schemas from the configuration stay on
// the search path behind the tenant schema.
package pgschema

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3/database"

	"github.com/dasaradhy/apartment/pkg/logger"
	"github.com/dasaradhy/apartment/pkg/migrate"
	"github.com/dasaradhy/apartment/pkg/pg"
	"github.com/dasaradhy/apartment/pkg/tenancy"
)

const releaseTimeout = 5 * time.Second

// Option configures the constructor.
type Option func(*options)

type options struct {
	log *slog.Logger
}

// WithLogger sets the logger used for migrations and seeds.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = logger.Ensure(l) }
}

// New returns the constructor for the postgresql_schema adapter. Every
// driver it builds holds one connection of pool until closed.
func New(pool *pgxpool.Pool, opts ...Option) tenancy.Constructor {
	o := options{log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	return func(ctx context.Context, cfg tenancy.Config) (tenancy.Driver, error) {
		if pool == nil {
			return nil, errors.New("pgschema: nil pool")
		}
		conn, err := pool.Acquire(ctx)
		if err != nil {
			return nil, errors.Join(tenancy.ErrBackendUnavailable, err)
		}
		return &Driver{
			pool:       pool,
			conn:       conn,
			defaultTen: cfg.DefaultTenant,
			persistent: append([]string{}, cfg.PersistentSchemas...),
			runner: migrate.New(database.DialectPostgres,
				migrate.WithMigrations(cfg.MigrationsPath),
				migrate.WithSeeds(cfg.SeedsPath),
				migrate.WithTable(cfg.MigrationsTable),
				migrate.WithLogger(o.log),
			),
		}, nil
	}
}

// Driver is a tenant session bound to one pooled connection.
type Driver struct {
	pool       *pgxpool.Pool
	conn       *pgxpool.Conn
	defaultTen string
	persistent []string
	runner     *migrate.Runner
}

// errReleased is returned once Close has handed the session back to the pool.
var errReleased = errors.Join(tenancy.ErrScopeClosed, errors.New("pgschema: session released"))

var (
	_ tenancy.Driver   = (*Driver)(nil)
	_ tenancy.Seeder   = (*Driver)(nil)
	_ tenancy.Migrator = (*Driver)(nil)
)

func (d *Driver) Create(ctx context.Context, tenant string) error {
	if d.conn == nil {
		return errReleased
	}
	_, err := d.conn.Exec(ctx, "CREATE SCHEMA "+quote(tenant))
	switch {
	case err == nil:
		return nil
	case pg.IsDuplicateSchemaError(err):
		return errors.Join(tenancy.ErrTenantAlreadyExists, fmt.Errorf("schema %q", tenant), err)
	default:
		return classify(err)
	}
}

func (d *Driver) Drop(ctx context.Context, tenant string) error {
	if d.conn == nil {
		return errReleased
	}
	_, err := d.conn.Exec(ctx, "DROP SCHEMA "+quote(tenant)+" CASCADE")
	switch {
	case err == nil:
		return nil
	case pg.IsInvalidSchemaNameError(err):
		return errors.Join(tenancy.ErrTenantNotFound, fmt.Errorf("schema %q", tenant), err)
	default:
		return classify(err)
	}
}

// Activate sets the search path. Postgres accepts a search_path naming a
// missing schema, so existence is checked first.
func (d *Driver) Activate(ctx context.Context, tenant string) error {
	if d.conn == nil {
		return errReleased
	}
	if tenant != d.defaultTen {
		exists, err := d.exists(ctx, tenant)
		if err != nil {
			return classify(err)
		}
		if !exists {
			return errors.Join(tenancy.ErrTenantNotFound, fmt.Errorf("schema %q", tenant))
		}
	}
	if _, err := d.conn.Exec(ctx, "SET search_path TO "+d.searchPath(tenant)); err != nil {
		return classify(err)
	}
	return nil
}

func (d *Driver) Tenants(ctx context.Context) ([]string, error) {
	if d.conn == nil {
		return nil, errReleased
	}
	rows, err := d.conn.Query(ctx, `
		SELECT nspname FROM pg_catalog.pg_namespace
		WHERE nspname NOT LIKE 'pg\_%'
		  AND nspname <> 'information_schema'
		  AND nspname <> $1
		  AND NOT (nspname = ANY($2::text[]))
		ORDER BY nspname`, d.defaultTen, d.persistent)
	if err != nil {
		return nil, classify(err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, classify(err)
	}
	return names, nil
}

// Migrate runs the configured migrations inside tenant's schema.
func (d *Driver) Migrate(ctx context.Context, tenant string) error {
	if !d.runner.HasMigrations() {
		return nil
	}
	db := d.openDB(tenant)
	defer db.Close()
	return d.runner.Up(ctx, db, tenant)
}

// Seed runs the configured seed files inside tenant's schema.
func (d *Driver) Seed(ctx context.Context, tenant string) error {
	if !d.runner.HasSeeds() {
		return nil
	}
	db := d.openDB(tenant)
	defer db.Close()
	return d.runner.Seed(ctx, db, tenant)
}

// Conn returns the connection the session runs on. Queries issued on it see
// the active tenant's tables.
func (d *Driver) Conn() *pgxpool.Conn { return d.conn }

// Close resets the search path and returns the connection to the pool. A
// connection that cannot be reset is closed instead of being reused.
func (d *Driver) Close() error {
	if d.conn == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	_, err := d.conn.Exec(ctx, "RESET search_path")
	if err != nil {
		_ = d.conn.Conn().Close(ctx)
	}
	d.conn.Release()
	d.conn = nil
	return err
}

func (d *Driver) exists(ctx context.Context, schema string) (bool, error) {
	var ok bool
	err := d.conn.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM pg_catalog.pg_namespace WHERE nspname = $1)", schema).Scan(&ok)
	return ok, err
}

func (d *Driver) searchPath(tenant string) string {
	parts := make([]string, 0, len(d.persistent)+1)
	parts = append(parts, quote(tenant))
	for _, s := range d.persistent {
		if s != tenant {
			parts = append(parts, quote(s))
		}
	}
	return strings.Join(parts, ", ")
}

// openDB opens a database/sql handle whose connections start with tenant's
// search path, for goose.
func (d *Driver) openDB(tenant string) *sql.DB {
	connConfig := d.pool.Config().ConnConfig.Copy()
	connConfig.RuntimeParams["search_path"] = d.searchPath(tenant)
	return stdlib.OpenDB(*connConfig)
}

// Conn returns the pooled connection of the scope carried by ctx.
func Conn(ctx context.Context, m *tenancy.Manager) (*pgxpool.Conn, error) {
	drv, err := m.Driver(ctx)
	if err != nil {
		return nil, err
	}
	d, ok := drv.(*Driver)
	if !ok {
		return nil, fmt.Errorf("pgschema: adapter driver is %T", drv)
	}
	return d.Conn(), nil
}

func quote(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func classify(err error) error {
	if pg.IsConnectionError(err) {
		return errors.Join(tenancy.ErrBackendUnavailable, err)
	}
	return err
}
