// Package pgdatabase isolates tenants as separate PostgreSQL databases on
// one server, using lib/pq over database/sql.
//
// The configured connection URL names the default tenant's database. A tenant
// is reached by swapping the database in that URL; connection pools are kept
// per tenant database and shared by every scope.
package pgdatabase

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync"

	"github.com/lib/pq"
	"github.com/pressly/goose/v3/database"

	"github.com/dasaradhy/apartment/pkg/logger"
	"github.com/dasaradhy/apartment/pkg/migrate"
	"github.com/dasaradhy/apartment/pkg/tenancy"
)

var errNotURL = errors.New("pgdatabase: connection URL must be a postgres:// URL")

// Backend owns the per-database connection pools.
type Backend struct {
	mu    sync.Mutex
	pools map[string]*sql.DB
	log   *slog.Logger
}

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the logger used for migrations and seeds.
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) { b.log = logger.Ensure(l) }
}

// NewBackend creates a backend with no open pools.
func NewBackend(opts ...Option) *Backend {
	b := &Backend{pools: make(map[string]*sql.DB), log: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Constructor returns the constructor for the postgresql adapter.
func (b *Backend) Constructor() tenancy.Constructor {
	return func(ctx context.Context, cfg tenancy.Config) (tenancy.Driver, error) {
		base, err := url.Parse(cfg.ConnectionURL)
		if err != nil {
			return nil, errors.Join(errNotURL, err)
		}
		if base.Scheme != "postgres" && base.Scheme != "postgresql" {
			return nil, errNotURL
		}
		return &Driver{
			backend:    b,
			base:       base,
			defaultTen: cfg.DefaultTenant,
			runner: migrate.New(database.DialectPostgres,
				migrate.WithMigrations(cfg.MigrationsPath),
				migrate.WithSeeds(cfg.SeedsPath),
				migrate.WithTable(cfg.MigrationsTable),
				migrate.WithLogger(b.log),
			),
		}, nil
	}
}

// Close closes every pool.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var errs []error
	for dsn, db := range b.pools {
		errs = append(errs, db.Close())
		delete(b.pools, dsn)
	}
	return errors.Join(errs...)
}

func (b *Backend) pool(dsn string) (*sql.DB, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if db, ok := b.pools[dsn]; ok {
		return db, nil
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	b.pools[dsn] = db
	return db, nil
}

func (b *Backend) evict(dsn string) {
	b.mu.Lock()
	db, ok := b.pools[dsn]
	delete(b.pools, dsn)
	b.mu.Unlock()
	if ok {
		_ = db.Close()
	}
}

// Driver is a tenant session. It points at one tenant database at a time.
type Driver struct {
	backend    *Backend
	base       *url.URL
	defaultTen string
	runner     *migrate.Runner

	mu sync.Mutex
	db *sql.DB
}

var (
	_ tenancy.Driver   = (*Driver)(nil)
	_ tenancy.Seeder   = (*Driver)(nil)
	_ tenancy.Migrator = (*Driver)(nil)
)

func (d *Driver) Create(ctx context.Context, tenant string) error {
	admin, err := d.admin()
	if err != nil {
		return err
	}
	_, err = admin.ExecContext(ctx, "CREATE DATABASE "+pq.QuoteIdentifier(tenant))
	switch {
	case err == nil:
		return nil
	case hasCode(err, "42P04"):
		return errors.Join(tenancy.ErrTenantAlreadyExists, fmt.Errorf("database %q", tenant), err)
	default:
		return classify(err)
	}
}

// Drop closes the tenant's pool before dropping: Postgres refuses to drop a
// database with open sessions.
func (d *Driver) Drop(ctx context.Context, tenant string) error {
	admin, err := d.admin()
	if err != nil {
		return err
	}
	d.backend.evict(d.dsn(tenant))

	_, err = admin.ExecContext(ctx, "DROP DATABASE "+pq.QuoteIdentifier(tenant))
	switch {
	case err == nil:
		return nil
	case hasCode(err, "3D000"):
		return errors.Join(tenancy.ErrTenantNotFound, fmt.Errorf("database %q", tenant), err)
	default:
		return classify(err)
	}
}

func (d *Driver) Activate(ctx context.Context, tenant string) error {
	db, err := d.open(ctx, tenant)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.db = db
	d.mu.Unlock()
	return nil
}

func (d *Driver) Tenants(ctx context.Context) ([]string, error) {
	admin, err := d.admin()
	if err != nil {
		return nil, err
	}
	rows, err := admin.QueryContext(ctx, `
		SELECT datname FROM pg_database
		WHERE NOT datistemplate AND datname <> current_database() AND datname <> 'postgres'
		ORDER BY datname`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if name != d.defaultTen {
			names = append(names, name)
		}
	}
	return names, classify(rows.Err())
}

// Migrate runs the configured migrations in tenant's database.
func (d *Driver) Migrate(ctx context.Context, tenant string) error {
	if !d.runner.HasMigrations() {
		return nil
	}
	db, err := d.open(ctx, tenant)
	if err != nil {
		return err
	}
	return d.runner.Up(ctx, db, tenant)
}

// Seed runs the configured seed files in tenant's database.
func (d *Driver) Seed(ctx context.Context, tenant string) error {
	if !d.runner.HasSeeds() {
		return nil
	}
	db, err := d.open(ctx, tenant)
	if err != nil {
		return err
	}
	return d.runner.Seed(ctx, db, tenant)
}

// DB returns the pool of the active tenant database.
func (d *Driver) DB() *sql.DB {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.db
}

// Close forgets the active pool. Pools belong to the Backend.
func (d *Driver) Close() error {
	d.mu.Lock()
	d.db = nil
	d.mu.Unlock()
	return nil
}

func (d *Driver) open(ctx context.Context, tenant string) (*sql.DB, error) {
	db, err := d.backend.pool(d.dsn(tenant))
	if err != nil {
		return nil, errors.Join(tenancy.ErrBackendUnavailable, err)
	}
	if err := db.PingContext(ctx); err != nil {
		if hasCode(err, "3D000") {
			d.backend.evict(d.dsn(tenant))
			return nil, errors.Join(tenancy.ErrTenantNotFound, fmt.Errorf("database %q", tenant), err)
		}
		return nil, classify(err)
	}
	return db, nil
}

func (d *Driver) admin() (*sql.DB, error) {
	db, err := d.backend.pool(d.dsn(d.defaultTen))
	if err != nil {
		return nil, errors.Join(tenancy.ErrBackendUnavailable, err)
	}
	return db, nil
}

// dsn rewrites the database of the base URL. The default tenant uses the
// URL as configured.
func (d *Driver) dsn(tenant string) string {
	if tenant == d.defaultTen {
		return d.base.String()
	}
	u := *d.base
	u.Path = "/" + tenant
	u.RawPath = ""
	return u.String()
}

// DB returns the active tenant pool of the scope carried by ctx.
func DB(ctx context.Context, m *tenancy.Manager) (*sql.DB, error) {
	drv, err := m.Driver(ctx)
	if err != nil {
		return nil, err
	}
	d, ok := drv.(*Driver)
	if !ok {
		return nil, fmt.Errorf("pgdatabase: adapter driver is %T", drv)
	}
	return d.DB(), nil
}

func hasCode(err error, code pq.ErrorCode) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == code
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && strings.HasPrefix(string(pqErr.Code), "08") {
		return errors.Join(tenancy.ErrBackendUnavailable, err)
	}
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.As(err, &netErr) {
		return errors.Join(tenancy.ErrBackendUnavailable, err)
	}
	return err
}
