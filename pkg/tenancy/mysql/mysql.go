// Package mysql isolates tenants as MySQL databases on one server.
//
// Each adapter handle holds a dedicated connection from a shared pool and
// switches tenants with USE, so one scope's switch never reaches another's
// session. The database named in the DSN is the default tenant.
package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strings"
	"sync"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/pressly/goose/v3/database"

	"github.com/dasaradhy/apartment/pkg/logger"
	"github.com/dasaradhy/apartment/pkg/migrate"
	"github.com/dasaradhy/apartment/pkg/tenancy"
)

// Server error numbers.
const (
	errDBCreateExists = 1007
	errDBDropExists   = 1008
	errBadDB          = 1049
)

const releaseTimeout = 5 * time.Second

var systemDatabases = []string{"information_schema", "mysql", "performance_schema", "sys"}

// Backend owns the connection pools, one per DSN.
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

// Constructor returns the constructor for the mysql adapter. The config's
// ConnectionURL is a go-sql-driver DSN.
func (b *Backend) Constructor() tenancy.Constructor {
	return func(ctx context.Context, cfg tenancy.Config) (tenancy.Driver, error) {
		dsn, err := gomysql.ParseDSN(cfg.ConnectionURL)
		if err != nil {
			return nil, err
		}
		db, err := b.pool(dsn.FormatDSN())
		if err != nil {
			return nil, err
		}
		conn, err := db.Conn(ctx)
		if err != nil {
			return nil, classify(err)
		}
		return &Driver{
			backend:    b,
			dsn:        dsn,
			conn:       conn,
			defaultTen: cfg.DefaultTenant,
			runner: migrate.New(database.DialectMySQL,
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
	db, err := sql.Open("mysql", dsn)
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

// Driver is a tenant session on one dedicated connection.
type Driver struct {
	backend    *Backend
	dsn        *gomysql.Config
	conn       *sql.Conn
	defaultTen string
	runner     *migrate.Runner
}

// errReleased is returned once Close has handed the session back to the pool.
var errReleased = errors.Join(tenancy.ErrScopeClosed, errors.New("mysql: session released"))

var (
	_ tenancy.Driver   = (*Driver)(nil)
	_ tenancy.Seeder   = (*Driver)(nil)
	_ tenancy.Migrator = (*Driver)(nil)
)

func (d *Driver) Create(ctx context.Context, tenant string) error {
	if d.conn == nil {
		return errReleased
	}
	_, err := d.conn.ExecContext(ctx, "CREATE DATABASE "+quote(tenant))
	switch {
	case err == nil:
		return nil
	case hasNumber(err, errDBCreateExists):
		return errors.Join(tenancy.ErrTenantAlreadyExists, fmt.Errorf("database %q", tenant), err)
	default:
		return classify(err)
	}
}

func (d *Driver) Drop(ctx context.Context, tenant string) error {
	if d.conn == nil {
		return errReleased
	}
	d.backend.evict(d.tenantDSN(tenant))

	_, err := d.conn.ExecContext(ctx, "DROP DATABASE "+quote(tenant))
	switch {
	case err == nil:
		return nil
	case hasNumber(err, errDBDropExists):
		return errors.Join(tenancy.ErrTenantNotFound, fmt.Errorf("database %q", tenant), err)
	default:
		return classify(err)
	}
}

func (d *Driver) Activate(ctx context.Context, tenant string) error {
	if d.conn == nil {
		return errReleased
	}
	_, err := d.conn.ExecContext(ctx, "USE "+quote(d.database(tenant)))
	switch {
	case err == nil:
		return nil
	case hasNumber(err, errBadDB):
		return errors.Join(tenancy.ErrTenantNotFound, fmt.Errorf("database %q", tenant), err)
	default:
		return classify(err)
	}
}

func (d *Driver) Tenants(ctx context.Context) ([]string, error) {
	if d.conn == nil {
		return nil, errReleased
	}
	rows, err := d.conn.QueryContext(ctx, "SHOW DATABASES")
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	skip := append(slices.Clone(systemDatabases), d.database(d.defaultTen), d.defaultTen)
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if !slices.Contains(skip, name) {
			names = append(names, name)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	slices.Sort(names)
	return names, nil
}

// Migrate runs the configured migrations in tenant's database.
func (d *Driver) Migrate(ctx context.Context, tenant string) error {
	if !d.runner.HasMigrations() {
		return nil
	}
	db, err := d.backend.pool(d.tenantDSN(tenant))
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
	db, err := d.backend.pool(d.tenantDSN(tenant))
	if err != nil {
		return err
	}
	return d.runner.Seed(ctx, db, tenant)
}

// Conn returns the session connection. Unqualified table names resolve in
// the active tenant's database.
func (d *Driver) Conn() *sql.Conn { return d.conn }

// Close points the connection back at the default database and returns it
// to the pool. A connection that cannot be reset is discarded.
func (d *Driver) Close() error {
	if d.conn == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	var err error
	if db := d.database(d.defaultTen); db != "" {
		if _, err = d.conn.ExecContext(ctx, "USE "+quote(db)); err != nil {
			_ = d.conn.Raw(func(any) error { return driver.ErrBadConn })
		}
	}
	cerr := d.conn.Close()
	d.conn = nil
	return errors.Join(err, cerr)
}

// database maps a tenant onto a database name. The default tenant is the
// database named in the DSN when there is one.
func (d *Driver) database(tenant string) string {
	if tenant == d.defaultTen && d.dsn.DBName != "" {
		return d.dsn.DBName
	}
	return tenant
}

func (d *Driver) tenantDSN(tenant string) string {
	cfg := d.dsn.Clone()
	cfg.DBName = d.database(tenant)
	return cfg.FormatDSN()
}

// Conn returns the session connection of the scope carried by ctx.
func Conn(ctx context.Context, m *tenancy.Manager) (*sql.Conn, error) {
	drv, err := m.Driver(ctx)
	if err != nil {
		return nil, err
	}
	d, ok := drv.(*Driver)
	if !ok {
		return nil, fmt.Errorf("mysql: adapter driver is %T", drv)
	}
	return d.Conn(), nil
}

func quote(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func hasNumber(err error, number uint16) bool {
	var myErr *gomysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == number
}

func classify(err error) error {
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, gomysql.ErrInvalidConn) || errors.As(err, &netErr) {
		return errors.Join(tenancy.ErrBackendUnavailable, err)
	}
	return err
}
