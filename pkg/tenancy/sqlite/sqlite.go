// Package sqlite isolates tenants as SQLite database files in one directory,
// using mattn/go-sqlite3.
//
// Tenant "acme" lives in <dir>/acme.sqlite3. The default tenant's file is
// created on first use; every other tenant must be created explicitly.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3/database"

	"github.com/dasaradhy/apartment/pkg/logger"
	"github.com/dasaradhy/apartment/pkg/migrate"
	"github.com/dasaradhy/apartment/pkg/tenancy"
)

// Extension is appended to tenant names to form file names.
const Extension = ".sqlite3"

// Option configures the constructor.
type Option func(*options)

type options struct {
	dir string
	log *slog.Logger
}

// WithDir sets the directory holding tenant files. Without it the config's
// ConnectionURL is used as the directory.
func WithDir(dir string) Option {
	return func(o *options) { o.dir = dir }
}

// WithLogger sets the logger used for migrations and seeds.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = logger.Ensure(l) }
}

// New returns the constructor for the sqlite3 adapter.
func New(opts ...Option) tenancy.Constructor {
	o := options{log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	return func(ctx context.Context, cfg tenancy.Config) (tenancy.Driver, error) {
		dir := o.dir
		if dir == "" {
			dir = strings.TrimPrefix(cfg.ConnectionURL, "file:")
		}
		if dir == "" {
			return nil, errors.New("sqlite: no database directory configured")
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Join(tenancy.ErrBackendUnavailable, err)
		}
		return &Driver{
			dir:        dir,
			defaultTen: cfg.DefaultTenant,
			runner: migrate.New(database.DialectSQLite3,
				migrate.WithMigrations(cfg.MigrationsPath),
				migrate.WithSeeds(cfg.SeedsPath),
				migrate.WithTable(cfg.MigrationsTable),
				migrate.WithLogger(o.log),
			),
		}, nil
	}
}

// Driver is a tenant session holding an open handle on the active tenant's file.
type Driver struct {
	dir        string
	defaultTen string
	runner     *migrate.Runner

	mu     sync.Mutex
	db     *sql.DB
	active string
	closed bool
}

var (
	_ tenancy.Driver   = (*Driver)(nil)
	_ tenancy.Seeder   = (*Driver)(nil)
	_ tenancy.Migrator = (*Driver)(nil)
)

func (d *Driver) Create(ctx context.Context, tenant string) error {
	path := d.path(tenant)
	// O_EXCL makes two concurrent creates of one tenant race safely.
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return errors.Join(tenancy.ErrTenantAlreadyExists, fmt.Errorf("database file %s", path))
		}
		return errors.Join(tenancy.ErrBackendUnavailable, err)
	}
	if err := f.Close(); err != nil {
		return errors.Join(tenancy.ErrBackendUnavailable, err)
	}

	db, err := open(path, "rw")
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return errors.Join(tenancy.ErrBackendUnavailable, err)
	}
	return nil
}

func (d *Driver) Drop(ctx context.Context, tenant string) error {
	path := d.path(tenant)
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return errors.Join(tenancy.ErrTenantNotFound, fmt.Errorf("database file %s", path))
		}
		return errors.Join(tenancy.ErrBackendUnavailable, err)
	}
	for _, suffix := range []string{"-wal", "-shm", "-journal"} {
		_ = os.Remove(path + suffix)
	}
	return nil
}

func (d *Driver) Activate(ctx context.Context, tenant string) error {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return errors.Join(tenancy.ErrScopeClosed, errors.New("sqlite: driver closed"))
	}

	mode := "rw"
	if tenant == d.defaultTen {
		mode = "rwc"
	} else if _, err := os.Stat(d.path(tenant)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return errors.Join(tenancy.ErrTenantNotFound, fmt.Errorf("database file %s", d.path(tenant)))
		}
		return errors.Join(tenancy.ErrBackendUnavailable, err)
	}

	db, err := open(d.path(tenant), mode)
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return errors.Join(tenancy.ErrBackendUnavailable, err)
	}

	d.mu.Lock()
	prev := d.db
	d.db, d.active = db, tenant
	d.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}
	return nil
}

func (d *Driver) Tenants(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, errors.Join(tenancy.ErrBackendUnavailable, err)
	}
	var names []string
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), Extension)
		if !ok || e.IsDir() || name == d.defaultTen {
			continue
		}
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

// Migrate runs the configured migrations in tenant's file.
func (d *Driver) Migrate(ctx context.Context, tenant string) error {
	if !d.runner.HasMigrations() {
		return nil
	}
	return d.withDB(tenant, func(db *sql.DB) error { return d.runner.Up(ctx, db, tenant) })
}

// Seed runs the configured seed files in tenant's file.
func (d *Driver) Seed(ctx context.Context, tenant string) error {
	if !d.runner.HasSeeds() {
		return nil
	}
	return d.withDB(tenant, func(db *sql.DB) error { return d.runner.Seed(ctx, db, tenant) })
}

// DB returns the handle on the active tenant's file.
func (d *Driver) DB() *sql.DB {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.db
}

// Active returns the tenant whose file is open.
func (d *Driver) Active() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

func (d *Driver) Close() error {
	d.mu.Lock()
	db := d.db
	d.db = nil
	d.closed = true
	d.mu.Unlock()
	if db == nil {
		return nil
	}
	return db.Close()
}

// withDB reuses the session handle when tenant is active and opens a
// short-lived one otherwise.
func (d *Driver) withDB(tenant string, fn func(db *sql.DB) error) error {
	d.mu.Lock()
	db, active := d.db, d.active
	d.mu.Unlock()
	if db != nil && active == tenant {
		return fn(db)
	}

	db, err := open(d.path(tenant), "rw")
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}

func (d *Driver) path(tenant string) string {
	return filepath.Join(d.dir, tenant+Extension)
}

func open(path, mode string) (*sql.DB, error) {
	q := url.Values{}
	q.Set("mode", mode)
	q.Set("_foreign_keys", "on")
	q.Set("_busy_timeout", "5000")
	db, err := sql.Open("sqlite3", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, errors.Join(tenancy.ErrBackendUnavailable, err)
	}
	return db, nil
}

// DB returns the active tenant handle of the scope carried by ctx.
func DB(ctx context.Context, m *tenancy.Manager) (*sql.DB, error) {
	drv, err := m.Driver(ctx)
	if err != nil {
		return nil, err
	}
	d, ok := drv.(*Driver)
	if !ok {
		return nil, fmt.Errorf("sqlite: adapter driver is %T", drv)
	}
	return d.DB(), nil
}
