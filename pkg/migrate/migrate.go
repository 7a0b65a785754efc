package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"

	"github.com/dasaradhy/apartment/pkg/logger"
)

// DefaultTable stores the applied migration versions inside each tenant.
const DefaultTable = "schema_migrations"

// Runner applies migrations and seeds for one SQL dialect.
type Runner struct {
	dialect    database.Dialect
	migrations string
	seeds      string
	table      string
	log        *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithMigrations sets the directory holding goose migration files.
func WithMigrations(dir string) Option {
	return func(r *Runner) { r.migrations = dir }
}

// WithSeeds sets the directory holding seed files.
func WithSeeds(dir string) Option {
	return func(r *Runner) { r.seeds = dir }
}

// WithTable sets the version table. Empty keeps DefaultTable.
func WithTable(table string) Option {
	return func(r *Runner) {
		if table != "" {
			r.table = table
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.log = logger.Ensure(l) }
}

// New creates a runner for dialect.
func New(dialect database.Dialect, opts ...Option) *Runner {
	r := &Runner{
		dialect: dialect,
		table:   DefaultTable,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With(logger.Component("migrate"))
	return r
}

// HasMigrations reports whether a migrations directory is configured.
func (r *Runner) HasMigrations() bool { return r != nil && r.migrations != "" }

// HasSeeds reports whether a seeds directory is configured.
func (r *Runner) HasSeeds() bool { return r != nil && r.seeds != "" }

// Up applies pending migrations to db, which must already point at tenant.
// Without a migrations directory it does nothing.
func (r *Runner) Up(ctx context.Context, db *sql.DB, tenant string) error {
	if !r.HasMigrations() {
		return nil
	}
	if db == nil {
		return errors.Join(ErrFailedToApplyMigrations, ErrNilDB)
	}
	fsys, err := dirFS(r.migrations)
	if err != nil {
		return errors.Join(ErrFailedToApplyMigrations, err)
	}

	store, err := database.NewStore(r.dialect, r.table)
	if err != nil {
		return errors.Join(ErrFailedToApplyMigrations, err)
	}
	provider, err := goose.NewProvider("", db, fsys, goose.WithStore(store))
	if err != nil {
		if errors.Is(err, goose.ErrNoMigrations) {
			return nil
		}
		return errors.Join(ErrFailedToApplyMigrations, err)
	}

	results, err := provider.Up(ctx)
	r.report(ctx, "migration", tenant, results)
	if err != nil {
		return errors.Join(ErrFailedToApplyMigrations, fmt.Errorf("tenant %q: %w", tenant, err))
	}
	return nil
}

// Seed runs every seed file against db, which must already point at tenant.
// Without a seeds directory it does nothing.
func (r *Runner) Seed(ctx context.Context, db *sql.DB, tenant string) error {
	if !r.HasSeeds() {
		return nil
	}
	if db == nil {
		return errors.Join(ErrFailedToApplySeeds, ErrNilDB)
	}
	fsys, err := dirFS(r.seeds)
	if err != nil {
		return errors.Join(ErrFailedToApplySeeds, err)
	}

	provider, err := goose.NewProvider(r.dialect, db, fsys, goose.WithDisableVersioning(true))
	if err != nil {
		if errors.Is(err, goose.ErrNoMigrations) {
			return nil
		}
		return errors.Join(ErrFailedToApplySeeds, err)
	}

	results, err := provider.Up(ctx)
	r.report(ctx, "seed", tenant, results)
	if err != nil {
		return errors.Join(ErrFailedToApplySeeds, fmt.Errorf("tenant %q: %w", tenant, err))
	}
	return nil
}

func (r *Runner) report(ctx context.Context, kind, tenant string, results []*goose.MigrationResult) {
	for _, res := range results {
		if res == nil || res.Source == nil {
			continue
		}
		attrs := []any{
			logger.Tenant(tenant),
			slog.Int64("version", res.Source.Version),
			slog.String("file", res.Source.Path),
			logger.Duration(res.Duration),
		}
		if res.Error != nil {
			r.log.ErrorContext(ctx, kind+" failed", append(attrs, logger.Error(res.Error))...)
			continue
		}
		r.log.InfoContext(ctx, kind+" applied", attrs...)
	}
}

func dirFS(dir string) (fs.FS, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Join(ErrDirNotFound, err)
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, errors.Join(ErrDirNotFound, fmt.Errorf("%s is not a directory", dir))
	}
	return os.DirFS(dir), nil
}
