// Package memory is an in-process tenancy backend. Tenant stores are plain
// key/value maps, which makes it suitable for tests and local development.
package memory

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/dasaradhy/apartment/pkg/tenancy"
)

// Backend is the shared "database": all drivers built from it see the same
// tenant stores, the way real drivers share one server.
type Backend struct {
	mu      sync.RWMutex
	tenants map[string]map[string]string
	seeds   map[string]string
	closed  bool

	migrations []string
}

// Option configures a Backend.
type Option func(*Backend)

// WithSeedData sets the rows Seed writes into the current tenant.
func WithSeedData(rows map[string]string) Option {
	return func(b *Backend) { b.seeds = maps.Clone(rows) }
}

// WithMigrations sets keys Migrate ensures exist in each tenant, standing in
// for schema objects.
func WithMigrations(keys ...string) Option {
	return func(b *Backend) { b.migrations = slices.Clone(keys) }
}

// NewBackend creates an empty backend.
func NewBackend(opts ...Option) *Backend {
	b := &Backend{tenants: make(map[string]map[string]string)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Constructor returns the tenancy.Constructor for this backend.
func (b *Backend) Constructor() tenancy.Constructor {
	return func(ctx context.Context, cfg tenancy.Config) (tenancy.Driver, error) {
		b.mu.RLock()
		closed := b.closed
		b.mu.RUnlock()
		if closed {
			return nil, errors.Join(tenancy.ErrBackendUnavailable, errors.New("memory backend is shut down"))
		}
		return &Driver{backend: b, defaultTenant: cfg.DefaultTenant}, nil
	}
}

// Shutdown makes every later operation fail with ErrBackendUnavailable.
func (b *Backend) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

// Exists reports whether tenant has a store.
func (b *Backend) Exists(tenant string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.tenants[tenant]
	return ok
}

// Get reads key from tenant's store.
func (b *Backend) Get(tenant, key string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.tenants[tenant][key]
	return v, ok
}

func (b *Backend) check() error {
	if b.closed {
		return errors.Join(tenancy.ErrBackendUnavailable, errors.New("memory backend is shut down"))
	}
	return nil
}

// Driver is a per-scope session on a Backend.
type Driver struct {
	backend       *Backend
	defaultTenant string

	mu     sync.Mutex
	active string
}

var (
	_ tenancy.Driver   = (*Driver)(nil)
	_ tenancy.Seeder   = (*Driver)(nil)
	_ tenancy.Migrator = (*Driver)(nil)
)

func (d *Driver) Create(ctx context.Context, tenant string) error {
	b := d.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check(); err != nil {
		return err
	}
	if _, ok := b.tenants[tenant]; ok {
		return errors.Join(tenancy.ErrTenantAlreadyExists, fmt.Errorf("tenant %q", tenant))
	}
	b.tenants[tenant] = make(map[string]string)
	return nil
}

func (d *Driver) Drop(ctx context.Context, tenant string) error {
	b := d.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check(); err != nil {
		return err
	}
	if _, ok := b.tenants[tenant]; !ok {
		return errors.Join(tenancy.ErrTenantNotFound, fmt.Errorf("tenant %q", tenant))
	}
	delete(b.tenants, tenant)
	return nil
}

func (d *Driver) Activate(ctx context.Context, tenant string) error {
	b := d.backend
	b.mu.RLock()
	err := b.check()
	_, ok := b.tenants[tenant]
	b.mu.RUnlock()
	if err != nil {
		return err
	}
	if !ok && tenant != d.defaultTenant {
		return errors.Join(tenancy.ErrTenantNotFound, fmt.Errorf("tenant %q", tenant))
	}

	d.mu.Lock()
	d.active = tenant
	d.mu.Unlock()
	return nil
}

func (d *Driver) Tenants(ctx context.Context) ([]string, error) {
	b := d.backend
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.check(); err != nil {
		return nil, err
	}
	names := slices.Sorted(maps.Keys(b.tenants))
	return slices.DeleteFunc(names, func(n string) bool { return n == d.defaultTenant }), nil
}

// Seed writes the configured seed rows into tenant.
func (d *Driver) Seed(ctx context.Context, tenant string) error {
	for k, v := range d.backend.seeds {
		if err := d.put(tenant, k, v); err != nil {
			return err
		}
	}
	return nil
}

// Migrate ensures the configured migration keys exist in tenant.
func (d *Driver) Migrate(ctx context.Context, tenant string) error {
	for _, k := range d.backend.migrations {
		if err := d.put(tenant, "migration:"+k, "applied"); err != nil {
			return err
		}
	}
	return nil
}

// Active returns the tenant the session points at.
func (d *Driver) Active() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// Put writes key in the active tenant's store.
func (d *Driver) Put(key, value string) error {
	return d.put(d.Active(), key, value)
}

// Get reads key from the active tenant's store.
func (d *Driver) Get(key string) (string, bool) {
	return d.backend.Get(d.Active(), key)
}

func (d *Driver) put(tenant, key, value string) error {
	b := d.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check(); err != nil {
		return err
	}
	store, ok := b.tenants[tenant]
	if !ok {
		if tenant != d.defaultTenant {
			return errors.Join(tenancy.ErrTenantNotFound, fmt.Errorf("tenant %q", tenant))
		}
		store = make(map[string]string)
		b.tenants[tenant] = store
	}
	store[key] = value
	return nil
}

func (d *Driver) Close() error { return nil }
