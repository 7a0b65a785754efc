package tenancy

import "context"

// Adapter is the capability contract application code uses to manage and
// switch tenants. Every backend variant satisfies it through the same
// implementation over a Driver, so callers never depend on how a switch is
// performed.
type Adapter interface {
	// Create provisions a tenant store, runs its migrations and fires
	// EventCreated.
	Create(ctx context.Context, tenant string) error
	// Drop removes a tenant store. If it is current in this scope the scope
	// falls back to the default tenant. When the backend refuses the drop
	// the tenant is reactivated; failing that, the error wraps
	// ErrRestoreFailed and the scope stays on the default tenant.
	Drop(ctx context.Context, tenant string) error
	// Switch activates tenant for the duration of fn and restores the
	// previous tenant afterwards, whatever fn does.
	Switch(ctx context.Context, tenant string, fn func(ctx context.Context) error) error
	// SwitchPermanently activates tenant until the next switch or reset.
	SwitchPermanently(ctx context.Context, tenant string) error
	// Current returns the active tenant, or the default tenant.
	Current() string
	// Each runs fn under a scoped switch for every tenant in order. A nil
	// slice means all known tenants.
	Each(ctx context.Context, tenants []string, fn func(ctx context.Context, tenant string) error) error
	// Reset returns to the default tenant.
	Reset(ctx context.Context) error
	// Seed populates baseline data in the current tenant.
	Seed(ctx context.Context) error
	// Migrate applies pending migrations to tenant.
	Migrate(ctx context.Context, tenant string) error
	// SetCallback registers a lifecycle listener.
	SetCallback(event Event, fn Listener) error
	// DefaultTenant returns the configured default tenant.
	DefaultTenant() string
	// Driver exposes the backend driver for driver-specific accessors.
	Driver() Driver
	// Close releases the backend session held by the adapter.
	Close() error
}

// Driver performs the backend-specific part of tenant management. A driver
// instance is owned by a single adapter handle and is never shared between
// scopes, so implementations may keep per-session state (a dedicated
// connection, the selected database) without locking against other scopes.
//
// Drivers report failures with the package sentinels: ErrTenantAlreadyExists,
// ErrTenantNotFound and ErrBackendUnavailable, joined with the backend cause.
type Driver interface {
	// Create provisions the tenant store.
	Create(ctx context.Context, tenant string) error
	// Drop removes the tenant store.
	Drop(ctx context.Context, tenant string) error
	// Activate points the driver's session at tenant. After Close it fails
	// with ErrScopeClosed.
	Activate(ctx context.Context, tenant string) error
	// Tenants lists every tenant store known to the backend, excluding the
	// default tenant.
	Tenants(ctx context.Context) ([]string, error)
	// Close releases the session.
	Close() error
}

// Seeder is implemented by drivers that can populate baseline data.
type Seeder interface {
	Seed(ctx context.Context, tenant string) error
}

// Migrator is implemented by drivers that can run schema migrations inside
// a tenant.
type Migrator interface {
	Migrate(ctx context.Context, tenant string) error
}
