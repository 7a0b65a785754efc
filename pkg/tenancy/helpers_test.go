package tenancy_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dasaradhy/apartment/pkg/logger"
	"github.com/dasaradhy/apartment/pkg/tenancy"
	"github.com/dasaradhy/apartment/pkg/tenancy/memory"
)

// fakeDriver records calls and fails on demand.
type fakeDriver struct {
	mu        sync.Mutex
	tenants   map[string]bool
	activated []string
	closed    bool
	// late counts activations attempted after Close.
	late int

	failActivate func(tenant string) error
	failDrop     error
}

func (d *fakeDriver) Create(_ context.Context, tenant string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tenants[tenant] {
		return tenancy.ErrTenantAlreadyExists
	}
	d.tenants[tenant] = true
	return nil
}

func (d *fakeDriver) Drop(_ context.Context, tenant string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failDrop != nil {
		return d.failDrop
	}
	if !d.tenants[tenant] {
		return tenancy.ErrTenantNotFound
	}
	delete(d.tenants, tenant)
	return nil
}

func (d *fakeDriver) Activate(_ context.Context, tenant string) error {
	d.mu.Lock()
	if d.closed {
		d.late++
		d.mu.Unlock()
		return tenancy.ErrScopeClosed
	}
	hook := d.failActivate
	d.mu.Unlock()
	if hook != nil {
		if err := hook(tenant); err != nil {
			return err
		}
	}
	d.mu.Lock()
	d.activated = append(d.activated, tenant)
	d.mu.Unlock()
	return nil
}

func (d *fakeDriver) Tenants(context.Context) ([]string, error) { return nil, nil }

func (d *fakeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDriver) setFailActivate(fn func(string) error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failActivate = fn
}

func (d *fakeDriver) setFailDrop(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failDrop = err
}

func (d *fakeDriver) lateActivations() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.late
}

func (d *fakeDriver) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// fakeBackend hands out fakeDrivers and remembers them.
type fakeBackend struct {
	builds  atomic.Int32
	mu      sync.Mutex
	drivers []*fakeDriver
}

func (b *fakeBackend) constructor() tenancy.Constructor {
	return func(context.Context, tenancy.Config) (tenancy.Driver, error) {
		b.builds.Add(1)
		d := &fakeDriver{tenants: map[string]bool{"acme": true, "globex": true}}
		b.mu.Lock()
		b.drivers = append(b.drivers, d)
		b.mu.Unlock()
		return d, nil
	}
}

func (b *fakeBackend) last() *fakeDriver {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.drivers[len(b.drivers)-1]
}

const kindFake tenancy.Kind = "fake"

var errBoom = errors.New("boom")

func newMemoryManager(t *testing.T, cfg tenancy.Config, opts ...tenancy.Option) (*tenancy.Manager, *memory.Backend) {
	t.Helper()

	backend := memory.NewBackend()
	registry := tenancy.NewRegistry()
	registry.Register(tenancy.KindMemory, backend.Constructor())

	cfg.Adapter = tenancy.KindMemory
	opts = append([]tenancy.Option{tenancy.WithLogger(logger.Nop())}, opts...)
	m := tenancy.NewManager(registry, opts...)
	require.NoError(t, m.Init(context.Background(), cfg))
	return m, backend
}

func newFakeManager(t *testing.T) (*tenancy.Manager, *fakeBackend) {
	t.Helper()

	backend := &fakeBackend{}
	registry := tenancy.NewRegistry()
	registry.Register(kindFake, backend.constructor())

	m := tenancy.NewManager(registry, tenancy.WithLogger(logger.Nop()))
	require.NoError(t, m.Init(context.Background(), tenancy.Config{Adapter: kindFake}))
	return m, backend
}

// scoped returns a context carrying a fresh scope released at test cleanup.
func scoped(t *testing.T, m *tenancy.Manager) context.Context {
	t.Helper()
	ctx := m.NewContext(context.Background())
	t.Cleanup(func() { _ = m.Release(ctx) })
	return ctx
}

func current(ctx context.Context, t *testing.T, m *tenancy.Manager) string {
	t.Helper()
	name, err := m.Current(ctx)
	require.NoError(t, err)
	return name
}
