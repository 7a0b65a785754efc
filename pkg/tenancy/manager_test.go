package tenancy_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/dasaradhy/apartment/pkg/logger"
	"github.com/dasaradhy/apartment/pkg/tenancy"
	"github.com/dasaradhy/apartment/pkg/tenancy/memory"
)

func TestManager_Init(t *testing.T) {
	t.Parallel()

	t.Run("unsupported adapter", func(t *testing.T) {
		t.Parallel()

		m := tenancy.NewManager(tenancy.NewRegistry(), tenancy.WithLogger(logger.Nop()))
		err := m.Init(context.Background(), tenancy.Config{Adapter: "oracle"})
		assert.ErrorIs(t, err, tenancy.ErrUnsupportedAdapter)

		_, ok := m.Config()
		assert.False(t, ok)
		assert.Zero(t, m.Generation())
	})

	t.Run("adapter that fails to load", func(t *testing.T) {
		t.Parallel()

		r := tenancy.NewRegistry()
		r.Register(kindFake, func(context.Context, tenancy.Config) (tenancy.Driver, error) {
			return nil, errBoom
		})
		m := tenancy.NewManager(r, tenancy.WithLogger(logger.Nop()))

		err := m.Init(context.Background(), tenancy.Config{Adapter: kindFake})
		assert.ErrorIs(t, err, tenancy.ErrAdapterLoad)
		assert.ErrorIs(t, err, errBoom)
	})

	t.Run("operations before init", func(t *testing.T) {
		t.Parallel()

		m := tenancy.NewManager(tenancy.NewRegistry(), tenancy.WithLogger(logger.Nop()))
		ctx := scoped(t, m)

		_, err := m.Current(ctx)
		assert.ErrorIs(t, err, tenancy.ErrNotInitialized)
		assert.Nil(t, m.Policy())
	})

	t.Run("operations without a scope", func(t *testing.T) {
		t.Parallel()

		m, _ := newMemoryManager(t, tenancy.Config{})
		_, err := m.Current(context.Background())
		assert.ErrorIs(t, err, tenancy.ErrNoScope)
		assert.ErrorIs(t, m.Release(context.Background()), tenancy.ErrNoScope)
	})

	t.Run("defaults are applied", func(t *testing.T) {
		t.Parallel()

		m, _ := newMemoryManager(t, tenancy.Config{})
		cfg, ok := m.Config()
		require.True(t, ok)
		assert.Equal(t, "public", cfg.DefaultTenant)
		assert.Equal(t, uint64(1), m.Generation())
	})
}

func TestManager_CreateAndDrop(t *testing.T) {
	t.Parallel()

	t.Run("create then duplicate create", func(t *testing.T) {
		t.Parallel()

		m, backend := newMemoryManager(t, tenancy.Config{})
		ctx := scoped(t, m)

		var created []string
		require.NoError(t, m.SetCallback(tenancy.EventCreated, func(_ context.Context, tenant string) error {
			created = append(created, tenant)
			return nil
		}))

		require.NoError(t, m.Create(ctx, "acme"))
		assert.True(t, backend.Exists("acme"))

		err := m.Create(ctx, "acme")
		assert.ErrorIs(t, err, tenancy.ErrTenantAlreadyExists)
		assert.Equal(t, []string{"acme"}, created, "created fires once")
		assert.Equal(t, "public", current(ctx, t, m))
	})

	t.Run("create rejects invalid and reserved names", func(t *testing.T) {
		t.Parallel()

		m, backend := newMemoryManager(t, tenancy.Config{})
		ctx := scoped(t, m)

		assert.ErrorIs(t, m.Create(ctx, "public"), tenancy.ErrInvalidIdentifier)
		assert.ErrorIs(t, m.Create(ctx, `x"; drop`), tenancy.ErrInvalidIdentifier)
		assert.False(t, backend.Exists("public"))
	})

	t.Run("drop missing tenant", func(t *testing.T) {
		t.Parallel()

		m, _ := newMemoryManager(t, tenancy.Config{})
		ctx := scoped(t, m)
		assert.ErrorIs(t, m.Drop(ctx, "ghost"), tenancy.ErrTenantNotFound)
	})

	t.Run("dropping the current tenant falls back to default", func(t *testing.T) {
		t.Parallel()

		m, backend := newMemoryManager(t, tenancy.Config{})
		ctx := scoped(t, m)

		var dropped []string
		require.NoError(t, m.SetCallback(tenancy.EventDropped, func(_ context.Context, tenant string) error {
			dropped = append(dropped, tenant)
			return nil
		}))

		require.NoError(t, m.Create(ctx, "acme"))
		require.NoError(t, m.SwitchPermanently(ctx, "acme"))
		require.NoError(t, m.Drop(ctx, "acme"))

		assert.False(t, backend.Exists("acme"))
		assert.Equal(t, "public", current(ctx, t, m))
		assert.Equal(t, []string{"acme"}, dropped)
	})

	t.Run("failed drop of the current tenant restores it", func(t *testing.T) {
		t.Parallel()

		m, backend := newFakeManager(t)
		ctx := scoped(t, m)
		require.NoError(t, m.SwitchPermanently(ctx, "acme"))
		backend.last().setFailDrop(errBoom)

		err := m.Drop(ctx, "acme")
		assert.ErrorIs(t, err, errBoom)
		assert.NotErrorIs(t, err, tenancy.ErrRestoreFailed)
		assert.Equal(t, "acme", current(ctx, t, m))
	})

	t.Run("failed drop reports a failed restore", func(t *testing.T) {
		t.Parallel()

		m, backend := newFakeManager(t)
		ctx := scoped(t, m)
		require.NoError(t, m.SwitchPermanently(ctx, "acme"))
		driver := backend.last()
		driver.setFailDrop(errBoom)
		driver.setFailActivate(func(tenant string) error {
			if tenant == "acme" {
				return errors.New("acme unreachable")
			}
			return nil
		})

		err := m.Drop(ctx, "acme")
		assert.ErrorIs(t, err, errBoom)
		assert.ErrorIs(t, err, tenancy.ErrRestoreFailed)
	})

	t.Run("seed after create", func(t *testing.T) {
		t.Parallel()

		backend := memory.NewBackend(memory.WithSeedData(map[string]string{"plan": "free"}))
		r := tenancy.NewRegistry()
		r.Register(tenancy.KindMemory, backend.Constructor())
		m := tenancy.NewManager(r, tenancy.WithLogger(logger.Nop()))
		require.NoError(t, m.Init(context.Background(), tenancy.Config{Adapter: tenancy.KindMemory, SeedAfterCreate: true}))
		ctx := scoped(t, m)

		require.NoError(t, m.Create(ctx, "acme"))
		v, ok := backend.Get("acme", "plan")
		assert.True(t, ok)
		assert.Equal(t, "free", v)
		assert.Equal(t, "public", current(ctx, t, m))
	})

	t.Run("failing created listener fails create", func(t *testing.T) {
		t.Parallel()

		m, backend := newMemoryManager(t, tenancy.Config{})
		ctx := scoped(t, m)
		require.NoError(t, m.SetCallback(tenancy.EventCreated, func(context.Context, string) error { return errBoom }))

		err := m.Create(ctx, "acme")
		assert.ErrorIs(t, err, tenancy.ErrCallbackFailure)
		assert.ErrorIs(t, err, errBoom)
		assert.True(t, backend.Exists("acme"), "store is not rolled back")
	})
}

func TestManager_Switch(t *testing.T) {
	t.Parallel()

	t.Run("permanent switch and current", func(t *testing.T) {
		t.Parallel()

		m, _ := newMemoryManager(t, tenancy.Config{})
		ctx := scoped(t, m)
		require.NoError(t, m.Create(ctx, "acme"))

		assert.Equal(t, "public", current(ctx, t, m))
		require.NoError(t, m.SwitchPermanently(ctx, "acme"))
		assert.Equal(t, "acme", current(ctx, t, m))

		require.NoError(t, m.Reset(ctx))
		assert.Equal(t, "public", current(ctx, t, m))
	})

	t.Run("switch to missing tenant leaves current untouched", func(t *testing.T) {
		t.Parallel()

		m, _ := newMemoryManager(t, tenancy.Config{})
		ctx := scoped(t, m)

		assert.ErrorIs(t, m.SwitchPermanently(ctx, "ghost"), tenancy.ErrTenantNotFound)
		assert.Equal(t, "public", current(ctx, t, m))
	})

	t.Run("scoped switch restores on success", func(t *testing.T) {
		t.Parallel()

		m, _ := newMemoryManager(t, tenancy.Config{})
		ctx := scoped(t, m)
		require.NoError(t, m.Create(ctx, "acme"))

		var inside string
		err := m.Switch(ctx, "acme", func(ctx context.Context) error {
			inside = current(ctx, t, m)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, "acme", inside)
		assert.Equal(t, "public", current(ctx, t, m))
	})

	t.Run("scoped switch restores on failure", func(t *testing.T) {
		t.Parallel()

		m, _ := newMemoryManager(t, tenancy.Config{})
		ctx := scoped(t, m)
		require.NoError(t, m.Create(ctx, "acme"))
		require.NoError(t, m.Create(ctx, "globex"))
		require.NoError(t, m.SwitchPermanently(ctx, "globex"))

		err := m.Switch(ctx, "acme", func(context.Context) error { return errBoom })
		assert.ErrorIs(t, err, errBoom)
		assert.Equal(t, "globex", current(ctx, t, m))
	})

	t.Run("scoped switch restores on panic", func(t *testing.T) {
		t.Parallel()

		m, _ := newMemoryManager(t, tenancy.Config{})
		ctx := scoped(t, m)
		require.NoError(t, m.Create(ctx, "acme"))

		assert.PanicsWithValue(t, "kaboom", func() {
			_ = m.Switch(ctx, "acme", func(context.Context) error { panic("kaboom") })
		})
		assert.Equal(t, "public", current(ctx, t, m))
	})

	t.Run("scoped switch restores on cancellation", func(t *testing.T) {
		t.Parallel()

		m, _ := newMemoryManager(t, tenancy.Config{})
		ctx := scoped(t, m)
		require.NoError(t, m.Create(ctx, "acme"))

		cctx, cancel := context.WithCancel(ctx)
		err := m.Switch(cctx, "acme", func(ctx context.Context) error {
			cancel()
			return ctx.Err()
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, "public", current(ctx, t, m))
	})

	t.Run("nested switches unwind in order", func(t *testing.T) {
		t.Parallel()

		m, _ := newMemoryManager(t, tenancy.Config{})
		ctx := scoped(t, m)
		require.NoError(t, m.Create(ctx, "acme"))
		require.NoError(t, m.Create(ctx, "globex"))

		var seen []string
		err := m.Switch(ctx, "acme", func(ctx context.Context) error {
			seen = append(seen, current(ctx, t, m))
			err := m.Switch(ctx, "globex", func(ctx context.Context) error {
				seen = append(seen, current(ctx, t, m))
				return nil
			})
			seen = append(seen, current(ctx, t, m))
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"acme", "globex", "acme"}, seen)
		assert.Equal(t, "public", current(ctx, t, m))
	})

	t.Run("empty tenant means default", func(t *testing.T) {
		t.Parallel()

		m, _ := newMemoryManager(t, tenancy.Config{})
		ctx := scoped(t, m)
		require.NoError(t, m.Create(ctx, "acme"))
		require.NoError(t, m.SwitchPermanently(ctx, "acme"))

		err := m.Switch(ctx, "", func(ctx context.Context) error {
			assert.Equal(t, "public", current(ctx, t, m))
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, "acme", current(ctx, t, m))
	})

	t.Run("restore failure supersedes the unit of work error", func(t *testing.T) {
		t.Parallel()

		m, backend := newFakeManager(t)
		ctx := scoped(t, m)
		require.NoError(t, m.SwitchPermanently(ctx, "globex"))

		driver := backend.last()
		err := m.Switch(ctx, "acme", func(context.Context) error {
			driver.setFailActivate(func(tenant string) error {
				if tenant == "globex" {
					return tenancy.ErrBackendUnavailable
				}
				return nil
			})
			return errBoom
		})
		assert.ErrorIs(t, err, tenancy.ErrRestoreFailed)
		assert.ErrorIs(t, err, tenancy.ErrBackendUnavailable)
		assert.ErrorIs(t, err, errBoom)
	})

	t.Run("switched fires on entry only", func(t *testing.T) {
		t.Parallel()

		m, _ := newMemoryManager(t, tenancy.Config{})
		ctx := scoped(t, m)
		require.NoError(t, m.Create(ctx, "acme"))

		var switched []string
		require.NoError(t, m.SetCallback(tenancy.EventSwitched, func(_ context.Context, tenant string) error {
			switched = append(switched, tenant)
			return nil
		}))

		require.NoError(t, m.Switch(ctx, "acme", nil))
		require.NoError(t, m.Reset(ctx))
		assert.Equal(t, []string{"acme"}, switched)
	})

	t.Run("switch value", func(t *testing.T) {
		t.Parallel()

		m, backend := newMemoryManager(t, tenancy.Config{})
		ctx := scoped(t, m)
		require.NoError(t, m.Create(ctx, "acme"))

		got, err := tenancy.SwitchValue(ctx, m, "acme", func(ctx context.Context) (string, error) {
			d, err := m.Driver(ctx)
			if err != nil {
				return "", err
			}
			md := d.(*memory.Driver)
			if err := md.Put("greeting", "hello"); err != nil {
				return "", err
			}
			v, _ := md.Get("greeting")
			return v, nil
		})
		require.NoError(t, err)
		assert.Equal(t, "hello", got)

		v, ok := backend.Get("acme", "greeting")
		assert.True(t, ok)
		assert.Equal(t, "hello", v)
		_, ok = backend.Get("public", "greeting")
		assert.False(t, ok)
	})
}

func TestManager_Each(t *testing.T) {
	t.Parallel()

	t.Run("visits tenants in order and restores", func(t *testing.T) {
		t.Parallel()

		m, _ := newMemoryManager(t, tenancy.Config{})
		ctx := scoped(t, m)
		for _, name := range []string{"acme", "globex", "initech"} {
			require.NoError(t, m.Create(ctx, name))
		}
		require.NoError(t, m.SwitchPermanently(ctx, "initech"))

		var visited []string
		err := m.Each(ctx, []string{"globex", "acme"}, func(ctx context.Context, tenant string) error {
			assert.Equal(t, tenant, current(ctx, t, m))
			visited = append(visited, tenant)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"globex", "acme"}, visited)
		assert.Equal(t, "initech", current(ctx, t, m))
	})

	t.Run("nil list uses backend tenants", func(t *testing.T) {
		t.Parallel()

		m, _ := newMemoryManager(t, tenancy.Config{})
		ctx := scoped(t, m)
		require.NoError(t, m.Create(ctx, "globex"))
		require.NoError(t, m.Create(ctx, "acme"))

		var visited []string
		require.NoError(t, m.Each(ctx, nil, func(_ context.Context, tenant string) error {
			visited = append(visited, tenant)
			return nil
		}))
		assert.Equal(t, []string{"acme", "globex"}, visited)
	})

	t.Run("nil list prefers configured tenant names", func(t *testing.T) {
		t.Parallel()

		m, _ := newMemoryManager(t, tenancy.Config{TenantNames: []string{"globex"}})
		ctx := scoped(t, m)
		require.NoError(t, m.Create(ctx, "acme"))
		require.NoError(t, m.Create(ctx, "globex"))

		names, err := m.Tenants(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"globex"}, names)
	})

	t.Run("stops at first failure", func(t *testing.T) {
		t.Parallel()

		m, _ := newMemoryManager(t, tenancy.Config{})
		ctx := scoped(t, m)
		require.NoError(t, m.Create(ctx, "acme"))
		require.NoError(t, m.Create(ctx, "globex"))

		var visited []string
		err := m.Each(ctx, []string{"acme", "globex"}, func(_ context.Context, tenant string) error {
			visited = append(visited, tenant)
			return errBoom
		})
		assert.ErrorIs(t, err, errBoom)
		assert.Equal(t, []string{"acme"}, visited)
		assert.Equal(t, "public", current(ctx, t, m))
	})

	t.Run("stops when context is cancelled", func(t *testing.T) {
		t.Parallel()

		m, _ := newMemoryManager(t, tenancy.Config{})
		ctx := scoped(t, m)
		require.NoError(t, m.Create(ctx, "acme"))
		require.NoError(t, m.Create(ctx, "globex"))

		cctx, cancel := context.WithCancel(ctx)
		var visited []string
		err := m.Each(cctx, []string{"acme", "globex"}, func(_ context.Context, tenant string) error {
			visited = append(visited, tenant)
			cancel()
			return nil
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, []string{"acme"}, visited)
		assert.Equal(t, "public", current(ctx, t, m))
	})

	t.Run("migrate runs for each tenant", func(t *testing.T) {
		t.Parallel()

		backend := memory.NewBackend(memory.WithMigrations("0001_orders"))
		r := tenancy.NewRegistry()
		r.Register(tenancy.KindMemory, backend.Constructor())
		m := tenancy.NewManager(r, tenancy.WithLogger(logger.Nop()))
		require.NoError(t, m.Init(context.Background(), tenancy.Config{Adapter: tenancy.KindMemory}))
		ctx := scoped(t, m)

		require.NoError(t, m.Create(ctx, "acme"))
		require.NoError(t, m.Create(ctx, "globex"))
		require.NoError(t, m.Migrate(ctx, nil))

		for _, tenant := range []string{"acme", "globex"} {
			v, ok := backend.Get(tenant, "migration:0001_orders")
			assert.True(t, ok, tenant)
			assert.Equal(t, "applied", v)
		}
	})
}

func TestManager_ScopeIsolation(t *testing.T) {
	t.Parallel()

	m, _ := newMemoryManager(t, tenancy.Config{})
	setup := scoped(t, m)

	const workers = 20
	for i := range workers {
		require.NoError(t, m.Create(setup, fmt.Sprintf("tenant_%d", i)))
	}

	g, gctx := errgroup.WithContext(context.Background())
	for i := range workers {
		tenant := fmt.Sprintf("tenant_%d", i)
		g.Go(func() error {
			return m.Run(gctx, func(ctx context.Context) error {
				for range 50 {
					err := m.Switch(ctx, tenant, func(ctx context.Context) error {
						got, err := m.Current(ctx)
						if err != nil {
							return err
						}
						if got != tenant {
							return fmt.Errorf("scope of %s observed %s", tenant, got)
						}
						return nil
					})
					if err != nil {
						return err
					}
				}
				return nil
			})
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, "public", current(setup, t, m))
}

func TestManager_AdapterConstructedOnce(t *testing.T) {
	t.Parallel()

	m, backend := newFakeManager(t)
	ctx := scoped(t, m)
	afterInit := backend.builds.Load()

	var wg sync.WaitGroup
	adapters := make([]tenancy.Adapter, 32)
	for i := range adapters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := m.Adapter(ctx)
			assert.NoError(t, err)
			adapters[i] = a
		}()
	}
	wg.Wait()

	assert.Equal(t, afterInit+1, backend.builds.Load())
	for _, a := range adapters {
		assert.Same(t, adapters[0], a)
	}
}

func TestManager_Reload(t *testing.T) {
	t.Parallel()

	t.Run("cached adapters are rebuilt", func(t *testing.T) {
		t.Parallel()

		m, backend := newFakeManager(t)
		ctx := scoped(t, m)
		require.NoError(t, m.SwitchPermanently(ctx, "acme"))
		stale := backend.last()

		require.NoError(t, m.Reload(context.Background(), tenancy.Config{Adapter: kindFake, DefaultTenant: "main"}))
		assert.Equal(t, uint64(2), m.Generation())

		assert.Equal(t, "main", current(ctx, t, m))
		assert.True(t, stale.isClosed())
		assert.NotSame(t, stale, backend.last())
	})

	t.Run("failed reload keeps previous config", func(t *testing.T) {
		t.Parallel()

		m, _ := newFakeManager(t)
		err := m.Reload(context.Background(), tenancy.Config{Adapter: "oracle"})
		assert.ErrorIs(t, err, tenancy.ErrUnsupportedAdapter)

		cfg, ok := m.Config()
		require.True(t, ok)
		assert.Equal(t, kindFake, cfg.Adapter)
		assert.Equal(t, uint64(1), m.Generation())
	})

	t.Run("callbacks survive reload", func(t *testing.T) {
		t.Parallel()

		m, _ := newMemoryManager(t, tenancy.Config{})
		require.NoError(t, m.SetCallback(tenancy.EventCreated, func(context.Context, string) error { return nil }))
		require.NoError(t, m.Reload(context.Background(), tenancy.Config{Adapter: tenancy.KindMemory}))
		assert.Equal(t, 1, m.Hub().Len(tenancy.EventCreated))

		m.ClearCallbacks()
		assert.Zero(t, m.Hub().Len(tenancy.EventCreated))
	})

	t.Run("entity names are requalified", func(t *testing.T) {
		t.Parallel()

		catalog := tenancy.NewCatalog("Order", "SharedLog")
		m, _ := newMemoryManager(t, tenancy.Config{ExcludedModels: []string{"SharedLog"}}, tenancy.WithEntityRegistry(catalog))
		assert.Equal(t, "public.orders", catalog.TableName("Order"))

		require.NoError(t, m.Reload(context.Background(), tenancy.Config{
			Adapter:        tenancy.KindMemory,
			DefaultTenant:  "main",
			IncludedModels: []string{"SharedLog"},
		}))
		assert.Equal(t, "orders", catalog.TableName("Order"))
		assert.Equal(t, "main.shared_logs", catalog.TableName("SharedLog"))
	})

	t.Run("reload during scoped switch", func(t *testing.T) {
		t.Parallel()

		m, backend := newFakeManager(t)
		ctx := scoped(t, m)
		assert.Equal(t, "public", current(ctx, t, m))
		stale := backend.last()

		err := m.Switch(ctx, "acme", func(ctx context.Context) error {
			require.NoError(t, m.Reload(context.Background(), tenancy.Config{Adapter: kindFake}))
			assert.Equal(t, "acme", current(ctx, t, m))
			assert.False(t, stale.isClosed(), "adapter in use is kept")
			return nil
		})
		require.NoError(t, err)

		assert.Equal(t, "public", current(ctx, t, m))
		assert.True(t, stale.isClosed())
		assert.Zero(t, stale.lateActivations())
		assert.NotSame(t, stale, backend.last())
	})

	t.Run("reload during each", func(t *testing.T) {
		t.Parallel()

		m, backend := newFakeManager(t)
		ctx := scoped(t, m)
		assert.Equal(t, "public", current(ctx, t, m))
		stale := backend.last()

		var seen []string
		err := m.Each(ctx, []string{"acme", "globex"}, func(ctx context.Context, tenant string) error {
			if tenant == "acme" {
				require.NoError(t, m.Reload(context.Background(), tenancy.Config{Adapter: kindFake}))
			}
			seen = append(seen, current(ctx, t, m))
			return nil
		})
		require.NoError(t, err)

		assert.Equal(t, []string{"acme", "globex"}, seen)
		assert.Equal(t, "public", current(ctx, t, m))
		assert.True(t, stale.isClosed())
		assert.Zero(t, stale.lateActivations())
	})

	t.Run("entity registration races reload", func(t *testing.T) {
		t.Parallel()

		for range 20 {
			catalog := tenancy.NewCatalog()
			m, _ := newMemoryManager(t, tenancy.Config{}, tenancy.WithEntityRegistry(catalog))

			var g errgroup.Group
			for range 8 {
				g.Go(func() error {
					_, err := m.RegisterEntity("Invoice", "")
					return err
				})
			}
			g.Go(func() error {
				return m.Reload(context.Background(), tenancy.Config{Adapter: tenancy.KindMemory, DefaultTenant: "main"})
			})
			require.NoError(t, g.Wait())

			assert.Equal(t, "main.invoices", catalog.TableName("Invoice"))
		}
	})
}

func TestManager_Scope(t *testing.T) {
	t.Parallel()

	t.Run("released scope rejects use", func(t *testing.T) {
		t.Parallel()

		m, backend := newFakeManager(t)
		ctx := m.NewContext(context.Background())
		_, err := m.Current(ctx)
		require.NoError(t, err)
		driver := backend.last()

		require.NoError(t, m.Release(ctx))
		assert.True(t, driver.isClosed())
		assert.NoError(t, m.Release(ctx), "release is idempotent")

		_, err = m.Current(ctx)
		assert.ErrorIs(t, err, tenancy.ErrScopeClosed)
	})

	t.Run("run releases the scope", func(t *testing.T) {
		t.Parallel()

		m, backend := newFakeManager(t)
		var inner context.Context
		err := m.Run(context.Background(), func(ctx context.Context) error {
			inner = ctx
			_, ok := m.ScopeID(ctx)
			assert.True(t, ok)
			return m.SwitchPermanently(ctx, "acme")
		})
		require.NoError(t, err)
		assert.True(t, backend.last().isClosed())

		_, err = m.Current(inner)
		assert.ErrorIs(t, err, tenancy.ErrScopeClosed)
	})

	t.Run("scopes of different managers are independent", func(t *testing.T) {
		t.Parallel()

		m1, _ := newFakeManager(t)
		m2, _ := newFakeManager(t)
		ctx := m1.NewContext(context.Background())

		_, err := m2.Current(ctx)
		assert.ErrorIs(t, err, tenancy.ErrNoScope)
		require.NoError(t, m1.Release(ctx))
	})

	t.Run("nested contexts get distinct scopes", func(t *testing.T) {
		t.Parallel()

		m, _ := newFakeManager(t)
		outer := scoped(t, m)
		inner := m.NewContext(outer)
		t.Cleanup(func() { _ = m.Release(inner) })
		require.NoError(t, m.SwitchPermanently(outer, "acme"))

		assert.Equal(t, "acme", current(outer, t, m))
		assert.Equal(t, "public", current(inner, t, m))

		id1, _ := m.ScopeID(outer)
		id2, _ := m.ScopeID(inner)
		assert.NotEqual(t, id1, id2)
	})
}

func TestManager_Entities(t *testing.T) {
	t.Parallel()

	t.Run("schema scenario", func(t *testing.T) {
		t.Parallel()

		catalog := tenancy.NewCatalog("Order", "SharedLog")
		m, _ := newMemoryManager(t, tenancy.Config{ExcludedModels: []string{"SharedLog"}}, tenancy.WithEntityRegistry(catalog))
		ctx := scoped(t, m)
		require.NoError(t, m.Create(ctx, "acme"))

		assert.Equal(t, "public.orders", catalog.TableName("Order"))
		assert.Equal(t, "shared_logs", catalog.TableName("SharedLog"))

		err := m.Switch(ctx, "acme", func(ctx context.Context) error {
			orders, err := m.TableName(ctx, "Order")
			require.NoError(t, err)
			assert.Equal(t, "acme.orders", orders)

			logs, err := m.TableName(ctx, "SharedLog")
			require.NoError(t, err)
			assert.Equal(t, "shared_logs", logs)
			return nil
		})
		require.NoError(t, err)

		orders, err := m.TableName(ctx, "Order")
		require.NoError(t, err)
		assert.Equal(t, "public.orders", orders)
	})

	t.Run("late registration qualifies against default", func(t *testing.T) {
		t.Parallel()

		catalog := tenancy.NewCatalog()
		m, _ := newMemoryManager(t, tenancy.Config{}, tenancy.WithEntityRegistry(catalog))
		ctx := scoped(t, m)
		require.NoError(t, m.Create(ctx, "acme"))
		require.NoError(t, m.SwitchPermanently(ctx, "acme"))

		table, err := m.RegisterEntity("Invoice", "")
		require.NoError(t, err)
		assert.Equal(t, "public.invoices", table)
		assert.Equal(t, "public.invoices", catalog.TableName("Invoice"))

		table, err = m.RegisterEntity("Invoice", table)
		require.NoError(t, err)
		assert.Equal(t, "public.invoices", table, "re-registration is idempotent")
	})

	t.Run("registration needs an entity registry", func(t *testing.T) {
		t.Parallel()

		m, _ := newMemoryManager(t, tenancy.Config{})
		_, err := m.RegisterEntity("Invoice", "")
		assert.ErrorIs(t, err, tenancy.ErrNoEntityRegistry)
	})
}

func TestManager_LogExtractor(t *testing.T) {
	t.Parallel()

	m, _ := newMemoryManager(t, tenancy.Config{})
	extract := m.LogExtractor()

	_, ok := extract(context.Background())
	assert.False(t, ok)

	ctx := scoped(t, m)
	_, ok = extract(ctx)
	assert.False(t, ok, "no adapter built yet")

	require.NoError(t, m.Create(ctx, "acme"))
	require.NoError(t, m.SwitchPermanently(ctx, "acme"))
	attr, ok := extract(ctx)
	require.True(t, ok)
	assert.Equal(t, "acme", attr.Value.String())
}

func TestManager_BackendUnavailable(t *testing.T) {
	t.Parallel()

	m, backend := newMemoryManager(t, tenancy.Config{})
	ctx := scoped(t, m)
	_, err := m.Current(ctx)
	require.NoError(t, err)

	backend.Shutdown()
	err = m.Create(ctx, "acme")
	assert.True(t, errors.Is(err, tenancy.ErrBackendUnavailable))

	fresh := scoped(t, m)
	_, err = m.Current(fresh)
	assert.ErrorIs(t, err, tenancy.ErrAdapterLoad)
}
