package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dasaradhy/apartment/pkg/tenancy"
	"github.com/dasaradhy/apartment/pkg/tenancy/memory"
)

func newDriver(t *testing.T, b *memory.Backend) *memory.Driver {
	t.Helper()
	d, err := b.Constructor()(context.Background(), tenancy.Config{DefaultTenant: "public"})
	require.NoError(t, err)
	return d.(*memory.Driver)
}

func TestDriver(t *testing.T) {
	t.Parallel()

	t.Run("stores are isolated per tenant", func(t *testing.T) {
		t.Parallel()

		b := memory.NewBackend()
		d := newDriver(t, b)
		ctx := context.Background()

		require.NoError(t, d.Create(ctx, "acme"))
		require.NoError(t, d.Create(ctx, "globex"))

		require.NoError(t, d.Activate(ctx, "acme"))
		require.NoError(t, d.Put("k", "acme-value"))
		require.NoError(t, d.Activate(ctx, "globex"))
		_, ok := d.Get("k")
		assert.False(t, ok)

		v, ok := b.Get("acme", "k")
		assert.True(t, ok)
		assert.Equal(t, "acme-value", v)
	})

	t.Run("drivers share the backend", func(t *testing.T) {
		t.Parallel()

		b := memory.NewBackend()
		d1 := newDriver(t, b)
		d2 := newDriver(t, b)

		require.NoError(t, d1.Create(context.Background(), "acme"))
		assert.ErrorIs(t, d2.Create(context.Background(), "acme"), tenancy.ErrTenantAlreadyExists)

		names, err := d2.Tenants(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"acme"}, names)
	})

	t.Run("default tenant is always activatable", func(t *testing.T) {
		t.Parallel()

		d := newDriver(t, memory.NewBackend())
		require.NoError(t, d.Activate(context.Background(), "public"))
		require.NoError(t, d.Put("k", "v"))
		assert.Equal(t, "public", d.Active())

		names, err := d.Tenants(context.Background())
		require.NoError(t, err)
		assert.Empty(t, names)
	})

	t.Run("missing tenant", func(t *testing.T) {
		t.Parallel()

		d := newDriver(t, memory.NewBackend())
		assert.ErrorIs(t, d.Activate(context.Background(), "ghost"), tenancy.ErrTenantNotFound)
		assert.ErrorIs(t, d.Drop(context.Background(), "ghost"), tenancy.ErrTenantNotFound)
	})

	t.Run("seed and migrate", func(t *testing.T) {
		t.Parallel()

		b := memory.NewBackend(
			memory.WithSeedData(map[string]string{"plan": "free"}),
			memory.WithMigrations("0001_init"),
		)
		d := newDriver(t, b)
		ctx := context.Background()
		require.NoError(t, d.Create(ctx, "acme"))
		require.NoError(t, d.Seed(ctx, "acme"))
		require.NoError(t, d.Migrate(ctx, "acme"))

		v, _ := b.Get("acme", "plan")
		assert.Equal(t, "free", v)
		v, _ = b.Get("acme", "migration:0001_init")
		assert.Equal(t, "applied", v)
	})

	t.Run("shutdown", func(t *testing.T) {
		t.Parallel()

		b := memory.NewBackend()
		d := newDriver(t, b)
		b.Shutdown()

		assert.ErrorIs(t, d.Create(context.Background(), "acme"), tenancy.ErrBackendUnavailable)
		_, err := b.Constructor()(context.Background(), tenancy.Config{})
		assert.ErrorIs(t, err, tenancy.ErrBackendUnavailable)
	})
}
