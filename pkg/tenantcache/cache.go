// Package tenantcache namespaces Redis cache entries by tenant and clears a
// tenant's entries when the tenant is created or dropped.
//
// Keys are "<prefix>:<tenant>:<key>", where tenant is the current tenant of
// the scope carried by the context.
package tenantcache

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dasaradhy/apartment/pkg/logger"
	"github.com/dasaradhy/apartment/pkg/tenancy"
)

var (
	// ErrCacheMiss is returned by Get when the key is absent.
	ErrCacheMiss = errors.New("tenant cache miss")

	// ErrCacheFailed wraps Redis failures.
	ErrCacheFailed = errors.New("tenant cache operation failed")
)

const (
	defaultPrefix = "apartment"
	scanBatch     = 500
)

// Cache stores values per tenant.
type Cache struct {
	client  redis.UniversalClient
	manager *tenancy.Manager
	prefix  string
	ttl     time.Duration
	log     *slog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithPrefix sets the key prefix. Defaults to "apartment".
func WithPrefix(prefix string) Option {
	return func(c *Cache) {
		if prefix != "" {
			c.prefix = strings.TrimSuffix(prefix, ":")
		}
	}
}

// WithTTL sets the expiry of stored values. Zero means no expiry.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.log = logger.Ensure(l) }
}

// New creates a cache resolving tenants through m.
func New(client redis.UniversalClient, m *tenancy.Manager, opts ...Option) *Cache {
	c := &Cache{
		client:  client,
		manager: m,
		prefix:  defaultPrefix,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(logger.Component("tenantcache"))
	return c
}

// Key returns the Redis key of key for tenant.
func (c *Cache) Key(tenant, key string) string {
	return c.prefix + ":" + tenant + ":" + key
}

// Get reads key for the current tenant.
func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	full, err := c.scopedKey(ctx, key)
	if err != nil {
		return "", err
	}
	v, err := c.client.Get(ctx, full).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	if err != nil {
		return "", errors.Join(ErrCacheFailed, err)
	}
	return v, nil
}

// Set writes key for the current tenant.
func (c *Cache) Set(ctx context.Context, key, value string) error {
	full, err := c.scopedKey(ctx, key)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, full, value, c.ttl).Err(); err != nil {
		return errors.Join(ErrCacheFailed, err)
	}
	return nil
}

// Delete removes key for the current tenant.
func (c *Cache) Delete(ctx context.Context, key string) error {
	full, err := c.scopedKey(ctx, key)
	if err != nil {
		return err
	}
	if err := c.client.Del(ctx, full).Err(); err != nil {
		return errors.Join(ErrCacheFailed, err)
	}
	return nil
}

// Invalidate removes every key of tenant and returns how many were deleted.
func (c *Cache) Invalidate(ctx context.Context, tenant string) (int, error) {
	pattern := c.Key(tenant, "*")
	var (
		cursor  uint64
		removed int
	)
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return removed, errors.Join(ErrCacheFailed, err)
		}
		if len(keys) > 0 {
			n, err := c.client.Unlink(ctx, keys...).Result()
			if err != nil {
				return removed, errors.Join(ErrCacheFailed, err)
			}
			removed += int(n)
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	c.log.DebugContext(ctx, "tenant cache invalidated", logger.Tenant(tenant), slog.Int("keys", removed))
	return removed, nil
}

// Attach registers listeners clearing a tenant's keys when it is created or
// dropped, so a recreated tenant never sees its predecessor's entries.
func (c *Cache) Attach(m *tenancy.Manager) error {
	invalidate := func(ctx context.Context, tenant string) error {
		_, err := c.Invalidate(ctx, tenant)
		return err
	}
	return errors.Join(
		m.SetCallback(tenancy.EventCreated, invalidate),
		m.SetCallback(tenancy.EventDropped, invalidate),
	)
}

func (c *Cache) scopedKey(ctx context.Context, key string) (string, error) {
	tenant, err := c.manager.Current(ctx)
	if err != nil {
		return "", err
	}
	return c.Key(tenant, key), nil
}
