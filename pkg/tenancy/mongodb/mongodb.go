// Package mongodb isolates tenants as MongoDB databases behind one client.
//
// MongoDB creates databases lazily, so Create writes a marker collection to
// make the tenant visible to listDatabases right away.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/dasaradhy/apartment/pkg/tenancy"
)

// MarkerCollection is created in every tenant database by Create.
const MarkerCollection = "_apartment"

var systemDatabases = []string{"admin", "config", "local"}

// codeNamespaceExists is the server error for creating an existing collection.
const codeNamespaceExists = 48

// Func runs against one tenant database.
type Func func(ctx context.Context, db *mongo.Database) error

// Option configures the constructor.
type Option func(*options)

type options struct {
	seed    Func
	migrate Func
}

// WithSeed sets the function Seed runs in the tenant database.
func WithSeed(fn Func) Option {
	return func(o *options) { o.seed = fn }
}

// WithMigrate sets the function Migrate runs in the tenant database, for
// example to create indexes.
func WithMigrate(fn Func) Option {
	return func(o *options) { o.migrate = fn }
}

// New returns the constructor for the mongodb adapter.
func New(client *mongo.Client, opts ...Option) tenancy.Constructor {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	return func(ctx context.Context, cfg tenancy.Config) (tenancy.Driver, error) {
		if client == nil {
			return nil, errors.New("mongodb: nil client")
		}
		return &Driver{client: client, defaultTen: cfg.DefaultTenant, opts: o}, nil
	}
}

// Driver is a tenant session; it selects a database on the shared client.
type Driver struct {
	client     *mongo.Client
	defaultTen string
	opts       options

	mu sync.Mutex
	db *mongo.Database
}

var (
	_ tenancy.Driver   = (*Driver)(nil)
	_ tenancy.Seeder   = (*Driver)(nil)
	_ tenancy.Migrator = (*Driver)(nil)
)

func (d *Driver) Create(ctx context.Context, tenant string) error {
	exists, err := d.exists(ctx, tenant)
	if err != nil {
		return err
	}
	if exists {
		return errors.Join(tenancy.ErrTenantAlreadyExists, fmt.Errorf("database %q", tenant))
	}
	// Another scope may create the tenant between the check and here.
	return createError(tenant, d.client.Database(tenant).CreateCollection(ctx, MarkerCollection))
}

func (d *Driver) Drop(ctx context.Context, tenant string) error {
	exists, err := d.exists(ctx, tenant)
	if err != nil {
		return err
	}
	if !exists {
		return errors.Join(tenancy.ErrTenantNotFound, fmt.Errorf("database %q", tenant))
	}
	return classify(d.client.Database(tenant).Drop(ctx))
}

func (d *Driver) Activate(ctx context.Context, tenant string) error {
	if tenant != d.defaultTen {
		exists, err := d.exists(ctx, tenant)
		if err != nil {
			return err
		}
		if !exists {
			return errors.Join(tenancy.ErrTenantNotFound, fmt.Errorf("database %q", tenant))
		}
	}

	d.mu.Lock()
	d.db = d.client.Database(tenant)
	d.mu.Unlock()
	return nil
}

func (d *Driver) Tenants(ctx context.Context) ([]string, error) {
	names, err := d.client.ListDatabaseNames(ctx, bson.D{})
	if err != nil {
		return nil, classify(err)
	}
	names = slices.DeleteFunc(names, func(n string) bool {
		return n == d.defaultTen || slices.Contains(systemDatabases, n)
	})
	slices.Sort(names)
	return names, nil
}

// Seed runs the WithSeed function in tenant's database.
func (d *Driver) Seed(ctx context.Context, tenant string) error {
	if d.opts.seed == nil {
		return nil
	}
	return d.opts.seed(ctx, d.client.Database(tenant))
}

// Migrate runs the WithMigrate function in tenant's database.
func (d *Driver) Migrate(ctx context.Context, tenant string) error {
	if d.opts.migrate == nil {
		return nil
	}
	return d.opts.migrate(ctx, d.client.Database(tenant))
}

// Database returns the active tenant database.
func (d *Driver) Database() *mongo.Database {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.db
}

// Close forgets the active database. The client belongs to the caller.
func (d *Driver) Close() error {
	d.mu.Lock()
	d.db = nil
	d.mu.Unlock()
	return nil
}

func (d *Driver) exists(ctx context.Context, tenant string) (bool, error) {
	names, err := d.client.ListDatabaseNames(ctx, bson.D{{Key: "name", Value: tenant}})
	if err != nil {
		return false, classify(err)
	}
	return slices.Contains(names, tenant), nil
}

// Database returns the active tenant database of the scope carried by ctx.
func Database(ctx context.Context, m *tenancy.Manager) (*mongo.Database, error) {
	drv, err := m.Driver(ctx)
	if err != nil {
		return nil, err
	}
	d, ok := drv.(*Driver)
	if !ok {
		return nil, fmt.Errorf("mongodb: adapter driver is %T", drv)
	}
	return d.Database(), nil
}

func createError(tenant string, err error) error {
	var serverErr mongo.ServerError
	if errors.As(err, &serverErr) && serverErr.HasErrorCode(codeNamespaceExists) {
		return errors.Join(tenancy.ErrTenantAlreadyExists, fmt.Errorf("database %q", tenant), err)
	}
	return classify(err)
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) || errors.Is(err, mongo.ErrClientDisconnected) {
		return errors.Join(tenancy.ErrBackendUnavailable, err)
	}
	return err
}
