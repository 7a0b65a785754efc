package tenancy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Kind names a backend variant in Config.Adapter.
type Kind string

// Kinds bundled with the module. Any other string may be registered too.
const (
	KindPostgresSchema Kind = "postgresql_schema"
	KindPostgres       Kind = "postgresql"
	KindMySQL          Kind = "mysql"
	KindSQLite         Kind = "sqlite3"
	KindMongoDB        Kind = "mongodb"
	KindMemory         Kind = "memory"
)

// Constructor builds a fresh Driver for one adapter handle. It receives the
// configuration snapshot the handle is bound to.
type Constructor func(ctx context.Context, cfg Config) (Driver, error)

// Registry maps adapter kinds to constructors. It is populated at startup;
// there is no dynamic loading.
type Registry struct {
	mu    sync.RWMutex
	ctors map[Kind]Constructor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{ctors: make(map[Kind]Constructor)}
}

// Register binds kind to ctor, replacing any previous binding.
func (r *Registry) Register(kind Kind, ctor Constructor) {
	if ctor == nil {
		panic(fmt.Sprintf("tenancy: nil constructor for adapter %q", kind))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[kind] = ctor
}

// Lookup returns the constructor for kind.
func (r *Registry) Lookup(kind Kind) (Constructor, error) {
	r.mu.RLock()
	ctor, ok := r.ctors[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Join(ErrUnsupportedAdapter, fmt.Errorf("adapter %q is not registered", kind))
	}
	return ctor, nil
}

// Kinds lists registered kinds in lexical order.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]Kind, 0, len(r.ctors))
	for k := range r.ctors {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Build resolves cfg.Adapter and constructs a driver. Constructor failures
// are wrapped in ErrAdapterLoad; the original cause stays matchable.
func (r *Registry) Build(ctx context.Context, cfg Config) (Driver, error) {
	ctor, err := r.Lookup(cfg.Adapter)
	if err != nil {
		return nil, err
	}
	driver, err := ctor(ctx, cfg)
	if err != nil {
		return nil, errors.Join(ErrAdapterLoad, fmt.Errorf("adapter %q: %w", cfg.Adapter, err))
	}
	if driver == nil {
		return nil, errors.Join(ErrAdapterLoad, fmt.Errorf("adapter %q returned no driver", cfg.Adapter))
	}
	return driver, nil
}
