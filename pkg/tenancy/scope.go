package tenancy

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// scope is the per-execution-context cell holding the adapter handle, and
// through it the current tenant. A scope belongs to one unit of work; code
// that fans out to goroutines gives each of them its own scope with
// Manager.NewContext.
type scope struct {
	id uuid.UUID

	// mu serialises handle construction so concurrent first access from the
	// same scope builds exactly one handle.
	mu     sync.Mutex
	handle atomic.Pointer[handle]
	closed bool
}

// scopeKey is keyed by manager so scopes of different managers never mix.
type scopeKey struct{ m *Manager }

func (m *Manager) scopeFrom(ctx context.Context) (*scope, bool) {
	if ctx == nil {
		return nil, false
	}
	sc, ok := ctx.Value(scopeKey{m}).(*scope)
	return sc, ok
}

// NewContext returns a child of ctx carrying a fresh execution scope. The
// scope starts at the default tenant; its adapter is built on first use.
// Call Release when the unit of work ends.
func (m *Manager) NewContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, scopeKey{m}, &scope{id: uuid.New()})
}

// ScopeID returns the identifier of the scope carried by ctx.
func (m *Manager) ScopeID(ctx context.Context) (uuid.UUID, bool) {
	sc, ok := m.scopeFrom(ctx)
	if !ok {
		return uuid.Nil, false
	}
	return sc.id, true
}

// Release tears down the scope carried by ctx and closes its adapter.
// Later operations on the scope fail with ErrScopeClosed.
func (m *Manager) Release(ctx context.Context) error {
	sc, ok := m.scopeFrom(ctx)
	if !ok {
		return ErrNoScope
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.closed {
		return nil
	}
	sc.closed = true
	if h := sc.handle.Swap(nil); h != nil {
		return h.Close()
	}
	return nil
}

// Run executes fn in a fresh scope and releases it afterwards.
func (m *Manager) Run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	ctx = m.NewContext(ctx)
	defer func() {
		if rerr := m.Release(ctx); rerr != nil && err == nil {
			err = rerr
		}
	}()
	return fn(ctx)
}
