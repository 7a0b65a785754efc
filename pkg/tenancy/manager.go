package tenancy

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/dasaradhy/apartment/pkg/logger"
)

// state is the process-wide, read-mostly part of the manager. It is replaced
// wholesale on reload and never mutated in place.
type state struct {
	cfg        Config
	policy     *Policy
	generation uint64
}

// Manager is the entry point: it owns the configuration, the partition policy
// and the callback hub, and forwards tenant operations to the adapter of the
// scope carried by the context.
type Manager struct {
	registry *Registry
	hub      *Hub
	entities EntityRegistry
	log      *slog.Logger

	installMu sync.Mutex
	state     atomic.Pointer[state]
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = logger.Ensure(l) }
}

// WithEntityRegistry connects the host's entity registry; the policy is
// applied to it on Init and Reload.
func WithEntityRegistry(r EntityRegistry) Option {
	return func(m *Manager) { m.entities = r }
}

// WithHub shares an existing callback hub.
func WithHub(h *Hub) Option {
	return func(m *Manager) {
		if h != nil {
			m.hub = h
		}
	}
}

// NewManager creates a manager resolving adapters from registry. It must be
// initialised with Init before use.
func NewManager(registry *Registry, opts ...Option) *Manager {
	m := &Manager{
		registry: registry,
		hub:      NewHub(),
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With(logger.Component("tenancy"))
	return m
}

// Init validates cfg, checks its adapter can be built and applies the
// partition policy. A failed Init leaves the manager uninitialised; a later
// Init or Reload with a corrected config recovers without a restart.
func (m *Manager) Init(ctx context.Context, cfg Config) error {
	return m.install(ctx, cfg, "tenancy initialized")
}

// Reload replaces the configuration. Every scope discards its cached adapter
// on next access and starts again at the default tenant. On failure the
// previous configuration stays in force.
func (m *Manager) Reload(ctx context.Context, cfg Config) error {
	return m.install(ctx, cfg, "tenancy reloaded")
}

func (m *Manager) install(ctx context.Context, cfg Config, msg string) error {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Build the adapter once so unsupported or unloadable adapters fail at
	// startup instead of on the first request.
	driver, err := m.registry.Build(ctx, cfg)
	if err != nil {
		return err
	}
	trial, err := newHandle(ctx, cfg, 0, driver, m.hub, m.log)
	if err != nil {
		return err
	}
	if err := trial.Close(); err != nil {
		m.log.WarnContext(ctx, "failed to close trial adapter", logger.Error(err))
	}

	if len(cfg.IncludedModels) > 0 && len(cfg.ExcludedModels) > 0 {
		m.log.WarnContext(ctx, "both included and excluded models configured, using included models")
	}
	policy := NewPolicy(cfg)

	m.installMu.Lock()
	defer m.installMu.Unlock()

	prev := m.state.Load()
	next := &state{cfg: cfg, policy: policy, generation: 1}
	if prev != nil {
		next.generation = prev.generation + 1
	}
	m.state.Store(next)

	if m.entities != nil {
		var prevPolicy *Policy
		if prev != nil {
			prevPolicy = prev.policy
		}
		applyPolicy(m.entities, prevPolicy, policy)
	}

	m.log.InfoContext(ctx, msg,
		logger.Adapter(string(cfg.Adapter)),
		logger.Generation(next.generation),
		slog.String("default_tenant", cfg.DefaultTenant),
		slog.Bool("include_mode", policy.IncludeMode()),
	)
	return nil
}

// applyPolicy requalifies every known entity. Names qualified under the
// previous default tenant are stripped first.
func applyPolicy(entities EntityRegistry, prev, next *Policy) {
	for _, entity := range entities.Entities() {
		table := entities.TableName(entity)
		if prev != nil {
			table = prev.Unqualify(table)
		}
		entities.SetTableName(entity, next.Qualify(entity, table))
	}
}

// Config returns the active configuration and whether the manager is initialised.
func (m *Manager) Config() (Config, bool) {
	st := m.state.Load()
	if st == nil {
		return Config{}, false
	}
	return st.cfg, true
}

// Policy returns the active partition policy, or nil before Init.
func (m *Manager) Policy() *Policy {
	if st := m.state.Load(); st != nil {
		return st.policy
	}
	return nil
}

// Generation returns the configuration generation; it increases on every
// successful Init or Reload.
func (m *Manager) Generation() uint64 {
	if st := m.state.Load(); st != nil {
		return st.generation
	}
	return 0
}

// Hub exposes the lifecycle callback hub.
func (m *Manager) Hub() *Hub { return m.hub }

// SetCallback registers fn for event. Listeners are process-wide and survive reloads.
func (m *Manager) SetCallback(event Event, fn Listener) error {
	return m.hub.On(event, fn)
}

// ClearCallbacks removes every registered listener.
func (m *Manager) ClearCallbacks() {
	m.hub.Clear()
}

// Adapter returns the adapter of the scope carried by ctx, building it on
// first use and rebuilding it after a reload.
func (m *Manager) Adapter(ctx context.Context) (Adapter, error) {
	return m.resolve(ctx)
}

func (m *Manager) resolve(ctx context.Context) (*handle, error) {
	sc, ok := m.scopeFrom(ctx)
	if !ok {
		return nil, ErrNoScope
	}
	st := m.state.Load()
	if st == nil {
		return nil, ErrNotInitialized
	}

	// Fast path without the scope lock. A handle pinned by a running switch
	// is kept until the switch has restored, even across a reload.
	if h := sc.handle.Load(); h != nil && (h.generation == st.generation || h.pinned()) {
		return h, nil
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.closed {
		return nil, ErrScopeClosed
	}
	if h := sc.handle.Load(); h != nil {
		if h.generation == st.generation || h.pinned() {
			return h, nil
		}
		sc.handle.Store(nil)
		if err := h.Close(); err != nil {
			m.log.WarnContext(ctx, "failed to close stale adapter",
				logger.Scope(sc.id), logger.Generation(h.generation), logger.Error(err))
		}
	}

	driver, err := m.registry.Build(ctx, st.cfg)
	if err != nil {
		return nil, err
	}
	log := m.log.With(logger.Adapter(string(st.cfg.Adapter)), logger.Scope(sc.id))
	h, err := newHandle(ctx, st.cfg, st.generation, driver, m.hub, log)
	if err != nil {
		return nil, err
	}
	sc.handle.Store(h)
	log.DebugContext(ctx, "adapter resolved", logger.Generation(st.generation))
	return h, nil
}

// Create provisions tenant. See Adapter.Create.
func (m *Manager) Create(ctx context.Context, tenant string) error {
	h, err := m.resolve(ctx)
	if err != nil {
		return err
	}
	return h.Create(ctx, tenant)
}

// Drop removes tenant. See Adapter.Drop.
func (m *Manager) Drop(ctx context.Context, tenant string) error {
	h, err := m.resolve(ctx)
	if err != nil {
		return err
	}
	return h.Drop(ctx, tenant)
}

// Switch runs fn with tenant active and restores the previous tenant
// afterwards, even when fn fails, panics or its context is cancelled.
func (m *Manager) Switch(ctx context.Context, tenant string, fn func(ctx context.Context) error) error {
	h, err := m.resolve(ctx)
	if err != nil {
		return err
	}
	return h.Switch(ctx, tenant, fn)
}

// SwitchPermanently activates tenant for the rest of the scope.
func (m *Manager) SwitchPermanently(ctx context.Context, tenant string) error {
	h, err := m.resolve(ctx)
	if err != nil {
		return err
	}
	return h.SwitchPermanently(ctx, tenant)
}

// Current returns the active tenant of the scope.
func (m *Manager) Current(ctx context.Context) (string, error) {
	h, err := m.resolve(ctx)
	if err != nil {
		return "", err
	}
	return h.Current(), nil
}

// Each runs fn for every tenant under a scoped switch. A nil slice means all
// known tenants.
func (m *Manager) Each(ctx context.Context, tenants []string, fn func(ctx context.Context, tenant string) error) error {
	h, err := m.resolve(ctx)
	if err != nil {
		return err
	}
	return h.Each(ctx, tenants, fn)
}

// Reset returns the scope to the default tenant.
func (m *Manager) Reset(ctx context.Context) error {
	h, err := m.resolve(ctx)
	if err != nil {
		return err
	}
	return h.Reset(ctx)
}

// Seed populates baseline data in the scope's current tenant.
func (m *Manager) Seed(ctx context.Context) error {
	h, err := m.resolve(ctx)
	if err != nil {
		return err
	}
	return h.Seed(ctx)
}

// Migrate applies migrations to each of tenants, or to every known tenant
// when tenants is nil.
func (m *Manager) Migrate(ctx context.Context, tenants []string) error {
	h, err := m.resolve(ctx)
	if err != nil {
		return err
	}
	if tenants == nil {
		if tenants, err = h.knownTenants(ctx); err != nil {
			return err
		}
	}
	for _, tenant := range tenants {
		if err := h.Migrate(ctx, tenant); err != nil {
			return err
		}
		m.log.InfoContext(ctx, "tenant migrated", logger.Tenant(tenant))
	}
	return nil
}

// Tenants lists the known tenants: Config.TenantNames when set, otherwise
// whatever the backend reports.
func (m *Manager) Tenants(ctx context.Context) ([]string, error) {
	h, err := m.resolve(ctx)
	if err != nil {
		return nil, err
	}
	return h.knownTenants(ctx)
}

// Driver returns the backend driver of the scope's adapter.
func (m *Manager) Driver(ctx context.Context) (Driver, error) {
	h, err := m.resolve(ctx)
	if err != nil {
		return nil, err
	}
	return h.Driver(), nil
}

// RegisterEntity qualifies an entity type added after Init and writes the
// result to the entity registry. An empty table uses DefaultTableName. The
// name is always qualified against the default tenant, never the tenant
// active at registration time.
func (m *Manager) RegisterEntity(entity, table string) (string, error) {
	st := m.state.Load()
	if st == nil {
		return "", ErrNotInitialized
	}
	if m.entities == nil {
		return "", ErrNoEntityRegistry
	}
	if table == "" {
		table = DefaultTableName(entity)
	}
	// A reload must not requalify the registry between the read and the write.
	m.installMu.Lock()
	defer m.installMu.Unlock()
	st = m.state.Load()
	qualified := st.policy.Qualify(entity, table)
	m.entities.SetTableName(entity, qualified)
	return qualified, nil
}

// TableName returns the storage target of entity for the scope's current
// tenant: tenant-scoped names carry the active tenant as qualifier, shared
// names are returned as registered.
func (m *Manager) TableName(ctx context.Context, entity string) (string, error) {
	st := m.state.Load()
	if st == nil {
		return "", ErrNotInitialized
	}
	if m.entities == nil {
		return "", ErrNoEntityRegistry
	}

	table := m.entities.TableName(entity)
	if table == "" {
		table = st.policy.Qualify(entity, DefaultTableName(entity))
	}
	if !st.policy.IsTenantScoped(entity) {
		return table, nil
	}

	tenant, err := m.Current(ctx)
	if err != nil {
		return "", err
	}
	return st.policy.Resolve(entity, table, tenant), nil
}

// LogExtractor returns a logger.ContextExtractor that adds the scope's
// current tenant to log records. It never builds an adapter.
func (m *Manager) LogExtractor() logger.ContextExtractor {
	return func(ctx context.Context) (slog.Attr, bool) {
		sc, ok := m.scopeFrom(ctx)
		if !ok {
			return slog.Attr{}, false
		}
		h := sc.handle.Load()
		if h == nil {
			return slog.Attr{}, false
		}
		return logger.Tenant(h.Current()), true
	}
}
