package tenancy

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dasaradhy/apartment/pkg/logger"
)

var tracer = otel.Tracer("github.com/dasaradhy/apartment/pkg/tenancy")

// handle is the adapter bound to one scope and one configuration generation.
// It owns its driver exclusively.
type handle struct {
	cfg        Config
	generation uint64
	driver     Driver
	hub        *Hub
	log        *slog.Logger

	mu      sync.Mutex
	current string

	// pins counts scoped switches in flight. A pinned handle outlives a
	// reload until its outermost restore has run.
	pins atomic.Int32
}

var _ Adapter = (*handle)(nil)

// newHandle wraps driver and points it at the default tenant, so a pooled
// session never starts with a search path left over from a previous owner.
func newHandle(ctx context.Context, cfg Config, generation uint64, driver Driver, hub *Hub, log *slog.Logger) (*handle, error) {
	if err := driver.Activate(ctx, cfg.DefaultTenant); err != nil {
		_ = driver.Close()
		return nil, errors.Join(ErrAdapterLoad, err)
	}
	return &handle{
		cfg:        cfg,
		generation: generation,
		driver:     driver,
		hub:        hub,
		log:        log,
		current:    cfg.DefaultTenant,
	}, nil
}

func (h *handle) Create(ctx context.Context, tenant string) (err error) {
	ctx, span := h.startSpan(ctx, "create", tenant)
	defer func() { endSpan(span, err) }()

	if err := ValidateIdentifier(tenant, h.cfg.DefaultTenant, false); err != nil {
		return err
	}
	if err := h.driver.Create(ctx, tenant); err != nil {
		return err
	}
	h.log.InfoContext(ctx, "tenant created", logger.Tenant(tenant))

	if m, ok := h.driver.(Migrator); ok {
		if err := m.Migrate(ctx, tenant); err != nil {
			return err
		}
	}
	if err := h.hub.Fire(ctx, EventCreated, tenant); err != nil {
		return err
	}
	if h.cfg.SeedAfterCreate {
		return h.Switch(ctx, tenant, h.Seed)
	}
	return nil
}

func (h *handle) Drop(ctx context.Context, tenant string) (err error) {
	ctx, span := h.startSpan(ctx, "drop", tenant)
	defer func() { endSpan(span, err) }()

	if err := ValidateIdentifier(tenant, h.cfg.DefaultTenant, false); err != nil {
		return err
	}
	// Step off the tenant first: database-per-tenant backends refuse to drop
	// a database with an open session.
	steppedOff := false
	if h.Current() == tenant {
		if err := h.activate(ctx, h.cfg.DefaultTenant, false); err != nil {
			return err
		}
		steppedOff = true
	}
	if err := h.driver.Drop(ctx, tenant); err != nil {
		if steppedOff {
			if rerr := h.restore(context.WithoutCancel(ctx), tenant); rerr != nil {
				return errors.Join(ErrRestoreFailed, rerr, err)
			}
		}
		return err
	}
	h.log.InfoContext(ctx, "tenant dropped", logger.Tenant(tenant))
	return h.hub.Fire(ctx, EventDropped, tenant)
}

func (h *handle) Switch(ctx context.Context, tenant string, fn func(ctx context.Context) error) (err error) {
	if tenant == "" {
		tenant = h.cfg.DefaultTenant
	}
	if err := ValidateIdentifier(tenant, h.cfg.DefaultTenant, true); err != nil {
		return err
	}

	ctx, span := h.startSpan(ctx, "switch", tenant)
	defer func() { endSpan(span, err) }()

	h.pins.Add(1)
	defer h.pins.Add(-1)

	previous := h.Current()
	defer func() {
		// Runs on success, failure, panic and cancellation alike.
		if rerr := h.restore(context.WithoutCancel(ctx), previous); rerr != nil {
			h.log.ErrorContext(ctx, "failed to restore tenant",
				logger.Tenant(previous), logger.Error(rerr))
			err = errors.Join(ErrRestoreFailed, rerr, err)
		}
	}()

	if err := h.activate(ctx, tenant, true); err != nil {
		return err
	}
	if fn == nil {
		return nil
	}
	return fn(ctx)
}

func (h *handle) SwitchPermanently(ctx context.Context, tenant string) (err error) {
	if tenant == "" {
		tenant = h.cfg.DefaultTenant
	}
	if err := ValidateIdentifier(tenant, h.cfg.DefaultTenant, true); err != nil {
		return err
	}

	ctx, span := h.startSpan(ctx, "switch_permanently", tenant)
	defer func() { endSpan(span, err) }()

	return h.activate(ctx, tenant, true)
}

func (h *handle) Current() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

func (h *handle) Each(ctx context.Context, tenants []string, fn func(ctx context.Context, tenant string) error) (err error) {
	ctx, span := h.startSpan(ctx, "each", "")
	defer func() { endSpan(span, err) }()

	if tenants == nil {
		if tenants, err = h.knownTenants(ctx); err != nil {
			return err
		}
	}
	span.SetAttributes(attribute.Int("tenancy.tenants", len(tenants)))

	h.pins.Add(1)
	defer h.pins.Add(-1)

	previous := h.Current()
	defer func() {
		if h.Current() == previous {
			return
		}
		if rerr := h.restore(context.WithoutCancel(ctx), previous); rerr != nil {
			err = errors.Join(ErrRestoreFailed, rerr, err)
		}
	}()

	for _, tenant := range tenants {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := h.Switch(ctx, tenant, func(ctx context.Context) error {
			if fn == nil {
				return nil
			}
			return fn(ctx, tenant)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (h *handle) Reset(ctx context.Context) error {
	return h.activate(ctx, h.cfg.DefaultTenant, false)
}

func (h *handle) Seed(ctx context.Context) error {
	s, ok := h.driver.(Seeder)
	if !ok {
		return nil
	}
	tenant := h.Current()
	if err := s.Seed(ctx, tenant); err != nil {
		return err
	}
	h.log.InfoContext(ctx, "tenant seeded", logger.Tenant(tenant))
	return nil
}

func (h *handle) Migrate(ctx context.Context, tenant string) error {
	if err := ValidateIdentifier(tenant, h.cfg.DefaultTenant, true); err != nil {
		return err
	}
	m, ok := h.driver.(Migrator)
	if !ok {
		return nil
	}
	return m.Migrate(ctx, tenant)
}

func (h *handle) SetCallback(event Event, fn Listener) error {
	return h.hub.On(event, fn)
}

func (h *handle) DefaultTenant() string { return h.cfg.DefaultTenant }

func (h *handle) Driver() Driver { return h.driver }

// pinned reports whether a scoped switch is running on the handle.
func (h *handle) pinned() bool { return h.pins.Load() > 0 }

func (h *handle) Close() error {
	return h.driver.Close()
}

// activate points the driver at tenant and records it as current.
func (h *handle) activate(ctx context.Context, tenant string, notify bool) error {
	if err := h.driver.Activate(ctx, tenant); err != nil {
		return err
	}

	h.mu.Lock()
	h.current = tenant
	h.mu.Unlock()

	h.log.DebugContext(ctx, "tenant activated", logger.Tenant(tenant))
	if notify {
		return h.hub.Fire(ctx, EventSwitched, tenant)
	}
	return nil
}

// restore re-activates tenant after a scoped switch. It never fires events.
func (h *handle) restore(ctx context.Context, tenant string) error {
	return h.activate(ctx, tenant, false)
}

func (h *handle) knownTenants(ctx context.Context) ([]string, error) {
	if len(h.cfg.TenantNames) > 0 {
		return slices.Clone(h.cfg.TenantNames), nil
	}
	return h.driver.Tenants(ctx)
}

func (h *handle) startSpan(ctx context.Context, op, tenant string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{attribute.String("tenancy.adapter", string(h.cfg.Adapter))}
	if tenant != "" {
		attrs = append(attrs, attribute.String("tenancy.tenant", tenant))
	}
	return tracer.Start(ctx, "tenancy."+op, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
