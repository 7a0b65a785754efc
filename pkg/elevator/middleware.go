package elevator

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dasaradhy/apartment/pkg/logger"
	"github.com/dasaradhy/apartment/pkg/tenancy"
)

// ErrorHandler writes the response for a request whose tenant could not be
// resolved or activated.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

type config struct {
	errorHandler ErrorHandler
	skipPaths    []string
	log          *slog.Logger
}

// Option configures the middleware.
type Option func(*config)

// WithErrorHandler replaces DefaultErrorHandler.
func WithErrorHandler(h ErrorHandler) Option {
	return func(c *config) {
		if h != nil {
			c.errorHandler = h
		}
	}
}

// WithSkipPaths lists path prefixes served without a tenancy scope, such as
// health checks and static assets.
func WithSkipPaths(paths ...string) Option {
	return func(c *config) { c.skipPaths = append(c.skipPaths, paths...) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.log = logger.Ensure(l) }
}

// Middleware runs each request in its own tenancy scope, switched to the
// tenant resolve returns.
func Middleware(m *tenancy.Manager, resolve Resolver, opts ...Option) func(http.Handler) http.Handler {
	cfg := &config{
		errorHandler: DefaultErrorHandler,
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	log := cfg.log.With(logger.Component("elevator"))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, prefix := range cfg.skipPaths {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}

			tenant, err := resolve(r)
			if err != nil {
				log.DebugContext(r.Context(), "tenant resolution failed", logger.Error(err))
				cfg.errorHandler(w, r, err)
				return
			}

			ctx := m.NewContext(r.Context())
			defer func() {
				if err := m.Release(ctx); err != nil {
					log.ErrorContext(ctx, "failed to release tenancy scope", logger.Error(err))
				}
			}()

			served := false
			err = m.Switch(ctx, tenant, func(ctx context.Context) error {
				served = true
				next.ServeHTTP(w, r.WithContext(ctx))
				return nil
			})
			if err == nil {
				return
			}
			if served {
				// The response is already written; only the restore failed.
				log.ErrorContext(ctx, "tenant switch failed after response", logger.Tenant(tenant), logger.Error(err))
				return
			}
			log.DebugContext(ctx, "tenant switch failed", logger.Tenant(tenant), logger.Error(err))
			cfg.errorHandler(w, r, err)
		})
	}
}

// RequireTenant rejects requests running on the default tenant. Mount it
// after Middleware.
func RequireTenant(m *tenancy.Manager, errorHandler ErrorHandler) func(http.Handler) http.Handler {
	if errorHandler == nil {
		errorHandler = DefaultErrorHandler
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			current, err := m.Current(r.Context())
			if err != nil {
				errorHandler(w, r, err)
				return
			}
			if cfg, ok := m.Config(); ok && current == cfg.DefaultTenant {
				errorHandler(w, r, ErrNoTenant)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// DefaultErrorHandler maps tenancy errors onto status codes.
func DefaultErrorHandler(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, tenancy.ErrTenantNotFound):
		http.Error(w, "Tenant not found", http.StatusNotFound)
	case errors.Is(err, tenancy.ErrInvalidIdentifier), errors.Is(err, ErrNoTenant):
		http.Error(w, "Invalid tenant identifier", http.StatusBadRequest)
	case errors.Is(err, tenancy.ErrBackendUnavailable):
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
	default:
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
