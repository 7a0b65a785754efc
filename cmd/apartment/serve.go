package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dasaradhy/apartment/pkg/config"
	"github.com/dasaradhy/apartment/pkg/elevator"
	"github.com/dasaradhy/apartment/pkg/httpserver"
	"github.com/dasaradhy/apartment/pkg/logger"
	"github.com/dasaradhy/apartment/pkg/redis"
	"github.com/dasaradhy/apartment/pkg/requestid"
	"github.com/dasaradhy/apartment/pkg/tenancy"
	"github.com/dasaradhy/apartment/pkg/tenantcache"
	"github.com/dasaradhy/apartment/pkg/tenantmetrics"
)

// deps is what the HTTP API needs beyond the manager.
type deps struct {
	manager  *tenancy.Manager
	log      *slog.Logger
	app      appConfig
	gatherer prometheus.Gatherer
	checks   []httpserver.Check

	cache      *tenantcache.Cache
	closeCache func()
}

// attachCache connects to Redis and clears tenant cache entries on create
// and drop.
func (d *deps) attachCache(ctx context.Context) error {
	var redisCfg redis.Config
	if err := config.Load(&redisCfg); err != nil {
		return err
	}
	redisCfg.ConnectionURL = d.app.RedisURL
	client, err := redis.Connect(ctx, redisCfg)
	if err != nil {
		return err
	}
	d.cache = tenantcache.New(client, d.manager, tenantcache.WithLogger(d.log))
	d.checks = append(d.checks, redis.Healthcheck(client))
	d.closeCache = func() {
		if err := client.Close(); err != nil {
			d.log.Error("failed to close redis client", logger.Error(err))
		}
	}
	return d.cache.Attach(d.manager)
}

func serve(ctx context.Context, d *deps) error {
	var httpCfg httpserver.Config
	if err := config.Load(&httpCfg); err != nil {
		return err
	}
	srv := httpserver.NewFromConfig(httpCfg, httpserver.WithLogger(d.log))
	return srv.Run(ctx, newRouter(d))
}

func newRouter(d *deps) http.Handler {
	m := d.manager
	r := chi.NewRouter()
	r.Use(requestid.Middleware)

	r.Get("/healthz", httpserver.HealthHandler(d.log))
	r.Get("/readyz", httpserver.HealthHandler(d.log, append(d.checks, func(ctx context.Context) error {
		return m.Run(ctx, func(ctx context.Context) error {
			_, err := m.Tenants(ctx)
			return err
		})
	})...))
	r.Handle("/metrics", tenantmetrics.Handler(d.gatherer))

	r.Group(func(r chi.Router) {
		r.Use(elevator.Middleware(m,
			elevator.First(elevator.Header(d.app.TenantHeader), elevator.Subdomain(d.app.ExcludedSubdomains...)),
			elevator.WithLogger(d.log),
		))

		r.Get("/tenant", func(w http.ResponseWriter, r *http.Request) {
			tenant, err := m.Current(r.Context())
			if err != nil {
				elevator.DefaultErrorHandler(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"tenant": tenant})
		})

		r.Get("/tables", func(w http.ResponseWriter, r *http.Request) {
			cfg, _ := m.Config()
			tables := make(map[string]string)
			for _, entity := range entities(cfg) {
				table, err := m.TableName(r.Context(), entity)
				if err != nil {
					elevator.DefaultErrorHandler(w, r, err)
					return
				}
				tables[entity] = table
			}
			writeJSON(w, http.StatusOK, tables)
		})

		if d.cache != nil {
			r.Route("/cache/{key}", func(r chi.Router) {
				r.Use(elevator.RequireTenant(m, nil))
				r.Get("/", d.getCached)
				r.Put("/", d.putCached)
				r.Delete("/", d.deleteCached)
			})
		}
	})
	return r
}

func (d *deps) getCached(w http.ResponseWriter, r *http.Request) {
	value, err := d.cache.Get(r.Context(), chi.URLParam(r, "key"))
	if errors.Is(err, tenantcache.ErrCacheMiss) {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	if err != nil {
		d.cacheError(w, r, err)
		return
	}
	_, _ = io.WriteString(w, value)
}

func (d *deps) putCached(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	if err := d.cache.Set(r.Context(), chi.URLParam(r, "key"), string(body)); err != nil {
		d.cacheError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d *deps) deleteCached(w http.ResponseWriter, r *http.Request) {
	if err := d.cache.Delete(r.Context(), chi.URLParam(r, "key")); err != nil {
		d.cacheError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d *deps) cacheError(w http.ResponseWriter, r *http.Request, err error) {
	d.log.ErrorContext(r.Context(), "cache request failed", logger.Error(err))
	if errors.Is(err, tenantcache.ErrCacheFailed) {
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}
	elevator.DefaultErrorHandler(w, r, err)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
