// Package httpserver runs an http.Handler with configurable timeouts and
// graceful shutdown.
//
// Run blocks until the context is cancelled, SIGINT or SIGTERM arrives, or
// the listener fails. Shutdown drains in-flight requests within the
// configured deadline; tenant scopes opened by request middleware are
// released as their handlers return.
//
// # Usage
//
//	r := chi.NewRouter()
//	r.Get("/healthz", httpserver.HealthHandler(log, pg.Healthcheck(pool)))
//
//	srv := httpserver.NewFromConfig(cfg, httpserver.WithLogger(log))
//	if err := srv.Run(ctx, r); err != nil {
//		log.Error("server stopped", logger.Error(err))
//	}
//
// # Errors
//
// Run wraps listen failures with ErrStart and Shutdown wraps drain failures
// with ErrShutdown.
package httpserver
