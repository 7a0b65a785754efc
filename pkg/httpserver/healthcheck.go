package httpserver

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dasaradhy/apartment/pkg/logger"
)

// Check reports whether a dependency is usable.
type Check func(ctx context.Context) error

// HealthHandler serves liveness when no checks are given ("ALIVE") and
// readiness otherwise: "READY" when every check passes, 503 "NOT_READY" on
// the first failure. Checks run with the request context.
func HealthHandler(log *slog.Logger, checks ...Check) http.HandlerFunc {
	log = logger.Ensure(log)
	return func(w http.ResponseWriter, r *http.Request) {
		if len(checks) == 0 {
			writeStatus(w, http.StatusOK, "ALIVE")
			return
		}
		for _, check := range checks {
			if err := check(r.Context()); err != nil {
				log.ErrorContext(r.Context(), "readiness check failed", logger.Error(err))
				writeStatus(w, http.StatusServiceUnavailable, "NOT_READY")
				return
			}
		}
		writeStatus(w, http.StatusOK, "READY")
	}
}

func writeStatus(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}
