package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/wolfman30/hms-platform/internal/identity"
	"github.com/wolfman30/hms-platform/pkg/logging"
)

// RequestObserver receives per-request latency; metrics.SchedulingMetrics implements it.
type RequestObserver interface {
	ObserveRequest(method string, status int, seconds float64)
}

// RequestLogger emits one structured log line per request and echoes the
// request id back in X-Request-ID.
func RequestLogger(logger *logging.Logger, observer RequestObserver) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				reqID = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", reqID)
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)
			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"request_id", reqID,
				"duration_ms", elapsed.Milliseconds(),
			}
			if p, ok := identity.PrincipalFromContext(r.Context()); ok {
				attrs = append(attrs, "user_id", p.UserID, "role", p.Role)
			}
			if status >= http.StatusInternalServerError {
				logger.Error("request completed", attrs...)
			} else {
				logger.Info("request completed", attrs...)
			}
			if observer != nil {
				observer.ObserveRequest(r.Method, status, elapsed.Seconds())
			}
		})
	}
}
