package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/angelmondragon/greenbasket-backend/pkg/logger"
	"github.com/angelmondragon/greenbasket-backend/pkg/metrics"
)

// quietPaths are polled constantly; they are measured but only logged on
// failure.
var quietPaths = []string{"/health/", "/metrics"}

// Logging writes one access entry per request and feeds the HTTP metrics.
// Both are labelled by route pattern, resolved after routing completes.
func Logging(logg *logger.Logger, m *metrics.HTTPMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := routePattern(r)
			took := time.Since(start)
			m.Observe(route, r.Method, status, took)

			if logg == nil || (isQuiet(r.URL.Path) && status < http.StatusInternalServerError) {
				return
			}
			ctx := logg.WithFields(r.Context(), map[string]any{
				"method":      r.Method,
				"path":        r.URL.Path,
				"route":       route,
				"status":      status,
				"bytes":       ww.BytesWritten(),
				"remote_ip":   clientIP(r),
				"duration_ms": took.Milliseconds(),
			})
			logg.Info(ctx, "request.complete")
		})
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}

func isQuiet(path string) bool {
	for _, p := range quietPaths {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
