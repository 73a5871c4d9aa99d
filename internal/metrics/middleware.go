package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware instruments HTTP handlers with request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK, // Default to 200 if WriteHeader not called
		}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)
		method := r.Method
		status := strconv.Itoa(wrapped.statusCode)

		HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
		HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// normalizePath normalizes URL paths for metric labels to avoid cardinality
// explosion. Numeric IDs collapse to :id placeholders.
func normalizePath(path string) string {
	switch path {
	case "/", "/health", "/metrics",
		"/api/veeam/config", "/api/veeam/backups", "/api/veeam/sync-backups",
		"/api/veeam/mount-sessions", "/api/veeam/reconcile-state",
		"/api/ml-jobs", "/api/extraction-jobs", "/api/extraction-jobs/templates",
		"/api/extraction-jobs/config", "/api/extraction-jobs/active",
		"/api/extraction-jobs/stats":
		return path
	}

	switch {
	case strings.HasPrefix(path, "/api/veeam/backups/"):
		return "/api/veeam/backups/:id/*"
	case strings.HasPrefix(path, "/api/ml-jobs/"):
		return "/api/ml-jobs/:id/*"
	case strings.HasPrefix(path, "/api/extraction-jobs/templates/"):
		return "/api/extraction-jobs/templates/:id"
	case strings.HasPrefix(path, "/api/extraction-jobs/"):
		return "/api/extraction-jobs/:id/*"
	case strings.HasPrefix(path, "/assets/"):
		return "/assets/*"
	default:
		return "/other"
	}
}
