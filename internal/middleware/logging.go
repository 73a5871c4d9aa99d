package middleware

import (
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	if !rw.written {
		rw.statusCode = statusCode
		rw.ResponseWriter.WriteHeader(statusCode)
		rw.written = true
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// LoggingMiddleware logs HTTP requests with method, path, status, duration, and IP
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
			written:        false,
		}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		ip := clientIP(r)

		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration", duration,
			"ip", ip,
			"user_agent", r.UserAgent(),
		)
	})
}

// clientIP returns the client address. X-Forwarded-For is honored only
// when the direct peer is a private or loopback address, so an internet
// client cannot spoof its own IP.
func clientIP(r *http.Request) string {
	peer := r.RemoteAddr
	if host, _, found := strings.Cut(peer, ":"); found {
		peer = host
	}
	peer = strings.Trim(peer, "[]")

	addr, err := netip.ParseAddr(peer)
	if err != nil {
		return r.RemoteAddr
	}
	if !addr.IsPrivate() && !addr.IsLoopback() {
		return peer
	}

	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		// First entry is the originating client
		first, _, _ := strings.Cut(forwarded, ",")
		first = strings.TrimSpace(first)
		if _, err := netip.ParseAddr(strings.Trim(first, "[]")); err == nil {
			return first
		}
	}
	return peer
}
