package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/mritsurgeon/veeam-ml/internal/models"
)

// RecoveryMiddleware turns handler panics into a JSON 500 so one bad
// request cannot take the whole API down. http.ErrAbortHandler keeps
// its net/http meaning and is re-raised.
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			err := recover()
			if err == nil {
				return
			}
			if err == http.ErrAbortHandler {
				panic(err)
			}

			slog.Error("panic recovered",
				"error", err,
				"method", r.Method,
				"path", r.URL.Path,
				"client_ip", clientIP(r),
				"stack", string(debug.Stack()),
			)

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(models.ErrorResponse{
				Error: "Internal server error",
				Code:  "INTERNAL_ERROR",
			})
		}()

		next.ServeHTTP(w, r)
	})
}
