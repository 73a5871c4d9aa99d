package handlers

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/mritsurgeon/veeam-ml/internal/database"
	"github.com/mritsurgeon/veeam-ml/internal/jobs"
	"github.com/mritsurgeon/veeam-ml/internal/models"
)

// HealthHandler reports service health: database reachability, Veeam
// connectivity and running job counts
func HealthHandler(db *sql.DB, conn *Connection, registry *jobs.Registry, startTime time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")

		if err := db.PingContext(r.Context()); err != nil {
			slog.Error("health check database ping failed", "error", err)
			sendJSON(w, models.HealthResponse{Status: "unhealthy"}, http.StatusServiceUnavailable)
			return
		}

		total, mounted, err := database.CountBackups(db)
		if err != nil {
			slog.Error("health check backup count failed", "error", err)
			sendJSON(w, models.HealthResponse{Status: "unhealthy"}, http.StatusServiceUnavailable)
			return
		}

		connected := false
		if client := conn.Client(); client != nil {
			connected = client.Authenticated()
		}

		sendJSON(w, models.HealthResponse{
			Status:         "healthy",
			UptimeSeconds:  int64(time.Since(startTime).Seconds()),
			TotalBackups:   total,
			MountedBackups: mounted,
			VeeamConnected: connected,
			ActiveJobs:     registry.Count(),
		}, http.StatusOK)
	}
}
