package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/mritsurgeon/veeam-ml/internal/config"
	"github.com/mritsurgeon/veeam-ml/internal/database"
	"github.com/mritsurgeon/veeam-ml/internal/models"
	"github.com/mritsurgeon/veeam-ml/internal/scanner"
	"github.com/mritsurgeon/veeam-ml/internal/veeam"
)

// ConfigureVeeamHandler connects to a Veeam server and makes the client
// active. Credentials are persisted encrypted when a cipher is configured.
// POST /api/veeam/config
func ConfigureVeeamHandler(db *sql.DB, cfg *config.Config, conn *Connection, cipher *database.CredentialCipher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			VeeamURL string `json:"veeam_url"`
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			sendError(w, "Invalid request body", "INVALID_REQUEST", http.StatusBadRequest)
			return
		}
		if req.VeeamURL == "" || req.Username == "" || req.Password == "" {
			sendError(w, "veeam_url, username and password are required", "MISSING_FIELDS", http.StatusBadRequest)
			return
		}

		client, err := veeam.NewClient(veeam.Options{
			URL:           req.VeeamURL,
			Username:      req.Username,
			Password:      req.Password,
			APIVersion:    cfg.VeeamAPIVersion,
			SkipTLSVerify: cfg.VeeamSkipTLSVerify,
			MountHost:     cfg.VeeamMountHost,
		})
		if err != nil {
			sendError(w, err.Error(), "INVALID_URL", http.StatusBadRequest)
			return
		}

		if err := client.Authenticate(r.Context()); err != nil {
			slog.Warn("veeam authentication failed", "url", req.VeeamURL, "error", err)
			status := http.StatusBadGateway
			if veeam.IsUnauthorized(err) {
				status = http.StatusUnauthorized
			}
			sendError(w, err.Error(), "VEEAM_AUTH_FAILED", status)
			return
		}

		conn.Set(client)

		if cipher != nil {
			if err := database.SaveVeeamCredentials(db, cipher, req.VeeamURL, req.Username, req.Password); err != nil {
				slog.Error("failed to persist veeam credentials", "error", err)
			}
		}

		sendJSON(w, map[string]any{
			"status":    "connected",
			"veeam_url": req.VeeamURL,
		}, http.StatusOK)
	}
}

// GetVeeamConfigHandler returns the stored connection, password omitted.
// GET /api/veeam/config
func GetVeeamConfigHandler(db *sql.DB, conn *Connection, cipher *database.CredentialCipher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := map[string]any{
			"configured": conn.Client() != nil,
		}

		if client := conn.Client(); client != nil {
			response["veeam_url"] = client.BaseURL()
			response["connected"] = client.Authenticated()
		} else if cipher != nil {
			url, username, _, err := database.LoadVeeamCredentials(db, cipher)
			if err == nil && url != "" {
				response["veeam_url"] = url
				response["username"] = username
			}
		}

		sendJSON(w, response, http.StatusOK)
	}
}

// syncBackups pulls the server's backups into the local database.
// Mount state of known rows is preserved.
func syncBackups(r *http.Request, db *sql.DB, client *veeam.Client) (int, error) {
	filter := veeam.BackupFilter{
		VMName:    r.URL.Query().Get("vm_name"),
		StartDate: r.URL.Query().Get("start_date"),
		EndDate:   r.URL.Query().Get("end_date"),
	}

	infos, err := client.Backups(r.Context(), filter)
	if err != nil {
		return 0, err
	}

	for _, info := range infos {
		backup := &models.Backup{
			BackupID:   info.ID,
			Name:       info.Name,
			Path:       info.Name,
			BackupDate: info.CreationTime,
			Status:     models.BackupAvailable,
			OSType:     veeam.DetectOSType(info.Name, info.PlatformName, info.Name),
		}
		if err := database.UpsertBackup(db, backup); err != nil {
			slog.Error("failed to upsert backup", "backup_id", info.ID, "error", err)
		}
	}
	return len(infos), nil
}

// ListBackupsHandler lists backups. With a live connection the server's
// view is synced into the database first; otherwise the local rows serve.
// GET /api/veeam/backups
func ListBackupsHandler(db *sql.DB, conn *Connection) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if client := conn.Client(); client != nil {
			if _, err := syncBackups(r, db, client); err != nil {
				slog.Warn("backup sync failed, serving local rows", "error", err)
			}
		}

		backups, err := database.ListBackups(db)
		if err != nil {
			slog.Error("failed to list backups", "error", err)
			sendError(w, "Failed to list backups", "DATABASE_ERROR", http.StatusInternalServerError)
			return
		}

		responses := make([]models.BackupResponse, 0, len(backups))
		for _, b := range backups {
			responses = append(responses, b.Response())
		}
		sendJSON(w, map[string]any{"backups": responses, "count": len(responses)}, http.StatusOK)
	}
}

// SyncBackupsHandler forces a sync from the Veeam server.
// POST /api/veeam/sync-backups
func SyncBackupsHandler(db *sql.DB, conn *Connection) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		client := requireClient(w, conn)
		if client == nil {
			return
		}

		count, err := syncBackups(r, db, client)
		if err != nil {
			slog.Error("backup sync failed", "error", err)
			sendError(w, err.Error(), "VEEAM_ERROR", http.StatusBadGateway)
			return
		}
		sendJSON(w, map[string]any{"synced": count}, http.StatusOK)
	}
}

// MountBackupHandler mounts the newest restore point of a backup.
// POST /api/veeam/backups/{id}/mount
func MountBackupHandler(db *sql.DB, conn *Connection) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r)
		if !ok {
			sendError(w, "Invalid backup ID", "INVALID_ID", http.StatusBadRequest)
			return
		}
		client := requireClient(w, conn)
		if client == nil {
			return
		}

		backup, err := database.GetBackup(db, id)
		if err != nil {
			slog.Error("failed to get backup", "id", id, "error", err)
			sendError(w, "Failed to get backup", "DATABASE_ERROR", http.StatusInternalServerError)
			return
		}
		if backup == nil {
			sendError(w, "Backup not found", "NOT_FOUND", http.StatusNotFound)
			return
		}

		var req struct {
			Reason             string `json:"reason"`
			AutoUnmountMinutes int    `json:"auto_unmount_minutes"`
			WaitReady          bool   `json:"wait_ready"`
		}
		if r.Body != nil {
			json.NewDecoder(r.Body).Decode(&req)
		}

		session, err := client.Mount(r.Context(), backup.BackupID, veeam.MountOptions{
			Reason:             req.Reason,
			AutoUnmountMinutes: req.AutoUnmountMinutes,
		})
		if err != nil {
			slog.Error("mount failed", "backup_id", backup.BackupID, "error", err)
			sendError(w, err.Error(), "MOUNT_FAILED", http.StatusBadGateway)
			return
		}

		if req.WaitReady {
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
			err = client.WaitReady(ctx, session.SessionID, 2*time.Second)
			cancel()
			if err != nil {
				sendError(w, "mount never became ready: "+err.Error(), "MOUNT_NOT_READY", http.StatusGatewayTimeout)
				return
			}
		}

		if err := database.UpdateBackupStatus(db, backup.ID, models.BackupMounted, session.UNCPath); err != nil {
			slog.Error("failed to record mount", "id", backup.ID, "error", err)
		}

		// The mount session reports the machine name, which often settles
		// an OS type that was unknown at discovery time
		if backup.OSType == "" || backup.OSType == models.OSUnknown {
			if detected := veeam.DetectOSType(backup.Name, "", session.MachineName); detected != models.OSUnknown {
				if err := database.UpdateBackupOSType(db, backup.ID, detected); err != nil {
					slog.Error("failed to record os type", "id", backup.ID, "error", err)
				}
			}
		}

		sendJSON(w, session, http.StatusOK)
	}
}

// UnmountBackupHandler tears down the backup's restore session.
// POST /api/veeam/backups/{id}/unmount
func UnmountBackupHandler(db *sql.DB, conn *Connection) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r)
		if !ok {
			sendError(w, "Invalid backup ID", "INVALID_ID", http.StatusBadRequest)
			return
		}
		client := requireClient(w, conn)
		if client == nil {
			return
		}

		backup, err := database.GetBackup(db, id)
		if err != nil {
			sendError(w, "Failed to get backup", "DATABASE_ERROR", http.StatusInternalServerError)
			return
		}
		if backup == nil {
			sendError(w, "Backup not found", "NOT_FOUND", http.StatusNotFound)
			return
		}

		if session := client.SessionForBackup(backup.BackupID); session != nil {
			if err := client.Unmount(r.Context(), session.SessionID); err != nil {
				slog.Error("unmount failed", "session_id", session.SessionID, "error", err)
				sendError(w, err.Error(), "UNMOUNT_FAILED", http.StatusBadGateway)
				return
			}
		}

		if err := database.UpdateBackupStatus(db, backup.ID, models.BackupAvailable, ""); err != nil {
			slog.Error("failed to record unmount", "id", backup.ID, "error", err)
		}

		sendJSON(w, map[string]any{"status": "unmounted"}, http.StatusOK)
	}
}

// ScanBackupHandler walks the mounted content of a backup.
// POST /api/veeam/backups/{id}/scan
func ScanBackupHandler(db *sql.DB, cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r)
		if !ok {
			sendError(w, "Invalid backup ID", "INVALID_ID", http.StatusBadRequest)
			return
		}

		backup, err := database.GetBackup(db, id)
		if err != nil {
			sendError(w, "Failed to get backup", "DATABASE_ERROR", http.StatusInternalServerError)
			return
		}
		if backup == nil {
			sendError(w, "Backup not found", "NOT_FOUND", http.StatusNotFound)
			return
		}
		if backup.MountPoint == "" {
			sendError(w, "Backup is not mounted", "NOT_MOUNTED", http.StatusConflict)
			return
		}

		var req struct {
			Path     string `json:"path"`
			MaxDepth int    `json:"max_depth"`
			MaxFiles int    `json:"max_files"`
		}
		if r.Body != nil {
			json.NewDecoder(r.Body).Decode(&req)
		}
		if req.MaxDepth <= 0 {
			req.MaxDepth = cfg.ScanMaxDepth
		}
		if req.MaxFiles <= 0 {
			req.MaxFiles = 10000
		}

		root := localScanPath(cfg, backup.MountPoint)
		if req.Path != "" {
			root = filepath.Join(root, filepath.FromSlash(strings.TrimPrefix(req.Path, "/")))
		}

		files, stats, err := scanner.New(scanner.Options{
			MaxDepth:  req.MaxDepth,
			MaxFiles:  req.MaxFiles,
			SniffMime: true,
		}).Scan(r.Context(), root)
		if err != nil {
			slog.Error("scan failed", "root", root, "error", err)
			sendError(w, err.Error(), "SCAN_FAILED", http.StatusInternalServerError)
			return
		}

		sendJSON(w, map[string]any{"files": files, "stats": stats}, http.StatusOK)
	}
}

// localScanPath maps a UNC mount path onto the local filesystem when
// SCAN_ROOT is set: \\host\VeeamFLR\vm_abc becomes <root>/vm_abc. On a
// Windows host the UNC path is browsable directly and passes through.
func localScanPath(cfg *config.Config, mountPoint string) string {
	if cfg.ScanRoot == "" {
		return mountPoint
	}
	trimmed := strings.TrimPrefix(mountPoint, `\\`)
	parts := strings.Split(trimmed, `\`)
	// host / VeeamFLR / <mount folder> / ...
	if len(parts) >= 3 && strings.EqualFold(parts[1], "VeeamFLR") {
		return filepath.Join(append([]string{cfg.ScanRoot}, parts[2:]...)...)
	}
	return filepath.Join(cfg.ScanRoot, filepath.FromSlash(mountPoint))
}

// MountSessionsHandler lists the tracked restore sessions.
// GET /api/veeam/mount-sessions
func MountSessionsHandler(conn *Connection) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions := []*veeam.MountSession{}
		if client := conn.Client(); client != nil {
			sessions = client.Sessions()
		}
		sendJSON(w, map[string]any{"sessions": sessions, "count": len(sessions)}, http.StatusOK)
	}
}

// ReconcileStateHandler aligns tracked sessions with the server and
// clears stale mount flags in the database.
// POST /api/veeam/reconcile-state
func ReconcileStateHandler(db *sql.DB, conn *Connection) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		client := requireClient(w, conn)
		if client == nil {
			return
		}

		result, err := client.Reconcile(r.Context())
		if err != nil {
			slog.Error("reconcile failed", "error", err)
			sendError(w, err.Error(), "VEEAM_ERROR", http.StatusBadGateway)
			return
		}

		cleared, err := database.ClearStaleMounts(db, client.LiveBackupIDs())
		if err != nil {
			slog.Error("failed to clear stale mounts", "error", err)
			sendError(w, "Failed to clear stale mounts", "DATABASE_ERROR", http.StatusInternalServerError)
			return
		}

		sendJSON(w, map[string]any{"sessions": result, "cleared_mounts": cleared}, http.StatusOK)
	}
}
