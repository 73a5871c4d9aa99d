package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mritsurgeon/veeam-ml/internal/config"
	"github.com/mritsurgeon/veeam-ml/internal/database"
	"github.com/mritsurgeon/veeam-ml/internal/handlers"
	"github.com/mritsurgeon/veeam-ml/internal/jobs"
	"github.com/mritsurgeon/veeam-ml/internal/metrics"
	"github.com/mritsurgeon/veeam-ml/internal/middleware"
	"github.com/mritsurgeon/veeam-ml/internal/results"
	"github.com/mritsurgeon/veeam-ml/internal/static"
	"github.com/mritsurgeon/veeam-ml/internal/veeam"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("starting veeam-ml",
		"port", cfg.Port,
		"veeam_url", cfg.VeeamURL,
		"results_dir", cfg.ResultsDir,
		"s3_export", cfg.S3Bucket != "",
	)

	// Initialize database
	db, err := database.Initialize(cfg.DBPath)
	if err != nil {
		slog.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	slog.Info("database initialized", "path", cfg.DBPath)

	if err := database.SeedTemplates(db); err != nil {
		slog.Error("failed to seed job templates", "error", err)
		os.Exit(1)
	}

	// Credential cipher for persisting Veeam credentials at rest
	var cipher *database.CredentialCipher
	if cfg.EncryptionKey != "" {
		cipher, err = database.NewCredentialCipher(cfg.EncryptionKey, cfg.CredentialsSalt)
		if err != nil {
			slog.Error("failed to initialize credential encryption", "error", err)
			os.Exit(1)
		}
		slog.Info("credential encryption enabled")
	} else {
		slog.Info("credential encryption disabled - set ENCRYPTION_KEY to persist the Veeam connection")
	}

	// Results store: local filesystem by default, S3 when a bucket is set
	var store results.Store
	if cfg.S3Bucket != "" {
		s3Ctx, cancelS3 := context.WithTimeout(context.Background(), 30*time.Second)
		store, err = results.NewS3Store(s3Ctx, results.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			PathStyle:       cfg.S3PathStyle,
		})
		cancelS3()
		if err != nil {
			slog.Error("failed to initialize S3 results store", "error", err)
			os.Exit(1)
		}
		slog.Info("results store ready", "backend", "s3", "bucket", cfg.S3Bucket)
	} else {
		store, err = results.NewFilesystemStore(cfg.ResultsDir)
		if err != nil {
			slog.Error("failed to initialize results store", "error", err)
			os.Exit(1)
		}
		slog.Info("results store ready", "backend", "filesystem", "dir", cfg.ResultsDir)
	}

	// Veeam connection holder, swappable at runtime via the config API
	conn := &handlers.Connection{}
	restoreConnection(db, cfg, cipher, conn)

	registry := jobs.NewRegistry()
	runner := jobs.NewRunner(db, &liveMounter{conn: conn, cfg: cfg}, store, registry)

	// Expose DB-derived gauges alongside the default process metrics
	prometheus.MustRegister(metrics.NewDatabaseMetricsCollector(db))

	// Record start time for health checks
	startTime := time.Now()

	// Setup HTTP router
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", handlers.HealthHandler(db, conn, registry, startTime))
	mux.Handle("GET /metrics", promhttp.Handler())

	// Veeam server connection and backup inventory
	mux.HandleFunc("POST /api/veeam/config", handlers.ConfigureVeeamHandler(db, cfg, conn, cipher))
	mux.HandleFunc("GET /api/veeam/config", handlers.GetVeeamConfigHandler(db, conn, cipher))
	mux.HandleFunc("GET /api/veeam/backups", handlers.ListBackupsHandler(db, conn))
	mux.HandleFunc("POST /api/veeam/sync-backups", handlers.SyncBackupsHandler(db, conn))
	mux.HandleFunc("POST /api/veeam/backups/{id}/mount", handlers.MountBackupHandler(db, conn))
	mux.HandleFunc("POST /api/veeam/backups/{id}/unmount", handlers.UnmountBackupHandler(db, conn))
	mux.HandleFunc("POST /api/veeam/backups/{id}/scan", handlers.ScanBackupHandler(db, cfg))
	mux.HandleFunc("GET /api/veeam/mount-sessions", handlers.MountSessionsHandler(conn))
	mux.HandleFunc("POST /api/veeam/reconcile-state", handlers.ReconcileStateHandler(db, conn))

	// ML jobs
	mux.HandleFunc("POST /api/ml-jobs", handlers.CreateMLJobHandler(db))
	mux.HandleFunc("GET /api/ml-jobs", handlers.ListMLJobsHandler(db))
	mux.HandleFunc("GET /api/ml-jobs/{id}", handlers.GetMLJobHandler(db))
	mux.HandleFunc("POST /api/ml-jobs/{id}/execute", handlers.ExecuteMLJobHandler(db, runner, registry))
	mux.HandleFunc("POST /api/ml-jobs/{id}/cancel", handlers.CancelMLJobHandler(registry))
	mux.HandleFunc("DELETE /api/ml-jobs/{id}", handlers.DeleteMLJobHandler(db, registry))

	// Extraction jobs and templates
	mux.HandleFunc("POST /api/extraction-jobs", handlers.CreateExtractionJobHandler(db, cfg))
	mux.HandleFunc("GET /api/extraction-jobs", handlers.ListExtractionJobsHandler(db))
	mux.HandleFunc("GET /api/extraction-jobs/config", handlers.ConfigOptionsHandler())
	mux.HandleFunc("GET /api/extraction-jobs/active", handlers.ActiveJobsHandler(registry))
	mux.HandleFunc("GET /api/extraction-jobs/stats", handlers.StatsHandler(db, registry))
	mux.HandleFunc("GET /api/extraction-jobs/templates", handlers.ListTemplatesHandler(db))
	mux.HandleFunc("POST /api/extraction-jobs/templates", handlers.CreateTemplateHandler(db))
	mux.HandleFunc("DELETE /api/extraction-jobs/templates/{id}", handlers.DeleteTemplateHandler(db))
	mux.HandleFunc("POST /api/extraction-jobs/templates/{id}/create-job", handlers.CreateJobFromTemplateHandler(db, cfg))
	mux.HandleFunc("GET /api/extraction-jobs/{id}", handlers.GetExtractionJobHandler(db))
	mux.HandleFunc("PUT /api/extraction-jobs/{id}", handlers.UpdateExtractionJobHandler(db, registry))
	mux.HandleFunc("DELETE /api/extraction-jobs/{id}", handlers.DeleteExtractionJobHandler(db, registry))
	mux.HandleFunc("POST /api/extraction-jobs/{id}/execute", handlers.ExecuteExtractionJobHandler(db, runner))
	mux.HandleFunc("POST /api/extraction-jobs/{id}/cancel", handlers.CancelExtractionJobHandler(runner))
	mux.HandleFunc("GET /api/extraction-jobs/{id}/executions", handlers.ListExecutionsHandler(db))

	// Register static file routes (embedded frontend)
	mux.Handle("/assets/", http.StripPrefix("/", static.Handler()))
	mux.HandleFunc("/", static.Index)

	// Wrap with middleware (order: Recovery -> Logging -> Security -> CORS -> metrics -> handlers)
	handler := middleware.RecoveryMiddleware(
		middleware.LoggingMiddleware(
			middleware.SecurityHeadersMiddleware(
				middleware.CORSMiddleware(cfg.CORSAllowedOrigins)(
					metrics.Middleware(mux),
				),
			),
		),
	)

	// Setup HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Periodic reconciliation keeps the session map and backup rows
	// aligned with what the VBR server reports
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go startReconcileWorker(ctx, db, conn, cfg.ReconcileIntervalMinutes)

	// Start HTTP server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "address", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	// Setup graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Wait for shutdown signal or server error
	select {
	case err := <-serverErrors:
		slog.Error("server error", "error", err)
		os.Exit(1)

	case sig := <-shutdown:
		slog.Info("shutdown signal received", "signal", sig)

		// Stop the reconcile worker
		cancel()

		// Give outstanding requests 10 seconds to complete
		ctx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()

		if err := server.Shutdown(ctx); err != nil {
			slog.Error("graceful shutdown failed", "error", err)
			if err := server.Close(); err != nil {
				slog.Error("server close failed", "error", err)
			}
		}

		// Let in-flight extraction and ML runs record their outcome
		runner.Wait()

		// Tear down any restore sessions this process created
		if client := conn.Client(); client != nil {
			cleanupCtx, cancelCleanup := context.WithTimeout(context.Background(), 60*time.Second)
			if err := client.CleanupAll(cleanupCtx); err != nil {
				slog.Error("mount session cleanup failed", "error", err)
			}
			cancelCleanup()
		}

		slog.Info("server shutdown complete")
	}
}

// restoreConnection re-establishes the Veeam connection from environment
// variables or previously saved credentials. Failure is not fatal; the
// connection can be configured later through the API.
func restoreConnection(db *sql.DB, cfg *config.Config, cipher *database.CredentialCipher, conn *handlers.Connection) {
	url, username, password := cfg.VeeamURL, cfg.VeeamUsername, cfg.VeeamPassword

	if url == "" && cipher != nil {
		saved, savedUser, savedPass, err := database.LoadVeeamCredentials(db, cipher)
		if err != nil {
			slog.Warn("failed to load saved Veeam credentials", "error", err)
		} else if saved != "" {
			url, username, password = saved, savedUser, savedPass
		}
	}
	if url == "" || username == "" {
		slog.Info("no Veeam connection configured - use POST /api/veeam/config")
		return
	}

	client, err := veeam.NewClient(veeam.Options{
		URL:           url,
		Username:      username,
		Password:      password,
		APIVersion:    cfg.VeeamAPIVersion,
		SkipTLSVerify: cfg.VeeamSkipTLSVerify,
		MountHost:     cfg.VeeamMountHost,
	})
	if err != nil {
		slog.Error("invalid Veeam connection settings", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := client.Authenticate(ctx); err != nil {
		slog.Warn("Veeam authentication failed at startup", "url", url, "error", err)
		return
	}
	conn.Set(client)
	slog.Info("Veeam connection established", "url", url)

	// Adopt sessions that survived a restart and clear stale mount flags
	if result, err := client.Reconcile(ctx); err != nil {
		slog.Warn("startup reconcile failed", "error", err)
	} else {
		cleared, err := database.ClearStaleMounts(db, client.LiveBackupIDs())
		if err != nil {
			slog.Warn("failed to clear stale mounts", "error", err)
		}
		slog.Info("startup reconcile complete",
			"adopted", result.Adopted, "dropped", result.Dropped, "cleared_mounts", cleared)
	}
}

// startReconcileWorker periodically re-aligns tracked sessions with the
// VBR server so crashed or externally-unmounted sessions do not linger
func startReconcileWorker(ctx context.Context, db *sql.DB, conn *handlers.Connection, intervalMinutes int) {
	if intervalMinutes <= 0 {
		return
	}
	ticker := time.NewTicker(time.Duration(intervalMinutes) * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			client := conn.Client()
			if client == nil {
				continue
			}
			runCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
			result, err := client.Reconcile(runCtx)
			if err != nil {
				slog.Warn("periodic reconcile failed", "error", err)
				cancel()
				continue
			}
			cleared, err := database.ClearStaleMounts(db, client.LiveBackupIDs())
			cancel()
			if err != nil {
				slog.Warn("failed to clear stale mounts", "error", err)
				continue
			}
			if result.Adopted > 0 || result.Dropped > 0 || cleared > 0 {
				slog.Info("periodic reconcile",
					"adopted", result.Adopted, "dropped", result.Dropped, "cleared_mounts", cleared)
			}
		}
	}
}

// liveMounter adapts the swappable connection to the job runner. When
// SCAN_ROOT is set the UNC path from the server is rewritten onto the
// local mount directory before the runner scans it.
type liveMounter struct {
	conn *handlers.Connection
	cfg  *config.Config
}

func (m *liveMounter) client() (*veeam.Client, error) {
	if c := m.conn.Client(); c != nil {
		return c, nil
	}
	return nil, fmt.Errorf("veeam server is not configured")
}

func (m *liveMounter) Mount(ctx context.Context, backupID string, opts veeam.MountOptions) (*veeam.MountSession, error) {
	c, err := m.client()
	if err != nil {
		return nil, err
	}
	session, err := c.Mount(ctx, backupID, opts)
	if err != nil {
		return nil, err
	}
	if m.cfg.ScanRoot != "" {
		mapped := *session
		mapped.UNCPath = localMountPath(m.cfg.ScanRoot, session.UNCPath)
		return &mapped, nil
	}
	return session, nil
}

func (m *liveMounter) WaitReady(ctx context.Context, sessionID string, pollInterval time.Duration) error {
	c, err := m.client()
	if err != nil {
		return err
	}
	return c.WaitReady(ctx, sessionID, pollInterval)
}

func (m *liveMounter) Unmount(ctx context.Context, sessionID string) error {
	c, err := m.client()
	if err != nil {
		return err
	}
	return c.Unmount(ctx, sessionID)
}

// localMountPath maps \\host\VeeamFLR\<folder>\... onto <root>/<folder>/...
func localMountPath(root, uncPath string) string {
	trimmed := strings.TrimPrefix(uncPath, `\\`)
	parts := strings.Split(trimmed, `\`)
	if len(parts) >= 3 && strings.EqualFold(parts[1], "VeeamFLR") {
		return filepath.Join(append([]string{root}, parts[2:]...)...)
	}
	return filepath.Join(root, filepath.FromSlash(uncPath))
}
