package handlers

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mritsurgeon/veeam-ml/internal/config"
	"github.com/mritsurgeon/veeam-ml/internal/database"
	"github.com/mritsurgeon/veeam-ml/internal/jobs"
	"github.com/mritsurgeon/veeam-ml/internal/models"
	"github.com/mritsurgeon/veeam-ml/internal/veeam"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Initialize(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testConfig() *config.Config {
	return &config.Config{
		Port:         "8080",
		ScanMaxDepth: 3,
		MaxFileSize:  1 << 20,
		ChunkSize:    500,
		MaxDBRows:    100,
		MaxWorkers:   2,
	}
}

// fakeVeeamServer emulates the VBR endpoints the handlers exercise
func fakeVeeamServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.FormValue("password") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"access_token": "tok-1"})
	})
	mux.HandleFunc("GET /api/v1/backups", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{
			{"id": "backup-1", "name": "dc01 Backup", "platformName": "VMware", "creationTime": "2026-08-01T10:00:00Z"},
			{"id": "backup-2", "name": "ubuntu-web Backup", "platformName": "VMware", "creationTime": "2026-08-02T10:00:00Z"},
		}})
	})
	mux.HandleFunc("GET /api/v1/restorePoints", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{
			{"id": "rp-1", "name": "dc01 ( 2026-08-01 )", "backupId": "backup-1", "creationTime": "2026-08-01T10:00:00Z"},
		}})
	})
	mux.HandleFunc("GET /api/v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{}})
	})
	mux.HandleFunc("POST /api/v1/restore/flr", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"sessionId": "sess-abc12345"})
	})
	mux.HandleFunc("POST /api/v1/restore/flr/{id}/unmount", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /api/v1/backupBrowser/flr/{id}/files", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{}})
	})

	server := httptest.NewTLSServer(mux)
	t.Cleanup(server.Close)
	return server
}

func connectedClient(t *testing.T, server *httptest.Server) *veeam.Client {
	t.Helper()
	client, err := veeam.NewClient(veeam.Options{
		URL:           server.URL,
		Username:      "admin",
		Password:      "secret",
		SkipTLSVerify: true,
	})
	if err != nil {
		t.Fatalf("NewClient() error: %v", err)
	}
	if err := client.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate() error: %v", err)
	}
	return client
}

func jsonBody(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	encoded, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return bytes.NewReader(encoded)
}

func decodeInto(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	return body
}

func writeTestFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func createTestBackup(t *testing.T, db *sql.DB, veeamID string) *models.Backup {
	t.Helper()
	backup := &models.Backup{
		BackupID: veeamID, Name: "dc01", Path: "/b", BackupDate: time.Now().UTC(),
		Status: models.BackupAvailable, OSType: models.OSWindows,
	}
	if err := database.CreateBackup(db, backup); err != nil {
		t.Fatalf("CreateBackup() error: %v", err)
	}
	return backup
}

func TestHealthHandler(t *testing.T) {
	db := setupTestDB(t)
	conn := &Connection{}
	registry := jobs.NewRegistry()

	handler := HealthHandler(db, conn, registry, time.Now().Add(-time.Minute))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	var health models.HealthResponse
	json.NewDecoder(rr.Body).Decode(&health)
	if health.Status != "healthy" {
		t.Errorf("Status = %q", health.Status)
	}
	if health.VeeamConnected {
		t.Error("VeeamConnected should be false without a client")
	}
	if health.UptimeSeconds < 59 {
		t.Errorf("UptimeSeconds = %d", health.UptimeSeconds)
	}
}

func TestConfigureVeeamHandler(t *testing.T) {
	db := setupTestDB(t)
	server := fakeVeeamServer(t)
	conn := &Connection{}
	cfg := testConfig()
	cfg.VeeamSkipTLSVerify = true

	handler := ConfigureVeeamHandler(db, cfg, conn, nil)

	t.Run("success", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/veeam/config", jsonBody(t, map[string]string{
			"veeam_url": server.URL, "username": "admin", "password": "secret",
		})))

		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
		}
		if conn.Client() == nil {
			t.Fatal("connection should hold the client")
		}
		if !conn.Client().Authenticated() {
			t.Error("client should be authenticated")
		}
	})

	t.Run("bad credentials", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/veeam/config", jsonBody(t, map[string]string{
			"veeam_url": server.URL, "username": "admin", "password": "wrong",
		})))

		if rr.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rr.Code)
		}
	})

	t.Run("missing fields", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/veeam/config", jsonBody(t, map[string]string{
			"veeam_url": server.URL,
		})))

		if rr.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rr.Code)
		}
	})
}

func TestConfigureVeeamHandler_PersistsCredentials(t *testing.T) {
	db := setupTestDB(t)
	server := fakeVeeamServer(t)
	conn := &Connection{}
	cfg := testConfig()
	cfg.VeeamSkipTLSVerify = true

	cipher, err := database.NewCredentialCipher(
		"0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef", "veeam-ml")
	if err != nil {
		t.Fatalf("NewCredentialCipher() error: %v", err)
	}

	handler := ConfigureVeeamHandler(db, cfg, conn, cipher)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/veeam/config", jsonBody(t, map[string]string{
		"veeam_url": server.URL, "username": "admin", "password": "secret",
	})))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	url, username, password, err := database.LoadVeeamCredentials(db, cipher)
	if err != nil {
		t.Fatalf("LoadVeeamCredentials() error: %v", err)
	}
	if url != server.URL || username != "admin" || password != "secret" {
		t.Errorf("stored credentials = %q %q %q", url, username, password)
	}
}

func TestListBackupsHandler_SyncsFromServer(t *testing.T) {
	db := setupTestDB(t)
	server := fakeVeeamServer(t)
	conn := &Connection{}
	conn.Set(connectedClient(t, server))

	handler := ListBackupsHandler(db, conn)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/veeam/backups", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["count"].(float64) != 2 {
		t.Errorf("count = %v, want 2", body["count"])
	}

	// Upserted with OS detection from the backup name
	dc, err := database.GetBackupByVeeamID(db, "backup-1")
	if err != nil || dc == nil {
		t.Fatalf("backup-1 not upserted: %v", err)
	}
	if dc.OSType != models.OSWindows {
		t.Errorf("dc01 OSType = %q, want windows", dc.OSType)
	}
	web, _ := database.GetBackupByVeeamID(db, "backup-2")
	if web.OSType != models.OSLinux {
		t.Errorf("ubuntu-web OSType = %q, want linux", web.OSType)
	}
}

func TestListBackupsHandler_OfflineServesLocalRows(t *testing.T) {
	db := setupTestDB(t)
	createTestBackup(t, db, "backup-1")

	handler := ListBackupsHandler(db, &Connection{})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/veeam/backups", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["count"].(float64) != 1 {
		t.Errorf("count = %v, want 1", body["count"])
	}
}

func TestMountBackupHandler(t *testing.T) {
	db := setupTestDB(t)
	server := fakeVeeamServer(t)
	conn := &Connection{}
	conn.Set(connectedClient(t, server))
	backup := createTestBackup(t, db, "backup-1")

	handler := MountBackupHandler(db, conn)
	req := httptest.NewRequest(http.MethodPost, "/api/veeam/backups/1/mount", jsonBody(t, map[string]any{}))
	req.SetPathValue("id", fmt.Sprintf("%d", backup.ID))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}

	var session veeam.MountSession
	json.NewDecoder(rr.Body).Decode(&session)
	if session.SessionID != "sess-abc12345" {
		t.Errorf("SessionID = %q", session.SessionID)
	}

	mounted, _ := database.GetBackup(db, backup.ID)
	if mounted.Status != models.BackupMounted {
		t.Errorf("Status = %q, want mounted", mounted.Status)
	}
	if mounted.MountPoint == "" {
		t.Error("MountPoint should record the UNC path")
	}
}

func TestMountBackupHandler_RefreshesOSType(t *testing.T) {
	db := setupTestDB(t)
	server := fakeVeeamServer(t)
	conn := &Connection{}
	conn.Set(connectedClient(t, server))

	// Discovery could not classify this machine, but the mount session
	// carries the restore point's machine name
	backup := &models.Backup{
		BackupID: "backup-1", Name: "vm1", Path: "/b", BackupDate: time.Now().UTC(),
		Status: models.BackupAvailable, OSType: models.OSUnknown,
	}
	if err := database.CreateBackup(db, backup); err != nil {
		t.Fatalf("CreateBackup() error: %v", err)
	}

	handler := MountBackupHandler(db, conn)
	req := httptest.NewRequest(http.MethodPost, "/api/veeam/backups/1/mount", jsonBody(t, map[string]any{}))
	req.SetPathValue("id", fmt.Sprintf("%d", backup.ID))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}

	mounted, _ := database.GetBackup(db, backup.ID)
	if mounted.OSType != models.OSWindows {
		t.Errorf("OSType = %q, want windows after mount", mounted.OSType)
	}
}

func TestMountBackupHandler_NotConfigured(t *testing.T) {
	db := setupTestDB(t)
	backup := createTestBackup(t, db, "backup-1")

	handler := MountBackupHandler(db, &Connection{})
	req := httptest.NewRequest(http.MethodPost, "/api/veeam/backups/1/mount", nil)
	req.SetPathValue("id", fmt.Sprintf("%d", backup.ID))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rr.Code)
	}
}

func TestUnmountBackupHandler(t *testing.T) {
	db := setupTestDB(t)
	server := fakeVeeamServer(t)
	conn := &Connection{}
	client := connectedClient(t, server)
	conn.Set(client)
	backup := createTestBackup(t, db, "backup-1")

	session, err := client.Mount(context.Background(), "backup-1", veeam.MountOptions{})
	if err != nil {
		t.Fatalf("Mount() error: %v", err)
	}
	database.UpdateBackupStatus(db, backup.ID, models.BackupMounted, session.UNCPath)

	handler := UnmountBackupHandler(db, conn)
	req := httptest.NewRequest(http.MethodPost, "/api/veeam/backups/1/unmount", nil)
	req.SetPathValue("id", fmt.Sprintf("%d", backup.ID))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}

	cleared, _ := database.GetBackup(db, backup.ID)
	if cleared.Status != models.BackupAvailable || cleared.MountPoint != "" {
		t.Errorf("backup = %q %q, want available with no mount point", cleared.Status, cleared.MountPoint)
	}
	if client.SessionForBackup("backup-1") != nil {
		t.Error("session should be untracked after unmount")
	}
}

func TestScanBackupHandler(t *testing.T) {
	db := setupTestDB(t)
	cfg := testConfig()
	backup := createTestBackup(t, db, "backup-1")

	content := t.TempDir()
	writeTestFile(t, content, "report.txt", "hello")
	writeTestFile(t, content, "data.db", "not really a db")
	database.UpdateBackupStatus(db, backup.ID, models.BackupMounted, content)

	handler := ScanBackupHandler(db, cfg)
	req := httptest.NewRequest(http.MethodPost, "/api/veeam/backups/1/scan", jsonBody(t, map[string]any{}))
	req.SetPathValue("id", fmt.Sprintf("%d", backup.ID))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	files := body["files"].([]any)
	if len(files) != 2 {
		t.Errorf("files = %d, want 2", len(files))
	}
}

func TestScanBackupHandler_NotMounted(t *testing.T) {
	db := setupTestDB(t)
	backup := createTestBackup(t, db, "backup-1")

	handler := ScanBackupHandler(db, testConfig())
	req := httptest.NewRequest(http.MethodPost, "/api/veeam/backups/1/scan", nil)
	req.SetPathValue("id", fmt.Sprintf("%d", backup.ID))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rr.Code)
	}
}

func TestLocalScanPath(t *testing.T) {
	cfg := testConfig()

	if got := localScanPath(cfg, `\\vbr\VeeamFLR\dc01_abc`); got != `\\vbr\VeeamFLR\dc01_abc` {
		t.Errorf("pass-through = %q", got)
	}

	cfg.ScanRoot = "/mnt/veeam"
	got := localScanPath(cfg, `\\vbr\VeeamFLR\dc01_abc`)
	want := filepath.Join("/mnt/veeam", "dc01_abc")
	if got != want {
		t.Errorf("mapped = %q, want %q", got, want)
	}
}

func TestReconcileStateHandler(t *testing.T) {
	db := setupTestDB(t)
	server := fakeVeeamServer(t)
	conn := &Connection{}
	conn.Set(connectedClient(t, server))

	// Mounted locally but the server reports no sessions
	backup := createTestBackup(t, db, "backup-1")
	database.UpdateBackupStatus(db, backup.ID, models.BackupMounted, `\\vbr\VeeamFLR\dc01_abc`)

	handler := ReconcileStateHandler(db, conn)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/veeam/reconcile-state", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["cleared_mounts"].(float64) != 1 {
		t.Errorf("cleared_mounts = %v, want 1", body["cleared_mounts"])
	}

	cleared, _ := database.GetBackup(db, backup.ID)
	if cleared.Status != models.BackupAvailable {
		t.Errorf("Status = %q, want available", cleared.Status)
	}
}
