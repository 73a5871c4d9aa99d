package handlers

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mritsurgeon/veeam-ml/internal/database"
	"github.com/mritsurgeon/veeam-ml/internal/jobs"
	"github.com/mritsurgeon/veeam-ml/internal/models"
	"github.com/mritsurgeon/veeam-ml/internal/results"
	"github.com/mritsurgeon/veeam-ml/internal/veeam"
)

// stubMounter serves a fixed directory as mounted content
type stubMounter struct {
	root string
}

func (m *stubMounter) Mount(ctx context.Context, backupID string, opts veeam.MountOptions) (*veeam.MountSession, error) {
	return &veeam.MountSession{SessionID: "stub-sess", BackupID: backupID, UNCPath: m.root, MountType: veeam.MountTypeFLR}, nil
}

func (m *stubMounter) WaitReady(ctx context.Context, sessionID string, pollInterval time.Duration) error {
	return nil
}

func (m *stubMounter) Unmount(ctx context.Context, sessionID string) error {
	return nil
}

func setupJobDeps(t *testing.T, db *sql.DB, contentDir string) (*jobs.Runner, *jobs.Registry) {
	t.Helper()
	store, err := results.NewFilesystemStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystemStore() error: %v", err)
	}
	registry := jobs.NewRegistry()
	return jobs.NewRunner(db, &stubMounter{root: contentDir}, store, registry), registry
}

func TestCreateMLJobHandler(t *testing.T) {
	db := setupTestDB(t)
	backup := createTestBackup(t, db, "backup-1")

	handler := CreateMLJobHandler(db)

	t.Run("success", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/ml-jobs", jsonBody(t, map[string]any{
			"job_name":         "cluster users",
			"ml_algorithm":     models.TaskClustering,
			"backup_id":        backup.ID,
			"data_source_path": "data/users.csv",
			"parameters":       map[string]any{"n_clusters": 3},
		})))

		if rr.Code != http.StatusCreated {
			t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
		}
		var job models.MLJobResponse
		decodeInto(t, rr, &job)
		if job.Status != models.JobPending {
			t.Errorf("Status = %q, want pending", job.Status)
		}
	})

	t.Run("unknown algorithm", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/ml-jobs", jsonBody(t, map[string]any{
			"job_name": "x", "ml_algorithm": "deep_dream", "backup_id": backup.ID, "data_source_path": "a.csv",
		})))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rr.Code)
		}
	})

	t.Run("missing backup", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/ml-jobs", jsonBody(t, map[string]any{
			"job_name": "x", "ml_algorithm": models.TaskClustering, "backup_id": 999, "data_source_path": "a.csv",
		})))
		if rr.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rr.Code)
		}
	})
}

func TestExecuteMLJobHandler(t *testing.T) {
	db := setupTestDB(t)
	content := t.TempDir()
	var rows string
	for i := 0; i < 30; i++ {
		rows += fmt.Sprintf("%d,%d\n", i%2*10, i%2*10+1)
	}
	writeTestFile(t, content, "metrics.csv", "x,y\n"+rows)

	backup := createTestBackup(t, db, "backup-1")
	database.UpdateBackupStatus(db, backup.ID, models.BackupMounted, content)

	job := &models.MLJob{
		Name: "cluster", Algorithm: models.TaskClustering, BackupID: backup.ID,
		DataSourcePath: "metrics.csv", Parameters: `{"n_clusters":2}`,
	}
	if err := database.CreateMLJob(db, job); err != nil {
		t.Fatalf("CreateMLJob() error: %v", err)
	}

	runner, registry := setupJobDeps(t, db, content)
	handler := ExecuteMLJobHandler(db, runner, registry)

	req := httptest.NewRequest(http.MethodPost, "/api/ml-jobs/1/execute", nil)
	req.SetPathValue("id", fmt.Sprintf("%d", job.ID))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	runner.Wait()

	done, _ := database.GetMLJob(db, job.ID)
	if done.Status != models.JobCompleted {
		t.Errorf("Status = %q, want completed (%s)", done.Status, done.ErrorMessage)
	}
}

func TestDeleteMLJobHandler_RunningRefused(t *testing.T) {
	db := setupTestDB(t)
	registry := jobs.NewRegistry()
	registry.Add(jobs.ActiveJob{JobID: 5, Kind: jobs.KindML}, func() {})

	handler := DeleteMLJobHandler(db, registry)
	req := httptest.NewRequest(http.MethodDelete, "/api/ml-jobs/5", nil)
	req.SetPathValue("id", "5")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rr.Code)
	}
}

func TestExtractionJobCRUD(t *testing.T) {
	db := setupTestDB(t)
	cfg := testConfig()
	registry := jobs.NewRegistry()

	create := CreateExtractionJobHandler(db, cfg)
	rr := httptest.NewRecorder()
	create.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/extraction-jobs", jsonBody(t, map[string]any{
		"name":      "forensics",
		"backup_id": "backup-1",
	})))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rr.Code, rr.Body.String())
	}

	var created models.ExtractionJobResponse
	decodeInto(t, rr, &created)
	if created.ExtractionLevel != models.LevelFullPipeline {
		t.Errorf("default level = %q", created.ExtractionLevel)
	}
	if created.MaxWorkers != cfg.MaxWorkers {
		t.Errorf("default workers = %d", created.MaxWorkers)
	}

	// Update a single field; the rest stays
	update := UpdateExtractionJobHandler(db, registry)
	req := httptest.NewRequest(http.MethodPut, "/api/extraction-jobs/1", jsonBody(t, map[string]any{
		"extraction_level": models.LevelMetadataOnly,
	}))
	req.SetPathValue("id", fmt.Sprintf("%d", created.ID))
	rr = httptest.NewRecorder()
	update.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("update status = %d: %s", rr.Code, rr.Body.String())
	}

	var updated models.ExtractionJobResponse
	decodeInto(t, rr, &updated)
	if updated.ExtractionLevel != models.LevelMetadataOnly {
		t.Errorf("level = %q after update", updated.ExtractionLevel)
	}
	if updated.Name != "forensics" {
		t.Errorf("name = %q, update should not clear it", updated.Name)
	}

	del := DeleteExtractionJobHandler(db, registry)
	req = httptest.NewRequest(http.MethodDelete, "/api/extraction-jobs/1", nil)
	req.SetPathValue("id", fmt.Sprintf("%d", created.ID))
	rr = httptest.NewRecorder()
	del.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rr.Code)
	}

	get := GetExtractionJobHandler(db)
	req = httptest.NewRequest(http.MethodGet, "/api/extraction-jobs/1", nil)
	req.SetPathValue("id", fmt.Sprintf("%d", created.ID))
	rr = httptest.NewRecorder()
	get.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", rr.Code)
	}
}

func TestCreateExtractionJobHandler_Invalid(t *testing.T) {
	db := setupTestDB(t)
	handler := CreateExtractionJobHandler(db, testConfig())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/extraction-jobs", jsonBody(t, map[string]any{
		"name": "bad", "backup_id": "b-1", "extraction_level": "everything",
	})))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}

	// Enterprise database extraction needs a server to connect to
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/extraction-jobs", jsonBody(t, map[string]any{
		"name": "pg sweep", "backup_id": "b-1",
		"extraction_level":                "database_extraction",
		"enable_enterprise_db_extraction": true,
	})))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("enterprise extraction without DSN: status = %d, want 400", rr.Code)
	}
}

func TestExecuteExtractionJobHandler(t *testing.T) {
	db := setupTestDB(t)
	cfg := testConfig()
	content := t.TempDir()
	writeTestFile(t, content, "app.log", "2026-08-20 10:00:00 ERROR boom\n")

	runner, _ := setupJobDeps(t, db, content)

	job := defaultExtractionJob(cfg)
	job.Name = "run me"
	job.BackupID = "backup-1"
	if err := database.CreateExtractionJob(db, job); err != nil {
		t.Fatalf("CreateExtractionJob() error: %v", err)
	}

	handler := ExecuteExtractionJobHandler(db, runner)
	req := httptest.NewRequest(http.MethodPost, "/api/extraction-jobs/1/execute", nil)
	req.SetPathValue("id", fmt.Sprintf("%d", job.ID))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["execution_id"].(float64) == 0 {
		t.Error("execution_id should be set")
	}
	runner.Wait()

	done, _ := database.GetExtractionJob(db, job.ID)
	if done.Status != models.JobCompleted {
		t.Errorf("Status = %q, want completed (%s)", done.Status, done.ErrorMessage)
	}

	// Run history shows up
	list := ListExecutionsHandler(db)
	req = httptest.NewRequest(http.MethodGet, "/api/extraction-jobs/1/executions", nil)
	req.SetPathValue("id", fmt.Sprintf("%d", job.ID))
	rr = httptest.NewRecorder()
	list.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("executions status = %d", rr.Code)
	}
	if decodeBody(t, rr)["count"].(float64) != 1 {
		t.Error("expected one execution")
	}
}

func TestTemplates(t *testing.T) {
	db := setupTestDB(t)
	cfg := testConfig()
	if err := database.SeedTemplates(db); err != nil {
		t.Fatalf("SeedTemplates() error: %v", err)
	}

	list := ListTemplatesHandler(db)
	rr := httptest.NewRecorder()
	list.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/extraction-jobs/templates", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("list status = %d", rr.Code)
	}
	count := decodeBody(t, rr)["count"].(float64)
	if count < 5 {
		t.Errorf("seeded templates = %v, want >= 5", count)
	}

	// Stamp a job out of the first system template
	fromTemplate := CreateJobFromTemplateHandler(db, cfg)
	req := httptest.NewRequest(http.MethodPost, "/api/extraction-jobs/templates/1/create-job", jsonBody(t, map[string]any{
		"name":      "from preset",
		"backup_id": "backup-9",
	}))
	req.SetPathValue("id", "1")
	rr = httptest.NewRecorder()
	fromTemplate.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create-job status = %d: %s", rr.Code, rr.Body.String())
	}

	var job models.ExtractionJobResponse
	decodeInto(t, rr, &job)
	if job.BackupID != "backup-9" {
		t.Errorf("BackupID = %q", job.BackupID)
	}

	// System templates cannot be deleted
	del := DeleteTemplateHandler(db)
	req = httptest.NewRequest(http.MethodDelete, "/api/extraction-jobs/templates/1", nil)
	req.SetPathValue("id", "1")
	rr = httptest.NewRecorder()
	del.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Errorf("delete system template status = %d, want 403", rr.Code)
	}
}

func TestConfigOptionsHandler(t *testing.T) {
	handler := ConfigOptionsHandler()
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/extraction-jobs/config", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if len(body["extraction_levels"].([]any)) != 4 {
		t.Error("expected 4 extraction levels")
	}
	if len(body["file_type_filters"].([]any)) != 6 {
		t.Error("expected 6 file type filters")
	}
}

func TestStatsHandler(t *testing.T) {
	db := setupTestDB(t)
	registry := jobs.NewRegistry()
	backup := createTestBackup(t, db, "backup-1")

	job := &models.MLJob{Name: "j", Algorithm: models.TaskClustering, BackupID: backup.ID, DataSourcePath: "a.csv"}
	if err := database.CreateMLJob(db, job); err != nil {
		t.Fatalf("CreateMLJob() error: %v", err)
	}

	handler := StatsHandler(db, registry)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/extraction-jobs/stats", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	backups := body["backups"].(map[string]any)
	if backups["total"].(float64) != 1 {
		t.Errorf("backups.total = %v", backups["total"])
	}
	mlJobs := body["ml_jobs"].(map[string]any)["by_status"].(map[string]any)
	if mlJobs[models.JobPending].(float64) != 1 {
		t.Errorf("ml pending = %v", mlJobs[models.JobPending])
	}
}
