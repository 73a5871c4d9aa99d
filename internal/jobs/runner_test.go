package jobs

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mritsurgeon/veeam-ml/internal/database"
	"github.com/mritsurgeon/veeam-ml/internal/models"
	"github.com/mritsurgeon/veeam-ml/internal/results"
	"github.com/mritsurgeon/veeam-ml/internal/veeam"
)

// fakeMounter serves a local directory as the mounted backup content
type fakeMounter struct {
	root       string
	mountErr   error
	blockReady bool
	unmounts   int
}

func (m *fakeMounter) Mount(ctx context.Context, backupID string, opts veeam.MountOptions) (*veeam.MountSession, error) {
	if m.mountErr != nil {
		return nil, m.mountErr
	}
	return &veeam.MountSession{
		SessionID:   "fake-sess-1234",
		BackupID:    backupID,
		MachineName: "fakevm",
		MountType:   veeam.MountTypeFLR,
		UNCPath:     m.root,
		State:       "Working",
	}, nil
}

func (m *fakeMounter) WaitReady(ctx context.Context, sessionID string, pollInterval time.Duration) error {
	if m.blockReady {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (m *fakeMounter) Unmount(ctx context.Context, sessionID string) error {
	m.unmounts++
	return nil
}

func setupRunner(t *testing.T, mounter Mounter) (*Runner, *sql.DB, *results.FilesystemStore) {
	t.Helper()

	db, err := database.Initialize(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := results.NewFilesystemStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystemStore() error: %v", err)
	}

	return NewRunner(db, mounter, store, NewRegistry()), db, store
}

func writeContent(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func waitForStatus(t *testing.T, fetch func() (string, error), want string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		status, err := fetch()
		if err != nil {
			t.Fatalf("fetch status: %v", err)
		}
		if status == want {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	status, _ := fetch()
	t.Fatalf("status = %q, want %q before timeout", status, want)
}

func TestExecuteExtractionJob(t *testing.T) {
	content := t.TempDir()
	writeContent(t, content, "app.log", "2026-08-20 10:00:00 ERROR boom\n")
	writeContent(t, content, "web.ini", "[server]\nport=80\n")
	writeContent(t, content, "notes.txt", "some text here")

	mounter := &fakeMounter{root: content}
	runner, db, store := setupRunner(t, mounter)

	job := &models.ExtractionJob{
		Name:            "test run",
		ExtractionLevel: models.LevelContentParsing,
		FileTypeFilter:  models.FilterAllFiles,
		BackupID:        "veeam-backup-1",
		DirectoryPath:   "/",
		MaxDepth:        2,
		MaxFileSize:     1 << 20,
		ChunkSize:       100,
		MaxWorkers:      2,
		ParseDocuments:  true, ParseLogs: true, ParseConfigs: true,
		ParseSpreadsheets: true, ExtractSQLite: true, ParseSQLDumps: true,
		ParallelProcessing: true,
		IncludeRawContent:  true,
		IncludeChunks:      true,
		OutputFormat:       "json",
	}
	if err := database.CreateExtractionJob(db, job); err != nil {
		t.Fatalf("CreateExtractionJob() error: %v", err)
	}

	execID, err := runner.Execute(job.ID)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if execID == 0 {
		t.Fatal("execution id should be set")
	}

	waitForStatus(t, func() (string, error) {
		j, err := database.GetExtractionJob(db, job.ID)
		if err != nil || j == nil {
			return "", err
		}
		return j.Status, nil
	}, models.JobCompleted)
	runner.Wait()

	finished, _ := database.GetExtractionJob(db, job.ID)
	if finished.ProcessedFiles != 3 {
		t.Errorf("ProcessedFiles = %d, want 3", finished.ProcessedFiles)
	}
	if finished.ProgressPercentage != 100 {
		t.Errorf("ProgressPercentage = %v", finished.ProgressPercentage)
	}

	execs, err := database.ListJobExecutions(db, job.ID)
	if err != nil || len(execs) != 1 {
		t.Fatalf("executions = %d (%v)", len(execs), err)
	}
	exec := execs[0]
	if exec.Status != models.JobCompleted {
		t.Errorf("execution status = %q", exec.Status)
	}
	if exec.SessionID != "fake-sess-1234" {
		t.Errorf("SessionID = %q", exec.SessionID)
	}
	if exec.OutputPath == "" {
		t.Fatal("OutputPath should point at the stored document")
	}

	reader, err := store.Get(context.Background(), exec.OutputPath)
	if err != nil {
		t.Fatalf("stored document missing: %v", err)
	}
	data, _ := io.ReadAll(reader)
	reader.Close()
	if len(data) == 0 {
		t.Error("stored document is empty")
	}

	if mounter.unmounts != 1 {
		t.Errorf("unmounts = %d, want 1", mounter.unmounts)
	}
}

func TestExecute_MountFailure(t *testing.T) {
	mounter := &fakeMounter{mountErr: fmt.Errorf("server unreachable")}
	runner, db, _ := setupRunner(t, mounter)

	job := &models.ExtractionJob{
		Name: "doomed", ExtractionLevel: models.LevelMetadataOnly,
		FileTypeFilter: models.FilterAllFiles, BackupID: "b-1",
		DirectoryPath: "/", MaxDepth: 1, MaxFileSize: 1024, ChunkSize: 100,
		MaxWorkers: 1, MaxDBRowsPerTable: 10, OutputFormat: "json",
	}
	if err := database.CreateExtractionJob(db, job); err != nil {
		t.Fatalf("CreateExtractionJob() error: %v", err)
	}

	if _, err := runner.Execute(job.ID); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}

	waitForStatus(t, func() (string, error) {
		j, err := database.GetExtractionJob(db, job.ID)
		if err != nil || j == nil {
			return "", err
		}
		return j.Status, nil
	}, models.JobFailed)
	runner.Wait()

	failed, _ := database.GetExtractionJob(db, job.ID)
	if failed.ErrorMessage == "" {
		t.Error("failed job should carry an error message")
	}
}

func enterpriseDBJob(level, dsn string) *models.ExtractionJob {
	return &models.ExtractionJob{
		Name: "restored postgres sweep", ExtractionLevel: level,
		FileTypeFilter: models.FilterAllFiles, BackupID: "b-pg",
		DirectoryPath: "/", MaxDepth: 2, MaxFileSize: 1 << 20, ChunkSize: 100,
		MaxWorkers: 1, MaxDBRowsPerTable: 50, OutputFormat: "json",
		ExtractEnterpriseDB: true, EnterpriseDBDSN: dsn,
	}
}

func TestExecuteExtractionJob_EnterpriseDB(t *testing.T) {
	content := t.TempDir()
	writeContent(t, content, "pg_hba.conf", "host all all 0.0.0.0/0 md5\n")

	runAndWait := func(t *testing.T, job *models.ExtractionJob, want string) *models.ExtractionJob {
		t.Helper()
		runner, db, _ := setupRunner(t, &fakeMounter{root: content})
		if err := database.CreateExtractionJob(db, job); err != nil {
			t.Fatalf("CreateExtractionJob() error: %v", err)
		}
		if _, err := runner.Execute(job.ID); err != nil {
			t.Fatalf("Execute() error: %v", err)
		}
		waitForStatus(t, func() (string, error) {
			j, err := database.GetExtractionJob(db, job.ID)
			if err != nil || j == nil {
				return "", err
			}
			return j.Status, nil
		}, want)
		runner.Wait()
		finished, _ := database.GetExtractionJob(db, job.ID)
		return finished
	}

	t.Run("unreachable server fails the run", func(t *testing.T) {
		// A DSN that cannot be parsed fails before any network dial
		job := enterpriseDBJob(models.LevelFullPipeline, "://not a connection string")
		finished := runAndWait(t, job, models.JobFailed)
		if !strings.Contains(finished.ErrorMessage, "enterprise database extraction failed") {
			t.Errorf("ErrorMessage = %q", finished.ErrorMessage)
		}
	})

	t.Run("missing DSN fails the run", func(t *testing.T) {
		job := enterpriseDBJob(models.LevelDatabaseExtraction, "")
		finished := runAndWait(t, job, models.JobFailed)
		if !strings.Contains(finished.ErrorMessage, "without a DSN") {
			t.Errorf("ErrorMessage = %q", finished.ErrorMessage)
		}
	})

	t.Run("content level never reaches the server", func(t *testing.T) {
		job := enterpriseDBJob(models.LevelContentParsing, "://not a connection string")
		finished := runAndWait(t, job, models.JobCompleted)
		if finished.ErrorMessage != "" {
			t.Errorf("ErrorMessage = %q, want empty", finished.ErrorMessage)
		}
	})
}

func TestCancelExtractionJob(t *testing.T) {
	mounter := &fakeMounter{root: t.TempDir(), blockReady: true}
	runner, db, _ := setupRunner(t, mounter)

	job := &models.ExtractionJob{
		Name: "slow", ExtractionLevel: models.LevelMetadataOnly,
		FileTypeFilter: models.FilterAllFiles, BackupID: "b-1",
		DirectoryPath: "/", MaxDepth: 1, MaxFileSize: 1024, ChunkSize: 100,
		MaxWorkers: 1, MaxDBRowsPerTable: 10, OutputFormat: "json",
	}
	if err := database.CreateExtractionJob(db, job); err != nil {
		t.Fatalf("CreateExtractionJob() error: %v", err)
	}

	if _, err := runner.Execute(job.ID); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}

	// Double execution is rejected while running
	if _, err := runner.Execute(job.ID); err == nil {
		t.Error("second Execute() while running should fail")
	}

	if !runner.Cancel(job.ID) {
		t.Fatal("Cancel() should find the running job")
	}

	waitForStatus(t, func() (string, error) {
		j, err := database.GetExtractionJob(db, job.ID)
		if err != nil || j == nil {
			return "", err
		}
		return j.Status, nil
	}, models.JobCancelled)
	runner.Wait()

	if runner.Cancel(job.ID) {
		t.Error("Cancel() after completion should report not running")
	}
}

func TestExecuteML(t *testing.T) {
	content := t.TempDir()
	var rows string
	for i := 0; i < 30; i++ {
		rows += fmt.Sprintf("%d,%d\n", i%2*10, i%2*10+1)
	}
	writeContent(t, content, "data/metrics.csv", "x,y\n"+rows)

	mounter := &fakeMounter{root: content}
	runner, db, store := setupRunner(t, mounter)

	backup := &models.Backup{
		BackupID: "veeam-1", Name: "vm", Path: "/b", BackupDate: time.Now().UTC(),
		Status: models.BackupMounted, MountPoint: content, OSType: models.OSWindows,
	}
	if err := database.CreateBackup(db, backup); err != nil {
		t.Fatalf("CreateBackup() error: %v", err)
	}

	job := &models.MLJob{
		Name:           "cluster metrics",
		Algorithm:      models.TaskClustering,
		BackupID:       backup.ID,
		DataSourcePath: "data/metrics.csv",
		Parameters:     `{"n_clusters":2}`,
	}
	if err := database.CreateMLJob(db, job); err != nil {
		t.Fatalf("CreateMLJob() error: %v", err)
	}

	if err := runner.ExecuteML(job.ID); err != nil {
		t.Fatalf("ExecuteML() error: %v", err)
	}

	waitForStatus(t, func() (string, error) {
		j, err := database.GetMLJob(db, job.ID)
		if err != nil || j == nil {
			return "", err
		}
		return j.Status, nil
	}, models.JobCompleted)
	runner.Wait()

	done, _ := database.GetMLJob(db, job.ID)
	if done.Results == "" {
		t.Fatal("completed job should carry results")
	}

	exists, _ := store.Exists(context.Background(), fmt.Sprintf("ml/%d/result.json", job.ID))
	if !exists {
		t.Error("result document should be exported to the store")
	}
}

func TestExecuteML_BadSource(t *testing.T) {
	content := t.TempDir()
	mounter := &fakeMounter{root: content}
	runner, db, _ := setupRunner(t, mounter)

	backup := &models.Backup{
		BackupID: "veeam-1", Name: "vm", Path: "/b", BackupDate: time.Now().UTC(),
		Status: models.BackupMounted, MountPoint: content, OSType: models.OSWindows,
	}
	if err := database.CreateBackup(db, backup); err != nil {
		t.Fatalf("CreateBackup() error: %v", err)
	}

	job := &models.MLJob{
		Name: "bad", Algorithm: models.TaskClustering, BackupID: backup.ID,
		DataSourcePath: "movie.mp4",
	}
	if err := database.CreateMLJob(db, job); err != nil {
		t.Fatalf("CreateMLJob() error: %v", err)
	}

	if err := runner.ExecuteML(job.ID); err != nil {
		t.Fatalf("ExecuteML() error: %v", err)
	}

	waitForStatus(t, func() (string, error) {
		j, err := database.GetMLJob(db, job.ID)
		if err != nil || j == nil {
			return "", err
		}
		return j.Status, nil
	}, models.JobFailed)
	runner.Wait()
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()

	cancelled := false
	ok := reg.Add(ActiveJob{JobID: 1, Kind: KindExtraction}, func() { cancelled = true })
	if !ok {
		t.Fatal("Add() should succeed")
	}
	if reg.Add(ActiveJob{JobID: 1, Kind: KindExtraction}, func() {}) {
		t.Error("duplicate Add() should fail")
	}
	if !reg.Running(KindExtraction, 1) || reg.Count() != 1 {
		t.Error("job 1 should be running")
	}
	if len(reg.List()) != 1 {
		t.Error("List() should include the job")
	}

	if !reg.Cancel(KindExtraction, 1) {
		t.Error("Cancel() should succeed")
	}
	if !cancelled {
		t.Error("cancel func should be invoked")
	}

	reg.Remove(KindExtraction, 1)
	if reg.Running(KindExtraction, 1) || reg.Cancel(KindExtraction, 1) {
		t.Error("removed job should be gone")
	}
}

func TestRegistry_KindsDoNotCollide(t *testing.T) {
	reg := NewRegistry()

	mlCancelled := false
	if !reg.Add(ActiveJob{JobID: 1, Kind: KindML}, func() { mlCancelled = true }) {
		t.Fatal("Add(ml) should succeed")
	}

	// Same numeric ID from the other table must still be admitted
	if !reg.Add(ActiveJob{JobID: 1, Kind: KindExtraction}, func() {}) {
		t.Fatal("extraction job 1 should run while ml job 1 runs")
	}
	if !reg.Running(KindML, 1) || !reg.Running(KindExtraction, 1) {
		t.Error("both kinds should report running")
	}
	if reg.Count() != 2 {
		t.Errorf("Count() = %d, want 2", reg.Count())
	}

	// Cancelling one kind must not reach the other
	if !reg.Cancel(KindExtraction, 1) {
		t.Error("Cancel(extraction) should succeed")
	}
	if mlCancelled {
		t.Error("cancelling the extraction job cancelled the ml job")
	}

	reg.Remove(KindExtraction, 1)
	if !reg.Running(KindML, 1) {
		t.Error("ml job should survive removal of the extraction job")
	}
}
