package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mritsurgeon/veeam-ml/internal/database"
	"github.com/mritsurgeon/veeam-ml/internal/extraction"
	"github.com/mritsurgeon/veeam-ml/internal/metrics"
	"github.com/mritsurgeon/veeam-ml/internal/models"
	"github.com/mritsurgeon/veeam-ml/internal/results"
	"github.com/mritsurgeon/veeam-ml/internal/scanner"
	"github.com/mritsurgeon/veeam-ml/internal/veeam"
)

// Mounter is the slice of the Veeam client the runner needs
type Mounter interface {
	Mount(ctx context.Context, backupID string, opts veeam.MountOptions) (*veeam.MountSession, error)
	WaitReady(ctx context.Context, sessionID string, pollInterval time.Duration) error
	Unmount(ctx context.Context, sessionID string) error
}

// Runner executes extraction jobs in the background
type Runner struct {
	db       *sql.DB
	mounter  Mounter
	store    results.Store
	registry *Registry

	// KeepMounted leaves the restore session up after a run so follow-up
	// jobs against the same backup skip the mount wait
	KeepMounted bool

	wg sync.WaitGroup
}

// NewRunner builds a Runner
func NewRunner(db *sql.DB, mounter Mounter, store results.Store, registry *Registry) *Runner {
	return &Runner{db: db, mounter: mounter, store: store, registry: registry}
}

// Wait blocks until all background runs finish. Used during shutdown.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Execute starts a background run of an extraction job and returns the
// execution record ID
func (r *Runner) Execute(jobID int64) (int64, error) {
	job, err := database.GetExtractionJob(r.db, jobID)
	if err != nil {
		return 0, err
	}
	if job == nil {
		return 0, fmt.Errorf("extraction job %d not found", jobID)
	}
	if r.registry.Running(KindExtraction, jobID) {
		return 0, fmt.Errorf("extraction job %d is already running", jobID)
	}

	if err := database.MarkExtractionJobStarted(r.db, jobID); err != nil {
		return 0, err
	}

	exec := &models.JobExecution{JobID: jobID}
	if err := database.CreateJobExecution(r.db, exec); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	info := ActiveJob{JobID: jobID, ExecutionID: exec.ID, Kind: KindExtraction, StartedAt: time.Now().UTC()}
	if !r.registry.Add(info, cancel) {
		cancel()
		return 0, fmt.Errorf("extraction job %d is already running", jobID)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		defer r.registry.Remove(KindExtraction, jobID)
		r.run(ctx, job, exec)
	}()

	return exec.ID, nil
}

// Cancel stops a running extraction job
func (r *Runner) Cancel(jobID int64) bool {
	return r.registry.Cancel(KindExtraction, jobID)
}

func (r *Runner) run(ctx context.Context, job *models.ExtractionJob, exec *models.JobExecution) {
	logger := slog.With("job_id", job.ID, "execution_id", exec.ID)
	logger.Info("extraction run starting", "backup_id", job.BackupID, "level", job.ExtractionLevel)

	stats, outputKey, err := r.process(ctx, job, exec)

	switch {
	case err != nil && ctx.Err() != nil:
		exec.Status = models.JobCancelled
		exec.ErrorLog = "cancelled"
		r.finish(job, exec, stats, outputKey, models.JobCancelled, "cancelled")
		metrics.ExtractionRunsTotal.WithLabelValues(models.JobCancelled).Inc()
		logger.Info("extraction run cancelled")
	case err != nil:
		exec.Status = models.JobFailed
		exec.ErrorLog = err.Error()
		r.finish(job, exec, stats, outputKey, models.JobFailed, err.Error())
		metrics.ExtractionRunsTotal.WithLabelValues(models.JobFailed).Inc()
		logger.Error("extraction run failed", "error", err)
	default:
		exec.Status = models.JobCompleted
		r.finish(job, exec, stats, outputKey, models.JobCompleted, "")
		metrics.ExtractionRunsTotal.WithLabelValues(models.JobCompleted).Inc()
		metrics.ExtractionFilesProcessed.Observe(float64(stats.FilesProcessed))
		logger.Info("extraction run completed",
			"files", stats.FilesProcessed, "chunks", stats.ChunksCreated)
	}
}

func (r *Runner) finish(job *models.ExtractionJob, exec *models.JobExecution, stats *extraction.Stats, outputKey, status, message string) {
	var summary string
	if stats != nil {
		exec.FilesProcessed = stats.FilesProcessed
		exec.ChunksCreated = stats.ChunksCreated
		exec.DatabasesExtracted = stats.DatabasesExtracted
		exec.ErrorsCount = stats.FilesFailed
		if encoded, err := json.Marshal(stats); err == nil {
			summary = string(encoded)
		}
	}
	exec.OutputPath = outputKey

	if err := database.FinishJobExecution(r.db, exec); err != nil {
		slog.Error("failed to record execution result", "execution_id", exec.ID, "error", err)
	}
	if err := database.FinishExtractionJob(r.db, job.ID, status, summary, message); err != nil {
		slog.Error("failed to record job result", "job_id", job.ID, "error", err)
	}
}

// process mounts, scans, extracts and stores results. Returns partial
// stats even on error so counters reflect work done before the failure.
func (r *Runner) process(ctx context.Context, job *models.ExtractionJob, exec *models.JobExecution) (*extraction.Stats, string, error) {
	stats := &extraction.Stats{}

	session, err := r.mounter.Mount(ctx, job.BackupID, veeam.MountOptions{
		Reason: fmt.Sprintf("Extraction job %d", job.ID),
	})
	if err != nil {
		return stats, "", fmt.Errorf("mount failed: %w", err)
	}
	exec.SessionID = session.SessionID
	exec.MountType = session.MountType
	exec.UNCPath = session.UNCPath

	if !r.KeepMounted {
		defer func() {
			unmountCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := r.mounter.Unmount(unmountCtx, session.SessionID); err != nil {
				slog.Warn("failed to unmount after run", "session_id", session.SessionID, "error", err)
			}
		}()
	}

	mountStart := time.Now()
	readyCtx, cancelReady := context.WithTimeout(ctx, 5*time.Minute)
	err = r.mounter.WaitReady(readyCtx, session.SessionID, 2*time.Second)
	cancelReady()
	if err != nil {
		return stats, "", fmt.Errorf("mount never became ready: %w", err)
	}
	metrics.MountDuration.Observe(time.Since(mountStart).Seconds())

	root := filepath.Join(session.UNCPath, filepath.FromSlash(strings.TrimPrefix(job.DirectoryPath, "/")))

	files, _, err := scanner.New(scanner.Options{
		MaxDepth:  job.MaxDepth,
		SniffMime: true,
	}).Scan(ctx, root)
	if err != nil {
		return stats, "", fmt.Errorf("scan failed: %w", err)
	}
	metrics.ScansTotal.Inc()

	files = scanner.Filter(files, job.FileTypeFilter, job.CustomExtensions())
	total := len(files)

	cfg := extraction.Config{
		MaxFileSize:       job.MaxFileSize,
		ChunkSize:         job.ChunkSize,
		MaxDBRows:         job.MaxDBRowsPerTable,
		ParseDocuments:    job.ParseDocuments,
		ParseSpreadsheets: job.ParseSpreadsheets,
		ParseLogs:         job.ParseLogs,
		ParseConfigs:      job.ParseConfigs,
		ExtractSQLite:     job.ExtractSQLite,
		ParseSQLDumps:     job.ParseSQLDumps,
		IncludeRawContent: job.IncludeRawContent,
		IncludeChunks:     job.IncludeChunks,
	}
	ex := extraction.New(cfg)

	fileResults := make([]extraction.FileResult, total)
	var mu sync.Mutex
	done := 0

	processOne := func(i int) error {
		result := ex.Extract(ctx, files[i], job.ExtractionLevel)

		mu.Lock()
		fileResults[i] = result
		stats.Tally(&result)
		done++
		processed, failed := stats.FilesProcessed, stats.FilesFailed
		mu.Unlock()

		// Progress every 10 files keeps DB churn reasonable
		if done%10 == 0 || done == total {
			percentage := 0.0
			if total > 0 {
				percentage = float64(done) / float64(total) * 100
			}
			if err := database.UpdateExtractionJobProgress(r.db, job.ID, total, processed, failed, percentage); err != nil {
				slog.Warn("failed to update progress", "job_id", job.ID, "error", err)
			}
		}
		return ctx.Err()
	}

	if job.ParallelProcessing && job.MaxWorkers > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(job.MaxWorkers)
		for i := range files {
			i := i
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				return processOne(i)
			})
		}
		if err := g.Wait(); err != nil {
			return stats, "", err
		}
	} else {
		for i := range files {
			if err := processOne(i); err != nil {
				return stats, "", err
			}
		}
	}

	dbTables, err := r.extractEnterpriseDB(ctx, job, stats)
	if err != nil {
		return stats, "", err
	}

	outputKey, err := r.storeResults(ctx, job, exec, fileResults, dbTables, stats)
	if err != nil {
		return stats, "", err
	}
	return stats, outputKey, nil
}

// extractEnterpriseDB samples a restored PostgreSQL instance when the job
// asks for it. Only database-capable levels reach the server.
func (r *Runner) extractEnterpriseDB(ctx context.Context, job *models.ExtractionJob, stats *extraction.Stats) ([]extraction.TableSample, error) {
	if !job.ExtractEnterpriseDB {
		return nil, nil
	}
	if job.ExtractionLevel != models.LevelDatabaseExtraction && job.ExtractionLevel != models.LevelFullPipeline {
		return nil, nil
	}
	if job.EnterpriseDBDSN == "" {
		return nil, fmt.Errorf("enterprise database extraction enabled without a DSN")
	}

	tables, err := extraction.ExtractPostgres(ctx, extraction.PostgresSource{
		DSN:     job.EnterpriseDBDSN,
		MaxRows: job.MaxDBRowsPerTable,
	})
	if err != nil {
		return nil, fmt.Errorf("enterprise database extraction failed: %w", err)
	}

	stats.DatabasesExtracted++
	stats.TablesSampled += len(tables)
	return tables, nil
}

// resultDocument is the JSON document written per execution
type resultDocument struct {
	JobID       int64                    `json:"job_id"`
	ExecutionID int64                    `json:"execution_id"`
	BackupID    string                   `json:"backup_id"`
	Level       string                   `json:"extraction_level"`
	GeneratedAt time.Time                `json:"generated_at"`
	Stats       *extraction.Stats        `json:"stats"`
	Files       []extraction.FileResult  `json:"files"`
	Databases   []extraction.TableSample `json:"databases,omitempty"`
}

func (r *Runner) storeResults(ctx context.Context, job *models.ExtractionJob, exec *models.JobExecution, fileResults []extraction.FileResult, dbTables []extraction.TableSample, stats *extraction.Stats) (string, error) {
	doc := resultDocument{
		JobID:       job.ID,
		ExecutionID: exec.ID,
		BackupID:    job.BackupID,
		Level:       job.ExtractionLevel,
		GeneratedAt: time.Now().UTC(),
		Stats:       stats,
		Files:       fileResults,
		Databases:   dbTables,
	}

	encoded, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to encode results: %w", err)
	}

	key := fmt.Sprintf("jobs/%d/executions/%d.json", job.ID, exec.ID)
	if err := r.store.Put(ctx, key, strings.NewReader(string(encoded))); err != nil {
		return "", fmt.Errorf("failed to store results: %w", err)
	}
	return key, nil
}
