package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/mritsurgeon/veeam-ml/internal/database"
	"github.com/mritsurgeon/veeam-ml/internal/extraction"
	"github.com/mritsurgeon/veeam-ml/internal/metrics"
	"github.com/mritsurgeon/veeam-ml/internal/ml"
	"github.com/mritsurgeon/veeam-ml/internal/models"
	"github.com/mritsurgeon/veeam-ml/internal/veeam"
)

// ExecuteML starts a background run of an ML job
func (r *Runner) ExecuteML(jobID int64) error {
	job, err := database.GetMLJob(r.db, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("ml job %d not found", jobID)
	}
	if r.registry.Running(KindML, jobID) {
		return fmt.Errorf("ml job %d is already running", jobID)
	}

	backup, err := database.GetBackup(r.db, job.BackupID)
	if err != nil {
		return err
	}
	if backup == nil {
		return fmt.Errorf("backup %d not found", job.BackupID)
	}

	params, err := ml.ParseParams(job.Parameters)
	if err != nil {
		return err
	}

	if err := database.MarkMLJobStarted(r.db, jobID); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	info := ActiveJob{JobID: jobID, Kind: KindML, StartedAt: time.Now().UTC()}
	if !r.registry.Add(info, cancel) {
		cancel()
		return fmt.Errorf("ml job %d is already running", jobID)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		defer r.registry.Remove(KindML, jobID)
		r.runML(ctx, job, backup, params)
	}()

	return nil
}

func (r *Runner) runML(ctx context.Context, job *models.MLJob, backup *models.Backup, params ml.Params) {
	logger := slog.With("job_id", job.ID, "algorithm", job.Algorithm)
	logger.Info("ml run starting", "backup", backup.Name, "source", job.DataSourcePath)

	start := time.Now()
	result, err := r.processML(ctx, job, backup, params)
	switch {
	case err != nil && ctx.Err() != nil:
		if dbErr := database.FailMLJob(r.db, job.ID, "cancelled"); dbErr != nil {
			logger.Error("failed to record cancellation", "error", dbErr)
		}
		metrics.MLRunsTotal.WithLabelValues(job.Algorithm, models.JobCancelled).Inc()
		logger.Info("ml run cancelled")
	case err != nil:
		if dbErr := database.FailMLJob(r.db, job.ID, err.Error()); dbErr != nil {
			logger.Error("failed to record failure", "error", dbErr)
		}
		metrics.MLRunsTotal.WithLabelValues(job.Algorithm, models.JobFailed).Inc()
		logger.Error("ml run failed", "error", err)
	default:
		encoded, _ := json.Marshal(result)
		if dbErr := database.CompleteMLJob(r.db, job.ID, string(encoded)); dbErr != nil {
			logger.Error("failed to record result", "error", dbErr)
		}

		key := fmt.Sprintf("ml/%d/result.json", job.ID)
		if err := r.store.Put(ctx, key, strings.NewReader(string(encoded))); err != nil {
			logger.Warn("failed to export result document", "error", err)
		}
		metrics.MLRunsTotal.WithLabelValues(job.Algorithm, models.JobCompleted).Inc()
		metrics.MLRunDuration.WithLabelValues(job.Algorithm).Observe(time.Since(start).Seconds())
		logger.Info("ml run completed")
	}
}

func (r *Runner) processML(ctx context.Context, job *models.MLJob, backup *models.Backup, params ml.Params) (map[string]any, error) {
	mountPoint := backup.MountPoint
	if mountPoint == "" {
		session, err := r.mounter.Mount(ctx, backup.BackupID, veeam.MountOptions{
			Reason: fmt.Sprintf("ML job %d", job.ID),
		})
		if err != nil {
			return nil, fmt.Errorf("mount failed: %w", err)
		}
		readyCtx, cancelReady := context.WithTimeout(ctx, 5*time.Minute)
		err = r.mounter.WaitReady(readyCtx, session.SessionID, 2*time.Second)
		cancelReady()
		if err != nil {
			return nil, fmt.Errorf("mount never became ready: %w", err)
		}
		mountPoint = session.UNCPath

		if err := database.UpdateBackupStatus(r.db, backup.ID, models.BackupMounted, mountPoint); err != nil {
			slog.Warn("failed to record mount", "backup_id", backup.ID, "error", err)
		}
	}

	_ = database.UpdateMLJobProgress(r.db, job.ID, 0.25)

	table, err := loadTable(ctx, mountPoint, job.DataSourcePath, params.MaxRows)
	if err != nil {
		return nil, err
	}

	_ = database.UpdateMLJobProgress(r.db, job.ID, 0.5)

	return ml.Run(ctx, job.Algorithm, table, params)
}

// loadTable reads the data source into tabular form. CSV and TSV files are
// read directly; SQLite files contribute their largest table.
func loadTable(ctx context.Context, mountPoint, sourcePath string, maxRows int) (*extraction.Table, error) {
	path := filepath.Join(mountPoint, filepath.FromSlash(strings.TrimPrefix(sourcePath, "/")))
	if maxRows <= 0 {
		maxRows = 100000
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".tsv":
		return extraction.ReadTable(path, maxRows)
	case ".db", ".sqlite", ".sqlite3", ".db3":
		tables, err := extraction.ExtractSQLite(ctx, path, maxRows)
		if err != nil {
			return nil, err
		}
		if len(tables) == 0 {
			return nil, fmt.Errorf("database has no tables")
		}
		largest := &tables[0]
		for i := range tables[1:] {
			if tables[i+1].RowCount > largest.RowCount {
				largest = &tables[i+1]
			}
		}
		return extraction.TableFromSample(largest), nil
	}
	return nil, fmt.Errorf("unsupported data source %q, use csv, tsv or sqlite", filepath.Base(path))
}
