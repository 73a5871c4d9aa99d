package handlers

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/mritsurgeon/veeam-ml/internal/config"
	"github.com/mritsurgeon/veeam-ml/internal/database"
	"github.com/mritsurgeon/veeam-ml/internal/jobs"
	"github.com/mritsurgeon/veeam-ml/internal/models"
	"github.com/mritsurgeon/veeam-ml/internal/scanner"
)

// extractionJobRequest is the create/update body. Pointer fields
// distinguish "absent" from zero so updates only touch supplied values.
type extractionJobRequest struct {
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	ExtractionLevel string   `json:"extraction_level"`
	FileTypeFilter  string   `json:"file_type_filter"`
	CustomFileTypes []string `json:"custom_file_types"`

	BackupID      string `json:"backup_id"`
	DirectoryPath string `json:"directory_path"`
	MaxDepth      *int   `json:"max_depth"`
	MaxFileSize   *int64 `json:"max_file_size"`

	ChunkSize          *int  `json:"chunk_size"`
	IncludeAttributes  *bool `json:"include_attributes"`
	ParallelProcessing *bool `json:"parallel_processing"`
	MaxWorkers         *int  `json:"max_workers"`

	ParseDocuments    *bool `json:"enable_document_parsing"`
	ParseSpreadsheets *bool `json:"enable_spreadsheet_parsing"`
	ParseLogs         *bool `json:"enable_log_parsing"`
	ParseConfigs      *bool `json:"enable_config_parsing"`

	ExtractSQLite       *bool   `json:"enable_sqlite_extraction"`
	ParseSQLDumps       *bool   `json:"enable_sql_dump_parsing"`
	ExtractEnterpriseDB *bool   `json:"enable_enterprise_db_extraction"`
	EnterpriseDBDSN     *string `json:"enterprise_db_dsn"`
	MaxDBRowsPerTable   *int    `json:"max_db_rows_per_table"`

	OutputFormat      string `json:"output_format"`
	IncludeRawContent *bool  `json:"include_raw_content"`
	IncludeChunks     *bool  `json:"include_chunks"`

	CreatedBy string `json:"created_by"`
}

// defaultExtractionJob builds a job with configuration-derived defaults
func defaultExtractionJob(cfg *config.Config) *models.ExtractionJob {
	return &models.ExtractionJob{
		ExtractionLevel:    models.LevelFullPipeline,
		FileTypeFilter:     models.FilterAllFiles,
		DirectoryPath:      "/",
		MaxDepth:           cfg.ScanMaxDepth,
		MaxFileSize:        cfg.MaxFileSize,
		ChunkSize:          cfg.ChunkSize,
		IncludeAttributes:  true,
		ParallelProcessing: true,
		MaxWorkers:         cfg.MaxWorkers,
		ParseDocuments:     true,
		ParseSpreadsheets:  true,
		ParseLogs:          true,
		ParseConfigs:       true,
		ExtractSQLite:      true,
		ParseSQLDumps:      true,
		MaxDBRowsPerTable:  cfg.MaxDBRows,
		OutputFormat:       "json",
		IncludeChunks:      true,
	}
}

// apply overlays the supplied request fields onto a job
func (req *extractionJobRequest) apply(job *models.ExtractionJob) {
	if req.Name != "" {
		job.Name = req.Name
	}
	if req.Description != "" {
		job.Description = req.Description
	}
	if req.ExtractionLevel != "" {
		job.ExtractionLevel = req.ExtractionLevel
	}
	if req.FileTypeFilter != "" {
		job.FileTypeFilter = req.FileTypeFilter
	}
	if req.CustomFileTypes != nil {
		encoded, _ := json.Marshal(req.CustomFileTypes)
		job.CustomFileTypes = string(encoded)
	}
	if req.BackupID != "" {
		job.BackupID = req.BackupID
	}
	if req.DirectoryPath != "" {
		job.DirectoryPath = req.DirectoryPath
	}
	if req.MaxDepth != nil {
		job.MaxDepth = *req.MaxDepth
	}
	if req.MaxFileSize != nil {
		job.MaxFileSize = *req.MaxFileSize
	}
	if req.ChunkSize != nil {
		job.ChunkSize = *req.ChunkSize
	}
	if req.IncludeAttributes != nil {
		job.IncludeAttributes = *req.IncludeAttributes
	}
	if req.ParallelProcessing != nil {
		job.ParallelProcessing = *req.ParallelProcessing
	}
	if req.MaxWorkers != nil {
		job.MaxWorkers = *req.MaxWorkers
	}
	if req.ParseDocuments != nil {
		job.ParseDocuments = *req.ParseDocuments
	}
	if req.ParseSpreadsheets != nil {
		job.ParseSpreadsheets = *req.ParseSpreadsheets
	}
	if req.ParseLogs != nil {
		job.ParseLogs = *req.ParseLogs
	}
	if req.ParseConfigs != nil {
		job.ParseConfigs = *req.ParseConfigs
	}
	if req.ExtractSQLite != nil {
		job.ExtractSQLite = *req.ExtractSQLite
	}
	if req.ParseSQLDumps != nil {
		job.ParseSQLDumps = *req.ParseSQLDumps
	}
	if req.ExtractEnterpriseDB != nil {
		job.ExtractEnterpriseDB = *req.ExtractEnterpriseDB
	}
	if req.EnterpriseDBDSN != nil {
		job.EnterpriseDBDSN = *req.EnterpriseDBDSN
	}
	if req.MaxDBRowsPerTable != nil {
		job.MaxDBRowsPerTable = *req.MaxDBRowsPerTable
	}
	if req.OutputFormat != "" {
		job.OutputFormat = req.OutputFormat
	}
	if req.IncludeRawContent != nil {
		job.IncludeRawContent = *req.IncludeRawContent
	}
	if req.IncludeChunks != nil {
		job.IncludeChunks = *req.IncludeChunks
	}
	if req.CreatedBy != "" {
		job.CreatedBy = req.CreatedBy
	}
}

func validateExtractionJob(job *models.ExtractionJob) (string, bool) {
	if job.Name == "" {
		return "name is required", false
	}
	if job.BackupID == "" {
		return "backup_id is required", false
	}
	if !models.ValidLevel(job.ExtractionLevel) {
		return "unknown extraction_level " + job.ExtractionLevel, false
	}
	if !models.ValidFilter(job.FileTypeFilter) {
		return "unknown file_type_filter " + job.FileTypeFilter, false
	}
	if job.ExtractEnterpriseDB && job.EnterpriseDBDSN == "" {
		return "enterprise_db_dsn is required when enterprise database extraction is enabled", false
	}
	return "", true
}

// CreateExtractionJobHandler creates an extraction job definition.
// POST /api/extraction-jobs
func CreateExtractionJobHandler(db *sql.DB, cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req extractionJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			sendError(w, "Invalid request body", "INVALID_REQUEST", http.StatusBadRequest)
			return
		}

		job := defaultExtractionJob(cfg)
		req.apply(job)
		if message, ok := validateExtractionJob(job); !ok {
			sendError(w, message, "INVALID_JOB", http.StatusBadRequest)
			return
		}

		if err := database.CreateExtractionJob(db, job); err != nil {
			slog.Error("failed to create extraction job", "error", err)
			sendError(w, "Failed to create job", "DATABASE_ERROR", http.StatusInternalServerError)
			return
		}

		slog.Info("extraction job created", "id", job.ID, "level", job.ExtractionLevel)
		sendJSON(w, job.Response(), http.StatusCreated)
	}
}

// ListExtractionJobsHandler lists extraction jobs, optionally filtered by
// status.
// GET /api/extraction-jobs
func ListExtractionJobsHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		extractionJobs, err := database.ListExtractionJobs(db, r.URL.Query().Get("status"))
		if err != nil {
			slog.Error("failed to list extraction jobs", "error", err)
			sendError(w, "Failed to list jobs", "DATABASE_ERROR", http.StatusInternalServerError)
			return
		}

		responses := make([]models.ExtractionJobResponse, 0, len(extractionJobs))
		for _, job := range extractionJobs {
			responses = append(responses, job.Response())
		}
		sendJSON(w, map[string]any{"jobs": responses, "count": len(responses)}, http.StatusOK)
	}
}

// GetExtractionJobHandler returns one extraction job.
// GET /api/extraction-jobs/{id}
func GetExtractionJobHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := loadExtractionJob(w, r, db)
		if !ok {
			return
		}
		sendJSON(w, job.Response(), http.StatusOK)
	}
}

// loadExtractionJob resolves the {id} parameter to a job or writes the
// appropriate error
func loadExtractionJob(w http.ResponseWriter, r *http.Request, db *sql.DB) (*models.ExtractionJob, bool) {
	id, ok := pathID(r)
	if !ok {
		sendError(w, "Invalid job ID", "INVALID_ID", http.StatusBadRequest)
		return nil, false
	}
	job, err := database.GetExtractionJob(db, id)
	if err != nil {
		sendError(w, "Failed to get job", "DATABASE_ERROR", http.StatusInternalServerError)
		return nil, false
	}
	if job == nil {
		sendError(w, "Job not found", "NOT_FOUND", http.StatusNotFound)
		return nil, false
	}
	return job, true
}

// UpdateExtractionJobHandler updates a job's configuration. Running jobs
// cannot be edited.
// PUT /api/extraction-jobs/{id}
func UpdateExtractionJobHandler(db *sql.DB, registry *jobs.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := loadExtractionJob(w, r, db)
		if !ok {
			return
		}
		if registry.Running(jobs.KindExtraction, job.ID) {
			sendError(w, "Job is running, cancel it first", "JOB_RUNNING", http.StatusConflict)
			return
		}

		var req extractionJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			sendError(w, "Invalid request body", "INVALID_REQUEST", http.StatusBadRequest)
			return
		}

		req.apply(job)
		if message, valid := validateExtractionJob(job); !valid {
			sendError(w, message, "INVALID_JOB", http.StatusBadRequest)
			return
		}

		if err := database.UpdateExtractionJob(db, job); err != nil {
			slog.Error("failed to update extraction job", "id", job.ID, "error", err)
			sendError(w, "Failed to update job", "DATABASE_ERROR", http.StatusInternalServerError)
			return
		}
		sendJSON(w, job.Response(), http.StatusOK)
	}
}

// DeleteExtractionJobHandler removes a job and its executions.
// DELETE /api/extraction-jobs/{id}
func DeleteExtractionJobHandler(db *sql.DB, registry *jobs.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := loadExtractionJob(w, r, db)
		if !ok {
			return
		}
		if registry.Running(jobs.KindExtraction, job.ID) {
			sendError(w, "Job is running, cancel it first", "JOB_RUNNING", http.StatusConflict)
			return
		}

		if err := database.DeleteExtractionJob(db, job.ID); err != nil {
			slog.Error("failed to delete extraction job", "id", job.ID, "error", err)
			sendError(w, "Failed to delete job", "DATABASE_ERROR", http.StatusInternalServerError)
			return
		}
		sendJSON(w, map[string]any{"status": "deleted"}, http.StatusOK)
	}
}

// ExecuteExtractionJobHandler starts a background run.
// POST /api/extraction-jobs/{id}/execute
func ExecuteExtractionJobHandler(db *sql.DB, runner *jobs.Runner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := loadExtractionJob(w, r, db)
		if !ok {
			return
		}

		execID, err := runner.Execute(job.ID)
		if err != nil {
			slog.Error("failed to start extraction job", "id", job.ID, "error", err)
			sendError(w, err.Error(), "EXECUTE_FAILED", http.StatusConflict)
			return
		}

		sendJSON(w, map[string]any{
			"status":       "started",
			"job_id":       job.ID,
			"execution_id": execID,
		}, http.StatusAccepted)
	}
}

// CancelExtractionJobHandler cancels a running job.
// POST /api/extraction-jobs/{id}/cancel
func CancelExtractionJobHandler(runner *jobs.Runner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r)
		if !ok {
			sendError(w, "Invalid job ID", "INVALID_ID", http.StatusBadRequest)
			return
		}
		if !runner.Cancel(id) {
			sendError(w, "Job is not running", "NOT_RUNNING", http.StatusConflict)
			return
		}
		sendJSON(w, map[string]any{"status": "cancelling", "job_id": id}, http.StatusAccepted)
	}
}

// ListExecutionsHandler lists the run history of a job, newest first.
// GET /api/extraction-jobs/{id}/executions
func ListExecutionsHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := loadExtractionJob(w, r, db)
		if !ok {
			return
		}

		execs, err := database.ListJobExecutions(db, job.ID)
		if err != nil {
			slog.Error("failed to list executions", "job_id", job.ID, "error", err)
			sendError(w, "Failed to list executions", "DATABASE_ERROR", http.StatusInternalServerError)
			return
		}

		responses := make([]models.JobExecutionResponse, 0, len(execs))
		for _, exec := range execs {
			responses = append(responses, exec.Response())
		}
		sendJSON(w, map[string]any{"executions": responses, "count": len(responses)}, http.StatusOK)
	}
}

// ActiveJobsHandler lists currently running jobs.
// GET /api/extraction-jobs/active
func ActiveJobsHandler(registry *jobs.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		active := registry.List()
		sendJSON(w, map[string]any{"active": active, "count": len(active)}, http.StatusOK)
	}
}

// ConfigOptionsHandler enumerates valid job configuration values for the
// frontend.
// GET /api/extraction-jobs/config
func ConfigOptionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sendJSON(w, map[string]any{
			"extraction_levels": []string{
				models.LevelMetadataOnly, models.LevelContentParsing,
				models.LevelDatabaseExtraction, models.LevelFullPipeline,
			},
			"file_type_filters": []string{
				models.FilterAllFiles, models.FilterDocumentsOnly, models.FilterDatabasesOnly,
				models.FilterLogsOnly, models.FilterConfigOnly, models.FilterCustom,
			},
			"file_categories": []string{
				scanner.CategoryDocument, scanner.CategorySpreadsheet, scanner.CategoryDatabase,
				scanner.CategoryLog, scanner.CategoryConfig, scanner.CategoryArchive,
				scanner.CategoryMedia, scanner.CategoryExecutable, scanner.CategoryOther,
			},
			"output_formats": []string{"json"},
		}, http.StatusOK)
	}
}

// StatsHandler summarizes job and backup counts for the dashboard.
// GET /api/extraction-jobs/stats
func StatsHandler(db *sql.DB, registry *jobs.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		totalBackups, mountedBackups, err := database.CountBackups(db)
		if err != nil {
			sendError(w, "Failed to count backups", "DATABASE_ERROR", http.StatusInternalServerError)
			return
		}

		extractionJobs, err := database.ListExtractionJobs(db, "")
		if err != nil {
			sendError(w, "Failed to list jobs", "DATABASE_ERROR", http.StatusInternalServerError)
			return
		}
		extractionByStatus := map[string]int{}
		for _, job := range extractionJobs {
			extractionByStatus[job.Status]++
		}

		mlByStatus := map[string]int{}
		for _, status := range []string{
			models.JobPending, models.JobRunning, models.JobCompleted,
			models.JobFailed, models.JobCancelled,
		} {
			count, err := database.CountMLJobsByStatus(db, status)
			if err != nil {
				sendError(w, "Failed to count ml jobs", "DATABASE_ERROR", http.StatusInternalServerError)
				return
			}
			if count > 0 {
				mlByStatus[status] = count
			}
		}

		sendJSON(w, map[string]any{
			"backups": map[string]int{
				"total":   totalBackups,
				"mounted": mountedBackups,
			},
			"extraction_jobs": map[string]any{
				"total":     len(extractionJobs),
				"by_status": extractionByStatus,
			},
			"ml_jobs": map[string]any{
				"by_status": mlByStatus,
			},
			"active_jobs": registry.Count(),
		}, http.StatusOK)
	}
}
