package handlers

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/mritsurgeon/veeam-ml/internal/database"
	"github.com/mritsurgeon/veeam-ml/internal/jobs"
	"github.com/mritsurgeon/veeam-ml/internal/models"
)

type mlJobRequest struct {
	Name           string          `json:"job_name"`
	Algorithm      string          `json:"ml_algorithm"`
	BackupID       int64           `json:"backup_id"`
	DataSourcePath string          `json:"data_source_path"`
	Parameters     json.RawMessage `json:"parameters"`
}

// CreateMLJobHandler creates an ML job definition.
// POST /api/ml-jobs
func CreateMLJobHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req mlJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			sendError(w, "Invalid request body", "INVALID_REQUEST", http.StatusBadRequest)
			return
		}
		if req.Name == "" || req.DataSourcePath == "" {
			sendError(w, "job_name and data_source_path are required", "MISSING_FIELDS", http.StatusBadRequest)
			return
		}
		if !models.ValidTask(req.Algorithm) {
			sendError(w, "Unknown ml_algorithm "+req.Algorithm, "INVALID_ALGORITHM", http.StatusBadRequest)
			return
		}

		backup, err := database.GetBackup(db, req.BackupID)
		if err != nil {
			sendError(w, "Failed to get backup", "DATABASE_ERROR", http.StatusInternalServerError)
			return
		}
		if backup == nil {
			sendError(w, "Backup not found", "BACKUP_NOT_FOUND", http.StatusNotFound)
			return
		}

		job := &models.MLJob{
			Name:           req.Name,
			Algorithm:      req.Algorithm,
			BackupID:       req.BackupID,
			DataSourcePath: req.DataSourcePath,
			Parameters:     string(req.Parameters),
		}
		if err := database.CreateMLJob(db, job); err != nil {
			slog.Error("failed to create ml job", "error", err)
			sendError(w, "Failed to create job", "DATABASE_ERROR", http.StatusInternalServerError)
			return
		}

		slog.Info("ml job created", "id", job.ID, "algorithm", job.Algorithm)
		sendJSON(w, job.Response(), http.StatusCreated)
	}
}

// ListMLJobsHandler lists all ML jobs, newest first.
// GET /api/ml-jobs
func ListMLJobsHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mlJobs, err := database.ListMLJobs(db)
		if err != nil {
			slog.Error("failed to list ml jobs", "error", err)
			sendError(w, "Failed to list jobs", "DATABASE_ERROR", http.StatusInternalServerError)
			return
		}

		responses := make([]models.MLJobResponse, 0, len(mlJobs))
		for _, job := range mlJobs {
			responses = append(responses, job.Response())
		}
		sendJSON(w, map[string]any{"jobs": responses, "count": len(responses)}, http.StatusOK)
	}
}

// GetMLJobHandler returns one ML job with its results.
// GET /api/ml-jobs/{id}
func GetMLJobHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r)
		if !ok {
			sendError(w, "Invalid job ID", "INVALID_ID", http.StatusBadRequest)
			return
		}

		job, err := database.GetMLJob(db, id)
		if err != nil {
			sendError(w, "Failed to get job", "DATABASE_ERROR", http.StatusInternalServerError)
			return
		}
		if job == nil {
			sendError(w, "Job not found", "NOT_FOUND", http.StatusNotFound)
			return
		}
		sendJSON(w, job.Response(), http.StatusOK)
	}
}

// ExecuteMLJobHandler starts a background run of an ML job.
// POST /api/ml-jobs/{id}/execute
func ExecuteMLJobHandler(db *sql.DB, runner *jobs.Runner, registry *jobs.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r)
		if !ok {
			sendError(w, "Invalid job ID", "INVALID_ID", http.StatusBadRequest)
			return
		}

		job, err := database.GetMLJob(db, id)
		if err != nil {
			sendError(w, "Failed to get job", "DATABASE_ERROR", http.StatusInternalServerError)
			return
		}
		if job == nil {
			sendError(w, "Job not found", "NOT_FOUND", http.StatusNotFound)
			return
		}
		if registry.Running(jobs.KindML, id) {
			sendError(w, "Job is already running", "ALREADY_RUNNING", http.StatusConflict)
			return
		}

		if err := runner.ExecuteML(id); err != nil {
			slog.Error("failed to start ml job", "id", id, "error", err)
			sendError(w, err.Error(), "EXECUTE_FAILED", http.StatusBadRequest)
			return
		}

		sendJSON(w, map[string]any{"status": "started", "job_id": id}, http.StatusAccepted)
	}
}

// CancelMLJobHandler cancels a running ML job.
// POST /api/ml-jobs/{id}/cancel
func CancelMLJobHandler(registry *jobs.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r)
		if !ok {
			sendError(w, "Invalid job ID", "INVALID_ID", http.StatusBadRequest)
			return
		}
		if !registry.Cancel(jobs.KindML, id) {
			sendError(w, "Job is not running", "NOT_RUNNING", http.StatusConflict)
			return
		}
		sendJSON(w, map[string]any{"status": "cancelling", "job_id": id}, http.StatusAccepted)
	}
}

// DeleteMLJobHandler removes an ML job. Running jobs must be cancelled
// first.
// DELETE /api/ml-jobs/{id}
func DeleteMLJobHandler(db *sql.DB, registry *jobs.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r)
		if !ok {
			sendError(w, "Invalid job ID", "INVALID_ID", http.StatusBadRequest)
			return
		}
		if registry.Running(jobs.KindML, id) {
			sendError(w, "Job is running, cancel it first", "JOB_RUNNING", http.StatusConflict)
			return
		}

		job, err := database.GetMLJob(db, id)
		if err != nil {
			sendError(w, "Failed to get job", "DATABASE_ERROR", http.StatusInternalServerError)
			return
		}
		if job == nil {
			sendError(w, "Job not found", "NOT_FOUND", http.StatusNotFound)
			return
		}

		if err := database.DeleteMLJob(db, id); err != nil {
			slog.Error("failed to delete ml job", "id", id, "error", err)
			sendError(w, "Failed to delete job", "DATABASE_ERROR", http.StatusInternalServerError)
			return
		}
		sendJSON(w, map[string]any{"status": "deleted"}, http.StatusOK)
	}
}
