package models

import "time"

// Job status values shared by ML jobs and extraction jobs
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
	JobCancelled = "cancelled"
)

// ML task types
const (
	TaskClassification    = "classification"
	TaskRegression        = "regression"
	TaskClustering        = "clustering"
	TaskAnomalyDetection  = "anomaly_detection"
	TaskFeatureExtraction = "feature_extraction"
)

// MLJob represents a machine learning job run against extracted backup data
type MLJob struct {
	ID             int64
	Name           string
	Algorithm      string // one of the Task* constants
	BackupID       int64  // local backups.id
	DataSourcePath string // path within the mounted backup
	Parameters     string // JSON-encoded task parameters
	Status         string
	Progress       float64
	Results        string // JSON-encoded task results
	ErrorMessage   string
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

// MLJobResponse is the JSON shape returned for an ML job
type MLJobResponse struct {
	ID             int64      `json:"id"`
	Name           string     `json:"job_name"`
	Algorithm      string     `json:"ml_algorithm"`
	BackupID       int64      `json:"backup_id"`
	DataSourcePath string     `json:"data_source_path,omitempty"`
	Parameters     string     `json:"parameters,omitempty"`
	Status         string     `json:"status"`
	Progress       float64    `json:"progress"`
	Results        string     `json:"results,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at"`
}

// Response converts an MLJob to its JSON representation
func (j *MLJob) Response() MLJobResponse {
	return MLJobResponse{
		ID:             j.ID,
		Name:           j.Name,
		Algorithm:      j.Algorithm,
		BackupID:       j.BackupID,
		DataSourcePath: j.DataSourcePath,
		Parameters:     j.Parameters,
		Status:         j.Status,
		Progress:       j.Progress,
		Results:        j.Results,
		ErrorMessage:   j.ErrorMessage,
		CreatedAt:      j.CreatedAt,
		StartedAt:      j.StartedAt,
		CompletedAt:    j.CompletedAt,
	}
}

// ValidTask reports whether algorithm names a supported ML task
func ValidTask(algorithm string) bool {
	switch algorithm {
	case TaskClassification, TaskRegression, TaskClustering,
		TaskAnomalyDetection, TaskFeatureExtraction:
		return true
	}
	return false
}
