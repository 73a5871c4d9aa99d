package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/mritsurgeon/veeam-ml/internal/models"
)

// CreateMLJob inserts a new ML job record into the database
func CreateMLJob(db *sql.DB, job *models.MLJob) error {
	job.CreatedAt = time.Now().UTC()
	if job.Status == "" {
		job.Status = models.JobPending
	}

	query := `
		INSERT INTO ml_jobs (
			job_name, ml_algorithm, backup_id, data_source_path,
			parameters, status, progress, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := db.Exec(
		query,
		job.Name,
		job.Algorithm,
		job.BackupID,
		job.DataSourcePath,
		job.Parameters,
		job.Status,
		job.Progress,
		job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert ml job: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	job.ID = id
	return nil
}

const mlJobColumns = `
	id, job_name, ml_algorithm, backup_id, data_source_path, parameters,
	status, progress, results, error_message, created_at, started_at, completed_at
`

func scanMLJob(row interface{ Scan(...any) error }) (*models.MLJob, error) {
	job := &models.MLJob{}
	var dataSourcePath, parameters, results, errorMessage sql.NullString
	var createdAt string
	var startedAt, completedAt sql.NullString

	err := row.Scan(
		&job.ID,
		&job.Name,
		&job.Algorithm,
		&job.BackupID,
		&dataSourcePath,
		&parameters,
		&job.Status,
		&job.Progress,
		&results,
		&errorMessage,
		&createdAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	job.DataSourcePath = dataSourcePath.String
	job.Parameters = parameters.String
	job.Results = results.String
	job.ErrorMessage = errorMessage.String

	if job.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if job.StartedAt, err = parseNullTime(startedAt); err != nil {
		return nil, fmt.Errorf("failed to parse started_at: %w", err)
	}
	if job.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, fmt.Errorf("failed to parse completed_at: %w", err)
	}

	return job, nil
}

// GetMLJob retrieves an ML job by ID.
// Returns nil if not found.
func GetMLJob(db *sql.DB, id int64) (*models.MLJob, error) {
	row := db.QueryRow(`SELECT `+mlJobColumns+` FROM ml_jobs WHERE id = ?`, id)

	job, err := scanMLJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query ml job: %w", err)
	}
	return job, nil
}

// ListMLJobs returns all ML jobs, newest first
func ListMLJobs(db *sql.DB) ([]*models.MLJob, error) {
	rows, err := db.Query(`SELECT ` + mlJobColumns + ` FROM ml_jobs ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query ml jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.MLJob
	for rows.Next() {
		job, err := scanMLJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ml job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// CountMLJobsByStatus returns the number of ML jobs with the given status
func CountMLJobsByStatus(db *sql.DB, status string) (int, error) {
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM ml_jobs WHERE status = ?`, status).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count ml jobs: %w", err)
	}
	return count, nil
}

// MarkMLJobStarted transitions a job to running and records the start time
func MarkMLJobStarted(db *sql.DB, id int64) error {
	_, err := db.Exec(
		`UPDATE ml_jobs SET status = ?, started_at = ? WHERE id = ?`,
		models.JobRunning, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark ml job started: %w", err)
	}
	return nil
}

// UpdateMLJobProgress records job progress as a fraction in [0, 1]
func UpdateMLJobProgress(db *sql.DB, id int64, progress float64) error {
	_, err := db.Exec(`UPDATE ml_jobs SET progress = ? WHERE id = ?`, progress, id)
	if err != nil {
		return fmt.Errorf("failed to update ml job progress: %w", err)
	}
	return nil
}

// CompleteMLJob marks a job completed and stores its JSON results
func CompleteMLJob(db *sql.DB, id int64, results string) error {
	_, err := db.Exec(
		`UPDATE ml_jobs SET status = ?, progress = 1.0, results = ?, completed_at = ? WHERE id = ?`,
		models.JobCompleted, results, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete ml job: %w", err)
	}
	return nil
}

// FailMLJob marks a job failed with the given error message
func FailMLJob(db *sql.DB, id int64, message string) error {
	_, err := db.Exec(
		`UPDATE ml_jobs SET status = ?, error_message = ?, completed_at = ? WHERE id = ?`,
		models.JobFailed, message, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to fail ml job: %w", err)
	}
	return nil
}

// DeleteMLJob removes an ML job record
func DeleteMLJob(db *sql.DB, id int64) error {
	_, err := db.Exec(`DELETE FROM ml_jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete ml job: %w", err)
	}
	return nil
}
