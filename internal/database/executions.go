package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/mritsurgeon/veeam-ml/internal/models"
)

// CreateJobExecution inserts a new execution record for an extraction job
func CreateJobExecution(db *sql.DB, exec *models.JobExecution) error {
	exec.ExecutionTimestamp = time.Now().UTC()
	if exec.Status == "" {
		exec.Status = models.JobRunning
	}

	query := `
		INSERT INTO extraction_job_executions (
			job_id, execution_timestamp, status, session_id, mount_type, unc_path
		) VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := db.Exec(
		query,
		exec.JobID,
		exec.ExecutionTimestamp,
		exec.Status,
		exec.SessionID,
		exec.MountType,
		exec.UNCPath,
	)
	if err != nil {
		return fmt.Errorf("failed to insert job execution: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	exec.ID = id
	return nil
}

const executionColumns = `
	id, job_id, execution_timestamp, status, session_id, mount_type, unc_path,
	files_processed, chunks_created, databases_extracted, errors_count,
	output_path, results_data, error_log
`

func scanExecution(row interface{ Scan(...any) error }) (*models.JobExecution, error) {
	exec := &models.JobExecution{}
	var timestamp string
	var sessionID, mountType, uncPath, outputPath, resultsData, errorLog sql.NullString

	err := row.Scan(
		&exec.ID,
		&exec.JobID,
		&timestamp,
		&exec.Status,
		&sessionID,
		&mountType,
		&uncPath,
		&exec.FilesProcessed,
		&exec.ChunksCreated,
		&exec.DatabasesExtracted,
		&exec.ErrorsCount,
		&outputPath,
		&resultsData,
		&errorLog,
	)
	if err != nil {
		return nil, err
	}

	exec.SessionID = sessionID.String
	exec.MountType = mountType.String
	exec.UNCPath = uncPath.String
	exec.OutputPath = outputPath.String
	exec.ResultsData = resultsData.String
	exec.ErrorLog = errorLog.String

	if exec.ExecutionTimestamp, err = parseTime(timestamp); err != nil {
		return nil, fmt.Errorf("failed to parse execution_timestamp: %w", err)
	}

	return exec, nil
}

// GetJobExecution retrieves an execution by ID.
// Returns nil if not found.
func GetJobExecution(db *sql.DB, id int64) (*models.JobExecution, error) {
	row := db.QueryRow(`SELECT `+executionColumns+` FROM extraction_job_executions WHERE id = ?`, id)

	exec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query job execution: %w", err)
	}
	return exec, nil
}

// ListJobExecutions returns all executions for a job, newest first
func ListJobExecutions(db *sql.DB, jobID int64) ([]*models.JobExecution, error) {
	rows, err := db.Query(
		`SELECT `+executionColumns+` FROM extraction_job_executions WHERE job_id = ? ORDER BY execution_timestamp DESC, id DESC`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query job executions: %w", err)
	}
	defer rows.Close()

	var execs []*models.JobExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job execution: %w", err)
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

// FinishJobExecution records the terminal state and counters of an execution
func FinishJobExecution(db *sql.DB, exec *models.JobExecution) error {
	_, err := db.Exec(
		`UPDATE extraction_job_executions SET
			status = ?, session_id = ?, mount_type = ?, unc_path = ?,
			files_processed = ?, chunks_created = ?,
			databases_extracted = ?, errors_count = ?,
			output_path = ?, results_data = ?, error_log = ?
		WHERE id = ?`,
		exec.Status,
		exec.SessionID,
		exec.MountType,
		exec.UNCPath,
		exec.FilesProcessed,
		exec.ChunksCreated,
		exec.DatabasesExtracted,
		exec.ErrorsCount,
		exec.OutputPath,
		exec.ResultsData,
		exec.ErrorLog,
		exec.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish job execution: %w", err)
	}
	return nil
}
