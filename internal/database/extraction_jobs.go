package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/mritsurgeon/veeam-ml/internal/models"
)

// CreateExtractionJob inserts a new extraction job definition
func CreateExtractionJob(db *sql.DB, job *models.ExtractionJob) error {
	job.CreatedAt = time.Now().UTC()
	if job.Status == "" {
		job.Status = models.JobPending
	}

	query := `
		INSERT INTO extraction_jobs (
			name, description, extraction_level, file_type_filter, custom_file_types,
			backup_id, directory_path, max_depth, max_file_size,
			chunk_size, include_attributes, parallel_processing, max_workers,
			parse_documents, parse_spreadsheets, parse_logs, parse_configs,
			extract_sqlite, parse_sql_dumps, extract_enterprise_db, enterprise_db_dsn,
			max_db_rows_per_table, output_format, include_raw_content, include_chunks,
			status, created_by, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := db.Exec(
		query,
		job.Name,
		job.Description,
		job.ExtractionLevel,
		job.FileTypeFilter,
		job.CustomFileTypes,
		job.BackupID,
		job.DirectoryPath,
		job.MaxDepth,
		job.MaxFileSize,
		job.ChunkSize,
		job.IncludeAttributes,
		job.ParallelProcessing,
		job.MaxWorkers,
		job.ParseDocuments,
		job.ParseSpreadsheets,
		job.ParseLogs,
		job.ParseConfigs,
		job.ExtractSQLite,
		job.ParseSQLDumps,
		job.ExtractEnterpriseDB,
		job.EnterpriseDBDSN,
		job.MaxDBRowsPerTable,
		job.OutputFormat,
		job.IncludeRawContent,
		job.IncludeChunks,
		job.Status,
		job.CreatedBy,
		job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert extraction job: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	job.ID = id
	return nil
}

const extractionJobColumns = `
	id, name, description, extraction_level, file_type_filter, custom_file_types,
	backup_id, directory_path, max_depth, max_file_size,
	chunk_size, include_attributes, parallel_processing, max_workers,
	parse_documents, parse_spreadsheets, parse_logs, parse_configs,
	extract_sqlite, parse_sql_dumps, extract_enterprise_db, enterprise_db_dsn,
	max_db_rows_per_table, output_format, include_raw_content, include_chunks,
	status, created_by, created_at, started_at, completed_at,
	total_files, processed_files, failed_files, progress_percentage,
	results_summary, error_message
`

func scanExtractionJob(row interface{ Scan(...any) error }) (*models.ExtractionJob, error) {
	job := &models.ExtractionJob{}
	var description, customFileTypes, enterpriseDSN, createdBy, resultsSummary, errorMessage sql.NullString
	var createdAt string
	var startedAt, completedAt sql.NullString

	err := row.Scan(
		&job.ID,
		&job.Name,
		&description,
		&job.ExtractionLevel,
		&job.FileTypeFilter,
		&customFileTypes,
		&job.BackupID,
		&job.DirectoryPath,
		&job.MaxDepth,
		&job.MaxFileSize,
		&job.ChunkSize,
		&job.IncludeAttributes,
		&job.ParallelProcessing,
		&job.MaxWorkers,
		&job.ParseDocuments,
		&job.ParseSpreadsheets,
		&job.ParseLogs,
		&job.ParseConfigs,
		&job.ExtractSQLite,
		&job.ParseSQLDumps,
		&job.ExtractEnterpriseDB,
		&enterpriseDSN,
		&job.MaxDBRowsPerTable,
		&job.OutputFormat,
		&job.IncludeRawContent,
		&job.IncludeChunks,
		&job.Status,
		&createdBy,
		&createdAt,
		&startedAt,
		&completedAt,
		&job.TotalFiles,
		&job.ProcessedFiles,
		&job.FailedFiles,
		&job.ProgressPercentage,
		&resultsSummary,
		&errorMessage,
	)
	if err != nil {
		return nil, err
	}

	job.Description = description.String
	job.CustomFileTypes = customFileTypes.String
	job.EnterpriseDBDSN = enterpriseDSN.String
	job.CreatedBy = createdBy.String
	job.ResultsSummary = resultsSummary.String
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

// GetExtractionJob retrieves an extraction job by ID.
// Returns nil if not found.
func GetExtractionJob(db *sql.DB, id int64) (*models.ExtractionJob, error) {
	row := db.QueryRow(`SELECT `+extractionJobColumns+` FROM extraction_jobs WHERE id = ?`, id)

	job, err := scanExtractionJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query extraction job: %w", err)
	}
	return job, nil
}

// ListExtractionJobs returns extraction jobs, newest first, optionally
// filtered by status (empty status means all)
func ListExtractionJobs(db *sql.DB, status string) ([]*models.ExtractionJob, error) {
	query := `SELECT ` + extractionJobColumns + ` FROM extraction_jobs`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query extraction jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.ExtractionJob
	for rows.Next() {
		job, err := scanExtractionJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan extraction job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// UpdateExtractionJob rewrites the editable configuration of a job
func UpdateExtractionJob(db *sql.DB, job *models.ExtractionJob) error {
	query := `
		UPDATE extraction_jobs SET
			name = ?, description = ?, extraction_level = ?, file_type_filter = ?,
			custom_file_types = ?, backup_id = ?, directory_path = ?, max_depth = ?,
			max_file_size = ?, chunk_size = ?, include_attributes = ?,
			parallel_processing = ?, max_workers = ?,
			parse_documents = ?, parse_spreadsheets = ?, parse_logs = ?, parse_configs = ?,
			extract_sqlite = ?, parse_sql_dumps = ?, extract_enterprise_db = ?,
			enterprise_db_dsn = ?, max_db_rows_per_table = ?, output_format = ?, include_raw_content = ?,
			include_chunks = ?
		WHERE id = ?
	`

	_, err := db.Exec(
		query,
		job.Name,
		job.Description,
		job.ExtractionLevel,
		job.FileTypeFilter,
		job.CustomFileTypes,
		job.BackupID,
		job.DirectoryPath,
		job.MaxDepth,
		job.MaxFileSize,
		job.ChunkSize,
		job.IncludeAttributes,
		job.ParallelProcessing,
		job.MaxWorkers,
		job.ParseDocuments,
		job.ParseSpreadsheets,
		job.ParseLogs,
		job.ParseConfigs,
		job.ExtractSQLite,
		job.ParseSQLDumps,
		job.ExtractEnterpriseDB,
		job.EnterpriseDBDSN,
		job.MaxDBRowsPerTable,
		job.OutputFormat,
		job.IncludeRawContent,
		job.IncludeChunks,
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update extraction job: %w", err)
	}
	return nil
}

// MarkExtractionJobStarted transitions a job to running and resets progress
func MarkExtractionJobStarted(db *sql.DB, id int64) error {
	_, err := db.Exec(
		`UPDATE extraction_jobs SET status = ?, started_at = ?, completed_at = NULL,
			total_files = 0, processed_files = 0, failed_files = 0,
			progress_percentage = 0, results_summary = NULL, error_message = NULL
		WHERE id = ?`,
		models.JobRunning, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark extraction job started: %w", err)
	}
	return nil
}

// UpdateExtractionJobProgress records file counters and percentage for a running job
func UpdateExtractionJobProgress(db *sql.DB, id int64, total, processed, failed int, percentage float64) error {
	_, err := db.Exec(
		`UPDATE extraction_jobs SET total_files = ?, processed_files = ?, failed_files = ?, progress_percentage = ? WHERE id = ?`,
		total, processed, failed, percentage, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update extraction job progress: %w", err)
	}
	return nil
}

// FinishExtractionJob records the terminal status of a job run.
// summary and message may be empty.
func FinishExtractionJob(db *sql.DB, id int64, status, summary, message string) error {
	_, err := db.Exec(
		`UPDATE extraction_jobs SET status = ?, results_summary = ?, error_message = ?, completed_at = ?, progress_percentage = CASE WHEN ? = 'completed' THEN 100 ELSE progress_percentage END WHERE id = ?`,
		status, summary, message, time.Now().UTC(), status, id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish extraction job: %w", err)
	}
	return nil
}

// DeleteExtractionJob removes a job and its executions (via cascade)
func DeleteExtractionJob(db *sql.DB, id int64) error {
	_, err := db.Exec(`DELETE FROM extraction_jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete extraction job: %w", err)
	}
	return nil
}
