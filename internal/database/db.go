package database

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS backups (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    backup_id TEXT UNIQUE NOT NULL,
    backup_name TEXT NOT NULL,
    backup_path TEXT NOT NULL,
    mount_point TEXT,
    backup_date DATETIME NOT NULL,
    backup_size INTEGER,
    status TEXT NOT NULL DEFAULT 'available',
    os_type TEXT NOT NULL DEFAULT 'unknown',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS ml_jobs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    job_name TEXT NOT NULL,
    ml_algorithm TEXT NOT NULL,
    backup_id INTEGER NOT NULL REFERENCES backups(id) ON DELETE CASCADE,
    data_source_path TEXT,
    parameters TEXT,
    status TEXT NOT NULL DEFAULT 'pending',
    progress REAL NOT NULL DEFAULT 0,
    results TEXT,
    error_message TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    started_at DATETIME,
    completed_at DATETIME
);

CREATE TABLE IF NOT EXISTS extraction_jobs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    description TEXT,
    extraction_level TEXT NOT NULL,
    file_type_filter TEXT NOT NULL DEFAULT 'all_files',
    custom_file_types TEXT,
    backup_id TEXT NOT NULL,
    directory_path TEXT NOT NULL DEFAULT '/',
    max_depth INTEGER NOT NULL DEFAULT 3,
    max_file_size INTEGER NOT NULL DEFAULT 52428800,
    chunk_size INTEGER NOT NULL DEFAULT 2000,
    include_attributes INTEGER NOT NULL DEFAULT 0,
    parallel_processing INTEGER NOT NULL DEFAULT 1,
    max_workers INTEGER NOT NULL DEFAULT 4,
    parse_documents INTEGER NOT NULL DEFAULT 1,
    parse_spreadsheets INTEGER NOT NULL DEFAULT 1,
    parse_logs INTEGER NOT NULL DEFAULT 1,
    parse_configs INTEGER NOT NULL DEFAULT 1,
    extract_sqlite INTEGER NOT NULL DEFAULT 1,
    parse_sql_dumps INTEGER NOT NULL DEFAULT 1,
    extract_enterprise_db INTEGER NOT NULL DEFAULT 0,
    enterprise_db_dsn TEXT,
    max_db_rows_per_table INTEGER NOT NULL DEFAULT 1000,
    output_format TEXT NOT NULL DEFAULT 'json',
    include_raw_content INTEGER NOT NULL DEFAULT 1,
    include_chunks INTEGER NOT NULL DEFAULT 1,
    status TEXT NOT NULL DEFAULT 'pending',
    created_by TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    started_at DATETIME,
    completed_at DATETIME,
    total_files INTEGER NOT NULL DEFAULT 0,
    processed_files INTEGER NOT NULL DEFAULT 0,
    failed_files INTEGER NOT NULL DEFAULT 0,
    progress_percentage REAL NOT NULL DEFAULT 0,
    results_summary TEXT,
    error_message TEXT
);

CREATE TABLE IF NOT EXISTS extraction_job_executions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id INTEGER NOT NULL REFERENCES extraction_jobs(id) ON DELETE CASCADE,
    execution_timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
    status TEXT NOT NULL DEFAULT 'pending',
    session_id TEXT,
    mount_type TEXT,
    unc_path TEXT,
    files_processed INTEGER NOT NULL DEFAULT 0,
    chunks_created INTEGER NOT NULL DEFAULT 0,
    databases_extracted INTEGER NOT NULL DEFAULT 0,
    errors_count INTEGER NOT NULL DEFAULT 0,
    output_path TEXT,
    results_data TEXT,
    error_log TEXT
);

CREATE TABLE IF NOT EXISTS extraction_job_templates (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT UNIQUE NOT NULL,
    description TEXT,
    category TEXT,
    config TEXT NOT NULL,
    is_system INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_backups_backup_id ON backups(backup_id);
CREATE INDEX IF NOT EXISTS idx_backups_status ON backups(status);
CREATE INDEX IF NOT EXISTS idx_ml_jobs_backup ON ml_jobs(backup_id);
CREATE INDEX IF NOT EXISTS idx_extraction_jobs_status ON extraction_jobs(status);
CREATE INDEX IF NOT EXISTS idx_executions_job ON extraction_job_executions(job_id);
`

// Initialize opens the SQLite database and creates the schema
func Initialize(dbPath string) (*sql.DB, error) {
	// Open database connection
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Enable foreign keys and WAL mode for better concurrency
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000", // 5 second busy timeout
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	// Create schema
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return db, nil
}
