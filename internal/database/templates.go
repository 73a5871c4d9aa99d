package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/mritsurgeon/veeam-ml/internal/models"
)

// systemTemplates are seeded on startup so the UI always has sensible presets
var systemTemplates = []models.JobTemplate{
	{
		Name:        "Quick Metadata Scan",
		Description: "Fast inventory of file names, sizes and timestamps without reading content",
		Category:    "discovery",
		Config: `{"extraction_level":"metadata_only","file_type_filter":"all_files",` +
			`"max_depth":5,"include_attributes":true,"parallel_processing":true,"max_workers":8}`,
	},
	{
		Name:        "Document Content Analysis",
		Description: "Parse and chunk documents, logs and configuration files",
		Category:    "content",
		Config: `{"extraction_level":"content_parsing","file_type_filter":"documents_only",` +
			`"chunk_size":2000,"include_chunks":true,"enable_document_parsing":true,"enable_log_parsing":true}`,
	},
	{
		Name:        "Database Deep Dive",
		Description: "Extract schemas and sample rows from SQLite files and SQL dumps",
		Category:    "database",
		Config: `{"extraction_level":"database_extraction","file_type_filter":"databases_only",` +
			`"enable_sqlite_extraction":true,"enable_sql_dump_parsing":true,"max_db_rows_per_table":1000}`,
	},
	{
		Name:        "Full Forensic Pipeline",
		Description: "Metadata, content and database extraction in a single pass",
		Category:    "forensic",
		Config: `{"extraction_level":"full_pipeline","file_type_filter":"all_files",` +
			`"max_depth":10,"include_raw_content":true,"include_chunks":true,"parallel_processing":true}`,
	},
	{
		Name:        "Log Hunting",
		Description: "Collect and parse log files only, useful for incident review",
		Category:    "security",
		Config: `{"extraction_level":"content_parsing","file_type_filter":"logs_only",` +
			`"enable_log_parsing":true,"chunk_size":1000,"max_depth":8}`,
	},
}

// SeedTemplates inserts the built-in system templates if they are missing
func SeedTemplates(db *sql.DB) error {
	for _, tmpl := range systemTemplates {
		_, err := db.Exec(
			`INSERT OR IGNORE INTO extraction_job_templates (name, description, category, config, is_system, created_at)
			VALUES (?, ?, ?, ?, 1, ?)`,
			tmpl.Name, tmpl.Description, tmpl.Category, tmpl.Config, time.Now().UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to seed template %q: %w", tmpl.Name, err)
		}
	}
	return nil
}

// CreateTemplate inserts a user-defined job template
func CreateTemplate(db *sql.DB, tmpl *models.JobTemplate) error {
	tmpl.CreatedAt = time.Now().UTC()

	result, err := db.Exec(
		`INSERT INTO extraction_job_templates (name, description, category, config, is_system, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		tmpl.Name, tmpl.Description, tmpl.Category, tmpl.Config, tmpl.IsSystem, tmpl.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert template: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	tmpl.ID = id
	return nil
}

func scanTemplate(row interface{ Scan(...any) error }) (*models.JobTemplate, error) {
	tmpl := &models.JobTemplate{}
	var description, category sql.NullString
	var createdAt string

	err := row.Scan(
		&tmpl.ID,
		&tmpl.Name,
		&description,
		&category,
		&tmpl.Config,
		&tmpl.IsSystem,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	tmpl.Description = description.String
	tmpl.Category = category.String

	if tmpl.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	return tmpl, nil
}

const templateColumns = `id, name, description, category, config, is_system, created_at`

// GetTemplate retrieves a template by ID.
// Returns nil if not found.
func GetTemplate(db *sql.DB, id int64) (*models.JobTemplate, error) {
	row := db.QueryRow(`SELECT `+templateColumns+` FROM extraction_job_templates WHERE id = ?`, id)

	tmpl, err := scanTemplate(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query template: %w", err)
	}
	return tmpl, nil
}

// ListTemplates returns all job templates, system templates first
func ListTemplates(db *sql.DB) ([]*models.JobTemplate, error) {
	rows, err := db.Query(`SELECT ` + templateColumns + ` FROM extraction_job_templates ORDER BY is_system DESC, name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}
	defer rows.Close()

	var templates []*models.JobTemplate
	for rows.Next() {
		tmpl, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		templates = append(templates, tmpl)
	}
	return templates, rows.Err()
}

// DeleteTemplate removes a user template.
// System templates cannot be deleted.
func DeleteTemplate(db *sql.DB, id int64) error {
	result, err := db.Exec(`DELETE FROM extraction_job_templates WHERE id = ? AND is_system = 0`, id)
	if err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("template not found or is a system template")
	}
	return nil
}
