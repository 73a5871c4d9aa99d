package models

import (
	"encoding/json"
	"time"
)

// Extraction levels
const (
	LevelMetadataOnly       = "metadata_only"
	LevelContentParsing     = "content_parsing"
	LevelDatabaseExtraction = "database_extraction"
	LevelFullPipeline       = "full_pipeline"
)

// File type filters for extraction jobs
const (
	FilterAllFiles      = "all_files"
	FilterDocumentsOnly = "documents_only"
	FilterDatabasesOnly = "databases_only"
	FilterLogsOnly      = "logs_only"
	FilterConfigOnly    = "config_only"
	FilterCustom        = "custom"
)

// ValidLevel reports whether level names a supported extraction level
func ValidLevel(level string) bool {
	switch level {
	case LevelMetadataOnly, LevelContentParsing, LevelDatabaseExtraction, LevelFullPipeline:
		return true
	}
	return false
}

// ValidFilter reports whether filter names a supported file type filter
func ValidFilter(filter string) bool {
	switch filter {
	case FilterAllFiles, FilterDocumentsOnly, FilterDatabasesOnly,
		FilterLogsOnly, FilterConfigOnly, FilterCustom:
		return true
	}
	return false
}

// ExtractionJob is a configurable extraction job definition
type ExtractionJob struct {
	ID          int64
	Name        string
	Description string

	// What to extract and how
	ExtractionLevel string
	FileTypeFilter  string
	CustomFileTypes string // JSON array of custom file extensions

	// Scope
	BackupID      string // Veeam object ID
	DirectoryPath string
	MaxDepth      int
	MaxFileSize   int64

	// Processing
	ChunkSize          int
	IncludeAttributes  bool
	ParallelProcessing bool
	MaxWorkers         int

	// Content parsing toggles
	ParseDocuments    bool
	ParseSpreadsheets bool
	ParseLogs         bool
	ParseConfigs      bool

	// Database extraction
	ExtractSQLite       bool
	ParseSQLDumps       bool
	ExtractEnterpriseDB bool
	EnterpriseDBDSN     string // connection string of a restored PostgreSQL instance
	MaxDBRowsPerTable   int

	// Output
	OutputFormat      string
	IncludeRawContent bool
	IncludeChunks     bool

	// Status and progress
	Status             string
	CreatedBy          string
	CreatedAt          time.Time
	StartedAt          *time.Time
	CompletedAt        *time.Time
	TotalFiles         int
	ProcessedFiles     int
	FailedFiles        int
	ProgressPercentage float64
	ResultsSummary     string // JSON
	ErrorMessage       string
}

// CustomExtensions decodes the job's custom file extension list
func (j *ExtractionJob) CustomExtensions() []string {
	if j.CustomFileTypes == "" {
		return nil
	}
	var exts []string
	if err := json.Unmarshal([]byte(j.CustomFileTypes), &exts); err != nil {
		return nil
	}
	return exts
}

// ExtractionJobResponse is the JSON shape returned for an extraction job
type ExtractionJobResponse struct {
	ID                  int64           `json:"id"`
	Name                string          `json:"name"`
	Description         string          `json:"description,omitempty"`
	ExtractionLevel     string          `json:"extraction_level"`
	FileTypeFilter      string          `json:"file_type_filter"`
	CustomFileTypes     []string        `json:"custom_file_types,omitempty"`
	BackupID            string          `json:"backup_id"`
	DirectoryPath       string          `json:"directory_path"`
	MaxDepth            int             `json:"max_depth"`
	MaxFileSize         int64           `json:"max_file_size"`
	ChunkSize           int             `json:"chunk_size"`
	IncludeAttributes   bool            `json:"include_attributes"`
	ParallelProcessing  bool            `json:"parallel_processing"`
	MaxWorkers          int             `json:"max_workers"`
	ParseDocuments      bool            `json:"enable_document_parsing"`
	ParseSpreadsheets   bool            `json:"enable_spreadsheet_parsing"`
	ParseLogs           bool            `json:"enable_log_parsing"`
	ParseConfigs        bool            `json:"enable_config_parsing"`
	ExtractSQLite       bool            `json:"enable_sqlite_extraction"`
	ParseSQLDumps       bool            `json:"enable_sql_dump_parsing"`
	ExtractEnterpriseDB bool            `json:"enable_enterprise_db_extraction"`
	EnterpriseDBDSN     string          `json:"enterprise_db_dsn,omitempty"`
	MaxDBRowsPerTable   int             `json:"max_db_rows_per_table"`
	OutputFormat        string          `json:"output_format"`
	IncludeRawContent   bool            `json:"include_raw_content"`
	IncludeChunks       bool            `json:"include_chunks"`
	Status              string          `json:"status"`
	CreatedBy           string          `json:"created_by,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	StartedAt           *time.Time      `json:"started_at"`
	CompletedAt         *time.Time      `json:"completed_at"`
	TotalFiles          int             `json:"total_files"`
	ProcessedFiles      int             `json:"processed_files"`
	FailedFiles         int             `json:"failed_files"`
	ProgressPercentage  float64         `json:"progress_percentage"`
	ResultsSummary      json.RawMessage `json:"results_summary,omitempty"`
	ErrorMessage        string          `json:"error_message,omitempty"`
}

// Response converts an ExtractionJob to its JSON representation
func (j *ExtractionJob) Response() ExtractionJobResponse {
	var summary json.RawMessage
	if j.ResultsSummary != "" {
		summary = json.RawMessage(j.ResultsSummary)
	}
	return ExtractionJobResponse{
		ID:                  j.ID,
		Name:                j.Name,
		Description:         j.Description,
		ExtractionLevel:     j.ExtractionLevel,
		FileTypeFilter:      j.FileTypeFilter,
		CustomFileTypes:     j.CustomExtensions(),
		BackupID:            j.BackupID,
		DirectoryPath:       j.DirectoryPath,
		MaxDepth:            j.MaxDepth,
		MaxFileSize:         j.MaxFileSize,
		ChunkSize:           j.ChunkSize,
		IncludeAttributes:   j.IncludeAttributes,
		ParallelProcessing:  j.ParallelProcessing,
		MaxWorkers:          j.MaxWorkers,
		ParseDocuments:      j.ParseDocuments,
		ParseSpreadsheets:   j.ParseSpreadsheets,
		ParseLogs:           j.ParseLogs,
		ParseConfigs:        j.ParseConfigs,
		ExtractSQLite:       j.ExtractSQLite,
		ParseSQLDumps:       j.ParseSQLDumps,
		ExtractEnterpriseDB: j.ExtractEnterpriseDB,
		EnterpriseDBDSN:     j.EnterpriseDBDSN,
		MaxDBRowsPerTable:   j.MaxDBRowsPerTable,
		OutputFormat:        j.OutputFormat,
		IncludeRawContent:   j.IncludeRawContent,
		IncludeChunks:       j.IncludeChunks,
		Status:              j.Status,
		CreatedBy:           j.CreatedBy,
		CreatedAt:           j.CreatedAt,
		StartedAt:           j.StartedAt,
		CompletedAt:         j.CompletedAt,
		TotalFiles:          j.TotalFiles,
		ProcessedFiles:      j.ProcessedFiles,
		FailedFiles:         j.FailedFiles,
		ProgressPercentage:  j.ProgressPercentage,
		ResultsSummary:      summary,
		ErrorMessage:        j.ErrorMessage,
	}
}

// JobExecution records a single run of an extraction job
type JobExecution struct {
	ID                 int64
	JobID              int64
	ExecutionTimestamp time.Time
	Status             string
	SessionID          string
	MountType          string
	UNCPath            string
	FilesProcessed     int
	ChunksCreated      int
	DatabasesExtracted int
	ErrorsCount        int
	OutputPath         string
	ResultsData        string // JSON
	ErrorLog           string
}

// JobExecutionResponse is the JSON shape returned for a job execution
type JobExecutionResponse struct {
	ID                 int64     `json:"id"`
	JobID              int64     `json:"job_id"`
	ExecutionTimestamp time.Time `json:"execution_timestamp"`
	Status             string    `json:"status"`
	SessionID          string    `json:"session_id,omitempty"`
	MountType          string    `json:"mount_type,omitempty"`
	UNCPath            string    `json:"unc_path,omitempty"`
	FilesProcessed     int       `json:"files_processed"`
	ChunksCreated      int       `json:"chunks_created"`
	DatabasesExtracted int       `json:"databases_extracted"`
	ErrorsCount        int       `json:"errors_count"`
	OutputPath         string    `json:"output_path,omitempty"`
	ErrorLog           string    `json:"error_log,omitempty"`
}

// Response converts a JobExecution to its JSON representation
func (e *JobExecution) Response() JobExecutionResponse {
	return JobExecutionResponse{
		ID:                 e.ID,
		JobID:              e.JobID,
		ExecutionTimestamp: e.ExecutionTimestamp,
		Status:             e.Status,
		SessionID:          e.SessionID,
		MountType:          e.MountType,
		UNCPath:            e.UNCPath,
		FilesProcessed:     e.FilesProcessed,
		ChunksCreated:      e.ChunksCreated,
		DatabasesExtracted: e.DatabasesExtracted,
		ErrorsCount:        e.ErrorsCount,
		OutputPath:         e.OutputPath,
		ErrorLog:           e.ErrorLog,
	}
}

// JobTemplate is a named preset that stamps out extraction jobs
type JobTemplate struct {
	ID          int64
	Name        string
	Description string
	Category    string
	Config      string // JSON-encoded partial ExtractionJob configuration
	IsSystem    bool
	CreatedAt   time.Time
}

// JobTemplateResponse is the JSON shape returned for a job template
type JobTemplateResponse struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Category    string          `json:"category,omitempty"`
	Config      json.RawMessage `json:"config"`
	IsSystem    bool            `json:"is_system"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Response converts a JobTemplate to its JSON representation
func (t *JobTemplate) Response() JobTemplateResponse {
	return JobTemplateResponse{
		ID:          t.ID,
		Name:        t.Name,
		Description: t.Description,
		Category:    t.Category,
		Config:      json.RawMessage(t.Config),
		IsSystem:    t.IsSystem,
		CreatedAt:   t.CreatedAt,
	}
}
