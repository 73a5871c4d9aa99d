package extraction

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/mritsurgeon/veeam-ml/internal/scanner"
)

// Config tunes an Extractor. Zero values get sensible defaults.
type Config struct {
	MaxFileSize int64 // files above this only get metadata
	ChunkSize   int   // words per chunk
	MaxDBRows   int   // sample rows per database table

	ParseDocuments    bool
	ParseSpreadsheets bool
	ParseLogs         bool
	ParseConfigs      bool
	ExtractSQLite     bool
	ParseSQLDumps     bool

	IncludeRawContent bool
	IncludeChunks     bool
}

// DefaultConfig enables everything with the stock limits
func DefaultConfig() Config {
	return Config{
		MaxFileSize:       52428800,
		ChunkSize:         2000,
		MaxDBRows:         1000,
		ParseDocuments:    true,
		ParseSpreadsheets: true,
		ParseLogs:         true,
		ParseConfigs:      true,
		ExtractSQLite:     true,
		ParseSQLDumps:     true,
		IncludeRawContent: true,
		IncludeChunks:     true,
	}
}

// FileResult is the extraction output for one file
type FileResult struct {
	Path     string    `json:"path"`
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
	Category string    `json:"category"`

	Level  string `json:"extraction_level"`
	Method string `json:"parsing_method,omitempty"`

	Content    string         `json:"content,omitempty"`
	Chunks     []Chunk        `json:"chunks,omitempty"`
	Structured map[string]any `json:"structured,omitempty"`
	Tables     []TableSample  `json:"tables,omitempty"`

	Error string `json:"error,omitempty"`
}

// Stats counts what an extraction run produced
type Stats struct {
	FilesProcessed     int `json:"files_processed"`
	FilesFailed        int `json:"files_failed"`
	ChunksCreated      int `json:"chunks_created"`
	DatabasesExtracted int `json:"databases_extracted"`
	TablesSampled      int `json:"tables_sampled"`
}

// Extractor turns scanned files into structured extraction results
type Extractor struct {
	cfg Config
}

// New builds an Extractor
func New(cfg Config) *Extractor {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 52428800
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 2000
	}
	if cfg.MaxDBRows <= 0 {
		cfg.MaxDBRows = 1000
	}
	return &Extractor{cfg: cfg}
}

// Extract processes one file at the given level. "full_pipeline" and the
// empty level route by category: databases get database extraction,
// text-bearing files get content parsing, the rest metadata only.
func (e *Extractor) Extract(ctx context.Context, file scanner.FileInfo, level string) FileResult {
	result := FileResult{
		Path:     file.Path,
		Name:     file.Name,
		Size:     file.Size,
		Modified: file.Modified,
		Category: file.Category,
		Level:    level,
	}

	if err := ctx.Err(); err != nil {
		result.Error = err.Error()
		return result
	}

	switch level {
	case "metadata_only":
		return result
	case "content_parsing":
		e.extractContent(&result)
	case "database_extraction":
		e.extractDatabase(ctx, &result)
	default:
		// full_pipeline or auto routing
		result.Level = "full_pipeline"
		if file.Category == scanner.CategoryDatabase {
			e.extractDatabase(ctx, &result)
		} else if scanner.Extractable(file.Category) {
			e.extractContent(&result)
		}
	}
	return result
}

// categoryEnabled checks the per-category parsing toggles
func (e *Extractor) categoryEnabled(category string) bool {
	switch category {
	case scanner.CategoryDocument:
		return e.cfg.ParseDocuments
	case scanner.CategorySpreadsheet:
		return e.cfg.ParseSpreadsheets
	case scanner.CategoryLog:
		return e.cfg.ParseLogs
	case scanner.CategoryConfig:
		return e.cfg.ParseConfigs
	}
	return false
}

func (e *Extractor) extractContent(result *FileResult) {
	if !e.categoryEnabled(result.Category) {
		return
	}
	if result.Size > e.cfg.MaxFileSize {
		result.Method = MethodUnsupported
		return
	}

	if result.Category == scanner.CategorySpreadsheet && isDelimited(result.Name) {
		table, err := ReadTable(result.Path, e.cfg.MaxDBRows)
		if err != nil {
			result.Error = err.Error()
			return
		}
		result.Method = MethodCSV
		sample := TableSample{
			Name:     strings.TrimSuffix(result.Name, filepath.Ext(result.Name)),
			Columns:  table.Headers,
			RowCount: len(table.Rows),
		}
		for _, row := range table.Rows {
			m := make(map[string]any, len(table.Headers))
			for i, h := range table.Headers {
				if i < len(row) {
					m[h] = row[i]
				}
			}
			sample.Rows = append(sample.Rows, m)
		}
		result.Tables = append(result.Tables, sample)
		return
	}

	content, err := ParseContent(result.Path, e.cfg.MaxFileSize)
	if err != nil {
		result.Error = err.Error()
		return
	}

	result.Method = content.Method
	result.Structured = content.Structured
	if e.cfg.IncludeRawContent {
		result.Content = content.Text
	}
	if e.cfg.IncludeChunks && content.Text != "" {
		result.Chunks = ChunkText(content.Text, e.cfg.ChunkSize)
	}
}

func isDelimited(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".tsv":
		return true
	}
	return false
}

func (e *Extractor) extractDatabase(ctx context.Context, result *FileResult) {
	ext := strings.ToLower(filepath.Ext(result.Name))

	switch ext {
	case ".db", ".sqlite", ".sqlite3", ".db3":
		if !e.cfg.ExtractSQLite {
			return
		}
		tables, err := ExtractSQLite(ctx, result.Path, e.cfg.MaxDBRows)
		if err != nil {
			result.Error = err.Error()
			return
		}
		result.Method = "sqlite"
		result.Tables = tables
	case ".sql", ".dump":
		if !e.cfg.ParseSQLDumps {
			return
		}
		tables, err := ParseSQLDump(result.Path, e.cfg.MaxFileSize)
		if err != nil {
			result.Error = err.Error()
			return
		}
		result.Method = "sql_dump"
		result.Tables = tables
	default:
		// mdf/ldf/mdb need their engine; inventory only
		result.Method = MethodUnsupported
	}
}

// Tally folds a result into run statistics
func (s *Stats) Tally(result *FileResult) {
	if result.Error != "" {
		s.FilesFailed++
		return
	}
	s.FilesProcessed++
	s.ChunksCreated += len(result.Chunks)
	if len(result.Tables) > 0 && (result.Method == "sqlite" || result.Method == "sql_dump") {
		s.DatabasesExtracted++
	}
	s.TablesSampled += len(result.Tables)
}
