package scanner

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// File categories used for filtering and extraction routing
const (
	CategoryDocument    = "document"
	CategorySpreadsheet = "spreadsheet"
	CategoryDatabase    = "database"
	CategoryLog         = "log"
	CategoryConfig      = "config"
	CategoryArchive     = "archive"
	CategoryMedia       = "media"
	CategoryExecutable  = "executable"
	CategoryOther       = "other"
)

// categoryByExt maps lowercase extensions to a category
var categoryByExt = map[string]string{
	".txt": CategoryDocument, ".md": CategoryDocument, ".rtf": CategoryDocument,
	".doc": CategoryDocument, ".docx": CategoryDocument, ".odt": CategoryDocument,
	".pdf": CategoryDocument, ".ppt": CategoryDocument, ".pptx": CategoryDocument,
	".html": CategoryDocument, ".htm": CategoryDocument,

	".csv": CategorySpreadsheet, ".tsv": CategorySpreadsheet,
	".xls": CategorySpreadsheet, ".xlsx": CategorySpreadsheet, ".ods": CategorySpreadsheet,

	".db": CategoryDatabase, ".sqlite": CategoryDatabase, ".sqlite3": CategoryDatabase,
	".db3": CategoryDatabase, ".sql": CategoryDatabase, ".dump": CategoryDatabase,
	".mdf": CategoryDatabase, ".ldf": CategoryDatabase, ".mdb": CategoryDatabase,

	".log": CategoryLog, ".evtx": CategoryLog, ".evt": CategoryLog, ".etl": CategoryLog,

	".ini": CategoryConfig, ".conf": CategoryConfig, ".cfg": CategoryConfig,
	".json": CategoryConfig, ".xml": CategoryConfig, ".yaml": CategoryConfig,
	".yml": CategoryConfig, ".toml": CategoryConfig, ".properties": CategoryConfig,
	".env": CategoryConfig, ".reg": CategoryConfig,

	".zip": CategoryArchive, ".tar": CategoryArchive, ".gz": CategoryArchive,
	".7z": CategoryArchive, ".rar": CategoryArchive, ".bz2": CategoryArchive,

	".jpg": CategoryMedia, ".jpeg": CategoryMedia, ".png": CategoryMedia,
	".gif": CategoryMedia, ".bmp": CategoryMedia, ".mp3": CategoryMedia,
	".mp4": CategoryMedia, ".avi": CategoryMedia, ".mov": CategoryMedia,

	".exe": CategoryExecutable, ".dll": CategoryExecutable, ".sys": CategoryExecutable,
	".msi": CategoryExecutable, ".so": CategoryExecutable, ".bin": CategoryExecutable,
}

// Classify maps a file name to its category by extension
func Classify(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if category, ok := categoryByExt[ext]; ok {
		return category
	}
	return CategoryOther
}

// Extractable reports whether content extraction knows what to do with the
// category. Archives, media and executables are inventoried but not parsed.
func Extractable(category string) bool {
	switch category {
	case CategoryDocument, CategorySpreadsheet, CategoryDatabase, CategoryLog, CategoryConfig:
		return true
	}
	return false
}

// FileInfo describes one file found during a scan
type FileInfo struct {
	Path      string    `json:"path"`
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	Modified  time.Time `json:"modified"`
	Category  string    `json:"category"`
	MimeType  string    `json:"mime_type,omitempty"`
	Depth     int       `json:"depth"`
	Directory bool      `json:"directory"`
}

// Stats aggregates a scan run
type Stats struct {
	FilesFound  int            `json:"files_found"`
	DirsVisited int            `json:"dirs_visited"`
	TotalSize   int64          `json:"total_size"`
	SkippedDirs int            `json:"skipped_dirs"`
	ByCategory  map[string]int `json:"by_category"`
	DurationMS  int64          `json:"duration_ms"`
	TruncatedAt int            `json:"truncated_at,omitempty"`
}

// Options controls a scan
type Options struct {
	MaxDepth  int   // 0 means just the root directory
	MaxFiles  int   // 0 means unlimited
	SniffMime bool  // detect content type for extension-less files
	MinSize   int64 // skip files smaller than this
	MaxSize   int64 // 0 means unlimited; larger files are still listed, callers decide
}

// Scanner walks mounted backup content
type Scanner struct {
	opts Options
}

// New builds a Scanner
func New(opts Options) *Scanner {
	return &Scanner{opts: opts}
}

// Scan walks root up to MaxDepth levels deep and returns the files found.
// Directories that cannot be read are counted and skipped, not fatal: SMB
// mounts routinely deny access to system folders.
func (s *Scanner) Scan(ctx context.Context, root string) ([]FileInfo, *Stats, error) {
	start := time.Now()
	stats := &Stats{ByCategory: make(map[string]int)}

	var files []FileInfo
	err := s.walk(ctx, root, 0, &files, stats)
	if err != nil {
		return nil, nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	stats.DurationMS = time.Since(start).Milliseconds()
	return files, stats, nil
}

func (s *Scanner) walk(ctx context.Context, dir string, depth int, files *[]FileInfo, stats *Stats) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.opts.MaxFiles > 0 && stats.FilesFound >= s.opts.MaxFiles {
		stats.TruncatedAt = s.opts.MaxFiles
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		stats.SkippedDirs++
		slog.Debug("skipping unreadable directory", "path", dir, "error", err)
		return nil
	}
	stats.DirsVisited++

	for _, entry := range entries {
		if s.opts.MaxFiles > 0 && stats.FilesFound >= s.opts.MaxFiles {
			stats.TruncatedAt = s.opts.MaxFiles
			return nil
		}

		path := filepath.Join(dir, entry.Name())

		if entry.IsDir() {
			if depth < s.opts.MaxDepth {
				if err := s.walk(ctx, path, depth+1, files, stats); err != nil {
					return err
				}
			}
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}
		if s.opts.MinSize > 0 && info.Size() < s.opts.MinSize {
			continue
		}

		fi := FileInfo{
			Path:     path,
			Name:     entry.Name(),
			Size:     info.Size(),
			Modified: info.ModTime(),
			Category: Classify(entry.Name()),
			Depth:    depth,
		}

		if s.opts.SniffMime && fi.Category == CategoryOther {
			if mime, err := mimetype.DetectFile(path); err == nil {
				fi.MimeType = mime.String()
				fi.Category = categoryFromMime(mime)
			}
		}

		*files = append(*files, fi)
		stats.FilesFound++
		stats.TotalSize += fi.Size
		stats.ByCategory[fi.Category]++
	}
	return nil
}

// categoryFromMime maps a sniffed content type to a category for files
// whose extension said nothing
func categoryFromMime(mime *mimetype.MIME) string {
	switch {
	case mime.Is("application/x-sqlite3"):
		return CategoryDatabase
	case mime.Is("text/html"), mime.Is("application/pdf"):
		return CategoryDocument
	case mime.Is("text/csv"), mime.Is("text/tab-separated-values"):
		return CategorySpreadsheet
	case mime.Is("application/json"), mime.Is("text/xml"):
		return CategoryConfig
	case strings.HasPrefix(mime.String(), "text/"):
		return CategoryDocument
	case strings.HasPrefix(mime.String(), "image/"),
		strings.HasPrefix(mime.String(), "audio/"),
		strings.HasPrefix(mime.String(), "video/"):
		return CategoryMedia
	case mime.Is("application/zip"), mime.Is("application/x-tar"), mime.Is("application/gzip"):
		return CategoryArchive
	case mime.Is("application/x-executable"), mime.Is("application/vnd.microsoft.portable-executable"):
		return CategoryExecutable
	}
	return CategoryOther
}

// FilterCategories maps a job file-type filter to the categories it keeps.
// Nil means keep everything.
func FilterCategories(filter string) map[string]bool {
	switch filter {
	case "documents_only":
		return map[string]bool{CategoryDocument: true, CategorySpreadsheet: true}
	case "databases_only":
		return map[string]bool{CategoryDatabase: true}
	case "logs_only":
		return map[string]bool{CategoryLog: true}
	case "config_only":
		return map[string]bool{CategoryConfig: true}
	}
	return nil
}

// Filter keeps files matching the job filter. Custom extension lists
// override categories.
func Filter(files []FileInfo, filter string, customExts []string) []FileInfo {
	if filter == "custom" && len(customExts) > 0 {
		allowed := make(map[string]bool, len(customExts))
		for _, ext := range customExts {
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			allowed[strings.ToLower(ext)] = true
		}
		var out []FileInfo
		for _, f := range files {
			if allowed[strings.ToLower(filepath.Ext(f.Name))] {
				out = append(out, f)
			}
		}
		return out
	}

	categories := FilterCategories(filter)
	if categories == nil {
		return files
	}
	var out []FileInfo
	for _, f := range files {
		if categories[f.Category] {
			out = append(out, f)
		}
	}
	return out
}
