package models

import "time"

// Backup status values
const (
	BackupAvailable  = "available"
	BackupMounted    = "mounted"
	BackupProcessing = "processing"
	BackupError      = "error"
)

// OS types detected from restore point metadata
const (
	OSWindows = "windows"
	OSLinux   = "linux"
	OSUnknown = "unknown"
)

// Backup represents a Veeam backup known to the local database
type Backup struct {
	ID         int64
	BackupID   string // Veeam object ID
	Name       string
	Path       string
	MountPoint string // UNC path while mounted, empty otherwise
	BackupDate time.Time
	Size       *int64 // nullable - nil when the server doesn't report a size
	Status     string
	OSType     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// BackupResponse is the JSON shape returned for a backup record
type BackupResponse struct {
	ID         int64     `json:"id"`
	BackupID   string    `json:"backup_id"`
	Name       string    `json:"backup_name"`
	Path       string    `json:"backup_path"`
	MountPoint string    `json:"mount_point,omitempty"`
	BackupDate time.Time `json:"backup_date"`
	Size       *int64    `json:"backup_size"`
	Status     string    `json:"status"`
	OSType     string    `json:"os_type"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Response converts a Backup to its JSON representation
func (b *Backup) Response() BackupResponse {
	return BackupResponse{
		ID:         b.ID,
		BackupID:   b.BackupID,
		Name:       b.Name,
		Path:       b.Path,
		MountPoint: b.MountPoint,
		BackupDate: b.BackupDate,
		Size:       b.Size,
		Status:     b.Status,
		OSType:     b.OSType,
		CreatedAt:  b.CreatedAt,
		UpdatedAt:  b.UpdatedAt,
	}
}

// ErrorResponse is the JSON error response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse is the JSON response for the health check endpoint
type HealthResponse struct {
	Status         string `json:"status"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
	TotalBackups   int    `json:"total_backups"`
	MountedBackups int    `json:"mounted_backups"`
	VeeamConnected bool   `json:"veeam_connected"`
	ActiveJobs     int    `json:"active_jobs"`
}
