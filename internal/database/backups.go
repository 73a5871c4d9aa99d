package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/mritsurgeon/veeam-ml/internal/models"
)

// parseTime handles both the RFC3339 strings written by the driver and the
// "2006-01-02 15:04:05" form produced by CURRENT_TIMESTAMP defaults.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", s)
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateBackup inserts a new backup record into the database
func CreateBackup(db *sql.DB, backup *models.Backup) error {
	now := time.Now().UTC()
	backup.CreatedAt = now
	backup.UpdatedAt = now

	query := `
		INSERT INTO backups (
			backup_id, backup_name, backup_path, mount_point,
			backup_date, backup_size, status, os_type, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := db.Exec(
		query,
		backup.BackupID,
		backup.Name,
		backup.Path,
		backup.MountPoint,
		backup.BackupDate,
		backup.Size,
		backup.Status,
		backup.OSType,
		backup.CreatedAt,
		backup.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert backup: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	backup.ID = id
	return nil
}

func scanBackup(row interface{ Scan(...any) error }) (*models.Backup, error) {
	backup := &models.Backup{}
	var mountPoint sql.NullString
	var size sql.NullInt64
	var backupDate, createdAt, updatedAt string

	err := row.Scan(
		&backup.ID,
		&backup.BackupID,
		&backup.Name,
		&backup.Path,
		&mountPoint,
		&backupDate,
		&size,
		&backup.Status,
		&backup.OSType,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	backup.MountPoint = mountPoint.String
	if size.Valid {
		backup.Size = &size.Int64
	}

	if backup.BackupDate, err = parseTime(backupDate); err != nil {
		return nil, fmt.Errorf("failed to parse backup_date: %w", err)
	}
	if backup.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if backup.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}

	return backup, nil
}

const backupColumns = `
	id, backup_id, backup_name, backup_path, mount_point,
	backup_date, backup_size, status, os_type, created_at, updated_at
`

// GetBackup retrieves a backup record by local ID.
// Returns nil if not found.
func GetBackup(db *sql.DB, id int64) (*models.Backup, error) {
	row := db.QueryRow(`SELECT `+backupColumns+` FROM backups WHERE id = ?`, id)

	backup, err := scanBackup(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query backup: %w", err)
	}
	return backup, nil
}

// GetBackupByVeeamID retrieves a backup record by its Veeam object ID.
// Returns nil if not found.
func GetBackupByVeeamID(db *sql.DB, backupID string) (*models.Backup, error) {
	row := db.QueryRow(`SELECT `+backupColumns+` FROM backups WHERE backup_id = ?`, backupID)

	backup, err := scanBackup(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query backup: %w", err)
	}
	return backup, nil
}

// ListBackups returns all backup records ordered by backup date, newest first
func ListBackups(db *sql.DB) ([]*models.Backup, error) {
	rows, err := db.Query(`SELECT ` + backupColumns + ` FROM backups ORDER BY backup_date DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query backups: %w", err)
	}
	defer rows.Close()

	var backups []*models.Backup
	for rows.Next() {
		backup, err := scanBackup(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan backup: %w", err)
		}
		backups = append(backups, backup)
	}
	return backups, rows.Err()
}

// ListBackupsByStatus returns all backup records with the given status
func ListBackupsByStatus(db *sql.DB, status string) ([]*models.Backup, error) {
	rows, err := db.Query(`SELECT `+backupColumns+` FROM backups WHERE status = ? ORDER BY backup_date DESC`, status)
	if err != nil {
		return nil, fmt.Errorf("failed to query backups: %w", err)
	}
	defer rows.Close()

	var backups []*models.Backup
	for rows.Next() {
		backup, err := scanBackup(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan backup: %w", err)
		}
		backups = append(backups, backup)
	}
	return backups, rows.Err()
}

// UpdateBackupStatus updates a backup's status and mount point
func UpdateBackupStatus(db *sql.DB, id int64, status, mountPoint string) error {
	_, err := db.Exec(
		`UPDATE backups SET status = ?, mount_point = ?, updated_at = ? WHERE id = ?`,
		status, mountPoint, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update backup status: %w", err)
	}
	return nil
}

// UpdateBackupOSType updates a backup's detected OS type
func UpdateBackupOSType(db *sql.DB, id int64, osType string) error {
	_, err := db.Exec(
		`UPDATE backups SET os_type = ?, updated_at = ? WHERE id = ?`,
		osType, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update backup os type: %w", err)
	}
	return nil
}

// UpsertBackup inserts a backup or refreshes its name, path, date and size
// when a record with the same Veeam ID already exists. Mount state is left
// alone so a sync never clobbers an active mount.
func UpsertBackup(db *sql.DB, backup *models.Backup) error {
	existing, err := GetBackupByVeeamID(db, backup.BackupID)
	if err != nil {
		return err
	}
	if existing == nil {
		return CreateBackup(db, backup)
	}

	_, err = db.Exec(
		`UPDATE backups SET backup_name = ?, backup_path = ?, backup_date = ?, backup_size = ?, updated_at = ? WHERE id = ?`,
		backup.Name, backup.Path, backup.BackupDate, backup.Size, time.Now().UTC(), existing.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update backup: %w", err)
	}

	backup.ID = existing.ID
	backup.Status = existing.Status
	backup.MountPoint = existing.MountPoint
	return nil
}

// ClearStaleMounts resets every backup marked mounted whose Veeam ID is not
// in the given set of live session backup IDs. Used at startup and after
// reconciliation to drop mounts that no longer exist on the server.
func ClearStaleMounts(db *sql.DB, liveBackupIDs map[string]bool) (int, error) {
	backups, err := ListBackupsByStatus(db, models.BackupMounted)
	if err != nil {
		return 0, err
	}

	cleared := 0
	for _, b := range backups {
		if liveBackupIDs[b.BackupID] {
			continue
		}
		if err := UpdateBackupStatus(db, b.ID, models.BackupAvailable, ""); err != nil {
			return cleared, err
		}
		cleared++
	}
	return cleared, nil
}

// CountBackups returns the total number of backups and how many are mounted
func CountBackups(db *sql.DB) (total int, mounted int, err error) {
	err = db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(CASE WHEN status = 'mounted' THEN 1 ELSE 0 END), 0) FROM backups`).
		Scan(&total, &mounted)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count backups: %w", err)
	}
	return total, mounted, nil
}

// DeleteBackup removes a backup record and its jobs (via cascade)
func DeleteBackup(db *sql.DB, id int64) error {
	_, err := db.Exec(`DELETE FROM backups WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete backup: %w", err)
	}
	return nil
}
