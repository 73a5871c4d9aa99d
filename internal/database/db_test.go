package database

import (
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
)

// setupTestDB creates an in-memory SQLite database for testing
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}

	// Force single connection for in-memory databases
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		t.Fatalf("failed to enable foreign keys: %v", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func TestInitialize(t *testing.T) {
	dbPath := t.TempDir() + "/test.db"

	db, err := Initialize(dbPath)
	if err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}
	defer db.Close()

	// Schema should be queryable
	tables := []string{"backups", "ml_jobs", "extraction_jobs", "extraction_job_executions", "extraction_job_templates", "settings"}
	for _, table := range tables {
		var count int
		if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count); err != nil {
			t.Errorf("table %s not created: %v", table, err)
		}
	}

	// Initialize again should be idempotent
	db2, err := Initialize(dbPath)
	if err != nil {
		t.Fatalf("second Initialize() error: %v", err)
	}
	db2.Close()
}
