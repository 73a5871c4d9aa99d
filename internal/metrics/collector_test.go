package metrics

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mritsurgeon/veeam-ml/internal/database"
	"github.com/mritsurgeon/veeam-ml/internal/models"
)

func TestDatabaseMetricsCollector(t *testing.T) {
	db, err := database.Initialize(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}
	defer db.Close()

	backup := &models.Backup{
		BackupID: "veeam-1", Name: "vm", Path: "/b", BackupDate: time.Now().UTC(),
		Status: models.BackupMounted, MountPoint: `\\host\VeeamFLR\vm_abc`, OSType: models.OSWindows,
	}
	if err := database.CreateBackup(db, backup); err != nil {
		t.Fatalf("CreateBackup() error: %v", err)
	}

	job := &models.MLJob{
		Name: "j", Algorithm: models.TaskClustering, BackupID: backup.ID,
		DataSourcePath: "data.csv",
	}
	if err := database.CreateMLJob(db, job); err != nil {
		t.Fatalf("CreateMLJob() error: %v", err)
	}

	collector := NewDatabaseMetricsCollector(db)

	reg := prometheus.NewRegistry()
	if err := reg.Register(collector); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	// backups_total, backups_mounted, executions_total, ml_jobs{pending}
	count := testutil.CollectAndCount(collector)
	if count != 4 {
		t.Errorf("collected %d metrics, want 4", count)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}

	values := map[string]float64{}
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			name := family.GetName()
			for _, label := range metric.GetLabel() {
				name += "{" + label.GetValue() + "}"
			}
			values[name] = metric.GetGauge().GetValue()
		}
	}

	if values["veeamml_backups_total"] != 1 {
		t.Errorf("backups_total = %v, want 1", values["veeamml_backups_total"])
	}
	if values["veeamml_backups_mounted"] != 1 {
		t.Errorf("backups_mounted = %v, want 1", values["veeamml_backups_mounted"])
	}
	if values["veeamml_ml_jobs{pending}"] != 1 {
		t.Errorf("ml_jobs{pending} = %v, want 1", values["veeamml_ml_jobs{pending}"])
	}
}
