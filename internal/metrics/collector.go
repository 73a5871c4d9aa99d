package metrics

import (
	"database/sql"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

// DatabaseMetricsCollector collects job and backup gauges from the database
// on each scrape
type DatabaseMetricsCollector struct {
	db *sql.DB

	backupsTotal       *prometheus.Desc
	backupsMounted     *prometheus.Desc
	extractionJobs     *prometheus.Desc
	mlJobs             *prometheus.Desc
	executionsRecorded *prometheus.Desc
}

// NewDatabaseMetricsCollector creates a new collector
func NewDatabaseMetricsCollector(db *sql.DB) *DatabaseMetricsCollector {
	return &DatabaseMetricsCollector{
		db: db,
		backupsTotal: prometheus.NewDesc(
			"veeamml_backups_total",
			"Number of backups known to the local database",
			nil, nil,
		),
		backupsMounted: prometheus.NewDesc(
			"veeamml_backups_mounted",
			"Number of backups currently mounted",
			nil, nil,
		),
		extractionJobs: prometheus.NewDesc(
			"veeamml_extraction_jobs",
			"Number of extraction jobs by status",
			[]string{"status"}, nil,
		),
		mlJobs: prometheus.NewDesc(
			"veeamml_ml_jobs",
			"Number of ML jobs by status",
			[]string{"status"}, nil,
		),
		executionsRecorded: prometheus.NewDesc(
			"veeamml_extraction_executions_total",
			"Number of recorded extraction job executions",
			nil, nil,
		),
	}
}

// Describe sends metric descriptors to Prometheus
func (c *DatabaseMetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.backupsTotal
	ch <- c.backupsMounted
	ch <- c.extractionJobs
	ch <- c.mlJobs
	ch <- c.executionsRecorded
}

// Collect fetches current values from the database and sends them to
// Prometheus. Query errors log and report zero so the scrape still succeeds.
func (c *DatabaseMetricsCollector) Collect(ch chan<- prometheus.Metric) {
	var total, mounted int64
	err := c.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN status = 'mounted' THEN 1 ELSE 0 END), 0)
		FROM backups
	`).Scan(&total, &mounted)
	if err != nil {
		slog.Error("failed to query backup metrics", "error", err)
		total, mounted = 0, 0
	}

	ch <- prometheus.MustNewConstMetric(c.backupsTotal, prometheus.GaugeValue, float64(total))
	ch <- prometheus.MustNewConstMetric(c.backupsMounted, prometheus.GaugeValue, float64(mounted))

	c.collectByStatus(ch, c.extractionJobs, "extraction_jobs")
	c.collectByStatus(ch, c.mlJobs, "ml_jobs")

	var executions int64
	if err := c.db.QueryRow(`SELECT COUNT(*) FROM extraction_job_executions`).Scan(&executions); err != nil {
		slog.Error("failed to query execution metrics", "error", err)
		executions = 0
	}
	ch <- prometheus.MustNewConstMetric(c.executionsRecorded, prometheus.GaugeValue, float64(executions))
}

func (c *DatabaseMetricsCollector) collectByStatus(ch chan<- prometheus.Metric, desc *prometheus.Desc, table string) {
	rows, err := c.db.Query(`SELECT status, COUNT(*) FROM ` + table + ` GROUP BY status`)
	if err != nil {
		slog.Error("failed to query job metrics", "table", table, "error", err)
		return
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			slog.Error("failed to scan job metrics", "table", table, "error", err)
			return
		}
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, float64(count), status)
	}
}
