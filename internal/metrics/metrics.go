package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counter metrics (monotonically increasing)
var (
	// MountsTotal counts restore point mount attempts by mechanism and status
	MountsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veeamml_mounts_total",
			Help: "Total number of restore point mount attempts",
		},
		[]string{"type", "status"},
	)

	// UnmountsTotal counts unmount attempts by status
	UnmountsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veeamml_unmounts_total",
			Help: "Total number of restore point unmount attempts",
		},
		[]string{"status"},
	)

	// ScansTotal counts filesystem scans of mounted backups
	ScansTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "veeamml_scans_total",
			Help: "Total number of filesystem scans over mounted backups",
		},
	)

	// ExtractionRunsTotal counts extraction job runs by terminal status
	ExtractionRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veeamml_extraction_runs_total",
			Help: "Total number of extraction job runs",
		},
		[]string{"status"},
	)

	// MLRunsTotal counts ML job runs by algorithm and terminal status
	MLRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veeamml_ml_runs_total",
			Help: "Total number of ML job runs",
		},
		[]string{"algorithm", "status"},
	)

	// VeeamRequestsTotal counts requests to the Veeam REST API by status
	VeeamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veeamml_veeam_requests_total",
			Help: "Total number of Veeam REST API requests",
		},
		[]string{"status"},
	)

	// HTTPRequestsTotal counts total HTTP requests by method, path, and status code
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veeamml_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// ErrorsTotal counts application errors by type
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veeamml_errors_total",
			Help: "Total number of application errors",
		},
		[]string{"type"},
	)
)

// Histogram metrics (distributions)
var (
	// HTTPRequestDuration tracks HTTP request latency by method and path
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "veeamml_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "path"},
	)

	// MountDuration tracks how long restore point mounts take to become ready
	MountDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "veeamml_mount_duration_seconds",
			Help:    "Time from mount request to browsable share in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	// ExtractionFilesProcessed tracks files processed per extraction run
	ExtractionFilesProcessed = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "veeamml_extraction_files_processed",
			Help:    "Distribution of files processed per extraction run",
			Buckets: []float64{1, 10, 100, 1000, 10000, 100000},
		},
	)

	// MLRunDuration tracks ML run time by algorithm
	MLRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "veeamml_ml_run_duration_seconds",
			Help:    "ML run time in seconds",
			Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 300, 600},
		},
		[]string{"algorithm"},
	)
)

// Gauge metrics reading live state
var (
	// VeeamConnected reports whether the Veeam API session is authenticated
	VeeamConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "veeamml_veeam_connected",
			Help: "Whether the Veeam API session is authenticated (0 or 1)",
		},
	)

	// ActiveMountSessions reports the number of tracked restore sessions
	ActiveMountSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "veeamml_active_mount_sessions",
			Help: "Number of tracked restore sessions",
		},
	)
)
