package config

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// Config holds all application configuration
type Config struct {
	Port   string
	DBPath string

	// Veeam Backup & Replication server connection
	VeeamURL           string // e.g. https://vbr.example.com:9419 (optional, can be set via API)
	VeeamUsername      string
	VeeamPassword      string
	VeeamAPIVersion    string // x-api-version header value
	VeeamSkipTLSVerify bool   // VBR ships with a self-signed certificate by default
	VeeamMountHost     string // Host exposing the VeeamFLR share; defaults to the API host

	// Mounted-volume scanning
	ScanRoot     string // Optional prefix mapping UNC paths to a local mount directory
	ScanMaxDepth int

	// Extraction
	MaxFileSize     int64 // Files above this size only get metadata extraction
	ChunkSize       int   // Words per text chunk
	MaxDBRows       int   // Sampled rows per extracted database table
	MaxWorkers      int   // Parallel file workers per extraction job
	ResultsDir      string
	EncryptionKey   string // Optional: 64 hex chars, encrypts stored Veeam credentials
	CredentialsSalt string

	// Optional S3 export of job results
	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3PathStyle       bool

	ReconcileIntervalMinutes int

	// CORS for the browser UI when served from another origin
	CORSAllowedOrigins []string
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:   getEnv("PORT", "8080"),
		DBPath: getEnv("DB_PATH", "./veeamml.db"),

		VeeamURL:           strings.TrimSuffix(getEnv("VEEAM_URL", ""), "/"),
		VeeamUsername:      getEnv("VEEAM_USERNAME", ""),
		VeeamPassword:      getEnv("VEEAM_PASSWORD", ""),
		VeeamAPIVersion:    getEnv("VEEAM_API_VERSION", "1.2-rev0"),
		VeeamSkipTLSVerify: getEnvBool("VEEAM_SKIP_TLS_VERIFY", true),
		VeeamMountHost:     getEnv("VEEAM_MOUNT_HOST", ""),

		ScanRoot:     getEnv("SCAN_ROOT", ""),
		ScanMaxDepth: getEnvInt("SCAN_MAX_DEPTH", 3),

		MaxFileSize:     getEnvInt64("MAX_FILE_SIZE", 52428800), // 50MB default
		ChunkSize:       getEnvInt("CHUNK_SIZE", 2000),
		MaxDBRows:       getEnvInt("MAX_DB_ROWS", 1000),
		MaxWorkers:      getEnvInt("MAX_WORKERS", 4),
		ResultsDir:      getEnv("RESULTS_DIR", "./results"),
		EncryptionKey:   getEnv("ENCRYPTION_KEY", ""),
		CredentialsSalt: getEnv("CREDENTIALS_SALT", "veeam-ml"),

		S3Bucket:          getEnv("S3_BUCKET", ""),
		S3Region:          getEnv("S3_REGION", ""),
		S3Endpoint:        getEnv("S3_ENDPOINT", ""),
		S3AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
		S3SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
		S3PathStyle:       getEnvBool("S3_PATH_STYLE", false),

		ReconcileIntervalMinutes: getEnvInt("RECONCILE_INTERVAL_MINUTES", 15),

		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", "*"),
	}

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// validate ensures configuration values are sensible
func (c *Config) validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}

	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}

	if c.VeeamURL != "" {
		u, err := url.Parse(c.VeeamURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("VEEAM_URL must be an http(s) URL, got %q", c.VeeamURL)
		}
	}

	if c.ScanMaxDepth <= 0 {
		return fmt.Errorf("SCAN_MAX_DEPTH must be positive, got %d", c.ScanMaxDepth)
	}

	if c.MaxFileSize <= 0 {
		return fmt.Errorf("MAX_FILE_SIZE must be positive, got %d", c.MaxFileSize)
	}

	if c.ChunkSize <= 0 {
		return fmt.Errorf("CHUNK_SIZE must be positive, got %d", c.ChunkSize)
	}

	if c.MaxDBRows <= 0 {
		return fmt.Errorf("MAX_DB_ROWS must be positive, got %d", c.MaxDBRows)
	}

	if c.MaxWorkers <= 0 {
		return fmt.Errorf("MAX_WORKERS must be positive, got %d", c.MaxWorkers)
	}

	if c.ReconcileIntervalMinutes <= 0 {
		return fmt.Errorf("RECONCILE_INTERVAL_MINUTES must be positive, got %d", c.ReconcileIntervalMinutes)
	}

	// Validate encryption key if provided (must be 64 hex characters = 32 bytes for AES-256)
	if c.EncryptionKey != "" {
		if len(c.EncryptionKey) != 64 {
			return fmt.Errorf("ENCRYPTION_KEY must be exactly 64 hexadecimal characters (32 bytes), got %d", len(c.EncryptionKey))
		}
		if _, err := hex.DecodeString(c.EncryptionKey); err != nil {
			return fmt.Errorf("ENCRYPTION_KEY must contain only hexadecimal characters (0-9, a-f, A-F)")
		}
	}

	return nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvInt64 retrieves an int64 environment variable or returns a default value
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvList retrieves a comma-separated list from environment variable
func getEnvList(key, defaultValue string) []string {
	value := getEnv(key, defaultValue)
	if value == "" {
		return []string{}
	}

	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))

	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
