package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Server
	Port string `yaml:"port"`

	// Storage. ExcelDir and PDFDir default to subdirectories of BaseTempDir
	// when not set explicitly.
	BaseTempDir string `yaml:"base_temp_dir"`
	ExcelDir    string `yaml:"excel_dir"`
	PDFDir      string `yaml:"pdf_dir"`

	// Limits
	MaxUploadBytes      int64 `yaml:"max_upload_bytes"`
	MaxSpreadsheetBytes int64 `yaml:"max_spreadsheet_bytes"`
	MaxMultipartBytes   int64 `yaml:"max_multipart_bytes"`

	// Concurrency
	MaxConcurrentRequests int64 `yaml:"max_concurrent_requests"`

	// Background processing. When disabled the processing pass runs inline
	// in the upload request.
	BackgroundProcessing bool `yaml:"background_processing"`

	// Server timeouts
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`

	// Rate limiting (per IP)
	RateLimitEvery time.Duration `yaml:"rate_limit_every"`
	RateLimitBurst int           `yaml:"rate_limit_burst"`

	// Housekeeping: stored files older than RetentionAge are swept every
	// CleanupInterval.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	RetentionAge    time.Duration `yaml:"retention_age"`

	// Health
	HealthDegradeRatio float64 `yaml:"health_degrade_ratio"`

	// CORS
	AllowedOrigin string `yaml:"allowed_origin"`
}

// Load builds the configuration from an optional YAML file (FACTURASORT_CONFIG)
// with environment variables taking precedence over file values.
func Load() Config {
	cfg := defaults()

	if path := strings.TrimSpace(os.Getenv("FACTURASORT_CONFIG")); path != "" {
		if data, err := os.ReadFile(path); err == nil {
			_ = yaml.Unmarshal(data, &cfg)
		}
	}

	cfg.Port = envStr("PORT", cfg.Port)

	cfg.BaseTempDir = envStr("BASE_TEMP_DIR", cfg.BaseTempDir)
	cfg.ExcelDir = envStr("EXCEL_DIR", cfg.ExcelDir)
	cfg.PDFDir = envStr("PDF_DIR", cfg.PDFDir)

	cfg.MaxUploadBytes = int64(envInt("MAX_UPLOAD_BYTES", int(cfg.MaxUploadBytes)))
	cfg.MaxSpreadsheetBytes = int64(envInt("MAX_SPREADSHEET_BYTES", int(cfg.MaxSpreadsheetBytes)))
	cfg.MaxMultipartBytes = int64(envInt("MAX_MULTIPART_BYTES", int(cfg.MaxMultipartBytes)))

	cfg.MaxConcurrentRequests = int64(envInt("MAX_CONCURRENT_REQUESTS", int(cfg.MaxConcurrentRequests)))
	cfg.BackgroundProcessing = envBool("BACKGROUND_PROCESSING", cfg.BackgroundProcessing)

	cfg.ReadHeaderTimeout = envDur("READ_HEADER_TIMEOUT", cfg.ReadHeaderTimeout)
	cfg.ReadTimeout = envDur("READ_TIMEOUT", cfg.ReadTimeout)
	cfg.WriteTimeout = envDur("WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.IdleTimeout = envDur("IDLE_TIMEOUT", cfg.IdleTimeout)

	cfg.RateLimitEvery = envDur("RATE_LIMIT_EVERY", cfg.RateLimitEvery)
	cfg.RateLimitBurst = envInt("RATE_LIMIT_BURST", cfg.RateLimitBurst)

	cfg.CleanupInterval = envDur("CLEANUP_INTERVAL", cfg.CleanupInterval)
	cfg.RetentionAge = envDur("RETENTION_AGE", cfg.RetentionAge)

	cfg.HealthDegradeRatio = envFloat("HEALTH_DEGRADE_RATIO", cfg.HealthDegradeRatio)

	cfg.AllowedOrigin = envStr("ALLOWED_ORIGIN", cfg.AllowedOrigin)

	if strings.TrimSpace(cfg.ExcelDir) == "" {
		cfg.ExcelDir = filepath.Join(cfg.BaseTempDir, "excel")
	}
	if strings.TrimSpace(cfg.PDFDir) == "" {
		cfg.PDFDir = filepath.Join(cfg.BaseTempDir, "pdf")
	}

	return cfg
}

func defaults() Config {
	return Config{
		Port: "5000",

		BaseTempDir: "temp",

		MaxUploadBytes:      100 << 20,
		MaxSpreadsheetBytes: 20 << 20,
		MaxMultipartBytes:   512 << 20,

		MaxConcurrentRequests: 15,
		BackgroundProcessing:  true,

		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       120 * time.Second,
		WriteTimeout:      180 * time.Second,
		IdleTimeout:       60 * time.Second,

		RateLimitEvery: 600 * time.Millisecond,
		RateLimitBurst: 20,

		CleanupInterval: time.Hour,
		RetentionAge:    time.Hour,

		HealthDegradeRatio: 0.9,

		AllowedOrigin: "*",
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.PDFDir) == "" {
		return fmt.Errorf("pdf_dir must be set")
	}
	if strings.TrimSpace(c.ExcelDir) == "" {
		return fmt.Errorf("excel_dir must be set")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max_upload_bytes must be positive")
	}
	if c.RetentionAge <= 0 {
		return fmt.Errorf("retention_age must be positive")
	}
	return nil
}

func envStr(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return fallback
	}
	return f
}

func envDur(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
