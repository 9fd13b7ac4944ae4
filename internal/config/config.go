// Package config loads labpipe's runtime configuration: defaults, an
// optional YAML overlay, then environment variable overrides (env wins).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds everything the pipeline needs to run end to end.
type Config struct {
	OCRAPIKey     string        `yaml:"ocr_api_key"`
	LLMAPIKey     string        `yaml:"llm_api_key"`
	LLMBaseURL    string        `yaml:"llm_base_url"`
	DatabasePath  string        `yaml:"database_path"`
	StorageBucket string        `yaml:"storage_bucket"`

	// GCSSignAs/GCSSignKeyFile configure V4 signed fetch URLs for the GCS
	// gateway; GCSSignKeyFile holds a PEM or JSON service-account key file
	// readable at startup. Left blank, GCSGateway falls back to unsigned
	// public object URLs.
	GCSSignAs      string `yaml:"gcs_sign_as"`
	GCSSignKeyFile string `yaml:"gcs_sign_key_file"`

	CORSOrigins      []string      `yaml:"cors_origins"`
	OCRModel         string        `yaml:"ocr_model"`
	InsightModel     string        `yaml:"insight_model"`
	UploadDir        string        `yaml:"upload_dir"`
	PipelineDeadline time.Duration `yaml:"-"`
	StuckThreshold   time.Duration `yaml:"-"`
	WatchdogInterval time.Duration `yaml:"-"`

	Listen string `yaml:"listen"`
}

// Default returns the baseline configuration before any overlay is applied.
func Default() *Config {
	return &Config{
		DatabasePath:     "labpipe.db",
		StorageBucket:    "local",
		UploadDir:        "uploads",
		OCRModel:         "ocr-default",
		InsightModel:     "insight-default",
		PipelineDeadline: 10 * time.Minute,
		StuckThreshold:   5 * time.Minute,
		WatchdogInterval: 60 * time.Second,
		Listen:           ":8080",
	}
}

// Load builds the configuration: defaults, then path (if non-empty and the
// file exists), then environment variables. Env always has the final word.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	return cfg, cfg.Validate()
}

func applyEnv(c *Config) {
	if v := os.Getenv("OCR_API_KEY"); v != "" {
		c.OCRAPIKey = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		c.LLMAPIKey = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		c.LLMBaseURL = v
	}
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		c.DatabasePath = v
	}
	if v := os.Getenv("STORAGE_BUCKET"); v != "" {
		c.StorageBucket = v
	}
	if v := os.Getenv("GCS_SIGN_AS_EMAIL"); v != "" {
		c.GCSSignAs = v
	}
	if v := os.Getenv("GCS_SIGN_KEY_FILE"); v != "" {
		c.GCSSignKeyFile = v
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		for i, o := range origins {
			origins[i] = strings.TrimSpace(o)
		}
		c.CORSOrigins = origins
	}
	if v := os.Getenv("OCR_MODEL"); v != "" {
		c.OCRModel = v
	}
	if v := os.Getenv("INSIGHT_MODEL"); v != "" {
		c.InsightModel = v
	}
	if v := os.Getenv("UPLOAD_DIR"); v != "" {
		c.UploadDir = v
	}
	if v := os.Getenv("LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("PIPELINE_DEADLINE_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.PipelineDeadline = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("STUCK_THRESHOLD_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.StuckThreshold = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("WATCHDOG_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.WatchdogInterval = time.Duration(n) * time.Second
		}
	}
}

// Validate checks the fields required for the pipeline to start. Missing
// LLM/OCR credentials are tolerated here (dev/test wiring may use fakes),
// and the agents accept a blank key too: the LLM client then sends its
// requests without an Authorization header.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path is required")
	}
	if c.StorageBucket == "" {
		return fmt.Errorf("storage_bucket is required")
	}
	if c.PipelineDeadline <= 0 {
		return fmt.Errorf("pipeline deadline must be > 0")
	}
	if c.StuckThreshold <= 0 {
		return fmt.Errorf("stuck threshold must be > 0")
	}
	return nil
}
