package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadWithNoOverlayUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DatabasePath != "labpipe.db" {
		t.Errorf("database_path = %q", cfg.DatabasePath)
	}
	if cfg.StorageBucket != "local" {
		t.Errorf("storage_bucket = %q, want default \"local\"", cfg.StorageBucket)
	}
}

func TestLoadMissingOverlayPathIsNotAnError(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err != nil {
		t.Fatalf("Load with nonexistent overlay path should not error: %v", err)
	}
}

func TestEnvOverridesOverlay(t *testing.T) {
	overlay := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(overlay, []byte("database_path: from-yaml.db\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	t.Setenv("DATABASE_PATH", "from-env.db")

	cfg, err := Load(overlay)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DatabasePath != "from-env.db" {
		t.Errorf("database_path = %q, want env to win over yaml", cfg.DatabasePath)
	}
}

func TestEnvCORSOriginsSplitsOnComma(t *testing.T) {
	t.Setenv("CORS_ORIGINS", "https://a.example.com, https://b.example.com")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []string{"https://a.example.com", "https://b.example.com"}
	if len(cfg.CORSOrigins) != len(want) {
		t.Fatalf("CORSOrigins = %v, want %v", cfg.CORSOrigins, want)
	}
	for i := range want {
		if cfg.CORSOrigins[i] != want[i] {
			t.Errorf("CORSOrigins[%d] = %q, want %q", i, cfg.CORSOrigins[i], want[i])
		}
	}
}

func TestYamlOverlayAppliesWhenNoEnvOverride(t *testing.T) {
	overlay := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(overlay, []byte("storage_bucket: my-gcs-bucket\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(overlay)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StorageBucket != "my-gcs-bucket" {
		t.Errorf("storage_bucket = %q", cfg.StorageBucket)
	}
}
