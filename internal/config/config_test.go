package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.DBType != "sqlite" {
		t.Errorf("DBType = %q, want sqlite", cfg.DBType)
	}
	if cfg.PollInterval != 10*time.Second {
		t.Errorf("PollInterval = %v, want 10s", cfg.PollInterval)
	}
	if cfg.BackgroundInterval != 300*time.Second {
		t.Errorf("BackgroundInterval = %v, want 5m", cfg.BackgroundInterval)
	}
	if cfg.RescanInterval != 7*24*time.Hour {
		t.Errorf("RescanInterval = %v, want 168h", cfg.RescanInterval)
	}
	if cfg.SyftTimeout <= cfg.GrypeTimeout {
		t.Errorf("SyftTimeout (%v) should be longer than GrypeTimeout (%v)", cfg.SyftTimeout, cfg.GrypeTimeout)
	}
	if cfg.S3SBOMBucket != "sboms" || cfg.S3VulnBucket != "vulnerabilities" {
		t.Errorf("unexpected bucket defaults: %q, %q", cfg.S3SBOMBucket, cfg.S3VulnBucket)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("POLL_INTERVAL", "2")
	t.Setenv("RESCAN_INTERVAL_DAYS", "14")
	t.Setenv("SEED_QUEUE", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.PollInterval != 2*time.Second {
		t.Errorf("PollInterval = %v, want 2s", cfg.PollInterval)
	}
	if cfg.RescanInterval != 14*24*time.Hour {
		t.Errorf("RescanInterval = %v, want 336h", cfg.RescanInterval)
	}
	if cfg.SeedQueue {
		t.Error("SeedQueue should be false")
	}
}

func TestLoadCloudSQLRequiresConnectionSettings(t *testing.T) {
	t.Setenv("DB_TYPE", "cloudsql")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for cloudsql without connection settings")
	}

	t.Setenv("DB_INSTANCE_CONNECTION_NAME", "proj:region:instance")
	t.Setenv("DB_USER", "worker")
	t.Setenv("DB_NAME", "snapscope")

	if _, err := Load(); err != nil {
		t.Fatalf("Load() returned error with full cloudsql settings: %v", err)
	}
}

func TestLoadRejectsUnknownDBType(t *testing.T) {
	t.Setenv("DB_TYPE", "oracle")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unsupported DB_TYPE")
	}
}
