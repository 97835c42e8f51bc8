package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every environment-derived setting for the worker. It is built
// once at startup and passed explicitly into constructors; nothing reads the
// environment after Load returns.
type Config struct {
	// Database settings.
	DBType                   string // "sqlite" or "cloudsql"
	DBPath                   string
	DBInstanceConnectionName string
	DBUser                   string
	DBPassword               string
	DBName                   string

	// Object store settings.
	S3Endpoint   string
	S3AccessKey  string
	S3SecretKey  string
	S3UseSSL     bool
	S3SBOMBucket string
	S3VulnBucket string

	// Snap store catalog.
	SnapStoreAPI string

	// Worker scheduling.
	PollInterval       time.Duration
	BackgroundInterval time.Duration
	RescanInterval     time.Duration

	// Tool deadlines. SBOM generation is the heavier step and gets the
	// longer budget.
	SyftTimeout  time.Duration
	GrypeTimeout time.Duration

	// HTTP surface.
	ListenAddr string

	// Seed the queue with popular snaps when the package table is empty.
	SeedQueue bool
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if out, err := strconv.Atoi(v); err == nil {
			return out
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if out, err := strconv.ParseBool(v); err == nil {
			return out
		}
	}
	return def
}

// Load builds a Config from the environment, applying defaults for anything
// unset. It returns an error when a required setting is missing for the
// selected database type.
func Load() (*Config, error) {
	cfg := &Config{
		DBType:                   getenv("DB_TYPE", "sqlite"),
		DBPath:                   getenv("DB_PATH", "./data/snapscope.db"),
		DBInstanceConnectionName: os.Getenv("DB_INSTANCE_CONNECTION_NAME"),
		DBUser:                   os.Getenv("DB_USER"),
		DBPassword:               os.Getenv("DB_PASSWORD"),
		DBName:                   os.Getenv("DB_NAME"),

		S3Endpoint:   getenv("S3_ENDPOINT", "localhost:9000"),
		S3AccessKey:  getenv("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:  getenv("S3_SECRET_KEY", "minioadmin"),
		S3UseSSL:     getenvBool("S3_USE_SSL", false),
		S3SBOMBucket: getenv("S3_SBOM_BUCKET", "sboms"),
		S3VulnBucket: getenv("S3_VULN_BUCKET", "vulnerabilities"),

		SnapStoreAPI: getenv("SNAP_STORE_API", "https://api.snapcraft.io/v2"),

		PollInterval:       time.Duration(getenvInt("POLL_INTERVAL", 10)) * time.Second,
		BackgroundInterval: time.Duration(getenvInt("BACKGROUND_INTERVAL", 300)) * time.Second,
		RescanInterval:     time.Duration(getenvInt("RESCAN_INTERVAL_DAYS", 7)) * 24 * time.Hour,

		SyftTimeout:  time.Duration(getenvInt("SYFT_TIMEOUT", 600)) * time.Second,
		GrypeTimeout: time.Duration(getenvInt("GRYPE_TIMEOUT", 300)) * time.Second,

		ListenAddr: getenv("LISTEN_ADDR", ":8080"),
		SeedQueue:  getenvBool("SEED_QUEUE", true),
	}

	switch cfg.DBType {
	case "sqlite":
		if cfg.DBPath == "" {
			return nil, fmt.Errorf("DB_PATH is required for sqlite")
		}
	case "cloudsql":
		if cfg.DBInstanceConnectionName == "" || cfg.DBUser == "" || cfg.DBName == "" {
			return nil, fmt.Errorf("DB_INSTANCE_CONNECTION_NAME, DB_USER and DB_NAME are required for cloudsql")
		}
	default:
		return nil, fmt.Errorf("unsupported DB_TYPE: %s", cfg.DBType)
	}

	return cfg, nil
}
