// Package config loads the control plane's configuration from environment
// variables, following the teacher's single-struct, defaults-applied-per-
// field loading style (internal/config.Load in the reference application).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the fully-resolved runtime configuration, per spec.md §6
// "Environment variables recognised".
type Config struct {
	Host string
	Port int

	DataDir     string
	HostDataDir string

	ImportDir     string
	HostImportDir string

	DockerHost string

	MaxBackupsPerType int
	AutoBackupOnStop  bool

	LogLevel  string
	LogPretty bool

	Offsite OffsiteConfig
}

// OffsiteConfig configures the optional S3-compatible backup mirror
// (SPEC_FULL.md "Supplemented feature: offsite backup mirror").
type OffsiteConfig struct {
	Enabled         bool
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
}

// Load reads configuration from the environment (loading a .env file from
// the working directory first, if present; a missing .env is not an error).
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getenv("DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	hostDataDir := getenv("HOST_DATA_DIR", absDataDir)

	importDir := getenv("IMPORT_DIR", filepath.Join(absDataDir, "import"))
	hostImportDir := getenv("HOST_IMPORT_DIR", importDir)

	port, err := strconv.Atoi(getenv("PORT", "3001"))
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}

	maxBackups, err := strconv.Atoi(getenv("MAX_BACKUPS_PER_TYPE", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_BACKUPS_PER_TYPE: %w", err)
	}

	return &Config{
		Host: getenv("HOST", "0.0.0.0"),
		Port: port,

		DataDir:     absDataDir,
		HostDataDir: hostDataDir,

		ImportDir:     importDir,
		HostImportDir: hostImportDir,

		DockerHost: os.Getenv("DOCKER_HOST"),

		MaxBackupsPerType: maxBackups,
		AutoBackupOnStop:  getbool("AUTO_BACKUP_ON_STOP", true),

		LogLevel:  getenv("LOG_LEVEL", "info"),
		LogPretty: getbool("LOG_PRETTY", false),

		Offsite: OffsiteConfig{
			Enabled:         getbool("OFFSITE_BACKUP_ENABLED", false),
			AccountID:       os.Getenv("OFFSITE_ACCOUNT_ID"),
			AccessKeyID:     os.Getenv("OFFSITE_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("OFFSITE_SECRET_ACCESS_KEY"),
			Bucket:          os.Getenv("OFFSITE_BUCKET"),
		},
	}, nil
}

// ServersDir is the root directory under which every managed server's data
// lives (<data>/servers).
func (c *Config) ServersDir() string { return filepath.Join(c.DataDir, "servers") }

// TemplatesDir is the directory template documents are loaded from
// (<data>/templates).
func (c *Config) TemplatesDir() string { return filepath.Join(c.DataDir, "templates") }

// BackupsDir is the root directory backup archives are stored under
// (<data>/backups).
func (c *Config) BackupsDir() string { return filepath.Join(c.DataDir, "backups") }

// LogsDir is the directory native-backend stdio logs are captured to
// (<data>/logs).
func (c *Config) LogsDir() string { return filepath.Join(c.DataDir, "logs") }

// NativeStateFile is the path to the persisted native-process records.
func (c *Config) NativeStateFile() string { return filepath.Join(c.DataDir, "native-processes.json") }

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getbool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
