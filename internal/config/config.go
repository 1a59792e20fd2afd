// Package config loads treeaudit configuration from defaults, config files,
// TREEAUDIT_* environment variables and runtime overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/3leaps/treeaudit/pkg/audit"
	"github.com/3leaps/treeaudit/pkg/contentstore"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendS3     = "s3"
)

// Config is the complete application configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Health  HealthConfig  `mapstructure:"health"`
	Store   StoreConfig   `mapstructure:"store"`
	Audit   AuditConfig   `mapstructure:"audit"`
}

// ServerConfig configures the management HTTP server.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig configures the server logger.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

// MetricsConfig toggles the /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// HealthConfig toggles the job health checker.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// StoreConfig selects and configures the content store.
type StoreConfig struct {
	Backend string `mapstructure:"backend"`

	// Seed is a YAML tree file imported into memory and sqlite stores.
	Seed string `mapstructure:"seed"`

	// Username and Password are the principal the memory and sqlite
	// stores accept. An empty password accepts any password.
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`

	SQLite SQLiteConfig `mapstructure:"sqlite"`
	S3     S3Config     `mapstructure:"s3"`
}

// SQLiteConfig configures the sqlite store.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// S3Config configures the S3 store.
type S3Config struct {
	Bucket         string `mapstructure:"bucket"`
	Prefix         string `mapstructure:"prefix"`
	Region         string `mapstructure:"region"`
	Endpoint       string `mapstructure:"endpoint"`
	Profile        string `mapstructure:"profile"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
}

// AuditConfig configures the audit job.
type AuditConfig struct {
	Root           string   `mapstructure:"root"`
	Username       string   `mapstructure:"username"`
	Password       string   `mapstructure:"password"`
	BatchSize      int64    `mapstructure:"batch_size"`
	DateLayout     string   `mapstructure:"date_layout"`
	FallbackDate   string   `mapstructure:"fallback_date"`
	Timezone       string   `mapstructure:"timezone"`
	MetadataPath   string   `mapstructure:"metadata_path"`
	Property       string   `mapstructure:"property"`
	ContainerTypes []string `mapstructure:"container_types"`
	LeafTypes      []string `mapstructure:"leaf_types"`
	Excludes       []string `mapstructure:"excludes"`
	RateLimit      float64  `mapstructure:"rate_limit"`

	// Report is the JSONL report path. "{run_id}" is replaced with the
	// run ID; "-" writes to stdout; empty disables the report.
	Report string `mapstructure:"report"`
}

// Validate checks values that defaults cannot repair.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch strings.ToLower(c.Store.Backend) {
	case BackendMemory, BackendSQLite:
	case BackendS3:
		if strings.TrimSpace(c.Store.S3.Bucket) == "" {
			return fmt.Errorf("store.s3.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("unsupported store.backend %q (want memory, sqlite or s3)", c.Store.Backend)
	}
	if _, err := c.Audit.JobConfig(); err != nil {
		return err
	}
	return nil
}

// JobConfig converts the audit section into an audit.Config.
func (a AuditConfig) JobConfig() (audit.Config, error) {
	loc := time.UTC
	if tz := strings.TrimSpace(a.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return audit.Config{}, fmt.Errorf("audit.timezone: %w", err)
		}
		loc = l
	}
	cfg := audit.Config{
		BatchSize:      a.BatchSize,
		DateLayout:     a.DateLayout,
		FallbackDate:   a.FallbackDate,
		Location:       loc,
		MetadataPath:   a.MetadataPath,
		Property:       a.Property,
		ContainerTypes: a.ContainerTypes,
		LeafTypes:      a.LeafTypes,
		Excludes:       a.Excludes,
		RateLimit:      a.RateLimit,
	}
	if err := cfg.Validate(); err != nil {
		return audit.Config{}, fmt.Errorf("audit: %w", err)
	}
	return cfg, nil
}

// Credentials returns the login the job opens sessions with.
func (a AuditConfig) Credentials() contentstore.Credentials {
	return contentstore.Credentials{Username: a.Username, Password: a.Password}.WithDefaults()
}
