// Package config loads application settings from config.yaml, .env files and
// the environment.
package config

import (
	"fmt"
	"time"

	"github.com/rpattn/replay/internal/db"
)

// Config holds all application configuration.
type Config struct {
	Database db.Config
	Redis    RedisConfig
	Storage  StorageConfig
	Import   ImportConfig
	Server   ServerConfig
	Logging  LoggingConfig
}

// RedisConfig holds the connection used for run status and audit broadcasts.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// StorageConfig selects the blob backend holding attachment content.
type StorageConfig struct {
	// Backend is "fs" or "gcs".
	Backend string
	// Root is the directory used by the fs backend.
	Root string
	// Bucket is the GCS bucket used by the gcs backend.
	Bucket string
	// CredentialsJSON optionally replaces application default credentials.
	CredentialsJSON string
	// Prefix is prepended to every object key.
	Prefix string
}

// ImportConfig tunes the import engine.
type ImportConfig struct {
	// Channel names the single-flight import slot.
	Channel string
	// AttributeMap maps normalized header names to attribute keys.
	AttributeMap map[string]string
	// FetchAttempts bounds template fetches on transient errors.
	FetchAttempts int
	// FetchBackoff is the pause between fetch attempts.
	FetchBackoff time.Duration
	// LockTTL bounds how long the submission lock is held.
	LockTTL time.Duration
	// Workflow lists the allowed status transitions, keyed by the old status id.
	Workflow map[string][]int64
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string
	// Format is text or json.
	Format string
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Database: db.DefaultConfig(),
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Storage: StorageConfig{
			Backend: "fs",
			Root:    "./files",
		},
		Import: ImportConfig{
			Channel:       "work_packages",
			AttributeMap:  DefaultAttributeMap(),
			FetchAttempts: 3,
			FetchBackoff:  500 * time.Millisecond,
			LockTTL:       30 * time.Second,
		},
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000"},
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   15 * time.Second,
			IdleTimeout:    60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// DefaultAttributeMap maps association headers to their foreign key attributes.
func DefaultAttributeMap() map[string]string {
	return map[string]string{
		"type":        "type_id",
		"status":      "status_id",
		"priority":    "priority_id",
		"assignee":    "assigned_to_id",
		"assigned to": "assigned_to_id",
		"responsible": "responsible_id",
		"category":    "category_id",
		"parent":      "parent_id",
		"version":     "fixed_version_id",
		"author":      "author_id",
	}
}

// Validate rejects settings the application cannot run with.
func (c Config) Validate() error {
	switch c.Storage.Backend {
	case "fs":
		if c.Storage.Root == "" {
			return fmt.Errorf("storage.root is required for the fs backend")
		}
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Import.Channel == "" {
		return fmt.Errorf("import.channel must not be empty")
	}
	if c.Import.FetchAttempts < 1 {
		return fmt.Errorf("import.fetch_attempts must be at least 1, got %d", c.Import.FetchAttempts)
	}
	if c.Import.LockTTL <= 0 {
		return fmt.Errorf("import.lock_ttl must be positive")
	}
	return nil
}
