// Package config provides centralized configuration management for the
// migration runner. It loads configuration from environment variables with
// defaults and validates all settings on startup, so a missing data directory
// or store endpoint fails before any file or index is touched.
package config

import "path/filepath"

// Config holds all runner configuration.
// All settings can be configured via environment variables.
type Config struct {
	Data       DataConfig
	Store      StoreConfig
	Checkpoint CheckpointConfig
	Logging    LoggingConfig
}

// DataConfig locates the host data directory.
type DataConfig struct {
	// HostDir is the wis2box host data directory (required)
	HostDir string `env:"WIS2BOX_HOST_DATADIR" required:"true"`
}

// StoreConfig holds document store settings.
type StoreConfig struct {
	// URL is the document store endpoint (required)
	URL string `env:"WIS2BOX_API_BACKEND_URL" envAlt:"WIS2BOX_DOCUMENT_STORE_URL" required:"true"`

	// Index is the station collection name (default: stations)
	Index string `env:"WIS2BOX_STATIONS_INDEX" default:"stations"`

	// BatchSize is the number of documents fetched per page (default: 100)
	BatchSize int `env:"MIGRATION_BATCH_SIZE" default:"100"`
}

// CheckpointConfig holds optional progress checkpoint settings.
// Checkpointing is disabled when DatabaseURL is empty.
type CheckpointConfig struct {
	// DatabaseURL is a PostgreSQL connection string
	DatabaseURL string `env:"CHECKPOINT_DATABASE_URL"`

	// Table is the checkpoint table name (default: migration_checkpoints)
	Table string `env:"CHECKPOINT_TABLE" default:"migration_checkpoints"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// StationFile returns the path of the station registry inside HostDir.
func (c *Config) StationFile() string {
	return filepath.Join(c.Data.HostDir, "metadata", "station", "station_list.csv")
}

// CheckpointsEnabled reports whether a checkpoint database is configured.
func (c *Config) CheckpointsEnabled() bool {
	return c.Checkpoint.DatabaseURL != ""
}
