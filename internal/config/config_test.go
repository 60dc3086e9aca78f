package config

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/JonMunkholm/wis2box-migrate/internal/failure"
)

// setRequired sets the two required variables and clears the optional ones
// so values from the developer's shell cannot leak into a test.
func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("WIS2BOX_HOST_DATADIR", "/data/wis2box")
	t.Setenv("WIS2BOX_API_BACKEND_URL", "http://elasticsearch:9200")
	for _, name := range []string{
		"WIS2BOX_DOCUMENT_STORE_URL", "WIS2BOX_STATIONS_INDEX", "MIGRATION_BATCH_SIZE",
		"CHECKPOINT_DATABASE_URL", "CHECKPOINT_TABLE", "LOG_LEVEL", "LOG_FORMAT",
	} {
		t.Setenv(name, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Store.Index != "stations" {
		t.Errorf("Store.Index = %q, want %q", cfg.Store.Index, "stations")
	}
	if cfg.Store.BatchSize != 100 {
		t.Errorf("Store.BatchSize = %d, want %d", cfg.Store.BatchSize, 100)
	}
	if cfg.Checkpoint.Table != "migration_checkpoints" {
		t.Errorf("Checkpoint.Table = %q, want %q", cfg.Checkpoint.Table, "migration_checkpoints")
	}
	if cfg.CheckpointsEnabled() {
		t.Error("CheckpointsEnabled() = true, want false")
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v, want info/text", cfg.Logging)
	}
}

func TestLoad_OverrideDefaults(t *testing.T) {
	setRequired(t)
	t.Setenv("WIS2BOX_STATIONS_INDEX", "stations-test")
	t.Setenv("MIGRATION_BATCH_SIZE", "250")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("CHECKPOINT_DATABASE_URL", "postgres://localhost/migrations")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Store.Index != "stations-test" {
		t.Errorf("Store.Index = %q, want %q", cfg.Store.Index, "stations-test")
	}
	if cfg.Store.BatchSize != 250 {
		t.Errorf("Store.BatchSize = %d, want %d", cfg.Store.BatchSize, 250)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if !cfg.CheckpointsEnabled() {
		t.Error("CheckpointsEnabled() = false, want true")
	}
}

func TestLoad_AltEnvVar(t *testing.T) {
	setRequired(t)
	t.Setenv("WIS2BOX_API_BACKEND_URL", "")
	t.Setenv("WIS2BOX_DOCUMENT_STORE_URL", "http://alt:9200")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Store.URL != "http://alt:9200" {
		t.Errorf("Store.URL = %q, want %q", cfg.Store.URL, "http://alt:9200")
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	tests := []struct {
		name    string
		unset   string
		subject string
	}{
		{"data dir", "WIS2BOX_HOST_DATADIR", "WIS2BOX_HOST_DATADIR"},
		{"store url", "WIS2BOX_API_BACKEND_URL", "WIS2BOX_API_BACKEND_URL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tt.unset, "")

			_, err := Load()
			if err == nil {
				t.Fatalf("Load() expected error for missing %s", tt.unset)
			}
			if !errors.Is(err, failure.ConfigurationMissing) {
				t.Errorf("Load() error = %v, want ConfigurationMissing", err)
			}
			var fe *failure.Error
			if !errors.As(err, &fe) || fe.Subject != tt.subject {
				t.Errorf("failure subject = %v, want %q", fe, tt.subject)
			}
		})
	}
}

func TestLoad_InvalidValue(t *testing.T) {
	setRequired(t)
	t.Setenv("MIGRATION_BATCH_SIZE", "lots")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() expected error for non-numeric batch size")
	}
	if !strings.Contains(err.Error(), "MIGRATION_BATCH_SIZE") {
		t.Errorf("error %q should name the variable", err)
	}
	if errors.Is(err, failure.ConfigurationMissing) {
		t.Error("invalid value reported as ConfigurationMissing")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Data:       DataConfig{HostDir: "/data"},
			Store:      StoreConfig{URL: "http://es:9200", Index: "stations", BatchSize: 100},
			Checkpoint: CheckpointConfig{Table: "migration_checkpoints"},
			Logging:    LoggingConfig{Level: "info", Format: "text"},
		}
	}

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"zero batch", func(c *Config) { c.Store.BatchSize = 0 }, "MIGRATION_BATCH_SIZE"},
		{"not a url", func(c *Config) { c.Store.URL = "es:9200" }, "http(s) URL"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "LOG_LEVEL"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "LOG_FORMAT"},
		{"bad table", func(c *Config) {
			c.Checkpoint.DatabaseURL = "postgres://x"
			c.Checkpoint.Table = "drop table;"
		}, "CHECKPOINT_TABLE"},
		{"table ignored when disabled", func(c *Config) { c.Checkpoint.Table = "drop table;" }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestStationFile(t *testing.T) {
	cfg := &Config{Data: DataConfig{HostDir: "/data/wis2box"}}
	want := filepath.Join("/data/wis2box", "metadata", "station", "station_list.csv")
	if got := cfg.StationFile(); got != want {
		t.Errorf("StationFile() = %q, want %q", got, want)
	}
}

func TestString_MasksEndpoints(t *testing.T) {
	cfg := &Config{
		Store:      StoreConfig{URL: "http://user:secret@es:9200"},
		Checkpoint: CheckpointConfig{DatabaseURL: "postgres://user:secret@db/x"},
	}
	if s := cfg.String(); strings.Contains(s, "secret") {
		t.Errorf("String() leaked credentials: %s", s)
	}
}
