package config

import (
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/JonMunkholm/wis2box-migrate/internal/failure"
)

// identRegex restricts table names to plain SQL identifiers.
var identRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Load reads configuration from environment variables.
// It applies defaults for unset values and validates the result.
// A missing required value is reported as failure.ConfigurationMissing.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := loadStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// loadStruct walks v and fills every field tagged `env` from the
// environment. Nested structs are walked recursively.
func loadStruct(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field, fv := t.Field(i), v.Field(i)
		if !fv.CanSet() {
			continue
		}

		if field.Type.Kind() == reflect.Struct {
			if err := loadStruct(fv); err != nil {
				return err
			}
			continue
		}

		name := field.Tag.Get("env")
		if name == "" {
			continue
		}

		value, err := lookup(field.Tag)
		if err != nil {
			return err
		}
		if value == "" {
			continue
		}

		if err := setField(fv, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", name, value, err)
		}
	}

	return nil
}

// lookup resolves one tagged field: the `env` variable, then `envAlt`,
// then `default`. An unset `required` field is ConfigurationMissing.
func lookup(tag reflect.StructTag) (string, error) {
	name := tag.Get("env")

	for _, key := range []string{name, tag.Get("envAlt")} {
		if key == "" {
			continue
		}
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			return value, nil
		}
	}

	if tag.Get("required") == "true" {
		return "", failure.Newf(failure.ConfigurationMissing, name,
			"required environment variable %s is not set", name)
	}
	return tag.Get("default"), nil
}

// setField parses value into a string or integer field.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		field.SetInt(int64(n))
	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}
	return nil
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	if c.Data.HostDir == "" {
		return failure.New(failure.ConfigurationMissing, "WIS2BOX_HOST_DATADIR", nil)
	}
	if c.Store.URL == "" {
		return failure.New(failure.ConfigurationMissing, "WIS2BOX_API_BACKEND_URL", nil)
	}

	var errs []string

	if !strings.HasPrefix(c.Store.URL, "http://") && !strings.HasPrefix(c.Store.URL, "https://") {
		errs = append(errs, fmt.Sprintf("WIS2BOX_API_BACKEND_URL (%q) must be an http(s) URL", c.Store.URL))
	}
	if c.Store.Index == "" {
		errs = append(errs, "WIS2BOX_STATIONS_INDEX must not be empty")
	}
	if c.Store.BatchSize <= 0 {
		errs = append(errs, "MIGRATION_BATCH_SIZE must be positive")
	}

	if c.CheckpointsEnabled() && !identRegex.MatchString(c.Checkpoint.Table) {
		errs = append(errs, fmt.Sprintf("CHECKPOINT_TABLE (%q) must be a plain identifier", c.Checkpoint.Table))
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// String returns a safe string representation of the config for logging.
// Endpoints and connection strings are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	b.WriteString(fmt.Sprintf("Data: {HostDir: %q}, ", c.Data.HostDir))
	b.WriteString(fmt.Sprintf("Store: {URL: [MASKED], Index: %q, BatchSize: %d}, ",
		c.Store.Index, c.Store.BatchSize))
	b.WriteString(fmt.Sprintf("Checkpoint: {Enabled: %v, Table: %q}, ",
		c.CheckpointsEnabled(), c.Checkpoint.Table))
	b.WriteString(fmt.Sprintf("Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format))
	b.WriteString("}")
	return b.String()
}
