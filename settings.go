package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"gred/internal/dblib"
	"gred/internal/grid"
)

// Settings represents the application configuration
type Settings struct {
	TelemetryEnabled bool   `json:"telemetry_enabled"`
	FirstRunComplete bool   `json:"first_run_complete"`
	SentryDSN        string `json:"sentry_dsn,omitempty"`

	// StrictResolve only allows editing results of single-table SELECTs,
	// as judged by a real SQL parser.
	StrictResolve bool `json:"strict_resolve"`
	// RefuseAmbiguous counts matching rows before each write and refuses
	// statements that would touch duplicates.
	RefuseAmbiguous bool   `json:"refuse_ambiguous"`
	DeleteMode      string `json:"delete_mode"`
	MaxWorkers      int    `json:"max_workers"`
	Dialect         string `json:"dialect"`
}

func defaultSettings() *Settings {
	return &Settings{
		DeleteMode: "batch",
		MaxWorkers: grid.DefaultMaxWorkers,
		Dialect:    "auto",
	}
}

// getConfigDir returns the configuration directory following XDG Base Directory spec
func getConfigDir() (string, error) {
	if xdgHome := os.Getenv("XDG_CONFIG_HOME"); xdgHome != "" {
		return filepath.Join(xdgHome, "gred"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}

	return filepath.Join(home, ".config", "gred"), nil
}

// getSettingsPath returns the full path to settings.json
func getSettingsPath() (string, error) {
	configDir, err := getConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "settings.json"), nil
}

// EnsureConfigDir creates the configuration directory if it doesn't exist
func EnsureConfigDir() error {
	configDir, err := getConfigDir()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("could not create config directory: %w", err)
	}

	return nil
}

// markFirstRun flags the first run as done and saves the settings. A failed
// save is only logged.
func markFirstRun(settings *Settings, log zerolog.Logger) {
	if settings.FirstRunComplete {
		return
	}
	settings.FirstRunComplete = true
	if err := SaveSettings(settings); err != nil {
		log.Warn().Err(err).Msg("could not save settings")
	}
}

// LoadSettings reads settings.json. A missing file yields the defaults;
// keys absent from the file keep their defaults.
func LoadSettings() (*Settings, error) {
	settingsPath, err := getSettingsPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(settingsPath)
	if os.IsNotExist(err) {
		return defaultSettings(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not read settings file: %w", err)
	}

	settings := defaultSettings()
	if err := json.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("could not parse settings file: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings file %s: %w", settingsPath, err)
	}

	return settings, nil
}

// SaveSettings writes the settings to settings.json
func SaveSettings(settings *Settings) error {
	if err := EnsureConfigDir(); err != nil {
		return err
	}

	settingsPath, err := getSettingsPath()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("could not marshal settings: %w", err)
	}

	if err := os.WriteFile(settingsPath, data, 0o644); err != nil {
		return fmt.Errorf("could not write settings file: %w", err)
	}

	return nil
}

func (s *Settings) Validate() error {
	if _, err := grid.ParseDeleteMode(s.DeleteMode); err != nil {
		return err
	}
	if _, _, err := dblib.ParseDialect(s.Dialect); err != nil {
		return err
	}
	if s.MaxWorkers < 0 {
		return fmt.Errorf("max_workers must not be negative")
	}
	return nil
}

// SessionOptions turns the settings into grid options for a connection of
// type dbType.
func (s *Settings) SessionOptions(dbType dblib.DatabaseType) grid.Options {
	mode, _ := grid.ParseDeleteMode(s.DeleteMode)
	dialect, explicit, _ := dblib.ParseDialect(s.Dialect)
	if !explicit {
		dialect = dbType.Dialect()
	}
	return grid.Options{
		Dialect:         dialect,
		Strict:          s.StrictResolve,
		RefuseAmbiguous: s.RefuseAmbiguous,
		DeleteMode:      mode,
	}
}
