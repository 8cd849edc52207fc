// Package config loads and persists daemon settings (SPEC_FULL.md
// ambient stack: "configuration"), layering a JSON settings file,
// environment variables, and an optional .env file the way the
// teacher's own config package does.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Settings is the daemon-settings.json document (spec section 6,
// "/settings/daemon").
type Settings struct {
	Host            string `json:"host"`
	Port            int    `json:"port"`
	JWTSecret       string `json:"jwtSecret,omitempty"`
	LogLevel        string `json:"logLevel"`
	OperationMode   string `json:"operationMode"`
	RestartRequired bool   `json:"restartRequired,omitempty"`
}

// DefaultSettings mirrors the daemon's zero-config posture: loopback
// admission, normal operation, info logging.
func DefaultSettings() Settings {
	return Settings{
		Host:          "127.0.0.1",
		Port:          8787,
		LogLevel:      "info",
		OperationMode: "normal",
	}
}

// fieldsRequiringRestart are the keys that, per the spec's
// "/settings/daemon" response shape, flag restartRequired when changed
// live rather than applied immediately.
var fieldsRequiringRestart = map[string]bool{
	"host": true,
	"port": true,
}

// Load builds Settings by layering, in increasing priority:
//  1. DefaultSettings
//  2. path's JSON contents, if present
//  3. an optional .env file (loaded without overwriting real env vars)
//  4. environment variables (NRN_PORT, NRN_HOST, UNDOABLE_DAEMON_HOST,
//     UNDOABLE_DAEMON_PORT, UNDOABLE_JWT_SECRET, UNDOABLE_LOG_LEVEL)
func Load(path string) (Settings, error) {
	s := DefaultSettings()

	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &s); err != nil {
			return Settings{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return Settings{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	loadDotEnv(path)
	applyEnvOverrides(&s)

	return s, nil
}

// loadDotEnv loads a .env file from the settings file's directory, if
// one exists. Mirrors the teacher's own dotenv loading: optional,
// never overwrites variables already set, never fatal.
func loadDotEnv(settingsPath string) {
	dir := filepath.Dir(settingsPath)
	envPath := filepath.Join(dir, ".env")
	if _, err := os.Stat(envPath); err == nil {
		_ = godotenv.Load(envPath)
	}
}

// applyEnvOverrides layers environment variables over s, highest
// priority last: NRN_* (the daemon's historical variable names) then
// UNDOABLE_* (the current names win on conflict).
func applyEnvOverrides(s *Settings) {
	if v := os.Getenv("NRN_HOST"); v != "" {
		s.Host = v
	}
	if v := os.Getenv("NRN_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			s.Port = p
		}
	}
	if v := os.Getenv("UNDOABLE_DAEMON_HOST"); v != "" {
		s.Host = v
	}
	if v := os.Getenv("UNDOABLE_DAEMON_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			s.Port = p
		}
	}
	if v := os.Getenv("UNDOABLE_JWT_SECRET"); v != "" {
		s.JWTSecret = v
	}
	if v := os.Getenv("UNDOABLE_LOG_LEVEL"); v != "" {
		s.LogLevel = v
	}
}

// Save persists s to path atomically (write-temp+rename), the same
// pattern used throughout the daemon's other stores.
func Save(path string, s Settings) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("config: mkdir: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "daemon-settings.*.tmp")
	if err != nil {
		return fmt.Errorf("config: create temp: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("config: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("config: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("config: close temp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("config: rename: %w", err)
	}
	return nil
}

// Diff reports which top-level fields changed between old and updated,
// and whether any of them require a daemon restart to take effect.
func Diff(old, updated Settings) (changed []string, restartRequired bool) {
	if old.Host != updated.Host {
		changed = append(changed, "host")
	}
	if old.Port != updated.Port {
		changed = append(changed, "port")
	}
	if old.LogLevel != updated.LogLevel {
		changed = append(changed, "logLevel")
	}
	if old.OperationMode != updated.OperationMode {
		changed = append(changed, "operationMode")
	}
	if old.JWTSecret != updated.JWTSecret {
		changed = append(changed, "jwtSecret")
	}
	for _, f := range changed {
		if fieldsRequiringRestart[f] {
			restartRequired = true
		}
	}
	return changed, restartRequired
}
