package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const defaultFileHeader = `# Wenyan Toolkit update engine configuration.
# app_dir, current_version, and check_url must be set before first run.
`

// WriteDefault renders a default configuration file at path. Existing files
// are never overwritten.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}

	cfg := Default()
	// Keyed by the mapstructure names Load expects back.
	doc := map[string]any{
		"app_dir":                   cfg.AppDir,
		"data_dir":                  cfg.DataDir,
		"current_version":           cfg.CurrentVersion,
		"app_executable":            cfg.AppExecutable,
		"check_url":                 cfg.CheckURL,
		"check_interval_hours":      cfg.CheckIntervalHours,
		"check_retry_minutes":       cfg.CheckRetryMinutes,
		"max_check_failures":        cfg.MaxCheckFailures,
		"max_network_retries":       cfg.MaxNetworkRetries,
		"max_hash_retries":          cfg.MaxHashRetries,
		"download_timeout_seconds":  cfg.DownloadTimeoutSecs,
		"dismiss_window_hours":      cfg.DismissWindowHours,
		"restart_countdown_seconds": cfg.RestartCountdownSecs,
		"backup_retention_days":     cfg.BackupRetentionDays,
		"config_backup_retention":   cfg.ConfigBackupRetention,
		"bridge_listen_addr":        cfg.BridgeListenAddr,
		"log_format":                cfg.LogFormat,
		"log_level":                 cfg.LogLevel,
		"user_data_paths":           cfg.UserDataPaths,
	}

	var buf bytes.Buffer
	buf.WriteString(defaultFileHeader)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode default config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode default config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	return nil
}
