package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strings"
)

// Validate checks the configuration for values the engine cannot run with.
// All problems are reported at once.
func (c *Config) Validate() error {
	var errs []error

	if c.AppDir == "" {
		errs = append(errs, errors.New("app_dir is required"))
	} else if !filepath.IsAbs(c.AppDir) {
		errs = append(errs, fmt.Errorf("app_dir must be absolute: %s", c.AppDir))
	}

	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	} else if c.AppDir != "" && isWithin(c.AppDir, c.DataDir) {
		// State, lock, and backups must survive a restore that rewrites
		// the application directory.
		errs = append(errs, fmt.Errorf("data_dir must live outside app_dir: %s", c.DataDir))
	}

	if c.CurrentVersion == "" {
		errs = append(errs, errors.New("current_version is required"))
	}

	// The restart stage launches <app_dir>/<app_executable>; an unset value
	// would only surface after the install already replaced the files.
	if c.AppExecutable == "" {
		errs = append(errs, errors.New("app_executable is required"))
	} else if filepath.IsAbs(c.AppExecutable) || strings.Contains(c.AppExecutable, "..") {
		errs = append(errs, fmt.Errorf("app_executable must be a clean relative path: %s", c.AppExecutable))
	}

	if c.CheckURL != "" {
		if u, err := url.Parse(c.CheckURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, fmt.Errorf("check_url must be an http(s) URL: %s", c.CheckURL))
		}
	}

	if c.BridgeListenAddr != "" {
		host, _, err := net.SplitHostPort(c.BridgeListenAddr)
		if err != nil {
			errs = append(errs, fmt.Errorf("bridge_listen_addr must be host:port: %s", c.BridgeListenAddr))
		} else if host != "127.0.0.1" && host != "localhost" && host != "::1" {
			errs = append(errs, fmt.Errorf("bridge_listen_addr must be loopback: %s", c.BridgeListenAddr))
		}
	}

	for name, v := range map[string]int{
		"check_interval_hours":      c.CheckIntervalHours,
		"check_retry_minutes":       c.CheckRetryMinutes,
		"max_check_failures":        c.MaxCheckFailures,
		"max_network_retries":       c.MaxNetworkRetries,
		"max_hash_retries":          c.MaxHashRetries,
		"download_timeout_seconds":  c.DownloadTimeoutSecs,
		"restart_countdown_seconds": c.RestartCountdownSecs,
		"backup_retention_days":     c.BackupRetentionDays,
		"config_backup_retention":   c.ConfigBackupRetention,
	} {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}

	for i, p := range c.UserDataPaths {
		if p == "" {
			errs = append(errs, fmt.Errorf("user_data_paths[%d] is empty", i))
			continue
		}
		if filepath.IsAbs(p) || strings.Contains(p, "..") {
			errs = append(errs, fmt.Errorf("user_data_paths[%d] must be a clean relative path: %s", i, p))
		}
	}

	return errors.Join(errs...)
}

func isWithin(parent, child string) bool {
	rel, err := filepath.Rel(filepath.Clean(parent), filepath.Clean(child))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
