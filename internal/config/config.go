package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/viper"
)

// Config holds the update engine configuration.
type Config struct {
	AppDir         string `mapstructure:"app_dir"`
	DataDir        string `mapstructure:"data_dir"`
	CurrentVersion string `mapstructure:"current_version"`
	AppExecutable  string `mapstructure:"app_executable"`

	CheckURL             string `mapstructure:"check_url"`
	CheckIntervalHours   int    `mapstructure:"check_interval_hours"`
	CheckRetryMinutes    int    `mapstructure:"check_retry_minutes"`
	MaxCheckFailures     int    `mapstructure:"max_check_failures"`
	MaxNetworkRetries    int    `mapstructure:"max_network_retries"`
	MaxHashRetries       int    `mapstructure:"max_hash_retries"`
	DownloadTimeoutSecs  int    `mapstructure:"download_timeout_seconds"`
	DismissWindowHours   int    `mapstructure:"dismiss_window_hours"`
	RestartCountdownSecs int    `mapstructure:"restart_countdown_seconds"`

	BackupRetentionDays   int `mapstructure:"backup_retention_days"`
	ConfigBackupRetention int `mapstructure:"config_backup_retention"`

	BridgeListenAddr string `mapstructure:"bridge_listen_addr"`

	LogFormat string `mapstructure:"log_format"`
	LogLevel  string `mapstructure:"log_level"`

	// UserDataPaths are relative paths (exact or prefix) under AppDir that
	// the engine never writes to and never includes in backups.
	UserDataPaths []string `mapstructure:"user_data_paths"`
}

func Default() *Config {
	return &Config{
		CheckIntervalHours:    4,
		CheckRetryMinutes:     10,
		MaxCheckFailures:      3,
		MaxNetworkRetries:     3,
		MaxHashRetries:        3,
		DownloadTimeoutSecs:   30,
		DismissWindowHours:    24,
		RestartCountdownSecs:  3,
		BackupRetentionDays:   7,
		ConfigBackupRetention: 3,
		BridgeListenAddr:      "127.0.0.1:48620",
		LogFormat:             "text",
		LogLevel:              "info",
		UserDataPaths: []string{
			"user-config.json",
			"library",
			"exam-history",
			"logs",
		},
	}
}

func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("updater")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(configDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("ENGINE")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Join(configDir(), "engine")
	}

	return cfg, nil
}

// CheckInterval returns the periodic check cadence.
func (c *Config) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalHours) * time.Hour
}

// CheckRetryDelay returns the delay before retrying a failed check.
func (c *Config) CheckRetryDelay() time.Duration {
	return time.Duration(c.CheckRetryMinutes) * time.Minute
}

// DownloadTimeout returns the connect/read timeout for downloads.
func (c *Config) DownloadTimeout() time.Duration {
	return time.Duration(c.DownloadTimeoutSecs) * time.Second
}

// DismissWindow returns how long a dismissed notification stays suppressed.
func (c *Config) DismissWindow() time.Duration {
	return time.Duration(c.DismissWindowHours) * time.Hour
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "WenyanTools")
	case "darwin":
		return "/Library/Application Support/WenyanTools"
	default:
		return "/etc/wenyan-tools"
	}
}
