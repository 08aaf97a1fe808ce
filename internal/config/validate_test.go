package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg := Default()
	cfg.AppDir = filepath.Join(t.TempDir(), "app")
	cfg.DataDir = filepath.Join(t.TempDir(), "data")
	cfg.CurrentVersion = "1.0.0"
	cfg.CheckURL = "https://updates.example.com/check"
	cfg.AppExecutable = "wenyan.bin"
	return cfg
}

func TestValidateAcceptsGoodConfig(t *testing.T) {
	if err := validConfig(t).Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValidateRequiresAppDir(t *testing.T) {
	cfg := validConfig(t)
	cfg.AppDir = ""
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "app_dir") {
		t.Errorf("missing app_dir not reported: %v", err)
	}
}

func TestValidateRequiresAppExecutable(t *testing.T) {
	cfg := validConfig(t)
	cfg.AppExecutable = ""
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "app_executable") {
		t.Errorf("missing app_executable not reported: %v", err)
	}

	cfg = validConfig(t)
	cfg.AppExecutable = "../elsewhere/wenyan.bin"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "app_executable") {
		t.Errorf("escaping app_executable not reported: %v", err)
	}
}

func TestValidateRejectsDataDirInsideAppDir(t *testing.T) {
	cfg := validConfig(t)
	cfg.DataDir = filepath.Join(cfg.AppDir, "engine")
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "outside app_dir") {
		t.Errorf("nested data_dir not reported: %v", err)
	}
}

func TestValidateRejectsNonLoopbackBridge(t *testing.T) {
	cfg := validConfig(t)
	cfg.BridgeListenAddr = "0.0.0.0:48620"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "loopback") {
		t.Errorf("non-loopback bridge not reported: %v", err)
	}
}

func TestValidateRejectsBadUserDataPaths(t *testing.T) {
	cfg := validConfig(t)
	cfg.UserDataPaths = []string{"../outside", "/abs/path", ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("bad user_data_paths accepted")
	}
	for _, want := range []string{"user_data_paths[0]", "user_data_paths[1]", "user_data_paths[2]"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %s: %v", want, err)
		}
	}
}

func TestValidateRejectsNonPositiveLimits(t *testing.T) {
	cfg := validConfig(t)
	cfg.MaxHashRetries = 0
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "max_hash_retries") {
		t.Errorf("zero retry limit not reported: %v", err)
	}
}

func TestWriteDefaultRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "updater.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		t.Fatalf("default config is not valid YAML: %v", err)
	}
	if doc["check_interval_hours"] != 4 {
		t.Errorf("check_interval_hours = %v, want 4", doc["check_interval_hours"])
	}
	if doc["backup_retention_days"] != 7 {
		t.Errorf("backup_retention_days = %v, want 7", doc["backup_retention_days"])
	}

	// Never overwrite.
	if err := WriteDefault(path); err == nil {
		t.Error("WriteDefault should refuse to overwrite an existing file")
	}
}
