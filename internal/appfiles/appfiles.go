// Package appfiles owns every write to the application directory: whole-app
// backups, staged extraction of update packages, deferred replacement of
// locked files, and retention sweeps. User-data paths are excluded from all
// of it; the engine never writes to them.
package appfiles

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Zhang142857/wenyanwengongju-sub001/internal/diskspace"
	"github.com/Zhang142857/wenyanwengongju-sub001/internal/logging"
	"github.com/Zhang142857/wenyanwengongju-sub001/internal/state"
)

var log = logging.L("appfiles")

const (
	backupsDirName       = "backups"
	configBackupsDirName = "config-backups"
	stagingDirName       = "staging"
	downloadsDirName     = "downloads"
	filesDirName         = "files"
	metadataFileName     = "metadata.json"
)

// BackupMetadata describes one backup directory. A backup is only trusted
// when its metadata file is present and readable; the metadata is written
// last, so its existence marks a fully written backup.
type BackupMetadata struct {
	SourceVersion string    `json:"sourceVersion"`
	CreatedAt     time.Time `json:"createdAt"`
	FileCount     int       `json:"fileCount"`
	TotalBytes    int64     `json:"totalBytes"`
	AppPath       string    `json:"appPath"`
}

// Manager performs all file operations for the update engine.
type Manager struct {
	appDir      string
	dataDir     string
	exclusions  []string
	configPaths []string
	store       *state.Store

	// Replaceable reports whether the file at path can be swapped right
	// now. Overridable so orchestration stays platform-neutral and tests
	// can simulate locked files.
	Replaceable func(path string) bool
}

// NewManager creates a Manager. exclusions and configPaths are clean
// relative paths under appDir; configPaths is the subset captured by
// config-only backups.
func NewManager(appDir, dataDir string, exclusions, configPaths []string, store *state.Store) *Manager {
	return &Manager{
		appDir:      filepath.Clean(appDir),
		dataDir:     filepath.Clean(dataDir),
		exclusions:  exclusions,
		configPaths: configPaths,
		store:       store,
		Replaceable: defaultReplaceable,
	}
}

// AppDir returns the application directory.
func (m *Manager) AppDir() string { return m.appDir }

// BackupsDir returns where whole-application backups live.
func (m *Manager) BackupsDir() string { return filepath.Join(m.dataDir, backupsDirName) }

// DownloadsDir returns where packages are downloaded.
func (m *Manager) DownloadsDir() string { return filepath.Join(m.dataDir, downloadsDirName) }

// CheckDiskSpace reports whether the application volume can hold an update
// of the given package size (three times the package: archive, extracted
// copy, and backup coexist).
func (m *Manager) CheckDiskSpace(packageSize int64) (bool, error) {
	return diskspace.Check(m.dataDir, packageSize)
}

// isExcluded reports whether the clean relative path rel is user data.
// Matching is exact or by path prefix, never glob.
func (m *Manager) isExcluded(rel string) bool {
	rel = filepath.ToSlash(rel)
	for _, ex := range m.exclusions {
		ex = filepath.ToSlash(filepath.Clean(ex))
		if rel == ex || strings.HasPrefix(rel, ex+"/") {
			return true
		}
	}
	return false
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

// moveFile renames src to dst, falling back to copy+rename when the rename
// crosses volumes. The final placement at dst is always a rename, so each
// individual file swap stays atomic.
func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	tmp := dst + ".swap"
	if err := copyFile(src, tmp); err != nil {
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Remove(src)
}

func writeMetadata(dir string, meta BackupMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(dir, "."+metadataFileName+".tmp")
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, metadataFileName))
}

func readMetadata(dir string) (BackupMetadata, error) {
	var meta BackupMetadata
	data, err := os.ReadFile(filepath.Join(dir, metadataFileName))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("decode backup metadata: %w", err)
	}
	return meta, nil
}

func backupDirName(version string, at time.Time) string {
	return fmt.Sprintf("%s-%s", version, at.UTC().Format("20060102T150405Z"))
}
