package appfiles

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// CreateBackup snapshots the application directory (minus user data) under
// the backups directory and returns the backup path. Files that cannot be
// copied are skipped with a warning; a best-effort backup still protects
// everything it could reach. The metadata file is written last.
func (m *Manager) CreateBackup(version string) (string, error) {
	now := time.Now().UTC()
	backupDir := filepath.Join(m.BackupsDir(), backupDirName(version, now))
	filesDir := filepath.Join(backupDir, filesDirName)

	if err := os.MkdirAll(filesDir, 0755); err != nil {
		return "", fmt.Errorf("create backup directory: %w", err)
	}

	meta := BackupMetadata{
		SourceVersion: version,
		CreatedAt:     now,
		AppPath:       m.appDir,
	}

	walkErr := filepath.WalkDir(m.appDir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			log.Warn("backup walk error, skipping", "path", path, "error", err)
			return nil
		}
		if entry.IsDir() || entry.Type()&os.ModeSymlink != 0 {
			return nil
		}
		rel, err := filepath.Rel(m.appDir, path)
		if err != nil {
			log.Warn("backup relative path failed, skipping", "path", path, "error", err)
			return nil
		}
		if m.isExcluded(rel) {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			log.Warn("backup stat failed, skipping", "path", path, "error", err)
			return nil
		}
		if err := copyFile(path, filepath.Join(filesDir, rel)); err != nil {
			log.Warn("backup copy failed, skipping", "path", path, "error", err)
			return nil
		}
		meta.FileCount++
		meta.TotalBytes += info.Size()
		return nil
	})
	if walkErr != nil {
		os.RemoveAll(backupDir)
		return "", fmt.Errorf("walk application directory: %w", walkErr)
	}

	if err := writeMetadata(backupDir, meta); err != nil {
		os.RemoveAll(backupDir)
		return "", fmt.Errorf("write backup metadata: %w", err)
	}

	log.Info("backup created", "path", backupDir, "files", meta.FileCount, "bytes", meta.TotalBytes)
	return backupDir, nil
}

// RestoreFromBackup copies every file from the backup's files/ subtree back
// over the application directory. Unlike backup creation this is all or
// nothing: a failure here means the application is in an unknown state and
// only manual recovery remains, so the caller treats any error as
// non-recoverable.
func (m *Manager) RestoreFromBackup(backupPath string) error {
	if _, err := readMetadata(backupPath); err != nil {
		return fmt.Errorf("backup is not trustworthy without metadata: %w", err)
	}

	filesDir := filepath.Join(backupPath, filesDirName)
	return filepath.WalkDir(filesDir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walk backup: %w", err)
		}
		if entry.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(filesDir, path)
		if err != nil {
			return err
		}
		if err := copyFile(path, filepath.Join(m.appDir, rel)); err != nil {
			return fmt.Errorf("restore %s: %w", rel, err)
		}
		return nil
	})
}

// FindLatestBackup returns the most recent fully written backup by its
// metadata creation timestamp. Directories without readable metadata are
// invisible.
func (m *Manager) FindLatestBackup() (string, bool) {
	entries, err := os.ReadDir(m.BackupsDir())
	if err != nil {
		return "", false
	}

	var bestPath string
	var bestTime time.Time
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(m.BackupsDir(), entry.Name())
		meta, err := readMetadata(dir)
		if err != nil {
			log.Warn("ignoring backup without readable metadata", "path", dir, "error", err)
			continue
		}
		if meta.CreatedAt.After(bestTime) {
			bestTime = meta.CreatedAt
			bestPath = dir
		}
	}
	return bestPath, bestPath != ""
}

// CleanupBackups removes whole-application backups older than retentionDays
// and sweeps directories whose metadata is unreadable.
func (m *Manager) CleanupBackups(retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	entries, err := os.ReadDir(m.BackupsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("list backups: %w", err)
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	var errs []error
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(m.BackupsDir(), entry.Name())
		meta, err := readMetadata(dir)
		if err != nil {
			log.Warn("removing corrupt backup", "path", dir, "error", err)
			if rmErr := os.RemoveAll(dir); rmErr != nil {
				errs = append(errs, rmErr)
			}
			continue
		}
		if meta.CreatedAt.Before(cutoff) {
			log.Info("removing expired backup", "path", dir, "createdAt", meta.CreatedAt)
			if rmErr := os.RemoveAll(dir); rmErr != nil {
				errs = append(errs, rmErr)
			}
		}
	}
	return errors.Join(errs...)
}

// listBackupsByAge returns backup directories under root sorted oldest
// first, skipping anything without readable metadata.
func listBackupsByAge(root string) []string {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil
	}
	type aged struct {
		path string
		at   time.Time
	}
	var backups []aged
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		meta, err := readMetadata(dir)
		if err != nil {
			continue
		}
		backups = append(backups, aged{path: dir, at: meta.CreatedAt})
	}
	sort.Slice(backups, func(i, j int) bool { return backups[i].at.Before(backups[j].at) })

	paths := make([]string, len(backups))
	for i, b := range backups {
		paths[i] = b.path
	}
	return paths
}
