package appfiles

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Config-only backups mirror the whole-application flow but capture just the
// configuration file and the user-data subtrees named at construction. They
// are cheap enough to keep by count instead of by age.

// CreateConfigBackup snapshots the configured paths and returns the backup
// directory.
func (m *Manager) CreateConfigBackup() (string, error) {
	now := time.Now().UTC()
	backupDir := filepath.Join(m.dataDir, configBackupsDirName, backupDirName("config", now))
	filesDir := filepath.Join(backupDir, filesDirName)

	if err := os.MkdirAll(filesDir, 0755); err != nil {
		return "", fmt.Errorf("create config backup directory: %w", err)
	}

	meta := BackupMetadata{
		SourceVersion: "config",
		CreatedAt:     now,
		AppPath:       m.appDir,
	}

	for _, rel := range m.configPaths {
		src := filepath.Join(m.appDir, rel)
		info, err := os.Stat(src)
		if err != nil {
			log.Warn("config backup path missing, skipping", "path", src, "error", err)
			continue
		}

		if !info.IsDir() {
			if err := copyFile(src, filepath.Join(filesDir, rel)); err != nil {
				log.Warn("config backup copy failed, skipping", "path", src, "error", err)
				continue
			}
			meta.FileCount++
			meta.TotalBytes += info.Size()
			continue
		}

		filepath.WalkDir(src, func(path string, entry fs.DirEntry, err error) error {
			if err != nil || entry.IsDir() {
				return nil
			}
			sub, err := filepath.Rel(m.appDir, path)
			if err != nil {
				return nil
			}
			fi, err := entry.Info()
			if err != nil {
				return nil
			}
			if err := copyFile(path, filepath.Join(filesDir, sub)); err != nil {
				log.Warn("config backup copy failed, skipping", "path", path, "error", err)
				return nil
			}
			meta.FileCount++
			meta.TotalBytes += fi.Size()
			return nil
		})
	}

	if err := writeMetadata(backupDir, meta); err != nil {
		os.RemoveAll(backupDir)
		return "", fmt.Errorf("write config backup metadata: %w", err)
	}

	log.Info("config backup created", "path", backupDir, "files", meta.FileCount)
	return backupDir, nil
}

// RestoreConfigBackup copies a config backup back into the application
// directory. The pending-restore marker is written before the first copy
// and cleared only after the last, so an interrupted restore is retried at
// the next startup.
func (m *Manager) RestoreConfigBackup(backupPath string) error {
	if _, err := readMetadata(backupPath); err != nil {
		return fmt.Errorf("config backup is not trustworthy without metadata: %w", err)
	}

	if err := m.store.MarkPendingConfigRestore(backupPath); err != nil {
		return err
	}

	filesDir := filepath.Join(backupPath, filesDirName)
	err := filepath.WalkDir(filesDir, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return fmt.Errorf("walk config backup: %w", walkErr)
		}
		if entry.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(filesDir, path)
		if err != nil {
			return err
		}
		if err := copyFile(path, filepath.Join(m.appDir, rel)); err != nil {
			return fmt.Errorf("restore config file %s: %w", rel, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	return m.store.ClearPendingConfigRestore()
}

// FindLatestConfigBackup returns the newest config backup by metadata
// timestamp.
func (m *Manager) FindLatestConfigBackup() (string, bool) {
	backups := listBackupsByAge(filepath.Join(m.dataDir, configBackupsDirName))
	if len(backups) == 0 {
		return "", false
	}
	return backups[len(backups)-1], true
}

// CleanupConfigBackups keeps the newest keep config backups and removes the
// rest.
func (m *Manager) CleanupConfigBackups(keep int) error {
	if keep <= 0 {
		return nil
	}
	backups := listBackupsByAge(filepath.Join(m.dataDir, configBackupsDirName))
	if len(backups) <= keep {
		return nil
	}

	var errs []error
	for _, dir := range backups[:len(backups)-keep] {
		log.Info("removing old config backup", "path", dir)
		if err := os.RemoveAll(dir); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
