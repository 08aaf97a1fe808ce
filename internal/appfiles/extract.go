package appfiles

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Zhang142857/wenyanwengongju-sub001/internal/state"
)

// ExtractUpdate unpacks the package into a staging directory, then moves
// each entry into the application directory one rename at a time. Entries
// matching the user-data exclusions are never written. A locked target does
// not fail the update: the staged file stays where it is and a deferred
// replacement is recorded for the next startup.
func (m *Manager) ExtractUpdate(packagePath string) error {
	staging := filepath.Join(m.dataDir, stagingDirName, time.Now().UTC().Format("20060102T150405Z"))
	if err := m.unpackToStaging(packagePath, staging); err != nil {
		os.RemoveAll(staging)
		return err
	}

	deferred, err := m.placeStagedFiles(staging)
	if err != nil {
		return err
	}

	if deferred == 0 {
		os.RemoveAll(staging)
	} else {
		log.Warn("extraction finished with locked targets deferred", "deferred", deferred)
	}
	return nil
}

func (m *Manager) unpackToStaging(packagePath, staging string) error {
	reader, err := zip.OpenReader(packagePath)
	if err != nil {
		return fmt.Errorf("open update package: %w", err)
	}
	defer reader.Close()

	if err := os.MkdirAll(staging, 0700); err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}

	for _, entry := range reader.File {
		rel := filepath.Clean(filepath.FromSlash(entry.Name))
		if rel == "." || filepath.IsAbs(rel) || strings.HasPrefix(rel, "..") {
			return fmt.Errorf("package entry escapes target directory: %s", entry.Name)
		}
		if m.isExcluded(rel) {
			log.Debug("skipping user-data entry in package", "entry", rel)
			continue
		}

		dest := filepath.Join(staging, rel)
		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0755); err != nil {
				return fmt.Errorf("create staged directory %s: %w", rel, err)
			}
			continue
		}

		if err := extractEntry(entry, dest); err != nil {
			return fmt.Errorf("stage %s: %w", rel, err)
		}
	}
	return nil
}

func extractEntry(entry *zip.File, dest string) error {
	src, err := entry.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	mode := entry.FileInfo().Mode().Perm()
	if mode == 0 {
		mode = 0644
	}
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(dest)
		return err
	}
	return out.Close()
}

func (m *Manager) placeStagedFiles(staging string) (deferred int, err error) {
	err = filepath.WalkDir(staging, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return fmt.Errorf("walk staging: %w", walkErr)
		}
		if entry.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(staging, path)
		if err != nil {
			return err
		}
		target := filepath.Join(m.appDir, rel)

		if _, statErr := os.Stat(target); statErr == nil && !m.Replaceable(target) {
			record := state.DeferredReplacement{
				Source:      path,
				Target:      target,
				ScheduledAt: time.Now().UTC(),
			}
			if err := m.store.AppendDeferred(record); err != nil {
				return fmt.Errorf("record deferred replacement for %s: %w", rel, err)
			}
			log.Info("target locked, replacement deferred", "target", target)
			deferred++
			return nil
		}

		if err := moveFile(path, target); err != nil {
			return fmt.Errorf("place %s: %w", rel, err)
		}
		return nil
	})
	return deferred, err
}

// ApplyDeferredReplacements performs the swaps recorded during a previous
// extraction. It runs at startup before anything else touches the
// application directory. Entries whose staged source vanished are dropped;
// entries whose target is still locked stay queued.
func (m *Manager) ApplyDeferredReplacements() error {
	list, err := m.store.LoadDeferred()
	if err != nil {
		return err
	}
	if len(list) == 0 {
		return nil
	}

	var remaining []state.DeferredReplacement
	for _, d := range list {
		if _, err := os.Stat(d.Source); err != nil {
			log.Warn("deferred source missing, dropping entry", "source", d.Source, "error", err)
			continue
		}
		if !m.Replaceable(d.Target) {
			log.Warn("deferred target still locked, keeping entry", "target", d.Target)
			remaining = append(remaining, d)
			continue
		}
		if err := moveFile(d.Source, d.Target); err != nil {
			log.Warn("deferred replacement failed, keeping entry", "target", d.Target, "error", err)
			remaining = append(remaining, d)
			continue
		}
		log.Info("deferred replacement applied", "target", d.Target)
	}

	if len(remaining) == 0 {
		m.sweepStaging()
	}
	return m.store.SaveDeferred(remaining)
}

// sweepStaging removes leftover staging directories once no deferred
// replacement references them anymore.
func (m *Manager) sweepStaging() {
	root := filepath.Join(m.dataDir, stagingDirName)
	if err := os.RemoveAll(root); err != nil {
		log.Warn("staging sweep failed", "path", root, "error", err)
	}
}
