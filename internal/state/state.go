// Package state persists the engine's crash-recoverable records: the update
// state file, the deferred-replacement list, and the pending-config-restore
// marker. Everything is plain JSON written atomically (temp file + rename)
// so a crash mid-write never leaves a half-written record.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	stateFileName    = "update-state.json"
	deferredFileName = "deferred-replacements.json"
	restoreMarker    = "pending-config-restore"
)

// UpdateState is the single persisted state record for update attempts.
// Its presence with InProgress=true across a restart is the primary crash
// signal the recovery manager acts on.
type UpdateState struct {
	LastCheckAt      time.Time `json:"lastCheckAt,omitempty"`
	LastDismissedAt  time.Time `json:"lastDismissedAt,omitempty"`
	DismissedVersion string    `json:"dismissedVersion,omitempty"`
	CurrentVersion   string    `json:"currentVersion,omitempty"`
	PendingVersion   string    `json:"pendingVersion,omitempty"`
	InProgress       bool      `json:"inProgress"`
	BackupPath       string    `json:"backupPath,omitempty"`
	DownloadPath     string    `json:"downloadPath,omitempty"`
	NetworkRetries   int       `json:"networkRetries,omitempty"`
	HashRetries      int       `json:"hashRetries,omitempty"`
}

// DeferredReplacement is a file swap postponed because the target was
// locked during extraction. Source is the already-extracted staged file.
type DeferredReplacement struct {
	Source      string    `json:"source"`
	Target      string    `json:"target"`
	ScheduledAt time.Time `json:"scheduledAt"`
}

// Store reads and writes the engine's persisted records under one directory.
type Store struct {
	dir string
}

// NewStore returns a Store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the state directory.
func (s *Store) Dir() string { return s.dir }

// StatePath returns the update state file location.
func (s *Store) StatePath() string { return filepath.Join(s.dir, stateFileName) }

// LoadState returns the persisted update state, or a zero state when the
// file does not exist yet.
func (s *Store) LoadState() (UpdateState, error) {
	var st UpdateState
	if err := readJSON(s.StatePath(), &st); err != nil {
		if os.IsNotExist(err) {
			return UpdateState{}, nil
		}
		return UpdateState{}, fmt.Errorf("load update state: %w", err)
	}
	return st, nil
}

// SaveState persists the update state atomically.
func (s *Store) SaveState(st UpdateState) error {
	if err := writeJSON(s.StatePath(), st); err != nil {
		return fmt.Errorf("save update state: %w", err)
	}
	return nil
}

// ClearState removes the update state file.
func (s *Store) ClearState() error {
	if err := os.Remove(s.StatePath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear update state: %w", err)
	}
	return nil
}

// LoadDeferred returns the pending deferred replacements, oldest first.
// A missing file means an empty list.
func (s *Store) LoadDeferred() ([]DeferredReplacement, error) {
	var list []DeferredReplacement
	if err := readJSON(s.deferredPath(), &list); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("load deferred replacements: %w", err)
	}
	return list, nil
}

// SaveDeferred persists the deferred list. An empty list deletes the file.
func (s *Store) SaveDeferred(list []DeferredReplacement) error {
	if len(list) == 0 {
		if err := os.Remove(s.deferredPath()); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove deferred replacements file: %w", err)
		}
		return nil
	}
	if err := writeJSON(s.deferredPath(), list); err != nil {
		return fmt.Errorf("save deferred replacements: %w", err)
	}
	return nil
}

// AppendDeferred adds one replacement to the persisted list.
func (s *Store) AppendDeferred(d DeferredReplacement) error {
	list, err := s.LoadDeferred()
	if err != nil {
		return err
	}
	return s.SaveDeferred(append(list, d))
}

// MarkPendingConfigRestore writes the marker consumed by the next startup
// before a backup-consuming restore begins.
func (s *Store) MarkPendingConfigRestore(backupPath string) error {
	if err := writeJSON(s.markerPath(), map[string]string{"backupPath": backupPath}); err != nil {
		return fmt.Errorf("write pending-config-restore marker: %w", err)
	}
	return nil
}

// PendingConfigRestore returns the marked backup path, if a marker exists.
func (s *Store) PendingConfigRestore() (string, bool, error) {
	var marker map[string]string
	if err := readJSON(s.markerPath(), &marker); err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read pending-config-restore marker: %w", err)
	}
	return marker["backupPath"], true, nil
}

// ClearPendingConfigRestore removes the marker once consumed.
func (s *Store) ClearPendingConfigRestore() error {
	if err := os.Remove(s.markerPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear pending-config-restore marker: %w", err)
	}
	return nil
}

func (s *Store) deferredPath() string { return filepath.Join(s.dir, deferredFileName) }
func (s *Store) markerPath() string   { return filepath.Join(s.dir, restoreMarker+".json") }

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
