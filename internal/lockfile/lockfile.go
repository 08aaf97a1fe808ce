// Package lockfile enforces single-writer semantics on the application
// directory. The lock is a JSON file naming the holder pid; a lock whose
// pid is no longer running is stale and reclaimed automatically.
//
// Reclaiming dead-pid locks without operator confirmation is a deliberate
// liveness choice. The pid-reuse window is a single read-check-delete on
// acquisition and the reclaim is logged with the dead pid for auditing.
package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/Zhang142857/wenyanwengongju-sub001/internal/logging"
)

var log = logging.L("lockfile")

// ErrHeld is returned when a live process already holds the lock.
var ErrHeld = errors.New("another update is already in progress")

// Lock is the persisted lock record.
type Lock struct {
	PID       int32     `json:"pid"`
	StartedAt time.Time `json:"startedAt"`
	Version   string    `json:"version"`
}

// File manages one lock file on disk.
type File struct {
	path string
}

// New returns a File for the given lock path. Nothing touches disk until
// Acquire is called.
func New(path string) *File {
	return &File{path: path}
}

// Path returns the lock file location.
func (f *File) Path() string { return f.path }

// Acquire takes the lock for the current process, reclaiming a stale lock
// left by a dead process. If a live process holds the lock, ErrHeld is
// returned immediately; acquisition never queues or blocks.
func (f *File) Acquire(targetVersion string) error {
	existing, found, err := f.Read()
	if err != nil {
		// An unreadable lock file cannot prove a live holder; treat it
		// like a stale lock but keep the evidence in the log.
		log.Warn("unreadable lock file, reclaiming", "path", f.path, "error", err)
		found = false
	}

	if found {
		alive, err := process.PidExists(existing.PID)
		if err != nil {
			return fmt.Errorf("probe lock holder pid %d: %w", existing.PID, err)
		}
		if alive {
			return fmt.Errorf("lock held by pid %d since %s for version %s: %w",
				existing.PID, existing.StartedAt.Format(time.RFC3339), existing.Version, ErrHeld)
		}
		log.Warn("reclaiming stale update lock", "deadPid", existing.PID, "version", existing.Version)
	}

	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale lock: %w", err)
	}

	lock := Lock{
		PID:       int32(os.Getpid()),
		StartedAt: time.Now().UTC(),
		Version:   targetVersion,
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}

	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("lock file reappeared during acquisition: %w", ErrHeld)
		}
		return fmt.Errorf("create lock file: %w", err)
	}
	if err := json.NewEncoder(file).Encode(lock); err != nil {
		file.Close()
		os.Remove(f.path)
		return fmt.Errorf("write lock file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(f.path)
		return fmt.Errorf("close lock file: %w", err)
	}

	log.Debug("lock acquired", "pid", lock.PID, "version", targetVersion)
	return nil
}

// Release removes the lock if this process holds it. Releasing a lock that
// is absent or held by someone else is a no-op.
func (f *File) Release() error {
	lock, found, err := f.Read()
	if err != nil || !found {
		return nil
	}
	if lock.PID != int32(os.Getpid()) {
		log.Warn("refusing to release lock held by another pid", "holder", lock.PID)
		return nil
	}
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	log.Debug("lock released", "pid", lock.PID)
	return nil
}

// Read loads the current lock record, reporting whether one exists.
func (f *File) Read() (Lock, bool, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Lock{}, false, nil
		}
		return Lock{}, false, fmt.Errorf("read lock file: %w", err)
	}

	var lock Lock
	if err := json.Unmarshal(data, &lock); err != nil {
		return Lock{}, true, fmt.Errorf("decode lock file: %w", err)
	}
	return lock, true, nil
}

// HeldByLiveProcess reports whether a lock exists and its holder is running.
func (f *File) HeldByLiveProcess() (bool, error) {
	lock, found, err := f.Read()
	if err != nil || !found {
		return false, err
	}
	return process.PidExists(lock.PID)
}
