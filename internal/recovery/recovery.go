// Package recovery inspects persisted update state at startup and restores
// the application directory from backup when a previous attempt died or
// left the wrong version behind.
package recovery

import (
	"fmt"

	"github.com/Zhang142857/wenyanwengongju-sub001/internal/appfiles"
	"github.com/Zhang142857/wenyanwengongju-sub001/internal/errdefs"
	"github.com/Zhang142857/wenyanwengongju-sub001/internal/events"
	"github.com/Zhang142857/wenyanwengongju-sub001/internal/logging"
	"github.com/Zhang142857/wenyanwengongju-sub001/internal/state"
	"github.com/Zhang142857/wenyanwengongju-sub001/internal/version"
)

var log = logging.L("recovery")

// Manager decides whether the last update attempt needs rolling back.
type Manager struct {
	files          *appfiles.Manager
	store          *state.Store
	bus            *events.Bus
	currentVersion string
	retentionDays  int
	configKeep     int
}

// New creates a recovery Manager for the running version.
func New(files *appfiles.Manager, store *state.Store, bus *events.Bus, currentVersion string, retentionDays, configKeep int) *Manager {
	return &Manager{
		files:          files,
		store:          store,
		bus:            bus,
		currentVersion: currentVersion,
		retentionDays:  retentionDays,
		configKeep:     configKeep,
	}
}

// InitializeOnStartup runs before anything else touches the application
// directory: deferred replacements first, then any half-done config
// restore, then the recovery decision. It reports whether the application
// must restart because files underneath it were rewritten.
func (m *Manager) InitializeOnStartup() (restartRequired bool, err error) {
	if err := m.files.ApplyDeferredReplacements(); err != nil {
		return false, fmt.Errorf("apply deferred replacements: %w", err)
	}

	if marked, found, err := m.store.PendingConfigRestore(); err != nil {
		log.Warn("unreadable pending-config-restore marker, clearing", "error", err)
		m.store.ClearPendingConfigRestore()
	} else if found {
		log.Info("resuming interrupted config restore", "backup", marked)
		if err := m.files.RestoreConfigBackup(marked); err != nil {
			log.Warn("config restore retry failed", "backup", marked, "error", err)
		}
	}

	needed, err := m.CheckRecoveryNeeded()
	if err != nil {
		return false, err
	}
	if needed {
		if err := m.PerformRecovery(); err != nil {
			return false, err
		}
		return true, nil
	}

	st, err := m.store.LoadState()
	if err != nil {
		return false, err
	}
	if st.PendingVersion != "" && m.versionReached(st) {
		if err := m.MarkUpdateSuccessful(); err != nil {
			return false, err
		}
	}
	return false, nil
}

// CheckRecoveryNeeded reports whether the persisted state describes an
// interrupted or failed update: one marked in progress, or a recorded
// pending version that was never reached.
func (m *Manager) CheckRecoveryNeeded() (bool, error) {
	st, err := m.store.LoadState()
	if err != nil {
		return false, err
	}
	if st.InProgress {
		return true, nil
	}
	return st.PendingVersion != "" && !m.versionReached(st), nil
}

// versionReached reports whether the pending version was delivered. The
// state file records the installed version when the engine finishes an
// install; the running version is consulted too, since the relaunched
// application is living proof on its own.
func (m *Manager) versionReached(st state.UpdateState) bool {
	return version.Compare(st.CurrentVersion, st.PendingVersion) == 0 ||
		m.VerifyVersion(st.PendingVersion)
}

// PerformRecovery restores the most recent backup and clears the persisted
// state. With no usable backup the pending update is aborted instead of
// retried blindly, and the failure is non-recoverable: the user must be
// pointed at manual recovery.
func (m *Manager) PerformRecovery() error {
	m.bus.Publish(events.TypeRecoveryNeeded, m.currentVersion)

	backup, found := m.files.FindLatestBackup()
	if !found {
		// Abort the pending attempt so the next startup does not loop.
		if err := m.store.ClearState(); err != nil {
			log.Warn("failed to clear state while aborting", "error", err)
		}
		err := errdefs.New(errdefs.KindSystem,
			"an interrupted update was detected but no usable backup exists", nil).NonRecoverable()
		m.bus.Publish(events.TypeError, err)
		return err
	}

	log.Info("restoring from backup", "backup", backup)
	if err := m.files.RestoreFromBackup(backup); err != nil {
		classified := errdefs.Classify(err, "restoring the previous version failed").NonRecoverable()
		m.bus.Publish(events.TypeError, classified)
		return classified
	}

	if err := m.store.ClearState(); err != nil {
		return fmt.Errorf("clear update state after recovery: %w", err)
	}

	log.Info("recovery complete", "backup", backup)
	m.bus.Publish(events.TypeRecoveryComplete, backup)
	return nil
}

// VerifyVersion reports whether the running version matches expected.
func (m *Manager) VerifyVersion(expected string) bool {
	return version.Compare(m.currentVersion, expected) == 0
}

// MarkUpdateSuccessful clears the pending version after the running
// version caught up with it, and sweeps old backups under the standard
// retention policies.
func (m *Manager) MarkUpdateSuccessful() error {
	st, err := m.store.LoadState()
	if err != nil {
		return err
	}

	installed := st.PendingVersion
	if installed == "" {
		installed = m.currentVersion
	}
	log.Info("update verified successful", "version", installed)
	st.PendingVersion = ""
	st.InProgress = false
	st.BackupPath = ""
	st.DownloadPath = ""
	st.CurrentVersion = installed
	if err := m.store.SaveState(st); err != nil {
		return err
	}

	if err := m.files.CleanupBackups(m.retentionDays); err != nil {
		log.Warn("backup retention sweep failed", "error", err)
	}
	if err := m.files.CleanupConfigBackups(m.configKeep); err != nil {
		log.Warn("config backup retention sweep failed", "error", err)
	}
	m.bus.Publish(events.TypeUpdateComplete, installed)
	return nil
}
