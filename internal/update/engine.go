// Package update orchestrates the end-to-end pipeline: check, download,
// verify, back up, install, restart. The engine owns the status machine and
// the update lock; everything below it (files, downloads, state) is done by
// the managers it composes.
package update

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Zhang142857/wenyanwengongju-sub001/internal/appfiles"
	"github.com/Zhang142857/wenyanwengongju-sub001/internal/config"
	"github.com/Zhang142857/wenyanwengongju-sub001/internal/diskspace"
	"github.com/Zhang142857/wenyanwengongju-sub001/internal/download"
	"github.com/Zhang142857/wenyanwengongju-sub001/internal/errdefs"
	"github.com/Zhang142857/wenyanwengongju-sub001/internal/events"
	"github.com/Zhang142857/wenyanwengongju-sub001/internal/lockfile"
	"github.com/Zhang142857/wenyanwengongju-sub001/internal/logging"
	"github.com/Zhang142857/wenyanwengongju-sub001/internal/state"
	"github.com/Zhang142857/wenyanwengongju-sub001/internal/version"
)

var log = logging.L("update")

const lockFileName = "update.lock"

// Engine runs update attempts one at a time.
type Engine struct {
	cfg     *config.Config
	files   *appfiles.Manager
	store   *state.Store
	bus     *events.Bus
	checker *Checker
	dl      *download.Manager
	lock    *lockfile.File

	// relaunch and tick are swapped out by tests.
	relaunch func(path string) error
	tick     func(d time.Duration)

	mu        sync.Mutex
	status    Status
	available *UpdateInfo
}

// NewEngine wires an Engine from its managers.
func NewEngine(cfg *config.Config, files *appfiles.Manager, store *state.Store, bus *events.Bus) *Engine {
	return &Engine{
		cfg:      cfg,
		files:    files,
		store:    store,
		bus:      bus,
		checker:  NewChecker(cfg.CheckURL, cfg.DownloadTimeout()),
		dl:       download.NewManager(cfg.DownloadTimeout()),
		lock:     lockfile.New(filepath.Join(store.Dir(), lockFileName)),
		relaunch: relaunch,
		tick:     time.Sleep,
		status:   StatusIdle,
	}
}

// Status returns the current engine status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Available returns the manifest of the last newer version seen, if any.
func (e *Engine) Available() *UpdateInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.available
}

// Progress returns the latest download progress snapshot.
func (e *Engine) Progress() download.Progress {
	return e.dl.Progress()
}

// CheckForUpdates queries the server once. While another stage is running
// the call is a no-op. A newer version is announced on the event bus unless
// the user dismissed that exact version within the dismiss window; a
// mandatory release is announced regardless.
func (e *Engine) CheckForUpdates(ctx context.Context) (*UpdateInfo, error) {
	if !e.transition(StatusIdle, StatusChecking) {
		log.Debug("check skipped, engine busy", "status", e.Status())
		return nil, nil
	}
	defer e.setStatus(StatusIdle)

	st, err := e.store.LoadState()
	if err != nil {
		return nil, err
	}
	st.LastCheckAt = time.Now().UTC()

	info, checkErr := e.checker.Check(ctx, e.cfg.CurrentVersion)
	if saveErr := e.store.SaveState(st); saveErr != nil {
		log.Warn("failed to record check time", "error", saveErr)
	}
	if checkErr != nil {
		classified := errdefs.Classify(checkErr, "checking for updates failed")
		e.bus.Publish(events.TypeError, classified)
		return nil, classified
	}

	if info == nil || !version.Newer(info.Version, e.cfg.CurrentVersion) {
		log.Debug("no newer version published", "current", e.cfg.CurrentVersion)
		return nil, nil
	}

	e.mu.Lock()
	e.available = info
	e.mu.Unlock()

	if e.dismissed(st, info) {
		log.Info("update suppressed by recent dismissal", "version", info.Version)
		return info, nil
	}

	log.Info("update available", "version", info.Version, "force", info.ForceUpdate)
	e.bus.Publish(events.TypeUpdateAvailable, info)
	return info, nil
}

// dismissed reports whether the user declined this exact version within the
// dismiss window. Mandatory releases are never suppressed.
func (e *Engine) dismissed(st state.UpdateState, info *UpdateInfo) bool {
	if info.ForceUpdate {
		return false
	}
	return st.DismissedVersion == info.Version &&
		time.Since(st.LastDismissedAt) < e.cfg.DismissWindow()
}

// ShouldShowNotification reports whether the announced version should be
// surfaced to the user right now.
func (e *Engine) ShouldShowNotification() bool {
	e.mu.Lock()
	info := e.available
	e.mu.Unlock()
	if info == nil {
		return false
	}
	st, err := e.store.LoadState()
	if err != nil {
		return false
	}
	return !e.dismissed(st, info)
}

// DismissUpdate records that the user declined the currently announced
// version. Mandatory releases cannot be dismissed.
func (e *Engine) DismissUpdate() error {
	e.mu.Lock()
	info := e.available
	e.mu.Unlock()

	if info == nil {
		return errors.New("no announced update to dismiss")
	}
	if info.ForceUpdate {
		return fmt.Errorf("version %s is a mandatory update and cannot be dismissed", info.Version)
	}

	st, err := e.store.LoadState()
	if err != nil {
		return err
	}
	st.LastDismissedAt = time.Now().UTC()
	st.DismissedVersion = info.Version
	log.Info("update dismissed", "version", info.Version)
	return e.store.SaveState(st)
}

// StartUpdate runs the full pipeline for the announced version. targetVersion
// may be empty; when given it must name the announced version. A cancellation
// mid-download returns download.ErrCancelled without an error event; every
// other failure is classified and published.
func (e *Engine) StartUpdate(ctx context.Context, targetVersion string) error {
	e.mu.Lock()
	info := e.available
	e.mu.Unlock()
	if info == nil {
		return errors.New("no update available to install")
	}
	if targetVersion != "" && version.Compare(targetVersion, info.Version) != 0 {
		return fmt.Errorf("version %s is not the announced update (%s)", targetVersion, info.Version)
	}

	if !e.transition(StatusIdle, StatusDownloading) {
		return fmt.Errorf("engine is %s, not idle", e.Status())
	}

	err := e.run(ctx, info)
	if err == nil {
		e.setStatus(StatusIdle)
		return nil
	}
	if errors.Is(err, download.ErrCancelled) {
		log.Info("update cancelled", "version", info.Version)
		e.setStatus(StatusIdle)
		return err
	}

	classified := errdefs.Classify(err, "the update could not be completed")
	log.Error("update failed", "version", info.Version, "error", classified)

	// Retryable infrastructure failures park the engine back at idle so the
	// periodic check can try again; everything else surfaces as the error
	// state first.
	retryable := classified.Recoverable &&
		(classified.Kind == errdefs.KindNetwork || classified.Kind == errdefs.KindDiskSpace)
	if !retryable {
		e.setStatus(StatusError)
	}
	e.bus.Publish(events.TypeError, classified)
	e.setStatus(StatusIdle)
	return classified
}

// CancelUpdate interrupts an in-flight download. Stages past verification
// are not interruptible; once the backup exists the update runs to the end.
func (e *Engine) CancelUpdate() {
	e.dl.Cancel()
}

// PauseDownload suspends the download stream, used when disk space runs low.
func (e *Engine) PauseDownload() { e.dl.Pause() }

// ResumeDownload lifts a pause.
func (e *Engine) ResumeDownload() { e.dl.Resume() }

func (e *Engine) run(ctx context.Context, info *UpdateInfo) error {
	if err := e.lock.Acquire(info.Version); err != nil {
		return err
	}
	defer func() {
		if err := e.lock.Release(); err != nil {
			log.Warn("lock release failed", "error", err)
		}
	}()

	ok, err := e.files.CheckDiskSpace(info.PackageSize)
	if err != nil {
		return fmt.Errorf("probe disk space: %w", err)
	}
	if !ok {
		return errdefs.New(errdefs.KindDiskSpace,
			fmt.Sprintf("the update needs %d bytes free but the volume has less", diskspace.Required(info.PackageSize)), nil)
	}

	pkg := filepath.Join(e.files.DownloadsDir(), fmt.Sprintf("update-%s.zip", info.Version))
	if err := e.fetchVerified(ctx, info, pkg); err != nil {
		return err
	}

	e.setStatus(StatusBackingUp)
	if _, err := e.files.CreateConfigBackup(); err != nil {
		// Config backups are convenience snapshots; the whole-app backup
		// below is the real safety net.
		log.Warn("config backup failed", "error", err)
	}
	backupPath, err := e.files.CreateBackup(e.cfg.CurrentVersion)
	if err != nil {
		os.Remove(pkg)
		return errdefs.Classify(err, "creating the pre-update backup failed")
	}

	st, err := e.store.LoadState()
	if err != nil {
		return err
	}
	st.InProgress = true
	st.PendingVersion = info.Version
	st.CurrentVersion = e.cfg.CurrentVersion
	st.BackupPath = backupPath
	st.DownloadPath = pkg
	if err := e.store.SaveState(st); err != nil {
		return err
	}

	e.setStatus(StatusInstalling)
	if err := e.files.ExtractUpdate(pkg); err != nil {
		os.Remove(pkg)
		return e.rollback(backupPath, err)
	}

	// The state file is what survives the restart: it must already name the
	// new version as current, or the next startup would mistake a finished
	// install for a failed one and roll it back.
	st.InProgress = false
	st.DownloadPath = ""
	st.CurrentVersion = info.Version
	if err := e.store.SaveState(st); err != nil {
		return err
	}
	if err := os.Remove(pkg); err != nil {
		log.Warn("could not remove downloaded package", "path", pkg, "error", err)
	}

	log.Info("update installed", "version", info.Version)
	e.bus.Publish(events.TypeUpdateComplete, info.Version)

	// The relaunched application may start its own engine; the lock must be
	// gone before it comes up. Release is idempotent, the deferred call
	// becomes a no-op.
	if err := e.lock.Release(); err != nil {
		log.Warn("lock release failed", "error", err)
	}

	e.setStatus(StatusRestarting)
	for remaining := e.cfg.RestartCountdownSecs; remaining > 0; remaining-- {
		e.bus.Publish(events.TypeRestartCountdown, remaining)
		e.tick(time.Second)
	}
	if err := e.relaunch(filepath.Join(e.cfg.AppDir, e.cfg.AppExecutable)); err != nil {
		return errdefs.Classify(err, "relaunching the application failed")
	}
	return nil
}

// fetchVerified downloads the package and verifies its SHA-256, retrying
// within two independent budgets: transient network failures and hash
// mismatches. Exhausting the hash budget is corruption, not a network
// problem, and is not recoverable by retrying harder.
func (e *Engine) fetchVerified(ctx context.Context, info *UpdateInfo, dest string) error {
	onProgress := func(p download.Progress) {
		e.bus.Publish(events.TypeDownloadProgress, p)
	}

	st, err := e.store.LoadState()
	if err != nil {
		return err
	}
	st.NetworkRetries = 0
	st.HashRetries = 0

	for {
		e.setStatus(StatusDownloading)
		err := e.dl.Download(ctx, info.DownloadURL, dest, "", onProgress)
		if err != nil {
			if errors.Is(err, download.ErrCancelled) {
				return err
			}
			st.NetworkRetries++
			if saveErr := e.store.SaveState(st); saveErr != nil {
				log.Warn("failed to record retry count", "error", saveErr)
			}
			if st.NetworkRetries > e.cfg.MaxNetworkRetries {
				return errdefs.Classify(err, "downloading the update package failed repeatedly")
			}
			log.Warn("download failed, retrying", "attempt", st.NetworkRetries, "error", err)
			continue
		}

		e.setStatus(StatusVerifying)
		ok, err := download.VerifyHash(dest, info.FileHash)
		if err != nil {
			os.Remove(dest)
			return errdefs.Classify(err, "reading the downloaded package back failed")
		}
		if ok {
			return nil
		}

		os.Remove(dest)
		st.HashRetries++
		if saveErr := e.store.SaveState(st); saveErr != nil {
			log.Warn("failed to record retry count", "error", saveErr)
		}
		log.Warn("package failed verification", "attempt", st.HashRetries)
		if st.HashRetries >= e.cfg.MaxHashRetries {
			return errdefs.New(errdefs.KindCorruption,
				fmt.Sprintf("the downloaded package failed verification %d times", st.HashRetries),
				download.ErrHashMismatch)
		}
	}
}

// rollback restores the pre-update backup after a failed install. Only when
// the restore itself fails is the failure non-recoverable.
func (e *Engine) rollback(backupPath string, cause error) error {
	log.Warn("install failed, rolling back", "backup", backupPath, "error", cause)
	if err := e.files.RestoreFromBackup(backupPath); err != nil {
		log.Error("rollback failed", "backup", backupPath, "error", err)
		return errdefs.Classify(cause, "installing the update failed and the previous version could not be restored").NonRecoverable()
	}
	if err := e.store.ClearState(); err != nil {
		log.Warn("failed to clear state after rollback", "error", err)
	}
	return errdefs.Classify(cause, "installing the update failed; the previous version was restored")
}

func (e *Engine) transition(from, to Status) bool {
	e.mu.Lock()
	if e.status != from {
		e.mu.Unlock()
		return false
	}
	e.status = to
	e.mu.Unlock()
	e.bus.Publish(events.TypeStatusChanged, string(to))
	return true
}

func (e *Engine) setStatus(s Status) {
	e.mu.Lock()
	if e.status == s {
		e.mu.Unlock()
		return
	}
	e.status = s
	e.mu.Unlock()
	e.bus.Publish(events.TypeStatusChanged, string(s))
}
