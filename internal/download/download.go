// Package download streams update packages to disk with progress
// reporting, cooperative cancellation, and SHA-256 verification.
package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Zhang142857/wenyanwengongju-sub001/internal/errdefs"
	"github.com/Zhang142857/wenyanwengongju-sub001/internal/logging"
)

var log = logging.L("download")

var (
	// ErrCancelled is returned when Cancel interrupts a download.
	ErrCancelled = errors.New("download cancelled")
	// ErrHashMismatch is returned when the downloaded file fails
	// SHA-256 verification. The caller owns the retry budget.
	ErrHashMismatch = errors.New("package hash mismatch")
)

const (
	chunkSize        = 256 * 1024
	progressInterval = 100 * time.Millisecond
)

// Progress is the ephemeral per-download progress snapshot. It is never
// persisted; it exists only while one download runs.
type Progress struct {
	BytesDownloaded int64   `json:"bytesDownloaded"`
	TotalBytes      int64   `json:"totalBytes"`
	Percent         float64 `json:"percent"`
	SpeedMBps       float64 `json:"speedMBps"`
	ETASeconds      int64   `json:"etaSeconds"`
}

// Manager downloads one package at a time.
type Manager struct {
	client  *http.Client
	timeout time.Duration

	mu        sync.Mutex
	cancelled bool
	paused    bool
	abort     context.CancelFunc
	progress  Progress
}

// NewManager creates a Manager with the given connect/read timeout.
func NewManager(timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: timeout,
		}).DialContext,
		ResponseHeaderTimeout: timeout,
		Proxy:                 http.ProxyFromEnvironment,
	}
	client := &http.Client{
		Transport: transport,
		// One transparent redirect hop, no more.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > 1 {
				return errors.New("stopped after one redirect")
			}
			return nil
		},
	}
	return &Manager{client: client, timeout: timeout}
}

// Download streams url to dest. The body is never buffered whole in memory.
// If expectedHash is non-empty the file is verified after the stream
// completes; on mismatch the file is deleted and ErrHashMismatch returned.
// onProgress, if non-nil, is called at most every 100ms plus once at the end.
func (m *Manager) Download(ctx context.Context, url, dest, expectedHash string, onProgress func(Progress)) error {
	m.mu.Lock()
	m.cancelled = false
	m.progress = Progress{}
	m.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(dest), 0700); err != nil {
		return fmt.Errorf("create download directory: %w", err)
	}

	// A child context lets Cancel and the read-stall watchdog abort a
	// blocked body read instead of waiting for the next chunk.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.mu.Lock()
	m.abort = cancel
	m.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build download request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &errdefs.HTTPStatusError{StatusCode: resp.StatusCode, URL: url}
	}

	total := resp.ContentLength
	file, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create download file: %w", err)
	}

	var stalled atomic.Bool
	watchdog := time.AfterFunc(m.timeout, func() {
		stalled.Store(true)
		cancel()
	})
	defer watchdog.Stop()

	err = m.stream(ctx, watchdog, &stalled, resp.Body, file, total, onProgress)
	closeErr := file.Close()
	if err == nil && closeErr != nil {
		err = fmt.Errorf("close download file: %w", closeErr)
	}
	if err != nil {
		os.Remove(dest)
		return err
	}

	if expectedHash != "" {
		ok, err := VerifyHash(dest, expectedHash)
		if err != nil {
			os.Remove(dest)
			return fmt.Errorf("verify package: %w", err)
		}
		if !ok {
			os.Remove(dest)
			log.Warn("package hash mismatch", "url", url)
			return ErrHashMismatch
		}
	}

	log.Info("download complete", "dest", dest, "bytes", m.Progress().BytesDownloaded)
	return nil
}

// stream copies body to file chunk by chunk. The watchdog cancels the
// request context when no chunk arrives within the timeout; stalled
// distinguishes that from a caller-initiated cancellation.
func (m *Manager) stream(ctx context.Context, watchdog *time.Timer, stalled *atomic.Bool, body io.Reader, file *os.File, total int64, onProgress func(Progress)) error {
	var downloaded int64
	lastEmit := time.Now()
	lastBytes := int64(0)

	buf := make([]byte, chunkSize)
	for {
		if err := m.waitIfPaused(ctx, watchdog); err != nil {
			return err
		}
		if m.isCancelled() {
			return ErrCancelled
		}

		n, readErr := body.Read(buf)
		watchdog.Reset(m.timeout)
		if n > 0 {
			if _, err := file.Write(buf[:n]); err != nil {
				return fmt.Errorf("write download file: %w", err)
			}
			downloaded += int64(n)

			now := time.Now()
			if elapsed := now.Sub(lastEmit); elapsed >= progressInterval {
				p := snapshot(downloaded, total, downloaded-lastBytes, elapsed)
				m.setProgress(p)
				if onProgress != nil {
					onProgress(p)
				}
				lastEmit = now
				lastBytes = downloaded
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			if m.isCancelled() {
				return ErrCancelled
			}
			if stalled.Load() {
				return fmt.Errorf("download stalled past %s: %w", m.timeout, context.DeadlineExceeded)
			}
			return fmt.Errorf("read download stream: %w", readErr)
		}
	}

	final := snapshot(downloaded, total, 0, 0)
	m.setProgress(final)
	if onProgress != nil {
		onProgress(final)
	}
	return nil
}

// Cancel marks the in-flight download as cancelled. The stream loop checks
// the flag after each chunk and removes the partial file on the way out.
func (m *Manager) Cancel() {
	m.mu.Lock()
	m.cancelled = true
	m.paused = false
	abort := m.abort
	m.mu.Unlock()
	if abort != nil {
		abort()
	}
}

// Pause suspends the stream loop before its next chunk. Used by the
// disk-space monitor when the volume runs low mid-download.
func (m *Manager) Pause() {
	m.mu.Lock()
	m.paused = true
	m.mu.Unlock()
}

// Resume lifts a pause.
func (m *Manager) Resume() {
	m.mu.Lock()
	m.paused = false
	m.mu.Unlock()
}

// Progress returns the latest progress snapshot.
func (m *Manager) Progress() Progress {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.progress
}

func (m *Manager) isCancelled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelled
}

func (m *Manager) waitIfPaused(ctx context.Context, watchdog *time.Timer) error {
	for {
		m.mu.Lock()
		paused := m.paused
		m.mu.Unlock()
		if !paused {
			return nil
		}
		// A pause is not a stall.
		watchdog.Reset(m.timeout)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (m *Manager) setProgress(p Progress) {
	m.mu.Lock()
	m.progress = p
	m.mu.Unlock()
}

func snapshot(downloaded, total, deltaBytes int64, elapsed time.Duration) Progress {
	p := Progress{
		BytesDownloaded: downloaded,
		TotalBytes:      total,
		Percent:         Percentage(downloaded, total),
	}
	if elapsed > 0 && deltaBytes > 0 {
		bytesPerSec := float64(deltaBytes) / elapsed.Seconds()
		p.SpeedMBps = bytesPerSec / (1024 * 1024)
		if total > downloaded && bytesPerSec > 0 {
			p.ETASeconds = int64(float64(total-downloaded) / bytesPerSec)
		}
	}
	return p
}

// Percentage returns downloaded/total as a percent in [0,100], rounded to
// one decimal place. An unknown total reports 0.
func Percentage(downloaded, total int64) float64 {
	if total <= 0 || downloaded <= 0 {
		return 0
	}
	if downloaded >= total {
		return 100
	}
	pct := float64(downloaded) / float64(total) * 100
	pct = float64(int64(pct*10+0.5)) / 10
	if pct > 100 {
		pct = 100
	}
	return pct
}

// VerifyHash streams path through SHA-256 and compares against expected,
// case-insensitively. The file is never loaded whole into memory.
func VerifyHash(path, expected string) (bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return false, err
	}

	actual := hex.EncodeToString(hasher.Sum(nil))
	return strings.EqualFold(actual, expected), nil
}
