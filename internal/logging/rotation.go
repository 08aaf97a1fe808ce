package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// RotatingWriter appends to a single diagnostic log file, rotating it into
// numbered backups once it outgrows the size cap. Safe for concurrent use.
//
// Write never reports failure. The diagnostic log is best effort: a failed
// rotation keeps appending to the oversized file, and records with no sink
// at all are dropped rather than failing the caller.
type RotatingWriter struct {
	mu         sync.Mutex
	file       *os.File
	filePath   string
	maxSize    int64 // bytes
	maxBackups int
	written    int64
}

// NewRotatingWriter creates a writer that rotates when maxSizeMB is exceeded,
// keeping maxBackups numbered files next to the live one.
func NewRotatingWriter(filePath string, maxSizeMB int, maxBackups int) (*RotatingWriter, error) {
	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}
	if maxBackups <= 0 {
		maxBackups = 3
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0700); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	rw := &RotatingWriter{
		filePath:   filePath,
		maxSize:    int64(maxSizeMB) * 1024 * 1024,
		maxBackups: maxBackups,
	}
	if err := rw.openFile(); err != nil {
		return nil, err
	}
	return rw, nil
}

// Write implements io.Writer. It always reports the full length as written;
// the log never takes the engine down with it.
func (rw *RotatingWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.written+int64(len(p)) > rw.maxSize {
		rw.rotate()
	}
	if rw.file == nil {
		// A previous rotation lost the sink. Try to get it back each
		// write, drop the record if the directory is still gone.
		if err := rw.openFile(); err != nil {
			return len(p), nil
		}
	}
	if n, err := rw.file.Write(p); err == nil {
		rw.written += int64(n)
	}
	return len(p), nil
}

// Reopen closes and reopens the log file (for SIGHUP handling).
func (rw *RotatingWriter) Reopen() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.file != nil {
		rw.file.Close()
		rw.file = nil
	}
	return rw.openFile()
}

// Close closes the underlying file.
func (rw *RotatingWriter) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.file == nil {
		return nil
	}
	err := rw.file.Close()
	rw.file = nil
	return err
}

// TeeWriter returns an io.Writer that writes to both w1 and w2.
func TeeWriter(w1, w2 io.Writer) io.Writer {
	return io.MultiWriter(w1, w2)
}

func (rw *RotatingWriter) openFile() error {
	f, err := os.OpenFile(rw.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}

	rw.file = f
	rw.written = info.Size()
	return nil
}

func (rw *RotatingWriter) rotate() {
	if rw.file != nil {
		rw.file.Close()
		rw.file = nil
	}

	// Shift backups upward, dropping the oldest: .2 becomes .3, .1
	// becomes .2, the live file becomes .1. Rename failures are ignored;
	// whatever survives is still better than no log.
	for i := rw.maxBackups; i >= 2; i-- {
		dst := rw.backupName(i)
		if i == rw.maxBackups {
			os.Remove(dst)
		}
		os.Rename(rw.backupName(i-1), dst)
	}
	os.Rename(rw.filePath, rw.backupName(1))

	if err := rw.openFile(); err != nil {
		// Write retries the open; until then records are dropped.
		rw.written = 0
	}
}

func (rw *RotatingWriter) backupName(index int) string {
	if index == 0 {
		return rw.filePath
	}
	return fmt.Sprintf("%s.%d", rw.filePath, index)
}
