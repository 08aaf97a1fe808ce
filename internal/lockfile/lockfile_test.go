package lockfile

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func lockPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "update.lock")
}

func TestAcquireAndRelease(t *testing.T) {
	f := New(lockPath(t))

	if err := f.Acquire("1.1.0"); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	lock, found, err := f.Read()
	if err != nil || !found {
		t.Fatalf("read after acquire: found=%v err=%v", found, err)
	}
	if lock.PID != int32(os.Getpid()) {
		t.Errorf("pid = %d, want %d", lock.PID, os.Getpid())
	}
	if lock.Version != "1.1.0" {
		t.Errorf("version = %s, want 1.1.0", lock.Version)
	}

	if err := f.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, found, _ := f.Read(); found {
		t.Error("lock file should be gone after release")
	}
}

func TestAcquireFailsWhenHeldByLivePid(t *testing.T) {
	path := lockPath(t)

	// Current process is certainly alive.
	held := Lock{PID: int32(os.Getpid()), StartedAt: time.Now(), Version: "9.9.9"}
	data, _ := json.Marshal(held)
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}

	f := New(path)
	err := f.Acquire("1.1.0")
	if !errors.Is(err, ErrHeld) {
		t.Fatalf("expected ErrHeld, got %v", err)
	}

	// The live holder's record must be untouched.
	lock, _, _ := f.Read()
	if lock.Version != "9.9.9" {
		t.Errorf("live lock was clobbered: %+v", lock)
	}
}

func TestAcquireReclaimsStaleLock(t *testing.T) {
	path := lockPath(t)

	// Pid values this high do not exist on any test machine.
	stale := Lock{PID: 1 << 22, StartedAt: time.Now().Add(-time.Hour), Version: "1.0.5"}
	data, _ := json.Marshal(stale)
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}

	f := New(path)
	if err := f.Acquire("1.1.0"); err != nil {
		t.Fatalf("stale lock should be reclaimed: %v", err)
	}

	lock, _, _ := f.Read()
	if lock.PID != int32(os.Getpid()) {
		t.Errorf("lock not rewritten for current pid: %+v", lock)
	}
}

func TestAcquireReclaimsCorruptLock(t *testing.T) {
	path := lockPath(t)
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}

	f := New(path)
	if err := f.Acquire("1.1.0"); err != nil {
		t.Fatalf("corrupt lock should be reclaimed: %v", err)
	}
}

func TestReleaseRefusesForeignLock(t *testing.T) {
	path := lockPath(t)
	foreign := Lock{PID: 1 << 22, StartedAt: time.Now(), Version: "2.0.0"}
	data, _ := json.Marshal(foreign)
	os.WriteFile(path, data, 0600)

	f := New(path)
	if err := f.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, found, _ := f.Read(); !found {
		t.Error("foreign lock should not be removed by Release")
	}
}

func TestReleaseWithoutLockIsNoop(t *testing.T) {
	f := New(lockPath(t))
	if err := f.Release(); err != nil {
		t.Fatalf("release without lock: %v", err)
	}
}

func TestHeldByLiveProcess(t *testing.T) {
	f := New(lockPath(t))

	held, err := f.HeldByLiveProcess()
	if err != nil || held {
		t.Fatalf("no lock: held=%v err=%v", held, err)
	}

	if err := f.Acquire("1.1.0"); err != nil {
		t.Fatal(err)
	}
	held, err = f.HeldByLiveProcess()
	if err != nil || !held {
		t.Fatalf("own lock: held=%v err=%v", held, err)
	}
}
