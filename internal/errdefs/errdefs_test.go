package errdefs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"syscall"
	"testing"
)

func TestClassifyDiskSpace(t *testing.T) {
	err := fmt.Errorf("write staging file: %w", &os.PathError{Op: "write", Path: "/x", Err: syscall.ENOSPC})
	e := Classify(err, "extraction failed")
	if e.Kind != KindDiskSpace {
		t.Fatalf("kind = %s, want %s", e.Kind, KindDiskSpace)
	}
	if !e.Recoverable {
		t.Error("disk_space should be recoverable")
	}
	if len(e.Steps) == 0 {
		t.Error("classified error should carry action steps")
	}
}

func TestClassifyPermissions(t *testing.T) {
	for _, cause := range []error{syscall.EACCES, syscall.EPERM, os.ErrPermission} {
		e := Classify(fmt.Errorf("copy: %w", cause), "backup failed")
		if e.Kind != KindPermissions {
			t.Errorf("kind(%v) = %s, want %s", cause, e.Kind, KindPermissions)
		}
	}
}

func TestClassifyNetwork(t *testing.T) {
	causes := []error{
		&url.Error{Op: "Get", URL: "http://example.invalid", Err: errors.New("refused")},
		&net.DNSError{Err: "no such host", Name: "example.invalid"},
		context.DeadlineExceeded,
	}
	for _, cause := range causes {
		e := Classify(fmt.Errorf("check: %w", cause), "check failed")
		if e.Kind != KindNetwork {
			t.Errorf("kind(%T) = %s, want %s", cause, e.Kind, KindNetwork)
		}
	}
}

func TestClassifyHTTPStatusAsNetwork(t *testing.T) {
	cause := &HTTPStatusError{StatusCode: 404, URL: "https://updates.example.com/check"}
	e := Classify(fmt.Errorf("query update server: %w", cause), "check failed")
	if e.Kind != KindNetwork {
		t.Fatalf("kind = %s, want %s", e.Kind, KindNetwork)
	}
	if !e.Recoverable {
		t.Error("a refusing server should be recoverable by retrying later")
	}
}

func TestClassifyDefaultsToSystem(t *testing.T) {
	e := Classify(errors.New("something odd"), "extraction failed")
	if e.Kind != KindSystem {
		t.Fatalf("kind = %s, want %s", e.Kind, KindSystem)
	}
}

func TestClassifyPassThrough(t *testing.T) {
	orig := New(KindCorruption, "hash mismatch after 3 attempts", nil)
	e := Classify(fmt.Errorf("update: %w", orig), "ignored")
	if e != orig {
		t.Error("already-classified error should pass through unchanged")
	}
}

func TestCorruptionNotRecoverable(t *testing.T) {
	e := New(KindCorruption, "hash mismatch", nil)
	if e.Recoverable {
		t.Error("corruption should default to non-recoverable")
	}
}

func TestNonRecoverableAddsPointer(t *testing.T) {
	e := New(KindSystem, "restore failed", errors.New("boom")).NonRecoverable()
	if e.Recoverable {
		t.Error("NonRecoverable should clear the flag")
	}
	if e.Steps[len(e.Steps)-1] != ManualRecoveryPointer {
		t.Error("NonRecoverable should append the manual-recovery pointer")
	}
}

func TestErrorMessageNeverEmpty(t *testing.T) {
	for _, kind := range []Kind{KindNetwork, KindDiskSpace, KindPermissions, KindCorruption, KindSystem} {
		e := New(kind, "failed", nil)
		if e.Error() == "" {
			t.Errorf("empty message for kind %s", kind)
		}
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	e := New(KindSystem, "wrapper", cause)
	if !errors.Is(e, cause) {
		t.Error("errors.Is should see through the classified error")
	}
}
