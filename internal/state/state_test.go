package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestLoadStateMissingReturnsZero(t *testing.T) {
	s := newStore(t)
	st, err := s.LoadState()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if st.InProgress || st.PendingVersion != "" {
		t.Errorf("missing state file should load as zero state: %+v", st)
	}
}

func TestSaveLoadClearState(t *testing.T) {
	s := newStore(t)

	want := UpdateState{
		CurrentVersion: "1.0.0",
		PendingVersion: "1.1.0",
		InProgress:     true,
		BackupPath:     "/data/backups/1.0.0-x",
		DownloadPath:   "/data/downloads/pkg.zip",
		NetworkRetries: 2,
		HashRetries:    1,
		LastCheckAt:    time.Now().UTC().Truncate(time.Second),
	}
	if err := s.SaveState(want); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.LoadState()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.PendingVersion != want.PendingVersion || !got.InProgress ||
		got.BackupPath != want.BackupPath || got.NetworkRetries != 2 {
		t.Errorf("round trip mismatch: %+v", got)
	}

	if err := s.ClearState(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := os.Stat(s.StatePath()); !os.IsNotExist(err) {
		t.Error("state file should be removed after Clear")
	}
	// Clearing twice must not error.
	if err := s.ClearState(); err != nil {
		t.Fatalf("second clear: %v", err)
	}
}

func TestSaveStateLeavesNoTempFiles(t *testing.T) {
	s := newStore(t)
	if err := s.SaveState(UpdateState{CurrentVersion: "1.0.0"}); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(s.Dir())
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".json" {
			t.Errorf("unexpected leftover file: %s", e.Name())
		}
	}
}

func TestDeferredListLifecycle(t *testing.T) {
	s := newStore(t)

	list, err := s.LoadDeferred()
	if err != nil || len(list) != 0 {
		t.Fatalf("initial list: %v %v", list, err)
	}

	d1 := DeferredReplacement{Source: "/stage/a.dll", Target: "/app/a.dll", ScheduledAt: time.Now()}
	d2 := DeferredReplacement{Source: "/stage/b.dll", Target: "/app/b.dll", ScheduledAt: time.Now()}
	if err := s.AppendDeferred(d1); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendDeferred(d2); err != nil {
		t.Fatal(err)
	}

	list, err = s.LoadDeferred()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].Target != "/app/a.dll" || list[1].Target != "/app/b.dll" {
		t.Errorf("deferred list mismatch: %+v", list)
	}

	// Emptying the list deletes the file.
	if err := s.SaveDeferred(nil); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(s.Dir(), "deferred-replacements.json")); !os.IsNotExist(err) {
		t.Error("deferred file should be deleted once the list is empty")
	}
}

func TestPendingConfigRestoreMarker(t *testing.T) {
	s := newStore(t)

	if _, found, err := s.PendingConfigRestore(); err != nil || found {
		t.Fatalf("marker should be absent initially: found=%v err=%v", found, err)
	}

	if err := s.MarkPendingConfigRestore("/data/config-backups/cb-1"); err != nil {
		t.Fatal(err)
	}
	path, found, err := s.PendingConfigRestore()
	if err != nil || !found {
		t.Fatalf("marker should exist: found=%v err=%v", found, err)
	}
	if path != "/data/config-backups/cb-1" {
		t.Errorf("marker path = %s", path)
	}

	if err := s.ClearPendingConfigRestore(); err != nil {
		t.Fatal(err)
	}
	if _, found, _ := s.PendingConfigRestore(); found {
		t.Error("marker should be gone after Clear")
	}
}
