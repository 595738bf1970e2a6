package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestAcquireLockWritesHolder(t *testing.T) {
	dir := t.TempDir()
	lock, err := AcquireLock(dir, "sqlite")
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	defer lock.Release()

	if lock.Path() != filepath.Join(dir, LockFileName) {
		t.Errorf("Path = %q", lock.Path())
	}
	h := readHolder(lock.Path())
	if h.PID != os.Getpid() {
		t.Errorf("holder pid = %d, want %d", h.PID, os.Getpid())
	}
	if h.Backend != "sqlite" {
		t.Errorf("holder backend = %q", h.Backend)
	}
	if time.Since(h.Started) > time.Minute {
		t.Errorf("holder start time looks wrong: %v", h.Started)
	}
}

func TestLockConflict(t *testing.T) {
	dir := t.TempDir()
	first, err := AcquireLock(dir, "sqlite")
	if err != nil {
		t.Fatalf("first AcquireLock: %v", err)
	}
	defer first.Release()

	_, err = AcquireLock(dir, "postgres")
	var lockErr *LockError
	if !errors.As(err, &lockErr) {
		t.Fatalf("expected *LockError, got %v", err)
	}
	if lockErr.Holder.PID != os.Getpid() || lockErr.Holder.Backend != "sqlite" {
		t.Errorf("conflict should report the first holder untouched, got %+v", lockErr.Holder)
	}
	if !strings.Contains(err.Error(), "running") {
		t.Errorf("error should describe the running holder: %v", err)
	}
}

func TestReleaseAndReacquire(t *testing.T) {
	dir := t.TempDir()
	lock, err := AcquireLock(dir, "")
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}
	if _, err := os.Stat(lock.Path()); !os.IsNotExist(err) {
		t.Error("lock file should be removed on release")
	}

	again, err := AcquireLock(dir, "")
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	again.Release()
}

func TestAcquireLockCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")
	lock, err := AcquireLock(dir, "")
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	defer lock.Release()
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("state directory not created: %v", err)
	}
}

func TestParseHolder(t *testing.T) {
	tests := []struct {
		content string
		want    Holder
	}{
		{"pid=1234\n", Holder{PID: 1234}},
		{"pid=42\nstarted=2024-05-01T10:00:00Z\nbackend=postgres\n", Holder{PID: 42, Started: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), Backend: "postgres"}},
		{"garbage", Holder{}},
		{"", Holder{}},
		{"pid=abc\nother=1", Holder{}},
	}
	for _, tt := range tests {
		got := parseHolder(tt.content)
		if got.PID != tt.want.PID || got.Backend != tt.want.Backend || !got.Started.Equal(tt.want.Started) {
			t.Errorf("parseHolder(%q) = %+v, want %+v", tt.content, got, tt.want)
		}
	}
}

func TestHolderString(t *testing.T) {
	if s := (Holder{}).String(); s != "unknown process" {
		t.Errorf("empty holder = %q", s)
	}
	if s := (Holder{PID: os.Getpid()}).String(); !strings.Contains(s, "(running)") {
		t.Errorf("current process should be running: %q", s)
	}
}

func TestIsProcessRunning(t *testing.T) {
	if !isProcessRunning(os.Getpid()) {
		t.Error("current process should be running")
	}
	if isProcessRunning(999999) {
		t.Error("PID 999999 should not be running")
	}
}
