package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestAcquireLock_WritesHolderInfo(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	defer lock.Release()

	if lock.Path() != filepath.Join(dir, LockFileName) {
		t.Errorf("unexpected lock path %q", lock.Path())
	}
	data, err := os.ReadFile(lock.Path())
	if err != nil {
		t.Fatalf("Failed to read lock file: %v", err)
	}
	info := parseInfo(string(data))
	if info.PID != os.Getpid() {
		t.Errorf("expected pid %d, got %d", os.Getpid(), info.PID)
	}
	if info.StartedAt.IsZero() || time.Since(info.StartedAt) > time.Minute {
		t.Errorf("unexpected start time %v", info.StartedAt)
	}
}

func TestAcquireLock_Conflict(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("Failed to acquire first lock: %v", err)
	}
	defer lock.Release()

	// a second flock on a new file description conflicts even within one process
	_, err = AcquireLock(dir)
	if err == nil {
		t.Fatal("expected second AcquireLock to fail")
	}
	if !errors.Is(err, ErrLocked) {
		t.Errorf("expected ErrLocked, got %v", err)
	}
	var lockErr *LockError
	if !errors.As(err, &lockErr) {
		t.Fatalf("expected *LockError, got %T", err)
	}
	if !strings.Contains(lockErr.Holder, "running") {
		t.Errorf("expected holder description, got %q", lockErr.Holder)
	}
	if !strings.Contains(err.Error(), lock.Path()) {
		t.Errorf("error should name the lock file: %v", err)
	}

	// the failed attempt must not wipe the holder's info
	data, _ := os.ReadFile(lock.Path())
	if parseInfo(string(data)).PID != os.Getpid() {
		t.Error("holder info lost after conflicting attempt")
	}
}

func TestRelease(t *testing.T) {
	dir := t.TempDir()
	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release returned error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, LockFileName)); !os.IsNotExist(err) {
		t.Error("lock file should be removed on release")
	}
	if err := lock.Release(); err != nil {
		t.Errorf("second Release returned error: %v", err)
	}

	again, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("Failed to reacquire lock: %v", err)
	}
	again.Release()
}

func TestAcquireLock_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")
	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("Failed to acquire lock in new directory: %v", err)
	}
	defer lock.Release()

	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		t.Errorf("state directory not created: %v", err)
	}
}

func TestParseInfo(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    Info
	}{
		{name: "full", content: "pid=42\nstarted=2026-03-01T09:00:00Z\ncommand=enkidu serve\n",
			want: Info{PID: 42, StartedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), Command: "enkidu serve"}},
		{name: "pid only", content: "pid=7\n", want: Info{PID: 7}},
		{name: "garbage", content: "hello\npid=abc\n", want: Info{}},
		{name: "empty", content: "", want: Info{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseInfo(tt.content)
			if got.PID != tt.want.PID || !got.StartedAt.Equal(tt.want.StartedAt) || got.Command != tt.want.Command {
				t.Errorf("parseInfo(%q) = %+v, want %+v", tt.content, got, tt.want)
			}
		})
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
