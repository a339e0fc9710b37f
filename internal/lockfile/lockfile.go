// Package lockfile guards an Enkidu state directory against a second running instance.
//
// The lock is a flock on a file inside the directory, so the kernel drops it when the
// process exits, however it exits.
package lockfile

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is the name of the lock file created in the state directory
const LockFileName = "enkidu.lock"

// ErrLocked is matched by errors.Is when another process holds the lock.
var ErrLocked = errors.New("state directory locked by another process")

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
}

// Info describes the holder of a lock as recorded in the lock file.
type Info struct {
	PID       int
	StartedAt time.Time
	Command   string
}

// String renders the lock file content.
func (i Info) String() string {
	return fmt.Sprintf("pid=%d\nstarted=%s\ncommand=%s\n", i.PID, i.StartedAt.UTC().Format(time.RFC3339), i.Command)
}

// parseInfo reads the key=value lines of a lock file. Unknown keys are ignored.
func parseInfo(content string) Info {
	var info Info
	for _, line := range strings.Split(content, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			if pid, err := strconv.Atoi(value); err == nil {
				info.PID = pid
			}
		case "started":
			if ts, err := time.Parse(time.RFC3339, value); err == nil {
				info.StartedAt = ts
			}
		case "command":
			info.Command = value
		}
	}
	return info
}

// AcquireLock takes the exclusive lock on stateDir, creating the directory when needed.
// It fails immediately with a *LockError when another process holds the lock.
func AcquireLock(stateDir string) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)
	slog.Debug("lockfile.AcquireLock: acquiring", "lock_path", lockPath)

	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}
	// no O_TRUNC: the holder's info must survive a failed attempt
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		holder := describeHolder(lockPath)
		slog.Error("lockfile.AcquireLock: another Enkidu instance holds the lock", "lock_path", lockPath, "holder", holder, "error", err)
		return nil, &LockError{LockPath: lockPath, Holder: holder, Cause: err}
	}

	info := Info{PID: os.Getpid(), StartedAt: time.Now(), Command: strings.Join(os.Args, " ")}
	if err := writeInfo(file, info); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock information to %s: %w", lockPath, err)
	}

	slog.Info("lockfile.AcquireLock: state directory locked", "lock_path", lockPath, "pid", info.PID)
	return &Lock{file: file, path: lockPath}, nil
}

func writeInfo(file *os.File, info Info) error {
	if err := file.Truncate(0); err != nil {
		return err
	}
	if _, err := file.WriteAt([]byte(info.String()), 0); err != nil {
		return err
	}
	if err := file.Sync(); err != nil {
		slog.Warn("lockfile.writeInfo: sync failed", "error", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release drops the lock and removes the lock file. It is safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	var errs []error
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		errs = append(errs, fmt.Errorf("unlock: %w", err))
	}
	if err := l.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close: %w", err))
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, fmt.Errorf("remove: %w", err))
	}
	l.file = nil

	if err := errors.Join(errs...); err != nil {
		slog.Error("lockfile.Release: release incomplete", "lock_path", l.path, "error", err)
		return err
	}
	slog.Info("lockfile.Release: state directory unlocked", "lock_path", l.path)
	return nil
}

// LockError reports a lock held by another process.
type LockError struct {
	LockPath string
	Holder   string
	Cause    error
}

func (e *LockError) Error() string {
	msg := fmt.Sprintf("another Enkidu instance is already using this state directory (lock file %s", e.LockPath)
	if e.Holder != "" {
		msg += ", held by " + e.Holder
	}
	return msg + "); if no other instance is running the lock is stale and the file can be removed"
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

// Is makes errors.Is(err, ErrLocked) true for every LockError.
func (e *LockError) Is(target error) bool {
	return target == ErrLocked
}

// describeHolder summarizes the lock file content for error messages.
func describeHolder(lockPath string) string {
	data, err := os.ReadFile(lockPath)
	if err != nil || len(data) == 0 {
		return ""
	}
	info := parseInfo(string(data))
	if info.PID <= 0 {
		return ""
	}
	state := "running"
	if !isProcessRunning(info.PID) {
		state = "not running"
	}
	desc := fmt.Sprintf("PID %d (%s)", info.PID, state)
	if !info.StartedAt.IsZero() {
		desc += " since " + info.StartedAt.Format(time.RFC3339)
	}
	return desc
}

// isProcessRunning sends signal 0, which only checks that the process exists.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
