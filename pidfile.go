package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// syncLockName is the lock file in the data directory. Whoever holds its
// flock is the one process allowed to run sync cycles: a `sync --watch` for
// its whole life, a one-shot command for one cycle. The file holds the
// holder's PID so other commands can nudge it.
const syncLockName = "sync.pid"

// pidFilePermissions matches the standard config file permissions (owner rw, group/other r).
const pidFilePermissions = 0o644

// pidDirPermissions matches the standard directory permissions (owner rwx, group/other rx).
const pidDirPermissions = 0o755

// errSyncLocked means another process holds the sync lock.
var errSyncLocked = errors.New("another cardsync process is syncing")

// errNoSyncHolder means nothing holds the sync lock, so there is no one to
// nudge.
var errNoSyncHolder = errors.New("no running sync")

func syncLockPath(dataDir string) string {
	return filepath.Join(dataDir, syncLockName)
}

// acquireSyncLock takes the sync lock of dataDir and records the current PID
// in it. When another process holds the lock the error wraps errSyncLocked
// and names the holder's PID if it has written one. The returned release
// clears the PID and drops the lock; the file itself stays so every process
// locks the same inode.
func acquireSyncLock(dataDir string) (release func(), err error) {
	if dataDir == "" {
		return nil, errors.New("sync lock: data directory is empty")
	}

	if err := os.MkdirAll(dataDir, pidDirPermissions); err != nil {
		return nil, fmt.Errorf("sync lock: creating data directory: %w", err)
	}

	path := syncLockPath(dataDir)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, pidFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("sync lock: opening %s: %w", path, err)
	}

	// Non-blocking: a second caller fails at once instead of queueing.
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()

		if pid, readErr := readLockPID(path); readErr == nil {
			return nil, fmt.Errorf("%w (PID %d)", errSyncLocked, pid)
		}

		return nil, errSyncLocked
	}

	if err := writeLockPID(f); err != nil {
		f.Close()

		return nil, fmt.Errorf("sync lock: recording PID in %s: %w", path, err)
	}

	return func() {
		_ = f.Truncate(0)
		f.Close()
	}, nil
}

func writeLockPID(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}

	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		return err
	}

	// Readers must see the PID as soon as the lock is visible.
	return f.Sync()
}

// readLockPID reads the PID recorded in a lock file. An empty file, from a
// released lock or a holder that has not written yet, is an error.
func readLockPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", path, err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in %s: %w", path, err)
	}

	return pid, nil
}

// lockHeld reports whether some process holds the flock on path. It takes
// and drops a shared lock, which conflicts only with a holder's exclusive one.
func lockHeld(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_SH|syscall.LOCK_NB); err != nil {
		return errors.Is(err, syscall.EWOULDBLOCK)
	}

	_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)

	return false
}

// syncHolder returns the PID of the process holding the sync lock of
// dataDir. A leftover PID with no lock behind it does not count.
func syncHolder(dataDir string) (int, bool) {
	path := syncLockPath(dataDir)
	if !lockHeld(path) {
		return 0, false
	}

	pid, err := readLockPID(path)
	if err != nil {
		return 0, false
	}

	return pid, true
}

// nudgeSyncHolder sends SIGHUP to the process holding the sync lock of
// dataDir, which answers with a sync cycle. It fails with errNoSyncHolder
// when the lock is free.
func nudgeSyncHolder(dataDir string) error {
	pid, ok := syncHolder(dataDir)
	if !ok {
		return fmt.Errorf("%w in %s", errNoSyncHolder, dataDir)
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding sync process %d: %w", pid, err)
	}

	if err := proc.Signal(syscall.SIGHUP); err != nil {
		return fmt.Errorf("sending SIGHUP to sync process (PID %d): %w", pid, err)
	}

	return nil
}
