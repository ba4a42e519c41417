// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"syscall"
	"time"
)

// FileLock guards the catalog database file with an OS advisory lock:
// exclusive for the columnar (duckdb) backend's single writer, shared
// for concurrent readers. A sidecar JSON file records the holder for
// diagnostics; writing it is best-effort.
type FileLock struct {
	path     string
	sidecar  string
	file     *os.File
	exclusive bool
}

// lockInfo is the sidecar payload written alongside a held lock.
type lockInfo struct {
	PID       int       `json:"pid"`
	Exe       string    `json:"exe,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Mode      string    `json:"mode"`
}

// NewFileLock returns a lock bound to <dbPath>.lock.
func NewFileLock(dbPath string) *FileLock {
	return &FileLock{path: dbPath + ".lock", sidecar: dbPath + ".lock.json"}
}

// TryExclusive attempts a non-blocking exclusive acquisition. It
// returns ErrLocked if another process holds any lock on the file.
func (l *FileLock) TryExclusive() error {
	return l.acquire(syscall.LOCK_EX|syscall.LOCK_NB, true)
}

// TryShared attempts a non-blocking shared acquisition; it may
// coexist with other shared holders but not with an exclusive one.
func (l *FileLock) TryShared() error {
	return l.acquire(syscall.LOCK_SH|syscall.LOCK_NB, false)
}

// LockExclusive blocks until an exclusive lock is available.
func (l *FileLock) LockExclusive() error {
	return l.acquire(syscall.LOCK_EX, true)
}

func (l *FileLock) acquire(flags int, exclusive bool) error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("catalog: open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), flags); err != nil {
		_ = f.Close()
		if err == syscall.EWOULDBLOCK {
			return ErrLocked{Path: l.path}
		}
		return fmt.Errorf("catalog: flock: %w", err)
	}
	l.file = f
	l.exclusive = exclusive
	l.writeSidecar()
	return nil
}

func (l *FileLock) writeSidecar() {
	mode := "shared"
	if l.exclusive {
		mode = "exclusive"
	}
	exe, _ := os.Executable()
	info := lockInfo{PID: os.Getpid(), Exe: exe, Timestamp: time.Now().UTC(), Mode: mode}
	b, err := json.Marshal(info)
	if err != nil {
		return
	}
	_ = os.WriteFile(l.sidecar, b, 0o600)
}

// Release unlocks and closes the underlying file descriptor. It is
// safe to call on an unlocked FileLock.
func (l *FileLock) Release() {
	if l.file == nil {
		return
	}
	_ = syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	_ = l.file.Close()
	l.file = nil
	_ = os.Remove(l.sidecar)
}

// HolderInfo reads the sidecar file, if present. A missing or
// unparseable sidecar is not an error: the diagnostic is best-effort.
func (l *FileLock) HolderInfo() (*lockInfo, error) {
	data, err := os.ReadFile(l.sidecar)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var info lockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, nil
	}
	return &info, nil
}
