// Package datalock coordinates voicelog processes that share a data directory.
//
// Every process that may transcribe holds a shared lock on active.lock for its
// lifetime. Stale segment recovery needs the exclusive lock, so it only runs
// when no other such process is alive. recover.lock serialises registration
// so a newcomer cannot slip in while a recovery is running.
package datalock

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	activeFile  = "active.lock"
	recoverFile = "recover.lock"
)

// Lock marks the holder as an active process until Close.
type Lock struct {
	f *os.File
}

// Acquire registers the process as active in dir. If no other process is
// active, onSole runs before registration completes and sole is true.
func Acquire(dir string, onSole func()) (l *Lock, sole bool, err error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, false, err
	}

	guard, err := openLockFile(filepath.Join(dir, recoverFile))
	if err != nil {
		return nil, false, err
	}
	defer guard.Close()
	if err := lockFile(guard, true); err != nil {
		return nil, false, fmt.Errorf("lock %s: %w", recoverFile, err)
	}
	defer unlockFile(guard)

	f, err := openLockFile(filepath.Join(dir, activeFile))
	if err != nil {
		return nil, false, err
	}
	sole, err = tryLockFile(f, true)
	if err != nil {
		f.Close()
		return nil, false, fmt.Errorf("lock %s: %w", activeFile, err)
	}
	if sole {
		if onSole != nil {
			onSole()
		}
		// still holding recover.lock, nobody can register in between
		if err := unlockFile(f); err != nil {
			f.Close()
			return nil, false, err
		}
	}
	if err := lockFile(f, false); err != nil {
		f.Close()
		return nil, false, fmt.Errorf("lock %s: %w", activeFile, err)
	}
	return &Lock{f: f}, sole, nil
}

// Close releases the registration.
func (l *Lock) Close() error {
	if l == nil || l.f == nil {
		return nil
	}
	unlockFile(l.f)
	err := l.f.Close()
	l.f = nil
	return err
}

func openLockFile(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
}
