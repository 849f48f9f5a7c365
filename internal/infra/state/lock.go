package state

import (
	"os"
	"path/filepath"
)

// Lock is an advisory file lock guarding against a second
// manually-launched supervisor working on the same installation root.
type Lock struct {
	f *os.File
}

// AcquireLock takes the advisory lock for dir. Returns
// domain.ErrStateLocked when another supervisor holds it.
func AcquireLock(dir string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(dir, "state.lock"), os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	if err := flockExclusive(f); err != nil {
		f.Close()
		return nil, err
	}
	return &Lock{f: f}, nil
}

// Release drops the lock.
func (l *Lock) Release() {
	if l == nil || l.f == nil {
		return
	}
	_ = flockRelease(l.f)
	l.f.Close()
	l.f = nil
}
