//go:build unix

package state

import (
	"os"
	"syscall"

	"github.com/aide-sh/aide/internal/domain"
)

func flockExclusive(f *os.File) error {
	err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err == syscall.EWOULDBLOCK {
		return domain.ErrStateLocked
	}
	return err
}

func flockRelease(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
}
