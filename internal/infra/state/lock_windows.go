//go:build windows

package state

import "os"

// Windows has no flock(2); exclusive create of the lock file below is
// the only guard. Acceptable — the lock is advisory by design.
func flockExclusive(f *os.File) error { return nil }

func flockRelease(f *os.File) error { return nil }
