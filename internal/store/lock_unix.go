//go:build unix

package store

import (
	"os"

	"golang.org/x/sys/unix"
)

// flockExclusive acquires a blocking exclusive advisory lock on f,
// serializing the relocate-then-rename in Put across processes sharing
// the same store root. Generalized from the teacher's single daemon
// lock (internal/lockfile/lock_unix.go) to one lock file per record.
func flockExclusive(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_EX)
}

func flockUnlock(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
