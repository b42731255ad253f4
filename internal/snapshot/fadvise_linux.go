//go:build linux

package snapshot

import (
	"os"

	"golang.org/x/sys/unix"
)

// Hashing reads every byte of the tree on each cycle. These hints keep that
// from evicting the rest of the page cache. Failures are harmless.

func adviseSequential(f *os.File) {
	//nolint:gosec // G115: file descriptors fit in int
	_ = unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_SEQUENTIAL)
}

func adviseDone(f *os.File) {
	//nolint:gosec // G115: file descriptors fit in int
	_ = unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_DONTNEED)
}
