//go:build unix

package snapshot

import (
	"io/fs"
	"syscall"
)

// inodeOf extracts the inode number from the FileInfo's Sys() value.
func inodeOf(info fs.FileInfo) uint64 {
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		return uint64(stat.Ino) //nolint:unconvert // Ino is uint32 on some BSDs
	}
	return 0
}
