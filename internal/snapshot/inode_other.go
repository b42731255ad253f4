//go:build !unix

package snapshot

import "io/fs"

// inodeOf returns 0: Windows exposes no inode through FileInfo. Inode-based
// move pairing is unavailable there; digest pairing still works.
func inodeOf(fs.FileInfo) uint64 {
	return 0
}
