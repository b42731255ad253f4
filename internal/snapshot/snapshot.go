// Package snapshot captures the comparable state of a watched filesystem subtree.
//
// A Snapshot records one entry's identity-relevant metadata. A Set maps every
// entry that passed the filter during one traversal to its Snapshot. Both are
// values: once built they are never modified, and copies are independent.
package snapshot

import (
	"errors"
	"io/fs"
	"iter"
	"maps"
	"os"
	"slices"
	"time"
)

// Snapshot is the point-in-time record of one filesystem entry.
type Snapshot struct {
	Path    string
	ModTime time.Time
	// Digest is the hex content digest, or "" when hashing was off or failed.
	Digest string
	Size   int64
	// Inode identifies the file on unix systems and is 0 elsewhere.
	Inode  uint64
	Exists bool
	IsDir  bool
}

// Equal compares two snapshots field by field.
func (s Snapshot) Equal(o Snapshot) bool {
	return s.Path == o.Path &&
		s.Exists == o.Exists &&
		s.IsDir == o.IsDir &&
		s.Size == o.Size &&
		s.ModTime.Equal(o.ModTime) &&
		s.Digest == o.Digest &&
		s.Inode == o.Inode
}

// Take records a single path. A missing path yields a Snapshot with Exists
// set to false rather than an error.
func Take(path string, hash bool, algo Algorithm) (Snapshot, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Snapshot{Path: path}, nil
	}
	if err != nil {
		return Snapshot{}, err
	}

	s := fromInfo(path, info)
	if hash && !s.IsDir {
		digest, err := digestFile(path, algo)
		if err != nil {
			return Snapshot{}, err
		}
		s.Digest = digest
	}
	return s, nil
}

func fromInfo(path string, info fs.FileInfo) Snapshot {
	s := Snapshot{
		Path:    path,
		Exists:  true,
		IsDir:   info.IsDir(),
		ModTime: info.ModTime(),
		Inode:   inodeOf(info),
	}
	if !s.IsDir {
		s.Size = info.Size()
	}
	return s
}

// Set is the collection of snapshots produced by one capture. The zero value
// is an empty set.
type Set struct {
	capturedAt time.Time
	entries    map[string]Snapshot
	root       string
}

// NewSet builds a Set from snapshots. Later duplicates of a path replace
// earlier ones.
func NewSet(root string, capturedAt time.Time, snaps ...Snapshot) Set {
	entries := make(map[string]Snapshot, len(snaps))
	for _, s := range snaps {
		entries[s.Path] = s
	}
	return Set{root: root, capturedAt: capturedAt, entries: entries}
}

// Root returns the root the set was captured from.
func (s Set) Root() string { return s.root }

// CapturedAt returns when the capture started.
func (s Set) CapturedAt() time.Time { return s.capturedAt }

// Len returns the number of entries.
func (s Set) Len() int { return len(s.entries) }

// Get returns the snapshot recorded for path.
func (s Set) Get(path string) (Snapshot, bool) {
	snap, ok := s.entries[path]
	return snap, ok
}

// Has reports whether path is in the set.
func (s Set) Has(path string) bool {
	_, ok := s.entries[path]
	return ok
}

// Paths returns every path in the set, sorted.
func (s Set) Paths() []string {
	return slices.Sorted(maps.Keys(s.entries))
}

// All iterates over the entries in unspecified order.
func (s Set) All() iter.Seq2[string, Snapshot] {
	return maps.All(s.entries)
}
