// Package moves turns matching delete/create pairs into Moved events.
//
// The diff engine reports a rename as a Deleted event for the old path and a
// Created event for the new one. Correlate recognises such pairs when the two
// snapshots identify the same file, by content digest or by inode, and is
// meant to be installed as a session's Options.Transform.
package moves

import (
	"github.com/listenupapp/roadwatch/internal/event"
	"github.com/listenupapp/roadwatch/internal/snapshot"
)

// Correlate pairs each Deleted event with the first unpaired Created event
// whose file is the same one and replaces the pair with a single Moved event.
//
// Two files are the same when their sizes are equal and either both carry the
// same non-empty digest or both carry the same non-zero inode. Directories are
// never paired. The result holds the unpaired Created events, then the
// unpaired Deleted events, then everything else in input order, then the
// Moved events.
func Correlate(prev, curr snapshot.Set, evs []event.Event) []event.Event {
	var created, deleted, rest []event.Event
	for _, e := range evs {
		switch e.Type {
		case event.Created:
			created = append(created, e)
		case event.Deleted:
			deleted = append(deleted, e)
		default:
			rest = append(rest, e)
		}
	}
	if len(created) == 0 || len(deleted) == 0 {
		return evs
	}

	paired := make([]bool, len(created))
	var moved, unpairedDeleted []event.Event
	for _, del := range deleted {
		old, ok := prev.Get(del.Path)
		if !ok || old.IsDir {
			unpairedDeleted = append(unpairedDeleted, del)
			continue
		}

		match := -1
		for i, cr := range created {
			if paired[i] {
				continue
			}
			if now, ok := curr.Get(cr.Path); ok && sameFile(old, now) {
				match = i
				break
			}
		}
		if match < 0 {
			unpairedDeleted = append(unpairedDeleted, del)
			continue
		}

		paired[match] = true
		mv := created[match]
		mv.Type = event.Moved
		mv.OldPath = del.Path
		moved = append(moved, mv)
	}

	out := make([]event.Event, 0, len(evs)-len(moved))
	for i, cr := range created {
		if !paired[i] {
			out = append(out, cr)
		}
	}
	out = append(out, unpairedDeleted...)
	out = append(out, rest...)
	return append(out, moved...)
}

func sameFile(a, b snapshot.Snapshot) bool {
	if a.IsDir || b.IsDir || a.Size != b.Size {
		return false
	}
	if a.Digest != "" && a.Digest == b.Digest {
		return true
	}
	return a.Inode != 0 && a.Inode == b.Inode
}
