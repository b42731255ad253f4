// Package diff compares two snapshot sets and reports the changes between them.
//
// Compare is a pure function of its inputs. It reports Created, Deleted and
// Modified events only; recognising moves is left to callers that know more
// about the files than two path-keyed sets can say.
package diff

import (
	"slices"
	"strings"
	"time"

	"github.com/listenupapp/roadwatch/internal/event"
	"github.com/listenupapp/roadwatch/internal/snapshot"
)

// Options controls how entries present in both sets are compared.
type Options struct {
	// UseHash compares content digests when both sides have one.
	UseHash bool
}

// Compare returns the events that turn prev into curr: every Created event,
// then every Deleted event, then every Modified event, each group sorted by
// path. Event timestamps are curr's capture time.
func Compare(prev, curr snapshot.Set, opts Options) []event.Event {
	at := curr.CapturedAt()

	var created, deleted, modified []event.Event
	for _, path := range curr.Paths() {
		now, _ := curr.Get(path)
		before, ok := prev.Get(path)
		switch {
		case !ok:
			created = append(created, newEvent(event.Created, now, at))
		case changed(before, now, opts):
			modified = append(modified, newEvent(event.Modified, now, at))
		}
	}
	for path, before := range prev.All() {
		if !curr.Has(path) {
			deleted = append(deleted, newEvent(event.Deleted, before, at))
		}
	}
	slices.SortFunc(deleted, func(a, b event.Event) int {
		return strings.Compare(a.Path, b.Path)
	})

	events := make([]event.Event, 0, len(created)+len(deleted)+len(modified))
	events = append(events, created...)
	events = append(events, deleted...)
	return append(events, modified...)
}

// changed reports whether an entry present in both sets differs.
func changed(before, now snapshot.Snapshot, opts Options) bool {
	if before.IsDir != now.IsDir {
		return true
	}
	// A directory's mtime moves whenever its listing does; children report that.
	if now.IsDir {
		return false
	}
	if opts.UseHash && before.Digest != "" && now.Digest != "" {
		return before.Digest != now.Digest
	}
	return before.Size != now.Size || !before.ModTime.Equal(now.ModTime)
}

func newEvent(t event.Type, s snapshot.Snapshot, at time.Time) event.Event {
	return event.Event{
		Type:        t,
		Path:        s.Path,
		IsDirectory: s.IsDir,
		Timestamp:   at,
		Size:        s.Size,
		ModTime:     s.ModTime,
		Digest:      s.Digest,
		Inode:       s.Inode,
	}
}
