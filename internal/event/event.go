// Package event defines the change notifications produced by a watch.
package event

import (
	"fmt"
	"strings"
	"time"
)

// Type is the kind of change an Event reports.
type Type int

const (
	// Created is emitted for a path present now but absent from the previous capture.
	Created Type = iota
	// Modified is emitted when a path's size, modification time or digest changed.
	Modified
	// Deleted is emitted for a path absent now but present in the previous capture.
	Deleted
	// Moved is never produced by the diff engine; move synthesis emits it.
	Moved
)

var typeNames = [...]string{
	Created:  "created",
	Modified: "modified",
	Deleted:  "deleted",
	Moved:    "moved",
}

// Types returns every Type in declaration order.
func Types() []Type {
	return []Type{Created, Modified, Deleted, Moved}
}

// String returns the lowercase name of the type.
func (t Type) String() string {
	if t.Valid() {
		return typeNames[t]
	}
	return "unknown"
}

// Valid reports whether t is one of the declared types.
func (t Type) Valid() bool {
	return t >= Created && t <= Moved
}

// MarshalText implements encoding.TextMarshaler.
func (t Type) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid event type %d", int(t))
	}
	return []byte(typeNames[t]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Type) UnmarshalText(text []byte) error {
	parsed, err := ParseType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseType parses a type name, case-insensitively.
func ParseType(s string) (Type, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range typeNames {
		if n == name {
			return Type(i), nil
		}
	}
	return 0, fmt.Errorf("unknown event type %q", s)
}

// ParseSelector parses a comma-separated list of type names. "any" (or an
// empty string) selects every type.
func ParseSelector(s string) ([]Type, error) {
	if strings.TrimSpace(s) == "" {
		return Types(), nil
	}

	var types []Type
	seen := make(map[Type]bool)
	for part := range strings.SplitSeq(s, ",") {
		if strings.EqualFold(strings.TrimSpace(part), "any") {
			return Types(), nil
		}
		t, err := ParseType(part)
		if err != nil {
			return nil, err
		}
		if !seen[t] {
			seen[t] = true
			types = append(types, t)
		}
	}
	return types, nil
}

// Event is one change observed between two captures.
type Event struct {
	// Timestamp is when the capture that produced the event started.
	Timestamp time.Time
	// ModTime is the modification time from the current snapshot, or the
	// previous one for Deleted.
	ModTime time.Time

	Path string
	// OldPath is set only for Moved.
	OldPath string
	Digest  string

	Type  Type
	Size  int64
	Inode uint64

	IsDirectory bool
}

// String renders the event as "created: /p" or "moved: /old -> /new".
func (e Event) String() string {
	if e.Type == Moved {
		return e.Type.String() + ": " + e.OldPath + " -> " + e.Path
	}
	return e.Type.String() + ": " + e.Path
}
