package watcher

import (
	"time"

	"github.com/listenupapp/roadwatch/internal/event"
	"github.com/listenupapp/roadwatch/internal/snapshot"
)

const (
	// DefaultInterval is the pause between the end of one poll and the start of the next.
	DefaultInterval = time.Second
	// DefaultStopTimeout bounds how long Stop waits for the poll loop to exit.
	DefaultStopTimeout = 2 * time.Second
)

// TransformFunc rewrites the events of one poll before they are dispatched.
// prev and curr are the sets the events were computed from.
type TransformFunc func(prev, curr snapshot.Set, evs []event.Event) []event.Event

// Options configures a Session. The zero value watches the whole subtree
// every second, comparing size and modification time.
type Options struct {
	// Transform, when set, is applied to every poll's events.
	Transform TransformFunc `yaml:"-"`

	// HashAlgorithm selects the digest used when UseHash is set.
	HashAlgorithm snapshot.Algorithm `yaml:"hash_algorithm" validate:"omitempty,oneof=sha256 xxhash md5"`

	// Include limits entries to paths matching at least one pattern.
	// Empty means everything.
	Include []string `yaml:"include" validate:"dive,required,glob"`
	// Exclude drops matching entries and prunes matching directories.
	// Exclusion wins over inclusion.
	Exclude []string `yaml:"exclude" validate:"dive,required,glob"`

	Interval    time.Duration `yaml:"interval" validate:"gte=0"`
	StopTimeout time.Duration `yaml:"stop_timeout" validate:"gte=0"`

	// NonRecursive watches only the root's immediate children.
	NonRecursive bool `yaml:"non_recursive"`
	// UseHash compares content digests instead of size and modification time.
	UseHash bool `yaml:"use_hash"`
	// IncludeDirs reports directories as entries too.
	IncludeDirs bool `yaml:"include_dirs"`
	// IgnoreHidden skips every path with a dot-prefixed component below the root.
	IgnoreHidden bool `yaml:"ignore_hidden"`
}

// setDefaults applies default values to unset options.
func (o *Options) setDefaults() {
	if o.Interval == 0 {
		o.Interval = DefaultInterval
	}
	if o.StopTimeout == 0 {
		o.StopTimeout = DefaultStopTimeout
	}
	if o.HashAlgorithm == "" {
		o.HashAlgorithm = snapshot.SHA256
	}
}
