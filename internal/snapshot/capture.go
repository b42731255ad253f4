package snapshot

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/listenupapp/roadwatch/internal/glob"
	"github.com/listenupapp/roadwatch/internal/logger"
	"github.com/listenupapp/roadwatch/internal/ratelimit"
)

// warnEvery is the minimum spacing between repeated warnings for one path.
const warnEvery = time.Minute

// CaptureOptions describes what a Capturer records.
type CaptureOptions struct {
	Filter    *glob.Filter
	Root      string
	Algorithm Algorithm
	Recursive bool
	// IncludeDirs records directories as entries as well as traversing them.
	IncludeDirs bool
	Hash        bool
}

// Capturer builds Sets for one root.
type Capturer struct {
	logger   *slog.Logger
	warnings *ratelimit.KeyedLimiter
	now      func() time.Time
	opts     CaptureOptions
}

// NewCapturer creates a capturer. Root should already be absolute and clean.
// A nil log discards output.
func NewCapturer(log *slog.Logger, opts CaptureOptions) *Capturer {
	return &Capturer{
		logger:   logger.OrDiscard(log),
		warnings: ratelimit.New(warnEvery, 1),
		now:      time.Now,
		opts:     opts,
	}
}

// Capture traverses the root and returns its current Set.
//
// Capture tolerates a missing root (empty Set) and per-entry failures (the
// entry is left out). The only error it returns is ctx's, in which case the
// partial result must not be used.
func (c *Capturer) Capture(ctx context.Context) (Set, error) {
	root := c.opts.Root
	at := c.now()
	entries := make(map[string]Snapshot)

	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.logger.Debug("watch root does not exist", "root", root)
		} else {
			c.warn(root, "cannot stat watch root", err)
		}
		return Set{root: root, capturedAt: at, entries: entries}, nil
	}

	switch {
	case !info.IsDir():
		if info.Mode().IsRegular() && c.opts.Filter.Match(filepath.Base(root)) {
			entries[root] = c.build(root, info)
		}
	case c.opts.Recursive:
		err = c.walk(ctx, entries)
	default:
		err = c.readDir(ctx, entries)
	}
	if err != nil {
		return Set{}, err
	}

	return Set{root: root, capturedAt: at, entries: entries}, nil
}

// walk records the full subtree. WalkDir does not follow a symlinked root,
// so the resolved target is walked and paths are rejoined onto Root.
func (c *Capturer) walk(ctx context.Context, entries map[string]Snapshot) error {
	root := c.opts.Root
	target, err := filepath.EvalSymlinks(root)
	if err != nil {
		c.warn(root, "failed to resolve watch root", err)
		return nil
	}

	return filepath.WalkDir(target, func(walked string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if walked == target {
			if err != nil {
				c.warn(root, "walk error", err)
			}
			return nil
		}

		rel, relErr := filepath.Rel(target, walked)
		if relErr != nil {
			c.warn(walked, "failed to compute relative path", relErr)
			return nil
		}
		path := filepath.Join(root, rel)
		rel = filepath.ToSlash(rel)

		if err != nil {
			c.warn(path, "walk error", err)
			return nil
		}

		if d.IsDir() {
			if c.opts.Filter.Prune(rel) {
				return filepath.SkipDir
			}
			c.addDir(entries, path, rel, d)
			return nil
		}

		c.addFile(entries, path, rel)
		return nil
	})
}

// readDir records the root's immediate children.
func (c *Capturer) readDir(ctx context.Context, entries map[string]Snapshot) error {
	dirEntries, err := os.ReadDir(c.opts.Root)
	if err != nil {
		c.warn(c.opts.Root, "failed to list watch root", err)
	}

	// ReadDir returns what it read before failing, so keep going.
	for _, d := range dirEntries {
		if err := ctx.Err(); err != nil {
			return err
		}
		path := filepath.Join(c.opts.Root, d.Name())
		if d.IsDir() {
			if !c.opts.Filter.Prune(d.Name()) {
				c.addDir(entries, path, d.Name(), d)
			}
			continue
		}
		c.addFile(entries, path, d.Name())
	}
	return nil
}

func (c *Capturer) addDir(entries map[string]Snapshot, path, rel string, d fs.DirEntry) {
	if !c.opts.IncludeDirs || !c.opts.Filter.Match(rel) {
		return
	}
	info, err := d.Info()
	if err != nil {
		c.warn(path, "failed to get directory info", err)
		return
	}
	entries[path] = c.build(path, info)
}

// addFile records a non-directory entry. Symlinks are resolved so a link to a
// regular file counts as that file; links to directories are never followed.
func (c *Capturer) addFile(entries map[string]Snapshot, path, rel string) {
	if !c.opts.Filter.Match(rel) {
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		c.warn(path, "failed to stat entry", err)
		return
	}
	if !info.Mode().IsRegular() {
		return
	}
	entries[path] = c.build(path, info)
}

func (c *Capturer) build(path string, info fs.FileInfo) Snapshot {
	s := fromInfo(path, info)
	if c.opts.Hash && !s.IsDir {
		digest, err := digestFile(path, c.opts.Algorithm)
		if err != nil {
			// Keep the entry; the diff falls back to size and mtime.
			c.warn(path, "failed to hash file", err)
			return s
		}
		s.Digest = digest
	}
	c.warnings.Forget(path)
	return s
}

// warn logs a per-entry failure. Entries vanishing mid-scan are expected and
// only logged at debug level; anything else is a warning, at most once per
// path per warnEvery.
func (c *Capturer) warn(path, msg string, err error) {
	if errors.Is(err, fs.ErrNotExist) {
		c.logger.Debug(msg, "path", path, "error", err)
		return
	}
	if c.warnings.Allow(path) {
		c.logger.Warn(msg, "path", path, "error", err)
	}
}
