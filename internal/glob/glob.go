// Package glob implements the include/exclude filter applied to every
// candidate path during snapshot capture.
//
// Patterns use doublestar syntax (*, **, ?, [class], {alt}) and are matched
// against the slash-separated path relative to the watched root. A pattern
// without a leading slash is anchored on the right, so "*.txt" matches
// "a.txt" and "docs/a.txt", and "docs/*.txt" matches "x/docs/a.txt". A
// leading slash anchors the pattern at the root: "/docs/*.txt" only matches
// "docs/a.txt".
package glob

import (
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	domainerrors "github.com/listenupapp/roadwatch/internal/errors"
)

// Filter decides which paths belong in a snapshot. Exclude wins over include.
// The zero value matches everything.
type Filter struct {
	include      []pattern
	exclude      []pattern
	ignoreHidden bool
}

type pattern struct {
	expr     string
	anchored bool
}

// New compiles the include and exclude lists. An empty include list matches
// everything. Invalid patterns are reported immediately with code
// INVALID_PATTERN.
func New(include, exclude []string, ignoreHidden bool) (*Filter, error) {
	inc, err := compile("include", include)
	if err != nil {
		return nil, err
	}
	exc, err := compile("exclude", exclude)
	if err != nil {
		return nil, err
	}
	return &Filter{include: inc, exclude: exc, ignoreHidden: ignoreHidden}, nil
}

// MustNew is like New but panics on an invalid pattern. Intended for tests
// and package-level defaults.
func MustNew(include, exclude []string, ignoreHidden bool) *Filter {
	f, err := New(include, exclude, ignoreHidden)
	if err != nil {
		panic(err)
	}
	return f
}

func compile(kind string, exprs []string) ([]pattern, error) {
	out := make([]pattern, 0, len(exprs))
	for _, expr := range exprs {
		if expr == "" {
			return nil, domainerrors.InvalidPatternf("empty %s pattern", kind)
		}
		p := pattern{expr: expr}
		if strings.HasPrefix(expr, "/") {
			p.anchored = true
			p.expr = strings.TrimPrefix(expr, "/")
		}
		if !doublestar.ValidatePattern(p.expr) {
			return nil, domainerrors.InvalidPatternf("invalid %s pattern %q", kind, expr)
		}
		out = append(out, p)
	}
	return out, nil
}

// Match reports whether the entry at rel (slash-separated, relative to the
// root) passes the filter.
func (f *Filter) Match(rel string) bool {
	if f == nil {
		return true
	}
	rel = clean(rel)
	if f.ignoreHidden && isHidden(rel) {
		return false
	}
	if matchAny(f.exclude, rel) {
		return false
	}
	if len(f.include) == 0 {
		return true
	}
	return matchAny(f.include, rel)
}

// Prune reports whether traversal should skip the directory at rel entirely.
// Include patterns never prune: a directory that does not match "*.txt" can
// still contain matching files.
func (f *Filter) Prune(rel string) bool {
	if f == nil {
		return false
	}
	rel = clean(rel)
	if rel == "." {
		return false
	}
	if f.ignoreHidden && isHidden(rel) {
		return true
	}
	return matchAny(f.exclude, rel)
}

func matchAny(patterns []pattern, rel string) bool {
	for _, p := range patterns {
		if p.match(rel) {
			return true
		}
	}
	return false
}

// match tries the pattern against rel and, unless anchored, against every
// trailing run of path segments of rel.
func (p pattern) match(rel string) bool {
	if ok, _ := doublestar.Match(p.expr, rel); ok {
		return true
	}
	if p.anchored {
		return false
	}
	for i := 0; i < len(rel); i++ {
		if rel[i] != '/' {
			continue
		}
		if ok, _ := doublestar.Match(p.expr, rel[i+1:]); ok {
			return true
		}
	}
	return false
}

func clean(rel string) string {
	rel = path.Clean(strings.TrimPrefix(rel, "./"))
	return strings.TrimPrefix(rel, "/")
}

func isHidden(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") && part != "." && part != ".." {
			return true
		}
	}
	return false
}
