// Package sink writes watch events to an output stream, one per line.
package sink

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/listenupapp/roadwatch/internal/event"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// record is the JSON line layout.
type record struct {
	Timestamp   time.Time  `json:"timestamp"`
	ModTime     time.Time  `json:"mod_time,omitzero"`
	Type        event.Type `json:"type"`
	Path        string     `json:"path"`
	OldPath     string     `json:"old_path,omitempty"`
	Digest      string     `json:"digest,omitempty"`
	Size        int64      `json:"size"`
	Inode       uint64     `json:"inode,omitempty"`
	IsDirectory bool       `json:"is_directory"`
}

// Printer writes events as text or JSON lines. It is safe for use by
// several sessions at once.
type Printer struct {
	w      io.Writer
	logger *slog.Logger
	enc    *json.Encoder
	format string
	types  []event.Type
	mu     sync.Mutex
}

// NewPrinter creates a printer. types limits which events are written; nil
// writes everything.
func NewPrinter(logger *slog.Logger, w io.Writer, format string, types []event.Type) (*Printer, error) {
	p := &Printer{w: w, logger: logger, format: format, types: types}
	switch format {
	case FormatText, "":
		p.format = FormatText
	case FormatJSON:
		p.enc = json.NewEncoder(w)
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
	return p, nil
}

// Handle writes one event. Its signature matches watcher.Handler.
func (p *Printer) Handle(e event.Event) {
	if p.types != nil && !slices.Contains(p.types, e.Type) {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	if p.enc != nil {
		err = p.enc.Encode(record{
			Timestamp:   e.Timestamp,
			ModTime:     e.ModTime,
			Type:        e.Type,
			Path:        e.Path,
			OldPath:     e.OldPath,
			Digest:      e.Digest,
			Size:        e.Size,
			Inode:       e.Inode,
			IsDirectory: e.IsDirectory,
		})
	} else {
		_, err = fmt.Fprintf(p.w, "%s %s\n", e.Timestamp.Format(time.RFC3339), e)
	}
	if err != nil {
		p.logger.Error("failed to write event", "type", e.Type.String(), "path", e.Path, "error", err)
	}
}
