package watcher

import (
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/listenupapp/roadwatch/internal/event"
	"github.com/listenupapp/roadwatch/internal/id"
	"github.com/listenupapp/roadwatch/internal/logger"
)

// groupRegistration is a handler registered on a Group, replayed onto every
// session the group holds or later receives.
type groupRegistration struct {
	handler Handler
	typ     event.Type
	all     bool
}

// Group runs several sessions as one unit. Handlers registered on the group
// see the events of every member. Sessions share nothing with each other.
type Group struct {
	logger   *slog.Logger
	sessions []*Session
	regs     []groupRegistration
	mu       sync.Mutex
	running  bool
}

// NewGroup creates an empty group. A nil log discards output.
func NewGroup(log *slog.Logger) *Group {
	return &Group{
		logger: logger.OrDiscard(log).With("group", id.MustGenerate(id.PrefixGroup)),
	}
}

// Watch creates a session for root and adds it to the group.
func (g *Group) Watch(root string, opts Options) (*Session, error) {
	s, err := NewSession(g.logger, root, opts)
	if err != nil {
		return nil, err
	}
	if err := g.Add(s); err != nil {
		return nil, err
	}
	return s, nil
}

// Add puts s in the group and registers the group's handlers on it. If the
// group is running, s is started as well. The start happens under the group
// lock, so a concurrent Stop either sees s running or never starts it.
func (g *Group) Add(s *Session) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, r := range g.regs {
		r.apply(s)
	}
	g.sessions = append(g.sessions, s)
	if g.running {
		return s.Start()
	}
	return nil
}

// On registers h for events of type t on every current and future member.
func (g *Group) On(t event.Type, h Handler) {
	g.register(groupRegistration{handler: h, typ: t})
}

// OnAny registers h for every event of every current and future member.
func (g *Group) OnAny(h Handler) {
	g.register(groupRegistration{handler: h, all: true})
}

func (g *Group) register(r groupRegistration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.regs = append(g.regs, r)
	for _, s := range g.sessions {
		r.apply(s)
	}
}

func (r groupRegistration) apply(s *Session) {
	if r.all {
		s.OnAny(r.handler)
		return
	}
	s.On(r.typ, r.handler)
}

// Sessions returns the members in the order they were added.
func (g *Group) Sessions() []*Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.sessions)
}

// Start starts every member concurrently and returns the first failure.
// Members that started keep running until Stop.
func (g *Group) Start() error {
	g.mu.Lock()
	g.running = true
	sessions := slices.Clone(g.sessions)
	g.mu.Unlock()

	var eg errgroup.Group
	for _, s := range sessions {
		eg.Go(s.Start)
	}
	if err := eg.Wait(); err != nil {
		g.logger.Error("failed to start watch group", "error", err)
		return err
	}

	g.logger.Info("watch group started", "sessions", len(sessions))
	return nil
}

// Stop stops every member concurrently and waits for all of them.
func (g *Group) Stop() {
	g.mu.Lock()
	g.running = false
	sessions := slices.Clone(g.sessions)
	g.mu.Unlock()

	var eg errgroup.Group
	for _, s := range sessions {
		eg.Go(func() error {
			s.Stop()
			return nil
		})
	}
	_ = eg.Wait()

	g.logger.Info("watch group stopped", "sessions", len(sessions))
}
