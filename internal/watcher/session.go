// Package watcher polls filesystem roots for changes and dispatches the
// resulting events to registered handlers.
//
// A Session owns one root. Every Interval it captures a snapshot set, compares
// it with the previous one and delivers the differences:
//
//	s, err := watcher.NewSession(logger, "/srv/inbox", watcher.Options{Include: []string{"*.csv"}})
//	if err != nil {
//	    return err
//	}
//	s.On(event.Created, func(e event.Event) { fmt.Println(e) })
//	if err := s.Start(); err != nil {
//	    return err
//	}
//	defer s.Stop()
//
// A Group runs several sessions behind one registration surface.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/listenupapp/roadwatch/internal/diff"
	domainerrors "github.com/listenupapp/roadwatch/internal/errors"
	"github.com/listenupapp/roadwatch/internal/event"
	"github.com/listenupapp/roadwatch/internal/glob"
	"github.com/listenupapp/roadwatch/internal/id"
	"github.com/listenupapp/roadwatch/internal/logger"
	"github.com/listenupapp/roadwatch/internal/snapshot"
	"github.com/listenupapp/roadwatch/internal/validation"
)

var validate = validation.New()

// State is a session's lifecycle position. Sessions only move forward:
// Idle, then Running, then Stopped.
type State int32

const (
	// StateIdle is a constructed session that has not been started.
	StateIdle State = iota
	// StateRunning is a session whose poll loop is active.
	StateRunning
	// StateStopped is terminal.
	StateStopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Session watches one root.
type Session struct {
	logger     *slog.Logger
	dispatcher *Dispatcher
	capturer   *snapshot.Capturer

	quit chan struct{}
	done chan struct{}

	// prev is the last stored set; only the poll loop, Start and an idle
	// PollOnce write it.
	prev snapshot.Set

	id   string
	root string
	opts Options

	mu          sync.Mutex
	state       State
	hasBaseline bool
}

// NewSession validates opts and creates an idle session for root. Root does
// not need to exist yet; a missing root reads as empty. A nil log discards
// output.
func NewSession(log *slog.Logger, root string, opts Options) (*Session, error) {
	if root == "" {
		return nil, domainerrors.Validation("watch root is required")
	}

	opts.setDefaults()

	filter, err := glob.New(opts.Include, opts.Exclude, opts.IgnoreHidden)
	if err != nil {
		return nil, err
	}
	if err := validate.Validate(opts); err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, domainerrors.Wrapf(err, domainerrors.CodeValidation, "invalid watch root %q", root)
	}

	sessionID, err := id.Generate(id.PrefixSession)
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}

	log = logger.OrDiscard(log).With("session", sessionID, "root", abs)

	return &Session{
		logger:     log,
		dispatcher: NewDispatcher(log),
		capturer: snapshot.NewCapturer(log, snapshot.CaptureOptions{
			Root:        abs,
			Recursive:   !opts.NonRecursive,
			IncludeDirs: opts.IncludeDirs,
			Filter:      filter,
			Hash:        opts.UseHash,
			Algorithm:   opts.HashAlgorithm,
		}),
		id:   sessionID,
		root: abs,
		opts: opts,
	}, nil
}

// ID returns the session identifier used in log records.
func (s *Session) ID() string { return s.id }

// Root returns the absolute watch root.
func (s *Session) Root() string { return s.root }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns the most recently stored set. It is empty until a
// baseline has been taken.
func (s *Session) Snapshot() snapshot.Set {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prev
}

// On registers h for events of type t.
func (s *Session) On(t event.Type, h Handler) Subscription {
	return s.dispatcher.On(t, h)
}

// OnAny registers h for every event.
func (s *Session) OnAny(h Handler) Subscription {
	return s.dispatcher.OnAny(h)
}

// Off removes a registration made with On or OnAny.
func (s *Session) Off(sub Subscription) {
	s.dispatcher.Off(sub)
}

// Start takes a baseline capture and launches the poll loop. Nothing is
// reported for entries present at Start. Starting a running session does
// nothing; starting a stopped session fails with ErrInvalidState.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateRunning:
		return nil
	case StateStopped:
		return domainerrors.InvalidStatef("session %s is stopped", s.id)
	}

	baseline, err := s.capturer.Capture(context.Background())
	if err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "baseline capture failed")
	}
	s.prev = baseline
	s.hasBaseline = true

	s.quit = make(chan struct{})
	s.done = make(chan struct{})
	s.state = StateRunning

	go s.loop(s.quit, s.done)

	s.logger.Info("watch started",
		"entries", baseline.Len(),
		"interval", s.opts.Interval,
		"hash", s.opts.UseHash,
		"handlers", s.dispatcher.Len(),
	)
	return nil
}

// Stop ends the poll loop and waits up to StopTimeout for it to exit. A
// cycle in progress is allowed to finish, so its events may still arrive
// before Stop returns. Stop is idempotent, and stopping an idle session
// makes it terminal. Calling Stop from a handler waits out the full timeout.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.state != StateRunning {
		s.state = StateStopped
		s.mu.Unlock()
		return
	}
	s.state = StateStopped
	close(s.quit)
	done := s.done
	s.mu.Unlock()

	timer := time.NewTimer(s.opts.StopTimeout)
	defer timer.Stop()

	select {
	case <-done:
		s.logger.Info("watch stopped")
	case <-timer.C:
		s.logger.Warn("poll loop did not exit in time", "timeout", s.opts.StopTimeout)
	}
}

// PollOnce runs one capture and comparison on an idle session and returns
// the events without dispatching them. The first call only records the
// baseline and returns no events. PollOnce fails with ErrInvalidState once
// the session has been started or stopped.
func (s *Session) PollOnce(ctx context.Context) ([]event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return nil, domainerrors.InvalidStatef("PollOnce requires an idle session, %s is %s", s.id, s.state)
	}

	curr, err := s.capturer.Capture(ctx)
	if err != nil {
		return nil, err
	}

	if !s.hasBaseline {
		s.prev = curr
		s.hasBaseline = true
		return nil, nil
	}

	prev := s.prev
	s.prev = curr
	return s.compute(prev, curr)
}

// loop polls until quit is closed. The timer is reset after each cycle, so
// the interval is the gap between cycles rather than their period.
func (s *Session) loop(quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	timer := time.NewTimer(s.opts.Interval)
	defer timer.Stop()

	for {
		select {
		case <-quit:
			return
		case <-timer.C:
		}
		// Both cases may be ready after a long cycle; quit wins.
		select {
		case <-quit:
			return
		default:
		}

		s.cycle()
		timer.Reset(s.opts.Interval)
	}
}

// cycle runs one capture, compare and dispatch pass. Nothing escapes it.
func (s *Session) cycle() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("poll cycle failed", "error", fmt.Errorf("panic: %v", r))
		}
	}()

	curr, err := s.capturer.Capture(context.Background())
	if err != nil {
		s.logger.Warn("capture failed, keeping previous snapshot", "error", err)
		return
	}

	s.mu.Lock()
	prev := s.prev
	s.prev = curr
	s.mu.Unlock()

	evs, err := s.compute(prev, curr)
	if err != nil {
		s.logger.Error("event transform failed", "error", err)
		return
	}

	for _, e := range evs {
		s.dispatcher.Deliver(e)
	}
	if len(evs) > 0 {
		s.logger.Debug("poll complete", "events", len(evs), "entries", curr.Len())
	}
}

// compute diffs two sets and applies the transform hook.
func (s *Session) compute(prev, curr snapshot.Set) (evs []event.Event, err error) {
	evs = diff.Compare(prev, curr, diff.Options{UseHash: s.opts.UseHash})
	if s.opts.Transform == nil {
		return evs, nil
	}

	defer func() {
		if r := recover(); r != nil {
			evs, err = nil, domainerrors.Internalf("transform panicked: %v", r)
		}
	}()
	return s.opts.Transform(prev, curr, evs), nil
}
