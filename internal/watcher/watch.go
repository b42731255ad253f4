package watcher

import "log/slog"

// Lifecycle is implemented by Session and Group.
type Lifecycle interface {
	Start() error
	Stop()
}

var (
	_ Lifecycle = (*Session)(nil)
	_ Lifecycle = (*Group)(nil)
)

// Watch starts a session for root with default options and h registered for
// every event. The caller owns the returned session and must Stop it.
func Watch(log *slog.Logger, root string, h Handler) (*Session, error) {
	s, err := NewSession(log, root, Options{})
	if err != nil {
		return nil, err
	}
	s.OnAny(h)
	if err := s.Start(); err != nil {
		return nil, err
	}
	return s, nil
}

// Guard starts l, runs fn and stops l on every exit path, including a panic
// in fn. It returns Start's error, or fn's.
func Guard(l Lifecycle, fn func() error) error {
	if err := l.Start(); err != nil {
		// A partially started group still has members to stop.
		l.Stop()
		return err
	}
	defer l.Stop()
	return fn()
}
