package watcher

import (
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"

	"github.com/listenupapp/roadwatch/internal/event"
	"github.com/listenupapp/roadwatch/internal/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *slog.Logger {
	if os.Getenv("ROADWATCH_TEST_LOG") != "" {
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return logger.Discard()
}

// recorder collects handler calls in the order they happen.
type recorder struct {
	calls []string
	mu    sync.Mutex
}

func (r *recorder) handler(name string) Handler {
	return func(event.Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.calls = append(r.calls, name)
	}
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func TestDispatcher_MergesByRegistrationOrder(t *testing.T) {
	d := NewDispatcher(testLogger())
	rec := &recorder{}

	d.OnAny(rec.handler("any-1"))
	d.On(event.Created, rec.handler("created-1"))
	d.On(event.Deleted, rec.handler("deleted-1"))
	d.OnAny(rec.handler("any-2"))
	d.On(event.Created, rec.handler("created-2"))

	failures := d.Deliver(event.Event{Type: event.Created, Path: "/w/a"})

	assert.Zero(t, failures)
	assert.Equal(t, []string{"any-1", "created-1", "any-2", "created-2"}, rec.get())
}

func TestDispatcher_OnlyMatchingType(t *testing.T) {
	d := NewDispatcher(testLogger())
	rec := &recorder{}

	d.On(event.Modified, rec.handler("modified"))
	d.On(event.Moved, rec.handler("moved"))

	d.Deliver(event.Event{Type: event.Deleted, Path: "/w/a"})
	assert.Empty(t, rec.get())

	d.Deliver(event.Event{Type: event.Moved, Path: "/w/b", OldPath: "/w/a"})
	assert.Equal(t, []string{"moved"}, rec.get())
}

func TestDispatcher_DuplicateRegistrationRunsTwice(t *testing.T) {
	d := NewDispatcher(testLogger())
	rec := &recorder{}
	h := rec.handler("h")

	d.On(event.Created, h)
	d.On(event.Created, h)
	d.Deliver(event.Event{Type: event.Created})

	assert.Equal(t, []string{"h", "h"}, rec.get())
}

func TestDispatcher_Off(t *testing.T) {
	d := NewDispatcher(testLogger())
	rec := &recorder{}

	typed := d.On(event.Created, rec.handler("typed"))
	all := d.OnAny(rec.handler("any"))
	d.On(event.Created, rec.handler("kept"))
	assert.Equal(t, 3, d.Len())

	d.Off(typed)
	d.Off(all)
	d.Off(all)
	d.Off(Subscription{})

	d.Deliver(event.Event{Type: event.Created})
	assert.Equal(t, []string{"kept"}, rec.get())
	assert.Equal(t, 1, d.Len())
}

func TestDispatcher_PanickingHandlerIsIsolated(t *testing.T) {
	d := NewDispatcher(testLogger())
	rec := &recorder{}

	d.OnAny(rec.handler("before"))
	d.On(event.Deleted, func(event.Event) { panic("boom") })
	d.OnAny(func(event.Event) { panic(assert.AnError) })
	d.On(event.Deleted, rec.handler("after"))

	failures := d.Deliver(event.Event{Type: event.Deleted, Path: "/w/x"})

	assert.Equal(t, 2, failures)
	assert.Equal(t, []string{"before", "after"}, rec.get())
}

func TestDispatcher_HandlersReceiveCopies(t *testing.T) {
	d := NewDispatcher(testLogger())
	var seen []string

	d.OnAny(func(e event.Event) {
		e.Path = "/mutated"
	})
	d.OnAny(func(e event.Event) {
		seen = append(seen, e.Path)
	})
	d.Deliver(event.Event{Type: event.Created, Path: "/w/a"})

	assert.Equal(t, []string{"/w/a"}, seen)
}

func TestDispatcher_RegisterDuringDelivery(t *testing.T) {
	d := NewDispatcher(testLogger())
	rec := &recorder{}

	d.OnAny(func(event.Event) {
		d.OnAny(rec.handler("late"))
	})

	d.Deliver(event.Event{Type: event.Created})
	assert.Empty(t, rec.get(), "a handler added mid-delivery waits for the next event")

	d.Deliver(event.Event{Type: event.Created})
	assert.Equal(t, []string{"late"}, rec.get())
}

func TestDispatcher_ConcurrentUse(t *testing.T) {
	d := NewDispatcher(testLogger())
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			sub := d.OnAny(func(event.Event) {})
			d.Off(sub)
		}()
		go func() {
			defer wg.Done()
			d.Deliver(event.Event{Type: event.Modified})
		}()
	}
	wg.Wait()

	assert.Zero(t, d.Len())
}
