package watcher

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/listenupapp/roadwatch/internal/errors"
	"github.com/listenupapp/roadwatch/internal/event"
	"github.com/listenupapp/roadwatch/internal/moves"
	"github.com/listenupapp/roadwatch/internal/snapshot"
)

const fastInterval = 10 * time.Millisecond

// collector buffers delivered events for assertions.
type collector struct {
	ch chan event.Event
}

func newCollector() *collector {
	return &collector{ch: make(chan event.Event, 256)}
}

func (c *collector) handle(e event.Event) {
	c.ch <- e
}

func (c *collector) next(t *testing.T) event.Event {
	t.Helper()
	select {
	case e := <-c.ch:
		return e
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for event")
		return event.Event{}
	}
}

func (c *collector) none(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case e := <-c.ch:
		t.Fatalf("unexpected event: %s", e)
	case <-time.After(wait):
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// touch moves a file's mtime forward so metadata comparison sees it even on
// filesystems with coarse timestamps.
func touch(t *testing.T, path string, by time.Duration) {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	later := info.ModTime().Add(by)
	require.NoError(t, os.Chtimes(path, later, later))
}

func newSession(t *testing.T, root string, opts Options) *Session {
	t.Helper()
	s, err := NewSession(testLogger(), root, opts)
	require.NoError(t, err)
	t.Cleanup(s.Stop)
	return s
}

func TestNewSession(t *testing.T) {
	root := t.TempDir()

	s := newSession(t, root, Options{})

	assert.True(t, strings.HasPrefix(s.ID(), "watch-"))
	assert.Equal(t, root, s.Root())
	assert.Equal(t, StateIdle, s.State())
	assert.Zero(t, s.Snapshot().Len())
}

func TestSession_EndToEnd(t *testing.T) {
	root := t.TempDir()
	s := newSession(t, root, Options{Interval: fastInterval})
	c := newCollector()
	s.OnAny(c.handle)

	require.NoError(t, s.Start())
	assert.Equal(t, StateRunning, s.State())

	path := filepath.Join(root, "x.txt")
	writeFile(t, path, "A")
	e := c.next(t)
	assert.Equal(t, event.Created, e.Type)
	assert.Equal(t, path, e.Path)
	assert.False(t, e.Timestamp.IsZero())

	writeFile(t, path, "AB")
	e = c.next(t)
	assert.Equal(t, event.Modified, e.Type)
	assert.Equal(t, path, e.Path)

	require.NoError(t, os.Remove(path))
	e = c.next(t)
	assert.Equal(t, event.Deleted, e.Type)
	assert.Equal(t, path, e.Path)

	c.none(t, 5*fastInterval)
	assert.False(t, s.Snapshot().Has(path))

	s.Stop()
	assert.Equal(t, StateStopped, s.State())
}

func TestSession_BaselineIsQuiet(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "a")
	writeFile(t, filepath.Join(root, "sub", "b.txt"), "b")

	s := newSession(t, root, Options{Interval: fastInterval})
	c := newCollector()
	s.OnAny(c.handle)

	require.NoError(t, s.Start())

	c.none(t, 10*fastInterval)
	assert.Equal(t, 2, s.Snapshot().Len())
}

func TestSession_StartIsIdempotent(t *testing.T) {
	root := t.TempDir()
	s := newSession(t, root, Options{Interval: fastInterval})
	c := newCollector()
	s.OnAny(c.handle)

	require.NoError(t, s.Start())
	require.NoError(t, s.Start())

	writeFile(t, filepath.Join(root, "once.txt"), "1")

	e := c.next(t)
	assert.Equal(t, event.Created, e.Type)
	c.none(t, 10*fastInterval)
}

func TestSession_Lifecycle(t *testing.T) {
	t.Run("start after stop", func(t *testing.T) {
		s := newSession(t, t.TempDir(), Options{Interval: fastInterval})
		require.NoError(t, s.Start())
		s.Stop()
		s.Stop()

		err := s.Start()
		assert.ErrorIs(t, err, domainerrors.ErrInvalidState)
		assert.Equal(t, StateStopped, s.State())
	})

	t.Run("stop while idle", func(t *testing.T) {
		s := newSession(t, t.TempDir(), Options{})
		s.Stop()

		assert.Equal(t, StateStopped, s.State())
		assert.ErrorIs(t, s.Start(), domainerrors.ErrInvalidState)
	})

	t.Run("no events after stop", func(t *testing.T) {
		root := t.TempDir()
		s := newSession(t, root, Options{Interval: fastInterval})
		c := newCollector()
		s.OnAny(c.handle)
		require.NoError(t, s.Start())
		s.Stop()

		writeFile(t, filepath.Join(root, "late.txt"), "x")
		c.none(t, 10*fastInterval)
	})
}

func TestSession_PollOnce(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "old.txt"), "old")
	s := newSession(t, root, Options{})

	evs, err := s.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, evs, "first poll only records the baseline")

	writeFile(t, filepath.Join(root, "new.txt"), "new")
	require.NoError(t, os.Remove(filepath.Join(root, "old.txt")))

	evs, err = s.PollOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, "created: "+filepath.Join(root, "new.txt"), evs[0].String())
	assert.Equal(t, "deleted: "+filepath.Join(root, "old.txt"), evs[1].String())

	evs, err = s.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, evs)

	require.NoError(t, s.Start())
	_, err = s.PollOnce(context.Background())
	assert.ErrorIs(t, err, domainerrors.ErrInvalidState)

	s.Stop()
	_, err = s.PollOnce(context.Background())
	assert.ErrorIs(t, err, domainerrors.ErrInvalidState)
}

func TestSession_PollOnceCancelled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "a")
	s := newSession(t, root, Options{})

	_, err := s.PollOnce(context.Background())
	require.NoError(t, err)
	before := s.Snapshot()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.PollOnce(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, before.CapturedAt(), s.Snapshot().CapturedAt(), "a cancelled poll keeps the previous set")
}

func TestSession_PollOnceDoesNotDispatch(t *testing.T) {
	root := t.TempDir()
	s := newSession(t, root, Options{})
	c := newCollector()
	s.OnAny(c.handle)

	_, err := s.PollOnce(context.Background())
	require.NoError(t, err)
	writeFile(t, filepath.Join(root, "a.txt"), "a")

	evs, err := s.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, evs, 1)
	c.none(t, 20*time.Millisecond)
}

func TestSession_Filters(t *testing.T) {
	root := t.TempDir()
	s := newSession(t, root, Options{
		Include:      []string{"*.txt"},
		Exclude:      []string{"skip/**"},
		IgnoreHidden: true,
	})

	_, err := s.PollOnce(context.Background())
	require.NoError(t, err)

	writeFile(t, filepath.Join(root, "a.txt"), "a")
	writeFile(t, filepath.Join(root, "b.log"), "b")
	writeFile(t, filepath.Join(root, ".secret.txt"), "s")
	writeFile(t, filepath.Join(root, "skip", "c.txt"), "c")
	writeFile(t, filepath.Join(root, "deep", "d.txt"), "d")

	evs, err := s.PollOnce(context.Background())
	require.NoError(t, err)

	var got []string
	for _, e := range evs {
		assert.Equal(t, event.Created, e.Type)
		got = append(got, e.Path)
	}
	assert.Equal(t, []string{
		filepath.Join(root, "a.txt"),
		filepath.Join(root, "deep", "d.txt"),
	}, got)
}

func TestSession_NonRecursive(t *testing.T) {
	root := t.TempDir()
	s := newSession(t, root, Options{NonRecursive: true})

	_, err := s.PollOnce(context.Background())
	require.NoError(t, err)

	writeFile(t, filepath.Join(root, "top.txt"), "t")
	writeFile(t, filepath.Join(root, "sub", "nested.txt"), "n")

	evs, err := s.PollOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, filepath.Join(root, "top.txt"), evs[0].Path)
}

func TestSession_MetadataMode(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.txt")
	writeFile(t, path, "same")
	s := newSession(t, root, Options{})

	_, err := s.PollOnce(context.Background())
	require.NoError(t, err)

	evs, err := s.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, evs)

	// Same bytes, later mtime: metadata mode reports it.
	writeFile(t, path, "same")
	touch(t, path, time.Hour)

	evs, err = s.PollOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, event.Modified, evs[0].Type)
}

func TestSession_HashMode(t *testing.T) {
	for _, algo := range []snapshot.Algorithm{snapshot.SHA256, snapshot.XXHash, snapshot.MD5} {
		t.Run(string(algo), func(t *testing.T) {
			root := t.TempDir()
			path := filepath.Join(root, "a.txt")
			writeFile(t, path, "same")
			s := newSession(t, root, Options{UseHash: true, HashAlgorithm: algo})

			_, err := s.PollOnce(context.Background())
			require.NoError(t, err)

			writeFile(t, path, "same")
			touch(t, path, time.Hour)

			evs, err := s.PollOnce(context.Background())
			require.NoError(t, err)
			assert.Empty(t, evs, "identical content is not a modification")

			writeFile(t, path, "diff")
			touch(t, path, 2*time.Hour)

			evs, err = s.PollOnce(context.Background())
			require.NoError(t, err)
			require.Len(t, evs, 1)
			assert.Equal(t, event.Modified, evs[0].Type)
			assert.NotEmpty(t, evs[0].Digest)
		})
	}
}

func TestSession_MissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "later")
	s := newSession(t, root, Options{Interval: fastInterval})
	c := newCollector()
	s.OnAny(c.handle)

	require.NoError(t, s.Start())
	writeFile(t, filepath.Join(root, "a.txt"), "a")

	e := c.next(t)
	assert.Equal(t, event.Created, e.Type)
	assert.Equal(t, filepath.Join(root, "a.txt"), e.Path)
}

func TestSession_SingleFileRoot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watched.txt")
	writeFile(t, path, "v1")
	s := newSession(t, path, Options{})

	_, err := s.PollOnce(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.Remove(path))
	evs, err := s.PollOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, event.Deleted, evs[0].Type)
}

func TestSession_Transform(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "payload")
	s := newSession(t, root, Options{UseHash: true, Transform: moves.Correlate})

	_, err := s.PollOnce(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.Rename(filepath.Join(root, "a.txt"), filepath.Join(root, "b.txt")))

	evs, err := s.PollOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, event.Moved, evs[0].Type)
	assert.Equal(t, filepath.Join(root, "a.txt"), evs[0].OldPath)
	assert.Equal(t, filepath.Join(root, "b.txt"), evs[0].Path)
}

func TestSession_TransformPanic(t *testing.T) {
	root := t.TempDir()
	calls := 0
	s := newSession(t, root, Options{
		Interval: fastInterval,
		Transform: func(_, _ snapshot.Set, evs []event.Event) []event.Event {
			calls++
			if calls == 1 {
				panic("transform broke")
			}
			return evs
		},
	})

	_, err := s.PollOnce(context.Background())
	require.NoError(t, err)
	writeFile(t, filepath.Join(root, "a.txt"), "a")

	_, err = s.PollOnce(context.Background())
	assert.ErrorIs(t, err, domainerrors.ErrInternal)

	writeFile(t, filepath.Join(root, "b.txt"), "b")
	evs, err := s.PollOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, filepath.Join(root, "b.txt"), evs[0].Path)
}

func TestSession_HandlerPanicDoesNotStopLoop(t *testing.T) {
	root := t.TempDir()
	s := newSession(t, root, Options{Interval: fastInterval})
	c := newCollector()
	s.On(event.Created, func(event.Event) { panic("observer bug") })
	s.On(event.Created, c.handle)

	require.NoError(t, s.Start())

	writeFile(t, filepath.Join(root, "one.txt"), "1")
	assert.Equal(t, filepath.Join(root, "one.txt"), c.next(t).Path)

	writeFile(t, filepath.Join(root, "two.txt"), "2")
	assert.Equal(t, filepath.Join(root, "two.txt"), c.next(t).Path)
}

func TestSession_IncludeDirs(t *testing.T) {
	root := t.TempDir()
	s := newSession(t, root, Options{IncludeDirs: true})

	_, err := s.PollOnce(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))
	evs, err := s.PollOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.True(t, evs[0].IsDirectory)

	writeFile(t, filepath.Join(root, "sub", "f.txt"), "f")
	evs, err = s.PollOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, evs, 1, "the directory itself is not modified by a new child")
	assert.Equal(t, filepath.Join(root, "sub", "f.txt"), evs[0].Path)
}

// lockedBuffer is a log sink that may be written from the poll goroutine
// while the test reads it.
type lockedBuffer struct {
	buf bytes.Buffer
	mu  sync.Mutex
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func waitClosed(t *testing.T, ch <-chan struct{}, msg string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatal(msg)
	}
}

func TestSession_StopTimeout(t *testing.T) {
	const stopTimeout = 100 * time.Millisecond
	root := t.TempDir()
	logs := &lockedBuffer{}
	s, err := NewSession(slog.New(slog.NewTextHandler(logs, nil)), root, Options{
		Interval:    fastInterval,
		StopTimeout: stopTimeout,
	})
	require.NoError(t, err)
	t.Cleanup(s.Stop)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	s.OnAny(func(event.Event) {
		once.Do(func() { close(entered) })
		<-release
	})

	require.NoError(t, s.Start())
	done := s.done

	writeFile(t, filepath.Join(root, "a.txt"), "A")
	waitClosed(t, entered, "handler was never called")

	start := time.Now()
	s.Stop()
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, stopTimeout)
	assert.Less(t, elapsed, 2*time.Second)
	assert.Equal(t, StateStopped, s.State())
	assert.Contains(t, logs.String(), "poll loop did not exit in time")

	close(release)
	waitClosed(t, done, "poll loop did not exit after the handler returned")
}

func TestSession_StopFromHandler(t *testing.T) {
	const stopTimeout = 50 * time.Millisecond
	root := t.TempDir()
	s := newSession(t, root, Options{Interval: fastInterval, StopTimeout: stopTimeout})

	waited := make(chan time.Duration, 1)
	s.OnAny(func(event.Event) {
		start := time.Now()
		s.Stop()
		select {
		case waited <- time.Since(start):
		default:
		}
	})

	require.NoError(t, s.Start())
	done := s.done

	writeFile(t, filepath.Join(root, "a.txt"), "A")

	select {
	case d := <-waited:
		assert.GreaterOrEqual(t, d, stopTimeout, "the loop cannot exit while its own handler runs")
	case <-time.After(3 * time.Second):
		t.Fatal("handler was never called")
	}
	assert.Equal(t, StateStopped, s.State())
	waitClosed(t, done, "poll loop did not exit after the handler returned")
}

func TestSession_NoCycleAfterStop(t *testing.T) {
	root := t.TempDir()
	var calls atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	s := newSession(t, root, Options{
		Interval:    time.Millisecond,
		StopTimeout: 3 * time.Second,
		Transform: func(_, _ snapshot.Set, evs []event.Event) []event.Event {
			if calls.Add(1) == 1 {
				close(entered)
				<-release
			}
			return evs
		},
	})

	require.NoError(t, s.Start())
	waitClosed(t, entered, "no poll cycle ran")

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	require.Eventually(t, func() bool { return s.State() == StateStopped }, time.Second, time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	close(release)
	waitClosed(t, stopped, "Stop did not return")
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewSession_NilLogger(t *testing.T) {
	root := t.TempDir()
	s, err := NewSession(nil, root, Options{Interval: fastInterval})
	require.NoError(t, err)
	t.Cleanup(s.Stop)

	c := newCollector()
	s.OnAny(c.handle)
	s.OnAny(func(event.Event) { panic("logged to nowhere") })
	require.NoError(t, s.Start())

	path := filepath.Join(root, "a.txt")
	writeFile(t, path, "A")
	assert.Equal(t, path, c.next(t).Path)

	s.Stop()
	assert.Equal(t, StateStopped, s.State())
}
