package exec

import (
	"bytes"
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChild is an in-memory Child whose output, exit and wait failures are
// driven by the test.
type fakeChild struct {
	mu       sync.Mutex
	pending  [2][]byte
	closed   [2]bool
	eof      [2]bool
	readErr  [2]error
	waitErrs []error
	code     int
	dead     bool
	// gate, if not nil, holds back the exit notification until closed.
	gate chan struct{}

	deadCh chan struct{}
	wake   chan struct{}

	terminates int32
	closes     int32
}

func newFakeChild() *fakeChild {
	return &fakeChild{
		deadCh: make(chan struct{}),
		wake:   make(chan struct{}, 1),
	}
}

func (f *fakeChild) notify() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *fakeChild) write(s Stream, data string) {
	f.mu.Lock()
	f.pending[s-1] = append(f.pending[s-1], data...)
	f.mu.Unlock()
	f.notify()
}

func (f *fakeChild) failRead(s Stream, err error) {
	f.mu.Lock()
	f.readErr[s-1] = err
	f.mu.Unlock()
	f.notify()
}

func (f *fakeChild) exit(code int) {
	f.mu.Lock()
	f.exitLocked(code)
	f.mu.Unlock()
}

func (f *fakeChild) exitLocked(code int) {
	if f.dead {
		return
	}
	f.dead = true
	f.code = code
	f.closed = [2]bool{true, true}
	close(f.deadCh)
	f.notify()
}

func (f *fakeChild) PID() int { return 42 }

func (f *fakeChild) Stdin() io.WriteCloser { return nopWriteCloser{io.Discard} }

func (f *fakeChild) Wait() (Ready, error) {
	for {
		f.mu.Lock()
		if len(f.waitErrs) > 0 {
			err := f.waitErrs[0]
			f.waitErrs = f.waitErrs[1:]
			f.mu.Unlock()
			return 0, err
		}

		var ready Ready
		for i, s := range [...]Stream{Stdout, Stderr} {
			if f.eof[i] {
				continue
			}
			if len(f.pending[i]) > 0 || f.closed[i] || f.readErr[i] != nil {
				ready |= s.ready()
			}
		}

		dead, gate := f.dead, f.gate
		f.mu.Unlock()

		if dead {
			if gate != nil {
				<-gate
			}
			return ready | Exited, nil
		}
		if ready != 0 {
			return ready, nil
		}

		<-f.wake
	}
}

func (f *fakeChild) Read(s Stream, p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	i := s - 1
	switch {
	case f.eof[i]:
		return 0, io.EOF
	case len(f.pending[i]) > 0:
		n := copy(p, f.pending[i])
		f.pending[i] = f.pending[i][n:]
		return n, nil
	case f.readErr[i] != nil:
		f.eof[i] = true
		return 0, f.readErr[i]
	case f.closed[i]:
		f.eof[i] = true
		return 0, io.EOF
	default:
		return 0, ErrWouldBlock
	}
}

func (f *fakeChild) Terminate() error {
	atomic.AddInt32(&f.terminates, 1)
	f.exit(KilledExitStatus)
	return nil
}

func (f *fakeChild) ExitCode() (int, error) {
	<-f.deadCh
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.code, nil
}

func (f *fakeChild) Close() error {
	atomic.AddInt32(&f.closes, 1)
	return nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

type fakeBackend struct {
	child *fakeChild
	err   error
	calls int32
}

func (b *fakeBackend) Spawn(path string, args []string) (Child, error) {
	atomic.AddInt32(&b.calls, 1)
	if b.err != nil {
		return nil, b.err
	}
	return b.child, nil
}

// recorder collects everything a Cmd reports through its callbacks.
type recorder struct {
	stdout   bytes.Buffer
	stderr   bytes.Buffer
	warnings []error
	exits    []ExitStatus
}

func (r *recorder) config(b Backend) Config {
	return Config{
		Path:      "fake",
		Backend:   b,
		OnStdout:  func(b []byte) { r.stdout.Write(b) },
		OnStderr:  func(b []byte) { r.stderr.Write(b) },
		OnWarning: func(err error) { r.warnings = append(r.warnings, err) },
		OnExit:    func(s ExitStatus) { r.exits = append(r.exits, s) },
	}
}

func waitFor(t *testing.T, cmd *Cmd) ExitStatus {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status, err := cmd.WaitContext(ctx)
	require.NoError(t, err, "process did not reach a terminal state")
	return status
}

func TestCmdNaturalExit(t *testing.T) {
	child := newFakeChild()
	var r recorder

	cmd := New(r.config(&fakeBackend{child: child}))
	require.NoError(t, cmd.Spawn(context.Background()))
	assert.Equal(t, 42, cmd.PID())
	assert.True(t, cmd.Running())

	child.write(Stdout, "hello")
	child.write(Stderr, "oops")
	child.exit(0)

	status := waitFor(t, cmd)

	assert.Equal(t, "hello", r.stdout.String())
	assert.Equal(t, "oops", r.stderr.String())
	assert.Equal(t, 0, status.Code)
	assert.False(t, status.Killed)
	assert.False(t, cmd.Running())
	assert.False(t, status.End.Before(status.Start))
	assert.Equal(t, int32(1), atomic.LoadInt32(&child.closes))
	assert.Equal(t, int32(0), atomic.LoadInt32(&child.terminates))
	require.Len(t, r.exits, 1)
	assert.Equal(t, status, r.exits[0])
	assert.Empty(t, r.warnings)
}

func TestCmdOutputWrittenBeforeExit(t *testing.T) {
	child := newFakeChild()
	child.write(Stdout, "buffered ")
	child.write(Stdout, "output")
	child.exit(42)

	var r recorder
	cmd := New(r.config(&fakeBackend{child: child}))
	require.NoError(t, cmd.Spawn(context.Background()))

	status := waitFor(t, cmd)
	assert.Equal(t, "buffered output", r.stdout.String())
	assert.Equal(t, 42, status.Code)
	assert.Equal(t, 42, cmd.ExitCode())
	assert.False(t, cmd.Killed())
}

func TestCmdStreamOrder(t *testing.T) {
	child := newFakeChild()
	var r recorder

	cmd := New(r.config(&fakeBackend{child: child}))
	require.NoError(t, cmd.Spawn(context.Background()))

	var wantOut, wantErr bytes.Buffer
	for i := 0; i < 200; i++ {
		out := string(rune('a' + i%26))
		err := string(rune('A' + i%26))
		child.write(Stdout, out)
		child.write(Stderr, err)
		wantOut.WriteString(out)
		wantErr.WriteString(err)
	}
	child.exit(0)

	waitFor(t, cmd)
	assert.Equal(t, wantOut.String(), r.stdout.String())
	assert.Equal(t, wantErr.String(), r.stderr.String())
}

func TestCmdCancel(t *testing.T) {
	child := newFakeChild()
	var r recorder

	cmd := New(r.config(&fakeBackend{child: child}))
	require.NoError(t, cmd.Spawn(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cmd.Cancel()
		}()
	}
	wg.Wait()

	status := waitFor(t, cmd)
	cmd.Cancel()

	assert.True(t, status.Killed)
	assert.Equal(t, KilledExitStatus, status.Code)
	assert.Equal(t, int32(1), atomic.LoadInt32(&child.terminates))
	assert.Equal(t, int32(1), atomic.LoadInt32(&child.closes))
	assert.Len(t, r.exits, 1)
}

func TestCmdCancelAfterExit(t *testing.T) {
	child := newFakeChild()
	var r recorder

	cmd := New(r.config(&fakeBackend{child: child}))
	require.NoError(t, cmd.Spawn(context.Background()))

	child.exit(3)
	before := waitFor(t, cmd)

	cmd.Cancel()
	require.NoError(t, cmd.Kill())

	after := cmd.Wait()
	assert.Equal(t, before, after)
	assert.Equal(t, 3, after.Code)
	assert.False(t, after.Killed)
	assert.Equal(t, int32(0), atomic.LoadInt32(&child.terminates))
	assert.Equal(t, int32(1), atomic.LoadInt32(&child.closes))
}

func TestCmdCancelRacesNaturalExit(t *testing.T) {
	child := newFakeChild()
	child.gate = make(chan struct{})

	var r recorder
	cmd := New(r.config(&fakeBackend{child: child}))
	require.NoError(t, cmd.Spawn(context.Background()))

	// The child is gone but the monitor has not noticed yet.
	child.exit(3)
	cmd.Cancel()
	close(child.gate)

	status := waitFor(t, cmd)
	assert.Equal(t, 3, status.Code)
	assert.False(t, status.Killed)
}

func TestCmdCancelBeforeSpawn(t *testing.T) {
	child := newFakeChild()
	var r recorder

	cmd := New(r.config(&fakeBackend{child: child}))
	cmd.Cancel()
	require.NoError(t, cmd.Spawn(context.Background()))

	status := waitFor(t, cmd)
	assert.True(t, status.Killed)
	assert.Equal(t, KilledExitStatus, status.Code)
}

func TestCmdContextCancel(t *testing.T) {
	child := newFakeChild()
	var r recorder

	ctx, cancel := context.WithCancel(context.Background())
	cmd := New(r.config(&fakeBackend{child: child}))
	require.NoError(t, cmd.Spawn(ctx))

	cancel()

	status := waitFor(t, cmd)
	assert.True(t, status.Killed)
}

func TestCmdTimeout(t *testing.T) {
	child := newFakeChild()
	var r recorder

	cfg := r.config(&fakeBackend{child: child})
	cfg.Timeout = 50 * time.Millisecond

	cmd := New(cfg)
	require.NoError(t, cmd.Spawn(context.Background()))

	status := waitFor(t, cmd)
	assert.True(t, status.Killed)
	assert.Equal(t, KilledExitStatus, status.Code)
	assert.GreaterOrEqual(t, status.Duration(), 50*time.Millisecond)
	assert.Less(t, status.Duration(), 2*time.Second)
}

func TestCmdExitBeforeTimeout(t *testing.T) {
	child := newFakeChild()
	child.exit(0)

	var r recorder
	cfg := r.config(&fakeBackend{child: child})
	cfg.Timeout = 30 * time.Millisecond

	cmd := New(cfg)
	require.NoError(t, cmd.Spawn(context.Background()))
	waitFor(t, cmd)

	// Give a late watchdog every chance to fire.
	time.Sleep(60 * time.Millisecond)

	assert.Equal(t, int32(0), atomic.LoadInt32(&child.terminates))
	assert.False(t, cmd.Killed())
	assert.Equal(t, 0, cmd.ExitCode())
}

func TestCmdSpawnFailure(t *testing.T) {
	backend := &fakeBackend{err: errors.New("no such file")}
	var r recorder

	cmd := New(r.config(backend))
	err := cmd.Spawn(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSpawn))

	var spawnErr *SpawnError
	require.True(t, errors.As(err, &spawnErr))
	assert.Equal(t, "fake", spawnErr.Path)

	assert.Equal(t, NoPID, cmd.PID())
	assert.False(t, cmd.Running())
	assert.Nil(t, cmd.Stdin())

	status := cmd.Wait()
	assert.Equal(t, NoPID, status.PID)
	assert.True(t, errors.Is(status.Error, ErrSpawn))
	assert.Empty(t, r.exits)
	assert.Zero(t, r.stdout.Len())
}

func TestCmdSpawnMissingPath(t *testing.T) {
	backend := &fakeBackend{child: newFakeChild()}

	cmd := New(Config{Backend: backend})
	err := cmd.Spawn(context.Background())
	assert.True(t, errors.Is(err, ErrSpawn))
	assert.Equal(t, int32(0), atomic.LoadInt32(&backend.calls))
}

func TestCmdSpawnTwice(t *testing.T) {
	child := newFakeChild()
	var r recorder

	cmd := New(r.config(&fakeBackend{child: child}))
	require.NoError(t, cmd.Spawn(context.Background()))
	assert.Equal(t, ErrAlreadySpawned, cmd.Spawn(context.Background()))

	child.exit(0)
	waitFor(t, cmd)
}

func TestCmdWaitAnomaly(t *testing.T) {
	t.Run("recoverable", func(t *testing.T) {
		child := newFakeChild()
		child.waitErrs = []error{errors.New("spurious"), errors.New("spurious")}

		var r recorder
		cmd := New(r.config(&fakeBackend{child: child}))
		require.NoError(t, cmd.Spawn(context.Background()))

		child.write(Stdout, "still here")
		child.exit(7)

		status := waitFor(t, cmd)
		assert.Equal(t, 7, status.Code)
		assert.False(t, status.Killed)
		assert.Equal(t, "still here", r.stdout.String())

		require.Len(t, r.warnings, 2)
		for _, w := range r.warnings {
			var waitErr *WaitError
			require.True(t, errors.As(w, &waitErr))
			assert.False(t, waitErr.Fatal)
		}
	})

	t.Run("unrecoverable", func(t *testing.T) {
		child := newFakeChild()
		for i := 0; i < maxWaitFailures; i++ {
			child.waitErrs = append(child.waitErrs, errors.New("broken"))
		}

		var r recorder
		cmd := New(r.config(&fakeBackend{child: child}))
		require.NoError(t, cmd.Spawn(context.Background()))

		status := waitFor(t, cmd)
		assert.Equal(t, int32(1), atomic.LoadInt32(&child.terminates))
		assert.Equal(t, int32(1), atomic.LoadInt32(&child.closes))
		assert.Equal(t, KilledExitStatus, status.Code)

		require.Len(t, r.warnings, maxWaitFailures)
		var waitErr *WaitError
		require.True(t, errors.As(r.warnings[len(r.warnings)-1], &waitErr))
		assert.True(t, waitErr.Fatal)
	})
}

func TestCmdReadFailure(t *testing.T) {
	child := newFakeChild()
	var r recorder

	cmd := New(r.config(&fakeBackend{child: child}))
	require.NoError(t, cmd.Spawn(context.Background()))

	readErr := errors.New("device gone")
	child.failRead(Stderr, readErr)
	child.write(Stdout, "fine")
	child.exit(0)

	status := waitFor(t, cmd)
	assert.Equal(t, 0, status.Code)
	assert.Equal(t, "fine", r.stdout.String())

	require.Len(t, r.warnings, 1)
	var ioErr *IOError
	require.True(t, errors.As(r.warnings[0], &ioErr))
	assert.Equal(t, Stderr, ioErr.Stream)
	assert.True(t, errors.Is(ioErr, readErr))
}

func TestCmdWaitContext(t *testing.T) {
	child := newFakeChild()
	var r recorder

	cmd := New(r.config(&fakeBackend{child: child}))
	require.NoError(t, cmd.Spawn(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := cmd.WaitContext(ctx)
	assert.Equal(t, context.DeadlineExceeded, err)
	assert.True(t, cmd.Running())

	child.exit(0)
	<-cmd.Done()
	assert.False(t, cmd.Running())
}

func TestCmdWaitNotSpawned(t *testing.T) {
	backend := &fakeBackend{err: errors.New("no such file")}
	var r recorder

	cmd := New(r.config(backend))
	status, err := cmd.WaitContext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, NoPID, status.PID)
	assert.True(t, errors.Is(status.Error, ErrSpawn))

	require.Error(t, cmd.Spawn(context.Background()))

	status, err = cmd.WaitContext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cmd.Wait(), status)
}
