package exec

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Config describes the program to run and where its output goes. It is copied
// into the Cmd on New and never changes afterwards.
type Config struct {
	// Path is the path or name of the executable. Names without a path
	// separator are looked up in PATH.
	Path string
	// Args are the arguments passed after the executable, not including the
	// executable itself.
	Args []string
	// Timeout, if positive, is how long the child may run before it is
	// forcibly terminated.
	Timeout time.Duration

	// OnStdout and OnStderr are called on the monitor goroutine with each
	// chunk read from the respective stream, in the order the child wrote
	// them. The slice is only valid until the callback returns.
	OnStdout func([]byte)
	OnStderr func([]byte)
	// OnExit is called once on the monitor goroutine after every handle has
	// been released. It must not call Wait.
	OnExit func(ExitStatus)
	// OnWarning is called on the monitor goroutine for conditions that do not
	// end the child's lifecycle by themselves, such as *IOError and
	// *WaitError.
	OnWarning func(error)

	// Backend overrides DefaultBackend.
	Backend Backend
}

// Cmd is a single run of a program. A Cmd is created with New, started with
// Spawn and cannot be reused. All methods are safe for concurrent use.
type Cmd struct {
	cfg  Config
	done chan struct{}

	// stopToken wakes the watchdog once the child reached a terminal state.
	stopToken context.CancelFunc
	stopCtx   func() bool
	watchdog  *watchdog

	mu        sync.Mutex
	child     Child
	stdin     *stdinPipe
	pid       int
	code      int
	start     time.Time
	end       time.Time
	spawned   bool
	killing   bool // forced termination was requested
	signalled bool // Terminate was issued
	killed    bool
	terminal  bool
}

// New creates a process descriptor. Nothing is started until Spawn.
func New(cfg Config) *Cmd {
	cfg.Args = append([]string(nil), cfg.Args...)
	if cfg.Backend == nil {
		cfg.Backend = DefaultBackend
	}

	return &Cmd{
		cfg:  cfg,
		done: make(chan struct{}),
		pid:  NoPID,
		code: UnknownExitStatus,
	}
}

// Spawn starts the child and its monitor. If ctx is canceled before the child
// exits, the child is killed as though Cancel was called.
//
// An error matching ErrSpawn is returned if the child could not be started, in
// which case PID stays NoPID and no callback ever fires.
func (c *Cmd) Spawn(ctx context.Context) error {
	c.mu.Lock()
	if c.spawned {
		c.mu.Unlock()
		return ErrAlreadySpawned
	}
	c.spawned = true
	c.mu.Unlock()

	if c.cfg.Path == "" {
		return &SpawnError{Err: errors.New("missing executable")}
	}

	start := time.Now()

	child, err := c.cfg.Backend.Spawn(c.cfg.Path, c.cfg.Args)
	if err != nil {
		var spawnErr *SpawnError
		if errors.As(err, &spawnErr) {
			return err
		}
		return &SpawnError{Path: c.cfg.Path, Err: err}
	}

	token, stop := context.WithCancel(context.Background())
	c.stopToken = stop

	c.mu.Lock()
	c.child = child
	c.stdin = newStdinPipe(child.Stdin())
	c.pid = child.PID()
	c.start = start
	// A Cancel that raced with the spawn itself.
	if c.killing {
		c.terminate()
	}
	c.mu.Unlock()

	if c.cfg.Timeout > 0 {
		c.watchdog = startWatchdog(token, c.cfg.Timeout, c.Cancel)
	}
	c.stopCtx = context.AfterFunc(ctx, c.Cancel)

	go c.monitor(child)
	return nil
}

// Cancel forcibly terminates the child. It returns without waiting for the
// child to die; use Wait for that. Cancel may be called any number of times
// and from any goroutine. It does nothing once the child reached a terminal
// state. If called before Spawn, the child is killed right after it starts.
//
// A child that was already dead when Cancel got to it keeps its own exit code
// and is not reported as killed, even though the kill was issued.
func (c *Cmd) Cancel() {
	c.Kill()
}

// Kill is Cancel, except the error from the OS terminate call is returned.
func (c *Cmd) Kill() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.terminal {
		return nil
	}

	c.killing = true

	if c.child == nil {
		return nil
	}

	return c.terminate()
}

// terminate issues the OS kill at most once. c.mu must be held.
func (c *Cmd) terminate() error {
	if c.signalled {
		return nil
	}
	c.signalled = true
	return errors.Wrap(c.child.Terminate(), "failed to terminate process")
}

// Wait blocks until the child reached a terminal state and its handles were
// released, then returns the outcome. Wait returns immediately with a zero
// PID if Spawn failed or was never called.
func (c *Cmd) Wait() ExitStatus {
	if !c.started() {
		return notSpawned
	}

	<-c.done
	return c.status()
}

// WaitContext is Wait, except it gives up when ctx is done. Giving up does not
// affect the child.
func (c *Cmd) WaitContext(ctx context.Context) (ExitStatus, error) {
	if !c.started() {
		return notSpawned, nil
	}

	select {
	case <-c.done:
		return c.status(), nil
	case <-ctx.Done():
		return ExitStatus{}, ctx.Err()
	}
}

// Done returns a channel that is closed once Wait would return.
func (c *Cmd) Done() <-chan struct{} {
	return c.done
}

// PID returns the child's process ID, or NoPID if it was never spawned.
func (c *Cmd) PID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pid
}

// Running returns true if the child was spawned and has not reached a terminal
// state.
func (c *Cmd) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.child != nil && !c.terminal
}

// ExitCode returns the child's exit code. It is only meaningful once Running
// returns false.
func (c *Cmd) ExitCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code
}

// Killed returns true if the child was forcibly terminated.
func (c *Cmd) Killed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.killed
}

// Duration returns how long the child ran for, or has been running so far.
func (c *Cmd) Duration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.start.IsZero():
		return 0
	case c.terminal:
		return c.end.Sub(c.start)
	default:
		return time.Since(c.start)
	}
}

// Stdin returns the write end of the child's standard input, or nil if the
// child was never spawned. Closing it signals EOF to the child. It is closed
// automatically once the child reached a terminal state.
func (c *Cmd) Stdin() io.WriteCloser {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stdin == nil {
		return nil
	}
	return c.stdin
}

var notSpawned = ExitStatus{PID: NoPID, Code: UnknownExitStatus, Error: ErrSpawn}

func (c *Cmd) started() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.child != nil
}

func (c *Cmd) status() ExitStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	return ExitStatus{
		PID:    c.pid,
		Code:   c.code,
		Killed: c.killed,
		Start:  c.start,
		End:    c.end,
	}
}

func (c *Cmd) warn(err error) {
	if c.cfg.OnWarning != nil {
		c.cfg.OnWarning(err)
	}
}
