package exec

import (
	"io"
	"time"

	"github.com/pkg/errors"
)

const (
	readBufferSize = 4096
	// maxReadsPerWake bounds how long one stream is drained before the other
	// sources are looked at again, so a chatty child cannot starve its own
	// exit notification.
	maxReadsPerWake = 64
	// maxWaitFailures is the number of consecutive failed waits after which
	// the monitor stops trusting the wait and gives up on the child.
	maxWaitFailures = 8
)

// monitor is the wait/read loop. It runs on its own goroutine, one per child,
// until the child reached a terminal state.
func (c *Cmd) monitor(child Child) {
	buf := make([]byte, readBufferSize)
	open := StdoutReady | StderrReady
	failures := 0

	for {
		ready, err := child.Wait()
		if err != nil {
			failures++
			if failures < maxWaitFailures {
				c.warn(&WaitError{Err: err})
				time.Sleep(time.Duration(failures) * time.Millisecond)
				continue
			}

			c.warn(&WaitError{Err: err, Fatal: true})
			c.abandon(child)
			break
		}
		failures = 0

		open = c.drain(child, ready&open, open, buf)

		if ready.Has(Exited) {
			// Pick up whatever the child wrote right before exiting.
			c.drain(child, open, open, buf)
			c.exited(child)
			break
		}
	}

	c.finish(child)
}

// drain forwards the buffered bytes of every stream in which to its callback.
// It returns open without the streams that were found closed.
func (c *Cmd) drain(child Child, which, open Ready, buf []byte) Ready {
	for _, stream := range [...]Stream{Stdout, Stderr} {
		if !which.Has(stream.ready()) {
			continue
		}
		if !c.drainStream(child, stream, buf) {
			open &^= stream.ready()
		}
	}
	return open
}

// drainStream returns false once the stream is closed.
func (c *Cmd) drainStream(child Child, stream Stream, buf []byte) bool {
	sink := c.cfg.OnStdout
	if stream == Stderr {
		sink = c.cfg.OnStderr
	}

	for i := 0; i < maxReadsPerWake; i++ {
		n, err := child.Read(stream, buf)
		if n > 0 && sink != nil {
			sink(buf[:n])
		}

		switch {
		case err == nil:
			continue
		case errors.Is(err, ErrWouldBlock):
			return true
		case errors.Is(err, io.EOF):
			return false
		default:
			c.warn(&IOError{Stream: stream, Err: err})
			return false
		}
	}

	return true
}

// exited records the natural end of the child, or the end of a kill that was
// already in flight.
func (c *Cmd) exited(child Child) {
	end := time.Now()
	code, err := child.ExitCode()
	if err != nil {
		c.warn(errors.Wrap(err, "failed to get exit code"))
	}

	c.settle(end, code, err == nil)
}

// abandon kills a child whose wait cannot be trusted anymore and records
// whatever the OS still reports.
func (c *Cmd) abandon(child Child) {
	c.mu.Lock()
	err := c.terminate()
	c.mu.Unlock()

	if err != nil {
		c.warn(err)
	}

	code, err := child.ExitCode()
	c.settle(time.Now(), code, err == nil)
}

// settle moves the Cmd into its terminal state. After this, Cancel is a no-op.
//
// The child only counts as killed if it died from our own terminate call. A
// child that exited on its own while a kill was in flight keeps its exit code;
// backends report KilledExitStatus for deaths they caused.
func (c *Cmd) settle(end time.Time, code int, known bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.terminal = true
	c.end = end

	switch {
	case c.signalled && (!known || code == KilledExitStatus):
		c.killed = true
		c.code = KilledExitStatus
	case !known:
		c.code = UnknownExitStatus
	default:
		c.code = code
	}
}

// finish stops the watchdog, releases every handle and reports the outcome.
func (c *Cmd) finish(child Child) {
	c.stopToken()
	if c.watchdog != nil {
		c.watchdog.wait()
	}
	c.stopCtx()

	if err := c.stdin.Close(); err != nil {
		c.warn(errors.Wrap(err, "failed to close stdin"))
	}
	if err := child.Close(); err != nil {
		c.warn(errors.Wrap(err, "failed to release process handles"))
	}

	if c.cfg.OnExit != nil {
		c.cfg.OnExit(c.status())
	}

	close(c.done)
}
