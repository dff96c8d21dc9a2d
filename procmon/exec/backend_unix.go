//go:build !windows

package exec

import (
	"io"
	"os"
	osexec "os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// invalidFD marks a pipe end that was already closed.
const invalidFD = -1

// pipe is one unidirectional OS pipe.
type pipe struct {
	r, w int
}

func (p *pipe) closeRead() error  { return closeFD(&p.r) }
func (p *pipe) closeWrite() error { return closeFD(&p.w) }

func (p *pipe) close() error {
	err1 := p.closeRead()
	err2 := p.closeWrite()
	if err1 != nil {
		return err1
	}
	return err2
}

// closeFD closes *fd unless it is already closed, then invalidates it.
func closeFD(fd *int) error {
	if *fd == invalidFD {
		return nil
	}
	err := unix.Close(*fd)
	*fd = invalidFD
	return err
}

type unixBackend struct{}

func newPlatformBackend() Backend { return unixBackend{} }

// Spawn implements Backend. Arguments are handed to the kernel as a vector,
// so they need no quoting.
func (unixBackend) Spawn(path string, args []string) (Child, error) {
	bin := path
	if !strings.Contains(path, "/") {
		p, err := osexec.LookPath(path)
		if err != nil {
			return nil, &SpawnError{Path: path, Err: err}
		}
		bin = p
	}

	// stdin is read by the child; stdout and stderr are written by it.
	var stdin, stdout, stderr pipe
	pipes := [...]*pipe{&stdin, &stdout, &stderr}
	for _, p := range pipes {
		*p = pipe{invalidFD, invalidFD}
	}

	releaseAll := func() {
		for _, p := range pipes {
			p.close()
		}
	}

	for _, p := range pipes {
		if err := newPipe(p); err != nil {
			releaseAll()
			return nil, &SpawnError{Path: path, Err: errors.Wrap(err, "failed to create pipe")}
		}
	}

	for _, fd := range [...]int{stdout.r, stderr.r} {
		if err := unix.SetNonblock(fd, true); err != nil {
			releaseAll()
			return nil, &SpawnError{Path: path, Err: errors.Wrap(err, "failed to set non-blocking")}
		}
	}

	argv := append([]string{path}, args...)

	// Everything we opened is close-on-exec; StartProcess dups these three
	// onto 0, 1 and 2 in the child, which clears the flag for them only.
	pid, err := children.spawn(func() (int, error) {
		pid, _, err := syscall.StartProcess(bin, argv, &syscall.ProcAttr{
			Env:   os.Environ(),
			Files: []uintptr{uintptr(stdin.r), uintptr(stdout.w), uintptr(stderr.w)},
		})
		return pid, err
	})

	// The child has its own copies now. Ours must go so that EOF is seen once
	// the child exits.
	stdin.closeRead()
	stdout.closeWrite()
	stderr.closeWrite()

	if err != nil {
		releaseAll()
		return nil, &SpawnError{Path: path, Err: err}
	}

	exit, err := newExitWaiter(pid)
	if err != nil {
		// The child is running but we cannot observe it; do not leave it
		// behind.
		unix.Kill(pid, unix.SIGKILL)
		var ws unix.WaitStatus
		unix.Wait4(pid, &ws, 0, nil)
		children.release(pid)
		releaseAll()
		return nil, &SpawnError{Path: path, Err: errors.Wrap(err, "failed to watch process")}
	}

	child := &unixChild{
		pid:    pid,
		stdin:  os.NewFile(uintptr(stdin.w), "|0"),
		stdout: stdout,
		stderr: stderr,
		exit:   exit,
	}
	return child, nil
}

type unixChild struct {
	pid    int
	stdin  *os.File
	stdout pipe
	stderr pipe
	exit   exitWaiter

	eof        [2]bool
	terminated atomic.Bool

	closeOnce sync.Once
	closeErr  error
}

func (c *unixChild) PID() int { return c.pid }

func (c *unixChild) Stdin() io.WriteCloser { return c.stdin }

func (c *unixChild) fd(s Stream) int {
	if s == Stderr {
		return c.stderr.r
	}
	return c.stdout.r
}

// pollFD returns the descriptor to poll for s, or -1 to make poll skip it.
func (c *unixChild) pollFD(s Stream) int32 {
	if c.eof[s-1] {
		return -1
	}
	return int32(c.fd(s))
}

func (c *unixChild) Wait() (Ready, error) {
	const events = unix.POLLIN | unix.POLLHUP | unix.POLLERR

	fds := []unix.PollFd{
		{Fd: c.pollFD(Stdout), Events: unix.POLLIN},
		{Fd: c.pollFD(Stderr), Events: unix.POLLIN},
		{Fd: int32(c.exit.fd()), Events: unix.POLLIN},
	}

	_, err := unix.Poll(fds, -1)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "poll")
	}

	var ready Ready
	if fds[0].Revents&events != 0 {
		ready |= StdoutReady
	}
	if fds[1].Revents&events != 0 {
		ready |= StderrReady
	}
	if fds[2].Revents&events != 0 {
		ready |= Exited
	}

	for _, pfd := range fds {
		if pfd.Revents&unix.POLLNVAL != 0 {
			return ready, errors.Errorf("poll: invalid descriptor %d", pfd.Fd)
		}
	}

	return ready, nil
}

func (c *unixChild) Read(s Stream, p []byte) (int, error) {
	if c.eof[s-1] {
		return 0, io.EOF
	}

	for {
		n, err := unix.Read(c.fd(s), p)
		switch {
		case err == nil && n > 0:
			return n, nil
		case err == nil:
			c.eof[s-1] = true
			return 0, io.EOF
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, ErrWouldBlock
		default:
			c.eof[s-1] = true
			return 0, err
		}
	}
}

func (c *unixChild) Terminate() error {
	c.terminated.Store(true)
	return c.exit.kill()
}

func (c *unixChild) ExitCode() (int, error) {
	ws, err := c.exit.status()
	if err != nil {
		return UnknownExitStatus, err
	}

	switch {
	case ws.Exited():
		return ws.ExitStatus(), nil
	case ws.Signaled() && ws.Signal() == unix.SIGKILL && c.terminated.Load():
		return KilledExitStatus, nil
	default:
		// Killed by something other than us. The kernel reports no code.
		return UnknownExitStatus, nil
	}
}

func (c *unixChild) Close() error {
	c.closeOnce.Do(func() {
		// stdin is owned by the Cmd's stdinPipe, which closes it; closing the
		// *os.File again only yields os.ErrClosed.
		if err := c.stdin.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			c.closeErr = err
		}
		for _, err := range []error{c.stdout.close(), c.stderr.close(), c.exit.close()} {
			if err != nil && c.closeErr == nil {
				c.closeErr = err
			}
		}
	})
	return c.closeErr
}
