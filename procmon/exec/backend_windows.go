package exec

import (
	"io"
	"os"
	"runtime"
	"sync"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

// pollInterval bounds how long Wait sleeps on the process handle before
// looking at the pipes again, in milliseconds. Anonymous pipes cannot be
// waited on.
const pollInterval = 10

// pipe is one unidirectional OS pipe.
type pipe struct {
	r, w windows.Handle
}

func (p *pipe) close() error {
	err1 := closeHandle(&p.r)
	err2 := closeHandle(&p.w)
	if err1 != nil {
		return err1
	}
	return err2
}

// closeHandle closes *h unless it is already closed, then invalidates it.
func closeHandle(h *windows.Handle) error {
	if *h == windows.InvalidHandle {
		return nil
	}
	err := windows.CloseHandle(*h)
	*h = windows.InvalidHandle
	return err
}

// newPipe creates an inheritable pipe, then removes inheritance from the end
// the parent keeps.
func newPipe(p *pipe, parentEnd *windows.Handle) error {
	sa := windows.SecurityAttributes{InheritHandle: 1}
	sa.Length = uint32(unsafe.Sizeof(sa))

	if err := windows.CreatePipe(&p.r, &p.w, &sa, 0); err != nil {
		p.r, p.w = windows.InvalidHandle, windows.InvalidHandle
		return errors.Wrap(err, "failed to create pipe")
	}

	if err := windows.SetHandleInformation(*parentEnd, windows.HANDLE_FLAG_INHERIT, 0); err != nil {
		return errors.Wrap(err, "failed to set handle information")
	}

	return nil
}

type windowsBackend struct{}

func newPlatformBackend() Backend { return windowsBackend{} }

// Spawn implements Backend.
func (windowsBackend) Spawn(path string, args []string) (Child, error) {
	stdin := pipe{windows.InvalidHandle, windows.InvalidHandle}
	stdout := stdin
	stderr := stdin

	releaseAll := func() {
		stdin.close()
		stdout.close()
		stderr.close()
	}

	spawnErr := func(err error) error {
		releaseAll()
		return &SpawnError{Path: path, Err: err}
	}

	if err := newPipe(&stdin, &stdin.w); err != nil {
		return nil, spawnErr(err)
	}
	if err := newPipe(&stdout, &stdout.r); err != nil {
		return nil, spawnErr(err)
	}
	if err := newPipe(&stderr, &stderr.r); err != nil {
		return nil, spawnErr(err)
	}

	// Without an explicit handle list, every inheritable handle in this
	// process would leak into the child.
	inherit := []windows.Handle{stdin.r, stdout.w, stderr.w}

	attrs, err := windows.NewProcThreadAttributeList(1)
	if err != nil {
		return nil, spawnErr(errors.Wrap(err, "failed to create attribute list"))
	}
	defer attrs.Delete()

	err = attrs.Update(
		windows.PROC_THREAD_ATTRIBUTE_HANDLE_LIST,
		unsafe.Pointer(&inherit[0]),
		uintptr(len(inherit))*unsafe.Sizeof(inherit[0]),
	)
	if err != nil {
		return nil, spawnErr(errors.Wrap(err, "failed to set inherited handles"))
	}

	si := new(windows.StartupInfoEx)
	si.StartupInfo.Cb = uint32(unsafe.Sizeof(*si))
	si.StartupInfo.Flags = windows.STARTF_USESTDHANDLES
	si.StartupInfo.StdInput = stdin.r
	si.StartupInfo.StdOutput = stdout.w
	si.StartupInfo.StdErr = stderr.w
	si.ProcThreadAttributeList = attrs.List()

	cmdline, err := windows.UTF16PtrFromString(composeCommandLine(path, args))
	if err != nil {
		return nil, spawnErr(err)
	}

	var pi windows.ProcessInformation

	err = windows.CreateProcess(
		nil,     // application name, taken from the command line
		cmdline, // command line
		nil,     // process security attributes
		nil,     // thread security attributes
		true,    // inherit handles, restricted by the attribute list
		windows.EXTENDED_STARTUPINFO_PRESENT,
		nil, // inherit our environment
		nil, // inherit our working directory
		&si.StartupInfo,
		&pi,
	)
	runtime.KeepAlive(inherit)

	// The child has its own copies now. Ours must go so that EOF is seen once
	// the child exits.
	closeHandle(&stdin.r)
	closeHandle(&stdout.w)
	closeHandle(&stderr.w)

	if err != nil {
		return nil, spawnErr(err)
	}

	child := &windowsChild{
		pid:     int(pi.ProcessId),
		process: pi.Process,
		thread:  pi.Thread,
		stdin:   os.NewFile(uintptr(stdin.w), "|0"),
		stdout:  stdout,
		stderr:  stderr,
	}
	return child, nil
}

type windowsChild struct {
	pid     int
	process windows.Handle
	thread  windows.Handle
	stdin   *os.File
	stdout  pipe
	stderr  pipe

	eof [2]bool

	closeOnce sync.Once
	closeErr  error
}

func (c *windowsChild) PID() int { return c.pid }

func (c *windowsChild) Stdin() io.WriteCloser { return c.stdin }

func (c *windowsChild) handle(s Stream) windows.Handle {
	if s == Stderr {
		return c.stderr.r
	}
	return c.stdout.r
}

// peek returns the number of bytes buffered in the stream's pipe.
func (c *windowsChild) peek(s Stream) (uint32, error) {
	var avail uint32
	err := peekNamedPipe(c.handle(s), nil, 0, nil, &avail, nil)
	return avail, err
}

func (c *windowsChild) Wait() (Ready, error) {
	var ready Ready

	for _, s := range [...]Stream{Stdout, Stderr} {
		if c.eof[s-1] {
			continue
		}
		// A broken pipe counts as readable so that Read can report EOF.
		if avail, err := c.peek(s); err != nil || avail > 0 {
			ready |= s.ready()
		}
	}

	timeout := uint32(pollInterval)
	if ready != 0 {
		timeout = 0
	}

	ev, err := windows.WaitForSingleObject(c.process, timeout)
	switch ev {
	case windows.WAIT_OBJECT_0:
		ready |= Exited
	case uint32(windows.WAIT_TIMEOUT):
	case windows.WAIT_FAILED:
		return ready, errors.Wrap(err, "WaitForSingleObject")
	default:
		return ready, errors.Errorf("WaitForSingleObject: unexpected event %#x", ev)
	}

	return ready, nil
}

func (c *windowsChild) Read(s Stream, p []byte) (int, error) {
	if c.eof[s-1] {
		return 0, io.EOF
	}

	avail, err := c.peek(s)
	if err != nil {
		return 0, c.readErr(s, err)
	}
	if avail == 0 {
		return 0, ErrWouldBlock
	}
	if uint32(len(p)) > avail {
		p = p[:avail]
	}

	var n uint32
	if err := windows.ReadFile(c.handle(s), p, &n, nil); err != nil {
		return int(n), c.readErr(s, err)
	}

	return int(n), nil
}

// readErr marks the stream closed and maps a broken pipe to io.EOF.
func (c *windowsChild) readErr(s Stream, err error) error {
	c.eof[s-1] = true
	if errors.Is(err, windows.ERROR_BROKEN_PIPE) {
		return io.EOF
	}
	return err
}

func (c *windowsChild) Terminate() error {
	code := int32(KilledExitStatus)
	err := windows.TerminateProcess(c.process, uint32(code))
	if err == nil {
		return nil
	}

	// Terminating a process that already exited is denied.
	if ev, _ := windows.WaitForSingleObject(c.process, 0); ev == windows.WAIT_OBJECT_0 {
		return nil
	}
	return err
}

func (c *windowsChild) ExitCode() (int, error) {
	// TerminateProcess returns before the process is gone.
	if _, err := windows.WaitForSingleObject(c.process, windows.INFINITE); err != nil {
		return UnknownExitStatus, errors.Wrap(err, "WaitForSingleObject")
	}

	var code uint32
	if err := windows.GetExitCodeProcess(c.process, &code); err != nil {
		return UnknownExitStatus, errors.Wrap(err, "GetExitCodeProcess")
	}

	return int(int32(code)), nil
}

func (c *windowsChild) Close() error {
	c.closeOnce.Do(func() {
		if err := c.stdin.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			c.closeErr = err
		}

		errs := []error{
			c.stdout.close(),
			c.stderr.close(),
			closeHandle(&c.process),
			closeHandle(&c.thread),
		}
		for _, err := range errs {
			if err != nil && c.closeErr == nil {
				c.closeErr = err
			}
		}
	})
	return c.closeErr
}
