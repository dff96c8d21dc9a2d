package exec

import (
	"io"
	"sync"

	"github.com/pkg/errors"
)

// Stream identifies one of the child's output streams.
type Stream uint8

const (
	Stdout Stream = iota + 1
	Stderr
)

func (s Stream) String() string {
	switch s {
	case Stdout:
		return "stdout"
	case Stderr:
		return "stderr"
	default:
		return "unknown"
	}
}

// Ready is the set of sources that became ready during one Child.Wait call.
// An empty set is a spurious wakeup.
type Ready uint8

const (
	StdoutReady Ready = 1 << iota
	StderrReady
	Exited
)

// Has returns true if all bits of r2 are set in r.
func (r Ready) Has(r2 Ready) bool { return r&r2 == r2 }

func (s Stream) ready() Ready {
	switch s {
	case Stdout:
		return StdoutReady
	case Stderr:
		return StderrReady
	default:
		return 0
	}
}

// ErrWouldBlock is returned by Child.Read when the stream has nothing more to
// give right now but is still open.
var ErrWouldBlock = errors.New("read would block")

// Backend creates child processes. Exactly one implementation exists per
// platform; see DefaultBackend.
type Backend interface {
	// Spawn starts path with args, its standard streams redirected to fresh
	// pipes. The child inherits no other handles. On error, no process is
	// running and nothing is left open.
	Spawn(path string, args []string) (Child, error)
}

// Child is a spawned process along with the parent's ends of its pipes. A
// Child is driven by a single monitor goroutine; only Terminate may be called
// from elsewhere, and never concurrently with or after Close.
type Child interface {
	// PID returns the OS process identifier.
	PID() int
	// Stdin returns the write end of the child's standard input.
	Stdin() io.WriteCloser
	// Wait blocks until at least one source is ready. It is level-triggered
	// and may return an empty set. Streams that already reported io.EOF are
	// no longer waited on.
	Wait() (Ready, error)
	// Read reads whatever is available on the stream. It returns
	// ErrWouldBlock if nothing is buffered and io.EOF once every writer is
	// gone.
	Read(s Stream, p []byte) (int, error)
	// Terminate asks the OS to kill the child. It does not wait.
	Terminate() error
	// ExitCode blocks until the child is dead and returns its exit code. It
	// returns KilledExitStatus if the child died from Terminate.
	ExitCode() (int, error)
	// Close releases every handle still open. It is safe to call more than
	// once.
	Close() error
}

// DefaultBackend is the backend used by a Cmd whose Config has none.
var DefaultBackend Backend = newPlatformBackend()

// stdinPipe wraps the parent's write end of stdin so that the caller and the
// cleanup step can both close it.
type stdinPipe struct {
	io.WriteCloser
	once sync.Once
	err  error
}

func newStdinPipe(w io.WriteCloser) *stdinPipe {
	return &stdinPipe{WriteCloser: w}
}

func (p *stdinPipe) Close() error {
	p.once.Do(func() { p.err = p.WriteCloser.Close() })
	return p.err
}
