package exec

import (
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// pidfdWaiter polls a pidfd, which becomes readable when the process exits.
// Signals sent through it cannot hit a recycled PID.
type pidfdWaiter struct {
	pid   int
	pidfd int

	once sync.Once
	ws   unix.WaitStatus
	err  error
}

// newExitWaiter prefers a pidfd and falls back to a reaper goroutine on
// kernels older than 5.3.
func newExitWaiter(pid int) (exitWaiter, error) {
	fd, err := unix.PidfdOpen(pid, 0)
	if err != nil {
		return newReaper(pid)
	}

	return &pidfdWaiter{pid: pid, pidfd: fd}, nil
}

func (w *pidfdWaiter) fd() int { return w.pidfd }

func (w *pidfdWaiter) kill() error {
	return ignoreESRCH(unix.PidfdSendSignal(w.pidfd, unix.SIGKILL, nil, 0))
}

func (w *pidfdWaiter) status() (unix.WaitStatus, error) {
	w.once.Do(func() {
		w.ws, w.err = wait4(w.pid)
		children.release(w.pid)
	})
	return w.ws, w.err
}

func (w *pidfdWaiter) close() error {
	return closeFD(&w.pidfd)
}

// waitExited blocks until pid is a zombie, leaving it to be reaped.
func waitExited(pid int) error {
	var info unix.Siginfo
	for {
		err := unix.Waitid(unix.P_PID, pid, &info, unix.WEXITED|unix.WNOWAIT, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return errors.Wrap(err, "waitid")
	}
}
