//go:build !windows

package exec

import (
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// exitWaiter turns the death of a child into a pollable descriptor.
type exitWaiter interface {
	// fd becomes readable once the child has exited.
	fd() int
	kill() error
	// status reaps the child, blocking until it is dead.
	status() (unix.WaitStatus, error)
	close() error
}

// reaper blocks in wait4 on its own goroutine and closes the write end of a
// pipe once the child is reaped, which wakes up anything polling the read end.
type reaper struct {
	pid    int
	notify pipe
	done   chan struct{}

	mu     sync.Mutex
	reaped bool
	ws     unix.WaitStatus
	err    error
}

var _ exitWaiter = (*reaper)(nil)

func newReaper(pid int) (*reaper, error) {
	r := &reaper{
		pid:    pid,
		notify: pipe{invalidFD, invalidFD},
		done:   make(chan struct{}),
	}

	if err := newPipe(&r.notify); err != nil {
		return nil, err
	}

	go r.reap()
	return r, nil
}

func (r *reaper) reap() {
	// A zombie keeps its PID, so kill is safe until reaped is set. Where the
	// zombie cannot be waited for without reaping it, kill may still signal a
	// recycled PID between wait4 returning and reaped being set.
	held := waitExited(r.pid) == nil
	if held {
		r.mu.Lock()
	}

	ws, err := wait4(r.pid)
	children.release(r.pid)

	if !held {
		r.mu.Lock()
	}
	r.reaped = true
	r.ws = ws
	r.err = err
	closeFD(&r.notify.w)
	r.mu.Unlock()

	close(r.done)
}

func (r *reaper) fd() int { return r.notify.r }

func (r *reaper) kill() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Once reaped, the PID may belong to someone else.
	if r.reaped {
		return nil
	}

	return ignoreESRCH(unix.Kill(r.pid, unix.SIGKILL))
}

func (r *reaper) status() (unix.WaitStatus, error) {
	<-r.done
	return r.ws, r.err
}

func (r *reaper) close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.notify.close()
}

// wait4 reaps pid, retrying on EINTR.
func wait4(pid int) (unix.WaitStatus, error) {
	var ws unix.WaitStatus
	for {
		_, err := unix.Wait4(pid, &ws, 0, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return ws, errors.Wrap(err, "wait4")
		}
		return ws, nil
	}
}

// ignoreESRCH treats an already gone process as killed.
func ignoreESRCH(err error) error {
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}
