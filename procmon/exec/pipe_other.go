//go:build !linux && !windows

package exec

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// newPipe holds ForkLock so that no child forked in between inherits the
// descriptors before they are marked close-on-exec.
func newPipe(p *pipe) error {
	syscall.ForkLock.RLock()
	defer syscall.ForkLock.RUnlock()

	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return err
	}
	unix.CloseOnExec(fds[0])
	unix.CloseOnExec(fds[1])

	p.r, p.w = fds[0], fds[1]
	return nil
}
