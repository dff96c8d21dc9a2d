package exec

import "golang.org/x/sys/unix"

func newPipe(p *pipe) error {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		return err
	}
	p.r, p.w = fds[0], fds[1]
	return nil
}
