//go:build !linux && !windows

package exec

import "github.com/pkg/errors"

var errNoWaitid = errors.New("waitid is not supported")

func newExitWaiter(pid int) (exitWaiter, error) {
	return newReaper(pid)
}

func waitExited(int) error { return errNoWaitid }
