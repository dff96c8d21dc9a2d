package exec

import (
	"sync"
	"time"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

var reapOrphansOnce sync.Once

// SetSubreaper marks the calling process as a child subreaper, so that
// grandchildren orphaned by a monitored child are reparented to us instead of
// init and cannot outlive the monitor unnoticed. Those orphans are reaped in
// the background once they exit.
func SetSubreaper() error {
	if err := unix.Prctl(unix.PR_SET_CHILD_SUBREAPER, 1, 0, 0, 0); err != nil {
		return errors.Wrap(err, "failed to set subreaper")
	}

	reapOrphansOnce.Do(func() { go reapOrphans() })
	return nil
}

// reapOrphans reaps every dead child that was not spawned by this package.
func reapOrphans() {
	for {
		gen := children.generation()

		pid, err := waitAnyExited()
		switch {
		case errors.Is(err, unix.ECHILD):
			children.waitSpawn(gen)
		case err != nil:
			time.Sleep(time.Second)
		case pid > 0:
			children.reapOrphan(pid)
		}
	}
}

// waitAnyExited blocks until any child is a zombie and returns its PID,
// leaving it to be reaped.
func waitAnyExited() (int, error) {
	var info unix.Siginfo
	for {
		err := unix.Waitid(unix.P_ALL, 0, &info, unix.WEXITED|unix.WNOWAIT, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return 0, errors.Wrap(err, "waitid")
		}
		return siginfoPID(&info), nil
	}
}

// siginfoPID reads si_pid, which unix.Siginfo keeps opaque. It is the first
// field after the three leading ints, aligned to a pointer.
func siginfoPID(info *unix.Siginfo) int {
	const align = unsafe.Sizeof(uintptr(0))
	const off = (3*unsafe.Sizeof(int32(0)) + align - 1) &^ (align - 1)
	return int(*(*int32)(unsafe.Add(unsafe.Pointer(info), off)))
}
