// Package exec runs and watches child processes. A Cmd spawns a program with
// its three standard streams redirected through pipes, forwards whatever the
// child writes to stdout and stderr into callbacks, enforces an optional
// timeout and records how the child ended.
//
// Mechanism of Operation
//
// Every spawned child gets one monitor goroutine. The goroutine blocks on a
// single multiplexed wait over "stdout readable", "stderr readable" and "child
// exited", drains whichever stream woke it up and stops once the child is
// gone. If a timeout is configured, a second goroutine sleeps for that long and
// then asks for the child to be killed, unless the monitor got there first.
//
// The platform specific parts (creating pipes and processes, waiting, killing)
// live behind the Backend interface. The POSIX and Windows variants are chosen
// at build time.
package exec

import (
	"context"
	"time"
)

const (
	// NoPID is the process ID reported before a child was spawned.
	NoPID = -1
	// KilledExitStatus is the exit status recorded when the child was forcibly
	// terminated, either through Cancel or because its timeout elapsed. A
	// program may return the same number on its own; ExitStatus.Killed tells
	// the two apart.
	KilledExitStatus = -127
	// UnknownExitStatus is recorded when the platform reported no exit code,
	// such as a POSIX child that died from a signal not sent by this package.
	UnknownExitStatus = -1
)

// Process describes a command process.
type Process interface {
	PID() int
	Kill() error
	Wait() ExitStatus
}

// ExitStatus is a process' exit status.
type ExitStatus struct {
	PID    int
	Code   int // KilledExitStatus if Killed
	Killed bool
	Start  time.Time
	End    time.Time
	Error  error
}

// Duration returns how long the process ran for.
func (s ExitStatus) Duration() time.Duration {
	if s.Start.IsZero() || s.End.IsZero() {
		return 0
	}
	return s.End.Sub(s.Start)
}

var _ Process = (*Cmd)(nil)

// StartProcess creates and spawns a new command process on the system. The
// process is killed once the given context is canceled.
func StartProcess(ctx context.Context, cfg Config) (Process, error) {
	cmd := New(cfg)
	if err := cmd.Spawn(ctx); err != nil {
		return nil, err
	}
	return cmd, nil
}
