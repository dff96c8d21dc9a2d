package procmon

import (
	"context"
	"time"

	"git.unix.lgbt/diamondburned/procmon/procmon/exec"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ProcessWaitTimeout is the time to wait for a killed process to be reported
// dead before giving up on it.
var ProcessWaitTimeout = time.Minute

// ProcessRetryBackoff is a list of backoff durations when a process fails to
// start. The last duration is used repetitively.
var ProcessRetryBackoff = []time.Duration{
	0,
	5 * time.Second,
	15 * time.Second,
	30 * time.Second,
}

// Program describes what a Process runs.
type Program struct {
	// File names the program in the journal.
	File string
	Path string
	Args []string
	// Timeout, if positive, kills a run that exceeds it.
	Timeout time.Duration
}

// Process monitors an individual process. It is capable of self-monitoring the
// process, so any commanding operation simply cannot fail but only be delayed.
type Process struct {
	WaitTimeout  time.Duration
	RetryBackoff []time.Duration

	j Journaler

	ctx    context.Context
	cancel context.CancelFunc

	prog      Program
	startProc func(context.Context, exec.Config) (exec.Process, error)

	evCh chan func()
	dead chan struct{}
	done chan error

	// states
	proc exec.Process
}

// NewProcess creates a new process and a background monitor. The process is
// terminated once the context times out. Stop must be called once the context
// is canceled to wait for the background routine to exit.
func NewProcess(ctx context.Context, prog Program, j Journaler) *Process {
	ctx, cancel := context.WithCancel(ctx)

	proc := &Process{
		WaitTimeout:  ProcessWaitTimeout,
		RetryBackoff: ProcessRetryBackoff,

		ctx:    ctx,
		cancel: cancel,

		j:    j,
		prog: prog,
		evCh: make(chan func()),
		dead: make(chan struct{}, 1),
		done: make(chan error, 1),

		startProc: exec.StartProcess,
	}

	go proc.startMonitor()

	return proc
}

// File returns the name the process is journaled under.
func (proc *Process) File() string { return proc.prog.File }

// Start starts a new process.
func (proc *Process) Start() {
	select {
	case proc.evCh <- proc.start:
	case <-proc.ctx.Done():
	}
}

func (proc *Process) start() {
	if proc.proc != nil {
		// already running
		return
	}

	run := uuid.New().String()

	output := func(stream string) *lineWriter {
		return newLineWriter(func(line string) {
			proc.j.Write(&EventProcessOutput{
				Run:    run,
				File:   proc.prog.File,
				Stream: stream,
				Line:   line,
			})
		})
	}

	stdout := output("stdout")
	stderr := output("stderr")

	p, err := proc.startProc(proc.ctx, exec.Config{
		Path:     proc.prog.Path,
		Args:     proc.prog.Args,
		Timeout:  proc.prog.Timeout,
		OnStdout: stdout.Write,
		OnStderr: stderr.Write,
		OnWarning: func(err error) {
			proc.j.Write(&EventWarning{
				Component: "exec:" + proc.prog.File,
				Error:     err.Error(),
			})
		},
	})
	if err != nil {
		proc.j.Write(&EventProcessSpawnError{
			File:   proc.prog.File,
			Reason: err.Error(),
		})

		// Report that the process is dead so the monitor routine can restart
		// it.
		proc.dead <- struct{}{}
		return
	}

	proc.proc = p
	proc.startWaiting(run, func() {
		stdout.Flush()
		stderr.Flush()
	})
}

// startWaiting reports the PID to the journal and starts a waiting routine.
func (proc *Process) startWaiting(run string, flush func()) {
	proc.j.Write(&EventProcessSpawned{
		Run:  run,
		PID:  proc.proc.PID(),
		File: proc.prog.File,
	})

	p := proc.proc

	// Spawn a monitoring goroutine to report to proc.dead.
	go func() {
		status := p.Wait()
		flush()

		ev := EventProcessExited{
			Run:      run,
			PID:      status.PID,
			File:     proc.prog.File,
			ExitCode: status.Code,
			Killed:   status.Killed,
			Duration: status.Duration(),
		}

		if status.Error != nil {
			ev.Error = status.Error.Error()
		}

		// Write to the journal before signaling that the process is dead to
		// ensure that the journal entry gets written.
		proc.j.Write(&ev)

		proc.dead <- struct{}{}
	}()
}

// Stop stops the process, if it's running, and waits for the background
// routine to exit. An error is returned if the process could not be confirmed
// dead.
func (proc *Process) Stop() error {
	proc.cancel()
	return <-proc.done
}

func (proc *Process) stop() error {
	if proc.proc == nil {
		// already stopped
		return nil
	}

	// Not every Process honors the context.
	proc.proc.Kill()

	after := time.NewTimer(proc.WaitTimeout)
	defer after.Stop()

	select {
	case <-after.C:
		return errors.New("timed out waiting for program to exit")
	case <-proc.dead:
		proc.proc = nil
		return nil
	}
}

// startMonitor starts a monitoring routine that's in charge of restarting the
// process and handling incoming commands.
func (proc *Process) startMonitor() {
	var start <-chan time.Time // start backoff
	var timer *time.Timer
	var resetTime time.Time // deadline to consider app successfully started
	var resetDura time.Duration

	backoff := -1 // backoff counter

	cleanupTimer := func() {
		if timer == nil {
			return
		}

		timer.Stop()
		timer = nil
		start = nil
	}

	for {
		select {
		case <-proc.ctx.Done():
			proc.done <- proc.stop()
			cleanupTimer()
			return

		case <-start:
			cleanupTimer()
			resetTime = time.Now().Add(resetDura)
			proc.start()

		case <-proc.dead:
			proc.proc = nil
			cleanupTimer()

			// Check if we're past reset. If yes, then that means the process
			// has started successfully, so we can reset the backoff. If not,
			// then increment backoff and keep trying.
			if time.Now().After(resetTime) {
				backoff = -1
			}

			var startDura time.Duration
			startDura, resetDura = nextBackoff(proc.RetryBackoff, &backoff)
			timer = time.NewTimer(startDura)
			start = timer.C

		case fn := <-proc.evCh:
			fn()
		}
	}
}

// nextBackoff advances the backoff counter and returns how long to wait before
// the next start, and how long that run must last to reset the counter.
func nextBackoff(backoffs []time.Duration, ix *int) (start, reset time.Duration) {
	if len(backoffs) == 0 {
		return 0, 0
	}

	if *ix < len(backoffs)-1 {
		*ix++
	}
	if *ix < 0 {
		*ix = 0
	}

	resetIx := *ix + 1
	if resetIx > len(backoffs)-1 {
		resetIx = len(backoffs) - 1
	}

	return backoffs[*ix], backoffs[resetIx]
}
