package exec

import (
	"sync"
	"sync/atomic"
	"time"
)

type sleepProcess struct {
	once  sync.Once
	stop  chan struct{}
	timer *time.Timer
	start time.Time
	end   time.Time

	pid    int
	exit   int32
	killed int32
}

// NewSleepProcess creates a process that only idles for a duration before
// exiting with the given code. It is used for testing. Kill makes it exit
// immediately with KilledExitStatus.
func NewSleepProcess(dura time.Duration, code, pid int) Process {
	return &sleepProcess{
		stop:  make(chan struct{}),
		timer: time.NewTimer(dura),
		start: time.Now(),

		pid:  pid,
		exit: int32(code),
	}
}

func (mock *sleepProcess) PID() int { return mock.pid }

func (mock *sleepProcess) Kill() error {
	if atomic.CompareAndSwapInt32(&mock.killed, 0, 1) {
		close(mock.stop)
	}
	return nil
}

func (mock *sleepProcess) Wait() ExitStatus {
	mock.once.Do(func() {
		select {
		case <-mock.stop:
			atomic.StoreInt32(&mock.exit, KilledExitStatus)
		case <-mock.timer.C:
			// A Kill after a natural exit must not change the outcome.
			atomic.StoreInt32(&mock.killed, 2)
		}
		mock.timer.Stop()
		mock.end = time.Now()
	})

	return ExitStatus{
		PID:    mock.pid,
		Code:   int(atomic.LoadInt32(&mock.exit)),
		Killed: atomic.LoadInt32(&mock.killed) == 1,
		Start:  mock.start,
		End:    mock.end,
	}
}
