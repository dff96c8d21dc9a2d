package exec

import (
	"context"
	"time"
)

// watchdog kills a child that runs for too long. It shares a cancellation
// token with the monitor, which cancels it once the child is gone.
type watchdog struct {
	done chan struct{}
}

func startWatchdog(token context.Context, timeout time.Duration, fire func()) *watchdog {
	w := &watchdog{done: make(chan struct{})}

	go func() {
		defer close(w.done)

		timer := time.NewTimer(timeout)
		defer timer.Stop()

		select {
		case <-timer.C:
			// fire checks for a terminal state under the Cmd lock, so a
			// child that exited at the same instant is left alone.
			fire()
		case <-token.Done():
		}
	}()

	return w
}

// wait blocks until the watchdog goroutine has returned.
func (w *watchdog) wait() {
	<-w.done
}
