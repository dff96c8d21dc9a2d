//go:build !windows

package exec

import (
	"sync"

	"golang.org/x/sys/unix"
)

// children holds the PIDs spawned here that were not reaped yet.
var children = newChildSet()

type childSet struct {
	mu   sync.Mutex
	cond *sync.Cond
	pids map[int]struct{}
	gen  uint64
}

func newChildSet() *childSet {
	s := &childSet{pids: make(map[int]struct{})}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// spawn runs fork and records the PID it returns before anyone can look for
// it.
func (s *childSet) spawn(fork func() (int, error)) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pid, err := fork()
	if err != nil {
		return pid, err
	}

	s.pids[pid] = struct{}{}
	s.gen++
	s.cond.Broadcast()

	return pid, nil
}

// release forgets pid once its owner reaped it.
func (s *childSet) release(pid int) {
	s.mu.Lock()
	delete(s.pids, pid)
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *childSet) generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// waitSpawn blocks until something was spawned after gen.
func (s *childSet) waitSpawn(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.gen == gen {
		s.cond.Wait()
	}
}

// reapOrphan reaps the dead child pid unless it is ours, in which case it
// waits for the owner to reap it instead.
func (s *childSet) reapOrphan(pid int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ours := s.pids[pid]; ours {
		for ours {
			s.cond.Wait()
			_, ours = s.pids[pid]
		}
		return
	}

	var ws unix.WaitStatus
	unix.Wait4(pid, &ws, unix.WNOHANG, nil)
}
