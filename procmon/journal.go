package procmon

import (
	"io"
	"time"

	"github.com/pkg/errors"
)

// Journaler describes an event logger.
type Journaler interface {
	Write(Event) error
}

// JournalReader reads back events written by a Journaler, newest first. Read
// returns io.EOF once the journal is exhausted.
type JournalReader interface {
	Read() (Event, time.Time, error)
}

// JournalReadWriter is a journal that can be both written and read back.
type JournalReadWriter interface {
	Journaler
	JournalReader
}

// PreviousState is what the journal says about the last monitor session.
type PreviousState struct {
	// Acquired is when the session started. It is zero if the journal has no
	// "acquired lock" event.
	Acquired time.Time
	// MonitorPID is the PID of the monitor that ran the session.
	MonitorPID int
	// Programs maps each program file to its last known state.
	Programs map[string]*ProgramState
}

// ProgramState is the last known state of a single program.
type ProgramState struct {
	File string
	// Running is true if the program was spawned and never reported an exit.
	Running bool
	// PID is the PID of the running program, or the last one that exited.
	PID int
	// LastSeen is the time of the event the state was derived from.
	LastSeen time.Time
	// LastExit is the newest exit of the program, if any.
	LastExit *EventProcessExited
	// SpawnError is set if the program last failed to start.
	SpawnError string
}

// ReadPreviousState reads the journal backwards until the start of the last
// session and reconstructs the state of every program seen in it.
func ReadPreviousState(r JournalReader) (*PreviousState, error) {
	state := &PreviousState{
		Programs: map[string]*ProgramState{},
	}

	for {
		ev, t, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return state, nil
			}
			return state, errors.Wrap(err, "failed to read journal")
		}

		switch ev := ev.(type) {
		case *EventAcquired:
			state.Acquired = t
			state.MonitorPID = ev.PID
			return state, nil

		case *EventProcessSpawned:
			if p, seen := state.program(ev.File, t); !seen {
				p.Running = true
				p.PID = ev.PID
			}

		case *EventProcessExited:
			p, seen := state.program(ev.File, t)
			if !seen {
				p.PID = ev.PID
			}
			if p.LastExit == nil {
				p.LastExit = ev
			}

		case *EventProcessSpawnError:
			if p, seen := state.program(ev.File, t); !seen {
				p.SpawnError = ev.Reason
			}
		}
	}
}

// program returns the state for file, creating it if this is the first (that
// is, newest) event about the file.
func (s *PreviousState) program(file string, t time.Time) (*ProgramState, bool) {
	p, ok := s.Programs[file]
	if !ok {
		p = &ProgramState{File: file, LastSeen: t}
		s.Programs[file] = p
	}
	return p, ok
}
