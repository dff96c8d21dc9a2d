package exec

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrSpawn is matched by every error returned from a failed Spawn.
	ErrSpawn = errors.New("could not start process")
	// ErrAlreadySpawned is returned when Spawn is called twice.
	ErrAlreadySpawned = errors.New("process already spawned")
)

// SpawnError is returned when the pipes or the process itself could not be
// created. No child exists when this error is returned.
type SpawnError struct {
	Path string
	Err  error
}

func (err *SpawnError) Error() string {
	return fmt.Sprintf("spawn %q: %v", err.Path, err.Err)
}

func (err *SpawnError) Unwrap() error { return err.Err }

// Is makes errors.Is(err, ErrSpawn) true for any SpawnError.
func (err *SpawnError) Is(target error) bool { return target == ErrSpawn }

// IOError is reported through Config.OnWarning when reading an output stream
// failed. The stream is treated as closed afterwards.
type IOError struct {
	Stream Stream
	Err    error
}

func (err *IOError) Error() string {
	return fmt.Sprintf("%s: %v", err.Stream, err.Err)
}

func (err *IOError) Unwrap() error { return err.Err }

// WaitError is reported through Config.OnWarning when the multiplexed wait
// returned something unexpected. Fatal is true if the monitor gave up on the
// child because of it.
type WaitError struct {
	Err   error
	Fatal bool
}

func (err *WaitError) Error() string {
	if err.Fatal {
		return "wait failed, giving up: " + err.Err.Error()
	}
	return "wait failed: " + err.Err.Error()
}

func (err *WaitError) Unwrap() error { return err.Err }
