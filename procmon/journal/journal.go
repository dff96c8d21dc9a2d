// Package journal provides an implementation of procmon's Journaler interface to
// write to a file. It also provides a file locking abstraction so that only one
// procmon instance can run with the same journal file.
package journal

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"git.unix.lgbt/diamondburned/procmon/procmon"
	"git.unix.lgbt/diamondburned/procmon/procmon/journal/backward"
	"github.com/gofrs/flock"
	"github.com/pkg/errors"
)

// multiWriter combines multiple journalers.
type multiWriter struct {
	writers []procmon.Journaler
}

// MultiWriter creates a journaler that writes to multiple other journalers.
// Every journaler is written to even if one fails; the first error is
// returned.
func MultiWriter(ws ...procmon.Journaler) procmon.Journaler {
	return &multiWriter{ws}
}

func (w *multiWriter) Write(event procmon.Event) error {
	var firstErr error
	for _, writer := range w.writers {
		if err := writer.Write(event); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// FileLockJournaler is a journaler that uses a file lock (flock) to lock the
// given file and writes to it. The FileLockJournaler instance must be closed by
// the caller or by the operating system when the application exits.
//
// Reading the Journal
//
// The caller does not need to acquire a file lock in order to read the written
// journal, as each Write operation performed on the file is a single append of
// a complete line. An incomplete last line left by a crash is cut off when the
// journal is opened again.
type FileLockJournaler struct {
	*Writer
	f *os.File
	l *flock.Flock
}

var _ procmon.Journaler = (*FileLockJournaler)(nil)

// ErrLockedElsewhere is returned if NewFileLockJournaler can't acquire the file
// lock.
var ErrLockedElsewhere = errors.New("file already locked elsewhere")

// NewFileLockJournaler creates a new file journaler if it can acquire a flock
// on the path. It returns ErrLockedElsewhere if another instance holds it.
func NewFileLockJournaler(path string) (*FileLockJournaler, error) {
	return newFileLockJournaler(nil, path)
}

// NewFileLockJournalerWait creates a new file journaler but waits until the
// lock can be acquired or until the context times out.
func NewFileLockJournalerWait(ctx context.Context, path string) (*FileLockJournaler, error) {
	return newFileLockJournaler(ctx, path)
}

func newFileLockJournaler(ctx context.Context, path string) (*FileLockJournaler, error) {
	// Ensure the directory exists.
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, errors.Wrap(err, "failed to create journal directory")
	}

	// The lock lives in its own file, since some platforms refuse writes into
	// a locked range through another handle.
	l := flock.New(path + ".lock")

	var locked bool
	var err error

	if ctx != nil {
		locked, err = l.TryLockContext(ctx, 25*time.Millisecond)
	} else {
		locked, err = l.TryLock()
	}

	if err != nil {
		return nil, errors.Wrap(err, "failed to acquire lock")
	}

	if !locked {
		return nil, ErrLockedElsewhere
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND|os.O_CREATE|os.O_SYNC, 0600)
	if err != nil {
		l.Unlock()
		return nil, errors.Wrap(err, "failed to open file")
	}

	j := &FileLockJournaler{
		Writer: NewWriter(f),
		f:      f,
		l:      l,
	}

	if err := j.repair(); err != nil {
		j.Close()
		return nil, err
	}

	return j, nil
}

// repair cuts off an incomplete last line and records that it did.
func (f *FileLockJournaler) repair() error {
	s, err := f.f.Stat()
	if err != nil {
		return errors.Wrap(err, "failed to stat journal")
	}

	scanner := backward.NewScanner(io.NewSectionReader(f.f, 0, s.Size()))

	last, err := scanner.Line()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return errors.Wrap(err, "failed to read last journal line")
	}

	if len(last) == 0 {
		// Ends with a new line.
		return nil
	}

	if err := f.f.Truncate(scanner.Offset()); err != nil {
		return errors.Wrap(err, "failed to truncate journal")
	}

	return f.Write(&procmon.EventLogTruncated{
		Reason: "journal ended with an incomplete event",
	})
}

// IsLocked reports whether a FileLockJournaler currently holds the journal at
// path.
func IsLocked(path string) (bool, error) {
	l := flock.New(path + ".lock")

	locked, err := l.TryLock()
	if err != nil {
		return false, errors.Wrap(err, "failed to check lock")
	}

	if !locked {
		return true, nil
	}

	return false, l.Unlock()
}

// Reader returns a reader over everything written to the journal so far.
func (f *FileLockJournaler) Reader() (*Reader, error) {
	s, err := f.f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "failed to stat journal")
	}

	return NewReader(io.NewSectionReader(f.f, 0, s.Size())), nil
}

// Close closes the file and releases the flock.
func (f *FileLockJournaler) Close() error {
	f.f.Close()
	return f.l.Unlock()
}
