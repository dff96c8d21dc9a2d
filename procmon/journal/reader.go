package journal

import (
	"encoding/json"
	"io"
	"os"
	"time"

	"git.unix.lgbt/diamondburned/procmon/procmon"
	"git.unix.lgbt/diamondburned/procmon/procmon/journal/backward"
	"github.com/pkg/errors"
)

// Reader implements a primitive reader that parses journals written by Writer
// from the bottom up, so the newest event comes first.
type Reader struct {
	b *backward.Scanner
}

var _ procmon.JournalReader = (*Reader)(nil)

// NewReader creates a new journal reader.
func NewReader(r io.ReadSeeker) *Reader {
	return &Reader{backward.NewScanner(r)}
}

// Read reads a single entry, starting from the bottom of the file. An EOF error
// is returned if the file has been fully consumed.
func (r *Reader) Read() (procmon.Event, time.Time, error) {
	var line []byte
	var err error

	for {
		line, err = r.b.Line()
		if err != nil {
			return nil, time.Time{}, err
		}
		if len(line) > 0 {
			break
		}
	}

	var rawEvent struct {
		Time time.Time       `json:"time"`
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}

	if err := json.Unmarshal(line, &rawEvent); err != nil {
		return nil, time.Time{}, errors.Wrap(err, "failed to decode JSON")
	}

	event := procmon.NewEvent(rawEvent.Type)
	if event == nil {
		return nil, time.Time{}, errors.Errorf("unknown event %q", rawEvent.Type)
	}

	if err := json.Unmarshal(rawEvent.Data, event); err != nil {
		return nil, time.Time{}, errors.Wrap(err, "failed to decode event data")
	}

	return event, rawEvent.Time, nil
}

// ReadPreviousStateFromFile reads the PreviousState from the given file path.
func ReadPreviousStateFromFile(path string) (*procmon.PreviousState, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ReadPreviousState(f)
}

// ReadPreviousState reads backwards the given reader to return the
// PreviousState.
func ReadPreviousState(r io.ReadSeeker) (*procmon.PreviousState, error) {
	return procmon.ReadPreviousState(NewReader(r))
}
