package journal

import (
	"bytes"
	"encoding/json"
	"io"
	"sync"
	"time"

	"git.unix.lgbt/diamondburned/procmon/procmon"
	"github.com/pkg/errors"
)

// Event describes the JSON structure of an event to be written.
type Event struct {
	Time time.Time     `json:"time"`
	Type string        `json:"type"`
	Data procmon.Event `json:"data"`
}

// Writer is a simple journaler that writes line-delimited JSON events into the
// writer.
type Writer struct {
	mutex sync.Mutex
	w     io.Writer
	now   func() time.Time
}

var _ procmon.Journaler = (*Writer)(nil)

// NewWriter creates a new journal writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, now: time.Now}
}

// Write writes the given event into the writer. Writes are concurrently safe
// and are atomic.
func (l *Writer) Write(ev procmon.Event) error {
	evJSON := Event{
		Time: l.now(),
		Type: ev.Type(),
		Data: ev,
	}

	buf := bytes.Buffer{}
	buf.Grow(512)

	// Encode appends the new line.
	if err := json.NewEncoder(&buf).Encode(evJSON); err != nil {
		return errors.Wrap(err, "failed to marshal event")
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	if _, err := l.w.Write(buf.Bytes()); err != nil {
		return errors.Wrap(err, "failed to write event")
	}

	return nil
}
