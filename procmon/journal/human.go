package journal

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"git.unix.lgbt/diamondburned/procmon/procmon"
)

// HumanWriter is a journaler that writes events as plain text lines meant to be
// read by a person, usually into the terminal.
type HumanWriter struct {
	mutex sync.Mutex
	name  string
	w     io.Writer
	now   func() time.Time
}

var _ procmon.Journaler = (*HumanWriter)(nil)

// NewHumanWriter creates a new HumanWriter. The name prefixes every line.
func NewHumanWriter(name string, w io.Writer) *HumanWriter {
	return &HumanWriter{name: name, w: w, now: time.Now}
}

// Write writes the event as a single line.
func (h *HumanWriter) Write(ev procmon.Event) error {
	line := fmt.Sprintf("%s %s: %s\n",
		h.now().Format(time.RFC3339), h.name, FormatEvent(ev))

	h.mutex.Lock()
	defer h.mutex.Unlock()

	_, err := io.WriteString(h.w, line)
	return err
}

// FormatEvent formats the event into a human-readable single line.
func FormatEvent(ev procmon.Event) string {
	switch ev := ev.(type) {
	case *procmon.EventWarning:
		return fmt.Sprintf("warning from %s: %s", ev.Component, ev.Error)
	case *procmon.EventAcquired:
		return fmt.Sprintf("acquired journal (pid %d)", ev.PID)
	case *procmon.EventLogTruncated:
		return fmt.Sprintf("journal truncated: %s", ev.Reason)
	case *procmon.EventProcessSpawnError:
		return fmt.Sprintf("%s: failed to spawn: %s", ev.File, ev.Reason)
	case *procmon.EventProcessSpawned:
		return fmt.Sprintf("%s: spawned (pid %d)", ev.File, ev.PID)
	case *procmon.EventProcessOutput:
		return fmt.Sprintf("%s[%s]: %s", ev.File, ev.Stream, ev.Line)
	case *procmon.EventProcessExited:
		var s strings.Builder
		fmt.Fprintf(&s, "%s: exited (pid %d) with status %d after %s",
			ev.File, ev.PID, ev.ExitCode, ev.Duration.Round(time.Millisecond))
		if ev.Killed {
			s.WriteString(", killed")
		}
		if ev.Error != "" {
			fmt.Fprintf(&s, ", error: %s", ev.Error)
		}
		return s.String()
	case *procmon.EventProcessListModify:
		return fmt.Sprintf("%s: process list %s", ev.File, ev.Op)
	default:
		b, _ := json.Marshal(ev)
		return fmt.Sprintf("%s %s", ev.Type(), b)
	}
}
