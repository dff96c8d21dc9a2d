package procmon

import "bytes"

// MaxLineLength is the longest output line journaled as a single event. Longer
// lines are split.
var MaxLineLength = 4096

// lineWriter splits a byte stream into lines. It is not safe for concurrent
// use; package exec calls each stream's callback from a single goroutine.
type lineWriter struct {
	buf  []byte
	emit func(line string)
}

func newLineWriter(emit func(string)) *lineWriter {
	return &lineWriter{emit: emit}
}

// Write implements exec.Config's output callbacks.
func (w *lineWriter) Write(b []byte) {
	w.buf = append(w.buf, b...)

	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(string(bytes.TrimSuffix(w.buf[:i], []byte("\r"))))
		w.buf = w.buf[i+1:]
	}

	for len(w.buf) >= MaxLineLength {
		w.emit(string(w.buf[:MaxLineLength]))
		w.buf = w.buf[MaxLineLength:]
	}

	// Move the remainder to the front so the buffer does not keep growing.
	w.buf = append(w.buf[:0:0], w.buf...)
}

// Flush emits whatever is left without a trailing new line.
func (w *lineWriter) Flush() {
	if len(w.buf) > 0 {
		w.emit(string(w.buf))
		w.buf = nil
	}
}
