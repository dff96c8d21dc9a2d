// Package backward implements a line scanner that reads a file from its end
// towards its start.
package backward

import (
	"bufio"
	"bytes"
	"io"

	"github.com/pkg/errors"
)

// ChunkSize is how much is read from the underlying reader at a time.
var ChunkSize = 4096

// MaxLineSize is the longest line the scanner can return. Longer lines fail
// with bufio.ErrTooLong.
var MaxLineSize = bufio.MaxScanTokenSize

// Scanner scans lines backwards.
type Scanner struct {
	r    io.ReadSeeker
	buf  []byte // unread bytes, starting at off
	off  int64
	line int64 // offset of the last returned line
	init bool
}

// NewScanner creates a new backwards scanner. The end of the reader is
// determined on the first call to Line.
func NewScanner(r io.ReadSeeker) *Scanner {
	return &Scanner{r: r}
}

// Line returns the line before the last returned one, without its new line
// character. The first call returns the last line of the reader, which is empty
// if the reader ends with a new line. io.EOF is returned once the start of the
// reader is reached. The returned slice is only valid until the next call.
func (s *Scanner) Line() ([]byte, error) {
	if !s.init {
		end, err := s.r.Seek(0, io.SeekEnd)
		if err != nil {
			return nil, errors.Wrap(err, "failed to find end of file")
		}

		s.off = end
		s.line = end
		s.init = true

		if end == 0 {
			return nil, io.EOF
		}
	}

	for {
		if i := bytes.LastIndexByte(s.buf, '\n'); i >= 0 {
			line := s.buf[i+1:]
			s.buf = s.buf[:i]
			s.line = s.off + int64(i) + 1
			return line, nil
		}

		if s.off == 0 {
			if s.buf == nil {
				return nil, io.EOF
			}

			line := s.buf
			s.buf = nil
			s.line = 0
			return line, nil
		}

		if len(s.buf) >= MaxLineSize {
			return nil, bufio.ErrTooLong
		}

		if err := s.fill(); err != nil {
			return nil, err
		}
	}
}

// Offset returns the offset at which the last returned line starts.
func (s *Scanner) Offset() int64 {
	return s.line
}

// fill prepends the chunk before the unread bytes.
func (s *Scanner) fill() error {
	n := int64(ChunkSize)
	if n > s.off {
		n = s.off
	}

	buf := make([]byte, int(n)+len(s.buf))
	copy(buf[n:], s.buf)

	if _, err := s.r.Seek(s.off-n, io.SeekStart); err != nil {
		return errors.Wrap(err, "failed to seek backwards")
	}

	if _, err := io.ReadFull(s.r, buf[:n]); err != nil {
		return errors.Wrap(err, "failed to read seeked chunk")
	}

	s.off -= n
	s.buf = buf
	return nil
}
