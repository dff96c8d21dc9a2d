package procmon

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLineWriter(t *testing.T) {
	var lines []string
	w := newLineWriter(func(line string) { lines = append(lines, line) })

	w.Write([]byte("one\ntw"))
	w.Write([]byte("o\r\n"))
	w.Write([]byte("\nthree"))
	assert.Equal(t, []string{"one", "two", ""}, lines)

	w.Flush()
	assert.Equal(t, []string{"one", "two", "", "three"}, lines)

	// Nothing is left to flush.
	w.Flush()
	assert.Len(t, lines, 4)
}

func TestLineWriterLongLine(t *testing.T) {
	var lines []string
	w := newLineWriter(func(line string) { lines = append(lines, line) })

	long := strings.Repeat("x", MaxLineLength*2+10)
	w.Write([]byte(long[:100]))
	w.Write([]byte(long[100:]))
	w.Write([]byte("\n"))

	assert.Equal(t, []string{
		long[:MaxLineLength],
		long[MaxLineLength : MaxLineLength*2],
		long[MaxLineLength*2:],
	}, lines)
}
