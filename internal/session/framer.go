package session

import (
	"bytes"
	"strings"
)

// maxLinesPerDrain bounds how many lines a single Drain call may return.
// A burst of short lines therefore cannot starve the monitoring loop; the
// remainder stays buffered for the next drain. This is a fairness policy,
// not a correctness requirement.
const maxLinesPerDrain = 10

// LineFramer accumulates raw transport bytes and extracts newline-delimited
// lines. Carriage returns and surrounding whitespace are stripped; empty
// lines are discarded.
type LineFramer struct {
	buf []byte
}

// Feed appends raw bytes to the internal buffer.
func (f *LineFramer) Feed(p []byte) {
	f.buf = append(f.buf, p...)
}

// Drain extracts up to maxLinesPerDrain complete lines in arrival order.
// Bytes after the last newline remain buffered.
func (f *LineFramer) Drain() []string {
	var lines []string
	for len(lines) < maxLinesPerDrain {
		i := bytes.IndexByte(f.buf, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSpace(string(f.buf[:i]))
		f.buf = f.buf[i+1:]
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// Pending returns the number of buffered bytes not yet terminated by a
// newline (or not yet drained).
func (f *LineFramer) Pending() int { return len(f.buf) }

// FlushPartial returns and clears whatever unterminated text remains in the
// buffer. Used when a command exchange times out so a partial response is
// surfaced rather than discarded.
func (f *LineFramer) FlushPartial() string {
	rest := strings.TrimSpace(string(f.buf))
	f.buf = nil
	return rest
}
