package logparse

import (
	"regexp"
	"strings"
)

// startLine is the leading-timestamp shape marking the start of a new logical
// entry. Millisecond precision is optional so seconds-only producers are
// still recognized.
var startLine = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}(?:[.,]\d{1,3})?`)

// IsStartLine reports whether a physical line opens a new logical entry.
func IsStartLine(line string) bool {
	return startLine.MatchString(line)
}

// Reassembler stitches physical transport lines into logical log entries.
// It is stateful and must be owned by exactly one consumption worker; sharing
// an instance across goroutines corrupts interleaved entries.
type Reassembler struct {
	lines []string
}

func NewReassembler() *Reassembler {
	return &Reassembler{}
}

// Feed consumes one line. When the line starts a new entry while another is
// open, the open entry is emitted newline-joined with a trailing newline.
// Any non-start line is a continuation of the open entry.
func (r *Reassembler) Feed(line string) (string, bool) {
	if IsStartLine(line) && len(r.lines) > 0 {
		entry := strings.Join(r.lines, "\n") + "\n"
		r.lines = append(r.lines[:0], line)
		return entry, true
	}
	r.lines = append(r.lines, line)
	return "", false
}

// Flush emits the open entry at the end of a batch, if any.
func (r *Reassembler) Flush() (string, bool) {
	if len(r.lines) == 0 {
		return "", false
	}
	entry := strings.Join(r.lines, "\n")
	r.lines = nil
	return entry, true
}
