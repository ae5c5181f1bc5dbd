// Package io turns the raw byte stream of an SMTP connection into protocol
// lines.
package io

import (
	"errors"

	"github.com/synqronlabs/maildrop/buffer"
)

var ErrLineTooLong = errors.New("smtp: line too long")

const (
	initialTailSize  = 256
	initialQueueSize = 16
)

// Framer accumulates appended chunks and splits them on CRLF.
//
// Completed lines are queued in arrival order; bytes after the last CRLF are
// kept until a later Feed completes them. A line never includes its CRLF and
// may be empty.
type Framer struct {
	tail    *buffer.Vector[byte]
	ready   *buffer.Vector[[]byte]
	maxLine int
}

// NewFramer creates a framer. maxLine bounds the length of a line without
// its CRLF; zero disables the limit.
func NewFramer(maxLine int) *Framer {
	return &Framer{
		tail:    buffer.New[byte](initialTailSize),
		ready:   buffer.New[[]byte](initialQueueSize),
		maxLine: maxLine,
	}
}

// Feed appends chunk and extracts every line it completes.
//
// ErrLineTooLong is returned when a completed line, or the unterminated
// remainder, exceeds the configured limit. Lines extracted before the
// offending one stay queued; a completed line over the limit also drops
// everything buffered after it.
func (f *Framer) Feed(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	// The tail holds no CRLF, but may end with a lone CR whose LF is in chunk.
	scanFrom := max(f.tail.Len()-1, 0)
	f.tail.Append(chunk...)

	data := f.tail.Slice()
	start := 0
	for i := scanFrom; i < len(data)-1; i++ {
		if data[i] != '\r' || data[i+1] != '\n' {
			continue
		}
		if f.maxLine > 0 && i-start > f.maxLine {
			// The stream has no trustworthy line boundary after this point.
			f.tail.Clear()
			return ErrLineTooLong
		}
		line := make([]byte, i-start)
		copy(line, data[start:i])
		f.ready.Push(line)
		start = i + 2
		i++
	}
	f.tail.Consume(start)

	// A trailing CR may be the first half of the terminator.
	n := f.tail.Len()
	if n > 0 && f.tail.At(n-1) == '\r' {
		n--
	}
	if f.maxLine > 0 && n > f.maxLine {
		return ErrLineTooLong
	}
	return nil
}

// Next pops the oldest completed line. The second result is false when no
// line is ready.
func (f *Framer) Next() ([]byte, bool) {
	if f.ready.Len() == 0 {
		return nil, false
	}
	line := f.ready.At(0)
	// Arrival order is significant, so the queue is shifted, not swapped.
	f.ready.StableRemoveAt(0)
	return line, true
}

// Ready returns the number of queued lines.
func (f *Framer) Ready() int {
	return f.ready.Len()
}

// Pending returns the buffered bytes that do not yet form a line.
func (f *Framer) Pending() []byte {
	return f.tail.Slice()
}

// Close drops all buffered data, including lines never popped.
func (f *Framer) Close() {
	f.tail.Close()
	f.ready.Close()
}
