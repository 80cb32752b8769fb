// Package protocol implements the miner-facing stratum wire format: the
// bounded line splitter, JSON-RPC request decoding, reply and job
// encoding, and the difficulty arithmetic shared by sessions and config.
package protocol

import (
	"bytes"
	"errors"
)

// DefaultLineCapacity is the receive buffer size of one session.  A
// request line, including its delimiter, must fit in it.
const DefaultLineCapacity = 1024

// ErrLineTooLong is returned by LineParser.Feed when a line would not fit
// in the receive buffer.  The parser cannot resynchronise after it, so the
// session must be closed.
var ErrLineTooLong = errors.New("request line exceeds receive buffer capacity")

// LineParser splits a byte stream into newline-delimited lines using one
// fixed-capacity buffer.  It is not safe for concurrent use.
type LineParser struct {
	buf []byte
	pos int // end of buffered-but-unterminated bytes
}

// NewLineParser returns a parser whose buffer holds capacity bytes.
func NewLineParser(capacity int) *LineParser {
	if capacity <= 0 {
		capacity = DefaultLineCapacity
	}
	return &LineParser{buf: make([]byte, capacity)}
}

// Capacity returns the fixed buffer size.
func (p *LineParser) Capacity() int { return len(p.buf) }

// Buffered returns the number of bytes of the pending partial line.
func (p *LineParser) Buffered() int { return p.pos }

// Feed appends data and calls emit once per completed line, without the
// delimiter.  The slice passed to emit aliases data or the parser buffer
// and is only valid until emit returns.  Trailing bytes with no delimiter stay
// buffered for the next call.
//
// When a line plus its delimiter would exceed the capacity, Feed returns
// ErrLineTooLong; lines completed earlier in the same call have already
// been emitted, the oversized one never is.
func (p *LineParser) Feed(data []byte, emit func(line []byte)) error {
	for len(data) > 0 {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			if p.pos+len(data) > len(p.buf) {
				p.pos = 0
				return ErrLineTooLong
			}
			p.pos += copy(p.buf[p.pos:], data)
			return nil
		}

		if p.pos+i+1 > len(p.buf) {
			p.pos = 0
			return ErrLineTooLong
		}

		var line []byte
		if p.pos == 0 {
			line = data[:i]
		} else {
			n := copy(p.buf[p.pos:], data[:i])
			line = p.buf[:p.pos+n]
		}
		p.pos = 0
		emit(line)
		data = data[i+1:]
	}
	return nil
}
