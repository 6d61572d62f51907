package llm

import (
	"bytes"
	"strings"
	"unicode/utf8"
)

var dataPrefix = []byte("data: ")

// LineFramer turns arbitrary byte chunks from one response body into
// trimmed lines. A line split across chunks, or a multi-byte character split
// across chunks, is held until the rest arrives. One framer per connection;
// it is not safe for concurrent use.
type LineFramer struct {
	buf     []byte
	pending []byte // incomplete UTF-8 sequence at the end of the last chunk
}

// NewLineFramer returns an empty framer.
func NewLineFramer() *LineFramer {
	return &LineFramer{}
}

// Feed appends chunk and returns every line completed by it, in order.
// Invalid byte sequences are replaced with U+FFFD rather than rejected.
func (f *LineFramer) Feed(chunk []byte) []string {
	data := chunk
	if len(f.pending) > 0 {
		data = append(f.pending, chunk...)
		f.pending = nil
	}
	if n := incompleteTail(data); n > 0 {
		f.pending = append([]byte(nil), data[len(data)-n:]...)
		data = data[:len(data)-n]
	}
	f.buf = append(f.buf, bytes.ToValidUTF8(data, []byte(string(utf8.RuneError)))...)

	var lines []string
	start := 0
	for {
		i := bytes.IndexByte(f.buf[start:], '\n')
		if i < 0 {
			break
		}
		lines = append(lines, strings.TrimSpace(string(f.buf[start:start+i])))
		start += i + 1
	}
	if start > 0 {
		f.buf = append(f.buf[:0], f.buf[start:]...)
	}
	return lines
}

// Flush returns the unterminated remainder, trimmed, and resets the framer.
// ok is false when nothing but whitespace was buffered.
func (f *LineFramer) Flush() (line string, ok bool) {
	rest := append(f.buf, bytes.ToValidUTF8(f.pending, []byte(string(utf8.RuneError)))...)
	f.buf, f.pending = nil, nil
	line = strings.TrimSpace(string(rest))
	return line, line != ""
}

// Payload filters one framed line: blank lines, ":" comments and lines
// without the "data: " prefix are dropped; otherwise the prefix is stripped.
func Payload(line string) ([]byte, bool) {
	if line == "" || line[0] == ':' {
		return nil, false
	}
	b := []byte(line)
	if !bytes.HasPrefix(b, dataPrefix) {
		return nil, false
	}
	return bytes.TrimPrefix(b, dataPrefix), true
}

// incompleteTail returns the length of a truncated multi-byte sequence at
// the end of p, or 0 if p ends on a rune boundary.
func incompleteTail(p []byte) int {
	for i := 1; i < utf8.UTFMax && i <= len(p); i++ {
		b := p[len(p)-i]
		if b < utf8.RuneSelf {
			return 0
		}
		if utf8.RuneStart(b) {
			if utf8.FullRune(p[len(p)-i:]) {
				return 0
			}
			return i
		}
	}
	return 0
}
