package transport

import (
	"bytes"
	"strings"
)

// Framer splits a byte stream into server-sent-event frames on blank-line
// boundaries. It tolerates both LF and CRLF line endings and separators that
// straddle chunk boundaries.
type Framer struct {
	buf []byte
}

var (
	sepLF   = []byte("\n\n")
	sepCRLF = []byte("\r\n\r\n")
)

// Push appends data and returns every complete frame now available.
func (f *Framer) Push(p []byte) []string {
	f.buf = append(f.buf, p...)
	var frames []string
	for {
		idx, width := nextSeparator(f.buf)
		if idx < 0 {
			break
		}
		frame := strings.TrimSpace(string(f.buf[:idx]))
		f.buf = f.buf[idx+width:]
		if frame != "" {
			frames = append(frames, frame)
		}
	}
	if len(f.buf) == 0 {
		f.buf = nil
	}
	return frames
}

// Flush returns the buffered partial frame, if any, and resets the buffer.
// Some servers omit the terminating blank line on the final frame.
func (f *Framer) Flush() (string, bool) {
	frame := strings.TrimSpace(string(f.buf))
	f.buf = nil
	if frame == "" {
		return "", false
	}
	return frame, true
}

// Buffered reports the number of bytes waiting for a separator.
func (f *Framer) Buffered() int {
	return len(f.buf)
}

func nextSeparator(b []byte) (int, int) {
	lf := bytes.Index(b, sepLF)
	crlf := bytes.Index(b, sepCRLF)
	switch {
	case lf < 0 && crlf < 0:
		return -1, 0
	case lf < 0:
		return crlf, len(sepCRLF)
	case crlf < 0:
		return lf, len(sepLF)
	case crlf < lf:
		return crlf, len(sepCRLF)
	default:
		return lf, len(sepLF)
	}
}
