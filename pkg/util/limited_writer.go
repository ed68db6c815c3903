package util

import "io"

// LimitedWriter caps the number of bytes written to w, silently discarding
// anything past limit instead of erroring.
//
// Past the limit, Write returns len(p) rather than (0, ErrShortWrite) so a
// caller that only checks the error never notices the writer stopped
// forwarding bytes. Under the limit it returns the real byte count written;
// a write that crosses the limit returns only the count of bytes kept, with
// a nil error.
type LimitedWriter struct {
	w        io.Writer
	limit    int
	written  int
	overflow bool
}

// NewLimitedWriter builds a LimitedWriter over w, capped at limit bytes.
func NewLimitedWriter(w io.Writer, limit int) *LimitedWriter {
	return &LimitedWriter{w: w, limit: limit}
}

// Write writes p to the underlying writer, discarding anything past limit.
func (lw *LimitedWriter) Write(p []byte) (int, error) {
	remain := lw.limit - lw.written
	if remain <= 0 {
		if len(p) > 0 {
			lw.overflow = true
		}
		return len(p), nil // silently discarded, transparent to the caller
	}
	if len(p) > remain {
		p = p[:remain]
		lw.overflow = true
	}
	n, err := lw.w.Write(p)
	lw.written += n
	return n, err
}

// Overflow reports whether any bytes have been discarded because they fell
// past the limit. Filling the limit exactly does not count as overflow.
func (lw *LimitedWriter) Overflow() bool { return lw.overflow }

// Written returns the number of bytes actually written so far.
func (lw *LimitedWriter) Written() int { return lw.written }
