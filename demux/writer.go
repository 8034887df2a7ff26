package demux

import (
	"errors"
	"io"
)

// DefaultBufferSize is the default write buffer capacity (1 MiB).
const DefaultBufferSize = 1024 * 1024

// ErrWriterClosed indicates a write on a closed or absent output.
// The run cannot continue after it.
var ErrWriterClosed = errors.New("write on closed output")

// BufferedWriter batches payloads into a fixed-capacity buffer.
// Payloads larger than the capacity bypass the buffer. Not safe for
// concurrent use.
type BufferedWriter struct {
	w       io.Writer
	buf     []byte
	written int64
	closed  bool
}

// NewBufferedWriter wraps w. initial seeds Written, for appends to an
// existing output. capacity <= 0 uses DefaultBufferSize.
func NewBufferedWriter(w io.Writer, capacity int, initial int64) *BufferedWriter {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	return &BufferedWriter{w: w, buf: make([]byte, 0, capacity), written: initial}
}

// Write buffers p, flushing first if p would overflow the buffer.
func (b *BufferedWriter) Write(p []byte) (int, error) {
	if b == nil || b.w == nil || b.closed {
		return 0, ErrWriterClosed
	}

	if len(b.buf)+len(p) > cap(b.buf) {
		if err := b.Flush(); err != nil {
			return 0, err
		}
	}

	if len(p) > cap(b.buf) {
		n, err := b.w.Write(p)
		b.written += int64(n)
		return n, err
	}

	b.buf = append(b.buf, p...)
	if len(b.buf) == cap(b.buf) {
		if err := b.Flush(); err != nil {
			return len(p), err
		}
	}
	return len(p), nil
}

// Flush writes buffered bytes to the underlying writer.
func (b *BufferedWriter) Flush() error {
	if b == nil || b.w == nil || b.closed {
		return ErrWriterClosed
	}
	if len(b.buf) == 0 {
		return nil
	}
	n, err := b.w.Write(b.buf)
	b.written += int64(n)
	if err == nil && n < len(b.buf) {
		err = io.ErrShortWrite
	}
	if err != nil {
		b.buf = b.buf[:copy(b.buf, b.buf[n:])]
		return err
	}
	b.buf = b.buf[:0]
	return nil
}

// Close flushes and marks the writer closed. The underlying writer is not
// closed. Further writes return ErrWriterClosed.
func (b *BufferedWriter) Close() error {
	if b == nil || b.closed {
		return nil
	}
	err := b.Flush()
	b.closed = true
	return err
}

// Buffered returns the number of bytes waiting in the buffer.
func (b *BufferedWriter) Buffered() int {
	return len(b.buf)
}

// Written returns the cumulative number of bytes handed to the underlying
// writer, including the initial seed.
func (b *BufferedWriter) Written() int64 {
	return b.written
}
