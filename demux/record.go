// Package demux extracts transport-stream payloads from interval files and
// writes them, in order, to a single output artifact.
package demux

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
)

// HeaderSize is the fixed size of a record header.
const HeaderSize = 27

// Payloads longer than payloadChunk are read in chunks of that size, so a
// corrupt length on a short file fails without allocating the full length.
const payloadChunk = 4 * 1024 * 1024

// Header is a decoded record header.
//
//	[0]      start marker
//	[1:3]    format metadata (little-endian, not interpreted)
//	[3:11]   capture time, nanoseconds since epoch (little-endian)
//	[11:19]  clock reference, 27 MHz ticks (little-endian)
//	[19:27]  payload length (little-endian)
type Header struct {
	Marker        byte
	Meta          uint16
	CaptureNanos  int64
	PCR           int64
	PayloadLength int64
}

// Record is one header plus its payload.
type Record struct {
	Header
	// Offset is the position of the header within the file.
	Offset int64
	// Payload is only valid until the next call to Next.
	Payload []byte
}

// Size returns the number of input bytes the record occupies.
func (r Record) Size() int64 {
	return HeaderSize + int64(len(r.Payload))
}

// RecordErrorKind classifies record decoding errors.
type RecordErrorKind int

const (
	// TruncatedHeader indicates input ended partway through a header.
	TruncatedHeader RecordErrorKind = iota
	// TruncatedPayload indicates input ended before the declared payload length.
	TruncatedPayload
	// InvalidLength indicates a negative or oversized payload length.
	InvalidLength
	// ReadFailed indicates the underlying reader failed.
	ReadFailed
)

func (k RecordErrorKind) String() string {
	switch k {
	case TruncatedHeader:
		return "truncated_header"
	case TruncatedPayload:
		return "truncated_payload"
	case InvalidLength:
		return "invalid_length"
	case ReadFailed:
		return "read_failed"
	default:
		return fmt.Sprintf("RecordErrorKind(%d)", int(k))
	}
}

// RecordError represents a record decoding error. Every kind stops parsing
// of the current file.
type RecordError struct {
	Kind   RecordErrorKind
	Offset int64
	Msg    string
	Err    error
}

func (e *RecordError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s at offset %d: %s: %v", e.Kind, e.Offset, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s at offset %d: %s", e.Kind, e.Offset, e.Msg)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// IsCorruption reports whether err is a truncation or invalid-length error,
// as opposed to a read failure or a non-record error.
func IsCorruption(err error) bool {
	var recErr *RecordError
	if errors.As(err, &recErr) {
		return recErr.Kind != ReadFailed
	}
	return false
}

// RecordReader decodes records from a stream.
type RecordReader struct {
	// MaxPayload rejects longer payload lengths as InvalidLength.
	// Zero means no limit beyond what fits in memory.
	MaxPayload int64

	r       io.Reader
	offset  int64
	header  [HeaderSize]byte
	payload []byte
}

// NewRecordReader creates a reader over r. Wrap r in a bufio.Reader for
// file input.
func NewRecordReader(r io.Reader) *RecordReader {
	return &RecordReader{r: r}
}

// Offset returns the number of bytes consumed so far.
func (rr *RecordReader) Offset() int64 {
	return rr.offset
}

// Next reads the next record.
//
// Errors:
//   - io.EOF: input ended cleanly between records
//   - *RecordError: truncation, invalid length or read failure
func (rr *RecordReader) Next() (Record, error) {
	start := rr.offset

	n, err := io.ReadFull(rr.r, rr.header[:])
	rr.offset += int64(n)
	if err != nil {
		switch {
		case errors.Is(err, io.EOF):
			return Record{}, io.EOF
		case errors.Is(err, io.ErrUnexpectedEOF):
			return Record{}, &RecordError{
				Kind:   TruncatedHeader,
				Offset: start,
				Msg:    fmt.Sprintf("incomplete header (%d of %d bytes)", n, HeaderSize),
			}
		default:
			return Record{}, &RecordError{Kind: ReadFailed, Offset: start, Msg: "failed to read header", Err: err}
		}
	}

	h := decodeHeader(rr.header[:])
	if msg := rr.checkLength(h.PayloadLength); msg != "" {
		return Record{}, &RecordError{Kind: InvalidLength, Offset: start, Msg: msg}
	}

	rec := Record{Header: h, Offset: start}
	if h.PayloadLength == 0 {
		return rec, nil
	}

	buf, read, err := rr.readPayload(int(h.PayloadLength))
	rr.offset += int64(read)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Record{}, &RecordError{
				Kind:   TruncatedPayload,
				Offset: start,
				Msg:    fmt.Sprintf("incomplete payload (%d of %d bytes)", read, h.PayloadLength),
			}
		}
		return Record{}, &RecordError{Kind: ReadFailed, Offset: start, Msg: "failed to read payload", Err: err}
	}

	rec.Payload = buf
	return rec, nil
}

func (rr *RecordReader) checkLength(n int64) string {
	switch {
	case n < 0:
		return fmt.Sprintf("negative payload length %d", n)
	case rr.MaxPayload > 0 && n > rr.MaxPayload:
		return fmt.Sprintf("payload length %d exceeds limit %d", n, rr.MaxPayload)
	case uint64(n) > math.MaxInt:
		return fmt.Sprintf("payload length %d does not fit in memory", n)
	}
	return ""
}

// readPayload reads size bytes into the reusable payload buffer and returns
// the buffer and the number of bytes consumed.
func (rr *RecordReader) readPayload(size int) ([]byte, int, error) {
	if size <= payloadChunk {
		if cap(rr.payload) < size {
			rr.payload = make([]byte, size)
		}
		buf := rr.payload[:size]
		n, err := io.ReadFull(rr.r, buf)
		return buf, n, err
	}

	buf := rr.payload[:0]
	for len(buf) < size {
		step := min(size-len(buf), payloadChunk)
		buf = slices.Grow(buf, step)
		n, err := io.ReadFull(rr.r, buf[len(buf):len(buf)+step])
		buf = buf[:len(buf)+n]
		if err != nil {
			rr.payload = buf
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, len(buf), err
		}
	}
	rr.payload = buf
	return buf, size, nil
}

func decodeHeader(b []byte) Header {
	return Header{
		Marker:        b[0],
		Meta:          binary.LittleEndian.Uint16(b[1:3]),
		CaptureNanos:  int64(binary.LittleEndian.Uint64(b[3:11])),
		PCR:           int64(binary.LittleEndian.Uint64(b[11:19])),
		PayloadLength: int64(binary.LittleEndian.Uint64(b[19:27])),
	}
}

// AppendRecord appends the encoding of h followed by payload to dst.
// h.PayloadLength is ignored; the payload length is written.
func AppendRecord(dst []byte, h Header, payload []byte) []byte {
	dst = append(dst, h.Marker)
	dst = binary.LittleEndian.AppendUint16(dst, h.Meta)
	dst = binary.LittleEndian.AppendUint64(dst, uint64(h.CaptureNanos))
	dst = binary.LittleEndian.AppendUint64(dst, uint64(h.PCR))
	dst = binary.LittleEndian.AppendUint64(dst, uint64(len(payload)))
	return append(dst, payload...)
}
