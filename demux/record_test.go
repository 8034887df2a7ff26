package demux

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func header(capture, pcr int64) Header {
	return Header{Marker: 0x47, Meta: 0x0102, CaptureNanos: capture, PCR: pcr}
}

func encode(payloads ...[]byte) []byte {
	var out []byte
	for i, p := range payloads {
		out = AppendRecord(out, header(int64(i)*1_000_000, int64(i)*27_000), p)
	}
	return out
}

func TestRecordReader_WellFormed(t *testing.T) {
	data := encode([]byte("abc"), nil, []byte("defgh"))
	rr := NewRecordReader(bytes.NewReader(data))

	rec, err := rr.Next()
	require.NoError(t, err)
	assert.Equal(t, byte(0x47), rec.Marker)
	assert.Equal(t, uint16(0x0102), rec.Meta)
	assert.Equal(t, int64(3), rec.PayloadLength)
	assert.Equal(t, "abc", string(rec.Payload))
	assert.Equal(t, int64(0), rec.Offset)
	assert.Equal(t, int64(HeaderSize+3), rec.Size())

	rec, err = rr.Next()
	require.NoError(t, err)
	assert.Zero(t, rec.PayloadLength)
	assert.Empty(t, rec.Payload)
	assert.Equal(t, int64(HeaderSize), rec.Size())
	assert.Equal(t, int64(1_000_000), rec.CaptureNanos)

	rec, err = rr.Next()
	require.NoError(t, err)
	assert.Equal(t, "defgh", string(rec.Payload))
	assert.Equal(t, int64(2*HeaderSize+3), rec.Offset)

	_, err = rr.Next()
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, int64(len(data)), rr.Offset())
}

func TestRecordReader_Empty(t *testing.T) {
	_, err := NewRecordReader(bytes.NewReader(nil)).Next()
	assert.Equal(t, io.EOF, err)
}

func recordErrKind(t *testing.T, err error) RecordErrorKind {
	t.Helper()
	var recErr *RecordError
	require.ErrorAs(t, err, &recErr)
	return recErr.Kind
}

func TestRecordReader_TruncatedHeader(t *testing.T) {
	data := append(encode([]byte("ok")), make([]byte, 10)...)
	rr := NewRecordReader(bytes.NewReader(data))

	_, err := rr.Next()
	require.NoError(t, err)
	_, err = rr.Next()
	assert.Equal(t, TruncatedHeader, recordErrKind(t, err))
	assert.True(t, IsCorruption(err))
}

func TestRecordReader_TruncatedPayload(t *testing.T) {
	data := encode([]byte("0123456789"))
	rr := NewRecordReader(bytes.NewReader(data[:len(data)-4]))

	_, err := rr.Next()
	assert.Equal(t, TruncatedPayload, recordErrKind(t, err))
	assert.Contains(t, err.Error(), "6 of 10")
}

func TestRecordReader_InvalidLength(t *testing.T) {
	tests := []struct {
		name   string
		length uint64
		max    int64
	}{
		{"negative", ^uint64(0), 0},
		{"negative with limit", ^uint64(0), 16},
		{"over limit", 17, 16},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := encode([]byte("x"))
			binary.LittleEndian.PutUint64(data[19:27], tt.length)

			rr := NewRecordReader(bytes.NewReader(data))
			rr.MaxPayload = tt.max
			_, err := rr.Next()
			assert.Equal(t, InvalidLength, recordErrKind(t, err))
			assert.True(t, IsCorruption(err))
		})
	}
}

func TestRecordReader_LimitAllowsPayloadAtLimit(t *testing.T) {
	rr := NewRecordReader(bytes.NewReader(encode(bytes.Repeat([]byte("z"), 16))))
	rr.MaxPayload = 16

	rec, err := rr.Next()
	require.NoError(t, err)
	assert.Len(t, rec.Payload, 16)
}

func TestRecordReader_PayloadLargerThanChunk(t *testing.T) {
	big := bytes.Repeat([]byte{0xAB}, payloadChunk*2+5)
	rr := NewRecordReader(bytes.NewReader(encode(big, []byte("next"))))

	rec, err := rr.Next()
	require.NoError(t, err)
	assert.Equal(t, big, rec.Payload)

	rec, err = rr.Next()
	require.NoError(t, err)
	assert.Equal(t, "next", string(rec.Payload))
	assert.Equal(t, int64(2*HeaderSize+len(big)+4), rr.Offset())
}

func TestRecordReader_HugeLengthOnShortInputIsTruncation(t *testing.T) {
	data := encode([]byte("short"))
	binary.LittleEndian.PutUint64(data[19:27], 1<<40)

	rr := NewRecordReader(bytes.NewReader(data))
	_, err := rr.Next()
	assert.Equal(t, TruncatedPayload, recordErrKind(t, err))
	assert.Contains(t, err.Error(), "5 of 1099511627776")
	assert.Less(t, cap(rr.payload), 2*payloadChunk, "buffer grows with the data, not the declared length")
}

type failingReader struct{ err error }

func (f failingReader) Read([]byte) (int, error) { return 0, f.err }

func TestRecordReader_ReadFailed(t *testing.T) {
	boom := errors.New("disk on fire")
	_, err := NewRecordReader(failingReader{err: boom}).Next()

	assert.Equal(t, ReadFailed, recordErrKind(t, err))
	assert.ErrorIs(t, err, boom)
	assert.False(t, IsCorruption(err))
}

func TestIsCorruption_OtherErrors(t *testing.T) {
	assert.False(t, IsCorruption(io.EOF))
	assert.False(t, IsCorruption(nil))
}

func TestRecordErrorKind_String(t *testing.T) {
	assert.Equal(t, "truncated_payload", TruncatedPayload.String())
	assert.Equal(t, "RecordErrorKind(42)", RecordErrorKind(42).String())
}
