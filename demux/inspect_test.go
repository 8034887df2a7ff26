package demux

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInspect(t *testing.T) {
	var data []byte
	data = AppendRecord(data, Header{Marker: 1, CaptureNanos: 1_000_000_000, PCR: 27_000_000}, []byte("aa"))
	// Capture advanced 40ms, clock reference 39ms.
	data = AppendRecord(data, Header{Marker: 1, CaptureNanos: 1_040_000_000, PCR: 27_000_000 + 39*27_000}, []byte("bbb"))

	infos, err := Inspect(bytes.NewReader(data), 0)
	require.NoError(t, err)
	require.Len(t, infos, 2)

	assert.Equal(t, int64(1_000_000_000), infos[0].PCRNanos)
	assert.Zero(t, infos[0].DriftNanos)
	assert.Equal(t, int64(2), infos[0].PayloadLength)

	assert.Equal(t, 1, infos[1].Index)
	assert.Equal(t, int64(HeaderSize+2), infos[1].Offset)
	assert.Equal(t, int64(40_000_000), infos[1].CaptureDeltaNanos)
	assert.Equal(t, int64(39_000_000), infos[1].PCRDeltaNanos)
	assert.Equal(t, int64(1_000_000), infos[1].DriftNanos)
}

func TestInspect_Limit(t *testing.T) {
	data := encode([]byte("a"), []byte("b"), []byte("c"))
	infos, err := Inspect(bytes.NewReader(data), 2)
	require.NoError(t, err)
	assert.Len(t, infos, 2)
}

func TestInspect_PartialOnCorruption(t *testing.T) {
	data := encode([]byte("a"), []byte("bcdef"))
	infos, err := Inspect(bytes.NewReader(data[:len(data)-2]), 0)
	require.Error(t, err)
	assert.True(t, IsCorruption(err))
	assert.Len(t, infos, 1)
}
