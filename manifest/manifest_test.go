package manifest

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pithecene-io/tsrebuild/types"
)

func TestBuild_AlignedWindow(t *testing.T) {
	m, err := Build(types.TimeWindow{Start: 1000, End: 1012}, "s3://bucket/rec/", "/tmp/work")
	require.NoError(t, err)
	require.Equal(t, 3, m.Len())

	entries := m.Entries()
	wantStarts := []int64{1000, 1004, 1008}
	for i, e := range entries {
		assert.Equal(t, wantStarts[i], e.Start)
		assert.Equal(t, int64(4), e.Duration)
	}

	assert.Equal(t, "01011970/00/1000-1004.es", entries[0].RelPath)
	assert.Equal(t, "s3://bucket/rec/01011970/00/1000-1004.es", entries[0].Remote)
	assert.Equal(t, filepath.Join("/tmp/work", "01011970", "00", "1000-1004.es"), entries[0].Local)
}

func TestBuild_UnalignedWindowStillCoversEnd(t *testing.T) {
	m, err := Build(types.TimeWindow{Start: 1002, End: 1013}, "s3://b/p", "/w")
	require.NoError(t, err)

	start, end := m.Coverage()
	assert.Equal(t, int64(1000), start)
	assert.GreaterOrEqual(t, end, int64(1013))
	assert.Equal(t, 4, m.Len(), "1000, 1004, 1008, 1012")
}

func TestBuild_InvalidWindow(t *testing.T) {
	_, err := Build(types.TimeWindow{Start: 10, End: 10}, "s3://b/p", "/w")
	assert.Error(t, err)
}

func TestBuild_Properties(t *testing.T) {
	// Sweep start offsets across an hour boundary and a range of lengths.
	for start := int64(3590); start < 3610; start++ {
		for length := int64(1); length <= 23; length++ {
			w := types.TimeWindow{Start: start, End: start + length}
			m, err := Build(w, "s3://b/p", "/w")
			require.NoError(t, err)
			require.NotZero(t, m.Len(), "window %+v", w)

			entries := m.Entries()
			seen := map[string]bool{}
			for i, e := range entries {
				assert.False(t, seen[e.RelPath], "duplicate %s in %+v", e.RelPath, w)
				seen[e.RelPath] = true
				if i > 0 {
					assert.Greater(t, e.Start, entries[i-1].Start, "not strictly advancing in %+v", w)
					assert.Equal(t, entries[i-1].Start+entries[i-1].Duration, e.Start, "gap in %+v", w)
				}
			}

			covStart, covEnd := m.Coverage()
			assert.LessOrEqual(t, covStart, w.Start, "window %+v", w)
			assert.GreaterOrEqual(t, covEnd, w.End, "window %+v", w)
		}
	}
}

func TestBuild_BeforeEpochCoversStart(t *testing.T) {
	for _, w := range []types.TimeWindow{
		{Start: -1, End: 3},
		{Start: -7, End: 1},
		{Start: -3601, End: -3590},
	} {
		m, err := Build(w, "s3://b/p", "/w")
		require.NoError(t, err)
		covStart, covEnd := m.Coverage()
		assert.LessOrEqual(t, covStart, w.Start, "window %+v", w)
		assert.GreaterOrEqual(t, covEnd, w.End, "window %+v", w)
	}
}

func TestEntries_ReturnsCopy(t *testing.T) {
	m, err := Build(types.TimeWindow{Start: 1000, End: 1004}, "s3://b/p", "/w")
	require.NoError(t, err)

	e := m.Entries()
	e[0].Local = "mutated"
	assert.NotEqual(t, "mutated", m.Entries()[0].Local)
}

func TestCoverage_Empty(t *testing.T) {
	var m Manifest
	s, e := m.Coverage()
	assert.Zero(t, s)
	assert.Zero(t, e)
}
