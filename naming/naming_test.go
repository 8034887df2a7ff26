package naming

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathForInstant(t *testing.T) {
	tests := []struct {
		name string
		utc  int64
		want string
	}{
		{"aligned", 1700000000, "14112023/22/1700000000-1700000004.es"},
		{"mid interval", 1700000003, "14112023/22/1700000000-1700000004.es"},
		{"next interval", 1700000004, "14112023/22/1700000004-1700000008.es"},
		{"epoch start", 1000, "01011970/00/1000-1004.es"},
		{"hour boundary", 3600, "01011970/01/3600-3604.es"},
		{"last slot of hour", 7199, "01011970/01/7196-7200.es"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PathForInstant(tt.utc))
		})
	}
}

func TestDurationOf_RoundTripDefault(t *testing.T) {
	for _, utc := range []int64{0, 1000, 1013, 3599, 1700000001, 1700003599} {
		assert.Equal(t, DefaultDuration, DurationOf(PathForInstant(utc)), "utc=%d", utc)
	}
}

func TestDurationOf(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int64
	}{
		{"four seconds", "1000-1004.es", 4},
		{"catch-up file", "01011970/00/1000-1010.es", 10},
		{"one second", "1000-1001.es", 1},
		{"zero span", "1000-1000.es", DefaultDuration},
		{"negative span", "1004-1000.es", DefaultDuration},
		{"wrong extension", "1000-1004.ts", DefaultDuration},
		{"garbage", "notes.txt", DefaultDuration},
		{"overflowing digits", "99999999999999999999-1.es", DefaultDuration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DurationOf(tt.in))
		})
	}
}

func TestStartEpochOf(t *testing.T) {
	assert.Equal(t, int64(1000), StartEpochOf("1000-1004.es"))
	assert.Equal(t, int64(0), StartEpochOf("bogus.es"))
	assert.Equal(t, int64(0), StartEpochOf(""))
}

func TestStartEpochOf_StableUnderPrefix(t *testing.T) {
	names := []string{"1000-1004.es", "1700000000-1700000004.es", "bad-name.es"}
	dirs := []string{"/tmp/work", "14112023/22", "s3://bucket/prefix/14112023/22", "a/b/c/"}
	for _, name := range names {
		for _, dir := range dirs {
			joined := dir + "/" + name
			assert.Equal(t, StartEpochOf(name), StartEpochOf(joined), "path=%s", joined)
		}
	}
}

func TestParseStartEpoch_Errors(t *testing.T) {
	_, err := ParseStartEpoch("/data/readme.md")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBadName))

	start, err := ParseStartEpoch("/data/01011970/00/1000-1004.es")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), start)
}

func TestIntervalForInstant(t *testing.T) {
	iv := IntervalForInstant(1002)
	assert.Equal(t, "01011970/00/1000-1004.es", iv.RelPath)
	assert.Equal(t, int64(1000), iv.Start)
	assert.Equal(t, DefaultDuration, iv.Duration)
	assert.Equal(t, int64(1004), iv.End())
}

func TestFormatUTC(t *testing.T) {
	assert.Equal(t, "2021-01-01 00:00:00 UTC", FormatUTC(1609459200))
}

func TestAlignStart(t *testing.T) {
	tests := []struct {
		utc  int64
		want int64
	}{
		{1700000003, 1700000000},
		{1700000004, 1700000004},
		{0, 0},
		{-1, -4},
		{-4, -4},
		{-5, -8},
		{-3601, -3604},
	}
	for _, tt := range tests {
		got := AlignStart(tt.utc)
		assert.Equal(t, tt.want, got, "AlignStart(%d)", tt.utc)
		assert.LessOrEqual(t, got, tt.utc, "aligned start must not pass the instant")
		assert.Greater(t, got+DefaultDuration, tt.utc, "instant must fall inside its interval")
	}
}

func TestKeyOf(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/tmp/tsrebuild-123/14112023/22/1700000000-1700000004.es", "14112023/22/1700000000-1700000004.es"},
		{"/other/root/14112023/22/1700000000-1700000004.es", "14112023/22/1700000000-1700000004.es"},
		{"14112023/22/1700000000-1700000004.es", "14112023/22/1700000000-1700000004.es"},
		{"s3://bucket/prefix/14112023/22/1700000000-1700000004.es", "14112023/22/1700000000-1700000004.es"},
		{"./a//b/../14112023/22/x.es", "14112023/22/x.es"},
		{"22/x.es", "22/x.es"},
		{"/x.es", "x.es"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, KeyOf(tt.in), "KeyOf(%q)", tt.in)
	}
}
