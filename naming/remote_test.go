package naming

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinRemote(t *testing.T) {
	tests := []struct {
		prefix, rel, want string
	}{
		{"s3://bucket/prefix/", "path/to/object", "s3://bucket/prefix/path/to/object"},
		{"s3://bucket/prefix", "path/to/object", "s3://bucket/prefix/path/to/object"},
		{"s3://bucket/prefix", "/path/to/object", "s3://bucket/prefix/path/to/object"},
		{"s3://bucket/prefix//", "//path", "s3://bucket/prefix/path"},
		{"s3://bucket", "a.es", "s3://bucket/a.es"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, JoinRemote(tt.prefix, tt.rel))
	}
}

func TestParseRemote(t *testing.T) {
	u, err := ParseRemote("s3://my-bucket/path/to/object")
	require.NoError(t, err)
	assert.Equal(t, RemoteURL{Scheme: "s3", Bucket: "my-bucket", Key: "path/to/object"}, u)
	assert.Equal(t, "s3://my-bucket/path/to/object", u.String())

	u, err = ParseRemote("s3://my-bucket")
	require.NoError(t, err)
	assert.Equal(t, "", u.Key)
	assert.Equal(t, "s3://my-bucket", u.String())

	_, err = ParseRemote("https//my-bucket")
	assert.Error(t, err)
	_, err = ParseRemote("s3:///key")
	assert.Error(t, err)
}

func TestPCRToNanos(t *testing.T) {
	assert.Equal(t, int64(0), PCRToNanos(-5))
	assert.Equal(t, int64(0), PCRToNanos(0))
	assert.Equal(t, int64(1_000_000_000), PCRToNanos(PCRHz))
	assert.Equal(t, int64(37), PCRToNanos(1))
	// Large values must not overflow.
	big := int64(PCRHz) * 3600 * 24 * 365 * 20
	assert.Equal(t, int64(1_000_000_000)*3600*24*365*20, PCRToNanos(big))
}
