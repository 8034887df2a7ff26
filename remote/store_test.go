package remote

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	gotBucket, gotKey string
	body              string
	err               error
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.gotBucket = *in.Bucket
	f.gotKey = *in.Key
	if f.err != nil {
		return nil, f.err
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(f.body))}, nil
}

func TestS3Store_Fetch(t *testing.T) {
	client := &fakeS3{body: "payload"}
	store := NewS3StoreFromClient(client)

	rc, err := store.Fetch(t.Context(), "s3://bucket/rec/01011970/00/1000-1004.es")
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
	assert.Equal(t, "bucket", client.gotBucket)
	assert.Equal(t, "rec/01011970/00/1000-1004.es", client.gotKey)
}

func TestS3Store_FetchNoSuchKey(t *testing.T) {
	store := NewS3StoreFromClient(&fakeS3{err: &types.NoSuchKey{}})

	_, err := store.Fetch(t.Context(), "s3://bucket/missing.es")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, IsPermanent(err))
}

type failingBody struct{}

func (failingBody) Read([]byte) (int, error) { return 0, errors.New("connection reset") }
func (failingBody) Close() error             { return nil }

type bodyS3 struct{ body io.ReadCloser }

func (b *bodyS3) GetObject(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return &s3.GetObjectOutput{Body: b.body}, nil
}

func TestS3Store_BodyReadErrorIsTransient(t *testing.T) {
	store := NewS3StoreFromClient(&bodyS3{body: failingBody{}})

	rc, err := store.Fetch(t.Context(), "s3://bucket/k.es")
	require.NoError(t, err)
	_, err = io.ReadAll(rc)
	assert.ErrorIs(t, err, ErrTransient)
	assert.False(t, IsPermanent(err))
}

func TestS3Store_BadURL(t *testing.T) {
	store := NewS3StoreFromClient(&fakeS3{})
	_, err := store.Fetch(t.Context(), "no-scheme")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Fetch(t.Context(), "s3://bucket")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFSStore_Fetch(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/mirror/bucket/rec/a.es", []byte("abc"), 0o644))
	store := NewFSStore(fsys, "/mirror")

	rc, err := store.Fetch(t.Context(), "s3://bucket/rec/a.es")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "abc", string(data))

	_, err = store.Fetch(t.Context(), "s3://bucket/rec/missing.es")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFSStore_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := NewFSStore(afero.NewMemMapFs(), "/").Fetch(ctx, "s3://b/k")
	assert.ErrorIs(t, err, ErrTransient)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpen_Backends(t *testing.T) {
	store, err := Open(t.Context(), Options{Backend: BackendFS, Root: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &FSStore{}, store)

	_, err = Open(t.Context(), Options{Backend: "ftp"})
	assert.ErrorIs(t, err, ErrUnsupportedScheme)
}

func TestS3Config_HasStaticCredentials(t *testing.T) {
	assert.False(t, S3Config{}.HasStaticCredentials())
	assert.False(t, S3Config{AccessKey: "a"}.HasStaticCredentials())
	assert.True(t, S3Config{AccessKey: "a", SecretKey: "s"}.HasStaticCredentials())
}
