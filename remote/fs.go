package remote

import (
	"context"
	"io"
	"path/filepath"

	"github.com/spf13/afero"
)

// FSStore serves objects from a directory tree laid out as <root>/<bucket>/<key>.
// The URL scheme is ignored, so s3:// identities resolve against a local
// mirror of the bucket.
type FSStore struct {
	fs   afero.Fs
	root string
}

// NewFSStore creates a store reading from fsys under root.
// A nil fsys uses the OS filesystem.
func NewFSStore(fsys afero.Fs, root string) *FSStore {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &FSStore{fs: fsys, root: root}
}

// Fetch implements ObjectStore.
func (s *FSStore) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ObjectError{Kind: ErrTransient, Op: "open", URL: url, Err: err}
	}
	u, err := parse("open", url)
	if err != nil {
		return nil, err
	}

	f, err := s.fs.Open(filepath.Join(s.root, u.Bucket, filepath.FromSlash(u.Key)))
	if err != nil {
		return nil, Wrap(err, "open", url)
	}
	return f, nil
}
