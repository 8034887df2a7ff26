package remote

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/pithecene-io/tsrebuild/naming"
)

// ObjectStore reads objects by scheme://bucket/key identity.
// Implementations must be safe for concurrent use.
type ObjectStore interface {
	// Fetch opens the object for reading. Errors are *ObjectError values.
	// The caller closes the returned reader.
	Fetch(ctx context.Context, url string) (io.ReadCloser, error)
}

// Backend names accepted by Open.
const (
	BackendS3 = "s3"
	BackendFS = "fs"
)

// Options selects and configures a store.
type Options struct {
	// Backend is "s3" (default) or "fs".
	Backend string
	// Root is the directory that holds one subdirectory per bucket (fs backend).
	Root string
	// S3 configures the s3 backend.
	S3 S3Config
}

// Open creates the store selected by opts.Backend.
func Open(ctx context.Context, opts Options) (ObjectStore, error) {
	switch opts.Backend {
	case "", BackendS3:
		return NewS3Store(ctx, opts.S3)
	case BackendFS:
		return NewFSStore(nil, opts.Root), nil
	default:
		return nil, fmt.Errorf("%w: backend %q", ErrUnsupportedScheme, opts.Backend)
	}
}

// parse splits url, wrapping parse failures as non-retryable not-found errors.
func parse(op, url string) (naming.RemoteURL, error) {
	u, err := naming.ParseRemote(url)
	if err != nil {
		return naming.RemoteURL{}, &ObjectError{Kind: ErrNotFound, Op: op, URL: url, Err: err}
	}
	if u.Key == "" {
		return naming.RemoteURL{}, &ObjectError{Kind: ErrNotFound, Op: op, URL: url, Err: errors.New("empty object key")}
	}
	return u, nil
}
