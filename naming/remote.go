package naming

import (
	"fmt"
	"strings"
)

// JoinRemote combines a store prefix with a manifest-relative path, leaving
// exactly one "/" between them regardless of separators on either side.
func JoinRemote(prefix, rel string) string {
	return strings.TrimRight(prefix, "/") + "/" + strings.TrimLeft(rel, "/")
}

// RemoteURL is a parsed scheme://bucket/key object identity.
type RemoteURL struct {
	Scheme string
	Bucket string
	Key    string
}

// String renders the identity back to scheme://bucket/key.
func (u RemoteURL) String() string {
	if u.Key == "" {
		return u.Scheme + "://" + u.Bucket
	}
	return u.Scheme + "://" + u.Bucket + "/" + u.Key
}

// ParseRemote splits scheme://bucket/key. The key may be empty.
func ParseRemote(raw string) (RemoteURL, error) {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok || scheme == "" {
		return RemoteURL{}, fmt.Errorf("invalid object URL %q: missing scheme", raw)
	}
	bucket, key, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return RemoteURL{}, fmt.Errorf("invalid object URL %q: missing bucket", raw)
	}
	return RemoteURL{Scheme: scheme, Bucket: bucket, Key: key}, nil
}
