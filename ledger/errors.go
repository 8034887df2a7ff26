package ledger

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/pithecene-io/tsrebuild/remote"
)

// Storage failure kinds. A StorageError matches its kind via errors.Is.
var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotFound         = errors.New("not found")
	ErrDiskFull         = errors.New("no space left on device")
	ErrTimeout          = errors.New("operation timed out")
	ErrThrottled        = errors.New("rate limited")
	ErrAuth             = errors.New("authentication failed")
	ErrAccessDenied     = errors.New("access denied")
	ErrNetwork          = errors.New("network error")

	errUnclassified = errors.New("storage error")
)

// kindPatterns is matched in order against the lowercased error text of
// failures that carry no usable type.
var kindPatterns = []struct {
	kind     error
	patterns []string
}{
	{ErrPermissionDenied, []string{"permission denied", "eacces"}},
	{ErrNotFound, []string{"no such file", "does not exist", "enoent", "nosuchbucket"}},
	{ErrDiskFull, []string{"no space left", "disk full", "enospc", "quota exceeded"}},
	{ErrTimeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{ErrThrottled, []string{"slowdown", "rate exceeded", "throttl", "429", "toomanyrequests"}},
	{ErrAuth, []string{"nocredentialproviders", "credentials", "invalidaccesskeyid",
		"signaturedoesnotmatch", "expiredtoken", "401", "unauthorized"}},
	{ErrNetwork, []string{"connection refused", "no route to host", "network unreachable", "dial tcp"}},
}

// StorageError is a classified ledger storage failure.
type StorageError struct {
	Kind error
	Op   string // init, write or read
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	var b strings.Builder
	b.WriteString("ledger ")
	b.WriteString(e.Op)
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	fmt.Fprintf(&b, ": %v: %v", e.Kind, e.Err)
	return b.String()
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return errors.Is(e.Kind, target) }

func wrap(err error, op, path string) error {
	if err == nil {
		return nil
	}
	return &StorageError{Kind: classify(err), Op: op, Path: path, Err: err}
}

// classify resolves typed errors first: fs errors, timeouts, then the
// object store classification shared with remote. Untyped errors fall
// back to kindPatterns.
func classify(err error) error {
	switch {
	case errors.Is(err, fs.ErrPermission):
		return ErrPermissionDenied
	case errors.Is(err, fs.ErrNotExist):
		return ErrNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	}
	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) && timeoutErr.Timeout() {
		return ErrTimeout
	}

	switch remote.Classify(err) {
	case remote.ErrAccessDenied:
		return ErrAccessDenied
	case remote.ErrNotFound:
		return ErrNotFound
	}

	msg := strings.ToLower(err.Error())
	for _, kp := range kindPatterns {
		for _, p := range kp.patterns {
			if strings.Contains(msg, p) {
				return kp.kind
			}
		}
	}
	return errUnclassified
}
