// Package remote fetches interval objects from an object store.
//
// Fetch failures are classified into sentinel kinds so the retrieval engine
// can tell permanent failures (missing object, denied access) from
// transient ones with errors.Is rather than string matching.
package remote

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strings"

	"github.com/aws/smithy-go"
)

// Sentinel errors for fetch failure classification.
var (
	// ErrNotFound indicates the object does not exist (NoSuchKey, 404, ENOENT).
	ErrNotFound = errors.New("object not found")

	// ErrAccessDenied indicates the caller may not read the object (AccessDenied, 403, EACCES).
	ErrAccessDenied = errors.New("access denied")

	// ErrTransient indicates any other failure. Transient failures are retried.
	ErrTransient = errors.New("transient failure")

	// ErrUnsupportedScheme indicates an object URL scheme no store handles.
	ErrUnsupportedScheme = errors.New("unsupported object URL scheme")
)

// ObjectError wraps an underlying error with its classification.
// It preserves the original error in the chain for inspection via errors.As.
type ObjectError struct {
	// Kind is the sentinel error for classification.
	Kind error
	// Op is the operation that failed (e.g. "get", "read").
	Op string
	// URL is the object identity involved.
	URL string
	// Err is the underlying error.
	Err error
}

func (e *ObjectError) Error() string {
	return fmt.Sprintf("%s %s: %v: %v", e.Op, e.URL, e.Kind, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *ObjectError) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target sentinel.
func (e *ObjectError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// Wrap classifies err and wraps it. Returns nil if err is nil.
func Wrap(err error, op, url string) error {
	if err == nil {
		return nil
	}
	var oe *ObjectError
	if errors.As(err, &oe) {
		return err
	}
	return &ObjectError{Kind: Classify(err), Op: op, URL: url, Err: err}
}

// IsPermanent reports whether err must not be retried.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrAccessDenied)
}

// Classify maps err to ErrNotFound, ErrAccessDenied or ErrTransient.
// Typed API errors and HTTP status codes are checked before message patterns.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return ErrNotFound
	case errors.Is(err, ErrAccessDenied), errors.Is(err, fs.ErrPermission):
		return ErrAccessDenied
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket", "404":
			return ErrNotFound
		case "AccessDenied", "Forbidden", "403":
			return ErrAccessDenied
		}
	}

	var statusErr interface{ HTTPStatusCode() int }
	if errors.As(err, &statusErr) {
		switch statusErr.HTTPStatusCode() {
		case http.StatusNotFound:
			return ErrNotFound
		case http.StatusForbidden:
			return ErrAccessDenied
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "nosuchkey", "status code: 404", "statuscode: 404", "not found"):
		return ErrNotFound
	case containsAny(msg, "accessdenied", "forbidden", "status code: 403", "statuscode: 403"):
		return ErrAccessDenied
	default:
		return ErrTransient
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
