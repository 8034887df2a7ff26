// Package remotetest provides an in-memory remote.ObjectStore for tests.
package remotetest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/pithecene-io/tsrebuild/remote"
)

// Store is an in-memory store. Objects are keyed by full URL.
// Scripted errors are returned before the object, one per call, so a test
// can make a fetch fail a fixed number of times and then succeed.
type Store struct {
	mu      sync.Mutex
	objects map[string][]byte
	errs    map[string][]error
	calls   map[string]int
}

var errNoSuchKey = errors.New("no such key")

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		objects: make(map[string][]byte),
		errs:    make(map[string][]error),
		calls:   make(map[string]int),
	}
}

// Put stores data under url.
func (s *Store) Put(url string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[url] = append([]byte(nil), data...)
}

// FailWith queues errs to be returned, in order, by the next fetches of url.
func (s *Store) FailWith(url string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[url] = append(s.errs[url], errs...)
}

// Calls returns how many times url was fetched.
func (s *Store) Calls(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[url]
}

// TotalCalls returns the number of fetches across all URLs.
func (s *Store) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.calls {
		total += n
	}
	return total
}

// Fetch implements remote.ObjectStore. Unknown URLs fail with ErrNotFound.
func (s *Store) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[url]++

	if err := ctx.Err(); err != nil {
		return nil, &remote.ObjectError{Kind: remote.ErrTransient, Op: "get", URL: url, Err: err}
	}
	if queued := s.errs[url]; len(queued) > 0 {
		err := queued[0]
		s.errs[url] = queued[1:]
		return nil, remote.Wrap(err, "get", url)
	}
	data, ok := s.objects[url]
	if !ok {
		return nil, &remote.ObjectError{Kind: remote.ErrNotFound, Op: "get", URL: url, Err: errNoSuchKey}
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}
