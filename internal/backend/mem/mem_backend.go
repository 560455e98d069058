// Package mem implements an in-memory backend.Store, used by the
// internal/logio, internal/checkpoint and internal/statekeeper test
// suites so they don't need a real filesystem to exercise the rolling-file
// and seek logic.
package mem

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/arnegard/netbase/internal/backend"
	"github.com/arnegard/netbase/internal/debug"
	"github.com/arnegard/netbase/internal/errors"
)

var errNotFound = errors.New("not found")

// Backend is a mock backend.Store that saves all data in a map in memory.
// It should only be used for tests.
type Backend struct {
	mu   sync.Mutex
	data map[string][]byte
}

var _ backend.Store = &Backend{}

// New returns a new in-memory backend.Store.
func New() *Backend {
	debug.Log("backend", "created new memory backend")
	return &Backend{data: make(map[string][]byte)}
}

func (b *Backend) IsNotExist(err error) bool {
	return errors.Is(err, errNotFound)
}

func (b *Backend) Create(_ context.Context, name string) (io.WriteCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[name] = nil
	return &writer{b: b, name: name}, nil
}

func (b *Backend) OpenAppend(_ context.Context, name string) (io.WriteCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.data[name]; !ok {
		b.data[name] = nil
	}
	return &writer{b: b, name: name}, nil
}

type writer struct {
	b    *Backend
	name string
}

func (w *writer) Write(p []byte) (int, error) {
	w.b.mu.Lock()
	defer w.b.mu.Unlock()
	w.b.data[w.name] = append(w.b.data[w.name], p...)
	return len(p), nil
}

func (w *writer) Close() error { return nil }

func (b *Backend) OpenRead(_ context.Context, name string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf, ok := b.data[name]
	if !ok {
		return nil, errNotFound
	}
	return &seekReader{Reader: bytes.NewReader(append([]byte(nil), buf...))}, nil
}

// seekReader adds a no-op Close and exposes the embedded *bytes.Reader's
// Seek method so callers can type-assert io.Seeker exactly like they would
// against an *os.File from the local backend.
type seekReader struct {
	*bytes.Reader
}

func (s *seekReader) Close() error { return nil }

func (b *Backend) Size(_ context.Context, name string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf, ok := b.data[name]
	if !ok {
		return 0, errNotFound
	}
	return int64(len(buf)), nil
}

func (b *Backend) List(_ context.Context, prefix string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var names []string
	for name := range b.data {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (b *Backend) Remove(_ context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, name)
	return nil
}

func (b *Backend) Rename(_ context.Context, oldName, newName string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf, ok := b.data[oldName]
	if !ok {
		return errNotFound
	}
	b.data[newName] = buf
	delete(b.data, oldName)
	return nil
}

func (b *Backend) Close() error { return nil }
