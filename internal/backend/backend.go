// Package backend defines the storage seam that internal/logio and
// internal/checkpoint are built against: a flat namespace of named,
// append-only byte streams. The log writer/reader and checkpoint
// writer/reader never talk to a filesystem directly — they only ever see
// a Store, which is implemented by the local and SFTP backends (and, for
// tests, an in-memory one).
package backend

import (
	"context"
	"io"
)

// Store is a flat namespace of named byte streams. Implementations must be
// safe for concurrent use by multiple goroutines: the log writer and a log
// reader commonly run in different goroutines against the same backend
// instance, though never against the same name concurrently for writes.
type Store interface {
	// Create opens name for writing, truncating any previous content. The
	// parent directory is created if it does not exist.
	Create(ctx context.Context, name string) (io.WriteCloser, error)

	// OpenAppend opens an existing name for writing at its current end of
	// file. Used when a writer resumes a file that was not yet rolled.
	OpenAppend(ctx context.Context, name string) (io.WriteCloser, error)

	// OpenRead opens name for reading from the start. The returned
	// ReadCloser additionally implements io.Seeker when the backend can
	// seek cheaply (local, SFTP); callers fall back to discarding bytes
	// otherwise.
	OpenRead(ctx context.Context, name string) (io.ReadCloser, error)

	// Size returns the current size in bytes of name.
	Size(ctx context.Context, name string) (int64, error)

	// List returns the names present under prefix, in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)

	// Remove deletes name. It is not an error if name does not exist.
	Remove(ctx context.Context, name string) error

	// Rename atomically replaces newName with the content of oldName.
	Rename(ctx context.Context, oldName, newName string) error

	// IsNotExist reports whether err indicates a missing name.
	IsNotExist(err error) bool

	// Close releases any resources held by the backend (network
	// connections, file descriptors kept open for reuse).
	Close() error
}

// Connections returns the maximum number of concurrent operations a Store
// implementation permits, for backends that bound concurrency with a
// semaphore (see internal/backend/sema).
type Connections interface {
	Connections() uint
}
