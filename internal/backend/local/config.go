// Package local implements a backend.Store backed by a plain local
// directory, one file per name. Create writes to the named file directly
// (no temp file, no fsync); only Rename replaces a name atomically.
package local

import "golang.org/x/time/rate"

// Config holds the information needed to open a local directory as a
// backend.Store.
type Config struct {
	// Path is the directory all names are resolved relative to.
	Path string

	// Connections bounds the number of files this backend keeps open at
	// once (for Create, OpenAppend and OpenRead alike). Zero means the
	// default of 2.
	Connections uint

	// UploadLimiter, if set, throttles bytes written through Create and
	// OpenAppend, the same way the teacher's transfer limiter throttles
	// backend uploads. Nil means unlimited.
	UploadLimiter *rate.Limiter
}

// NewConfig returns a Config with the teacher's default connection limit.
func NewConfig(path string) Config {
	return Config{Path: path, Connections: 2}
}
