// Package config holds the plain option structs every component in this
// module is constructed with. There is no single global config object and
// no env/flag parsing here — that's the CLI layer's job (cmd/netbasectl);
// this package only defines the defaults and the struct shapes that flow
// into buf.New, record.NewWriter, logio.NewWriter, checkpoint.NewWriter,
// statekeeper.New, and httpmsg.ParserConfig.
package config

import (
	"time"

	"github.com/arnegard/netbase/internal/httpmsg"
)

// Buffer holds internal/buf sizing.
type Buffer struct {
	// BlockSize is the allocation unit for new backing blocks. Zero
	// picks buf.DefaultBlockSize.
	BlockSize int
}

// DefaultBuffer returns the zero-value Buffer, which tells buf.New to
// use its own built-in default.
func DefaultBuffer() Buffer { return Buffer{} }

// Record holds internal/record sizing and compression knobs.
type Record struct {
	// BlockSize is the framer's staging block size. Zero picks
	// record.DefaultBlockSize.
	BlockSize int
	// Deflate enables per-record zlib compression before framing.
	Deflate bool
	// DumpablePercent controls how full a staging block must get before
	// it's flushed as a "dumpable" block rather than waiting for a
	// caller-forced flush. Zero picks the framer's own 0.9 default.
	DumpablePercent float64
}

// DefaultRecord returns Record with compression off and default sizing.
func DefaultRecord() Record {
	return Record{}
}

// Log holds internal/logio rolling-file sizing.
type Log struct {
	Record
	// BlocksPerFile is how many record blocks a log file holds before
	// the writer rolls to the next sequence number.
	BlocksPerFile uint32
}

// DefaultLog returns a Log with a 1024-block file size, matching the
// rolling cadence the teacher's own log rotation settles on for its
// append-only metadata files.
func DefaultLog() Log {
	return Log{BlocksPerFile: 1024}
}

// Checkpoint holds internal/checkpoint sizing and retention.
type Checkpoint struct {
	BlockSize int
	// KeepN is how many most-recent checkpoint files CleanOld/CleanOldCheckpoints
	// retain; older ones are removed.
	KeepN int
}

// DefaultCheckpoint keeps the 3 most recent checkpoint files.
func DefaultCheckpoint() Checkpoint {
	return Checkpoint{KeepN: 3}
}

// StateKeeper holds internal/statekeeper sizing and flush cadence.
type StateKeeper struct {
	Checkpoint
	Log
	// QueueCapacity is not passed to statekeeper.New, whose writer
	// channel has a fixed capacity of 1000 pending operations;
	// SetValue/DeleteValue block once that is full.
	QueueCapacity int
	// FlushInterval is how often ExpireTimeoutedKeys should be driven by
	// a caller-owned ticker; the state keeper itself does not start one.
	FlushInterval time.Duration
}

// DefaultStateKeeper returns a StateKeeper with QueueCapacity 256 and a
// 30-second expiry sweep interval.
func DefaultStateKeeper() StateKeeper {
	return StateKeeper{
		Checkpoint:    DefaultCheckpoint(),
		Log:           DefaultLog(),
		QueueCapacity: 256,
		FlushInterval: 30 * time.Second,
	}
}

// HTTPParser mirrors httpmsg.ParserConfig's fields so the CLI/config
// layer can build one without importing httpmsg's error-severity type
// for the simple fields callers actually want to tune.
type HTTPParser struct {
	MaxHeaderSize int
	MaxBodySize   int64
	MaxChunkSize  int64
	MaxNumChunks  int64
	// CompatGzipFallback mirrors httpmsg.ParserConfig.CompatGzipFallback.
	CompatGzipFallback bool
}

// DefaultHTTPParser mirrors httpmsg.DefaultParserConfig's numeric limits.
func DefaultHTTPParser() HTTPParser {
	return HTTPParser{
		MaxHeaderSize:      16384,
		MaxBodySize:        4 << 20,
		MaxChunkSize:       1 << 20,
		MaxNumChunks:       -1,
		CompatGzipFallback: true,
	}
}

// ToParserConfig builds an httpmsg.ParserConfig from h, filling in the
// severity-ranked fields httpmsg defines but this package's plain
// struct doesn't expose (AcceptNoContentLength, WorstAcceptedHeaderError)
// with httpmsg's own defaults.
func (h HTTPParser) ToParserConfig() httpmsg.ParserConfig {
	cfg := httpmsg.DefaultParserConfig()
	cfg.MaxHeaderSize = h.MaxHeaderSize
	cfg.MaxBodySize = h.MaxBodySize
	cfg.MaxChunkSize = h.MaxChunkSize
	cfg.MaxNumChunks = h.MaxNumChunks
	cfg.CompatGzipFallback = h.CompatGzipFallback
	return cfg
}
