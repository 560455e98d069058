package checkpoint

import (
	"context"
	"io"

	"github.com/arnegard/netbase/internal/backend"
	"github.com/arnegard/netbase/internal/buf"
	"github.com/arnegard/netbase/internal/debug"
	"github.com/arnegard/netbase/internal/errors"
	"github.com/arnegard/netbase/internal/record"
)

// Writer writes one checkpoint file at a time. It is not safe for
// concurrent use, and only one checkpoint may be in progress on a
// Writer at once: call Begin, any number of Add calls with unique
// names, then End (or Clear to abort).
type Writer struct {
	store     backend.Store
	fileBase  string
	blockSize int

	w      io.WriteCloser
	rec    *record.Writer
	staged *buf.Buffer
	names  map[string]bool
	seq    int32
}

// NewWriter returns a Writer that has no checkpoint in progress.
func NewWriter(store backend.Store, fileBase string, blockSize int) *Writer {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &Writer{store: store, fileBase: fileBase, blockSize: blockSize}
}

// Begin starts a new checkpoint file, numbered one past the highest
// existing sequence number for this fileBase (0 if there are none yet),
// and returns that sequence number.
func (w *Writer) Begin(ctx context.Context) (int32, error) {
	files, err := listCheckpointFiles(ctx, w.store, w.fileBase)
	if err != nil {
		return -1, err
	}
	seq := int32(0)
	if len(files) > 0 {
		last, _ := parseSeq(w.fileBase, files[len(files)-1])
		seq = last + 1
	}

	out, err := w.store.Create(ctx, fileName(w.fileBase, seq))
	if err != nil {
		return -1, errors.Wrap(err, "checkpoint: create")
	}
	w.w = out
	w.seq = seq
	w.rec = record.NewWriter(w.blockSize, false, 0)
	w.staged = buf.New(w.blockSize)
	w.names = make(map[string]bool)

	if _, err := w.rec.AppendRecord([]byte(beginSentinel), w.staged); err != nil {
		w.Clear()
		return -1, errors.Wrap(err, "checkpoint: append begin marker")
	}
	debug.Log("checkpoint", "began checkpoint %d for %q", seq, w.fileBase)
	return seq, nil
}

// Add appends one name/value pair to the checkpoint in progress. Every
// name in a single checkpoint must be unique.
func (w *Writer) Add(ctx context.Context, name, value string) error {
	if w.rec == nil {
		return errors.New("checkpoint: Add called with no checkpoint in progress")
	}
	if w.names[name] {
		return errors.Errorf("checkpoint: duplicate name %q", name)
	}
	w.names[name] = true

	wroteName, err := w.rec.AppendRecord([]byte(name), w.staged)
	if err != nil {
		return errors.Wrap(err, "checkpoint: append name")
	}
	wroteValue, err := w.rec.AppendRecord([]byte(value), w.staged)
	if err != nil {
		return errors.Wrap(err, "checkpoint: append value")
	}
	if wroteName || wroteValue {
		return w.flush()
	}
	return nil
}

func (w *Writer) flush() error {
	if w.staged.IsEmpty() {
		return nil
	}
	if w.staged.Size()%w.blockSize != 0 {
		panic(errors.Fatal("checkpoint: write buffer holds a partial block"))
	}
	data := make([]byte, w.staged.Size())
	w.staged.Read(data)
	if _, err := w.w.Write(data); err != nil {
		return errors.Wrap(err, "checkpoint: write")
	}
	return nil
}

// End finalizes and closes the checkpoint in progress.
func (w *Writer) End(ctx context.Context) error {
	if w.rec == nil {
		return errors.New("checkpoint: End called with no checkpoint in progress")
	}
	if _, err := w.rec.AppendRecord([]byte(endSentinel), w.staged); err != nil {
		w.Clear()
		return errors.Wrap(err, "checkpoint: append end marker")
	}
	w.rec.FinalizeContent(w.staged)
	if err := w.flush(); err != nil {
		w.Clear()
		return err
	}

	seq, names := w.seq, len(w.names)
	err := errors.Wrap(w.w.Close(), "checkpoint: close")
	w.Clear()
	if err != nil {
		return err
	}
	debug.Log("checkpoint", "closed checkpoint %d for %q with %d names", seq, w.fileBase, names)
	return nil
}

// Clear abandons any checkpoint in progress, closing (but not removing)
// its file. The partial file is left for CleanOldCheckpoints or a future
// ReadCheckpoint pass to skip over: it is missing the end marker, so
// ReadFile will reject it as corrupted.
func (w *Writer) Clear() {
	if w.w != nil {
		_ = w.w.Close()
	}
	w.w = nil
	w.rec = nil
	w.staged = nil
	w.names = nil
}

// CleanOld removes every checkpoint file for this Writer's fileBase
// except the numToKeep most recent ones.
func (w *Writer) CleanOld(ctx context.Context, numToKeep int) error {
	return CleanOldCheckpoints(ctx, w.store, w.fileBase, numToKeep)
}
