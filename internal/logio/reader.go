package logio

import (
	"context"
	"io"

	"github.com/arnegard/netbase/internal/backend"
	"github.com/arnegard/netbase/internal/buf"
	"github.com/arnegard/netbase/internal/debug"
	"github.com/arnegard/netbase/internal/errors"
	"github.com/arnegard/netbase/internal/record"
)

// Reader reads records back out of a log written by Writer, rolling
// forward across files as it goes and recovering from corrupted blocks
// the way internal/record does. It is not safe for concurrent use.
type Reader struct {
	store         backend.Store
	fileBase      string
	blockSize     int
	blocksPerFile uint32

	rec *record.Reader
	in  *buf.Buffer
	r   io.ReadCloser

	fileNum       uint32
	firstBlockNum uint32
	skippedBlocks uint32 // blocks of the current file passed over by Seek
	numErrors     int
}

// NewReader returns a Reader positioned at the start of the log. Call
// Seek first to resume from a remembered LogPos.
func NewReader(store backend.Store, fileBase string, blockSize int, blocksPerFile uint32) *Reader {
	if blockSize <= 0 {
		blockSize = record.DefaultBlockSize
	}
	if blocksPerFile == 0 {
		blocksPerFile = 1
	}
	return &Reader{
		store:         store,
		fileBase:      fileBase,
		blockSize:     blockSize,
		blocksPerFile: blocksPerFile,
		rec:           record.NewReader(blockSize),
		in:            buf.New(blockSize),
	}
}

// NumErrors returns the number of corrupted or skipped fragments
// encountered so far.
func (r *Reader) NumErrors() int { return r.numErrors }

func resolveFile(ctx context.Context, store backend.Store, fileBase string, fileNum uint32) (firstBlockNum uint32, name string, err error) {
	names, err := store.List(ctx, fileBase+"_")
	if err != nil {
		return 0, "", errors.Wrap(err, "logio: list")
	}
	for _, f := range listLogFiles(names, fileBase) {
		if f.fileNum == fileNum {
			return f.firstBlockNum, f.name, nil
		}
	}
	return 0, "", errNoSuchFile
}

func (r *Reader) openFile(ctx context.Context, fileNum uint32) error {
	firstBlockNum, name, err := resolveFile(ctx, r.store, r.fileBase, fileNum)
	if err != nil {
		return err
	}
	if r.r != nil {
		_ = r.r.Close()
	}
	rc, err := r.store.OpenRead(ctx, name)
	if err != nil {
		return errors.Wrap(err, "logio: open read")
	}
	r.r = rc
	r.fileNum = fileNum
	r.firstBlockNum = firstBlockNum
	r.skippedBlocks = 0
	r.in.Clear()
	r.rec.Clear()
	debug.Log("logio", "reader opened file %d (first block %d)", fileNum, firstBlockNum)
	return nil
}

// fillInput tops up r.in to a full block from the current file, opening
// the first file lazily and rolling to the next one once the current
// file's full share of blocksPerFile blocks has been read. It reports
// whether r.in now holds at least a full block.
func (r *Reader) fillInput(ctx context.Context) (bool, error) {
	if r.in.Size() >= r.blockSize {
		return true, nil
	}
	if r.r == nil {
		if err := r.openFile(ctx, 1); err != nil {
			if err == errNoSuchFile {
				return false, nil
			}
			return false, err
		}
	}

	need := r.blockSize - r.in.Size()
	chunk := make([]byte, need)
	n, err := io.ReadFull(r.r, chunk)
	if n > 0 {
		r.in.Write(chunk[:n])
	}
	switch {
	case err == nil:
		return true, nil
	case err == io.ErrUnexpectedEOF || err == io.EOF:
		if uint32(r.rec.BlocksRead())+r.skippedBlocks < r.blocksPerFile {
			// The writer hasn't finished this block yet; try again later.
			return false, nil
		}
		if rollErr := r.openFile(ctx, r.fileNum+1); rollErr != nil {
			if rollErr == errNoSuchFile {
				return false, nil
			}
			return false, rollErr
		}
		return r.fillInput(ctx)
	default:
		return false, errors.Wrap(err, "logio: read")
	}
}

// GetNextRecord reads the next record into out. It returns false (with a
// nil error) when the log has no more complete records right now — the
// writer may simply be behind, so the caller should retry later rather
// than treat this as end of stream.
func (r *Reader) GetNextRecord(ctx context.Context, out *buf.Buffer) (bool, error) {
	for {
		result, skipped := r.rec.ReadRecord(r.in, out, 0)
		r.numErrors += skipped
		switch result {
		case record.ReadOK:
			return true, nil
		case record.ReadNoData:
			// The loaded block is used up; load the next one, if written.
			full, err := r.fillInput(ctx)
			if err != nil {
				return false, err
			}
			if !full {
				return false, nil
			}
		default:
			r.numErrors++
		}
	}
}

// Tell returns the position of the record the next GetNextRecord call
// will return.
func (r *Reader) Tell() LogPos {
	if r.fileNum == 0 {
		return LogPos{}
	}
	var blockOffset uint32
	if blocksRead := r.rec.BlocksRead(); blocksRead > 0 {
		blockOffset = uint32(blocksRead - 1)
	}
	return LogPos{
		FileNum:   r.fileNum,
		BlockNum:  r.firstBlockNum + r.skippedBlocks + blockOffset,
		RecordNum: uint32(r.rec.RecordIndexInBlock()),
	}
}

// Seek repositions the reader so the next GetNextRecord call returns the
// record at pos.
func (r *Reader) Seek(ctx context.Context, pos LogPos) error {
	if pos.IsNull() {
		return errors.New("logio: cannot seek to the null position")
	}
	if err := r.openFile(ctx, pos.FileNum); err != nil {
		return err
	}

	toSkip := int64(pos.BlockNum-r.firstBlockNum) * int64(r.blockSize)
	if seeker, ok := r.r.(io.Seeker); ok {
		if _, err := seeker.Seek(toSkip, io.SeekStart); err != nil {
			return errors.Wrap(err, "logio: seek")
		}
	} else if toSkip > 0 {
		if _, err := io.CopyN(io.Discard, r.r, toSkip); err != nil {
			return errors.Wrap(err, "logio: seek (discard)")
		}
	}
	r.in.Clear()
	r.rec.Clear()
	r.skippedBlocks = pos.BlockNum - r.firstBlockNum

	for i := uint32(0); i < pos.RecordNum; {
		result, _ := r.rec.ReadRecord(r.in, nil, 0)
		switch result {
		case record.ReadOK:
			i++
		case record.ReadNoData:
			full, err := r.fillInput(ctx)
			if err != nil {
				return err
			}
			if !full {
				return errors.New("logio: seek target record not yet written")
			}
		default:
			return errors.Errorf("logio: seek: unexpected %v skipping to record %d", result, pos.RecordNum)
		}
	}
	return nil
}

// Close releases the currently open file, if any.
func (r *Reader) Close() error {
	if r.r == nil {
		return nil
	}
	return errors.Wrap(r.r.Close(), "logio: close")
}
