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

// Writer appends records to a rolling sequence of numbered files on a
// backend.Store. It is not safe for concurrent use.
type Writer struct {
	store         backend.Store
	fileBase      string
	blockSize     int
	blocksPerFile uint32
	deflate       bool

	rec *record.Writer
	w   io.WriteCloser

	fileNum       uint32
	firstBlockNum uint32
	blockNum      uint32
}

// NewWriter returns a Writer that has not yet been Initialized.
// dumpablePercent is forwarded to the underlying record.Writer; 0 picks
// its default (0.9). deflate compresses every record with zlib before
// framing it.
func NewWriter(store backend.Store, fileBase string, blockSize int, blocksPerFile uint32, deflate bool, dumpablePercent float64) *Writer {
	if blockSize <= 0 {
		blockSize = record.DefaultBlockSize
	}
	if blocksPerFile == 0 {
		blocksPerFile = 1
	}
	return &Writer{
		store:         store,
		fileBase:      fileBase,
		blockSize:     blockSize,
		blocksPerFile: blocksPerFile,
		deflate:       deflate,
		rec:           record.NewWriter(blockSize, deflate, dumpablePercent),
	}
}

// Initialize opens (or creates) the log's current file, resuming from
// wherever the last run left off. It must be called once before
// WriteRecord.
func (w *Writer) Initialize(ctx context.Context) error {
	names, err := w.store.List(ctx, w.fileBase+"_")
	if err != nil {
		return errors.Wrap(err, "logio: list")
	}
	files := listLogFiles(names, w.fileBase)

	if len(files) == 0 {
		w.fileNum = 1
		w.firstBlockNum = 0
		w.blockNum = 0
		out, err := w.store.Create(ctx, fileName(w.fileBase, w.fileNum, w.firstBlockNum))
		if err != nil {
			return errors.Wrap(err, "logio: create first file")
		}
		w.w = out
		debug.Log("logio", "initialized fresh log %q", w.fileBase)
		return nil
	}

	last := files[len(files)-1]
	size, err := w.store.Size(ctx, last.name)
	if err != nil {
		return errors.Wrap(err, "logio: size")
	}
	if size%int64(w.blockSize) != 0 {
		return errors.Errorf("logio: %q has a partial trailing block (size %d, block size %d)", last.name, size, w.blockSize)
	}
	completeBlocks := uint32(size / int64(w.blockSize))

	w.fileNum = last.fileNum
	w.firstBlockNum = last.firstBlockNum
	w.blockNum = last.firstBlockNum + completeBlocks

	if completeBlocks > 0 {
		crc, err := readLastBlockCRC(ctx, w.store, last.name, w.blockSize, completeBlocks)
		if err != nil {
			return err
		}
		w.rec.SetPrevBlockCRC(crc)
	}

	out, err := w.store.OpenAppend(ctx, last.name)
	if err != nil {
		return errors.Wrap(err, "logio: open append")
	}
	w.w = out
	debug.Log("logio", "resumed log %q at file %d, block %d", w.fileBase, w.fileNum, w.blockNum)
	return nil
}

// readLastBlockCRC reads the trailer CRC of the last complete block of
// name (the (completeBlocks-1)th block), so a resumed writer can chain
// its next block's prev_block_crc correctly.
func readLastBlockCRC(ctx context.Context, store backend.Store, name string, blockSize int, completeBlocks uint32) (int32, error) {
	rc, err := store.OpenRead(ctx, name)
	if err != nil {
		return 0, errors.Wrap(err, "logio: open for crc recovery")
	}
	defer rc.Close()

	offset := int64(completeBlocks-1)*int64(blockSize) + int64(blockSize) - 4
	if seeker, ok := rc.(io.Seeker); ok {
		if _, err := seeker.Seek(offset, io.SeekStart); err != nil {
			return 0, errors.Wrap(err, "logio: seek for crc recovery")
		}
	} else {
		if _, err := io.CopyN(io.Discard, rc, offset); err != nil {
			return 0, errors.Wrap(err, "logio: skip for crc recovery")
		}
	}

	tail := make([]byte, 4)
	if _, err := io.ReadFull(rc, tail); err != nil {
		return 0, errors.Wrap(err, "logio: read trailer crc")
	}
	b := buf.New(4)
	b.Write(tail)
	crc, _ := b.ReadInt32BE()
	return crc, nil
}

// WriteRecord stages data as a new record and flushes any blocks it
// completes to the backend, rolling to a new file when the current one
// reaches blocksPerFile blocks.
func (w *Writer) WriteRecord(ctx context.Context, data []byte) error {
	out := buf.New(w.blockSize)
	wroteBlock, err := w.rec.AppendRecord(data, out)
	if err != nil {
		return errors.Wrap(err, "logio: append record")
	}
	if !wroteBlock {
		return nil
	}
	return w.flushBlocks(ctx, out)
}

// Flush forces any partially-filled staged block to disk, padding it out
// to blockSize. Without a Flush (or Close), records staged since the last
// completed block are not yet durable.
func (w *Writer) Flush(ctx context.Context) error {
	out := buf.New(w.blockSize)
	w.rec.FinalizeContent(out)
	return w.flushBlocks(ctx, out)
}

func (w *Writer) flushBlocks(ctx context.Context, out *buf.Buffer) error {
	chunk := make([]byte, w.blockSize)
	for out.Size() >= w.blockSize {
		out.Read(chunk)
		if _, err := w.w.Write(chunk); err != nil {
			return errors.Wrap(err, "logio: write block")
		}
		w.blockNum++
		if w.blockNum-w.firstBlockNum >= w.blocksPerFile {
			if err := w.rollFile(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *Writer) rollFile(ctx context.Context) error {
	if err := w.w.Close(); err != nil {
		return errors.Wrap(err, "logio: close rolled file")
	}
	w.fileNum++
	w.firstBlockNum = w.blockNum
	w.rec.Clear()

	out, err := w.store.Create(ctx, fileName(w.fileBase, w.fileNum, w.firstBlockNum))
	if err != nil {
		return errors.Wrap(err, "logio: create rolled file")
	}
	w.w = out
	debug.Log("logio", "rolled to file %d at block %d", w.fileNum, w.firstBlockNum)
	return nil
}

// Tell returns the position that the next WriteRecord call will write at.
func (w *Writer) Tell() LogPos {
	return LogPos{
		FileNum:   w.fileNum,
		BlockNum:  w.blockNum,
		RecordNum: uint32(w.rec.PendingRecordCount()),
	}
}

// Close flushes any staged content and closes the current file.
func (w *Writer) Close(ctx context.Context) error {
	if err := w.Flush(ctx); err != nil {
		return err
	}
	return errors.Wrap(w.w.Close(), "logio: close")
}
