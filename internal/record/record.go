// Package record frames an opaque byte stream into length-delimited
// records packed into fixed-size, CRC-chained blocks, so that a block
// damaged in storage can be detected and skipped without losing the rest
// of the stream. It is the unit internal/logio rolls across numbered
// files.
package record

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/crc32"

	"github.com/arnegard/netbase/internal/buf"
	"github.com/arnegard/netbase/internal/errors"
)

// Fragment flags, packed into the first byte of a fragment header.
const (
	FlagHasCont  = 1 << 0
	FlagIsZipped = 1 << 1
	FlagIsFirst  = 1 << 2
)

const (
	// DefaultBlockSize is the block size used when callers don't pick one.
	DefaultBlockSize = 65536
	// MaxBlockSize is the largest block size supported: content size and
	// fragment length both travel in 24 bits on the wire.
	MaxBlockSize = 0xFFFFFF

	blockTrailerSize   = 3 * 4 // content_size, prev_block_crc, crc
	fragmentHeaderSize = 4     // flags byte + 24-bit length
)

// ReadResult reports the outcome of a single Reader.ReadRecord call.
type ReadResult int

const (
	ReadOK ReadResult = iota
	ReadNoData
	ReadCRCCorrupted
	ReadZipCorrupted
	ReadCRCBlockBroken
)

func (r ReadResult) String() string {
	switch r {
	case ReadOK:
		return "READ_OK"
	case ReadNoData:
		return "READ_NO_DATA"
	case ReadCRCCorrupted:
		return "READ_CRC_CORRUPTED"
	case ReadZipCorrupted:
		return "READ_ZIP_CORRUPTED"
	case ReadCRCBlockBroken:
		return "READ_CRC_BLOCK_BROKEN"
	default:
		return "UNKNOWN"
	}
}

// blockCRC computes the CRC-32 (IEEE, zlib-compatible) of everything
// currently in b, without consuming it.
func blockCRC(b *buf.Buffer) int32 {
	var crc uint32
	for _, v := range b.IOVecs(-1) {
		crc = crc32.Update(crc, crc32.IEEETable, v)
	}
	return int32(crc)
}

// Writer packs records into block-sized, CRC-chained fragments.
//
// A Writer is not safe for concurrent use.
type Writer struct {
	blockSize    int
	dumpableSize int
	deflate      bool

	content      *buf.Buffer
	recordCount  int
	prevBlockCRC int32
}

// NewWriter returns a Writer that emits blocks of blockSize bytes. When
// deflate is true, each record is zlib-compressed before framing.
// dumpablePercent (0, 1] controls how full the staging block must get
// before AppendRecord proactively flushes it; the teacher's default is
// 0.9.
func NewWriter(blockSize int, deflate bool, dumpablePercent float64) *Writer {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	if dumpablePercent <= 0 {
		dumpablePercent = 0.9
	}
	return &Writer{
		blockSize:    blockSize,
		dumpableSize: int(dumpablePercent * float64(blockSize-blockTrailerSize)),
		deflate:      deflate,
		content:      buf.New(blockSize),
	}
}

// PendingRecordCount returns the number of records staged but not yet
// flushed to a block.
func (w *Writer) PendingRecordCount() int { return w.recordCount }

// Leftover returns the number of bytes currently staged.
func (w *Writer) Leftover() int { return w.content.Size() }

// Clear resets the block chain, as if the writer had just been opened
// against an empty file. It does not touch any already-staged content.
func (w *Writer) Clear() { w.prevBlockCRC = 0 }

// SetPrevBlockCRC seeds the block chain as if crc were the trailer CRC of
// the most recently written block, so the next FinalizeContent call chains
// correctly. Used by internal/logio when resuming a file that already has
// complete blocks on disk.
func (w *Writer) SetPrevBlockCRC(crc int32) { w.prevBlockCRC = crc }

// AppendRecord stages data as a new record, splitting it across fragments
// and blocks as needed, and appends any block(s) this completed to out.
// It reports whether at least one block was appended to out.
func (w *Writer) AppendRecord(data []byte, out *buf.Buffer) (bool, error) {
	if !w.deflate {
		return w.appendFragments(data, out, false), nil
	}

	var zbuf bytes.Buffer
	zw := zlib.NewWriter(&zbuf)
	if _, err := zw.Write(data); err != nil {
		return false, errors.Wrap(err, "zlib deflate")
	}
	if err := zw.Close(); err != nil {
		return false, errors.Wrap(err, "zlib deflate")
	}
	return w.appendFragments(zbuf.Bytes(), out, true), nil
}

func (w *Writer) appendFragments(p []byte, out *buf.Buffer, isZipped bool) bool {
	wroteBlock := false
	first := true
	for {
		available := w.blockSize - blockTrailerSize - fragmentHeaderSize - w.content.Size()
		if available <= 0 {
			panic(errors.Fatal("record: block too small to hold a fragment header"))
		}

		var flag byte
		if first {
			flag |= FlagIsFirst
		}
		if isZipped {
			flag |= FlagIsZipped
		}

		if len(p) <= available {
			w.content.WriteUint8(flag)
			w.content.WriteUint24BE(uint32(len(p)))
			w.content.Write(p)
			w.recordCount++
			break
		}

		w.content.WriteUint8(flag | FlagHasCont)
		w.content.WriteUint24BE(uint32(available))
		w.content.Write(p[:available])
		w.recordCount++
		p = p[available:]
		first = false
		w.FinalizeContent(out)
		wroteBlock = true
	}

	if w.content.Size() > w.dumpableSize {
		w.FinalizeContent(out)
		wroteBlock = true
	}
	return wroteBlock
}

// FinalizeContent flushes any partial block, zero-padding it out to
// blockSize and appending the trailer, and moves it to out.
func (w *Writer) FinalizeContent(out *buf.Buffer) {
	if w.content.IsEmpty() {
		return
	}

	contentSize := int32(w.content.Size())
	paddingSize := int32(w.blockSize) - contentSize - blockTrailerSize
	if paddingSize < 0 {
		panic(errors.Fatal("record: staged content overflowed block size"))
	}
	if paddingSize > 0 {
		w.content.Write(make([]byte, paddingSize))
	}
	w.content.WriteInt32BE(contentSize)
	w.content.WriteInt32BE(w.prevBlockCRC)

	crc := blockCRC(w.content)
	w.content.WriteInt32BE(crc)

	out.AppendStream(w.content, -1)
	w.prevBlockCRC = crc
	w.recordCount = 0
}

// Reader reverses Writer: it verifies blocks and reassembles records.
//
// A Reader is not safe for concurrent use.
type Reader struct {
	blockSize int

	content       *buf.Buffer // verified fragments from the current block, not yet consumed
	recordContent *buf.Buffer // fragments of the record currently being assembled

	prevBlockCRC int32
	skipRecord   bool

	blocksRead         int
	recordIndexInBlock int
}

// NewReader returns a Reader for blocks of blockSize bytes. It must match
// the block size the corresponding Writer used.
func NewReader(blockSize int) *Reader {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &Reader{
		blockSize:     blockSize,
		content:       buf.New(blockSize),
		recordContent: buf.New(blockSize),
	}
}

// Clear resets the reader's block chain state, as after a seek.
func (r *Reader) Clear() {
	r.content.Clear()
	r.recordContent.Clear()
	r.prevBlockCRC = 0
	r.skipRecord = false
	r.blocksRead = 0
	r.recordIndexInBlock = 0
}

// BlocksRead returns the number of blocks successfully loaded from the
// input stream so far.
func (r *Reader) BlocksRead() int { return r.blocksRead }

// RecordIndexInBlock returns how many fragment headers have been consumed
// from the block currently loaded — one per Writer.AppendRecord call that
// started or continued a record in this block, mirroring Writer's own
// per-block fragment count. It resets to 0 every time a new block is
// fetched from the input stream. internal/logio uses this, together with
// BlocksRead, to recover a record's position for Seek.
func (r *Reader) RecordIndexInBlock() int { return r.recordIndexInBlock }

func (r *Reader) readNextBlock(in *buf.Buffer) ReadResult {
	if in.Size() < r.blockSize {
		return ReadNoData
	}

	temp := buf.New(r.blockSize)
	temp.AppendStream(in, r.blockSize-blockTrailerSize)
	contentSize, _ := in.ReadInt32BE()
	prevCRC, _ := in.ReadInt32BE()
	crc, _ := in.ReadInt32BE()

	temp.WriteInt32BE(contentSize)
	temp.WriteInt32BE(prevCRC)
	expected := blockCRC(temp)

	if expected != crc || contentSize < 0 || contentSize > int32(r.blockSize)-blockTrailerSize {
		return ReadCRCCorrupted
	}

	result := ReadOK
	if prevCRC != 0 && r.prevBlockCRC != 0 && prevCRC != r.prevBlockCRC {
		result = ReadCRCBlockBroken
	}
	r.prevBlockCRC = crc
	r.content.AppendStream(temp, int(contentSize))
	r.blocksRead++
	r.recordIndexInBlock = 0
	return result
}

func (r *Reader) skipFragment() {
	flag, _ := r.content.ReadUint8()
	length, _ := r.content.ReadUint24BE()
	r.content.Skip(int(length))
	r.skipRecord = flag&FlagHasCont != 0
}

// ReadRecord reads the next record from in into out, rolling forward
// through blocks as needed. If out is nil, the record is consumed and
// discarded (used when seeking). numSkipped accumulates the count of
// fragments skipped while recovering from corruption; ReadRecord stops
// early once it reaches maxSkips skips (0 means unlimited).
func (r *Reader) ReadRecord(in *buf.Buffer, out *buf.Buffer, maxSkips int) (ReadResult, int) {
	numSkipped := 0
	for {
		if r.content.IsEmpty() {
			result := r.readNextBlock(in)
			if result == ReadCRCBlockBroken && !r.recordContent.IsEmpty() {
				r.skipRecord = true
				result = ReadOK
			}
			if result != ReadOK {
				return result, numSkipped
			}
		}

		for r.skipRecord && !r.content.IsEmpty() {
			numSkipped++
			r.skipFragment()
			if maxSkips > 0 && numSkipped >= maxSkips {
				return ReadOK, numSkipped
			}
		}
		if r.content.IsEmpty() {
			continue
		}

		flag, _ := r.content.ReadUint8()
		length, _ := r.content.ReadUint24BE()
		r.recordIndexInBlock++

		if flag&FlagIsFirst != 0 && !r.recordContent.IsEmpty() {
			numSkipped++
			r.content.Skip(int(length))
			r.recordContent.Clear()
			return ReadCRCCorrupted, numSkipped
		}

		if out != nil && r.recordContent.IsEmpty() && flag&FlagIsFirst == 0 {
			r.content.Skip(int(length))
			numSkipped++
			if maxSkips > 0 && numSkipped >= maxSkips {
				return ReadOK, numSkipped
			}
			continue
		}

		if out != nil {
			r.recordContent.AppendStream(r.content, int(length))
		} else {
			r.content.Skip(int(length))
		}

		if flag&FlagHasCont != 0 {
			continue
		}

		if out == nil {
			r.recordContent.Clear()
			return ReadOK, numSkipped
		}

		if flag&FlagIsZipped != 0 {
			payload := r.recordContent.ReadAllString()
			r.recordContent.Clear()
			zr, err := zlib.NewReader(bytes.NewReader([]byte(payload)))
			if err != nil {
				return ReadZipCorrupted, numSkipped
			}
			data, err := io.ReadAll(zr)
			_ = zr.Close()
			if err != nil {
				return ReadZipCorrupted, numSkipped
			}
			out.Write(data)
			return ReadOK, numSkipped
		}

		out.AppendStream(r.recordContent, -1)
		return ReadOK, numSkipped
	}
}
