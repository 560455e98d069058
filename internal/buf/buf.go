// Package buf implements a chunked byte buffer for passing data around
// without copying more than necessary. A Buffer is a deque of fixed-size
// blocks; reads retire bytes from the front block, writes grow the back
// block up to its capacity before a new block is allocated.
//
// A Buffer is not safe for concurrent use. It is safe to call only
// non-mutating methods from multiple goroutines at once, provided nothing
// else mutates the Buffer concurrently.
package buf

import (
	"bytes"
	"io"

	"github.com/arnegard/netbase/internal/errors"
)

// DefaultBlockSize is the block size used when none is given to New.
const DefaultBlockSize = 32 * 1024

type block struct {
	buf      []byte
	disposer func()
}

// Buffer is a finite ordered sequence of octets held in a chain of blocks.
type Buffer struct {
	blockSize int
	blocks    []block
	frontOff  int
	size      int
	writeSeq  int64 // monotonic count of bytes ever appended

	markers []markerState

	scratchOpen     bool
	scratchBlockIdx int
	scratchStart    int
}

type markerState struct {
	offset        int
	size          int
	writeSeqAtSet int64
}

// grow accounts for n bytes newly appended to the buffer, as opposed to
// bytes that become visible again after a MarkerRestore.
func (b *Buffer) grow(n int) {
	b.size += n
	b.writeSeq += int64(n)
}

// New returns an empty Buffer that allocates blocks of blockSize bytes. A
// blockSize of 0 uses DefaultBlockSize.
func New(blockSize int) *Buffer {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &Buffer{blockSize: blockSize}
}

// BlockSize returns the block size new blocks are allocated with.
func (b *Buffer) BlockSize() int { return b.blockSize }

// Size returns the number of unread bytes currently in the buffer.
func (b *Buffer) Size() int { return b.size }

// IsEmpty reports whether the buffer has no unread bytes.
func (b *Buffer) IsEmpty() bool { return b.size <= 0 }

// AppendRaw borrows data as a new block without copying it. If disposer is
// non-nil, it runs once the block is retired from the front of the buffer.
// Never AppendRaw the same slice into two Buffers; append to a temporary
// buffer and use AppendStream instead.
func (b *Buffer) AppendRaw(data []byte, disposer func()) {
	b.blocks = append(b.blocks, block{buf: data, disposer: disposer})
	b.grow(len(data))
}

// AppendBlock shares data as a new block, same as AppendRaw with no
// disposer. Go's garbage collector keeps the backing array alive for as
// long as any slice (including ones held by markers) references it, so
// there is no separate reference count to manage.
func (b *Buffer) AppendBlock(data []byte) {
	b.AppendRaw(data, nil)
}

// Write copies len(p) bytes into the buffer, growing the last block up to
// its capacity before allocating a new one sized to fit the remainder (or
// the default block size, whichever is larger). It always returns
// len(p), nil.
func (b *Buffer) Write(p []byte) (int, error) {
	remaining := p
	for len(remaining) > 0 {
		if len(b.blocks) == 0 || b.lastBlockFull() {
			cap := b.blockSize
			if len(remaining) > cap {
				cap = len(remaining)
			}
			b.blocks = append(b.blocks, block{buf: make([]byte, 0, cap)})
		}
		last := &b.blocks[len(b.blocks)-1]
		avail := cap(last.buf) - len(last.buf)
		n := avail
		if n > len(remaining) {
			n = len(remaining)
		}
		last.buf = append(last.buf, remaining[:n]...)
		remaining = remaining[n:]
		b.grow(n)
	}
	return len(p), nil
}

// WriteString is a convenience wrapper around Write.
func (b *Buffer) WriteString(s string) (int, error) {
	return b.Write([]byte(s))
}

func (b *Buffer) lastBlockFull() bool {
	last := &b.blocks[len(b.blocks)-1]
	return cap(last.buf) == len(last.buf)
}

// ReadNext hands out a read-only view of the next contiguous run of
// unread bytes (never crossing a block boundary) and retires it from the
// read side. If maxSize is positive, the view is capped at maxSize bytes.
// ReadNext returns false when the buffer is empty.
func (b *Buffer) ReadNext(maxSize int) ([]byte, bool) {
	if b.size <= 0 {
		return nil, false
	}
	front := &b.blocks[0]
	// While a marker is outstanding an exhausted front block cannot be
	// retired (the marker may rewind into it), so the next block is folded
	// into it instead; marker offsets into the front block stay valid.
	for len(b.markers) > 0 && b.frontOff >= len(front.buf) && len(b.blocks) > 1 {
		next := b.blocks[1]
		merged := make([]byte, 0, len(front.buf)+cap(next.buf))
		front.buf = append(append(merged, front.buf...), next.buf...)
		if next.disposer != nil {
			next.disposer()
		}
		b.blocks = append(b.blocks[:1], b.blocks[2:]...)
	}
	avail := len(front.buf) - b.frontOff
	n := avail
	if maxSize > 0 && maxSize < n {
		n = maxSize
	}
	p := front.buf[b.frontOff : b.frontOff+n]
	b.frontOff += n
	b.size -= n
	b.maybeDispose()
	return p, true
}

// maybeDispose drops fully-read blocks from the front of the deque. It
// never runs while a marker is outstanding, since a marker may still
// reference an earlier position.
func (b *Buffer) maybeDispose() {
	if len(b.markers) > 0 {
		return
	}
	for len(b.blocks) > 1 && b.frontOff >= len(b.blocks[0].buf) {
		if d := b.blocks[0].disposer; d != nil {
			d()
		}
		b.blocks = b.blocks[1:]
		b.frontOff = 0
	}
}

// Read copies up to len(p) unread bytes into p, possibly spanning several
// blocks, and returns the number of bytes copied. It returns io.EOF when
// the buffer is empty and p is not.
func (b *Buffer) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) && b.size > 0 {
		chunk, ok := b.ReadNext(len(p) - n)
		if !ok {
			break
		}
		n += copy(p[n:], chunk)
	}
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

// ReadAllString drains the buffer into a string.
func (b *Buffer) ReadAllString() string {
	var sb bytes.Buffer
	for b.size > 0 {
		chunk, ok := b.ReadNext(0)
		if !ok {
			break
		}
		sb.Write(chunk)
	}
	return sb.String()
}

// Peek copies up to len(p) unread bytes into p without advancing the read
// position.
func (b *Buffer) Peek(p []byte) int {
	b.MarkerSet()
	n, _ := b.Read(p)
	b.MarkerRestore()
	return n
}

// Skip advances the read position by up to length bytes and returns the
// number of bytes actually skipped.
func (b *Buffer) Skip(length int) int {
	skipped := 0
	for skipped < length && b.size > 0 {
		chunk, ok := b.ReadNext(length - skipped)
		if !ok {
			break
		}
		skipped += len(chunk)
	}
	return skipped
}

// Clear discards all content. It is a usage error to call Clear with a
// marker or scratch outstanding.
func (b *Buffer) Clear() {
	if len(b.markers) > 0 {
		panic(errors.Fatal("buf: Clear called with a marker outstanding"))
	}
	if b.scratchOpen {
		panic(errors.Fatal("buf: Clear called with scratch outstanding"))
	}
	b.blocks = nil
	b.frontOff = 0
	b.size = 0
}

// GetScratch reserves a writable span of size bytes inside the active
// write block and returns it. Exactly one scratch may be outstanding at a
// time; the caller must follow up with ConfirmScratch before any other
// mutating call.
func (b *Buffer) GetScratch(size int) ([]byte, error) {
	if b.scratchOpen {
		return nil, errors.New("buf: GetScratch called with a scratch already outstanding")
	}
	if len(b.blocks) == 0 || cap(b.blocks[len(b.blocks)-1].buf)-len(b.blocks[len(b.blocks)-1].buf) < size {
		cap := b.blockSize
		if size > cap {
			cap = size
		}
		b.blocks = append(b.blocks, block{buf: make([]byte, 0, cap)})
	}
	idx := len(b.blocks) - 1
	start := len(b.blocks[idx].buf)
	b.blocks[idx].buf = b.blocks[idx].buf[:start+size]

	b.scratchOpen = true
	b.scratchBlockIdx = idx
	b.scratchStart = start
	return b.blocks[idx].buf[start : start+size], nil
}

// ConfirmScratch commits used bytes of the span handed out by the last
// GetScratch call as readable data; any remainder is released.
func (b *Buffer) ConfirmScratch(used int) error {
	if !b.scratchOpen {
		return errors.New("buf: ConfirmScratch called without an outstanding scratch")
	}
	blk := &b.blocks[b.scratchBlockIdx]
	blk.buf = blk.buf[:b.scratchStart+used]
	b.grow(used)
	b.scratchOpen = false
	return nil
}

// MarkerSet pushes the current read position onto the marker stack.
// Markers form a stack; reads after a marker do not retire blocks, so
// MarkerRestore can always rewind to any still-open marker.
func (b *Buffer) MarkerSet() {
	b.markers = append(b.markers, markerState{
		offset:        b.frontOff,
		size:          b.size,
		writeSeqAtSet: b.writeSeq,
	})
}

// MarkerIsSet reports whether a marker is currently outstanding.
func (b *Buffer) MarkerIsSet() bool { return len(b.markers) > 0 }

// MarkerRestore pops the last marker and rewinds the read position to it.
// Size is not simply the snapshot taken at MarkerSet: if a Write or
// Append call grew the buffer while the marker was outstanding, those
// bytes are still there, unread, once the read position rewinds, and
// must be added back on top of the snapshot.
func (b *Buffer) MarkerRestore() {
	if len(b.markers) == 0 {
		panic(errors.Fatal("buf: MarkerRestore called without a marker"))
	}
	last := len(b.markers) - 1
	m := b.markers[last]
	b.markers = b.markers[:last]
	b.frontOff = m.offset
	b.size = m.size + int(b.writeSeq-m.writeSeqAtSet)
	b.maybeDispose()
}

// MarkerClear discards the last marker without moving the read position.
func (b *Buffer) MarkerClear() {
	if len(b.markers) == 0 {
		panic(errors.Fatal("buf: MarkerClear called without a marker"))
	}
	b.markers = b.markers[:len(b.markers)-1]
	b.maybeDispose()
}

// AppendStream moves up to n bytes from src into b, sharing whole blocks
// where possible instead of copying. n < 0 moves everything. It returns
// the number of bytes moved.
func (b *Buffer) AppendStream(src *Buffer, n int) int {
	if n < 0 {
		n = src.size
	}
	moved := 0
	for moved < n && src.size > 0 {
		front := &src.blocks[0]
		avail := len(front.buf) - src.frontOff
		want := n - moved
		if src.frontOff == 0 && avail <= want {
			blk := *front
			src.blocks = src.blocks[1:]
			src.frontOff = 0
			src.size -= avail
			moved += avail
			b.blocks = append(b.blocks, blk)
			b.grow(avail)
			continue
		}

		take := avail
		if take > want {
			take = want
		}
		data := append([]byte(nil), front.buf[src.frontOff:src.frontOff+take]...)
		src.frontOff += take
		src.size -= take
		moved += take
		b.AppendRaw(data, nil)
		src.maybeDispose()
	}
	return moved
}

// AppendStreamNonDestructive copies up to n bytes from src into b without
// consuming src. n < 0 copies everything currently in src.
func (b *Buffer) AppendStreamNonDestructive(src *Buffer, n int) int {
	if n < 0 {
		n = src.size
	}
	src.MarkerSet()
	copied := 0
	for copied < n {
		chunk, ok := src.ReadNext(n - copied)
		if !ok {
			break
		}
		b.Write(chunk)
		copied += len(chunk)
	}
	src.MarkerRestore()
	return copied
}

// Equal reports whether b and other contain the same unread bytes,
// without consuming either.
func (b *Buffer) Equal(other *Buffer) bool {
	if b.size != other.size {
		return false
	}
	b.MarkerSet()
	other.MarkerSet()
	defer b.MarkerRestore()
	defer other.MarkerRestore()

	for b.size > 0 {
		x, _ := b.ReadNext(0)
		y := make([]byte, 0, len(x))
		for len(y) < len(x) {
			chunk, ok := other.ReadNext(len(x) - len(y))
			if !ok {
				return false
			}
			y = append(y, chunk...)
		}
		if !bytes.Equal(x, y) {
			return false
		}
	}
	return true
}

// String returns the buffer's content without consuming it, satisfying
// fmt.Stringer. Use ReadAllString for the destructive equivalent.
func (b *Buffer) String() string {
	b.MarkerSet()
	defer b.MarkerRestore()

	var sb bytes.Buffer
	for b.size > 0 {
		chunk, ok := b.ReadNext(0)
		if !ok {
			break
		}
		sb.Write(chunk)
	}
	return sb.String()
}

// IOVecs returns views over the unread data suitable for a vectored
// write (net.Buffers implements io.WriterTo with writev where the OS
// supports it). If maxSize is positive, the total size of the returned
// views is capped at maxSize. The caller commits consumed bytes with a
// subsequent Skip.
func (b *Buffer) IOVecs(maxSize int) [][]byte {
	var vecs [][]byte
	total := 0
	off := b.frontOff
	for i := range b.blocks {
		if maxSize > 0 && total >= maxSize {
			break
		}
		chunk := b.blocks[i].buf[off:]
		if maxSize > 0 && total+len(chunk) > maxSize {
			chunk = chunk[:maxSize-total]
		}
		if len(chunk) > 0 {
			vecs = append(vecs, chunk)
			total += len(chunk)
		}
		off = 0
	}
	return vecs
}
