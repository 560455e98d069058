package buf_test

import (
	"bytes"
	"testing"

	"github.com/arnegard/netbase/internal/buf"
)

func TestWriteReadRoundtrip(t *testing.T) {
	b := buf.New(8)
	data := []byte("the quick brown fox jumps over the lazy dog")
	n, err := b.Write(data)
	if err != nil || n != len(data) {
		t.Fatalf("Write() = %d, %v", n, err)
	}
	if b.Size() != len(data) {
		t.Fatalf("Size() = %d, want %d", b.Size(), len(data))
	}

	out := make([]byte, len(data))
	n, _ = b.Read(out)
	if n != len(data) || !bytes.Equal(out, data) {
		t.Fatalf("Read() = %q, want %q", out[:n], data)
	}
	if !b.IsEmpty() {
		t.Fatalf("buffer not empty after full read")
	}
}

func TestWriteSpansMultipleBlocks(t *testing.T) {
	b := buf.New(4)
	data := bytes.Repeat([]byte("x"), 100)
	b.Write(data)

	out := make([]byte, len(data))
	n, _ := b.Read(out)
	if n != len(data) || !bytes.Equal(out, data) {
		t.Fatalf("Read() returned %d bytes, want %d", n, len(data))
	}
}

func TestPeekDoesNotConsume(t *testing.T) {
	b := buf.New(4)
	b.WriteString("hello world")

	peeked := make([]byte, 5)
	n := b.Peek(peeked)
	if n != 5 || string(peeked) != "hello" {
		t.Fatalf("Peek() = %q", peeked[:n])
	}
	if b.Size() != 11 {
		t.Fatalf("Peek consumed data: Size() = %d", b.Size())
	}

	all := b.ReadAllString()
	if all != "hello world" {
		t.Fatalf("ReadAllString() = %q", all)
	}
}

func TestSkip(t *testing.T) {
	b := buf.New(4)
	b.WriteString("0123456789")

	n := b.Skip(3)
	if n != 3 {
		t.Fatalf("Skip() = %d", n)
	}
	rest := b.ReadAllString()
	if rest != "3456789" {
		t.Fatalf("after Skip, remaining = %q", rest)
	}
}

func TestScratch(t *testing.T) {
	b := buf.New(16)
	scratch, err := b.GetScratch(5)
	if err != nil {
		t.Fatal(err)
	}
	copy(scratch, "abc")
	if err := b.ConfirmScratch(3); err != nil {
		t.Fatal(err)
	}
	if got := b.ReadAllString(); got != "abc" {
		t.Fatalf("ReadAllString() = %q, want %q", got, "abc")
	}
}

func TestScratchNestingIsAnError(t *testing.T) {
	b := buf.New(16)
	if _, err := b.GetScratch(4); err != nil {
		t.Fatal(err)
	}
	if _, err := b.GetScratch(4); err == nil {
		t.Fatalf("expected error for nested GetScratch")
	}
}

func TestMarkerRestore(t *testing.T) {
	b := buf.New(4)
	b.WriteString("0123456789")

	b.MarkerSet()
	out := make([]byte, 4)
	b.Read(out)
	if string(out) != "0123" {
		t.Fatalf("Read() = %q", out)
	}
	b.MarkerRestore()

	if b.Size() != 10 {
		t.Fatalf("Size() after restore = %d, want 10", b.Size())
	}
	if got := b.ReadAllString(); got != "0123456789" {
		t.Fatalf("ReadAllString() after restore = %q", got)
	}
}

func TestMarkerRestoreAfterInterveningWrite(t *testing.T) {
	b := buf.New(4)
	b.WriteString("0123456789")

	b.MarkerSet()
	out := make([]byte, 4)
	b.Read(out)
	if string(out) != "0123" {
		t.Fatalf("Read() = %q", out)
	}
	if b.Size() != 6 {
		t.Fatalf("Size() after read = %d, want 6", b.Size())
	}

	b.WriteString("XYZ")
	b.MarkerRestore()

	if b.Size() != 13 {
		t.Fatalf("Size() after restore = %d, want 13", b.Size())
	}
	if got := b.ReadAllString(); got != "0123456789XYZ" {
		t.Fatalf("ReadAllString() after restore = %q", got)
	}
}

func TestStringDoesNotConsume(t *testing.T) {
	b := buf.New(4)
	b.WriteString("0123456789")

	if got := b.String(); got != "0123456789" {
		t.Fatalf("String() = %q", got)
	}
	if b.Size() != 10 {
		t.Fatalf("Size() after String() = %d, want 10", b.Size())
	}
	if got := b.ReadAllString(); got != "0123456789" {
		t.Fatalf("ReadAllString() after String() = %q", got)
	}
}

func TestMarkerClear(t *testing.T) {
	b := buf.New(4)
	b.WriteString("0123456789")
	b.MarkerSet()
	out := make([]byte, 4)
	b.Read(out)
	b.MarkerClear()

	if got := b.ReadAllString(); got != "456789" {
		t.Fatalf("ReadAllString() after clear = %q", got)
	}
}

func TestAppendStreamShares(t *testing.T) {
	src := buf.New(4)
	src.WriteString("0123456789")

	dst := buf.New(4)
	moved := dst.AppendStream(src, -1)
	if moved != 10 {
		t.Fatalf("AppendStream moved %d, want 10", moved)
	}
	if !src.IsEmpty() {
		t.Fatalf("src not drained after AppendStream")
	}
	if got := dst.ReadAllString(); got != "0123456789" {
		t.Fatalf("dst content = %q", got)
	}
}

func TestAppendStreamNonDestructive(t *testing.T) {
	src := buf.New(4)
	src.WriteString("0123456789")

	dst := buf.New(4)
	copied := dst.AppendStreamNonDestructive(src, -1)
	if copied != 10 {
		t.Fatalf("copied %d, want 10", copied)
	}
	if src.Size() != 10 {
		t.Fatalf("src was consumed: Size() = %d", src.Size())
	}
	if got := dst.ReadAllString(); got != "0123456789" {
		t.Fatalf("dst content = %q", got)
	}
}

func TestEqual(t *testing.T) {
	a := buf.New(4)
	a.WriteString("abcdef")
	b := buf.New(8)
	b.WriteString("abcdef")

	if !a.Equal(b) {
		t.Fatalf("expected equal buffers")
	}
	if a.Size() != 6 || b.Size() != 6 {
		t.Fatalf("Equal consumed data: a=%d b=%d", a.Size(), b.Size())
	}

	c := buf.New(4)
	c.WriteString("abcxyz")
	if a.Equal(c) {
		t.Fatalf("expected unequal buffers")
	}
}

func TestReadCRLFLine(t *testing.T) {
	b := buf.New(4)
	b.WriteString("GET / HTTP/1.1\r\nHost: example.com\r\n")

	line, ok := b.ReadCRLFLine()
	if !ok || line != "GET / HTTP/1.1\r\n" {
		t.Fatalf("ReadCRLFLine() = %q, %v", line, ok)
	}

	line, ok = b.ReadLine()
	if !ok || line != "Host: example.com" {
		t.Fatalf("ReadLine() = %q, %v", line, ok)
	}
}

func TestReadCRLFLineIncomplete(t *testing.T) {
	b := buf.New(4)
	b.WriteString("no newline yet")

	if _, ok := b.ReadCRLFLine(); ok {
		t.Fatalf("expected false for incomplete line")
	}
	if b.Size() != len("no newline yet") {
		t.Fatalf("failed ReadCRLFLine consumed data: Size() = %d", b.Size())
	}
}

func TestReadNextASCIIToken(t *testing.T) {
	b := buf.New(4)
	b.WriteString(`foo: "bar baz", qux`)

	tok, err := b.ReadNextASCIIToken()
	if err != buf.TokenOK || tok != "foo" {
		t.Fatalf("token 1 = %q, %v", tok, err)
	}
	tok, err = b.ReadNextASCIIToken()
	if err != buf.TokenOK || tok != ":" {
		t.Fatalf("token 2 = %q, %v", tok, err)
	}
	tok, err = b.ReadNextASCIIToken()
	if err != buf.TokenOK || tok != "bar baz" {
		t.Fatalf("token 3 = %q, %v", tok, err)
	}
	tok, err = b.ReadNextASCIIToken()
	if err != buf.TokenOK || tok != "," {
		t.Fatalf("token 4 = %q, %v", tok, err)
	}
	tok, err = b.ReadNextASCIIToken()
	if err != buf.TokenOK || tok != "qux" {
		t.Fatalf("token 5 = %q, %v", tok, err)
	}
}

func TestNumericCodecBigEndian(t *testing.T) {
	b := buf.New(4)
	b.WriteUint16BE(0x1234)
	b.WriteUint32BE(0xdeadbeef)
	b.WriteInt32BE(-1)
	b.WriteUint24BE(0x00ff00)

	u16, err := b.ReadUint16BE()
	if err != nil || u16 != 0x1234 {
		t.Fatalf("ReadUint16BE() = %#x, %v", u16, err)
	}
	u32, err := b.ReadUint32BE()
	if err != nil || u32 != 0xdeadbeef {
		t.Fatalf("ReadUint32BE() = %#x, %v", u32, err)
	}
	i32, err := b.ReadInt32BE()
	if err != nil || i32 != -1 {
		t.Fatalf("ReadInt32BE() = %d, %v", i32, err)
	}
	u24, err := b.ReadUint24BE()
	if err != nil || u24 != 0x00ff00 {
		t.Fatalf("ReadUint24BE() = %#x, %v", u24, err)
	}
}

func TestIOVecs(t *testing.T) {
	b := buf.New(4)
	b.WriteString("0123456789")

	vecs := b.IOVecs(-1)
	var total int
	for _, v := range vecs {
		total += len(v)
	}
	if total != 10 {
		t.Fatalf("IOVecs total = %d, want 10", total)
	}
	b.Skip(total)
	if !b.IsEmpty() {
		t.Fatalf("buffer not empty after Skip following IOVecs")
	}
}
