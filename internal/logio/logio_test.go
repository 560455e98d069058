package logio_test

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/arnegard/netbase/internal/backend/mem"
	"github.com/arnegard/netbase/internal/buf"
	"github.com/arnegard/netbase/internal/logio"
)

const (
	testBlockSize     = 64
	testBlocksPerFile = 3
)

func writeRecords(t *testing.T, store *mem.Backend, fileBase string, records []string) []logio.LogPos {
	t.Helper()
	ctx := context.Background()
	w := logio.NewWriter(store, fileBase, testBlockSize, testBlocksPerFile, false, 0)
	if err := w.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() = %v", err)
	}

	var positions []logio.LogPos
	for _, rec := range records {
		positions = append(positions, w.Tell())
		if err := w.WriteRecord(ctx, []byte(rec)); err != nil {
			t.Fatalf("WriteRecord(%q) = %v", rec, err)
		}
	}
	if err := w.Close(ctx); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	return positions
}

func TestWriteReadRoundtrip(t *testing.T) {
	store := mem.New()
	records := []string{"alpha", "bravo", "charlie", "delta", "echo", "foxtrot"}
	writeRecords(t, store, "log", records)

	ctx := context.Background()
	r := logio.NewReader(store, "log", testBlockSize, testBlocksPerFile)
	for _, want := range records {
		out := buf.New(testBlockSize)
		ok, err := r.GetNextRecord(ctx, out)
		if err != nil || !ok {
			t.Fatalf("GetNextRecord() = %v, %v, want record %q", ok, err, want)
		}
		if got := out.ReadAllString(); got != want {
			t.Fatalf("record = %q, want %q", got, want)
		}
	}
	if r.NumErrors() != 0 {
		t.Fatalf("NumErrors() = %d, want 0", r.NumErrors())
	}

	// No more records: the writer is "caught up", not at an error.
	out := buf.New(testBlockSize)
	ok, err := r.GetNextRecord(ctx, out)
	if err != nil || ok {
		t.Fatalf("GetNextRecord() past end = %v, %v, want false, nil", ok, err)
	}
}

func TestRollsAcrossMultipleFiles(t *testing.T) {
	store := mem.New()
	var records []string
	for i := 0; i < 20; i++ {
		records = append(records, "record-"+strconv.Itoa(i))
	}
	writeRecords(t, store, "log", records)

	names, err := store.List(context.Background(), "log_")
	if err != nil {
		t.Fatal(err)
	}
	if len(names) < 2 {
		t.Fatalf("expected the log to roll into multiple files, got %d", len(names))
	}
}

func TestSeekToEveryRecord(t *testing.T) {
	store := mem.New()
	var records []string
	for i := 0; i < 25; i++ {
		records = append(records, strings.Repeat("x", i%7+1)+"-"+strconv.Itoa(i))
	}
	positions := writeRecords(t, store, "log", records)

	ctx := context.Background()
	for i, pos := range positions {
		r := logio.NewReader(store, "log", testBlockSize, testBlocksPerFile)
		if err := r.Seek(ctx, pos); err != nil {
			t.Fatalf("Seek(%v) = %v", pos, err)
		}
		if got := r.Tell(); got != pos {
			t.Fatalf("Tell() after Seek = %v, want %v", got, pos)
		}
		out := buf.New(testBlockSize)
		ok, err := r.GetNextRecord(ctx, out)
		if err != nil || !ok {
			t.Fatalf("GetNextRecord() after Seek(%v) = %v, %v", pos, ok, err)
		}
		if got := out.ReadAllString(); got != records[i] {
			t.Fatalf("record at %v = %q, want %q", pos, got, records[i])
		}
	}
}

func TestWriterResumesAfterClose(t *testing.T) {
	store := mem.New()
	ctx := context.Background()

	w := logio.NewWriter(store, "log", testBlockSize, testBlocksPerFile, false, 0)
	if err := w.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	for _, rec := range []string{"one", "two"} {
		if err := w.WriteRecord(ctx, []byte(rec)); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(ctx); err != nil {
		t.Fatal(err)
	}

	w2 := logio.NewWriter(store, "log", testBlockSize, testBlocksPerFile, false, 0)
	if err := w2.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() on resume = %v", err)
	}
	for _, rec := range []string{"three", "four"} {
		if err := w2.WriteRecord(ctx, []byte(rec)); err != nil {
			t.Fatal(err)
		}
	}
	if err := w2.Close(ctx); err != nil {
		t.Fatal(err)
	}

	r := logio.NewReader(store, "log", testBlockSize, testBlocksPerFile)
	for _, want := range []string{"one", "two", "three", "four"} {
		out := buf.New(testBlockSize)
		ok, err := r.GetNextRecord(ctx, out)
		if err != nil || !ok {
			t.Fatalf("GetNextRecord() = %v, %v", ok, err)
		}
		if got := out.ReadAllString(); got != want {
			t.Fatalf("record = %q, want %q", got, want)
		}
	}
	if r.NumErrors() != 0 {
		t.Fatalf("NumErrors() = %d, want 0 (chain should be unbroken across resume)", r.NumErrors())
	}
}

func TestDetectSettings(t *testing.T) {
	store := mem.New()
	var records []string
	for i := 0; i < 20; i++ {
		records = append(records, "record-"+strconv.Itoa(i))
	}
	writeRecords(t, store, "mylog", records)

	fileBase, blockSize, blocksPerFile, err := logio.DetectSettings(context.Background(), store)
	if err != nil {
		t.Fatalf("DetectSettings() = %v", err)
	}
	if fileBase != "mylog" {
		t.Fatalf("fileBase = %q, want %q", fileBase, "mylog")
	}
	if blockSize != testBlockSize {
		t.Fatalf("blockSize = %d, want %d", blockSize, testBlockSize)
	}
	if blocksPerFile != testBlocksPerFile {
		t.Fatalf("blocksPerFile = %d, want %d", blocksPerFile, testBlocksPerFile)
	}
}

func TestDeflatedRecords(t *testing.T) {
	store := mem.New()
	ctx := context.Background()
	w := logio.NewWriter(store, "log", testBlockSize, testBlocksPerFile, true, 0)
	if err := w.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	payload := strings.Repeat("compress me ", 10)
	if err := w.WriteRecord(ctx, []byte(payload)); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(ctx); err != nil {
		t.Fatal(err)
	}

	r := logio.NewReader(store, "log", testBlockSize, testBlocksPerFile)
	out := buf.New(testBlockSize)
	ok, err := r.GetNextRecord(ctx, out)
	if err != nil || !ok {
		t.Fatalf("GetNextRecord() = %v, %v", ok, err)
	}
	if got := out.ReadAllString(); got != payload {
		t.Fatalf("record = %q, want %q", got, payload)
	}
}
