package checkpoint_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/arnegard/netbase/internal/backend/mem"
	"github.com/arnegard/netbase/internal/checkpoint"
)

const testBlockSize = 64

func writeCheckpoint(t *testing.T, store *mem.Backend, fileBase string, values map[string]string) int32 {
	t.Helper()
	ctx := context.Background()
	w := checkpoint.NewWriter(store, fileBase, testBlockSize)
	seq, err := w.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() = %v", err)
	}
	for name, value := range values {
		if err := w.Add(ctx, name, value); err != nil {
			t.Fatalf("Add(%q, %q) = %v", name, value, err)
		}
	}
	if err := w.End(ctx); err != nil {
		t.Fatalf("End() = %v", err)
	}
	return seq
}

func TestWriteReadRoundtrip(t *testing.T) {
	store := mem.New()
	values := map[string]string{
		"alpha": "1",
		"bravo": "two point oh",
		"charlie": "a somewhat longer value that should span more than one fragment " +
			"once framed into small test blocks",
	}
	writeCheckpoint(t, store, "state", values)

	ctx := context.Background()
	got, seq, err := checkpoint.ReadCheckpoint(ctx, store, "state", testBlockSize)
	if err != nil {
		t.Fatalf("ReadCheckpoint() = %v", err)
	}
	if seq != 0 {
		t.Fatalf("seq = %d, want 0", seq)
	}
	if diff := cmp.Diff(values, got); diff != "" {
		t.Fatalf("ReadCheckpoint() mismatch (-want +got):\n%s", diff)
	}
}

func TestSequenceNumbersIncrease(t *testing.T) {
	store := mem.New()
	seq0 := writeCheckpoint(t, store, "state", map[string]string{"a": "1"})
	seq1 := writeCheckpoint(t, store, "state", map[string]string{"a": "2"})
	if seq0 != 0 || seq1 != 1 {
		t.Fatalf("seq0=%d seq1=%d, want 0, 1", seq0, seq1)
	}

	ctx := context.Background()
	got, seq, err := checkpoint.ReadCheckpoint(ctx, store, "state", testBlockSize)
	if err != nil {
		t.Fatalf("ReadCheckpoint() = %v", err)
	}
	if seq != 1 {
		t.Fatalf("ReadCheckpoint returned seq %d, want the latest (1)", seq)
	}
	if got["a"] != "2" {
		t.Fatalf("a = %q, want %q (the latest checkpoint)", got["a"], "2")
	}
}

func TestDuplicateNameRejected(t *testing.T) {
	store := mem.New()
	ctx := context.Background()
	w := checkpoint.NewWriter(store, "state", testBlockSize)
	if _, err := w.Begin(ctx); err != nil {
		t.Fatal(err)
	}
	if err := w.Add(ctx, "a", "1"); err != nil {
		t.Fatal(err)
	}
	if err := w.Add(ctx, "a", "2"); err == nil {
		t.Fatal("Add() with a duplicate name succeeded, want an error")
	}
	w.Clear()
}

func TestCorruptedLatestFallsBackToOlder(t *testing.T) {
	store := mem.New()
	writeCheckpoint(t, store, "state", map[string]string{"a": "1"})
	writeCheckpoint(t, store, "state", map[string]string{"a": "2"})

	ctx := context.Background()
	// Corrupt the newest checkpoint (seq 1) by truncating it mid-block, as
	// a crash during End's final write would.
	names, err := store.List(ctx, "state_")
	if err != nil {
		t.Fatal(err)
	}
	newest := names[len(names)-1]
	size, err := store.Size(ctx, newest)
	if err != nil {
		t.Fatal(err)
	}
	if size < testBlockSize {
		t.Fatalf("expected the checkpoint to span at least one full block, got %d bytes", size)
	}

	rc, err := store.OpenRead(ctx, newest)
	if err != nil {
		t.Fatal(err)
	}
	partial := make([]byte, size-1)
	if _, err := rc.Read(partial); err != nil {
		t.Fatal(err)
	}
	rc.Close()

	if err := store.Remove(ctx, newest); err != nil {
		t.Fatal(err)
	}
	out, err := store.Create(ctx, newest)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := out.Write(partial); err != nil {
		t.Fatal(err)
	}
	out.Close()

	got, seq, err := checkpoint.ReadCheckpoint(ctx, store, "state", testBlockSize)
	if err != nil {
		t.Fatalf("ReadCheckpoint() = %v, want it to fall back to the older checkpoint", err)
	}
	if seq != 0 {
		t.Fatalf("seq = %d, want the fallback checkpoint (0)", seq)
	}
	if got["a"] != "1" {
		t.Fatalf("a = %q, want %q (the fallback checkpoint's value)", got["a"], "1")
	}
}

func TestCleanOldCheckpoints(t *testing.T) {
	store := mem.New()
	for i := 0; i < 5; i++ {
		writeCheckpoint(t, store, "state", map[string]string{"a": "x"})
	}

	ctx := context.Background()
	if err := checkpoint.CleanOldCheckpoints(ctx, store, "state", 2); err != nil {
		t.Fatalf("CleanOldCheckpoints() = %v", err)
	}

	names, err := store.List(ctx, "state_")
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 {
		t.Fatalf("got %d checkpoint files after cleanup, want 2", len(names))
	}

	_, seq, err := checkpoint.ReadCheckpoint(ctx, store, "state", testBlockSize)
	if err != nil {
		t.Fatalf("ReadCheckpoint() after cleanup = %v", err)
	}
	if seq != 4 {
		t.Fatalf("seq = %d, want 4 (the most recent, which must survive cleanup)", seq)
	}
}
