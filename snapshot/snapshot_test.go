package snapshot

import (
	"bytes"
	"testing"

	"github.com/massung/tasreplay/memory"
)

func TestSnapshotIdempotence(t *testing.T) {
	m := memory.New(256)
	m.ClearDirty()
	baseline := Take(m, nil)

	m.Write32(0, 0x11223344)
	m.Write8(200, 0x7F)

	before := append([]byte(nil), m.Bytes()...)
	s := Take(m, baseline)

	m.Write32(0, 0xDEADBEEF)
	m.Write8(200, 0x00)

	Restore(m, s)
	if !bytes.Equal(m.Bytes(), before) {
		t.Fatalf("restore did not reproduce prior state")
	}
}

func TestBaselineMinimality(t *testing.T) {
	m := memory.New(512)
	m.ClearDirty()
	baseline := Take(m, nil)

	// Dirty three chunks but only actually change two of them.
	m.Write8(0, 1)              // chunk 0, changed
	m.Write8(memory.Chunk, 0)   // chunk 1, dirtied but written with the baseline's own value
	m.Write8(memory.Chunk*2, 9) // chunk 2, changed

	delta := Take(m, baseline).(*Delta)
	if delta.NumChunks() != 2 {
		t.Fatalf("NumChunks() = %d, want 2 (chunk 1 should be excluded, it matches baseline)", delta.NumChunks())
	}
	if _, ok := delta.chunks[0]; !ok {
		t.Fatal("expected chunk 0 in delta")
	}
	if _, ok := delta.chunks[2]; !ok {
		t.Fatal("expected chunk 2 in delta")
	}
	if _, ok := delta.chunks[1]; ok {
		t.Fatal("chunk 1 should not be in delta (content matches baseline)")
	}
}

func TestRestoreFromDeltaAppliesBaselineThenChunks(t *testing.T) {
	m := memory.New(256)
	m.ClearDirty()
	baseline := Take(m, nil)

	m.Write8(0, 42)
	delta := Take(m, baseline)

	other := memory.New(256)
	Restore(other, delta)

	if other.Read8(0) != 42 {
		t.Fatalf("Read8(0) = %d, want 42", other.Read8(0))
	}
	// A byte outside the delta's chunks should come from the baseline.
	if other.Read8(100) != 0 {
		t.Fatalf("Read8(100) = %d, want 0 (from baseline)", other.Read8(100))
	}
}

func TestDirtyChunkRestoredToBaselineContributesNothing(t *testing.T) {
	m := memory.New(256)
	m.ClearDirty()
	baseline := Take(m, nil)

	m.Write8(0, 5) // dirty chunk 0
	m.Write8(0, 0) // restore it back to baseline's value, still dirty

	delta := Take(m, baseline).(*Delta)
	if delta.NumChunks() != 0 {
		t.Fatalf("NumChunks() = %d, want 0", delta.NumChunks())
	}
}
