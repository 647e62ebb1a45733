// Package snapshot implements copy-on-write state capture for the VM's
// memory: a full Baseline plus cheap Deltas that record only the chunks
// that differ from it, driven by Memory's dirty-chunk tracking.
package snapshot

import "github.com/massung/tasreplay/memory"

// Snapshot is an immutable, shareable capture of a Memory's contents at
// some moment. Both Baseline and Delta implement it. A Snapshot is safe to
// hold and restore from concurrently, and its lifetime is simply whatever
// Go's GC decides once the last holder drops its reference.
type Snapshot interface {
	restore(m *memory.Memory)
}

// Baseline is a full copy of Memory's backing bytes at the moment it was
// taken.
type Baseline struct {
	bytes []byte
}

// Delta stores only the chunks whose contents differ from a reference
// Baseline, keyed by chunk index.
type Delta struct {
	baseline *Baseline
	chunks   map[int][]byte
}

// Take captures the current state of m. If baseline is non-nil and is a
// *Baseline, the result is a Delta containing exactly the chunks that are
// both dirty in m and differ byte-for-byte from baseline — a dirty chunk
// whose contents were since restored back to the baseline value
// contributes nothing. If baseline is nil, or not a *Baseline (i.e. the
// contract permits deeper delta chains even though the current core never
// builds one), the result is a full Baseline.
func Take(m *memory.Memory, baseline Snapshot) Snapshot {
	b, ok := baseline.(*Baseline)
	if !ok {
		return takeBaseline(m)
	}
	return takeDelta(m, b)
}

func takeBaseline(m *memory.Memory) *Baseline {
	bytes := make([]byte, m.Size())
	copy(bytes, m.Bytes())
	return &Baseline{bytes: bytes}
}

func takeDelta(m *memory.Memory, baseline *Baseline) *Delta {
	chunks := make(map[int][]byte)

	m.DirtyChunks(func(chunk int) {
		cur := m.ChunkBytes(chunk)
		ref := baseline.bytes[chunk*memory.Chunk : chunk*memory.Chunk+memory.Chunk]
		if bytesEqual(cur, ref) {
			return
		}
		cp := make([]byte, memory.Chunk)
		copy(cp, cur)
		chunks[chunk] = cp
	})

	return &Delta{baseline: baseline, chunks: chunks}
}

func bytesEqual(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Restore overwrites m's contents with what they were at the moment s was
// taken, provided the caller never cleared m's dirty set and then wrote to
// a chunk the snapshot does not know about.
func Restore(m *memory.Memory, s Snapshot) {
	s.restore(m)
}

// restore for a Baseline overwrites every chunk that is currently dirty in
// m with the corresponding baseline chunk. The dirty set is exactly the
// change set to undo — clean chunks already equal the baseline, so this is
// O(dirty chunks), not O(memory size).
func (b *Baseline) restore(m *memory.Memory) {
	m.DirtyChunks(func(chunk int) {
		m.WriteChunkBytes(chunk, b.bytes[chunk*memory.Chunk:chunk*memory.Chunk+memory.Chunk])
	})
}

// restore for a Delta first restores the referenced baseline, then
// reapplies the chunks the delta recorded on top of it. The applied chunks
// are marked dirty: m may never have written them itself (the delta could
// have been taken by a different Memory), and they now differ from the
// baseline, so they have to be in m's change set for later restores.
func (d *Delta) restore(m *memory.Memory) {
	d.baseline.restore(m)
	for chunk, bytes := range d.chunks {
		m.WriteChunkBytes(chunk, bytes)
		m.SetDirty(chunk*memory.Chunk, memory.Chunk)
	}
}

// NumChunks reports how many chunks a Delta actually stores, for tests and
// instrumentation that want to verify minimality.
func (d *Delta) NumChunks() int {
	return len(d.chunks)
}
