package run

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/massung/tasreplay/game"
	"github.com/massung/tasreplay/vm"
)

// minimalQVM builds a bytecode container with one function at address 0
// that ignores every argument and always returns 0, regardless of which
// export ID the adapter dispatches. It exercises PrepareCall/ENTER/LEAVE
// framing without needing a real compiled game module.
func minimalQVM(t *testing.T) *bytes.Reader {
	t.Helper()

	var code bytes.Buffer
	write := func(op vm.Opcode, arg uint32) {
		code.WriteByte(byte(op))
		binary.Write(&code, binary.LittleEndian, arg)
	}
	write(vm.Enter, 8)
	write(vm.Const, 0)
	write(vm.Leave, 8)

	type header struct {
		Magic            uint32
		InstructionCount uint32
		CodeOffset       uint32
		CodeLength       uint32
		DataOffset       uint32
		DataLength       uint32
		LitLength        uint32
		BSSLength        uint32
	}

	var buf bytes.Buffer
	hdr := header{
		Magic:            vm.Magic,
		InstructionCount: 3,
		CodeOffset:       32,
		CodeLength:       uint32(code.Len()),
		DataOffset:       32 + uint32(code.Len()),
		DataLength:       0,
		LitLength:        0,
		BSSLength:        4096,
	}
	if err := binary.Write(&buf, binary.LittleEndian, hdr); err != nil {
		t.Fatalf("write header: %v", err)
	}
	buf.Write(code.Bytes())

	return bytes.NewReader(buf.Bytes())
}

func newTestController(t *testing.T) *Controller {
	t.Helper()
	c, err := NewController(minimalQVM(t), game.NullTracer{}, nil)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	c.DisableSnapshotWorker() // deterministic tests: no background race with the worker goroutine
	return c
}

// TestSeekDeterminism checks seek determinism within a single snapshot
// interval, where both paths can reach the target by stepping alone (no
// snapshot restore involved): seek(f1) then seek(f2) must land in the same
// state as seeking to f2 directly.
func TestSeekDeterminism(t *testing.T) {
	a := newTestController(t)
	b := newTestController(t)

	cmds := make([]game.UserCmd, 120)
	for i := range cmds {
		cmds[i] = game.UserCmd{ForwardMove: int8(i % 127)}
	}
	a.SetUsercmds(0, cmds)
	b.SetUsercmds(0, cmds)

	a.Seek(50)
	a.Seek(100)

	b.Seek(100)

	if a.Game.Frame != b.Game.Frame {
		t.Fatalf("Frame after two-step seek = %d, want %d (direct seek)", a.Game.Frame, b.Game.Frame)
	}
	if a.Game.Time != b.Game.Time {
		t.Fatalf("Time after two-step seek = %d, want %d (direct seek)", a.Game.Time, b.Game.Time)
	}
}

// TestSeekAcrossSnapshotLadderMatchesIncrementalStep checks seek determinism
// across a snapshot-ladder boundary: one controller lets the background
// worker build the ladder and jumps straight to a far frame (restore +
// replay), the other reaches the same frame by incremental stepping alone
// (worker disabled). Both must land in the same state.
func TestSeekAcrossSnapshotLadderMatchesIncrementalStep(t *testing.T) {
	withWorker, err := NewController(minimalQVM(t), game.NullTracer{}, nil)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	stepwise := newTestController(t)

	target := SnapshotInterval*2 + 10
	cmds := make([]game.UserCmd, target+1)
	for i := range cmds {
		cmds[i] = game.UserCmd{ForwardMove: int8(i % 127)}
	}
	withWorker.SetUsercmds(0, cmds)
	stepwise.SetUsercmds(0, cmds)

	deadline := time.Now().Add(5 * time.Second)
	for withWorker.NumFramesWithValidSnapshot() < target+1 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for background worker to build the snapshot ladder")
		}
		time.Sleep(time.Millisecond)
	}
	withWorker.Seek(target)

	for f := 0; f <= target; f += SnapshotInterval {
		to := f + SnapshotInterval
		if to > target {
			to = target
		}
		stepwise.Seek(to)
	}

	if withWorker.Game.Frame != stepwise.Game.Frame {
		t.Fatalf("Frame via snapshot restore = %d, want %d (incremental step)", withWorker.Game.Frame, stepwise.Game.Frame)
	}
	if withWorker.Game.Time != stepwise.Game.Time {
		t.Fatalf("Time via snapshot restore = %d, want %d (incremental step)", withWorker.Game.Time, stepwise.Game.Time)
	}
}

// TestInvalidationMonotoneAfterEdit checks that editing a frame
// can only ever lower numValidSnapshots/numProcessedUsercmds, never raise
// them. The worker is left running so the ladder has actually advanced past
// the edited frame before the edit lands.
func TestInvalidationMonotoneAfterEdit(t *testing.T) {
	c, err := NewController(minimalQVM(t), game.NullTracer{}, nil)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	cmds := make([]game.UserCmd, SnapshotInterval*3)
	c.SetUsercmds(0, cmds)

	deadline := time.Now().Add(5 * time.Second)
	for c.NumFramesWithValidSnapshot() < SnapshotInterval*3 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the background worker to fill the snapshot ladder")
		}
		time.Sleep(time.Millisecond)
	}

	editFrame := 200
	c.SetUsercmd(editFrame, game.UserCmd{ForwardMove: 100})

	c.shared.mu.Lock()
	nv := c.shared.numValidSnapshots
	np := c.shared.numProcessedUsercmds
	c.shared.mu.Unlock()

	wantMaxValid := editFrame/SnapshotInterval + 1
	if nv > wantMaxValid {
		t.Fatalf("numValidSnapshots = %d, want <= %d immediately after editing frame %d", nv, wantMaxValid, editFrame)
	}
	if np > editFrame {
		t.Fatalf("numProcessedUsercmds = %d, want <= %d immediately after editing frame %d", np, editFrame, editFrame)
	}
}

func TestSeekIdleCaseReturnsImmediately(t *testing.T) {
	c := newTestController(t)
	cmds := make([]game.UserCmd, 10)
	c.SetUsercmds(0, cmds)

	c.Seek(5)
	frameAfterFirstSeek := c.Game.Frame

	c.Seek(5) // should hit the "already showed this frame" fast path
	if c.Game.Frame != frameAfterFirstSeek {
		t.Fatalf("Frame changed on idle re-seek: %d -> %d", frameAfterFirstSeek, c.Game.Frame)
	}
}

func TestSeekWithoutSnapshotMarksStale(t *testing.T) {
	c := newTestController(t)
	cmds := make([]game.UserCmd, SnapshotInterval*3)
	c.SetUsercmds(0, cmds)

	// No snapshot exists past the baseline (worker disabled), and the target
	// is farther than one interval away: Seek must mark stale rather than
	// simulate unboundedly far in one call.
	c.Seek(SnapshotInterval * 2)

	c.shared.mu.Lock()
	stale := c.stale
	c.shared.mu.Unlock()
	if !stale {
		t.Fatal("expected Seek to mark the controller stale when no valid snapshot covers the target")
	}
}
