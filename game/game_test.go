package game

import (
	"bytes"
	"strings"
	"testing"

	"github.com/massung/tasreplay/memory"
	"github.com/massung/tasreplay/vm"
)

func TestCvarsRegisterPreservesExistingValue(t *testing.T) {
	c := NewCvars()
	c.Set("sv_fps", "40")
	handle := c.Register("SV_FPS", "20")
	if c.String("sv_fps") != "40" {
		t.Fatalf("Register clobbered an existing value: got %q", c.String("sv_fps"))
	}
	if c.NameForHandle(handle) != "sv_fps" {
		t.Fatalf("NameForHandle(%d) = %q, want sv_fps", handle, c.NameForHandle(handle))
	}
}

func TestCvarsRegisterIsIdempotent(t *testing.T) {
	c := NewCvars()
	h1 := c.Register("g_gravity", "800")
	h2 := c.Register("g_gravity", "999")
	if h1 != h2 {
		t.Fatalf("re-registering the same cvar produced different handles: %d vs %d", h1, h2)
	}
	if c.String("g_gravity") != "800" {
		t.Fatalf("second Register call clobbered default: got %q", c.String("g_gravity"))
	}
}

func TestLinkEntityComputesExpandedAxisAlignedBounds(t *testing.T) {
	a := &Adapter{VM: &vm.VM{Memory: memory.New(4096)}}
	a.gEntities = 0
	a.sizeofEntity = uint32(mustBinarySize(SharedEntity{}))

	var ent SharedEntity
	ent.S.Number = 3
	ent.R.CurrentOrigin = [3]float32{10, 0, 0}
	ent.R.Mins = [3]float32{-8, -8, -8}
	ent.R.Maxs = [3]float32{8, 8, 8}
	writeStruct(a.VM.Memory, 0, &ent)

	a.LinkEntity(0)

	le, ok := a.linked[0]
	if !ok {
		t.Fatal("expected entity 0 to be linked")
	}
	want := [3]float32{1, -9, -9}
	if le.absMin != want {
		t.Fatalf("absMin = %v, want %v", le.absMin, want)
	}
	if le.number != 3 {
		t.Fatalf("number = %d, want 3", le.number)
	}
}

func TestUnlinkEntityRemovesFromSet(t *testing.T) {
	a := &Adapter{VM: &vm.VM{Memory: memory.New(4096)}}
	a.sizeofEntity = uint32(mustBinarySize(SharedEntity{}))
	var ent SharedEntity
	writeStruct(a.VM.Memory, 0, &ent)
	a.LinkEntity(0)
	if len(a.linked) != 1 {
		t.Fatal("expected one linked entity")
	}
	a.UnlinkEntity(0)
	if len(a.linked) != 0 {
		t.Fatal("expected entity to be unlinked")
	}
}

func TestTraceReturnsWorldResultWhenEmpty(t *testing.T) {
	a := &Adapter{VM: &vm.VM{Memory: memory.New(64)}, world: NullTracer{}}
	tr := a.trace([3]float32{0, 0, 0}, [3]float32{}, [3]float32{}, [3]float32{10, 0, 0}, -1, -1)
	if tr.Fraction != 1.0 {
		t.Fatalf("Fraction = %v, want 1.0", tr.Fraction)
	}
	if tr.EntityNum != entityNumNone {
		t.Fatalf("EntityNum = %d, want %d", tr.EntityNum, entityNumNone)
	}
}

// stubTracer reports a partial world hit at fraction 0.75, so entity
// clipping runs and any entity hit at fraction 0.5 is nearer than the world.
type stubTracer struct{}

func (stubTracer) BoxTrace(start, mins, maxs, end [3]float32, passEntity, contentMask int32) Trace {
	return Trace{Fraction: 0.75, EndPos: [3]float32{7.5, 0, 0}}
}
func (stubTracer) PointContents(p [3]float32) int32 { return 0 }
func (stubTracer) TransformedBoxTrace(start, mins, maxs, end [3]float32, model int32, contentMask int32, origin, angles [3]float32) Trace {
	return Trace{Fraction: 0.5, EndPos: [3]float32{5, 0, 0}, StartSolid: 0, AllSolid: 0}
}

func TestTraceClipsAgainstLinkedEntity(t *testing.T) {
	a := &Adapter{VM: &vm.VM{Memory: memory.New(4096)}, world: stubTracer{}}
	a.sizeofEntity = uint32(mustBinarySize(SharedEntity{}))

	var ent SharedEntity
	ent.S.Number = 7
	ent.R.CurrentOrigin = [3]float32{5, 0, 0}
	ent.R.Mins = [3]float32{-16, -16, -16}
	ent.R.Maxs = [3]float32{16, 16, 16}
	ent.R.Contents = -1
	writeStruct(a.VM.Memory, 0, &ent)
	a.LinkEntity(0)

	tr := a.trace([3]float32{0, 0, 0}, [3]float32{}, [3]float32{}, [3]float32{10, 0, 0}, -1, -1)
	if tr.EntityNum != 7 {
		t.Fatalf("EntityNum = %d, want 7 (should clip against linked entity)", tr.EntityNum)
	}
	if tr.Fraction != 0.5 {
		t.Fatalf("Fraction = %v, want 0.5", tr.Fraction)
	}
}

func TestTraceSkipsPassEntity(t *testing.T) {
	a := &Adapter{VM: &vm.VM{Memory: memory.New(4096)}, world: stubTracer{}}
	a.sizeofEntity = uint32(mustBinarySize(SharedEntity{}))

	var ent SharedEntity
	ent.S.Number = 7
	ent.R.CurrentOrigin = [3]float32{5, 0, 0}
	ent.R.Mins = [3]float32{-16, -16, -16}
	ent.R.Maxs = [3]float32{16, 16, 16}
	ent.R.Contents = -1
	writeStruct(a.VM.Memory, 0, &ent)
	a.LinkEntity(0)

	tr := a.trace([3]float32{0, 0, 0}, [3]float32{}, [3]float32{}, [3]float32{10, 0, 0}, 7, -1)
	if tr.EntityNum == 7 {
		t.Fatal("pass-entity should have been skipped during clipping")
	}
}

// encodeProgram assembles a minimal function body, wrapped in an ENTER/LEAVE
// frame of 16 bytes (the 8-byte header plus two outgoing argument slots at
// ARG 8 and ARG 12), ready to run via Adapter.callVM through PrepareCall.
func encodeProgram(body ...vm.Instruction) []vm.Instruction {
	prog := []vm.Instruction{{Opcode: vm.Enter, Arg: 16}}
	prog = append(prog, body...)
	prog = append(prog, vm.Instruction{Opcode: vm.Leave, Arg: 16})
	return prog
}

func TestAdapterHandlesPrintSyscall(t *testing.T) {
	var log bytes.Buffer
	a := &Adapter{
		Cvars: NewCvars(),
		world: NullTracer{},
		Log:   &log,
		VM: &vm.VM{
			Memory:       memory.New(256),
			ProgramStack: 256,
			Code: encodeProgram(
				vm.Instruction{Opcode: vm.Const, Arg: 64}, // address of string
				vm.Instruction{Opcode: vm.Arg, Arg: 8},    // arg0 slot
				func() vm.Instruction {
					neg := -int32(GPrint) - 1
					return vm.Instruction{Opcode: vm.Const, Arg: uint32(neg)}
				}(),
				vm.Instruction{Opcode: vm.Call},
			),
		},
	}
	msg := a.VM.Memory.SliceMut(64, 6)
	copy(msg, []byte("hello\x00"))

	a.callVM(GameInit)
	if !strings.Contains(log.String(), "hello") {
		t.Fatalf("log = %q, want it to contain %q", log.String(), "hello")
	}
}
