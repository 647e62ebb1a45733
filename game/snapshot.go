package game

import "github.com/massung/tasreplay/snapshot"

// GameSnapshot captures everything a replay needs to resume simulation from
// an exact prior frame: the VM's memory (via the snapshot package's
// copy-on-write capture), its small scalar registers, and the syscall
// bridge's own bookkeeping (cvars, linked entities, the simulation clock).
// Unlike a raw snapshot.Snapshot, this also covers the state the adapter keeps
// outside VM memory, which a memory-only snapshot would silently drop.
type GameSnapshot struct {
	memory snapshot.Snapshot

	pc           uint32
	programStack uint32
	opStack      []uint32

	cvars  *Cvars
	linked map[uint32]linkedEntity

	gEntities    uint32
	numGEntities uint32
	sizeofEntity uint32
	clients      uint32
	sizeofClient uint32

	userCmd     UserCmd
	tokenCursor int

	initTime int32
	time     int32
	frame    int
}

// TakeSnapshot captures the adapter's full state. Passing the previous
// baseline snapshot's memory component lets the underlying memory snapshot
// store a minimal delta instead of a full copy; pass nil for the very first,
// full-cost baseline capture.
func (a *Adapter) TakeSnapshot(baseline *GameSnapshot) *GameSnapshot {
	var baseMem snapshot.Snapshot
	if baseline != nil {
		baseMem = baseline.memory
	}

	linked := make(map[uint32]linkedEntity, len(a.linked))
	for addr, le := range a.linked {
		linked[addr] = le
	}
	opStack := make([]uint32, len(a.VM.OpStack))
	copy(opStack, a.VM.OpStack)

	return &GameSnapshot{
		memory:       snapshot.Take(a.Memory(), baseMem),
		pc:           a.VM.PC,
		programStack: a.VM.ProgramStack,
		opStack:      opStack,
		cvars:        a.Cvars.Clone(),
		linked:       linked,
		gEntities:    a.gEntities,
		numGEntities: a.numGEntities,
		sizeofEntity: a.sizeofEntity,
		clients:      a.clients,
		sizeofClient: a.sizeofClient,
		userCmd:      a.userCmd,
		tokenCursor:  a.tokenCursor,
		initTime:     a.InitTime,
		time:         a.Time,
		frame:        a.Frame,
	}
}

// RestoreSnapshot overwrites the adapter's state with s's, including VM
// memory. entityTokens and the world tracer are left untouched: both are
// immutable inputs the snapshot never needs to carry.
func (a *Adapter) RestoreSnapshot(s *GameSnapshot) {
	snapshot.Restore(a.Memory(), s.memory)

	a.VM.PC = s.pc
	a.VM.ProgramStack = s.programStack
	a.VM.OpStack = append(a.VM.OpStack[:0], s.opStack...)

	a.Cvars = s.cvars.Clone()

	linked := make(map[uint32]linkedEntity, len(s.linked))
	for addr, le := range s.linked {
		linked[addr] = le
	}
	a.linked = linked

	a.gEntities = s.gEntities
	a.numGEntities = s.numGEntities
	a.sizeofEntity = s.sizeofEntity
	a.clients = s.clients
	a.sizeofClient = s.sizeofClient
	a.userCmd = s.userCmd
	a.tokenCursor = s.tokenCursor
	a.InitTime = s.initTime
	a.Time = s.time
	a.Frame = s.frame
}
