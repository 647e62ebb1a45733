// Package game adapts a loaded QVM to the fixed entry-point / syscall
// contract a Quake3-derived game module expects from its host, including
// entity linking, cvar bookkeeping, and collision trace dispatch.
package game

import (
	"fmt"
	"io"
	"math"

	"github.com/massung/tasreplay/memory"
	"github.com/massung/tasreplay/vm"
)

// WorldTracer forwards collision queries to the external map/BSP library.
// The adapter owns entity clipping on top of whatever this returns for the
// static world geometry.
type WorldTracer interface {
	BoxTrace(start, mins, maxs, end [3]float32, passEntity int32, contentMask int32) Trace
	PointContents(p [3]float32) int32
	TransformedBoxTrace(start, mins, maxs, end [3]float32, model int32, contentMask int32, origin, angles [3]float32) Trace
}

// NullTracer is a WorldTracer that never reports a world collision, for
// tests and headless replay where no compiled map is present.
type NullTracer struct{}

func (NullTracer) BoxTrace(start, mins, maxs, end [3]float32, passEntity, contentMask int32) Trace {
	return Trace{Fraction: 1.0, EndPos: end}
}

func (NullTracer) PointContents(p [3]float32) int32 { return 0 }

func (NullTracer) TransformedBoxTrace(start, mins, maxs, end [3]float32, model int32, contentMask int32, origin, angles [3]float32) Trace {
	return Trace{Fraction: 1.0, EndPos: end}
}

// Adapter owns one QVM instance plus everything the syscall bridge needs:
// cvars, linked entities, located game-data pointers, and the world tracer.
type Adapter struct {
	VM    *vm.VM
	Cvars *Cvars
	world WorldTracer

	linked map[uint32]linkedEntity

	gEntities     uint32
	numGEntities  uint32
	sizeofEntity  uint32
	clients       uint32
	sizeofClient  uint32

	userCmd UserCmd

	entityTokens []string
	tokenCursor  int

	// InitTime is the simulation clock value recorded right after Init's
	// settle frames; consumers compute relative_time from it.
	InitTime int32
	// Time is the current simulation clock, advanced 8ms per RunFrame.
	Time int32
	// Frame counts completed RunFrame calls since Init, i.e. how many
	// usercmds this adapter has consumed.
	Frame int

	// Log receives print/cvar/server-command activity, mirroring the
	// informational eprintln! calls the syscall bridge was grounded on.
	Log io.Writer
}

// NewAdapter loads bytecode from r and wires it to the given world tracer
// and entity-string tokens (the parsed contents of a .bsp's entity lump).
func NewAdapter(r io.ReaderAt, world WorldTracer, entityTokens []string) (*Adapter, error) {
	loaded, err := vm.Load(r)
	if err != nil {
		return nil, fmt.Errorf("game: load vm: %w", err)
	}
	if world == nil {
		world = NullTracer{}
	}
	return &Adapter{
		VM:           loaded,
		Cvars:        NewCvars(),
		world:        world,
		entityTokens: entityTokens,
	}, nil
}

// Memory exposes the adapter's VM memory for the clip/codec helpers.
func (a *Adapter) Memory() *memory.Memory { return a.VM.Memory }

// Clone returns an independent copy suitable for handing to the background
// snapshot worker: its own VM (code shared read-only, memory and operand
// stack copied), its own cvar table and linked-entity set, with Log left nil
// so the clone's print/server-command syscalls stay silent.
func (a *Adapter) Clone() *Adapter {
	linked := make(map[uint32]linkedEntity, len(a.linked))
	for addr, le := range a.linked {
		linked[addr] = le
	}
	return &Adapter{
		VM:           a.VM.Clone(),
		Cvars:        a.Cvars.Clone(),
		world:        a.world,
		linked:       linked,
		gEntities:    a.gEntities,
		numGEntities: a.numGEntities,
		sizeofEntity: a.sizeofEntity,
		clients:      a.clients,
		sizeofClient: a.sizeofClient,
		userCmd:      a.userCmd,
		entityTokens: a.entityTokens,
		tokenCursor:  a.tokenCursor,
		InitTime:     a.InitTime,
		Time:         a.Time,
		Frame:        a.Frame,
	}
}

func (a *Adapter) callVM(exp Export, args ...uint32) uint32 {
	var packed [10]uint32
	packed[0] = uint32(exp)
	copy(packed[1:], args)

	a.VM.PrepareCall(packed[:])
	for {
		reason := a.VM.Run()
		if reason.Kind == vm.ExitReturn {
			n := len(a.VM.OpStack)
			return a.VM.OpStack[n-1]
		}
		a.handleSyscall(Import(reason.Syscall))
	}
}

// Init runs g_init, advances three 100ms settle frames, then connects and
// begins client 0, recording InitTime.
func (a *Adapter) Init(levelTime, randomSeed int32, restart bool) error {
	a.callVM(GameInit, uint32(levelTime), uint32(randomSeed), boolArg(restart))

	for i := 0; i < 3; i++ {
		a.Time += 100
		a.callVM(GameRunFrame, uint32(a.Time))
	}
	a.InitTime = a.Time

	if err := a.ClientConnect(0, true, false); err != nil {
		return err
	}
	a.ClientBegin(0)
	return nil
}

// ClientConnect invokes GAME_CLIENT_CONNECT; a non-zero result is the
// VM-provided rejection reason.
func (a *Adapter) ClientConnect(clientNum int32, firstTime, isBot bool) error {
	result := a.callVM(GameClientConnect, uint32(clientNum), boolArg(firstTime), boolArg(isBot))
	if result != 0 {
		return fmt.Errorf("connect failed: %s", string(a.VM.Memory.CStr(result)))
	}
	return nil
}

func (a *Adapter) ClientBegin(clientNum int32) {
	a.callVM(GameClientBegin, uint32(clientNum))
}

// PlayerStateAddr returns the VM address of client clientNum's playerState_t,
// which the host contract places at the start of each gclient_t slot in the
// array G_LOCATE_GAME_DATA reported.
func (a *Adapter) PlayerStateAddr(clientNum int32) uint32 {
	return a.clients + uint32(clientNum)*a.sizeofClient
}

// PlayerState reads and decodes client clientNum's current playerState_t.
func (a *Adapter) PlayerState(clientNum int32) PlayerState {
	var ps PlayerState
	readStruct(a.VM.Memory, a.PlayerStateAddr(clientNum), &ps)
	return ps
}

// RunFrame fixes up usercmd, advances one client-think + run-frame pair,
// and steps Time forward 8ms.
func (a *Adapter) RunFrame(cmd UserCmd, clientNum int32) {
	var ps PlayerState
	readStruct(a.VM.Memory, a.PlayerStateAddr(clientNum), &ps)

	cmd.ServerTime = a.Time
	for i := 0; i < 3; i++ {
		cmd.Angles[i] -= ps.DeltaAngles[i]
	}
	a.userCmd = cmd

	a.callVM(GameClientThink, uint32(clientNum))
	a.callVM(GameRunFrame, uint32(a.Time))
	a.Time += 8
	a.Frame++
}

func boolArg(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

func (a *Adapter) logf(format string, args ...interface{}) {
	if a.Log != nil {
		fmt.Fprintf(a.Log, format+"\n", args...)
	}
}

func (a *Adapter) handleSyscall(id Import) {
	v := a.VM
	switch id {
	case GPrint:
		a.logf("%s", v.ReadArgString(0))
		v.SetResult(0)
	case GError:
		panic(v.ReadArgString(0))
	case GMilliseconds:
		v.SetResult(0)

	case GCvarRegister:
		vmCvar := v.ReadArg(0)
		name := v.ReadArgString(1)
		def := v.ReadArgString(2)
		handle := a.Cvars.Register(name, def)
		if vmCvar != 0 {
			cvar := VmCvar{
				Handle:            handle,
				ModificationCount: 0,
				Value:             a.Cvars.Float(name),
				Integer:           a.Cvars.Int(name),
			}
			copyCvarString(&cvar, a.Cvars.String(name))
			writeStruct(v.Memory, vmCvar, &cvar)
		}
		v.SetResult(0)

	case GCvarUpdate:
		var cvar VmCvar
		addr := v.ReadArg(0)
		readStruct(v.Memory, addr, &cvar)
		name := a.Cvars.NameForHandle(cvar.Handle)
		cvar.Value = a.Cvars.Float(name)
		cvar.Integer = a.Cvars.Int(name)
		cvar.String = [256]byte{}
		copyCvarString(&cvar, a.Cvars.String(name))
		writeStruct(v.Memory, addr, &cvar)
		a.logf("cvar update %s", name)
		v.SetResult(0)

	case GCvarSet:
		name := v.ReadArgString(0)
		value := v.ReadArgString(1)
		a.Cvars.Set(name, value)
		v.SetResult(0)

	case GCvarVariableIntegerValue:
		v.SetResult(uint32(a.Cvars.Int(v.ReadArgString(0))))

	case GCvarVariableStringBuffer:
		writeCString(v.Memory, v.ReadArg(1), a.Cvars.String(v.ReadArgString(0)), int(v.ReadArg(2)))
		v.SetResult(0)

	case GFSFOpenFile, GFSRead, GFSWrite, GFSFCloseFile,
		GSendConsoleCommand, GDropClient, GSetBrushModel,
		GAdjustAreaPortalState, GInPVS, GInPVSIgnorePortals, GAreasConnected,
		GSetUserinfo, GGetServerinfo:
		v.SetResult(0)

	case GArgc:
		v.SetResult(0)
	case GArgv:
		v.Memory.Write8(v.ReadArg(1), 0)
		v.SetResult(0)

	case GLocateGameData:
		a.gEntities = v.ReadArg(0)
		a.numGEntities = v.ReadArg(1)
		a.sizeofEntity = v.ReadArg(2)
		a.clients = v.ReadArg(3)
		a.sizeofClient = v.ReadArg(4)
		v.SetResult(0)

	case GSendServerCommand:
		a.logf("server command %d %s", v.ReadArg(0), v.ReadArgString(1))
		v.SetResult(0)
	case GSetConfigstring:
		a.logf("set configstring %d %s", v.ReadArg(0), v.ReadArgString(1))
		v.SetResult(0)
	case GGetConfigstring:
		v.Memory.Write8(v.ReadArg(1), 0)
		v.SetResult(0)
	case GGetUserinfo:
		v.Memory.Write8(v.ReadArg(1), 0)
		v.SetResult(0)

	case GTrace:
		results := v.ReadArg(0)
		start := readVec3(v.Memory, v.ReadArg(1))
		mins := readVec3(v.Memory, v.ReadArg(2))
		maxs := readVec3(v.Memory, v.ReadArg(3))
		end := readVec3(v.Memory, v.ReadArg(4))
		passEntity := int32(v.ReadArg(5))
		contentMask := int32(v.ReadArg(6))

		trace := a.trace(start, mins, maxs, end, passEntity, contentMask)
		writeStruct(v.Memory, results, &trace)
		v.SetResult(0)

	case GPointContents:
		p := readVec3(v.Memory, v.ReadArg(0))
		v.SetResult(uint32(a.pointContents(p)))

	case GEntityContact:
		mins := readVec3(v.Memory, v.ReadArg(0))
		maxs := readVec3(v.Memory, v.ReadArg(1))
		v.SetResult(boolArg(a.entityContact(mins, maxs, v.ReadArg(2))))

	case GLinkEntity:
		a.LinkEntity(a.gEntities + v.ReadArg(0)*a.sizeofEntity)
		v.SetResult(0)
	case GUnlinkEntity:
		a.UnlinkEntity(a.gEntities + v.ReadArg(0)*a.sizeofEntity)
		v.SetResult(0)

	case GEntitiesInBox:
		mins := readVec3(v.Memory, v.ReadArg(0))
		maxs := readVec3(v.Memory, v.ReadArg(1))
		list := a.EntitiesInBox(mins, maxs)
		listAddr := v.ReadArg(2)
		maxCount := v.ReadArg(3)
		n := uint32(len(list))
		if n > maxCount {
			n = maxCount
		}
		for i := uint32(0); i < n; i++ {
			idx := (list[i] - a.gEntities) / a.sizeofEntity
			v.Memory.Write32(listAddr+4*i, idx)
		}
		v.SetResult(n)

	case GGetUsercmd:
		writeStruct(v.Memory, v.ReadArg(1), &a.userCmd)
		v.SetResult(0)

	case GGetEntityToken:
		if a.tokenCursor < len(a.entityTokens) {
			token := a.entityTokens[a.tokenCursor]
			a.tokenCursor++
			buffer := v.ReadArg(0)
			size := int(v.ReadArg(1))
			writeCString(v.Memory, buffer, token, size)
			v.SetResult(1)
		} else {
			v.SetResult(0)
		}

	case GSnapVector:
		addr := v.ReadArg(0)
		vec := readVec3(v.Memory, addr)
		for i := range vec {
			vec[i] = float32(math.RoundToEven(float64(vec[i])))
		}
		writeVec3(v.Memory, addr, vec)
		v.SetResult(0)

	case GRealTime:
		v.SetResult(0)

	case TrapMemset:
		dst := v.ReadArg(0)
		val := byte(v.ReadArg(1))
		n := int(v.ReadArg(2))
		v.Memory.Memset(dst, val, n)
		v.SetResult(0)

	case TrapMemcpy:
		dst := v.ReadArg(0)
		src := v.ReadArg(1)
		n := int(v.ReadArg(2))
		v.Memory.Memcpy(dst, src, n)
		v.SetResult(0)

	case TrapStrncpy:
		dst := v.ReadArg(0)
		src := v.ReadArg(1)
		n := int(v.ReadArg(2))
		v.SetResult(dst)
		v.Memory.Strncpy(dst, src, n)

	case TrapSin:
		v.SetResult(floatResult(math.Sin(float64(argFloat(v, 0)))))
	case TrapCos:
		v.SetResult(floatResult(math.Cos(float64(argFloat(v, 0)))))
	case TrapAtan2:
		v.SetResult(floatResult(math.Atan2(float64(argFloat(v, 0)), float64(argFloat(v, 1)))))
	case TrapSqrt:
		v.SetResult(floatResult(math.Sqrt(float64(argFloat(v, 0)))))
	case TrapFloor:
		v.SetResult(floatResult(math.Floor(float64(argFloat(v, 0)))))
	case TrapCeil:
		v.SetResult(floatResult(math.Ceil(float64(argFloat(v, 0)))))

	case TrapMatrixMultiply, TrapAngleVectors, TrapPerpendicularVector:
		v.SetResult(0)

	default:
		panic(fmt.Sprintf("game: syscall not implemented: %d", id))
	}
}
