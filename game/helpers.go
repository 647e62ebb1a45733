package game

import (
	"math"

	"github.com/massung/tasreplay/memory"
	"github.com/massung/tasreplay/vm"
)

func readVec3(m *memory.Memory, addr uint32) [3]float32 {
	var v [3]float32
	for i := range v {
		v[i] = math.Float32frombits(m.Read32(addr + uint32(i)*4))
	}
	return v
}

func writeVec3(m *memory.Memory, addr uint32, v [3]float32) {
	for i := range v {
		m.Write32(addr+uint32(i)*4, math.Float32bits(v[i]))
	}
}

// writeCString copies s into VM memory at dst as a NUL-terminated string,
// truncated to size-1 bytes, matching G_GET_ENTITY_TOKEN's buffer contract.
func writeCString(m *memory.Memory, dst uint32, s string, size int) {
	if size <= 0 {
		return
	}
	b := []byte(s)
	n := len(b)
	if n > size-1 {
		n = size - 1
	}
	buf := m.SliceMut(int(dst), n+1)
	copy(buf, b[:n])
	buf[n] = 0
}

func copyCvarString(cvar *VmCvar, s string) {
	b := []byte(s)
	n := len(b)
	if n > len(cvar.String)-1 {
		n = len(cvar.String) - 1
	}
	copy(cvar.String[:n], b[:n])
}

// argFloat reads argument slot n and reinterprets its bits as a float32,
// matching the calling convention's shared int/float operand representation.
func argFloat(v *vm.VM, n uint32) float32 {
	return math.Float32frombits(v.ReadArg(n))
}

func floatResult(f float64) uint32 {
	return math.Float32bits(float32(f))
}
