/* Copyright (c) 2017 Jeffrey Massung
 *
 * This software is provided 'as-is', without any express or implied
 * warranty.  In no event will the authors be held liable for any damages
 * arising from the use of this software.
 *
 * Permission is granted to anyone to use this software for any purpose,
 * including commercial applications, and to alter it and redistribute it
 * freely, subject to the following restrictions:
 *
 * 1. The origin of this software must not be misrepresented; you must not
 *    claim that you wrote the original software. If you use this software
 *    in a product, an acknowledgment in the product documentation would be
 *    appreciated but is not required.
 *
 * 2. Altered source versions must be plainly marked as such, and must not be
 *    misrepresented as being the original software.
 *
 * 3. This notice may not be removed or altered from any source distribution.
 */

// Package vm implements the QVM interpreter: a stack machine over a flat,
// byte-addressable memory, with a program-stack-based calling convention
// matching the host's ABI exactly.
package vm

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/massung/tasreplay/memory"
)

// Magic is the expected four-byte little-endian header tag.
const Magic = 0x12721444

// ReturnSentinel is pushed as the fake return address for the outermost
// call frame. LEAVE recognizes it and ends execution instead of jumping.
const ReturnSentinel = 0xDEADBEEF

// ExitKind distinguishes why Run stopped.
type ExitKind int

const (
	// ExitReturn means the outermost LEAVE popped ReturnSentinel.
	ExitReturn ExitKind = iota
	// ExitSyscall means a CALL targeted a negative address.
	ExitSyscall
)

// ExitReason reports why a Run call returned control to the host.
type ExitReason struct {
	Kind    ExitKind
	Syscall uint32 // valid only when Kind == ExitSyscall
}

// VM is QVM interpreter state: decoded code, the flat memory it operates
// over, the program counter, the program-stack pointer (a byte offset into
// Memory, growing downward), and the external operand stack.
type VM struct {
	Code         []Instruction
	Memory       *memory.Memory
	PC           uint32
	ProgramStack uint32
	OpStack      []uint32

	// Cycles counts Step calls executed so far, for instrumentation that
	// wants to track interpreter throughput without touching the hot path.
	Cycles uint64
}

// Clone returns an independent copy, sharing the read-only decoded Code but
// with its own Memory and operand stack, for handing a background worker its
// own VM to simulate against.
func (v *VM) Clone() *VM {
	opStack := make([]uint32, len(v.OpStack))
	copy(opStack, v.OpStack)
	return &VM{
		Code:         v.Code,
		Memory:       v.Memory.Clone(),
		PC:           v.PC,
		ProgramStack: v.ProgramStack,
		OpStack:      opStack,
		Cycles:       v.Cycles,
	}
}

// header mirrors the bytecode container's fixed little-endian layout.
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

// Load decodes a bytecode file from r and returns a freshly initialized VM.
// The memory is sized DataLength+LitLength+BSSLength, rounded up to a chunk
// multiple; the initial program-stack pointer is the pre-rounding size, and
// BSS is left zeroed.
func Load(r io.ReaderAt) (*VM, error) {
	var hdr header
	if err := binary.Read(io.NewSectionReader(r, 0, 32), binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("vm: read header: %w", err)
	}

	code := make([]Instruction, hdr.InstructionCount)
	codeReader := io.NewSectionReader(r, int64(hdr.CodeOffset), int64(hdr.CodeLength))
	for i := range code {
		var opByte [1]byte
		if _, err := io.ReadFull(codeReader, opByte[:]); err != nil {
			return nil, fmt.Errorf("vm: decode instruction %d: %w", i, err)
		}
		op := Opcode(opByte[0])
		if !op.valid() {
			return nil, fmt.Errorf("vm: instruction %d: invalid opcode byte %#x", i, opByte[0])
		}

		var arg uint32
		switch immediateWidth(op) {
		case 4:
			var buf [4]byte
			if _, err := io.ReadFull(codeReader, buf[:]); err != nil {
				return nil, fmt.Errorf("vm: decode instruction %d arg: %w", i, err)
			}
			arg = binary.LittleEndian.Uint32(buf[:])
		case 1:
			var buf [1]byte
			if _, err := io.ReadFull(codeReader, buf[:]); err != nil {
				return nil, fmt.Errorf("vm: decode instruction %d arg: %w", i, err)
			}
			arg = uint32(buf[0])
		}

		code[i] = Instruction{Opcode: op, Arg: arg}
	}

	preRound := int(hdr.DataLength + hdr.LitLength + hdr.BSSLength)
	mem := memory.New(preRound)

	dataLit := io.NewSectionReader(r, int64(hdr.DataOffset), int64(hdr.DataLength+hdr.LitLength))
	if _, err := io.ReadFull(dataLit, mem.BytesMut()[:hdr.DataLength+hdr.LitLength]); err != nil {
		return nil, fmt.Errorf("vm: read data+lit section: %w", err)
	}

	return &VM{
		Code:         code,
		Memory:       mem,
		PC:           0,
		ProgramStack: uint32(preRound),
		OpStack:      nil,
	}, nil
}

// ReadLocal reads a 32-bit value at a program-stack-relative local offset.
func (v *VM) ReadLocal(offset uint32) uint32 {
	return v.Memory.Read32(v.ProgramStack + offset)
}

// ReadArg reads argument slot n off the current program stack:
// program_stack + 8 + 4*n.
func (v *VM) ReadArg(n uint32) uint32 {
	return v.ReadLocal(8 + 4*n)
}

// ReadArgString reads argument slot n as a VM address and returns the
// C-string stored there.
func (v *VM) ReadArgString(n uint32) string {
	return string(v.Memory.CStr(v.ReadArg(n)))
}

// PrepareCall sets up the calling convention for invoking the function at
// bytecode address 0 with the given arguments: args are pushed onto the
// program stack in reverse, followed by an 8-byte frame holding the caller's
// program-stack value and the sentinel return address.
func (v *VM) PrepareCall(args []uint32) {
	oldStack := v.ProgramStack
	for i := len(args) - 1; i >= 0; i-- {
		v.ProgramStack -= 4
		v.Memory.Write32(v.ProgramStack, args[i])
	}

	v.ProgramStack -= 8
	v.Memory.Write32(v.ProgramStack+4, oldStack)
	v.Memory.Write32(v.ProgramStack, ReturnSentinel)
	v.PC = 0
	v.OpStack = v.OpStack[:0]
}

// SetResult pushes a syscall's return value onto the operand stack, standing
// in for the return value a callee would have pushed.
func (v *VM) SetResult(result uint32) {
	v.OpStack = append(v.OpStack, result)
}

// Run executes instructions until the outermost LEAVE returns or a CALL
// traps into a syscall.
func (v *VM) Run() ExitReason {
	for {
		if reason, stop := v.Step(); stop {
			return reason
		}
	}
}

func (v *VM) push(x uint32) {
	v.OpStack = append(v.OpStack, x)
}

func (v *VM) pop() uint32 {
	n := len(v.OpStack) - 1
	x := v.OpStack[n]
	v.OpStack = v.OpStack[:n]
	return x
}

// Step executes a single instruction. It returns (reason, true) if
// execution should stop and control return to the host.
func (v *VM) Step() (ExitReason, bool) {
	v.Cycles++
	inst := v.Code[v.PC]
	v.PC++

	switch inst.Opcode {
	case Enter:
		oldStack := v.ProgramStack
		v.ProgramStack -= inst.Arg
		v.Memory.Write32(v.ProgramStack+4, oldStack)

	case Leave:
		v.ProgramStack += inst.Arg
		v.PC = v.Memory.Read32(v.ProgramStack)
		if v.PC == ReturnSentinel {
			v.ProgramStack = v.Memory.Read32(v.ProgramStack + 4)
			return ExitReason{Kind: ExitReturn}, true
		}

	case Call:
		target := v.pop()
		if int32(target) < 0 {
			return ExitReason{Kind: ExitSyscall, Syscall: uint32(-int32(target) - 1)}, true
		}
		v.Memory.Write32(v.ProgramStack, v.PC)
		v.PC = target

	case Push:
		v.push(0)
	case Pop:
		v.pop()
	case Const:
		v.push(inst.Arg)
	case Local:
		v.push(v.ProgramStack + inst.Arg)
	case Jump:
		v.PC = v.pop()

	case Eq:
		v.branchIf(inst.Arg, func(a, b uint32) bool { return a == b })
	case Ne:
		v.branchIf(inst.Arg, func(a, b uint32) bool { return a != b })
	case Lti:
		v.branchIf(inst.Arg, func(a, b uint32) bool { return int32(a) < int32(b) })
	case Lei:
		v.branchIf(inst.Arg, func(a, b uint32) bool { return int32(a) <= int32(b) })
	case Gti:
		v.branchIf(inst.Arg, func(a, b uint32) bool { return int32(a) > int32(b) })
	case Gei:
		v.branchIf(inst.Arg, func(a, b uint32) bool { return int32(a) >= int32(b) })
	case Ltu:
		v.branchIf(inst.Arg, func(a, b uint32) bool { return a < b })
	case Leu:
		v.branchIf(inst.Arg, func(a, b uint32) bool { return a <= b })
	case Gtu:
		v.branchIf(inst.Arg, func(a, b uint32) bool { return a > b })
	case Geu:
		v.branchIf(inst.Arg, func(a, b uint32) bool { return a >= b })
	case Eqf:
		v.branchIfFloat(inst.Arg, func(a, b float32) bool { return a == b })
	case Nef:
		v.branchIfFloat(inst.Arg, func(a, b float32) bool { return a != b })
	case Ltf:
		v.branchIfFloat(inst.Arg, func(a, b float32) bool { return a < b })
	case Lef:
		v.branchIfFloat(inst.Arg, func(a, b float32) bool { return a <= b })
	case Gtf:
		v.branchIfFloat(inst.Arg, func(a, b float32) bool { return a > b })
	case Gef:
		v.branchIfFloat(inst.Arg, func(a, b float32) bool { return a >= b })

	case Load1:
		addr := v.pop()
		v.push(uint32(v.Memory.Read8(addr)))
	case Load2:
		addr := v.pop()
		v.push(uint32(v.Memory.Read16(addr)))
	case Load4:
		addr := v.pop()
		v.push(v.Memory.Read32(addr)) // tolerates unaligned addresses

	case Store1:
		val := uint8(v.pop())
		addr := v.pop()
		v.Memory.Write8(addr, val)
	case Store2:
		val := uint16(v.pop())
		addr := v.pop()
		v.Memory.Write16(addr, val)
	case Store4:
		val := v.pop()
		addr := v.pop()
		v.Memory.Write32(addr, val)

	case Arg:
		val := v.pop()
		v.Memory.Write32(v.ProgramStack+inst.Arg, val)

	case BlockCopy:
		src := v.pop()
		dst := v.pop()
		v.Memory.Memcpy(dst, src, int(inst.Arg))

	case Sex8:
		v.push(uint32(int32(int8(uint8(v.pop())))))
	case Sex16:
		v.push(uint32(int32(int16(uint16(v.pop())))))

	case Negi:
		v.push(uint32(-int32(v.pop())))
	case Add:
		b, a := v.pop(), v.pop()
		v.push(a + b)
	case Sub:
		b, a := v.pop(), v.pop()
		v.push(a - b)
	case Divi:
		b, a := int32(v.pop()), int32(v.pop())
		v.push(uint32(wrappingDivI32(a, b)))
	case Divu:
		b, a := v.pop(), v.pop()
		v.push(a / b)
	case Modi:
		b, a := int32(v.pop()), int32(v.pop())
		v.push(uint32(wrappingRemI32(a, b)))
	case Modu:
		b, a := v.pop(), v.pop()
		v.push(a % b)
	case Muli:
		b, a := int32(v.pop()), int32(v.pop())
		v.push(uint32(a * b))
	case Mulu:
		b, a := v.pop(), v.pop()
		v.push(a * b)
	case Band:
		b, a := v.pop(), v.pop()
		v.push(a & b)
	case Bor:
		b, a := v.pop(), v.pop()
		v.push(a | b)
	case Bxor:
		b, a := v.pop(), v.pop()
		v.push(a ^ b)
	case Bcom:
		v.push(^v.pop())
	case Lsh:
		b, a := v.pop(), v.pop()
		v.push(a << (b & 31))
	case Rshi:
		b, a := v.pop(), int32(v.pop())
		v.push(uint32(a >> (b & 31)))
	case Rshu:
		b, a := v.pop(), v.pop()
		v.push(a >> (b & 31))

	case Negf:
		v.pushFloat(-v.popFloat())
	case Addf:
		b, a := v.popFloat(), v.popFloat()
		v.pushFloat(a + b)
	case Subf:
		b, a := v.popFloat(), v.popFloat()
		v.pushFloat(a - b)
	case Divf:
		b, a := v.popFloat(), v.popFloat()
		v.pushFloat(a / b)
	case Mulf:
		b, a := v.popFloat(), v.popFloat()
		v.pushFloat(a * b)

	case Cvif:
		v.pushFloat(float32(int32(v.pop())))
	case Cvfi:
		v.push(uint32(int32(v.popFloat())))

	case Ignore, Break, Undef:
		// Enumerated for forward compatibility; never executed by any
		// known input. Treated as no-ops.

	default:
		panic(fmt.Sprintf("vm: opcode not implemented: %v", inst.Opcode))
	}

	return ExitReason{}, false
}

func (v *VM) branchIf(target uint32, pred func(a, b uint32) bool) {
	b := v.pop()
	a := v.pop()
	if pred(a, b) {
		v.PC = target
	}
}

func (v *VM) branchIfFloat(target uint32, pred func(a, b float32) bool) {
	b := v.popFloat()
	a := v.popFloat()
	if pred(a, b) {
		v.PC = target
	}
}

func (v *VM) pushFloat(f float32) {
	v.push(floatBits(f))
}

func (v *VM) popFloat() float32 {
	return floatFromBits(v.pop())
}

func wrappingDivI32(a, b int32) int32 {
	if a == -2147483648 && b == -1 {
		return a // two's-complement wraparound
	}
	return a / b
}

func wrappingRemI32(a, b int32) int32 {
	if a == -2147483648 && b == -1 {
		return 0
	}
	return a % b
}
