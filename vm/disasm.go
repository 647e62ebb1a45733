package vm

import (
	"fmt"
	"strings"
)

// Disassemble renders code as a newline-joined listing, one line per
// instruction, address-prefixed, in the style of a debugger's `disas`.
func Disassemble(code []Instruction) string {
	var b strings.Builder
	for addr, inst := range code {
		fmt.Fprintf(&b, "%s\n", DisassembleOne(addr, inst))
	}
	return b.String()
}

// DisassembleOne formats a single instruction at the given address.
func DisassembleOne(addr int, inst Instruction) string {
	switch immediateWidth(inst.Opcode) {
	case 4, 1:
		return fmt.Sprintf("%04x  %-10s %d", addr, inst.Opcode, inst.Arg)
	default:
		return fmt.Sprintf("%04x  %-10s", addr, inst.Opcode)
	}
}
