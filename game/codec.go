package game

import (
	"bytes"
	"encoding/binary"

	"github.com/massung/tasreplay/memory"
)

// readStruct decodes a fixed-layout struct out of VM memory at addr.
func readStruct(m *memory.Memory, addr uint32, v interface{}) {
	size := binary.Size(v)
	if size < 0 {
		panic("game: type has no fixed binary size")
	}
	r := bytes.NewReader(m.Slice(int(addr), size))
	if err := binary.Read(r, binary.LittleEndian, v); err != nil {
		panic("game: decode struct: " + err.Error())
	}
}

// writeStruct encodes a fixed-layout struct into VM memory at addr.
func writeStruct(m *memory.Memory, addr uint32, v interface{}) {
	size := binary.Size(v)
	if size < 0 {
		panic("game: type has no fixed binary size")
	}
	var buf bytes.Buffer
	buf.Grow(size)
	if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
		panic("game: encode struct: " + err.Error())
	}
	dst := m.SliceMut(int(addr), size)
	copy(dst, buf.Bytes())
}

// mustBinarySize returns v's encoded size, panicking if v isn't a fixed-size
// layout. Used for struct offsets computed once at package init.
func mustBinarySize(v interface{}) int {
	size := binary.Size(v)
	if size < 0 {
		panic("game: type has no fixed binary size")
	}
	return size
}
