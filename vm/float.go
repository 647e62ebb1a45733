package vm

import "math"

// floatBits and floatFromBits move values between the operand stack's
// uint32 slots and IEEE-754 float32, matching the calling convention that
// packs a float's raw bits into the same stack cell as an int.
func floatBits(f float32) uint32 {
	return math.Float32bits(f)
}

func floatFromBits(bits uint32) float32 {
	return math.Float32frombits(bits)
}
