package x86asm

import "errors"

// ErrInvalidOperand is returned by operand constructors when the caller
// supplies a structurally forbidden operand (e.g. ESP as index, a
// 16-bit value carrying a reference). It is not confined to construction
// time: emit methods also return it for operand combinations they cannot
// encode (e.g. mismatched register sizes, a 16-bit ALU operand, SetCC
// with a non-byte destination).
var ErrInvalidOperand = errors.New("x86asm: invalid operand")

// ErrEncodingOutOfRange is returned by an emit method when an 8-bit
// displacement or relative branch target cannot reach its destination.
// The caller must retry with a larger encoding.
var ErrEncodingOutOfRange = errors.New("x86asm: encoding out of range")
