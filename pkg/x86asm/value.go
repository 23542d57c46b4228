// Package x86asm implements an x86-32 assembler: a stateful cursor that
// emits instruction bytes for a defined mnemonic subset, preserving
// symbolic references embedded in immediates and displacements, and
// reporting each emitted instruction to an injected Serializer.
package x86asm

import "fmt"

// Token is an opaque symbolic-reference marker the caller attaches to a
// Value. The assembler never interprets it — it only tracks the byte
// offset at which the value carrying it was encoded and forwards the
// (offset, token) pair to the Serializer. Tokens must be comparable.
type Token any

// ValueSize is the width of an immediate or displacement value. SizeNone
// means "no value" and is only meaningful for displacement-less operands.
type ValueSize uint8

const (
	SizeNone ValueSize = iota
	Size8
	Size16
	Size32
)

// Value is the shared representation of an immediate or a displacement:
// a 32-bit number, an explicit size, and an optional symbolic reference.
//
// Two values are equal iff Num, Size, and Ref all match.
type Value struct {
	Num  uint32
	Size ValueSize
	Ref  Token // nil means no reference
}

// NewValue constructs a Value, enforcing that a non-nil reference never
// carries Size16 (no x86 addressing mode accepts a 16-bit symbolic
// reference).
func NewValue(num uint32, size ValueSize, ref Token) (Value, error) {
	if ref != nil && size == Size16 {
		return Value{}, fmt.Errorf("%w: 16-bit value cannot carry a reference", ErrInvalidOperand)
	}
	return Value{Num: num, Size: size, Ref: ref}, nil
}

// Equal reports whether v and o have identical Num, Size, and Ref.
func (v Value) Equal(o Value) bool {
	return v.Num == o.Num && v.Size == o.Size && v.Ref == o.Ref
}

// HasReference reports whether v carries a symbolic reference.
func (v Value) HasReference() bool {
	return v.Ref != nil
}

// Immediate and Displacement share Value's representation but are
// distinct types so the assembler's API cannot be called with one where
// the other is required.
type Immediate struct{ Value }

type Displacement struct{ Value }

// Imm8/Imm16/Imm32 construct plain (non-referenced) immediates.
func Imm8(v uint8) Immediate   { return Immediate{Value{Num: uint32(v), Size: Size8}} }
func Imm16(v uint16) Immediate { return Immediate{Value{Num: uint32(v), Size: Size16}} }
func Imm32(v uint32) Immediate { return Immediate{Value{Num: v, Size: Size32}} }

// ImmRef32 constructs a 32-bit immediate carrying a symbolic reference.
func ImmRef32(v uint32, ref Token) Immediate {
	return Immediate{Value{Num: v, Size: Size32, Ref: ref}}
}

// Disp8/Disp32 construct plain (non-referenced) displacements.
func Disp8(v int8) Displacement   { return Displacement{Value{Num: uint32(uint8(v)), Size: Size8}} }
func Disp32(v int32) Displacement { return Displacement{Value{Num: uint32(v), Size: Size32}} }

// DispRef32 constructs a 32-bit displacement carrying a symbolic reference.
func DispRef32(v int32, ref Token) Displacement {
	return Displacement{Value{Num: uint32(v), Size: Size32, Ref: ref}}
}

func (d Displacement) asInt32() int32 { return int32(d.Num) }
