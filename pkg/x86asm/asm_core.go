package x86asm

import (
	"fmt"

	"github.com/oisee/x86bbrw/pkg/x86reg"
)

// Serializer is the sink to which the assembler reports each emitted
// instruction. No requirement on thread-safety is placed on it; it is
// called synchronously, once per emit method, from a single goroutine.
type Serializer interface {
	Append(location uint32, bytes []byte, refOffsets []uint16, refs []Token)
}

// Assembler is a stateful cursor that emits x86-32 instruction bytes to
// an injected Serializer. Location is the notional address at which the
// next emitted instruction starts; every emit method advances it by the
// encoded size of what it just emitted.
type Assembler struct {
	Location uint32
	Sink     Serializer
}

// NewAssembler creates an Assembler starting at the given location.
func NewAssembler(location uint32, sink Serializer) *Assembler {
	return &Assembler{Location: location, Sink: sink}
}

// codeBuffer accumulates the bytes of a single instruction plus the
// offsets (within that instruction) of any displacement/immediate that
// carries a symbolic reference.
type codeBuffer struct {
	bytes      [15]byte
	len        uint8
	refOffsets []uint16
	refs       []Token
}

func (b *codeBuffer) emit(v byte) {
	if b.len >= 15 {
		panic("x86asm: instruction exceeds 15 bytes")
	}
	b.bytes[b.len] = v
	b.len++
}

func (b *codeBuffer) emitAll(vs ...byte) {
	for _, v := range vs {
		b.emit(v)
	}
}

func (b *codeBuffer) addRef(offset uint16, tok Token) {
	b.refOffsets = append(b.refOffsets, offset)
	b.refs = append(b.refs, tok)
}

// emitValue writes num using width bytes (1, 2, or 4) in little-endian
// order, recording a reference at the value's starting offset if ref is
// non-nil.
func (b *codeBuffer) emitValue(num uint32, width int, ref Token) {
	off := uint16(b.len)
	switch width {
	case 1:
		b.emit(byte(num))
	case 2:
		b.emit(byte(num))
		b.emit(byte(num >> 8))
	case 4:
		b.emit(byte(num))
		b.emit(byte(num >> 8))
		b.emit(byte(num >> 16))
		b.emit(byte(num >> 24))
	default:
		panic("x86asm: unsupported value width")
	}
	if ref != nil {
		b.addRef(off, ref)
	}
}

func widthOf(size ValueSize) int {
	switch size {
	case Size8:
		return 1
	case Size16:
		return 2
	case Size32:
		return 4
	default:
		panic("x86asm: value has no size")
	}
}

// finish reports the accumulated instruction to the sink and advances
// a.Location by its length.
func (a *Assembler) finish(b *codeBuffer) {
	bytes := append([]byte(nil), b.bytes[:b.len]...)
	a.Sink.Append(a.Location, bytes, b.refOffsets, b.refs)
	a.Location += uint32(b.len)
}

// pcRelative computes the PC-relative displacement for a branch/call
// target per spec §4.1: the caller-supplied value is an absolute target
// address, and the instruction encodes
// relative = target − (a.Location + instrSize), where instrSize is the
// full encoded length of the instruction being emitted (known up front
// since every supported branch form has a fixed length once its
// encoding, i.e. rel8 vs rel32, is chosen). width is the byte width of
// the relative field being encoded (1 or 4); for width 1 the computed
// displacement must fit in [-128, 127] or ErrEncodingOutOfRange is
// returned, matching testable property S4.
func (a *Assembler) pcRelative(target Value, instrSize uint32, width int) (uint32, error) {
	rel := int64(target.Num) - int64(a.Location) - int64(instrSize)
	if width == 1 && (rel < -128 || rel > 127) {
		return 0, fmt.Errorf("%w: relative target does not fit an 8-bit displacement", ErrEncodingOutOfRange)
	}
	return uint32(rel), nil
}

// ModR/M mod field values.
const (
	modNoDisp  byte = 0b00
	modDisp8   byte = 0b01
	modDisp32  byte = 0b10
	modReg     byte = 0b11
	rmNeedsSIB byte = 0b100
	rmDispOnly byte = 0b101
)

func modrmByte(mod, reg, rm byte) byte {
	return (mod << 6) | ((reg & 0x7) << 3) | (rm & 0x7)
}

func sibByte(scale, index, base byte) byte {
	return (scale << 6) | ((index & 0x7) << 3) | (base & 0x7)
}

func scaleCode(scale uint8) byte {
	switch scale {
	case 1:
		return 0
	case 2:
		return 1
	case 4:
		return 2
	case 8:
		return 3
	default:
		panic("x86asm: invalid scale")
	}
}

// encodeRM appends the ModR/M byte (and SIB/displacement bytes as
// needed) for op, with regField placed in the ModR/M reg bits (either a
// second register operand or an opcode-extension group number).
func (b *codeBuffer) encodeRM(regField byte, op Operand) error {
	if op.IsRegister() {
		b.emit(modrmByte(modReg, regField, op.Register().Code()))
		return nil
	}

	base, index := op.Base(), op.Index()
	disp, hasDisp := op.Displacement()

	switch {
	case base == x86reg.None && index == x86reg.None:
		// Absolute [disp32].
		if !hasDisp || disp.Size != Size32 {
			return fmt.Errorf("%w: absolute memory operand requires a 32-bit displacement", ErrInvalidOperand)
		}
		b.emit(modrmByte(modNoDisp, regField, rmDispOnly))
		b.emitValue(disp.Num, 4, disp.Ref)
		return nil

	case base == x86reg.None:
		// [index*scale + disp32], no base — disp32 required even if zero.
		b.emit(modrmByte(modNoDisp, regField, rmNeedsSIB))
		b.emit(sibByte(scaleCode(op.Scale()), index.Code(), 0b101))
		if hasDisp {
			if disp.Size != Size32 {
				return fmt.Errorf("%w: base-less scaled operand requires a 32-bit displacement", ErrInvalidOperand)
			}
			b.emitValue(disp.Num, 4, disp.Ref)
		} else {
			b.emitValue(0, 4, nil)
		}
		return nil

	case index != x86reg.None:
		// [base + index*scale (+ disp)].
		mod, dispW := b.classifyDisp(base, disp, hasDisp)
		b.emit(modrmByte(mod, regField, rmNeedsSIB))
		b.emit(sibByte(scaleCode(op.Scale()), index.Code(), base.Code()))
		b.emitDispFor(mod, dispW, disp)
		return nil

	case base == x86reg.ESP:
		// [esp (+ disp)] always requires a SIB byte.
		mod, dispW := b.classifyDisp(base, disp, hasDisp)
		b.emit(modrmByte(mod, regField, rmNeedsSIB))
		b.emit(sibByte(0, 0b100, base.Code()))
		b.emitDispFor(mod, dispW, disp)
		return nil

	default:
		mod, dispW := b.classifyDisp(base, disp, hasDisp)
		b.emit(modrmByte(mod, regField, base.Code()))
		b.emitDispFor(mod, dispW, disp)
		return nil
	}
}

// classifyDisp picks the ModR/M mod field and the displacement width to
// encode, applying the "[ebp] with no displacement" overload (spec §4.1):
// the no-disp/base=EBP ModR/M slot is reused for disp32-only, so a bare
// [ebp] is always encoded as [ebp+0i8].
func (b *codeBuffer) classifyDisp(base x86reg.Register, disp Displacement, hasDisp bool) (mod byte, width int) {
	if !hasDisp {
		if base == x86reg.EBP {
			return modDisp8, 1
		}
		return modNoDisp, 0
	}
	switch disp.Size {
	case Size8:
		return modDisp8, 1
	default:
		return modDisp32, 4
	}
}

func (b *codeBuffer) emitDispFor(mod byte, width int, disp Displacement) {
	switch width {
	case 0:
		return
	case 1:
		b.emitValue(disp.Num, 1, disp.Ref)
	case 4:
		b.emitValue(disp.Num, 4, disp.Ref)
	}
}
