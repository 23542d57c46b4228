package x86asm

import "fmt"

// canonicalNop holds the byte sequences for the canonical multi-byte NOP
// forms this assembler knows how to emit directly (lengths 1, 4, 5, 7,
// and 8), reproduced from the original assembler's nop-padding table.
// Intermediate lengths are built by prefixing the next-smaller form with
// 0x66 (operand-size override), which is itself a valid no-op prefix.
var canonicalNop = map[int][]byte{
	1: {0x90},
	4: {0x0F, 0x1F, 0x40, 0x00},
	5: {0x0F, 0x1F, 0x44, 0x00, 0x00},
	7: {0x0F, 0x1F, 0x80, 0x00, 0x00, 0x00, 0x00},
	8: {0x0F, 0x1F, 0x84, 0x00, 0x00, 0x00, 0x00, 0x00},
}

// nopChunk returns the bytes for a single NOP of exactly n bytes, where n
// is between 1 and 9 inclusive.
func nopChunk(n int) []byte {
	if bytes, ok := canonicalNop[n]; ok {
		return bytes
	}
	// n is 2, 3, 6 or 9: prefix the (n-1)-byte form with 0x66 (for n=3
	// that form is itself the prefixed 2-byte one).
	return append([]byte{0x66}, nopChunk(n-1)...)
}

// Nop emits a sequence of bytes that decode as no-ops, totaling exactly n
// bytes, chunked into the canonical multi-byte forms (maximum chunk size
// 9 bytes).
func (a *Assembler) Nop(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: negative nop length", ErrInvalidOperand)
	}
	for n > 0 {
		chunk := n
		if chunk > 9 {
			chunk = 9
		}
		b := &codeBuffer{}
		b.emitAll(nopChunk(chunk)...)
		a.finish(b)
		n -= chunk
	}
	return nil
}

// Call emits a direct near call (E8 rel32). target.Num is the absolute
// address of the call's destination; the assembler computes the
// relative displacement per spec §4.1 (x86 has no rel8 call form, so
// target.Size must be Size32 — callers that need an 8-bit relative call
// should use a short jmp trampoline instead).
func (a *Assembler) Call(target Immediate) error {
	if target.Size != Size32 {
		return fmt.Errorf("%w: call requires a 32-bit relative displacement", ErrInvalidOperand)
	}
	b := &codeBuffer{}
	rel, err := a.pcRelative(target.Value, 5, 4)
	if err != nil {
		return err
	}
	b.emit(0xE8)
	b.emitValue(rel, 4, target.Ref)
	a.finish(b)
	return nil
}

// CallIndirect emits an indirect call through a register or memory
// operand (FF /2).
func (a *Assembler) CallIndirect(target Operand) error {
	b := &codeBuffer{}
	b.emit(0xFF)
	if err := b.encodeRM(2, target); err != nil {
		return err
	}
	a.finish(b)
	return nil
}

// Ret emits a near return with no stack adjustment (C3).
func (a *Assembler) Ret() error {
	b := &codeBuffer{}
	b.emit(0xC3)
	a.finish(b)
	return nil
}

// RetImm emits a near return that pops n additional bytes from the stack
// (C2 iw).
func (a *Assembler) RetImm(n uint16) error {
	b := &codeBuffer{}
	b.emit(0xC2)
	b.emitValue(uint32(n), 2, nil)
	a.finish(b)
	return nil
}

// Jmp emits a direct unconditional jump, choosing the rel8 (EB) or rel32
// (E9) form from target.Size. target.Num is the absolute destination
// address; the assembler computes the relative displacement per spec
// §4.1, returning ErrEncodingOutOfRange if an 8-bit form can't reach it.
func (a *Assembler) Jmp(target Immediate) error {
	b := &codeBuffer{}
	switch target.Size {
	case Size8:
		rel, err := a.pcRelative(target.Value, 2, 1)
		if err != nil {
			return err
		}
		b.emit(0xEB)
		b.emitValue(rel, 1, target.Ref)
	case Size32:
		rel, err := a.pcRelative(target.Value, 5, 4)
		if err != nil {
			return err
		}
		b.emit(0xE9)
		b.emitValue(rel, 4, target.Ref)
	default:
		return fmt.Errorf("%w: jmp requires an 8 or 32-bit relative displacement", ErrInvalidOperand)
	}
	a.finish(b)
	return nil
}

// JmpIndirect emits an indirect jump through a register or memory operand
// (FF /4).
func (a *Assembler) JmpIndirect(target Operand) error {
	b := &codeBuffer{}
	b.emit(0xFF)
	if err := b.encodeRM(4, target); err != nil {
		return err
	}
	a.finish(b)
	return nil
}

// J emits a conditional branch, choosing the rel8 (70+cc) or rel32
// (0F 80+cc) form from target.Size. CondTrue is rejected — an
// unconditional jump must go through Jmp. target.Num is the absolute
// destination address; the assembler computes the relative displacement
// per spec §4.1 (testable scenario S4), returning ErrEncodingOutOfRange
// if an 8-bit form can't reach it.
func (a *Assembler) J(cond Condition, target Immediate) error {
	cc, ok := conditionCode(cond)
	if !ok {
		return fmt.Errorf("%w: condition has no encodable branch form", ErrInvalidOperand)
	}
	b := &codeBuffer{}
	switch target.Size {
	case Size8:
		rel, err := a.pcRelative(target.Value, 2, 1)
		if err != nil {
			return err
		}
		b.emit(0x70 | cc)
		b.emitValue(rel, 1, target.Ref)
	case Size32:
		rel, err := a.pcRelative(target.Value, 6, 4)
		if err != nil {
			return err
		}
		b.emitAll(0x0F, 0x80|cc)
		b.emitValue(rel, 4, target.Ref)
	default:
		return fmt.Errorf("%w: conditional jump requires an 8 or 32-bit relative displacement", ErrInvalidOperand)
	}
	a.finish(b)
	return nil
}

// Jecxz emits JECXZ, an rel8-only branch taken when ECX is zero.
// target.Num is the absolute destination address.
func (a *Assembler) Jecxz(target Immediate) error {
	if target.Size != Size8 {
		return fmt.Errorf("%w: jecxz requires an 8-bit relative displacement", ErrInvalidOperand)
	}
	b := &codeBuffer{}
	rel, err := a.pcRelative(target.Value, 2, 1)
	if err != nil {
		return err
	}
	b.emit(0xE3)
	b.emitValue(rel, 1, target.Ref)
	a.finish(b)
	return nil
}

// LoopKind selects among the LOOP family's three decrement-and-test
// policies.
type LoopKind uint8

const (
	Loop   LoopKind = iota
	LoopE           // LOOPE/LOOPZ: loop while ECX != 0 && ZF
	LoopNE          // LOOPNE/LOOPNZ: loop while ECX != 0 && !ZF
)

// LoopInst emits one of the LOOP/LOOPE/LOOPNE forms, all rel8-only.
// target.Num is the absolute destination address.
func (a *Assembler) LoopInst(kind LoopKind, target Immediate) error {
	if target.Size != Size8 {
		return fmt.Errorf("%w: loop requires an 8-bit relative displacement", ErrInvalidOperand)
	}
	var opcode byte
	switch kind {
	case Loop:
		opcode = 0xE2
	case LoopE:
		opcode = 0xE1
	case LoopNE:
		opcode = 0xE0
	default:
		return fmt.Errorf("%w: unknown loop kind", ErrInvalidOperand)
	}
	b := &codeBuffer{}
	rel, err := a.pcRelative(target.Value, 2, 1)
	if err != nil {
		return err
	}
	b.emit(opcode)
	b.emitValue(rel, 1, target.Ref)
	a.finish(b)
	return nil
}
