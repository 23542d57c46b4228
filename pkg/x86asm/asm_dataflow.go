package x86asm

import (
	"fmt"

	"github.com/oisee/x86bbrw/pkg/x86reg"
)

// widthBit returns the opcode "w" bit (0 for 8-bit operand forms, 1 for
// 16/32-bit forms) for the given register size.
func widthBit(size x86reg.Size) byte {
	if size == x86reg.Size8 {
		return 0
	}
	return 1
}

// MovRegReg copies src into dst. Per encoding policy this always uses
// the 0x8B (reg,r/m) opcode form with src decoded as the r/m operand,
// never 0x89, so a disassembly of rewritten code is deterministic.
// 16-bit pairs get the operand-size prefix.
func (a *Assembler) MovRegReg(dst, src x86reg.Register) error {
	if dst.Size() != src.Size() {
		return fmt.Errorf("%w: mov requires matching operand sizes", ErrInvalidOperand)
	}
	b := &codeBuffer{}
	if dst.Size() == x86reg.Size16 {
		b.emit(0x66)
	}
	b.emit(0x8A | widthBit(dst.Size()))
	if err := b.encodeRM(dst.Code(), Reg(src)); err != nil {
		return err
	}
	a.finish(b)
	return nil
}

// isAbsoluteMem reports whether op is a bare [disp32] with no base or
// index — the shape the accumulator's direct-memory mov forms accept.
func isAbsoluteMem(op Operand) bool {
	return !op.IsRegister() && op.Base() == x86reg.None && op.Index() == x86reg.None
}

// MovRegMem loads dst from the memory operand src (0x8A/0x8B reg,r/m,
// or the one-byte-shorter direct-memory forms 0xA0/0xA1 when dst is
// AL/EAX and src is an absolute address).
func (a *Assembler) MovRegMem(dst x86reg.Register, src Operand) error {
	b := &codeBuffer{}
	if isAbsoluteMem(src) && (dst == x86reg.AL || dst == x86reg.EAX) {
		disp, _ := src.Displacement()
		b.emit(0xA0 | widthBit(dst.Size()))
		b.emitValue(disp.Num, 4, disp.Ref)
		a.finish(b)
		return nil
	}
	b.emit(0x8A | widthBit(dst.Size()))
	if err := b.encodeRM(dst.Code(), src); err != nil {
		return err
	}
	a.finish(b)
	return nil
}

// MovMemReg stores src into the memory operand dst (0x88/0x89 r/m,reg,
// or 0xA2/0xA3 when src is AL/EAX and dst is an absolute address).
func (a *Assembler) MovMemReg(dst Operand, src x86reg.Register) error {
	b := &codeBuffer{}
	if isAbsoluteMem(dst) && (src == x86reg.AL || src == x86reg.EAX) {
		disp, _ := dst.Displacement()
		b.emit(0xA2 | widthBit(src.Size()))
		b.emitValue(disp.Num, 4, disp.Ref)
		a.finish(b)
		return nil
	}
	b.emit(0x88 | widthBit(src.Size()))
	if err := b.encodeRM(src.Code(), dst); err != nil {
		return err
	}
	a.finish(b)
	return nil
}

// MovRegImm loads an immediate into a register (B0+r ib / B8+r id).
func (a *Assembler) MovRegImm(dst x86reg.Register, imm Immediate) error {
	b := &codeBuffer{}
	switch dst.Size() {
	case x86reg.Size8:
		if imm.Size != Size8 {
			return fmt.Errorf("%w: 8-bit mov requires an 8-bit immediate", ErrInvalidOperand)
		}
		b.emit(0xB0 + dst.Code())
		b.emitValue(imm.Num, 1, imm.Ref)
	case x86reg.Size32:
		if imm.Size != Size32 {
			return fmt.Errorf("%w: 32-bit mov requires a 32-bit immediate", ErrInvalidOperand)
		}
		b.emit(0xB8 + dst.Code())
		b.emitValue(imm.Num, 4, imm.Ref)
	default:
		return fmt.Errorf("%w: mov does not support 16-bit registers", ErrInvalidOperand)
	}
	a.finish(b)
	return nil
}

// MovMemImm stores an immediate into a memory operand (0xC6/0xC7 /0).
func (a *Assembler) MovMemImm(dst Operand, imm Immediate) error {
	b := &codeBuffer{}
	switch imm.Size {
	case Size8:
		b.emit(0xC6)
		if err := b.encodeRM(0, dst); err != nil {
			return err
		}
		b.emitValue(imm.Num, 1, imm.Ref)
	case Size32:
		b.emit(0xC7)
		if err := b.encodeRM(0, dst); err != nil {
			return err
		}
		b.emitValue(imm.Num, 4, imm.Ref)
	default:
		return fmt.Errorf("%w: mov requires an 8 or 32-bit immediate", ErrInvalidOperand)
	}
	a.finish(b)
	return nil
}

// MovzxMem zero-extends the memory byte or word at src into the 32-bit
// register dst (0F B6/B7 /r).
func (a *Assembler) MovzxMem(dst x86reg.Register, src Operand, srcSize x86reg.Size) error {
	if dst.Size() != x86reg.Size32 {
		return fmt.Errorf("%w: movzx destination must be 32-bit", ErrInvalidOperand)
	}
	b := &codeBuffer{}
	switch srcSize {
	case x86reg.Size8:
		b.emitAll(0x0F, 0xB6)
	case x86reg.Size16:
		b.emitAll(0x0F, 0xB7)
	default:
		return fmt.Errorf("%w: movzx source must be 8 or 16-bit", ErrInvalidOperand)
	}
	if err := b.encodeRM(dst.Code(), src); err != nil {
		return err
	}
	a.finish(b)
	return nil
}

// MovzxReg zero-extends the register src into the 32-bit register dst.
func (a *Assembler) MovzxReg(dst, src x86reg.Register) error {
	if dst.Size() != x86reg.Size32 {
		return fmt.Errorf("%w: movzx destination must be 32-bit", ErrInvalidOperand)
	}
	b := &codeBuffer{}
	switch src.Size() {
	case x86reg.Size8:
		b.emitAll(0x0F, 0xB6)
	case x86reg.Size16:
		b.emitAll(0x0F, 0xB7)
	default:
		return fmt.Errorf("%w: movzx source must be 8 or 16-bit", ErrInvalidOperand)
	}
	if err := b.encodeRM(dst.Code(), Reg(src)); err != nil {
		return err
	}
	a.finish(b)
	return nil
}

// Lea computes the effective address of a memory operand into a 32-bit
// register (8D /r). src must not itself be a bare register.
func (a *Assembler) Lea(dst x86reg.Register, src Operand) error {
	if dst.Size() != x86reg.Size32 {
		return fmt.Errorf("%w: lea destination must be 32-bit", ErrInvalidOperand)
	}
	if src.IsRegister() {
		return fmt.Errorf("%w: lea source must be a memory operand", ErrInvalidOperand)
	}
	b := &codeBuffer{}
	b.emit(0x8D)
	if err := b.encodeRM(dst.Code(), src); err != nil {
		return err
	}
	a.finish(b)
	return nil
}

// PushReg pushes a 32-bit register (0x50+r).
func (a *Assembler) PushReg(r x86reg.Register) error {
	if r.Size() != x86reg.Size32 {
		return fmt.Errorf("%w: push requires a 32-bit register", ErrInvalidOperand)
	}
	b := &codeBuffer{}
	b.emit(0x50 + r.Code())
	a.finish(b)
	return nil
}

// PushMem pushes the 32-bit value at a memory operand (FF /6).
func (a *Assembler) PushMem(src Operand) error {
	b := &codeBuffer{}
	b.emit(0xFF)
	if err := b.encodeRM(6, src); err != nil {
		return err
	}
	a.finish(b)
	return nil
}

// PushImm pushes an immediate, choosing 0x6A ib or 0x68 id from imm.Size.
func (a *Assembler) PushImm(imm Immediate) error {
	b := &codeBuffer{}
	switch imm.Size {
	case Size8:
		b.emit(0x6A)
		b.emitValue(imm.Num, 1, imm.Ref)
	case Size32:
		b.emit(0x68)
		b.emitValue(imm.Num, 4, imm.Ref)
	default:
		return fmt.Errorf("%w: push requires an 8 or 32-bit immediate", ErrInvalidOperand)
	}
	a.finish(b)
	return nil
}

// PopReg pops into a 32-bit register (0x58+r).
func (a *Assembler) PopReg(r x86reg.Register) error {
	if r.Size() != x86reg.Size32 {
		return fmt.Errorf("%w: pop requires a 32-bit register", ErrInvalidOperand)
	}
	b := &codeBuffer{}
	b.emit(0x58 + r.Code())
	a.finish(b)
	return nil
}

// PopMem pops into a memory operand (8F /0).
func (a *Assembler) PopMem(dst Operand) error {
	b := &codeBuffer{}
	b.emit(0x8F)
	if err := b.encodeRM(0, dst); err != nil {
		return err
	}
	a.finish(b)
	return nil
}

// Pushad emits PUSHAD (0x60).
func (a *Assembler) Pushad() error { return a.emitSingle(0x60) }

// Popad emits POPAD (0x61).
func (a *Assembler) Popad() error { return a.emitSingle(0x61) }

// Pushfd emits PUSHFD (0x9C).
func (a *Assembler) Pushfd() error { return a.emitSingle(0x9C) }

// Popfd emits POPFD (0x9D).
func (a *Assembler) Popfd() error { return a.emitSingle(0x9D) }

// Lahf emits LAHF (0x9F).
func (a *Assembler) Lahf() error { return a.emitSingle(0x9F) }

// Sahf emits SAHF (0x9E).
func (a *Assembler) Sahf() error { return a.emitSingle(0x9E) }

func (a *Assembler) emitSingle(opcode byte) error {
	b := &codeBuffer{}
	b.emit(opcode)
	a.finish(b)
	return nil
}
