package x86asm

import (
	"fmt"

	"github.com/oisee/x86bbrw/pkg/x86reg"
)

// SetCC sets dst (an 8-bit register) to 1 if cond holds, 0 otherwise
// (0F 90+cc /r). CondTrue has no SETcc form.
func (a *Assembler) SetCC(cond Condition, dst x86reg.Register) error {
	if dst.Size() != x86reg.Size8 {
		return fmt.Errorf("%w: setcc destination must be 8-bit", ErrInvalidOperand)
	}
	cc, ok := conditionCode(cond)
	if !ok {
		return fmt.Errorf("%w: condition has no SETcc form", ErrInvalidOperand)
	}
	b := &codeBuffer{}
	b.emitAll(0x0F, 0x90|cc)
	if err := b.encodeRM(0, Reg(dst)); err != nil {
		return err
	}
	a.finish(b)
	return nil
}

// XchgRegReg swaps two registers of matching size. The EAX-with-register
// form uses the one-byte 0x90+r short encoding; every other pair uses
// the general 0x86/0x87 r/m,reg form, with an operand-size prefix for
// the 16-bit registers.
func (a *Assembler) XchgRegReg(a1, a2 x86reg.Register) error {
	if a1.Size() != a2.Size() {
		return fmt.Errorf("%w: xchg requires matching operand sizes", ErrInvalidOperand)
	}
	b := &codeBuffer{}
	if a1.Size() == x86reg.Size32 {
		switch x86reg.EAX {
		case a1:
			b.emit(0x90 + a2.Code())
			a.finish(b)
			return nil
		case a2:
			b.emit(0x90 + a1.Code())
			a.finish(b)
			return nil
		}
	}
	if a1.Size() == x86reg.Size16 {
		b.emit(0x66)
	}
	b.emit(0x86 | widthBit(a1.Size()))
	if err := b.encodeRM(a1.Code(), Reg(a2)); err != nil {
		return err
	}
	a.finish(b)
	return nil
}

// XchgMemReg swaps the memory operand dst with the register src
// (0x86/0x87 r/m,reg).
func (a *Assembler) XchgMemReg(dst Operand, src x86reg.Register) error {
	b := &codeBuffer{}
	b.emit(0x86 | widthBit(src.Size()))
	if err := b.encodeRM(src.Code(), dst); err != nil {
		return err
	}
	a.finish(b)
	return nil
}
