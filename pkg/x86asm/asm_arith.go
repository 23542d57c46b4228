package x86asm

import (
	"fmt"

	"github.com/oisee/x86bbrw/pkg/x86reg"
)

// aluGroup identifies one of the six two-operand ALU opcode groups this
// assembler supports; the group number matches the ModR/M reg-field
// extension used by the 0x80/0x81/0x83 immediate-group opcodes. ADC (2)
// and SBB (3) are intentionally absent — not in the supported mnemonic
// set.
type aluGroup uint8

const (
	groupAdd aluGroup = 0
	groupOr  aluGroup = 1
	groupAnd aluGroup = 4
	groupSub aluGroup = 5
	groupXor aluGroup = 6
	groupCmp aluGroup = 7
)

// aluRegReg encodes dst ALUOP= src using the reg,r/m opcode form (group<<3)|0x02/0x03,
// matching this assembler's "prefer reg,r/m" convention for register/register forms.
func (a *Assembler) aluRegReg(g aluGroup, dst, src x86reg.Register) error {
	if dst.Size() != src.Size() {
		return fmt.Errorf("%w: operand sizes must match", ErrInvalidOperand)
	}
	if dst.Size() == x86reg.Size16 {
		return fmt.Errorf("%w: ALU ops do not support 16-bit operands", ErrInvalidOperand)
	}
	b := &codeBuffer{}
	b.emit(byte(g)<<3 | 0x02 | widthBit(dst.Size()))
	if err := b.encodeRM(dst.Code(), Reg(src)); err != nil {
		return err
	}
	a.finish(b)
	return nil
}

// aluRegMem encodes dst ALUOP= [mem] (reg,r/m form).
func (a *Assembler) aluRegMem(g aluGroup, dst x86reg.Register, src Operand) error {
	if dst.Size() == x86reg.Size16 {
		return fmt.Errorf("%w: ALU ops do not support 16-bit operands", ErrInvalidOperand)
	}
	b := &codeBuffer{}
	b.emit(byte(g)<<3 | 0x02 | widthBit(dst.Size()))
	if err := b.encodeRM(dst.Code(), src); err != nil {
		return err
	}
	a.finish(b)
	return nil
}

// aluMemReg encodes [mem] ALUOP= src (r/m,reg form).
func (a *Assembler) aluMemReg(g aluGroup, dst Operand, src x86reg.Register) error {
	if src.Size() == x86reg.Size16 {
		return fmt.Errorf("%w: ALU ops do not support 16-bit operands", ErrInvalidOperand)
	}
	b := &codeBuffer{}
	b.emit(byte(g)<<3 | 0x00 | widthBit(src.Size()))
	if err := b.encodeRM(src.Code(), dst); err != nil {
		return err
	}
	a.finish(b)
	return nil
}

// aluRegImm encodes dst ALUOP= imm using the 0x80/0x81/0x83 immediate
// group, choosing the sign-extended imm8 form (0x83) for 32-bit
// destinations whenever imm fits in 8 bits.
func (a *Assembler) aluRegImm(g aluGroup, dst x86reg.Register, imm Immediate) error {
	return a.aluOperandImm(g, Reg(dst), dst.Size(), imm)
}

// aluMemImm encodes [mem] ALUOP= imm.
func (a *Assembler) aluMemImm(g aluGroup, dst Operand, size x86reg.Size, imm Immediate) error {
	return a.aluOperandImm(g, dst, size, imm)
}

func (a *Assembler) aluOperandImm(g aluGroup, dst Operand, size x86reg.Size, imm Immediate) error {
	b := &codeBuffer{}
	switch size {
	case x86reg.Size8:
		if imm.Size != Size8 {
			return fmt.Errorf("%w: 8-bit ALU op requires an 8-bit immediate", ErrInvalidOperand)
		}
		if dst.IsRegister() && dst.Register() == x86reg.AL {
			// AL's accumulator short form: opcode (g<<3)|0x04, no ModR/M.
			b.emit(byte(g)<<3 | 0x04)
			b.emitValue(imm.Num, 1, imm.Ref)
			break
		}
		b.emit(0x80)
		if err := b.encodeRM(byte(g), dst); err != nil {
			return err
		}
		b.emitValue(imm.Num, 1, imm.Ref)
	case x86reg.Size32:
		if imm.Size != Size32 {
			return fmt.Errorf("%w: 32-bit ALU op requires a 32-bit immediate", ErrInvalidOperand)
		}
		if imm.Ref == nil && fitsInt8(imm.Num) {
			// The sign-extended imm8 form beats even EAX's accumulator
			// form on length, so it wins whenever the value fits.
			b.emit(0x83)
			if err := b.encodeRM(byte(g), dst); err != nil {
				return err
			}
			b.emitValue(imm.Num&0xFF, 1, nil)
		} else if dst.IsRegister() && dst.Register() == x86reg.EAX {
			// EAX's accumulator short form: opcode (g<<3)|0x05, no ModR/M.
			b.emit(byte(g)<<3 | 0x05)
			b.emitValue(imm.Num, 4, imm.Ref)
		} else {
			b.emit(0x81)
			if err := b.encodeRM(byte(g), dst); err != nil {
				return err
			}
			b.emitValue(imm.Num, 4, imm.Ref)
		}
	default:
		return fmt.Errorf("%w: ALU ops do not support 16-bit operands", ErrInvalidOperand)
	}
	a.finish(b)
	return nil
}

func fitsInt8(num uint32) bool {
	v := int32(num)
	return v >= -128 && v <= 127
}

// Add/Sub/Cmp/And/Or/Xor each expose the three operand shapes the
// peephole/DCE passes need: register/register, register/memory (and
// its reverse), and operand/immediate.

func (a *Assembler) AddRegReg(dst, src x86reg.Register) error { return a.aluRegReg(groupAdd, dst, src) }
func (a *Assembler) AddRegMem(dst x86reg.Register, src Operand) error {
	return a.aluRegMem(groupAdd, dst, src)
}
func (a *Assembler) AddMemReg(dst Operand, src x86reg.Register) error {
	return a.aluMemReg(groupAdd, dst, src)
}
func (a *Assembler) AddRegImm(dst x86reg.Register, imm Immediate) error {
	return a.aluRegImm(groupAdd, dst, imm)
}
func (a *Assembler) AddMemImm(dst Operand, size x86reg.Size, imm Immediate) error {
	return a.aluMemImm(groupAdd, dst, size, imm)
}

func (a *Assembler) SubRegReg(dst, src x86reg.Register) error { return a.aluRegReg(groupSub, dst, src) }
func (a *Assembler) SubRegMem(dst x86reg.Register, src Operand) error {
	return a.aluRegMem(groupSub, dst, src)
}
func (a *Assembler) SubMemReg(dst Operand, src x86reg.Register) error {
	return a.aluMemReg(groupSub, dst, src)
}
func (a *Assembler) SubRegImm(dst x86reg.Register, imm Immediate) error {
	return a.aluRegImm(groupSub, dst, imm)
}
func (a *Assembler) SubMemImm(dst Operand, size x86reg.Size, imm Immediate) error {
	return a.aluMemImm(groupSub, dst, size, imm)
}

func (a *Assembler) CmpRegReg(dst, src x86reg.Register) error { return a.aluRegReg(groupCmp, dst, src) }
func (a *Assembler) CmpRegMem(dst x86reg.Register, src Operand) error {
	return a.aluRegMem(groupCmp, dst, src)
}
func (a *Assembler) CmpMemReg(dst Operand, src x86reg.Register) error {
	return a.aluMemReg(groupCmp, dst, src)
}
func (a *Assembler) CmpRegImm(dst x86reg.Register, imm Immediate) error {
	return a.aluRegImm(groupCmp, dst, imm)
}
func (a *Assembler) CmpMemImm(dst Operand, size x86reg.Size, imm Immediate) error {
	return a.aluMemImm(groupCmp, dst, size, imm)
}

func (a *Assembler) AndRegReg(dst, src x86reg.Register) error { return a.aluRegReg(groupAnd, dst, src) }
func (a *Assembler) AndRegMem(dst x86reg.Register, src Operand) error {
	return a.aluRegMem(groupAnd, dst, src)
}
func (a *Assembler) AndMemReg(dst Operand, src x86reg.Register) error {
	return a.aluMemReg(groupAnd, dst, src)
}
func (a *Assembler) AndRegImm(dst x86reg.Register, imm Immediate) error {
	return a.aluRegImm(groupAnd, dst, imm)
}
func (a *Assembler) AndMemImm(dst Operand, size x86reg.Size, imm Immediate) error {
	return a.aluMemImm(groupAnd, dst, size, imm)
}

func (a *Assembler) OrRegReg(dst, src x86reg.Register) error { return a.aluRegReg(groupOr, dst, src) }
func (a *Assembler) OrRegMem(dst x86reg.Register, src Operand) error {
	return a.aluRegMem(groupOr, dst, src)
}
func (a *Assembler) OrMemReg(dst Operand, src x86reg.Register) error {
	return a.aluMemReg(groupOr, dst, src)
}
func (a *Assembler) OrRegImm(dst x86reg.Register, imm Immediate) error {
	return a.aluRegImm(groupOr, dst, imm)
}
func (a *Assembler) OrMemImm(dst Operand, size x86reg.Size, imm Immediate) error {
	return a.aluMemImm(groupOr, dst, size, imm)
}

func (a *Assembler) XorRegReg(dst, src x86reg.Register) error { return a.aluRegReg(groupXor, dst, src) }
func (a *Assembler) XorRegMem(dst x86reg.Register, src Operand) error {
	return a.aluRegMem(groupXor, dst, src)
}
func (a *Assembler) XorMemReg(dst Operand, src x86reg.Register) error {
	return a.aluMemReg(groupXor, dst, src)
}
func (a *Assembler) XorRegImm(dst x86reg.Register, imm Immediate) error {
	return a.aluRegImm(groupXor, dst, imm)
}
func (a *Assembler) XorMemImm(dst Operand, size x86reg.Size, imm Immediate) error {
	return a.aluMemImm(groupXor, dst, size, imm)
}

// TestRegReg encodes TEST dst, src (0x84/0x85) — note TEST has no
// reg,r/m form, only r/m,reg, so dst plays the r/m role for both operands
// being registers it makes no difference.
func (a *Assembler) TestRegReg(dst, src x86reg.Register) error {
	if dst.Size() != src.Size() {
		return fmt.Errorf("%w: operand sizes must match", ErrInvalidOperand)
	}
	if dst.Size() == x86reg.Size16 {
		return fmt.Errorf("%w: test does not support 16-bit operands", ErrInvalidOperand)
	}
	b := &codeBuffer{}
	b.emit(0x84 | widthBit(dst.Size()))
	if err := b.encodeRM(src.Code(), Reg(dst)); err != nil {
		return err
	}
	a.finish(b)
	return nil
}

// TestMemReg encodes TEST [mem], src (0x84/0x85 r/m,reg).
func (a *Assembler) TestMemReg(dst Operand, src x86reg.Register) error {
	if src.Size() == x86reg.Size16 {
		return fmt.Errorf("%w: test does not support 16-bit operands", ErrInvalidOperand)
	}
	b := &codeBuffer{}
	b.emit(0x84 | widthBit(src.Size()))
	if err := b.encodeRM(src.Code(), dst); err != nil {
		return err
	}
	a.finish(b)
	return nil
}

// TestRegImm encodes TEST dst, imm (0xF6/0xF7 /0, or the AL/EAX
// accumulator short forms 0xA8/0xA9).
func (a *Assembler) TestRegImm(dst x86reg.Register, imm Immediate) error {
	b := &codeBuffer{}
	switch dst.Size() {
	case x86reg.Size8:
		if imm.Size != Size8 {
			return fmt.Errorf("%w: 8-bit test requires an 8-bit immediate", ErrInvalidOperand)
		}
		if dst == x86reg.AL {
			b.emit(0xA8)
			b.emitValue(imm.Num, 1, imm.Ref)
			break
		}
		b.emit(0xF6)
		if err := b.encodeRM(0, Reg(dst)); err != nil {
			return err
		}
		b.emitValue(imm.Num, 1, imm.Ref)
	case x86reg.Size32:
		if imm.Size != Size32 {
			return fmt.Errorf("%w: 32-bit test requires a 32-bit immediate", ErrInvalidOperand)
		}
		if dst == x86reg.EAX {
			b.emit(0xA9)
			b.emitValue(imm.Num, 4, imm.Ref)
			break
		}
		b.emit(0xF7)
		if err := b.encodeRM(0, Reg(dst)); err != nil {
			return err
		}
		b.emitValue(imm.Num, 4, imm.Ref)
	default:
		return fmt.Errorf("%w: test does not support 16-bit operands", ErrInvalidOperand)
	}
	a.finish(b)
	return nil
}

// unaryGroupF6F7 handles NOT (/2) and NEG (/3) over the 0xF6/0xF7 group.
func (a *Assembler) unaryGroupF6F7(ext byte, dst x86reg.Register) error {
	b := &codeBuffer{}
	b.emit(0xF6 | widthBit(dst.Size()))
	if err := b.encodeRM(ext, Reg(dst)); err != nil {
		return err
	}
	a.finish(b)
	return nil
}

// unaryGroupFEFF handles INC (/0) and DEC (/1) over the 0xFE/0xFF group.
func (a *Assembler) unaryGroupFEFF(ext byte, dst x86reg.Register) error {
	b := &codeBuffer{}
	b.emit(0xFE | widthBit(dst.Size()))
	if err := b.encodeRM(ext, Reg(dst)); err != nil {
		return err
	}
	a.finish(b)
	return nil
}

func (a *Assembler) Inc(dst x86reg.Register) error { return a.unaryGroupFEFF(0, dst) }
func (a *Assembler) Dec(dst x86reg.Register) error { return a.unaryGroupFEFF(1, dst) }
func (a *Assembler) Not(dst x86reg.Register) error { return a.unaryGroupF6F7(2, dst) }
func (a *Assembler) Neg(dst x86reg.Register) error { return a.unaryGroupF6F7(3, dst) }

// Mul encodes the one-operand unsigned multiply EAX *= dst (F6/F7 /4).
func (a *Assembler) Mul(dst x86reg.Register) error {
	b := &codeBuffer{}
	b.emit(0xF6 | widthBit(dst.Size()))
	if err := b.encodeRM(4, Reg(dst)); err != nil {
		return err
	}
	a.finish(b)
	return nil
}

// Imul encodes the one-operand signed multiply EAX *= dst (F6/F7 /5).
func (a *Assembler) Imul(dst x86reg.Register) error {
	b := &codeBuffer{}
	b.emit(0xF6 | widthBit(dst.Size()))
	if err := b.encodeRM(5, Reg(dst)); err != nil {
		return err
	}
	a.finish(b)
	return nil
}

// ShiftOp is a shift mnemonic; each value is its ModR/M reg-field
// extension in the 0xC0/0xC1/0xD0/0xD1 shift-group opcodes.
type ShiftOp uint8

const (
	ShiftRol ShiftOp = 0
	ShiftRor ShiftOp = 1
	ShiftShl ShiftOp = 4
	ShiftShr ShiftOp = 5
	ShiftSar ShiftOp = 7
)

// Shift encodes dst = dst ShiftOp count, using the shift-by-1 short form
// (0xD0/0xD1) when count is exactly 1, and the immediate-count form
// (0xC0/0xC1 ib) otherwise.
func (a *Assembler) Shift(op ShiftOp, dst x86reg.Register, count uint8) error {
	b := &codeBuffer{}
	if count == 1 {
		b.emit(0xD0 | widthBit(dst.Size()))
		if err := b.encodeRM(byte(op), Reg(dst)); err != nil {
			return err
		}
	} else {
		b.emit(0xC0 | widthBit(dst.Size()))
		if err := b.encodeRM(byte(op), Reg(dst)); err != nil {
			return err
		}
		b.emitValue(uint32(count), 1, nil)
	}
	a.finish(b)
	return nil
}
