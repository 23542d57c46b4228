package x86asm

import (
	"fmt"

	"github.com/oisee/x86bbrw/pkg/x86reg"
)

// Operand is one of the 32-bit effective-address forms listed in spec §3:
// a bare register, or a memory reference built from an optional base
// register, an optional scaled index register, and an optional
// displacement.
type Operand struct {
	isReg bool
	reg   x86reg.Register // valid when isReg

	base    x86reg.Register // x86reg.None if absent
	index   x86reg.Register // x86reg.None if absent
	scale   uint8           // 1, 2, 4, or 8; meaningless if index is None
	disp    Displacement
	hasDisp bool
}

// Reg returns a register operand.
func Reg(r x86reg.Register) Operand {
	return Operand{isReg: true, reg: r}
}

// IsRegister reports whether the operand is a bare register.
func (o Operand) IsRegister() bool { return o.isReg }

// Register returns the operand's register. Panics if !IsRegister().
func (o Operand) Register() x86reg.Register {
	if !o.isReg {
		panic("x86asm: Register called on a memory operand")
	}
	return o.reg
}

// Base returns the operand's base register, or x86reg.None.
func (o Operand) Base() x86reg.Register { return o.base }

// Index returns the operand's index register, or x86reg.None.
func (o Operand) Index() x86reg.Register { return o.index }

// Scale returns the operand's index scale (1, 2, 4, or 8); meaningless
// if Index() is x86reg.None.
func (o Operand) Scale() uint8 { return o.scale }

// Displacement returns the operand's displacement and whether one is
// present.
func (o Operand) Displacement() (Displacement, bool) { return o.disp, o.hasDisp }

func mustBe32(r x86reg.Register) error {
	if r == x86reg.None {
		return nil
	}
	if r.Size() != x86reg.Size32 {
		return fmt.Errorf("%w: %s is not a 32-bit register", ErrInvalidOperand, r)
	}
	return nil
}

// Mem builds [base], [base+disp8], or [base+disp32] depending on
// disp's size. Pass no disp for a bare [base].
func Mem(base x86reg.Register, disp ...Displacement) (Operand, error) {
	if err := mustBe32(base); err != nil {
		return Operand{}, err
	}
	if base == x86reg.None {
		return Operand{}, fmt.Errorf("%w: Mem requires a base register", ErrInvalidOperand)
	}
	o := Operand{base: base, index: x86reg.None}
	if len(disp) > 0 {
		o.disp = disp[0]
		o.hasDisp = true
	}
	return o, nil
}

// MemAbs builds an absolute [disp32] operand with no base or index.
func MemAbs(disp Displacement) (Operand, error) {
	if disp.Size != Size32 {
		return Operand{}, fmt.Errorf("%w: MemAbs requires a 32-bit displacement", ErrInvalidOperand)
	}
	return Operand{base: x86reg.None, index: x86reg.None, disp: disp, hasDisp: true}, nil
}

// MemIndex builds [base+index*scale], optionally with a displacement.
// ESP may never serve as the index register.
func MemIndex(base, index x86reg.Register, scale uint8, disp ...Displacement) (Operand, error) {
	if err := mustBe32(base); err != nil {
		return Operand{}, err
	}
	if err := mustBe32(index); err != nil {
		return Operand{}, err
	}
	if index == x86reg.ESP {
		return Operand{}, fmt.Errorf("%w: ESP cannot be used as an index register", ErrInvalidOperand)
	}
	if index == x86reg.None {
		return Operand{}, fmt.Errorf("%w: MemIndex requires an index register", ErrInvalidOperand)
	}
	if err := validScale(scale); err != nil {
		return Operand{}, err
	}
	o := Operand{base: base, index: index, scale: scale}
	if len(disp) > 0 {
		o.disp = disp[0]
		o.hasDisp = true
	}
	return o, nil
}

// MemIndexAbs builds [index*scale+disp32] with no base register. A
// 32-bit displacement is required even when its value is zero.
func MemIndexAbs(index x86reg.Register, scale uint8, disp Displacement) (Operand, error) {
	if err := mustBe32(index); err != nil {
		return Operand{}, err
	}
	if index == x86reg.ESP {
		return Operand{}, fmt.Errorf("%w: ESP cannot be used as an index register", ErrInvalidOperand)
	}
	if index == x86reg.None {
		return Operand{}, fmt.Errorf("%w: MemIndexAbs requires an index register", ErrInvalidOperand)
	}
	if err := validScale(scale); err != nil {
		return Operand{}, err
	}
	if disp.Size != Size32 {
		return Operand{}, fmt.Errorf("%w: MemIndexAbs requires a 32-bit displacement", ErrInvalidOperand)
	}
	return Operand{base: x86reg.None, index: index, scale: scale, disp: disp, hasDisp: true}, nil
}

func validScale(scale uint8) error {
	switch scale {
	case 1, 2, 4, 8:
		return nil
	default:
		return fmt.Errorf("%w: invalid scale %d", ErrInvalidOperand, scale)
	}
}
