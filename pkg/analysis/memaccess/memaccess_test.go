package memaccess

import (
	"testing"

	"github.com/oisee/x86bbrw/pkg/bbgraph"
	"github.com/oisee/x86bbrw/pkg/decoder"
	"github.com/oisee/x86bbrw/pkg/inst"
	"github.com/oisee/x86bbrw/pkg/x86asm"
	"github.com/oisee/x86bbrw/pkg/x86reg"
)

func movRegMem(dst x86reg.Register, base x86reg.Register, disp int32) *inst.Instruction {
	d := decoder.Instruction{
		Opcode: 0x8B,
		Ops: [4]decoder.Operand{
			{Kind: decoder.OperandRegister, Reg: dst},
			{Kind: decoder.OperandMemSimple, Reg: base, Disp: disp},
		},
	}
	return inst.NewInstruction(d, []byte{0x8B, 0, byte(disp)})
}

func movRegReg(dst, src x86reg.Register) *inst.Instruction {
	d := decoder.Instruction{
		Opcode: 0x8B,
		Ops: [4]decoder.Operand{
			{Kind: decoder.OperandRegister, Reg: dst},
			{Kind: decoder.OperandRegister, Reg: src},
		},
	}
	return inst.NewInstruction(d, []byte{0x8B, 0xC0})
}

func lea(dst, base x86reg.Register, disp int32) *inst.Instruction {
	d := decoder.Instruction{
		Opcode: 0x8D,
		Ops: [4]decoder.Operand{
			{Kind: decoder.OperandRegister, Reg: dst},
			{Kind: decoder.OperandMemSimple, Reg: base, Disp: disp},
		},
	}
	return inst.NewInstruction(d, []byte{0x8D, 0, byte(disp)})
}

func ret() *inst.Instruction {
	d := decoder.Instruction{Opcode: 0xC3, Meta: decoder.MetaReturn}
	return inst.NewInstruction(d, []byte{0xC3})
}

func TestLeaContributesNothing(t *testing.T) {
	s := Clear()
	out := apply(s, lea(x86reg.EAX, x86reg.EBX, 4))
	if out.has(x86reg.EBX, 4) {
		t.Error("LEA should not record an access")
	}
}

func TestMemSimpleAccessIsRecorded(t *testing.T) {
	s := Clear()
	out := apply(s, movRegMem(x86reg.EAX, x86reg.EBX, 4))
	if !out.has(x86reg.EBX, 4) {
		t.Error("expected [ebx+4] to be recorded as accessed")
	}
}

func negReg(r x86reg.Register) *inst.Instruction {
	d := decoder.Instruction{
		Opcode: 0xF7,
		Ext:    decoder.ExtNeg,
		Ops:    [4]decoder.Operand{{Kind: decoder.OperandRegister, Reg: r}},
	}
	return inst.NewInstruction(d, []byte{0xF7, 0xD8})
}

// TestNegOnlyInvalidatesItsOwnOperand guards against NEG/NOT (group-3
// /2,/3) being conflated with MUL/IMUL (/4,/5): NEG must not
// invalidate EAX/EDX's recorded displacements when it never touches
// those registers.
func TestNegOnlyInvalidatesItsOwnOperand(t *testing.T) {
	s := Clear()
	s.add(x86reg.EAX, 4)
	s.add(x86reg.EBX, 8)
	out := apply(s, negReg(x86reg.EBX))
	if !out.has(x86reg.EAX, 4) {
		t.Error("NEG ebx must not invalidate EAX's recorded displacements")
	}
	if out.has(x86reg.EBX, 8) {
		t.Error("NEG ebx must invalidate EBX's own recorded displacements")
	}
}

func TestRegisterWriteInvalidatesItsDisplacements(t *testing.T) {
	s := Clear()
	s.add(x86reg.EBX, 4)
	out := apply(s, movRegReg(x86reg.EBX, x86reg.ECX))
	if out.has(x86reg.EBX, 4) {
		t.Error("writing EBX should invalidate its recorded displacements")
	}
}

func TestCallClearsEntireState(t *testing.T) {
	s := Clear()
	s.add(x86reg.EBX, 4)
	s.add(x86reg.ESI, 8)
	out := apply(s, ret())
	for _, r := range x86reg.Dwords32 {
		if len(out[r.Code()]) != 0 {
			t.Errorf("expected %s's set to be cleared by control flow", r)
		}
	}
}

func TestMeetIsIntersection(t *testing.T) {
	a := Clear()
	a.add(x86reg.EBX, 4)
	a.add(x86reg.EBX, 8)

	b := Clear()
	b.add(x86reg.EBX, 4)

	m := Meet(a, b)
	if !m.has(x86reg.EBX, 4) {
		t.Error("expected the common displacement to survive the meet")
	}
	if m.has(x86reg.EBX, 8) {
		t.Error("expected the non-common displacement to be dropped by the meet")
	}
}

func TestHasNonRedundantAccess(t *testing.T) {
	s := Clear()
	s.add(x86reg.EBX, 4)

	redundant := movRegMem(x86reg.EAX, x86reg.EBX, 4)
	if HasNonRedundantAccess(s, redundant) {
		t.Error("expected [ebx+4] to be recognized as already accessed")
	}

	fresh := movRegMem(x86reg.EAX, x86reg.EBX, 12)
	if !HasNonRedundantAccess(s, fresh) {
		t.Error("expected [ebx+12] to be reported as non-redundant")
	}
}

// TestStraightLineAccessChain runs the transfer over
// `mov ecx, [eax+1]; mov edx, [ecx+12]; mov edx, [eax+42]`: all three
// locations are known at exit, and a later write to ECX invalidates
// exactly the [ecx+12] entry.
func TestStraightLineAccessChain(t *testing.T) {
	s := Clear()
	s = apply(s, movRegMem(x86reg.ECX, x86reg.EAX, 1))
	s = apply(s, movRegMem(x86reg.EDX, x86reg.ECX, 12))
	s = apply(s, movRegMem(x86reg.EDX, x86reg.EAX, 42))

	for _, acc := range []struct {
		reg  x86reg.Register
		disp int32
	}{{x86reg.EAX, 1}, {x86reg.ECX, 12}, {x86reg.EAX, 42}} {
		if !s.has(acc.reg, acc.disp) {
			t.Errorf("expected [%s+%d] known at exit", acc.reg, acc.disp)
		}
	}

	s = apply(s, movRegReg(x86reg.ECX, x86reg.EBX))
	if s.has(x86reg.ECX, 12) {
		t.Error("writing ECX must invalidate [ecx+12]")
	}
	if !s.has(x86reg.EAX, 1) || !s.has(x86reg.EAX, 42) {
		t.Error("writing ECX must leave EAX's entries intact")
	}
}

func TestRunPropagatesAcrossFallthrough(t *testing.T) {
	sg := bbgraph.NewSubgraph()
	b1 := sg.AddCodeBlock("b1")
	b2 := sg.AddCodeBlock("b2")

	b1.AppendInstruction(movRegMem(x86reg.EAX, x86reg.EBX, 4))
	b1.SetSuccessors([]bbgraph.Successor{{Condition: x86asm.CondTrue, Target: bbgraph.BlockReference{Block: b2.ID()}}})
	b2.AppendInstruction(movRegMem(x86reg.ECX, x86reg.EBX, 4))

	sg.AddBlockDescription("entry", bbgraph.BlockTypeCode, 0, b1.ID(), b2.ID())

	a := Run(sg)
	if !a.StateAtEntry(b2.ID()).has(x86reg.EBX, 4) {
		t.Error("expected [ebx+4] to be known-accessed at entry of b2")
	}
	// The access in b2 repeats the one from b1, so it is redundant given
	// the propagated state; HasNonRedundantAccess must say false.
	if HasNonRedundantAccess(a.StateAtEntry(b2.ID()), movRegMem(x86reg.ECX, x86reg.EBX, 4)) {
		t.Error("expected the repeated [ebx+4] access in b2 to be redundant given the propagated state")
	}
}

func TestRunDetectsRedundantAccessAcrossBlocks(t *testing.T) {
	sg := bbgraph.NewSubgraph()
	b1 := sg.AddCodeBlock("b1")
	b2 := sg.AddCodeBlock("b2")

	b1.AppendInstruction(movRegMem(x86reg.EAX, x86reg.EBX, 4))
	b1.SetSuccessors([]bbgraph.Successor{{Condition: x86asm.CondTrue, Target: bbgraph.BlockReference{Block: b2.ID()}}})
	repeat := movRegMem(x86reg.ECX, x86reg.EBX, 4)
	b2.AppendInstruction(repeat)

	sg.AddBlockDescription("entry", bbgraph.BlockTypeCode, 0, b1.ID(), b2.ID())

	a := Run(sg)
	if HasNonRedundantAccess(a.StateAtEntry(b2.ID()), repeat) {
		t.Error("expected the repeated [ebx+4] access in b2 to be redundant")
	}
}
