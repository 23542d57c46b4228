package memaccess

import (
	"github.com/oisee/x86bbrw/pkg/decoder"
	"github.com/oisee/x86bbrw/pkg/inst"
	"github.com/oisee/x86bbrw/pkg/x86reg"
)

// hasSymbolicReference reports whether i carries a reference recorded
// against any byte offset, i.e. one of its operands was never fully
// resolved to a concrete value (a displacement or immediate still
// pointing at another block). The instruction formats this analysis
// cares about (LEA and simple [reg+disp] accesses) only ever attach a
// reference to a displacement, so any reference present is treated as
// making that instruction's memory operand symbolic.
func hasSymbolicReference(i *inst.Instruction) bool {
	return len(i.References()) > 0
}

// apply advances s across instruction i, per spec.md §4.5's transfer
// function, and returns the resulting state. s is not mutated in place.
func apply(s State, i *inst.Instruction) State {
	d := i.Instruction

	if i.IsCall() || i.IsReturn() || i.IsConditionalBranch() || i.IsBranch() || i.IsInterrupt() {
		return Clear()
	}
	if d.Flags&(decoder.PrefixRep|decoder.PrefixRepnz) != 0 {
		return Clear()
	}

	out := s.Clone()

	if d.Opcode == 0x8D { // LEA computes an address, no access.
		return out
	}

	symbolic := hasSymbolicReference(i)
	for _, op := range d.Ops {
		switch op.Kind {
		case decoder.OperandNone, decoder.OperandRegister, decoder.OperandImmediate, decoder.OperandPCRelative:
			continue
		case decoder.OperandMemSimple:
			if symbolic || d.Flags&decoder.PrefixSegmentOverride != 0 {
				continue // opaque: neither added nor killed
			}
			if reg, disp, ok := isTrackedMemOperand(op); ok {
				out.add(reg, disp)
			}
		case decoder.OperandMemFull, decoder.OperandDispOnly:
			// Scaled-index and absolute addressing are always opaque.
			continue
		}
	}

	// A register write invalidates every displacement recorded against
	// it, since the base it used to address memory may have changed.
	for _, r := range definedDwordRegisters(i) {
		out.invalidate(r)
	}

	return out
}

// definedDwordRegisters returns the 32-bit GPRs i's defs (per the
// liveness def/use model) touch, so their displacement sets can be
// invalidated. This mirrors liveness.classify's def side without
// importing it (memaccess only needs which registers are written, not
// the subfield-precise mask liveness tracks).
func definedDwordRegisters(i *inst.Instruction) []x86reg.Register {
	d := i.Instruction

	switch d.Opcode {
	case 0x8D: // LEA: dest is defined.
		if d.Ops[0].Kind == decoder.OperandRegister {
			return []x86reg.Register{d.Ops[0].Reg.Dword32()}
		}
		return nil

	case 0x84, 0x85, 0xA8, 0xA9: // TEST's fixed opcodes: no register defined.
		return nil

	case 0xF6, 0xF7: // group 3: TEST/NOT/NEG/MUL/IMUL/DIV/IDIV, disambiguated
		// by the ModR/M reg-field extension (d.Ext).
		switch d.Ext {
		case decoder.ExtTest0, decoder.ExtTest1: // TEST: nothing defined.
			return nil
		case decoder.ExtNot, decoder.ExtNeg: // NOT/NEG: only their own operand.
			if d.Ops[0].Kind == decoder.OperandRegister {
				return []x86reg.Register{d.Ops[0].Reg.Dword32()}
			}
			return nil
		default: // MUL/IMUL/DIV/IDIV: define EDX:EAX.
			return []x86reg.Register{x86reg.EAX, x86reg.EDX}
		}

	case 0x88, 0x89, 0x8A, 0x8B, 0xA0, 0xA1, 0xA2, 0xA3,
		0xB0, 0xB1, 0xB2, 0xB3, 0xB4, 0xB5, 0xB6, 0xB7,
		0xB8, 0xB9, 0xBA, 0xBB, 0xBC, 0xBD, 0xBE, 0xBF, 0xC6, 0xC7: // MOV family.
		if d.Ops[0].Kind == decoder.OperandRegister {
			return []x86reg.Register{d.Ops[0].Reg.Dword32()}
		}
		return nil

	case 0xFE, 0xFF: // INC/DEC/PUSH/CALL/JMP group.
		if d.Ops[0].Kind == decoder.OperandRegister {
			return []x86reg.Register{d.Ops[0].Reg.Dword32()}
		}
		return nil
	}

	if isCompareOpcode(d.Opcode, d.Ext) {
		return nil
	}
	if d.Ops[0].Kind == decoder.OperandRegister {
		return []x86reg.Register{d.Ops[0].Reg.Dword32()}
	}
	return nil
}

// isCompareOpcode mirrors liveness.isCompareOpcode: CMP's fixed opcodes
// plus the immediate ALU group (0x80/0x81/0x83) when ext selects CMP (/7).
func isCompareOpcode(op decoder.OpCode, ext uint8) bool {
	switch op {
	case 0x38, 0x39, 0x3A, 0x3B, 0x3C, 0x3D:
		return true
	case 0x80, 0x81, 0x83:
		return ext == decoder.ExtCmp
	default:
		return false
	}
}

// HasNonRedundantAccess reports whether i performs at least one memory
// access not already present in s, i.e. whether a caller still needs to
// instrument this access (bounds check, prefetch hint, etc).
func HasNonRedundantAccess(s State, i *inst.Instruction) bool {
	d := i.Instruction
	if d.Opcode == 0x8D {
		return false
	}
	symbolic := hasSymbolicReference(i)
	for _, op := range d.Ops {
		if op.Kind != decoder.OperandMemSimple {
			continue
		}
		if symbolic || d.Flags&decoder.PrefixSegmentOverride != 0 {
			return true // unknown access: conservatively non-redundant
		}
		reg, disp, ok := isTrackedMemOperand(op)
		if !ok {
			return true
		}
		if !s.has(reg, disp) {
			return true
		}
	}
	for _, op := range d.Ops {
		if op.Kind == decoder.OperandMemFull || op.Kind == decoder.OperandDispOnly {
			return true // scaled/absolute addressing is always unknown
		}
	}
	return false
}
