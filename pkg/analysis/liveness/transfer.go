package liveness

import (
	"github.com/oisee/x86bbrw/pkg/decoder"
	"github.com/oisee/x86bbrw/pkg/inst"
	"github.com/oisee/x86bbrw/pkg/x86reg"
)

// effect is the def/use contribution of a single instruction, expressed
// directly in terms of the backward state transform it induces.
type effect struct {
	defs    State // killed going backward (no longer live before this point)
	uses    State // added going backward (live before this point)
	killAll bool  // call/return/interrupt: defs=SetAll, but every register use is also conservatively live
}

// PropagateBackward applies a single instruction's backward transfer to
// s: state ← (state \ defs) ∪ uses. The top state is a fixed point by
// construction — once nothing more is known than "everything may be
// live", no single instruction's def/use summary narrows that, matching
// the "unknown block yields the top state" safe default for liveness.
func PropagateBackward(i *inst.Instruction, s State) State {
	if s.Equal(SetAll()) {
		return s
	}
	eff := classify(i)
	return s.Subtract(eff.defs).WithUses(eff.uses)
}

// Defs returns the register-subfield and flag bits instruction i writes,
// per the same rules PropagateBackward applies internally. Used by the
// peephole pass to test whether an instruction's writes are dead.
func Defs(i *inst.Instruction) State {
	return classify(i).defs
}

// opRegs extracts the registers an operand touches: itself if it is a
// register operand, or its base/index if it is a memory operand. Memory
// operands always contribute a *use* of their address registers,
// regardless of whether the operand as a whole is read or written.
func opRegs(op decoder.Operand) []x86reg.Register {
	switch op.Kind {
	case decoder.OperandRegister:
		return []x86reg.Register{op.Reg}
	case decoder.OperandMemSimple, decoder.OperandDispOnly:
		var out []x86reg.Register
		if op.Reg != x86reg.None {
			out = append(out, op.Reg)
		}
		return out
	case decoder.OperandMemFull:
		var out []x86reg.Register
		if op.Reg != x86reg.None {
			out = append(out, op.Reg)
		}
		if op.Index != x86reg.None {
			out = append(out, op.Index)
		}
		return out
	default:
		return nil
	}
}

// isMemOperand reports whether op addresses memory (as opposed to a
// register or an immediate/PC-relative value).
func isMemOperand(k decoder.OperandKind) bool {
	return k == decoder.OperandMemFull || k == decoder.OperandMemSimple || k == decoder.OperandDispOnly
}

func addUse(s *State, r x86reg.Register) {
	s.Regs |= regBits(r)
}

func addDef(s *State, r x86reg.Register) {
	s.Regs |= defMask(r)
}

// classify computes the def/use effect of one instruction. The flag
// components come directly from the decoder's per-instruction modified/
// tested flag masks (already part of the decoder contract); only the
// register-subfield def/use logic is derived here, including the
// idioms spec.md calls out explicitly.
func classify(i *inst.Instruction) effect {
	d := i.Instruction

	if i.IsCall() || i.IsReturn() || i.IsInterrupt() {
		return effect{defs: SetAll(), uses: SetAll(), killAll: true}
	}

	var e effect
	// A flag left undefined is killed just like one deliberately written:
	// no later reader may depend on its prior value.
	e.defs.Flags = d.ModifiedFlagsMask | d.UndefinedFlagsMask
	e.uses.Flags = d.TestedFlagsMask

	if i.IsConditionalBranch() {
		// A conditional branch only tests flags; it touches no registers.
		return e
	}

	if d.Opcode >= 0x0F90 && d.Opcode <= 0x0F9F {
		// SETcc: defines a single byte register (or stores to memory),
		// reads the flags its condition tests, writes no flags.
		if d.Ops[0].Kind == decoder.OperandRegister {
			addDef(&e.defs, d.Ops[0].Reg)
		} else {
			for _, r := range opRegs(d.Ops[0]) {
				addUse(&e.uses, r)
			}
		}
		return e
	}

	if isStringOp(d.Opcode) {
		return stringOpEffect(d, e)
	}

	switch d.Opcode {
	case 0x8D: // LEA: only the memory operand's address registers are
		// used; the destination is purely defined, and (per the
		// original rewriter) LEA never reads or writes flags.
		if d.Ops[0].Kind == decoder.OperandRegister {
			addDef(&e.defs, d.Ops[0].Reg)
		}
		for _, r := range opRegs(d.Ops[1]) {
			addUse(&e.uses, r)
		}
		return e

	case 0x84, 0x85, 0xA8, 0xA9: // TEST's fixed single-purpose opcodes:
		// both operands are sources only, nothing is defined.
		for _, r := range opRegs(d.Ops[0]) {
			addUse(&e.uses, r)
		}
		if len(d.Ops) >= 2 {
			for _, r := range opRegs(d.Ops[1]) {
				addUse(&e.uses, r)
			}
		}
		return e

	case 0xF6, 0xF7: // group 3: TEST/NOT/NEG/MUL/IMUL/DIV/IDIV share this
		// opcode pair, disambiguated only by the ModR/M reg-field
		// extension (d.Ext) — distinct mnemonics with distinct def/use
		// shapes, so Ext must be consulted rather than guessed.
		isMemDst := isMemOperand(d.Ops[0].Kind)
		switch d.Ext {
		case decoder.ExtTest0, decoder.ExtTest1: // TEST r/m, imm: source only.
			for _, r := range opRegs(d.Ops[0]) {
				addUse(&e.uses, r)
			}
			return e
		case decoder.ExtNot, decoder.ExtNeg: // NOT/NEG: read-modify-write
			// their single operand; EAX/EDX are untouched.
			for _, r := range opRegs(d.Ops[0]) {
				addUse(&e.uses, r)
				if !isMemDst {
					addDef(&e.defs, r)
				}
			}
			return e
		default: // MUL/IMUL (/4,/5) define EDX:EAX from EAX * operand;
			// DIV/IDIV (/6,/7) additionally consume EDX as the high
			// half of the dividend.
			for _, r := range opRegs(d.Ops[0]) {
				addUse(&e.uses, r)
			}
			addDef(&e.defs, x86reg.EAX)
			addDef(&e.defs, x86reg.EDX)
			addUse(&e.uses, x86reg.EAX)
			if d.Ext == decoder.ExtDiv || d.Ext == decoder.ExtIdiv {
				addUse(&e.uses, x86reg.EDX)
			}
			return e
		}

	case 0x88, 0x89, 0x8A, 0x8B, 0xA0, 0xA1, 0xA2, 0xA3,
		0xB0, 0xB1, 0xB2, 0xB3, 0xB4, 0xB5, 0xB6, 0xB7,
		0xB8, 0xB9, 0xBA, 0xBB, 0xBC, 0xBD, 0xBE, 0xBF, 0xC6, 0xC7:
		// MOV family: destination is purely defined (its old value is
		// never read), source is purely used.
		dstRegs := opRegs(d.Ops[0])
		isMemDst := isMemOperand(d.Ops[0].Kind)
		if isMemDst {
			for _, r := range dstRegs {
				addUse(&e.uses, r) // address registers are read, not defined
			}
		} else {
			for _, r := range dstRegs {
				addDef(&e.defs, r)
			}
		}
		if len(d.Ops) > 1 {
			for _, r := range opRegs(d.Ops[1]) {
				addUse(&e.uses, r)
			}
		}
		return e

	case 0xFE, 0xFF: // INC/DEC/PUSH/CALL/JMP group — INC/DEC (/0,/1) both
		// use and define their operand; CALL through this opcode returns
		// early via i.IsCall() above, while JMP and PUSH land here too and
		// get the same use-and-define treatment of their operand.
		regs := opRegs(d.Ops[0])
		isMemDst := isMemOperand(d.Ops[0].Kind)
		for _, r := range regs {
			addUse(&e.uses, r)
			if !isMemDst {
				addDef(&e.defs, r)
			}
		}
		return e
	}

	// Generic two/three-operand rule: Ops[0] is read-modify-write unless
	// it is a memory operand (in which case its address registers are
	// used, not the memory contents as a register), every further
	// operand is purely a source. This covers the ALU opcode groups
	// (ADD/SUB/AND/OR/XOR/CMP) and the shift group uniformly.
	if d.Ops[0].Kind == decoder.OperandNone {
		return e
	}
	dstIsMem := isMemOperand(d.Ops[0].Kind)
	isCompareOnly := isCompareOpcode(d.Opcode, d.Ext)

	for _, r := range opRegs(d.Ops[0]) {
		if dstIsMem {
			addUse(&e.uses, r)
		} else {
			addUse(&e.uses, r)
			if !isCompareOnly {
				addDef(&e.defs, r)
			}
		}
	}
	for _, op := range d.Ops[1:] {
		for _, r := range opRegs(op) {
			addUse(&e.uses, r)
		}
	}

	// The xor-with-self idiom (e.g. "xor eax, eax") is recognized as a
	// def-only zeroing move: the register's prior value plays no role in
	// the result, so it should not be reported as used.
	if d.Opcode == (6<<3|0x02) || d.Opcode == (6<<3|0x03) { // 0x32/0x33 reg,r/m XOR
		if d.Ops[0].Kind == decoder.OperandRegister && d.Ops[1].Kind == decoder.OperandRegister && d.Ops[0].Reg == d.Ops[1].Reg {
			e.uses.Regs &^= regBits(d.Ops[0].Reg)
		}
	}

	return e
}

// isStringOp recognizes the one-byte string instructions: MOVS (A4/A5),
// CMPS (A6/A7), STOS (AA/AB), LODS (AC/AD), SCAS (AE/AF).
func isStringOp(op decoder.OpCode) bool {
	switch op {
	case 0xA4, 0xA5, 0xA6, 0xA7, 0xAA, 0xAB, 0xAC, 0xAD, 0xAE, 0xAF:
		return true
	default:
		return false
	}
}

// stringOpEffect summarizes the implicit register traffic of a string
// instruction: ESI/EDI are advanced (used and defined) as the operation
// demands, STOS/SCAS read the accumulator, LODS writes it, and a
// REP/REPNZ prefix additionally uses and defines ECX as the count.
func stringOpEffect(d decoder.Instruction, e effect) effect {
	useESI := d.Opcode <= 0xA7 || d.Opcode == 0xAC || d.Opcode == 0xAD // MOVS, CMPS, LODS
	useEDI := d.Opcode != 0xAC && d.Opcode != 0xAD                     // all but LODS
	wide := d.Opcode&1 == 1

	acc := x86reg.AL
	if wide {
		acc = x86reg.EAX
	}

	if useESI {
		addUse(&e.uses, x86reg.ESI)
		addDef(&e.defs, x86reg.ESI)
	}
	if useEDI {
		addUse(&e.uses, x86reg.EDI)
		addDef(&e.defs, x86reg.EDI)
	}
	switch d.Opcode {
	case 0xAA, 0xAB, 0xAE, 0xAF: // STOS, SCAS read the accumulator
		addUse(&e.uses, acc)
	case 0xAC, 0xAD: // LODS writes it
		addDef(&e.defs, acc)
	}
	if d.Flags&(decoder.PrefixRep|decoder.PrefixRepnz) != 0 {
		addUse(&e.uses, x86reg.ECX)
		addDef(&e.defs, x86reg.ECX)
	}
	return e
}

// isCompareOpcode recognizes the fixed CMP reg,r/m / r/m,reg / AL,imm /
// eAX,imm forms (0x38-0x3D), whose destination operand is read but never
// written, plus the immediate ALU group (0x80/0x81/0x83) when its
// ModR/M reg-field extension (ext) selects group 7 (CMP r/m, imm).
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
