// Package peephole implements the small local rewrites and the
// liveness-driven dead-code elimination pass that together form the
// core's optimizing transform: empty-prologue/epilogue deletion,
// identity-move deletion, and DCE over an approved opcode list,
// alternated to a fixpoint.
package peephole

import (
	"github.com/oisee/x86bbrw/pkg/analysis/liveness"
	"github.com/oisee/x86bbrw/pkg/bbgraph"
	"github.com/oisee/x86bbrw/pkg/decoder"
	"github.com/oisee/x86bbrw/pkg/inst"
	"github.com/oisee/x86bbrw/pkg/x86reg"
)

// Run alternates the pattern-based peephole rewrites and liveness-driven
// DCE over every code block reachable from entries until neither pass
// changes anything, and reports whether any rewrite was applied. DCE
// runs once before the first peephole pass, since an incoming subgraph
// may already carry dead code the peephole rewrites would otherwise
// trip over.
func Run(sg *bbgraph.Subgraph, entries []bbgraph.BlockID) bool {
	changedOverall := runDCE(sg, entries)
	for {
		changedPeephole := runPeephole(sg, entries)
		changedDCE := runDCE(sg, entries)
		changedOverall = changedOverall || changedPeephole || changedDCE
		if !changedPeephole && !changedDCE {
			return changedOverall
		}
	}
}

func codeBlocks(sg *bbgraph.Subgraph, entries []bbgraph.BlockID) []*bbgraph.CodeBlock {
	visited := make(map[bbgraph.BlockID]bool)
	var out []*bbgraph.CodeBlock

	var visit func(id bbgraph.BlockID)
	visit = func(id bbgraph.BlockID) {
		if visited[id] {
			return
		}
		visited[id] = true
		cb, ok := sg.Block(id).(*bbgraph.CodeBlock)
		if !ok {
			return
		}
		out = append(out, cb)
		for _, succ := range cb.Successors() {
			if succ.Target.IsBlock() {
				visit(succ.Target.Block)
			}
		}
	}
	for _, e := range entries {
		visit(e)
	}
	return out
}

// runPeephole applies the two pattern rewrites to every reachable code
// block, re-scanning a block from the start after each removal (the
// windows involved are short enough that this stays cheap, and it keeps
// the matching logic free of index bookkeeping across a mutation).
func runPeephole(sg *bbgraph.Subgraph, entries []bbgraph.BlockID) bool {
	changed := false
	for _, cb := range codeBlocks(sg, entries) {
		for {
			if removeEmptyPrologue(cb) {
				changed = true
				continue
			}
			if removeIdentityMove(cb) {
				changed = true
				continue
			}
			break
		}
	}
	return changed
}

// removeEmptyPrologue deletes the first occurrence of the three
// instruction window `push ebp; mov ebp, esp; pop ebp`, if any, and
// reports whether it did.
func removeEmptyPrologue(cb *bbgraph.CodeBlock) bool {
	instrs := cb.Instructions()
	for i := 0; i+2 < len(instrs); i++ {
		if isPushReg(instrs[i], x86reg.EBP) &&
			isMovRegReg(instrs[i+1], x86reg.EBP, x86reg.ESP) &&
			isPopReg(instrs[i+2], x86reg.EBP) {
			cb.RemoveInstructionAt(i + 2)
			cb.RemoveInstructionAt(i + 1)
			cb.RemoveInstructionAt(i)
			return true
		}
	}
	return false
}

// removeIdentityMove deletes the first `mov r, r` found, for any GPR,
// and reports whether it did.
func removeIdentityMove(cb *bbgraph.CodeBlock) bool {
	instrs := cb.Instructions()
	for i, in := range instrs {
		if isIdentityMove(in) {
			cb.RemoveInstructionAt(i)
			return true
		}
	}
	return false
}

func isPushReg(i *inst.Instruction, r x86reg.Register) bool {
	return i.Opcode == decoder.OpCode(0x50+r.Code()) &&
		len(i.Ops) > 0 && i.Ops[0].Kind == decoder.OperandRegister && i.Ops[0].Reg == r
}

func isPopReg(i *inst.Instruction, r x86reg.Register) bool {
	return i.Opcode == decoder.OpCode(0x58+r.Code()) &&
		len(i.Ops) > 0 && i.Ops[0].Kind == decoder.OperandRegister && i.Ops[0].Reg == r
}

func isMovRegReg(i *inst.Instruction, dst, src x86reg.Register) bool {
	if i.Opcode != 0x8A && i.Opcode != 0x8B {
		return false
	}
	return i.Ops[0].Kind == decoder.OperandRegister && i.Ops[0].Reg == dst &&
		i.Ops[1].Kind == decoder.OperandRegister && i.Ops[1].Reg == src
}

func isIdentityMove(i *inst.Instruction) bool {
	if i.Opcode != 0x8A && i.Opcode != 0x8B {
		return false
	}
	return i.Ops[0].Kind == decoder.OperandRegister && i.Ops[1].Kind == decoder.OperandRegister &&
		i.Ops[0].Reg == i.Ops[1].Reg
}

// approvedOpcodesForDCE is the opcode allowlist spec.md names: ADD, SUB,
// CMP, AND, OR, XOR, INC, DEC, SAR, SHR, SHL, LEA, MOV — restricted to
// the opcode bytes that mean exactly one of those mnemonics regardless
// of ModR/M reg-field extension. The shift group (0xC0/0xC1/0xD0-0xD3)
// and the immediate ALU group (0x80/0x81/0x83) are handled separately
// by approvedForDCE's Ext switch below, since the shift group also
// encodes ROL/ROR/RCL/RCR, which spec.md's list does not name. Opcode
// 0xFF is excluded even though it carries INC/DEC (/0, /1) forms, since
// it also carries CALL/JMP/PUSH (/2-/6): only the unambiguous one-byte
// 0xFE (INC/DEC r/m8) is approved.
var approvedOpcodesForDCE = map[decoder.OpCode]bool{
	0x00: true, 0x01: true, 0x02: true, 0x03: true, // ADD
	0x28: true, 0x29: true, 0x2A: true, 0x2B: true, // SUB
	0x38: true, 0x39: true, 0x3A: true, 0x3B: true, // CMP
	0x20: true, 0x21: true, 0x22: true, 0x23: true, // AND
	0x08: true, 0x09: true, 0x0A: true, 0x0B: true, // OR
	0x30: true, 0x31: true, 0x32: true, 0x33: true, // XOR
	0xFE: true,                                     // INC/DEC r/m8 (unambiguous; 0xFF is not approved)
	0x8D: true,                                     // LEA
	0x88: true, 0x89: true, 0x8A: true, 0x8B: true, // MOV r/m,r and r,r/m
	0xA0: true, 0xA1: true, // MOV accumulator, [abs] loads (the A2/A3 stores write memory and are never dead)
	0xB0: true, 0xB1: true, 0xB2: true, 0xB3: true, 0xB4: true, 0xB5: true, 0xB6: true, 0xB7: true,
	0xB8: true, 0xB9: true, 0xBA: true, 0xBB: true, 0xBC: true, 0xBD: true, 0xBE: true, 0xBF: true,
	0xC6: true, 0xC7: true, // MOV r/m,imm
}

// approvedForDCE reports whether i's opcode (and, for opcodes whose
// mnemonic depends on the ModR/M reg-field extension, its Ext) is on
// spec.md §4.6's DCE allowlist.
func approvedForDCE(i *inst.Instruction) bool {
	d := i.Instruction
	switch d.Opcode {
	case 0x80, 0x81, 0x83: // immediate ALU group: six of its eight
		// extensions (ADD/OR/AND/SUB/XOR/CMP) are on the list; only
		// /2 (ADC) and /3 (SBB) are excluded.
		switch d.Ext {
		case decoder.ExtAdd, decoder.ExtOr, decoder.ExtAnd, decoder.ExtSub, decoder.ExtXor, decoder.ExtCmp:
			return true
		default: // ADC, SBB: not in spec.md's approved list
			return false
		}
	case 0xC0, 0xC1, 0xD0, 0xD1, 0xD2, 0xD3: // shift group
		switch d.Ext {
		case decoder.ExtShl, decoder.ExtShr, decoder.ExtSar:
			return true
		default: // ROL, ROR, RCL, RCR: not in spec.md's approved list
			return false
		}
	}
	return approvedOpcodesForDCE[d.Opcode]
}

// runDCE computes liveness once and, for every reachable code block,
// walks its instructions in reverse, deleting any whose defs are
// entirely dead at that program point, carry no side effect relevant
// outside this optimization, and whose opcode is on the approved list.
// It reports whether anything was deleted.
func runDCE(sg *bbgraph.Subgraph, entries []bbgraph.BlockID) bool {
	a := liveness.Run(sg, entries)
	changed := false
	for _, cb := range codeBlocks(sg, entries) {
		state := a.StateAtExit(cb.ID())
		instrs := cb.Instructions()
		for idx := len(instrs) - 1; idx >= 0; idx-- {
			in := instrs[idx]
			if isDeadStore(in, state) {
				cb.RemoveInstructionAt(idx)
				changed = true
				continue
			}
			state = liveness.PropagateBackward(in, state)
		}
	}
	return changed
}

// isDeadStore reports whether instruction i can be deleted without
// observable effect, given the liveness state immediately after it.
func isDeadStore(i *inst.Instruction, state liveness.State) bool {
	if i.IsControlFlow() {
		return false
	}
	if !approvedForDCE(i) {
		return false
	}
	defs := liveness.Defs(i)
	if defs.Regs == 0 && defs.Flags == 0 {
		return false
	}
	return !state.Overlaps(defs)
}
