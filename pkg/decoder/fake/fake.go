// Package fake provides a deterministic, partial Decoder implementation
// used only by tests: it recognizes the opcode encodings this
// repository's assembler emits, enough to support round-trip tests of
// the assembler and of the packages built on decoder.Instruction. It
// decodes register operands, immediates, and the group-opcode ModR/M
// extensions, but not SIB bytes or memory displacements, apart from the
// absolute [disp32] operand of the 0xA0-0xA3 accumulator moves — callers
// that need other memory operands in a test should construct decoder.Instruction
// values directly instead of round-tripping through Decode. It is never
// imported by non-test code.
package fake

import (
	"github.com/oisee/x86bbrw/pkg/decoder"
	"github.com/oisee/x86bbrw/pkg/x86reg"
)

const arithFlags = decoder.FlagZF | decoder.FlagSF | decoder.FlagCF |
	decoder.FlagOF | decoder.FlagPF | decoder.FlagAF

func regOp(r x86reg.Register) decoder.Operand {
	return decoder.Operand{Kind: decoder.OperandRegister, Reg: r, Size: r.Size()}
}

func immOp(size x86reg.Size) decoder.Operand {
	return decoder.Operand{Kind: decoder.OperandImmediate, Size: size}
}

// Decode implements decoder.Decoder for the subset described in the
// package comment. It returns (nil, false) for anything it does not
// recognize, including truncated buffers.
func Decode(buf []byte) (*decoder.Instruction, bool) {
	if len(buf) == 0 {
		return nil, false
	}
	op := buf[0]

	switch {
	case op == 0x90:
		return &decoder.Instruction{Opcode: 0x90, Size: 1}, true
	case op == 0xC3:
		return &decoder.Instruction{Opcode: 0xC3, Size: 1, Meta: decoder.MetaReturn}, true
	case op == 0xC2:
		if len(buf) < 3 {
			return nil, false
		}
		return &decoder.Instruction{Opcode: 0xC2, Size: 3, Meta: decoder.MetaReturn,
			Ops: [4]decoder.Operand{immOp(x86reg.Size16)}}, true
	case op == 0xCC:
		return &decoder.Instruction{Opcode: 0xCC, Size: 1, Meta: decoder.MetaInterrupt}, true
	case op == 0x60 || op == 0x61 || op == 0x9C || op == 0x9D || op == 0x9E || op == 0x9F:
		// pushad/popad/pushfd/popfd/sahf/lahf
		return &decoder.Instruction{Opcode: decoder.OpCode(op), Size: 1}, true
	case op == 0xE8:
		return fixedRel(buf, 0xE8, 5, decoder.MetaCall)
	case op == 0xE9:
		return fixedRel(buf, 0xE9, 5, decoder.MetaUnconditionalBranch)
	case op == 0xEB:
		return fixedRel(buf, 0xEB, 2, decoder.MetaUnconditionalBranch)
	case op >= 0xE0 && op <= 0xE3: // loopne/loope/loop/jecxz
		return fixedRel(buf, decoder.OpCode(op), 2, decoder.MetaConditionalBranch)
	case op >= 0x70 && op <= 0x7F:
		return fixedRel(buf, decoder.OpCode(op), 2, decoder.MetaConditionalBranch)
	case op >= 0x50 && op <= 0x57:
		return &decoder.Instruction{Opcode: decoder.OpCode(op), Size: 1,
			Ops: [4]decoder.Operand{regOp(x86reg.Dwords32[op-0x50])}}, true
	case op >= 0x58 && op <= 0x5F:
		return &decoder.Instruction{Opcode: decoder.OpCode(op), Size: 1,
			Ops: [4]decoder.Operand{regOp(x86reg.Dwords32[op-0x58])}}, true
	case op >= 0x91 && op <= 0x97: // xchg eax, r
		return &decoder.Instruction{Opcode: decoder.OpCode(op), Size: 1,
			Ops: [4]decoder.Operand{regOp(x86reg.EAX), regOp(x86reg.Dwords32[op-0x90])}}, true
	case op >= 0xB0 && op <= 0xB7:
		if len(buf) < 2 {
			return nil, false
		}
		return &decoder.Instruction{Opcode: decoder.OpCode(op), Size: 2,
			Ops: [4]decoder.Operand{regOp(x86reg.Bytes8[op-0xB0]), immOp(x86reg.Size8)}}, true
	case op >= 0xB8 && op <= 0xBF:
		if len(buf) < 5 {
			return nil, false
		}
		return &decoder.Instruction{Opcode: decoder.OpCode(op), Size: 5,
			Ops: [4]decoder.Operand{regOp(x86reg.Dwords32[op-0xB8]), immOp(x86reg.Size32)}}, true
	case op == 0x6A:
		if len(buf) < 2 {
			return nil, false
		}
		return &decoder.Instruction{Opcode: 0x6A, Size: 2, Ops: [4]decoder.Operand{immOp(x86reg.Size8)}}, true
	case op == 0x68:
		if len(buf) < 5 {
			return nil, false
		}
		return &decoder.Instruction{Opcode: 0x68, Size: 5, Ops: [4]decoder.Operand{immOp(x86reg.Size32)}}, true
	case op == 0xA8:
		if len(buf) < 2 {
			return nil, false
		}
		return &decoder.Instruction{Opcode: 0xA8, Size: 2, ModifiedFlagsMask: arithFlags,
			Ops: [4]decoder.Operand{regOp(x86reg.AL), immOp(x86reg.Size8)}}, true
	case op == 0xA9:
		if len(buf) < 5 {
			return nil, false
		}
		return &decoder.Instruction{Opcode: 0xA9, Size: 5, ModifiedFlagsMask: arithFlags,
			Ops: [4]decoder.Operand{regOp(x86reg.EAX), immOp(x86reg.Size32)}}, true
	case op >= 0xA0 && op <= 0xA3: // direct-memory accumulator mov
		if len(buf) < 5 {
			return nil, false
		}
		acc := x86reg.AL
		if op&1 == 1 {
			acc = x86reg.EAX
		}
		mem := decoder.Operand{Kind: decoder.OperandDispOnly, Reg: x86reg.None, Size: acc.Size(),
			Disp: int32(uint32(buf[1]) | uint32(buf[2])<<8 | uint32(buf[3])<<16 | uint32(buf[4])<<24)}
		ops := [4]decoder.Operand{regOp(acc), mem}
		if op >= 0xA2 {
			ops = [4]decoder.Operand{mem, regOp(acc)}
		}
		return &decoder.Instruction{Opcode: decoder.OpCode(op), Size: 5, Ops: ops}, true
	case op == 0x0F:
		return decodeTwoByte(buf)
	}

	// Accumulator-immediate ALU forms: (group<<3)|0x04 / 0x05.
	if op&0xC7 == 0x04 || op&0xC7 == 0x05 {
		g := op >> 3
		if g <= 7 {
			wide := op&1 == 1
			if !wide {
				if len(buf) < 2 {
					return nil, false
				}
				return &decoder.Instruction{Opcode: decoder.OpCode(op), Size: 2, ModifiedFlagsMask: arithFlags,
					Ops: [4]decoder.Operand{regOp(x86reg.AL), immOp(x86reg.Size8)}}, true
			}
			if len(buf) < 5 {
				return nil, false
			}
			return &decoder.Instruction{Opcode: decoder.OpCode(op), Size: 5, ModifiedFlagsMask: arithFlags,
				Ops: [4]decoder.Operand{regOp(x86reg.EAX), immOp(x86reg.Size32)}}, true
		}
	}

	return decodeModRM(buf)
}

func fixedRel(buf []byte, op decoder.OpCode, size int, meta decoder.Meta) (*decoder.Instruction, bool) {
	if len(buf) < size {
		return nil, false
	}
	return &decoder.Instruction{Opcode: op, Size: size, Meta: meta,
		Ops: [4]decoder.Operand{{Kind: decoder.OperandPCRelative}}}, true
}

// decodeModRM handles the one-byte opcodes followed by a register-only
// ModR/M byte (mod == 11): the two-operand MOV/ALU/TEST/XCHG forms and
// the group opcodes with their reg-field extensions.
func decodeModRM(buf []byte) (*decoder.Instruction, bool) {
	if len(buf) < 2 || buf[1]>>6 != 0b11 {
		return nil, false
	}
	op := buf[0]
	modrm := buf[1]
	regField := (modrm >> 3) & 7
	rmField := modrm & 7

	size := x86reg.Size8
	if op&1 == 1 {
		size = x86reg.Size32
	}
	rm := x86reg.ByCode(size, rmField)
	reg := x86reg.ByCode(size, regField)

	twoOp := func(flags decoder.FlagMask) (*decoder.Instruction, bool) {
		// Direction bit: 0x02 set means the reg field is the destination.
		ops := [4]decoder.Operand{regOp(rm), regOp(reg)}
		if op&0x02 != 0 {
			ops = [4]decoder.Operand{regOp(reg), regOp(rm)}
		}
		return &decoder.Instruction{Opcode: decoder.OpCode(op), Size: 2, Ops: ops, ModifiedFlagsMask: flags}, true
	}

	switch {
	case op == 0x88 || op == 0x89 || op == 0x8A || op == 0x8B:
		return twoOp(0)
	case op == 0x84 || op == 0x85 || op == 0x86 || op == 0x87:
		// TEST and XCHG have only the r/m,reg form.
		flags := decoder.FlagMask(0)
		if op <= 0x85 {
			flags = arithFlags
		}
		return &decoder.Instruction{Opcode: decoder.OpCode(op), Size: 2,
			Ops: [4]decoder.Operand{regOp(rm), regOp(reg)}, ModifiedFlagsMask: flags}, true
	case op < 0x40 && op&0x04 == 0 && op&0x07 <= 3:
		// Two-operand ALU groups: (group<<3) | direction/width bits.
		return twoOp(arithFlags)
	case op == 0xC6 || op == 0xC7:
		if regField != 0 {
			return nil, false
		}
		immSize, total := x86reg.Size8, 3
		if op == 0xC7 {
			immSize, total = x86reg.Size32, 6
		}
		if len(buf) < total {
			return nil, false
		}
		return &decoder.Instruction{Opcode: decoder.OpCode(op), Size: total,
			Ops: [4]decoder.Operand{regOp(rm), immOp(immSize)}}, true
	case op == 0x80 || op == 0x81 || op == 0x83:
		immLen := 1
		if op == 0x81 {
			immLen = 4
		}
		if len(buf) < 2+immLen {
			return nil, false
		}
		if op == 0x80 {
			rm = x86reg.ByCode(x86reg.Size8, rmField)
		} else {
			rm = x86reg.ByCode(x86reg.Size32, rmField)
		}
		return &decoder.Instruction{Opcode: decoder.OpCode(op), Size: 2 + immLen, Ext: regField,
			Ops: [4]decoder.Operand{regOp(rm), immOp(size)}, ModifiedFlagsMask: arithFlags}, true
	case op == 0xF6 || op == 0xF7:
		in := &decoder.Instruction{Opcode: decoder.OpCode(op), Size: 2, Ext: regField,
			Ops: [4]decoder.Operand{regOp(rm)}, ModifiedFlagsMask: arithFlags}
		if regField == decoder.ExtTest0 || regField == decoder.ExtTest1 {
			immLen := 1
			if op == 0xF7 {
				immLen = 4
			}
			if len(buf) < 2+immLen {
				return nil, false
			}
			in.Size = 2 + immLen
			in.Ops[1] = immOp(size)
		}
		return in, true
	case op == 0xFE || op == 0xFF:
		in := &decoder.Instruction{Opcode: decoder.OpCode(op), Size: 2, Ext: regField,
			Ops: [4]decoder.Operand{regOp(rm)}}
		if op == 0xFF {
			switch regField {
			case 2, 3:
				in.Meta = decoder.MetaCall
			case 4, 5:
				in.Meta = decoder.MetaUnconditionalBranch
			}
		}
		if regField == 0 || regField == 1 { // inc/dec write all arithmetic flags but CF
			in.ModifiedFlagsMask = arithFlags &^ decoder.FlagCF
		}
		return in, true
	case op == 0xD0 || op == 0xD1:
		return &decoder.Instruction{Opcode: decoder.OpCode(op), Size: 2, Ext: regField,
			Ops: [4]decoder.Operand{regOp(rm)}, ModifiedFlagsMask: arithFlags}, true
	case op == 0xC0 || op == 0xC1:
		if len(buf) < 3 {
			return nil, false
		}
		return &decoder.Instruction{Opcode: decoder.OpCode(op), Size: 3, Ext: regField,
			Ops: [4]decoder.Operand{regOp(rm), immOp(x86reg.Size8)}, ModifiedFlagsMask: arithFlags}, true
	}
	return nil, false
}

// decodeTwoByte handles the 0x0F-prefixed forms the assembler emits:
// long conditional branches, SETcc, and MOVZX (register source only).
func decodeTwoByte(buf []byte) (*decoder.Instruction, bool) {
	if len(buf) < 2 {
		return nil, false
	}
	op2 := buf[1]
	switch {
	case op2 >= 0x80 && op2 <= 0x8F:
		if len(buf) < 6 {
			return nil, false
		}
		return &decoder.Instruction{Opcode: decoder.OpCode(0x0F00 | uint16(op2)), Size: 6,
			Meta: decoder.MetaConditionalBranch,
			Ops:  [4]decoder.Operand{{Kind: decoder.OperandPCRelative}}}, true
	case op2 >= 0x90 && op2 <= 0x9F:
		if len(buf) < 3 || buf[2]>>6 != 0b11 {
			return nil, false
		}
		return &decoder.Instruction{Opcode: decoder.OpCode(0x0F00 | uint16(op2)), Size: 3,
			Ops: [4]decoder.Operand{regOp(x86reg.ByCode(x86reg.Size8, buf[2]&7))}}, true
	case op2 == 0xB6 || op2 == 0xB7:
		if len(buf) < 3 || buf[2]>>6 != 0b11 {
			return nil, false
		}
		srcSize := x86reg.Size8
		if op2 == 0xB7 {
			srcSize = x86reg.Size16
		}
		modrm := buf[2]
		return &decoder.Instruction{Opcode: decoder.OpCode(0x0F00 | uint16(op2)), Size: 3,
			Ops: [4]decoder.Operand{
				regOp(x86reg.ByCode(x86reg.Size32, (modrm>>3)&7)),
				regOp(x86reg.ByCode(srcSize, modrm&7)),
			}}, true
	}
	return nil, false
}
