// Package decoder defines the contract the basic-block graph IR consumes
// from an external x86-32 instruction decoder. The core never implements
// decoding itself — it only depends on this language-neutral record, so
// any concrete decoder can be plugged in by supplying a Decoder function.
package decoder

import "github.com/oisee/x86bbrw/pkg/x86reg"

// OpCode is an external decoder's enumerated mnemonic identifier. The
// core treats it as an opaque comparable value except where it needs to
// recognize specific control-flow or flag-consuming mnemonics (see
// pkg/inst for those predicates).
type OpCode uint16

// OperandKind distinguishes the operand shapes a decoder can report.
type OperandKind uint8

const (
	OperandNone OperandKind = iota
	OperandRegister
	OperandImmediate
	OperandPCRelative
	OperandMemSimple // [reg + disp]
	OperandMemFull   // [base + index*scale + disp]
	OperandDispOnly  // [disp32]
)

// Operand is one decoded operand descriptor, as produced by the decoder
// for Instruction.Ops[0..4].
type Operand struct {
	Kind  OperandKind
	Reg   x86reg.Register // valid for OperandRegister, and as base/index below
	Index x86reg.Register // valid for OperandMemFull
	Scale uint8           // 1, 2, 4, or 8; valid for OperandMemFull
	Size  x86reg.Size
	Disp  int32 // valid for OperandMemSimple/OperandMemFull/OperandDispOnly
}

// PrefixFlags records the prefix bytes relevant to dataflow: REP/REPNZ
// string-operation prefixes and any segment override.
type PrefixFlags uint8

const (
	PrefixRep PrefixFlags = 1 << iota
	PrefixRepnz
	PrefixSegmentOverride
)

// Meta classifies an instruction's role in control flow.
type Meta uint8

const (
	MetaNone Meta = iota
	MetaCall
	MetaReturn
	MetaUnconditionalBranch
	MetaConditionalBranch
	MetaInterrupt
)

// FlagMask mirrors the decoder's arithmetic-flags enumeration: ZF, SF,
// CF, OF, PF, AF, DF, IF, one bit each.
type FlagMask uint8

const (
	FlagZF FlagMask = 1 << iota
	FlagSF
	FlagCF
	FlagOF
	FlagPF
	FlagAF
	FlagDF
	FlagIF
)

// Instruction is the decoded record the core consumes. All fields are
// required per the contract in spec §6.
type Instruction struct {
	Opcode   OpCode
	Size     int // bytes consumed; equals len(buf) for a tight decode
	Ops      [4]Operand
	Disp     int32
	DispSize x86reg.Size
	Flags    PrefixFlags
	Meta     Meta

	// Ext is the ModR/M reg-field extension (0-7) for an opcode byte
	// that is shared by more than one mnemonic (the x86 "group"
	// opcodes): 0xF6/0xF7 (TEST/NOT/NEG/MUL/IMUL/DIV/IDIV), 0xC0/0xC1/
	// 0xD0-0xD3 (ROL/ROR/RCL/RCR/SHL/SHR/SAR), 0x80/0x81/0x83
	// (immediate ADD/OR/ADC/SBB/AND/SUB/XOR/CMP), and 0xFE/0xFF
	// (INC/DEC/CALL/JMP/PUSH). Zero for any opcode that isn't a group
	// opcode. This mirrors the ModR/M reg field the assembler itself
	// emits as an opcode extension (see x86asm's encodeRM and ShiftOp) —
	// the decoder side of the same encoding fact.
	Ext uint8

	ModifiedFlagsMask  FlagMask
	UndefinedFlagsMask FlagMask
	TestedFlagsMask    FlagMask
}

// Group-3 (0xF6/0xF7) ModR/M reg-field extensions.
const (
	ExtTest0 uint8 = 0
	ExtTest1 uint8 = 1
	ExtNot   uint8 = 2
	ExtNeg   uint8 = 3
	ExtMul   uint8 = 4
	ExtImul  uint8 = 5
	ExtDiv   uint8 = 6
	ExtIdiv  uint8 = 7
)

// Group-2 (0xC0/0xC1/0xD0-0xD3) shift ModR/M reg-field extensions.
const (
	ExtRol uint8 = 0
	ExtRor uint8 = 1
	ExtRcl uint8 = 2
	ExtRcr uint8 = 3
	ExtShl uint8 = 4
	ExtShr uint8 = 5
	// 6 is an unused/alias SHL encoding.
	ExtSar uint8 = 7
)

// Immediate ALU group (0x80/0x81/0x83) ModR/M reg-field extensions.
const (
	ExtAdd uint8 = 0
	ExtOr  uint8 = 1
	ExtAdc uint8 = 2
	ExtSbb uint8 = 3
	ExtAnd uint8 = 4
	ExtSub uint8 = 5
	ExtXor uint8 = 6
	ExtCmp uint8 = 7
)

// Decoder decodes one instruction from the front of buf. It returns
// (nil, false) if buf does not begin with a valid encoding.
type Decoder func(buf []byte) (*Instruction, bool)
