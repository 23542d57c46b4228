// Package inst defines the instruction record the basic-block graph and
// its analyses operate on: a decoded instruction plus its raw encoding,
// any symbolic references embedded in its operands, and bookkeeping the
// rewriter attaches (source provenance, labels, ad-hoc tags).
package inst

import (
	"errors"
	"fmt"

	"github.com/oisee/x86bbrw/pkg/decoder"
)

// ErrBadReferenceOffset is returned by SetReference when a reference
// would fall outside the instruction's encoded bytes or overlap another
// reference already recorded on it.
var ErrBadReferenceOffset = errors.New("inst: reference offset out of range or overlapping")

// ErrUninvertible is returned by InvertConditionalBranchOpcode for
// branches that have no complementary single-instruction form: JCXZ,
// JECXZ, and the LOOP family test a counter in addition to a flag, so
// inverting "branch if taken" requires synthesizing a trampoline the
// core does not build.
var ErrUninvertible = errors.New("inst: opcode has no invertible branch form")

// SourceRange records where in the original image an instruction came
// from, for diagnostics only; analyses never consult it.
type SourceRange struct {
	Start uint32
	Size  uint32
}

// Instruction is one decoded instruction plus the raw bytes it was (or
// will be) encoded as, any references its operands carry, and rewriter
// bookkeeping. It is deliberately small and copyable except for its
// maps, mirroring the fixed-size philosophy of a decoded-instruction
// record: most of it is inline, and extension points (refs, tags) are
// sparse maps that stay nil until used.
type Instruction struct {
	decoder.Instruction

	Bytes [15]byte
	Len   uint8

	// refs is sparse: most instructions carry no symbolic reference, so
	// it stays nil. Keyed by the byte offset (within Bytes[:Len]) of the
	// value carrying the reference.
	refs map[uint16]BlockReference

	Source SourceRange
	Label  string
	Tags   map[string]any
}

// NewInstruction wraps a decoded record and its raw bytes into an
// Instruction. raw must be at most 15 bytes, the longest an x86
// instruction can legally encode to.
func NewInstruction(d decoder.Instruction, raw []byte) *Instruction {
	if len(raw) > 15 {
		panic("inst: instruction exceeds 15 bytes")
	}
	i := &Instruction{Instruction: d}
	i.Len = uint8(copy(i.Bytes[:], raw))
	return i
}

// RawBytes returns the instruction's encoded bytes.
func (i *Instruction) RawBytes() []byte {
	return i.Bytes[:i.Len]
}

// SetReference records that the value at the given byte offset refers
// to ref. The offset must lie strictly inside the instruction's encoded
// bytes and the referenced field must not overlap any other recorded
// reference; a reference already at exactly this offset is replaced.
func (i *Instruction) SetReference(offset uint16, ref BlockReference) error {
	if offset >= uint16(i.Len) || offset+ref.width() > uint16(i.Len) {
		return fmt.Errorf("%w: offset %d width %d in %d-byte instruction", ErrBadReferenceOffset, offset, ref.width(), i.Len)
	}
	for o, r := range i.refs {
		if o == offset {
			continue
		}
		if offset < o+r.width() && o < offset+ref.width() {
			return fmt.Errorf("%w: offset %d overlaps reference at %d", ErrBadReferenceOffset, offset, o)
		}
	}
	if i.refs == nil {
		i.refs = make(map[uint16]BlockReference)
	}
	i.refs[offset] = ref
	return nil
}

// RemoveReference deletes the reference at the given byte offset, if any.
func (i *Instruction) RemoveReference(offset uint16) {
	delete(i.refs, offset)
}

// Reference returns the reference at the given byte offset, if any.
func (i *Instruction) Reference(offset uint16) (BlockReference, bool) {
	r, ok := i.refs[offset]
	return r, ok
}

// References returns every (offset, reference) pair the instruction
// carries, in no particular order.
func (i *Instruction) References() map[uint16]BlockReference {
	return i.refs
}

// Tag attaches an arbitrary rewriter-defined annotation to the instruction.
func (i *Instruction) Tag(key string, value any) {
	if i.Tags == nil {
		i.Tags = make(map[string]any)
	}
	i.Tags[key] = value
}

// IsCall reports whether the instruction transfers control with the
// expectation of returning.
func (i *Instruction) IsCall() bool { return i.Meta == decoder.MetaCall }

// IsReturn reports whether the instruction returns to its caller.
func (i *Instruction) IsReturn() bool { return i.Meta == decoder.MetaReturn }

// IsBranch reports whether the instruction is a conditional or
// unconditional jump.
func (i *Instruction) IsBranch() bool {
	return i.Meta == decoder.MetaConditionalBranch || i.Meta == decoder.MetaUnconditionalBranch
}

// IsConditionalBranch reports whether the instruction is a conditional jump.
func (i *Instruction) IsConditionalBranch() bool {
	return i.Meta == decoder.MetaConditionalBranch
}

// IsInterrupt reports whether the instruction raises a software interrupt.
func (i *Instruction) IsInterrupt() bool { return i.Meta == decoder.MetaInterrupt }

// IsControlFlow reports whether the instruction can transfer control
// anywhere other than the next sequential instruction.
func (i *Instruction) IsControlFlow() bool {
	switch i.Meta {
	case decoder.MetaCall, decoder.MetaReturn, decoder.MetaUnconditionalBranch,
		decoder.MetaConditionalBranch, decoder.MetaInterrupt:
		return true
	default:
		return false
	}
}

// IsNop reports whether the instruction is a single- or multi-byte NOP
// with no side effect worth preserving.
func (i *Instruction) IsNop() bool {
	return i.Opcode == 0x90 || i.Opcode == 0x0F1F
}

// CallsNonReturningFunction reports whether the instruction is a direct
// call whose target, as resolved by resolve, is known never to return
// (e.g. to an abort/exit routine). Conservative callers should treat an
// unresolved call as potentially returning.
func (i *Instruction) CallsNonReturningFunction(resolve func(BlockID) bool) bool {
	if !i.IsCall() {
		return false
	}
	for _, ref := range i.refs {
		if ref.IsBlock() && resolve(ref.Block) {
			return true
		}
	}
	return false
}

// invertibleConditions maps a Jcc opcode's low nibble (the condition
// code shared with SETcc/CMOVcc) to its complement's low nibble.
// JCXZ/JECXZ/LOOP* use fixed opcodes outside this scheme and are
// rejected by InvertConditionalBranchOpcode below.
var invertibleConditions = map[uint8]uint8{
	0x0: 0x1, 0x1: 0x0,
	0x2: 0x3, 0x3: 0x2,
	0x4: 0x5, 0x5: 0x4,
	0x6: 0x7, 0x7: 0x6,
	0x8: 0x9, 0x9: 0x8,
	0xA: 0xB, 0xB: 0xA,
	0xC: 0xD, 0xD: 0xC,
	0xE: 0xF, 0xF: 0xE,
}

// uninvertibleOpcodes are the fixed one-byte JECXZ/LOOP* opcodes with no
// invertible complement.
var uninvertibleOpcodes = map[decoder.OpCode]bool{
	0xE3: true, // JECXZ
	0xE2: true, // LOOP
	0xE1: true, // LOOPE/LOOPZ
	0xE0: true, // LOOPNE/LOOPNZ
}

// InvertConditionalBranchOpcode returns the opcode of the complementary
// conditional branch (same operand shape, opposite condition), or
// ErrUninvertible if op has no such complement.
func InvertConditionalBranchOpcode(op decoder.OpCode) (decoder.OpCode, error) {
	if uninvertibleOpcodes[op] {
		return 0, ErrUninvertible
	}
	switch {
	case op >= 0x70 && op <= 0x7F:
		cc := uint8(op) & 0x0F
		return decoder.OpCode(0x70 | invertibleConditions[cc]), nil
	case op >= 0x0F80 && op <= 0x0F8F:
		cc := uint8(op) & 0x0F
		return decoder.OpCode(0x0F80 | uint16(invertibleConditions[cc])), nil
	default:
		return 0, ErrUninvertible
	}
}
