package bbgraph

import (
	"github.com/oisee/x86bbrw/pkg/inst"
	"github.com/oisee/x86bbrw/pkg/x86asm"
)

// Successor is one outgoing control-flow edge of a CodeBlock: taken when
// Condition holds (CondTrue for the sole edge of an unconditional
// block), targeting Target, with BranchLength giving the encoded size in
// bytes of the branch instruction that realizes the edge (0 for a
// fallthrough edge with no corresponding instruction).
type Successor struct {
	Condition    x86asm.Condition
	Target       BlockReference
	BranchLength uint8
}

// CodeBlock is a basic block holding a straight-line instruction
// sequence and zero, one, or two successor edges (zero only for a block
// whose last instruction is a RET or an unconditional jump; two for a
// conditional branch's taken/fallthrough pair).
type CodeBlock struct {
	id         BlockID
	name       string
	sg         *Subgraph
	instrs     []*inst.Instruction
	successors []Successor
	alignment  uint8
}

func (*CodeBlock) isBasicBlock()  {}
func (b *CodeBlock) ID() BlockID  { return b.id }
func (b *CodeBlock) Name() string { return b.name }

// Instructions returns the block's instruction sequence, in order.
func (b *CodeBlock) Instructions() []*inst.Instruction { return b.instrs }

// AppendInstruction appends i to the end of the block's instruction
// stream.
func (b *CodeBlock) AppendInstruction(i *inst.Instruction) {
	b.instrs = append(b.instrs, i)
}

// RemoveInstructionAt deletes the instruction at index idx.
func (b *CodeBlock) RemoveInstructionAt(idx int) {
	b.instrs = append(b.instrs[:idx], b.instrs[idx+1:]...)
}

// SetSuccessors replaces the block's successor list. A CodeBlock may
// have 0 (ends in a RET or an unconditional jump), 1
// (fallthrough or unconditional jump), or 2 (conditional branch: taken
// then fallthrough) successors. The owning subgraph's reference maps are
// updated so each edge's target records this block as a referrer.
func (b *CodeBlock) SetSuccessors(succs []Successor) {
	b.successors = append([]Successor(nil), succs...)
	b.sg.setSuccessorRefs(b.id, b.successors)
}

// Successors returns the block's outgoing edges.
func (b *CodeBlock) Successors() []Successor {
	return append([]Successor(nil), b.successors...)
}

// SetAlignment records the byte alignment this block requires when
// placed (0 or 1 mean unaligned).
func (b *CodeBlock) SetAlignment(a uint8) { b.alignment = a }

// Alignment returns the block's required alignment.
func (b *CodeBlock) Alignment() uint8 { return b.alignment }

// InstructionsSize returns the sum of the block's instructions' encoded
// lengths, not counting any successor branch.
func (b *CodeBlock) InstructionsSize() uint32 {
	var total uint32
	for _, i := range b.instrs {
		total += uint32(i.Len)
	}
	return total
}

// MaxSize returns the maximum size this block could occupy once placed:
// its instructions plus the BranchLength recorded on each of its
// successor edges. This mirrors the original rewriter's accounting,
// which folds the successor branch length into a code block's size
// rather than treating it as the next block's concern.
func (b *CodeBlock) MaxSize() uint32 {
	total := b.InstructionsSize()
	for _, s := range b.successors {
		total += uint32(s.BranchLength)
	}
	return total
}

// IsValid reports whether the block's successor shape matches its
// terminating instruction, per the invariant table: zero successors
// require the last instruction to be RET or an unconditional JMP; one
// successor must carry CondTrue; two successors must carry exact
// inverse conditions.
func (b *CodeBlock) IsValid() bool {
	switch len(b.successors) {
	case 0:
		if len(b.instrs) == 0 {
			return false
		}
		last := b.instrs[len(b.instrs)-1]
		return last.IsReturn() || (last.IsBranch() && !last.IsConditionalBranch())
	case 1:
		return b.successors[0].Condition == x86asm.CondTrue
	case 2:
		inv, ok := b.successors[0].Condition.Invert()
		return ok && inv == b.successors[1].Condition
	default:
		return false
	}
}

// DataBlock is a basic block holding raw data (e.g. a jump table or
// literal pool) rather than instructions.
type DataBlock struct {
	id   BlockID
	name string
	Data []byte
}

func (*DataBlock) isBasicBlock()  {}
func (b *DataBlock) ID() BlockID  { return b.id }
func (b *DataBlock) Name() string { return b.name }

// EndBlock marks the end of an original code range the subgraph doesn't
// model as individual instructions (e.g. code that decoded successfully
// but that the rewriter chose not to disassemble further).
type EndBlock struct {
	id   BlockID
	name string
	Size uint32
}

func (*EndBlock) isBasicBlock()  {}
func (b *EndBlock) ID() BlockID  { return b.id }
func (b *EndBlock) Name() string { return b.name }
