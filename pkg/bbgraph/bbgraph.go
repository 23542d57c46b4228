// Package bbgraph implements the basic-block graph (BBG) intermediate
// representation: a subgraph of code, data, and end blocks connected by
// typed successor edges, with a bidirectional reference/referrer map
// kept consistent as blocks are edited.
package bbgraph

import (
	"errors"

	"github.com/oisee/x86bbrw/pkg/inst"
)

// ErrInvariantViolated is returned when an operation would leave the
// subgraph's block/reference invariants inconsistent (e.g. a successor
// naming a block that isn't part of the subgraph).
var ErrInvariantViolated = errors.New("bbgraph: invariant violated")

// BlockID identifies a basic block within a single Subgraph. IDs are
// never reused within a subgraph's lifetime. Shares its representation
// with inst.BlockID so an instruction's operand references and the
// subgraph's own reference map agree without converting between types.
type BlockID = inst.BlockID

// BlockReference names a reference target: either another block in the
// same subgraph or an external, opaque token naming something outside
// the rewritten region.
type BlockReference = inst.BlockReference

// refKey identifies one outgoing reference site: the byte offset of the
// referencing value within the source block's instruction stream.
type refKey struct {
	From   BlockID
	Offset uint16
}

// Successor edges are recorded in the reference maps at reserved offsets
// beyond any real instruction offset, so that the referrer relation covers
// every reference site — instruction operands, data-block words, and
// control-flow edges alike.
const (
	succRefOffset0 uint16 = 0xFFFE
	succRefOffset1 uint16 = 0xFFFF
)

// BasicBlock is the tagged-union interface implemented by CodeBlock,
// DataBlock, and EndBlock. The unexported marker method closes the union
// to this package's three variants.
type BasicBlock interface {
	isBasicBlock()
	ID() BlockID
	Name() string
}

// BlockType is the intended kind of block a BlockDescription will be
// materialized as when written back to an image.
type BlockType uint8

const (
	BlockTypeCode BlockType = iota
	BlockTypeData
)

// BlockDescription describes one block of the final layout: its name,
// intended type, required alignment, and the ordered basic blocks that
// form its contents. The first basic block in the order is the entry
// point. Subgraphs may have several descriptions, corresponding to
// several original functions merged into one rewrite unit.
type BlockDescription struct {
	Name      string
	Type      BlockType
	Alignment uint32
	Blocks    []BlockID
}

// Entry returns the description's entry block: the first block of its
// layout order, or 0 if the description is empty.
func (d BlockDescription) Entry() BlockID {
	if len(d.Blocks) == 0 {
		return 0
	}
	return d.Blocks[0]
}

// Subgraph owns a set of basic blocks and the reference/referrer maps
// between them. It is the unit callers pass to every analysis and
// transform in this repository.
type Subgraph struct {
	blocks       map[BlockID]BasicBlock
	nextID       BlockID
	descriptions []BlockDescription

	forward map[refKey]BlockReference
	reverse map[BlockID]map[refKey]struct{}
}

// NewSubgraph returns an empty subgraph.
func NewSubgraph() *Subgraph {
	return &Subgraph{
		blocks:  make(map[BlockID]BasicBlock),
		nextID:  1,
		forward: make(map[refKey]BlockReference),
		reverse: make(map[BlockID]map[refKey]struct{}),
	}
}

func (sg *Subgraph) allocID() BlockID {
	id := sg.nextID
	sg.nextID++
	return id
}

// AddCodeBlock creates an empty CodeBlock named name and adds it to the subgraph.
func (sg *Subgraph) AddCodeBlock(name string) *CodeBlock {
	b := &CodeBlock{id: sg.allocID(), name: name, sg: sg}
	sg.blocks[b.id] = b
	return b
}

// AddDataBlock creates a DataBlock holding data and adds it to the subgraph.
func (sg *Subgraph) AddDataBlock(name string, data []byte) *DataBlock {
	b := &DataBlock{id: sg.allocID(), name: name, Data: append([]byte(nil), data...)}
	sg.blocks[b.id] = b
	return b
}

// AddEndBlock creates an EndBlock (marking the original extent of a code
// range the subgraph doesn't otherwise model) and adds it to the subgraph.
func (sg *Subgraph) AddEndBlock(name string, size uint32) *EndBlock {
	b := &EndBlock{id: sg.allocID(), name: name, Size: size}
	sg.blocks[b.id] = b
	return b
}

// AddBlockDescription registers a block description: a named layout unit
// of the given type and alignment whose contents are the listed basic
// blocks, in final layout order.
func (sg *Subgraph) AddBlockDescription(name string, typ BlockType, alignment uint32, blocks ...BlockID) {
	sg.descriptions = append(sg.descriptions, BlockDescription{
		Name:      name,
		Type:      typ,
		Alignment: alignment,
		Blocks:    append([]BlockID(nil), blocks...),
	})
}

// Descriptions returns a copy of the subgraph's registered block
// descriptions (each one's Entry is its first block).
func (sg *Subgraph) Descriptions() []BlockDescription {
	return append([]BlockDescription(nil), sg.descriptions...)
}

// Block returns the block with the given ID, or nil if none exists.
func (sg *Subgraph) Block(id BlockID) BasicBlock {
	return sg.blocks[id]
}

// Blocks returns every block in the subgraph, in no particular order.
func (sg *Subgraph) Blocks() []BasicBlock {
	out := make([]BasicBlock, 0, len(sg.blocks))
	for _, b := range sg.blocks {
		out = append(out, b)
	}
	return out
}

// AddReference records that the value at byte offset `offset` within
// block `from`'s instruction stream refers to `to`, updating both the
// forward and reverse maps atomically. A prior reference at the same
// site is replaced.
func (sg *Subgraph) AddReference(from BlockID, offset uint16, to BlockReference) error {
	if _, ok := sg.blocks[from]; !ok {
		return ErrInvariantViolated
	}
	key := refKey{From: from, Offset: offset}
	sg.clearRef(key)
	sg.forward[key] = to
	if to.IsBlock() {
		if sg.reverse[to.Block] == nil {
			sg.reverse[to.Block] = make(map[refKey]struct{})
		}
		sg.reverse[to.Block][key] = struct{}{}
	}
	return nil
}

// RemoveReference deletes the reference at the given site, if any.
func (sg *Subgraph) RemoveReference(from BlockID, offset uint16) {
	sg.clearRef(refKey{From: from, Offset: offset})
}

func (sg *Subgraph) clearRef(key refKey) {
	old, ok := sg.forward[key]
	if !ok {
		return
	}
	delete(sg.forward, key)
	if old.IsBlock() {
		if m := sg.reverse[old.Block]; m != nil {
			delete(m, key)
			if len(m) == 0 {
				delete(sg.reverse, old.Block)
			}
		}
	}
}

// Reference returns the reference recorded at the given site, if any.
func (sg *Subgraph) Reference(from BlockID, offset uint16) (BlockReference, bool) {
	r, ok := sg.forward[refKey{From: from, Offset: offset}]
	return r, ok
}

// setSuccessorRefs rewrites the reserved successor reference sites for
// block from, so the referrer relation reflects its current edges.
func (sg *Subgraph) setSuccessorRefs(from BlockID, succs []Successor) {
	sg.clearRef(refKey{From: from, Offset: succRefOffset0})
	sg.clearRef(refKey{From: from, Offset: succRefOffset1})
	for i, s := range succs {
		if i > 1 {
			break
		}
		offset := succRefOffset0 + uint16(i)
		key := refKey{From: from, Offset: offset}
		sg.forward[key] = s.Target
		if s.Target.IsBlock() {
			if sg.reverse[s.Target.Block] == nil {
				sg.reverse[s.Target.Block] = make(map[refKey]struct{})
			}
			sg.reverse[s.Target.Block][key] = struct{}{}
		}
	}
}

// Predecessors returns the blocks with a successor edge into target,
// without duplicates and in no particular order.
func (sg *Subgraph) Predecessors(target BlockID) []BlockID {
	seen := make(map[BlockID]bool)
	var out []BlockID
	for key := range sg.reverse[target] {
		if key.Offset < succRefOffset0 || seen[key.From] {
			continue
		}
		seen[key.From] = true
		out = append(out, key.From)
	}
	return out
}

// Referrers returns every (block, offset) site that references target.
func (sg *Subgraph) Referrers(target BlockID) []struct {
	From   BlockID
	Offset uint16
} {
	var out []struct {
		From   BlockID
		Offset uint16
	}
	for key := range sg.reverse[target] {
		out = append(out, struct {
			From   BlockID
			Offset uint16
		}{From: key.From, Offset: key.Offset})
	}
	return out
}
