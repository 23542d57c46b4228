package inst

// BlockID identifies a basic block within a single subgraph (see
// pkg/bbgraph). Defined here, one layer below bbgraph, so both the
// instruction record's operand references and the subgraph's own
// reference/referrer maps share one representation without an import
// cycle between the two packages.
type BlockID uint32

// ReferenceType distinguishes how a stored reference field is to be
// interpreted when the referencing instruction or data word is finally
// written out.
type ReferenceType uint8

const (
	// RefAbsolute stores the target's absolute address.
	RefAbsolute ReferenceType = iota
	// RefPCRelative stores the target's distance from the end of the
	// referencing instruction.
	RefPCRelative
)

// BlockReference names a reference target: either another block
// (Block != 0) or an external, opaque token (Token != nil) naming
// something outside the rewritten region (an imported symbol, for
// instance). Size is the byte width of the reference field as stored
// in the referencing instruction or data word; Offset is the byte
// offset into the target the reference actually lands on, and Base the
// target-relative position it is computed against (they differ for a
// reference into the middle of a block).
type BlockReference struct {
	Type   ReferenceType
	Size   uint8
	Block  BlockID
	Token  any
	Offset int32
	Base   int32
}

// IsBlock reports whether the reference targets a block rather than an
// external token.
func (r BlockReference) IsBlock() bool { return r.Block != 0 }

// width returns the byte span the reference occupies in its carrier
// (at least one byte even when Size was left unset).
func (r BlockReference) width() uint16 {
	if r.Size == 0 {
		return 1
	}
	return uint16(r.Size)
}
