// Package liveness implements backward liveness analysis over x86
// general-purpose register bit-subfields and the arithmetic flags,
// driven to a fixpoint over each basic block's successors.
package liveness

import (
	"github.com/oisee/x86bbrw/pkg/decoder"
	"github.com/oisee/x86bbrw/pkg/x86reg"
)

// RegMask tracks liveness at 4-bit granularity per dword GPR: one bit
// each for the low byte, high byte (AH/CH/DH/BH only), low word, and
// full dword, packed 4 bits per register in Dwords32 order (EAX first).
type RegMask uint32

const (
	bitLow RegMask = 1 << iota
	bitHigh
	bitWord
	bitDword
)

func shiftFor(r x86reg.Register) uint {
	return uint(r.Dword32().Code()) * 4
}

// regBits returns the subfield bit(s) touched when register r (of
// whatever size) is the subject of a def or use.
func regBits(r x86reg.Register) RegMask {
	shift := shiftFor(r)
	switch r.Size() {
	case x86reg.Size32:
		return (bitLow | bitHigh | bitWord | bitDword) << shift
	case x86reg.Size16:
		return (bitLow | bitHigh | bitWord) << shift
	case x86reg.Size8:
		if isHighByte(r) {
			return bitHigh << shift
		}
		return bitLow << shift
	default:
		return 0
	}
}

func isHighByte(r x86reg.Register) bool {
	switch r {
	case x86reg.AH, x86reg.CH, x86reg.DH, x86reg.BH:
		return true
	default:
		return false
	}
}

// defMask returns the subfield bits a write to register r clears as
// live (i.e. kills). A dword write kills every subfield of its register.
// A word write does NOT kill the upper 16 bits (open-question decision:
// conservative, the upper bits keep whatever liveness they already had).
// A byte write kills only that byte.
func defMask(r x86reg.Register) RegMask {
	shift := shiftFor(r)
	switch r.Size() {
	case x86reg.Size32:
		return (bitLow | bitHigh | bitWord | bitDword) << shift
	case x86reg.Size16:
		return (bitLow | bitHigh | bitWord) << shift
	case x86reg.Size8:
		if isHighByte(r) {
			return bitHigh << shift
		}
		return bitLow << shift
	default:
		return 0
	}
}

// State is the liveness abstraction at one program point: which register
// subfields are live, and which arithmetic flags are live.
type State struct {
	Regs  RegMask
	Flags decoder.FlagMask
}

// Clear returns the empty (nothing live) state.
func Clear() State { return State{} }

// SetAll returns the state in which every register subfield and every
// flag is live — the conservative "live everything" state used at calls,
// returns, and interrupts.
func SetAll() State {
	return State{Regs: ^RegMask(0), Flags: ^decoder.FlagMask(0)}
}

// Union returns the bitwise union of s and o.
func (s State) Union(o State) State {
	return State{Regs: s.Regs | o.Regs, Flags: s.Flags | o.Flags}
}

// Subtract returns s with every bit set in o cleared (used to apply a
// def: the defined subfields/flags are no longer live going backward
// past this point).
func (s State) Subtract(o State) State {
	return State{Regs: s.Regs &^ o.Regs, Flags: s.Flags &^ o.Flags}
}

// WithUses returns s with every bit set in o added (used to apply a use:
// the used subfields/flags become live going backward past this point).
func (s State) WithUses(o State) State {
	return s.Union(o)
}

// Equal reports whether s and o represent the same liveness state.
func (s State) Equal(o State) bool {
	return s.Regs == o.Regs && s.Flags == o.Flags
}

// Overlaps reports whether s and o share any live register subfield or
// flag bit.
func (s State) Overlaps(o State) bool {
	return s.Regs&o.Regs != 0 || s.Flags&o.Flags != 0
}

// IsLive reports whether any subfield touched by register r is live.
func (s State) IsLive(r x86reg.Register) bool {
	return s.Regs&regBits(r) != 0
}

// AreArithmeticFlagsLive reports whether any of ZF/SF/CF/OF/PF/AF is live.
func (s State) AreArithmeticFlagsLive() bool {
	const arithmetic = decoder.FlagZF | decoder.FlagSF | decoder.FlagCF | decoder.FlagOF | decoder.FlagPF | decoder.FlagAF
	return s.Flags&arithmetic != 0
}
