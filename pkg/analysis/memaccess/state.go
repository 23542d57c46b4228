// Package memaccess implements the forward redundant memory-access
// analysis: for each program point, which [reg+disp] locations are
// known to have already been accessed on every path reaching that
// point, so a caller can skip re-instrumenting (e.g. bounds checks or
// prefetch hints for) an access already covered.
package memaccess

import (
	"github.com/oisee/x86bbrw/pkg/decoder"
	"github.com/oisee/x86bbrw/pkg/x86reg"
)

// State tracks, per 32-bit GPR (indexed by its Code(), i.e. EAX..EDI),
// the set of displacements known to have been accessed through that
// register on every path reaching this program point.
type State [8]map[int32]struct{}

// Clear empties every register's displacement set.
func Clear() State {
	var s State
	for i := range s {
		s[i] = make(map[int32]struct{})
	}
	return s
}

func (s State) has(reg x86reg.Register, disp int32) bool {
	set := s[reg.Code()]
	if set == nil {
		return false
	}
	_, ok := set[disp]
	return ok
}

func (s State) add(reg x86reg.Register, disp int32) {
	set := s[reg.Code()]
	if set == nil {
		set = make(map[int32]struct{})
		s[reg.Code()] = set
	}
	set[disp] = struct{}{}
}

// invalidate drops every displacement recorded against reg: the base
// register may have changed, so none of its old offsets are known good
// any more.
func (s State) invalidate(reg x86reg.Register) {
	// State is an array value, so the set is emptied in place rather
	// than replaced in the receiver's copy.
	set := s[reg.Code()]
	for d := range set {
		delete(set, d)
	}
}

// Clone deep-copies s so a caller can mutate the copy without
// disturbing a cached predecessor state.
func (s State) Clone() State {
	var out State
	for i, set := range s {
		out[i] = make(map[int32]struct{}, len(set))
		for d := range set {
			out[i][d] = struct{}{}
		}
	}
	return out
}

// Equal reports whether s and o track exactly the same displacements
// for every register.
func (s State) Equal(o State) bool {
	for i := range s {
		if len(s[i]) != len(o[i]) {
			return false
		}
		for d := range s[i] {
			if _, ok := o[i][d]; !ok {
				return false
			}
		}
	}
	return true
}

// Meet intersects s with o per register: a displacement survives only
// if every predecessor agrees it was already accessed.
func Meet(s, o State) State {
	out := Clear()
	for i := range s {
		for d := range s[i] {
			if _, ok := o[i][d]; ok {
				out[i][d] = struct{}{}
			}
		}
	}
	return out
}

// baseRegisters is the set of GPRs this analysis tracks displacement
// sets for — the 8 dword registers, regardless of the width actually
// accessed through them (a byte load through EAX still keys off EAX).
var baseRegisters = x86reg.Dwords32

func isTrackedMemOperand(op decoder.Operand) (reg x86reg.Register, disp int32, ok bool) {
	if op.Kind != decoder.OperandMemSimple {
		return x86reg.None, 0, false
	}
	if op.Reg == x86reg.None {
		return x86reg.None, 0, false
	}
	return op.Reg.Dword32(), op.Disp, true
}
