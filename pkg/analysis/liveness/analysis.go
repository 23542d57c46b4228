package liveness

import (
	"github.com/oisee/x86bbrw/pkg/bbgraph"
	"github.com/oisee/x86bbrw/pkg/decoder"
	"github.com/oisee/x86bbrw/pkg/x86asm"
)

// Analysis holds the liveness state computed at the entry and exit of
// every code block in a subgraph.
type Analysis struct {
	entry map[bbgraph.BlockID]State
	exit  map[bbgraph.BlockID]State
}

// StateAtEntry returns the liveness state immediately before block id's
// first instruction. An unknown block yields the top state (everything
// live), the safe default.
func (a *Analysis) StateAtEntry(id bbgraph.BlockID) State {
	if s, ok := a.entry[id]; ok {
		return s
	}
	return SetAll()
}

// StateAtExit returns the liveness state immediately after block id's
// last instruction (i.e. the union of its successors' entry states, plus
// the flags each successor edge's condition reads). An unknown block
// yields the top state.
func (a *Analysis) StateAtExit(id bbgraph.BlockID) State {
	if s, ok := a.exit[id]; ok {
		return s
	}
	return SetAll()
}

// conditionFlags returns the arithmetic flags a successor edge's
// condition reads when the branch realizing it executes. CondTrue (the
// fallthrough/unconditional edge) reads none.
func conditionFlags(c x86asm.Condition) decoder.FlagMask {
	switch c {
	case x86asm.CondO, x86asm.CondNO:
		return decoder.FlagOF
	case x86asm.CondB, x86asm.CondNB:
		return decoder.FlagCF
	case x86asm.CondE, x86asm.CondNE:
		return decoder.FlagZF
	case x86asm.CondBE, x86asm.CondNBE:
		return decoder.FlagCF | decoder.FlagZF
	case x86asm.CondS, x86asm.CondNS:
		return decoder.FlagSF
	case x86asm.CondP, x86asm.CondNP:
		return decoder.FlagPF
	case x86asm.CondL, x86asm.CondNL:
		return decoder.FlagSF | decoder.FlagOF
	case x86asm.CondLE, x86asm.CondNLE:
		return decoder.FlagZF | decoder.FlagSF | decoder.FlagOF
	default:
		return 0
	}
}

// RecomputeEntry re-derives a block's entry state from its current exit
// state by applying each instruction's transfer function in reverse,
// without consulting or mutating the cached Analysis. Useful for
// re-checking liveness after a local edit before committing it.
func RecomputeEntry(sg *bbgraph.Subgraph, id bbgraph.BlockID, exitState State) State {
	cb, ok := sg.Block(id).(*bbgraph.CodeBlock)
	if !ok {
		return exitState
	}
	s := exitState
	instrs := cb.Instructions()
	for idx := len(instrs) - 1; idx >= 0; idx-- {
		s = PropagateBackward(instrs[idx], s)
	}
	return s
}

// Run computes liveness for every code block reachable from entries,
// iterating to a fixpoint in post-order (computed once, since the CFG
// itself doesn't change during the analysis).
func Run(sg *bbgraph.Subgraph, entries []bbgraph.BlockID) *Analysis {
	order := postOrder(sg, entries)

	a := &Analysis{
		entry: make(map[bbgraph.BlockID]State, len(order)),
		exit:  make(map[bbgraph.BlockID]State, len(order)),
	}
	for _, id := range order {
		a.entry[id] = Clear()
		a.exit[id] = Clear()
	}

	changed := true
	for changed {
		changed = false
		// Visit in post-order so that a block's successors are usually
		// revisited before it is, matching backward analysis's natural
		// propagation direction.
		for _, id := range order {
			cb, ok := sg.Block(id).(*bbgraph.CodeBlock)
			if !ok {
				continue
			}

			exit := Clear()
			for _, succ := range cb.Successors() {
				if succ.Target.IsBlock() {
					if s, known := a.entry[succ.Target.Block]; known {
						exit = exit.Union(s)
					} else {
						// Edge into a block outside the analyzed
						// region: anything may be read there.
						exit = exit.Union(SetAll())
					}
				} else {
					// External target: same conservative treatment.
					exit = exit.Union(SetAll())
				}
				exit.Flags |= conditionFlags(succ.Condition)
			}

			entry := exit
			instrs := cb.Instructions()
			for idx := len(instrs) - 1; idx >= 0; idx-- {
				entry = PropagateBackward(instrs[idx], entry)
			}

			if !entry.Equal(a.entry[id]) || !exit.Equal(a.exit[id]) {
				a.entry[id] = entry
				a.exit[id] = exit
				changed = true
			}
		}
	}
	return a
}

// postOrder returns a post-order traversal of the blocks reachable from
// entries, following each CodeBlock's successor edges.
func postOrder(sg *bbgraph.Subgraph, entries []bbgraph.BlockID) []bbgraph.BlockID {
	visited := make(map[bbgraph.BlockID]bool)
	var order []bbgraph.BlockID

	var visit func(id bbgraph.BlockID)
	visit = func(id bbgraph.BlockID) {
		if visited[id] {
			return
		}
		visited[id] = true
		if cb, ok := sg.Block(id).(*bbgraph.CodeBlock); ok {
			for _, succ := range cb.Successors() {
				if succ.Target.IsBlock() {
					visit(succ.Target.Block)
				}
			}
		}
		order = append(order, id)
	}
	for _, e := range entries {
		visit(e)
	}
	return order
}
