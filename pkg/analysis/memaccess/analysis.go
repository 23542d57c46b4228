package memaccess

import (
	"github.com/oisee/x86bbrw/pkg/bbgraph"
)

// Analysis holds the computed entry/exit displacement-set state for
// every code block the worklist reached.
type Analysis struct {
	entry map[bbgraph.BlockID]State
	exit  map[bbgraph.BlockID]State
}

// StateAtEntry returns the state known to hold before block id's first
// instruction.
func (a *Analysis) StateAtEntry(id bbgraph.BlockID) State { return a.entry[id] }

// StateAtExit returns the state known to hold after block id's last
// instruction.
func (a *Analysis) StateAtExit(id bbgraph.BlockID) State { return a.exit[id] }

// Run computes the redundant-memory-access fixpoint over sg, seeding
// the worklist with each of sg's block descriptions' entry blocks (per
// spec.md §4.5: "seed the working set with each block descriptor's
// entry block"), plus any extra entries the caller names directly.
func Run(sg *bbgraph.Subgraph, extraEntries ...bbgraph.BlockID) *Analysis {
	a := &Analysis{
		entry: make(map[bbgraph.BlockID]State),
		exit:  make(map[bbgraph.BlockID]State),
	}

	var seeds []bbgraph.BlockID
	for _, d := range sg.Descriptions() {
		if e := d.Entry(); e != 0 {
			seeds = append(seeds, e)
		}
	}
	seeds = append(seeds, extraEntries...)

	queue := newWorklist()
	seen := make(map[bbgraph.BlockID]bool)
	for _, id := range seeds {
		if seen[id] {
			continue
		}
		seen[id] = true
		a.entry[id] = Clear()
		queue.push(id)
	}

	for !queue.empty() {
		id := queue.pop()
		cb, ok := sg.Block(id).(*bbgraph.CodeBlock)
		if !ok {
			continue
		}

		entryState := computeEntryState(sg, a, id)
		a.entry[id] = entryState

		s := entryState
		for _, instr := range cb.Instructions() {
			s = apply(s, instr)
		}

		prevExit, hadExit := a.exit[id]
		if hadExit && prevExit.Equal(s) {
			continue
		}
		a.exit[id] = s

		for _, succ := range cb.Successors() {
			if succ.Target.IsBlock() && !queue.contains(succ.Target.Block) {
				queue.push(succ.Target.Block)
			}
		}
	}

	return a
}

// computeEntryState meets the exit states of every predecessor of id
// that has been analyzed so far; the first meet simply copies the
// incoming state. A block with no analyzed predecessor yet (a fresh
// worklist seed, or the first visit before any predecessor has run)
// keeps whatever entry state it already holds, which is refined as
// predecessors are processed.
func computeEntryState(sg *bbgraph.Subgraph, a *Analysis, id bbgraph.BlockID) State {
	var merged State
	first := true
	for _, pred := range sg.Predecessors(id) {
		predExit, ok := a.exit[pred]
		if !ok {
			continue // predecessor not yet analyzed; ignore for now
		}
		if first {
			merged = predExit.Clone()
			first = false
			continue
		}
		merged = Meet(merged, predExit)
	}
	if first {
		if s, ok := a.entry[id]; ok {
			return s
		}
		return Clear()
	}
	return merged
}

// worklist is a plain slice-backed FIFO queue with membership tracking,
// per SPEC_FULL.md §6.5's single-threaded substitute for the teacher's
// channel-based worker queue.
type worklist struct {
	items []bbgraph.BlockID
	inQ   map[bbgraph.BlockID]bool
}

func newWorklist() *worklist {
	return &worklist{inQ: make(map[bbgraph.BlockID]bool)}
}

func (w *worklist) push(id bbgraph.BlockID) {
	if w.inQ[id] {
		return
	}
	w.inQ[id] = true
	w.items = append(w.items, id)
}

func (w *worklist) pop() bbgraph.BlockID {
	id := w.items[0]
	w.items = w.items[1:]
	w.inQ[id] = false
	return id
}

func (w *worklist) empty() bool { return len(w.items) == 0 }

func (w *worklist) contains(id bbgraph.BlockID) bool { return w.inQ[id] }
