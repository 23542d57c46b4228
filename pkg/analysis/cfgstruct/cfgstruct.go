// Package cfgstruct implements structural control-flow analysis:
// reducing a subgraph's basic blocks to a tree of control-flow regions
// via repeated pattern-matching reductions, detecting irreducible graphs
// along the way.
package cfgstruct

import (
	"errors"

	"github.com/oisee/x86bbrw/pkg/bbgraph"
)

// ErrIrreducible is returned by Analyze when no sequence of region
// reductions collapses the subgraph to a single node — the classic
// signature of irreducible control flow (e.g. a loop entered at more
// than one point).
var ErrIrreducible = errors.New("cfgstruct: irreducible control flow")

// Op identifies which region-operator reduction produced a Node.
type Op uint8

const (
	OpBase Op = iota
	OpSequence
	OpIfThen
	OpIfThenElse
	OpRepeat
	OpWhile
	OpLoop
)

// Node is one region in the reduced structural tree. Base nodes
// correspond 1:1 with a subgraph basic block (Block is meaningful only
// for OpBase); every other Op's Children lists the sub-regions reduced
// together to form it, in the order the pattern names them (e.g.
// If-Then-Else lists condition, then-branch, else-branch).
type Node struct {
	Op       Op
	Block    bbgraph.BlockID // valid only when Op == OpBase
	Children []*Node
}

// region is the internal, mutable node used while reducing: the Node
// payload plus the live edges connecting it to regions still under
// reduction. The virtual Start and Stop regions bracket the graph and
// are never folded into any pattern.
type region struct {
	node    *Node
	succ    []*region
	pred    []*region
	alive   bool
	virtual bool
}

func addEdge(from, to *region) {
	for _, s := range from.succ {
		if s == to {
			return
		}
	}
	from.succ = append(from.succ, to)
	to.pred = append(to.pred, from)
}

func removeEdge(from, to *region) {
	from.succ = removeRegion(from.succ, to)
	to.pred = removeRegion(to.pred, from)
}

func removeRegion(list []*region, target *region) []*region {
	out := list[:0]
	for _, r := range list {
		if r != target {
			out = append(out, r)
		}
	}
	return out
}

// Analyze reduces the subgraph reachable from entry to a single
// structural Node, or returns ErrIrreducible if the reductions settle
// before collapsing everything between the virtual Start and Stop.
//
// Start flows into the entry block; every block with no successor edge
// inside the subgraph flows into Stop. On success the graph is exactly
// Start -> R -> Stop for a single region R, whose tree is returned.
func Analyze(sg *bbgraph.Subgraph, entry bbgraph.BlockID) (*Node, error) {
	order, regions := buildRegions(sg, entry)
	start := &region{alive: true, virtual: true}
	stop := &region{alive: true, virtual: true}
	addEdge(start, regions[entry])
	for _, id := range order {
		r := regions[id]
		if len(r.succ) == 0 {
			addEdge(r, stop)
		}
	}

	for {
		reduced := false
		for _, id := range order {
			r := regions[id]
			if !r.alive {
				continue
			}
			if tryReduceAt(r, stop) {
				reduced = true
				break
			}
		}
		if !reduced {
			break
		}
	}

	if len(start.succ) == 1 {
		root := start.succ[0]
		if len(root.pred) == 1 && len(root.succ) == 1 && root.succ[0] == stop {
			return root.node, nil
		}
	}
	return nil, ErrIrreducible
}

// PostOrder returns a post-order traversal of the basic blocks reachable
// from entry, following each CodeBlock's successor edges (back-edges to
// already-visited blocks are skipped).
func PostOrder(sg *bbgraph.Subgraph, entry bbgraph.BlockID) []bbgraph.BlockID {
	visited := make(map[bbgraph.BlockID]bool)
	var out []bbgraph.BlockID
	var visit func(id bbgraph.BlockID)
	visit = func(id bbgraph.BlockID) {
		if visited[id] {
			return
		}
		visited[id] = true
		if cb, ok := sg.Block(id).(*bbgraph.CodeBlock); ok {
			for _, s := range cb.Successors() {
				if s.Target.IsBlock() && sg.Block(s.Target.Block) != nil {
					visit(s.Target.Block)
				}
			}
		}
		out = append(out, id)
	}
	visit(entry)
	return out
}

func buildRegions(sg *bbgraph.Subgraph, entry bbgraph.BlockID) ([]bbgraph.BlockID, map[bbgraph.BlockID]*region) {
	order := PostOrder(sg, entry)
	regions := make(map[bbgraph.BlockID]*region, len(order))
	for _, id := range order {
		regions[id] = &region{node: &Node{Op: OpBase, Block: id}, alive: true}
	}
	for _, id := range order {
		cb, ok := sg.Block(id).(*bbgraph.CodeBlock)
		if !ok {
			continue
		}
		for _, s := range cb.Successors() {
			if !s.Target.IsBlock() {
				continue
			}
			if target, ok := regions[s.Target.Block]; ok {
				addEdge(regions[id], target)
			}
		}
	}
	return order, regions
}

// tryReduceAt attempts every reduction pattern rooted at r, applying the
// first one that matches. The pattern order mirrors the shapes from the
// most specific to the most general; the fixpoint driver in Analyze
// retries until a full pass makes no progress, so the order affects only
// how quickly a reduction is found, not which tree results.
func tryReduceAt(r *region, stop *region) bool {
	return reduceLoop(r, stop) ||
		reduceRepeat(r) ||
		reduceWhile(r) ||
		reduceIfThenElse(r) ||
		reduceIfThen(r) ||
		reduceSequence(r)
}

// reduceSequence collapses r -> m into one region when r has exactly one
// successor m, m has exactly one predecessor (r), and m is not the
// virtual Stop.
func reduceSequence(r *region) bool {
	if len(r.succ) != 1 {
		return false
	}
	m := r.succ[0]
	if m == r || m.virtual || len(m.pred) != 1 {
		return false
	}
	r.node = &Node{Op: OpSequence, Children: []*Node{r.node, m.node}}
	removeEdge(r, m)
	for _, s := range append([]*region(nil), m.succ...) {
		removeEdge(m, s)
		addEdge(r, s)
	}
	m.alive = false
	return true
}

// reduceIfThen collapses r -> {then, end} where then falls straight
// through to end and has no other predecessor.
func reduceIfThen(r *region) bool {
	if len(r.succ) != 2 {
		return false
	}
	for _, pair := range [][2]*region{{r.succ[0], r.succ[1]}, {r.succ[1], r.succ[0]}} {
		then, end := pair[0], pair[1]
		if then.virtual || then == r || len(then.pred) != 1 {
			continue
		}
		if len(then.succ) != 1 || then.succ[0] != end {
			continue
		}
		r.node = &Node{Op: OpIfThen, Children: []*Node{r.node, then.node}}
		removeEdge(r, then)
		removeEdge(then, end)
		then.alive = false
		return true
	}
	return false
}

// reduceIfThenElse collapses the diamond r -> {a, b} -> end where each
// arm has r as its only predecessor and end as its only successor.
func reduceIfThenElse(r *region) bool {
	if len(r.succ) != 2 {
		return false
	}
	a, b := r.succ[0], r.succ[1]
	if a.virtual || b.virtual || a == r || b == r || a == b {
		return false
	}
	if len(a.pred) != 1 || len(b.pred) != 1 {
		return false
	}
	if len(a.succ) != 1 || len(b.succ) != 1 || a.succ[0] != b.succ[0] {
		return false
	}
	end := a.succ[0]
	if end == r {
		return false
	}
	r.node = &Node{Op: OpIfThenElse, Children: []*Node{r.node, a.node, b.node}}
	removeEdge(r, a)
	removeEdge(r, b)
	removeEdge(a, end)
	removeEdge(b, end)
	addEdge(r, end)
	a.alive = false
	b.alive = false
	return true
}

// reduceRepeat collapses a post-test loop: r's successors are itself and
// one exit.
func reduceRepeat(r *region) bool {
	if len(r.succ) != 2 {
		return false
	}
	if r.succ[0] != r && r.succ[1] != r {
		return false
	}
	r.node = &Node{Op: OpRepeat, Children: []*Node{r.node}}
	removeEdge(r, r)
	return true
}

// reduceWhile collapses a pretest loop: header r has two successors,
// body and exit; body's only predecessor is r and its only successor
// is r.
func reduceWhile(r *region) bool {
	if len(r.succ) != 2 {
		return false
	}
	for _, pair := range [][2]*region{{r.succ[0], r.succ[1]}, {r.succ[1], r.succ[0]}} {
		body := pair[0]
		if body.virtual || body == r || len(body.pred) != 1 {
			continue
		}
		if len(body.succ) != 1 || body.succ[0] != r {
			continue
		}
		r.node = &Node{Op: OpWhile, Children: []*Node{r.node, body.node}}
		removeEdge(r, body)
		removeEdge(body, r)
		body.alive = false
		return true
	}
	return false
}

// reduceLoop collapses an endless loop: r's single successor is itself.
// Since nothing follows the loop in the CFG, an edge to the virtual Stop
// is synthesized so the enclosing region still reaches the exit.
func reduceLoop(r *region, stop *region) bool {
	if len(r.succ) != 1 || r.succ[0] != r {
		return false
	}
	r.node = &Node{Op: OpLoop, Children: []*Node{r.node}}
	removeEdge(r, r)
	addEdge(r, stop)
	return true
}
