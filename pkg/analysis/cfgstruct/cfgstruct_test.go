package cfgstruct

import (
	"errors"
	"testing"

	"github.com/oisee/x86bbrw/pkg/bbgraph"
	"github.com/oisee/x86bbrw/pkg/x86asm"
)

func trueSucc(target *bbgraph.CodeBlock) bbgraph.Successor {
	return bbgraph.Successor{Condition: x86asm.CondTrue, Target: bbgraph.BlockReference{Block: target.ID()}}
}

func condSucc(cond x86asm.Condition, target *bbgraph.CodeBlock) bbgraph.Successor {
	return bbgraph.Successor{Condition: cond, Target: bbgraph.BlockReference{Block: target.ID()}}
}

func TestSingleBlockIsTriviallyReducible(t *testing.T) {
	sg := bbgraph.NewSubgraph()
	entry := sg.AddCodeBlock("entry")

	node, err := Analyze(sg, entry.ID())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if node.Op != OpBase || node.Block != entry.ID() {
		t.Errorf("got %+v, want a lone OpBase for the entry block", node)
	}
}

func TestSequenceReduction(t *testing.T) {
	sg := bbgraph.NewSubgraph()
	a := sg.AddCodeBlock("a")
	b := sg.AddCodeBlock("b")
	a.SetSuccessors([]bbgraph.Successor{trueSucc(b)})

	node, err := Analyze(sg, a.ID())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if node.Op != OpSequence {
		t.Errorf("got Op %v, want OpSequence", node.Op)
	}
}

func TestIfThenElseReduction(t *testing.T) {
	sg := bbgraph.NewSubgraph()
	h := sg.AddCodeBlock("h")
	then := sg.AddCodeBlock("then")
	els := sg.AddCodeBlock("else")
	join := sg.AddCodeBlock("join")

	h.SetSuccessors([]bbgraph.Successor{condSucc(x86asm.CondA, then), trueSucc(els)})
	then.SetSuccessors([]bbgraph.Successor{trueSucc(join)})
	els.SetSuccessors([]bbgraph.Successor{trueSucc(join)})

	node, err := Analyze(sg, h.ID())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if node.Op != OpSequence {
		t.Fatalf("got Op %v at root, want OpSequence wrapping the if-then-else and join", node.Op)
	}
	if node.Children[0].Op != OpIfThenElse {
		t.Errorf("got Op %v, want OpIfThenElse as the first child", node.Children[0].Op)
	}
}

func TestIfThenReduction(t *testing.T) {
	sg := bbgraph.NewSubgraph()
	h := sg.AddCodeBlock("h")
	then := sg.AddCodeBlock("then")
	join := sg.AddCodeBlock("join")

	h.SetSuccessors([]bbgraph.Successor{condSucc(x86asm.CondA, then), trueSucc(join)})
	then.SetSuccessors([]bbgraph.Successor{trueSucc(join)})

	node, err := Analyze(sg, h.ID())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if node.Op != OpSequence || node.Children[0].Op != OpIfThen {
		t.Errorf("got %+v, want a sequence wrapping OpIfThen then join", node)
	}
}

func TestSelfLoopReduction(t *testing.T) {
	sg := bbgraph.NewSubgraph()
	h := sg.AddCodeBlock("h")
	exit := sg.AddCodeBlock("exit")
	h.SetSuccessors([]bbgraph.Successor{trueSucc(h), condSucc(x86asm.CondE, exit)})

	node, err := Analyze(sg, h.ID())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if node.Op != OpSequence || node.Children[0].Op != OpRepeat {
		t.Errorf("got %+v, want a sequence wrapping OpRepeat then exit", node)
	}
}

func TestWhileReduction(t *testing.T) {
	sg := bbgraph.NewSubgraph()
	h := sg.AddCodeBlock("h")
	body := sg.AddCodeBlock("body")
	exit := sg.AddCodeBlock("exit")
	h.SetSuccessors([]bbgraph.Successor{condSucc(x86asm.CondA, body), trueSucc(exit)})
	body.SetSuccessors([]bbgraph.Successor{trueSucc(h)})

	node, err := Analyze(sg, h.ID())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if node.Op != OpSequence || node.Children[0].Op != OpWhile {
		t.Errorf("got %+v, want a sequence wrapping OpWhile then exit", node)
	}
}

func TestMultiBlockLoopReduction(t *testing.T) {
	sg := bbgraph.NewSubgraph()
	h := sg.AddCodeBlock("h")
	body1 := sg.AddCodeBlock("body1")
	body2 := sg.AddCodeBlock("body2")
	exit := sg.AddCodeBlock("exit")

	h.SetSuccessors([]bbgraph.Successor{condSucc(x86asm.CondA, body1), trueSucc(exit)})
	body1.SetSuccessors([]bbgraph.Successor{trueSucc(body2)})
	body2.SetSuccessors([]bbgraph.Successor{trueSucc(h)})

	// The two body blocks first fold into a sequence, which then matches
	// the while pattern against the header.
	node, err := Analyze(sg, h.ID())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if node.Op != OpSequence || node.Children[0].Op != OpWhile {
		t.Fatalf("got %+v, want a sequence wrapping OpWhile then exit", node)
	}
	body := node.Children[0].Children[1]
	if body.Op != OpSequence || len(body.Children) != 2 {
		t.Errorf("got loop body %+v, want a two-block sequence", body)
	}
}

func TestEndlessLoopSynthesizesStopEdge(t *testing.T) {
	sg := bbgraph.NewSubgraph()
	pre := sg.AddCodeBlock("pre")
	spin := sg.AddCodeBlock("spin")
	pre.SetSuccessors([]bbgraph.Successor{trueSucc(spin)})
	spin.SetSuccessors([]bbgraph.Successor{trueSucc(spin)})

	node, err := Analyze(sg, pre.ID())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if node.Op != OpSequence || node.Children[1].Op != OpLoop {
		t.Errorf("got %+v, want a sequence ending in OpLoop", node)
	}
}

func TestIrreducibleGraph(t *testing.T) {
	sg := bbgraph.NewSubgraph()
	a := sg.AddCodeBlock("a")
	b := sg.AddCodeBlock("b")
	c := sg.AddCodeBlock("c")
	// Two distinct entries into the {b, c} cycle: a classic irreducible
	// "branch into a loop" shape.
	a.SetSuccessors([]bbgraph.Successor{trueSucc(b), condSucc(x86asm.CondA, c)})
	b.SetSuccessors([]bbgraph.Successor{trueSucc(c)})
	c.SetSuccessors([]bbgraph.Successor{trueSucc(b)})

	_, err := Analyze(sg, a.ID())
	if !errors.Is(err, ErrIrreducible) {
		t.Errorf("got err %v, want ErrIrreducible", err)
	}
}
