// Command x86rw is a small demonstration CLI that exercises the core
// rewriter pipeline end to end: assembling a toy instruction sequence,
// building a basic-block graph by hand, running the data-flow analyses
// over it, and applying the peephole+DCE transform.
package main

import (
	"fmt"
	"os"

	"github.com/oisee/x86bbrw/pkg/analysis/cfgstruct"
	"github.com/oisee/x86bbrw/pkg/analysis/liveness"
	"github.com/oisee/x86bbrw/pkg/analysis/memaccess"
	"github.com/oisee/x86bbrw/pkg/bbgraph"
	"github.com/oisee/x86bbrw/pkg/decoder"
	"github.com/oisee/x86bbrw/pkg/inst"
	"github.com/oisee/x86bbrw/pkg/peephole"
	"github.com/oisee/x86bbrw/pkg/result"
	"github.com/oisee/x86bbrw/pkg/x86asm"
	"github.com/oisee/x86bbrw/pkg/x86reg"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "x86rw",
		Short: "x86-32 binary rewriter core — assemble, analyze, and peephole-optimize a toy subgraph",
	}

	assembleCmd := &cobra.Command{
		Use:   "assemble-demo",
		Short: "Assemble the empty-prologue/epilogue demo sequence and print its bytes",
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := assembleEmptyPrologueDemo()
			if err != nil {
				return fmt.Errorf("assemble: %w", err)
			}
			fmt.Printf("% X\n", code)
			return nil
		},
	}

	var verbose bool
	analyzeCmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run liveness, memory-access, and structural analyses over the demo subgraph",
		RunE: func(cmd *cobra.Command, args []string) error {
			sg, entry := buildBranchingDemoSubgraph()
			runAnalyze(sg, entry, verbose)
			return nil
		},
	}
	analyzeCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print per-block liveness and memory-access state")

	var output string
	peepholeCmd := &cobra.Command{
		Use:   "peephole",
		Short: "Run the peephole+DCE pass over the demo subgraph and report bytes saved",
		RunE: func(cmd *cobra.Command, args []string) error {
			sg, entry := buildEmptyPrologueDemoSubgraph()
			rep := runPeephole(sg, entry)
			fmt.Printf("%s: %d -> %d instructions, %d -> %d bytes (saved %d, %d combined passes)\n",
				rep.BlockName, rep.InstructionsBefore, rep.InstructionsAfter,
				rep.BytesBefore, rep.BytesAfter, rep.BytesSaved(), rep.PeepholeIterations)

			if output == "" {
				return nil
			}
			f, err := os.Create(output)
			if err != nil {
				return err
			}
			defer f.Close()
			if err := result.WriteJSON(f, []result.Report{rep}); err != nil {
				return fmt.Errorf("write report: %w", err)
			}
			fmt.Printf("report written to %s\n", output)
			return nil
		},
	}
	peepholeCmd.Flags().StringVar(&output, "output", "", "write the run's report as JSON to this path")

	rootCmd.AddCommand(assembleCmd, analyzeCmd, peepholeCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// byteSink is a minimal x86asm.Serializer that appends every emitted
// instruction's bytes in order, discarding location and reference
// metadata — sufficient for a demo that never emits a symbolic value.
type byteSink struct {
	bytes []byte
}

func (s *byteSink) Append(location uint32, b []byte, refOffsets []uint16, refs []x86asm.Token) {
	s.bytes = append(s.bytes, b...)
}

// assembleEmptyPrologueDemo emits `push ebp; mov ebp, esp; pop ebp; ret`,
// scenario S1: a function whose prologue/epilogue does nothing once its
// frame pointer is never otherwise used.
func assembleEmptyPrologueDemo() ([]byte, error) {
	sink := &byteSink{}
	a := x86asm.NewAssembler(0, sink)
	if err := a.PushReg(x86reg.EBP); err != nil {
		return nil, err
	}
	if err := a.MovRegReg(x86reg.EBP, x86reg.ESP); err != nil {
		return nil, err
	}
	if err := a.PopReg(x86reg.EBP); err != nil {
		return nil, err
	}
	if err := a.Ret(); err != nil {
		return nil, err
	}
	return sink.bytes, nil
}

func pushReg(r x86reg.Register) *inst.Instruction {
	d := decoder.Instruction{
		Opcode: decoder.OpCode(0x50 + r.Code()),
		Ops:    [4]decoder.Operand{{Kind: decoder.OperandRegister, Reg: r}},
	}
	return inst.NewInstruction(d, []byte{byte(0x50 + r.Code())})
}

func popReg(r x86reg.Register) *inst.Instruction {
	d := decoder.Instruction{
		Opcode: decoder.OpCode(0x58 + r.Code()),
		Ops:    [4]decoder.Operand{{Kind: decoder.OperandRegister, Reg: r}},
	}
	return inst.NewInstruction(d, []byte{byte(0x58 + r.Code())})
}

func movRegReg(dst, src x86reg.Register) *inst.Instruction {
	d := decoder.Instruction{
		Opcode: 0x8B,
		Ops:    [4]decoder.Operand{{Kind: decoder.OperandRegister, Reg: dst}, {Kind: decoder.OperandRegister, Reg: src}},
	}
	return inst.NewInstruction(d, []byte{0x8B, 0xC0})
}

func ret() *inst.Instruction {
	d := decoder.Instruction{Opcode: 0xC3, Meta: decoder.MetaReturn}
	return inst.NewInstruction(d, []byte{0xC3})
}

// buildEmptyPrologueDemoSubgraph builds the single-block S1 scenario
// as a BBG subgraph, the form peephole.Run actually consumes.
func buildEmptyPrologueDemoSubgraph() (*bbgraph.Subgraph, bbgraph.BlockID) {
	sg := bbgraph.NewSubgraph()
	b := sg.AddCodeBlock("demo_fn")
	b.AppendInstruction(pushReg(x86reg.EBP))
	b.AppendInstruction(movRegReg(x86reg.EBP, x86reg.ESP))
	b.AppendInstruction(popReg(x86reg.EBP))
	b.AppendInstruction(ret())
	sg.AddBlockDescription("demo_fn", bbgraph.BlockTypeCode, 0, b.ID())
	return sg, b.ID()
}

func cmpRegImm(r x86reg.Register, imm int32) *inst.Instruction {
	d := decoder.Instruction{
		Opcode:            0x83,
		Ext:               decoder.ExtCmp,
		Ops:               [4]decoder.Operand{{Kind: decoder.OperandRegister, Reg: r}, {Kind: decoder.OperandImmediate}},
		ModifiedFlagsMask: decoder.FlagZF | decoder.FlagSF | decoder.FlagCF | decoder.FlagOF,
	}
	return inst.NewInstruction(d, []byte{0x83, 0xF8, byte(imm)})
}

func jcc(opcode decoder.OpCode, testedFlags decoder.FlagMask) *inst.Instruction {
	d := decoder.Instruction{Opcode: opcode, Meta: decoder.MetaConditionalBranch, TestedFlagsMask: testedFlags}
	return inst.NewInstruction(d, []byte{byte(opcode), 0x00})
}

// buildBranchingDemoSubgraph builds a small if-then-else shaped
// function: `cmp eax, 0; jle else; <then>; jmp join; <else>: ...;
// <join>: ret`, giving the structural, liveness, and memory-access
// analyses a graph with an actual branch to reduce and propagate over.
func buildBranchingDemoSubgraph() (*bbgraph.Subgraph, bbgraph.BlockID) {
	sg := bbgraph.NewSubgraph()
	head := sg.AddCodeBlock("head")
	thenBlk := sg.AddCodeBlock("then")
	elseBlk := sg.AddCodeBlock("else")
	join := sg.AddCodeBlock("join")

	head.AppendInstruction(cmpRegImm(x86reg.EAX, 0))
	head.AppendInstruction(jcc(0x7E, decoder.FlagZF|decoder.FlagSF|decoder.FlagOF)) // JLE
	head.SetSuccessors([]bbgraph.Successor{
		{Condition: x86asm.CondLE, Target: bbgraph.BlockReference{Block: elseBlk.ID()}, BranchLength: 2},
		{Condition: x86asm.CondG, Target: bbgraph.BlockReference{Block: thenBlk.ID()}},
	})

	thenBlk.AppendInstruction(movRegReg(x86reg.EBX, x86reg.EAX))
	thenBlk.SetSuccessors([]bbgraph.Successor{{Condition: x86asm.CondTrue, Target: bbgraph.BlockReference{Block: join.ID()}}})

	elseBlk.AppendInstruction(movRegReg(x86reg.EBX, x86reg.ECX))
	elseBlk.SetSuccessors([]bbgraph.Successor{{Condition: x86asm.CondTrue, Target: bbgraph.BlockReference{Block: join.ID()}}})

	join.AppendInstruction(ret())

	sg.AddBlockDescription("branching_fn", bbgraph.BlockTypeCode, 0,
		head.ID(), thenBlk.ID(), elseBlk.ID(), join.ID())
	return sg, head.ID()
}

func runAnalyze(sg *bbgraph.Subgraph, entry bbgraph.BlockID, verbose bool) {
	live := liveness.Run(sg, []bbgraph.BlockID{entry})
	mem := memaccess.Run(sg, entry)
	reduced, err := cfgstruct.Analyze(sg, entry)

	for _, b := range sg.Blocks() {
		cb, ok := b.(*bbgraph.CodeBlock)
		if !ok {
			continue
		}
		fmt.Printf("block %q: %d instructions\n", cb.Name(), len(cb.Instructions()))
		if verbose {
			fmt.Printf("  liveness entry=%+v exit=%+v\n", live.StateAtEntry(cb.ID()), live.StateAtExit(cb.ID()))
			fmt.Printf("  memaccess entry=%+v exit=%+v\n", mem.StateAtEntry(cb.ID()), mem.StateAtExit(cb.ID()))
		}
	}

	if err != nil {
		fmt.Printf("structural analysis: irreducible (%v)\n", err)
		return
	}
	fmt.Printf("structural analysis: reduced to a single region (op=%d)\n", reduced.Op)
}

func runPeephole(sg *bbgraph.Subgraph, entry bbgraph.BlockID) result.Report {
	cb := sg.Block(entry).(*bbgraph.CodeBlock)
	before := blockSizeOf(cb)

	iterations := 0
	for peephole.Run(sg, []bbgraph.BlockID{entry}) {
		iterations++
	}

	after := blockSizeOf(cb)
	return result.Report{
		BlockName:          cb.Name(),
		InstructionsBefore: before.instructions,
		InstructionsAfter:  after.instructions,
		BytesBefore:        before.bytes,
		BytesAfter:         after.bytes,
		PeepholeIterations: iterations,
	}
}

type blockSize struct {
	instructions int
	bytes        uint32
}

func blockSizeOf(cb *bbgraph.CodeBlock) blockSize {
	return blockSize{instructions: len(cb.Instructions()), bytes: cb.InstructionsSize()}
}
