package inst

import (
	"errors"
	"testing"

	"github.com/oisee/x86bbrw/pkg/decoder"
)

func TestInvertConditionalBranchOpcode(t *testing.T) {
	// JA (0x77) inverts to JBE (0x76).
	got, err := InvertConditionalBranchOpcode(0x77)
	if err != nil {
		t.Fatalf("InvertConditionalBranchOpcode: %v", err)
	}
	if got != 0x76 {
		t.Errorf("got opcode %#x, want %#x", got, 0x76)
	}
}

func TestInvertConditionalBranchOpcodeIsInvolution(t *testing.T) {
	for cc := decoder.OpCode(0x70); cc <= 0x7F; cc++ {
		inv, err := InvertConditionalBranchOpcode(cc)
		if err != nil {
			t.Fatalf("invert %#x: %v", cc, err)
		}
		back, err := InvertConditionalBranchOpcode(inv)
		if err != nil {
			t.Fatalf("invert %#x back: %v", inv, err)
		}
		if back != cc {
			t.Errorf("inverting %#x twice gave %#x, want %#x", cc, back, cc)
		}
	}
}

func TestInvertUninvertibleOpcodes(t *testing.T) {
	for _, op := range []decoder.OpCode{0xE3, 0xE2, 0xE1, 0xE0} {
		if _, err := InvertConditionalBranchOpcode(op); !errors.Is(err, ErrUninvertible) {
			t.Errorf("opcode %#x: got err %v, want ErrUninvertible", op, err)
		}
	}
}

func TestReferenceRoundTrip(t *testing.T) {
	i := NewInstruction(decoder.Instruction{Opcode: 0xE8, Size: 5}, []byte{0xE8, 0, 0, 0, 0})
	if err := i.SetReference(1, BlockReference{Block: 42, Size: 4, Type: RefPCRelative}); err != nil {
		t.Fatalf("SetReference: %v", err)
	}
	ref, ok := i.Reference(1)
	if !ok || ref.Block != 42 {
		t.Fatalf("got (%v, %v), want (Block:42, true)", ref, ok)
	}
	if _, ok := i.Reference(2); ok {
		t.Error("expected no reference at offset 2")
	}
	i.RemoveReference(1)
	if _, ok := i.Reference(1); ok {
		t.Error("expected no reference after removal")
	}
}

func TestSetReferenceRejectsOutOfRangeAndOverlap(t *testing.T) {
	i := NewInstruction(decoder.Instruction{Opcode: 0xE8, Size: 5}, []byte{0xE8, 0, 0, 0, 0})

	if err := i.SetReference(5, BlockReference{Block: 1}); !errors.Is(err, ErrBadReferenceOffset) {
		t.Errorf("offset at instruction length: got %v, want ErrBadReferenceOffset", err)
	}
	if err := i.SetReference(3, BlockReference{Block: 1, Size: 4}); !errors.Is(err, ErrBadReferenceOffset) {
		t.Errorf("reference spilling past the end: got %v, want ErrBadReferenceOffset", err)
	}

	if err := i.SetReference(1, BlockReference{Block: 1, Size: 4}); err != nil {
		t.Fatalf("SetReference: %v", err)
	}
	if err := i.SetReference(3, BlockReference{Block: 2, Size: 2}); !errors.Is(err, ErrBadReferenceOffset) {
		t.Errorf("overlapping reference: got %v, want ErrBadReferenceOffset", err)
	}
	// Replacing at the same offset is allowed.
	if err := i.SetReference(1, BlockReference{Block: 3, Size: 4}); err != nil {
		t.Errorf("replacement at same offset: %v", err)
	}
}

func TestIsControlFlowClassification(t *testing.T) {
	cases := []struct {
		meta decoder.Meta
		want bool
	}{
		{decoder.MetaNone, false},
		{decoder.MetaCall, true},
		{decoder.MetaReturn, true},
		{decoder.MetaUnconditionalBranch, true},
		{decoder.MetaConditionalBranch, true},
		{decoder.MetaInterrupt, true},
	}
	for _, c := range cases {
		i := NewInstruction(decoder.Instruction{Meta: c.meta}, nil)
		if got := i.IsControlFlow(); got != c.want {
			t.Errorf("meta %v: IsControlFlow() = %v, want %v", c.meta, got, c.want)
		}
	}
}

func TestCallsNonReturningFunction(t *testing.T) {
	i := NewInstruction(decoder.Instruction{Meta: decoder.MetaCall}, []byte{0xE8, 0, 0, 0, 0})
	i.SetReference(1, BlockReference{Block: 7})
	if !i.CallsNonReturningFunction(func(b BlockID) bool { return b == 7 }) {
		t.Error("expected call to block 7 to be recognized as non-returning")
	}
	if i.CallsNonReturningFunction(func(b BlockID) bool { return false }) {
		t.Error("expected no non-returning call when resolve always returns false")
	}
}
