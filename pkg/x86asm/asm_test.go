package x86asm

import (
	"bytes"
	"errors"
	"testing"

	"github.com/oisee/x86bbrw/pkg/x86reg"
)

type recordingSink struct {
	chunks [][]byte
}

func (s *recordingSink) Append(location uint32, b []byte, refOffsets []uint16, refs []Token) {
	cp := append([]byte(nil), b...)
	s.chunks = append(s.chunks, cp)
}

func (s *recordingSink) all() []byte {
	var out []byte
	for _, c := range s.chunks {
		out = append(out, c...)
	}
	return out
}

// TestJAboveShort is spec.md §8 scenario S4: j(kAbove, imm8(location))
// at location=0xCAFEBABE must encode as a branch-to-self (relative -2).
func TestJAboveShort(t *testing.T) {
	sink := &recordingSink{}
	asm := NewAssembler(0xCAFEBABE, sink)
	target := Immediate{Value{Num: 0xCAFEBABE, Size: Size8}}
	if err := asm.J(CondA, target); err != nil {
		t.Fatalf("J returned error: %v", err)
	}
	want := []byte{0x77, 0xFE}
	if !bytes.Equal(sink.all(), want) {
		t.Errorf("got % x, want % x", sink.all(), want)
	}
}

func TestJAboveOutOfRangeReturnsEncodingOutOfRange(t *testing.T) {
	sink := &recordingSink{}
	asm := NewAssembler(0, sink)
	// Target 200 bytes ahead can't fit an 8-bit relative displacement
	// (max reach is 127 after the 2-byte instruction).
	target := Immediate{Value{Num: 200, Size: Size8}}
	if err := asm.J(CondA, target); !errors.Is(err, ErrEncodingOutOfRange) {
		t.Fatalf("got err %v, want ErrEncodingOutOfRange", err)
	}
	if len(sink.chunks) != 0 {
		t.Errorf("expected no bytes emitted on out-of-range error, got %v", sink.chunks)
	}
}

func TestMovMemImmScaledAbsoluteDisplacement(t *testing.T) {
	sink := &recordingSink{}
	asm := NewAssembler(0, sink)
	u32 := uint32(0xCAFEBABE)
	op, err := MemIndex(x86reg.ECX, x86reg.EAX, 4, Disp32(int32(u32)))
	if err != nil {
		t.Fatalf("MemIndex: %v", err)
	}
	if err := asm.MovMemImm(op, Imm32(0xDEADBEEF)); err != nil {
		t.Fatalf("MovMemImm: %v", err)
	}
	want := []byte{0xC7, 0x84, 0x81, 0xBE, 0xBA, 0xFE, 0xCA, 0xEF, 0xBE, 0xAD, 0xDE}
	if !bytes.Equal(sink.all(), want) {
		t.Errorf("got % x, want % x", sink.all(), want)
	}
}

func TestMovRegRegPrefersReg8B(t *testing.T) {
	sink := &recordingSink{}
	asm := NewAssembler(0, sink)
	if err := asm.MovRegReg(x86reg.EAX, x86reg.EBX); err != nil {
		t.Fatalf("MovRegReg: %v", err)
	}
	want := []byte{0x8B, 0xC3}
	if !bytes.Equal(sink.all(), want) {
		t.Errorf("got % x, want % x", sink.all(), want)
	}
}

func TestMovRegRegByte(t *testing.T) {
	sink := &recordingSink{}
	asm := NewAssembler(0, sink)
	if err := asm.MovRegReg(x86reg.AL, x86reg.BL); err != nil {
		t.Fatalf("MovRegReg: %v", err)
	}
	want := []byte{0x8A, 0xC3}
	if !bytes.Equal(sink.all(), want) {
		t.Errorf("got % x, want % x", sink.all(), want)
	}
}

func TestEbpBareMemOverloadsToDisp8Zero(t *testing.T) {
	sink := &recordingSink{}
	asm := NewAssembler(0, sink)
	op, err := Mem(x86reg.EBP)
	if err != nil {
		t.Fatalf("Mem: %v", err)
	}
	if err := asm.MovRegMem(x86reg.EAX, op); err != nil {
		t.Fatalf("MovRegMem: %v", err)
	}
	want := []byte{0x8B, 0x45, 0x00}
	if !bytes.Equal(sink.all(), want) {
		t.Errorf("got % x, want % x", sink.all(), want)
	}
}

func TestEspRequiresSIBEvenBare(t *testing.T) {
	sink := &recordingSink{}
	asm := NewAssembler(0, sink)
	op, err := Mem(x86reg.ESP)
	if err != nil {
		t.Fatalf("Mem: %v", err)
	}
	if err := asm.MovRegMem(x86reg.EAX, op); err != nil {
		t.Fatalf("MovRegMem: %v", err)
	}
	want := []byte{0x8B, 0x04, 0x24}
	if !bytes.Equal(sink.all(), want) {
		t.Errorf("got % x, want % x", sink.all(), want)
	}
}

func TestMemIndexRejectsESPAsIndex(t *testing.T) {
	if _, err := MemIndex(x86reg.EAX, x86reg.ESP, 1); err == nil {
		t.Fatal("expected error when ESP used as index")
	}
}

func TestAddRegImmChoosesShortestForm(t *testing.T) {
	sink := &recordingSink{}
	asm := NewAssembler(0, sink)
	if err := asm.AddRegImm(x86reg.EAX, Imm32(5)); err != nil {
		t.Fatalf("AddRegImm: %v", err)
	}
	want := []byte{0x83, 0xC0, 0x05}
	if !bytes.Equal(sink.all(), want) {
		t.Errorf("got % x, want % x", sink.all(), want)
	}
}

func TestAddRegImmWideForm(t *testing.T) {
	sink := &recordingSink{}
	asm := NewAssembler(0, sink)
	if err := asm.AddRegImm(x86reg.EBX, Imm32(70000)); err != nil {
		t.Fatalf("AddRegImm: %v", err)
	}
	want := []byte{0x81, 0xC3, 0x70, 0x11, 0x01, 0x00}
	if !bytes.Equal(sink.all(), want) {
		t.Errorf("got % x, want % x", sink.all(), want)
	}
}

// TestAccumulatorShortForms covers the EAX/AL special encodings: the
// one-byte arithmetic-with-immediate opcodes and the direct-memory mov
// forms.
func TestAccumulatorShortForms(t *testing.T) {
	abs, err := MemAbs(Disp32(0x1000))
	if err != nil {
		t.Fatalf("MemAbs: %v", err)
	}
	cases := []struct {
		name string
		emit func(a *Assembler) error
		want []byte
	}{
		{"add eax, wide imm", func(a *Assembler) error { return a.AddRegImm(x86reg.EAX, Imm32(70000)) },
			[]byte{0x05, 0x70, 0x11, 0x01, 0x00}},
		{"cmp al, imm8", func(a *Assembler) error { return a.CmpRegImm(x86reg.AL, Imm8(7)) },
			[]byte{0x3C, 0x07}},
		{"test al, imm8", func(a *Assembler) error { return a.TestRegImm(x86reg.AL, Imm8(1)) },
			[]byte{0xA8, 0x01}},
		{"test eax, imm32", func(a *Assembler) error { return a.TestRegImm(x86reg.EAX, Imm32(0x100)) },
			[]byte{0xA9, 0x00, 0x01, 0x00, 0x00}},
		{"mov eax, [abs]", func(a *Assembler) error { return a.MovRegMem(x86reg.EAX, abs) },
			[]byte{0xA1, 0x00, 0x10, 0x00, 0x00}},
		{"mov [abs], al", func(a *Assembler) error { return a.MovMemReg(abs, x86reg.AL) },
			[]byte{0xA2, 0x00, 0x10, 0x00, 0x00}},
	}
	for _, c := range cases {
		sink := &recordingSink{}
		asm := NewAssembler(0, sink)
		if err := c.emit(asm); err != nil {
			t.Fatalf("%s: %v", c.name, err)
		}
		if !bytes.Equal(sink.all(), c.want) {
			t.Errorf("%s: got % x, want % x", c.name, sink.all(), c.want)
		}
	}
}

func TestSixteenBitFormsCarryOperandSizePrefix(t *testing.T) {
	sink := &recordingSink{}
	asm := NewAssembler(0, sink)
	if err := asm.MovRegReg(x86reg.AX, x86reg.BX); err != nil {
		t.Fatalf("MovRegReg: %v", err)
	}
	if err := asm.XchgRegReg(x86reg.CX, x86reg.DX); err != nil {
		t.Fatalf("XchgRegReg: %v", err)
	}
	want := []byte{0x66, 0x8B, 0xC3, 0x66, 0x87, 0xCA}
	if !bytes.Equal(sink.all(), want) {
		t.Errorf("got % x, want % x", sink.all(), want)
	}
}

func TestNopChunking(t *testing.T) {
	sink := &recordingSink{}
	asm := NewAssembler(0, sink)
	if err := asm.Nop(11); err != nil {
		t.Fatalf("Nop: %v", err)
	}
	total := 0
	for _, c := range sink.chunks {
		total += len(c)
	}
	if total != 11 {
		t.Errorf("got %d total nop bytes, want 11", total)
	}
}

func TestCallRel32(t *testing.T) {
	sink := &recordingSink{}
	asm := NewAssembler(0x1000, sink)
	// Call's target is absolute; location 0x1000 + the 5-byte call
	// instruction + a desired relative displacement of 0x10 lands on
	// 0x1015.
	if err := asm.Call(Imm32(0x1015)); err != nil {
		t.Fatalf("Call: %v", err)
	}
	want := []byte{0xE8, 0x10, 0x00, 0x00, 0x00}
	if !bytes.Equal(sink.all(), want) {
		t.Errorf("got % x, want % x", sink.all(), want)
	}
	if asm.Location != 0x1005 {
		t.Errorf("got location %x, want %x", asm.Location, 0x1005)
	}
}

func TestShiftByOneUsesShortForm(t *testing.T) {
	sink := &recordingSink{}
	asm := NewAssembler(0, sink)
	if err := asm.Shift(ShiftShl, x86reg.EAX, 1); err != nil {
		t.Fatalf("Shift: %v", err)
	}
	want := []byte{0xD1, 0xE0}
	if !bytes.Equal(sink.all(), want) {
		t.Errorf("got % x, want % x", sink.all(), want)
	}
}

func TestSetCCOnEightBitOnly(t *testing.T) {
	sink := &recordingSink{}
	asm := NewAssembler(0, sink)
	if err := asm.SetCC(CondE, x86reg.EAX); err == nil {
		t.Fatal("expected error for 32-bit SetCC destination")
	}
	if err := asm.SetCC(CondE, x86reg.AL); err != nil {
		t.Fatalf("SetCC: %v", err)
	}
	want := []byte{0x0F, 0x94, 0xC0}
	if !bytes.Equal(sink.all(), want) {
		t.Errorf("got % x, want % x", sink.all(), want)
	}
}
