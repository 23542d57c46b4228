package x86asm

import (
	"testing"

	"github.com/oisee/x86bbrw/pkg/decoder"
	"github.com/oisee/x86bbrw/pkg/decoder/fake"
	"github.com/oisee/x86bbrw/pkg/x86reg"
)

// TestAssembleDecodeRoundTrip checks that decoding the bytes an emit
// method produced yields the opcode and register operands the caller
// asked for, over the register-only and immediate forms the fake
// decoder understands.
func TestAssembleDecodeRoundTrip(t *testing.T) {
	type wantOp struct {
		kind decoder.OperandKind
		reg  x86reg.Register
	}
	cases := []struct {
		name   string
		emit   func(a *Assembler) error
		opcode decoder.OpCode
		ext    uint8
		ops    []wantOp
	}{
		{"mov eax, ebx", func(a *Assembler) error { return a.MovRegReg(x86reg.EAX, x86reg.EBX) },
			0x8B, 0, []wantOp{{decoder.OperandRegister, x86reg.EAX}, {decoder.OperandRegister, x86reg.EBX}}},
		{"mov bl, dl", func(a *Assembler) error { return a.MovRegReg(x86reg.BL, x86reg.DL) },
			0x8A, 0, []wantOp{{decoder.OperandRegister, x86reg.BL}, {decoder.OperandRegister, x86reg.DL}}},
		{"add ecx, edx", func(a *Assembler) error { return a.AddRegReg(x86reg.ECX, x86reg.EDX) },
			0x03, 0, []wantOp{{decoder.OperandRegister, x86reg.ECX}, {decoder.OperandRegister, x86reg.EDX}}},
		{"xor esi, esi", func(a *Assembler) error { return a.XorRegReg(x86reg.ESI, x86reg.ESI) },
			0x33, 0, []wantOp{{decoder.OperandRegister, x86reg.ESI}, {decoder.OperandRegister, x86reg.ESI}}},
		{"cmp al, bl", func(a *Assembler) error { return a.CmpRegReg(x86reg.AL, x86reg.BL) },
			0x3A, 0, []wantOp{{decoder.OperandRegister, x86reg.AL}, {decoder.OperandRegister, x86reg.BL}}},
		{"test edi, ebx", func(a *Assembler) error { return a.TestRegReg(x86reg.EDI, x86reg.EBX) },
			0x85, 0, []wantOp{{decoder.OperandRegister, x86reg.EDI}, {decoder.OperandRegister, x86reg.EBX}}},
		{"mov esi, imm32", func(a *Assembler) error { return a.MovRegImm(x86reg.ESI, Imm32(0x11223344)) },
			0xBE, 0, []wantOp{{decoder.OperandRegister, x86reg.ESI}, {decoder.OperandImmediate, x86reg.None}}},
		{"push ebp", func(a *Assembler) error { return a.PushReg(x86reg.EBP) },
			0x55, 0, []wantOp{{decoder.OperandRegister, x86reg.EBP}}},
		{"pop edi", func(a *Assembler) error { return a.PopReg(x86reg.EDI) },
			0x5F, 0, []wantOp{{decoder.OperandRegister, x86reg.EDI}}},
		{"sete bl", func(a *Assembler) error { return a.SetCC(CondE, x86reg.BL) },
			0x0F94, 0, []wantOp{{decoder.OperandRegister, x86reg.BL}}},
		{"sar eax, 3", func(a *Assembler) error { return a.Shift(ShiftSar, x86reg.EAX, 3) },
			0xC1, decoder.ExtSar, []wantOp{{decoder.OperandRegister, x86reg.EAX}, {decoder.OperandImmediate, x86reg.None}}},
		{"neg edx", func(a *Assembler) error { return a.Neg(x86reg.EDX) },
			0xF7, decoder.ExtNeg, []wantOp{{decoder.OperandRegister, x86reg.EDX}}},
		{"mul ecx", func(a *Assembler) error { return a.Mul(x86reg.ECX) },
			0xF7, decoder.ExtMul, []wantOp{{decoder.OperandRegister, x86reg.ECX}}},
		{"inc eax", func(a *Assembler) error { return a.Inc(x86reg.EAX) },
			0xFF, 0, []wantOp{{decoder.OperandRegister, x86reg.EAX}}},
		{"dec cl", func(a *Assembler) error { return a.Dec(x86reg.CL) },
			0xFE, 1, []wantOp{{decoder.OperandRegister, x86reg.CL}}},
		{"test ebx, imm32", func(a *Assembler) error { return a.TestRegImm(x86reg.EBX, Imm32(5)) },
			0xF7, decoder.ExtTest0, []wantOp{{decoder.OperandRegister, x86reg.EBX}, {decoder.OperandImmediate, x86reg.None}}},
		{"xchg eax, ecx", func(a *Assembler) error { return a.XchgRegReg(x86reg.EAX, x86reg.ECX) },
			0x91, 0, []wantOp{{decoder.OperandRegister, x86reg.EAX}, {decoder.OperandRegister, x86reg.ECX}}},
		{"movzx eax, bl", func(a *Assembler) error { return a.MovzxReg(x86reg.EAX, x86reg.BL) },
			0x0FB6, 0, []wantOp{{decoder.OperandRegister, x86reg.EAX}, {decoder.OperandRegister, x86reg.BL}}},
		{"ret", func(a *Assembler) error { return a.Ret() }, 0xC3, 0, nil},
	}

	for _, c := range cases {
		sink := &recordingSink{}
		asm := NewAssembler(0, sink)
		if err := c.emit(asm); err != nil {
			t.Fatalf("%s: emit: %v", c.name, err)
		}
		if len(sink.chunks) != 1 {
			t.Fatalf("%s: got %d emitted instructions, want 1", c.name, len(sink.chunks))
		}
		raw := sink.chunks[0]
		d, ok := fake.Decode(raw)
		if !ok {
			t.Fatalf("%s: fake decoder rejected % x", c.name, raw)
		}
		if d.Size != len(raw) {
			t.Errorf("%s: decoded size %d, emitted %d bytes", c.name, d.Size, len(raw))
		}
		if d.Opcode != c.opcode {
			t.Errorf("%s: decoded opcode %#x, want %#x", c.name, d.Opcode, c.opcode)
		}
		if d.Ext != c.ext {
			t.Errorf("%s: decoded ext %d, want %d", c.name, d.Ext, c.ext)
		}
		for i, w := range c.ops {
			got := d.Ops[i]
			if got.Kind != w.kind {
				t.Errorf("%s: operand %d kind %v, want %v", c.name, i, got.Kind, w.kind)
			}
			if w.kind == decoder.OperandRegister && got.Reg != w.reg {
				t.Errorf("%s: operand %d register %v, want %v", c.name, i, got.Reg, w.reg)
			}
		}
	}
}
