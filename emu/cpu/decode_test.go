/*
   Decoder tests.

   Copyright (c) 2024, Richard Cornwell

   Permission is hereby granted, free of charge, to any person obtaining a
   copy of this software and associated documentation files (the "Software"),
   to deal in the Software without restriction, including without limitation
   the rights to use, copy, modify, merge, publish, distribute, sublicense,
   and/or sell copies of the Software, and to permit persons to whom the
   Software is furnished to do so, subject to the following conditions:

   The above copyright notice and this permission notice shall be included in
   all copies or substantial portions of the Software.

   THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
   IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
   FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.  IN NO EVENT SHALL
   RICHARD CORNWELL BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
   IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
   CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.

*/

package cpu

import (
	"testing"
)

func decodeAt(t *testing.T, cpu *CPU, code ...byte) *Instruction {
	t.Helper()
	load(cpu, code...)
	insn, fault := cpu.decodeNext()
	if fault != nil {
		t.Fatalf("decode %x: %v", code, fault)
	}
	return insn
}

func TestDecodeLengths(t *testing.T) {
	cases := []struct {
		code []byte
		want int
	}{
		{[]byte{0x90}, 1},                                     // nop
		{[]byte{0xB8, 0x34, 0x12}, 3},                         // mov ax, imm16
		{[]byte{0x66, 0xB8, 0x78, 0x56, 0x34, 0x12}, 6},       // o32 mov eax, imm32
		{[]byte{0x01, 0xD8}, 2},                               // add ax, bx
		{[]byte{0x81, 0xC3, 0x34, 0x12}, 4},                   // add bx, imm16
		{[]byte{0x83, 0xC3, 0x05}, 3},                         // add bx, imm8
		{[]byte{0x8B, 0x87, 0x34, 0x12}, 4},                   // mov ax, [bx+disp16]
		{[]byte{0x2E, 0x8B, 0x07}, 3},                         // cs: mov ax, [bx]
		{[]byte{0xF3, 0xA4}, 2},                               // rep movsb
		{[]byte{0xCD, 0x21}, 2},                               // int 0x21
		{[]byte{0x0F, 0x31}, 2},                               // rdtsc
		{[]byte{0x0F, 0xB6, 0xC3}, 3},                         // movzx ax, bl
		{[]byte{0xC8, 0x20, 0x00, 0x03}, 4},                   // enter 0x20, 3
		{[]byte{0xEA, 0x00, 0x10, 0x00, 0xF0}, 5},             // jmp f000:1000
		{[]byte{0x67, 0x66, 0x8B, 0x44, 0x98, 0x10}, 6},       // a32 mov eax,[eax+ebx*4+0x10]
	}

	for _, c := range cases {
		cpu := testCPU(t)
		insn := decodeAt(t, cpu, c.code...)
		if insn.length != c.want {
			t.Errorf("decode % x: length %d, want %d", c.code, insn.length, c.want)
		}
		if got := int(cpu.eip); got != c.want {
			t.Errorf("decode % x: consumed %d bytes, want %d", c.code, got, c.want)
		}
	}
}

func TestDecodePrefixes(t *testing.T) {
	cpu := testCPU(t)
	insn := decodeAt(t, cpu, 0xF3, 0x2E, 0x66, 0xA5) // repz cs: o32 movsd

	if insn.rep != prefixREPZ {
		t.Error("REP prefix not recorded")
	}
	if insn.segPrefix != SegCS {
		t.Error("segment prefix not recorded")
	}
	if !insn.o32 {
		t.Error("operand size override not applied")
	}
	if insn.desc.mnemonic != "MOVSD" {
		t.Errorf("mnemonic = %s, want MOVSD", insn.desc.mnemonic)
	}
}

func TestDecodeSlashGroups(t *testing.T) {
	cpu := testCPU(t)

	insn := decodeAt(t, cpu, 0xF7, 0xF3) // div bx
	if insn.desc.mnemonic != "DIV" {
		t.Errorf("F7 /6 mnemonic = %s, want DIV", insn.desc.mnemonic)
	}

	cpu = testCPU(t)
	insn = decodeAt(t, cpu, 0xFF, 0xE0) // jmp ax
	if insn.desc.mnemonic != "JMP" {
		t.Errorf("FF /4 mnemonic = %s, want JMP", insn.desc.mnemonic)
	}
}

func TestDecodeModRM16Forms(t *testing.T) {
	cpu := testCPU(t)
	cpu.writeReg16(regBX, 0x100)
	cpu.writeReg16(regSI, 0x20)
	cpu.writeReg16(regBP, 0x300)

	insn := decodeAt(t, cpu, 0x8B, 0x40, 0x05) // mov ax, [bx+si+5]
	insn.modrm.a32 = false
	cpu.effA32 = false
	cpu.segPrefix = insn.segPrefix
	insn.modrm.resolve(cpu)
	if insn.modrm.offset != 0x125 {
		t.Errorf("[bx+si+5] = %04x, want 0125", insn.modrm.offset)
	}
	if insn.modrm.seg != SegDS {
		t.Error("bx+si form should default to DS")
	}

	cpu2 := testCPU(t)
	cpu2.writeReg16(regBP, 0x300)
	insn = decodeAt(t, cpu2, 0x8B, 0x46, 0x08) // mov ax, [bp+8]
	cpu2.effA32 = false
	cpu2.segPrefix = insn.segPrefix
	insn.modrm.resolve(cpu2)
	if insn.modrm.offset != 0x308 {
		t.Errorf("[bp+8] = %04x, want 0308", insn.modrm.offset)
	}
	if insn.modrm.seg != SegSS {
		t.Error("bp form should default to SS")
	}
}

func TestDecodeSIB(t *testing.T) {
	cpu := testCPU(t)
	cpu.writeReg32(regAX, 0x1000)
	cpu.writeReg32(regBX, 0x10)

	// a32 o32 mov eax, [eax+ebx*4+0x10]
	insn := decodeAt(t, cpu, 0x67, 0x66, 0x8B, 0x44, 0x98, 0x10)
	cpu.effA32 = true
	cpu.segPrefix = insn.segPrefix
	insn.modrm.resolve(cpu)
	if insn.modrm.offset != 0x1000+0x10*4+0x10 {
		t.Errorf("SIB offset = %08x, want %08x", insn.modrm.offset, uint32(0x1000+0x10*4+0x10))
	}
}

func TestDecodeInvalidLock(t *testing.T) {
	cpu := testCPU(t)
	insn := decodeAt(t, cpu, 0xF0, 0x90) // lock nop

	if insn.desc != nil {
		t.Fatal("LOCK on a non-lockable instruction should decode invalid")
	}
	if fault := insn.execute(cpu); fault == nil || fault.Vector != excUD {
		t.Errorf("execute = %v, want #UD", fault)
	}
}

func TestDecodeUnknownOpcode(t *testing.T) {
	cpu := testCPU(t)
	insn := decodeAt(t, cpu, 0x0F, 0xFF) // ud0

	if fault := insn.execute(cpu); fault == nil || fault.Vector != excUD {
		t.Errorf("UD0 = %v, want #UD", fault)
	}
}

func TestMoffFollowsAddressSize(t *testing.T) {
	cpu := testCPU(t)
	insn := decodeAt(t, cpu, 0xA0, 0x34, 0x12) // mov al, [0x1234]
	if insn.imm1Bytes != 2 {
		t.Errorf("a16 moff bytes = %d, want 2", insn.imm1Bytes)
	}

	cpu = testCPU(t)
	insn = decodeAt(t, cpu, 0x67, 0xA0, 0x78, 0x56, 0x34, 0x12)
	if insn.imm1Bytes != 4 {
		t.Errorf("a32 moff bytes = %d, want 4", insn.imm1Bytes)
	}
	if insn.immAddress() != 0x12345678 {
		t.Errorf("moff = %08x, want 12345678", insn.immAddress())
	}
}
