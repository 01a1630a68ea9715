/*
   CPU tests: flags, real mode interrupts, paging, protection, rings.

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

	mem "github.com/rcornwell/PC386/emu/memory"
)

// testCPU builds a CPU over 2 MiB of RAM with no I/O bus attached,
// parked in real mode at 1000:0000 with a stack at 9000:1000.
func testCPU(t *testing.T) *CPU {
	t.Helper()
	cpu := New(mem.New(2*1024*1024), nil, Options{})
	if fault := cpu.writeSegmentRegister(SegCS, 0x1000); fault != nil {
		t.Fatalf("load CS: %v", fault)
	}
	cpu.eip = 0
	if fault := cpu.writeSegmentRegister(SegDS, 0x1000); fault != nil {
		t.Fatalf("load DS: %v", fault)
	}
	if fault := cpu.writeSegmentRegister(SegSS, 0x9000); fault != nil {
		t.Fatalf("load SS: %v", fault)
	}
	cpu.writeReg16(regSP, 0x1000)
	return cpu
}

// load places code at the current CS:EIP.
func load(cpu *CPU, code ...byte) {
	base := cpu.cache[SegCS].base + cpu.eip
	for n, b := range code {
		cpu.mem.Write8(base+uint32(n), b)
	}
}

func run(t *testing.T, cpu *CPU, count int) {
	t.Helper()
	for n := 0; n < count; n++ {
		cpu.ExecuteOne()
	}
}

func TestMovIncFlags(t *testing.T) {
	cpu := testCPU(t)
	cpu.cf = true

	load(cpu, 0xB8, 0x34, 0x12, 0x40) // mov ax, 0x1234 ; inc ax
	run(t, cpu, 2)

	if got := cpu.readReg16(regAX); got != 0x1235 {
		t.Errorf("AX = %04x, want 1235", got)
	}
	if cpu.of || cpu.getZF() || cpu.getSF() {
		t.Errorf("OF/ZF/SF = %v/%v/%v, want clear", cpu.of, cpu.getZF(), cpu.getSF())
	}
	if !cpu.getPF() {
		t.Error("PF clear, want set")
	}
	if !cpu.cf {
		t.Error("CF was clobbered by INC")
	}
}

func TestIncWrapFlags(t *testing.T) {
	cpu := testCPU(t)
	cpu.cf = true

	load(cpu, 0xB8, 0xFF, 0xFF, 0x40) // mov ax, 0xffff ; inc ax
	run(t, cpu, 2)

	if got := cpu.readReg16(regAX); got != 0 {
		t.Errorf("AX = %04x, want 0", got)
	}
	if !cpu.getZF() || !cpu.getPF() {
		t.Errorf("ZF/PF = %v/%v, want set", cpu.getZF(), cpu.getPF())
	}
	if cpu.getSF() || cpu.of {
		t.Errorf("SF/OF = %v/%v, want clear", cpu.getSF(), cpu.of)
	}
	if !cpu.af {
		t.Error("AF clear, want set on low nibble rollover")
	}
	if !cpu.cf {
		t.Error("CF was clobbered by INC")
	}
}

func TestShiftCarryCountOne(t *testing.T) {
	cpu := testCPU(t)
	cpu.writeReg8(regAL, 0x80)

	load(cpu, 0xD0, 0xE0) // shl al, 1
	run(t, cpu, 1)

	if got := cpu.readReg8(regAL); got != 0 {
		t.Errorf("AL = %02x, want 0", got)
	}
	if !cpu.cf {
		t.Error("CF clear, want set")
	}
	if !cpu.of {
		t.Error("OF clear, want set for count 1")
	}
	if !cpu.getZF() {
		t.Error("ZF clear, want set")
	}
}

func TestRealModeInterrupt(t *testing.T) {
	cpu := testCPU(t)

	// Vector 0x21 lives at 0x84: offset 0x3412, selector 0x7856.
	cpu.mem.Write8(0x84, 0x12)
	cpu.mem.Write8(0x85, 0x34)
	cpu.mem.Write8(0x86, 0x56)
	cpu.mem.Write8(0x87, 0x78)

	cpu.iflag = true
	cpu.tf = false
	oldFlags := cpu.getFlags()

	load(cpu, 0xCD, 0x21) // int 0x21
	run(t, cpu, 1)

	if cpu.sreg[SegCS] != 0x7856 {
		t.Errorf("CS = %04x, want 7856", cpu.sreg[SegCS])
	}
	if cpu.eip != 0x3412 {
		t.Errorf("IP = %04x, want 3412", cpu.eip)
	}
	if cpu.iflag || cpu.tf {
		t.Errorf("IF/TF = %v/%v, want clear", cpu.iflag, cpu.tf)
	}

	sp := cpu.currentStackPointer()
	stackIP, _ := cpu.readMem16(SegSS, sp)
	stackCS, _ := cpu.readMem16(SegSS, sp+2)
	stackFlags, _ := cpu.readMem16(SegSS, sp+4)
	if stackIP != 0x0002 {
		t.Errorf("stacked IP = %04x, want 0002", stackIP)
	}
	if stackCS != 0x1000 {
		t.Errorf("stacked CS = %04x, want 1000", stackCS)
	}
	if stackFlags != oldFlags {
		t.Errorf("stacked FLAGS = %04x, want %04x", stackFlags, oldFlags)
	}
}

func TestPageFaultNotPresent(t *testing.T) {
	cpu := testCPU(t)

	// CR3 at 0x1000 with every PDE clear.
	cpu.cr3 = 0x1000
	cpu.cr0 |= cr0PE | cr0PG

	_, fault := cpu.translate(0x12345678, accessRead, effCPLCurrent)
	if fault == nil {
		t.Fatal("expected page fault")
	}
	if fault.Vector != excPF {
		t.Fatalf("vector = %#x, want #PF", fault.Vector)
	}
	if fault.Code != 0 {
		t.Errorf("error code = %04x, want 0 (not-present, read, supervisor)", fault.Code)
	}
	if cpu.cr2 != 0x12345678 {
		t.Errorf("CR2 = %08x, want 12345678", cpu.cr2)
	}
}

// buildPageTables identity maps the first count pages through a directory
// at dirBase and a single page table right behind it.
func buildPageTables(cpu *CPU, dirBase uint32, count int) {
	tableBase := dirBase + 0x1000
	cpu.mem.Write32(dirBase, tableBase|ptePresent|pteWrite|pteUser)
	for n := 0; n < count; n++ {
		cpu.mem.Write32(tableBase+uint32(n)*4, uint32(n)<<12|ptePresent|pteWrite|pteUser)
	}
}

func TestPagingRoundTripAndDirty(t *testing.T) {
	cpu := testCPU(t)
	buildPageTables(cpu, 0x4000, 16)
	cpu.cr3 = 0x4000
	cpu.cr0 |= cr0PE | cr0PG

	linear := uint32(0x2345)

	phys1, fault := cpu.translate(linear, accessRead, effCPLCurrent)
	if fault != nil {
		t.Fatalf("translate: %v", fault)
	}
	phys2, fault := cpu.translate(linear, accessRead, effCPLCurrent)
	if fault != nil {
		t.Fatalf("second translate: %v", fault)
	}
	if phys1 != phys2 || phys1 != linear {
		t.Fatalf("identity translation broke: %08x / %08x", phys1, phys2)
	}

	pte := cpu.mem.Read32(0x5000 + 2*4)
	if pte&pteAccessed == 0 {
		t.Error("accessed bit not set by read")
	}
	if pte&pteDirty != 0 {
		t.Error("dirty bit set by read")
	}

	if _, fault := cpu.translate(linear, accessWrite, effCPLCurrent); fault != nil {
		t.Fatalf("write translate: %v", fault)
	}
	pte = cpu.mem.Read32(0x5000 + 2*4)
	if pte&pteDirty == 0 {
		t.Error("dirty bit not set by write")
	}
}

func TestPagingUserSupervisor(t *testing.T) {
	cpu := testCPU(t)
	buildPageTables(cpu, 0x4000, 16)
	// Clear the user bit on page 3.
	cpu.mem.Write32(0x5000+3*4, 3<<12|ptePresent|pteWrite)
	cpu.cr3 = 0x4000
	cpu.cr0 |= cr0PE | cr0PG

	if _, fault := cpu.translate(0x3000, accessRead, 3); fault == nil {
		t.Error("user access to supervisor page did not fault")
	} else if fault.Code != pfProtection|pfUser {
		t.Errorf("error code = %04x, want %04x", fault.Code, pfProtection|pfUser)
	}

	if _, fault := cpu.translate(0x3000, accessRead, 0); fault != nil {
		t.Errorf("supervisor access faulted: %v", fault)
	}
}

func TestFlagLaziness(t *testing.T) {
	cpu := testCPU(t)

	cases := []struct{ a, b uint8 }{
		{0x00, 0x00}, {0x7f, 0x01}, {0xff, 0x01}, {0x80, 0x80}, {0x12, 0x34},
	}
	for _, c := range cases {
		result := addK(cpu, c.a, c.b)

		wantZF := result == 0
		wantSF := result&0x80 != 0
		ones := 0
		for n := 0; n < 8; n++ {
			if result&(1<<n) != 0 {
				ones++
			}
		}
		wantPF := ones%2 == 0

		if cpu.getZF() != wantZF {
			t.Errorf("add %02x+%02x: ZF = %v, want %v", c.a, c.b, cpu.getZF(), wantZF)
		}
		if cpu.getSF() != wantSF {
			t.Errorf("add %02x+%02x: SF = %v, want %v", c.a, c.b, cpu.getSF(), wantSF)
		}
		if cpu.getPF() != wantPF {
			t.Errorf("add %02x+%02x: PF = %v, want %v", c.a, c.b, cpu.getPF(), wantPF)
		}
	}
}

func TestPartialRegisterWrites(t *testing.T) {
	cpu := testCPU(t)

	cpu.writeReg32(regAX, 0xaabbccdd)
	cpu.writeReg8(regAH, 0x11)
	if got := cpu.readReg32(regAX); got != 0xaabb11dd {
		t.Errorf("EAX = %08x, want aabb11dd", got)
	}
	cpu.writeReg8(regAL, 0x22)
	if got := cpu.readReg32(regAX); got != 0xaabb1122 {
		t.Errorf("EAX = %08x, want aabb1122", got)
	}
	cpu.writeReg16(regAX, 0x3344)
	if got := cpu.readReg32(regAX); got != 0xaabb3344 {
		t.Errorf("EAX = %08x, want aabb3344", got)
	}
}

// Raw descriptor builders for the protected mode tests.

func segDescriptor(base, limit uint32, typ uint8, dpl uint8, is32, gran bool) (uint32, uint32) {
	low := base<<16 | limit&0xffff
	high := base>>16&0xff | uint32(typ)<<8 | 0x1000 | uint32(dpl)<<13 | 0x8000 |
		limit & 0xf0000 | base&0xff000000
	if is32 {
		high |= 0x400000
	}
	if gran {
		high |= 0x800000
	}
	return low, high
}

func systemDescriptor(base, limit uint32, typ uint8, dpl uint8) (uint32, uint32) {
	low := base<<16 | limit&0xffff
	high := base>>16&0xff | uint32(typ)<<8 | uint32(dpl)<<13 | 0x8000 |
		limit & 0xf0000 | base&0xff000000
	return low, high
}

func gateDescriptor(selector uint16, offset uint32, typ uint8, dpl uint8) (uint32, uint32) {
	low := uint32(selector)<<16 | offset&0xffff
	high := offset&0xffff0000 | uint32(typ)<<8 | uint32(dpl)<<13 | 0x8000
	return low, high
}

func writeDescriptor(cpu *CPU, table, index uint32, low, high uint32) {
	cpu.mem.Write32(table+index*8, low)
	cpu.mem.Write32(table+index*8+4, high)
}

const (
	testGDT      = 0x00060000
	testIDT      = 0x00061000
	selFlatCode  = 0x08
	selFlatData  = 0x10
	selTSS1      = 0x18
	selTSS2      = 0x20
	tssBase1     = 0x00062000
	tssBase2     = 0x00063000
)

// enterProtected builds a flat GDT and switches to 32-bit protected mode
// with CS:EIP at entry.
func enterProtected(t *testing.T, cpu *CPU, entry uint32) {
	t.Helper()
	low, high := segDescriptor(0, 0xfffff, 0xb, 0, true, true)
	writeDescriptor(cpu, testGDT, 1, low, high)
	low, high = segDescriptor(0, 0xfffff, 0x3, 0, true, true)
	writeDescriptor(cpu, testGDT, 2, low, high)

	cpu.gdtr = dtr{base: testGDT, limit: 0xff}
	cpu.idtr = dtr{base: testIDT, limit: 0x7ff}
	cpu.cr0 |= cr0PE

	if fault := cpu.writeSegmentRegister(SegCS, selFlatCode); fault != nil {
		t.Fatalf("load flat CS: %v", fault)
	}
	for _, seg := range []int{SegDS, SegES, SegSS} {
		if fault := cpu.writeSegmentRegister(seg, selFlatData); fault != nil {
			t.Fatalf("load flat segment %d: %v", seg, fault)
		}
	}
	cpu.writeReg32(regSP, 0x00070000)
	cpu.eip = entry
}

func TestInterruptIRETSymmetry(t *testing.T) {
	cpu := testCPU(t)
	enterProtected(t, cpu, 0x40000)

	// Vector 0x21: 32-bit interrupt gate into the flat code segment.
	low, high := gateDescriptor(selFlatCode, 0x50000, sysIntGate32, 3)
	writeDescriptor(cpu, testIDT, 0x21, low, high)

	cpu.iflag = true
	cpu.cf = true
	cpu.of = true
	wantFlags := cpu.getEFlags()
	wantCS := cpu.sreg[SegCS]

	load(cpu, 0xCD, 0x21) // int 0x21
	run(t, cpu, 1)

	if cpu.eip != 0x50000 {
		t.Fatalf("EIP = %08x, want 50000", cpu.eip)
	}
	if cpu.iflag {
		t.Error("IF still set inside interrupt gate handler")
	}

	// Handler is a bare IRET.
	load(cpu, 0xCF)
	run(t, cpu, 1)

	if cpu.sreg[SegCS] != wantCS {
		t.Errorf("CS = %04x, want %04x", cpu.sreg[SegCS], wantCS)
	}
	if cpu.eip != 0x40002 {
		t.Errorf("EIP = %08x, want 40002", cpu.eip)
	}
	if got := cpu.getEFlags() &^ flagRF; got != wantFlags&^flagRF {
		t.Errorf("EFLAGS = %08x, want %08x", got, wantFlags&^flagRF)
	}
	if cpu.rf {
		t.Error("RF set after IRET")
	}
}

// writeTSS32 fills in the fields a switch will load.
func writeTSS32(cpu *CPU, base uint32, cs, ds, ss uint16, eip, esp uint32) {
	cpu.writeMetal16(base+tss32CS, cs)
	cpu.writeMetal16(base+tss32DS, ds)
	cpu.writeMetal16(base+tss32ES, ds)
	cpu.writeMetal16(base+tss32SS, ss)
	cpu.writeMetal32(base+tss32EIP, eip)
	cpu.writeMetal32(base+tss32ESP, esp)
	cpu.writeMetal32(base+tss32EFlags, 0x0202)
	cpu.writeMetal16(base+tss32IOMapBase, 104)
}

func TestTaskSwitchRoundTrip(t *testing.T) {
	cpu := testCPU(t)
	enterProtected(t, cpu, 0x40000)

	low, high := systemDescriptor(tssBase1, 0x200, sysTSS32Avail, 0)
	writeDescriptor(cpu, testGDT, selTSS1>>3, low, high)
	low, high = systemDescriptor(tssBase2, 0x200, sysTSS32Avail, 0)
	writeDescriptor(cpu, testGDT, selTSS2>>3, low, high)

	writeTSS32(cpu, tssBase2, selFlatCode, selFlatData, selFlatData, 0x50000, 0x00071000)

	// Make TSS1 the running task.
	desc := cpu.getDescriptor(selTSS1)
	desc.setTSSBusy()
	cpu.writeToGDT(&desc)
	cpu.tr = taskReg{selector: selTSS1, base: tssBase1, limit: 0x200, is32: true}

	cpu.gpr = [8]uint32{0x11111111, 0x22222222, 0x33333333, 0x44444444,
		0x00070000, 0x55555555, 0x66666666, 0x77777777}
	wantGPR := cpu.gpr
	wantEIP := cpu.eip
	wantCS := cpu.sreg[SegCS]

	target := cpu.getDescriptor(selTSS2)
	if fault := cpu.taskSwitch(selTSS2, &target, jumpJMP); fault != nil {
		t.Fatalf("switch to task 2: %v", fault)
	}

	if cpu.tr.selector != selTSS2 {
		t.Fatalf("TR = %04x, want %04x", cpu.tr.selector, selTSS2)
	}
	if cpu.eip != 0x50000 {
		t.Fatalf("EIP = %08x, want 50000", cpu.eip)
	}
	if cpu.cr0&cr0TS == 0 {
		t.Error("CR0.TS not set by task switch")
	}

	// And back.
	back := cpu.getDescriptor(selTSS1)
	if fault := cpu.taskSwitch(selTSS1, &back, jumpJMP); fault != nil {
		t.Fatalf("switch back to task 1: %v", fault)
	}

	if cpu.gpr != wantGPR {
		t.Errorf("GPRs = %08x, want %08x", cpu.gpr, wantGPR)
	}
	if cpu.eip != wantEIP {
		t.Errorf("EIP = %08x, want %08x", cpu.eip, wantEIP)
	}
	if cpu.sreg[SegCS] != wantCS {
		t.Errorf("CS = %04x, want %04x", cpu.sreg[SegCS], wantCS)
	}
}

func TestSegmentLimitChecks(t *testing.T) {
	cpu := testCPU(t)
	enterProtected(t, cpu, 0x40000)

	// A small data segment: base 0, byte granular limit 0xff.
	low, high := segDescriptor(0, 0xff, 0x3, 0, true, false)
	writeDescriptor(cpu, testGDT, 3, low, high)
	if fault := cpu.writeSegmentRegister(SegES, 0x18); fault != nil {
		t.Fatalf("load small segment: %v", fault)
	}

	if _, fault := readSeg[uint8](cpu, SegES, 0xff); fault != nil {
		t.Errorf("read at limit faulted: %v", fault)
	}
	if _, fault := readSeg[uint16](cpu, SegES, 0xff); fault == nil {
		t.Error("word read straddling the limit did not fault")
	}
	if _, fault := readSeg[uint8](cpu, SegES, 0x100); fault == nil {
		t.Error("read past limit did not fault")
	}
}

func TestStackFaultThroughSS(t *testing.T) {
	cpu := testCPU(t)
	enterProtected(t, cpu, 0x40000)

	low, high := segDescriptor(0, 0xff, 0x3, 0, true, false)
	writeDescriptor(cpu, testGDT, 3, low, high)
	if fault := cpu.writeSegmentRegister(SegSS, 0x18); fault != nil {
		t.Fatalf("load small SS: %v", fault)
	}

	_, fault := readSeg[uint32](cpu, SegSS, 0x200)
	if fault == nil {
		t.Fatal("expected a fault")
	}
	if fault.Vector != excSS {
		t.Errorf("vector = %#x, want #SS for SS-relative violation", fault.Vector)
	}
}

func TestNullSelectorFaults(t *testing.T) {
	cpu := testCPU(t)
	enterProtected(t, cpu, 0x40000)

	if fault := cpu.writeSegmentRegister(SegES, 0); fault != nil {
		t.Fatalf("loading null into ES should not fault: %v", fault)
	}
	_, fault := readSeg[uint8](cpu, SegES, 0)
	if fault == nil {
		t.Fatal("access through null ES did not fault")
	}
	if fault.Vector != excGP {
		t.Errorf("vector = %#x, want #GP", fault.Vector)
	}

	if fault := cpu.writeSegmentRegister(SegSS, 0); fault == nil {
		t.Error("loading null into SS did not fault")
	}
}

func TestREPMovsRestartability(t *testing.T) {
	cpu := testCPU(t)
	enterProtected(t, cpu, 0x40000)

	// Identity map pages 0-15, then punch out page 8 so the destination
	// faults part way through.
	buildPageTables(cpu, 0x4000, 16)
	cpu.mem.Write32(0x5000+8*4, 0)
	cpu.cr3 = 0x4000
	cpu.cr0 |= cr0PG

	// Source inside page 2; destination ends 4 bytes before page 8.
	cpu.writeReg32(regSI, 0x2000)
	cpu.writeReg32(regDI, 0x8000-4)
	cpu.writeReg32(regCX, 8)
	cpu.df = false

	insn := &Instruction{rep: prefixREPZ, segPrefix: SegNone}
	cpu.effA32 = true
	cpu.effO32 = true
	cpu.segPrefix = SegNone

	fault := stringOp(movsStep[uint8], false)(cpu, insn)
	if fault == nil {
		t.Fatal("expected a page fault on the fifth store")
	}
	if fault.Vector != excPF {
		t.Fatalf("vector = %#x, want #PF", fault.Vector)
	}
	if got := cpu.readReg32(regCX); got != 4 {
		t.Errorf("ECX = %d, want 4 completed iterations", got)
	}
	if got := cpu.readReg32(regSI); got != 0x2004 {
		t.Errorf("ESI = %08x, want 2004", got)
	}
	if got := cpu.readReg32(regDI); got != 0x8000 {
		t.Errorf("EDI = %08x, want 8000", got)
	}
}

func TestIOPermissionBitmap(t *testing.T) {
	cpu := testCPU(t)
	enterProtected(t, cpu, 0x40000)

	// TSS with an I/O bitmap: port 0x60 denied, port 0x61 allowed.
	const iomapBase = 104
	cpu.writeMetal16(tssBase1+tss32IOMapBase, iomapBase)
	cpu.writeMetal16(tssBase1+iomapBase+0x60/8, 1<<(0x60%8))
	cpu.tr = taskReg{selector: selTSS1, base: tssBase1, limit: 0x200, is32: true}

	// Drop to ring 3 semantics: CPL 3, IOPL 0.
	cpu.cache[SegCS].rpl = 3
	cpu.iopl = 0

	if fault := cpu.validateIOAccess(0x60, 1); fault == nil {
		t.Error("denied port did not fault")
	} else if fault.Vector != excGP || fault.Code != 0 {
		t.Errorf("fault = %v, want #GP(0)", fault)
	}

	if fault := cpu.validateIOAccess(0x61, 1); fault != nil {
		t.Errorf("allowed port faulted: %v", fault)
	}

	// Privileged again: no bitmap consulted.
	cpu.cache[SegCS].rpl = 0
	cpu.iopl = 3
	if fault := cpu.validateIOAccess(0x60, 1); fault != nil {
		t.Errorf("privileged access faulted: %v", fault)
	}
}

func TestHLTRequiresRing0(t *testing.T) {
	cpu := testCPU(t)
	enterProtected(t, cpu, 0x40000)
	cpu.cache[SegCS].rpl = 3

	fault := opHLT(cpu, &Instruction{})
	if fault == nil || fault.Vector != excGP {
		t.Errorf("HLT at CPL 3 = %v, want #GP", fault)
	}
}

func TestRDTSCCounts(t *testing.T) {
	cpu := testCPU(t)

	load(cpu, 0x90, 0x90, 0x0F, 0x31) // nop ; nop ; rdtsc
	run(t, cpu, 3)

	if got := cpu.readReg32(regAX); got != 2 {
		t.Errorf("EAX = %d, want 2 retired opcodes before RDTSC", got)
	}
	if got := cpu.readReg32(regDX); got != 0 {
		t.Errorf("EDX = %d, want 0", got)
	}
}

func TestVKILLOutsideAutotest(t *testing.T) {
	cpu := testCPU(t)

	fault := opVKILL(cpu, &Instruction{})
	if fault == nil || fault.Vector != excUD {
		t.Errorf("VKILL outside autotest = %v, want #UD", fault)
	}
}

func TestVKILLAutotest(t *testing.T) {
	cpu := New(mem.New(2*1024*1024), nil, Options{Autotest: true})
	exit := -1
	cpu.SetExitHook(func(code int) { exit = code })

	if fault := opVKILL(cpu, &Instruction{}); fault != nil {
		t.Fatalf("VKILL in autotest faulted: %v", fault)
	}
	if exit != 0 {
		t.Errorf("exit code = %d, want 0", exit)
	}
	if cpu.state != stateShutdown {
		t.Error("CPU not shut down")
	}
}

func TestLMSWCannotClearPE(t *testing.T) {
	cpu := testCPU(t)
	enterProtected(t, cpu, 0x40000)

	cpu.writeReg16(regAX, 0) // try to clear PE
	insn := &Instruction{regIndex: 6}
	insn.modrm.isReg = true
	insn.modrm.regIndex = regAX
	insn.modrm.resolved = true

	if fault := opLMSW(cpu, insn); fault != nil {
		t.Fatalf("LMSW faulted: %v", fault)
	}
	if !cpu.pe() {
		t.Error("LMSW cleared PE")
	}
}

func TestInterruptShadowAfterSTI(t *testing.T) {
	cpu := testCPU(t)

	load(cpu, 0xFB, 0x90) // sti ; nop
	cpu.iflag = true

	cpu.ExecuteOne()
	if !cpu.nextUninterruptible {
		t.Error("STI with IF already set did not arm the interrupt shadow")
	}

	// The shadow covers exactly one instruction.
	if !cpu.Step() {
		t.Fatal("step stopped")
	}
	if cpu.nextUninterruptible {
		t.Error("interrupt shadow survived the following instruction")
	}
}

func TestDivideErrors(t *testing.T) {
	cpu := testCPU(t)

	insn := &Instruction{}
	insn.modrm.isReg = true
	insn.modrm.regIndex = regBL
	insn.modrm.resolved = true

	cpu.writeReg8(regBL, 0)
	if fault := opDIVRM8(cpu, insn); fault == nil || fault.Vector != excDE {
		t.Errorf("divide by zero = %v, want #DE", fault)
	}

	cpu.writeReg8(regBL, 1)
	cpu.writeReg16(regAX, 0x200)
	if fault := opDIVRM8(cpu, insn); fault == nil || fault.Vector != excDE {
		t.Errorf("quotient overflow = %v, want #DE", fault)
	}
}

func TestSignExtendRoundTrip(t *testing.T) {
	for _, v := range []uint8{0x00, 0x01, 0x7f, 0x80, 0xff} {
		want16 := uint16(int16(int8(v)))
		want32 := uint32(int32(int8(v)))
		if got := uint16(int32(int8(v))); got != want16 {
			t.Errorf("sign extend %02x to 16 = %04x, want %04x", v, got, want16)
		}
		if got := uint32(int32(int16(int8(v)))); got != want32 {
			t.Errorf("sign extend %02x to 32 = %08x, want %08x", v, got, want32)
		}
	}
}
