/*
   Task state segments and task switching.

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

// 32-bit TSS field offsets.
const (
	tss32Backlink  = 0
	tss32ESP0      = 4
	tss32SS0       = 8
	tss32ESP1      = 12
	tss32SS1       = 16
	tss32ESP2      = 20
	tss32SS2       = 24
	tss32CR3       = 28
	tss32EIP       = 32
	tss32EFlags    = 36
	tss32EAX       = 40
	tss32ECX       = 44
	tss32EDX       = 48
	tss32EBX       = 52
	tss32ESP       = 56
	tss32EBP       = 60
	tss32ESI       = 64
	tss32EDI       = 68
	tss32ES        = 72
	tss32CS        = 76
	tss32SS        = 80
	tss32DS        = 84
	tss32FS        = 88
	tss32GS        = 92
	tss32LDT       = 96
	tss32IOMapBase = 102
)

// 16-bit TSS field offsets.
const (
	tss16Backlink = 0
	tss16SP0      = 2
	tss16SS0      = 4
	tss16SP1      = 6
	tss16SS1      = 8
	tss16SP2      = 10
	tss16SS2      = 12
	tss16IP       = 14
	tss16Flags    = 16
	tss16AX       = 18
	tss16CX       = 20
	tss16DX       = 22
	tss16BX       = 24
	tss16SP       = 26
	tss16BP       = 28
	tss16SI       = 30
	tss16DI       = 32
	tss16ES       = 34
	tss16CS       = 36
	tss16SS       = 38
	tss16DS       = 40
	tss16FS       = 42
	tss16GS       = 44
	tss16LDT      = 46
)

// tss is a view over a task state segment image in memory. Field access
// dispatches on the bitness cached at load.
type tss struct {
	cpu  *CPU
	base uint32
	is32 bool
}

func (cpu *CPU) currentTSS() tss {
	return tss{cpu: cpu, base: cpu.tr.base, is32: cpu.tr.is32}
}

func (t tss) word(off32, off16 uint32) uint16 {
	if t.is32 {
		return t.cpu.readMetal16(t.base + off32)
	}
	return t.cpu.readMetal16(t.base + off16)
}

func (t tss) setWord(off32, off16 uint32, value uint16) {
	if t.is32 {
		t.cpu.writeMetal16(t.base+off32, value)
	} else {
		t.cpu.writeMetal16(t.base+off16, value)
	}
}

func (t tss) wide(off32, off16 uint32) uint32 {
	if t.is32 {
		return t.cpu.readMetal32(t.base + off32)
	}
	return uint32(t.cpu.readMetal16(t.base + off16))
}

func (t tss) setWide(off32, off16 uint32, value uint32) {
	if t.is32 {
		t.cpu.writeMetal32(t.base+off32, value)
	} else {
		t.cpu.writeMetal16(t.base+off16, uint16(value))
	}
}

func (t tss) backlink() uint16       { return t.word(tss32Backlink, tss16Backlink) }
func (t tss) setBacklink(v uint16)   { t.setWord(tss32Backlink, tss16Backlink, v) }
func (t tss) ldt() uint16            { return t.word(tss32LDT, tss16LDT) }
func (t tss) setLDT(v uint16)        { t.setWord(tss32LDT, tss16LDT, v) }
func (t tss) cs() uint16             { return t.word(tss32CS, tss16CS) }
func (t tss) setCS(v uint16)         { t.setWord(tss32CS, tss16CS, v) }
func (t tss) ds() uint16             { return t.word(tss32DS, tss16DS) }
func (t tss) setDS(v uint16)         { t.setWord(tss32DS, tss16DS, v) }
func (t tss) es() uint16             { return t.word(tss32ES, tss16ES) }
func (t tss) setES(v uint16)         { t.setWord(tss32ES, tss16ES, v) }
func (t tss) ss() uint16             { return t.word(tss32SS, tss16SS) }
func (t tss) setSS(v uint16)         { t.setWord(tss32SS, tss16SS, v) }
func (t tss) fs() uint16             { return t.word(tss32FS, tss16FS) }
func (t tss) setFS(v uint16)         { t.setWord(tss32FS, tss16FS, v) }
func (t tss) gs() uint16             { return t.word(tss32GS, tss16GS) }
func (t tss) setGS(v uint16)         { t.setWord(tss32GS, tss16GS, v) }
func (t tss) eip() uint32            { return t.wide(tss32EIP, tss16IP) }
func (t tss) setEIP(v uint32)        { t.setWide(tss32EIP, tss16IP, v) }
func (t tss) eflags() uint32         { return t.wide(tss32EFlags, tss16Flags) }
func (t tss) setEFlags(v uint32)     { t.setWide(tss32EFlags, tss16Flags, v) }
func (t tss) cr3() uint32            { return t.cpu.readMetal32(t.base + tss32CR3) }
func (t tss) setCR3(v uint32)        { t.cpu.writeMetal32(t.base+tss32CR3, v) }
func (t tss) ss0() uint16            { return t.word(tss32SS0, tss16SS0) }
func (t tss) esp0() uint32           { return t.wide(tss32ESP0, tss16SP0) }
func (t tss) ioMapBase() uint16      { return t.cpu.readMetal16(t.base + tss32IOMapBase) }

var tssGPROffsets32 = [8]uint32{tss32EAX, tss32ECX, tss32EDX, tss32EBX, tss32ESP, tss32EBP, tss32ESI, tss32EDI}
var tssGPROffsets16 = [8]uint32{tss16AX, tss16CX, tss16DX, tss16BX, tss16SP, tss16BP, tss16SI, tss16DI}

func (t tss) gprs() [8]uint32 {
	var regs [8]uint32
	for n := range regs {
		regs[n] = t.wide(tssGPROffsets32[n], tssGPROffsets16[n])
	}
	return regs
}

func (t tss) setGPRs(regs [8]uint32) {
	for n := range regs {
		t.setWide(tssGPROffsets32[n], tssGPROffsets16[n], regs[n])
	}
}

func (t tss) ringSS(ring uint8) uint16 {
	switch ring {
	case 0:
		return t.word(tss32SS0, tss16SS0)
	case 1:
		return t.word(tss32SS1, tss16SS1)
	default:
		return t.word(tss32SS2, tss16SS2)
	}
}

func (t tss) ringESP(ring uint8) uint32 {
	switch ring {
	case 0:
		return t.wide(tss32ESP0, tss16SP0)
	case 1:
		return t.wide(tss32ESP1, tss16SP1)
	default:
		return t.wide(tss32ESP2, tss16SP2)
	}
}

// taskSwitch saves the outgoing task, loads the incoming one and validates
// the loaded selectors. Validation faults fire in the new task's context,
// matching the hardware ordering.
func (cpu *CPU) taskSwitch(taskSelector uint16, incoming *descriptor, jumpType int) *Fault {
	if incoming.isNull() {
		return cpu.gpFault(0, "incoming TSS descriptor is null")
	}
	if !incoming.global {
		if jumpType == jumpIRET {
			return cpu.tsFault(taskSelector&0xfffc, "incoming TSS descriptor is not from the GDT")
		}
		return cpu.gpFault(taskSelector&0xfffc, "incoming TSS descriptor is not from the GDT")
	}
	if !incoming.present {
		return cpu.npFault(taskSelector&0xfffc, "incoming TSS descriptor is not present")
	}

	minimumLimit := uint32(44)
	if incoming.tss32() {
		minimumLimit = 108
	}
	if incoming.limit < minimumLimit {
		return cpu.tsFault(taskSelector&0xfffc, "incoming TSS descriptor limit too small")
	}

	if jumpType == jumpIRET {
		if !incoming.tssBusy() {
			return cpu.tsFault(taskSelector&0xfffc, "incoming TSS descriptor is not busy")
		}
	} else {
		if incoming.tssBusy() {
			return cpu.gpFault(taskSelector&0xfffc, "incoming TSS descriptor is busy")
		}
	}

	outgoingDescriptor := cpu.getDescriptor(cpu.tr.selector)
	outgoing := tss{cpu: cpu, base: cpu.tr.base, is32: cpu.tr.is32}

	outgoing.setGPRs(cpu.gpr)

	if jumpType == jumpJMP || jumpType == jumpIRET {
		outgoingDescriptor.setTSSAvailable()
		cpu.writeToGDT(&outgoingDescriptor)
	}

	outgoingEFlags := cpu.getEFlags()
	if jumpType == jumpIRET {
		outgoingEFlags &^= flagNT
	}
	outgoing.setEFlags(outgoingEFlags)

	outgoing.setCS(cpu.sreg[SegCS])
	outgoing.setDS(cpu.sreg[SegDS])
	outgoing.setES(cpu.sreg[SegES])
	outgoing.setFS(cpu.sreg[SegFS])
	outgoing.setGS(cpu.sreg[SegGS])
	outgoing.setSS(cpu.sreg[SegSS])
	outgoing.setLDT(cpu.ldtr.selector)
	outgoing.setEIP(cpu.eip)
	if cpu.pg() {
		outgoing.setCR3(cpu.cr3)
	}

	in := tss{cpu: cpu, base: incoming.base, is32: incoming.tss32()}

	// Load everything first, validate afterward.
	cpu.cr3 = in.cr3()

	cpu.ldtr.selector = in.ldt()
	cpu.ldtr.base = 0
	cpu.ldtr.limit = 0

	cpu.sreg[SegCS] = in.cs()
	cpu.sreg[SegDS] = in.ds()
	cpu.sreg[SegES] = in.es()
	cpu.sreg[SegFS] = in.fs()
	cpu.sreg[SegGS] = in.gs()
	cpu.sreg[SegSS] = in.ss()

	incomingEFlags := in.eflags()
	if jumpType == jumpCALL || jumpType == jumpINT {
		incomingEFlags |= flagNT
	}
	if in.is32 {
		cpu.setEFlags(incomingEFlags)
	} else {
		cpu.setFlags(uint16(incomingEFlags))
	}

	cpu.gpr = in.gprs()
	cpu.eip = in.eip()

	if jumpType == jumpCALL || jumpType == jumpINT {
		in.setBacklink(cpu.tr.selector)
	}

	cpu.tr.selector = taskSelector
	cpu.tr.base = incoming.base
	cpu.tr.limit = incoming.limit
	cpu.tr.is32 = incoming.tss32()

	if jumpType != jumpIRET {
		incoming.setTSSBusy()
		cpu.writeToGDT(incoming)
	}

	cpu.cr0 |= cr0TS

	// Validation happens in the incoming task's context.
	ldtDescriptor := cpu.getDescriptor(cpu.ldtr.selector)
	if !ldtDescriptor.isNull() {
		if !ldtDescriptor.global {
			return cpu.tsFault(cpu.ldtr.selector&0xfffc, "incoming LDT is not in the GDT")
		}
		if !ldtDescriptor.isLDT() {
			return cpu.tsFault(cpu.ldtr.selector&0xfffc, "incoming LDT is not an LDT")
		}
		if !ldtDescriptor.present {
			return cpu.tsFault(cpu.ldtr.selector&0xfffc, "incoming LDT is not present")
		}
	}

	incomingCPL := uint8(cpu.sreg[SegCS] & 3)

	csDescriptor := cpu.getDescriptor(cpu.sreg[SegCS])
	if csDescriptor.isCode() {
		if csDescriptor.nonconformingCode() && csDescriptor.dpl != incomingCPL {
			return cpu.tsFault(cpu.sreg[SegCS]&0xfffc, "CS is non-conforming with DPL != RPL")
		}
		if csDescriptor.conforming() && csDescriptor.dpl > incomingCPL {
			return cpu.tsFault(cpu.sreg[SegCS]&0xfffc, "CS is conforming with DPL > RPL")
		}
	}

	ssDescriptor := cpu.getDescriptor(cpu.sreg[SegSS])
	if !ssDescriptor.isNull() {
		if ssDescriptor.outsideTableLimits() {
			return cpu.tsFault(cpu.sreg[SegSS]&0xfffc, "SS outside table limits")
		}
		if !ssDescriptor.isData() {
			return cpu.tsFault(cpu.sreg[SegSS]&0xfffc, "SS is not a data segment")
		}
		if !ssDescriptor.writable() {
			return cpu.tsFault(cpu.sreg[SegSS]&0xfffc, "SS is not writable")
		}
		if !ssDescriptor.present {
			return cpu.ssFault(cpu.sreg[SegSS]&0xfffc, "SS is not present")
		}
		if ssDescriptor.dpl != incomingCPL {
			return cpu.tsFault(cpu.sreg[SegSS]&0xfffc, "SS DPL != CPL")
		}
	}

	if !csDescriptor.isCode() {
		return cpu.tsFault(cpu.sreg[SegCS]&0xfffc, "CS is not a code segment")
	}
	if !csDescriptor.present {
		return cpu.tsFault(cpu.sreg[SegCS]&0xfffc, "CS is not present")
	}

	if ssDescriptor.dpl != uint8(cpu.sreg[SegSS]&3) {
		return cpu.tsFault(cpu.sreg[SegSS]&0xfffc, "SS DPL != RPL")
	}

	validateDataSegment := func(seg int) *Fault {
		selector := cpu.sreg[seg]
		d := cpu.getDescriptor(selector)
		if d.isNull() {
			return nil
		}
		if d.outsideTableLimits() {
			return cpu.tsFault(selector&0xfffc, "data segment outside table limits")
		}
		if !d.isSegment() {
			return cpu.tsFault(selector&0xfffc, "data segment register holds a system segment")
		}
		if !d.present {
			return cpu.npFault(selector&0xfffc, "data segment is not present")
		}
		if !d.conforming() && d.dpl < incomingCPL {
			return cpu.tsFault(selector&0xfffc, "data segment DPL < CPL and not conforming code")
		}
		return nil
	}

	for _, seg := range []int{SegDS, SegES, SegFS, SegGS} {
		if fault := validateDataSegment(seg); fault != nil {
			return fault
		}
	}

	// Reload through the validating path so the caches fill in.
	if fault := cpu.setLDT(in.ldt()); fault != nil {
		return fault
	}
	for _, seg := range []int{SegCS, SegES, SegDS, SegFS, SegGS, SegSS} {
		if fault := cpu.writeSegmentRegister(seg, cpu.sreg[seg]); fault != nil {
			return fault
		}
	}

	if cpu.eip > cpu.cache[SegCS].effLimit {
		return cpu.gpFault(0, "task switch to EIP outside CS limit")
	}
	return nil
}
