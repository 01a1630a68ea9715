/*
   System instructions: descriptor tables, control registers, CPUID.

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
	"log/slog"

	"github.com/rcornwell/PC386/util/logger"
)

// SGDT and SIDT store the limit then the base; a 16-bit operand masks the
// stored base to 24 bits, matching the 286/386 convention.
func (cpu *CPU) doSGDTorSIDT(i *Instruction, table *dtr) *Fault {
	if i.modrm.isRegister() {
		return cpu.udFault("SGDT/SIDT with register destination")
	}
	if fault := cpu.snoop(i.modrm.seg, i.modrm.offset, accessWrite); fault != nil {
		return fault
	}
	if fault := cpu.snoop(i.modrm.seg, i.modrm.offset+5, accessWrite); fault != nil {
		return fault
	}
	maskedBase := table.base
	if !i.o32 {
		maskedBase &= 0x00ffffff
	}
	if fault := cpu.writeMem16(i.modrm.seg, i.modrm.offset, table.limit); fault != nil {
		return fault
	}
	return cpu.writeMem32(i.modrm.seg, i.modrm.offset+2, maskedBase)
}

func opSGDT(cpu *CPU, i *Instruction) *Fault {
	return cpu.doSGDTorSIDT(i, &cpu.gdtr)
}

func opSIDT(cpu *CPU, i *Instruction) *Fault {
	return cpu.doSGDTorSIDT(i, &cpu.idtr)
}

func (cpu *CPU) doLGDTorLIDT(i *Instruction, table *dtr, name string) *Fault {
	if i.modrm.isRegister() {
		return cpu.udFault(name + " with register source")
	}
	if cpu.pe() && cpu.cpl() != 0 {
		return cpu.gpFault(0, name+" with CPL != 0")
	}
	limit, fault := cpu.readMem16(i.modrm.seg, i.modrm.offset)
	if fault != nil {
		return fault
	}
	base, fault := cpu.readMem32(i.modrm.seg, i.modrm.offset+2)
	if fault != nil {
		return fault
	}
	if !i.o32 {
		base &= 0x00ffffff
	}
	table.base = base
	table.limit = limit
	return nil
}

func opLGDT(cpu *CPU, i *Instruction) *Fault {
	return cpu.doLGDTorLIDT(i, &cpu.gdtr, "LGDT")
}

func opLIDT(cpu *CPU, i *Instruction) *Fault {
	return cpu.doLGDTorLIDT(i, &cpu.idtr, "LIDT")
}

func opSLDT(cpu *CPU, i *Instruction) *Fault {
	if !cpu.pe() || cpu.vm {
		return cpu.udFault("SLDT not recognized in real/VM86 mode")
	}
	return cpu.modWriteSpecial(&i.modrm, uint32(cpu.ldtr.selector), i.o32)
}

func opLLDT(cpu *CPU, i *Instruction) *Fault {
	if !cpu.pe() || cpu.vm {
		return cpu.udFault("LLDT not recognized in real/VM86 mode")
	}
	if cpu.cpl() != 0 {
		return cpu.gpFault(0, "LLDT with CPL != 0")
	}
	selector, fault := modRead[uint16](cpu, &i.modrm)
	if fault != nil {
		return fault
	}
	return cpu.setLDT(selector)
}

func opSTR(cpu *CPU, i *Instruction) *Fault {
	if !cpu.pe() || cpu.vm {
		return cpu.udFault("STR not recognized in real/VM86 mode")
	}
	return cpu.modWriteSpecial(&i.modrm, uint32(cpu.tr.selector), i.o32)
}

func opLTR(cpu *CPU, i *Instruction) *Fault {
	if !cpu.pe() || cpu.vm {
		return cpu.udFault("LTR not recognized in real/VM86 mode")
	}
	if cpu.cpl() != 0 {
		return cpu.gpFault(0, "LTR with CPL != 0")
	}
	selector, fault := modRead[uint16](cpu, &i.modrm)
	if fault != nil {
		return fault
	}
	desc := cpu.getDescriptor(selector)

	if desc.isNull() {
		return cpu.gpFault(0, "LTR with null selector")
	}
	if !desc.global {
		return cpu.gpFault(selector&0xfffc, "LTR selector must reference the GDT")
	}
	if !desc.isTSS() {
		return cpu.gpFault(selector&0xfffc, "LTR with non-TSS descriptor")
	}
	if desc.tssBusy() {
		return cpu.gpFault(selector&0xfffc, "LTR with busy TSS")
	}
	if !desc.present {
		return cpu.npFault(selector&0xfffc, "LTR with non-present TSS")
	}

	desc.setTSSBusy()
	cpu.writeToGDT(&desc)

	cpu.tr.selector = selector
	cpu.tr.base = desc.base
	cpu.tr.limit = desc.limit
	cpu.tr.is32 = desc.tss32()
	return nil
}

func opLAR16(cpu *CPU, i *Instruction) *Fault {
	return doLAR[uint16](cpu, i)
}

func opLAR32(cpu *CPU, i *Instruction) *Fault {
	return doLAR[uint32](cpu, i)
}

func doLAR[T word](cpu *CPU, i *Instruction) *Fault {
	if !cpu.pe() || cpu.vm {
		return cpu.udFault("LAR not recognized in real/VM86 mode")
	}
	raw, fault := modRead[T](cpu, &i.modrm)
	if fault != nil {
		return fault
	}
	selector := uint16(raw)
	selectorRPL := uint8(selector & 3)
	desc := cpu.getDescriptor(selector)
	if desc.isNull() || desc.outsideTableLimits() || desc.dpl < cpu.cpl() || desc.dpl < selectorRPL {
		cpu.setZF(false)
		return nil
	}
	var mask uint32 = 0x00ffff00
	if bitCount[T]() == 16 {
		mask = 0xff00
	}
	setReg(cpu, i.regIndex, T(desc.high&mask))
	cpu.setZF(true)
	return nil
}

func lslValid(d *descriptor) bool {
	if d.isNull() || d.outsideTableLimits() || d.isSegment() {
		return true
	}
	switch d.typ {
	case sysTSS16Avail, sysLDT, sysTSS16Busy, sysTSS32Avail, sysTSS32Busy:
		return true
	}
	return false
}

func doLSL[T word](cpu *CPU, i *Instruction) *Fault {
	if !cpu.pe() || cpu.vm {
		return cpu.udFault("LSL not recognized in real/VM86 mode")
	}
	raw, fault := modRead[uint16](cpu, &i.modrm)
	if fault != nil {
		return fault
	}
	desc := cpu.getDescriptor(raw)
	if !lslValid(&desc) || desc.outsideTableLimits() || desc.isNull() {
		cpu.setZF(false)
		return nil
	}
	setReg(cpu, i.regIndex, T(desc.effLimit))
	cpu.setZF(true)
	return nil
}

func opLSL16(cpu *CPU, i *Instruction) *Fault {
	return doLSL[uint16](cpu, i)
}

func opLSL32(cpu *CPU, i *Instruction) *Fault {
	return doLSL[uint32](cpu, i)
}

func opVERR(cpu *CPU, i *Instruction) *Fault {
	if !cpu.pe() || cpu.vm {
		return cpu.udFault("VERR not recognized in real/VM86 mode")
	}
	selector, fault := modRead[uint16](cpu, &i.modrm)
	if fault != nil {
		return fault
	}
	rpl := uint8(selector & 3)
	desc := cpu.getDescriptor(selector)
	if desc.isNull() || desc.outsideTableLimits() || desc.isSystem() || !desc.readable() ||
		(!desc.conforming() && (desc.dpl < cpu.cpl() || desc.dpl < rpl)) {
		cpu.setZF(false)
		return nil
	}
	cpu.setZF(true)
	return nil
}

func opVERW(cpu *CPU, i *Instruction) *Fault {
	if !cpu.pe() || cpu.vm {
		return cpu.udFault("VERW not recognized in real/VM86 mode")
	}
	selector, fault := modRead[uint16](cpu, &i.modrm)
	if fault != nil {
		return fault
	}
	rpl := uint8(selector & 3)
	desc := cpu.getDescriptor(selector)
	if desc.isNull() || desc.outsideTableLimits() || desc.isSystem() ||
		desc.dpl < cpu.cpl() || desc.dpl < rpl || !desc.writable() {
		cpu.setZF(false)
		return nil
	}
	cpu.setZF(true)
	return nil
}

func opARPL(cpu *CPU, i *Instruction) *Fault {
	if !cpu.pe() || cpu.vm {
		return cpu.udFault("ARPL not recognized in real/VM86 mode")
	}
	dest, fault := modRead[uint16](cpu, &i.modrm)
	if fault != nil {
		return fault
	}
	src := cpu.readReg16(i.regIndex)
	if dest&3 < src&3 {
		cpu.setZF(true)
		return modWrite(cpu, &i.modrm, dest&^3|src&3)
	}
	cpu.setZF(false)
	return nil
}

func opCLTS(cpu *CPU, _ *Instruction) *Fault {
	if cpu.pe() && cpu.cpl() != 0 {
		return cpu.gpFault(0, "CLTS with CPL != 0")
	}
	cpu.cr0 &^= cr0TS
	return nil
}

func opLMSW(cpu *CPU, i *Instruction) *Fault {
	if cpu.pe() && cpu.cpl() != 0 {
		return cpu.gpFault(0, "LMSW with CPL != 0")
	}
	msw, fault := modRead[uint16](cpu, &i.modrm)
	if fault != nil {
		return fault
	}
	// LMSW cannot leave protected mode once entered.
	if cpu.pe() {
		msw |= uint16(cr0PE)
	}
	cpu.cr0 = cpu.cr0&0xfffffff0 | uint32(msw&0x0f)
	return nil
}

func opSMSW(cpu *CPU, i *Instruction) *Fault {
	return cpu.modWriteSpecial(&i.modrm, cpu.cr0, i.o32)
}

func validControlRegisterIndex(index int) bool {
	return index == 0 || index == 2 || index == 3 || index == 4
}

func opMOVRegCR(cpu *CPU, i *Instruction) *Fault {
	if !validControlRegisterIndex(i.regIndex) {
		return cpu.udFault("MOV reg, CRx with invalid control register")
	}
	if cpu.vm {
		return cpu.gpFault(0, "MOV reg, CRx with VM=1")
	}
	if cpu.pe() && cpu.cpl() != 0 {
		return cpu.gpFault(0, "MOV reg, CRx with CPL != 0")
	}
	var value uint32
	switch i.regIndex {
	case 0:
		value = cpu.cr0
	case 2:
		value = cpu.cr2
	case 3:
		value = cpu.cr3
	case 4:
		value = cpu.cr4
	}
	setReg(cpu, i.modrm.regIndex, value)
	return nil
}

func opMOVCRReg(cpu *CPU, i *Instruction) *Fault {
	if !validControlRegisterIndex(i.regIndex) {
		return cpu.udFault("MOV CRx, reg with invalid control register")
	}
	if cpu.vm {
		return cpu.gpFault(0, "MOV CRx, reg with VM=1")
	}
	if cpu.pe() && cpu.cpl() != 0 {
		return cpu.gpFault(0, "MOV CRx, reg with CPL != 0")
	}
	value := cpu.readReg32(i.modrm.regIndex)
	switch i.regIndex {
	case 0:
		cpu.cr0 = value
		if !cpu.pe() {
			// Dropping PE lands back in real mode with ring 0 shadows.
			cpu.setCPL(0)
		}
		cpu.updateDefaultSizes()
	case 2:
		cpu.cr2 = value
	case 3:
		cpu.cr3 = value
	case 4:
		cpu.cr4 = value
	}
	return nil
}

func opMOVRegDR(cpu *CPU, i *Instruction) *Fault {
	if cpu.pe() && cpu.cpl() != 0 {
		return cpu.gpFault(0, "MOV reg, DRx with CPL != 0")
	}
	setReg(cpu, i.modrm.regIndex, cpu.dr[i.regIndex])
	return nil
}

func opMOVDRReg(cpu *CPU, i *Instruction) *Fault {
	if cpu.pe() && cpu.cpl() != 0 {
		return cpu.gpFault(0, "MOV DRx, reg with CPL != 0")
	}
	cpu.dr[i.regIndex] = cpu.readReg32(i.modrm.regIndex)
	return nil
}

// CPUID returns a fixed vendor and feature pair: family 3, model 1, with
// RDTSC and CMOV advertised.
func opCPUID(cpu *CPU, _ *Instruction) *Fault {
	switch cpu.readReg32(regAX) {
	case 0:
		cpu.writeReg32(regAX, 1)
		cpu.writeReg32(regBX, 0x756e6547)
		cpu.writeReg32(regDX, 0x49656e69)
		cpu.writeReg32(regCX, 0x3638336c)
	case 1:
		cpu.writeReg32(regAX, 0x00000310)
		cpu.writeReg32(regBX, 0)
		cpu.writeReg32(regDX, 1<<4|1<<15)
		cpu.writeReg32(regCX, 0)
	default:
		cpu.writeReg32(regAX, 0)
		cpu.writeReg32(regBX, 0)
		cpu.writeReg32(regCX, 0)
		cpu.writeReg32(regDX, 0)
	}
	return nil
}

// RDTSC returns the opcode retirement counter.
func opRDTSC(cpu *CPU, _ *Instruction) *Fault {
	if cpu.cr4&cr4TSD != 0 && cpu.pe() && cpu.cpl() != 0 {
		return cpu.gpFault(0, "RDTSC with CR4.TSD and CPL != 0")
	}
	cpu.writeReg32(regDX, uint32(cpu.cycle>>32))
	cpu.writeReg32(regAX, uint32(cpu.cycle))
	return nil
}

func opWBINVD(cpu *CPU, _ *Instruction) *Fault {
	if cpu.pe() && cpu.cpl() != 0 {
		return cpu.gpFault(0, "WBINVD with CPL != 0")
	}
	return nil
}

func opINVLPG(cpu *CPU, _ *Instruction) *Fault {
	if cpu.pe() && cpu.cpl() != 0 {
		return cpu.gpFault(0, "INVLPG with CPL != 0")
	}
	return nil
}

func opHLT(cpu *CPU, _ *Instruction) *Fault {
	if cpu.pe() && cpu.cpl() != 0 {
		return cpu.gpFault(0, "HLT with CPL != 0")
	}
	cpu.state = stateHalted
	if !cpu.iflag {
		slog.Warn("halted with IF=0", logger.Tag("cpu"))
	}
	cpu.haltedLoop()
	return nil
}

// VKILL cleanly terminates the emulator, autotest runs only.
func opVKILL(cpu *CPU, _ *Instruction) *Fault {
	if !cpu.opts.Autotest {
		return cpu.udFault("VKILL (0xf1) is an invalid opcode outside autotest mode")
	}
	slog.Info("autotest shutdown opcode received", logger.Tag("cpu"))
	cpu.state = stateShutdown
	if cpu.exitCode != nil {
		cpu.exitCode(0)
	}
	return nil
}

func opUD0(cpu *CPU, _ *Instruction) *Fault {
	return cpu.udFault("UD0")
}

func opUD1(cpu *CPU, _ *Instruction) *Fault {
	return cpu.udFault("UD1")
}

func opUD2(cpu *CPU, _ *Instruction) *Fault {
	return cpu.udFault("UD2")
}
