/*
   Interrupt and exception delivery, IRET.

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

// errorCode < 0 means the vector carries no error code.
const noErrorCode = int32(-1)

func (cpu *CPU) interrupt(vector uint8, source int, errorCode int32) *Fault {
	if cpu.pe() {
		return cpu.protectedModeInterrupt(vector, source, errorCode)
	}
	return cpu.realModeInterrupt(vector)
}

func (cpu *CPU) realModeInterruptVector(vector uint8) logicalAddr {
	offset := cpu.mem.Read16(uint32(vector) * 4)
	selector := cpu.mem.Read16(uint32(vector)*4 + 2)
	return logicalAddr{selector: selector, offset: uint32(offset)}
}

func (cpu *CPU) realModeInterrupt(vector uint8) *Fault {
	originalCS := cpu.sreg[SegCS]
	originalIP := uint16(cpu.eip)
	flags := cpu.getFlags()
	target := cpu.realModeInterruptVector(vector)

	if fault := cpu.writeSegmentRegister(SegCS, target.selector); fault != nil {
		return fault
	}
	cpu.eip = target.offset

	if fault := cpu.push16(flags); fault != nil {
		return fault
	}
	if fault := cpu.push16(originalCS); fault != nil {
		return fault
	}
	if fault := cpu.push16(originalIP); fault != nil {
		return fault
	}

	cpu.iflag = false
	cpu.tf = false
	return nil
}

func (cpu *CPU) protectedModeInterrupt(vector uint8, source int, errorCode int32) *Fault {
	if source == sourceInternal && cpu.vm && cpu.iopl != 3 {
		return cpu.gpFault(0, "software INT in VM86 mode with IOPL != 3")
	}

	idtEntry, fault := cpu.getInterruptDescriptor(vector, source)
	if fault != nil {
		return fault
	}
	if !idtEntry.isTaskGate() && !idtEntry.isTrapGate() && !idtEntry.isIntGate() {
		return cpu.gpFault(makeErrorCode(uint16(vector), true, source), "interrupt to invalid gate type")
	}
	gate := idtEntry

	if source == sourceInternal && gate.dpl < cpu.cpl() {
		return cpu.gpFault(makeErrorCode(uint16(vector), true, source),
			"software interrupt through gate with DPL < CPL")
	}
	if !gate.present {
		return cpu.npFault(makeErrorCode(uint16(vector), true, source), "interrupt gate not present")
	}

	if gate.isTaskGate() {
		return cpu.interruptToTaskGate(source, errorCode, &gate)
	}

	desc := cpu.getDescriptor(gate.gateSelector())

	if desc.isNull() {
		return cpu.gpFault(uint16(source), "interrupt gate to null descriptor")
	}
	if desc.outsideTableLimits() {
		return cpu.gpFault(makeErrorCode(gate.gateSelector(), false, source),
			"interrupt gate to descriptor outside table limit")
	}
	if !desc.isCode() {
		return cpu.gpFault(makeErrorCode(gate.gateSelector(), false, source),
			"interrupt gate to non-code segment")
	}
	if desc.dpl > cpu.cpl() {
		return cpu.gpFault(makeErrorCode(gate.gateSelector(), false, source),
			"interrupt gate to segment with DPL > CPL")
	}
	if !desc.present {
		return cpu.npFault(makeErrorCode(gate.gateSelector(), false, source),
			"interrupt to non-present segment")
	}

	offset := gate.gateOffset()
	flags := cpu.getEFlags()

	originalCPL := cpu.cpl()
	originalCS := cpu.sreg[SegCS]
	originalEIP := cpu.eip

	if !gate.gate32() || !desc.code32() {
		offset &= 0xffff
	}

	if offset > desc.effLimit {
		return cpu.gpFault(0, "interrupt entry offset outside segment limit")
	}

	if cpu.vm {
		return cpu.interruptFromVM86Mode(&gate, offset, &desc, source, errorCode)
	}

	if !desc.conforming() && desc.dpl < originalCPL {
		// Inner ring: fetch the ring stack from the TSS and validate
		// before any state changes.
		originalSS := cpu.sreg[SegSS]
		originalESP := cpu.gpr[regSP]
		currentTSS := cpu.currentTSS()

		newSS := currentTSS.ringSS(desc.dpl)
		newESP := currentTSS.ringESP(desc.dpl)
		newSSDescriptor := cpu.getDescriptor(newSS)

		if newSSDescriptor.isNull() {
			return cpu.tsFault(uint16(source), "new ss is null")
		}
		if newSSDescriptor.outsideTableLimits() {
			return cpu.tsFault(makeErrorCode(newSS, false, source), "new ss outside table limits")
		}
		if newSSDescriptor.dpl != desc.dpl {
			return cpu.tsFault(makeErrorCode(newSS, false, source), "new ss DPL != code segment DPL")
		}
		if !newSSDescriptor.isData() || !newSSDescriptor.writable() {
			return cpu.tsFault(makeErrorCode(newSS, false, source), "new ss not a writable data segment")
		}
		if !newSSDescriptor.present {
			return cpu.ssFault(makeErrorCode(newSS, false, source), "new ss not present")
		}

		cpu.setCPL(desc.dpl)
		if fault := cpu.writeSegmentRegister(SegSS, newSS); fault != nil {
			return fault
		}
		cpu.gpr[regSP] = newESP

		if fault := cpu.pushValueWithSize(uint32(originalSS), gate.gateSize()); fault != nil {
			return fault
		}
		if fault := cpu.pushValueWithSize(originalESP, gate.gateSize()); fault != nil {
			return fault
		}
	} else if desc.conforming() || desc.dpl == originalCPL {
		cpu.setCPL(originalCPL)
	} else {
		return cpu.gpFault(makeErrorCode(gate.gateSelector(), false, source),
			"interrupt to non-conforming code segment with DPL > CPL")
	}

	if fault := cpu.pushValueWithSize(flags, gate.gateSize()); fault != nil {
		return fault
	}
	if fault := cpu.pushValueWithSize(uint32(originalCS), gate.gateSize()); fault != nil {
		return fault
	}
	if fault := cpu.pushValueWithSize(originalEIP, gate.gateSize()); fault != nil {
		return fault
	}
	if errorCode >= 0 {
		if fault := cpu.pushValueWithSize(uint32(uint16(errorCode)), gate.gateSize()); fault != nil {
			return fault
		}
	}

	if gate.isIntGate() {
		cpu.iflag = false
	}
	cpu.tf = false
	cpu.rf = false
	cpu.nt = false
	cpu.vm = false
	if fault := cpu.writeSegmentRegister(SegCS, gate.gateSelector()); fault != nil {
		return fault
	}
	cpu.eip = offset
	return nil
}

func (cpu *CPU) interruptToTaskGate(source int, errorCode int32, gate *descriptor) *Fault {
	desc := cpu.getDescriptor(gate.gateSelector())
	if !desc.global {
		return cpu.gpFault(makeErrorCode(gate.gateSelector(), false, source),
			"interrupt task gate referencing local descriptor")
	}
	if !desc.isTSS() {
		return cpu.gpFault(makeErrorCode(gate.gateSelector(), false, source),
			"interrupt task gate referencing non-TSS descriptor")
	}
	if desc.tssBusy() {
		return cpu.gpFault(makeErrorCode(gate.gateSelector(), false, source),
			"interrupt task gate referencing busy TSS descriptor")
	}
	if !desc.present {
		return cpu.gpFault(makeErrorCode(gate.gateSelector(), false, source),
			"interrupt task gate referencing non-present TSS descriptor")
	}
	if fault := cpu.taskSwitch(gate.gateSelector(), &desc, jumpINT); fault != nil {
		return fault
	}
	if errorCode >= 0 {
		if desc.tss32() {
			return cpu.push32(uint32(uint16(errorCode)))
		}
		return cpu.push16(uint16(errorCode))
	}
	return nil
}

func (cpu *CPU) interruptFromVM86Mode(gate *descriptor, offset uint32, codeDescriptor *descriptor, source int, errorCode int32) *Fault {
	originalFlags := cpu.getEFlags()
	originalSS := cpu.sreg[SegSS]
	originalESP := cpu.gpr[regSP]
	originalCS := cpu.sreg[SegCS]
	originalEIP := cpu.eip

	if codeDescriptor.dpl != 0 {
		return cpu.gpFault(makeErrorCode(gate.gateSelector(), false, source),
			"interrupt from VM86 mode to descriptor with DPL != 0")
	}

	currentTSS := cpu.currentTSS()
	newSS := currentTSS.ss0()
	newESP := currentTSS.esp0()
	newSSDescriptor := cpu.getDescriptor(newSS)

	if newSSDescriptor.isNull() {
		return cpu.tsFault(uint16(source), "new ss is null")
	}
	if newSSDescriptor.outsideTableLimits() {
		return cpu.tsFault(makeErrorCode(newSS, false, source), "new ss outside table limits")
	}
	if newSS&3 != 0 {
		return cpu.tsFault(makeErrorCode(newSS, false, source), "new ss RPL != 0")
	}
	if newSSDescriptor.dpl != 0 {
		return cpu.tsFault(makeErrorCode(newSS, false, source), "new ss DPL != 0")
	}
	if !newSSDescriptor.isData() || !newSSDescriptor.writable() {
		return cpu.tsFault(makeErrorCode(newSS, false, source), "new ss not a writable data segment")
	}
	if !newSSDescriptor.present {
		return cpu.ssFault(makeErrorCode(newSS, false, source), "new ss not present")
	}

	originalGS := cpu.sreg[SegGS]
	originalFS := cpu.sreg[SegFS]
	originalDS := cpu.sreg[SegDS]
	originalES := cpu.sreg[SegES]

	cpu.setCPL(0)
	cpu.vm = false
	cpu.tf = false
	cpu.rf = false
	cpu.nt = false
	if gate.isIntGate() {
		cpu.iflag = false
	}
	if fault := cpu.writeSegmentRegister(SegSS, newSS); fault != nil {
		return fault
	}
	cpu.gpr[regSP] = newESP

	size := gate.gateSize()
	for _, value := range []uint32{
		uint32(originalGS), uint32(originalFS), uint32(originalDS), uint32(originalES),
		uint32(originalSS), originalESP,
		originalFlags, uint32(originalCS), originalEIP,
	} {
		if fault := cpu.pushValueWithSize(value, size); fault != nil {
			return fault
		}
	}
	if errorCode >= 0 {
		if fault := cpu.pushValueWithSize(uint32(uint16(errorCode)), size); fault != nil {
			return fault
		}
	}

	for _, seg := range []int{SegGS, SegFS, SegDS, SegES} {
		if fault := cpu.writeSegmentRegister(seg, 0); fault != nil {
			return fault
		}
	}
	if fault := cpu.writeSegmentRegister(SegCS, gate.gateSelector()); fault != nil {
		return fault
	}
	cpu.setCPL(0)
	cpu.eip = offset
	return nil
}

// raiseException rewinds EIP to the faulting instruction and delivers the
// fault as an interrupt. A second fault raised while delivering re-enters
// here, which is the cascaded fault behavior short of double fault
// escalation.
func (cpu *CPU) raiseException(f *Fault) {
	if cpu.opts.CrashOnException {
		cpu.dumpAll()
		panic("crash on exception: " + f.Error())
	}

	cpu.eip = cpu.baseEIP
	var code int32 = noErrorCode
	if f.HasCode {
		code = int32(f.Code)
	}
	if inner := cpu.interrupt(f.Vector, sourceExternal, code); inner != nil {
		cpu.raiseException(inner)
	}
}

// IRET and the INT instructions.

func opINTImm8(cpu *CPU, i *Instruction) *Fault {
	return cpu.interrupt(i.imm8(), sourceInternal, noErrorCode)
}

func opINT3(cpu *CPU, _ *Instruction) *Fault {
	return cpu.interrupt(excBP, sourceInternal, noErrorCode)
}

func opINTO(cpu *CPU, _ *Instruction) *Fault {
	if cpu.of {
		return cpu.interrupt(excOF, sourceInternal, noErrorCode)
	}
	return nil
}

func opIRET(cpu *CPU, _ *Instruction) *Fault {
	if !cpu.pe() {
		return cpu.iretFromRealMode()
	}
	if cpu.vm {
		return cpu.iretFromVM86Mode()
	}

	originalCPL := cpu.cpl()

	if cpu.nt {
		backlink := cpu.currentTSS().backlink()
		target := cpu.getDescriptor(backlink)
		if !target.isTSS() {
			return cpu.tsFault(backlink&0xfffc, "task return to non-TSS backlink")
		}
		return cpu.taskSwitch(backlink, &target, jumpIRET)
	}

	p := newPopper(cpu)

	offset, fault := p.popOperandSized()
	if fault != nil {
		return fault
	}
	selector, fault := p.popOperandSized()
	if fault != nil {
		return fault
	}
	flags, fault := p.popOperandSized()
	if fault != nil {
		return fault
	}

	if flags&flagVM != 0 {
		if cpu.cpl() == 0 {
			return cpu.iretToVM86Mode(&p, logicalAddr{selector: uint16(selector), offset: offset}, flags)
		}
		return cpu.gpFault(0, "IRET to VM86 with CPL != 0")
	}

	if fault := cpu.protectedIRET(&p, logicalAddr{selector: uint16(selector), offset: offset}); fault != nil {
		return fault
	}
	cpu.setEFlagsRespectfully(flags, uint8(originalCPL))
	return nil
}

func (cpu *CPU) iretFromRealMode() *Fault {
	offset, fault := cpu.popOperandSized()
	if fault != nil {
		return fault
	}
	selector, fault := cpu.popOperandSized()
	if fault != nil {
		return fault
	}
	flags, fault := cpu.popOperandSized()
	if fault != nil {
		return fault
	}

	if fault := cpu.writeSegmentRegister(SegCS, uint16(selector)); fault != nil {
		return fault
	}
	cpu.eip = offset
	cpu.setEFlagsRespectfully(flags, 0)
	return nil
}

func (cpu *CPU) iretFromVM86Mode() *Fault {
	if cpu.iopl != 3 {
		return cpu.gpFault(0, "IRET in VM86 mode with IOPL != 3")
	}

	originalCPL := cpu.cpl()

	p := newPopper(cpu)
	offset, fault := p.popOperandSized()
	if fault != nil {
		return fault
	}
	selector, fault := p.popOperandSized()
	if fault != nil {
		return fault
	}
	flags, fault := p.popOperandSized()
	if fault != nil {
		return fault
	}

	if offset&0xffff0000 != 0 {
		return cpu.gpFault(0, "IRET in VM86 mode to EIP > 0xffff")
	}

	if fault := cpu.writeSegmentRegister(SegCS, uint16(selector)); fault != nil {
		return fault
	}
	cpu.eip = offset
	cpu.setEFlagsRespectfully(flags, originalCPL)
	p.commit()
	return nil
}

func (cpu *CPU) protectedIRET(p *popper, address logicalAddr) *Fault {
	selector := address.selector
	offset := address.offset
	originalCPL := cpu.cpl()
	selectorRPL := uint8(selector & 3)

	desc := cpu.getDescriptor(selector)

	if desc.isNull() {
		return cpu.gpFault(0, "IRET to null selector")
	}
	if desc.outsideTableLimits() {
		return cpu.gpFault(selector&0xfffc, "IRET to selector outside table limit")
	}
	if !desc.isCode() {
		return cpu.gpFault(selector&0xfffc, "IRET to non-code segment")
	}
	if selectorRPL < cpu.cpl() {
		return cpu.gpFault(selector&0xfffc, "IRET with RPL < CPL")
	}
	if desc.conforming() && desc.dpl > selectorRPL {
		return cpu.gpFault(selector&0xfffc, "IRET to conforming code segment with DPL > RPL")
	}
	if !desc.conforming() && desc.dpl != selectorRPL {
		return cpu.gpFault(selector&0xfffc, "IRET to non-conforming code segment with DPL != RPL")
	}
	if !desc.present {
		return cpu.npFault(selector&0xfffc, "code segment not present")
	}

	if !desc.code32() {
		offset &= 0xffff
	}
	if offset > desc.effLimit {
		return cpu.gpFault(0, "offset outside segment limit")
	}

	var newSS uint16
	var newESP uint32
	if selectorRPL > originalCPL {
		esp, fault := p.popOperandSized()
		if fault != nil {
			return fault
		}
		ss, fault := p.popOperandSized()
		if fault != nil {
			return fault
		}
		newESP = esp
		newSS = uint16(ss)
	}

	if fault := cpu.writeSegmentRegister(SegCS, selector); fault != nil {
		return fault
	}
	cpu.eip = offset

	if selectorRPL > originalCPL {
		if fault := cpu.writeSegmentRegister(SegSS, newSS); fault != nil {
			return fault
		}
		cpu.gpr[regSP] = newESP

		cpu.clearSegmentRegisterAfterReturnIfNeeded(SegES)
		cpu.clearSegmentRegisterAfterReturnIfNeeded(SegFS)
		cpu.clearSegmentRegisterAfterReturnIfNeeded(SegGS)
		cpu.clearSegmentRegisterAfterReturnIfNeeded(SegDS)
	} else {
		p.commit()
	}
	return nil
}

func (cpu *CPU) iretToVM86Mode(p *popper, entry logicalAddr, flags uint32) *Fault {
	if entry.offset&0xffff0000 != 0 {
		return cpu.gpFault(0, "IRET to VM86 with offset > 0xffff")
	}

	cpu.setEFlags(flags)

	newESP, fault := p.pop32()
	if fault != nil {
		return fault
	}
	newSS, fault := p.pop32()
	if fault != nil {
		return fault
	}
	es, fault := p.pop32()
	if fault != nil {
		return fault
	}
	ds, fault := p.pop32()
	if fault != nil {
		return fault
	}
	fs, fault := p.pop32()
	if fault != nil {
		return fault
	}
	gs, fault := p.pop32()
	if fault != nil {
		return fault
	}

	if fault := cpu.writeSegmentRegister(SegCS, entry.selector); fault != nil {
		return fault
	}
	cpu.eip = entry.offset
	for seg, value := range map[int]uint32{SegES: es, SegDS: ds, SegFS: fs, SegGS: gs} {
		if fault := cpu.writeSegmentRegister(seg, uint16(value)); fault != nil {
			return fault
		}
	}
	cpu.setCPL(3)
	if fault := cpu.writeSegmentRegister(SegSS, uint16(newSS)); fault != nil {
		return fault
	}
	cpu.gpr[regSP] = newESP
	return nil
}
