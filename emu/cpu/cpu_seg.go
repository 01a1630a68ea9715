/*
   Far control transfers: jumps, calls and returns through code segments,
   call gates, task gates and TSS descriptors.

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

func jumpTypeName(jumpType int) string {
	switch jumpType {
	case jumpCALL:
		return "CALL"
	case jumpJMP:
		return "JMP"
	case jumpIRET:
		return "IRET"
	case jumpRETF:
		return "RETF"
	case jumpINT:
		return "INT"
	}
	return "internal jump"
}

func (cpu *CPU) farJump(address logicalAddr, jumpType int, gate *descriptor) *Fault {
	if !cpu.pe() || cpu.vm {
		return cpu.realModeFarJump(address, jumpType)
	}
	return cpu.protectedModeFarJump(address, jumpType, gate)
}

func (cpu *CPU) realModeFarJump(address logicalAddr, jumpType int) *Fault {
	originalCS := cpu.sreg[SegCS]
	originalEIP := cpu.eip

	if fault := cpu.writeSegmentRegister(SegCS, address.selector); fault != nil {
		return fault
	}
	cpu.eip = address.offset

	if jumpType == jumpCALL {
		if fault := cpu.pushOperandSized(uint32(originalCS)); fault != nil {
			return fault
		}
		if fault := cpu.pushOperandSized(originalEIP); fault != nil {
			return fault
		}
	}
	return nil
}

func (cpu *CPU) protectedModeFarJump(address logicalAddr, jumpType int, gate *descriptor) *Fault {
	selector := address.selector
	offset := address.offset
	selectorRPL := uint8(selector & 3)

	pushSize := 2
	if cpu.effO32 {
		pushSize = 4
	}
	if gate != nil {
		pushSize = gate.gateSize()
	}

	originalCPL := cpu.cpl()
	originalCS := cpu.sreg[SegCS]
	originalEIP := cpu.eip

	desc := cpu.getDescriptor(selector)

	if desc.isNull() {
		return cpu.gpFault(0, jumpTypeName(jumpType)+" to null selector")
	}
	if desc.outsideTableLimits() {
		return cpu.gpFault(selector&0xfffc, jumpTypeName(jumpType)+" to selector outside table limit")
	}
	if !desc.isCode() && !desc.isCallGate() && !desc.isTaskGate() && !desc.isTSS() {
		return cpu.gpFault(selector&0xfffc, jumpTypeName(jumpType)+" to invalid descriptor type")
	}
	if desc.isGate() && gate != nil {
		return cpu.gpFault(selector&0xfffc, "gate-to-gate transfers are not allowed")
	}

	if desc.isTaskGate() {
		target := cpu.getDescriptor(desc.gateSelector())
		if !target.isTSS() {
			return cpu.gpFault(desc.gateSelector()&0xfffc, "task gate does not reference a TSS")
		}
		if !target.present {
			return cpu.npFault(desc.gateSelector()&0xfffc, "task gate to non-present TSS")
		}
		return cpu.taskSwitch(desc.gateSelector(), &target, jumpType)
	}

	if desc.isCallGate() {
		if desc.gateParamCount() != 0 {
			return cpu.gpFault(selector&0xfffc, "call gate parameter copying is not implemented")
		}
		if desc.dpl < cpu.cpl() {
			return cpu.gpFault(selector&0xfffc, jumpTypeName(jumpType)+" to gate with DPL < CPL")
		}
		if selectorRPL > desc.dpl {
			return cpu.gpFault(selector&0xfffc, jumpTypeName(jumpType)+" to gate with RPL > DPL")
		}
		if !desc.present {
			return cpu.npFault(selector&0xfffc, "gate not present")
		}
		return cpu.farJump(desc.gateEntry(), jumpType, &desc)
	}

	if desc.isTSS() {
		if desc.dpl < cpu.cpl() {
			return cpu.gpFault(selector&0xfffc, jumpTypeName(jumpType)+" to TSS descriptor with DPL < CPL")
		}
		if desc.dpl < selectorRPL {
			return cpu.gpFault(selector&0xfffc, jumpTypeName(jumpType)+" to TSS descriptor with DPL < RPL")
		}
		if !desc.present {
			return cpu.npFault(selector&0xfffc, "TSS not present")
		}
		return cpu.taskSwitch(selector, &desc, jumpType)
	}

	// A plain code segment.
	if (jumpType == jumpCALL || jumpType == jumpJMP) && gate == nil {
		if desc.conforming() {
			if desc.dpl > cpu.cpl() {
				return cpu.gpFault(selector&0xfffc, "conforming code segment DPL > CPL")
			}
		} else {
			if selectorRPL > desc.dpl {
				return cpu.gpFault(selector&0xfffc, "code segment RPL > DPL")
			}
			if desc.dpl != cpu.cpl() {
				return cpu.gpFault(selector&0xfffc, "non-conforming code segment DPL != CPL")
			}
		}
	}

	if gate != nil && !gate.gate32() {
		offset &= 0xffff
	}
	// A 32-bit jump into a 16-bit segment may carry junk in the high
	// offset bits; mask before the limit check.
	if !desc.code32() {
		offset &= 0xffff
	}

	if !desc.present {
		return cpu.npFault(selector&0xfffc, "code segment not present")
	}

	if offset > desc.effLimit {
		return cpu.gpFault(0, "offset outside segment limit")
	}

	if fault := cpu.writeSegmentRegister(SegCS, selector); fault != nil {
		return fault
	}
	cpu.eip = offset

	if jumpType == jumpCALL && gate != nil {
		if desc.dpl < originalCPL {
			// Escalation: fetch the inner ring stack from the TSS,
			// validate it fully, then switch and push the outer stack
			// pointer. All pushes after the switch are fault-free by
			// construction.
			originalSS := cpu.sreg[SegSS]
			originalESP := cpu.gpr[regSP]
			tss := cpu.currentTSS()

			newSS := tss.ringSS(desc.dpl)
			newESP := tss.ringESP(desc.dpl)
			newSSDescriptor := cpu.getDescriptor(newSS)

			if newSSDescriptor.isNull() {
				return cpu.tsFault(newSS&0xfffc, "new ss is null")
			}
			if newSSDescriptor.outsideTableLimits() {
				return cpu.tsFault(newSS&0xfffc, "new ss outside table limits")
			}
			if newSSDescriptor.dpl != desc.dpl {
				return cpu.tsFault(newSS&0xfffc, "new ss DPL != code segment DPL")
			}
			if !newSSDescriptor.isData() || !newSSDescriptor.writable() {
				return cpu.tsFault(newSS&0xfffc, "new ss not a writable data segment")
			}
			if !newSSDescriptor.present {
				return cpu.ssFault(newSS&0xfffc, "new ss not present")
			}

			cpu.setCPL(desc.dpl)
			if fault := cpu.writeSegmentRegister(SegSS, newSS); fault != nil {
				return fault
			}
			cpu.gpr[regSP] = newESP

			if fault := cpu.pushValueWithSize(uint32(originalSS), pushSize); fault != nil {
				return fault
			}
			if fault := cpu.pushValueWithSize(originalESP, pushSize); fault != nil {
				return fault
			}
		} else {
			cpu.setCPL(originalCPL)
		}
	}

	if jumpType == jumpCALL {
		if fault := cpu.pushValueWithSize(uint32(originalCS), pushSize); fault != nil {
			return fault
		}
		if fault := cpu.pushValueWithSize(originalEIP, pushSize); fault != nil {
			return fault
		}
	}

	if gate == nil {
		cpu.setCPL(originalCPL)
	}
	return nil
}

// clearSegmentRegisterAfterReturnIfNeeded nulls a data segment register
// that would otherwise leak inner ring access after a privilege
// de-escalating return.
func (cpu *CPU) clearSegmentRegisterAfterReturnIfNeeded(seg int) {
	if cpu.sreg[seg] == 0 {
		return
	}
	cached := &cpu.cache[seg]
	if cached.isNull() || (cached.dpl < cpu.cpl() && (cached.isData() || cached.nonconformingCode())) {
		_ = cpu.writeSegmentRegister(seg, 0)
	}
}

func (cpu *CPU) farReturn(stackAdjustment uint16) *Fault {
	if !cpu.pe() || cpu.vm {
		return cpu.realModeFarReturn(stackAdjustment)
	}
	return cpu.protectedFarReturn(stackAdjustment)
}

func (cpu *CPU) realModeFarReturn(stackAdjustment uint16) *Fault {
	offset, fault := cpu.popOperandSized()
	if fault != nil {
		return fault
	}
	selector, fault := cpu.popOperandSized()
	if fault != nil {
		return fault
	}
	if fault := cpu.writeSegmentRegister(SegCS, uint16(selector)); fault != nil {
		return fault
	}
	cpu.eip = offset
	cpu.adjustStackPointer(int32(stackAdjustment))
	return nil
}

func (cpu *CPU) protectedFarReturn(stackAdjustment uint16) *Fault {
	p := newPopper(cpu)

	offset, fault := p.popOperandSized()
	if fault != nil {
		return fault
	}
	selectorValue, fault := p.popOperandSized()
	if fault != nil {
		return fault
	}
	selector := uint16(selectorValue)
	originalCPL := cpu.cpl()
	selectorRPL := uint8(selector & 3)

	p.adjust(int32(stackAdjustment))

	desc := cpu.getDescriptor(selector)

	if desc.isNull() {
		return cpu.gpFault(0, "RETF to null selector")
	}
	if desc.outsideTableLimits() {
		return cpu.gpFault(selector&0xfffc, "RETF to selector outside table limit")
	}
	if !desc.isCode() {
		return cpu.gpFault(selector&0xfffc, "RETF to non-code segment")
	}
	if selectorRPL < cpu.cpl() {
		return cpu.gpFault(selector&0xfffc, "RETF with RPL < CPL")
	}
	if desc.conforming() && desc.dpl > selectorRPL {
		return cpu.gpFault(selector&0xfffc, "RETF to conforming code segment with DPL > RPL")
	}
	if !desc.conforming() && desc.dpl != selectorRPL {
		return cpu.gpFault(selector&0xfffc, "RETF to non-conforming code segment with DPL != RPL")
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

	if selectorRPL > originalCPL {
		// De-escalation: the outer SS:ESP rides on the inner stack.
		newESP, fault := p.popOperandSized()
		if fault != nil {
			return fault
		}
		newSSValue, fault := p.popOperandSized()
		if fault != nil {
			return fault
		}

		if fault := cpu.writeSegmentRegister(SegCS, selector); fault != nil {
			return fault
		}
		cpu.eip = offset

		if fault := cpu.writeSegmentRegister(SegSS, uint16(newSSValue)); fault != nil {
			return fault
		}
		cpu.gpr[regSP] = newESP

		cpu.clearSegmentRegisterAfterReturnIfNeeded(SegES)
		cpu.clearSegmentRegisterAfterReturnIfNeeded(SegFS)
		cpu.clearSegmentRegisterAfterReturnIfNeeded(SegGS)
		cpu.clearSegmentRegisterAfterReturnIfNeeded(SegDS)

		cpu.adjustStackPointer(int32(stackAdjustment))
		return nil
	}

	if fault := cpu.writeSegmentRegister(SegCS, selector); fault != nil {
		return fault
	}
	cpu.eip = offset
	p.commit()
	return nil
}
