/*
   Instruction execution: stack operations and control flow.

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

// Near jumps.

func (cpu *CPU) jumpRelative(displacement int32) {
	cpu.eip += uint32(displacement)
	if !cpu.effO32 {
		cpu.eip &= 0xffff
	}
}

func (cpu *CPU) jumpAbsolute(address uint32) {
	cpu.eip = address
}

// relDisp sign extends a rel16 or rel32 immediate.
func (i *Instruction) relDisp() int32 {
	if i.imm1Bytes == 2 {
		return int32(int16(i.imm1))
	}
	return int32(i.imm1)
}

func opJMPShort(cpu *CPU, i *Instruction) *Fault {
	cpu.jumpRelative(int32(int8(i.imm8())))
	return nil
}

func opJccShort(cpu *CPU, i *Instruction) *Fault {
	if cpu.evaluate(i.cc()) {
		cpu.jumpRelative(int32(int8(i.imm8())))
	}
	return nil
}

func opJccNear(cpu *CPU, i *Instruction) *Fault {
	if cpu.evaluate(i.cc()) {
		cpu.jumpRelative(i.relDisp())
	}
	return nil
}

func opJMPRel16(cpu *CPU, i *Instruction) *Fault {
	cpu.jumpRelative(int32(int16(i.imm16())))
	return nil
}

func opJMPRel32(cpu *CPU, i *Instruction) *Fault {
	cpu.jumpRelative(int32(i.imm32()))
	return nil
}

func opJMPRM16(cpu *CPU, i *Instruction) *Fault {
	target, fault := modRead[uint16](cpu, &i.modrm)
	if fault != nil {
		return fault
	}
	cpu.jumpAbsolute(uint32(target))
	return nil
}

func opJMPRM32(cpu *CPU, i *Instruction) *Fault {
	target, fault := modRead[uint32](cpu, &i.modrm)
	if fault != nil {
		return fault
	}
	cpu.jumpAbsolute(target)
	return nil
}

func opJMPFarImm(cpu *CPU, i *Instruction) *Fault {
	return cpu.farJump(i.farPointer(), jumpJMP, nil)
}

func opCALLRel16(cpu *CPU, i *Instruction) *Fault {
	if fault := cpu.push16(uint16(cpu.eip)); fault != nil {
		return fault
	}
	cpu.jumpRelative(int32(int16(i.imm16())))
	return nil
}

func opCALLRel32(cpu *CPU, i *Instruction) *Fault {
	if fault := cpu.push32(cpu.eip); fault != nil {
		return fault
	}
	cpu.jumpRelative(int32(i.imm32()))
	return nil
}

func opCALLRM16(cpu *CPU, i *Instruction) *Fault {
	target, fault := modRead[uint16](cpu, &i.modrm)
	if fault != nil {
		return fault
	}
	if fault := cpu.push16(uint16(cpu.eip)); fault != nil {
		return fault
	}
	cpu.jumpAbsolute(uint32(target))
	return nil
}

func opCALLRM32(cpu *CPU, i *Instruction) *Fault {
	target, fault := modRead[uint32](cpu, &i.modrm)
	if fault != nil {
		return fault
	}
	if fault := cpu.push32(cpu.eip); fault != nil {
		return fault
	}
	cpu.jumpAbsolute(target)
	return nil
}

func opCALLFarImm(cpu *CPU, i *Instruction) *Fault {
	return cpu.farJump(i.farPointer(), jumpCALL, nil)
}

// farMem covers CALL/JMP through an m16:16 or m16:32 memory operand.
func farMem(jumpType int, wide bool) execFn {
	return func(cpu *CPU, i *Instruction) *Fault {
		if i.modrm.isRegister() {
			return cpu.udFault("far JMP/CALL with register operand")
		}
		var address logicalAddr
		var fault *Fault
		if wide {
			address, fault = readLogical[uint32](cpu, i.modrm.seg, i.modrm.offset)
		} else {
			address, fault = readLogical[uint16](cpu, i.modrm.seg, i.modrm.offset)
		}
		if fault != nil {
			return fault
		}
		return cpu.farJump(address, jumpType, nil)
	}
}

func opRET(cpu *CPU, _ *Instruction) *Fault {
	target, fault := cpu.popOperandSized()
	if fault != nil {
		return fault
	}
	cpu.jumpAbsolute(target)
	return nil
}

func opRETImm16(cpu *CPU, i *Instruction) *Fault {
	target, fault := cpu.popOperandSized()
	if fault != nil {
		return fault
	}
	cpu.jumpAbsolute(target)
	cpu.adjustStackPointer(int32(i.imm16()))
	return nil
}

func opRETF(cpu *CPU, _ *Instruction) *Fault {
	return cpu.farReturn(0)
}

func opRETFImm16(cpu *CPU, i *Instruction) *Fault {
	return cpu.farReturn(i.imm16())
}

func opJCXZ(cpu *CPU, i *Instruction) *Fault {
	if cpu.readRegAddr(regCX) == 0 {
		cpu.jumpRelative(int32(int8(i.imm8())))
	}
	return nil
}

func doLOOP(cpu *CPU, i *Instruction, condition bool) {
	if !cpu.decCXAddr() && condition {
		cpu.jumpRelative(int32(int8(i.imm8())))
	}
}

func opLOOP(cpu *CPU, i *Instruction) *Fault {
	doLOOP(cpu, i, true)
	return nil
}

func opLOOPZ(cpu *CPU, i *Instruction) *Fault {
	doLOOP(cpu, i, cpu.getZF())
	return nil
}

func opLOOPNZ(cpu *CPU, i *Instruction) *Fault {
	doLOOP(cpu, i, !cpu.getZF())
	return nil
}

// Pushes and pops.

func opPUSHReg16(cpu *CPU, i *Instruction) *Fault {
	return cpu.push16(cpu.readReg16(i.regIndex))
}

func opPUSHReg32(cpu *CPU, i *Instruction) *Fault {
	return cpu.push32(cpu.readReg32(i.regIndex))
}

func opPOPReg16(cpu *CPU, i *Instruction) *Fault {
	value, fault := cpu.pop16()
	if fault != nil {
		return fault
	}
	cpu.writeReg16(i.regIndex, value)
	return nil
}

func opPOPReg32(cpu *CPU, i *Instruction) *Fault {
	value, fault := cpu.pop32()
	if fault != nil {
		return fault
	}
	cpu.writeReg32(i.regIndex, value)
	return nil
}

func opPUSHRM16(cpu *CPU, i *Instruction) *Fault {
	value, fault := modRead[uint16](cpu, &i.modrm)
	if fault != nil {
		return fault
	}
	return cpu.push16(value)
}

func opPUSHRM32(cpu *CPU, i *Instruction) *Fault {
	value, fault := modRead[uint32](cpu, &i.modrm)
	if fault != nil {
		return fault
	}
	return cpu.push32(value)
}

// With SP as a base register the effective address of a POP destination is
// computed after the increment, so the operand resolves again here.

func opPOPRM16(cpu *CPU, i *Instruction) *Fault {
	value, fault := cpu.pop16()
	if fault != nil {
		return fault
	}
	i.modrm.resolve(cpu)
	return modWrite(cpu, &i.modrm, value)
}

func opPOPRM32(cpu *CPU, i *Instruction) *Fault {
	value, fault := cpu.pop32()
	if fault != nil {
		return fault
	}
	i.modrm.resolve(cpu)
	return modWrite(cpu, &i.modrm, value)
}

func opPUSHImm8(cpu *CPU, i *Instruction) *Fault {
	if cpu.effO32 {
		return cpu.push32(uint32(int32(int8(i.imm8()))))
	}
	return cpu.push16(uint16(int16(int8(i.imm8()))))
}

func opPUSHImm16(cpu *CPU, i *Instruction) *Fault {
	return cpu.push16(i.imm16())
}

func opPUSHImm32(cpu *CPU, i *Instruction) *Fault {
	return cpu.push32(i.imm32())
}

func pushSeg(seg int) execFn {
	return func(cpu *CPU, _ *Instruction) *Fault {
		return cpu.pushSegmentRegisterValue(cpu.sreg[seg])
	}
}

func popSeg(seg int) execFn {
	return func(cpu *CPU, _ *Instruction) *Fault {
		value, fault := cpu.popOperandSized()
		if fault != nil {
			return fault
		}
		if fault := cpu.writeSegmentRegister(seg, uint16(value)); fault != nil {
			return fault
		}
		if seg == SegSS {
			cpu.nextUninterruptible = true
		}
		return nil
	}
}

func doPUSHA[T word](cpu *CPU) *Fault {
	size := int32(bitCount[T]() / 8)
	newSP := cpu.currentStackPointer() - uint32(size)*8
	if !cpu.stack32 {
		newSP &= 0xffff
	}
	if fault := cpu.snoop(SegSS, cpu.currentStackPointer(), accessWrite); fault != nil {
		return fault
	}
	if fault := cpu.snoop(SegSS, newSP, accessWrite); fault != nil {
		return fault
	}

	oldSP := getReg[T](cpu, regSP)
	for _, reg := range []int{regAX, regCX, regDX, regBX} {
		if fault := cpu.pushValueWithSize(uint32(getReg[T](cpu, reg)), int(size)); fault != nil {
			return fault
		}
	}
	if fault := cpu.pushValueWithSize(uint32(oldSP), int(size)); fault != nil {
		return fault
	}
	for _, reg := range []int{regBP, regSI, regDI} {
		if fault := cpu.pushValueWithSize(uint32(getReg[T](cpu, reg)), int(size)); fault != nil {
			return fault
		}
	}
	return nil
}

func doPOPA[T word](cpu *CPU) *Fault {
	size := uint32(bitCount[T]() / 8)
	newSP := cpu.currentStackPointer() + size*8
	if !cpu.stack32 {
		newSP &= 0xffff
	}
	if fault := cpu.snoop(SegSS, cpu.currentStackPointer(), accessRead); fault != nil {
		return fault
	}
	if fault := cpu.snoop(SegSS, newSP, accessRead); fault != nil {
		return fault
	}

	pop := func() (T, *Fault) {
		if size == 4 {
			v, fault := cpu.pop32()
			return T(v), fault
		}
		v, fault := cpu.pop16()
		return T(v), fault
	}

	for _, reg := range []int{regDI, regSI, regBP} {
		value, fault := pop()
		if fault != nil {
			return fault
		}
		setReg(cpu, reg, value)
	}
	if _, fault := pop(); fault != nil { // SP slot is discarded
		return fault
	}
	for _, reg := range []int{regBX, regDX, regCX, regAX} {
		value, fault := pop()
		if fault != nil {
			return fault
		}
		setReg(cpu, reg, value)
	}
	return nil
}

func opPUSHA(cpu *CPU, _ *Instruction) *Fault {
	return doPUSHA[uint16](cpu)
}

func opPUSHAD(cpu *CPU, _ *Instruction) *Fault {
	return doPUSHA[uint32](cpu)
}

func opPOPA(cpu *CPU, _ *Instruction) *Fault {
	return doPOPA[uint16](cpu)
}

func opPOPAD(cpu *CPU, _ *Instruction) *Fault {
	return doPOPA[uint32](cpu)
}

func opPUSHF(cpu *CPU, _ *Instruction) *Fault {
	if cpu.pe() && cpu.vm && cpu.iopl < 3 {
		return cpu.gpFault(0, "PUSHF in VM86 mode with IOPL < 3")
	}
	return cpu.push16(cpu.getFlags())
}

func opPUSHFD(cpu *CPU, _ *Instruction) *Fault {
	if cpu.pe() && cpu.vm && cpu.iopl < 3 {
		return cpu.gpFault(0, "PUSHFD in VM86 mode with IOPL < 3")
	}
	return cpu.push32(cpu.getEFlags() & 0x00fcffff)
}

func opPOPF(cpu *CPU, _ *Instruction) *Fault {
	if cpu.pe() && cpu.vm && cpu.iopl < 3 {
		return cpu.gpFault(0, "POPF in VM86 mode with IOPL < 3")
	}
	value, fault := cpu.pop16()
	if fault != nil {
		return fault
	}
	cpu.setEFlagsRespectfully(uint32(value), cpu.cpl())
	return nil
}

func opPOPFD(cpu *CPU, _ *Instruction) *Fault {
	if cpu.pe() && cpu.vm && cpu.iopl < 3 {
		return cpu.gpFault(0, "POPFD in VM86 mode with IOPL < 3")
	}
	value, fault := cpu.pop32()
	if fault != nil {
		return fault
	}
	cpu.setEFlagsRespectfully(value, cpu.cpl())
	return nil
}

// ENTER and LEAVE with the nesting level stack walk.

func doENTER[T word](cpu *CPU, i *Instruction) *Fault {
	size := i.imm16v2()
	nestingLevel := i.imm8v1() & 31
	width := uint32(bitCount[T]() / 8)

	if fault := cpu.pushValueWithSize(uint32(getReg[T](cpu, regBP)), int(width)); fault != nil {
		return fault
	}
	frameTemp := getReg[T](cpu, regSP)

	if nestingLevel > 0 {
		tempBase := cpu.currentBasePointer()
		for n := uint8(1); n < nestingLevel; n++ {
			tempBase -= width
			value, fault := readSeg[T](cpu, SegSS, tempBase)
			if fault != nil {
				return fault
			}
			if fault := cpu.pushValueWithSize(uint32(value), int(width)); fault != nil {
				return fault
			}
		}
		if fault := cpu.pushValueWithSize(uint32(frameTemp), int(width)); fault != nil {
			return fault
		}
	}
	setReg(cpu, regBP, frameTemp)
	cpu.adjustStackPointer(-int32(size))
	return cpu.snoop(SegSS, cpu.currentStackPointer(), accessWrite)
}

func doLEAVE[T word](cpu *CPU) *Fault {
	newBase, fault := readSeg[T](cpu, SegSS, cpu.currentBasePointer())
	if fault != nil {
		return fault
	}
	cpu.setCurrentStackPointer(cpu.currentBasePointer() + uint32(bitCount[T]()/8))
	setReg(cpu, regBP, newBase)
	return nil
}

func (cpu *CPU) currentBasePointer() uint32 {
	if cpu.stack32 {
		return cpu.gpr[regBP]
	}
	return uint32(cpu.readReg16(regBP))
}

func opENTER16(cpu *CPU, i *Instruction) *Fault {
	return doENTER[uint16](cpu, i)
}

func opENTER32(cpu *CPU, i *Instruction) *Fault {
	return doENTER[uint32](cpu, i)
}

func opLEAVE16(cpu *CPU, _ *Instruction) *Fault {
	return doLEAVE[uint16](cpu)
}

func opLEAVE32(cpu *CPU, _ *Instruction) *Fault {
	return doLEAVE[uint32](cpu)
}
