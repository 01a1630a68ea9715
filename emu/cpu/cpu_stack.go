/*
   Stack access: pushes, pops and the transactional popper.

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

func (cpu *CPU) currentStackPointer() uint32 {
	if cpu.stack32 {
		return cpu.gpr[regSP]
	}
	return uint32(cpu.readReg16(regSP))
}

func (cpu *CPU) setCurrentStackPointer(value uint32) {
	if cpu.stack32 {
		cpu.gpr[regSP] = value
	} else {
		cpu.writeReg16(regSP, uint16(value))
	}
}

func (cpu *CPU) adjustStackPointer(delta int32) {
	cpu.setCurrentStackPointer(cpu.currentStackPointer() + uint32(delta))
}

func (cpu *CPU) push16(value uint16) *Fault {
	newSP := cpu.currentStackPointer() - 2
	if !cpu.stack32 {
		newSP &= 0xffff
	}
	if fault := cpu.writeMem16(SegSS, newSP, value); fault != nil {
		return fault
	}
	cpu.adjustStackPointer(-2)
	return nil
}

func (cpu *CPU) push32(value uint32) *Fault {
	newSP := cpu.currentStackPointer() - 4
	if !cpu.stack32 {
		newSP &= 0xffff
	}
	if fault := cpu.writeMem32(SegSS, newSP, value); fault != nil {
		return fault
	}
	cpu.adjustStackPointer(-4)
	return nil
}

func (cpu *CPU) pop16() (uint16, *Fault) {
	value, fault := cpu.readMem16(SegSS, cpu.currentStackPointer())
	if fault != nil {
		return 0, fault
	}
	cpu.adjustStackPointer(2)
	return value, nil
}

func (cpu *CPU) pop32() (uint32, *Fault) {
	value, fault := cpu.readMem32(SegSS, cpu.currentStackPointer())
	if fault != nil {
		return 0, fault
	}
	cpu.adjustStackPointer(4)
	return value, nil
}

func (cpu *CPU) pushOperandSized(value uint32) *Fault {
	if cpu.effO32 {
		return cpu.push32(value)
	}
	return cpu.push16(uint16(value))
}

func (cpu *CPU) popOperandSized() (uint32, *Fault) {
	if cpu.effO32 {
		return cpu.pop32()
	}
	value, fault := cpu.pop16()
	return uint32(value), fault
}

func (cpu *CPU) pushValueWithSize(value uint32, size int) *Fault {
	if size == 4 {
		return cpu.push32(value)
	}
	return cpu.push16(uint16(value))
}

// pushSegmentRegisterValue pushes a selector. The 32-bit form reserves a
// dword slot but writes only 16 bits.
func (cpu *CPU) pushSegmentRegisterValue(value uint16) *Fault {
	if !cpu.effO32 {
		return cpu.push16(value)
	}
	newSP := cpu.currentStackPointer() - 4
	if !cpu.stack32 {
		newSP &= 0xffff
	}
	if fault := cpu.writeMem16(SegSS, newSP, value); fault != nil {
		return fault
	}
	cpu.adjustStackPointer(-4)
	return nil
}

// popper stages pops from a scratch stack pointer so a faulting multi-pop
// sequence leaves the real SP untouched until commit.
type popper struct {
	cpu *CPU
	sp  uint32
}

func newPopper(cpu *CPU) popper {
	return popper{cpu: cpu, sp: cpu.currentStackPointer()}
}

func (p *popper) pop16() (uint16, *Fault) {
	value, fault := p.cpu.readMem16(SegSS, p.sp)
	if fault != nil {
		return 0, fault
	}
	p.sp += 2
	if !p.cpu.stack32 {
		p.sp &= 0xffff
	}
	return value, nil
}

func (p *popper) pop32() (uint32, *Fault) {
	value, fault := p.cpu.readMem32(SegSS, p.sp)
	if fault != nil {
		return 0, fault
	}
	p.sp += 4
	if !p.cpu.stack32 {
		p.sp &= 0xffff
	}
	return value, nil
}

func (p *popper) popOperandSized() (uint32, *Fault) {
	if p.cpu.effO32 {
		return p.pop32()
	}
	value, fault := p.pop16()
	return uint32(value), fault
}

func (p *popper) adjust(delta int32) {
	p.sp += uint32(delta)
	if !p.cpu.stack32 {
		p.sp &= 0xffff
	}
}

func (p *popper) commit() {
	p.cpu.setCurrentStackPointer(p.sp)
}
