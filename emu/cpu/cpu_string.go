/*
   String primitives with REP handling.

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

type stringStep func(*CPU, *Instruction) *Fault

// stringOp wraps a single iteration into the REP machinery. Each iteration
// does its memory work before stepping the index registers, so a fault
// leaves SI/DI/CX describing only completed iterations and the instruction
// restarts cleanly. Between iterations a pending external IRQ interrupts
// the loop; the instruction boundary rewinds EIP so the loop resumes after
// the ISR.
func stringOp(step stringStep, careAboutZF bool) execFn {
	return func(cpu *CPU, i *Instruction) *Fault {
		if i.rep == 0 {
			return step(cpu, i)
		}
		for cpu.readRegAddr(regCX) != 0 {
			if fault := step(cpu, i); fault != nil {
				return fault
			}
			cpu.decCXAddr()
			if careAboutZF {
				if i.rep == prefixREPZ && !cpu.getZF() {
					break
				}
				if i.rep == prefixREPNZ && cpu.getZF() {
					break
				}
			}
			if cpu.readRegAddr(regCX) != 0 && cpu.iflag &&
				cpu.pic != nil && cpu.pic.Pending() {
				return faultREPInterrupted
			}
		}
		return nil
	}
}

func movsStep[T word](cpu *CPU, _ *Instruction) *Fault {
	width := uint32(bitCount[T]() / 8)
	value, fault := readSeg[T](cpu, cpu.currentSegment(), cpu.readRegAddr(regSI))
	if fault != nil {
		return fault
	}
	if fault := writeSeg(cpu, SegES, cpu.readRegAddr(regDI), value); fault != nil {
		return fault
	}
	cpu.stepRegAddr(regSI, width)
	cpu.stepRegAddr(regDI, width)
	return nil
}

func cmpsStep[T word](cpu *CPU, _ *Instruction) *Fault {
	width := uint32(bitCount[T]() / 8)
	src, fault := readSeg[T](cpu, cpu.currentSegment(), cpu.readRegAddr(regSI))
	if fault != nil {
		return fault
	}
	dest, fault := readSeg[T](cpu, SegES, cpu.readRegAddr(regDI))
	if fault != nil {
		return fault
	}
	subK(cpu, src, dest)
	cpu.stepRegAddr(regSI, width)
	cpu.stepRegAddr(regDI, width)
	return nil
}

func stosStep[T word](cpu *CPU, _ *Instruction) *Fault {
	width := uint32(bitCount[T]() / 8)
	if fault := writeSeg(cpu, SegES, cpu.readRegAddr(regDI), getReg[T](cpu, regAX)); fault != nil {
		return fault
	}
	cpu.stepRegAddr(regDI, width)
	return nil
}

func lodsStep[T word](cpu *CPU, _ *Instruction) *Fault {
	width := uint32(bitCount[T]() / 8)
	value, fault := readSeg[T](cpu, cpu.currentSegment(), cpu.readRegAddr(regSI))
	if fault != nil {
		return fault
	}
	setReg(cpu, regAX, value)
	cpu.stepRegAddr(regSI, width)
	return nil
}

func scasStep[T word](cpu *CPU, _ *Instruction) *Fault {
	width := uint32(bitCount[T]() / 8)
	value, fault := readSeg[T](cpu, SegES, cpu.readRegAddr(regDI))
	if fault != nil {
		return fault
	}
	subK(cpu, getReg[T](cpu, regAX), value)
	cpu.stepRegAddr(regDI, width)
	return nil
}

// INS reads the port before the memory write; a faulting write therefore
// repeats the port read on restart, which matches the documented hardware
// liberty.
func insStep[T word](cpu *CPU, _ *Instruction) *Fault {
	width := uint32(bitCount[T]() / 8)
	value, fault := ioIn[T](cpu, cpu.readReg16(regDX))
	if fault != nil {
		return fault
	}
	if fault := writeSeg(cpu, SegES, cpu.readRegAddr(regDI), value); fault != nil {
		return fault
	}
	cpu.stepRegAddr(regDI, width)
	return nil
}

func outsStep[T word](cpu *CPU, _ *Instruction) *Fault {
	width := uint32(bitCount[T]() / 8)
	value, fault := readSeg[T](cpu, cpu.currentSegment(), cpu.readRegAddr(regSI))
	if fault != nil {
		return fault
	}
	if fault := ioOut(cpu, cpu.readReg16(regDX), value); fault != nil {
		return fault
	}
	cpu.stepRegAddr(regSI, width)
	return nil
}

func opINSB(cpu *CPU, i *Instruction) *Fault {
	return stringOp(insStep[uint8], false)(cpu, i)
}

func opINSW(cpu *CPU, i *Instruction) *Fault {
	return stringOp(insStep[uint16], false)(cpu, i)
}

func opINSD(cpu *CPU, i *Instruction) *Fault {
	return stringOp(insStep[uint32], false)(cpu, i)
}

func opOUTSB(cpu *CPU, i *Instruction) *Fault {
	return stringOp(outsStep[uint8], false)(cpu, i)
}

func opOUTSW(cpu *CPU, i *Instruction) *Fault {
	return stringOp(outsStep[uint16], false)(cpu, i)
}

func opOUTSD(cpu *CPU, i *Instruction) *Fault {
	return stringOp(outsStep[uint32], false)(cpu, i)
}
