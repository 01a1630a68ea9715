/*
   I/O port access with the TSS permission bitmap check.

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

// validateIOAccess applies the TSS I/O permission bitmap when the current
// privilege is insufficient for direct port access.
func (cpu *CPU) validateIOAccess(port uint16, size uint32) *Fault {
	if !cpu.pe() {
		return nil
	}
	if !cpu.vm && cpu.cpl() <= cpu.iopl {
		return nil
	}
	if !cpu.tr.is32 {
		return cpu.gpFault(0, "I/O permission check with 16-bit TSS")
	}
	if cpu.tr.limit < 103 {
		return cpu.gpFault(0, "TSS too small, I/O map missing")
	}

	iomapBase := cpu.readMetal16(cpu.tr.base + tss32IOMapBase)
	highPort := uint32(port) + size - 1

	if cpu.tr.limit < uint32(iomapBase)+highPort/8 {
		return cpu.gpFault(0, "TSS I/O map too small")
	}

	mask := uint16((1<<size)-1) << (port & 7)
	address := cpu.tr.base + uint32(iomapBase) + uint32(port)/8
	var perm uint16
	if mask&0xff00 != 0 {
		perm = cpu.readMetal16(address)
	} else {
		v, fault := readLinear[uint8](cpu, address, accessRead, 0)
		if fault != nil {
			return fault
		}
		perm = uint16(v)
	}
	if perm&mask != 0 {
		return cpu.gpFault(0, "I/O map disallowed access")
	}
	return nil
}

func ioIn[T word](cpu *CPU, port uint16) (T, *Fault) {
	size := uint32(bitCount[T]() / 8)
	if fault := cpu.validateIOAccess(port, size); fault != nil {
		return 0, fault
	}
	if cpu.io == nil {
		return ^T(0), nil
	}
	switch size {
	case 1:
		return T(cpu.io.In8(port)), nil
	case 2:
		return T(cpu.io.In16(port)), nil
	default:
		return T(cpu.io.In32(port)), nil
	}
}

func ioOut[T word](cpu *CPU, port uint16, value T) *Fault {
	size := uint32(bitCount[T]() / 8)
	if fault := cpu.validateIOAccess(port, size); fault != nil {
		return fault
	}
	if cpu.io == nil {
		return nil
	}
	switch size {
	case 1:
		cpu.io.Out8(port, uint8(value))
	case 2:
		cpu.io.Out16(port, uint16(value))
	default:
		cpu.io.Out32(port, uint32(value))
	}
	return nil
}

func opINALImm8(cpu *CPU, i *Instruction) *Fault {
	value, fault := ioIn[uint8](cpu, uint16(i.imm8()))
	if fault != nil {
		return fault
	}
	cpu.writeReg8(regAL, value)
	return nil
}

func opINAXImm8(cpu *CPU, i *Instruction) *Fault {
	value, fault := ioIn[uint16](cpu, uint16(i.imm8()))
	if fault != nil {
		return fault
	}
	cpu.writeReg16(regAX, value)
	return nil
}

func opINEAXImm8(cpu *CPU, i *Instruction) *Fault {
	value, fault := ioIn[uint32](cpu, uint16(i.imm8()))
	if fault != nil {
		return fault
	}
	cpu.writeReg32(regAX, value)
	return nil
}

func opINALDX(cpu *CPU, _ *Instruction) *Fault {
	value, fault := ioIn[uint8](cpu, cpu.readReg16(regDX))
	if fault != nil {
		return fault
	}
	cpu.writeReg8(regAL, value)
	return nil
}

func opINAXDX(cpu *CPU, _ *Instruction) *Fault {
	value, fault := ioIn[uint16](cpu, cpu.readReg16(regDX))
	if fault != nil {
		return fault
	}
	cpu.writeReg16(regAX, value)
	return nil
}

func opINEAXDX(cpu *CPU, _ *Instruction) *Fault {
	value, fault := ioIn[uint32](cpu, cpu.readReg16(regDX))
	if fault != nil {
		return fault
	}
	cpu.writeReg32(regAX, value)
	return nil
}

func opOUTImm8AL(cpu *CPU, i *Instruction) *Fault {
	return ioOut(cpu, uint16(i.imm8()), cpu.readReg8(regAL))
}

func opOUTImm8AX(cpu *CPU, i *Instruction) *Fault {
	return ioOut(cpu, uint16(i.imm8()), cpu.readReg16(regAX))
}

func opOUTImm8EAX(cpu *CPU, i *Instruction) *Fault {
	return ioOut(cpu, uint16(i.imm8()), cpu.readReg32(regAX))
}

func opOUTDXAL(cpu *CPU, _ *Instruction) *Fault {
	return ioOut(cpu, cpu.readReg16(regDX), cpu.readReg8(regAL))
}

func opOUTDXAX(cpu *CPU, _ *Instruction) *Fault {
	return ioOut(cpu, cpu.readReg16(regDX), cpu.readReg16(regAX))
}

func opOUTDXEAX(cpu *CPU, _ *Instruction) *Fault {
	return ioOut(cpu, cpu.readReg16(regDX), cpu.readReg32(regAX))
}
