/*
   Instruction execution: arithmetic, logic, shifts, moves, bit ops, BCD.

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

// Arithmetic kernels. Each computes in a doubled width, updates flags and
// returns the truncated result.

func addK[T word](cpu *CPU, dest, src T) T {
	result := uint64(dest) + uint64(src)
	mathFlags(cpu, result, dest, src)
	bits := bitCount[T]()
	cpu.of = ((result^uint64(dest))&(result^uint64(src)))>>(bits-1)&1 != 0
	return T(result)
}

func adcK[T word](cpu *CPU, dest, src T) T {
	carry := uint64(0)
	if cpu.cf {
		carry = 1
	}
	result := uint64(dest) + uint64(src) + carry
	mathFlags(cpu, result, dest, src)
	bits := bitCount[T]()
	cpu.of = ((result^uint64(dest))&(result^uint64(src)))>>(bits-1)&1 != 0
	return T(result)
}

func subK[T word](cpu *CPU, dest, src T) T {
	result := uint64(dest) - uint64(src)
	cmpFlags(cpu, result, dest, src)
	return T(result)
}

func sbbK[T word](cpu *CPU, dest, src T) T {
	borrow := uint64(0)
	if cpu.cf {
		borrow = 1
	}
	result := uint64(dest) - uint64(src) - borrow
	cmpFlags(cpu, result, dest, src)
	return T(result)
}

func andK[T word](cpu *CPU, dest, src T) T {
	result := dest & src
	updateFlags(cpu, result)
	cpu.of = false
	cpu.cf = false
	return result
}

func orK[T word](cpu *CPU, dest, src T) T {
	result := dest | src
	updateFlags(cpu, result)
	cpu.of = false
	cpu.cf = false
	return result
}

func xorK[T word](cpu *CPU, dest, src T) T {
	result := dest ^ src
	updateFlags(cpu, result)
	cpu.of = false
	cpu.cf = false
	return result
}

// ALU handler combinators over operand placement.

func aluRMReg[T word](f func(*CPU, T, T) T) execFn {
	return func(cpu *CPU, i *Instruction) *Fault {
		dest, fault := modRead[T](cpu, &i.modrm)
		if fault != nil {
			return fault
		}
		return modWrite(cpu, &i.modrm, f(cpu, dest, getReg[T](cpu, i.regIndex)))
	}
}

func aluRegRM[T word](f func(*CPU, T, T) T) execFn {
	return func(cpu *CPU, i *Instruction) *Fault {
		src, fault := modRead[T](cpu, &i.modrm)
		if fault != nil {
			return fault
		}
		setReg(cpu, i.regIndex, f(cpu, getReg[T](cpu, i.regIndex), src))
		return nil
	}
}

func aluAImm[T word](f func(*CPU, T, T) T) execFn {
	return func(cpu *CPU, i *Instruction) *Fault {
		setReg(cpu, regAX, f(cpu, getReg[T](cpu, regAX), T(i.imm1)))
		return nil
	}
}

func aluRMImm[T word](f func(*CPU, T, T) T) execFn {
	return func(cpu *CPU, i *Instruction) *Fault {
		dest, fault := modRead[T](cpu, &i.modrm)
		if fault != nil {
			return fault
		}
		return modWrite(cpu, &i.modrm, f(cpu, dest, T(i.imm1)))
	}
}

func aluRMImm8s[T word](f func(*CPU, T, T) T) execFn {
	return func(cpu *CPU, i *Instruction) *Fault {
		dest, fault := modRead[T](cpu, &i.modrm)
		if fault != nil {
			return fault
		}
		return modWrite(cpu, &i.modrm, f(cpu, dest, T(int32(int8(i.imm8())))))
	}
}

// Read-only variants for CMP and TEST.

func cmpRMReg[T word](f func(*CPU, T, T) T) execFn {
	return func(cpu *CPU, i *Instruction) *Fault {
		dest, fault := modRead[T](cpu, &i.modrm)
		if fault != nil {
			return fault
		}
		f(cpu, dest, getReg[T](cpu, i.regIndex))
		return nil
	}
}

func cmpRegRM[T word](f func(*CPU, T, T) T) execFn {
	return func(cpu *CPU, i *Instruction) *Fault {
		src, fault := modRead[T](cpu, &i.modrm)
		if fault != nil {
			return fault
		}
		f(cpu, getReg[T](cpu, i.regIndex), src)
		return nil
	}
}

func cmpAImm[T word](f func(*CPU, T, T) T) execFn {
	return func(cpu *CPU, i *Instruction) *Fault {
		f(cpu, getReg[T](cpu, regAX), T(i.imm1))
		return nil
	}
}

func cmpRMImm[T word](f func(*CPU, T, T) T) execFn {
	return func(cpu *CPU, i *Instruction) *Fault {
		dest, fault := modRead[T](cpu, &i.modrm)
		if fault != nil {
			return fault
		}
		f(cpu, dest, T(i.imm1))
		return nil
	}
}

func cmpRMImm8s[T word](f func(*CPU, T, T) T) execFn {
	return func(cpu *CPU, i *Instruction) *Fault {
		dest, fault := modRead[T](cpu, &i.modrm)
		if fault != nil {
			return fault
		}
		f(cpu, dest, T(int32(int8(i.imm8()))))
		return nil
	}
}

// INC and DEC touch every arithmetic flag except CF.

func doINC[T word](cpu *CPU, value T) T {
	result := value + 1
	cpu.of = result == signBit[T]()
	cpu.adjustFlag(uint64(result), uint32(value), 1)
	updateFlags(cpu, result)
	return result
}

func doDEC[T word](cpu *CPU, value T) T {
	result := value - 1
	cpu.of = value == signBit[T]()
	cpu.adjustFlag(uint64(result), uint32(value), 1)
	updateFlags(cpu, result)
	return result
}

func incRM[T word](cpu *CPU, i *Instruction) *Fault {
	value, fault := modRead[T](cpu, &i.modrm)
	if fault != nil {
		return fault
	}
	return modWrite(cpu, &i.modrm, doINC(cpu, value))
}

func decRM[T word](cpu *CPU, i *Instruction) *Fault {
	value, fault := modRead[T](cpu, &i.modrm)
	if fault != nil {
		return fault
	}
	return modWrite(cpu, &i.modrm, doDEC(cpu, value))
}

func opINCReg16(cpu *CPU, i *Instruction) *Fault {
	cpu.writeReg16(i.regIndex, doINC(cpu, cpu.readReg16(i.regIndex)))
	return nil
}

func opINCReg32(cpu *CPU, i *Instruction) *Fault {
	cpu.writeReg32(i.regIndex, doINC(cpu, cpu.readReg32(i.regIndex)))
	return nil
}

func opDECReg16(cpu *CPU, i *Instruction) *Fault {
	cpu.writeReg16(i.regIndex, doDEC(cpu, cpu.readReg16(i.regIndex)))
	return nil
}

func opDECReg32(cpu *CPU, i *Instruction) *Fault {
	cpu.writeReg32(i.regIndex, doDEC(cpu, cpu.readReg32(i.regIndex)))
	return nil
}

func notRM[T word](cpu *CPU, i *Instruction) *Fault {
	value, fault := modRead[T](cpu, &i.modrm)
	if fault != nil {
		return fault
	}
	return modWrite(cpu, &i.modrm, ^value)
}

func negRM[T word](cpu *CPU, i *Instruction) *Fault {
	value, fault := modRead[T](cpu, &i.modrm)
	if fault != nil {
		return fault
	}
	return modWrite(cpu, &i.modrm, subK(cpu, T(0), value))
}

// MOV family.

func movRMReg[T word](cpu *CPU, i *Instruction) *Fault {
	return modWrite(cpu, &i.modrm, getReg[T](cpu, i.regIndex))
}

func movRegRM[T word](cpu *CPU, i *Instruction) *Fault {
	value, fault := modRead[T](cpu, &i.modrm)
	if fault != nil {
		return fault
	}
	setReg(cpu, i.regIndex, value)
	return nil
}

func movRMImm[T word](cpu *CPU, i *Instruction) *Fault {
	return modWrite(cpu, &i.modrm, T(i.imm1))
}

func movRegImm[T word](cpu *CPU, i *Instruction) *Fault {
	setReg(cpu, i.regIndex, T(i.imm1))
	return nil
}

func movAMoff[T word](cpu *CPU, i *Instruction) *Fault {
	value, fault := readSeg[T](cpu, cpu.currentSegment(), i.immAddress())
	if fault != nil {
		return fault
	}
	setReg(cpu, regAX, value)
	return nil
}

func movMoffA[T word](cpu *CPU, i *Instruction) *Fault {
	return writeSeg(cpu, cpu.currentSegment(), i.immAddress(), getReg[T](cpu, regAX))
}

func opMOVRMSeg(cpu *CPU, i *Instruction) *Fault {
	if i.regIndex >= SegNone {
		return cpu.udFault("MOV rm, seg with invalid segment register index")
	}
	return cpu.modWriteSpecial(&i.modrm, uint32(cpu.sreg[i.regIndex]), i.o32)
}

func opMOVSegRM(cpu *CPU, i *Instruction) *Fault {
	if i.regIndex == SegCS {
		return cpu.udFault("MOV CS")
	}
	selector, fault := modRead[uint16](cpu, &i.modrm)
	if fault != nil {
		return fault
	}
	if fault := cpu.writeSegmentRegister(i.regIndex, selector); fault != nil {
		return fault
	}
	if i.regIndex == SegSS {
		cpu.nextUninterruptible = true
	}
	return nil
}

func opLEA16(cpu *CPU, i *Instruction) *Fault {
	if i.modrm.isRegister() {
		return cpu.udFault("LEA with register source")
	}
	cpu.writeReg16(i.regIndex, uint16(i.modrm.offset))
	return nil
}

func opLEA32(cpu *CPU, i *Instruction) *Fault {
	if i.modrm.isRegister() {
		return cpu.udFault("LEA with register source")
	}
	cpu.writeReg32(i.regIndex, i.modrm.offset)
	return nil
}

// lxs loads a far pointer into a segment register plus a register.
func lxs[T word](seg int) execFn {
	return func(cpu *CPU, i *Instruction) *Fault {
		if i.modrm.isRegister() {
			return cpu.udFault("LxS with register operand")
		}
		address, fault := readLogical[T](cpu, i.modrm.seg, i.modrm.offset)
		if fault != nil {
			return fault
		}
		if fault := cpu.writeSegmentRegister(seg, address.selector); fault != nil {
			return fault
		}
		setReg(cpu, i.regIndex, T(address.offset))
		if seg == SegSS {
			cpu.nextUninterruptible = true
		}
		return nil
	}
}

// XCHG.

func xchgRegRM[T word](cpu *CPU, i *Instruction) *Fault {
	tmp, fault := modRead[T](cpu, &i.modrm)
	if fault != nil {
		return fault
	}
	if fault := modWrite(cpu, &i.modrm, getReg[T](cpu, i.regIndex)); fault != nil {
		return fault
	}
	setReg(cpu, i.regIndex, tmp)
	return nil
}

func opXCHGRegRM8(cpu *CPU, i *Instruction) *Fault {
	return xchgRegRM[uint8](cpu, i)
}

func opXCHGRegRM16(cpu *CPU, i *Instruction) *Fault {
	return xchgRegRM[uint16](cpu, i)
}

func opXCHGRegRM32(cpu *CPU, i *Instruction) *Fault {
	return xchgRegRM[uint32](cpu, i)
}

func opXCHGAXReg16(cpu *CPU, i *Instruction) *Fault {
	tmp := cpu.readReg16(i.regIndex)
	cpu.writeReg16(i.regIndex, cpu.readReg16(regAX))
	cpu.writeReg16(regAX, tmp)
	return nil
}

func opXCHGEAXReg32(cpu *CPU, i *Instruction) *Fault {
	tmp := cpu.readReg32(i.regIndex)
	cpu.writeReg32(i.regIndex, cpu.readReg32(regAX))
	cpu.writeReg32(regAX, tmp)
	return nil
}

func opXLAT(cpu *CPU, i *Instruction) *Fault {
	value, fault := cpu.readMem8(cpu.currentSegment(),
		cpu.readRegAddr(regBX)+uint32(cpu.readReg8(regAL)))
	if fault != nil {
		return fault
	}
	cpu.writeReg8(regAL, value)
	return nil
}

// Shifts and rotates. The IA-32 count masking (count & 0x1f) applies to
// every form; rotates touch only CF and OF.

const (
	countOne = iota
	countCL
	countImm8
)

func shiftRM[T word](f func(*CPU, T, uint32) T, count int) execFn {
	return func(cpu *CPU, i *Instruction) *Fault {
		value, fault := modRead[T](cpu, &i.modrm)
		if fault != nil {
			return fault
		}
		steps := uint32(1)
		switch count {
		case countCL:
			steps = uint32(cpu.readReg8(regCL))
		case countImm8:
			steps = uint32(i.imm8())
		}
		return modWrite(cpu, &i.modrm, f(cpu, value, steps))
	}
}

func rolK[T word](cpu *CPU, data T, steps uint32) T {
	steps &= 0x1f
	if steps == 0 {
		return data
	}
	bits := bitCount[T]()
	s := steps & uint32(bits-1)
	result := data
	if s != 0 {
		result = data<<s | data>>(uint32(bits)-s)
	}
	cpu.cf = result&1 != 0
	cpu.of = (result>>(bits-1))&1 != 0 != cpu.cf
	return result
}

func rorK[T word](cpu *CPU, data T, steps uint32) T {
	steps &= 0x1f
	if steps == 0 {
		return data
	}
	bits := bitCount[T]()
	s := steps & uint32(bits-1)
	result := data
	if s != 0 {
		result = data>>s | data<<(uint32(bits)-s)
	}
	cpu.cf = (result>>(bits-1))&1 != 0
	cpu.of = (result>>(bits-1))&1 != (result>>(bits-2))&1
	return result
}

func rclK[T word](cpu *CPU, data T, steps uint32) T {
	steps &= 0x1f
	if steps == 0 {
		return data
	}
	bits := bitCount[T]()
	result := data
	for n := uint32(0); n < steps; n++ {
		previous := result
		result <<= 1
		if cpu.cf {
			result |= 1
		}
		cpu.cf = (previous>>(bits-1))&1 != 0
	}
	cpu.of = (result>>(bits-1))&1 != 0 != cpu.cf
	return result
}

func rcrK[T word](cpu *CPU, data T, steps uint32) T {
	steps &= 0x1f
	if steps == 0 {
		return data
	}
	bits := bitCount[T]()
	result := data
	for n := uint32(0); n < steps; n++ {
		previous := result
		result >>= 1
		if cpu.cf {
			result |= signBit[T]()
		}
		cpu.cf = previous&1 != 0
	}
	cpu.of = (result>>(bits-1))&1 != (result>>(bits-2))&1
	return result
}

func shlK[T word](cpu *CPU, data T, steps uint32) T {
	steps &= 0x1f
	if steps == 0 {
		return data
	}
	bits := bitCount[T]()
	if steps <= uint32(bits) {
		cpu.cf = (data>>(uint32(bits)-steps))&1 != 0
	}
	result := data << steps
	cpu.of = (result>>(bits-1))&1 != 0 != cpu.cf
	updateFlags(cpu, result)
	return result
}

func shrK[T word](cpu *CPU, data T, steps uint32) T {
	steps &= 0x1f
	if steps == 0 {
		return data
	}
	bits := bitCount[T]()
	if steps <= uint32(bits) {
		cpu.cf = (data>>(steps-1))&1 != 0
		cpu.of = (data>>(bits-1))&1 != 0
	}
	result := data >> steps
	updateFlags(cpu, result)
	return result
}

func sarK[T word](cpu *CPU, data T, steps uint32) T {
	steps &= 0x1f
	if steps == 0 {
		return data
	}
	mask := signBit[T]()
	result := data
	for n := uint32(0); n < steps; n++ {
		previous := result
		result = result>>1 | previous&mask
		cpu.cf = previous&1 != 0
	}
	cpu.of = false
	updateFlags(cpu, result)
	return result
}

var shift8 = [8]func(*CPU, uint8, uint32) uint8{
	rolK[uint8], rorK[uint8], rclK[uint8], rcrK[uint8],
	shlK[uint8], shrK[uint8], shlK[uint8], sarK[uint8],
}

var shift16 = [8]func(*CPU, uint16, uint32) uint16{
	rolK[uint16], rorK[uint16], rclK[uint16], rcrK[uint16],
	shlK[uint16], shrK[uint16], shlK[uint16], sarK[uint16],
}

var shift32 = [8]func(*CPU, uint32, uint32) uint32{
	rolK[uint32], rorK[uint32], rclK[uint32], rcrK[uint32],
	shlK[uint32], shrK[uint32], shlK[uint32], sarK[uint32],
}

// Double precision shifts.

func doSHLD[T word](cpu *CPU, left, right T, steps uint32) T {
	steps &= 31
	if steps == 0 {
		return left
	}
	bits := uint32(bitCount[T]())
	var result T
	if steps > bits {
		result = left>>(bits*2-steps) | right<<(steps-bits)
		cpu.cf = (right>>(bits*2-steps))&1 != 0
	} else {
		result = left<<steps | right>>(bits-steps)
		cpu.cf = (left>>(bits-steps))&1 != 0
	}
	cpu.of = (result^left)>>(bits-1)&1 != 0
	updateFlags(cpu, result)
	return result
}

func doSHRD[T word](cpu *CPU, left, right T, steps uint32) T {
	steps &= 31
	if steps == 0 {
		return right
	}
	bits := uint32(bitCount[T]())
	var result T
	if steps > bits {
		result = left<<(bits*2-steps) | right>>(steps-bits)
		cpu.cf = (left>>(steps-bits-1))&1 != 0
	} else {
		result = right>>steps | left<<(bits-steps)
		cpu.cf = (right>>(steps-1))&1 != 0
	}
	cpu.of = (result^right)>>(bits-1)&1 != 0
	updateFlags(cpu, result)
	return result
}

func shldImm[T word](cpu *CPU, i *Instruction) *Fault {
	value, fault := modRead[T](cpu, &i.modrm)
	if fault != nil {
		return fault
	}
	return modWrite(cpu, &i.modrm, doSHLD(cpu, value, getReg[T](cpu, i.regIndex), uint32(i.imm8())))
}

func shldCL[T word](cpu *CPU, i *Instruction) *Fault {
	value, fault := modRead[T](cpu, &i.modrm)
	if fault != nil {
		return fault
	}
	return modWrite(cpu, &i.modrm, doSHLD(cpu, value, getReg[T](cpu, i.regIndex), uint32(cpu.readReg8(regCL))))
}

func shrdImm[T word](cpu *CPU, i *Instruction) *Fault {
	value, fault := modRead[T](cpu, &i.modrm)
	if fault != nil {
		return fault
	}
	return modWrite(cpu, &i.modrm, doSHRD(cpu, getReg[T](cpu, i.regIndex), value, uint32(i.imm8())))
}

func shrdCL[T word](cpu *CPU, i *Instruction) *Fault {
	value, fault := modRead[T](cpu, &i.modrm)
	if fault != nil {
		return fault
	}
	return modWrite(cpu, &i.modrm, doSHRD(cpu, getReg[T](cpu, i.regIndex), value, uint32(cpu.readReg8(regCL))))
}

// Multiply and divide.

func opMULRM8(cpu *CPU, i *Instruction) *Fault {
	src, fault := modRead[uint8](cpu, &i.modrm)
	if fault != nil {
		return fault
	}
	product := uint16(cpu.readReg8(regAL)) * uint16(src)
	cpu.writeReg16(regAX, product)
	cpu.cf = product>>8 != 0
	cpu.of = cpu.cf
	return nil
}

func opMULRM16(cpu *CPU, i *Instruction) *Fault {
	src, fault := modRead[uint16](cpu, &i.modrm)
	if fault != nil {
		return fault
	}
	product := uint32(cpu.readReg16(regAX)) * uint32(src)
	cpu.writeReg16(regAX, uint16(product))
	cpu.writeReg16(regDX, uint16(product>>16))
	cpu.cf = product>>16 != 0
	cpu.of = cpu.cf
	return nil
}

func opMULRM32(cpu *CPU, i *Instruction) *Fault {
	src, fault := modRead[uint32](cpu, &i.modrm)
	if fault != nil {
		return fault
	}
	product := uint64(cpu.readReg32(regAX)) * uint64(src)
	cpu.writeReg32(regAX, uint32(product))
	cpu.writeReg32(regDX, uint32(product>>32))
	cpu.cf = product>>32 != 0
	cpu.of = cpu.cf
	return nil
}

func opIMULRM8(cpu *CPU, i *Instruction) *Fault {
	src, fault := modRead[uint8](cpu, &i.modrm)
	if fault != nil {
		return fault
	}
	product := int16(int8(cpu.readReg8(regAL))) * int16(int8(src))
	cpu.writeReg16(regAX, uint16(product))
	cpu.cf = product != int16(int8(product))
	cpu.of = cpu.cf
	return nil
}

func opIMULRM16(cpu *CPU, i *Instruction) *Fault {
	src, fault := modRead[uint16](cpu, &i.modrm)
	if fault != nil {
		return fault
	}
	product := int32(int16(cpu.readReg16(regAX))) * int32(int16(src))
	cpu.writeReg16(regAX, uint16(product))
	cpu.writeReg16(regDX, uint16(uint32(product)>>16))
	cpu.cf = product != int32(int16(product))
	cpu.of = cpu.cf
	return nil
}

func opIMULRM32(cpu *CPU, i *Instruction) *Fault {
	src, fault := modRead[uint32](cpu, &i.modrm)
	if fault != nil {
		return fault
	}
	product := int64(int32(cpu.readReg32(regAX))) * int64(int32(src))
	cpu.writeReg32(regAX, uint32(product))
	cpu.writeReg32(regDX, uint32(uint64(product)>>32))
	cpu.cf = product != int64(int32(product))
	cpu.of = cpu.cf
	return nil
}

func imulReg16(cpu *CPU, i *Instruction, a, b int16) {
	product := int32(a) * int32(b)
	cpu.writeReg16(i.regIndex, uint16(product))
	cpu.cf = product != int32(int16(product))
	cpu.of = cpu.cf
}

func imulReg32(cpu *CPU, i *Instruction, a, b int32) {
	product := int64(a) * int64(b)
	cpu.writeReg32(i.regIndex, uint32(product))
	cpu.cf = product != int64(int32(product))
	cpu.of = cpu.cf
}

func opIMULRegRM16(cpu *CPU, i *Instruction) *Fault {
	src, fault := modRead[uint16](cpu, &i.modrm)
	if fault != nil {
		return fault
	}
	imulReg16(cpu, i, int16(cpu.readReg16(i.regIndex)), int16(src))
	return nil
}

func opIMULRegRM32(cpu *CPU, i *Instruction) *Fault {
	src, fault := modRead[uint32](cpu, &i.modrm)
	if fault != nil {
		return fault
	}
	imulReg32(cpu, i, int32(cpu.readReg32(i.regIndex)), int32(src))
	return nil
}

func opIMULRegRMImm16(cpu *CPU, i *Instruction) *Fault {
	src, fault := modRead[uint16](cpu, &i.modrm)
	if fault != nil {
		return fault
	}
	imulReg16(cpu, i, int16(src), int16(i.imm16()))
	return nil
}

func opIMULRegRMImm32(cpu *CPU, i *Instruction) *Fault {
	src, fault := modRead[uint32](cpu, &i.modrm)
	if fault != nil {
		return fault
	}
	imulReg32(cpu, i, int32(src), int32(i.imm32()))
	return nil
}

func opIMULRegRMImm8w(cpu *CPU, i *Instruction) *Fault {
	src, fault := modRead[uint16](cpu, &i.modrm)
	if fault != nil {
		return fault
	}
	imulReg16(cpu, i, int16(src), int16(int8(i.imm8())))
	return nil
}

func opIMULRegRMImm8d(cpu *CPU, i *Instruction) *Fault {
	src, fault := modRead[uint32](cpu, &i.modrm)
	if fault != nil {
		return fault
	}
	imulReg32(cpu, i, int32(src), int32(int8(i.imm8())))
	return nil
}

func opDIVRM8(cpu *CPU, i *Instruction) *Fault {
	divisor, fault := modRead[uint8](cpu, &i.modrm)
	if fault != nil {
		return fault
	}
	if divisor == 0 {
		return cpu.deFault("divide by zero")
	}
	dividend := uint16(cpu.readReg16(regAX))
	quotient := dividend / uint16(divisor)
	if quotient > 0xff {
		return cpu.deFault("divide overflow")
	}
	cpu.writeReg8(regAL, uint8(quotient))
	cpu.writeReg8(regAH, uint8(dividend%uint16(divisor)))
	return nil
}

func opDIVRM16(cpu *CPU, i *Instruction) *Fault {
	divisor, fault := modRead[uint16](cpu, &i.modrm)
	if fault != nil {
		return fault
	}
	if divisor == 0 {
		return cpu.deFault("divide by zero")
	}
	dividend := uint32(cpu.readReg16(regDX))<<16 | uint32(cpu.readReg16(regAX))
	quotient := dividend / uint32(divisor)
	if quotient > 0xffff {
		return cpu.deFault("divide overflow")
	}
	cpu.writeReg16(regAX, uint16(quotient))
	cpu.writeReg16(regDX, uint16(dividend%uint32(divisor)))
	return nil
}

func opDIVRM32(cpu *CPU, i *Instruction) *Fault {
	divisor, fault := modRead[uint32](cpu, &i.modrm)
	if fault != nil {
		return fault
	}
	if divisor == 0 {
		return cpu.deFault("divide by zero")
	}
	dividend := uint64(cpu.readReg32(regDX))<<32 | uint64(cpu.readReg32(regAX))
	quotient := dividend / uint64(divisor)
	if quotient > 0xffffffff {
		return cpu.deFault("divide overflow")
	}
	cpu.writeReg32(regAX, uint32(quotient))
	cpu.writeReg32(regDX, uint32(dividend%uint64(divisor)))
	return nil
}

func opIDIVRM8(cpu *CPU, i *Instruction) *Fault {
	raw, fault := modRead[uint8](cpu, &i.modrm)
	if fault != nil {
		return fault
	}
	divisor := int16(int8(raw))
	if divisor == 0 {
		return cpu.deFault("divide by zero")
	}
	dividend := int16(cpu.readReg16(regAX))
	quotient := dividend / divisor
	if quotient != int16(int8(quotient)) {
		return cpu.deFault("divide overflow")
	}
	cpu.writeReg8(regAL, uint8(quotient))
	cpu.writeReg8(regAH, uint8(dividend%divisor))
	return nil
}

func opIDIVRM16(cpu *CPU, i *Instruction) *Fault {
	raw, fault := modRead[uint16](cpu, &i.modrm)
	if fault != nil {
		return fault
	}
	divisor := int32(int16(raw))
	if divisor == 0 {
		return cpu.deFault("divide by zero")
	}
	dividend := int32(uint32(cpu.readReg16(regDX))<<16 | uint32(cpu.readReg16(regAX)))
	quotient := dividend / divisor
	if quotient != int32(int16(quotient)) {
		return cpu.deFault("divide overflow")
	}
	cpu.writeReg16(regAX, uint16(quotient))
	cpu.writeReg16(regDX, uint16(dividend%divisor))
	return nil
}

func opIDIVRM32(cpu *CPU, i *Instruction) *Fault {
	raw, fault := modRead[uint32](cpu, &i.modrm)
	if fault != nil {
		return fault
	}
	divisor := int64(int32(raw))
	if divisor == 0 {
		return cpu.deFault("divide by zero")
	}
	dividend := int64(uint64(cpu.readReg32(regDX))<<32 | uint64(cpu.readReg32(regAX)))
	quotient := dividend / divisor
	if quotient != int64(int32(quotient)) {
		return cpu.deFault("divide overflow")
	}
	cpu.writeReg32(regAX, uint32(quotient))
	cpu.writeReg32(regDX, uint32(dividend%divisor))
	return nil
}

// Sign and zero extension moves.

func opCBW(cpu *CPU, _ *Instruction) *Fault {
	if cpu.readReg8(regAL)&0x80 != 0 {
		cpu.writeReg8(regAH, 0xff)
	} else {
		cpu.writeReg8(regAH, 0x00)
	}
	return nil
}

func opCWDE(cpu *CPU, _ *Instruction) *Fault {
	cpu.writeReg32(regAX, uint32(int32(int16(cpu.readReg16(regAX)))))
	return nil
}

func opCWD(cpu *CPU, _ *Instruction) *Fault {
	if cpu.readReg16(regAX)&0x8000 != 0 {
		cpu.writeReg16(regDX, 0xffff)
	} else {
		cpu.writeReg16(regDX, 0x0000)
	}
	return nil
}

func opCDQ(cpu *CPU, _ *Instruction) *Fault {
	if cpu.readReg32(regAX)&0x80000000 != 0 {
		cpu.writeReg32(regDX, 0xffffffff)
	} else {
		cpu.writeReg32(regDX, 0x00000000)
	}
	return nil
}

func opMOVZX16RM8(cpu *CPU, i *Instruction) *Fault {
	value, fault := modRead[uint8](cpu, &i.modrm)
	if fault != nil {
		return fault
	}
	cpu.writeReg16(i.regIndex, uint16(value))
	return nil
}

func opMOVZX32RM8(cpu *CPU, i *Instruction) *Fault {
	value, fault := modRead[uint8](cpu, &i.modrm)
	if fault != nil {
		return fault
	}
	cpu.writeReg32(i.regIndex, uint32(value))
	return nil
}

func opMOVZX32RM16(cpu *CPU, i *Instruction) *Fault {
	value, fault := modRead[uint16](cpu, &i.modrm)
	if fault != nil {
		return fault
	}
	cpu.writeReg32(i.regIndex, uint32(value))
	return nil
}

func opMOVSX16RM8(cpu *CPU, i *Instruction) *Fault {
	value, fault := modRead[uint8](cpu, &i.modrm)
	if fault != nil {
		return fault
	}
	cpu.writeReg16(i.regIndex, uint16(int16(int8(value))))
	return nil
}

func opMOVSX32RM8(cpu *CPU, i *Instruction) *Fault {
	value, fault := modRead[uint8](cpu, &i.modrm)
	if fault != nil {
		return fault
	}
	cpu.writeReg32(i.regIndex, uint32(int32(int8(value))))
	return nil
}

func opMOVSX32RM16(cpu *CPU, i *Instruction) *Fault {
	value, fault := modRead[uint16](cpu, &i.modrm)
	if fault != nil {
		return fault
	}
	cpu.writeReg32(i.regIndex, uint32(int32(int16(value))))
	return nil
}

func opBSWAP(cpu *CPU, i *Instruction) *Fault {
	v := cpu.readReg32(i.regIndex)
	cpu.writeReg32(i.regIndex,
		v<<24|v>>24|(v&0x0000ff00)<<8|(v&0x00ff0000)>>8)
	return nil
}

// Bit test family. When the bit index comes from a register and the
// operand is memory, the index addresses a bit array beyond the operand.

const (
	btOpTest = iota
	btOpSet
	btOpReset
	btOpComplement
)

func btApply[T word](op int, original, mask T) T {
	switch op {
	case btOpSet:
		return original | mask
	case btOpReset:
		return original &^ mask
	case btOpComplement:
		return original ^ mask
	}
	return original
}

func btImm[T word](op int) execFn {
	return func(cpu *CPU, i *Instruction) *Fault {
		original, fault := modRead[T](cpu, &i.modrm)
		if fault != nil {
			return fault
		}
		mask := T(1) << (uint32(i.imm8()) & uint32(bitCount[T]()-1))
		cpu.cf = original&mask != 0
		if op != btOpTest {
			return modWrite(cpu, &i.modrm, btApply(op, original, mask))
		}
		return nil
	}
}

func btReg[T word](op int) execFn {
	return func(cpu *CPU, i *Instruction) *Fault {
		index := uint32(getReg[T](cpu, i.regIndex))
		if i.modrm.isRegister() {
			original := getReg[T](cpu, i.modrm.regIndex)
			mask := T(1) << (index & uint32(bitCount[T]()-1))
			cpu.cf = original&mask != 0
			if op != btOpTest {
				setReg(cpu, i.modrm.regIndex, btApply(op, original, mask))
			}
			return nil
		}
		offset := i.modrm.offset + index/8
		original, fault := cpu.readMem8(i.modrm.seg, offset)
		if fault != nil {
			return fault
		}
		mask := uint8(1) << (index & 7)
		cpu.cf = original&mask != 0
		if op != btOpTest {
			return cpu.writeMem8(i.modrm.seg, offset, btApply(op, original, mask))
		}
		return nil
	}
}

func doBSF[T word](cpu *CPU, src T) T {
	cpu.setZF(src == 0)
	if src == 0 {
		return 0
	}
	for n := uint(0); n < bitCount[T](); n++ {
		if src&(T(1)<<n) != 0 {
			return T(n)
		}
	}
	return 0
}

func doBSR[T word](cpu *CPU, src T) T {
	cpu.setZF(src == 0)
	if src == 0 {
		return 0
	}
	for n := int(bitCount[T]()) - 1; n >= 0; n-- {
		if src&(T(1)<<uint(n)) != 0 {
			return T(n)
		}
	}
	return 0
}

func opBSF16(cpu *CPU, i *Instruction) *Fault {
	src, fault := modRead[uint16](cpu, &i.modrm)
	if fault != nil {
		return fault
	}
	cpu.writeReg16(i.regIndex, doBSF(cpu, src))
	return nil
}

func opBSF32(cpu *CPU, i *Instruction) *Fault {
	src, fault := modRead[uint32](cpu, &i.modrm)
	if fault != nil {
		return fault
	}
	cpu.writeReg32(i.regIndex, doBSF(cpu, src))
	return nil
}

func opBSR16(cpu *CPU, i *Instruction) *Fault {
	src, fault := modRead[uint16](cpu, &i.modrm)
	if fault != nil {
		return fault
	}
	cpu.writeReg16(i.regIndex, doBSR(cpu, src))
	return nil
}

func opBSR32(cpu *CPU, i *Instruction) *Fault {
	src, fault := modRead[uint32](cpu, &i.modrm)
	if fault != nil {
		return fault
	}
	cpu.writeReg32(i.regIndex, doBSR(cpu, src))
	return nil
}

// CMPXCHG compares against the accumulator; XADD exchanges then adds.

func cmpxchg[T word](cpu *CPU, i *Instruction) *Fault {
	current, fault := modRead[T](cpu, &i.modrm)
	if fault != nil {
		return fault
	}
	acc := getReg[T](cpu, regAX)
	subK(cpu, acc, current)
	if acc == current {
		return modWrite(cpu, &i.modrm, getReg[T](cpu, i.regIndex))
	}
	setReg(cpu, regAX, current)
	return nil
}

func opCMPXCHG8(cpu *CPU, i *Instruction) *Fault {
	return cmpxchg[uint8](cpu, i)
}

func opCMPXCHG16(cpu *CPU, i *Instruction) *Fault {
	return cmpxchg[uint16](cpu, i)
}

func opCMPXCHG32(cpu *CPU, i *Instruction) *Fault {
	return cmpxchg[uint32](cpu, i)
}

func xadd[T word](cpu *CPU, i *Instruction) *Fault {
	dest, fault := modRead[T](cpu, &i.modrm)
	if fault != nil {
		return fault
	}
	src := getReg[T](cpu, i.regIndex)
	result := addK(cpu, dest, src)
	if fault := modWrite(cpu, &i.modrm, result); fault != nil {
		return fault
	}
	setReg(cpu, i.regIndex, dest)
	return nil
}

func opXADD8(cpu *CPU, i *Instruction) *Fault {
	return xadd[uint8](cpu, i)
}

func opXADD16(cpu *CPU, i *Instruction) *Fault {
	return xadd[uint16](cpu, i)
}

func opXADD32(cpu *CPU, i *Instruction) *Fault {
	return xadd[uint32](cpu, i)
}

// BCD adjustments.

func opAAA(cpu *CPU, _ *Instruction) *Fault {
	if cpu.readReg8(regAL)&0x0f > 9 || cpu.af {
		cpu.writeReg16(regAX, cpu.readReg16(regAX)+0x0106)
		cpu.af = true
		cpu.cf = true
	} else {
		cpu.af = false
		cpu.cf = false
	}
	cpu.writeReg8(regAL, cpu.readReg8(regAL)&0x0f)
	return nil
}

func opAAS(cpu *CPU, _ *Instruction) *Fault {
	if cpu.readReg8(regAL)&0x0f > 9 || cpu.af {
		cpu.writeReg16(regAX, cpu.readReg16(regAX)-6)
		cpu.writeReg8(regAH, cpu.readReg8(regAH)-1)
		cpu.af = true
		cpu.cf = true
	} else {
		cpu.af = false
		cpu.cf = false
	}
	cpu.writeReg8(regAL, cpu.readReg8(regAL)&0x0f)
	return nil
}

func opAAM(cpu *CPU, i *Instruction) *Fault {
	if i.imm8() == 0 {
		return cpu.deFault("AAM with zero immediate")
	}
	tempAL := cpu.readReg8(regAL)
	cpu.writeReg8(regAH, tempAL/i.imm8())
	cpu.writeReg8(regAL, tempAL%i.imm8())
	updateFlags(cpu, cpu.readReg8(regAL))
	cpu.af = false
	return nil
}

func opAAD(cpu *CPU, i *Instruction) *Fault {
	tempAL := cpu.readReg8(regAL)
	tempAH := cpu.readReg8(regAH)
	cpu.writeReg8(regAL, tempAL+tempAH*i.imm8())
	cpu.writeReg8(regAH, 0)
	updateFlags(cpu, cpu.readReg8(regAL))
	cpu.af = false
	return nil
}

func opDAA(cpu *CPU, _ *Instruction) *Fault {
	oldCF := cpu.cf
	oldAL := cpu.readReg8(regAL)

	cpu.cf = false
	if oldAL&0x0f > 0x09 || cpu.af {
		carry := uint16(oldAL)+6 > 0xff
		cpu.writeReg8(regAL, oldAL+6)
		cpu.cf = oldCF || carry
		cpu.af = true
	} else {
		cpu.af = false
	}

	if oldAL > 0x99 || oldCF {
		cpu.writeReg8(regAL, cpu.readReg8(regAL)+0x60)
		cpu.cf = true
	} else {
		cpu.cf = false
	}
	updateFlags(cpu, cpu.readReg8(regAL))
	return nil
}

func opDAS(cpu *CPU, _ *Instruction) *Fault {
	oldCF := cpu.cf
	oldAL := cpu.readReg8(regAL)

	cpu.cf = false
	if oldAL&0x0f > 0x09 || cpu.af {
		borrow := oldAL < 6
		cpu.writeReg8(regAL, oldAL-6)
		cpu.cf = oldCF || borrow
		cpu.af = true
	} else {
		cpu.af = false
	}

	if oldAL > 0x99 || oldCF {
		cpu.writeReg8(regAL, cpu.readReg8(regAL)-0x60)
		cpu.cf = true
	}
	updateFlags(cpu, cpu.readReg8(regAL))
	return nil
}

func opSALC(cpu *CPU, _ *Instruction) *Fault {
	if cpu.cf {
		cpu.writeReg8(regAL, 0xff)
	} else {
		cpu.writeReg8(regAL, 0x00)
	}
	return nil
}

// Simple flag instructions.

func opNOP(_ *CPU, _ *Instruction) *Fault {
	return nil
}

// x87 escape range; there is no math unit, opcodes decode and do nothing.
func opESCAPE(_ *CPU, _ *Instruction) *Fault {
	return nil
}

func opCMC(cpu *CPU, _ *Instruction) *Fault {
	cpu.cf = !cpu.cf
	return nil
}

func opCLC(cpu *CPU, _ *Instruction) *Fault {
	cpu.cf = false
	return nil
}

func opSTC(cpu *CPU, _ *Instruction) *Fault {
	cpu.cf = true
	return nil
}

func opCLD(cpu *CPU, _ *Instruction) *Fault {
	cpu.df = false
	return nil
}

func opSTD(cpu *CPU, _ *Instruction) *Fault {
	cpu.df = true
	return nil
}

func opCLI(cpu *CPU, _ *Instruction) *Fault {
	if !cpu.pe() || cpu.iopl >= cpu.cpl() {
		cpu.iflag = false
		return nil
	}
	if cpu.cr4&(cr4VME|cr4PVI) == 0 {
		return cpu.gpFault(0, "CLI with VME=0 and PVI=0")
	}
	cpu.vif = false
	return nil
}

func opSTI(cpu *CPU, _ *Instruction) *Fault {
	if !cpu.pe() || cpu.iopl >= cpu.cpl() {
		cpu.iflag = true
		cpu.nextUninterruptible = true
		return nil
	}
	if cpu.cr4&(cr4VME|cr4PVI) == 0 {
		return cpu.gpFault(0, "STI with VME=0 and PVI=0")
	}
	if cpu.vip {
		return cpu.gpFault(0, "STI with VIP=1")
	}
	cpu.vif = true
	return nil
}

func opSAHF(cpu *CPU, _ *Instruction) *Fault {
	ah := uint32(cpu.readReg8(regAH))
	cpu.cf = ah&flagCF != 0
	cpu.setPF(ah&flagPF != 0)
	cpu.af = ah&flagAF != 0
	cpu.setZF(ah&flagZF != 0)
	cpu.setSF(ah&flagSF != 0)
	return nil
}

func opLAHF(cpu *CPU, _ *Instruction) *Fault {
	cpu.writeReg8(regAH, uint8(uint32(2)|
		boolBit(cpu.cf, flagCF)|
		boolBit(cpu.getPF(), flagPF)|
		boolBit(cpu.af, flagAF)|
		boolBit(cpu.getZF(), flagZF)|
		boolBit(cpu.getSF(), flagSF)))
	return nil
}

// Conditional moves and sets.

func opCMOVcc16(cpu *CPU, i *Instruction) *Fault {
	value, fault := modRead[uint16](cpu, &i.modrm)
	if fault != nil {
		return fault
	}
	if cpu.evaluate(i.cc()) {
		cpu.writeReg16(i.regIndex, value)
	}
	return nil
}

func opCMOVcc32(cpu *CPU, i *Instruction) *Fault {
	value, fault := modRead[uint32](cpu, &i.modrm)
	if fault != nil {
		return fault
	}
	if cpu.evaluate(i.cc()) {
		cpu.writeReg32(i.regIndex, value)
	}
	return nil
}

func opSETcc(cpu *CPU, i *Instruction) *Fault {
	var value uint8
	if cpu.evaluate(i.cc()) {
		value = 1
	}
	return modWrite(cpu, &i.modrm, value)
}

func opBOUND(cpu *CPU, i *Instruction) *Fault {
	if i.modrm.isRegister() {
		return cpu.udFault("BOUND with register operand")
	}
	if !i.o32 {
		lower, fault := cpu.readMem16(i.modrm.seg, i.modrm.offset)
		if fault != nil {
			return fault
		}
		upper, fault := cpu.readMem16(i.modrm.seg, i.modrm.offset+2)
		if fault != nil {
			return fault
		}
		index := int16(cpu.readReg16(i.regIndex))
		if index < int16(lower) || index > int16(upper) {
			return cpu.brFault("array index outside bounds")
		}
		return nil
	}
	lower, fault := cpu.readMem32(i.modrm.seg, i.modrm.offset)
	if fault != nil {
		return fault
	}
	upper, fault := cpu.readMem32(i.modrm.seg, i.modrm.offset+4)
	if fault != nil {
		return fault
	}
	index := int32(cpu.readReg32(i.regIndex))
	if index < int32(lower) || index > int32(upper) {
		return cpu.brFault("array index outside bounds")
	}
	return nil
}
