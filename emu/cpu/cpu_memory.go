/*
   Memory pipeline: registers, segmentation checks, linear access.

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

// Register file access. The byte registers alias the low words: indices
// 0-3 select the low byte of AX/CX/DX/BX, 4-7 the high byte.

func (cpu *CPU) readReg8(index int) uint8 {
	if index < 4 {
		return uint8(cpu.gpr[index])
	}
	return uint8(cpu.gpr[index-4] >> 8)
}

func (cpu *CPU) writeReg8(index int, value uint8) {
	if index < 4 {
		cpu.gpr[index] = cpu.gpr[index]&^0xff | uint32(value)
	} else {
		cpu.gpr[index-4] = cpu.gpr[index-4]&^0xff00 | uint32(value)<<8
	}
}

func (cpu *CPU) readReg16(index int) uint16 {
	return uint16(cpu.gpr[index])
}

func (cpu *CPU) writeReg16(index int, value uint16) {
	cpu.gpr[index] = cpu.gpr[index]&^0xffff | uint32(value)
}

func (cpu *CPU) readReg32(index int) uint32 {
	return cpu.gpr[index]
}

func (cpu *CPU) writeReg32(index int, value uint32) {
	cpu.gpr[index] = value
}

func getReg[T word](cpu *CPU, index int) T {
	switch bitCount[T]() {
	case 8:
		return T(cpu.readReg8(index))
	case 16:
		return T(cpu.readReg16(index))
	default:
		return T(cpu.readReg32(index))
	}
}

func setReg[T word](cpu *CPU, index int, value T) {
	switch bitCount[T]() {
	case 8:
		cpu.writeReg8(index, uint8(value))
	case 16:
		cpu.writeReg16(index, uint16(value))
	default:
		cpu.writeReg32(index, uint32(value))
	}
}

// Address-size sized register access, for string indexes and JCXZ/LOOP.

func (cpu *CPU) readRegAddr(index int) uint32 {
	if cpu.effA32 {
		return cpu.gpr[index]
	}
	return uint32(uint16(cpu.gpr[index]))
}

func (cpu *CPU) writeRegAddr(index int, value uint32) {
	if cpu.effA32 {
		cpu.gpr[index] = value
	} else {
		cpu.writeReg16(index, uint16(value))
	}
}

// stepRegAddr advances a string index register by step, honoring DF.
func (cpu *CPU) stepRegAddr(index int, step uint32) {
	if cpu.df {
		cpu.writeRegAddr(index, cpu.readRegAddr(index)-step)
	} else {
		cpu.writeRegAddr(index, cpu.readRegAddr(index)+step)
	}
}

// decCXAddr decrements CX or ECX and reports reaching zero.
func (cpu *CPU) decCXAddr() bool {
	cpu.writeRegAddr(regCX, cpu.readRegAddr(regCX)-1)
	return cpu.readRegAddr(regCX) == 0
}

// currentSegment is the data segment in effect: DS or the prefix.
func (cpu *CPU) currentSegment() int {
	if cpu.segPrefix != SegNone {
		return cpu.segPrefix
	}
	return SegDS
}

// validateAddress applies the segmentation checks before an access of the
// given size at offset through a cached descriptor.
func (cpu *CPU) validateAddress(d *descriptor, offset uint32, size uint32, access int) *Fault {
	if !cpu.vm {
		if access != accessExecute && d.isNull() {
			if d.loadedInSS {
				return cpu.ssFault(0, "access through null selector")
			}
			return cpu.gpFault(0, "access through null selector")
		}

		switch access {
		case accessRead:
			if d.isCode() && !d.readable() {
				return cpu.gpFault(0, "read from non-readable code segment")
			}
		case accessWrite:
			if !d.isData() {
				if d.loadedInSS {
					return cpu.ssFault(0, "write to non-data segment")
				}
				return cpu.gpFault(0, "write to non-data segment")
			}
			if !d.writable() {
				if d.loadedInSS {
					return cpu.ssFault(0, "write to non-writable data segment")
				}
				return cpu.gpFault(0, "write to non-writable data segment")
			}
		}
	}

	if offset+(size-1) > d.effLimit || offset+(size-1) < offset {
		if d.loadedInSS {
			return cpu.ssFault(0, "access outside segment limit")
		}
		return cpu.gpFault(0, "access outside segment limit")
	}
	return nil
}

// effCPLCurrent selects the running CPL for page checks.
const effCPLCurrent = 0xff

// readLinear reads through paging at a linear address. Accesses that cross
// a page boundary split into byte reads so each part faults independently.
func readLinear[T word](cpu *CPU, linear uint32, access int, effCPL uint8) (T, *Fault) {
	size := uint32(bitCount[T]() / 8)
	if size > 1 && cpu.pg() && linear&0xfffff000 != (linear+size-1)&0xfffff000 {
		var value uint32
		for i := uint32(0); i < size; i++ {
			b, fault := readLinear[uint8](cpu, linear+i, access, effCPL)
			if fault != nil {
				return 0, fault
			}
			value |= uint32(b) << (8 * i)
		}
		return T(value), nil
	}

	phys, fault := cpu.translate(linear, access, effCPL)
	if fault != nil {
		return 0, fault
	}
	switch size {
	case 1:
		return T(cpu.mem.Read8(phys)), nil
	case 2:
		return T(cpu.mem.Read16(phys)), nil
	default:
		return T(cpu.mem.Read32(phys)), nil
	}
}

func writeLinear[T word](cpu *CPU, linear uint32, value T, effCPL uint8) *Fault {
	size := uint32(bitCount[T]() / 8)
	if size > 1 && cpu.pg() && linear&0xfffff000 != (linear+size-1)&0xfffff000 {
		for i := uint32(0); i < size; i++ {
			if fault := writeLinear[uint8](cpu, linear+i, uint8(uint32(value)>>(8*i)), effCPL); fault != nil {
				return fault
			}
		}
		return nil
	}

	phys, fault := cpu.translate(linear, accessWrite, effCPL)
	if fault != nil {
		return fault
	}
	switch size {
	case 1:
		cpu.mem.Write8(phys, uint8(value))
	case 2:
		cpu.mem.Write16(phys, uint16(value))
	default:
		cpu.mem.Write32(phys, uint32(value))
	}
	return nil
}

// readSegDesc reads through an explicit cached descriptor.
func readSegDesc[T word](cpu *CPU, d *descriptor, offset uint32, access int) (T, *Fault) {
	if cpu.pe() && !cpu.vm {
		if fault := cpu.validateAddress(d, offset, uint32(bitCount[T]()/8), access); fault != nil {
			return 0, fault
		}
	}
	return readLinear[T](cpu, d.linearAddress(offset), access, effCPLCurrent)
}

func writeSegDesc[T word](cpu *CPU, d *descriptor, offset uint32, value T) *Fault {
	if cpu.pe() && !cpu.vm {
		if fault := cpu.validateAddress(d, offset, uint32(bitCount[T]()/8), accessWrite); fault != nil {
			return fault
		}
	}
	return writeLinear(cpu, d.linearAddress(offset), value, effCPLCurrent)
}

// readSeg and writeSeg go through a segment register's cache.
func readSeg[T word](cpu *CPU, seg int, offset uint32) (T, *Fault) {
	return readSegDesc[T](cpu, &cpu.cache[seg], offset, accessRead)
}

func writeSeg[T word](cpu *CPU, seg int, offset uint32, value T) *Fault {
	return writeSegDesc(cpu, &cpu.cache[seg], offset, value)
}

// Width-named wrappers, for call sites that are not generic themselves.

func (cpu *CPU) readMem8(seg int, offset uint32) (uint8, *Fault) {
	return readSeg[uint8](cpu, seg, offset)
}

func (cpu *CPU) readMem16(seg int, offset uint32) (uint16, *Fault) {
	return readSeg[uint16](cpu, seg, offset)
}

func (cpu *CPU) readMem32(seg int, offset uint32) (uint32, *Fault) {
	return readSeg[uint32](cpu, seg, offset)
}

func (cpu *CPU) writeMem8(seg int, offset uint32, value uint8) *Fault {
	return writeSeg(cpu, seg, offset, value)
}

func (cpu *CPU) writeMem16(seg int, offset uint32, value uint16) *Fault {
	return writeSeg(cpu, seg, offset, value)
}

func (cpu *CPU) writeMem32(seg int, offset uint32, value uint32) *Fault {
	return writeSeg(cpu, seg, offset, value)
}

// Metal access reads and writes at a linear address as the kernel would:
// supervisor rights, no segmentation. Used for descriptor tables and TSS
// images. A fault on this path is not raised: reads return zero and writes
// are dropped.

func (cpu *CPU) readMetal16(linear uint32) uint16 {
	v, fault := readLinear[uint16](cpu, linear, accessRead, 0)
	if fault != nil {
		return 0
	}
	return v
}

func (cpu *CPU) readMetal32(linear uint32) uint32 {
	v, fault := readLinear[uint32](cpu, linear, accessRead, 0)
	if fault != nil {
		return 0
	}
	return v
}

func (cpu *CPU) writeMetal16(linear uint32, value uint16) {
	_ = writeLinear(cpu, linear, value, 0)
}

func (cpu *CPU) writeMetal32(linear uint32, value uint32) {
	_ = writeLinear(cpu, linear, value, 0)
}

// readLogical reads an offset:selector far pointer at seg:offset.
func readLogical[T word](cpu *CPU, seg int, offset uint32) (logicalAddr, *Fault) {
	off, fault := readSeg[T](cpu, seg, offset)
	if fault != nil {
		return logicalAddr{}, fault
	}
	sel, fault := cpu.readMem16(seg, offset+uint32(bitCount[T]()/8))
	if fault != nil {
		return logicalAddr{}, fault
	}
	return logicalAddr{selector: sel, offset: uint32(off)}, nil
}

// snoop touches seg:offset for access rights and translation without
// transferring data, so multi-write instructions can fault up front.
func (cpu *CPU) snoop(seg int, offset uint32, access int) *Fault {
	if cpu.pe() && !cpu.vm {
		if fault := cpu.validateAddress(&cpu.cache[seg], offset, 1, access); fault != nil {
			return fault
		}
	}
	_, fault := cpu.translate(cpu.cache[seg].linearAddress(offset), access, effCPLCurrent)
	return fault
}

// Instruction stream reads fetch at CS:EIP with execute access and advance
// EIP.

func (cpu *CPU) fetch8() (uint8, *Fault) {
	v, fault := readSegDesc[uint8](cpu, &cpu.cache[SegCS], cpu.currentIP(), accessExecute)
	if fault != nil {
		return 0, fault
	}
	cpu.eip++
	return v, nil
}

func (cpu *CPU) fetch16() (uint16, *Fault) {
	v, fault := readSegDesc[uint16](cpu, &cpu.cache[SegCS], cpu.currentIP(), accessExecute)
	if fault != nil {
		return 0, fault
	}
	cpu.eip += 2
	return v, nil
}

func (cpu *CPU) fetch32() (uint32, *Fault) {
	v, fault := readSegDesc[uint32](cpu, &cpu.cache[SegCS], cpu.currentIP(), accessExecute)
	if fault != nil {
		return 0, fault
	}
	cpu.eip += 4
	return v, nil
}

// currentIP masks EIP to 16 bits when CS is a 16-bit segment.
func (cpu *CPU) currentIP() uint32 {
	if cpu.a32 {
		return cpu.eip
	}
	return cpu.eip & 0xffff
}
