/*
   ModR/M and SIB decoding and operand resolution.

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

type modRM struct {
	rm        uint8
	sib       uint8
	hasSIB    bool
	dispBytes int
	disp      uint32
	a32       bool

	isReg    bool
	regIndex int

	seg      int
	offset   uint32
	resolved bool
}

func (m *modRM) isRegister() bool {
	return m.isReg
}

// decodeModRM consumes the ModR/M byte, optional SIB and displacement.
func (cpu *CPU) decodeModRM(m *modRM, a32 bool) *Fault {
	m.a32 = a32
	rm, fault := cpu.fetch8()
	if fault != nil {
		return fault
	}
	m.rm = rm

	if a32 {
		switch rm & 0xc0 {
		case 0x00:
			if rm&0x07 == 5 {
				m.dispBytes = 4
			}
		case 0x40:
			m.dispBytes = 1
		case 0x80:
			m.dispBytes = 4
		case 0xc0:
			m.isReg = true
			m.regIndex = int(rm & 7)
			return nil
		}
		if rm&0x07 == 4 {
			m.hasSIB = true
			sib, fault := cpu.fetch8()
			if fault != nil {
				return fault
			}
			m.sib = sib
			if sib&0x07 == 5 {
				switch (rm >> 6) & 3 {
				case 0, 2:
					m.dispBytes = 4
				case 1:
					m.dispBytes = 1
				}
			}
		}
	} else {
		switch rm & 0xc0 {
		case 0x00:
			if rm&0x07 == 6 {
				m.dispBytes = 2
			}
		case 0x40:
			m.dispBytes = 1
		case 0x80:
			m.dispBytes = 2
		case 0xc0:
			m.isReg = true
			m.regIndex = int(rm & 7)
			return nil
		}
	}

	switch m.dispBytes {
	case 1:
		b, fault := cpu.fetch8()
		if fault != nil {
			return fault
		}
		m.disp = uint32(int32(int8(b)))
	case 2:
		w, fault := cpu.fetch16()
		if fault != nil {
			return fault
		}
		m.disp = uint32(w)
	case 4:
		d, fault := cpu.fetch32()
		if fault != nil {
			return fault
		}
		m.disp = d
	}
	return nil
}

// defaultToSS routes BP/ESP based forms to the stack segment unless an
// explicit prefix was given.
func (m *modRM) defaultToSS(cpu *CPU) {
	if cpu.segPrefix == SegNone {
		m.seg = SegSS
	}
}

// resolve computes the effective segment and offset from the current
// register state. Register forms resolve to nothing.
func (m *modRM) resolve(cpu *CPU) {
	m.resolved = true
	if m.isReg {
		return
	}
	m.seg = cpu.currentSegment()
	if m.a32 {
		m.resolve32(cpu)
	} else {
		m.resolve16(cpu)
	}
}

func (m *modRM) resolve16(cpu *CPU) {
	disp := uint16(m.disp)
	var offset uint16
	switch m.rm & 7 {
	case 0:
		offset = cpu.readReg16(regBX) + cpu.readReg16(regSI) + disp
	case 1:
		offset = cpu.readReg16(regBX) + cpu.readReg16(regDI) + disp
	case 2:
		m.defaultToSS(cpu)
		offset = cpu.readReg16(regBP) + cpu.readReg16(regSI) + disp
	case 3:
		m.defaultToSS(cpu)
		offset = cpu.readReg16(regBP) + cpu.readReg16(regDI) + disp
	case 4:
		offset = cpu.readReg16(regSI) + disp
	case 5:
		offset = cpu.readReg16(regDI) + disp
	case 6:
		if m.rm&0xc0 == 0 {
			offset = disp
		} else {
			m.defaultToSS(cpu)
			offset = cpu.readReg16(regBP) + disp
		}
	default:
		offset = cpu.readReg16(regBX) + disp
	}
	m.offset = uint32(offset)
}

func (m *modRM) resolve32(cpu *CPU) {
	switch m.rm & 7 {
	case 0:
		m.offset = cpu.readReg32(regAX) + m.disp
	case 1:
		m.offset = cpu.readReg32(regCX) + m.disp
	case 2:
		m.offset = cpu.readReg32(regDX) + m.disp
	case 3:
		m.offset = cpu.readReg32(regBX) + m.disp
	case 4:
		m.offset = m.evaluateSIB(cpu)
	case 6:
		m.offset = cpu.readReg32(regSI) + m.disp
	case 7:
		m.offset = cpu.readReg32(regDI) + m.disp
	default: // 5
		if m.rm&0xc0 == 0 {
			m.offset = m.disp
		} else {
			m.defaultToSS(cpu)
			m.offset = cpu.readReg32(regBP) + m.disp
		}
	}
}

func (m *modRM) evaluateSIB(cpu *CPU) uint32 {
	scale := uint32(1) << ((m.sib >> 6) & 3)

	var index uint32
	if idx := (m.sib >> 3) & 7; idx != 4 {
		index = cpu.readReg32(int(idx))
	}

	base := m.disp
	switch m.sib & 7 {
	case 4:
		m.defaultToSS(cpu)
		base += cpu.readReg32(regSP)
	case 5:
		switch (m.rm >> 6) & 3 {
		case 1, 2:
			m.defaultToSS(cpu)
			base += cpu.readReg32(regBP)
		}
	default:
		base += cpu.readReg32(int(m.sib & 7))
	}

	return scale*index + base
}

// modRead and modWrite access the operand the ModR/M names.
func modRead[T word](cpu *CPU, m *modRM) (T, *Fault) {
	if m.isReg {
		return getReg[T](cpu, m.regIndex), nil
	}
	return readSeg[T](cpu, m.seg, m.offset)
}

func modWrite[T word](cpu *CPU, m *modRM, value T) *Fault {
	if m.isReg {
		setReg(cpu, m.regIndex, value)
		return nil
	}
	return writeSeg(cpu, m.seg, m.offset, value)
}

// modWriteSpecial implements the SLDT/STR/SMSW/MOV rm,seg quirk: a
// register destination takes the full operand width, memory always 16
// bits.
func (cpu *CPU) modWriteSpecial(m *modRM, value uint32, o32 bool) *Fault {
	if o32 && m.isReg {
		setReg(cpu, m.regIndex, value)
		return nil
	}
	return modWrite(cpu, m, uint16(value))
}
