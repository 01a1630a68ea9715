/*
   Descriptor model: GDT/LDT/IDT walks and segment register loads.

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

// System descriptor type codes.
const (
	sysInvalid      = 0x0
	sysTSS16Avail   = 0x1
	sysLDT          = 0x2
	sysTSS16Busy    = 0x3
	sysCallGate16   = 0x4
	sysTaskGate     = 0x5
	sysIntGate16    = 0x6
	sysTrapGate16   = 0x7
	sysTSS32Avail   = 0x9
	sysTSS32Busy    = 0xb
	sysCallGate32   = 0xc
	sysIntGate32    = 0xe
	sysTrapGate32   = 0xf
)

// Descriptor lookup outcomes.
const (
	descOK = iota
	descNullSelector
	descLimitExceeded
)

// descriptor mirrors the raw 8-byte on-memory form plus lookup metadata.
// Both raw halves are preserved so the TSS busy bit can be written back
// in place.
type descriptor struct {
	low, high uint32

	base     uint32
	limit    uint32
	effLimit uint32
	typ      uint8 // 4-bit type field
	dpl      uint8
	seg      bool // S bit: segment vs system
	present  bool
	g, d     bool
	avl      bool

	// Lookup metadata, not part of the raw form.
	selector   uint16
	global     bool
	rpl        uint8
	err        int
	loadedInSS bool
}

func nullDescriptor() descriptor {
	return descriptor{err: descNullSelector}
}

func errorDescriptor(err int) descriptor {
	return descriptor{err: err}
}

// parseDescriptor decodes the 8-byte raw form.
func parseDescriptor(low, high uint32) descriptor {
	d := descriptor{low: low, high: high}
	d.seg = (high & 0x1000) != 0
	d.typ = uint8((high >> 8) & 0xf)
	d.dpl = uint8((high >> 13) & 3)
	d.present = (high & 0x8000) != 0
	d.avl = (high & 0x100000) != 0
	d.d = (high & 0x400000) != 0
	d.g = (high & 0x800000) != 0

	d.base = (low >> 16) | ((high & 0xff) << 16) | (high & 0xff000000)
	d.limit = (low & 0xffff) | (high & 0x000f0000)
	if d.g {
		d.effLimit = (d.limit << 12) | 0xfff
	} else {
		d.effLimit = d.limit
	}
	return d
}

func (d *descriptor) isNull() bool {
	return d.err == descNullSelector
}

func (d *descriptor) outsideTableLimits() bool {
	return d.err == descLimitExceeded
}

func (d *descriptor) isSegment() bool {
	return d.err == descOK && d.seg
}

func (d *descriptor) isSystem() bool {
	return d.err == descOK && !d.seg
}

func (d *descriptor) isCode() bool {
	return d.isSegment() && (d.typ&0x8) != 0
}

func (d *descriptor) isData() bool {
	return d.isSegment() && (d.typ&0x8) == 0
}

func (d *descriptor) conforming() bool {
	return d.isCode() && (d.typ&0x4) != 0
}

func (d *descriptor) nonconformingCode() bool {
	return d.isCode() && (d.typ&0x4) == 0
}

func (d *descriptor) readable() bool {
	if d.isCode() {
		return (d.typ & 0x2) != 0
	}
	return true
}

func (d *descriptor) writable() bool {
	if d.isData() {
		return (d.typ & 0x2) != 0
	}
	return false
}

func (d *descriptor) expandDown() bool {
	return d.isData() && (d.typ&0x4) != 0
}

func (d *descriptor) code32() bool {
	return d.d
}

func (d *descriptor) isTSS() bool {
	if !d.isSystem() {
		return false
	}
	switch d.typ {
	case sysTSS16Avail, sysTSS16Busy, sysTSS32Avail, sysTSS32Busy:
		return true
	}
	return false
}

func (d *descriptor) tss32() bool {
	return d.typ == sysTSS32Avail || d.typ == sysTSS32Busy
}

func (d *descriptor) tssBusy() bool {
	return d.typ == sysTSS16Busy || d.typ == sysTSS32Busy
}

func (d *descriptor) isLDT() bool {
	return d.isSystem() && d.typ == sysLDT
}

func (d *descriptor) isCallGate() bool {
	return d.isSystem() && (d.typ == sysCallGate16 || d.typ == sysCallGate32)
}

func (d *descriptor) isTaskGate() bool {
	return d.isSystem() && d.typ == sysTaskGate
}

func (d *descriptor) isIntGate() bool {
	return d.isSystem() && (d.typ == sysIntGate16 || d.typ == sysIntGate32)
}

func (d *descriptor) isTrapGate() bool {
	return d.isSystem() && (d.typ == sysTrapGate16 || d.typ == sysTrapGate32)
}

func (d *descriptor) isGate() bool {
	return d.isCallGate() || d.isTaskGate() || d.isIntGate() || d.isTrapGate()
}

func (d *descriptor) gate32() bool {
	return d.typ == sysCallGate32 || d.typ == sysIntGate32 || d.typ == sysTrapGate32
}

// gateSize is the width in bytes pushed through this gate.
func (d *descriptor) gateSize() int {
	if d.gate32() {
		return 4
	}
	return 2
}

func (d *descriptor) gateSelector() uint16 {
	return uint16(d.low >> 16)
}

func (d *descriptor) gateOffset() uint32 {
	return (d.low & 0xffff) | (d.high & 0xffff0000)
}

func (d *descriptor) gateParamCount() uint8 {
	return uint8(d.high & 0x1f)
}

func (d *descriptor) gateEntry() logicalAddr {
	return logicalAddr{selector: d.gateSelector(), offset: d.gateOffset()}
}

// setTSSBusy and setTSSAvailable flip the busy bit in the raw high half so
// the descriptor can be written back to the GDT.
func (d *descriptor) setTSSBusy() {
	d.high |= 0x200
	d.typ |= 0x2
}

func (d *descriptor) setTSSAvailable() {
	d.high &^= 0x200
	d.typ &^= 0x2
}

// linearAddress forms base+offset for a cached segment descriptor.
func (d *descriptor) linearAddress(offset uint32) uint32 {
	return d.base + offset
}

// realModeDescriptor synthesizes the shadow descriptor a selector load gets
// in real mode or VM86: base = selector<<4, 64K limit, writable data (CS
// additionally executable/readable).
func (cpu *CPU) realModeDescriptor(selector uint16, seg int) descriptor {
	d := descriptor{}
	d.base = uint32(selector) << 4
	d.limit = 0xffff
	d.effLimit = 0xffff
	d.seg = true
	d.present = true
	d.typ = 0x3 // data, writable, accessed
	if seg == SegCS {
		d.typ = 0xb // code, readable, accessed
	}
	d.selector = selector
	if cpu.vm {
		d.rpl = 3
		d.dpl = 3
	}
	return d
}

// getDescriptor walks the GDT or LDT for a selector. Faults never arise
// here; lookup problems are recorded in the descriptor for the caller to
// convert with the error code that fits its context.
func (cpu *CPU) getDescriptor(selector uint16) descriptor {
	if (selector & 0xfffc) == 0 {
		return nullDescriptor()
	}

	index := uint32(selector & 0xfff8)
	local := (selector & 0x4) != 0

	var base uint32
	var limit uint32
	if local {
		base = cpu.ldtr.base
		limit = uint32(cpu.ldtr.limit)
	} else {
		base = cpu.gdtr.base
		limit = uint32(cpu.gdtr.limit)
	}
	if index+7 > limit {
		return errorDescriptor(descLimitExceeded)
	}

	low := cpu.readMetal32(base + index)
	high := cpu.readMetal32(base + index + 4)
	d := parseDescriptor(low, high)
	d.selector = selector
	d.global = !local
	d.rpl = uint8(selector & 3)
	return d
}

// getInterruptDescriptor reads the IDT entry for a vector.
func (cpu *CPU) getInterruptDescriptor(vector uint8, source int) (descriptor, *Fault) {
	index := uint32(vector) * 8
	if index+7 > uint32(cpu.idtr.limit) {
		return descriptor{}, cpu.gpFault(makeErrorCode(uint16(vector), true, source),
			"interrupt vector outside IDT limit")
	}
	low := cpu.readMetal32(cpu.idtr.base + index)
	high := cpu.readMetal32(cpu.idtr.base + index + 4)
	d := parseDescriptor(low, high)
	d.selector = uint16(index)
	d.global = true
	return d, nil
}

// writeToGDT writes a descriptor's raw halves back in place. Used to flip
// TSS busy bits.
func (cpu *CPU) writeToGDT(d *descriptor) {
	index := uint32(d.selector & 0xfff8)
	cpu.writeMetal32(cpu.gdtr.base+index, d.low)
	cpu.writeMetal32(cpu.gdtr.base+index+4, d.high)
}

// validateSegmentLoad applies the protected mode checks for loading a
// selector into a segment register.
func (cpu *CPU) validateSegmentLoad(seg int, selector uint16, d *descriptor) *Fault {
	if !cpu.pe() || cpu.vm {
		return nil
	}

	selectorRPL := uint8(selector & 3)

	if d.outsideTableLimits() {
		return cpu.gpFault(selector&0xfffc, "selector outside table limits")
	}

	if seg == SegSS {
		if d.isNull() {
			return cpu.gpFault(0, "ss loaded with null descriptor")
		}
		if selectorRPL != cpu.cpl() {
			return cpu.gpFault(selector&0xfffc, "ss selector RPL != CPL")
		}
		if !d.isData() || !d.writable() {
			return cpu.gpFault(selector&0xfffc, "ss loaded with something other than a writable data segment")
		}
		if d.dpl != cpu.cpl() {
			return cpu.gpFault(selector&0xfffc, "ss descriptor DPL != CPL")
		}
		if !d.present {
			return cpu.ssFault(selector&0xfffc, "ss loaded with non-present segment")
		}
		return nil
	}

	if d.isNull() {
		return nil
	}

	if seg == SegDS || seg == SegES || seg == SegFS || seg == SegGS {
		if !d.isData() && (d.isCode() && !d.readable()) {
			return cpu.gpFault(selector&0xfffc, "segment register loaded with non-readable code segment")
		}
		if d.isData() || d.nonconformingCode() {
			if selectorRPL > d.dpl {
				return cpu.gpFault(selector&0xfffc, "data or non-conforming code segment with RPL > DPL")
			}
			if cpu.cpl() > d.dpl {
				return cpu.gpFault(selector&0xfffc, "data or non-conforming code segment with CPL > DPL")
			}
		}
		if !d.present {
			return cpu.npFault(selector&0xfffc, "segment not present")
		}
	}

	if !d.isSegment() {
		return cpu.gpFault(selector&0xfffc, "segment register loaded with system segment")
	}
	return nil
}

// writeSegmentRegister validates, loads the selector and refreshes the
// cached descriptor; CS additionally updates CPL and the default sizes, SS
// the stack size.
func (cpu *CPU) writeSegmentRegister(seg int, selector uint16) *Fault {
	if seg >= SegNone {
		return cpu.udFault("write to invalid segment register")
	}

	var d descriptor
	if !cpu.pe() || cpu.vm {
		d = cpu.realModeDescriptor(selector, seg)
	} else {
		d = cpu.getDescriptor(selector)
	}

	if fault := cpu.validateSegmentLoad(seg, selector, &d); fault != nil {
		return fault
	}

	cpu.sreg[seg] = selector

	if d.isNull() {
		cpu.cache[seg] = d
		return nil
	}

	cpu.cache[seg] = d

	switch seg {
	case SegCS:
		if cpu.pe() {
			if cpu.vm {
				cpu.setCPL(3)
			} else {
				cpu.setCPL(d.dpl)
			}
		}
		cpu.updateDefaultSizes()
	case SegSS:
		cpu.cache[SegSS].loadedInSS = true
		cpu.updateStackSize()
	}
	return nil
}

func (cpu *CPU) setCPL(cpl uint8) {
	if cpu.pe() && !cpu.vm {
		cpu.sreg[SegCS] = (cpu.sreg[SegCS] &^ 3) | uint16(cpl)
	}
	cpu.cache[SegCS].rpl = cpl
}

// cpl is the current privilege level: the RPL of the cached CS.
func (cpu *CPU) cpl() uint8 {
	return cpu.cache[SegCS].rpl
}

func (cpu *CPU) updateDefaultSizes() {
	cpu.a32 = cpu.cache[SegCS].d
	cpu.o32 = cpu.cache[SegCS].d
}

func (cpu *CPU) updateStackSize() {
	cpu.stack32 = cpu.cache[SegSS].d
}

// setLDT loads LDTR from a selector, with LLDT and task switch semantics.
func (cpu *CPU) setLDT(selector uint16) *Fault {
	var base uint32
	var limit uint16
	d := cpu.getDescriptor(selector)
	if !d.isNull() {
		if !d.isLDT() {
			return cpu.gpFault(selector&0xfffc, "not an LDT descriptor")
		}
		if !d.present {
			return cpu.npFault(selector&0xfffc, "LDT segment not present")
		}
		base = d.base
		limit = uint16(d.limit)
	}
	cpu.ldtr.selector = selector
	cpu.ldtr.base = base
	cpu.ldtr.limit = limit
	return nil
}
