/*
   Flag engine: lazy PF/ZF/SF, EFLAGS assembly, arithmetic flag kernels.

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

import (
	"log/slog"

	"github.com/rcornwell/PC386/util/logger"
)

func bitCount[T word]() uint {
	var z T
	switch any(z).(type) {
	case uint8:
		return 8
	case uint16:
		return 16
	default:
		return 32
	}
}

func signBit[T word]() T {
	return T(1) << (bitCount[T]() - 1)
}

// Lazy flag reads. A dirty bit means the flag must be refreshed from the
// saved last result before use.

func (cpu *CPU) getPF() bool {
	if cpu.dirtyFlags&flagPF != 0 {
		v := uint32(cpu.lastResult) & 0xff
		v ^= v >> 4
		cpu.pf = (0x9669>>(v&0xf))&1 != 0
		cpu.dirtyFlags &^= flagPF
	}
	return cpu.pf
}

func (cpu *CPU) getZF() bool {
	if cpu.dirtyFlags&flagZF != 0 {
		mask := uint64(1)<<cpu.lastOpSize - 1
		cpu.zf = cpu.lastResult&mask == 0
		cpu.dirtyFlags &^= flagZF
	}
	return cpu.zf
}

func (cpu *CPU) getSF() bool {
	if cpu.dirtyFlags&flagSF != 0 {
		cpu.sf = (cpu.lastResult>>(cpu.lastOpSize-1))&1 != 0
		cpu.dirtyFlags &^= flagSF
	}
	return cpu.sf
}

// Explicit writes clear the dirty bit in lock step.

func (cpu *CPU) setPF(v bool) {
	cpu.pf = v
	cpu.dirtyFlags &^= flagPF
}

func (cpu *CPU) setZF(v bool) {
	cpu.zf = v
	cpu.dirtyFlags &^= flagZF
}

func (cpu *CPU) setSF(v bool) {
	cpu.sf = v
	cpu.dirtyFlags &^= flagSF
}

// updateFlags marks PF/ZF/SF lazy from a fresh result.
func updateFlags[T word](cpu *CPU, result T) {
	cpu.dirtyFlags |= flagPF | flagZF | flagSF
	cpu.lastResult = uint64(result)
	cpu.lastOpSize = bitCount[T]()
}

// mathFlags sets CF/AF and the lazy trio from a double-width result.
func mathFlags[T word](cpu *CPU, result uint64, dest, src T) {
	bits := bitCount[T]()
	cpu.dirtyFlags |= flagPF | flagZF | flagSF
	cpu.lastResult = result
	cpu.lastOpSize = bits

	cpu.cf = result&(uint64(1)<<bits) != 0
	cpu.adjustFlag(result, uint32(dest), uint32(src))
}

// cmpFlags is mathFlags plus the subtraction OF rule.
func cmpFlags[T word](cpu *CPU, result uint64, dest, src T) {
	mathFlags(cpu, result, dest, src)
	bits := bitCount[T]()
	cpu.of = ((uint64(dest)^uint64(src))&(uint64(dest)^result))>>(bits-1)&1 != 0
}

func (cpu *CPU) adjustFlag(result uint64, dest, src uint32) {
	cpu.af = (uint32(result)^(dest^src))&0x10 != 0
}

func boolBit(v bool, bit uint32) uint32 {
	if v {
		return bit
	}
	return 0
}

// getFlags assembles the low 16 flag bits.
func (cpu *CPU) getFlags() uint16 {
	return uint16(0x0002 |
		boolBit(cpu.cf, flagCF) |
		boolBit(cpu.getPF(), flagPF) |
		boolBit(cpu.af, flagAF) |
		boolBit(cpu.getZF(), flagZF) |
		boolBit(cpu.getSF(), flagSF) |
		boolBit(cpu.tf, flagTF) |
		boolBit(cpu.iflag, flagIF) |
		boolBit(cpu.df, flagDF) |
		boolBit(cpu.of, flagOF) |
		uint32(cpu.iopl)<<12 |
		boolBit(cpu.nt, flagNT))
}

func (cpu *CPU) getEFlags() uint32 {
	return uint32(cpu.getFlags()) |
		boolBit(cpu.rf, flagRF) |
		boolBit(cpu.vm, flagVM) |
		boolBit(cpu.ac, flagAC) |
		boolBit(cpu.vif, flagVIF) |
		boolBit(cpu.vip, flagVIP) |
		boolBit(cpu.idfl, flagID)
}

func (cpu *CPU) setFlags(flags uint16) {
	f := uint32(flags)
	cpu.cf = f&flagCF != 0
	cpu.setPF(f&flagPF != 0)
	cpu.af = f&flagAF != 0
	cpu.setZF(f&flagZF != 0)
	cpu.setSF(f&flagSF != 0)
	cpu.tf = f&flagTF != 0
	cpu.iflag = f&flagIF != 0
	cpu.df = f&flagDF != 0
	cpu.of = f&flagOF != 0
	cpu.iopl = uint8((f & flagIOPL) >> 12)
	cpu.nt = f&flagNT != 0
}

func (cpu *CPU) setEFlags(eflags uint32) {
	cpu.setFlags(uint16(eflags))
	cpu.rf = eflags&flagRF != 0
	cpu.vm = eflags&flagVM != 0
	cpu.ac = eflags&flagAC != 0
	cpu.vif = eflags&flagVIF != 0
	cpu.vip = eflags&flagVIP != 0
	cpu.idfl = eflags&flagID != 0
}

// setEFlagsRespectfully loads flags the way POPF and IRET must: VIP, VIF
// and RF are never taken from the stack image, IOPL only changes in ring 0
// outside VM86, and IF only when privileged enough. RF ends up clear.
func (cpu *CPU) setEFlagsRespectfully(newFlags uint32, effectiveCPL uint8) {
	oldFlags := cpu.getEFlags()
	keep := flagVIP | flagVIF | flagRF
	if !cpu.effO32 {
		keep |= 0xffff0000
	}
	if cpu.vm {
		keep |= flagIOPL
	}
	if cpu.pe() && effectiveCPL != 0 {
		keep |= flagIOPL
		if effectiveCPL > cpu.iopl {
			keep |= flagIF
		}
	}
	newFlags &^= keep
	newFlags |= oldFlags & keep
	newFlags &^= flagRF
	cpu.setEFlags(newFlags)
}

// evaluate tests one of the 16 Jcc condition codes.
func (cpu *CPU) evaluate(cc uint8) bool {
	switch cc & 0xf {
	case 0x0:
		return cpu.of
	case 0x1:
		return !cpu.of
	case 0x2:
		return cpu.cf
	case 0x3:
		return !cpu.cf
	case 0x4:
		return cpu.getZF()
	case 0x5:
		return !cpu.getZF()
	case 0x6:
		return cpu.cf || cpu.getZF()
	case 0x7:
		return !cpu.cf && !cpu.getZF()
	case 0x8:
		return cpu.getSF()
	case 0x9:
		return !cpu.getSF()
	case 0xa:
		return cpu.getPF()
	case 0xb:
		return !cpu.getPF()
	case 0xc:
		return cpu.getSF() != cpu.of
	case 0xd:
		return cpu.getSF() == cpu.of
	case 0xe:
		return cpu.getSF() != cpu.of || cpu.getZF()
	default:
		return cpu.getSF() == cpu.of && !cpu.getZF()
	}
}

// Mode predicates.

func (cpu *CPU) pe() bool {
	return cpu.cr0&cr0PE != 0
}

func (cpu *CPU) pg() bool {
	return cpu.cr0&cr0PG != 0
}

// Fault constructors. Each logs one line when log-exceptions is on.

func (cpu *CPU) logFault(f *Fault) *Fault {
	if cpu.opts.LogExceptions {
		if f.Vector == excPF {
			slog.Warn("exception", logger.Tag("cpu"), slog.String("fault", f.Error()), slog.Any("linear", f.Linear))
		} else {
			slog.Warn("exception", logger.Tag("cpu"), slog.String("fault", f.Error()))
		}
	}
	return f
}

func (cpu *CPU) gpFault(code uint16, reason string) *Fault {
	return cpu.logFault(&Fault{Vector: excGP, Code: code, HasCode: true, Reason: reason})
}

func (cpu *CPU) ssFault(code uint16, reason string) *Fault {
	return cpu.logFault(&Fault{Vector: excSS, Code: code, HasCode: true, Reason: reason})
}

func (cpu *CPU) npFault(code uint16, reason string) *Fault {
	return cpu.logFault(&Fault{Vector: excNP, Code: code, HasCode: true, Reason: reason})
}

func (cpu *CPU) tsFault(code uint16, reason string) *Fault {
	return cpu.logFault(&Fault{Vector: excTS, Code: code, HasCode: true, Reason: reason})
}

func (cpu *CPU) udFault(reason string) *Fault {
	return cpu.logFault(&Fault{Vector: excUD, Reason: reason})
}

func (cpu *CPU) deFault(reason string) *Fault {
	return cpu.logFault(&Fault{Vector: excDE, Reason: reason})
}

func (cpu *CPU) brFault(reason string) *Fault {
	return cpu.logFault(&Fault{Vector: excBR, Reason: reason})
}

func (cpu *CPU) pageFault(linear uint32, code uint16, reason string) *Fault {
	cpu.cr2 = linear
	return cpu.logFault(&Fault{Vector: excPF, Code: code, HasCode: true, Linear: linear, Reason: reason})
}

func makeErrorCode(num uint16, idt bool, source int) uint16 {
	if idt {
		return num<<3 | 2 | uint16(source)
	}
	return (num & 0xfffc) | uint16(source)
}
