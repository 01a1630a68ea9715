/*
   PC386 disassembler, used by the trace channel and the debugger.

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

package disassemble

import (
	"fmt"
	"strings"
)

// Operand keys, a compact slice of the classic encoding nomenclature:
// E = ModR/M operand, G = ModR/M register, I = immediate, J = relative,
// O = moffs, S = segment register from /reg, A = far pointer, M = memory.
// The b/v/w suffix picks byte, operand sized or word.

type entry struct {
	mnemonic string
	args     string
	group    *[8]entry
	prefix   bool
}

func op(mnemonic, args string) entry {
	return entry{mnemonic: mnemonic, args: args}
}

func grp(mnemonics [8]string, args string) entry {
	g := new([8]entry)
	for n, m := range mnemonics {
		g[n] = op(m, args)
	}
	return entry{group: g}
}

var shiftGrp = [8]string{"rol", "ror", "rcl", "rcr", "shl", "shr", "shl", "sar"}
var aluGrp = [8]string{"add", "or", "adc", "sbb", "and", "sub", "xor", "cmp"}

var oneByte = map[byte]entry{
	0x00: op("add", "Eb,Gb"), 0x01: op("add", "Ev,Gv"), 0x02: op("add", "Gb,Eb"), 0x03: op("add", "Gv,Ev"),
	0x04: op("add", "AL,Ib"), 0x05: op("add", "eAX,Iv"), 0x06: op("push", "es"), 0x07: op("pop", "es"),
	0x08: op("or", "Eb,Gb"), 0x09: op("or", "Ev,Gv"), 0x0a: op("or", "Gb,Eb"), 0x0b: op("or", "Gv,Ev"),
	0x0c: op("or", "AL,Ib"), 0x0d: op("or", "eAX,Iv"), 0x0e: op("push", "cs"),
	0x10: op("adc", "Eb,Gb"), 0x11: op("adc", "Ev,Gv"), 0x12: op("adc", "Gb,Eb"), 0x13: op("adc", "Gv,Ev"),
	0x14: op("adc", "AL,Ib"), 0x15: op("adc", "eAX,Iv"), 0x16: op("push", "ss"), 0x17: op("pop", "ss"),
	0x18: op("sbb", "Eb,Gb"), 0x19: op("sbb", "Ev,Gv"), 0x1a: op("sbb", "Gb,Eb"), 0x1b: op("sbb", "Gv,Ev"),
	0x1c: op("sbb", "AL,Ib"), 0x1d: op("sbb", "eAX,Iv"), 0x1e: op("push", "ds"), 0x1f: op("pop", "ds"),
	0x20: op("and", "Eb,Gb"), 0x21: op("and", "Ev,Gv"), 0x22: op("and", "Gb,Eb"), 0x23: op("and", "Gv,Ev"),
	0x24: op("and", "AL,Ib"), 0x25: op("and", "eAX,Iv"), 0x27: op("daa", ""),
	0x28: op("sub", "Eb,Gb"), 0x29: op("sub", "Ev,Gv"), 0x2a: op("sub", "Gb,Eb"), 0x2b: op("sub", "Gv,Ev"),
	0x2c: op("sub", "AL,Ib"), 0x2d: op("sub", "eAX,Iv"), 0x2f: op("das", ""),
	0x30: op("xor", "Eb,Gb"), 0x31: op("xor", "Ev,Gv"), 0x32: op("xor", "Gb,Eb"), 0x33: op("xor", "Gv,Ev"),
	0x34: op("xor", "AL,Ib"), 0x35: op("xor", "eAX,Iv"), 0x37: op("aaa", ""),
	0x38: op("cmp", "Eb,Gb"), 0x39: op("cmp", "Ev,Gv"), 0x3a: op("cmp", "Gb,Eb"), 0x3b: op("cmp", "Gv,Ev"),
	0x3c: op("cmp", "AL,Ib"), 0x3d: op("cmp", "eAX,Iv"), 0x3f: op("aas", ""),
	0x60: op("pusha", ""), 0x61: op("popa", ""), 0x62: op("bound", "Gv,Ev"), 0x63: op("arpl", "Ev,Gv"),
	0x68: op("push", "Iv"), 0x69: op("imul", "Gv,Ev,Iv"), 0x6a: op("push", "Ib"), 0x6b: op("imul", "Gv,Ev,Ib"),
	0x6c: op("insb", ""), 0x6d: op("insw", ""), 0x6e: op("outsb", ""), 0x6f: op("outsw", ""),
	0x84: op("test", "Eb,Gb"), 0x85: op("test", "Ev,Gv"), 0x86: op("xchg", "Gb,Eb"), 0x87: op("xchg", "Gv,Ev"),
	0x88: op("mov", "Eb,Gb"), 0x89: op("mov", "Ev,Gv"), 0x8a: op("mov", "Gb,Eb"), 0x8b: op("mov", "Gv,Ev"),
	0x8c: op("mov", "Ev,Sw"), 0x8d: op("lea", "Gv,M"), 0x8e: op("mov", "Sw,Ev"),
	0x8f: grp([8]string{"pop", "?", "?", "?", "?", "?", "?", "?"}, "Ev"),
	0x90: op("nop", ""),
	0x98: op("cbw", ""), 0x99: op("cwd", ""), 0x9a: op("call", "Ap"), 0x9b: op("wait", ""),
	0x9c: op("pushf", ""), 0x9d: op("popf", ""), 0x9e: op("sahf", ""), 0x9f: op("lahf", ""),
	0xa0: op("mov", "AL,Ob"), 0xa1: op("mov", "eAX,Ov"), 0xa2: op("mov", "Ob,AL"), 0xa3: op("mov", "Ov,eAX"),
	0xa4: op("movsb", ""), 0xa5: op("movsw", ""), 0xa6: op("cmpsb", ""), 0xa7: op("cmpsw", ""),
	0xa8: op("test", "AL,Ib"), 0xa9: op("test", "eAX,Iv"),
	0xaa: op("stosb", ""), 0xab: op("stosw", ""), 0xac: op("lodsb", ""), 0xad: op("lodsw", ""),
	0xae: op("scasb", ""), 0xaf: op("scasw", ""),
	0xc2: op("ret", "Iw"), 0xc3: op("ret", ""),
	0xc4: op("les", "Gv,M"), 0xc5: op("lds", "Gv,M"),
	0xc6: op("mov", "Eb,Ib"), 0xc7: op("mov", "Ev,Iv"),
	0xc8: op("enter", "Iw,Ib"), 0xc9: op("leave", ""),
	0xca: op("retf", "Iw"), 0xcb: op("retf", ""),
	0xcc: op("int3", ""), 0xcd: op("int", "Ib"), 0xce: op("into", ""), 0xcf: op("iret", ""),
	0xc0: grp(shiftGrp, "Eb,Ib"), 0xc1: grp(shiftGrp, "Ev,Ib"),
	0xd0: grp(shiftGrp, "Eb,1"), 0xd1: grp(shiftGrp, "Ev,1"),
	0xd2: grp(shiftGrp, "Eb,CL"), 0xd3: grp(shiftGrp, "Ev,CL"),
	0xd4: op("aam", "Ib"), 0xd5: op("aad", "Ib"), 0xd6: op("salc", ""), 0xd7: op("xlat", ""),
	0xe0: op("loopnz", "Jb"), 0xe1: op("loopz", "Jb"), 0xe2: op("loop", "Jb"), 0xe3: op("jcxz", "Jb"),
	0xe4: op("in", "AL,Ib"), 0xe5: op("in", "eAX,Ib"), 0xe6: op("out", "Ib,AL"), 0xe7: op("out", "Ib,eAX"),
	0xe8: op("call", "Jv"), 0xe9: op("jmp", "Jv"), 0xea: op("jmp", "Ap"), 0xeb: op("jmp", "Jb"),
	0xec: op("in", "AL,DX"), 0xed: op("in", "eAX,DX"), 0xee: op("out", "DX,AL"), 0xef: op("out", "DX,eAX"),
	0xf1: op("vkill", ""), 0xf4: op("hlt", ""), 0xf5: op("cmc", ""),
	0xf6: grp([8]string{"test", "test", "not", "neg", "mul", "imul", "div", "idiv"}, "Eb"),
	0xf7: grp([8]string{"test", "test", "not", "neg", "mul", "imul", "div", "idiv"}, "Ev"),
	0xf8: op("clc", ""), 0xf9: op("stc", ""), 0xfa: op("cli", ""), 0xfb: op("sti", ""),
	0xfc: op("cld", ""), 0xfd: op("std", ""),
	0xfe: grp([8]string{"inc", "dec", "?", "?", "?", "?", "?", "?"}, "Eb"),
	0xff: grp([8]string{"inc", "dec", "call", "call", "jmp", "jmp", "push", "?"}, "Ev"),
}

var twoByte = map[byte]entry{
	0x00: grp([8]string{"sldt", "str", "lldt", "ltr", "verr", "verw", "?", "?"}, "Ev"),
	0x01: grp([8]string{"sgdt", "sidt", "lgdt", "lidt", "smsw", "?", "lmsw", "invlpg"}, "Ev"),
	0x02: op("lar", "Gv,Ev"), 0x03: op("lsl", "Gv,Ev"),
	0x06: op("clts", ""), 0x09: op("wbinvd", ""), 0x0b: op("ud2", ""),
	0x20: op("mov", "Gv,Cd"), 0x21: op("mov", "Gv,Dd"), 0x22: op("mov", "Cd,Gv"), 0x23: op("mov", "Dd,Gv"),
	0x31: op("rdtsc", ""),
	0xa0: op("push", "fs"), 0xa1: op("pop", "fs"), 0xa2: op("cpuid", ""),
	0xa3: op("bt", "Ev,Gv"), 0xa4: op("shld", "Ev,Gv,Ib"), 0xa5: op("shld", "Ev,Gv,CL"),
	0xa8: op("push", "gs"), 0xa9: op("pop", "gs"),
	0xab: op("bts", "Ev,Gv"), 0xac: op("shrd", "Ev,Gv,Ib"), 0xad: op("shrd", "Ev,Gv,CL"),
	0xaf: op("imul", "Gv,Ev"),
	0xb0: op("cmpxchg", "Eb,Gb"), 0xb1: op("cmpxchg", "Ev,Gv"),
	0xb2: op("lss", "Gv,M"), 0xb3: op("btr", "Ev,Gv"), 0xb4: op("lfs", "Gv,M"), 0xb5: op("lgs", "Gv,M"),
	0xb6: op("movzx", "Gv,Eb"), 0xb7: op("movzx", "Gv,Ew"),
	0xba: grp([8]string{"?", "?", "?", "?", "bt", "bts", "btr", "btc"}, "Ev,Ib"),
	0xbb: op("btc", "Ev,Gv"), 0xbc: op("bsf", "Gv,Ev"), 0xbd: op("bsr", "Gv,Ev"),
	0xbe: op("movsx", "Gv,Eb"), 0xbf: op("movsx", "Gv,Ew"),
	0xc0: op("xadd", "Eb,Gb"), 0xc1: op("xadd", "Ev,Gv"),
}

var reg8Names = [8]string{"al", "cl", "dl", "bl", "ah", "ch", "dh", "bh"}
var reg16Names = [8]string{"ax", "cx", "dx", "bx", "sp", "bp", "si", "di"}
var reg32Names = [8]string{"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi"}
var segNames = [8]string{"es", "cs", "ss", "ds", "fs", "gs", "?", "?"}

var ccNames = [16]string{
	"o", "no", "c", "nc", "z", "nz", "na", "a",
	"s", "ns", "p", "np", "l", "nl", "ng", "g",
}

type stream struct {
	data []byte
	pos  int
}

func (s *stream) u8() uint8 {
	if s.pos >= len(s.data) {
		return 0
	}
	b := s.data[s.pos]
	s.pos++
	return b
}

func (s *stream) u16() uint16 {
	return uint16(s.u8()) | uint16(s.u8())<<8
}

func (s *stream) u32() uint32 {
	return uint32(s.u16()) | uint32(s.u16())<<16
}

type modRM struct {
	rm     uint8
	sib    uint8
	hasSIB bool
	disp   int32
	text   string
	isReg  bool
	reg    int
}

func decodeModRM(s *stream, a32 bool) modRM {
	m := modRM{rm: s.u8()}
	m.reg = int(m.rm & 7)
	mod := m.rm & 0xc0
	if mod == 0xc0 {
		m.isReg = true
		return m
	}

	dispBytes := 0
	if a32 {
		switch mod {
		case 0x00:
			if m.rm&7 == 5 {
				dispBytes = 4
			}
		case 0x40:
			dispBytes = 1
		case 0x80:
			dispBytes = 4
		}
		if m.rm&7 == 4 {
			m.hasSIB = true
			m.sib = s.u8()
			if m.sib&7 == 5 && mod == 0x00 {
				dispBytes = 4
			}
		}
	} else {
		switch mod {
		case 0x00:
			if m.rm&7 == 6 {
				dispBytes = 2
			}
		case 0x40:
			dispBytes = 1
		case 0x80:
			dispBytes = 2
		}
	}

	switch dispBytes {
	case 1:
		m.disp = int32(int8(s.u8()))
	case 2:
		m.disp = int32(int16(s.u16()))
	case 4:
		m.disp = int32(s.u32())
	}
	m.text = m.format(a32)
	return m
}

var base16 = [8]string{"bx+si", "bx+di", "bp+si", "bp+di", "si", "di", "bp", "bx"}

func (m *modRM) format(a32 bool) string {
	if !a32 {
		if m.rm&0xc0 == 0 && m.rm&7 == 6 {
			return fmt.Sprintf("[0x%04x]", uint16(m.disp))
		}
		base := base16[m.rm&7]
		if m.disp == 0 {
			return "[" + base + "]"
		}
		if m.disp < 0 {
			return fmt.Sprintf("[%s-0x%x]", base, -m.disp)
		}
		return fmt.Sprintf("[%s+0x%x]", base, m.disp)
	}

	var base string
	switch m.rm & 7 {
	case 4:
		base = sibText(m.rm, m.sib)
	case 5:
		if m.rm&0xc0 == 0 {
			return fmt.Sprintf("[0x%08x]", uint32(m.disp))
		}
		base = "ebp"
	default:
		base = reg32Names[m.rm&7]
	}
	if m.disp == 0 {
		return "[" + base + "]"
	}
	if m.disp < 0 {
		return fmt.Sprintf("[%s-0x%x]", base, -m.disp)
	}
	return fmt.Sprintf("[%s+0x%x]", base, m.disp)
}

func sibText(rm, sib uint8) string {
	scale := []string{"", "*2", "*4", "*8"}[(sib>>6)&3]
	index := ""
	if idx := (sib >> 3) & 7; idx != 4 {
		index = reg32Names[idx] + scale
	}
	base := ""
	switch sib & 7 {
	case 5:
		if (rm>>6)&3 != 0 {
			base = "ebp"
		}
	default:
		base = reg32Names[sib&7]
	}
	switch {
	case base == "":
		return index
	case index == "":
		return base
	}
	return base + "+" + index
}

// Disassemble renders the instruction at the start of data. It returns the
// text and the number of bytes consumed.
func Disassemble(data []byte, o32, a32 bool) (string, int) {
	s := &stream{data: data}
	var prefixes []string

	for {
		if s.pos >= len(s.data) {
			return "(truncated)", s.pos
		}
		b := s.data[s.pos]
		switch b {
		case 0x66:
			o32 = !o32
			s.pos++
			continue
		case 0x67:
			a32 = !a32
			s.pos++
			continue
		case 0xf0:
			prefixes = append(prefixes, "lock")
			s.pos++
			continue
		case 0xf2:
			prefixes = append(prefixes, "repnz")
			s.pos++
			continue
		case 0xf3:
			prefixes = append(prefixes, "repz")
			s.pos++
			continue
		case 0x26, 0x2e, 0x36, 0x3e, 0x64, 0x65:
			prefixes = append(prefixes, segNames[segIndex(b)]+":")
			s.pos++
			continue
		}
		break
	}

	opByte := s.u8()
	var e entry
	var found bool
	cc := -1
	switch {
	case opByte == 0x0f:
		sub := s.u8()
		switch {
		case sub >= 0x40 && sub <= 0x4f:
			e, found = op("cmov"+ccNames[sub&0xf], "Gv,Ev"), true
		case sub >= 0x80 && sub <= 0x8f:
			e, found = op("j"+ccNames[sub&0xf], "Jv"), true
		case sub >= 0x90 && sub <= 0x9f:
			e, found = op("set"+ccNames[sub&0xf], "Eb"), true
		case sub >= 0xc8:
			e, found = op("bswap", "Rd"), true
			cc = int(sub & 7)
		default:
			e, found = twoByte[sub]
		}
	case opByte >= 0x40 && opByte <= 0x47:
		e, found, cc = op("inc", "Rv"), true, int(opByte&7)
	case opByte >= 0x48 && opByte <= 0x4f:
		e, found, cc = op("dec", "Rv"), true, int(opByte&7)
	case opByte >= 0x50 && opByte <= 0x57:
		e, found, cc = op("push", "Rv"), true, int(opByte&7)
	case opByte >= 0x58 && opByte <= 0x5f:
		e, found, cc = op("pop", "Rv"), true, int(opByte&7)
	case opByte >= 0x70 && opByte <= 0x7f:
		e, found = op("j"+ccNames[opByte&0xf], "Jb"), true
	case opByte >= 0x91 && opByte <= 0x97:
		e, found, cc = op("xchg", "eAX,Rv"), true, int(opByte&7)
	case opByte >= 0xb0 && opByte <= 0xb7:
		e, found, cc = op("mov", "Rb,Ib"), true, int(opByte&7)
	case opByte >= 0xb8 && opByte <= 0xbf:
		e, found, cc = op("mov", "Rv,Iv"), true, int(opByte&7)
	case opByte >= 0xd8 && opByte <= 0xdf:
		e, found = op("fpu", "Eb"), true
	default:
		e, found = oneByte[opByte]
	}

	if !found {
		return fmt.Sprintf("db 0x%02x", opByte), s.pos
	}

	needsRM := e.group != nil || strings.ContainsAny(e.args, "EGSM") ||
		strings.Contains(e.args, "Cd") || strings.Contains(e.args, "Dd")
	var m modRM
	if needsRM {
		m = decodeModRM(s, a32)
		if e.group != nil {
			slash := (m.rm >> 3) & 7
			args := e.group[slash].args
			e = op(e.group[slash].mnemonic, args)
		}
	}

	regField := 0
	if needsRM {
		regField = int(m.rm>>3) & 7
	}

	var rendered []string
	for _, arg := range strings.Split(e.args, ",") {
		if arg == "" {
			continue
		}
		rendered = append(rendered, renderArg(arg, s, &m, regField, cc, o32, a32))
	}

	text := e.mnemonic
	if len(rendered) != 0 {
		text += " " + strings.Join(rendered, ", ")
	}
	if len(prefixes) != 0 {
		text = strings.Join(prefixes, " ") + " " + text
	}
	return text, s.pos
}

func segIndex(b byte) int {
	switch b {
	case 0x26:
		return 0
	case 0x2e:
		return 1
	case 0x36:
		return 2
	case 0x3e:
		return 3
	case 0x64:
		return 4
	}
	return 5
}

func renderArg(arg string, s *stream, m *modRM, regField, regIndex int, o32, a32 bool) string {
	vName := func(r int) string {
		if o32 {
			return reg32Names[r]
		}
		return reg16Names[r]
	}
	switch arg {
	case "Eb":
		if m.isReg {
			return reg8Names[m.reg]
		}
		return m.text
	case "Ev":
		if m.isReg {
			return vName(m.reg)
		}
		return m.text
	case "Ew":
		if m.isReg {
			return reg16Names[m.reg]
		}
		return m.text
	case "M":
		if m.isReg {
			return "(reg)"
		}
		return m.text
	case "Gb":
		return reg8Names[regField]
	case "Gv":
		return vName(regField)
	case "Sw":
		return segNames[regField]
	case "Cd":
		return fmt.Sprintf("cr%d", regField)
	case "Dd":
		return fmt.Sprintf("dr%d", regField)
	case "Rb":
		return reg8Names[regIndex]
	case "Rv":
		return vName(regIndex)
	case "Rd":
		return reg32Names[regIndex]
	case "Ib":
		return fmt.Sprintf("0x%02x", s.u8())
	case "Iw":
		return fmt.Sprintf("0x%04x", s.u16())
	case "Iv":
		if o32 {
			return fmt.Sprintf("0x%08x", s.u32())
		}
		return fmt.Sprintf("0x%04x", s.u16())
	case "Jb":
		return fmt.Sprintf("%+d", int8(s.u8()))
	case "Jv":
		if a32 {
			return fmt.Sprintf("%+d", int32(s.u32()))
		}
		return fmt.Sprintf("%+d", int16(s.u16()))
	case "Ob":
		fallthrough
	case "Ov":
		if a32 {
			return fmt.Sprintf("[0x%08x]", s.u32())
		}
		return fmt.Sprintf("[0x%04x]", s.u16())
	case "Ap":
		if o32 {
			offset := s.u32()
			return fmt.Sprintf("0x%04x:0x%08x", s.u16(), offset)
		}
		offset := s.u16()
		return fmt.Sprintf("0x%04x:0x%04x", s.u16(), offset)
	case "AL":
		return "al"
	case "eAX":
		if o32 {
			return "eax"
		}
		return "ax"
	case "DX":
		return "dx"
	case "CL":
		return "cl"
	case "1":
		return "1"
	}
	return arg
}
