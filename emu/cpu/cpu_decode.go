/*
   Instruction decoder: prefixes, opcode tables, immediates.

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

// Prefix bytes.
const (
	prefixOperandSize uint8 = 0x66
	prefixAddressSize uint8 = 0x67
	prefixLOCK        uint8 = 0xf0
	prefixREPNZ       uint8 = 0xf2
	prefixREPZ        uint8 = 0xf3
)

// Operand formats. The format fixes whether a ModR/M byte follows and how
// wide the immediates are; the handlers know their own operand shapes.
const (
	fmtInvalid = iota
	fmtOP
	fmtINT3

	// Formats with a ModR/M byte.
	fmtRM8
	fmtRM16
	fmtRM32
	fmtRM8Reg8
	fmtRM16Reg16
	fmtRM32Reg32
	fmtReg8RM8
	fmtReg16RM16
	fmtReg32RM32
	fmtRM8Imm8
	fmtRM16Imm16
	fmtRM32Imm32
	fmtRM16Imm8
	fmtRM32Imm8
	fmtRM8One
	fmtRM16One
	fmtRM32One
	fmtRM8CL
	fmtRM16CL
	fmtRM32CL
	fmtRM16Seg
	fmtRM32Seg
	fmtSegRM16
	fmtSegRM32
	fmtReg16Mem16
	fmtReg32Mem32
	fmtFARMem16
	fmtFARMem32
	fmtReg16RM8
	fmtReg32RM8
	fmtReg32RM16
	fmtReg16RM16Imm8
	fmtReg32RM32Imm8
	fmtReg16RM16Imm16
	fmtReg32RM32Imm32
	fmtRM16Reg16Imm8
	fmtRM32Reg32Imm8
	fmtRM16Reg16CL
	fmtRM32Reg32CL
	fmtReg32CR
	fmtCRReg32
	fmtReg32DR
	fmtDRReg32
	fmtEndRM

	// Formats without a ModR/M byte.
	fmtALImm8
	fmtAXImm16
	fmtEAXImm32
	fmtAXImm8
	fmtEAXImm8
	fmtImm8AL
	fmtImm8AX
	fmtImm8EAX
	fmtALDX
	fmtAXDX
	fmtEAXDX
	fmtDXAL
	fmtDXAX
	fmtDXEAX
	fmtImm8
	fmtImm16
	fmtImm32
	fmtRelImm16
	fmtRelImm32
	fmtShortImm8
	fmtNearImm
	fmtImm16Imm16
	fmtImm16Imm32
	fmtImm8Imm16
	fmtReg8Imm8
	fmtReg16Imm16
	fmtReg32Imm32
	fmtReg16
	fmtReg32
	fmtAXReg16
	fmtEAXReg32
	fmtALMoff8
	fmtAXMoff16
	fmtEAXMoff32
	fmtMoff8AL
	fmtMoff16AX
	fmtMoff32EAX
)

// Immediate widths follow the current address size for moff forms and
// the operand size for near branch displacements.
const (
	immAddrSized = -1
	immOpSized   = -2
)

type execFn func(*CPU, *Instruction) *Fault

type insnDesc struct {
	mnemonic string
	format   int
	exec     execFn
	hasRM    bool
	imm1     int
	imm2     int
	lockOK   bool
	slashes  *[8]insnDesc
	valid    bool
}

var table16 [256]insnDesc
var table32 [256]insnDesc
var table0F16 [256]insnDesc
var table0F32 [256]insnDesc

func formatHasRM(format int) bool {
	return format > fmtINT3 && format < fmtEndRM
}

func immBytes(format int) (int, int) {
	switch format {
	case fmtRM8Imm8, fmtRM16Imm8, fmtRM32Imm8, fmtReg16RM16Imm8, fmtReg32RM32Imm8,
		fmtALImm8, fmtImm8, fmtReg8Imm8, fmtAXImm8, fmtEAXImm8, fmtShortImm8,
		fmtImm8AL, fmtImm8AX, fmtImm8EAX, fmtRM16Reg16Imm8, fmtRM32Reg32Imm8:
		return 1, 0
	case fmtReg16RM16Imm16, fmtAXImm16, fmtImm16, fmtRelImm16, fmtReg16Imm16, fmtRM16Imm16:
		return 2, 0
	case fmtRM32Imm32, fmtReg32RM32Imm32, fmtReg32Imm32, fmtEAXImm32, fmtImm32, fmtRelImm32:
		return 4, 0
	case fmtImm8Imm16:
		return 1, 2
	case fmtImm16Imm16:
		return 2, 2
	case fmtImm16Imm32:
		return 2, 4
	case fmtMoff8AL, fmtMoff16AX, fmtMoff32EAX, fmtALMoff8, fmtAXMoff16, fmtEAXMoff32:
		return immAddrSized, 0
	case fmtNearImm:
		return immOpSized, 0
	}
	return 0, 0
}

func opcodeHasRegisterIndex(op uint8) bool {
	if op >= 0x40 && op <= 0x5f {
		return true
	}
	if op >= 0x90 && op <= 0x97 {
		return true
	}
	if op >= 0xb0 && op <= 0xbf {
		return true
	}
	return false
}

func buildEntry(table *[256]insnDesc, op uint8, mnemonic string, format int, exec execFn, lock bool) {
	d := insnDesc{
		mnemonic: mnemonic,
		format:   format,
		exec:     exec,
		lockOK:   lock,
		valid:    exec != nil,
	}
	d.hasRM = formatHasRM(format)
	d.imm1, d.imm2 = immBytes(format)
	slashes := table[op].slashes
	table[op] = d
	table[op].slashes = slashes
}

func buildSlashEntry(table *[256]insnDesc, op, slash uint8, mnemonic string, format int, exec execFn, lock bool) {
	if table[op].slashes == nil {
		table[op].slashes = new([8]insnDesc)
		table[op].hasRM = true
		table[op].valid = true
	}
	d := insnDesc{
		mnemonic: mnemonic,
		format:   format,
		exec:     exec,
		lockOK:   lock,
		valid:    exec != nil,
	}
	d.hasRM = true
	d.imm1, d.imm2 = immBytes(format)
	table[op].slashes[slash] = d
}

func lockFlag(lock []bool) bool {
	return len(lock) > 0 && lock[0]
}

func build(op uint8, mnemonic string, format int, exec execFn, lock ...bool) {
	buildEntry(&table16, op, mnemonic, format, exec, lockFlag(lock))
	buildEntry(&table32, op, mnemonic, format, exec, lockFlag(lock))
}

func build2(op uint8, mnemonic string, f16 int, e16 execFn, f32 int, e32 execFn, lock ...bool) {
	buildEntry(&table16, op, mnemonic, f16, e16, lockFlag(lock))
	buildEntry(&table32, op, mnemonic, f32, e32, lockFlag(lock))
}

func build2n(op uint8, mnem16 string, f16 int, e16 execFn, mnem32 string, f32 int, e32 execFn) {
	buildEntry(&table16, op, mnem16, f16, e16, false)
	buildEntry(&table32, op, mnem32, f32, e32, false)
}

func buildSlash(op, slash uint8, mnemonic string, format int, exec execFn, lock ...bool) {
	buildSlashEntry(&table16, op, slash, mnemonic, format, exec, lockFlag(lock))
	buildSlashEntry(&table32, op, slash, mnemonic, format, exec, lockFlag(lock))
}

func buildSlash2(op, slash uint8, mnemonic string, f16 int, e16 execFn, f32 int, e32 execFn, lock ...bool) {
	buildSlashEntry(&table16, op, slash, mnemonic, f16, e16, lockFlag(lock))
	buildSlashEntry(&table32, op, slash, mnemonic, f32, e32, lockFlag(lock))
}

func build0F(op uint8, mnemonic string, format int, exec execFn, lock ...bool) {
	buildEntry(&table0F16, op, mnemonic, format, exec, lockFlag(lock))
	buildEntry(&table0F32, op, mnemonic, format, exec, lockFlag(lock))
}

func build0F2(op uint8, mnemonic string, f16 int, e16 execFn, f32 int, e32 execFn, lock ...bool) {
	buildEntry(&table0F16, op, mnemonic, f16, e16, lockFlag(lock))
	buildEntry(&table0F32, op, mnemonic, f32, e32, lockFlag(lock))
}

func build0F2n(op uint8, mnem16 string, f16 int, e16 execFn, mnem32 string, f32 int, e32 execFn) {
	buildEntry(&table0F16, op, mnem16, f16, e16, false)
	buildEntry(&table0F32, op, mnem32, f32, e32, false)
}

func build0FSlash(op, slash uint8, mnemonic string, format int, exec execFn, lock ...bool) {
	buildSlashEntry(&table0F16, op, slash, mnemonic, format, exec, lockFlag(lock))
	buildSlashEntry(&table0F32, op, slash, mnemonic, format, exec, lockFlag(lock))
}

func build0FSlash2(op, slash uint8, mnemonic string, f16 int, e16 execFn, f32 int, e32 execFn, lock ...bool) {
	buildSlashEntry(&table0F16, op, slash, mnemonic, f16, e16, lockFlag(lock))
	buildSlashEntry(&table0F32, op, slash, mnemonic, f32, e32, lockFlag(lock))
}

// Instruction is one decoded instruction.
type Instruction struct {
	op     uint8
	subOp  uint8
	has0F  bool
	desc   *insnDesc

	modrm    modRM
	hasRM    bool
	regIndex int

	imm1, imm2           uint32
	imm1Bytes, imm2Bytes int

	o32, a32  bool
	hasOSize  bool
	hasASize  bool
	rep       uint8
	segPrefix int
	lock      bool

	prefixBytes int
	length      int
}

func (i *Instruction) imm8() uint8 {
	return uint8(i.imm1)
}

func (i *Instruction) imm16() uint16 {
	return uint16(i.imm1)
}

func (i *Instruction) imm32() uint32 {
	return i.imm1
}

// Stream order operands: imm2 is consumed first. ENTER's iw is imm16v2,
// a far pointer's offset is imm2 and its selector imm1.
func (i *Instruction) imm8v1() uint8 {
	return uint8(i.imm1)
}

func (i *Instruction) imm16v2() uint16 {
	return uint16(i.imm2)
}

func (i *Instruction) farPointer() logicalAddr {
	return logicalAddr{selector: uint16(i.imm1), offset: i.imm2}
}

// immAddress is the moff immediate at the address size.
func (i *Instruction) immAddress() uint32 {
	return i.imm1
}

// slash is the /reg field of the ModR/M byte.
func (i *Instruction) slash() uint8 {
	return uint8(i.regIndex)
}

// cc is the condition code encoded in the low opcode nibble.
func (i *Instruction) cc() uint8 {
	if i.has0F {
		return i.subOp & 0xf
	}
	return i.op & 0xf
}

func segPrefixFor(op uint8) int {
	switch op {
	case 0x26:
		return SegES
	case 0x2e:
		return SegCS
	case 0x36:
		return SegSS
	case 0x3e:
		return SegDS
	case 0x64:
		return SegFS
	case 0x65:
		return SegGS
	}
	return SegNone
}

// decodeNext reads one instruction from CS:EIP. Memory faults during the
// fetch propagate; an unrecognized encoding yields an instruction whose
// desc is nil and faults as #UD at execute time.
func (cpu *CPU) decodeNext() (*Instruction, *Fault) {
	i := &Instruction{
		o32:       cpu.o32,
		a32:       cpu.a32,
		segPrefix: SegNone,
	}
	start := cpu.eip

	for {
		op, fault := cpu.fetch8()
		if fault != nil {
			return nil, fault
		}
		switch {
		case op == prefixOperandSize:
			i.o32 = !cpu.o32
			i.hasOSize = true
		case op == prefixAddressSize:
			i.a32 = !cpu.a32
			i.hasASize = true
		case op == prefixREPZ || op == prefixREPNZ:
			i.rep = op
		case op == prefixLOCK:
			i.lock = true
		case segPrefixFor(op) != SegNone:
			i.segPrefix = segPrefixFor(op)
		default:
			i.op = op
			goto haveOpcode
		}
		i.prefixBytes++
	}

haveOpcode:
	var desc *insnDesc
	if i.op == 0x0f {
		i.has0F = true
		sub, fault := cpu.fetch8()
		if fault != nil {
			return nil, fault
		}
		i.subOp = sub
		if i.o32 {
			desc = &table0F32[sub]
		} else {
			desc = &table0F16[sub]
		}
	} else {
		if i.o32 {
			desc = &table32[i.op]
		} else {
			desc = &table16[i.op]
		}
	}

	i.hasRM = desc.hasRM
	if i.hasRM {
		if fault := cpu.decodeModRM(&i.modrm, i.a32); fault != nil {
			return nil, fault
		}
		i.regIndex = int(i.modrm.rm>>3) & 7
	} else {
		if i.has0F {
			i.regIndex = int(i.subOp & 7)
		} else if opcodeHasRegisterIndex(i.op) {
			i.regIndex = int(i.op & 7)
		}
	}

	if desc.slashes != nil {
		desc = &desc.slashes[i.regIndex]
	}

	if !desc.valid {
		i.desc = nil
		i.length = int(cpu.eip - start)
		return i, nil
	}

	if i.lock && !desc.lockOK {
		i.desc = nil
		i.length = int(cpu.eip - start)
		return i, nil
	}

	i.desc = desc
	i.imm1Bytes = desc.imm1
	i.imm2Bytes = desc.imm2
	switch i.imm1Bytes {
	case immAddrSized:
		if i.a32 {
			i.imm1Bytes = 4
		} else {
			i.imm1Bytes = 2
		}
	case immOpSized:
		if i.o32 {
			i.imm1Bytes = 4
		} else {
			i.imm1Bytes = 2
		}
	}

	// imm2 comes first in the stream.
	if i.imm2Bytes != 0 {
		v, fault := cpu.fetchBytes(i.imm2Bytes)
		if fault != nil {
			return nil, fault
		}
		i.imm2 = v
	}
	if i.imm1Bytes != 0 {
		v, fault := cpu.fetchBytes(i.imm1Bytes)
		if fault != nil {
			return nil, fault
		}
		i.imm1 = v
	}

	i.length = int(cpu.eip - start)
	return i, nil
}

func (cpu *CPU) fetchBytes(count int) (uint32, *Fault) {
	switch count {
	case 1:
		v, fault := cpu.fetch8()
		return uint32(v), fault
	case 2:
		v, fault := cpu.fetch16()
		return uint32(v), fault
	default:
		return cpu.fetch32()
	}
}

// execute resolves the operand reference and runs the handler.
func (i *Instruction) execute(cpu *CPU) *Fault {
	if i.desc == nil {
		return cpu.udFault("unrecognized instruction encoding")
	}
	cpu.segPrefix = i.segPrefix
	cpu.effO32 = i.o32
	cpu.effA32 = i.a32
	if i.hasRM {
		i.modrm.resolve(cpu)
	}
	return i.desc.exec(cpu, i)
}
