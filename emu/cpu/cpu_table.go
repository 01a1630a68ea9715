/*
   Opcode table construction.

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

func init() {
	build(0x00, "ADD", fmtRM8Reg8, aluRMReg(addK[uint8]), true)
	build2(0x01, "ADD", fmtRM16Reg16, aluRMReg(addK[uint16]), fmtRM32Reg32, aluRMReg(addK[uint32]), true)
	build(0x02, "ADD", fmtReg8RM8, aluRegRM(addK[uint8]), true)
	build2(0x03, "ADD", fmtReg16RM16, aluRegRM(addK[uint16]), fmtReg32RM32, aluRegRM(addK[uint32]), true)
	build(0x04, "ADD", fmtALImm8, aluAImm(addK[uint8]))
	build2(0x05, "ADD", fmtAXImm16, aluAImm(addK[uint16]), fmtEAXImm32, aluAImm(addK[uint32]))
	build(0x06, "PUSH", fmtOP, pushSeg(SegES))
	build(0x07, "POP", fmtOP, popSeg(SegES))
	build(0x08, "OR", fmtRM8Reg8, aluRMReg(orK[uint8]), true)
	build2(0x09, "OR", fmtRM16Reg16, aluRMReg(orK[uint16]), fmtRM32Reg32, aluRMReg(orK[uint32]), true)
	build(0x0A, "OR", fmtReg8RM8, aluRegRM(orK[uint8]), true)
	build2(0x0B, "OR", fmtReg16RM16, aluRegRM(orK[uint16]), fmtReg32RM32, aluRegRM(orK[uint32]), true)
	build(0x0C, "OR", fmtALImm8, aluAImm(orK[uint8]))
	build2(0x0D, "OR", fmtAXImm16, aluAImm(orK[uint16]), fmtEAXImm32, aluAImm(orK[uint32]))
	build(0x0E, "PUSH", fmtOP, pushSeg(SegCS))

	build(0x10, "ADC", fmtRM8Reg8, aluRMReg(adcK[uint8]), true)
	build2(0x11, "ADC", fmtRM16Reg16, aluRMReg(adcK[uint16]), fmtRM32Reg32, aluRMReg(adcK[uint32]), true)
	build(0x12, "ADC", fmtReg8RM8, aluRegRM(adcK[uint8]), true)
	build2(0x13, "ADC", fmtReg16RM16, aluRegRM(adcK[uint16]), fmtReg32RM32, aluRegRM(adcK[uint32]), true)
	build(0x14, "ADC", fmtALImm8, aluAImm(adcK[uint8]))
	build2(0x15, "ADC", fmtAXImm16, aluAImm(adcK[uint16]), fmtEAXImm32, aluAImm(adcK[uint32]))
	build(0x16, "PUSH", fmtOP, pushSeg(SegSS))
	build(0x17, "POP", fmtOP, popSeg(SegSS))
	build(0x18, "SBB", fmtRM8Reg8, aluRMReg(sbbK[uint8]), true)
	build2(0x19, "SBB", fmtRM16Reg16, aluRMReg(sbbK[uint16]), fmtRM32Reg32, aluRMReg(sbbK[uint32]), true)
	build(0x1A, "SBB", fmtReg8RM8, aluRegRM(sbbK[uint8]), true)
	build2(0x1B, "SBB", fmtReg16RM16, aluRegRM(sbbK[uint16]), fmtReg32RM32, aluRegRM(sbbK[uint32]), true)
	build(0x1C, "SBB", fmtALImm8, aluAImm(sbbK[uint8]))
	build2(0x1D, "SBB", fmtAXImm16, aluAImm(sbbK[uint16]), fmtEAXImm32, aluAImm(sbbK[uint32]))
	build(0x1E, "PUSH", fmtOP, pushSeg(SegDS))
	build(0x1F, "POP", fmtOP, popSeg(SegDS))

	build(0x20, "AND", fmtRM8Reg8, aluRMReg(andK[uint8]), true)
	build2(0x21, "AND", fmtRM16Reg16, aluRMReg(andK[uint16]), fmtRM32Reg32, aluRMReg(andK[uint32]), true)
	build(0x22, "AND", fmtReg8RM8, aluRegRM(andK[uint8]), true)
	build2(0x23, "AND", fmtReg16RM16, aluRegRM(andK[uint16]), fmtReg32RM32, aluRegRM(andK[uint32]), true)
	build(0x24, "AND", fmtALImm8, aluAImm(andK[uint8]))
	build2(0x25, "AND", fmtAXImm16, aluAImm(andK[uint16]), fmtEAXImm32, aluAImm(andK[uint32]))
	build(0x27, "DAA", fmtOP, opDAA)
	build(0x28, "SUB", fmtRM8Reg8, aluRMReg(subK[uint8]), true)
	build2(0x29, "SUB", fmtRM16Reg16, aluRMReg(subK[uint16]), fmtRM32Reg32, aluRMReg(subK[uint32]), true)
	build(0x2A, "SUB", fmtReg8RM8, aluRegRM(subK[uint8]), true)
	build2(0x2B, "SUB", fmtReg16RM16, aluRegRM(subK[uint16]), fmtReg32RM32, aluRegRM(subK[uint32]), true)
	build(0x2C, "SUB", fmtALImm8, aluAImm(subK[uint8]))
	build2(0x2D, "SUB", fmtAXImm16, aluAImm(subK[uint16]), fmtEAXImm32, aluAImm(subK[uint32]))
	build(0x2F, "DAS", fmtOP, opDAS)

	build(0x30, "XOR", fmtRM8Reg8, aluRMReg(xorK[uint8]), true)
	build2(0x31, "XOR", fmtRM16Reg16, aluRMReg(xorK[uint16]), fmtRM32Reg32, aluRMReg(xorK[uint32]), true)
	build(0x32, "XOR", fmtReg8RM8, aluRegRM(xorK[uint8]), true)
	build2(0x33, "XOR", fmtReg16RM16, aluRegRM(xorK[uint16]), fmtReg32RM32, aluRegRM(xorK[uint32]), true)
	build(0x34, "XOR", fmtALImm8, aluAImm(xorK[uint8]))
	build2(0x35, "XOR", fmtAXImm16, aluAImm(xorK[uint16]), fmtEAXImm32, aluAImm(xorK[uint32]))
	build(0x37, "AAA", fmtOP, opAAA)
	build(0x38, "CMP", fmtRM8Reg8, cmpRMReg(subK[uint8]), true)
	build2(0x39, "CMP", fmtRM16Reg16, cmpRMReg(subK[uint16]), fmtRM32Reg32, cmpRMReg(subK[uint32]), true)
	build(0x3A, "CMP", fmtReg8RM8, cmpRegRM(subK[uint8]), true)
	build2(0x3B, "CMP", fmtReg16RM16, cmpRegRM(subK[uint16]), fmtReg32RM32, cmpRegRM(subK[uint32]), true)
	build(0x3C, "CMP", fmtALImm8, cmpAImm(subK[uint8]))
	build2(0x3D, "CMP", fmtAXImm16, cmpAImm(subK[uint16]), fmtEAXImm32, cmpAImm(subK[uint32]))
	build(0x3F, "AAS", fmtOP, opAAS)

	for op := uint8(0x40); op <= 0x47; op++ {
		build2(op, "INC", fmtReg16, opINCReg16, fmtReg32, opINCReg32)
	}
	for op := uint8(0x48); op <= 0x4F; op++ {
		build2(op, "DEC", fmtReg16, opDECReg16, fmtReg32, opDECReg32)
	}
	for op := uint8(0x50); op <= 0x57; op++ {
		build2(op, "PUSH", fmtReg16, opPUSHReg16, fmtReg32, opPUSHReg32)
	}
	for op := uint8(0x58); op <= 0x5F; op++ {
		build2(op, "POP", fmtReg16, opPOPReg16, fmtReg32, opPOPReg32)
	}

	build2n(0x60, "PUSHAW", fmtOP, opPUSHA, "PUSHAD", fmtOP, opPUSHAD)
	build2n(0x61, "POPAW", fmtOP, opPOPA, "POPAD", fmtOP, opPOPAD)
	build2(0x62, "BOUND", fmtReg16RM16, opBOUND, fmtReg32RM32, opBOUND)
	build(0x63, "ARPL", fmtRM16Reg16, opARPL)

	build2(0x68, "PUSH", fmtImm16, opPUSHImm16, fmtImm32, opPUSHImm32)
	build2(0x69, "IMUL", fmtReg16RM16Imm16, opIMULRegRMImm16, fmtReg32RM32Imm32, opIMULRegRMImm32)
	build(0x6A, "PUSH", fmtImm8, opPUSHImm8)
	build2(0x6B, "IMUL", fmtReg16RM16Imm8, opIMULRegRMImm8w, fmtReg32RM32Imm8, opIMULRegRMImm8d)
	build(0x6C, "INSB", fmtOP, opINSB)
	build2n(0x6D, "INSW", fmtOP, opINSW, "INSD", fmtOP, opINSD)
	build(0x6E, "OUTSB", fmtOP, opOUTSB)
	build2n(0x6F, "OUTSW", fmtOP, opOUTSW, "OUTSD", fmtOP, opOUTSD)

	jcc := [16]string{
		"JO", "JNO", "JC", "JNC", "JZ", "JNZ", "JNA", "JA",
		"JS", "JNS", "JP", "JNP", "JL", "JNL", "JNG", "JG",
	}
	for cc := uint8(0); cc < 16; cc++ {
		build(0x70+cc, jcc[cc], fmtShortImm8, opJccShort)
	}

	build(0x84, "TEST", fmtRM8Reg8, cmpRMReg(andK[uint8]))
	build2(0x85, "TEST", fmtRM16Reg16, cmpRMReg(andK[uint16]), fmtRM32Reg32, cmpRMReg(andK[uint32]))
	build(0x86, "XCHG", fmtReg8RM8, opXCHGRegRM8, true)
	build2(0x87, "XCHG", fmtReg16RM16, opXCHGRegRM16, fmtReg32RM32, opXCHGRegRM32, true)
	build(0x88, "MOV", fmtRM8Reg8, movRMReg[uint8])
	build2(0x89, "MOV", fmtRM16Reg16, movRMReg[uint16], fmtRM32Reg32, movRMReg[uint32])
	build(0x8A, "MOV", fmtReg8RM8, movRegRM[uint8])
	build2(0x8B, "MOV", fmtReg16RM16, movRegRM[uint16], fmtReg32RM32, movRegRM[uint32])
	build(0x8C, "MOV", fmtRM16Seg, opMOVRMSeg)
	build2(0x8D, "LEA", fmtReg16Mem16, opLEA16, fmtReg32Mem32, opLEA32)
	build2(0x8E, "MOV", fmtSegRM16, opMOVSegRM, fmtSegRM32, opMOVSegRM)

	build(0x90, "NOP", fmtOP, opNOP)
	for op := uint8(0x91); op <= 0x97; op++ {
		build2(op, "XCHG", fmtAXReg16, opXCHGAXReg16, fmtEAXReg32, opXCHGEAXReg32)
	}

	build2n(0x98, "CBW", fmtOP, opCBW, "CWDE", fmtOP, opCWDE)
	build2n(0x99, "CWD", fmtOP, opCWD, "CDQ", fmtOP, opCDQ)
	build2(0x9A, "CALL", fmtImm16Imm16, opCALLFarImm, fmtImm16Imm32, opCALLFarImm)
	build(0x9B, "WAIT", fmtOP, opNOP)
	build2n(0x9C, "PUSHFW", fmtOP, opPUSHF, "PUSHFD", fmtOP, opPUSHFD)
	build2n(0x9D, "POPFW", fmtOP, opPOPF, "POPFD", fmtOP, opPOPFD)
	build(0x9E, "SAHF", fmtOP, opSAHF)
	build(0x9F, "LAHF", fmtOP, opLAHF)

	build(0xA0, "MOV", fmtALMoff8, movAMoff[uint8])
	build2(0xA1, "MOV", fmtAXMoff16, movAMoff[uint16], fmtEAXMoff32, movAMoff[uint32])
	build(0xA2, "MOV", fmtMoff8AL, movMoffA[uint8])
	build2(0xA3, "MOV", fmtMoff16AX, movMoffA[uint16], fmtMoff32EAX, movMoffA[uint32])
	build(0xA4, "MOVSB", fmtOP, stringOp(movsStep[uint8], false))
	build2n(0xA5, "MOVSW", fmtOP, stringOp(movsStep[uint16], false), "MOVSD", fmtOP, stringOp(movsStep[uint32], false))
	build(0xA6, "CMPSB", fmtOP, stringOp(cmpsStep[uint8], true))
	build2n(0xA7, "CMPSW", fmtOP, stringOp(cmpsStep[uint16], true), "CMPSD", fmtOP, stringOp(cmpsStep[uint32], true))
	build(0xA8, "TEST", fmtALImm8, cmpAImm(andK[uint8]))
	build2(0xA9, "TEST", fmtAXImm16, cmpAImm(andK[uint16]), fmtEAXImm32, cmpAImm(andK[uint32]))
	build(0xAA, "STOSB", fmtOP, stringOp(stosStep[uint8], false))
	build2n(0xAB, "STOSW", fmtOP, stringOp(stosStep[uint16], false), "STOSD", fmtOP, stringOp(stosStep[uint32], false))
	build(0xAC, "LODSB", fmtOP, stringOp(lodsStep[uint8], false))
	build2n(0xAD, "LODSW", fmtOP, stringOp(lodsStep[uint16], false), "LODSD", fmtOP, stringOp(lodsStep[uint32], false))
	build(0xAE, "SCASB", fmtOP, stringOp(scasStep[uint8], true))
	build2n(0xAF, "SCASW", fmtOP, stringOp(scasStep[uint16], true), "SCASD", fmtOP, stringOp(scasStep[uint32], true))

	for op := uint8(0xB0); op <= 0xB7; op++ {
		build(op, "MOV", fmtReg8Imm8, movRegImm[uint8])
	}
	for op := uint8(0xB8); op <= 0xBF; op++ {
		build2(op, "MOV", fmtReg16Imm16, movRegImm[uint16], fmtReg32Imm32, movRegImm[uint32])
	}

	build(0xC2, "RET", fmtImm16, opRETImm16)
	build(0xC3, "RET", fmtOP, opRET)
	build2(0xC4, "LES", fmtReg16Mem16, lxs[uint16](SegES), fmtReg32Mem32, lxs[uint32](SegES))
	build2(0xC5, "LDS", fmtReg16Mem16, lxs[uint16](SegDS), fmtReg32Mem32, lxs[uint32](SegDS))
	build(0xC6, "MOV", fmtRM8Imm8, movRMImm[uint8])
	build2(0xC7, "MOV", fmtRM16Imm16, movRMImm[uint16], fmtRM32Imm32, movRMImm[uint32])
	build2(0xC8, "ENTER", fmtImm8Imm16, opENTER16, fmtImm8Imm16, opENTER32)
	build2(0xC9, "LEAVE", fmtOP, opLEAVE16, fmtOP, opLEAVE32)
	build(0xCA, "RETF", fmtImm16, opRETFImm16)
	build(0xCB, "RETF", fmtOP, opRETF)
	build(0xCC, "INT3", fmtINT3, opINT3)
	build(0xCD, "INT", fmtImm8, opINTImm8)
	build(0xCE, "INTO", fmtOP, opINTO)
	build(0xCF, "IRET", fmtOP, opIRET)

	build(0xD4, "AAM", fmtImm8, opAAM)
	build(0xD5, "AAD", fmtImm8, opAAD)
	build(0xD6, "SALC", fmtOP, opSALC)
	build(0xD7, "XLAT", fmtOP, opXLAT)

	// D8-DF are the x87 escape range; no math unit here.
	for op := uint8(0xD8); op <= 0xDF; op++ {
		build(op, "FPU?", fmtRM8, opESCAPE)
	}

	build(0xE0, "LOOPNZ", fmtImm8, opLOOPNZ)
	build(0xE1, "LOOPZ", fmtImm8, opLOOPZ)
	build(0xE2, "LOOP", fmtImm8, opLOOP)
	build(0xE3, "JCXZ", fmtImm8, opJCXZ)
	build(0xE4, "IN", fmtALImm8, opINALImm8)
	build2(0xE5, "IN", fmtAXImm8, opINAXImm8, fmtEAXImm8, opINEAXImm8)
	build(0xE6, "OUT", fmtImm8AL, opOUTImm8AL)
	build2(0xE7, "OUT", fmtImm8AX, opOUTImm8AX, fmtImm8EAX, opOUTImm8EAX)
	build2(0xE8, "CALL", fmtRelImm16, opCALLRel16, fmtRelImm32, opCALLRel32)
	build2(0xE9, "JMP", fmtRelImm16, opJMPRel16, fmtRelImm32, opJMPRel32)
	build2(0xEA, "JMP", fmtImm16Imm16, opJMPFarImm, fmtImm16Imm32, opJMPFarImm)
	build(0xEB, "JMP", fmtShortImm8, opJMPShort)
	build(0xEC, "IN", fmtALDX, opINALDX)
	build2(0xED, "IN", fmtAXDX, opINAXDX, fmtEAXDX, opINEAXDX)
	build(0xEE, "OUT", fmtDXAL, opOUTDXAL)
	build2(0xEF, "OUT", fmtDXAX, opOUTDXAX, fmtDXEAX, opOUTDXEAX)

	build(0xF1, "VKILL", fmtOP, opVKILL)

	build(0xF4, "HLT", fmtOP, opHLT)
	build(0xF5, "CMC", fmtOP, opCMC)

	build(0xF8, "CLC", fmtOP, opCLC)
	build(0xF9, "STC", fmtOP, opSTC)
	build(0xFA, "CLI", fmtOP, opCLI)
	build(0xFB, "STI", fmtOP, opSTI)
	build(0xFC, "CLD", fmtOP, opCLD)
	build(0xFD, "STD", fmtOP, opSTD)

	buildSlash(0x80, 0, "ADD", fmtRM8Imm8, aluRMImm(addK[uint8]), true)
	buildSlash(0x80, 1, "OR", fmtRM8Imm8, aluRMImm(orK[uint8]), true)
	buildSlash(0x80, 2, "ADC", fmtRM8Imm8, aluRMImm(adcK[uint8]), true)
	buildSlash(0x80, 3, "SBB", fmtRM8Imm8, aluRMImm(sbbK[uint8]), true)
	buildSlash(0x80, 4, "AND", fmtRM8Imm8, aluRMImm(andK[uint8]), true)
	buildSlash(0x80, 5, "SUB", fmtRM8Imm8, aluRMImm(subK[uint8]), true)
	buildSlash(0x80, 6, "XOR", fmtRM8Imm8, aluRMImm(xorK[uint8]), true)
	buildSlash(0x80, 7, "CMP", fmtRM8Imm8, cmpRMImm(subK[uint8]))

	// 0x82 is the undocumented alias of the 0x80 group.
	buildSlash(0x82, 0, "ADD", fmtRM8Imm8, aluRMImm(addK[uint8]), true)
	buildSlash(0x82, 1, "OR", fmtRM8Imm8, aluRMImm(orK[uint8]), true)
	buildSlash(0x82, 2, "ADC", fmtRM8Imm8, aluRMImm(adcK[uint8]), true)
	buildSlash(0x82, 3, "SBB", fmtRM8Imm8, aluRMImm(sbbK[uint8]), true)
	buildSlash(0x82, 4, "AND", fmtRM8Imm8, aluRMImm(andK[uint8]), true)
	buildSlash(0x82, 5, "SUB", fmtRM8Imm8, aluRMImm(subK[uint8]), true)
	buildSlash(0x82, 6, "XOR", fmtRM8Imm8, aluRMImm(xorK[uint8]), true)
	buildSlash(0x82, 7, "CMP", fmtRM8Imm8, cmpRMImm(subK[uint8]))

	buildSlash2(0x81, 0, "ADD", fmtRM16Imm16, aluRMImm(addK[uint16]), fmtRM32Imm32, aluRMImm(addK[uint32]), true)
	buildSlash2(0x81, 1, "OR", fmtRM16Imm16, aluRMImm(orK[uint16]), fmtRM32Imm32, aluRMImm(orK[uint32]), true)
	buildSlash2(0x81, 2, "ADC", fmtRM16Imm16, aluRMImm(adcK[uint16]), fmtRM32Imm32, aluRMImm(adcK[uint32]), true)
	buildSlash2(0x81, 3, "SBB", fmtRM16Imm16, aluRMImm(sbbK[uint16]), fmtRM32Imm32, aluRMImm(sbbK[uint32]), true)
	buildSlash2(0x81, 4, "AND", fmtRM16Imm16, aluRMImm(andK[uint16]), fmtRM32Imm32, aluRMImm(andK[uint32]), true)
	buildSlash2(0x81, 5, "SUB", fmtRM16Imm16, aluRMImm(subK[uint16]), fmtRM32Imm32, aluRMImm(subK[uint32]), true)
	buildSlash2(0x81, 6, "XOR", fmtRM16Imm16, aluRMImm(xorK[uint16]), fmtRM32Imm32, aluRMImm(xorK[uint32]), true)
	buildSlash2(0x81, 7, "CMP", fmtRM16Imm16, cmpRMImm(subK[uint16]), fmtRM32Imm32, cmpRMImm(subK[uint32]))

	buildSlash2(0x83, 0, "ADD", fmtRM16Imm8, aluRMImm8s(addK[uint16]), fmtRM32Imm8, aluRMImm8s(addK[uint32]), true)
	buildSlash2(0x83, 1, "OR", fmtRM16Imm8, aluRMImm8s(orK[uint16]), fmtRM32Imm8, aluRMImm8s(orK[uint32]), true)
	buildSlash2(0x83, 2, "ADC", fmtRM16Imm8, aluRMImm8s(adcK[uint16]), fmtRM32Imm8, aluRMImm8s(adcK[uint32]), true)
	buildSlash2(0x83, 3, "SBB", fmtRM16Imm8, aluRMImm8s(sbbK[uint16]), fmtRM32Imm8, aluRMImm8s(sbbK[uint32]), true)
	buildSlash2(0x83, 4, "AND", fmtRM16Imm8, aluRMImm8s(andK[uint16]), fmtRM32Imm8, aluRMImm8s(andK[uint32]), true)
	buildSlash2(0x83, 5, "SUB", fmtRM16Imm8, aluRMImm8s(subK[uint16]), fmtRM32Imm8, aluRMImm8s(subK[uint32]), true)
	buildSlash2(0x83, 6, "XOR", fmtRM16Imm8, aluRMImm8s(xorK[uint16]), fmtRM32Imm8, aluRMImm8s(xorK[uint32]), true)
	buildSlash2(0x83, 7, "CMP", fmtRM16Imm8, cmpRMImm8s(subK[uint16]), fmtRM32Imm8, cmpRMImm8s(subK[uint32]))

	buildSlash2(0x8F, 0, "POP", fmtRM16, opPOPRM16, fmtRM32, opPOPRM32)

	shiftNames := [8]string{"ROL", "ROR", "RCL", "RCR", "SHL", "SHR", "SHL", "SAR"}
	for slash := uint8(0); slash < 8; slash++ {
		buildSlash(0xC0, slash, shiftNames[slash], fmtRM8Imm8, shiftRM(shift8[slash], countImm8))
		buildSlash2(0xC1, slash, shiftNames[slash], fmtRM16Imm8, shiftRM(shift16[slash], countImm8),
			fmtRM32Imm8, shiftRM(shift32[slash], countImm8))
		buildSlash(0xD0, slash, shiftNames[slash], fmtRM8One, shiftRM(shift8[slash], countOne))
		buildSlash2(0xD1, slash, shiftNames[slash], fmtRM16One, shiftRM(shift16[slash], countOne),
			fmtRM32One, shiftRM(shift32[slash], countOne))
		buildSlash(0xD2, slash, shiftNames[slash], fmtRM8CL, shiftRM(shift8[slash], countCL))
		buildSlash2(0xD3, slash, shiftNames[slash], fmtRM16CL, shiftRM(shift16[slash], countCL),
			fmtRM32CL, shiftRM(shift32[slash], countCL))
	}

	buildSlash(0xF6, 0, "TEST", fmtRM8Imm8, cmpRMImm(andK[uint8]))
	buildSlash(0xF6, 1, "TEST", fmtRM8Imm8, cmpRMImm(andK[uint8]))
	buildSlash(0xF6, 2, "NOT", fmtRM8, notRM[uint8], true)
	buildSlash(0xF6, 3, "NEG", fmtRM8, negRM[uint8], true)
	buildSlash(0xF6, 4, "MUL", fmtRM8, opMULRM8)
	buildSlash(0xF6, 5, "IMUL", fmtRM8, opIMULRM8)
	buildSlash(0xF6, 6, "DIV", fmtRM8, opDIVRM8)
	buildSlash(0xF6, 7, "IDIV", fmtRM8, opIDIVRM8)

	buildSlash2(0xF7, 0, "TEST", fmtRM16Imm16, cmpRMImm(andK[uint16]), fmtRM32Imm32, cmpRMImm(andK[uint32]))
	buildSlash2(0xF7, 1, "TEST", fmtRM16Imm16, cmpRMImm(andK[uint16]), fmtRM32Imm32, cmpRMImm(andK[uint32]))
	buildSlash2(0xF7, 2, "NOT", fmtRM16, notRM[uint16], fmtRM32, notRM[uint32], true)
	buildSlash2(0xF7, 3, "NEG", fmtRM16, negRM[uint16], fmtRM32, negRM[uint32], true)
	buildSlash2(0xF7, 4, "MUL", fmtRM16, opMULRM16, fmtRM32, opMULRM32)
	buildSlash2(0xF7, 5, "IMUL", fmtRM16, opIMULRM16, fmtRM32, opIMULRM32)
	buildSlash2(0xF7, 6, "DIV", fmtRM16, opDIVRM16, fmtRM32, opDIVRM32)
	buildSlash2(0xF7, 7, "IDIV", fmtRM16, opIDIVRM16, fmtRM32, opIDIVRM32)

	buildSlash(0xFE, 0, "INC", fmtRM8, incRM[uint8], true)
	buildSlash(0xFE, 1, "DEC", fmtRM8, decRM[uint8], true)

	buildSlash2(0xFF, 0, "INC", fmtRM16, incRM[uint16], fmtRM32, incRM[uint32], true)
	buildSlash2(0xFF, 1, "DEC", fmtRM16, decRM[uint16], fmtRM32, decRM[uint32], true)
	buildSlash2(0xFF, 2, "CALL", fmtRM16, opCALLRM16, fmtRM32, opCALLRM32)
	buildSlash2(0xFF, 3, "CALL", fmtFARMem16, farMem(jumpCALL, false), fmtFARMem32, farMem(jumpCALL, true))
	buildSlash2(0xFF, 4, "JMP", fmtRM16, opJMPRM16, fmtRM32, opJMPRM32)
	buildSlash2(0xFF, 5, "JMP", fmtFARMem16, farMem(jumpJMP, false), fmtFARMem32, farMem(jumpJMP, true))
	buildSlash2(0xFF, 6, "PUSH", fmtRM16, opPUSHRM16, fmtRM32, opPUSHRM32)

	// Two byte opcodes.
	build0FSlash(0x00, 0, "SLDT", fmtRM16, opSLDT)
	build0FSlash(0x00, 1, "STR", fmtRM16, opSTR)
	build0FSlash(0x00, 2, "LLDT", fmtRM16, opLLDT)
	build0FSlash(0x00, 3, "LTR", fmtRM16, opLTR)
	build0FSlash(0x00, 4, "VERR", fmtRM16, opVERR)
	build0FSlash(0x00, 5, "VERW", fmtRM16, opVERW)

	build0FSlash(0x01, 0, "SGDT", fmtRM16, opSGDT)
	build0FSlash(0x01, 1, "SIDT", fmtRM16, opSIDT)
	build0FSlash(0x01, 2, "LGDT", fmtRM16, opLGDT)
	build0FSlash(0x01, 3, "LIDT", fmtRM16, opLIDT)
	build0FSlash(0x01, 4, "SMSW", fmtRM16, opSMSW)
	build0FSlash(0x01, 6, "LMSW", fmtRM16, opLMSW)
	build0FSlash(0x01, 7, "INVLPG", fmtRM32, opINVLPG)

	build0F2(0x02, "LAR", fmtReg16RM16, opLAR16, fmtReg32RM32, opLAR32)
	build0F2(0x03, "LSL", fmtReg16RM16, opLSL16, fmtReg32RM32, opLSL32)
	build0F(0x06, "CLTS", fmtOP, opCLTS)
	build0F(0x09, "WBINVD", fmtOP, opWBINVD)
	build0F(0x0B, "UD2", fmtOP, opUD2)

	build0F(0x1E, "NOP", fmtRM16, opNOP)

	build0F(0x20, "MOV", fmtReg32CR, opMOVRegCR)
	build0F(0x21, "MOV", fmtReg32DR, opMOVRegDR)
	build0F(0x22, "MOV", fmtCRReg32, opMOVCRReg)
	build0F(0x23, "MOV", fmtDRReg32, opMOVDRReg)

	build0F(0x31, "RDTSC", fmtOP, opRDTSC)

	cmov := [16]string{
		"CMOVO", "CMOVNO", "CMOVC", "CMOVNC", "CMOVZ", "CMOVNZ", "CMOVNA", "CMOVA",
		"CMOVS", "CMOVNS", "CMOVP", "CMOVNP", "CMOVL", "CMOVNL", "CMOVNG", "CMOVG",
	}
	for cc := uint8(0); cc < 16; cc++ {
		build0F2(0x40+cc, cmov[cc], fmtReg16RM16, opCMOVcc16, fmtReg32RM32, opCMOVcc32)
	}

	for cc := uint8(0); cc < 16; cc++ {
		build0F(0x80+cc, jcc[cc], fmtNearImm, opJccNear)
	}

	setcc := [16]string{
		"SETO", "SETNO", "SETC", "SETNC", "SETZ", "SETNZ", "SETNA", "SETA",
		"SETS", "SETNS", "SETP", "SETNP", "SETL", "SETNL", "SETNG", "SETG",
	}
	for cc := uint8(0); cc < 16; cc++ {
		build0F(0x90+cc, setcc[cc], fmtRM8, opSETcc)
	}

	build0F(0xA0, "PUSH", fmtOP, pushSeg(SegFS))
	build0F(0xA1, "POP", fmtOP, popSeg(SegFS))
	build0F(0xA2, "CPUID", fmtOP, opCPUID)
	build0F2(0xA3, "BT", fmtRM16Reg16, btReg[uint16](btOpTest), fmtRM32Reg32, btReg[uint32](btOpTest))
	build0F2(0xA4, "SHLD", fmtRM16Reg16Imm8, shldImm[uint16], fmtRM32Reg32Imm8, shldImm[uint32])
	build0F2(0xA5, "SHLD", fmtRM16Reg16CL, shldCL[uint16], fmtRM32Reg32CL, shldCL[uint32])
	build0F(0xA8, "PUSH", fmtOP, pushSeg(SegGS))
	build0F(0xA9, "POP", fmtOP, popSeg(SegGS))
	build0F2(0xAB, "BTS", fmtRM16Reg16, btReg[uint16](btOpSet), fmtRM32Reg32, btReg[uint32](btOpSet), true)
	build0F2(0xAC, "SHRD", fmtRM16Reg16Imm8, shrdImm[uint16], fmtRM32Reg32Imm8, shrdImm[uint32])
	build0F2(0xAD, "SHRD", fmtRM16Reg16CL, shrdCL[uint16], fmtRM32Reg32CL, shrdCL[uint32])
	build0F2(0xAF, "IMUL", fmtReg16RM16, opIMULRegRM16, fmtReg32RM32, opIMULRegRM32)
	build0F(0xB0, "CMPXCHG", fmtRM8Reg8, opCMPXCHG8, true)
	build0F2(0xB1, "CMPXCHG", fmtRM16Reg16, opCMPXCHG16, fmtRM32Reg32, opCMPXCHG32, true)
	build0F2(0xB2, "LSS", fmtReg16Mem16, lxs[uint16](SegSS), fmtReg32Mem32, lxs[uint32](SegSS))
	build0F2(0xB3, "BTR", fmtRM16Reg16, btReg[uint16](btOpReset), fmtRM32Reg32, btReg[uint32](btOpReset), true)
	build0F2(0xB4, "LFS", fmtReg16Mem16, lxs[uint16](SegFS), fmtReg32Mem32, lxs[uint32](SegFS))
	build0F2(0xB5, "LGS", fmtReg16Mem16, lxs[uint16](SegGS), fmtReg32Mem32, lxs[uint32](SegGS))
	build0F2(0xB6, "MOVZX", fmtReg16RM8, opMOVZX16RM8, fmtReg32RM8, opMOVZX32RM8)
	build0F2n(0xB7, "0xB7", fmtOP, nil, "MOVZX", fmtReg32RM16, opMOVZX32RM16)
	build0F(0xB9, "UD1", fmtOP, opUD1)
	build0F2(0xBB, "BTC", fmtRM16Reg16, btReg[uint16](btOpComplement), fmtRM32Reg32, btReg[uint32](btOpComplement), true)
	build0F2(0xBC, "BSF", fmtReg16RM16, opBSF16, fmtReg32RM32, opBSF32)
	build0F2(0xBD, "BSR", fmtReg16RM16, opBSR16, fmtReg32RM32, opBSR32)
	build0F2(0xBE, "MOVSX", fmtReg16RM8, opMOVSX16RM8, fmtReg32RM8, opMOVSX32RM8)
	build0F2n(0xBF, "0xBF", fmtOP, nil, "MOVSX", fmtReg32RM16, opMOVSX32RM16)

	build0FSlash2(0xBA, 4, "BT", fmtRM16Imm8, btImm[uint16](btOpTest), fmtRM32Imm8, btImm[uint32](btOpTest), true)
	build0FSlash2(0xBA, 5, "BTS", fmtRM16Imm8, btImm[uint16](btOpSet), fmtRM32Imm8, btImm[uint32](btOpSet), true)
	build0FSlash2(0xBA, 6, "BTR", fmtRM16Imm8, btImm[uint16](btOpReset), fmtRM32Imm8, btImm[uint32](btOpReset), true)
	build0FSlash2(0xBA, 7, "BTC", fmtRM16Imm8, btImm[uint16](btOpComplement), fmtRM32Imm8, btImm[uint32](btOpComplement), true)

	build0F(0xC0, "XADD", fmtRM8Reg8, opXADD8, true)
	build0F2(0xC1, "XADD", fmtRM16Reg16, opXADD16, fmtRM32Reg32, opXADD32, true)

	for op := uint8(0xC8); op <= 0xCF; op++ {
		build0F(op, "BSWAP", fmtReg32, opBSWAP)
	}

	build0F(0xFF, "UD0", fmtOP, opUD0)
}
