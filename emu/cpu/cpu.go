/*
   CPU: main fetch, decode, execute cycle.

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
	"fmt"
	"log/slog"
	"time"

	dis "github.com/rcornwell/PC386/emu/disassemble"
	"github.com/rcornwell/PC386/util/logger"
)

// Reset puts the CPU back into the power-on state: real mode, the reset
// vector in CS:IP (0x1000:0 in autotest mode), flags 0x0200, IOPL 3.
func (cpu *CPU) Reset() {
	cpu.nextUninterruptible = false

	cpu.gpr = [8]uint32{}
	cpu.cr0 = 0
	cpu.cr2 = 0
	cpu.cr3 = 0
	cpu.cr4 = 0
	cpu.dr = [8]uint32{}

	cpu.iopl = 0
	cpu.vm = false
	cpu.vip = false
	cpu.vif = false
	cpu.nt = false
	cpu.rf = false
	cpu.ac = false
	cpu.idfl = false

	cpu.gdtr = dtr{}
	cpu.idtr = dtr{}
	cpu.ldtr = ldtReg{}

	cpu.tr = taskReg{limit: 0xffff}

	cpu.cache = [6]descriptor{}
	cpu.segPrefix = SegNone

	for seg := SegES; seg < SegNone; seg++ {
		_ = cpu.writeSegmentRegister(seg, 0)
	}

	if cpu.opts.Autotest {
		_ = cpu.farJump(logicalAddr{selector: 0x1000, offset: 0}, jumpInternal, nil)
	} else {
		_ = cpu.farJump(logicalAddr{selector: resetCS, offset: resetIP}, jumpInternal, nil)
	}

	cpu.setEFlags(resetEFlags)
	cpu.iopl = 3

	cpu.state = stateAlive
	cpu.a32 = false
	cpu.o32 = false
	cpu.effA32 = false
	cpu.effO32 = false
	cpu.stack32 = false

	cpu.dirtyFlags = 0
	cpu.lastResult = 0
	cpu.lastOpSize = 8

	cpu.cycle = 0
	cpu.recomputeSlowStuff()
}

// SetupAutotest arms the autotest register image: DS=0x1000, SS:SP =
// 0x9000:0x1000, entry CS:IP 0x1000:0.
func (cpu *CPU) SetupAutotest() {
	_ = cpu.writeSegmentRegister(SegDS, 0x1000)
	_ = cpu.writeSegmentRegister(SegSS, 0x9000)
	cpu.writeReg16(regSP, 0x1000)
}

func (cpu *CPU) saveBaseAddress() {
	cpu.baseCS = cpu.sreg[SegCS]
	cpu.baseEIP = cpu.currentIP()
}

// ExecuteOne runs a single instruction, converting any fault raised during
// decode or execute into interrupt delivery at the original EIP.
func (cpu *CPU) ExecuteOne() {
	cpu.saveBaseAddress()

	insn, fault := cpu.decodeNext()
	if fault == nil {
		if cpu.trace {
			cpu.traceInstruction(insn)
		}
		fault = insn.execute(cpu)
	}
	cpu.segPrefix = SegNone

	if fault != nil {
		if fault == faultREPInterrupted {
			cpu.eip = cpu.baseEIP
			return
		}
		cpu.raiseException(fault)
	}
	cpu.cycle++
}

// Step is one turn of the main loop: slow work if armed, one instruction,
// then trap and IRQ sampling. It reports false when the CPU wants to stop.
func (cpu *CPU) Step() bool {
	if cpu.slowStuff.Load() {
		cpu.mainLoopSlowStuff()
	}
	if cpu.state == stateShutdown {
		return false
	}

	cpu.ExecuteOne()

	if cpu.state == stateShutdown {
		return false
	}

	// MOV SS, POP SS and STI shadow the next instruction from
	// interrupt sampling.
	if cpu.nextUninterruptible {
		cpu.nextUninterruptible = false
		return true
	}

	if cpu.tf {
		if fault := cpu.interrupt(excDB, sourceInternal, noErrorCode); fault != nil {
			cpu.raiseException(fault)
		}
	}

	cpu.servicePendingIRQ()
	return true
}

// Run drives Step until shutdown.
func (cpu *CPU) Run() {
	for cpu.Step() {
	}
}

func (cpu *CPU) servicePendingIRQ() {
	if cpu.pic == nil || !cpu.iflag || !cpu.pic.Pending() {
		return
	}
	vector := cpu.pic.Acknowledge()
	if fault := cpu.interrupt(vector, sourceExternal, noErrorCode); fault != nil {
		cpu.raiseException(fault)
	}
}

// haltedLoop spins after HLT, polling the PIC and the command cell.
func (cpu *CPU) haltedLoop() {
	for cpu.state == stateHalted {
		time.Sleep(100 * time.Microsecond)
		switch Command(cpu.command.Load()) {
		case CmdHardReboot:
			cpu.command.Store(int32(CmdNone))
			cpu.HardReboot()
			return
		case CmdEnterDebugger:
			cpu.command.Store(int32(CmdNone))
			cpu.debugActive = true
			cpu.recomputeSlowStuff()
		case CmdExitDebugger:
			cpu.command.Store(int32(CmdNone))
			cpu.debugActive = false
			cpu.recomputeSlowStuff()
		}
		if cpu.debugActive && cpu.debugHook != nil {
			cpu.saveBaseAddress()
			cpu.debugHook(cpu)
		}
		if cpu.pic != nil && cpu.pic.Pending() && cpu.iflag {
			cpu.state = stateAlive
			cpu.servicePendingIRQ()
		}
	}
}

// Command is an externally injected request applied between instructions.
type Command int32

// QueueCommand posts a command from any goroutine.
func (cpu *CPU) QueueCommand(cmd Command) {
	cpu.command.Store(int32(cmd))
	cpu.slowStuff.Store(true)
}

// HardReboot resets every device and the CPU.
func (cpu *CPU) HardReboot() {
	if cpu.io != nil {
		cpu.io.ResetAll()
	}
	cpu.Reset()
}

func (cpu *CPU) recomputeSlowStuff() {
	cpu.slowStuff.Store(Command(cpu.command.Load()) != CmdNone ||
		cpu.trace || len(cpu.breakpoints) != 0 || cpu.debugActive ||
		len(cpu.watches) != 0)
}

func (cpu *CPU) mainLoopSlowStuff() {
	switch Command(cpu.command.Load()) {
	case CmdHardReboot:
		cpu.command.Store(int32(CmdNone))
		cpu.HardReboot()
		return
	case CmdEnterDebugger:
		cpu.command.Store(int32(CmdNone))
		cpu.debugActive = true
		cpu.recomputeSlowStuff()
	case CmdExitDebugger:
		cpu.command.Store(int32(CmdNone))
		cpu.debugActive = false
		cpu.recomputeSlowStuff()
	}

	for _, breakpoint := range cpu.breakpoints {
		if cpu.sreg[SegCS] == breakpoint.selector && cpu.eip == breakpoint.offset {
			cpu.debugActive = true
			break
		}
	}

	if cpu.debugActive && cpu.debugHook != nil {
		cpu.saveBaseAddress()
		cpu.debugHook(cpu)
	}

	if len(cpu.watches) != 0 {
		cpu.dumpWatches()
	}
}

// SetTrace toggles per-instruction trace logging.
func (cpu *CPU) SetTrace(enable bool) {
	cpu.trace = enable
	cpu.recomputeSlowStuff()
}

// AddBreakpoint arms a CS:EIP breakpoint.
func (cpu *CPU) AddBreakpoint(selector uint16, offset uint32) {
	cpu.breakpoints = append(cpu.breakpoints, logicalAddr{selector: selector, offset: offset})
	cpu.recomputeSlowStuff()
}

// ClearBreakpoints drops all breakpoints.
func (cpu *CPU) ClearBreakpoints() {
	cpu.breakpoints = nil
	cpu.recomputeSlowStuff()
}

// AddWatch dumps a dword at seg:off on every slow loop pass.
func (cpu *CPU) AddWatch(selector uint16, offset uint32) {
	cpu.watches = append(cpu.watches, logicalAddr{selector: selector, offset: offset})
	cpu.recomputeSlowStuff()
}

func (cpu *CPU) dumpWatches() {
	for _, watch := range cpu.watches {
		base := uint32(watch.selector)<<4 + watch.offset
		if cpu.pe() {
			d := cpu.getDescriptor(watch.selector)
			base = d.base + watch.offset
		}
		value, fault := readLinear[uint32](cpu, base, accessInternal, 0)
		if fault == nil {
			slog.Info("watch", logger.Tag("cpu"),
				slog.String("addr", fmt.Sprintf("%04x:%08x", watch.selector, watch.offset)),
				slog.String("value", fmt.Sprintf("%08x", value)))
		}
	}
}

// traceInstruction logs the raw bytes and mnemonic of the instruction just
// decoded.
func (cpu *CPU) traceInstruction(i *Instruction) {
	raw := make([]byte, i.length)
	base := cpu.cache[SegCS].base + cpu.baseEIP
	for n := range raw {
		b, fault := readLinear[uint8](cpu, base+uint32(n), accessInternal, 0)
		if fault != nil {
			return
		}
		raw[n] = b
	}
	text, _ := dis.Disassemble(raw, cpu.o32, cpu.a32)
	slog.Debug("trace", logger.Tag("trace"),
		slog.String("at", fmt.Sprintf("%04x:%08x", cpu.baseCS, cpu.baseEIP)),
		slog.String("bytes", fmt.Sprintf("% x", raw)),
		slog.String("insn", text))
}

// DumpState prints the register file, used by the debugger and the crash
// path.
func (cpu *CPU) DumpState() string {
	names := [8]string{"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi"}
	out := ""
	for n, name := range names {
		out += fmt.Sprintf("%s=%08x ", name, cpu.gpr[n])
		if n == 3 {
			out += "\n"
		}
	}
	out += "\n"
	out += fmt.Sprintf("cs=%04x ds=%04x es=%04x ss=%04x fs=%04x gs=%04x\n",
		cpu.sreg[SegCS], cpu.sreg[SegDS], cpu.sreg[SegES],
		cpu.sreg[SegSS], cpu.sreg[SegFS], cpu.sreg[SegGS])
	out += fmt.Sprintf("eip=%08x eflags=%08x cpl=%d\n", cpu.eip, cpu.getEFlags(), cpu.cpl())
	out += fmt.Sprintf("cr0=%08x cr2=%08x cr3=%08x cr4=%08x\n", cpu.cr0, cpu.cr2, cpu.cr3, cpu.cr4)
	out += fmt.Sprintf("gdtr=%08x:%04x idtr=%08x:%04x ldtr=%04x tr=%04x\n",
		cpu.gdtr.base, cpu.gdtr.limit, cpu.idtr.base, cpu.idtr.limit,
		cpu.ldtr.selector, cpu.tr.selector)
	return out
}

func (cpu *CPU) dumpAll() {
	slog.Error("CPU state dump", logger.Tag("cpu"), slog.String("state", cpu.DumpState()))
}

// Accessors used by the machine and debugger.

func (cpu *CPU) EIP() uint32 {
	return cpu.eip
}

func (cpu *CPU) CS() uint16 {
	return cpu.sreg[SegCS]
}

func (cpu *CPU) ReadRegister(index int) uint32 {
	return cpu.gpr[index&7]
}

// PeekMemory reads one byte for the debugger without access checks.
func (cpu *CPU) PeekMemory(selector uint16, offset uint32) uint8 {
	base := uint32(selector)<<4 + offset
	if cpu.pe() {
		d := cpu.getDescriptor(selector)
		base = d.base + offset
	}
	value, fault := readLinear[uint8](cpu, base, accessInternal, 0)
	if fault != nil {
		return 0
	}
	return value
}
