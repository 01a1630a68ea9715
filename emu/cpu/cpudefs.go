/*
   CPU definitions for the PC386 emulator.

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
	"sync/atomic"

	Dv "github.com/rcornwell/PC386/emu/device"
	"github.com/rcornwell/PC386/emu/ioport"
	mem "github.com/rcornwell/PC386/emu/memory"
)

// General register indices, matching the x86 instruction encoding.
const (
	regAX = iota
	regCX
	regDX
	regBX
	regSP
	regBP
	regSI
	regDI
)

// Byte register indices. 0-3 select the low byte of AX-BX, 4-7 the high.
const (
	regAL = iota
	regCL
	regDL
	regBL
	regAH
	regCH
	regDH
	regBH
)

// Segment register indices, matching the sreg field encoding.
const (
	SegES = iota
	SegCS
	SegSS
	SegDS
	SegFS
	SegGS
	SegNone
)

// EFLAGS bits.
const (
	flagCF   uint32 = 0x00000001
	flagPF   uint32 = 0x00000004
	flagAF   uint32 = 0x00000010
	flagZF   uint32 = 0x00000040
	flagSF   uint32 = 0x00000080
	flagTF   uint32 = 0x00000100
	flagIF   uint32 = 0x00000200
	flagDF   uint32 = 0x00000400
	flagOF   uint32 = 0x00000800
	flagIOPL uint32 = 0x00003000
	flagNT   uint32 = 0x00004000
	flagRF   uint32 = 0x00010000
	flagVM   uint32 = 0x00020000
	flagAC   uint32 = 0x00040000
	flagVIF  uint32 = 0x00080000
	flagVIP  uint32 = 0x00100000
	flagID   uint32 = 0x00200000
)

// CR0 bits.
const (
	cr0PE uint32 = 0x00000001
	cr0MP uint32 = 0x00000002
	cr0EM uint32 = 0x00000004
	cr0TS uint32 = 0x00000008
	cr0WP uint32 = 0x00010000
	cr0PG uint32 = 0x80000000
)

// CR4 bits.
const (
	cr4VME uint32 = 0x00000001
	cr4PVI uint32 = 0x00000002
	cr4TSD uint32 = 0x00000004
)

// Page table entry bits.
const (
	ptePresent  uint32 = 0x01
	pteWrite    uint32 = 0x02
	pteUser     uint32 = 0x04
	pteAccessed uint32 = 0x20
	pteDirty    uint32 = 0x40
)

// Page fault error code bits.
const (
	pfProtection uint16 = 0x01
	pfWrite      uint16 = 0x02
	pfUser       uint16 = 0x04
	pfFetch      uint16 = 0x10
)

// Exception vectors.
const (
	excDE = 0x00 // Divide error
	excDB = 0x01 // Debug / single step
	excBP = 0x03 // Breakpoint
	excOF = 0x04 // INTO overflow
	excBR = 0x05 // BOUND range
	excUD = 0x06 // Invalid opcode
	excNM = 0x07 // No math unit
	excTS = 0x0a // Invalid TSS
	excNP = 0x0b // Not present
	excSS = 0x0c // Stack fault
	excGP = 0x0d // General protection
	excPF = 0x0e // Page fault
)

// Memory access kinds.
const (
	accessRead = iota
	accessWrite
	accessExecute
	accessInternal
)

// Control transfer kinds used by far jumps, returns and task switches.
const (
	jumpCALL = iota
	jumpJMP
	jumpIRET
	jumpRETF
	jumpINT
	jumpInternal
)

// Interrupt sources. The external bit lands in gate error codes.
const (
	sourceInternal = 0
	sourceExternal = 1
)

// CPU run states.
const (
	stateAlive = iota
	stateHalted
	stateShutdown
)

// Externally injected commands, posted through an atomic cell and applied
// at the next instruction boundary.
const (
	CmdNone = iota
	CmdEnterDebugger
	CmdExitDebugger
	CmdHardReboot
)

// The reset vector and initial flag image.
const (
	resetCS     uint16 = 0xf000
	resetIP     uint32 = 0xfff0
	resetEFlags uint32 = 0x0200
)

// word covers the three operand widths the execution kernels are generic
// over.
type word interface {
	~uint8 | ~uint16 | ~uint32
}

// Fault is a pending guest exception. It travels up the execute path as a
// return value and is converted to interrupt delivery at the instruction
// boundary.
type Fault struct {
	Vector  uint8
	Code    uint16
	HasCode bool
	Linear  uint32 // faulting linear address, page faults only
	Reason  string
}

func (f *Fault) Error() string {
	if f.HasCode {
		return fmt.Sprintf("#%02x(%04x) %s", f.Vector, f.Code, f.Reason)
	}
	return fmt.Sprintf("#%02x %s", f.Vector, f.Reason)
}

// Sentinel returned out of a REP loop when an external IRQ wants service.
// The instruction boundary rewinds EIP so the iteration resumes afterward.
var faultREPInterrupted = &Fault{Reason: "hardware interrupt during repeat"}

// Options are the runtime switches loaded from the configuration file.
type Options struct {
	LogExceptions    bool
	CrashOnException bool
	Autotest         bool
}

// dtr is a descriptor table register (GDTR or IDTR).
type dtr struct {
	base  uint32
	limit uint16
}

// ldtReg is the LDTR: a dtr plus the selector it was loaded from.
type ldtReg struct {
	selector uint16
	base     uint32
	limit    uint16
}

// taskReg is the task register.
type taskReg struct {
	selector uint16
	base     uint32
	limit    uint32
	is32     bool
}

// logicalAddr is a selector:offset pair.
type logicalAddr struct {
	selector uint16
	offset   uint32
}

// CPU is one x86 processor together with its memory and I/O fabrics.
type CPU struct {
	mem *mem.Memory
	io  *ioport.Bus
	pic Dv.InterruptController

	gpr  [8]uint32
	eip  uint32
	sreg [6]uint16

	// Per segment register descriptor caches.
	cache [6]descriptor

	cr0, cr2, cr3, cr4 uint32
	dr                 [8]uint32

	gdtr dtr
	idtr dtr
	ldtr ldtReg
	tr   taskReg

	// Discrete flag bits; PF, ZF and SF are lazy.
	cf, af, of         bool
	tf, iflag, df      bool
	pf, zf, sf         bool
	iopl               uint8
	nt, rf, vm         bool
	ac, vif, vip, idfl bool

	dirtyFlags uint32
	lastResult uint64
	lastOpSize uint // bits

	// Instruction decode context.
	segPrefix  int
	o32, a32   bool // defaults from CS.D
	effO32     bool // per instruction, after overrides
	effA32     bool
	stack32    bool
	baseEIP    uint32
	baseCS     uint16
	cycle      uint64
	state      int
	nextUninterruptible bool

	opts Options

	command  atomic.Int32
	halted   atomic.Bool
	exitCode func(int) // autotest shutdown hook

	// Debugger surface.
	trace       bool
	breakpoints []logicalAddr
	watches     []logicalAddr
	slowStuff   atomic.Bool
	debugActive bool
	debugHook   func(*CPU)
}

// New builds a CPU on top of the given memory and I/O fabrics.
func New(memory *mem.Memory, bus *ioport.Bus, opts Options) *CPU {
	cpu := &CPU{
		mem:  memory,
		io:   bus,
		opts: opts,
	}
	if bus != nil {
		cpu.pic = bus.InterruptController()
	}
	cpu.Reset()
	return cpu
}

// Memory exposes the physical memory, for the machine and debugger.
func (cpu *CPU) Memory() *mem.Memory {
	return cpu.mem
}

// SetExitHook installs the process exit hook used by the autotest opcode.
func (cpu *CPU) SetExitHook(hook func(int)) {
	cpu.exitCode = hook
}

// SetDebugHook installs the debugger console entry point.
func (cpu *CPU) SetDebugHook(hook func(*CPU)) {
	cpu.debugHook = hook
}

// Cycle returns the opcode retirement counter.
func (cpu *CPU) Cycle() uint64 {
	return cpu.cycle
}
