/*
   Core PC386 machine: owns the CPU worker goroutine.

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

package core

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	config "github.com/rcornwell/PC386/config/configparser"
	cpu "github.com/rcornwell/PC386/emu/cpu"
	"github.com/rcornwell/PC386/emu/ioport"
	"github.com/rcornwell/PC386/emu/master"
	mem "github.com/rcornwell/PC386/emu/memory"
	"github.com/rcornwell/PC386/emu/rom"
	"github.com/rcornwell/PC386/util/logger"
)

// Disk geometry is fixed at 63 sectors, 16 heads, 512 bytes per sector.
type FixedDisk struct {
	Path    string
	SizeKiB uint32
}

type FloppyDisk struct {
	Type string
	Path string
}

type loadFile struct {
	segment uint16
	offset  uint16
	path    string
}

// Machine is one PC: CPU, memory, I/O fabric and settings.
type Machine struct {
	CPU    *cpu.CPU
	Memory *mem.Memory
	IO     *ioport.Bus

	Fixed   [2]*FixedDisk
	Floppy  [2]*FloppyDisk
	Keymap  string
	options cpu.Options

	memorySize  uint32
	a20         bool
	loadFiles   []loadFile
	pendingROMs []pendingROM

	wg      sync.WaitGroup
	done    chan struct{}
	running bool
	master  chan master.Packet
}

// NewMachine builds a machine from a configuration file.
func NewMachine(configPath string, autotest bool) (*Machine, error) {
	m := &Machine{
		memorySize: 8192 * 1024,
		done:       make(chan struct{}),
		master:     make(chan master.Packet, 8),
	}
	m.options.Autotest = autotest

	m.IO = ioport.NewBus()
	m.IO.SetInterruptController(ioport.NewIRQMask())

	m.registerConfig()
	if configPath != "" {
		if err := config.LoadConfigFile(configPath); err != nil {
			return nil, err
		}
	}

	m.Memory = mem.New(m.memorySize)
	m.Memory.SetA20(m.a20)

	for _, pending := range m.pendingROMs {
		provider, err := rom.Load(pending.base, pending.path)
		if err != nil {
			return nil, err
		}
		if !m.Memory.RegisterProvider(provider) {
			return nil, errors.New("rom-image does not fit below 1M: " + pending.path)
		}
	}

	m.CPU = cpu.New(m.Memory, m.IO, m.options)
	if autotest {
		m.CPU.SetupAutotest()
	}
	m.CPU.SetExitHook(func(code int) {
		os.Exit(code)
	})

	for _, lf := range m.loadFiles {
		data, err := os.ReadFile(lf.path)
		if err != nil {
			return nil, err
		}
		m.Memory.LoadImage(uint32(lf.segment)<<4+uint32(lf.offset), data)
	}
	return m, nil
}

type pendingROM struct {
	base uint32
	path string
}

func (m *Machine) registerConfig() {
	config.Clear()

	config.Register("memory-size", 1, func(args []string) error {
		kib, err := config.ParseSize(args[0])
		if err != nil {
			return err
		}
		m.memorySize = kib * 1024
		return nil
	})

	config.Register("load-file", 2, func(args []string) error {
		seg, ofs, err := config.ParseSegOfs(args[0])
		if err != nil {
			return err
		}
		m.loadFiles = append(m.loadFiles, loadFile{segment: seg, offset: ofs, path: args[1]})
		return nil
	})

	config.Register("rom-image", 2, func(args []string) error {
		base, err := config.ParseHex(args[0])
		if err != nil {
			return err
		}
		m.pendingROMs = append(m.pendingROMs, pendingROM{base: base, path: args[1]})
		return nil
	})

	config.Register("fixed-disk", 3, func(args []string) error {
		index, err := config.ParseSize(args[0])
		if err != nil || index > 1 {
			return errors.New("fixed-disk index must be 0 or 1")
		}
		size, err := config.ParseSize(args[2])
		if err != nil {
			return err
		}
		m.Fixed[index] = &FixedDisk{Path: args[1], SizeKiB: size}
		return nil
	})

	config.Register("floppy-disk", 3, func(args []string) error {
		index, err := config.ParseSize(args[0])
		if err != nil || index > 1 {
			return errors.New("floppy-disk index must be 0 or 1")
		}
		switch args[1] {
		case "160kB", "320kB", "360kB", "720kB", "1.2M", "1.44M":
		default:
			return errors.New("unknown floppy type: " + args[1])
		}
		m.Floppy[index] = &FloppyDisk{Type: args[1], Path: args[2]}
		return nil
	})

	config.Register("keymap", 1, func(args []string) error {
		m.Keymap = args[0]
		return nil
	})

	config.RegisterSwitch("log-exceptions", func([]string) error {
		m.options.LogExceptions = true
		return nil
	})

	config.RegisterSwitch("crash-on-exception", func([]string) error {
		m.options.CrashOnException = true
		return nil
	})

	config.RegisterSwitch("a20", func([]string) error {
		m.a20 = true
		return nil
	})

	config.RegisterSwitch("autotest", func([]string) error {
		m.options.Autotest = true
		return nil
	})
}

// Start runs the machine goroutine. The CPU begins stopped; a Start packet
// or the debugger sets it running.
func (m *Machine) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			if m.running {
				if !m.CPU.Step() {
					slog.Info("CPU shut down", logger.Tag("cpu"))
					return
				}
			}
			select {
			case <-m.done:
				slog.Info("shutdown machine core", logger.Tag("cpu"))
				return
			case packet := <-m.master:
				m.processPacket(packet)
			default:
				if !m.running {
					time.Sleep(time.Millisecond)
				}
			}
		}
	}()
}

// Stop shuts the machine goroutine down.
func (m *Machine) Stop() {
	close(m.done)
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(time.Second):
		slog.Warn("timed out waiting for CPU to finish", logger.Tag("cpu"))
		return
	}
}

// Post hands a packet to the machine goroutine.
func (m *Machine) Post(packet master.Packet) {
	m.master <- packet
}

func (m *Machine) processPacket(packet master.Packet) {
	switch packet.Msg {
	case master.Start:
		m.running = true
	case master.Stop:
		m.running = false
	case master.EnterDebugger:
		m.CPU.QueueCommand(cpu.CmdEnterDebugger)
	case master.ExitDebugger:
		m.CPU.QueueCommand(cpu.CmdExitDebugger)
	case master.HardReboot:
		m.CPU.QueueCommand(cpu.CmdHardReboot)
	case master.Shutdown:
		m.running = false
	}
}

// Running reports whether the CPU loop is executing instructions.
func (m *Machine) Running() bool {
	return m.running
}

// StepOne executes a single instruction from the debugger.
func (m *Machine) StepOne() {
	m.CPU.ExecuteOne()
}

// DumpMemory renders a 128 byte hex window for the debugger.
func (m *Machine) DumpMemory(selector uint16, offset uint32) string {
	out := ""
	for row := uint32(0); row < 8; row++ {
		out += fmt.Sprintf("%04x:%08x ", selector, offset+row*16)
		for col := uint32(0); col < 16; col++ {
			out += fmt.Sprintf("%02x ", m.CPU.PeekMemory(selector, offset+row*16+col))
		}
		out += "\n"
	}
	return out
}
