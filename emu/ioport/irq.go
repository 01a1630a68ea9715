/*
 * PC386 - IRQ lines and the CPU-facing interrupt mask
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

package ioport

import (
	"math/bits"
	"sync/atomic"

	Dv "github.com/rcornwell/PC386/emu/device"
)

// IRQMask is a minimal interrupt controller edge: a 16 line pending mask
// posted from any goroutine and drained by the CPU between instructions.
// A real PIC device replaces it by implementing device.InterruptController
// on top of its own registers; the mask keeps the core self contained.
type IRQMask struct {
	pending atomic.Uint32
	base    [2]uint8 // vector base for IRQ 0-7 and 8-15
}

func NewIRQMask() *IRQMask {
	return &IRQMask{base: [2]uint8{0x08, 0x70}}
}

// SetVectorBase changes the vector base of the low or high IRQ bank.
func (m *IRQMask) SetVectorBase(bank int, base uint8) {
	m.base[bank&1] = base
}

func (m *IRQMask) Pending() bool {
	return m.pending.Load() != 0
}

// Acknowledge clears the lowest pending line and returns its vector.
func (m *IRQMask) Acknowledge() uint8 {
	for {
		mask := m.pending.Load()
		if mask == 0 {
			return 0
		}
		irq := uint(bits.TrailingZeros32(mask))
		if !m.pending.CompareAndSwap(mask, mask&^(uint32(1)<<irq)) {
			continue
		}
		if irq < 8 {
			return m.base[0] + uint8(irq)
		}
		return m.base[1] + uint8(irq-8)
	}
}

func (m *IRQMask) raise(irq int) {
	for {
		mask := m.pending.Load()
		if m.pending.CompareAndSwap(mask, mask|uint32(1)<<uint(irq)) {
			return
		}
	}
}

func (m *IRQMask) lower(irq int) {
	for {
		mask := m.pending.Load()
		if m.pending.CompareAndSwap(mask, mask&^(uint32(1)<<uint(irq))) {
			return
		}
	}
}

type irqLine struct {
	mask *IRQMask
	irq  int
}

func (l irqLine) Raise() {
	l.mask.raise(l.irq)
}

func (l irqLine) Lower() {
	l.mask.lower(l.irq)
}

// AttachIRQ hands a device its interrupt line. The bus interrupt
// controller must be an IRQMask for lines to be handed out; with a real
// PIC device the PIC does its own line bookkeeping.
func (bus *Bus) AttachIRQ(irq int) Dv.IRQLine {
	if mask, ok := bus.pic.(*IRQMask); ok {
		return irqLine{mask: mask, irq: irq}
	}
	return nil
}
