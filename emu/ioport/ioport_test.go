/*
 * PC386 - I/O port fabric tests
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
	"testing"

	Dv "github.com/rcornwell/PC386/emu/device"
)

type testDevice struct {
	lastIn   uint16
	lastOut  uint16
	lastData uint32
	value    uint32
	resets   int
}

func (d *testDevice) Reset() { d.resets++ }

func (d *testDevice) In(port uint16, _ int) uint32 {
	d.lastIn = port
	return d.value
}

func (d *testDevice) Out(port uint16, value uint32, _ int) {
	d.lastOut = port
	d.lastData = value
}

func TestFastAndSparseDispatch(t *testing.T) {
	bus := NewBus()
	low := &testDevice{value: 0x42}
	high := &testDevice{value: 0x99}

	bus.Listen(low, 0x60, Dv.ModeReadWrite)
	bus.Listen(high, 0x1f7, Dv.ModeReadWrite)
	bus.Listen(high, 0xfff0, Dv.ModeReadWrite)

	if got := bus.In8(0x60); got != 0x42 {
		t.Errorf("fast port read = %02x, want 42", got)
	}
	if got := bus.In8(0xfff0); got != 0x99 {
		t.Errorf("sparse port read = %02x, want 99", got)
	}

	bus.Out16(0x1f7, 0xbeef)
	if high.lastOut != 0x1f7 || high.lastData != 0xbeef {
		t.Errorf("out did not dispatch: port %03x data %x", high.lastOut, high.lastData)
	}
}

func TestUnclaimedPortJunk(t *testing.T) {
	bus := NewBus()
	bus.IgnorePort(0x80)

	if got := bus.In8(0x80); got != 0xff {
		t.Errorf("junk byte = %02x, want ff", got)
	}
	if got := bus.In16(0x80); got != 0xffff {
		t.Errorf("junk word = %04x, want ffff", got)
	}
	if got := bus.In32(0x80); got != 0xffffffff {
		t.Errorf("junk dword = %08x, want ffffffff", got)
	}
}

func TestReadOnlyRegistration(t *testing.T) {
	bus := NewBus()
	dev := &testDevice{value: 7}
	bus.Listen(dev, 0x70, Dv.ModeRead)

	if got := bus.In8(0x70); got != 7 {
		t.Errorf("read = %02x, want 7", got)
	}
	bus.Out8(0x70, 1)
	if dev.lastOut != 0 {
		t.Error("write dispatched to a read-only listener")
	}
}

func TestResetBroadcast(t *testing.T) {
	bus := NewBus()
	dev := &testDevice{}
	bus.Listen(dev, 0x60, Dv.ModeRead)
	bus.Listen(dev, 0x64, Dv.ModeWrite)

	bus.ResetAll()
	if dev.resets != 1 {
		t.Errorf("resets = %d, want exactly 1 for a twice-registered device", dev.resets)
	}
}

func TestIRQMask(t *testing.T) {
	mask := NewIRQMask()
	if mask.Pending() {
		t.Fatal("fresh mask pending")
	}

	bus := NewBus()
	bus.SetInterruptController(mask)
	line := bus.AttachIRQ(1)
	line.Raise()

	if !mask.Pending() {
		t.Fatal("raised line not pending")
	}
	if got := mask.Acknowledge(); got != 0x09 {
		t.Errorf("vector = %02x, want 09", got)
	}
	if mask.Pending() {
		t.Error("acknowledge did not clear the line")
	}

	line.Raise()
	line.Lower()
	if mask.Pending() {
		t.Error("lower did not clear the line")
	}
}
