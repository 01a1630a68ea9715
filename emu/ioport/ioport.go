/*
 * PC386 - I/O port dispatch fabric
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
	"fmt"
	"log/slog"

	Dv "github.com/rcornwell/PC386/emu/device"
	"github.com/rcornwell/PC386/util/logger"
)

// Ports below fastPorts live in a flat table, the rest in a sparse map.
const fastPorts = 1024

// Junk values returned for reads from unclaimed ports.
const (
	Junk8  uint32 = 0xff
	Junk16 uint32 = 0xffff
	Junk32 uint32 = 0xffffffff
)

type Bus struct {
	fastIn    [fastPorts]Dv.Device
	fastOut   [fastPorts]Dv.Device
	sparseIn  map[uint16]Dv.Device
	sparseOut map[uint16]Dv.Device
	ignore    map[uint16]bool
	devices   []Dv.Device
	pic       Dv.InterruptController
}

func NewBus() *Bus {
	return &Bus{
		sparseIn:  map[uint16]Dv.Device{},
		sparseOut: map[uint16]Dv.Device{},
		ignore:    map[uint16]bool{},
	}
}

// SetInterruptController attaches the PIC edge the CPU samples.
func (bus *Bus) SetInterruptController(pic Dv.InterruptController) {
	bus.pic = pic
}

func (bus *Bus) InterruptController() Dv.InterruptController {
	return bus.pic
}

// Listen registers dev for the given port in the requested mode.
func (bus *Bus) Listen(dev Dv.Device, port uint16, mode int) {
	bus.addDevice(dev)
	if mode == Dv.ModeRead || mode == Dv.ModeReadWrite {
		if port < fastPorts {
			bus.fastIn[port] = dev
		} else {
			bus.sparseIn[port] = dev
		}
	}
	if mode == Dv.ModeWrite || mode == Dv.ModeReadWrite {
		if port < fastPorts {
			bus.fastOut[port] = dev
		} else {
			bus.sparseOut[port] = dev
		}
	}
}

// ListenRange registers dev for count consecutive ports.
func (bus *Bus) ListenRange(dev Dv.Device, port uint16, count int, mode int) {
	for i := 0; i < count; i++ {
		bus.Listen(dev, port+uint16(i), mode)
	}
}

// IgnorePort suppresses the unhandled-port log message for port.
func (bus *Bus) IgnorePort(port uint16) {
	bus.ignore[port] = true
}

func (bus *Bus) addDevice(dev Dv.Device) {
	for _, d := range bus.devices {
		if d == dev {
			return
		}
	}
	bus.devices = append(bus.devices, dev)
}

// ResetAll broadcasts a reset to every registered device.
func (bus *Bus) ResetAll() {
	for _, dev := range bus.devices {
		dev.Reset()
	}
}

func (bus *Bus) inputDevice(port uint16) Dv.Device {
	if port < fastPorts {
		return bus.fastIn[port]
	}
	return bus.sparseIn[port]
}

func (bus *Bus) outputDevice(port uint16) Dv.Device {
	if port < fastPorts {
		return bus.fastOut[port]
	}
	return bus.sparseOut[port]
}

func (bus *Bus) in(port uint16, size int) uint32 {
	if dev := bus.inputDevice(port); dev != nil {
		return dev.In(port, size)
	}
	if !bus.ignore[port] {
		slog.Warn("unhandled I/O read", logger.Tag("io"),
			slog.String("port", fmt.Sprintf("%03x", port)))
	}
	switch size {
	case Dv.Size16:
		return Junk16
	case Dv.Size32:
		return Junk32
	}
	return Junk8
}

func (bus *Bus) out(port uint16, value uint32, size int) {
	if dev := bus.outputDevice(port); dev != nil {
		dev.Out(port, value, size)
		return
	}
	if !bus.ignore[port] {
		slog.Warn("unhandled I/O write", logger.Tag("io"),
			slog.String("port", fmt.Sprintf("%03x", port)), slog.Any("data", value))
	}
}

func (bus *Bus) In8(port uint16) uint8 {
	return uint8(bus.in(port, Dv.Size8))
}

func (bus *Bus) In16(port uint16) uint16 {
	return uint16(bus.in(port, Dv.Size16))
}

func (bus *Bus) In32(port uint16) uint32 {
	return bus.in(port, Dv.Size32)
}

func (bus *Bus) Out8(port uint16, value uint8) {
	bus.out(port, uint32(value), Dv.Size8)
}

func (bus *Bus) Out16(port uint16, value uint16) {
	bus.out(port, uint32(value), Dv.Size16)
}

func (bus *Bus) Out32(port uint16, value uint32) {
	bus.out(port, value, Dv.Size32)
}
