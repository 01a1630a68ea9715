/*
 * PC386 - Device interfaces
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

package device

// Access sizes used on the I/O and memory fabrics.
const (
	Size8  = 1
	Size16 = 2
	Size32 = 4
)

// Registration modes for I/O port listeners.
const (
	ModeRead = 1 + iota
	ModeWrite
	ModeReadWrite
)

// Device is an I/O port device. Values wider than the device's natural
// width are presented little endian; a device that only implements 8-bit
// registers can embed ByteIO to get the composing defaults.
type Device interface {
	Reset()
	In(port uint16, size int) uint32
	Out(port uint16, value uint32, size int)
}

// IRQLine is handed to a device when it registers with an IRQ number.
// Raising and lowering may happen from any goroutine.
type IRQLine interface {
	Raise()
	Lower()
}

// InterruptController is the CPU-facing edge of the PIC. Pending bits must
// be safe to set from device goroutines; the CPU samples them between
// instructions only.
type InterruptController interface {
	Pending() bool
	Acknowledge() uint8 // returns the vector to deliver
}

// ByteIO provides the 16 and 32-bit composition for devices that only
// decode single byte registers.
type ByteIO struct{}

func (ByteIO) compose(in func(uint16) uint8, port uint16, size int) uint32 {
	value := uint32(0)
	for i := 0; i < size; i++ {
		value |= uint32(in(port+uint16(i))) << (8 * i)
	}
	return value
}

// ComposeIn welds size bytes from in starting at port, little endian.
func (b ByteIO) ComposeIn(in func(uint16) uint8, port uint16, size int) uint32 {
	return b.compose(in, port, size)
}

// SplitOut distributes value to out one byte at a time, little endian.
func (ByteIO) SplitOut(out func(uint16, uint8), port uint16, value uint32, size int) {
	for i := 0; i < size; i++ {
		out(port+uint16(i), uint8(value>>(8*i)))
	}
}
