/*
 * PC386 - Physical memory and memory providers
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

package memory

import (
	"log/slog"

	"github.com/rcornwell/PC386/util/logger"
)

// Provider claims a range of physical address space inside the first
// megabyte. Addresses handed to a provider are absolute physical addresses.
// DirectReadPointer may return a contiguous read-only backing slice for
// zero-copy loads (ROM does), or nil.
type Provider interface {
	BaseAddress() uint32
	Size() uint32
	Read8(addr uint32) uint8
	Read16(addr uint32) uint16
	Read32(addr uint32) uint32
	Write8(addr uint32, value uint8)
	Write16(addr uint32, value uint16)
	Write32(addr uint32, value uint32)
	DirectReadPointer() []byte
}

const (
	// Providers are mapped in fixed size blocks over the first megabyte.
	BlockSize   = 16 * 1024
	providerMax = 1048576
	blockCount  = providerMax / BlockSize

	a20Mask uint32 = 0xffefffff
)

type Memory struct {
	data      []byte
	providers [blockCount]Provider
	a20       bool
}

// New allocates a flat physical memory of the given size in bytes.
func New(size uint32) *Memory {
	return &Memory{data: make([]byte, size)}
}

// Size returns the size of physical memory in bytes.
func (m *Memory) Size() uint32 {
	return uint32(len(m.data))
}

// SetA20 opens or closes the address line 20 gate. With the gate closed
// bit 20 of every physical address reads as zero.
func (m *Memory) SetA20(enabled bool) {
	m.a20 = enabled
}

func (m *Memory) A20Enabled() bool {
	return m.a20
}

func (m *Memory) mask(addr uint32) uint32 {
	if m.a20 {
		return addr
	}
	return addr & a20Mask
}

// RegisterProvider maps a provider over its address range. The range must
// lie inside the first megabyte and align reasonably with the block grid.
func (m *Memory) RegisterProvider(p Provider) bool {
	base := p.BaseAddress()
	end := base + p.Size()
	if end > providerMax {
		slog.Error("memory: provider does not fit below 1M",
			logger.Tag("config"), slog.Any("base", base), slog.Any("size", p.Size()))
		return false
	}
	for i := base / BlockSize; i < (end+BlockSize-1)/BlockSize; i++ {
		m.providers[i] = p
	}
	return true
}

func (m *Memory) providerFor(addr uint32) Provider {
	if addr >= providerMax {
		return nil
	}
	return m.providers[addr/BlockSize]
}

// DirectPointer returns a read-only window on physical memory starting at
// addr, or nil when the address is out of range or a provider without a
// direct pointer claims it. Used by the framebuffer scanner and the
// debugger, never by the CPU data path.
func (m *Memory) DirectPointer(addr uint32) []byte {
	addr = m.mask(addr)
	if p := m.providerFor(addr); p != nil {
		if buf := p.DirectReadPointer(); buf != nil {
			return buf[addr-p.BaseAddress():]
		}
		return nil
	}
	if addr >= uint32(len(m.data)) {
		return nil
	}
	return m.data[addr:]
}

func (m *Memory) Read8(addr uint32) uint8 {
	addr = m.mask(addr)
	if p := m.providerFor(addr); p != nil {
		if buf := p.DirectReadPointer(); buf != nil {
			return buf[addr-p.BaseAddress()]
		}
		return p.Read8(addr)
	}
	if addr >= uint32(len(m.data)) {
		slog.Debug("memory: read outside physical memory", logger.Tag("cpu"), slog.Any("addr", addr))
		return 0
	}
	return m.data[addr]
}

func (m *Memory) Read16(addr uint32) uint16 {
	addr = m.mask(addr)
	if p := m.providerFor(addr); p != nil {
		if buf := p.DirectReadPointer(); buf != nil {
			off := addr - p.BaseAddress()
			return uint16(buf[off]) | uint16(buf[off+1])<<8
		}
		return p.Read16(addr)
	}
	if addr+1 >= uint32(len(m.data)) {
		slog.Debug("memory: read outside physical memory", logger.Tag("cpu"), slog.Any("addr", addr))
		return 0
	}
	return uint16(m.data[addr]) | uint16(m.data[addr+1])<<8
}

func (m *Memory) Read32(addr uint32) uint32 {
	addr = m.mask(addr)
	if p := m.providerFor(addr); p != nil {
		if buf := p.DirectReadPointer(); buf != nil {
			off := addr - p.BaseAddress()
			return uint32(buf[off]) | uint32(buf[off+1])<<8 |
				uint32(buf[off+2])<<16 | uint32(buf[off+3])<<24
		}
		return p.Read32(addr)
	}
	if addr+3 >= uint32(len(m.data)) {
		slog.Debug("memory: read outside physical memory", logger.Tag("cpu"), slog.Any("addr", addr))
		return 0
	}
	return uint32(m.data[addr]) | uint32(m.data[addr+1])<<8 |
		uint32(m.data[addr+2])<<16 | uint32(m.data[addr+3])<<24
}

func (m *Memory) Write8(addr uint32, value uint8) {
	addr = m.mask(addr)
	if p := m.providerFor(addr); p != nil {
		p.Write8(addr, value)
		return
	}
	if addr >= uint32(len(m.data)) {
		slog.Debug("memory: write outside physical memory", logger.Tag("cpu"), slog.Any("addr", addr))
		return
	}
	m.data[addr] = value
}

func (m *Memory) Write16(addr uint32, value uint16) {
	addr = m.mask(addr)
	if p := m.providerFor(addr); p != nil {
		p.Write16(addr, value)
		return
	}
	if addr+1 >= uint32(len(m.data)) {
		slog.Debug("memory: write outside physical memory", logger.Tag("cpu"), slog.Any("addr", addr))
		return
	}
	m.data[addr] = uint8(value)
	m.data[addr+1] = uint8(value >> 8)
}

func (m *Memory) Write32(addr uint32, value uint32) {
	addr = m.mask(addr)
	if p := m.providerFor(addr); p != nil {
		p.Write32(addr, value)
		return
	}
	if addr+3 >= uint32(len(m.data)) {
		slog.Debug("memory: write outside physical memory", logger.Tag("cpu"), slog.Any("addr", addr))
		return
	}
	m.data[addr] = uint8(value)
	m.data[addr+1] = uint8(value >> 8)
	m.data[addr+2] = uint8(value >> 16)
	m.data[addr+3] = uint8(value >> 24)
}

// LoadImage copies raw bytes into the flat backing store, bypassing
// providers. Used for boot images and load-file statements.
func (m *Memory) LoadImage(addr uint32, image []byte) {
	copy(m.data[addr:], image)
}

// ByteBacked supplies the 16 and 32-bit provider methods for providers
// that only implement byte access, welding little endian.
type ByteBacked struct {
	P interface {
		Read8(addr uint32) uint8
		Write8(addr uint32, value uint8)
	}
}

func (b ByteBacked) Read16(addr uint32) uint16 {
	return uint16(b.P.Read8(addr)) | uint16(b.P.Read8(addr+1))<<8
}

func (b ByteBacked) Read32(addr uint32) uint32 {
	return uint32(b.Read16(addr)) | uint32(b.Read16(addr+2))<<16
}

func (b ByteBacked) Write16(addr uint32, value uint16) {
	b.P.Write8(addr, uint8(value))
	b.P.Write8(addr+1, uint8(value>>8))
}

func (b ByteBacked) Write32(addr uint32, value uint32) {
	b.Write16(addr, uint16(value))
	b.Write16(addr+2, uint16(value>>16))
}
