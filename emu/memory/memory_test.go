/*
 * PC386 - Memory tests
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

import "testing"

func TestLittleEndianWeld(t *testing.T) {
	m := New(64 * 1024)

	m.Write32(0x100, 0x12345678)
	if got := m.Read8(0x100); got != 0x78 {
		t.Errorf("low byte = %02x, want 78", got)
	}
	if got := m.Read16(0x102); got != 0x1234 {
		t.Errorf("high word = %04x, want 1234", got)
	}
	if got := m.Read32(0x100); got != 0x12345678 {
		t.Errorf("dword = %08x, want 12345678", got)
	}
}

func TestA20Masking(t *testing.T) {
	m := New(2 * 1024 * 1024)

	m.SetA20(true)
	m.Write8(0x100000, 0xaa)
	m.Write8(0x000000, 0x55)
	if got := m.Read8(0x100000); got != 0xaa {
		t.Errorf("A20 on: read = %02x, want aa", got)
	}

	m.SetA20(false)
	if got := m.Read8(0x100000); got != 0x55 {
		t.Errorf("A20 off: 0x100000 should fold to 0: read = %02x, want 55", got)
	}
}

func TestOutOfRangeAccess(t *testing.T) {
	m := New(64 * 1024)
	m.Write8(0x20000, 0xff) // silently dropped
	if got := m.Read8(0x20000); got != 0 {
		t.Errorf("out of range read = %02x, want 0", got)
	}
}

type testProvider struct {
	base   uint32
	data   [BlockSize]byte
	writes int
}

func (p *testProvider) BaseAddress() uint32 { return p.base }

func (p *testProvider) Size() uint32 { return BlockSize }

func (p *testProvider) DirectReadPointer() []byte { return nil }

func (p *testProvider) Read8(addr uint32) uint8 { return p.data[addr-p.base] }

func (p *testProvider) Read16(addr uint32) uint16 {
	return uint16(p.Read8(addr)) | uint16(p.Read8(addr+1))<<8
}

func (p *testProvider) Read32(addr uint32) uint32 {
	return uint32(p.Read16(addr)) | uint32(p.Read16(addr+2))<<16
}

func (p *testProvider) Write8(addr uint32, v uint8) {
	p.data[addr-p.base] = v
	p.writes++
}

func (p *testProvider) Write16(addr uint32, v uint16) {
	p.Write8(addr, uint8(v))
	p.Write8(addr+1, uint8(v>>8))
}

func (p *testProvider) Write32(addr uint32, v uint32) {
	p.Write16(addr, uint16(v))
	p.Write16(addr+2, uint16(v>>16))
}

func TestProviderRouting(t *testing.T) {
	m := New(2 * 1024 * 1024)
	p := &testProvider{base: 0xc0000}
	if !m.RegisterProvider(p) {
		t.Fatal("provider registration failed")
	}

	m.Write16(0xc0010, 0xbeef)
	if p.writes == 0 {
		t.Fatal("write did not route to the provider")
	}
	if got := m.Read16(0xc0010); got != 0xbeef {
		t.Errorf("provider read = %04x, want beef", got)
	}

	// Outside the provider window the flat store answers.
	m.Write16(0xd0000, 0x1234)
	if got := m.Read16(0xd0000); got != 0x1234 {
		t.Errorf("flat read = %04x, want 1234", got)
	}
}

type byteOnlyProvider struct {
	ByteBacked
	base uint32
	data [BlockSize]byte
}

func newByteOnlyProvider(base uint32) *byteOnlyProvider {
	p := &byteOnlyProvider{base: base}
	p.ByteBacked.P = p
	return p
}

func (p *byteOnlyProvider) BaseAddress() uint32 { return p.base }

func (p *byteOnlyProvider) Size() uint32 { return BlockSize }

func (p *byteOnlyProvider) DirectReadPointer() []byte { return nil }

func (p *byteOnlyProvider) Read8(addr uint32) uint8 { return p.data[addr-p.base] }

func (p *byteOnlyProvider) Write8(addr uint32, v uint8) { p.data[addr-p.base] = v }

func TestByteBackedComposition(t *testing.T) {
	m := New(2 * 1024 * 1024)
	p := newByteOnlyProvider(0xa0000)
	if !m.RegisterProvider(p) {
		t.Fatal("provider registration failed")
	}

	m.Write32(0xa0004, 0xcafebabe)
	if got := m.Read32(0xa0004); got != 0xcafebabe {
		t.Errorf("composed dword = %08x, want cafebabe", got)
	}
	if got := p.Read8(0xa0004); got != 0xbe {
		t.Errorf("low byte = %02x, want be", got)
	}
}

func TestProviderAboveOneMegRejected(t *testing.T) {
	m := New(4 * 1024 * 1024)
	p := &testProvider{base: 0x100000}
	if m.RegisterProvider(p) {
		t.Error("provider above 1M should be rejected")
	}
}
