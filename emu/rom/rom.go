/*
 * PC386 - ROM memory provider
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

package rom

import (
	"log/slog"
	"os"

	"github.com/rcornwell/PC386/util/logger"
)

// ROM is a read-only memory provider backed by a file image. Reads go
// through the direct pointer fast path; writes are dropped with a log line.
type ROM struct {
	base uint32
	data []byte
}

// Load reads an image file and returns a provider covering it at base.
func Load(base uint32, path string) (*ROM, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &ROM{base: base, data: data}, nil
}

// New wraps an in-memory image, used by tests.
func New(base uint32, data []byte) *ROM {
	return &ROM{base: base, data: data}
}

func (r *ROM) BaseAddress() uint32 {
	return r.base
}

func (r *ROM) Size() uint32 {
	return uint32(len(r.data))
}

func (r *ROM) DirectReadPointer() []byte {
	return r.data
}

func (r *ROM) Read8(addr uint32) uint8 {
	return r.data[addr-r.base]
}

func (r *ROM) Read16(addr uint32) uint16 {
	off := addr - r.base
	return uint16(r.data[off]) | uint16(r.data[off+1])<<8
}

func (r *ROM) Read32(addr uint32) uint32 {
	off := addr - r.base
	return uint32(r.data[off]) | uint32(r.data[off+1])<<8 |
		uint32(r.data[off+2])<<16 | uint32(r.data[off+3])<<24
}

func (r *ROM) Write8(addr uint32, value uint8) {
	slog.Debug("ROM: write ignored", logger.Tag("cpu"),
		slog.Any("addr", addr), slog.Any("data", value))
}

func (r *ROM) Write16(addr uint32, value uint16) {
	r.Write8(addr, uint8(value))
}

func (r *ROM) Write32(addr uint32, value uint32) {
	r.Write8(addr, uint8(value))
}
