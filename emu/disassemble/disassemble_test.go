/*
 * PC386 - Disassembler tests
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

package disassemble

import "testing"

func TestDisassemble(t *testing.T) {
	cases := []struct {
		code []byte
		want string
		len  int
	}{
		{[]byte{0x90}, "nop", 1},
		{[]byte{0xB8, 0x34, 0x12}, "mov ax, 0x1234", 3},
		{[]byte{0x01, 0xD8}, "add ax, bx", 2},
		{[]byte{0xCD, 0x21}, "int 0x21", 2},
		{[]byte{0xF3, 0xA4}, "repz movsb", 2},
		{[]byte{0x8B, 0x07}, "mov ax, [bx]", 2},
		{[]byte{0x8B, 0x46, 0x08}, "mov ax, [bp+0x8]", 3},
		{[]byte{0xF7, 0xF3}, "div bx", 2},
		{[]byte{0x0F, 0x31}, "rdtsc", 2},
		{[]byte{0xEB, 0xFE}, "jmp -2", 2},
		{[]byte{0x74, 0x10}, "jz +16", 2},
		{[]byte{0xD0, 0xE0}, "shl al, 1", 2},
		{[]byte{0xF4}, "hlt", 1},
	}

	for _, c := range cases {
		got, length := Disassemble(c.code, false, false)
		if got != c.want {
			t.Errorf("% x = %q, want %q", c.code, got, c.want)
		}
		if length != c.len {
			t.Errorf("% x length = %d, want %d", c.code, length, c.len)
		}
	}
}

func TestDisassemble32(t *testing.T) {
	got, length := Disassemble([]byte{0x8B, 0x44, 0x98, 0x10}, true, true)
	if got != "mov eax, [eax+ebx*4+0x10]" {
		t.Errorf("SIB form = %q", got)
	}
	if length != 4 {
		t.Errorf("length = %d, want 4", length)
	}
}
