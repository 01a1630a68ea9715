/*
 * PC386 - Configuration parser tests
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

package configparser

import (
	"strings"
	"testing"
)

func TestStatementsAndComments(t *testing.T) {
	Clear()

	var memSize uint32
	var romBase uint32
	var romPath string
	switchHit := false

	Register("memory-size", 1, func(args []string) error {
		kib, err := ParseSize(args[0])
		memSize = kib
		return err
	})
	Register("rom-image", 2, func(args []string) error {
		base, err := ParseHex(args[0])
		romBase = base
		romPath = args[1]
		return err
	})
	RegisterSwitch("log-exceptions", func([]string) error {
		switchHit = true
		return nil
	})

	input := `
# boot configuration
memory-size 8192     # eight megabytes
rom-image f0000 bios.bin
log-exceptions
`
	if err := Load(strings.NewReader(input)); err != nil {
		t.Fatalf("load: %v", err)
	}
	if memSize != 8192 {
		t.Errorf("memory-size = %d, want 8192", memSize)
	}
	if romBase != 0xf0000 || romPath != "bios.bin" {
		t.Errorf("rom-image = %x %q, want f0000 bios.bin", romBase, romPath)
	}
	if !switchHit {
		t.Error("switch statement not applied")
	}
}

func TestUnknownStatement(t *testing.T) {
	Clear()
	if err := Load(strings.NewReader("frobnicate 1\n")); err == nil {
		t.Error("unknown statement accepted")
	}
}

func TestMissingFields(t *testing.T) {
	Clear()
	Register("rom-image", 2, func([]string) error { return nil })
	if err := Load(strings.NewReader("rom-image f0000\n")); err == nil {
		t.Error("missing field accepted")
	}
}

func TestSwitchWithFieldsRejected(t *testing.T) {
	Clear()
	RegisterSwitch("a20", func([]string) error { return nil })
	if err := Load(strings.NewReader("a20 on\n")); err == nil {
		t.Error("switch with fields accepted")
	}
}

func TestParseSegOfs(t *testing.T) {
	seg, ofs, err := ParseSegOfs("1000:0000")
	if err != nil || seg != 0x1000 || ofs != 0 {
		t.Errorf("1000:0000 = %x:%x (%v)", seg, ofs, err)
	}
	if _, _, err := ParseSegOfs("nonsense"); err == nil {
		t.Error("bad address accepted")
	}
}
