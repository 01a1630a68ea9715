/*
 * PC386 - Configuration file parser
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
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

/* Configuration file format:
 *
 * '#' starts a comment, the rest of the line is ignored.
 * Each statement is a keyword followed by whitespace separated fields:
 *
 *   memory-size <KiB>
 *   load-file <seg:ofs> <path>
 *   rom-image <hex-phys-addr> <path>
 *   fixed-disk <index 0|1> <path> <size-KiB>
 *   floppy-disk <index 0|1> <type> <path>
 *   keymap <path>
 *
 * Switches take no fields: log-exceptions, crash-on-exception, a20,
 * autotest.
 */

const (
	TypeStatement = 1 + iota // Keyword with fields.
	TypeSwitch               // Keyword standing alone.
)

type handlerDef struct {
	handler func(args []string) error
	ty      int
	minArgs int
}

var handlers = map[string]handlerDef{}

var lineNumber int

// Register installs a statement handler. Call before LoadConfigFile; the
// machine being configured registers closures over itself.
func Register(keyword string, minArgs int, fn func(args []string) error) {
	handlers[strings.ToLower(keyword)] = handlerDef{handler: fn, ty: TypeStatement, minArgs: minArgs}
}

// RegisterSwitch installs a handler for a keyword that takes no fields.
func RegisterSwitch(keyword string, fn func(args []string) error) {
	handlers[strings.ToLower(keyword)] = handlerDef{handler: fn, ty: TypeSwitch}
}

// Clear drops all registrations. Used between machine builds and in tests.
func Clear() {
	handlers = map[string]handlerDef{}
}

// LoadConfigFile reads and applies a configuration file.
func LoadConfigFile(name string) error {
	file, err := os.Open(name)
	if err != nil {
		return err
	}
	defer file.Close()
	return Load(file)
}

// Load reads and applies configuration statements from r.
func Load(r io.Reader) error {
	lineNumber = 0
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		lineNumber++
		if len(line) == 0 && err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}
		if perr := parseLine(line); perr != nil {
			return perr
		}
	}
	return nil
}

// Parse one line from the file.
func parseLine(line string) error {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		line = line[:i]
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	keyword := strings.ToLower(fields[0])
	def, ok := handlers[keyword]
	if !ok {
		return fmt.Errorf("unknown statement %q, line %d", keyword, lineNumber)
	}

	args := fields[1:]
	switch def.ty {
	case TypeSwitch:
		if len(args) != 0 {
			return fmt.Errorf("switch %q takes no fields, line %d", keyword, lineNumber)
		}
	case TypeStatement:
		if len(args) < def.minArgs {
			return fmt.Errorf("statement %q needs %d fields, line %d", keyword, def.minArgs, lineNumber)
		}
	}
	if err := def.handler(args); err != nil {
		return fmt.Errorf("%s, line %d", err.Error(), lineNumber)
	}
	return nil
}

// ParseSize parses a decimal KiB count.
func ParseSize(field string) (uint32, error) {
	size, err := strconv.ParseUint(field, 10, 32)
	if err != nil {
		return 0, errors.New("size not a number: " + field)
	}
	return uint32(size), nil
}

// ParseHex parses a hexadecimal physical address, with or without an 0x
// prefix.
func ParseHex(field string) (uint32, error) {
	field = strings.TrimPrefix(strings.ToLower(field), "0x")
	value, err := strconv.ParseUint(field, 16, 32)
	if err != nil {
		return 0, errors.New("not a hex address: " + field)
	}
	return uint32(value), nil
}

// ParseSegOfs parses a real mode seg:ofs pair in hex.
func ParseSegOfs(field string) (uint16, uint16, error) {
	parts := strings.Split(field, ":")
	if len(parts) != 2 {
		return 0, 0, errors.New("not a seg:ofs address: " + field)
	}
	seg, err := strconv.ParseUint(parts[0], 16, 16)
	if err != nil {
		return 0, 0, errors.New("bad segment in address: " + field)
	}
	ofs, err := strconv.ParseUint(parts[1], 16, 16)
	if err != nil {
		return 0, 0, errors.New("bad offset in address: " + field)
	}
	return uint16(seg), uint16(ofs), nil
}
