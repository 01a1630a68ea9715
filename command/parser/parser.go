/*
 * PC386 - Debugger command parser
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

package parser

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	core "github.com/rcornwell/PC386/emu/core"
	"github.com/rcornwell/PC386/emu/master"
)

type cmd struct {
	name    string
	min     int
	process func([]string, *core.Machine) (bool, error)
}

var cmdList = []cmd{
	{name: "start", min: 3, process: start},
	{name: "stop", min: 3, process: stop},
	{name: "continue", min: 1, process: cont},
	{name: "step", min: 2, process: step},
	{name: "regs", min: 1, process: regs},
	{name: "dump", min: 2, process: dump},
	{name: "break", min: 2, process: setBreak},
	{name: "clear", min: 2, process: clearBreaks},
	{name: "watch", min: 2, process: watch},
	{name: "trace", min: 2, process: trace},
	{name: "reboot", min: 3, process: reboot},
	{name: "quit", min: 4, process: quit},
}

// ProcessCommand executes one console command line. It returns true when
// the console should exit.
func ProcessCommand(commandLine string, machine *core.Machine) (bool, error) {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return false, nil
	}

	match := matchList(fields[0])
	if len(match) == 0 {
		return false, errors.New("command not found: " + fields[0])
	}
	if len(match) > 1 {
		return false, errors.New("unique command not found: " + fields[0])
	}
	return match[0].process(fields[1:], machine)
}

// CompleteCmd completes a partial command name for line editing.
func CompleteCmd(commandLine string) []string {
	name := strings.TrimSpace(commandLine)
	matchList := matchList(name)
	matches := make([]string, len(matchList))
	for n, m := range matchList {
		matches[n] = m.name
	}
	return matches
}

func matchCommand(match cmd, command string) bool {
	if len(command) < match.min || len(command) > len(match.name) {
		return false
	}
	return strings.HasPrefix(match.name, command)
}

func matchList(command string) []cmd {
	command = strings.ToLower(command)
	var matches []cmd
	for _, m := range cmdList {
		if matchCommand(m, command) {
			matches = append(matches, m)
		}
	}
	return matches
}

// parseSegOfs accepts seg:ofs in hex.
func parseSegOfs(field string) (uint16, uint32, error) {
	parts := strings.Split(field, ":")
	if len(parts) != 2 {
		return 0, 0, errors.New("expected seg:ofs address")
	}
	seg, err := strconv.ParseUint(parts[0], 16, 16)
	if err != nil {
		return 0, 0, errors.New("bad segment: " + parts[0])
	}
	ofs, err := strconv.ParseUint(parts[1], 16, 32)
	if err != nil {
		return 0, 0, errors.New("bad offset: " + parts[1])
	}
	return uint16(seg), uint32(ofs), nil
}

func start(_ []string, machine *core.Machine) (bool, error) {
	machine.Post(master.Packet{Msg: master.Start})
	return false, nil
}

func stop(_ []string, machine *core.Machine) (bool, error) {
	machine.Post(master.Packet{Msg: master.Stop})
	return false, nil
}

func cont(_ []string, machine *core.Machine) (bool, error) {
	machine.Post(master.Packet{Msg: master.ExitDebugger})
	machine.Post(master.Packet{Msg: master.Start})
	return false, nil
}

func step(args []string, machine *core.Machine) (bool, error) {
	count := 1
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return false, errors.New("step count not a number: " + args[0])
		}
		count = n
	}
	for n := 0; n < count; n++ {
		machine.StepOne()
	}
	fmt.Print(machine.CPU.DumpState())
	return false, nil
}

func regs(_ []string, machine *core.Machine) (bool, error) {
	fmt.Print(machine.CPU.DumpState())
	return false, nil
}

func dump(args []string, machine *core.Machine) (bool, error) {
	if len(args) < 1 {
		return false, errors.New("dump needs a seg:ofs address")
	}
	seg, ofs, err := parseSegOfs(args[0])
	if err != nil {
		return false, err
	}
	fmt.Print(machine.DumpMemory(seg, ofs))
	return false, nil
}

func setBreak(args []string, machine *core.Machine) (bool, error) {
	if len(args) < 1 {
		return false, errors.New("break needs a seg:ofs address")
	}
	seg, ofs, err := parseSegOfs(args[0])
	if err != nil {
		return false, err
	}
	machine.CPU.AddBreakpoint(seg, ofs)
	return false, nil
}

func clearBreaks(_ []string, machine *core.Machine) (bool, error) {
	machine.CPU.ClearBreakpoints()
	return false, nil
}

func watch(args []string, machine *core.Machine) (bool, error) {
	if len(args) < 1 {
		return false, errors.New("watch needs a seg:ofs address")
	}
	seg, ofs, err := parseSegOfs(args[0])
	if err != nil {
		return false, err
	}
	machine.CPU.AddWatch(seg, ofs)
	return false, nil
}

func trace(args []string, machine *core.Machine) (bool, error) {
	if len(args) < 1 || (args[0] != "on" && args[0] != "off") {
		return false, errors.New("trace takes on or off")
	}
	machine.CPU.SetTrace(args[0] == "on")
	return false, nil
}

func reboot(_ []string, machine *core.Machine) (bool, error) {
	machine.Post(master.Packet{Msg: master.HardReboot})
	return false, nil
}

func quit(_ []string, machine *core.Machine) (bool, error) {
	machine.Post(master.Packet{Msg: master.Shutdown})
	return true, nil
}
