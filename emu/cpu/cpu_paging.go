/*
   Two-level page translation.

   Copyright (c) 2024, Richard Cornwell

   Permission is hereby granted, free of charge, to any person obtaining a
   copy of this software and associated documentation files (the "Software"),
   to deal in the Software without restriction, including without limitation
   the rights to use, copy, modify, merge, publish, distribute, sublicense,
   and/or sell copies of the Software, and to permit persons to whom the
   Software is furnished to do so, subject to the following conditions:

   The above copyright notice and this permission notice shall be included in
   all copies or substantial portions of the Software.

   THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
   IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
   FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.  IN NO EVENT SHALL
   RICHARD CORNWELL BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
   IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
   CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.

*/

package cpu

func pfErrorCode(flags uint16, access int, userMode bool) uint16 {
	code := flags
	if access == accessWrite {
		code |= pfWrite
	}
	if userMode {
		code |= pfUser
	}
	if access == accessExecute {
		code |= pfFetch
	}
	return code
}

// translate maps a linear address to physical. With paging off it is the
// identity. effCPL overrides the privilege used for the user/supervisor
// check; effCPLCurrent means the running CPL.
func (cpu *CPU) translate(linear uint32, access int, effCPL uint8) (uint32, *Fault) {
	if !cpu.pe() || !cpu.pg() {
		return linear, nil
	}
	return cpu.translateSlow(linear, access, effCPL)
}

func (cpu *CPU) translateSlow(linear uint32, access int, effCPL uint8) (uint32, *Fault) {
	dir := (linear >> 22) & 0x3ff
	page := (linear >> 12) & 0x3ff
	offset := linear & 0xfff

	pdeAddr := (cpu.cr3 & 0xfffff000) + dir*4
	pde := cpu.mem.Read32(pdeAddr)

	var userMode bool
	if effCPL == effCPLCurrent {
		userMode = cpu.cpl() == 3
	} else {
		userMode = effCPL == 3
	}

	if pde&ptePresent == 0 {
		return 0, cpu.pageFault(linear, pfErrorCode(0, access, userMode), "PDE not present")
	}

	pteAddr := (pde & 0xfffff000) + page*4
	pte := cpu.mem.Read32(pteAddr)

	if pte&ptePresent == 0 {
		return 0, cpu.pageFault(linear, pfErrorCode(0, access, userMode), "PTE not present")
	}

	if userMode {
		if pde&pteUser == 0 {
			return 0, cpu.pageFault(linear, pfErrorCode(pfProtection, access, userMode), "supervisor PDE")
		}
		if pte&pteUser == 0 {
			return 0, cpu.pageFault(linear, pfErrorCode(pfProtection, access, userMode), "supervisor PTE")
		}
	}

	if (userMode || cpu.cr0&cr0WP != 0) && access == accessWrite {
		if pde&pteWrite == 0 {
			return 0, cpu.pageFault(linear, pfErrorCode(pfProtection, access, userMode), "read-only PDE")
		}
		if pte&pteWrite == 0 {
			return 0, cpu.pageFault(linear, pfErrorCode(pfProtection, access, userMode), "read-only PTE")
		}
	}

	if access == accessWrite {
		pte |= pteDirty
	}
	pde |= pteAccessed
	pte |= pteAccessed
	cpu.mem.Write32(pdeAddr, pde)
	cpu.mem.Write32(pteAddr, pte)

	return (pte & 0xfffff000) | offset, nil
}
