/*
 * bootcore - Permission oracle
 *
 * Copyright 2025, HSS Boot Core Contributors
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

// Package permission implements the write-permission oracle the boot
// core consults before every byte it copies into target-owned memory.
// The map of target to allowed windows is static at construction time;
// windows that fall in DDR are additionally gated on the DDR_TRAINED
// event, since DDR is not a safe write target until trained.
package permission

import "github.com/mpfs-hss/bootcore/events"

// Window is one contiguous, inclusive-start/exclusive-end address
// range a target is allowed to write.
type Window struct {
	Start uint64
	End   uint64
	// InDDR marks a window that additionally requires DDR_TRAINED
	// before it is writable.
	InDDR bool
}

// contains reports whether [addr, addr+size) lies entirely in w.
func (w Window) contains(addr uint64, size uint64) bool {
	if size == 0 {
		return addr >= w.Start && addr < w.End
	}
	end := addr + size
	return addr >= w.Start && end <= w.End && end >= addr
}

// Oracle is the compile-time target -> windows map plus the event bus
// it consults for DDR gating.
type Oracle struct {
	windows map[uint8][]Window
	ddr     Window
	bus     *events.Bus
}

// New builds an Oracle from a target -> windows map and the single
// physical range considered DDR (the ZeroInit handler's "execAddr∉DDR"
// test is independent of any target's window, so it is tracked
// separately here). bus may be nil, in which case any window marked
// InDDR is always denied (the safest default absent an event source).
func New(windows map[uint8][]Window, ddr Window, bus *events.Bus) *Oracle {
	cp := make(map[uint8][]Window, len(windows))
	for k, v := range windows {
		cp[k] = append([]Window(nil), v...)
	}
	return &Oracle{windows: cp, ddr: ddr, bus: bus}
}

// InDDR reports whether addr falls within the configured DDR range,
// regardless of ownership or write permission.
func (o *Oracle) InDDR(addr uint64) bool {
	return o.ddr.contains(addr, 0)
}

// DDRTrained reports whether the DDR_TRAINED event has fired.
func (o *Oracle) DDRTrained() bool {
	return o.bus != nil && o.bus.IsFired(events.DDRTrained)
}

// Check implements the core's PermissionOracle(target, addr, size).
func (o *Oracle) Check(target uint8, addr uint64, size uint64) bool {
	for _, w := range o.windows[target] {
		if !w.contains(addr, size) {
			continue
		}
		if w.InDDR {
			if o.bus == nil || !o.bus.IsFired(events.DDRTrained) {
				return false
			}
		}
		return true
	}
	return false
}

// Windows returns the configured windows for target, for diagnostics
// and tests.
func (o *Oracle) Windows(target uint8) []Window {
	return o.windows[target]
}
