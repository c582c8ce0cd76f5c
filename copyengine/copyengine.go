/*
 * bootcore - Simulated physical memory and the DMA-style copy engine
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

// Package copyengine holds the simulated physical address space the
// boot core writes hart images and zero-init regions into, and the
// chunked Memcpy/Memset primitives that stand in for the platform's
// DMA engine. The backing store is a real memory mapping (not a bare
// []byte) so writes go through the same page-fault path a physical
// memory window would.
package copyengine

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/edsrzf/mmap-go"
)

// SubChunkSize bounds a single Memcpy/Memset step, the cooperative
// yield quantum of the Copy Engine: a caller driving a boot state
// machine one tick at a time copies at most this many bytes per tick
// so a multi-megabyte chunk never stalls the scheduler.
const SubChunkSize = 256

// PhysicalMemory is an anonymous, mmap-backed window standing in for
// the platform's physical address space. It is addressed relative to
// Base, not by the real SoC address, since this is a simulation.
type PhysicalMemory struct {
	Base uint64
	mem  mmap.MMap
	file *os.File
}

// New creates a PhysicalMemory window of size bytes starting at base.
// The mapping is backed by a private, unlinked scratch file so it
// behaves like the anonymous mappings used elsewhere in the pack for
// file-backed images, without leaving a visible artifact on disk.
func New(base uint64, size int) (*PhysicalMemory, error) {
	f, err := os.CreateTemp("", "bootcore-physmem-*")
	if err != nil {
		return nil, fmt.Errorf("copyengine: creating backing file: %w", err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("copyengine: truncating backing file to %s: %w", humanize.Bytes(uint64(size)), err)
	}
	// Unlink immediately: the directory entry is unneeded once open,
	// and this mirrors how a real physical window never appears as a
	// file the rest of the system can see.
	name := f.Name()
	m, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		os.Remove(name)
		return nil, fmt.Errorf("copyengine: mapping backing file: %w", err)
	}
	os.Remove(name)

	return &PhysicalMemory{Base: base, mem: m, file: f}, nil
}

// Close unmaps the window and releases its backing file.
func (p *PhysicalMemory) Close() error {
	if err := p.mem.Unmap(); err != nil {
		p.file.Close()
		return err
	}
	return p.file.Close()
}

// Size returns the window's length in bytes.
func (p *PhysicalMemory) Size() int {
	return len(p.mem)
}

func (p *PhysicalMemory) offset(addr uint64, n int) (int, error) {
	if addr < p.Base {
		return 0, fmt.Errorf("copyengine: address 0x%x below window base 0x%x", addr, p.Base)
	}
	off := addr - p.Base
	if off+uint64(n) > uint64(len(p.mem)) {
		return 0, fmt.Errorf("copyengine: [0x%x, 0x%x) out of window bounds (size %s)", addr, addr+uint64(n), humanize.Bytes(uint64(len(p.mem))))
	}
	return int(off), nil
}

// Write copies data into the window at addr in one shot. The boot
// state machine drives its chunked transfers through BeginMemcpy/Tick
// instead; Write remains for callers that just want to poke memory
// directly.
func (p *PhysicalMemory) Write(addr uint64, data []byte) error {
	off, err := p.offset(addr, len(data))
	if err != nil {
		return err
	}
	copy(p.mem[off:off+len(data)], data)
	return nil
}

// Zero fills n bytes at addr with zero in one shot, the equivalent of
// Write for the Memset primitive. The boot state machine drives its
// chunked zero-fills through BeginMemset/Tick instead.
func (p *PhysicalMemory) Zero(addr uint64, n int) error {
	off, err := p.offset(addr, n)
	if err != nil {
		return err
	}
	clear := p.mem[off : off+n]
	for i := range clear {
		clear[i] = 0
	}
	return nil
}

// Read copies n bytes starting at addr out of the window.
func (p *PhysicalMemory) Read(addr uint64, n int) ([]byte, error) {
	off, err := p.offset(addr, n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, p.mem[off:off+n])
	return out, nil
}

// Step is one bounded slice of a longer Memcpy/Memset, at most
// SubChunkSize bytes, so a caller ticking a cooperative scheduler can
// drive an arbitrarily large transfer one quantum at a time.
type Step struct {
	Done    int
	Total   int
	Written int
}

// Remaining reports whether more sub-chunks are left to transfer.
func (s Step) Remaining() bool { return s.Done < s.Total }

// CopyState tracks the progress of an in-flight chunked Memcpy so the
// boot state machine can resume it tick after tick.
type CopyState struct {
	mem     *PhysicalMemory
	dstAddr uint64
	src     []byte
	off     int
}

// BeginMemcpy starts (or restarts) a chunked copy of src into mem at
// dstAddr. Call Tick repeatedly until Step.Remaining() is false.
func (mem *PhysicalMemory) BeginMemcpy(dstAddr uint64, src []byte) *CopyState {
	return &CopyState{mem: mem, dstAddr: dstAddr, src: src}
}

// Tick advances the copy by at most SubChunkSize bytes.
func (c *CopyState) Tick() (Step, error) {
	n := len(c.src) - c.off
	if n > SubChunkSize {
		n = SubChunkSize
	}
	if n > 0 {
		off, err := c.mem.offset(c.dstAddr+uint64(c.off), n)
		if err != nil {
			return Step{}, err
		}
		copy(c.mem.mem[off:off+n], c.src[c.off:c.off+n])
		c.off += n
	}
	return Step{Done: c.off, Total: len(c.src), Written: n}, nil
}

// ZeroState tracks the progress of an in-flight chunked Memset(0).
type ZeroState struct {
	mem     *PhysicalMemory
	dstAddr uint64
	size    int
	off     int
}

// BeginMemset starts (or restarts) a chunked zero-fill of size bytes
// at dstAddr. Call Tick repeatedly until Step.Remaining() is false.
func (mem *PhysicalMemory) BeginMemset(dstAddr uint64, size int) *ZeroState {
	return &ZeroState{mem: mem, dstAddr: dstAddr, size: size}
}

// Tick advances the zero-fill by at most SubChunkSize bytes.
func (z *ZeroState) Tick() (Step, error) {
	n := z.size - z.off
	if n > SubChunkSize {
		n = SubChunkSize
	}
	if n > 0 {
		off, err := z.mem.offset(z.dstAddr+uint64(z.off), n)
		if err != nil {
			return Step{}, err
		}
		clear := z.mem.mem[off : off+n]
		for i := range clear {
			clear[i] = 0
		}
		z.off += n
	}
	return Step{Done: z.off, Total: z.size, Written: n}, nil
}
