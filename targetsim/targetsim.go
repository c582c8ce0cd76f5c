/*
 * bootcore - Simulated application hart
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

// Package targetsim stands in for the four RISC-V application harts
// on the other side of the boot core's IPI mailbox: each Target
// tracks its own PMP latch state and acknowledges a delivered message
// after a configurable number of ticks, so the core's polling loops
// (SetupPMPComplete, Wait) have a realistic peer to observe complete
// against instead of an instantly-acking stub.
package targetsim

import (
	"sync"

	"github.com/mpfs-hss/bootcore/ipi"
)

// Target is one simulated application hart. PMPLatched mirrors
// invariant 3: a GOTO or OPENSBI_INIT delivered before PMP_SETUP has
// completed is refused, matching the real core's ordering guarantee.
type Target struct {
	mu sync.Mutex

	id        uint8
	ackDelay  int // ticks to hold a delivered message pending before acking
	pmpLatch  bool
	pending   map[int]int // slot -> ticks remaining before ack
	lastEntry uint64
}

// NewTarget builds a Target with the given per-message ack delay (in
// Acked polls), zero meaning "ack on first poll".
func NewTarget(id uint8, ackDelay int) *Target {
	return &Target{id: id, ackDelay: ackDelay, pending: make(map[int]int)}
}

// Accept implements ipi.TargetHandler: PMP_SETUP always latches;
// GOTO/OPENSBI_INIT are refused until PMP_SETUP has completed, per
// invariant 3.
func (t *Target) Accept(msg ipi.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch msg.Kind {
	case ipi.PMPSetup:
		t.pending[slotKeyFor(msg)] = t.ackDelay
		return true
	case ipi.Goto, ipi.OpenSBIInit:
		if !t.pmpLatch {
			return false
		}
		t.lastEntry = msg.EntryPoint
		t.pending[slotKeyFor(msg)] = t.ackDelay
		return true
	default:
		return false
	}
}

// slotKeyFor derives a stable key for the pending map from a
// message's identity; kind and target are enough since a single
// target only ever has one in-flight message of a given kind at once
// under this core's sequencing.
func slotKeyFor(msg ipi.Message) int {
	return int(msg.Kind)<<8 | int(msg.Target)
}

// Acked implements ipi.TargetHandler: counts down ackDelay ticks
// before reporting completion, then latches PMP on a completed
// PMP_SETUP.
func (t *Target) Acked(msg ipi.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := slotKeyFor(msg)
	remaining, ok := t.pending[key]
	if !ok {
		return false
	}
	if remaining > 0 {
		t.pending[key] = remaining - 1
		return false
	}
	delete(t.pending, key)
	if msg.Kind == ipi.PMPSetup {
		t.pmpLatch = true
	}
	return true
}

// PMPLatched reports whether this target has completed PMP setup.
func (t *Target) PMPLatched() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pmpLatch
}

// LastEntryPoint returns the entry point of the last GOTO/OPENSBI_INIT
// this target accepted, for test assertions.
func (t *Target) LastEntryPoint() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastEntry
}

// Platform wires a full set of simulated harts into an
// ipi.LoopbackTransport, the assembled peer side of a bootcoresim run.
type Platform struct {
	Transport *ipi.LoopbackTransport
	Targets   map[uint8]*Target
}

// NewPlatform builds n simulated targets (ids 1..n) registered on a
// fresh LoopbackTransport.
func NewPlatform(n int, ackDelay int) *Platform {
	transport := ipi.NewLoopbackTransport()
	targets := make(map[uint8]*Target, n)
	for i := 1; i <= n; i++ {
		tgt := NewTarget(uint8(i), ackDelay)
		targets[uint8(i)] = tgt
		transport.Register(uint8(i), tgt)
	}
	return &Platform{Transport: transport, Targets: targets}
}
