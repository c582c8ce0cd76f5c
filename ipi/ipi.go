/*
 * bootcore - IPI coordinator
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

// Package ipi implements the message-slot table the boot core uses to
// talk to application harts: allocate a slot, deliver a message
// through a Transport, poll for completion, free the slot. Every
// handler in fsm is non-blocking, so polling (not waiting) is the only
// contract this package offers.
package ipi

import (
	"fmt"

	"github.com/mpfs-hss/bootcore/bootimage"
)

// Kind is one of the message kinds the core sends to a target.
type Kind int

const (
	PMPSetup Kind = iota
	OpenSBIInit
	Goto
	BootRequest
)

func (k Kind) String() string {
	switch k {
	case PMPSetup:
		return "PMP_SETUP"
	case OpenSBIInit:
		return "OPENSBI_INIT"
	case Goto:
		return "GOTO"
	case BootRequest:
		return "BOOT_REQUEST"
	default:
		return "UNKNOWN"
	}
}

// Message is the payload carried by Kind OPENSBI_INIT and GOTO.
type Message struct {
	Kind       Kind
	Target     bootimage.HartID
	PrivMode   uint8
	EntryPoint uint64
	Ancillary  uint64
}

// NumSlots bounds the slot table: one primary slot per target plus
// one auxiliary slot per possible peer, generously sized.
const NumSlots = 32

// NoOutstanding is the sentinel value meaning "slot unallocated",
// matching the contract's NO_OUTSTANDING value.
const NoOutstanding = -1

// Transport delivers an allocated message to its target and reports
// completion. The shipped LoopbackTransport is one concrete, in
// process implementation; production wiring would replace it with
// whatever the platform's real IPI mailbox requires.
type Transport interface {
	Deliver(slot int, msg Message) bool
	CheckComplete(slot int, msg Message) bool
}

type slotState struct {
	inUse bool
	msg   Message
}

// Coordinator is the collaborator of spec §4.5: alloc/deliver/
// checkComplete/free over a fixed slot table, backed by a Transport.
type Coordinator struct {
	slots     [NumSlots]slotState
	transport Transport
}

func NewCoordinator(t Transport) *Coordinator {
	return &Coordinator{transport: t}
}

// Alloc finds a free slot and returns its index, or false if the
// table is exhausted.
func (c *Coordinator) Alloc() (int, bool) {
	for i := range c.slots {
		if !c.slots[i].inUse {
			c.slots[i].inUse = true
			return i, true
		}
	}
	return NoOutstanding, false
}

// Deliver hands msg to the transport for the given slot. A failed
// delivery does not free the slot; the caller (fsm) is responsible
// for calling Free on its own failure path, per invariant 4.
func (c *Coordinator) Deliver(slot int, msg Message) bool {
	if slot < 0 || slot >= NumSlots || !c.slots[slot].inUse {
		return false
	}
	c.slots[slot].msg = msg
	return c.transport.Deliver(slot, msg)
}

// CheckComplete polls the transport for the given slot's completion.
func (c *Coordinator) CheckComplete(slot int) bool {
	if slot < 0 || slot >= NumSlots || !c.slots[slot].inUse {
		return false
	}
	return c.transport.CheckComplete(slot, c.slots[slot].msg)
}

// Free releases a slot. Idempotent: freeing an already-free slot is a
// no-op, since both the timeout path and the completion path may race
// to free the same slot during an Error transition.
func (c *Coordinator) Free(slot int) {
	if slot < 0 || slot >= NumSlots {
		return
	}
	c.slots[slot] = slotState{}
}

// InUse reports whether a slot is currently allocated, for tests
// asserting P3 (every allocated slot is eventually freed).
func (c *Coordinator) InUse(slot int) bool {
	if slot < 0 || slot >= NumSlots {
		return false
	}
	return c.slots[slot].inUse
}

// OutstandingCount reports how many slots remain allocated, for tests
// that want to assert a boot run returns the table to empty.
func (c *Coordinator) OutstandingCount() int {
	n := 0
	for _, s := range c.slots {
		if s.inUse {
			n++
		}
	}
	return n
}

func (c *Coordinator) String() string {
	return fmt.Sprintf("ipi.Coordinator{outstanding=%d}", c.OutstandingCount())
}
