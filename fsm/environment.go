/*
 * bootcore - FSM environment contract
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

// Package fsm implements the per-target boot state machine: the
// deterministic Idle -> ... -> Complete lifecycle that drives one
// application hart from reset to its payload. A StateMachine never
// touches the image, IPI table, domain registry or permission oracle
// directly — everything it needs from the surrounding core is reached
// through the Environment it was built with, so the same state table
// drives all four per-target instances against one shared core.
package fsm

import (
	"github.com/mpfs-hss/bootcore/bootimage"
	"github.com/mpfs-hss/bootcore/copyengine"
	"github.com/mpfs-hss/bootcore/domain"
)

// MemcpyCursor and MemsetCursor are the chunked-transfer handles the
// Copy Engine hands back from BeginMemcpy/BeginMemset. Tick advances
// the transfer by at most one cooperative-yield quantum
// (copyengine.SubChunkSize bytes), the same quantum ZeroInit and
// DownloadChunks drive one Step() at a time.
type MemcpyCursor interface {
	Tick() (copyengine.Step, error)
}

type MemsetCursor interface {
	Tick() (copyengine.Step, error)
}

// Environment is everything a StateMachine needs from its owning
// core. core.Core is the only production implementation; tests supply
// lightweight fakes.
type Environment interface {
	// Image returns the currently registered Boot Image, or nil.
	Image() *bootimage.Image

	// DDRTrained and StartupComplete report the two events Init
	// waits on.
	DDRTrained() bool
	StartupComplete() bool

	// CheckPermission implements PermissionOracle(target, addr, size).
	CheckPermission(target bootimage.HartID, addr uint64, size uint64) bool
	// InDDR reports whether addr lies in the DDR range, independent
	// of any target's write permission.
	InDDR(addr uint64) bool

	// BeginMemcpy and BeginMemset start a chunked Copy Engine transfer;
	// the returned cursor's Tick is called once per Step() until it
	// reports no bytes remaining.
	BeginMemcpy(addr uint64, src []byte) MemcpyCursor
	BeginMemset(addr uint64, n int) MemsetCursor

	// RegisterHart, DeregisterHart, RegisterBootHart are the Domain
	// Registry calls register_harts() makes on SetupPMP entry and on
	// DownloadChunks exit.
	RegisterHart(peer, primary bootimage.HartID)
	DeregisterHart(peer bootimage.HartID)
	RegisterBootHart(reg domain.Registration)

	// PMPSetupRequest allocates and delivers a PMP_SETUP IPI to
	// target, returning the allocated slot.
	PMPSetupRequest(target bootimage.HartID) (slot int, ok bool)
	// DeliverEntryIPI allocates a slot and delivers GOTO or
	// OPENSBI_INIT to peer, honoring peer's SKIP_OPENSBI flag.
	DeliverEntryIPI(peer bootimage.HartID, ancillary uint64) (slot int, ok bool)
	// CheckSlotComplete and FreeSlot poll/release an allocated slot.
	CheckSlotComplete(slot int) bool
	FreeSlot(slot int)

	// SetBootComplete marks target's bootComplete[] entry.
	SetBootComplete(target bootimage.HartID)
	// SetBootFail sets (or clears, at boot start) BOOT_FAIL_CR.
	SetBootFail(fail bool)
	// SetBootStatus sets the per-target status bit after a
	// successful Wait.
	SetBootStatus(target bootimage.HartID)

	// ChunkTrace reports whether per-chunk debug tracing is enabled.
	ChunkTrace() bool
	// Logf logs a formatted line at the given level ("error", "warn",
	// "info", "debug"), matching bootlog's level vocabulary.
	Logf(level string, format string, args ...any)
}
