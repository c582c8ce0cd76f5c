/*
 * bootcore - Boot state machine handlers
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

package fsm

import (
	"time"

	"github.com/mpfs-hss/bootcore/bootimage"
	"github.com/mpfs-hss/bootcore/domain"
)

// registerHarts is the C original's register_harts(): called on
// SetupPMP entry and again on DownloadChunks exit so ancillary data
// discovered mid-download reaches the domain registration. Only a
// "primary boot hart" (one with both chunks and a non-zero entry
// point) walks its peers to (de)register coordination membership and
// registers a domain; on any other machine this is a no-op.
func registerHarts(sm *StateMachine) {
	img := sm.Env.Image()
	if img == nil {
		return
	}
	target := sm.Target
	self := img.Header.Hart[target-1]
	primaryBootHart := self.NumChunks != 0 && self.EntryPoint != 0

	sm.data.hartMask = 0
	for i := 0; i < bootimage.NumHarts; i++ {
		peer := bootimage.HartID(i + 1)
		peerDesc := img.Header.Hart[i]

		if !primaryBootHart {
			continue
		}
		if peerDesc.HasFlag(bootimage.FlagSkipOpenSBI) {
			sm.Env.DeregisterHart(peer)
			continue
		}
		if peer == target || peerDesc.EntryPoint == self.EntryPoint {
			sm.data.hartMask |= 1 << (peer - 1)
			sm.Env.RegisterHart(peer, target)
		}
	}

	if primaryBootHart && !self.HasFlag(bootimage.FlagSkipOpenSBI) {
		sm.Env.RegisterBootHart(domain.Registration{
			Name:         hartName(self),
			HartMask:     sm.data.hartMask,
			Primary:      target,
			PrivMode:     self.PrivMode,
			EntryPoint:   self.EntryPoint,
			AncillaryArg: sm.data.ancillary,
			AllowCold:    self.HasFlag(bootimage.FlagAllowColdReboot),
			AllowWarm:    self.HasFlag(bootimage.FlagAllowWarmReboot),
		})
	}
}

func hartName(h bootimage.HartDesc) string {
	n := h.Name[:]
	for i, b := range n {
		if b == 0 {
			return string(n[:i])
		}
	}
	return string(n)
}

// pollAcks implements check_for_ipi_acks(): aux slots are freed
// individually as each completes, the primary slot only once every
// aux slot (and itself) has completed.
func pollAcks(sm *StateMachine) bool {
	result := true
	for peer := bootimage.HartID(1); int(peer) <= bootimage.NumHarts; peer++ {
		slot := sm.data.auxSlots[peer]
		if slot == -1 {
			continue
		}
		if sm.Env.CheckSlotComplete(slot) {
			sm.Env.FreeSlot(slot)
			sm.data.auxSlots[peer] = -1
		} else {
			result = false
		}
	}
	if sm.data.primarySlot != -1 {
		if result && sm.Env.CheckSlotComplete(sm.data.primarySlot) {
			sm.Env.FreeSlot(sm.data.primarySlot)
			sm.data.primarySlot = -1
		} else {
			result = false
		}
	}
	return result
}

// freeAllSlots is the timeout/error path: every allocated slot is
// released regardless of completion, per invariant 4.
func freeAllSlots(sm *StateMachine) {
	for peer := bootimage.HartID(1); int(peer) <= bootimage.NumHarts; peer++ {
		if sm.data.auxSlots[peer] != -1 {
			sm.Env.FreeSlot(sm.data.auxSlots[peer])
			sm.data.auxSlots[peer] = -1
		}
	}
	if sm.data.primarySlot != -1 {
		sm.Env.FreeSlot(sm.data.primarySlot)
		sm.data.primarySlot = -1
	}
}

// --- Idle ---

func idleOnEntry(sm *StateMachine) {}

func idleHandler(sm *StateMachine) {
	// consumes BOOT_REQUEST: in this in-process model a restart is
	// driven directly by core.RestartCore forcing the state machine
	// to Init, so there is nothing further for Idle to poll here.
}

// --- Init ---

func initHandler(sm *StateMachine) {
	img := sm.Env.Image()
	if img == nil {
		sm.transition(Error)
		return
	}
	if !sm.Env.DDRTrained() || !sm.Env.StartupComplete() {
		return
	}
	sm.Env.SetBootFail(false)
	sm.startTime = time.Now()
	sm.transition(SetupPMP)
}

// --- SetupPMP ---

func setupPMPOnEntry(sm *StateMachine) {
	registerHarts(sm)
}

func setupPMPHandler(sm *StateMachine) {
	if sm.data.primarySlot == -1 {
		slot, ok := sm.Env.PMPSetupRequest(sm.Target)
		if !ok {
			return
		}
		sm.data.primarySlot = slot
	}
	sm.transition(SetupPMPComplete)
}

// --- SetupPMPComplete ---

func setupPMPCompleteHandler(sm *StateMachine) {
	if sm.elapsed(PMPAckTimeout) {
		sm.Env.Logf("error", "u54_%d: PMP setup ack timeout", sm.Target)
		freeAllSlots(sm)
		sm.transition(Error)
		return
	}
	if !pollAcks(sm) {
		return
	}
	img := sm.Env.Image()
	if img.Header.Hart[sm.Target-1].HasFlag(bootimage.FlagSkipAutoboot) {
		sm.transition(Complete)
		return
	}
	sm.transition(ZeroInit)
}

// --- ZeroInit ---

func zeroInitOnEntry(sm *StateMachine) {
	img := sm.Env.Image()
	chunks, err := img.ZIChunks(img.Header.Hart[sm.Target-1])
	if err != nil {
		sm.Env.Logf("error", "u54_%d: decoding zero-init chunks: %v", sm.Target, err)
		chunks = nil
	}
	sm.data.ziChunks = chunks
	sm.data.ziIdx = 0
}

func zeroInitHandler(sm *StateMachine) {
	if sm.data.ziCursor == nil {
		if sm.data.ziIdx >= len(sm.data.ziChunks) {
			sm.transition(DownloadChunks)
			return
		}
		c := sm.data.ziChunks[sm.data.ziIdx]
		if c.HartOwner() != sm.Target {
			sm.data.ziIdx++
			return
		}
		if sm.Env.InDDR(c.ExecAddr) && !sm.Env.DDRTrained() {
			return // wait for DDR training
		}
		if sm.Env.ChunkTrace() {
			sm.Env.Logf("debug", "u54_%d: ziChunk 0x%x, %d bytes", sm.Target, c.ExecAddr, c.Size)
		}
		sm.data.ziCursor = sm.Env.BeginMemset(c.ExecAddr, int(c.Size))
	}

	step, err := sm.data.ziCursor.Tick()
	if err != nil {
		sm.Env.Logf("error", "u54_%d: zero-init chunk failed: %v", sm.Target, err)
	}
	if err != nil || !step.Remaining() {
		sm.data.ziCursor = nil
		sm.data.ziIdx++
	}
}

// --- DownloadChunks ---

func downloadChunksOnEntry(sm *StateMachine) {
	img := sm.Env.Image()
	hart := img.Header.Hart[sm.Target-1]
	if hart.NumChunks == 0 {
		sm.data.chunks = nil
		return
	}
	chunks, err := img.LoadChunks(hart)
	if err != nil {
		sm.Env.Logf("error", "u54_%d: decoding load chunks: %v", sm.Target, err)
		chunks = nil
	}
	sm.data.chunks = chunks
	sm.data.chunkIdx = 0
	sm.data.chunkCursor = nil
}

func downloadChunksHandler(sm *StateMachine) {
	img := sm.Env.Image()
	hart := img.Header.Hart[sm.Target-1]
	if hart.NumChunks == 0 {
		sm.transition(Complete)
		return
	}
	if sm.data.chunkIdx >= len(sm.data.chunks) {
		sm.transition(OpenSBIInit)
		return
	}
	c := sm.data.chunks[sm.data.chunkIdx]

	if c.HartOwner() != sm.Target || !sm.Env.CheckPermission(sm.Target, c.ExecAddr, uint64(c.Size)) {
		if c.HartOwner() == sm.Target {
			sm.Env.Logf("error", "u54_%d: chunk %d skipped, permission denied", sm.Target, sm.data.chunkIdx)
		} else {
			sm.Env.Logf("warn", "u54_%d: chunk %d skipped, owner %d", sm.Target, sm.data.chunkIdx, c.Owner)
		}
		sm.data.chunkCursor = nil
		sm.data.chunkIdx++
		return
	}

	if sm.data.chunkCursor == nil {
		data, err := img.ChunkData(c)
		if err != nil {
			sm.Env.Logf("error", "u54_%d: reading chunk data: %v", sm.Target, err)
			sm.data.chunkIdx++
			return
		}
		if sm.Env.ChunkTrace() {
			sm.Env.Logf("debug", "u54_%d: chunk %d: 0x%x -> 0x%x, %d bytes",
				sm.Target, sm.data.chunkIdx, c.ImgOffset, c.ExecAddr, c.Size)
		}
		if c.IsAncillary() && !sm.data.ancillarySet {
			sm.data.ancillary = c.ExecAddr
			sm.data.ancillarySet = true
		}
		sm.data.chunkCursor = sm.Env.BeginMemcpy(c.ExecAddr, data)
	}

	step, err := sm.data.chunkCursor.Tick()
	if err != nil {
		sm.Env.Logf("error", "u54_%d: writing chunk: %v", sm.Target, err)
	}
	if err != nil || !step.Remaining() {
		sm.data.chunkCursor = nil
		sm.data.chunkIdx++
	}
}

func downloadChunksOnExit(sm *StateMachine) {
	registerHarts(sm)
}

// --- OpenSBIInit ---

// openSBIInitOnEntry does not call into Env: the restart API forces
// this state while holding the Core's lock.
func openSBIInitOnEntry(sm *StateMachine) {
	sm.data.openSBIIter = 0
}

func openSBIInitHandler(sm *StateMachine) {
	img := sm.Env.Image()
	self := img.Header.Hart[sm.Target-1]
	primaryBootHart := self.NumChunks != 0 && self.EntryPoint != 0
	if !primaryBootHart {
		return
	}

	if sm.data.openSBIIter >= bootimage.NumHarts {
		sm.transition(Wait)
		return
	}
	peer := bootimage.HartID(sm.data.openSBIIter + 1)
	sm.data.openSBIIter++

	if peer == sm.Target {
		return
	}
	if img.Header.Hart[peer-1].EntryPoint != self.EntryPoint {
		return
	}
	deliverEntryIPI(sm, peer)
}

func openSBIInitOnExit(sm *StateMachine) {
	img := sm.Env.Image()
	if img.Header.Hart[sm.Target-1].EntryPoint != 0 {
		deliverEntryIPI(sm, sm.Target)
	}
}

func deliverEntryIPI(sm *StateMachine, peer bootimage.HartID) {
	slot, ok := sm.Env.DeliverEntryIPI(peer, sm.data.ancillary)
	if !ok {
		sm.Env.Logf("error", "u54_%d: sbi_init delivery to u54_%d failed", sm.Target, peer)
		sm.transition(Error)
		return
	}
	sm.data.auxSlots[peer] = slot
}

// --- Wait ---

func waitOnEntry(sm *StateMachine) {
	sm.startTime = time.Now()
}

func waitHandler(sm *StateMachine) {
	img := sm.Env.Image()
	if img.Header.Hart[sm.Target-1].EntryPoint == 0 {
		sm.transition(Complete)
		return
	}
	if sm.elapsed(EntryAckTimeout) {
		sm.Env.Logf("error", "u54_%d: entry IPI ack timeout", sm.Target)
		freeAllSlots(sm)
		sm.transition(Error)
		return
	}
	if !pollAcks(sm) {
		return
	}
	sm.Env.SetBootStatus(sm.Target)
	sm.transition(Complete)
}

// --- Complete ---

func completeOnEntry(sm *StateMachine) {
	sm.Env.SetBootComplete(sm.Target)
}

func completeHandler(sm *StateMachine) {
	sm.transition(Idle)
}

// --- Error ---

func errorHandler(sm *StateMachine) {
	sm.Env.Logf("error", "u54_%d: boot error, transitioning to Complete", sm.Target)
	sm.Env.SetBootFail(true)
	sm.transition(Complete)
}
