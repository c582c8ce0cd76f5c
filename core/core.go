/*
 * bootcore - Boot orchestration core
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

// Package core wires the four per-hart state machines to the shared
// Boot Image, Copy Engine, Domain Registry, Permission Oracle and IPI
// Coordinator, and exposes the Public Control API a management
// console (or the bootcoresim CLI) drives a boot from.
package core

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/mpfs-hss/bootcore/bootcfg"
	"github.com/mpfs-hss/bootcore/bootimage"
	"github.com/mpfs-hss/bootcore/copyengine"
	"github.com/mpfs-hss/bootcore/domain"
	"github.com/mpfs-hss/bootcore/events"
	"github.com/mpfs-hss/bootcore/fsm"
	"github.com/mpfs-hss/bootcore/ipi"
	"github.com/mpfs-hss/bootcore/permission"
)

// Core aggregates everything a running boot needs: one StateMachine
// per application hart plus the shared collaborators they all reach
// through the fsm.Environment interface Core implements.
type Core struct {
	mu sync.Mutex

	cfg bootcfg.Config
	log *slog.Logger

	img    *bootimage.Image
	signer bootimage.SignatureChecker

	mem      *copyengine.PhysicalMemory
	oracle   *permission.Oracle
	registry *domain.Registry
	ipiCoord *ipi.Coordinator
	bus      *events.Bus

	machines [bootimage.NumHarts]*fsm.StateMachine

	bootComplete [bootimage.NumHarts + 1]bool
	bootStatus   [bootimage.NumHarts + 1]bool
	bootFail     bool
	pmpLatch     [bootimage.NumHarts + 1]bool
}

// New builds a Core over a physical memory window, a permission
// oracle and an IPI transport. signer may be nil when signing is
// disabled in cfg.
func New(cfg bootcfg.Config, mem *copyengine.PhysicalMemory, oracle *permission.Oracle, transport ipi.Transport, signer bootimage.SignatureChecker, log *slog.Logger) *Core {
	if log == nil {
		log = slog.Default()
	}
	c := &Core{
		cfg:      cfg,
		log:      log,
		mem:      mem,
		oracle:   oracle,
		registry: domain.NewRegistry(),
		ipiCoord: ipi.NewCoordinator(transport),
		bus:      events.NewBus(),
		signer:   signer,
	}
	for i := 0; i < bootimage.NumHarts; i++ {
		c.machines[i] = fsm.New(bootimage.HartID(i+1), c)
	}
	return c
}

// Bus returns the shared event bus, so a platform harness can fire
// DDR_TRAINED / STARTUP_COMPLETE from outside the core.
func (c *Core) Bus() *events.Bus { return c.bus }

// --- Public Control API ---

// RegisterImage installs raw as the active Boot Image. It does not
// validate the image; call ValidateImage separately per spec §4.1.
func (c *Core) RegisterImage(raw []byte) error {
	img, err := bootimage.ParseImage(raw)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.img = img
	c.mu.Unlock()
	return nil
}

// VerifyMagic reports whether the registered image's magic is
// recognized (plain or compressed).
func (c *Core) VerifyMagic() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.img == nil {
		return false
	}
	return bootimage.VerifyMagic(c.img)
}

// ValidateImage runs the full magic/signature/CRC check of spec §4.1
// against the registered image.
func (c *Core) ValidateImage() (bool, error) {
	c.mu.Lock()
	img := c.img
	signer := c.signer
	signing := c.cfg.SigningCheck
	c.mu.Unlock()

	if !signing {
		signer = nil
	}
	ok, err := bootimage.ValidateImage(img, signer)
	if !ok {
		c.log.Error("boot image validation failed", "err", err)
	}
	return ok, err
}

// SkipBootIsSet reports whether target's SKIP_AUTOBOOT flag is set in
// the registered image.
func (c *Core) SkipBootIsSet(target bootimage.HartID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.img == nil || target < 1 || int(target) > bootimage.NumHarts {
		return false
	}
	return c.img.Header.Hart[target-1].HasFlag(bootimage.FlagSkipAutoboot)
}

// RestartCore forces target's state machine per the Public Control
// API's single-hart restart semantics: OpenSBIInit re-enters itself
// (a boot already past PMP setup just re-runs the SBI handoff),
// everything else forces back to Init.
func (c *Core) RestartCore(target bootimage.HartID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if target == bootimage.HartAll {
		for i := 0; i < bootimage.NumHarts; i++ {
			c.forceRestart(bootimage.HartID(i + 1))
		}
		return
	}
	c.forceRestart(target)
}

// forceRestart implements the per-hart decision of HSS_Boot_RestartCore:
// called with c.mu held.
func (c *Core) forceRestart(target bootimage.HartID) {
	if target < 1 || int(target) > bootimage.NumHarts {
		return
	}
	sm := c.machines[target-1]
	switch sm.State() {
	case fsm.OpenSBIInit:
		sm.Force(fsm.OpenSBIInit)
	case fsm.SetupPMPComplete, fsm.Idle, fsm.Init:
		sm.Force(fsm.Init)
	default:
		c.log.Error("restart requested from unexpected state", "target", target, "state", sm.State().String())
		sm.Force(fsm.Init)
	}
	c.bootComplete[target] = false
	c.bootStatus[target] = false
}

// RestartCoresByBitmask implements HSS_Boot_RestartCores_Using_Bitmask:
// each source bit is expanded to its boot-set peers before restarting,
// and POST_BOOT fires once after every source in mask has been
// processed.
func (c *Core) RestartCoresByBitmask(mask uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.img == nil {
		return
	}
	sets := domain.ComputeBootSets(c.img.Header.Hart)

	for i := 0; i < bootimage.NumHarts; i++ {
		src := bootimage.HartID(i + 1)
		if mask&(1<<i) == 0 {
			continue
		}
		if c.img.Header.Hart[i].NumChunks == 0 {
			continue
		}
		if set, ok := domain.BootSetFor(sets, src); ok {
			for peer := bootimage.HartID(1); int(peer) <= bootimage.NumHarts; peer++ {
				if set.Member(peer) {
					c.forceRestart(peer)
				}
			}
		} else {
			c.forceRestart(src)
		}
	}
	c.bus.Fire(events.PostBoot)
}

// PMPSetupRequest is the entry point the Public Control API exposes
// for a platform-side PMP setup trigger outside the normal FSM flow;
// the FSM itself reaches the same mechanism through Environment.
// Unlike DeliverEntryIPI's failure path, a failed delivery here frees
// the slot it just allocated, per HSS_Boot_PMPSetupRequest.
func (c *Core) PMPSetupRequest(target bootimage.HartID) (int, bool) {
	slot, ok := c.ipiCoord.Alloc()
	if !ok {
		return 0, false
	}
	if !c.ipiCoord.Deliver(slot, ipi.Message{Kind: ipi.PMPSetup, Target: target}) {
		c.ipiCoord.Free(slot)
		return slot, false
	}
	return slot, true
}

// PMPSetupHandler runs the target-side PMP_SETUP handler: exactly
// once per target, it latches the PMP configuration and returns true;
// a second call against an already-latched target is a no-op that
// still returns true, per R1. This models init_pmp(self) running on
// the target hart itself, simulated here in-core since this module
// has no real second address space for it to run in.
func (c *Core) PMPSetupHandler(target bootimage.HartID) bool {
	if target < 1 || int(target) > bootimage.NumHarts {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pmpLatch[target] = true
	return true
}

// PMPLatched reports whether target's PMP has been configured.
func (c *Core) PMPLatched(target bootimage.HartID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if target < 1 || int(target) > bootimage.NumHarts {
		return false
	}
	return c.pmpLatch[target]
}

// IPIHandler processes an inbound IPI per spec §4.5's RemoteProc
// extension: when cfg.RemoteprocBoot is set, a BOOT_REQUEST message's
// Ancillary field carries the remote-proc extended buffer, from which
// the real target hart is extracted; that hart's FSM is forced
// directly into OpenSBIInit (the elf payload was already loaded by
// Linux's rproc loader, so there is nothing left for this core to
// stage) and restart_core is then called against the extracted
// target, not the original IPI source, per HSS_Boot_IPIHandler.
func (c *Core) IPIHandler(msg ipi.Message) {
	switch msg.Kind {
	case ipi.BootRequest:
		source := msg.Target
		if c.cfg.RemoteprocBoot && msg.Ancillary != 0 {
			target := bootimage.HartID(msg.Ancillary)
			if target >= 1 && int(target) <= bootimage.NumHarts {
				c.mu.Lock()
				c.machines[target-1].Force(fsm.OpenSBIInit)
				c.mu.Unlock()
				source = target
			}
		}
		c.RestartCore(source)
	default:
		c.log.Warn("IPIHandler: unhandled message kind", "kind", msg.Kind.String())
	}
}

// --- Scheduling ---

// Step runs one non-blocking tick of every hart's state machine, the
// round-robin scheduling discipline of spec §4.6.3.
func (c *Core) Step() {
	for _, sm := range c.machines {
		sm.Step()
	}
}

// State returns target's current FSM state, for diagnostics and the
// console's status display.
func (c *Core) State(target bootimage.HartID) (fsm.State, error) {
	if target < 1 || int(target) > bootimage.NumHarts {
		return fsm.Idle, fmt.Errorf("core: invalid target %d", target)
	}
	return c.machines[target-1].State(), nil
}

// --- fsm.Environment ---

func (c *Core) Image() *bootimage.Image {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.img
}

func (c *Core) DDRTrained() bool      { return c.bus.IsFired(events.DDRTrained) }
func (c *Core) StartupComplete() bool { return c.bus.IsFired(events.StartupComplete) }

func (c *Core) CheckPermission(target bootimage.HartID, addr uint64, size uint64) bool {
	return c.oracle.Check(uint8(target), addr, size)
}

func (c *Core) InDDR(addr uint64) bool {
	return c.oracle.InDDR(addr)
}

func (c *Core) BeginMemcpy(addr uint64, src []byte) fsm.MemcpyCursor {
	return c.mem.BeginMemcpy(addr, src)
}

func (c *Core) BeginMemset(addr uint64, n int) fsm.MemsetCursor {
	return c.mem.BeginMemset(addr, n)
}

func (c *Core) RegisterHart(peer, primary bootimage.HartID) {
	c.registry.RegisterHart(peer, primary)
}

func (c *Core) DeregisterHart(peer bootimage.HartID) {
	c.registry.DeregisterHart(peer)
}

func (c *Core) RegisterBootHart(reg domain.Registration) {
	c.registry.RegisterBootHart(reg)
}

func (c *Core) DeliverEntryIPI(peer bootimage.HartID, ancillary uint64) (int, bool) {
	c.mu.Lock()
	img := c.img
	c.mu.Unlock()
	if img == nil || int(peer) < 1 || int(peer) > bootimage.NumHarts {
		return 0, false
	}
	hart := img.Header.Hart[peer-1]
	if hart.HasFlag(bootimage.FlagSkipOpenSBI) {
		return c.allocAndDeliver(ipi.Message{Kind: ipi.Goto, Target: peer, EntryPoint: hart.EntryPoint, PrivMode: hart.PrivMode})
	}
	return c.allocAndDeliver(ipi.Message{Kind: ipi.OpenSBIInit, Target: peer, EntryPoint: hart.EntryPoint, PrivMode: hart.PrivMode, Ancillary: ancillary})
}

func (c *Core) allocAndDeliver(msg ipi.Message) (int, bool) {
	slot, ok := c.ipiCoord.Alloc()
	if !ok {
		return 0, false
	}
	if !c.ipiCoord.Deliver(slot, msg) {
		return slot, false
	}
	return slot, true
}

func (c *Core) CheckSlotComplete(slot int) bool {
	return c.ipiCoord.CheckComplete(slot)
}

func (c *Core) FreeSlot(slot int) {
	c.ipiCoord.Free(slot)
}

func (c *Core) SetBootComplete(target bootimage.HartID) {
	c.mu.Lock()
	c.bootComplete[target] = true
	all := true
	for i := 1; i <= bootimage.NumHarts; i++ {
		if !c.bootComplete[i] {
			all = false
			break
		}
	}
	c.mu.Unlock()
	if all {
		c.bus.Fire(events.BootComplete)
	}
}

func (c *Core) SetBootFail(fail bool) {
	c.mu.Lock()
	c.bootFail = fail
	c.mu.Unlock()
}

func (c *Core) BootFail() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bootFail
}

func (c *Core) SetBootStatus(target bootimage.HartID) {
	c.mu.Lock()
	c.bootStatus[target] = true
	c.mu.Unlock()
}

func (c *Core) ChunkTrace() bool { return c.cfg.ChunkTrace }

func (c *Core) Logf(level string, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	switch level {
	case "error":
		c.log.Error(msg)
	case "warn":
		c.log.Warn(msg)
	case "debug":
		c.log.Debug(msg)
	default:
		c.log.Info(msg)
	}
}
