package fsm

import (
	"testing"
	"time"

	"github.com/mpfs-hss/bootcore/bootimage"
	"github.com/mpfs-hss/bootcore/copyengine"
	"github.com/mpfs-hss/bootcore/domain"
)

// fakeCursor is a minimal MemcpyCursor/MemsetCursor: it ticks in
// copyengine.SubChunkSize steps and reports each write through
// onWrite, without touching any real memory.
type fakeCursor struct {
	addr    uint64
	total   int
	done    int
	onWrite func(addr uint64)
}

func (f *fakeCursor) Tick() (copyengine.Step, error) {
	n := f.total - f.done
	if n > copyengine.SubChunkSize {
		n = copyengine.SubChunkSize
	}
	if n > 0 {
		if f.onWrite != nil {
			f.onWrite(f.addr + uint64(f.done))
		}
		f.done += n
	}
	return copyengine.Step{Done: f.done, Total: f.total, Written: n}, nil
}

// fakeEnv is a minimal in-memory Environment for exercising the state
// table without core, copyengine or the IPI coordinator.
type fakeEnv struct {
	img              *bootimage.Image
	ddrTrained       bool
	startupComplete  bool
	permissions      map[bootimage.HartID]bool
	ddrRange         [2]uint64 // start, end
	writes           []uint64
	zeros            []uint64
	registeredHarts  map[bootimage.HartID]bootimage.HartID
	deregistered     []bootimage.HartID
	bootHarts        []domain.Registration
	nextSlot         int
	slotsComplete    map[int]bool
	freedSlots       []int
	bootComplete     []bootimage.HartID
	bootFail         bool
	bootStatusHarts  []bootimage.HartID
	chunkTrace       bool
	pmpSetupFails    bool
	deliverFails     bool
}

func newFakeEnv() *fakeEnv {
	return &fakeEnv{
		permissions:     map[bootimage.HartID]bool{1: true, 2: true, 3: true, 4: true},
		registeredHarts: map[bootimage.HartID]bootimage.HartID{},
		slotsComplete:   map[int]bool{},
		ddrTrained:      true,
		startupComplete: true,
	}
}

func (e *fakeEnv) Image() *bootimage.Image { return e.img }
func (e *fakeEnv) DDRTrained() bool        { return e.ddrTrained }
func (e *fakeEnv) StartupComplete() bool   { return e.startupComplete }

func (e *fakeEnv) CheckPermission(target bootimage.HartID, addr uint64, size uint64) bool {
	return e.permissions[target]
}

func (e *fakeEnv) InDDR(addr uint64) bool {
	return addr >= e.ddrRange[0] && addr < e.ddrRange[1]
}

func (e *fakeEnv) BeginMemcpy(addr uint64, src []byte) MemcpyCursor {
	return &fakeCursor{addr: addr, total: len(src), onWrite: func(a uint64) {
		e.writes = append(e.writes, a)
	}}
}

func (e *fakeEnv) BeginMemset(addr uint64, n int) MemsetCursor {
	return &fakeCursor{addr: addr, total: n, onWrite: func(a uint64) {
		e.zeros = append(e.zeros, a)
	}}
}

func (e *fakeEnv) RegisterHart(peer, primary bootimage.HartID) {
	e.registeredHarts[peer] = primary
}

func (e *fakeEnv) DeregisterHart(peer bootimage.HartID) {
	e.deregistered = append(e.deregistered, peer)
}

func (e *fakeEnv) RegisterBootHart(reg domain.Registration) {
	e.bootHarts = append(e.bootHarts, reg)
}

func (e *fakeEnv) PMPSetupRequest(target bootimage.HartID) (int, bool) {
	if e.pmpSetupFails {
		return 0, false
	}
	slot := e.nextSlot
	e.nextSlot++
	e.slotsComplete[slot] = true
	return slot, true
}

func (e *fakeEnv) DeliverEntryIPI(peer bootimage.HartID, ancillary uint64) (int, bool) {
	if e.deliverFails {
		return 0, false
	}
	slot := e.nextSlot
	e.nextSlot++
	e.slotsComplete[slot] = true
	return slot, true
}

func (e *fakeEnv) CheckSlotComplete(slot int) bool { return e.slotsComplete[slot] }

func (e *fakeEnv) FreeSlot(slot int) {
	e.freedSlots = append(e.freedSlots, slot)
	delete(e.slotsComplete, slot)
}

func (e *fakeEnv) SetBootComplete(target bootimage.HartID) {
	e.bootComplete = append(e.bootComplete, target)
}

func (e *fakeEnv) SetBootFail(fail bool) { e.bootFail = fail }

func (e *fakeEnv) SetBootStatus(target bootimage.HartID) {
	e.bootStatusHarts = append(e.bootStatusHarts, target)
}

func (e *fakeEnv) ChunkTrace() bool { return e.chunkTrace }

func (e *fakeEnv) Logf(level string, format string, args ...any) {}

func singleHartImage(entryPoint uint64, numChunks uint32) *bootimage.Image {
	var hdr bootimage.Header
	hdr.Magic = bootimage.PlainMagic
	hdr.Hart[0] = bootimage.HartDesc{
		EntryPoint: entryPoint,
		NumChunks:  numChunks,
		FirstChunk: 0,
		LastChunk:  0,
	}
	return &bootimage.Image{Header: hdr}
}

func runUntil(t *testing.T, sm *StateMachine, want State, maxSteps int) {
	t.Helper()
	for i := 0; i < maxSteps; i++ {
		if sm.State() == want {
			return
		}
		sm.Step()
	}
	t.Fatalf("did not reach state %s within %d steps, stuck at %s", want, maxSteps, sm.State())
}

func TestInitWaitsOnDDRAndStartup(t *testing.T) {
	env := newFakeEnv()
	env.img = singleHartImage(0, 0)
	env.ddrTrained = false
	sm := New(1, env)
	sm.Force(Init) // a boot starts with a restart forcing Idle -> Init

	sm.Step()
	if sm.State() != Init {
		t.Fatalf("Init should not advance before DDR_TRAINED: got %s", sm.State())
	}
	env.ddrTrained = true
	sm.Step()
	if sm.State() != SetupPMP {
		t.Fatalf("Init should advance to SetupPMP once ready: got %s", sm.State())
	}
}

func TestSkipAutoBootGoesToComplete(t *testing.T) {
	env := newFakeEnv()
	img := singleHartImage(0, 0)
	img.Header.Hart[0].Flags = uint32(bootimage.FlagSkipAutoboot)
	env.img = img
	sm := New(1, env)
	sm.Force(Init)

	runUntil(t, sm, Complete, 10)
	if len(env.bootComplete) != 1 || env.bootComplete[0] != 1 {
		t.Fatalf("expected SetBootComplete(1), got %v", env.bootComplete)
	}
}

func TestFullBootNoEntryPoint(t *testing.T) {
	env := newFakeEnv()
	env.img = singleHartImage(0, 0)
	sm := New(1, env)
	sm.Force(Init)

	runUntil(t, sm, Complete, 20)
	if len(env.bootComplete) != 1 {
		t.Fatalf("expected exactly one SetBootComplete call, got %v", env.bootComplete)
	}
}

func TestFullBootWithEntryPointDeliversEntryIPI(t *testing.T) {
	env := newFakeEnv()
	img := singleHartImage(0x8020_0000, 1)
	env.img = img
	sm := New(1, env)
	sm.Force(Init)

	runUntil(t, sm, Complete, 40)
	if len(env.bootStatusHarts) != 1 || env.bootStatusHarts[0] != 1 {
		t.Fatalf("expected SetBootStatus(1) on successful Wait, got %v", env.bootStatusHarts)
	}
}

func TestZeroInitSkipsUntrainedDDR(t *testing.T) {
	env := newFakeEnv()
	env.ddrRange = [2]uint64{0x8000_0000, 0x9000_0000}
	env.ddrTrained = false
	img := singleHartImage(0, 0)
	env.img = img
	sm := New(1, env)
	sm.Force(ZeroInit)
	sm.data.ziChunks = []bootimage.ZIChunk{{Owner: 1, Size: 16, ExecAddr: 0x8000_1000}}
	sm.data.ziIdx = 0

	sm.Step()
	if sm.data.ziIdx != 0 {
		t.Fatalf("ZeroInit should stall on untrained DDR chunk, ziIdx advanced to %d", sm.data.ziIdx)
	}
	env.ddrTrained = true
	sm.Step()
	if sm.data.ziIdx != 1 {
		t.Fatalf("ZeroInit should proceed once DDR trained, ziIdx = %d", sm.data.ziIdx)
	}
	if len(env.zeros) != 1 || env.zeros[0] != 0x8000_1000 {
		t.Fatalf("expected one zero at 0x8000_1000, got %v", env.zeros)
	}
}

func TestSetupPMPNoTimeoutWhileRequestFails(t *testing.T) {
	orig := PMPAckTimeout
	PMPAckTimeout = 1 * time.Millisecond
	defer func() { PMPAckTimeout = orig }()

	env := newFakeEnv()
	env.img = singleHartImage(0, 0)
	env.pmpSetupFails = true
	sm := New(1, env)
	sm.Force(SetupPMP)
	sm.startTime = time.Now().Add(-2 * time.Millisecond)

	sm.Step() // setupPMPHandler: PMPSetupRequest fails, stays in SetupPMP
	if sm.State() != SetupPMP {
		t.Fatalf("expected to stay in SetupPMP when request fails, got %s", sm.State())
	}
}

func TestSetupPMPCompleteTimeoutGoesToError(t *testing.T) {
	orig := PMPAckTimeout
	PMPAckTimeout = 1 * time.Millisecond
	defer func() { PMPAckTimeout = orig }()

	env := newFakeEnv()
	env.img = singleHartImage(0, 0)
	sm := New(1, env)
	sm.Force(SetupPMPComplete)
	sm.data.primarySlot = 0
	env.slotsComplete[0] = false
	sm.startTime = time.Now().Add(-2 * time.Millisecond)

	sm.Step()
	if sm.State() != Error {
		t.Fatalf("expected Error after PMP ack timeout, got %s", sm.State())
	}
}

func TestWaitTimeoutGoesToError(t *testing.T) {
	orig := EntryAckTimeout
	EntryAckTimeout = 1 * time.Millisecond
	defer func() { EntryAckTimeout = orig }()

	env := newFakeEnv()
	img := singleHartImage(0x8020_0000, 1)
	env.img = img
	sm := New(1, env)
	sm.Force(Wait)
	sm.data.auxSlots[1] = 0
	env.slotsComplete[0] = false
	sm.startTime = time.Now().Add(-2 * time.Millisecond)

	sm.Step()
	if sm.State() != Error {
		t.Fatalf("expected Error after entry IPI ack timeout, got %s", sm.State())
	}
}

func TestDownloadChunksDeniedPermissionSkipsChunk(t *testing.T) {
	env := newFakeEnv()
	env.permissions[1] = false
	img := singleHartImage(0, 1)
	env.img = img
	sm := New(1, env)
	sm.Force(DownloadChunks)
	sm.data.chunks = []bootimage.LoadChunk{{Owner: 1, Size: 16, ImgOffset: 0, ExecAddr: 0x8000_0000}}
	sm.data.chunkIdx = 0

	sm.Step()
	if sm.data.chunkIdx != 1 {
		t.Fatalf("denied chunk should be skipped entirely, chunkIdx = %d", sm.data.chunkIdx)
	}
	if len(env.writes) != 0 {
		t.Fatalf("denied chunk should not be written, got %v", env.writes)
	}
}

func TestRegisterHartsExcludesSkipOpenSBIPeer(t *testing.T) {
	env := newFakeEnv()
	img := &bootimage.Image{}
	img.Header.Magic = bootimage.PlainMagic
	img.Header.Hart[0] = bootimage.HartDesc{EntryPoint: 0x1000, NumChunks: 1}
	img.Header.Hart[1] = bootimage.HartDesc{EntryPoint: 0x1000, Flags: uint32(bootimage.FlagSkipOpenSBI)}
	env.img = img
	sm := New(1, env)

	registerHarts(sm)

	if env.registeredHarts[2] == 1 {
		t.Fatalf("SKIP_OPENSBI peer should not be registered as a coordination member")
	}
	found := false
	for _, d := range env.deregistered {
		if d == 2 {
			found = true
		}
	}
	if !found {
		t.Fatalf("SKIP_OPENSBI peer should be deregistered, got %v", env.deregistered)
	}
	if len(env.bootHarts) != 1 {
		t.Fatalf("expected one RegisterBootHart call, got %d", len(env.bootHarts))
	}
}
