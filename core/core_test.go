package core

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"testing"

	"github.com/mpfs-hss/bootcore/bootcfg"
	"github.com/mpfs-hss/bootcore/bootimage"
	"github.com/mpfs-hss/bootcore/copyengine"
	"github.com/mpfs-hss/bootcore/events"
	"github.com/mpfs-hss/bootcore/fsm"
	"github.com/mpfs-hss/bootcore/ipi"
	"github.com/mpfs-hss/bootcore/permission"
)

// fakeTarget is a TargetHandler that acks immediately, standing in
// for an application hart that always accepts and acknowledges.
type fakeTarget struct{}

func (fakeTarget) Accept(msg ipi.Message) bool { return true }
func (fakeTarget) Acked(msg ipi.Message) bool  { return true }

func buildRaw(t *testing.T, entryPoint uint64, numChunks uint32) []byte {
	t.Helper()
	var hdr bootimage.Header
	hdr.Magic = bootimage.PlainMagic
	hdr.Version = 1
	hdr.Hart[0] = bootimage.HartDesc{EntryPoint: entryPoint, NumChunks: numChunks}

	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, hdr); err != nil {
		t.Fatalf("encoding header: %v", err)
	}
	raw := buf.Bytes()

	shadow := hdr
	shadow.HeaderCRC = 0
	for i := range shadow.Signature {
		shadow.Signature[i] = 0
	}
	shadowBuf := &bytes.Buffer{}
	binary.Write(shadowBuf, binary.LittleEndian, shadow)
	crc := crc32.ChecksumIEEE(shadowBuf.Bytes())

	binary.LittleEndian.PutUint32(raw[4:8], crc)
	return raw
}

func newTestCore(t *testing.T) *Core {
	t.Helper()
	mem, err := copyengine.New(0x8000_0000, 1<<20)
	if err != nil {
		t.Fatalf("copyengine.New: %v", err)
	}
	t.Cleanup(func() { mem.Close() })

	oracle := permission.New(map[uint8][]permission.Window{
		1: {{Start: 0x8000_0000, End: 0x8010_0000}},
		2: {{Start: 0x8000_0000, End: 0x8010_0000}},
		3: {{Start: 0x8000_0000, End: 0x8010_0000}},
		4: {{Start: 0x8000_0000, End: 0x8010_0000}},
	}, permission.Window{Start: 0x8000_0000, End: 0x9000_0000}, events.NewBus())

	transport := ipi.NewLoopbackTransport()
	for i := uint8(1); i <= bootimage.NumHarts; i++ {
		transport.Register(i, fakeTarget{})
	}

	c := New(bootcfg.Default(), mem, oracle, transport, nil, nil)
	c.Bus().Fire(events.DDRTrained)
	c.Bus().Fire(events.StartupComplete)
	return c
}

func TestRegisterAndValidateImage(t *testing.T) {
	c := newTestCore(t)
	raw := buildRaw(t, 0, 0)
	if err := c.RegisterImage(raw); err != nil {
		t.Fatalf("RegisterImage: %v", err)
	}
	if !c.VerifyMagic() {
		t.Fatal("VerifyMagic: want true")
	}
	ok, err := c.ValidateImage()
	if !ok || err != nil {
		t.Fatalf("ValidateImage: got (%v, %v), want (true, nil)", ok, err)
	}
}

func TestStepDrivesHartToComplete(t *testing.T) {
	c := newTestCore(t)
	raw := buildRaw(t, 0, 0)
	if err := c.RegisterImage(raw); err != nil {
		t.Fatalf("RegisterImage: %v", err)
	}
	c.RestartCore(bootimage.HartAll)

	for i := 0; i < 50; i++ {
		c.Step()
		st, _ := c.State(1)
		if st == fsm.Complete {
			return
		}
	}
	st, _ := c.State(1)
	t.Fatalf("hart 1 did not reach Complete within 50 ticks, stuck at %s", st)
}

func TestRestartCoreForcesInitFromIdle(t *testing.T) {
	c := newTestCore(t)
	raw := buildRaw(t, 0, 0)
	c.RegisterImage(raw)
	for i := 0; i < 50; i++ {
		c.Step()
	}
	c.RestartCore(1)
	st, _ := c.State(1)
	if st != fsm.Init {
		t.Fatalf("RestartCore from Idle/Complete: want Init, got %s", st)
	}
}

func TestSkipBootIsSet(t *testing.T) {
	c := newTestCore(t)
	var hdr bootimage.Header
	hdr.Magic = bootimage.PlainMagic
	hdr.Hart[0].Flags = uint32(bootimage.FlagSkipAutoboot)
	buf := &bytes.Buffer{}
	binary.Write(buf, binary.LittleEndian, hdr)
	c.RegisterImage(buf.Bytes())

	if !c.SkipBootIsSet(1) {
		t.Fatal("SkipBootIsSet(1): want true")
	}
	if c.SkipBootIsSet(2) {
		t.Fatal("SkipBootIsSet(2): want false")
	}
}

// failDeliverTransport accepts Alloc (via the real Coordinator) but
// always fails Deliver, so PMPSetupRequest's failure path can be
// exercised without a real target hart.
type failDeliverTransport struct{}

func (failDeliverTransport) Deliver(slot int, msg ipi.Message) bool { return false }

func (failDeliverTransport) CheckComplete(slot int, msg ipi.Message) bool { return false }

func TestPMPSetupRequestFreesSlotOnDeliveryFailure(t *testing.T) {
	mem, err := copyengine.New(0x8000_0000, 1<<20)
	if err != nil {
		t.Fatalf("copyengine.New: %v", err)
	}
	defer mem.Close()
	oracle := permission.New(map[uint8][]permission.Window{
		1: {{Start: 0x8000_0000, End: 0x8010_0000}},
	}, permission.Window{Start: 0x8000_0000, End: 0x9000_0000}, events.NewBus())
	c := New(bootcfg.Default(), mem, oracle, failDeliverTransport{}, nil, nil)

	slot, ok := c.PMPSetupRequest(1)
	if ok {
		t.Fatal("PMPSetupRequest: want false on delivery failure")
	}
	if c.ipiCoord.InUse(slot) {
		t.Fatalf("slot %d still in use after a failed delivery, want freed", slot)
	}
}

func TestIPIHandlerRemoteProcForcesOpenSBIInit(t *testing.T) {
	c := newTestCore(t)
	raw := buildRaw(t, 0, 0)
	if err := c.RegisterImage(raw); err != nil {
		t.Fatalf("RegisterImage: %v", err)
	}
	cfg := c.cfg
	cfg.RemoteprocBoot = true
	c.cfg = cfg

	c.IPIHandler(ipi.Message{Kind: ipi.BootRequest, Target: 2, Ancillary: 3})

	st, err := c.State(3)
	if err != nil {
		t.Fatalf("State(3): %v", err)
	}
	if st != fsm.OpenSBIInit {
		t.Fatalf("State(3) = %s, want OpenSBIInit (forced via remote-proc extraction)", st)
	}
}

func TestPMPSetupHandlerIdempotent(t *testing.T) {
	c := newTestCore(t)
	if !c.PMPSetupHandler(1) {
		t.Fatal("first PMPSetupHandler call: want true")
	}
	if !c.PMPSetupHandler(1) {
		t.Fatal("second PMPSetupHandler call on same target: want true")
	}
	if !c.PMPLatched(1) {
		t.Fatal("PMPLatched(1): want true after PMPSetupHandler")
	}
	if c.PMPLatched(2) {
		t.Fatal("PMPLatched(2): want false, untouched target")
	}
}
