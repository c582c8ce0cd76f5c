package permission

import (
	"testing"

	"github.com/mpfs-hss/bootcore/events"
)

var noDDR = Window{}

func TestCheckOutsideWindow(t *testing.T) {
	o := New(map[uint8][]Window{
		1: {{Start: 0x8000_0000, End: 0x8010_0000}},
	}, noDDR, nil)

	if o.Check(1, 0x8020_0000, 16) {
		t.Fatal("Check outside window: want false")
	}
	if !o.Check(1, 0x8000_1000, 256) {
		t.Fatal("Check inside window: want true")
	}
}

func TestCheckUnknownTarget(t *testing.T) {
	o := New(map[uint8][]Window{1: {{Start: 0, End: 0xffff}}}, noDDR, nil)
	if o.Check(2, 0x100, 16) {
		t.Fatal("Check for unmapped target: want false")
	}
}

func TestCheckDDRGating(t *testing.T) {
	bus := events.NewBus()
	o := New(map[uint8][]Window{
		1: {{Start: 0x8000_0000, End: 0x9000_0000, InDDR: true}},
	}, Window{Start: 0x8000_0000, End: 0x9000_0000}, bus)

	if o.Check(1, 0x8000_1000, 256) {
		t.Fatal("Check DDR window before DDR_TRAINED: want false")
	}
	bus.Fire(events.DDRTrained)
	if !o.Check(1, 0x8000_1000, 256) {
		t.Fatal("Check DDR window after DDR_TRAINED: want true")
	}
}

func TestCheckSpanningWindowBoundary(t *testing.T) {
	o := New(map[uint8][]Window{
		1: {{Start: 0x1000, End: 0x2000}},
	}, noDDR, nil)
	if o.Check(1, 0x1f00, 257) {
		t.Fatal("Check spanning past window end: want false")
	}
}

func TestInDDRIndependentOfOwnership(t *testing.T) {
	o := New(nil, Window{Start: 0x8000_0000, End: 0x9000_0000}, nil)
	if !o.InDDR(0x8000_1000) {
		t.Fatal("InDDR: want true for address inside DDR range")
	}
	if o.InDDR(0x7000_0000) {
		t.Fatal("InDDR: want false for address outside DDR range")
	}
}

func TestDDRTrainedReflectsBus(t *testing.T) {
	bus := events.NewBus()
	o := New(nil, Window{}, bus)
	if o.DDRTrained() {
		t.Fatal("DDRTrained: want false before Fire")
	}
	bus.Fire(events.DDRTrained)
	if !o.DDRTrained() {
		t.Fatal("DDRTrained: want true after Fire")
	}
}
