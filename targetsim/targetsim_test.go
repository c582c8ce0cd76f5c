package targetsim

import (
	"testing"

	"github.com/mpfs-hss/bootcore/ipi"
)

func TestPMPSetupMustPrecedeGoto(t *testing.T) {
	tgt := NewTarget(1, 0)
	gotoMsg := ipi.Message{Kind: ipi.Goto, Target: 1, EntryPoint: 0x8020_0000}
	if tgt.Accept(gotoMsg) {
		t.Fatal("GOTO before PMP_SETUP should be refused")
	}

	pmpMsg := ipi.Message{Kind: ipi.PMPSetup, Target: 1}
	if !tgt.Accept(pmpMsg) {
		t.Fatal("PMP_SETUP should always be accepted")
	}
	if !tgt.Acked(pmpMsg) {
		t.Fatal("PMP_SETUP with zero ack delay should ack immediately")
	}
	if !tgt.PMPLatched() {
		t.Fatal("PMP should be latched after PMP_SETUP ack")
	}

	if !tgt.Accept(gotoMsg) {
		t.Fatal("GOTO after PMP_SETUP should be accepted")
	}
}

func TestAckDelayCountsDown(t *testing.T) {
	tgt := NewTarget(1, 2)
	msg := ipi.Message{Kind: ipi.PMPSetup, Target: 1}
	tgt.Accept(msg)

	if tgt.Acked(msg) {
		t.Fatal("ack should not complete before delay elapses")
	}
	if tgt.Acked(msg) {
		t.Fatal("ack should not complete before delay elapses")
	}
	if !tgt.Acked(msg) {
		t.Fatal("ack should complete once delay elapses")
	}
}

func TestNewPlatformRegistersAllTargets(t *testing.T) {
	p := NewPlatform(4, 0)
	if len(p.Targets) != 4 {
		t.Fatalf("want 4 targets, got %d", len(p.Targets))
	}
	msg := ipi.Message{Kind: ipi.PMPSetup, Target: 2}
	if !p.Transport.Deliver(0, msg) {
		t.Fatal("Deliver to registered target 2 should succeed")
	}
}
