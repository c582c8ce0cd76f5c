package ipi

import "testing"

type stubTarget struct {
	accept bool
	acked  bool
}

func (s *stubTarget) Accept(msg Message) bool { return s.accept }
func (s *stubTarget) Acked(msg Message) bool  { return s.acked }

func TestLoopbackTransportDeliverAndAck(t *testing.T) {
	lt := NewLoopbackTransport()
	target := &stubTarget{accept: true}
	lt.Register(1, target)

	c := NewCoordinator(lt)
	slot, ok := c.Alloc()
	if !ok {
		t.Fatal("Alloc: want ok")
	}
	if !c.Deliver(slot, Message{Kind: PMPSetup, Target: 1}) {
		t.Fatal("Deliver: want true")
	}
	if c.CheckComplete(slot) {
		t.Fatal("CheckComplete before ack: want false")
	}
	target.acked = true
	if !c.CheckComplete(slot) {
		t.Fatal("CheckComplete after ack: want true")
	}
}

func TestLoopbackTransportUnregisteredTarget(t *testing.T) {
	lt := NewLoopbackTransport()
	c := NewCoordinator(lt)
	slot, _ := c.Alloc()
	if c.Deliver(slot, Message{Kind: PMPSetup, Target: 9}) {
		t.Fatal("Deliver to unregistered target: want false")
	}
}
