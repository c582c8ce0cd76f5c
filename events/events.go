/*
 * bootcore - Event notifier
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

// Package events is the fire-once publish/subscribe bus shared between
// the boot core and the collaborators that surround it (DDR training,
// the startup barrier). Unlike the teacher's time-ordered event list
// (emu/event), boot events are level-triggered, not scheduled: once
// fired they stay fired, and IsFired is the only thing the FSM needs
// to poll.
package events

import "sync/atomic"

// ID names one of the fixed set of events the boot core consumes or
// produces.
type ID int

const (
	DDRTrained ID = iota
	StartupComplete
	BootComplete
	PostBoot
	numEvents
)

func (id ID) String() string {
	switch id {
	case DDRTrained:
		return "DDR_TRAINED"
	case StartupComplete:
		return "STARTUP_COMPLETE"
	case BootComplete:
		return "BOOT_COMPLETE"
	case PostBoot:
		return "POST_BOOT"
	default:
		return "UNKNOWN_EVENT"
	}
}

// Bus holds one fired-flag per event plus an optional set of
// subscriber callbacks invoked the moment an event transitions to
// fired. Fire is idempotent: a callback runs at most once per event.
type Bus struct {
	fired [numEvents]atomic.Bool
	subs  [numEvents][]func()
}

// NewBus returns a Bus with every event initially unfired.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers cb to run the first time id fires. If id has
// already fired, cb runs immediately.
func (b *Bus) Subscribe(id ID, cb func()) {
	if b.fired[id].Load() {
		cb()
		return
	}
	b.subs[id] = append(b.subs[id], cb)
}

// Fire marks id as fired and runs any pending subscribers. Calling
// Fire on an already-fired event is a no-op (so BOOT_COMPLETE, for
// instance, notifies at most once per boot).
func (b *Bus) Fire(id ID) {
	if !b.fired[id].CompareAndSwap(false, true) {
		return
	}
	for _, cb := range b.subs[id] {
		cb()
	}
}

// IsFired reports whether id has fired.
func (b *Bus) IsFired(id ID) bool {
	return b.fired[id].Load()
}

// Reset clears every event's fired flag. Used only by tests and by a
// full cold restart of the simulated platform; the production boot
// core never calls this mid-boot.
func (b *Bus) Reset() {
	for i := range b.fired {
		b.fired[i].Store(false)
	}
}
