/*
 * bootcore - Boot state machine core
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
	"github.com/mpfs-hss/bootcore/ipi"
)

// State names one node of the boot lifecycle.
type State int

const (
	Idle State = iota
	Init
	SetupPMP
	SetupPMPComplete
	ZeroInit
	DownloadChunks
	OpenSBIInit
	Wait
	Complete
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Init:
		return "Init"
	case SetupPMP:
		return "SetupPMP"
	case SetupPMPComplete:
		return "SetupPMPComplete"
	case ZeroInit:
		return "ZeroInit"
	case DownloadChunks:
		return "DownloadChunks"
	case OpenSBIInit:
		return "OpenSBIInit"
	case Wait:
		return "Wait"
	case Complete:
		return "Complete"
	case Error:
		return "Error"
	default:
		return "Unknown"
	}
}

// PMPAckTimeout and EntryAckTimeout are the spec's two hard timeouts,
// var rather than const so tests can shrink them.
var (
	PMPAckTimeout   = 1 * time.Second
	EntryAckTimeout = 5 * time.Second
)

// stateDesc is one row of the dispatch table: {id, onEntry?, onExit?,
// handler} (a state's name comes from State.String), looked up by
// table index exactly as the teacher's
// device command tables are — no virtual dispatch.
type stateDesc struct {
	id      State
	onEntry func(*StateMachine)
	onExit  func(*StateMachine)
	handler func(*StateMachine)
}

var stateDescs [Error + 1]stateDesc

// The table is filled in init because its handlers reach back into it
// through transition, which a package-level initializer cannot do.
func init() {
	stateDescs = [...]stateDesc{
		{id: Idle, onEntry: idleOnEntry, handler: idleHandler},
		{id: Init, handler: initHandler},
		{id: SetupPMP, onEntry: setupPMPOnEntry, handler: setupPMPHandler},
		{id: SetupPMPComplete, handler: setupPMPCompleteHandler},
		{id: ZeroInit, onEntry: zeroInitOnEntry, handler: zeroInitHandler},
		{id: DownloadChunks, onEntry: downloadChunksOnEntry, handler: downloadChunksHandler, onExit: downloadChunksOnExit},
		{id: OpenSBIInit, onEntry: openSBIInitOnEntry, handler: openSBIInitHandler, onExit: openSBIInitOnExit},
		{id: Wait, onEntry: waitOnEntry, handler: waitHandler},
		{id: Complete, onEntry: completeOnEntry, handler: completeHandler},
		{id: Error, handler: errorHandler},
	}
}

func descFor(s State) *stateDesc {
	return &stateDescs[s]
}

// instanceData is the per-hart runtime state of spec §3.3.
type instanceData struct {
	primarySlot int
	auxSlots    [bootimage.NumHarts + 1]int // indexed by hart id, 1..NumHarts; 0 unused

	hartMask     uint8
	ancillary    uint64
	ancillarySet bool

	ziChunks []bootimage.ZIChunk
	ziIdx    int
	ziCursor MemsetCursor

	chunks      []bootimage.LoadChunk
	chunkIdx    int
	chunkCursor MemcpyCursor

	openSBIIter int

	executionCount uint64
}

func newInstanceData() *instanceData {
	d := &instanceData{primarySlot: ipi.NoOutstanding}
	for i := range d.auxSlots {
		d.auxSlots[i] = ipi.NoOutstanding
	}
	return d
}

// StateMachine is one application hart's boot lifecycle instance.
type StateMachine struct {
	Target bootimage.HartID
	Env    Environment

	state     State
	prevState State
	startTime time.Time
	data      *instanceData
}

// New builds a StateMachine for target, initially Idle.
func New(target bootimage.HartID, env Environment) *StateMachine {
	return &StateMachine{
		Target: target,
		Env:    env,
		state:  Idle,
		data:   newInstanceData(),
	}
}

// State returns the current state.
func (sm *StateMachine) State() State { return sm.state }

// transition moves to next, running the outgoing state's onExit and
// the incoming state's onEntry exactly once each.
func (sm *StateMachine) transition(next State) {
	if desc := descFor(sm.state); desc.onExit != nil {
		desc.onExit(sm)
	}
	sm.prevState = sm.state
	sm.state = next
	if desc := descFor(sm.state); desc.onEntry != nil {
		desc.onEntry(sm)
	}
}

// Force moves the machine directly to next without running onExit —
// used only by the restart API, which the spec explicitly describes
// as forcing a state rather than transitioning through the table.
func (sm *StateMachine) Force(next State) {
	sm.prevState = sm.state
	sm.state = next
	if desc := descFor(sm.state); desc.onEntry != nil {
		desc.onEntry(sm)
	}
}

// Step runs the current state's handler once: O(1), non-blocking, per
// the scheduling discipline of spec §4.6.3.
func (sm *StateMachine) Step() {
	sm.data.executionCount++
	descFor(sm.state).handler(sm)
}

// elapsed reports whether d has passed since startTime (zero means
// "not yet timing", so this reports false until the state records a
// start time in its onEntry or first Step).
func (sm *StateMachine) elapsed(d time.Duration) bool {
	if sm.startTime.IsZero() {
		return false
	}
	return time.Since(sm.startTime) >= d
}
