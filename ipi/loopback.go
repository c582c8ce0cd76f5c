/*
 * bootcore - Loopback IPI transport
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

package ipi

import "sync"

// TargetHandler receives a delivered message and reports whether it
// accepts the delivery (e.g. a target that's been told to refuse PMP
// setup for a timeout test). Acknowledgement is reported separately
// through Acked, polled by CheckComplete, so tests can model an
// arbitrary ack delay.
type TargetHandler interface {
	Accept(msg Message) bool
	Acked(msg Message) bool
}

// LoopbackTransport delivers messages in-process to a set of
// per-target handlers, so the fsm package's polling loops
// (SetupPMPComplete, Wait) have something real to observe complete.
type LoopbackTransport struct {
	mu       sync.Mutex
	handlers map[uint8]TargetHandler
}

func NewLoopbackTransport() *LoopbackTransport {
	return &LoopbackTransport{handlers: make(map[uint8]TargetHandler)}
}

// Register installs h as the handler for target.
func (t *LoopbackTransport) Register(target uint8, h TargetHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[target] = h
}

func (t *LoopbackTransport) Deliver(slot int, msg Message) bool {
	t.mu.Lock()
	h, ok := t.handlers[uint8(msg.Target)]
	t.mu.Unlock()
	if !ok {
		return false
	}
	return h.Accept(msg)
}

func (t *LoopbackTransport) CheckComplete(slot int, msg Message) bool {
	t.mu.Lock()
	h, ok := t.handlers[uint8(msg.Target)]
	t.mu.Unlock()
	if !ok {
		return false
	}
	return h.Acked(msg)
}
