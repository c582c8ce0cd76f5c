/*
 * bootcore - Build-time configuration switches
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

// Package bootcfg holds the boot core's build-time configuration
// switches (spec §6) and a line-based config file grammar to load
// them from, generalized from the supervisor's per-device config file
// format down to simple feature switches: one name per line, optional
// "= value", '#' starts a comment to end of line.
package bootcfg

// Config is the set of independently selectable switches spec §6
// names. A zero Config has every feature disabled — the conservative
// default.
type Config struct {
	SigningCheck    bool // verify the Boot Image signature before CRC check
	BundleDTB       bool // an ancillary chunk carries a device-tree blob
	RemoteprocBoot  bool // ipi_handler decodes the remote-proc extended buffer
	CustomMModeFlow bool // non-standard machine-mode boot sequence
	ChunkTrace      bool // debug-log every chunk copy/skip decision
	GPIOStatusUI    bool // mirror boot status to the GPIO reporter

	// SubChunkSize holds the sub-chunk-size switch. Nothing reads it:
	// the copy engine always steps by the fixed copyengine.SubChunkSize.
	SubChunkSize int

	// PMPAckTimeoutMillis and EntryAckTimeoutMillis hold the ack-timeout
	// switches (defaults 1000 and 5000). They are not applied to
	// fsm.PMPAckTimeout / fsm.EntryAckTimeout, which keep 1 s and 5 s.
	PMPAckTimeoutMillis   int
	EntryAckTimeoutMillis int
}

// Default returns the conservative, all-switches-off configuration
// with the spec's default timeouts.
func Default() Config {
	return Config{
		PMPAckTimeoutMillis:   1000,
		EntryAckTimeoutMillis: 5000,
	}
}
