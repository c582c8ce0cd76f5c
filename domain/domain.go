/*
 * bootcore - Domain registry
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

// Package domain groups application harts that share an entry point
// into a boot-set and tracks which member is primary. A hart with
// SKIP_OPENSBI is never a domain member: it gets a raw jump instead
// of a supervisor-firmware handoff, so there is nothing for the
// domain to coordinate on its behalf.
package domain

import "github.com/mpfs-hss/bootcore/bootimage"

// BootSet is the group of harts sharing a non-zero entry point, with
// the lowest-indexed member marked primary per invariant 5.
type BootSet struct {
	EntryPoint uint64
	HartMask   uint8 // bit i set means hart i+1 is a member
	Primary    bootimage.HartID
}

// Member reports whether hart is in the set.
func (s BootSet) Member(hart bootimage.HartID) bool {
	if hart < 1 || int(hart) > bootimage.NumHarts {
		return false
	}
	return s.HartMask&(1<<(hart-1)) != 0
}

// Registration is what register_boot_hart records for one hart.
type Registration struct {
	Name          string
	HartMask      uint8
	Primary       bootimage.HartID
	PrivMode      uint8
	EntryPoint    uint64
	AncillaryArg  uint64
	AllowCold     bool
	AllowWarm     bool
}

// Registry is the collaborator of spec §4.4: register_hart,
// deregister_hart, register_boot_hart, plus the boot-set computation
// of design note "Boot-set membership" (§9).
type Registry struct {
	regs map[bootimage.HartID]Registration
	// peers records which harts have been explicitly registered as
	// coordinating peers of another (register_hart/deregister_hart),
	// independent of boot-set membership.
	peers map[bootimage.HartID]bool
}

func NewRegistry() *Registry {
	return &Registry{
		regs:  make(map[bootimage.HartID]Registration),
		peers: make(map[bootimage.HartID]bool),
	}
}

// RegisterHart marks peer as a coordinating member of primary's
// domain.
func (r *Registry) RegisterHart(peer, primary bootimage.HartID) {
	r.peers[peer] = true
}

// DeregisterHart removes peer from domain coordination — used for
// SKIP_OPENSBI harts per invariant 6.
func (r *Registry) DeregisterHart(peer bootimage.HartID) {
	delete(r.peers, peer)
}

// IsRegistered reports whether peer is currently a domain member.
func (r *Registry) IsRegistered(peer bootimage.HartID) bool {
	return r.peers[peer]
}

// RegisterBootHart records (or re-records, e.g. once an ancillary
// pointer is discovered mid-download) the full registration for a
// boot-set's primary hart.
func (r *Registry) RegisterBootHart(reg Registration) {
	r.regs[reg.Primary] = reg
}

// Registration looks up the current registration for a primary hart.
func (r *Registry) Registration(primary bootimage.HartID) (Registration, bool) {
	reg, ok := r.regs[primary]
	return reg, ok
}

// ComputeBootSets groups the header's four hart descriptors by shared
// non-zero entry point, per design note "Boot-set membership": a
// bitmask over hart ids computed by comparing entry points across the
// four descriptors. A hart with SKIP_OPENSBI set is excluded from any
// set per invariant 6.
func ComputeBootSets(harts [bootimage.NumHarts]bootimage.HartDesc) []BootSet {
	var sets []BootSet
	seen := make([]bool, bootimage.NumHarts)

	for i := 0; i < bootimage.NumHarts; i++ {
		if seen[i] || harts[i].EntryPoint == 0 || harts[i].HasFlag(bootimage.FlagSkipOpenSBI) {
			continue
		}
		mask := uint8(1 << i)
		seen[i] = true
		for j := i + 1; j < bootimage.NumHarts; j++ {
			if seen[j] || harts[j].HasFlag(bootimage.FlagSkipOpenSBI) {
				continue
			}
			if harts[j].EntryPoint == harts[i].EntryPoint {
				mask |= 1 << j
				seen[j] = true
			}
		}
		sets = append(sets, BootSet{
			EntryPoint: harts[i].EntryPoint,
			HartMask:   mask,
			Primary:    bootimage.HartID(i + 1),
		})
	}
	return sets
}

// BootSetFor returns the set containing hart, and whether such a set
// was found.
func BootSetFor(sets []BootSet, hart bootimage.HartID) (BootSet, bool) {
	for _, s := range sets {
		if s.Member(hart) {
			return s, true
		}
	}
	return BootSet{}, false
}
