/*
 * bootcore - Boot Image format and validator
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

// Package bootimage decodes the Boot Image binary format: header,
// chunk table, and zero-init chunk table, all little-endian and all
// reachable by offsets from the image base. Chunk tables are
// terminated by a sentinel entry whose size is zero.
package bootimage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// NumHarts is the number of application harts (targets) a Boot Image
// describes. HartID values run 1..NumHarts; 0 is reserved as "no hart"
// the way the teacher's device package reserves device number 0xffff
// for "no device".
const NumHarts = 4

type HartID uint8

// HartAll is a pseudo-target meaning "every hart", accepted only by
// the restart API, never stored in a chunk's owner field.
const HartAll HartID = 0

// AncillaryBit, or-ed into a load chunk's owner field, marks the
// chunk as carrying ancillary data (e.g. a device-tree blob) whose
// execAddr should be forwarded to firmware-init.
const AncillaryBit uint32 = 0x80

// HartFlag bits, from hart[i].flags.
type HartFlag uint32

const (
	FlagSkipOpenSBI HartFlag = 1 << iota
	FlagSkipAutoboot
	FlagAllowColdReboot
	FlagAllowWarmReboot
)

// Magic values. The plain magic is the only one ValidateImage accepts;
// the compressed magic is recognized only by VerifyMagic, for callers
// that still need to decompress the image before it can boot.
const (
	PlainMagic      uint32 = 0x5648_5342 // bytes "BSHV" on the wire (little-endian)
	CompressedMagic uint32 = 0x5A48_5342 // bytes "BSHZ"
)

const (
	setNameLen   = 32
	hartNameLen  = 16
	signatureLen = 64
)

// HartDesc is one application hart's entry in the header's hart table.
type HartDesc struct {
	Name       [hartNameLen]byte
	EntryPoint uint64
	PrivMode   uint8
	_          [7]byte // explicit padding so the wire layout matches a natural 8-byte aligned C struct
	NumChunks  uint32
	FirstChunk uint32
	LastChunk  uint32
	Flags      uint32
}

// HasFlag reports whether f is set in the hart's flags.
func (h HartDesc) HasFlag(f HartFlag) bool {
	return HartFlag(h.Flags)&f != 0
}

// headerV0 is the legacy, pre-signing layout: no signature field.
// Its size is what validateCRC uses for version == 0 images.
type headerV0 struct {
	Magic              uint32
	HeaderCRC          uint32
	Version            uint32
	_                  uint32 // pad so SetName starts 8-byte aligned, matching the current header
	SetName            [setNameLen]byte
	ChunkTableOffset   uint32
	ZIChunkTableOffset uint32
	Hart               [NumHarts]HartDesc
}

// Header is the current (post-signing) layout.
type Header struct {
	Magic              uint32
	HeaderCRC          uint32
	Version            uint32
	_                  uint32
	Signature          [signatureLen]byte
	SetName            [setNameLen]byte
	ChunkTableOffset   uint32
	ZIChunkTableOffset uint32
	Hart               [NumHarts]HartDesc
}

var headerSize = binary.Size(Header{})

// Image is a parsed Boot Image: the decoded header plus the raw bytes
// it came from, needed to locate the chunk tables and the load data.
type Image struct {
	Header Header
	raw    []byte
}

// ParseImage decodes the fixed header at the start of raw. It does
// not validate magic, CRC or signature — callers do that separately
// via VerifyMagic / ValidateImage so a caller consuming a compressed
// image can check the magic before it has a CRC-able header at all.
func ParseImage(raw []byte) (*Image, error) {
	if len(raw) < headerSize {
		return nil, fmt.Errorf("bootimage: image too small for header: %d bytes", len(raw))
	}
	var hdr Header
	if err := binary.Read(bytes.NewReader(raw[:headerSize]), binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("bootimage: decoding header: %w", err)
	}
	return &Image{Header: hdr, raw: raw}, nil
}

// SetName returns the NUL-terminated set_name string.
func (img *Image) SetName() string {
	return cString(img.Header.SetName[:])
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// VerifyMagic is the cheap gate of spec §4.1: it accepts both the
// plain and the compressed magic, so callers that still need to
// decompress an image can check it before a header CRC is even
// meaningful.
func VerifyMagic(img *Image) bool {
	return img.Header.Magic == PlainMagic || img.Header.Magic == CompressedMagic
}

// ErrNilImage, ErrBadMagic, ErrBadCRC, ErrBadSignature are the reasons
// ValidateImage returns as its error value alongside a false result,
// for callers that want the "why" for a log message.
var (
	ErrNilImage     = errors.New("bootimage: image not registered")
	ErrBadMagic     = errors.New("bootimage: magic mismatch")
	ErrBadCRC       = errors.New("bootimage: header CRC mismatch")
	ErrBadSignature = errors.New("bootimage: signature check failed")
)

// SignatureChecker is the signing collaborator of spec §4.1 / §6 —
// out of scope for the core, required only when signing is enabled.
type SignatureChecker interface {
	CheckSignature(img *Image) bool
}

// ValidateImage runs the full check of spec §4.1: magic, optional
// signature, header CRC over a shadow copy with headerCrc and
// signature zeroed. signer may be nil when signing is disabled.
func ValidateImage(img *Image, signer SignatureChecker) (bool, error) {
	if img == nil {
		return false, ErrNilImage
	}
	if img.Header.Magic != PlainMagic {
		return false, ErrBadMagic
	}
	if signer != nil && !signer.CheckSignature(img) {
		return false, ErrBadSignature
	}
	if !validateCRC(img) {
		return false, ErrBadCRC
	}
	return true, nil
}

// validateCRC implements spec P6: zero headerCrc (and signature, for
// the current layout) in a shadow copy, then CRC over the legacy
// headerV0 layout when version == 0 — which never had a signature
// field at all — or the current Header layout otherwise.
func validateCRC(img *Image) bool {
	buf := &bytes.Buffer{}

	if img.Header.Version == 0 {
		shadow := headerV0{
			Magic:              img.Header.Magic,
			Version:            img.Header.Version,
			SetName:            img.Header.SetName,
			ChunkTableOffset:   img.Header.ChunkTableOffset,
			ZIChunkTableOffset: img.Header.ZIChunkTableOffset,
			Hart:               img.Header.Hart,
		}
		_ = binary.Write(buf, binary.LittleEndian, shadow)
	} else {
		shadow := img.Header
		shadow.HeaderCRC = 0
		for i := range shadow.Signature {
			shadow.Signature[i] = 0
		}
		_ = binary.Write(buf, binary.LittleEndian, shadow)
	}

	return crc32IEEE(buf.Bytes()) == img.Header.HeaderCRC
}
