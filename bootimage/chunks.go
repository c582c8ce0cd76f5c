/*
 * bootcore - Chunk table decode
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

package bootimage

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// LoadChunk is one entry of the load-chunk table: a contiguous run of
// image bytes destined for a physical address, owned by a hart (or
// the ancillary-data pseudo-owner, see AncillaryBit).
type LoadChunk struct {
	Owner      uint32
	Size       uint32
	ImgOffset  uint32
	ExecAddr   uint64
}

// IsAncillary reports whether this chunk carries ancillary (non-code)
// data such as a device-tree blob.
func (c LoadChunk) IsAncillary() bool {
	return c.Owner&AncillaryBit != 0
}

// HartOwner returns the owning hart id with the ancillary bit masked
// off.
func (c LoadChunk) HartOwner() HartID {
	return HartID(c.Owner &^ AncillaryBit)
}

// ZIChunk is one entry of the zero-init chunk table: a physical
// address range to be zeroed, no source data involved.
type ZIChunk struct {
	Owner    uint32
	Size     uint32
	ExecAddr uint64
}

func (c ZIChunk) HartOwner() HartID {
	return HartID(c.Owner &^ AncillaryBit)
}

const (
	loadChunkSize = 4 + 4 + 4 + 8
	ziChunkSize   = 4 + 4 + 8
)

// chunkTableBytes returns the slice of raw starting at offset, or an
// error if offset falls outside the image.
func (img *Image) chunkTableBytes(offset uint32) ([]byte, error) {
	if int(offset) > len(img.raw) {
		return nil, fmt.Errorf("bootimage: chunk table offset %d beyond image of %d bytes", offset, len(img.raw))
	}
	return img.raw[offset:], nil
}

// LoadChunks decodes the load-chunk table for hart starting at its
// firstChunk index and stopping at lastChunk (inclusive) or the first
// sentinel (Size == 0), whichever comes first — this bound is what
// keeps a malformed or truncated table from walking off the end of
// the image.
func (img *Image) LoadChunks(hart HartDesc) ([]LoadChunk, error) {
	raw, err := img.chunkTableBytes(img.Header.ChunkTableOffset)
	if err != nil {
		return nil, err
	}
	var out []LoadChunk
	for idx := hart.FirstChunk; idx <= hart.LastChunk; idx++ {
		start := int(idx) * loadChunkSize
		if start+loadChunkSize > len(raw) {
			return nil, fmt.Errorf("bootimage: load chunk %d out of range", idx)
		}
		var c LoadChunk
		if err := binary.Read(bytes.NewReader(raw[start:start+loadChunkSize]), binary.LittleEndian, &c); err != nil {
			return nil, fmt.Errorf("bootimage: decoding load chunk %d: %w", idx, err)
		}
		if c.Size == 0 {
			break
		}
		out = append(out, c)
		if idx == hart.LastChunk {
			break
		}
	}
	return out, nil
}

// ZIChunks decodes the zero-init chunk table the same way LoadChunks
// does, over the header's ziChunkTableOffset.
func (img *Image) ZIChunks(hart HartDesc) ([]ZIChunk, error) {
	raw, err := img.chunkTableBytes(img.Header.ZIChunkTableOffset)
	if err != nil {
		return nil, err
	}
	var out []ZIChunk
	for idx := hart.FirstChunk; idx <= hart.LastChunk; idx++ {
		start := int(idx) * ziChunkSize
		if start+ziChunkSize > len(raw) {
			return nil, fmt.Errorf("bootimage: zi chunk %d out of range", idx)
		}
		var c ZIChunk
		if err := binary.Read(bytes.NewReader(raw[start:start+ziChunkSize]), binary.LittleEndian, &c); err != nil {
			return nil, fmt.Errorf("bootimage: decoding zi chunk %d: %w", idx, err)
		}
		if c.Size == 0 {
			break
		}
		out = append(out, c)
		if idx == hart.LastChunk {
			break
		}
	}
	return out, nil
}

// ChunkData returns the source bytes for a load chunk, read from the
// image at its imgOffset.
func (img *Image) ChunkData(c LoadChunk) ([]byte, error) {
	end := int(c.ImgOffset) + int(c.Size)
	if end > len(img.raw) {
		return nil, fmt.Errorf("bootimage: chunk data [%d:%d] beyond image of %d bytes", c.ImgOffset, end, len(img.raw))
	}
	return img.raw[c.ImgOffset:end], nil
}
