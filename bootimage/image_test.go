package bootimage

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// buildImage assembles a minimal valid Boot Image: header, one load
// chunk for hart 1, one zero-init chunk for hart 1, and the chunk's
// source bytes, then stamps headerCrc over the shadowed header.
func buildImage(t *testing.T) []byte {
	t.Helper()

	hdr := Header{
		Magic:   PlainMagic,
		Version: 1,
	}
	copy(hdr.SetName[:], "test-set")
	hdr.Hart[0].EntryPoint = 0x8020_0000
	copy(hdr.Hart[0].Name[:], "u54-1")
	hdr.Hart[0].NumChunks = 1
	hdr.Hart[0].FirstChunk = 0
	hdr.Hart[0].LastChunk = 0

	hdrBuf := &bytes.Buffer{}
	if err := binary.Write(hdrBuf, binary.LittleEndian, hdr); err != nil {
		t.Fatalf("encoding header: %v", err)
	}
	hdrBytes := hdrBuf.Bytes()

	payload := []byte("hello world payload bytes")
	chunkTableOff := uint32(len(hdrBytes))
	chunk := LoadChunk{
		Owner:     1,
		Size:      uint32(len(payload)),
		ImgOffset: 0, // patched below
	}
	chunkBuf := &bytes.Buffer{}
	binary.Write(chunkBuf, binary.LittleEndian, chunk)
	sentinel := LoadChunk{}
	binary.Write(chunkBuf, binary.LittleEndian, sentinel)

	ziTableOff := chunkTableOff + uint32(chunkBuf.Len())
	ziBuf := &bytes.Buffer{}
	zi := ZIChunk{Owner: 1, Size: 0x1000, ExecAddr: 0x8040_0000}
	binary.Write(ziBuf, binary.LittleEndian, zi)
	ziSentinel := ZIChunk{}
	binary.Write(ziBuf, binary.LittleEndian, ziSentinel)

	payloadOff := ziTableOff + uint32(ziBuf.Len())

	hdr.ChunkTableOffset = chunkTableOff
	hdr.ZIChunkTableOffset = ziTableOff
	chunk.ImgOffset = payloadOff
	hdr.Hart[0] = hdr.Hart[0] // keep explicit for readers

	// Re-encode chunk with the real imgOffset now known.
	chunkBuf.Reset()
	binary.Write(chunkBuf, binary.LittleEndian, chunk)
	binary.Write(chunkBuf, binary.LittleEndian, sentinel)

	full := func(h Header) []byte {
		shadow := h
		shadow.HeaderCRC = 0
		buf := &bytes.Buffer{}
		binary.Write(buf, binary.LittleEndian, shadow)
		return buf.Bytes()
	}
	hdr.HeaderCRC = crc32IEEE(full(hdr))

	hdrBuf.Reset()
	binary.Write(hdrBuf, binary.LittleEndian, hdr)

	raw := append([]byte{}, hdrBuf.Bytes()...)
	raw = append(raw, chunkBuf.Bytes()...)
	raw = append(raw, ziBuf.Bytes()...)
	raw = append(raw, payload...)

	return raw
}

func TestParseImageAndMagic(t *testing.T) {
	raw := buildImage(t)
	img, err := ParseImage(raw)
	if err != nil {
		t.Fatalf("ParseImage: %v", err)
	}
	if !VerifyMagic(img) {
		t.Fatal("VerifyMagic: want true for plain magic")
	}
	if img.SetName() != "test-set" {
		t.Fatalf("SetName = %q, want test-set", img.SetName())
	}
}

func TestValidateImageGoodCRC(t *testing.T) {
	raw := buildImage(t)
	img, err := ParseImage(raw)
	if err != nil {
		t.Fatalf("ParseImage: %v", err)
	}
	ok, err := ValidateImage(img, nil)
	if !ok || err != nil {
		t.Fatalf("ValidateImage = %v, %v; want true, nil", ok, err)
	}
}

func TestValidateImageBadCRC(t *testing.T) {
	raw := buildImage(t)
	raw[8] ^= 0xff // perturb a header byte inside the CRC-covered region (version field)
	img, err := ParseImage(raw)
	if err != nil {
		t.Fatalf("ParseImage: %v", err)
	}
	ok, err := ValidateImage(img, nil)
	if ok || err != ErrBadCRC {
		t.Fatalf("ValidateImage = %v, %v; want false, ErrBadCRC", ok, err)
	}
}

func TestValidateImageBadMagic(t *testing.T) {
	raw := buildImage(t)
	binary.LittleEndian.PutUint32(raw[0:4], CompressedMagic)
	img, err := ParseImage(raw)
	if err != nil {
		t.Fatalf("ParseImage: %v", err)
	}
	ok, err := ValidateImage(img, nil)
	if ok || err != ErrBadMagic {
		t.Fatalf("ValidateImage = %v, %v; want false, ErrBadMagic", ok, err)
	}
}

func TestValidateImageNil(t *testing.T) {
	ok, err := ValidateImage(nil, nil)
	if ok || err != ErrNilImage {
		t.Fatalf("ValidateImage(nil) = %v, %v; want false, ErrNilImage", ok, err)
	}
}

func TestLoadChunksBounded(t *testing.T) {
	raw := buildImage(t)
	img, err := ParseImage(raw)
	if err != nil {
		t.Fatalf("ParseImage: %v", err)
	}
	chunks, err := img.LoadChunks(img.Header.Hart[0])
	if err != nil {
		t.Fatalf("LoadChunks: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("len(chunks) = %d, want 1", len(chunks))
	}
	data, err := img.ChunkData(chunks[0])
	if err != nil {
		t.Fatalf("ChunkData: %v", err)
	}
	if string(data) != "hello world payload bytes" {
		t.Fatalf("ChunkData = %q", data)
	}
}

func TestZIChunksBounded(t *testing.T) {
	raw := buildImage(t)
	img, err := ParseImage(raw)
	if err != nil {
		t.Fatalf("ParseImage: %v", err)
	}
	zis, err := img.ZIChunks(img.Header.Hart[0])
	if err != nil {
		t.Fatalf("ZIChunks: %v", err)
	}
	if len(zis) != 1 || zis[0].Size != 0x1000 {
		t.Fatalf("ZIChunks = %+v", zis)
	}
}

// TestValidateImageV0CRC exercises the legacy header layout: version 0
// images never had a signature field, so their CRC must be computed
// over the headerV0 shape, not the current Header with Signature
// zeroed out.
func TestValidateImageV0CRC(t *testing.T) {
	raw := buildImage(t)
	var hdr Header
	if err := binary.Read(bytes.NewReader(raw[:headerSize]), binary.LittleEndian, &hdr); err != nil {
		t.Fatalf("decoding header: %v", err)
	}
	hdr.Version = 0
	// Poison Signature with non-zero bytes: a correct v0 CRC never
	// looks at this field, so validation must still succeed.
	for i := range hdr.Signature {
		hdr.Signature[i] = 0xAA
	}

	shadow := headerV0{
		Magic:              hdr.Magic,
		Version:            hdr.Version,
		SetName:            hdr.SetName,
		ChunkTableOffset:   hdr.ChunkTableOffset,
		ZIChunkTableOffset: hdr.ZIChunkTableOffset,
		Hart:               hdr.Hart,
	}
	shadowBuf := &bytes.Buffer{}
	binary.Write(shadowBuf, binary.LittleEndian, shadow)
	hdr.HeaderCRC = crc32IEEE(shadowBuf.Bytes())

	hdrBuf := &bytes.Buffer{}
	binary.Write(hdrBuf, binary.LittleEndian, hdr)
	raw = append(append([]byte{}, hdrBuf.Bytes()...), raw[headerSize:]...)

	img, err := ParseImage(raw)
	if err != nil {
		t.Fatalf("ParseImage: %v", err)
	}
	ok, err := ValidateImage(img, nil)
	if !ok || err != nil {
		t.Fatalf("ValidateImage(v0) = %v, %v; want true, nil", ok, err)
	}
}

func TestAncillaryBit(t *testing.T) {
	c := LoadChunk{Owner: 2 | AncillaryBit}
	if !c.IsAncillary() {
		t.Fatal("IsAncillary = false, want true")
	}
	if c.HartOwner() != 2 {
		t.Fatalf("HartOwner = %d, want 2", c.HartOwner())
	}
}
