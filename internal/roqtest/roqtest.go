// Package roqtest builds synthetic RoQ streams for tests.
package roqtest

import (
	"bytes"
	"encoding/binary"
)

// Chunk identifiers, duplicated here so the builder does not depend on the
// decoder it is used to test.
const (
	IDInfo        uint16 = 0x1001
	IDCodebook    uint16 = 0x1002
	IDVQ          uint16 = 0x1011
	IDSoundMono   uint16 = 0x1020
	IDSoundStereo uint16 = 0x1021
)

// Opcodes for VQWriter.
const (
	MOT = 0
	FCC = 1
	SLD = 2
	CCC = 3
)

// Cell is a 2x2 codebook vector.
type Cell struct {
	Y    [4]byte
	U, V byte
}

// Builder assembles a RoQ stream in memory.
type Builder struct {
	buf bytes.Buffer
}

// NewBuilder returns a Builder that has already written a valid stream header.
func NewBuilder() *Builder {
	b := &Builder{}
	b.buf.Write(Header())
	return b
}

// Header returns the 8-byte RoQ stream header.
func Header() []byte {
	h := make([]byte, 8)
	binary.LittleEndian.PutUint16(h[0:], 0x1084)
	binary.LittleEndian.PutUint32(h[2:], 0xFFFFFFFF)
	binary.LittleEndian.PutUint16(h[6:], 0x1E)
	return h
}

// ChunkBytes encodes one chunk with the given payload.
func ChunkBytes(id uint16, arg uint16, payload []byte) []byte {
	out := make([]byte, 8, 8+len(payload))
	binary.LittleEndian.PutUint16(out[0:], id)
	binary.LittleEndian.PutUint32(out[2:], uint32(len(payload)))
	binary.LittleEndian.PutUint16(out[6:], arg)
	return append(out, payload...)
}

// Chunk appends a chunk.
func (b *Builder) Chunk(id uint16, arg uint16, payload []byte) *Builder {
	b.buf.Write(ChunkBytes(id, arg, payload))
	return b
}

// Raw appends bytes verbatim.
func (b *Builder) Raw(p []byte) *Builder {
	b.buf.Write(p)
	return b
}

// Info appends an INFO chunk.
func (b *Builder) Info(width, height int) *Builder {
	p := make([]byte, 8)
	binary.LittleEndian.PutUint16(p[0:], uint16(width))
	binary.LittleEndian.PutUint16(p[2:], uint16(height))
	binary.LittleEndian.PutUint16(p[4:], 8)
	binary.LittleEndian.PutUint16(p[6:], 4)
	return b.Chunk(IDInfo, 0, p)
}

// Codebook appends a CODEBOOK chunk. Counts of 256 are encoded as zero.
func (b *Builder) Codebook(cells []Cell, quads [][4]byte) *Builder {
	return b.Chunk(IDCodebook, CodebookArg(len(cells), len(quads)), CodebookPayload(cells, quads))
}

// CodebookArg packs cell and quad-cell counts into a chunk argument.
func CodebookArg(cells, quads int) uint16 {
	return uint16(cells&0xFF)<<8 | uint16(quads&0xFF)
}

// CodebookPayload encodes cells followed by quad-cells.
func CodebookPayload(cells []Cell, quads [][4]byte) []byte {
	p := make([]byte, 0, len(cells)*6+len(quads)*4)
	for _, c := range cells {
		p = append(p, c.Y[0], c.Y[1], c.Y[2], c.Y[3], c.U, c.V)
	}
	for _, q := range quads {
		p = append(p, q[:]...)
	}
	return p
}

// VQ appends a VQ chunk with the given motion bias.
func (b *Builder) VQ(meanX, meanY int8, payload []byte) *Builder {
	return b.Chunk(IDVQ, VQArg(meanX, meanY), payload)
}

// VQArg packs the signed motion bias into a chunk argument.
func VQArg(meanX, meanY int8) uint16 {
	return uint16(uint8(meanX))<<8 | uint16(uint8(meanY))
}

// Mono appends a SOUND_MONO chunk.
func (b *Builder) Mono(seed int16, deltas []byte) *Builder {
	return b.Chunk(IDSoundMono, uint16(seed), deltas)
}

// Stereo appends a SOUND_STEREO chunk; the seeds are the high bytes of the
// initial left and right predictors.
func (b *Builder) Stereo(left, right uint8, deltas []byte) *Builder {
	return b.Chunk(IDSoundStereo, uint16(left)<<8|uint16(right), deltas)
}

// Bytes returns the stream built so far.
func (b *Builder) Bytes() []byte {
	return b.buf.Bytes()
}

// Reader returns a reader over the stream built so far.
func (b *Builder) Reader() *bytes.Reader {
	return bytes.NewReader(b.buf.Bytes())
}

// VQWriter produces a VQ payload. Opcodes are packed two bits at a time into
// little-endian 16-bit flag words, most significant field first, and each
// flag word is placed where the decoder will look for it: immediately after
// the bytes of the opcode that preceded it.
type VQWriter struct {
	buf     []byte
	flagPos int
	left    int
}

// Op appends an opcode.
func (w *VQWriter) Op(op int) *VQWriter {
	if w.left == 0 {
		w.flagPos = len(w.buf)
		w.buf = append(w.buf, 0, 0)
		w.left = 8
	}
	w.left--
	v := uint16(w.buf[w.flagPos]) | uint16(w.buf[w.flagPos+1])<<8
	v |= uint16(op&3) << (uint(w.left) * 2)
	w.buf[w.flagPos] = byte(v)
	w.buf[w.flagPos+1] = byte(v >> 8)
	return w
}

// Byte appends argument bytes for the preceding opcode.
func (w *VQWriter) Byte(p ...byte) *VQWriter {
	w.buf = append(w.buf, p...)
	return w
}

// Bytes returns the payload.
func (w *VQWriter) Bytes() []byte {
	return w.buf
}

// SolidFrame returns a payload that paints every 8x8 block of a
// width x height picture with quad-cell q.
func SolidFrame(width, height int, q byte) []byte {
	var w VQWriter
	blocks := (width / 16) * (height / 16) * 4
	for i := 0; i < blocks; i++ {
		w.Op(SLD).Byte(q)
	}
	return w.Bytes()
}
