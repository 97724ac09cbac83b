package roq

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// Signature is the first field of every RoQ stream header.
	Signature uint16 = 0x1084

	headerReserved   uint32 = 0xFFFFFFFF
	headerFrameRate  uint16 = 0x1E
	streamHeaderSize        = 8
	chunkHeaderSize         = 8

	// endOfStreamSize is written by some encoders in place of a real chunk
	// size to mark the end of the stream.
	endOfStreamSize uint32 = 0xFFFFFFFF

	// DefaultMaxChunkSize bounds the payload a single chunk may declare.
	DefaultMaxChunkSize = 16 << 20
)

// ChunkID identifies the type of a chunk.
type ChunkID uint16

// Chunk identifiers understood by the decoder. Any other identifier is
// skipped.
const (
	ChunkInfo        ChunkID = 0x1001
	ChunkCodebook    ChunkID = 0x1002
	ChunkVQ          ChunkID = 0x1011
	ChunkSoundMono   ChunkID = 0x1020
	ChunkSoundStereo ChunkID = 0x1021
)

func (id ChunkID) String() string {
	switch id {
	case ChunkInfo:
		return "INFO"
	case ChunkCodebook:
		return "CODEBOOK"
	case ChunkVQ:
		return "VQ"
	case ChunkSoundMono:
		return "SOUND_MONO"
	case ChunkSoundStereo:
		return "SOUND_STEREO"
	}
	return fmt.Sprintf("0x%04X", uint16(id))
}

// Known reports whether the decoder has a handler for id.
func (id ChunkID) Known() bool {
	switch id {
	case ChunkInfo, ChunkCodebook, ChunkVQ, ChunkSoundMono, ChunkSoundStereo:
		return true
	}
	return false
}

// StreamHeader is the validated 8-byte header at the start of a stream.
type StreamHeader struct {
	Signature uint16
	Reserved  uint32
	FrameRate int
}

// ChunkHeader is the 8-byte header preceding every chunk payload.
type ChunkHeader struct {
	ID     ChunkID
	Size   uint32
	Arg    uint16
	Offset int64 // stream offset of the header
}

// Chunk is a chunk header with its payload. Payload is only valid until the
// next call on the ChunkReader that produced it.
type Chunk struct {
	ChunkHeader
	Payload []byte
}

// ChunkReader splits a byte stream into chunks. It never reads past the end
// of a declared chunk and never allocates more than the configured maximum
// chunk size for a payload.
type ChunkReader struct {
	r       io.Reader
	hdr     [chunkHeaderSize]byte
	buf     []byte
	offset  int64
	maxSize uint32
	skipped int
	pending *ChunkHeader
}

// NewChunkReader creates a ChunkReader reading from r.
func NewChunkReader(r io.Reader, opts ...func(*ChunkReader)) *ChunkReader {
	cr := &ChunkReader{
		r:       r,
		maxSize: DefaultMaxChunkSize,
	}
	for _, opt := range opts {
		opt(cr)
	}
	return cr
}

// ChunkReaderOptMaxSize sets the largest payload size accepted (default 16 MiB).
func ChunkReaderOptMaxSize(n uint32) func(*ChunkReader) {
	return func(cr *ChunkReader) {
		if n > 0 {
			cr.maxSize = n
		}
	}
}

// Offset returns the number of stream bytes consumed so far.
func (cr *ChunkReader) Offset() int64 {
	return cr.offset
}

// Skipped returns how many chunks with unknown identifiers were discarded.
func (cr *ChunkReader) Skipped() int {
	return cr.skipped
}

// ReadStreamHeader reads and validates the stream header. It returns
// ErrNotRoQ if any field differs from the expected constants, and
// ErrTruncated if the stream is shorter than a header.
func (cr *ChunkReader) ReadStreamHeader() (StreamHeader, error) {
	var b [streamHeaderSize]byte
	n, err := io.ReadFull(cr.r, b[:])
	cr.offset += int64(n)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return StreamHeader{}, fmt.Errorf("%w: %d byte header", ErrNotRoQ, n)
		}
		return StreamHeader{}, err
	}

	h := StreamHeader{
		Signature: binary.LittleEndian.Uint16(b[0:2]),
		Reserved:  binary.LittleEndian.Uint32(b[2:6]),
		FrameRate: int(binary.LittleEndian.Uint16(b[6:8])),
	}
	if h.Signature != Signature || h.Reserved != headerReserved || h.FrameRate != int(headerFrameRate) {
		return h, fmt.Errorf("%w: header %04X %08X %04X", ErrNotRoQ, h.Signature, h.Reserved, h.FrameRate)
	}
	return h, nil
}

// NextHeader reads the next chunk header without its payload. The payload
// must then be consumed with ReadPayload or Discard before the next call.
// It returns io.EOF at a clean end of stream and ErrTruncated when the input
// ends inside a header.
func (cr *ChunkReader) NextHeader() (ChunkHeader, error) {
	if cr.pending != nil {
		if err := cr.Discard(); err != nil {
			return ChunkHeader{}, err
		}
	}

	start := cr.offset
	n, err := io.ReadFull(cr.r, cr.hdr[:])
	cr.offset += int64(n)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return ChunkHeader{}, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return ChunkHeader{}, truncatedf("chunk header at offset %d has %d of %d bytes", start, n, chunkHeaderSize)
		}
		return ChunkHeader{}, err
	}

	h := ChunkHeader{
		ID:     ChunkID(binary.LittleEndian.Uint16(cr.hdr[0:2])),
		Size:   binary.LittleEndian.Uint32(cr.hdr[2:6]),
		Arg:    binary.LittleEndian.Uint16(cr.hdr[6:8]),
		Offset: start,
	}
	if h.Size == endOfStreamSize {
		return ChunkHeader{}, io.EOF
	}
	cr.pending = &h
	return h, nil
}

// ReadPayload reads the payload of the chunk returned by the last NextHeader
// into an internal buffer that is reused by later calls.
func (cr *ChunkReader) ReadPayload() ([]byte, error) {
	h := cr.pending
	if h == nil {
		return nil, errors.New("roq: ReadPayload without a pending chunk header")
	}
	cr.pending = nil

	if h.Size > cr.maxSize {
		return nil, corruptf("%s chunk declares %d bytes, limit %d", h.ID, h.Size, cr.maxSize)
	}
	if uint32(cap(cr.buf)) < h.Size {
		cr.buf = make([]byte, h.Size)
	}
	buf := cr.buf[:h.Size]
	n, err := io.ReadFull(cr.r, buf)
	cr.offset += int64(n)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, truncatedf("%s chunk declares %d bytes, %d available", h.ID, h.Size, n)
		}
		return nil, err
	}
	return buf, nil
}

// Discard skips the payload of the chunk returned by the last NextHeader.
func (cr *ChunkReader) Discard() error {
	h := cr.pending
	if h == nil {
		return nil
	}
	cr.pending = nil

	n, err := io.CopyN(io.Discard, cr.r, int64(h.Size))
	cr.offset += n
	if err != nil {
		if errors.Is(err, io.EOF) {
			return truncatedf("%s chunk declares %d bytes, %d available", h.ID, h.Size, n)
		}
		return err
	}
	return nil
}

// Next returns the next chunk with a known identifier, discarding chunks with
// unknown identifiers. It returns io.EOF at a clean end of stream.
func (cr *ChunkReader) Next() (*Chunk, error) {
	for {
		h, err := cr.NextHeader()
		if err != nil {
			return nil, err
		}
		if !h.ID.Known() {
			if err := cr.Discard(); err != nil {
				return nil, err
			}
			cr.skipped++
			continue
		}
		payload, err := cr.ReadPayload()
		if err != nil {
			return nil, err
		}
		return &Chunk{ChunkHeader: h, Payload: payload}, nil
	}
}
