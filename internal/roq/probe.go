package roq

import (
	"encoding/binary"
	"errors"
	"io"
	"time"
)

// StreamIndex summarizes a stream from its chunk headers alone.
type StreamIndex struct {
	Header        StreamHeader
	Width         int
	Height        int
	Frames        int
	FrameOffsets  []int64
	Codebooks     int
	AudioChannels int
	AudioChunks   int
	AudioBytes    int64
	UnknownChunks int
	MaxChunkSize  uint32
	Duration      time.Duration
	// Truncated is set when the stream ended inside a chunk.
	Truncated bool
}

// AudioSamples returns the number of samples per channel in the stream.
func (ix *StreamIndex) AudioSamples() int64 {
	if ix.AudioChannels == 0 {
		return 0
	}
	return ix.AudioBytes / int64(ix.AudioChannels)
}

// Probe walks every chunk header in r without decoding video or audio and
// returns the stream index. Only INFO payloads are read. A truncated tail
// is reported in the index rather than as an error.
func Probe(r io.Reader) (*StreamIndex, error) {
	cr := NewChunkReader(r)
	h, err := cr.ReadStreamHeader()
	if err != nil {
		return nil, err
	}
	ix := &StreamIndex{Header: h}

	for {
		ch, err := cr.NextHeader()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if errors.Is(err, ErrTruncated) {
				ix.Truncated = true
				break
			}
			return ix, err
		}
		if ch.Size > ix.MaxChunkSize {
			ix.MaxChunkSize = ch.Size
		}

		switch ch.ID {
		case ChunkInfo:
			if ix.Width == 0 {
				payload, err := cr.ReadPayload()
				if err != nil {
					if errors.Is(err, ErrTruncated) {
						ix.Truncated = true
						break
					}
					return ix, err
				}
				if len(payload) >= 4 {
					ix.Width = int(binary.LittleEndian.Uint16(payload[0:2]))
					ix.Height = int(binary.LittleEndian.Uint16(payload[2:4]))
				}
			}
		case ChunkCodebook:
			ix.Codebooks++
		case ChunkVQ:
			ix.Frames++
			ix.FrameOffsets = append(ix.FrameOffsets, ch.Offset)
		case ChunkSoundMono, ChunkSoundStereo:
			ix.AudioChunks++
			ix.AudioBytes += int64(ch.Size)
			ix.AudioChannels = 1
			if ch.ID == ChunkSoundStereo {
				ix.AudioChannels = 2
			}
		default:
			ix.UnknownChunks++
		}
		if ix.Truncated {
			break
		}
		if err := cr.Discard(); err != nil {
			if errors.Is(err, ErrTruncated) {
				ix.Truncated = true
				break
			}
			return ix, err
		}
	}

	if ix.Header.FrameRate > 0 {
		ix.Duration = time.Duration(ix.Frames) * time.Second / time.Duration(ix.Header.FrameRate)
	}
	return ix, nil
}
