// Package media defines the decoded frame types handed from the RoQ decoder
// to consumers: pipelines, relays, and presentation layers.
package media

import "time"

// Channel buffer sizes used by the demuxer (producer) and viewers
// (consumers). Roughly two seconds of 30 fps video and of audio chunks.
const (
	VideoBufferSize = 60
	AudioBufferSize = 120
)

// VideoFrame is one decoded 4:2:0 picture. It owns its sample slices, so it
// can be handed to other goroutines while the decoder moves on.
type VideoFrame struct {
	Index     int // 1-based frame number within the stream
	Timestamp time.Duration
	Width     int
	Height    int
	Y         []byte
	U         []byte
	V         []byte
	YStride   int
	CStride   int
	// PayloadBytes is the size of the VQ chunk this picture was decoded from.
	PayloadBytes int
}

// AudioFrame is the PCM decoded from one SOUND chunk: signed 16-bit
// little-endian samples, interleaved left/right when Channels is 2.
type AudioFrame struct {
	Index      int
	Timestamp  time.Duration
	PCM        []byte
	Channels   int
	SampleRate int
}

// Samples returns the number of samples per channel.
func (f *AudioFrame) Samples() int {
	if f.Channels == 0 {
		return 0
	}
	return len(f.PCM) / (2 * f.Channels)
}

// Duration returns the playback length of the frame at its sample rate.
func (f *AudioFrame) Duration() time.Duration {
	if f.SampleRate == 0 {
		return 0
	}
	return time.Duration(f.Samples()) * time.Second / time.Duration(f.SampleRate)
}
