// Package stats accumulates per-stream decode telemetry: frame and byte
// counters, opcode usage, sliding-window frame rate and bitrate, codebook
// loads, and decode errors. DecodeStats feeds optional Prometheus collectors.
package stats

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/roqd/internal/demux"
	"github.com/zsiec/roqd/internal/roq"
)

// Compile-time interface check.
var _ demux.StatsRecorder = (*DecodeStats)(nil)

const window = 2 * time.Second

var opNames = [4]string{"MOT", "FCC", "SLD", "CCC"}

// VideoStats holds point-in-time video metrics for a stream.
type VideoStats struct {
	Codec       string  `json:"codec"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	TotalFrames int64   `json:"totalFrames"`
	TotalBytes  int64   `json:"totalBytes"`
	BitrateKbps float64 `json:"bitrateKbps"`
	FrameRate   float64 `json:"frameRate"`
	// StreamTimeMs is the presentation time of the latest picture.
	StreamTimeMs int64 `json:"streamTimeMs"`
	// Blocks and SubBlocks count opcodes at the 8x8 and 4x4 levels.
	Blocks    map[string]int64 `json:"blocks"`
	SubBlocks map[string]int64 `json:"subBlocks"`
	Repeated  int64            `json:"repeatedMacroblocks"`
	Unused    int64            `json:"unusedBytes"`
}

// AudioStats holds audio metrics for a stream.
type AudioStats struct {
	Codec       string  `json:"codec"`
	SampleRate  int     `json:"sampleRate"`
	Channels    int     `json:"channels"`
	Frames      int64   `json:"frames"`
	Samples     int64   `json:"samples"`
	TotalBytes  int64   `json:"totalBytes"`
	BitrateKbps float64 `json:"bitrateKbps"`
	DurationMs  int64   `json:"durationMs"`
}

// CodebookStats counts codebook loads.
type CodebookStats struct {
	Loads     int64 `json:"loads"`
	Ambiguous int64 `json:"ambiguous"`
	Cells     int   `json:"cells"`
	QuadCells int   `json:"quadCells"`
}

// ErrorStats counts decode errors.
type ErrorStats struct {
	CorruptChunks int64            `json:"corruptChunks"`
	ByChunk       map[string]int64 `json:"byChunk,omitempty"`
	Truncated     bool             `json:"truncated"`
}

// Snapshot is a consistent point-in-time view of a DecodeStats.
type Snapshot struct {
	Video    VideoStats    `json:"video"`
	Audio    AudioStats    `json:"audio"`
	Codebook CodebookStats `json:"codebook"`
	Errors   ErrorStats    `json:"errors"`
}

// DecodeStats accumulates decode telemetry from the demuxer in a
// concurrency-safe manner. It implements demux.StatsRecorder.
//
// Fields are organized by the mechanism that guards them:
//   - Atomic counters: lock-free concurrent reads/writes
//   - mu: audio layout, codebook sizes, corrupt chunk kinds
//   - windowMu: frame-rate and bitrate sliding window
type DecodeStats struct {
	metrics *StreamMetrics

	videoFrames  atomic.Int64
	videoBytes   atomic.Int64
	videoWidth   atomic.Int32
	videoHeight  atomic.Int32
	streamTime   atomic.Int64
	repeated     atomic.Int64
	unused       atomic.Int64
	ops          [2][4]atomic.Int64
	audioFrames  atomic.Int64
	audioSamples atomic.Int64
	audioBytes   atomic.Int64
	codebooks    atomic.Int64
	ambiguous    atomic.Int64
	corrupt      atomic.Int64
	truncated    atomic.Bool

	// mu guards the fields below
	mu         sync.RWMutex
	sampleRate int
	channels   int
	cells      int
	quads      int
	byChunk    map[string]int64

	// windowMu guards videoWindow
	windowMu    sync.Mutex
	videoWindow []windowEntry
}

type windowEntry struct {
	ts    time.Time
	bytes int64
}

// NewDecodeStats creates a DecodeStats ready for use as a StatsRecorder.
// m may be nil.
func NewDecodeStats(m *StreamMetrics) *DecodeStats {
	return &DecodeStats{
		metrics: m,
		byChunk: make(map[string]int64),
	}
}

// RecordVideoFrame records a decoded picture: payload size, opcode usage,
// and presentation time.
func (ds *DecodeStats) RecordVideoFrame(payloadBytes int64, fs roq.FrameStats, ts time.Duration) {
	ds.videoFrames.Add(1)
	ds.videoBytes.Add(payloadBytes)
	ds.streamTime.Store(ts.Milliseconds())
	ds.repeated.Add(int64(fs.Repeated))
	ds.unused.Add(int64(fs.Unused))
	for level := range fs.Ops {
		for op, n := range fs.Ops[level] {
			ds.ops[level][op].Add(int64(n))
		}
	}

	now := time.Now()
	ds.windowMu.Lock()
	ds.videoWindow = append(ds.videoWindow, windowEntry{ts: now, bytes: payloadBytes})
	cutoff := now.Add(-window)
	i := 0
	for i < len(ds.videoWindow) && ds.videoWindow[i].ts.Before(cutoff) {
		i++
	}
	ds.videoWindow = ds.videoWindow[i:]
	ds.windowMu.Unlock()

	ds.metrics.videoFrame(payloadBytes, fs)
}

// RecordAudioFrame records a decoded SOUND chunk.
func (ds *DecodeStats) RecordAudioFrame(payloadBytes int64, samples, sampleRate, channels int) {
	ds.audioFrames.Add(1)
	ds.audioSamples.Add(int64(samples))
	ds.audioBytes.Add(payloadBytes)

	ds.mu.Lock()
	ds.sampleRate = sampleRate
	ds.channels = channels
	ds.mu.Unlock()

	ds.metrics.audioFrame(samples)
}

// RecordResolution stores the picture size from the INFO chunk.
func (ds *DecodeStats) RecordResolution(width, height int) {
	ds.videoWidth.Store(int32(width))
	ds.videoHeight.Store(int32(height))
}

// RecordCodebook records a codebook load.
func (ds *DecodeStats) RecordCodebook(ld roq.CodebookLoad) {
	ds.codebooks.Add(1)
	if ld.Ambiguous {
		ds.ambiguous.Add(1)
	}
	ds.mu.Lock()
	ds.cells, ds.quads = ld.Cells, ld.Quads
	ds.mu.Unlock()

	ds.metrics.codebook()
}

// RecordCorrupt records a chunk dropped as corrupt.
func (ds *DecodeStats) RecordCorrupt(id roq.ChunkID) {
	ds.corrupt.Add(1)
	ds.mu.Lock()
	ds.byChunk[id.String()]++
	ds.mu.Unlock()

	ds.metrics.corrupt(id)
}

// RecordTruncated records that the stream ended inside a chunk.
func (ds *DecodeStats) RecordTruncated() {
	ds.truncated.Store(true)
	ds.metrics.truncatedStream()
}

// VideoFPS computes the current decode rate from a 2-second sliding window.
func (ds *DecodeStats) VideoFPS() float64 {
	ds.windowMu.Lock()
	defer ds.windowMu.Unlock()

	if len(ds.videoWindow) < 2 {
		return 0
	}
	dur := ds.videoWindow[len(ds.videoWindow)-1].ts.Sub(ds.videoWindow[0].ts).Seconds()
	if dur <= 0 {
		return 0
	}
	return float64(len(ds.videoWindow)-1) / dur
}

// VideoBitrateKbps computes the current VQ payload bitrate from a 2-second
// sliding window.
func (ds *DecodeStats) VideoBitrateKbps() float64 {
	ds.windowMu.Lock()
	defer ds.windowMu.Unlock()

	if len(ds.videoWindow) < 2 {
		return 0
	}
	dur := ds.videoWindow[len(ds.videoWindow)-1].ts.Sub(ds.videoWindow[0].ts).Seconds()
	if dur <= 0 {
		return 0
	}
	var total int64
	for _, e := range ds.videoWindow {
		total += e.bytes
	}
	return float64(total) * 8 / dur / 1000
}

// Snapshot produces a consistent point-in-time view of all statistics.
func (ds *DecodeStats) Snapshot() Snapshot {
	vs := VideoStats{
		Codec:        "roq",
		Width:        int(ds.videoWidth.Load()),
		Height:       int(ds.videoHeight.Load()),
		TotalFrames:  ds.videoFrames.Load(),
		TotalBytes:   ds.videoBytes.Load(),
		BitrateKbps:  ds.VideoBitrateKbps(),
		FrameRate:    ds.VideoFPS(),
		StreamTimeMs: ds.streamTime.Load(),
		Blocks:       make(map[string]int64, 4),
		SubBlocks:    make(map[string]int64, 4),
		Repeated:     ds.repeated.Load(),
		Unused:       ds.unused.Load(),
	}
	for op, name := range opNames {
		vs.Blocks[name] = ds.ops[0][op].Load()
		vs.SubBlocks[name] = ds.ops[1][op].Load()
	}

	ds.mu.RLock()
	as := AudioStats{
		Codec:      "roq-dpcm",
		SampleRate: ds.sampleRate,
		Channels:   ds.channels,
	}
	cs := CodebookStats{Cells: ds.cells, QuadCells: ds.quads}
	es := ErrorStats{ByChunk: make(map[string]int64, len(ds.byChunk))}
	for k, v := range ds.byChunk {
		es.ByChunk[k] = v
	}
	ds.mu.RUnlock()

	as.Frames = ds.audioFrames.Load()
	as.Samples = ds.audioSamples.Load()
	as.TotalBytes = ds.audioBytes.Load()
	if as.SampleRate > 0 {
		as.DurationMs = as.Samples * 1000 / int64(as.SampleRate)
		if as.DurationMs > 0 {
			as.BitrateKbps = float64(as.TotalBytes) * 8 / float64(as.DurationMs)
		}
	}

	cs.Loads = ds.codebooks.Load()
	cs.Ambiguous = ds.ambiguous.Load()
	es.CorruptChunks = ds.corrupt.Load()
	es.Truncated = ds.truncated.Load()

	return Snapshot{Video: vs, Audio: as, Codebook: cs, Errors: es}
}
