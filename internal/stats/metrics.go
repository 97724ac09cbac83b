package stats

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zsiec/roqd/internal/roq"
)

const namespace = "roqd"

// Metrics holds the Prometheus collectors shared by every stream. Each
// series carries a "stream" label.
type Metrics struct {
	reg *prometheus.Registry

	activeStreams prometheus.Gauge
	videoFrames   *prometheus.CounterVec
	videoBytes    *prometheus.CounterVec
	audioSamples  *prometheus.CounterVec
	codebooks     *prometheus.CounterVec
	opcodes       *prometheus.CounterVec
	corrupt       *prometheus.CounterVec
	truncated     *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them, together with the
// Go runtime and process collectors, on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_streams",
			Help:      "Streams currently being decoded.",
		}),
		videoFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "video_frames_total",
			Help:      "Pictures decoded.",
		}, []string{"stream"}),
		videoBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "video_payload_bytes_total",
			Help:      "VQ chunk payload bytes decoded.",
		}, []string{"stream"}),
		audioSamples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_samples_total",
			Help:      "PCM samples per channel decoded.",
		}, []string{"stream"}),
		codebooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "codebook_loads_total",
			Help:      "CODEBOOK chunks loaded.",
		}, []string{"stream"}),
		opcodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "opcodes_total",
			Help:      "Block opcodes decoded, by level (8x8 or 4x4) and opcode.",
		}, []string{"stream", "level", "op"}),
		corrupt: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "corrupt_chunks_total",
			Help:      "Chunks dropped as corrupt, by chunk kind.",
		}, []string{"stream", "chunk"}),
		truncated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "truncated_streams_total",
			Help:      "Streams that ended inside a chunk.",
		}, []string{"stream"}),
	}
	m.reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		m.activeStreams,
		m.videoFrames,
		m.videoBytes,
		m.audioSamples,
		m.codebooks,
		m.opcodes,
		m.corrupt,
		m.truncated,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Gatherer returns the underlying registry.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.reg
}

// ForStream returns the collectors curried with a stream label and counts
// the stream as active until Release is called. A nil *Metrics returns nil.
func (m *Metrics) ForStream(key string) *StreamMetrics {
	if m == nil {
		return nil
	}
	m.activeStreams.Inc()
	return &StreamMetrics{m: m, key: key}
}

// StreamMetrics records into the shared collectors for one stream. A nil
// *StreamMetrics records nothing.
type StreamMetrics struct {
	m   *Metrics
	key string
}

// Release marks the stream inactive and deletes its series.
func (sm *StreamMetrics) Release() {
	if sm == nil {
		return
	}
	m := sm.m
	m.activeStreams.Dec()
	labels := prometheus.Labels{"stream": sm.key}
	m.videoFrames.Delete(labels)
	m.videoBytes.Delete(labels)
	m.audioSamples.Delete(labels)
	m.codebooks.Delete(labels)
	m.truncated.Delete(labels)
	for _, level := range []string{"8x8", "4x4"} {
		for _, op := range opNames {
			m.opcodes.DeleteLabelValues(sm.key, level, op)
		}
	}
	for _, id := range []roq.ChunkID{0, roq.ChunkInfo, roq.ChunkCodebook, roq.ChunkVQ, roq.ChunkSoundMono, roq.ChunkSoundStereo} {
		m.corrupt.DeleteLabelValues(sm.key, id.String())
	}
}

func (sm *StreamMetrics) videoFrame(payloadBytes int64, fs roq.FrameStats) {
	if sm == nil {
		return
	}
	sm.m.videoFrames.WithLabelValues(sm.key).Inc()
	sm.m.videoBytes.WithLabelValues(sm.key).Add(float64(payloadBytes))
	for level, name := range []string{"8x8", "4x4"} {
		for op, n := range fs.Ops[level] {
			if n > 0 {
				sm.m.opcodes.WithLabelValues(sm.key, name, opNames[op]).Add(float64(n))
			}
		}
	}
}

func (sm *StreamMetrics) audioFrame(samples int) {
	if sm == nil {
		return
	}
	sm.m.audioSamples.WithLabelValues(sm.key).Add(float64(samples))
}

func (sm *StreamMetrics) codebook() {
	if sm == nil {
		return
	}
	sm.m.codebooks.WithLabelValues(sm.key).Inc()
}

func (sm *StreamMetrics) corrupt(id roq.ChunkID) {
	if sm == nil {
		return
	}
	sm.m.corrupt.WithLabelValues(sm.key, id.String()).Inc()
}

func (sm *StreamMetrics) truncatedStream() {
	if sm == nil {
		return
	}
	sm.m.truncated.WithLabelValues(sm.key).Inc()
}
