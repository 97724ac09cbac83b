// Package pipeline runs the decode-to-relay data flow for a single stream,
// forwarding pictures and audio from the Demuxer to a Broadcaster while
// collecting telemetry.
package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/zsiec/roqd/internal/demux"
	"github.com/zsiec/roqd/internal/media"
	"github.com/zsiec/roqd/internal/relay"
	"github.com/zsiec/roqd/internal/roq"
	"github.com/zsiec/roqd/internal/stats"
)

// Broadcaster is the subset of relay.Relay that the pipeline uses to fan
// out decoded frames.
type Broadcaster interface {
	BroadcastVideo(frame *media.VideoFrame)
	BroadcastAudio(frame *media.AudioFrame)
	SetVideoInfo(info relay.VideoInfo)
	SetAudioInfo(info relay.AudioInfo)
	ViewerCount() int
	ViewerStatsAll() []relay.ViewerStats
}

// Config controls how a stream is decoded and delivered.
type Config struct {
	Session        roq.Config
	AbortOnCorrupt bool
	// Realtime holds each frame until its presentation time, measured from
	// the moment the first picture is forwarded.
	Realtime bool
	Metrics  *stats.StreamMetrics
}

// StreamSnapshot is the per-stream status served by the API.
type StreamSnapshot struct {
	Timestamp   int64               `json:"ts"`
	UptimeMs    int64               `json:"uptimeMs"`
	Protocol    string              `json:"protocol"`
	Finished    bool                `json:"finished"`
	Decode      stats.Snapshot      `json:"decode"`
	ViewerCount int                 `json:"viewerCount"`
	Viewers     []relay.ViewerStats `json:"viewers,omitempty"`
}

// DebugStats holds low-level forwarding counters and channel depths.
type DebugStats struct {
	VideoForwarded int64 `json:"videoForwarded"`
	AudioForwarded int64 `json:"audioForwarded"`
	LastVideoMs    int64 `json:"lastVideoMs"`
	LastAudioMs    int64 `json:"lastAudioMs"`
	VideoChanDepth int   `json:"videoChanDepth"`
	AudioChanDepth int   `json:"audioChanDepth"`
}

// Pipeline bridges a single stream's Demuxer and Broadcaster.
type Pipeline struct {
	log         *slog.Logger
	demuxer     *demux.Demuxer
	relay       Broadcaster
	streamKey   string
	decodeStats *stats.DecodeStats
	cfg         Config
	startTime   time.Time
	protocol    string
	finished    atomic.Bool

	videoInfoSent  bool
	audioInfoSent  bool
	clockStart     time.Time
	videoForwarded atomic.Int64
	audioForwarded atomic.Int64
	lastVideoMs    atomic.Int64
	lastAudioMs    atomic.Int64
	videoChanDepth atomic.Int32
	audioChanDepth atomic.Int32
}

// New creates a Pipeline that decodes the RoQ stream in input and
// broadcasts its frames through relay.
func New(streamKey string, input io.Reader, relay Broadcaster, cfg Config) *Pipeline {
	p := &Pipeline{
		log:       slog.With("stream", streamKey),
		relay:     relay,
		streamKey: streamKey,
		cfg:       cfg,
	}

	p.demuxer = demux.NewDemuxer(input, slog.With("stream", streamKey),
		demux.DemuxerOptSession(cfg.Session),
		demux.DemuxerOptAbortOnCorrupt(cfg.AbortOnCorrupt),
	)
	p.decodeStats = stats.NewDecodeStats(cfg.Metrics)
	p.demuxer.SetStats(p.decodeStats)
	p.startTime = time.Now()

	return p
}

// SetProtocol records the ingest protocol name (e.g. "SRT", "file").
func (p *Pipeline) SetProtocol(proto string) {
	p.protocol = proto
}

// StreamSnapshot returns a point-in-time snapshot of stream health.
func (p *Pipeline) StreamSnapshot() StreamSnapshot {
	return StreamSnapshot{
		Timestamp:   time.Now().UnixMilli(),
		UptimeMs:    time.Since(p.startTime).Milliseconds(),
		Protocol:    p.protocol,
		Finished:    p.finished.Load(),
		Decode:      p.decodeStats.Snapshot(),
		ViewerCount: p.relay.ViewerCount(),
		Viewers:     p.relay.ViewerStatsAll(),
	}
}

// PipelineDebug returns forwarding counters and channel depths.
func (p *Pipeline) PipelineDebug() DebugStats {
	return DebugStats{
		VideoForwarded: p.videoForwarded.Load(),
		AudioForwarded: p.audioForwarded.Load(),
		LastVideoMs:    p.lastVideoMs.Load(),
		LastAudioMs:    p.lastAudioMs.Load(),
		VideoChanDepth: int(p.videoChanDepth.Load()),
		AudioChanDepth: int(p.audioChanDepth.Load()),
	}
}

// DecodeStats returns the underlying telemetry collector.
func (p *Pipeline) DecodeStats() *stats.DecodeStats {
	return p.decodeStats
}

// Run starts the demuxer and the forwarding loop. It blocks until the
// context is cancelled or the stream has been fully forwarded, and returns
// the demuxer's error, if any. A clean or truncated end returns nil.
func (p *Pipeline) Run(ctx context.Context) error {
	defer p.finished.Store(true)

	demuxErr := make(chan error, 1)
	go func() {
		err := p.demuxer.Run(ctx)
		p.log.Debug("demuxer goroutine exited", "error", err)
		demuxErr <- err
	}()

	infoCh := p.demuxer.InfoReady()
	videoCh := p.demuxer.Video()
	audioCh := p.demuxer.Audio()

	for videoCh != nil || audioCh != nil {
		p.videoChanDepth.Store(int32(len(videoCh)))
		p.audioChanDepth.Store(int32(len(audioCh)))

		// Priority drain: forward pending pictures first so the more
		// frequent audio chunks cannot starve video under random select.
		if videoCh != nil {
			select {
			case frame, ok := <-videoCh:
				if !ok {
					videoCh = nil
					continue
				}
				if !p.forwardVideo(ctx, frame) {
					return nil
				}
				continue
			default:
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-infoCh:
			p.announceVideo()
			infoCh = nil
		case frame, ok := <-videoCh:
			if !ok {
				videoCh = nil
				continue
			}
			if !p.forwardVideo(ctx, frame) {
				return nil
			}
		case frame, ok := <-audioCh:
			if !ok {
				audioCh = nil
				continue
			}
			if !p.forwardAudio(ctx, frame) {
				return nil
			}
		}
	}

	err := <-demuxErr
	if err == nil || errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (p *Pipeline) announceVideo() {
	if p.videoInfoSent {
		return
	}
	info := p.demuxer.Info()
	p.relay.SetVideoInfo(relay.VideoInfo{
		Codec:     "roq",
		Width:     info.Width,
		Height:    info.Height,
		FrameRate: p.demuxer.Header().FrameRate,
	})
	p.videoInfoSent = true
	p.log.Info("video info", "width", info.Width, "height", info.Height)
}

func (p *Pipeline) forwardVideo(ctx context.Context, frame *media.VideoFrame) bool {
	p.announceVideo()
	if !p.pace(ctx, frame.Timestamp) {
		return false
	}
	p.relay.BroadcastVideo(frame)
	p.videoForwarded.Add(1)
	p.lastVideoMs.Store(frame.Timestamp.Milliseconds())
	return true
}

func (p *Pipeline) forwardAudio(ctx context.Context, frame *media.AudioFrame) bool {
	if !p.pace(ctx, frame.Timestamp) {
		return false
	}
	if !p.audioInfoSent {
		p.relay.SetAudioInfo(relay.AudioInfo{
			Codec:      "pcm_s16le",
			SampleRate: frame.SampleRate,
			Channels:   frame.Channels,
		})
		p.audioInfoSent = true
	}
	p.relay.BroadcastAudio(frame)
	p.audioForwarded.Add(1)
	p.lastAudioMs.Store(frame.Timestamp.Milliseconds())
	return true
}

// pace waits until ts has elapsed on the stream clock when realtime
// delivery is enabled. It returns false if ctx is cancelled first.
func (p *Pipeline) pace(ctx context.Context, ts time.Duration) bool {
	if !p.cfg.Realtime {
		return true
	}
	if p.clockStart.IsZero() {
		p.clockStart = time.Now().Add(-ts)
		return true
	}
	wait := time.Until(p.clockStart.Add(ts))
	if wait <= 0 {
		return true
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
