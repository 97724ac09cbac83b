// Package relay fans decoded frames for one stream out to its viewers and
// keeps the latest picture and recent audio for late joiners.
package relay

import (
	"context"
	"log/slog"
	"sync"

	"github.com/zsiec/roqd/internal/media"
)

// Viewer is implemented by anything that receives frames from a Relay.
// Send methods must not block.
type Viewer interface {
	ID() string
	SendVideo(frame *media.VideoFrame)
	SendAudio(frame *media.AudioFrame)
	Stats() ViewerStats
}

// ViewerStats captures per-viewer delivery metrics.
type ViewerStats struct {
	ID           string `json:"id"`
	VideoSent    int64  `json:"videoSent"`
	AudioSent    int64  `json:"audioSent"`
	VideoDropped int64  `json:"videoDropped"`
	AudioDropped int64  `json:"audioDropped"`
}

// VideoInfo describes the decoded picture stream.
type VideoInfo struct {
	Codec     string
	Width     int
	Height    int
	FrameRate int
}

// AudioInfo describes the decoded PCM stream.
type AudioInfo struct {
	Codec      string
	SampleRate int
	Channels   int
}

// audioCacheSize is the number of recent audio frames kept for replay to
// late-joining viewers.
const audioCacheSize = 30

// Relay is the fan-out hub for a single stream. Every RoQ picture is a
// complete frame once decoded, so a late joiner only needs the most recent
// one to start presenting.
type Relay struct {
	log            *slog.Logger
	mu             sync.RWMutex
	viewers        map[string]Viewer
	videoInfo      VideoInfo
	videoInfoSet   bool
	videoInfoReady chan struct{}
	audioInfo      AudioInfo
	audioInfoSet   bool

	latestMu sync.RWMutex
	latest   *media.VideoFrame

	audioMu    sync.RWMutex
	audioCache []*media.AudioFrame
}

// NewRelay creates a Relay with no viewers. If log is nil, slog.Default()
// is used.
func NewRelay(log *slog.Logger) *Relay {
	if log == nil {
		log = slog.Default()
	}
	return &Relay{
		log:            log.With("component", "relay"),
		viewers:        make(map[string]Viewer),
		videoInfoReady: make(chan struct{}),
	}
}

// SetVideoInfo stores the picture parameters. Only the first call has
// effect.
func (r *Relay) SetVideoInfo(info VideoInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.videoInfoSet {
		return
	}
	r.videoInfo = info
	r.videoInfoSet = true
	close(r.videoInfoReady)
	r.log.Debug("video info set", "width", info.Width, "height", info.Height, "fps", info.FrameRate)
}

// VideoInfo returns the picture parameters and whether they have been set.
func (r *Relay) VideoInfo() (VideoInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.videoInfo, r.videoInfoSet
}

// WaitVideoInfo blocks until the picture parameters are available or ctx is
// cancelled. Returns true if they are ready.
func (r *Relay) WaitVideoInfo(ctx context.Context) bool {
	select {
	case <-r.videoInfoReady:
		return true
	case <-ctx.Done():
		return false
	}
}

// SetAudioInfo stores the PCM layout from the first audio frame. Only the
// first call has effect.
func (r *Relay) SetAudioInfo(info AudioInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.audioInfoSet {
		return
	}
	r.audioInfo = info
	r.audioInfoSet = true
	r.log.Debug("audio info set", "sampleRate", info.SampleRate, "channels", info.Channels)
}

// AudioInfo returns the PCM layout and whether it has been set.
func (r *Relay) AudioInfo() (AudioInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.audioInfo, r.audioInfoSet
}

// AddViewer sends the latest picture and recent audio to the viewer, then
// registers it for live delivery. Replay happens under the viewer lock so
// that no live frame can overtake it.
func (r *Relay) AddViewer(v Viewer) {
	r.mu.Lock()
	if f := r.LatestVideo(); f != nil {
		v.SendVideo(f)
	}
	r.audioMu.RLock()
	for _, f := range r.audioCache {
		v.SendAudio(f)
	}
	r.audioMu.RUnlock()
	r.viewers[v.ID()] = v
	n := len(r.viewers)
	r.mu.Unlock()

	r.log.Info("viewer added", "viewer", v.ID(), "viewers", n)
}

// RemoveViewer unregisters a viewer by ID.
func (r *Relay) RemoveViewer(id string) {
	r.mu.Lock()
	delete(r.viewers, id)
	n := len(r.viewers)
	r.mu.Unlock()

	r.log.Info("viewer removed", "viewer", id, "viewers", n)
}

// BroadcastVideo stores frame as the latest picture and sends it to every
// viewer. The cache is updated under the viewer lock, so a viewer added
// concurrently gets the frame once, from either AddViewer or this send.
func (r *Relay) BroadcastVideo(frame *media.VideoFrame) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	r.latestMu.Lock()
	r.latest = frame
	r.latestMu.Unlock()

	for _, v := range r.viewers {
		v.SendVideo(frame)
	}
}

// LatestVideo returns the most recent picture, or nil before the first.
func (r *Relay) LatestVideo() *media.VideoFrame {
	r.latestMu.RLock()
	defer r.latestMu.RUnlock()
	return r.latest
}

// BroadcastAudio adds frame to the recent-audio cache and sends it to every
// viewer.
func (r *Relay) BroadcastAudio(frame *media.AudioFrame) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	r.audioMu.Lock()
	if len(r.audioCache) >= audioCacheSize {
		copy(r.audioCache, r.audioCache[1:])
		r.audioCache[len(r.audioCache)-1] = frame
	} else {
		r.audioCache = append(r.audioCache, frame)
	}
	r.audioMu.Unlock()

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, v := range r.viewers {
		v.SendAudio(frame)
	}
}

// ReplayAudioToChannel sends the cached recent audio frames into ch without
// blocking and returns how many were sent.
func (r *Relay) ReplayAudioToChannel(ch chan<- *media.AudioFrame) int {
	r.audioMu.RLock()
	defer r.audioMu.RUnlock()

	replayed := 0
	for _, frame := range r.audioCache {
		select {
		case ch <- frame:
			replayed++
		default:
			return replayed
		}
	}
	return replayed
}

// ViewerCount returns the number of connected viewers.
func (r *Relay) ViewerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.viewers)
}

// ViewerStatsAll returns delivery metrics for every connected viewer.
func (r *Relay) ViewerStatsAll() []ViewerStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := make([]ViewerStats, 0, len(r.viewers))
	for _, v := range r.viewers {
		stats = append(stats, v.Stats())
	}
	return stats
}
