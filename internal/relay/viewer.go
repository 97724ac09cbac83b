package relay

import (
	"sync/atomic"

	"github.com/zsiec/roqd/internal/media"
)

// ChanViewer is a Viewer that delivers frames over buffered channels. When
// a channel is full the frame is dropped and counted, so a slow consumer
// never stalls the relay.
type ChanViewer struct {
	id      string
	videoCh chan *media.VideoFrame
	audioCh chan *media.AudioFrame

	videoSent    atomic.Int64
	audioSent    atomic.Int64
	videoDropped atomic.Int64
	audioDropped atomic.Int64
}

// NewChanViewer creates a ChanViewer with the default media buffer sizes.
func NewChanViewer(id string) *ChanViewer {
	return &ChanViewer{
		id:      id,
		videoCh: make(chan *media.VideoFrame, media.VideoBufferSize),
		audioCh: make(chan *media.AudioFrame, media.AudioBufferSize),
	}
}

// ID returns the viewer identifier.
func (v *ChanViewer) ID() string { return v.id }

// Video returns the channel of delivered pictures.
func (v *ChanViewer) Video() <-chan *media.VideoFrame { return v.videoCh }

// Audio returns the channel of delivered audio frames.
func (v *ChanViewer) Audio() <-chan *media.AudioFrame { return v.audioCh }

// SendVideo queues frame or drops it if the buffer is full.
func (v *ChanViewer) SendVideo(frame *media.VideoFrame) {
	select {
	case v.videoCh <- frame:
		v.videoSent.Add(1)
	default:
		v.videoDropped.Add(1)
	}
}

// SendAudio queues frame or drops it if the buffer is full.
func (v *ChanViewer) SendAudio(frame *media.AudioFrame) {
	select {
	case v.audioCh <- frame:
		v.audioSent.Add(1)
	default:
		v.audioDropped.Add(1)
	}
}

// Stats returns delivery counters.
func (v *ChanViewer) Stats() ViewerStats {
	return ViewerStats{
		ID:           v.id,
		VideoSent:    v.videoSent.Load(),
		AudioSent:    v.audioSent.Load(),
		VideoDropped: v.videoDropped.Load(),
		AudioDropped: v.audioDropped.Load(),
	}
}
