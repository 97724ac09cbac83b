package demux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/zsiec/roqd/internal/media"
	"github.com/zsiec/roqd/internal/roq"
)

// StatsRecorder is the interface accepted by Demuxer for recording stream
// telemetry. stats.DecodeStats implements this interface.
type StatsRecorder interface {
	RecordVideoFrame(payloadBytes int64, fs roq.FrameStats, ts time.Duration)
	RecordAudioFrame(payloadBytes int64, samples, sampleRate, channels int)
	RecordResolution(width, height int)
	RecordCodebook(ld roq.CodebookLoad)
	RecordCorrupt(id roq.ChunkID)
	RecordTruncated()
}

// Demuxer decodes a RoQ byte stream into video and audio frames, delivered
// through the channels returned by Video and Audio.
type Demuxer struct {
	log            *slog.Logger
	reader         io.Reader
	cfg            roq.Config
	abortOnCorrupt bool
	stats          StatsRecorder

	videoCh   chan *media.VideoFrame
	audioCh   chan *media.AudioFrame
	infoReady chan struct{}
	info      roq.VideoInfo
	header    roq.StreamHeader
}

// DemuxerOpt configures a Demuxer.
type DemuxerOpt func(*Demuxer)

// DemuxerOptSession sets the decoding session configuration.
func DemuxerOptSession(cfg roq.Config) DemuxerOpt {
	return func(d *Demuxer) {
		d.cfg = cfg
	}
}

// DemuxerOptAbortOnCorrupt makes Run return on the first corrupt chunk
// instead of dropping it and continuing.
func DemuxerOptAbortOnCorrupt(abort bool) DemuxerOpt {
	return func(d *Demuxer) {
		d.abortOnCorrupt = abort
	}
}

// NewDemuxer creates a Demuxer that reads a RoQ stream from r. Call Run to
// begin decoding and read from the Video and Audio channels.
// If log is nil, slog.Default() is used.
func NewDemuxer(r io.Reader, log *slog.Logger, opts ...DemuxerOpt) *Demuxer {
	if log == nil {
		log = slog.Default()
	}
	d := &Demuxer{
		log:       log.With("component", "demux"),
		reader:    r,
		videoCh:   make(chan *media.VideoFrame, media.VideoBufferSize),
		audioCh:   make(chan *media.AudioFrame, media.AudioBufferSize),
		infoReady: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Video returns the channel on which decoded pictures are delivered.
func (d *Demuxer) Video() <-chan *media.VideoFrame {
	return d.videoCh
}

// Audio returns the channel on which decoded PCM frames are delivered.
func (d *Demuxer) Audio() <-chan *media.AudioFrame {
	return d.audioCh
}

// InfoReady returns a channel that is closed once the INFO chunk has been
// decoded and Info is valid.
func (d *Demuxer) InfoReady() <-chan struct{} {
	return d.infoReady
}

// Info returns the picture size. It is only valid after InfoReady is closed.
func (d *Demuxer) Info() roq.VideoInfo {
	return d.info
}

// Header returns the stream header. It is only valid after InfoReady is
// closed.
func (d *Demuxer) Header() roq.StreamHeader {
	return d.header
}

// SetStats attaches a StatsRecorder that receives telemetry callbacks for
// every decoded chunk.
func (d *Demuxer) SetStats(s StatsRecorder) {
	d.stats = s
}

// Run opens the session and decodes chunks until the end of the stream or
// context cancellation. A truncated tail is a clean end. Run closes both
// output channels on return.
func (d *Demuxer) Run(ctx context.Context) error {
	defer close(d.videoCh)
	defer close(d.audioCh)

	sess, err := roq.Open(d.reader, d.cfg, d.log)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	d.header = sess.Header()
	d.log.Debug("stream header", "fps", d.header.FrameRate)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		ev, err := sess.Next()
		if err != nil {
			if done, err := d.handleError(ctx, sess, err); done {
				return err
			}
			continue
		}

		switch ev.Kind {
		case roq.EventInfo:
			d.handleInfo(ev.Info)
		case roq.EventCodebook:
			if d.stats != nil {
				d.stats.RecordCodebook(ev.Codebook)
			}
		case roq.EventVideo:
			if d.stats != nil {
				d.stats.RecordVideoFrame(int64(ev.Video.PayloadBytes), ev.Stats, ev.Video.Timestamp)
			}
			select {
			case d.videoCh <- ev.Video:
			case <-ctx.Done():
				return ctx.Err()
			}
		case roq.EventAudio:
			if d.stats != nil {
				a := ev.Audio
				d.stats.RecordAudioFrame(int64(ev.Chunk.Size), a.Samples(), a.SampleRate, a.Channels)
			}
			select {
			case d.audioCh <- ev.Audio:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// handleError classifies a Session error. It reports whether Run should
// return, and with which error.
func (d *Demuxer) handleError(ctx context.Context, sess *roq.Session, err error) (bool, error) {
	switch {
	case errors.Is(err, io.EOF):
		d.log.Info("stream ended",
			"frames", sess.VideoFrames(),
			"bytes", sess.Offset(),
			"skipped_chunks", sess.SkippedChunks())
		return true, nil
	case errors.Is(err, roq.ErrTruncated):
		d.log.Info("stream truncated, ending", "frames", sess.VideoFrames(), "error", err)
		if d.stats != nil {
			d.stats.RecordTruncated()
		}
		return true, nil
	case errors.Is(err, roq.ErrCorrupt):
		var ce *roq.ChunkError
		id := roq.ChunkID(0)
		if errors.As(err, &ce) {
			id = ce.ID
		}
		if d.stats != nil {
			d.stats.RecordCorrupt(id)
		}
		if d.abortOnCorrupt {
			return true, err
		}
		d.log.Warn("dropping corrupt chunk", "error", err)
		return false, nil
	}
	if ctx.Err() != nil {
		return true, ctx.Err()
	}
	return true, err
}

func (d *Demuxer) handleInfo(info roq.VideoInfo) {
	select {
	case <-d.infoReady:
		return
	default:
	}
	d.info = info
	if d.stats != nil {
		d.stats.RecordResolution(info.Width, info.Height)
	}
	d.log.Info("video info", "width", info.Width, "height", info.Height)
	close(d.infoReady)
}
