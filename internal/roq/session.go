package roq

import (
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/zsiec/roqd/internal/media"
)

// DefaultSampleRate is the audio rate used when Config.SampleRate is zero.
// RoQ does not carry a sample rate; 22050 Hz is what encoders produce.
const DefaultSampleRate = 22050

// Config holds host-supplied session settings.
type Config struct {
	// SampleRate is stamped on decoded audio frames.
	SampleRate int
	// SkipAudio discards SOUND chunks without decoding them.
	SkipAudio bool
	// MaxChunkSize bounds chunk payloads; zero means DefaultMaxChunkSize.
	MaxChunkSize uint32
}

// VideoInfo is the picture size announced by the INFO chunk.
type VideoInfo struct {
	Width  int
	Height int
}

// EventKind identifies what a decoded chunk produced.
type EventKind int

// Event kinds returned by Session.Next.
const (
	EventInfo EventKind = iota
	EventCodebook
	EventVideo
	EventAudio
)

func (k EventKind) String() string {
	switch k {
	case EventInfo:
		return "info"
	case EventCodebook:
		return "codebook"
	case EventVideo:
		return "video"
	case EventAudio:
		return "audio"
	}
	return "unknown"
}

// Event is the result of decoding one chunk. Exactly the field matching
// Kind is populated.
type Event struct {
	Kind     EventKind
	Chunk    ChunkHeader
	Info     VideoInfo
	Codebook CodebookLoad
	Video    *media.VideoFrame
	Stats    FrameStats
	Audio    *media.AudioFrame
}

// Session decodes one RoQ stream. It owns the codebook, both picture
// generations, and the audio predictors for the life of the stream.
type Session struct {
	log      *slog.Logger
	cfg      Config
	cr       *ChunkReader
	header   StreamHeader
	info     VideoInfo
	hasInfo  bool
	codebook Codebook
	planes   *PlaneBuffers
	audio    AudioDecoder

	videoFrames  int
	audioFrames  int
	audioSamples int64
	skipped      int
}

// Open reads and validates the stream header from r and returns a Session
// positioned at the first chunk. If log is nil, slog.Default() is used.
func Open(r io.Reader, cfg Config, log *slog.Logger) (*Session, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.MaxChunkSize == 0 {
		cfg.MaxChunkSize = DefaultMaxChunkSize
	}

	s := &Session{
		log: log.With("component", "roq-session"),
		cfg: cfg,
		cr:  NewChunkReader(r, ChunkReaderOptMaxSize(cfg.MaxChunkSize)),
	}
	h, err := s.cr.ReadStreamHeader()
	if err != nil {
		return nil, err
	}
	s.header = h
	return s, nil
}

// Header returns the validated stream header.
func (s *Session) Header() StreamHeader {
	return s.header
}

// Info returns the picture size, and false if no INFO chunk has been seen.
func (s *Session) Info() (VideoInfo, bool) {
	return s.info, s.hasInfo
}

// Codebook returns the codebook currently in force.
func (s *Session) Codebook() *Codebook {
	return &s.codebook
}

// Picture returns the most recently decoded picture, or nil before the first
// frame. The planes are owned by the session and change on the next frame.
func (s *Session) Picture() *Planes {
	if s.planes == nil || s.planes.Committed() == 0 {
		return nil
	}
	return s.planes.Previous()
}

// VideoFrames returns the number of pictures decoded so far.
func (s *Session) VideoFrames() int {
	return s.videoFrames
}

// SkippedChunks returns the number of chunks with unknown identifiers that
// were skipped.
func (s *Session) SkippedChunks() int {
	return s.skipped
}

// Offset returns the number of stream bytes consumed.
func (s *Session) Offset() int64 {
	return s.cr.Offset()
}

// Next decodes chunks until one produces an Event. It returns io.EOF at the
// end of the stream. Errors wrapping ErrTruncated mean the input ended early;
// errors wrapping ErrCorrupt leave the session usable, and the next call
// continues with the following chunk.
func (s *Session) Next() (*Event, error) {
	for {
		h, err := s.cr.NextHeader()
		if err != nil {
			return nil, err
		}

		if !h.ID.Known() || (s.cfg.SkipAudio && isAudio(h.ID)) {
			if err := s.cr.Discard(); err != nil {
				return nil, &ChunkError{ID: h.ID, Offset: h.Offset, Err: err}
			}
			if !h.ID.Known() {
				s.skipped++
				s.log.Debug("skipping unknown chunk", "id", h.ID, "size", h.Size, "offset", h.Offset)
			}
			continue
		}

		payload, err := s.cr.ReadPayload()
		if err != nil {
			return nil, &ChunkError{ID: h.ID, Offset: h.Offset, Err: err}
		}

		ev, err := s.dispatch(h, payload)
		if err != nil {
			return nil, &ChunkError{ID: h.ID, Offset: h.Offset, Err: err}
		}
		return ev, nil
	}
}

func isAudio(id ChunkID) bool {
	return id == ChunkSoundMono || id == ChunkSoundStereo
}

func (s *Session) dispatch(h ChunkHeader, payload []byte) (*Event, error) {
	switch h.ID {
	case ChunkInfo:
		return s.handleInfo(h, payload)
	case ChunkCodebook:
		return s.handleCodebook(h, payload)
	case ChunkVQ:
		return s.handleVQ(h, payload)
	case ChunkSoundMono, ChunkSoundStereo:
		return s.handleAudio(h, payload), nil
	}
	return nil, errors.New("roq: no handler for chunk")
}

func (s *Session) handleInfo(h ChunkHeader, payload []byte) (*Event, error) {
	if len(payload) < 4 {
		return nil, truncatedf("INFO payload is %d bytes", len(payload))
	}
	info := VideoInfo{
		Width:  int(binary.LittleEndian.Uint16(payload[0:2])),
		Height: int(binary.LittleEndian.Uint16(payload[2:4])),
	}

	if s.hasInfo {
		if info != s.info {
			return nil, corruptf("picture size changed from %dx%d to %dx%d",
				s.info.Width, s.info.Height, info.Width, info.Height)
		}
		return &Event{Kind: EventInfo, Chunk: h, Info: info}, nil
	}

	planes, err := NewPlaneBuffers(info.Width, info.Height)
	if err != nil {
		return nil, err
	}
	if info.Width%macroblockSize != 0 || info.Height%macroblockSize != 0 {
		s.log.Warn("picture size is not a multiple of 16, edge pixels stay blank",
			"width", info.Width, "height", info.Height)
	}
	s.planes = planes
	s.info = info
	s.hasInfo = true
	s.log.Debug("video info", "width", info.Width, "height", info.Height)
	return &Event{Kind: EventInfo, Chunk: h, Info: info}, nil
}

func (s *Session) handleCodebook(h ChunkHeader, payload []byte) (*Event, error) {
	ld, err := s.codebook.Load(payload, h.Arg)
	if err != nil {
		return nil, err
	}
	if ld.Ambiguous {
		s.log.Warn("ambiguous codebook quad-cell count, assuming 256",
			"cells", ld.Cells, "payload", len(payload), "offset", h.Offset)
	}
	if ld.Trailing > 0 {
		s.log.Debug("codebook has trailing bytes", "trailing", ld.Trailing, "offset", h.Offset)
	}
	return &Event{Kind: EventCodebook, Chunk: h, Codebook: ld}, nil
}

func (s *Session) handleVQ(h ChunkHeader, payload []byte) (*Event, error) {
	if s.planes == nil {
		return nil, corruptf("VQ chunk before INFO")
	}

	stats, err := DecodeFrame(payload, h.Arg, &s.codebook, s.planes.Previous(), s.planes.Current())
	if err != nil {
		return nil, err
	}
	s.planes.Commit()
	s.videoFrames++

	frame := s.snapshot(s.planes.Previous())
	frame.PayloadBytes = len(payload)
	return &Event{Kind: EventVideo, Chunk: h, Video: frame, Stats: stats}, nil
}

func (s *Session) snapshot(p *Planes) *media.VideoFrame {
	return &media.VideoFrame{
		Index:     s.videoFrames,
		Timestamp: time.Duration(s.videoFrames-1) * time.Second / time.Duration(s.header.FrameRate),
		Width:     p.Y.Width,
		Height:    p.Y.Height,
		Y:         append([]byte(nil), p.Y.Pix...),
		U:         append([]byte(nil), p.U.Pix...),
		V:         append([]byte(nil), p.V.Pix...),
		YStride:   p.Y.Stride,
		CStride:   p.U.Stride,
	}
}

func (s *Session) handleAudio(h ChunkHeader, payload []byte) *Event {
	frame := &media.AudioFrame{
		Index:      s.audioFrames + 1,
		Timestamp:  time.Duration(s.audioSamples) * time.Second / time.Duration(s.cfg.SampleRate),
		SampleRate: s.cfg.SampleRate,
	}
	if h.ID == ChunkSoundMono {
		frame.Channels = 1
		frame.PCM = s.audio.DecodeMono(nil, payload, h.Arg)
	} else {
		frame.Channels = 2
		frame.PCM = s.audio.DecodeStereo(nil, payload, h.Arg)
	}
	s.audioFrames++
	s.audioSamples += int64(frame.Samples())
	return &Event{Kind: EventAudio, Chunk: h, Audio: frame}
}
