package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/zsiec/roqd/internal/ingest"
	"github.com/zsiec/roqd/internal/pipeline"
	"github.com/zsiec/roqd/internal/stream"
)

// StreamInfo is the summary of an active stream returned by /api/streams.
type StreamInfo struct {
	Key           string  `json:"key"`
	Protocol      string  `json:"protocol,omitempty"`
	Viewers       int     `json:"viewers"`
	Description   string  `json:"description,omitempty"`
	VideoCodec    string  `json:"videoCodec,omitempty"`
	Width         int     `json:"width,omitempty"`
	Height        int     `json:"height,omitempty"`
	FrameRate     float64 `json:"frameRate,omitempty"`
	Frames        int64   `json:"frames"`
	AudioChannels int     `json:"audioChannels,omitempty"`
	SampleRate    int     `json:"sampleRate,omitempty"`
	UptimeMs      int64   `json:"uptimeMs"`
	Finished      bool    `json:"finished,omitempty"`
}

// StreamDetail is the response for /api/streams/{key}.
type StreamDetail struct {
	Key      string                   `json:"key"`
	Status   *pipeline.StreamSnapshot `json:"status,omitempty"`
	Pipeline *pipeline.DebugStats     `json:"pipeline,omitempty"`
	Ingest   *ingest.IngestStats      `json:"ingest,omitempty"`
}

func streamInfo(s *stream.Stream) StreamInfo {
	info := StreamInfo{
		Key:      s.Key,
		Protocol: s.Protocol,
		Viewers:  s.Relay.ViewerCount(),
	}
	if p := s.Pipeline(); p != nil {
		snap := p.StreamSnapshot()
		v, a := snap.Decode.Video, snap.Decode.Audio
		info.VideoCodec = v.Codec
		info.Width = v.Width
		info.Height = v.Height
		info.FrameRate = v.FrameRate
		info.Frames = v.TotalFrames
		info.AudioChannels = a.Channels
		info.SampleRate = a.SampleRate
		info.UptimeMs = snap.UptimeMs
		info.Finished = snap.Finished
	}
	info.Description = describe(info)
	return info
}

func describe(info StreamInfo) string {
	var parts []string
	if info.Width > 0 && info.Height > 0 {
		parts = append(parts, fmt.Sprintf("%dx%d", info.Width, info.Height))
	}
	switch info.AudioChannels {
	case 0:
	case 1:
		parts = append(parts, "mono")
	case 2:
		parts = append(parts, "stereo")
	default:
		parts = append(parts, fmt.Sprintf("%d ch", info.AudioChannels))
	}
	if info.Finished {
		parts = append(parts, "finished")
	}
	return strings.Join(parts, " · ")
}

func (s *Server) handleListStreams(w http.ResponseWriter, _ *http.Request) {
	streams := s.config.Streams.List()
	resp := make([]StreamInfo, 0, len(streams))
	for _, st := range streams {
		resp = append(resp, streamInfo(st))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	st, ok := s.config.Streams.Get(key)
	if !ok {
		writeError(w, http.StatusNotFound, "stream not found")
		return
	}

	detail := StreamDetail{Key: key}
	if p := st.Pipeline(); p != nil {
		snap := p.StreamSnapshot()
		dbg := p.PipelineDebug()
		detail.Status = &snap
		detail.Pipeline = &dbg
	}
	if s.config.IngestLookup != nil {
		if is, ok := s.config.IngestLookup(key); ok {
			detail.Ingest = &is
		}
	}
	writeJSON(w, http.StatusOK, detail)
}

type certHashResponse struct {
	Hash    string `json:"hash"`
	Hex     string `json:"hex"`
	Addr    string `json:"addr"`
	Expires int64  `json:"expires"`
}

func (s *Server) handleCertHash(w http.ResponseWriter, _ *http.Request) {
	c := s.config.Cert
	writeJSON(w, http.StatusOK, certHashResponse{
		Hash:    c.FingerprintBase64(),
		Hex:     c.FingerprintHex(),
		Addr:    s.config.Addr,
		Expires: c.NotAfter.UnixMilli(),
	})
}
