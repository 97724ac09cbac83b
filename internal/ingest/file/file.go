// Package file plays RoQ files from disk into the ingest registry, the
// file counterpart of the SRT listener.
package file

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/zsiec/roqd/internal/ingest"
)

const (
	readBufferSize = 64 * 1024
	protocolFile   = "File"
)

// Source feeds files into a registry. Each Play call registers one stream
// keyed by the file's base name.
type Source struct {
	log      *slog.Logger
	registry *ingest.Registry
}

// NewSource creates a Source. If log is nil, slog.Default() is used.
func NewSource(registry *ingest.Registry, log *slog.Logger) *Source {
	if log == nil {
		log = slog.Default()
	}
	return &Source{
		log:      log.With("component", "file-source"),
		registry: registry,
	}
}

// Play registers path as a stream and copies its bytes into the registry
// until EOF or ctx is cancelled. The stream is unregistered on return. It
// returns the stream key it used.
func (s *Source) Play(ctx context.Context, path string) (string, error) {
	key, format := ingest.FormatFromPath(path)
	if key == "" {
		return "", fmt.Errorf("no stream key in path %q", path)
	}
	if _, ok := s.registry.Get(key); ok {
		return key, fmt.Errorf("stream %q already active", key)
	}

	f, err := os.Open(path)
	if err != nil {
		return key, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	stream, writer := s.registry.Register(key, format, protocolFile)
	stream.SetRemoteAddr(path)
	defer s.registry.Unregister(key)

	s.log.Info("playing", "stream_key", key, "path", path, "format", format)

	err = ingest.Pump(stream, writer, &ctxReader{ctx: ctx, r: f}, readBufferSize)
	stats := stream.IngestStats()
	s.log.Info("file finished", "stream_key", key, "bytes", stats.BytesReceived, "uptime_ms", stats.UptimeMs)
	if err != nil {
		if ctx.Err() != nil {
			return key, nil
		}
		return key, fmt.Errorf("play %s: %w", path, err)
	}
	return key, nil
}

// ctxReader stops reading once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
