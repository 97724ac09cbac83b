package ingest

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// InputFormat identifies how an ingested byte stream is encoded.
type InputFormat int

// Supported ingest formats.
const (
	FormatRoQ InputFormat = iota
	// FormatRoQZstd is a RoQ stream wrapped in a zstd frame sequence.
	FormatRoQZstd
)

func (f InputFormat) String() string {
	switch f {
	case FormatRoQ:
		return "roq"
	case FormatRoQZstd:
		return "roq+zstd"
	}
	return fmt.Sprintf("InputFormat(%d)", int(f))
}

const zstdStreamPrefix = "zstd/"

// FormatFromStreamID splits an SRT stream id into a stream key and format.
// A "zstd/" prefix selects FormatRoQZstd.
func FormatFromStreamID(streamID string) (string, InputFormat) {
	if rest, ok := strings.CutPrefix(streamID, zstdStreamPrefix); ok {
		return rest, FormatRoQZstd
	}
	return streamID, FormatRoQ
}

// FormatFromPath derives a stream key and format from a file name: the key
// is the base name without extensions, and a ".zst" suffix selects
// FormatRoQZstd.
func FormatFromPath(path string) (string, InputFormat) {
	base := filepath.Base(path)
	format := FormatRoQ
	if strings.EqualFold(filepath.Ext(base), ".zst") {
		format = FormatRoQZstd
		base = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if ext := filepath.Ext(base); strings.EqualFold(ext, ".roq") {
		base = strings.TrimSuffix(base, ext)
	}
	return base, format
}

// OpenInput returns a reader producing the raw RoQ bytes of r. Closing it
// releases decompressor resources; it does not close r.
func OpenInput(r io.Reader, format InputFormat) (io.ReadCloser, error) {
	switch format {
	case FormatRoQ:
		return io.NopCloser(r), nil
	case FormatRoQZstd:
		dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		return dec.IOReadCloser(), nil
	}
	return nil, fmt.Errorf("unsupported input format %s", format)
}
