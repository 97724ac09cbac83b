// gen-roq writes synthetic RoQ test clips exercising every VQ opcode and
// both audio layouts, plus a manifest for roq-push.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	flag "github.com/spf13/pflag"

	"github.com/zsiec/roqd/internal/roq"
)

type ManifestEntry struct {
	Key         string  `json:"key"`
	File        string  `json:"file"`
	Description string  `json:"description"`
	Frames      int     `json:"frames"`
	Channels    int     `json:"channels"`
	DurationSec float64 `json:"durationSec"`
	Compressed  bool    `json:"compressed"`
	Bytes       int     `json:"bytes"`
}

type Manifest struct {
	Generated string          `json:"generated"`
	Streams   []ManifestEntry `json:"streams"`
}

func main() {
	outDir := flag.StringP("out", "o", "", "Output directory (default: <project>/test/streams)")
	flag.Parse()

	dir := *outDir
	if dir == "" {
		dir = filepath.Join(findProjectRoot(), "test", "streams")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		fatal("create output dir: %v", err)
	}

	fmt.Println("=== RoQ Clip Generator ===")

	m := Manifest{Generated: time.Now().UTC().Format(time.RFC3339)}
	for _, c := range clips {
		entry, err := writeClip(dir, c)
		if err != nil {
			fatal("%s: %v", c.Key, err)
		}
		fmt.Printf("  %-8s %4d frames  %5.1fs  %7d bytes  %s\n",
			entry.Key, entry.Frames, entry.DurationSec, entry.Bytes, entry.File)
		m.Streams = append(m.Streams, entry)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		fatal("marshal manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), data, 0o644); err != nil {
		fatal("write manifest: %v", err)
	}
	fmt.Printf("\nWrote %d clips to %s\n", len(m.Streams), dir)
}

func writeClip(dir string, c clip) (ManifestEntry, error) {
	raw := c.build()

	// Every generated clip must probe cleanly.
	ix, err := roq.Probe(bytes.NewReader(raw))
	if err != nil {
		return ManifestEntry{}, fmt.Errorf("probe: %w", err)
	}
	if ix.Frames != c.Frames || ix.Truncated {
		return ManifestEntry{}, fmt.Errorf("probe found %d frames (truncated=%v), want %d", ix.Frames, ix.Truncated, c.Frames)
	}

	name := c.Key + ".roq"
	data := raw
	if c.Compress {
		name += ".zst"
		if data, err = compress(raw); err != nil {
			return ManifestEntry{}, err
		}
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return ManifestEntry{}, err
	}

	return ManifestEntry{
		Key:         c.Key,
		File:        name,
		Description: c.Description,
		Frames:      ix.Frames,
		Channels:    ix.AudioChannels,
		DurationSec: ix.Duration.Seconds(),
		Compressed:  c.Compress,
		Bytes:       len(data),
	}, nil
}

func compress(raw []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(raw, nil), nil
}

func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		fatal("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "."
		}
		dir = parent
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FATAL: "+format+"\n", args...)
	os.Exit(1)
}
