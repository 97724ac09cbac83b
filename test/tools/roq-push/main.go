// roq-push publishes RoQ files to an SRT listener, paced at the rate the
// clip plays back, for exercising roqd's SRT ingest.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	flag "github.com/spf13/pflag"
	srt "github.com/zsiec/srtgo"

	"github.com/zsiec/roqd/internal/ingest"
	"github.com/zsiec/roqd/internal/roq"
)

// chunkSize is seven 188-byte units, the live-mode SRT payload size.
const chunkSize = 1316

type manifestEntry struct {
	Key  string `json:"key"`
	File string `json:"file"`
}

type manifest struct {
	Streams []manifestEntry `json:"streams"`
}

func main() {
	allFlag := flag.Bool("all", false, "Push every clip listed in the gen-roq manifest")
	dirFlag := flag.String("dir", "test/streams", "Directory holding manifest.json for --all")
	keyFlag := flag.String("key", "", "Stream key (default: file name without extensions)")
	addrFlag := flag.String("addr", "127.0.0.1:6000", "SRT server address")
	loopFlag := flag.Bool("loop", false, "Reconnect and push the clip again when it ends")
	zstdFlag := flag.Bool("zstd", false, "Compress plain .roq input on the fly and publish as zstd/<key>")
	flag.Parse()

	opts := pushOptions{addr: *addrFlag, loop: *loopFlag, compress: *zstdFlag}

	if *allFlag {
		pushAll(*dirFlag, opts)
		return
	}
	if flag.NArg() == 0 {
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  roq-push --all [--dir test/streams]   Push all generated clips\n")
		fmt.Fprintf(os.Stderr, "  roq-push [--key k] [--zstd] clip.roq   Push a single clip\n")
		os.Exit(1)
	}
	if err := pushFile(flag.Arg(0), *keyFlag, opts); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

type pushOptions struct {
	addr     string
	loop     bool
	compress bool
}

func pushAll(dir string, opts pushOptions) {
	data, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cannot read manifest: %v\nRun gen-roq first.\n", err)
		os.Exit(1)
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid manifest: %v\n", err)
		os.Exit(1)
	}

	var wg sync.WaitGroup
	for _, s := range m.Streams {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := pushFile(filepath.Join(dir, s.File), s.Key, opts); err != nil {
				fmt.Fprintf(os.Stderr, "[%s] %v\n", s.Key, err)
			}
		}()
		time.Sleep(200 * time.Millisecond)
	}
	wg.Wait()
}

// streamID builds the SRT stream id for key; compressed payloads are
// announced with the zstd/ prefix the server recognises.
func streamID(key string, compressed bool) string {
	if compressed {
		return "live/zstd/" + key
	}
	return "live/" + key
}

// prepare loads path and returns the bytes to send, the RoQ playback
// duration used for pacing, and whether the bytes are zstd-compressed.
func prepare(path string, compress bool) ([]byte, time.Duration, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, false, err
	}
	_, format := ingest.FormatFromPath(path)

	raw := data
	if format == ingest.FormatRoQZstd {
		rc, err := ingest.OpenInput(bytes.NewReader(data), format)
		if err != nil {
			return nil, 0, false, err
		}
		defer rc.Close()
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(rc); err != nil {
			return nil, 0, false, fmt.Errorf("decompress %s: %w", path, err)
		}
		raw = buf.Bytes()
	}

	ix, err := roq.Probe(bytes.NewReader(raw))
	if err != nil {
		return nil, 0, false, fmt.Errorf("probe %s: %w", path, err)
	}

	if compress && format == ingest.FormatRoQ {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, 0, false, err
		}
		data = enc.EncodeAll(raw, nil)
		enc.Close()
		format = ingest.FormatRoQZstd
	}
	return data, ix.Duration, format == ingest.FormatRoQZstd, nil
}

func pushFile(path, key string, opts pushOptions) error {
	if key == "" {
		key, _ = ingest.FormatFromPath(path)
	}
	data, duration, compressed, err := prepare(path, opts.compress)
	if err != nil {
		return err
	}
	if duration <= 0 {
		duration = time.Second
	}
	bytesPerSec := float64(len(data)) / duration.Seconds()
	id := streamID(key, compressed)

	fmt.Printf("File: %s (%d bytes, %s, %.0f bytes/sec) -> %s\n", path, len(data), duration, bytesPerSec, id)

	for {
		cfg := srt.DefaultConfig()
		cfg.StreamID = id

		conn, err := srt.Dial(opts.addr, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[%s] SRT connect failed: %v, retrying...\n", key, err)
			time.Sleep(time.Second)
			continue
		}

		fmt.Printf("[%s] Connected\n", key)
		err = send(conn, data, bytesPerSec)
		conn.Close()

		if err != nil {
			fmt.Fprintf(os.Stderr, "[%s] Connection lost: %v, reconnecting...\n", key, err)
			time.Sleep(time.Second)
			continue
		}
		fmt.Printf("[%s] Clip complete\n", key)
		if !opts.loop {
			return nil
		}
	}
}

type writer interface {
	Write(p []byte) (int, error)
}

// send writes data in chunkSize pieces, sleeping so the cumulative byte
// count never runs ahead of bytesPerSec.
func send(w writer, data []byte, bytesPerSec float64) error {
	start := time.Now()
	var sent int64
	for i := 0; i < len(data); i += chunkSize {
		end := min(i+chunkSize, len(data))
		if _, err := w.Write(data[i:end]); err != nil {
			return err
		}
		sent += int64(end - i)

		expected := time.Duration(float64(sent) / bytesPerSec * float64(time.Second))
		if elapsed := time.Since(start); expected > elapsed {
			time.Sleep(expected - elapsed)
		}
	}
	return nil
}
