package file

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/zsiec/roqd/internal/ingest"
)

type captured struct {
	key    string
	format ingest.InputFormat
	data   []byte
}

func capturingRegistry(t *testing.T) (*ingest.Registry, <-chan captured) {
	t.Helper()
	out := make(chan captured, 1)
	reg := ingest.NewRegistry(func(key string, input io.Reader, format ingest.InputFormat) {
		data, _ := io.ReadAll(input)
		out <- captured{key: key, format: format, data: data}
	})
	return reg, out
}

func waitCaptured(t *testing.T, ch <-chan captured) captured {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream data")
		return captured{}
	}
}

func TestPlayPlainFile(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte{0x84, 0x10, 0xFF}, 50000)
	path := filepath.Join(t.TempDir(), "intro.roq")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	reg, ch := capturingRegistry(t)
	src := NewSource(reg, nil)

	key, err := src.Play(context.Background(), path)
	if err != nil {
		t.Fatalf("Play: %v", err)
	}
	if key != "intro" {
		t.Errorf("key = %q, want intro", key)
	}

	got := waitCaptured(t, ch)
	if got.key != "intro" || got.format != ingest.FormatRoQ {
		t.Errorf("got key=%q format=%v", got.key, got.format)
	}
	if !bytes.Equal(got.data, data) {
		t.Errorf("data mismatch: got %d bytes, want %d", len(got.data), len(data))
	}
	if _, ok := reg.Get("intro"); ok {
		t.Error("stream still registered after Play returned")
	}
}

func TestPlayCompressedFile(t *testing.T) {
	t.Parallel()

	raw := []byte("compressed payload")
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	enc.Write(raw)
	enc.Close()

	path := filepath.Join(t.TempDir(), "Finale.RoQ.zst")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	reg, ch := capturingRegistry(t)
	key, err := NewSource(reg, nil).Play(context.Background(), path)
	if err != nil {
		t.Fatalf("Play: %v", err)
	}
	if key != "Finale" {
		t.Errorf("key = %q, want Finale", key)
	}

	got := waitCaptured(t, ch)
	if got.format != ingest.FormatRoQZstd {
		t.Errorf("format = %v, want %v", got.format, ingest.FormatRoQZstd)
	}
	if !bytes.Equal(got.data, buf.Bytes()) {
		t.Error("registry should receive the file bytes unchanged")
	}
}

func TestPlayMissingFile(t *testing.T) {
	t.Parallel()

	reg := ingest.NewRegistry(nil)
	_, err := NewSource(reg, nil).Play(context.Background(), filepath.Join(t.TempDir(), "missing.roq"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if _, ok := reg.Get("missing"); ok {
		t.Error("missing file should not register a stream")
	}
}

func TestPlayDuplicateKey(t *testing.T) {
	t.Parallel()

	reg := ingest.NewRegistry(nil)
	reg.Register("dup", ingest.FormatRoQ, "SRT")

	path := filepath.Join(t.TempDir(), "dup.roq")
	if err := os.WriteFile(path, []byte{1}, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewSource(reg, nil).Play(context.Background(), path); err == nil {
		t.Fatal("expected error for duplicate key")
	}
}

func TestPlayCancelled(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "slow.roq")
	if err := os.WriteFile(path, make([]byte, 4*readBufferSize), 0o644); err != nil {
		t.Fatal(err)
	}

	first := make(chan struct{})
	reg := ingest.NewRegistry(func(key string, input io.Reader, format ingest.InputFormat) {
		buf := make([]byte, readBufferSize)
		io.ReadFull(input, buf)
		close(first)
		io.Copy(io.Discard, input)
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-first
		cancel()
	}()

	if _, err := NewSource(reg, nil).Play(ctx, path); err != nil {
		t.Fatalf("cancelled Play should not error, got %v", err)
	}
	if _, ok := reg.Get("slow"); ok {
		t.Error("stream still registered after cancel")
	}
}
