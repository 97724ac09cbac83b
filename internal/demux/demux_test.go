package demux

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/zsiec/roqd/internal/media"
	"github.com/zsiec/roqd/internal/roq"
	"github.com/zsiec/roqd/internal/roqtest"
)

type fakeStats struct {
	mu         sync.Mutex
	video      int
	audio      int
	samples    int
	codebooks  int
	corrupt    []roq.ChunkID
	truncated  int
	width      int
	height     int
	lastTS     time.Duration
	sldOps     int
	videoBytes int64
}

func (f *fakeStats) RecordVideoFrame(payloadBytes int64, fs roq.FrameStats, ts time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.video++
	f.videoBytes += payloadBytes
	f.sldOps += fs.Ops[0][roq.OpSLD]
	f.lastTS = ts
}

func (f *fakeStats) RecordAudioFrame(_ int64, samples, _, _ int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio++
	f.samples += samples
}

func (f *fakeStats) RecordResolution(width, height int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.width, f.height = width, height
}

func (f *fakeStats) RecordCodebook(roq.CodebookLoad) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codebooks++
}

func (f *fakeStats) RecordCorrupt(id roq.ChunkID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.corrupt = append(f.corrupt, id)
}

func (f *fakeStats) RecordTruncated() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.truncated++
}

var (
	grey      = []roqtest.Cell{{Y: [4]byte{200, 200, 200, 200}, U: 128, V: 128}}
	greyQuads = [][4]byte{{0, 0, 0, 0}}
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func drain(d *Demuxer) (video []*media.VideoFrame, audio []*media.AudioFrame) {
	for f := range d.Video() {
		video = append(video, f)
	}
	for f := range d.Audio() {
		audio = append(audio, f)
	}
	return video, audio
}

func TestDemuxerDecodesStream(t *testing.T) {
	t.Parallel()

	b := roqtest.NewBuilder().
		Info(32, 32).
		Codebook(grey, greyQuads).
		VQ(0, 0, roqtest.SolidFrame(32, 32, 0)).
		Mono(0, []byte{1, 1, 1}).
		VQ(0, 0, nil)

	stats := &fakeStats{}
	d := NewDemuxer(b.Reader(), quietLogger())
	d.SetStats(stats)

	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	select {
	case <-d.InfoReady():
	default:
		t.Fatal("InfoReady not closed")
	}
	if got := d.Info(); got.Width != 32 || got.Height != 32 {
		t.Errorf("Info = %+v, want 32x32", got)
	}

	video, audio := drain(d)
	if len(video) != 2 {
		t.Fatalf("got %d video frames, want 2", len(video))
	}
	if len(audio) != 1 {
		t.Fatalf("got %d audio frames, want 1", len(audio))
	}
	if video[1].Y[0] != 200 {
		t.Errorf("second frame Y[0] = %d, want 200", video[1].Y[0])
	}
	if audio[0].Samples() != 3 {
		t.Errorf("audio samples = %d, want 3", audio[0].Samples())
	}

	if stats.video != 2 || stats.audio != 1 || stats.codebooks != 1 {
		t.Errorf("stats video=%d audio=%d codebooks=%d, want 2/1/1", stats.video, stats.audio, stats.codebooks)
	}
	if stats.width != 32 || stats.height != 32 {
		t.Errorf("stats resolution %dx%d", stats.width, stats.height)
	}
	if stats.sldOps != 16 {
		t.Errorf("SLD ops = %d, want 16", stats.sldOps)
	}
	if stats.lastTS != time.Second/30 {
		t.Errorf("last timestamp = %v, want %v", stats.lastTS, time.Second/30)
	}
}

func TestDemuxerCorruptFrame(t *testing.T) {
	t.Parallel()

	bad := new(roqtest.VQWriter).Op(roqtest.SLD).Byte(9).Bytes()
	stream := func() io.Reader {
		return roqtest.NewBuilder().
			Info(16, 16).
			Codebook(grey, greyQuads).
			VQ(0, 0, bad).
			VQ(0, 0, roqtest.SolidFrame(16, 16, 0)).
			Reader()
	}

	tests := []struct {
		name       string
		abort      bool
		wantErr    bool
		wantFrames int
	}{
		{name: "drop and continue", wantFrames: 1},
		{name: "abort", abort: true, wantErr: true, wantFrames: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			stats := &fakeStats{}
			d := NewDemuxer(stream(), quietLogger(), DemuxerOptAbortOnCorrupt(tt.abort))
			d.SetStats(stats)

			err := d.Run(context.Background())
			if tt.wantErr {
				if !errors.Is(err, roq.ErrCorrupt) {
					t.Fatalf("Run error = %v, want ErrCorrupt", err)
				}
			} else if err != nil {
				t.Fatalf("Run: %v", err)
			}

			video, _ := drain(d)
			if len(video) != tt.wantFrames {
				t.Errorf("got %d frames, want %d", len(video), tt.wantFrames)
			}
			if len(stats.corrupt) != 1 || stats.corrupt[0] != roq.ChunkVQ {
				t.Errorf("corrupt chunks = %v, want [VQ]", stats.corrupt)
			}
		})
	}
}

func TestDemuxerTruncatedTailIsCleanEnd(t *testing.T) {
	t.Parallel()

	full := roqtest.NewBuilder().
		Info(16, 16).
		Codebook(grey, greyQuads).
		VQ(0, 0, roqtest.SolidFrame(16, 16, 0)).
		VQ(0, 0, roqtest.SolidFrame(16, 16, 0)).
		Bytes()

	stats := &fakeStats{}
	d := NewDemuxer(bytes.NewReader(full[:len(full)-3]), quietLogger())
	d.SetStats(stats)

	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	video, _ := drain(d)
	if len(video) != 1 {
		t.Errorf("got %d frames, want 1", len(video))
	}
	if stats.truncated != 1 {
		t.Errorf("truncated = %d, want 1", stats.truncated)
	}
}

func TestDemuxerNotRoQ(t *testing.T) {
	t.Parallel()

	d := NewDemuxer(bytes.NewReader([]byte("not a roq stream")), quietLogger())
	err := d.Run(context.Background())
	if !errors.Is(err, roq.ErrNotRoQ) {
		t.Fatalf("Run error = %v, want ErrNotRoQ", err)
	}
	if _, ok := <-d.Video(); ok {
		t.Error("video channel should be closed")
	}
}

func TestDemuxerSkipAudio(t *testing.T) {
	t.Parallel()

	b := roqtest.NewBuilder().
		Mono(0, []byte{1, 2}).
		Info(16, 16).
		Stereo(0, 0, []byte{1, 2})

	d := NewDemuxer(b.Reader(), quietLogger(), DemuxerOptSession(roq.Config{SkipAudio: true}))
	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	_, audio := drain(d)
	if len(audio) != 0 {
		t.Errorf("got %d audio frames with SkipAudio", len(audio))
	}
}

func TestDemuxerContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := NewDemuxer(roqtest.NewBuilder().Info(16, 16).Reader(), quietLogger())
	if err := d.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
}

func TestDemuxerBlocksOnFullChannel(t *testing.T) {
	t.Parallel()

	b := roqtest.NewBuilder().Info(16, 16).Codebook(grey, greyQuads)
	for i := 0; i < media.VideoBufferSize+5; i++ {
		b.VQ(0, 0, nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := NewDemuxer(b.Reader(), quietLogger())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	select {
	case err := <-done:
		t.Fatalf("Run returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
