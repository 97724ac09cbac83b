package relay

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/zsiec/roqd/internal/media"
)

func TestRelayAddRemoveViewer(t *testing.T) {
	t.Parallel()

	r := NewRelay(nil)
	v := NewChanViewer("v1")

	r.AddViewer(v)
	if r.ViewerCount() != 1 {
		t.Fatalf("ViewerCount = %d, want 1", r.ViewerCount())
	}
	r.RemoveViewer("v1")
	if r.ViewerCount() != 0 {
		t.Fatalf("ViewerCount = %d, want 0", r.ViewerCount())
	}
	r.RemoveViewer("missing")
}

func TestRelayBroadcast(t *testing.T) {
	t.Parallel()

	r := NewRelay(nil)
	a, b := NewChanViewer("a"), NewChanViewer("b")
	r.AddViewer(a)
	r.AddViewer(b)

	r.BroadcastVideo(&media.VideoFrame{Index: 1})
	r.BroadcastAudio(&media.AudioFrame{Index: 1})

	for _, v := range []*ChanViewer{a, b} {
		if f := <-v.Video(); f.Index != 1 {
			t.Errorf("%s got video %d, want 1", v.ID(), f.Index)
		}
		if f := <-v.Audio(); f.Index != 1 {
			t.Errorf("%s got audio %d, want 1", v.ID(), f.Index)
		}
	}
}

func TestRelayLateJoinerGetsLatestPicture(t *testing.T) {
	t.Parallel()

	r := NewRelay(nil)
	if r.LatestVideo() != nil {
		t.Fatal("LatestVideo should be nil before the first frame")
	}
	for i := 1; i <= 3; i++ {
		r.BroadcastVideo(&media.VideoFrame{Index: i})
	}
	r.BroadcastAudio(&media.AudioFrame{Index: 1})
	r.BroadcastAudio(&media.AudioFrame{Index: 2})

	v := NewChanViewer("late")
	r.AddViewer(v)

	if len(v.Video()) != 1 {
		t.Fatalf("late joiner got %d pictures, want 1", len(v.Video()))
	}
	if f := <-v.Video(); f.Index != 3 {
		t.Errorf("late joiner got picture %d, want 3", f.Index)
	}
	if len(v.Audio()) != 2 {
		t.Errorf("late joiner got %d audio frames, want 2", len(v.Audio()))
	}
}

func TestRelayAudioCacheBounded(t *testing.T) {
	t.Parallel()

	r := NewRelay(nil)
	for i := 0; i < audioCacheSize+10; i++ {
		r.BroadcastAudio(&media.AudioFrame{Index: i})
	}

	ch := make(chan *media.AudioFrame, audioCacheSize*2)
	if n := r.ReplayAudioToChannel(ch); n != audioCacheSize {
		t.Fatalf("replayed %d, want %d", n, audioCacheSize)
	}
	if f := <-ch; f.Index != 10 {
		t.Errorf("oldest cached frame = %d, want 10", f.Index)
	}
}

func TestRelayReplayAudioStopsWhenFull(t *testing.T) {
	t.Parallel()

	r := NewRelay(nil)
	for i := 0; i < 5; i++ {
		r.BroadcastAudio(&media.AudioFrame{Index: i})
	}
	ch := make(chan *media.AudioFrame, 2)
	if n := r.ReplayAudioToChannel(ch); n != 2 {
		t.Errorf("replayed %d, want 2", n)
	}
}

func TestRelayVideoInfo(t *testing.T) {
	t.Parallel()

	r := NewRelay(nil)
	if _, ok := r.VideoInfo(); ok {
		t.Fatal("VideoInfo should not be set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if r.WaitVideoInfo(ctx) {
		t.Fatal("WaitVideoInfo returned true before SetVideoInfo")
	}

	r.SetVideoInfo(VideoInfo{Codec: "roq", Width: 320, Height: 240, FrameRate: 30})
	r.SetVideoInfo(VideoInfo{Width: 1, Height: 1})

	if !r.WaitVideoInfo(context.Background()) {
		t.Fatal("WaitVideoInfo returned false after SetVideoInfo")
	}
	info, ok := r.VideoInfo()
	if !ok || info.Width != 320 || info.FrameRate != 30 {
		t.Errorf("VideoInfo = %+v, %v", info, ok)
	}
}

func TestRelayAudioInfo(t *testing.T) {
	t.Parallel()

	r := NewRelay(nil)
	r.SetAudioInfo(AudioInfo{Codec: "pcm_s16le", SampleRate: 22050, Channels: 2})
	r.SetAudioInfo(AudioInfo{SampleRate: 8000, Channels: 1})

	info, ok := r.AudioInfo()
	if !ok || info.SampleRate != 22050 || info.Channels != 2 {
		t.Errorf("AudioInfo = %+v, %v", info, ok)
	}
}

func TestChanViewerDropsWhenFull(t *testing.T) {
	t.Parallel()

	v := NewChanViewer("slow")
	for i := 0; i < media.VideoBufferSize+3; i++ {
		v.SendVideo(&media.VideoFrame{Index: i})
	}
	s := v.Stats()
	if s.VideoSent != media.VideoBufferSize {
		t.Errorf("VideoSent = %d, want %d", s.VideoSent, media.VideoBufferSize)
	}
	if s.VideoDropped != 3 {
		t.Errorf("VideoDropped = %d, want 3", s.VideoDropped)
	}
}

func TestRelayViewerStatsAll(t *testing.T) {
	t.Parallel()

	r := NewRelay(nil)
	r.AddViewer(NewChanViewer("a"))
	r.AddViewer(NewChanViewer("b"))
	r.BroadcastVideo(&media.VideoFrame{})

	stats := r.ViewerStatsAll()
	if len(stats) != 2 {
		t.Fatalf("got %d stats, want 2", len(stats))
	}
	for _, s := range stats {
		if s.VideoSent != 1 {
			t.Errorf("%s VideoSent = %d, want 1", s.ID, s.VideoSent)
		}
	}
}

func TestRelayConcurrentAccess(t *testing.T) {
	t.Parallel()

	r := NewRelay(nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("v%d", n)
			r.AddViewer(NewChanViewer(id))
			r.RemoveViewer(id)
		}(i)
		go func(n int) {
			defer wg.Done()
			r.BroadcastVideo(&media.VideoFrame{Index: n})
			r.BroadcastAudio(&media.AudioFrame{Index: n})
		}(i)
	}
	wg.Wait()
}

// recordingViewer keeps every delivered picture index.
type recordingViewer struct {
	id string

	mu    sync.Mutex
	video []int
}

func (v *recordingViewer) ID() string { return v.id }

func (v *recordingViewer) SendVideo(f *media.VideoFrame) {
	v.mu.Lock()
	v.video = append(v.video, f.Index)
	v.mu.Unlock()
}

func (v *recordingViewer) SendAudio(*media.AudioFrame) {}

func (v *recordingViewer) Stats() ViewerStats { return ViewerStats{ID: v.id} }

func TestRelayJoinDuringBroadcastNoDuplicates(t *testing.T) {
	t.Parallel()

	r := NewRelay(nil)
	const frames = 200
	viewers := make([]*recordingViewer, 50)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 1; i <= frames; i++ {
			r.BroadcastVideo(&media.VideoFrame{Index: i})
		}
	}()
	go func() {
		defer wg.Done()
		for i := range viewers {
			viewers[i] = &recordingViewer{id: fmt.Sprintf("v%d", i)}
			r.AddViewer(viewers[i])
		}
	}()
	wg.Wait()

	for _, v := range viewers {
		for i := 1; i < len(v.video); i++ {
			if v.video[i] <= v.video[i-1] {
				t.Fatalf("%s received %v: picture %d delivered out of order or twice",
					v.id, v.video, v.video[i])
			}
		}
	}
}
