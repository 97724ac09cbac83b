package stream

import (
	"bytes"
	"testing"

	"github.com/zsiec/roqd/internal/pipeline"
)

func TestManagerCreateAndGet(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	s, ok := m.Create("intro", "SRT")
	if !ok {
		t.Fatal("Create returned not-ok for new stream")
	}
	if s == nil {
		t.Fatal("Create returned nil")
	}
	if s.Key != "intro" || s.Protocol != "SRT" {
		t.Errorf("got key=%q protocol=%q", s.Key, s.Protocol)
	}
	if s.StartedAt.IsZero() {
		t.Error("StartedAt should not be zero")
	}
	if s.Relay == nil {
		t.Error("Create should attach a relay")
	}

	got, ok := m.Get("intro")
	if !ok || got != s {
		t.Error("Get should return the created stream")
	}
	if _, ok := m.Get("other"); ok {
		t.Error("Get should miss unknown keys")
	}
}

func TestManagerCreateDuplicate(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	if _, ok := m.Create("test", "File"); !ok {
		t.Fatal("first Create should succeed")
	}
	s2, ok2 := m.Create("test", "SRT")
	if ok2 {
		t.Error("duplicate Create should return false")
	}
	if s2 != nil {
		t.Error("duplicate Create should return nil stream")
	}
}

func TestManagerRemove(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	s, _ := m.Create("test", "File")
	m.Remove("test")

	if len(m.List()) != 0 {
		t.Errorf("count after remove: got %d, want 0", len(m.List()))
	}
	select {
	case <-s.Done():
	default:
		t.Error("Done should be closed after Remove")
	}
}

func TestManagerListSorted(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	for _, k := range []string{"stream-c", "stream-a", "stream-b"} {
		m.Create(k, "File")
	}

	streams := m.List()
	if len(streams) != 3 {
		t.Fatalf("expected 3 streams, got %d", len(streams))
	}
	for i, want := range []string{"stream-a", "stream-b", "stream-c"} {
		if streams[i].Key != want {
			t.Errorf("List()[%d] = %q, want %q", i, streams[i].Key, want)
		}
	}
}

func TestStreamPipeline(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	s, _ := m.Create("intro", "File")
	if s.Pipeline() != nil {
		t.Fatal("Pipeline should be nil before SetPipeline")
	}

	p := pipeline.New("intro", bytes.NewReader(nil), s.Relay, pipeline.Config{})
	s.SetPipeline(p)
	if s.Pipeline() != p {
		t.Error("Pipeline should return the attached pipeline")
	}
}

func TestManagerRemoveNonexistent(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)
	m.Remove("nonexistent")
}
