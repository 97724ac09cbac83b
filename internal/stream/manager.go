// Package stream tracks the lifecycle of active RoQ streams, pairing each
// stream key with its relay and decode pipeline for the ingest and API
// layers.
package stream

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/zsiec/roqd/internal/pipeline"
	"github.com/zsiec/roqd/internal/relay"
)

// Stream is one active decode: the relay viewers attach to and, once
// started, the pipeline feeding it.
type Stream struct {
	Key       string
	Protocol  string
	StartedAt time.Time
	Relay     *relay.Relay
	done      chan struct{}

	mu       sync.RWMutex
	pipeline *pipeline.Pipeline
}

// SetPipeline attaches the pipeline decoding this stream.
func (s *Stream) SetPipeline(p *pipeline.Pipeline) {
	s.mu.Lock()
	s.pipeline = p
	s.mu.Unlock()
}

// Pipeline returns the attached pipeline, or nil before SetPipeline.
func (s *Stream) Pipeline() *pipeline.Pipeline {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pipeline
}

// Done is closed when the stream is removed from its Manager.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Manager manages the lifecycle of active streams.
type Manager struct {
	log     *slog.Logger
	mu      sync.RWMutex
	streams map[string]*Stream
}

// NewManager creates a new stream manager. If log is nil, slog.Default() is used.
func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:     log.With("component", "stream-manager"),
		streams: make(map[string]*Stream),
	}
}

// Create registers a new stream with a fresh relay. Returns the stream and
// true if created, or nil and false if a stream with this key already exists.
func (m *Manager) Create(key, protocol string) (*Stream, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.streams[key]; ok {
		m.log.Warn("stream already exists, rejecting duplicate", "key", key)
		return nil, false
	}

	s := &Stream{
		Key:       key,
		Protocol:  protocol,
		StartedAt: time.Now(),
		Relay:     relay.NewRelay(m.log.With("stream", key)),
		done:      make(chan struct{}),
	}

	m.streams[key] = s
	m.log.Info("stream created", "key", key, "protocol", protocol)
	return s, true
}

// Get returns the stream for key.
func (m *Manager) Get(key string) (*Stream, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.streams[key]
	return s, ok
}

// Remove removes a stream from the manager.
func (m *Manager) Remove(key string) {
	m.mu.Lock()
	s, ok := m.streams[key]
	if ok {
		delete(m.streams, key)
	}
	m.mu.Unlock()

	if ok {
		close(s.done)
		m.log.Info("stream removed", "key", key)
	}
}

// List returns all active streams ordered by key.
func (m *Manager) List() []*Stream {
	m.mu.RLock()
	streams := make([]*Stream, 0, len(m.streams))
	for _, s := range m.streams {
		streams = append(streams, s)
	}
	m.mu.RUnlock()

	sort.Slice(streams, func(i, j int) bool { return streams[i].Key < streams[j].Key })
	return streams
}
