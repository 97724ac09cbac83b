package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/roqd/internal/certs"
	"github.com/zsiec/roqd/internal/ingest"
	"github.com/zsiec/roqd/internal/ingest/srt"
	"github.com/zsiec/roqd/internal/stream"
)

const shutdownTimeout = 5 * time.Second

// IngestLookup resolves a stream key to its ingest connection stats.
type IngestLookup func(key string) (ingest.IngestStats, bool)

// SRTPuller starts and stops SRT caller-mode pulls. srt.Caller implements it.
type SRTPuller interface {
	Pull(ctx context.Context, req srt.PullRequest) error
	Stop(streamKey string) error
	ActivePulls() []srt.PullRequest
}

// ServerConfig holds the configuration for the API Server.
type ServerConfig struct {
	Addr    string
	Cert    *certs.CertInfo
	Streams *stream.Manager
	// Metrics serves /metrics when non-nil.
	Metrics      http.Handler
	IngestLookup IngestLookup
	// SRT enables the /api/srt-pull routes when non-nil.
	SRT          SRTPuller
	DisableHTTP3 bool
	Log          *slog.Logger
}

// Server serves the API on TCP (HTTPS) and UDP (HTTP/3) at the same address.
type Server struct {
	config ServerConfig
	log    *slog.Logger
	// pullCtx scopes SRT pulls started through the API to the server's
	// lifetime rather than to the request.
	pullCtx context.Context
}

// NewServer creates an API Server. It returns an error if required fields
// are missing.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Cert == nil {
		return nil, errors.New("api: Cert is required")
	}
	if config.Addr == "" {
		return nil, errors.New("api: Addr is required")
	}
	if config.Streams == nil {
		return nil, errors.New("api: Streams is required")
	}
	log := config.Log
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		config:  config,
		log:     log.With("component", "api"),
		pullCtx: context.Background(),
	}, nil
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/streams", s.handleListStreams)
	mux.HandleFunc("GET /api/streams/{key}", s.handleStream)
	mux.HandleFunc("GET /api/streams/{key}/frame.png", s.handleFrame)
	mux.HandleFunc("GET /api/cert-hash", s.handleCertHash)
	mux.HandleFunc("GET /api/srt-pull", s.handleSRTPullList)
	mux.HandleFunc("POST /api/srt-pull", s.handleSRTPullCreate)
	mux.HandleFunc("DELETE /api/srt-pull", s.handleSRTPullStop)
	if s.config.Metrics != nil {
		mux.Handle("GET /metrics", s.config.Metrics)
	}
}

// Handler returns the API routes wrapped in the CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// Start serves HTTPS and, unless disabled, HTTP/3 until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.pullCtx = ctx
	handler := s.Handler()

	var h3 *http3.Server
	if !s.config.DisableHTTP3 {
		h3 = &http3.Server{
			Addr:      s.config.Addr,
			Handler:   handler,
			TLSConfig: http3.ConfigureTLSConfig(s.config.Cert.TLSConfig()),
			QUICConfig: &quic.Config{
				MaxIdleTimeout: 30 * time.Second,
			},
		}
		handler = altSvcMiddleware(h3, handler)
	}

	httpsSrv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           handler,
		TLSConfig:         s.config.Cert.TLSConfig("h2", "http/1.1"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Info("HTTPS API listening", "addr", s.config.Addr)
		if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTPS server: %w", err)
		}
		return nil
	})

	if h3 != nil {
		g.Go(func() error {
			s.log.Info("HTTP/3 API listening", "addr", s.config.Addr)
			err := h3.ListenAndServe()
			if gctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("HTTP/3 server: %w", err)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if h3 != nil {
			h3.Close()
		}
		return httpsSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// altSvcMiddleware advertises the HTTP/3 endpoint on TCP responses.
func altSvcMiddleware(h3 *http3.Server, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ProtoMajor < 3 {
			if err := h3.SetQUICHeaders(w.Header()); err != nil {
				slog.Debug("setting Alt-Svc header", "error", err)
			}
		}
		next.ServeHTTP(w, r)
	})
}
