package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/roqd/internal/api"
	"github.com/zsiec/roqd/internal/certs"
	"github.com/zsiec/roqd/internal/config"
	"github.com/zsiec/roqd/internal/ingest"
	fileingest "github.com/zsiec/roqd/internal/ingest/file"
	srtingest "github.com/zsiec/roqd/internal/ingest/srt"
	"github.com/zsiec/roqd/internal/pipeline"
	"github.com/zsiec/roqd/internal/stats"
	"github.com/zsiec/roqd/internal/stream"
)

var version = "dev"

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "roqd:", err)
		os.Exit(2)
	}

	level := slog.LevelInfo
	if cfg.Debug || os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if err := run(cfg); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	cert, err := certs.Generate(certs.Options{
		Validity: cfg.API.CertValidity,
		Hosts:    cfg.API.CertHosts,
	})
	if err != nil {
		return fmt.Errorf("generate certificate: %w", err)
	}
	slog.Info("certificate generated",
		"fingerprint", cert.FingerprintBase64(),
		"expires", cert.NotAfter.Format(time.RFC3339),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := &app{
		cfg: cfg,
		mgr: stream.NewManager(nil),
	}
	if !cfg.DisableMetrics {
		a.metrics = stats.NewMetrics()
	}

	slog.Info("roqd starting",
		"version", version,
		"srt", cfg.SRT.Addr,
		"api", cfg.API.Addr,
		"files", len(cfg.Files),
		"realtime", cfg.Decode.Realtime,
		"cert_hash", cert.FingerprintBase64(),
	)

	g, ctx := errgroup.WithContext(ctx)

	// The registry callback captures the errgroup context so streams shut
	// down when any component fails.
	a.registry = ingest.NewRegistry(func(key string, input io.Reader, format ingest.InputFormat) {
		a.handleNewStream(ctx, key, input, format)
	})
	srtCaller := srtingest.NewCaller(a.registry, nil)

	apiCfg := api.ServerConfig{
		Addr:         cfg.API.Addr,
		Cert:         cert,
		Streams:      a.mgr,
		IngestLookup: a.lookupIngest,
		SRT:          srtCaller,
		DisableHTTP3: cfg.API.DisableHTTP3,
	}
	if a.metrics != nil {
		apiCfg.Metrics = a.metrics.Handler()
	}
	apiSrv, err := api.NewServer(apiCfg)
	if err != nil {
		return err
	}

	g.Go(func() error {
		return apiSrv.Start(ctx)
	})

	if cfg.SRT.Addr != "" {
		srtSrv := srtingest.NewServer(cfg.SRT.Addr, a.registry, nil)
		g.Go(func() error {
			return srtSrv.Start(ctx)
		})
	}

	files := fileingest.NewSource(a.registry, nil)
	for _, path := range cfg.Files {
		g.Go(func() error {
			key, err := files.Play(ctx, path)
			if err != nil {
				slog.Error("file playback failed", "path", path, "error", err)
				return nil
			}
			slog.Info("file playback complete", "stream_key", key)
			return nil
		})
	}

	return g.Wait()
}

type app struct {
	cfg      *config.Config
	mgr      *stream.Manager
	registry *ingest.Registry
	metrics  *stats.Metrics
}

func (a *app) lookupIngest(key string) (ingest.IngestStats, bool) {
	s, ok := a.registry.Get(key)
	if !ok {
		return ingest.IngestStats{}, false
	}
	return s.IngestStats(), true
}

func (a *app) handleNewStream(ctx context.Context, key string, input io.Reader, format ingest.InputFormat) {
	// The source blocks writing into input until it is read to EOF, so
	// every exit path drains it.
	defer io.Copy(io.Discard, input)

	protocol := "unknown"
	if s, ok := a.registry.Get(key); ok {
		protocol = s.Protocol
	}
	slog.Info("new stream from ingest", "key", key, "format", format, "protocol", protocol)

	st, created := a.mgr.Create(key, protocol)
	if !created {
		slog.Warn("rejecting duplicate stream connection", "key", key)
		return
	}
	defer a.mgr.Remove(key)

	rc, err := ingest.OpenInput(input, format)
	if err != nil {
		slog.Error("open input", "stream", key, "error", err)
		return
	}
	defer rc.Close()

	sm := a.metrics.ForStream(key)
	defer sm.Release()

	p := pipeline.New(key, rc, st.Relay, pipeline.Config{
		Session:        a.cfg.Session(),
		AbortOnCorrupt: a.cfg.Decode.AbortOnCorrupt,
		Realtime:       a.cfg.Decode.Realtime,
		Metrics:        sm,
	})
	p.SetProtocol(protocol)
	st.SetPipeline(p)

	if err := p.Run(ctx); err != nil {
		slog.Error("pipeline error", "stream", key, "error", err)
	}
	snap := p.StreamSnapshot()
	slog.Info("stream ended", "key", key,
		"frames", snap.Decode.Video.TotalFrames,
		"corrupt", snap.Decode.Errors.CorruptChunks,
		"truncated", snap.Decode.Errors.Truncated,
	)
}
