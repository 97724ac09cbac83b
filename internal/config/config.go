// Package config loads roqd settings from an optional YAML file, ROQD_*
// environment variables and command-line flags, in that order of
// precedence (flags win).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kkyr/fig"
	"github.com/spf13/pflag"

	"github.com/zsiec/roqd/internal/roq"
)

// EnvPrefix prefixes environment overrides, e.g. ROQD_SRT_ADDR.
const EnvPrefix = "ROQD"

// FileName is the configuration file searched for in DefaultDirs.
const FileName = "roqd.yaml"

// DefaultDirs are searched for FileName when no --config path is given.
var DefaultDirs = []string{".", "configs"}

type SRT struct {
	// Addr is the SRT listen address; empty disables the listener.
	Addr string `fig:"addr" default:":6000"`
}

type API struct {
	Addr         string        `fig:"addr" default:":4443"`
	CertValidity time.Duration `fig:"certValidity" default:"336h"`
	CertHosts    []string      `fig:"certHosts"`
	// DisableHTTP3 serves the API over TCP only.
	DisableHTTP3 bool `fig:"disableHttp3"`
}

type Decode struct {
	SampleRate     int    `fig:"sampleRate" default:"22050"`
	SkipAudio      bool   `fig:"skipAudio"`
	AbortOnCorrupt bool   `fig:"abortOnCorrupt"`
	MaxChunkSize   uint32 `fig:"maxChunkSize" default:"16777216"`
	// Realtime paces frames at the stream's frame rate instead of decoding
	// as fast as input arrives.
	Realtime bool `fig:"realtime"`
}

// Config is the complete service configuration.
type Config struct {
	SRT            SRT    `fig:"srt"`
	API            API    `fig:"api"`
	Decode         Decode `fig:"decode"`
	DisableMetrics bool   `fig:"disableMetrics"`
	Debug          bool   `fig:"debug"`
	// Files are RoQ files played as streams at startup.
	Files []string `fig:"files"`
}

// Load reads the configuration for the given command-line arguments
// (without the program name). Positional arguments are appended to Files.
func Load(args []string) (*Config, error) {
	path := configPathFromArgs(args)
	c := &Config{}
	if err := c.loadFile(path); err != nil {
		return nil, err
	}

	fs := pflag.NewFlagSet("roqd", pflag.ContinueOnError)
	fs.StringVarP(&path, "config", "c", path, "Configuration file path")
	c.AddFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	c.Files = append(c.Files, fs.Args()...)

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) loadFile(path string) error {
	if path == "" {
		for _, dir := range DefaultDirs {
			if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
				path = filepath.Join(dir, FileName)
				break
			}
		}
	}
	if path == "" {
		if err := fig.Load(c, fig.IgnoreFile(), fig.UseEnv(EnvPrefix)); err != nil {
			return fmt.Errorf("load config from env: %w", err)
		}
		return nil
	}

	if err := fig.Load(c, fig.File(filepath.Base(path)), fig.Dirs(filepath.Dir(path)), fig.UseEnv(EnvPrefix)); err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	return nil
}

// AddFlags registers command-line overrides, defaulting to the loaded values.
func (c *Config) AddFlags(fs *pflag.FlagSet) *Config {
	fs.StringVar(&c.SRT.Addr, "srt.addr", c.SRT.Addr, "SRT listen address (empty disables SRT ingest)")
	fs.StringVar(&c.API.Addr, "api.addr", c.API.Addr, "HTTPS and HTTP/3 API address")
	fs.DurationVar(&c.API.CertValidity, "api.certValidity", c.API.CertValidity, "Self-signed certificate validity")
	fs.StringSliceVar(&c.API.CertHosts, "api.certHosts", c.API.CertHosts, "Extra certificate host names or IPs")
	fs.BoolVar(&c.API.DisableHTTP3, "api.disableHttp3", c.API.DisableHTTP3, "Serve the API over TCP only")
	fs.IntVar(&c.Decode.SampleRate, "decode.sampleRate", c.Decode.SampleRate, "Audio sample rate stamped on decoded audio")
	fs.BoolVar(&c.Decode.SkipAudio, "decode.skipAudio", c.Decode.SkipAudio, "Discard audio chunks without decoding")
	fs.BoolVar(&c.Decode.AbortOnCorrupt, "decode.abortOnCorrupt", c.Decode.AbortOnCorrupt, "Stop a stream at its first corrupt chunk")
	fs.Uint32Var(&c.Decode.MaxChunkSize, "decode.maxChunkSize", c.Decode.MaxChunkSize, "Largest accepted chunk payload in bytes")
	fs.BoolVarP(&c.Decode.Realtime, "realtime", "r", c.Decode.Realtime, "Pace decoded frames at the stream frame rate")
	fs.BoolVar(&c.DisableMetrics, "disableMetrics", c.DisableMetrics, "Do not serve /metrics")
	fs.BoolVarP(&c.Debug, "debug", "d", c.Debug, "Enable debug logging")
	return c
}

// Validate rejects settings the decoder cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.API.Addr == "" {
		errs = append(errs, errors.New("api.addr is required"))
	}
	if c.Decode.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("decode.sampleRate must be positive, got %d", c.Decode.SampleRate))
	}
	if c.Decode.MaxChunkSize == 0 {
		errs = append(errs, errors.New("decode.maxChunkSize must be positive"))
	}
	for _, f := range c.Files {
		if strings.TrimSpace(f) == "" {
			errs = append(errs, errors.New("empty file name"))
			break
		}
	}
	return errors.Join(errs...)
}

// Session returns the decoder settings.
func (c *Config) Session() roq.Config {
	return roq.Config{
		SampleRate:   c.Decode.SampleRate,
		SkipAudio:    c.Decode.SkipAudio,
		MaxChunkSize: c.Decode.MaxChunkSize,
	}
}

// configPathFromArgs finds --config/-c ahead of the full flag parse, since
// the file must be loaded before flags override it.
func configPathFromArgs(args []string) string {
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			break
		}
		for _, name := range []string{"--config", "-c"} {
			if a == name && i+1 < len(args) {
				return args[i+1]
			}
			if v, ok := strings.CutPrefix(a, name+"="); ok {
				return v
			}
		}
	}
	return ""
}
