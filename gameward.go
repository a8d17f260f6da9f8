// Package gameward wraps a dedicated game server process: argument
// decoding, supervision with crash-loop protection and a stall watchdog,
// a console bridge to stdin or RCON, log mirroring and crash archiving.
//
// This facade re-exports the pieces needed to embed the wrapper; the
// gameward binary under cmd/gameward is a thin consumer of it.
package gameward

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gameward/gameward/internal/archive"
	"github.com/gameward/gameward/internal/argv"
	cfg "github.com/gameward/gameward/internal/config"
	"github.com/gameward/gameward/internal/console"
	"github.com/gameward/gameward/internal/events"
	"github.com/gameward/gameward/internal/events/factory"
	"github.com/gameward/gameward/internal/logger"
	"github.com/gameward/gameward/internal/logmirror"
	"github.com/gameward/gameward/internal/metrics"
	"github.com/gameward/gameward/internal/shutdown"
	"github.com/gameward/gameward/internal/supervisor"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = cfg.Config

type ArgvSource = argv.Source

type Status = supervisor.Status

type Event = events.Event

type EventSink = events.Sink

// Distinct wrapper exit codes; any other value is the child's.
const (
	ExitNoArgs        = supervisor.ExitNoArgs
	ExitBinaryMissing = supervisor.ExitBinaryMissing
	ExitBridgeMissing = supervisor.ExitBridgeMissing
)

// LoadConfig reads the TOML config at path with GAMEWARD_ env overrides.
func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// DecodeArgs resolves and repairs the startup argument vector.
func DecodeArgs(src ArgvSource) ([]string, error) { return argv.Decode(src) }

// NewLogger builds the wrapper's own slog logger per the log config.
func NewLogger(c *Config) *slog.Logger {
	return logger.New(logger.Config{
		Level:      c.Log.Level,
		File:       c.Log.WrapperFile,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
		Compress:   c.Log.Compress,
	})
}

// NewEventSink builds a lifecycle event sink from a DSN
// (sqlite://, postgres://, clickhouse://).
func NewEventSink(dsn string) (EventSink, error) { return factory.NewSinkFromDSN(dsn) }

// Wrapper bundles a configured supervisor with its console bridge and
// shutdown coordinator for embedding.
type Wrapper struct {
	Supervisor  *supervisor.Supervisor
	Bridge      *console.Bridge
	Coordinator *shutdown.Coordinator
	Mirror      *logmirror.Mirror
}

// NewWrapper wires the core components. console renders the merged child
// output; sink and the archive settings come from c.
func NewWrapper(c *Config, argvv []string, consoleOut io.Writer, sink EventSink, log *slog.Logger) (*Wrapper, error) {
	mirror, err := logmirror.New(logmirror.Config{
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
		Compress:   c.Log.Compress,
	}, consoleOut)
	if err != nil {
		return nil, err
	}

	var sup *supervisor.Supervisor
	bridge := console.New(c, func() io.Writer {
		if sup == nil {
			return nil
		}
		return sup.Stdin()
	}, mirror, log)

	coordinator := shutdown.New(shutdown.Config{
		RemoteCommands: c.Shutdown.RemoteCommands,
		LocalCommands:  c.Shutdown.LocalCommands,
		Timeout:        c.Shutdown.Timeout,
	}, bridge.RemoteSend, log)

	var archiver *archive.Archiver
	if c.Archive.Enabled {
		archiver = archive.New(archive.Config{
			Dir:      c.Archive.Dir,
			LogFile:  c.Log.File,
			ExtraDir: c.Archive.ExtraDir,
		}, log)
	}

	sup = supervisor.New(supervisor.Options{
		Config:          c,
		Argv:            argvv,
		Mirror:          mirror,
		Archiver:        archiver,
		Sink:            sink,
		Logger:          log,
		ShutdownStarted: coordinator.Started,
	})

	return &Wrapper{Supervisor: sup, Bridge: bridge, Coordinator: coordinator, Mirror: mirror}, nil
}

// Run supervises the child until a terminal condition and returns the
// wrapper exit code.
func (w *Wrapper) Run(ctx context.Context) int { return w.Supervisor.Run(ctx) }

// Close releases the bridge session and the persistent log.
func (w *Wrapper) Close() error {
	_ = w.Bridge.Close()
	return w.Mirror.Close()
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the
// default registry. It blocks in the caller goroutine.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
