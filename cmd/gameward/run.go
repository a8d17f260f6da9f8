package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/gameward/gameward/internal/archive"
	"github.com/gameward/gameward/internal/argv"
	"github.com/gameward/gameward/internal/config"
	"github.com/gameward/gameward/internal/console"
	"github.com/gameward/gameward/internal/events"
	"github.com/gameward/gameward/internal/events/factory"
	"github.com/gameward/gameward/internal/logger"
	"github.com/gameward/gameward/internal/logmirror"
	"github.com/gameward/gameward/internal/metrics"
	"github.com/gameward/gameward/internal/planner"
	"github.com/gameward/gameward/internal/rcon"
	"github.com/gameward/gameward/internal/server"
	"github.com/gameward/gameward/internal/shutdown"
	"github.com/gameward/gameward/internal/supervisor"
	gtls "github.com/gameward/gameward/internal/tls"
)

func createRunCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run and supervise the game server",
		Long: `Run decodes the startup arguments, spawns the server and supervises it
until a terminal condition. The wrapper's exit code is the last child
exit code, or a distinct code for startup failures.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			code := runWrapper(globalFlags.ConfigPath)
			if code != 0 {
				os.Exit(code)
			}
			return nil
		},
	}
}

func runWrapper(configPath string) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		log := logger.New(logger.Config{})
		log.Error("invalid configuration", "err", err)
		// A remote-only console with unusable credentials or flavor means
		// the bridge cannot exist at all.
		var cerr *config.Error
		if errors.As(err, &cerr) && (strings.HasPrefix(cerr.Field, "rcon") || strings.HasPrefix(cerr.Field, "console")) {
			return supervisor.ExitBridgeMissing
		}
		return 1
	}

	log := logger.New(logger.Config{
		Level:      cfg.Log.Level,
		File:       cfg.Log.WrapperFile,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})

	argvv, err := argv.Decode(argv.Source{
		File:   cfg.Args.File,
		JSON:   cfg.Args.JSON,
		Tokens: cfg.Args.Tokens,
	})
	if err != nil {
		log.Error("cannot decode startup arguments", "err", err)
		return supervisor.ExitNoArgs
	}
	log.Info("startup arguments decoded", "argv", argvv)

	// Remote-only console requires a constructible protocol client.
	if cfg.Console.DefaultRoute == console.RouteRcon {
		probe, err := rcon.New(cfg.Rcon, nil, log)
		if err != nil {
			log.Error("console bridge unavailable", "err", err)
			return supervisor.ExitBridgeMissing
		}
		_ = probe.Close()
	}

	mirror, err := logmirror.New(logmirror.Config{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	}, os.Stdout)
	if err != nil {
		log.Error("cannot open child log", "err", err)
		return 1
	}
	defer func() { _ = mirror.Close() }()

	var sink events.Sink
	if cfg.Events.DSN != "" {
		sink, err = factory.NewSinkFromDSN(cfg.Events.DSN)
		if err != nil {
			log.Warn("event sink disabled", "err", err)
		} else {
			defer func() { _ = sink.Close() }()
		}
	}

	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			log.Warn("metrics registration failed", "err", err)
		}
		if cfg.Metrics.Listen != "" {
			go serveMetrics(cfg.Metrics.Listen, log)
		}
	}

	var archiver *archive.Archiver
	if cfg.Archive.Enabled {
		archiver = archive.New(archive.Config{
			Dir:      cfg.Archive.Dir,
			LogFile:  cfg.Log.File,
			ExtraDir: cfg.Archive.ExtraDir,
		}, log)
	}

	var sup *supervisor.Supervisor
	bridge := console.New(cfg, func() io.Writer {
		if sup == nil {
			return nil
		}
		return sup.Stdin()
	}, mirror, log)
	defer func() { _ = bridge.Close() }()

	coordinator := shutdown.New(shutdown.Config{
		RemoteCommands: cfg.Shutdown.RemoteCommands,
		LocalCommands:  cfg.Shutdown.LocalCommands,
		Timeout:        cfg.Shutdown.Timeout,
	}, bridge.RemoteSend, log)

	sup = supervisor.New(supervisor.Options{
		Config:          cfg,
		Argv:            argvv,
		Mirror:          mirror,
		Archiver:        archiver,
		Sink:            sink,
		Logger:          log,
		ShutdownStarted: coordinator.Started,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Once the teardown sequence has run there is nothing left to
	// supervise; cancel so a restart backoff does not outlive it.
	go func() {
		<-coordinator.Done()
		cancel()
	}()

	if cfg.Log.TailFile != "" {
		tailer := &logmirror.Tailer{
			Path:   cfg.Log.TailFile,
			Source: "tail",
			Mirror: mirror,
			Logger: log,
		}
		go tailer.Run(ctx)
	}

	if len(cfg.Tasks) > 0 {
		plan := planner.New(bridge.Dispatch, log)
		for i := range cfg.Tasks {
			t := cfg.Tasks[i]
			if err := plan.Add(&planner.Task{Name: t.Name, Schedule: t.Schedule, Line: t.Line}); err != nil {
				log.Error("invalid task", "task", t.Name, "err", err)
				return 1
			}
		}
		if err := plan.Start(); err != nil {
			log.Error("planner start failed", "err", err)
			return 1
		}
		defer plan.Stop()
	}

	if cfg.API.Listen != "" {
		go serveAPI(cfg, sup, bridge, log)
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for sig := range sigCh {
			log.Info("signal received", "signal", sig.String())
			go coordinator.Initiate(sig.String(), sup.Child())
		}
	}()
	defer signal.Stop(sigCh)

	go bridge.Run(ctx, os.Stdin)

	code := sup.Run(ctx)

	// Terminal paths without a signal still get the local hooks.
	coordinator.Initiate("exit", sup.Child())

	log.Info("wrapper exiting", "code", code)
	return code
}

func serveMetrics(listen string, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("metrics listener failed", "err", err)
	}
}

func serveAPI(cfg *config.Config, sup *supervisor.Supervisor, bridge *console.Bridge, log *slog.Logger) {
	router := server.NewRouter(sup.Status, bridge.Dispatch, cfg.API.BasePath, cfg.API.Token)
	srv := server.NewServer(cfg.API.Listen, router)

	tlsCfg, err := gtls.Setup(cfg.API.TLS)
	if err != nil {
		log.Error("api tls setup failed", "err", err)
		return
	}
	if tlsCfg != nil {
		srv.TLSConfig = tlsCfg
		err = srv.ListenAndServeTLS("", "")
	} else {
		err = srv.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		log.Error("api listener failed", "err", err)
	}
}
