// Package supervisor owns the child lifecycle: spawn, observe, classify
// the exit, and decide between restart and giving up. It is the only
// component that creates or discards child handles.
package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gameward/gameward/internal/archive"
	"github.com/gameward/gameward/internal/child"
	"github.com/gameward/gameward/internal/config"
	"github.com/gameward/gameward/internal/events"
	"github.com/gameward/gameward/internal/logmirror"
	"github.com/gameward/gameward/internal/metrics"
	"github.com/gameward/gameward/internal/shutdown"
	"github.com/gameward/gameward/internal/watchdog"
)

// Process exit codes of the wrapper itself. Any other value is the last
// child exit code passed through.
const (
	ExitNoArgs        = 64
	ExitBinaryMissing = 66
	ExitBridgeMissing = 69
)

// State names used for metrics, events and the status API.
const (
	StateIdle           = "idle"
	StateStarting       = "starting"
	StateRunning        = "running"
	StateExitedGraceful = "exited_graceful"
	StateExitedCrashed  = "exited_crashed"
	StateRestarting     = "restarting"
	StateStopped        = "stopped"
)

// Status is a point-in-time snapshot served by the HTTP API.
type Status struct {
	State            string        `json:"state"`
	PID              int           `json:"pid"`
	StartedAt        time.Time     `json:"started_at"`
	Uptime           time.Duration `json:"uptime"`
	LastExitCode     int           `json:"last_exit_code"`
	RestartsInWindow int           `json:"restarts_in_window"`
}

// Options collects the collaborators Run needs. Archiver and Sink may
// be nil when the corresponding feature is disabled.
type Options struct {
	Config   *config.Config
	Argv     []string
	Mirror   *logmirror.Mirror
	Archiver *archive.Archiver
	Sink     events.Sink
	Logger   *slog.Logger

	// ShutdownStarted reports whether an orderly teardown is in progress,
	// so a signal-initiated child exit is not classified as a crash.
	ShutdownStarted func() bool
}

type Supervisor struct {
	opts   Options
	ledger *Ledger

	mu       sync.Mutex
	handle   *child.Handle
	state    string
	lastExit int
}

func New(opts Options) *Supervisor {
	return &Supervisor{
		opts:   opts,
		ledger: NewLedger(opts.Config.Restart.Window, opts.Config.Restart.Max),
		state:  StateIdle,
	}
}

// Stdin returns the current child's stdin for the console bridge, nil
// when no child is running.
func (s *Supervisor) Stdin() io.Writer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil || s.handle.State() == child.StateExited {
		return nil
	}
	return s.handle.Stdin()
}

// Child exposes the current handle to the shutdown coordinator.
func (s *Supervisor) Child() shutdown.Stopper {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return nil
	}
	return s.handle
}

func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		State:            s.state,
		LastExitCode:     s.lastExit,
		RestartsInWindow: s.ledger.Count(),
	}
	if s.handle != nil && s.handle.State() != child.StateExited {
		st.PID = s.handle.PID()
		st.StartedAt = s.handle.StartedAt()
		st.Uptime = time.Since(st.StartedAt)
	}
	return st
}

// Run supervises the child until a terminal condition and returns the
// wrapper's process exit code.
func (s *Supervisor) Run(ctx context.Context) int {
	if len(s.opts.Argv) == 0 {
		s.opts.Logger.Error("supervisor: no startup arguments")
		return ExitNoArgs
	}

	for {
		// A teardown can begin while no child exists (during backoff, or
		// right after a crash). Spawning then would hand the coordinator a
		// child it will never stop, since its sequence has already run.
		if s.shutdownBegun() {
			s.transition(StateStopped)
			return s.lastCode()
		}

		code, terminal := s.runOnce(ctx)
		if terminal {
			return code
		}

		s.transition(StateRestarting)
		metrics.IncRestart()
		s.emit(events.TypeRestart, 0, s.lastCode(),
			fmt.Sprintf("restart %d within window", s.ledger.Count()))

		select {
		case <-ctx.Done():
			s.transition(StateStopped)
			return s.lastCode()
		case <-time.After(s.opts.Config.Restart.Backoff):
		}
	}
}

// runOnce spawns one child and sees it through to its exit. The bool
// result is true when the wrapper should exit with the returned code.
func (s *Supervisor) runOnce(ctx context.Context) (int, bool) {
	cfg := s.opts.Config
	log := s.opts.Logger

	s.transition(StateStarting)
	h, err := child.Spawn(cfg.ServerDir, s.opts.Argv)
	if err != nil {
		log.Error("supervisor: spawn failed", "err", err)
		s.transition(StateStopped)
		if errors.Is(err, child.ErrExecutableMissing) || errors.Is(err, child.ErrNotExecutable) {
			return ExitBinaryMissing, true
		}
		return 1, true
	}

	s.mu.Lock()
	s.handle = h
	s.mu.Unlock()

	pid := h.PID()
	log.Info("supervisor: child started", "pid", pid)
	metrics.IncStart()
	s.emit(events.TypeSpawn, pid, 0, "")
	s.transition(StateRunning)

	childCtx, cancel := context.WithCancel(ctx)
	var pipes, aux sync.WaitGroup

	wd := s.startWatchdog(childCtx, h, &aux)
	s.startReaders(h, wd, &pipes)

	aux.Add(1)
	go func() {
		defer aux.Done()
		s.trackUptime(childCtx, h)
	}()

	// Both pipes must hit EOF before Wait reaps the child, since Wait
	// closes them. EOF arrives when the process group is gone, so no
	// output of the old child can interleave with the next one.
	pipes.Wait()
	code := h.Wait()
	s.setLastCode(code)

	cancel()
	aux.Wait()
	s.opts.Mirror.FlushAll()
	metrics.SetUptime(0)

	log.Info("supervisor: child exited", "pid", pid, "code", code)
	return s.classify(ctx, pid, code)
}

// classify maps one child exit onto the next supervisor move.
func (s *Supervisor) classify(ctx context.Context, pid, code int) (int, bool) {
	cfg := s.opts.Config

	if s.shutdownBegun() {
		s.transition(StateStopped)
		s.emit(events.TypeShutdown, pid, code, "")
		return code, true
	}

	if code == 0 {
		s.transition(StateExitedGraceful)
		s.emit(events.TypeExit, pid, 0, "")
		return 0, true
	}

	s.transition(StateExitedCrashed)
	metrics.IncCrash()
	s.emit(events.TypeCrash, pid, code, "")

	if s.opts.Archiver != nil {
		if _, err := s.opts.Archiver.Capture(code); err != nil {
			s.opts.Logger.Warn("supervisor: crash archive failed", "err", err)
		}
	}

	if !cfg.Restart.Enabled {
		s.transition(StateStopped)
		return code, true
	}
	if ctx.Err() != nil {
		s.transition(StateStopped)
		return code, true
	}

	s.ledger.Record()
	metrics.SetRestartsInWindow(s.ledger.Count())
	if !s.ledger.Allowed() {
		s.opts.Logger.Error("supervisor: restart limit reached, giving up",
			"restarts", s.ledger.Count(), "window", cfg.Restart.Window)
		s.emit(events.TypeGiveUp, pid, code,
			fmt.Sprintf("%d restarts in %s", s.ledger.Count(), cfg.Restart.Window))
		s.transition(StateStopped)
		return code, true
	}
	return code, false
}

// startReaders launches the stdout/stderr copiers. When a ready marker
// is configured, stdout is additionally scanned for it to arm the
// watchdog.
func (s *Supervisor) startReaders(h *child.Handle, wd *watchdog.Watchdog, wg *sync.WaitGroup) {
	stdout := h.Stdout()
	if marker := s.opts.Config.Watchdog.ReadyMarker; marker != "" && wd != nil {
		stdout = newMarkerReader(stdout, marker, func() {
			s.opts.Logger.Info("supervisor: ready marker seen")
			wd.MarkReady()
		})
	}
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.opts.Mirror.Copy("stdout", stdout)
	}()
	go func() {
		defer wg.Done()
		s.opts.Mirror.Copy("stderr", h.Stderr())
	}()
}

func (s *Supervisor) startWatchdog(ctx context.Context, h *child.Handle, wg *sync.WaitGroup) *watchdog.Watchdog {
	cfg := s.opts.Config.Watchdog
	if !cfg.Enabled {
		return nil
	}
	wd := watchdog.New(watchdog.Config{
		IdleTimeout:  cfg.IdleTimeout,
		PollInterval: cfg.PollInterval,
		GracePeriod:  cfg.GracePeriod,
	}, watchdog.NewCPUTicks(h.PID()), h, s.opts.Logger)
	wd.OnStall = func(idle time.Duration) {
		metrics.IncStall()
		s.emit(events.TypeStall, h.PID(), 0, "idle "+idle.String())
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		wd.Run(ctx)
	}()
	return wd
}

func (s *Supervisor) trackUptime(ctx context.Context, h *child.Handle) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.Done():
			return
		case <-ticker.C:
			metrics.SetUptime(time.Since(h.StartedAt()).Seconds())
		}
	}
}

func (s *Supervisor) transition(to string) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()
	if from == to {
		return
	}
	metrics.RecordStateTransition(from, to)
	metrics.SetCurrentState(from, false)
	metrics.SetCurrentState(to, true)
	s.opts.Logger.Debug("supervisor: state", "from", from, "to", to)
}

func (s *Supervisor) emit(t events.Type, pid, code int, detail string) {
	if s.opts.Sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	e := events.Event{Type: t, OccurredAt: time.Now(), PID: pid, ExitCode: code, Detail: detail}
	if err := s.opts.Sink.Send(ctx, e); err != nil {
		s.opts.Logger.Warn("supervisor: event sink send failed", "type", t, "err", err)
	}
}

func (s *Supervisor) shutdownBegun() bool {
	return s.opts.ShutdownStarted != nil && s.opts.ShutdownStarted()
}

func (s *Supervisor) setLastCode(code int) {
	s.mu.Lock()
	s.lastExit = code
	s.mu.Unlock()
}

func (s *Supervisor) lastCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastExit
}

// markerReader passes bytes through while scanning for a marker string,
// invoking onFound once. A tail of the previous chunk is retained so a
// marker split across two reads is still seen.
type markerReader struct {
	r       io.Reader
	marker  []byte
	tail    []byte
	found   bool
	onFound func()
}

func newMarkerReader(r io.Reader, marker string, onFound func()) *markerReader {
	return &markerReader{r: r, marker: []byte(marker), onFound: onFound}
}

func (m *markerReader) Read(p []byte) (int, error) {
	n, err := m.r.Read(p)
	if n > 0 && !m.found {
		window := append(m.tail, p[:n]...)
		if bytes.Contains(window, m.marker) {
			m.found = true
			m.onFound()
		} else if keep := len(m.marker) - 1; len(window) > keep {
			m.tail = append(m.tail[:0], window[len(window)-keep:]...)
		} else {
			m.tail = append(m.tail[:0], window...)
		}
	}
	return n, err
}
