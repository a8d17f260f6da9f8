// Package watchdog supplies the liveness signal OS exit status cannot: it
// detects a child that is alive but making no forward progress and forces
// it to exit, leaving the restart decision to the supervisor.
package watchdog

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

type Config struct {
	IdleTimeout  time.Duration
	PollInterval time.Duration
	GracePeriod  time.Duration
}

// Target is the child the watchdog may signal. It never restarts the
// target; it only ever terminates it.
type Target interface {
	Alive() bool
	Terminate() error
	Kill() error
}

type Watchdog struct {
	cfg       Config
	indicator Indicator
	target    Target
	logger    *slog.Logger

	// OnStall fires once when the idle threshold is reached, before any
	// signal is sent. Optional.
	OnStall func(idle time.Duration)

	ready atomic.Bool
}

func New(cfg Config, ind Indicator, target Target, logger *slog.Logger) *Watchdog {
	return &Watchdog{cfg: cfg, indicator: ind, target: target, logger: logger}
}

// MarkReady arms the watchdog immediately, used when a startup-completion
// marker is seen in the log stream. Without it the watchdog arms on the
// first observed progress, avoiding false positives during slow boot.
func (w *Watchdog) MarkReady() {
	w.ready.Store(true)
}

// Run polls until ctx is cancelled, the target dies, or a stall is
// escalated. It is cooperative: cancellation is observed between polls.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	armed := false
	var last float64
	var idle time.Duration

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if !w.target.Alive() {
			return
		}

		v, err := w.indicator.Sample()
		if err != nil {
			// Sampling can race with process exit; the next tick resolves it.
			w.logger.Debug("watchdog: sample failed", "indicator", w.indicator.Describe(), "err", err)
			continue
		}

		if !armed {
			if v > 0 || w.ready.Load() {
				armed = true
				last = v
				w.logger.Debug("watchdog: armed", "indicator", w.indicator.Describe())
			}
			continue
		}

		if v > last {
			last = v
			idle = 0
			continue
		}

		idle += w.cfg.PollInterval
		if idle < w.cfg.IdleTimeout {
			continue
		}

		w.logger.Warn("watchdog: no progress, terminating child",
			"indicator", w.indicator.Describe(), "idle", idle)
		if w.OnStall != nil {
			w.OnStall(idle)
		}
		w.escalate(ctx)
		return
	}
}

// escalate sends SIGTERM, waits up to the grace period for a voluntary
// exit, then SIGKILLs.
func (w *Watchdog) escalate(ctx context.Context) {
	_ = w.target.Terminate()

	deadline := time.NewTimer(w.cfg.GracePeriod)
	defer deadline.Stop()
	check := time.NewTicker(200 * time.Millisecond)
	defer check.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			if w.target.Alive() {
				w.logger.Warn("watchdog: grace period expired, killing child")
				_ = w.target.Kill()
			}
			return
		case <-check.C:
			if !w.target.Alive() {
				return
			}
		}
	}
}
