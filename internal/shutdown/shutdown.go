// Package shutdown runs the ordered teardown sequence exactly once,
// no matter how many triggers fire: remote quiesce commands first, then
// local hook commands, then child termination.
package shutdown

import (
	"context"
	"log/slog"
	"os/exec"
	"strings"
	"sync/atomic"
	"time"
)

// RemoteFunc delivers one command over the remote administrative channel.
type RemoteFunc func(ctx context.Context, command string) (string, error)

// Stopper terminates the child, escalating after the grace period.
type Stopper interface {
	StopAndWait(grace time.Duration)
	Alive() bool
}

type Config struct {
	RemoteCommands []string
	LocalCommands  []string
	Timeout        time.Duration
}

type Coordinator struct {
	cfg    Config
	remote RemoteFunc
	logger *slog.Logger

	started atomic.Bool
	done    chan struct{}
}

func New(cfg Config, remote RemoteFunc, logger *slog.Logger) *Coordinator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Coordinator{
		cfg:    cfg,
		remote: remote,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Initiate runs the teardown sequence against child. Concurrent and
// repeated calls beyond the first block until the sequence completes and
// then return; the sequence itself runs exactly once.
func (c *Coordinator) Initiate(reason string, child Stopper) {
	if !c.started.CompareAndSwap(false, true) {
		<-c.done
		return
	}
	defer close(c.done)

	c.logger.Info("shutdown: starting teardown", "reason", reason)

	if child != nil && child.Alive() {
		c.runRemote()
	}
	c.runLocal()

	if child != nil && child.Alive() {
		child.StopAndWait(c.cfg.Timeout)
	}
	c.logger.Info("shutdown: teardown complete")
}

// Started reports whether a teardown has begun. The supervisor uses it to
// tell an operator-requested exit from a crash.
func (c *Coordinator) Started() bool {
	return c.started.Load()
}

// Done is closed once the teardown sequence has finished.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// runRemote issues each quiesce command with its own deadline. A failed
// or unanswered command never blocks the rest of the sequence.
func (c *Coordinator) runRemote() {
	if c.remote == nil {
		return
	}
	for _, command := range c.cfg.RemoteCommands {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
		reply, err := c.remote(ctx, command)
		cancel()
		if err != nil {
			c.logger.Warn("shutdown: remote command failed", "command", command, "err", err)
			continue
		}
		c.logger.Info("shutdown: remote command sent", "command", command, "reply", reply)
	}
}

// runLocal runs each hook through the shell, continuing past failures.
func (c *Coordinator) runLocal() {
	for _, command := range c.cfg.LocalCommands {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
		out, err := exec.CommandContext(ctx, "/bin/sh", "-c", command).CombinedOutput()
		cancel()
		if err != nil {
			c.logger.Warn("shutdown: local command failed",
				"command", command, "err", err, "output", strings.TrimSpace(string(out)))
			continue
		}
		c.logger.Info("shutdown: local command finished", "command", command)
	}
}
