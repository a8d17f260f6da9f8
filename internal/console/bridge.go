// Package console routes operator input lines to the child's standard
// input, to the remote administrative channel, or to a local shell,
// selected per line by prefix or by a runtime-switchable default mode.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/gameward/gameward/internal/config"
	"github.com/gameward/gameward/internal/logmirror"
	"github.com/gameward/gameward/internal/rcon"
)

// Line prefixes. Everything else follows the current default route.
const (
	PrefixShell = "::shell "
	PrefixStdin = "::stdin "
	PrefixRcon  = "::rcon "
	PrefixMode  = "::mode "
)

// Route names accepted by ::mode and config.
const (
	RouteStdin = "stdin"
	RouteRcon  = "rcon"
	RouteAuto  = "auto"
)

// StdinWriter returns the current child's stdin, or nil when no child is
// running. The supervisor keeps this pointing at the live child across
// restarts.
type StdinWriter func() io.Writer

type Bridge struct {
	rconCfg config.RconConfig
	stdin   StdinWriter
	mirror  *logmirror.Mirror
	logger  *slog.Logger

	modeMu sync.RWMutex
	mode   string

	clientMu sync.Mutex
	client   rcon.Client

	// shellTimeout bounds ::shell commands.
	shellTimeout time.Duration
}

func New(cfg *config.Config, stdin StdinWriter, mirror *logmirror.Mirror, logger *slog.Logger) *Bridge {
	return &Bridge{
		rconCfg:      cfg.Rcon,
		stdin:        stdin,
		mirror:       mirror,
		logger:       logger,
		mode:         cfg.Console.DefaultRoute,
		shellTimeout: 30 * time.Second,
	}
}

// Run consumes operator lines from r until EOF or cancellation.
func (b *Bridge) Run(ctx context.Context, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 64*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if _, err := b.Dispatch(ctx, scanner.Text()); err != nil {
			b.logger.Warn("console: dispatch failed", "err", err)
		}
	}
	// An oversized line or a read failure ends the loop; without a trace
	// the operator only sees an unresponsive console.
	if err := scanner.Err(); err != nil {
		b.logger.Error("console: input closed", "err", err)
	}
}

// Mode returns the current default route.
func (b *Bridge) Mode() string {
	b.modeMu.RLock()
	defer b.modeMu.RUnlock()
	return b.mode
}

// SetMode switches the persistent default route at runtime.
func (b *Bridge) SetMode(mode string) error {
	switch mode {
	case RouteStdin, RouteRcon, RouteAuto:
	default:
		return fmt.Errorf("console: unknown mode %q", mode)
	}
	b.modeMu.Lock()
	b.mode = mode
	b.modeMu.Unlock()
	b.logger.Info("console: default route changed", "mode", mode)
	return nil
}

// Dispatch routes one operator line and returns any reply text.
func (b *Bridge) Dispatch(ctx context.Context, line string) (string, error) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return "", nil
	}

	switch {
	case strings.HasPrefix(line, PrefixMode):
		return "", b.SetMode(strings.TrimSpace(strings.TrimPrefix(line, PrefixMode)))
	case strings.HasPrefix(line, PrefixShell):
		return b.runShell(ctx, strings.TrimPrefix(line, PrefixShell))
	case strings.HasPrefix(line, PrefixStdin):
		return "", b.toStdin(strings.TrimPrefix(line, PrefixStdin))
	case strings.HasPrefix(line, PrefixRcon):
		return b.toRemoteWithFallback(ctx, strings.TrimPrefix(line, PrefixRcon))
	}

	switch b.resolveRoute() {
	case RouteRcon:
		return b.toRemoteWithFallback(ctx, line)
	default:
		return "", b.toStdin(line)
	}
}

// resolveRoute maps auto to rcon when credentials exist, else stdin.
func (b *Bridge) resolveRoute() string {
	mode := b.Mode()
	if mode != RouteAuto {
		return mode
	}
	if b.rconCfg.Configured() {
		return RouteRcon
	}
	return RouteStdin
}

func (b *Bridge) toStdin(line string) error {
	w := b.stdin()
	if w == nil {
		return fmt.Errorf("console: no running child to receive %q", line)
	}
	_, err := io.WriteString(w, line+"\n")
	return err
}

// toRemoteWithFallback delivers via RCON, falling back to stdin with a
// notice when no credentials are configured.
func (b *Bridge) toRemoteWithFallback(ctx context.Context, command string) (string, error) {
	if !b.rconCfg.Configured() {
		b.logger.Warn("console: remote routing requested without credentials, using stdin", "command", command)
		b.mirror.Println("console", "no remote credentials, sent via stdin: "+command)
		return "", b.toStdin(command)
	}
	client, err := b.remoteClient()
	if err != nil {
		return "", err
	}
	reply, err := client.Send(ctx, command)
	if err != nil {
		return "", err
	}
	if reply != "" {
		b.mirror.Println("rcon", reply)
	}
	return reply, nil
}

// remoteClient lazily constructs the protocol client on first use.
func (b *Bridge) remoteClient() (rcon.Client, error) {
	b.clientMu.Lock()
	defer b.clientMu.Unlock()
	if b.client != nil {
		return b.client, nil
	}
	client, err := rcon.New(b.rconCfg, func(line string) {
		b.mirror.Println("rcon", line)
	}, b.logger)
	if err != nil {
		return nil, err
	}
	b.client = client
	return client, nil
}

// RemoteSend exposes the remote channel to other components (shutdown
// coordinator, planner, liveness probe) through the same lazy session.
func (b *Bridge) RemoteSend(ctx context.Context, command string) (string, error) {
	if !b.rconCfg.Configured() {
		return "", rcon.ErrNotConfigured
	}
	client, err := b.remoteClient()
	if err != nil {
		return "", err
	}
	return client.Send(ctx, command)
}

func (b *Bridge) runShell(ctx context.Context, command string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, b.shellTimeout)
	defer cancel()
	out, err := exec.CommandContext(cctx, "/bin/sh", "-c", command).CombinedOutput()
	text := strings.TrimRight(string(out), "\n")
	if text != "" {
		for _, l := range strings.Split(text, "\n") {
			b.mirror.Println("shell", l)
		}
	}
	if err != nil {
		return text, fmt.Errorf("console: shell command failed: %w", err)
	}
	return text, nil
}

// Close tears down the remote session if one was established.
func (b *Bridge) Close() error {
	b.clientMu.Lock()
	defer b.clientMu.Unlock()
	if b.client != nil {
		err := b.client.Close()
		b.client = nil
		return err
	}
	return nil
}
