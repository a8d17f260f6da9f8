// Package rcon implements the two remote administrative wire protocols the
// wrapper can bridge operator commands onto: a length-prefixed binary TCP
// protocol and a JSON-over-WebSocket protocol. Both variants connect
// lazily on first use, reuse the connection across commands, and discard
// session state on socket failure so the next use reconnects.
package rcon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gameward/gameward/internal/config"
)

var (
	// ErrAuthFailed means the server rejected the configured secret.
	ErrAuthFailed = errors.New("rcon: authentication rejected")
	// ErrNotConfigured means remote routing was requested without credentials.
	ErrNotConfigured = errors.New("rcon: no credentials configured")
)

// Client sends one administrative command and returns the reply text.
// Implementations are safe for concurrent use; commands serialize through
// the single underlying connection.
type Client interface {
	Send(ctx context.Context, command string) (string, error)
	Close() error
}

// Notify receives server-originated messages that are not replies to any
// pending command.
type Notify func(line string)

// New selects the protocol variant from configuration.
func New(cfg config.RconConfig, notify Notify, logger *slog.Logger) (Client, error) {
	if !cfg.Configured() {
		return nil, ErrNotConfigured
	}
	switch cfg.Flavor {
	case "binary":
		return newBinaryClient(cfg, logger), nil
	case "websocket":
		return newWebsocketClient(cfg, notify, logger), nil
	default:
		return nil, fmt.Errorf("rcon: unknown protocol flavor %q", cfg.Flavor)
	}
}
