package rcon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gameward/gameward/internal/config"
)

// wsRequest is the JSON command frame. The field names are part of the
// wire protocol.
type wsRequest struct {
	Identifier int    `json:"Identifier"`
	Message    string `json:"Message"`
	Name       string `json:"Name"`
}

type wsResponse struct {
	Identifier int    `json:"Identifier"`
	Message    string `json:"Message"`
	Type       string `json:"Type"`
	Stacktrace string `json:"Stacktrace"`
}

// websocketClient keeps one persistent socket for all commands. Replies
// are matched to callers by Identifier; anything unmatched is a
// server-originated message and goes to the notify callback.
type websocketClient struct {
	mu      sync.Mutex
	cfg     config.RconConfig
	notify  Notify
	logger  *slog.Logger
	conn    *websocket.Conn
	pending map[int]chan string
	nextID  int
}

func newWebsocketClient(cfg config.RconConfig, notify Notify, logger *slog.Logger) *websocketClient {
	return &websocketClient{
		cfg:     cfg,
		notify:  notify,
		logger:  logger,
		pending: make(map[int]chan string),
	}
}

func (c *websocketClient) Send(ctx context.Context, command string) (string, error) {
	c.mu.Lock()
	if err := c.connectLocked(); err != nil {
		c.mu.Unlock()
		return "", err
	}
	c.nextID++
	id := c.nextID
	ch := make(chan string, 1)
	c.pending[id] = ch
	conn := c.conn
	err := conn.WriteJSON(wsRequest{Identifier: id, Message: command, Name: "gameward"})
	c.mu.Unlock()

	if err != nil {
		c.drop(conn)
		return "", fmt.Errorf("rcon: send: %w", err)
	}

	timeout := c.cfg.CommandTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case reply := <-ch:
		return reply, nil
	case <-timer.C:
		c.forget(id)
		return "", fmt.Errorf("rcon: no reply to %q within %v", command, timeout)
	case <-ctx.Done():
		c.forget(id)
		return "", ctx.Err()
	}
}

func (c *websocketClient) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		c.drop(conn)
	}
	return nil
}

func (c *websocketClient) connectLocked() error {
	if c.conn != nil {
		return nil
	}
	url := fmt.Sprintf("ws://%s/%s", c.cfg.Addr(), c.cfg.Password)
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.DialTimeout}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("rcon: connect %s: %w", c.cfg.Addr(), err)
	}
	c.conn = conn
	go c.readLoop(conn)
	c.logger.Info("rcon: connected", "addr", c.cfg.Addr(), "flavor", "websocket")
	return nil
}

// readLoop owns reads for one connection generation. It exits when the
// socket errors, tearing the session down so the next Send reconnects.
func (c *websocketClient) readLoop(conn *websocket.Conn) {
	for {
		var resp wsResponse
		if err := conn.ReadJSON(&resp); err != nil {
			c.logger.Debug("rcon: socket closed", "err", err)
			c.drop(conn)
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.Identifier]
		if ok {
			delete(c.pending, resp.Identifier)
		}
		c.mu.Unlock()
		if ok {
			ch <- resp.Message
		} else if c.notify != nil && resp.Message != "" {
			c.notify(resp.Message)
		}
	}
}

// drop discards the session if conn is still the current one. Pending
// waiters are abandoned; their Sends time out.
func (c *websocketClient) drop(conn *websocket.Conn) {
	_ = conn.Close()
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.pending = make(map[int]chan string)
	}
	c.mu.Unlock()
}

func (c *websocketClient) forget(id int) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}
