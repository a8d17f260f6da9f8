package rcon

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gameward/gameward/internal/config"
)

// Binary protocol message types.
const (
	typeExec = 2
	typeAuth = 3
)

const maxFrameSize = 1 << 20

// binaryClient speaks the length-prefixed little-endian TCP protocol:
// {int32 length}{int32 requestId}{int32 type}{body}{0x00}{0x00}.
// Authentication failure is signalled by an echoed requestId of -1.
// Replies to execute frames are best-effort; the protocol guarantees no
// request/response pairing.
type binaryClient struct {
	mu     sync.Mutex
	cfg    config.RconConfig
	logger *slog.Logger
	conn   net.Conn
	reqID  int32
}

func newBinaryClient(cfg config.RconConfig, logger *slog.Logger) *binaryClient {
	return &binaryClient{cfg: cfg, logger: logger}
}

func (c *binaryClient) Send(ctx context.Context, command string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connectLocked(ctx); err != nil {
		return "", err
	}

	c.reqID++
	id := c.reqID
	if err := writeFrame(c.conn, id, typeExec, command); err != nil {
		c.dropLocked()
		return "", fmt.Errorf("rcon: send: %w", err)
	}

	// Read one reply opportunistically. A quiet server is not an error.
	timeout := c.cfg.CommandTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	_, _, body, err := readFrame(c.conn)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return "", nil
		}
		c.logger.Debug("rcon: reply read failed, dropping session", "err", err)
		c.dropLocked()
		return "", nil
	}
	return body, nil
}

func (c *binaryClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropLocked()
	return nil
}

// connectLocked dials and authenticates if there is no live session.
func (c *binaryClient) connectLocked(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	d := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", c.cfg.Addr())
	if err != nil {
		return fmt.Errorf("rcon: connect %s: %w", c.cfg.Addr(), err)
	}

	c.reqID++
	if err := writeFrame(conn, c.reqID, typeAuth, c.cfg.Password); err != nil {
		_ = conn.Close()
		return fmt.Errorf("rcon: auth: %w", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.DialTimeout))
	id, _, _, err := readFrame(conn)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("rcon: auth reply: %w", err)
	}
	if id == -1 {
		_ = conn.Close()
		return ErrAuthFailed
	}

	c.conn = conn
	c.logger.Info("rcon: connected", "addr", c.cfg.Addr(), "flavor", "binary")
	return nil
}

func (c *binaryClient) dropLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func writeFrame(w io.Writer, id, typ int32, body string) error {
	size := int32(4 + 4 + len(body) + 2)
	buf := make([]byte, 0, size+4)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(size))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(id))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(typ))
	buf = append(buf, body...)
	buf = append(buf, 0, 0)
	_, err := w.Write(buf)
	return err
}

func readFrame(r io.Reader) (id, typ int32, body string, err error) {
	var sizeBuf [4]byte
	if _, err = io.ReadFull(r, sizeBuf[:]); err != nil {
		return 0, 0, "", err
	}
	size := int32(binary.LittleEndian.Uint32(sizeBuf[:]))
	if size < 10 || size > maxFrameSize {
		return 0, 0, "", fmt.Errorf("invalid frame size %d", size)
	}
	payload := make([]byte, size)
	if _, err = io.ReadFull(r, payload); err != nil {
		return 0, 0, "", err
	}
	id = int32(binary.LittleEndian.Uint32(payload[0:4]))
	typ = int32(binary.LittleEndian.Uint32(payload[4:8]))
	body = string(payload[8 : size-2])
	return id, typ, body, nil
}
