package logmirror

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation parameters for the persistent child log.
const (
	DefaultMaxSizeMB  = 50
	DefaultMaxBackups = 5
	DefaultMaxAgeDays = 14
)

// Config describes the persistent log destination.
type Config struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Mirror duplicates raw byte chunks from named sources into a persistent
// log file and a line-oriented console rendering. The trailing unterminated
// fragment of each source is buffered until the next chunk completes it and
// is flushed when the source ends.
type Mirror struct {
	mu      sync.Mutex
	raw     io.WriteCloser
	console io.Writer
	partial map[string]*bytes.Buffer
	now     func() time.Time
}

// New opens the persistent log. Content from a previous wrapper run is
// rotated aside so each startup begins with a fresh file; child restarts
// within one run keep appending.
func New(cfg Config, console io.Writer) (*Mirror, error) {
	var raw io.WriteCloser
	if cfg.File != "" {
		l := &lj.Logger{
			Filename:   cfg.File,
			MaxSize:    valOr(cfg.MaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: valOr(cfg.MaxBackups, DefaultMaxBackups),
			MaxAge:     valOr(cfg.MaxAgeDays, DefaultMaxAgeDays),
			Compress:   cfg.Compress,
		}
		if st, err := os.Stat(cfg.File); err == nil && st.Size() > 0 {
			if err := l.Rotate(); err != nil {
				return nil, fmt.Errorf("rotate previous log: %w", err)
			}
		}
		raw = l
	}
	return &Mirror{
		raw:     raw,
		console: console,
		partial: make(map[string]*bytes.Buffer),
		now:     time.Now,
	}, nil
}

func valOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Ingest appends p untouched to the persistent file and renders any
// complete lines to the console, retaining the trailing fragment.
func (m *Mirror) Ingest(source string, p []byte) {
	if len(p) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.raw != nil {
		_, _ = m.raw.Write(p)
	}

	buf, ok := m.partial[source]
	if !ok {
		buf = &bytes.Buffer{}
		m.partial[source] = buf
	}
	buf.Write(p)
	for {
		i := bytes.IndexByte(buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := buf.Next(i + 1)
		m.renderLocked(source, string(bytes.TrimRight(line, "\r\n")))
	}
}

// Println renders a single already-complete line, bypassing the partial
// buffers. Used for wrapper-originated messages (RCON replies, notices).
func (m *Mirror) Println(source, line string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.renderLocked(source, line)
}

func (m *Mirror) renderLocked(source, line string) {
	if m.console == nil {
		return
	}
	fmt.Fprintf(m.console, "%s [%s] %s\n", m.now().Format("15:04:05"), source, line)
}

// Flush renders the retained fragment for source, if any. Called when a
// stream ends so no trailing output is dropped.
func (m *Mirror) Flush(source string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := m.partial[source]
	if buf == nil || buf.Len() == 0 {
		return
	}
	m.renderLocked(source, buf.String())
	buf.Reset()
}

// FlushAll flushes every source's retained fragment.
func (m *Mirror) FlushAll() {
	m.mu.Lock()
	sources := make([]string, 0, len(m.partial))
	for s := range m.partial {
		sources = append(sources, s)
	}
	m.mu.Unlock()
	for _, s := range sources {
		m.Flush(s)
	}
}

// Copy drains r into the mirror under the given source label, flushing the
// partial fragment when the stream ends. Intended to run in its own
// goroutine per child stream.
func (m *Mirror) Copy(source string, r io.Reader) {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			m.Ingest(source, buf[:n])
		}
		if err != nil {
			m.Flush(source)
			return
		}
	}
}

// Close flushes all fragments and closes the persistent file.
func (m *Mirror) Close() error {
	m.FlushAll()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.raw != nil {
		return m.raw.Close()
	}
	return nil
}
