package supervisor

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gameward/gameward/internal/archive"
	"github.com/gameward/gameward/internal/config"
	"github.com/gameward/gameward/internal/events"
	"github.com/gameward/gameward/internal/logmirror"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeScript(t *testing.T, dir, body string) {
	t.Helper()
	path := filepath.Join(dir, "server")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
}

// memSink records events in memory.
type memSink struct {
	mu   sync.Mutex
	seen []events.Event
}

func (m *memSink) Send(ctx context.Context, e events.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen = append(m.seen, e)
	return nil
}

func (m *memSink) Close() error { return nil }

func (m *memSink) types() []events.Type {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]events.Type, len(m.seen))
	for i, e := range m.seen {
		out[i] = e.Type
	}
	return out
}

func (m *memSink) count(t events.Type) int {
	n := 0
	for _, typ := range m.types() {
		if typ == t {
			n++
		}
	}
	return n
}

func testConfig(dir string) *config.Config {
	return &config.Config{
		ServerDir: dir,
		Restart: config.RestartConfig{
			Enabled: true,
			Window:  time.Minute,
			Max:     2,
			Backoff: 10 * time.Millisecond,
		},
		Watchdog: config.WatchdogConfig{Enabled: false},
	}
}

func testMirror(t *testing.T) (*logmirror.Mirror, *bytes.Buffer) {
	t.Helper()
	var console bytes.Buffer
	m, err := logmirror.New(logmirror.Config{}, &console)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m, &console
}

func newSupervisor(t *testing.T, cfg *config.Config, sink events.Sink) *Supervisor {
	t.Helper()
	mirror, _ := testMirror(t)
	return New(Options{
		Config: cfg,
		Argv:   []string{"./server"},
		Mirror: mirror,
		Sink:   sink,
		Logger: testLogger(),
	})
}

func TestGracefulExitStopsSupervision(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "exit 0")
	sink := &memSink{}
	s := newSupervisor(t, testConfig(dir), sink)

	if code := s.Run(context.Background()); code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if got := sink.count(events.TypeSpawn); got != 1 {
		t.Errorf("spawned %d times, want 1 (no restart on graceful exit)", got)
	}
	if sink.count(events.TypeExit) != 1 {
		t.Error("graceful exit event missing")
	}
	if s.Status().State != StateExitedGraceful {
		t.Errorf("final state = %q", s.Status().State)
	}
}

func TestCrashLoopHitsLedgerLimit(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "exit 7")
	sink := &memSink{}
	s := newSupervisor(t, testConfig(dir), sink)

	code := s.Run(context.Background())
	if code != 7 {
		t.Fatalf("exit code = %d, want pass-through 7", code)
	}
	// Max 2 restarts: initial spawn + 2 respawns, then give up.
	if got := sink.count(events.TypeSpawn); got != 3 {
		t.Errorf("spawn count = %d, want 3", got)
	}
	if sink.count(events.TypeGiveUp) != 1 {
		t.Error("give-up event missing")
	}
	if s.Status().State != StateStopped {
		t.Errorf("final state = %q", s.Status().State)
	}
}

func TestRestartDisabledExitsOnFirstCrash(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "exit 3")
	cfg := testConfig(dir)
	cfg.Restart.Enabled = false
	sink := &memSink{}
	s := newSupervisor(t, cfg, sink)

	if code := s.Run(context.Background()); code != 3 {
		t.Fatalf("exit code = %d", code)
	}
	if got := sink.count(events.TypeSpawn); got != 1 {
		t.Errorf("spawn count = %d, want 1", got)
	}
}

func TestShutdownExitNotTreatedAsCrash(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "sleep 30")
	cfg := testConfig(dir)
	sink := &memSink{}
	mirror, _ := testMirror(t)

	var down bool
	var mu sync.Mutex
	s := New(Options{
		Config: cfg,
		Argv:   []string{"./server"},
		Mirror: mirror,
		Sink:   sink,
		Logger: testLogger(),
		ShutdownStarted: func() bool {
			mu.Lock()
			defer mu.Unlock()
			return down
		},
	})

	codeCh := make(chan int, 1)
	go func() { codeCh <- s.Run(context.Background()) }()

	// Wait for the child, then simulate an orderly teardown.
	waitFor(t, func() bool { return s.Child() != nil && s.Status().State == StateRunning })
	mu.Lock()
	down = true
	mu.Unlock()
	child := s.Child()
	child.StopAndWait(time.Second)

	select {
	case code := <-codeCh:
		if code != 143 {
			t.Errorf("exit code = %d, want 143 (SIGTERM pass-through)", code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not return after teardown")
	}
	if sink.count(events.TypeCrash) != 0 {
		t.Error("orderly shutdown classified as crash")
	}
	if sink.count(events.TypeShutdown) != 1 {
		t.Error("shutdown event missing")
	}
	if sink.count(events.TypeSpawn) != 1 {
		t.Error("teardown must not be followed by a restart")
	}
}

// flipSink marks teardown as begun the moment the crash event is
// emitted, landing in the window between a child exit and the respawn.
type flipSink struct {
	memSink
	down *atomic.Bool
}

func (f *flipSink) Send(ctx context.Context, e events.Event) error {
	if e.Type == events.TypeCrash {
		f.down.Store(true)
	}
	return f.memSink.Send(ctx, e)
}

func TestNoRespawnAfterTeardownBegins(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "exit 5")
	cfg := testConfig(dir)

	var down atomic.Bool
	sink := &flipSink{down: &down}
	mirror, _ := testMirror(t)
	s := New(Options{
		Config:          cfg,
		Argv:            []string{"./server"},
		Mirror:          mirror,
		Sink:            sink,
		Logger:          testLogger(),
		ShutdownStarted: down.Load,
	})

	codeCh := make(chan int, 1)
	go func() { codeCh <- s.Run(context.Background()) }()

	select {
	case code := <-codeCh:
		if code != 5 {
			t.Errorf("exit code = %d, want pass-through 5", code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor kept running after teardown began")
	}
	if got := sink.count(events.TypeSpawn); got != 1 {
		t.Errorf("spawn count = %d, want 1: no respawn once teardown has begun", got)
	}
	if s.Status().State != StateStopped {
		t.Errorf("final state = %q", s.Status().State)
	}
}

func TestWatchdogStallForcesRestart(t *testing.T) {
	dir := t.TempDir()
	// Prints the marker then hangs without consuming CPU.
	writeScript(t, dir, "echo SERVER_READY\nsleep 60")
	cfg := testConfig(dir)
	cfg.Restart.Enabled = false
	cfg.Watchdog = config.WatchdogConfig{
		Enabled:      true,
		IdleTimeout:  150 * time.Millisecond,
		PollInterval: 25 * time.Millisecond,
		GracePeriod:  300 * time.Millisecond,
		ReadyMarker:  "SERVER_READY",
	}
	sink := &memSink{}
	s := newSupervisor(t, cfg, sink)

	codeCh := make(chan int, 1)
	go func() { codeCh <- s.Run(context.Background()) }()

	select {
	case code := <-codeCh:
		// sh exits 143 on SIGTERM; 137 if the kill escalation was needed.
		if code != 143 && code != 137 {
			t.Errorf("exit code = %d, want signal pass-through", code)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("watchdog never ended the hung child")
	}
	if sink.count(events.TypeStall) != 1 {
		t.Error("stall event missing")
	}
	if sink.count(events.TypeCrash) != 1 {
		t.Error("stall exit must be classified as crash")
	}
}

func TestSpawnFailureExitCodes(t *testing.T) {
	dir := t.TempDir() // no executable present
	s := newSupervisor(t, testConfig(dir), nil)
	if code := s.Run(context.Background()); code != ExitBinaryMissing {
		t.Fatalf("exit code = %d, want %d", code, ExitBinaryMissing)
	}

	s2 := New(Options{Config: testConfig(dir), Argv: nil, Mirror: mustMirror(t), Logger: testLogger()})
	if code := s2.Run(context.Background()); code != ExitNoArgs {
		t.Fatalf("exit code = %d, want %d", code, ExitNoArgs)
	}
}

func TestCrashArchiveWritten(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "exit 9")
	logFile := filepath.Join(dir, "server.log")
	if err := os.WriteFile(logFile, []byte("last words\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := testConfig(dir)
	cfg.Restart.Enabled = false
	archDir := filepath.Join(dir, "crashes")

	mirror, _ := testMirror(t)
	s := New(Options{
		Config:   cfg,
		Argv:     []string{"./server"},
		Mirror:   mirror,
		Archiver: archive.New(archive.Config{Dir: archDir, LogFile: logFile}, testLogger()),
		Logger:   testLogger(),
	})
	if code := s.Run(context.Background()); code != 9 {
		t.Fatalf("exit code = %d", code)
	}
	entries, err := os.ReadDir(archDir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("archive dir entries = %v, err = %v", entries, err)
	}
	if name := entries[0].Name(); !strings.Contains(name, "exit9") {
		t.Errorf("archive name = %q", name)
	}
}

func TestChildOutputReachesMirror(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "echo hello-from-child")
	cfg := testConfig(dir)
	cfg.Restart.Enabled = false

	var console bytes.Buffer
	mirror, err := logmirror.New(logmirror.Config{}, &console)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = mirror.Close() }()

	s := New(Options{Config: cfg, Argv: []string{"./server"}, Mirror: mirror, Logger: testLogger()})
	if code := s.Run(context.Background()); code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(console.String(), "hello-from-child") {
		t.Fatalf("console missing child output: %q", console.String())
	}
}

func TestMarkerReaderSplitAcrossChunks(t *testing.T) {
	var fired bool
	src := io.MultiReader(strings.NewReader("boot REA"), strings.NewReader("DY ok"))
	mr := newMarkerReader(src, "READY", func() { fired = true })

	if _, err := io.Copy(io.Discard, mr); err != nil {
		t.Fatal(err)
	}
	if !fired {
		t.Fatal("marker split across reads not detected")
	}
}

func mustMirror(t *testing.T) *logmirror.Mirror {
	t.Helper()
	m, err := logmirror.New(logmirror.Config{}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}
