package archive

import (
	"archive/tar"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func listArchive(t *testing.T, path string) map[string]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	tr := tar.NewReader(gz)
	entries := map[string]string{}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		body, err := io.ReadAll(tr)
		if err != nil {
			t.Fatal(err)
		}
		entries[hdr.Name] = string(body)
	}
	return entries
}

func TestCaptureBundlesLogAndExtraDir(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "server.log")
	if err := os.WriteFile(logFile, []byte("boom\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	extra := filepath.Join(dir, "gamelogs")
	if err := os.MkdirAll(filepath.Join(extra, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(extra, "chat.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(extra, "sub", "err.txt"), []byte("trace"), 0o644); err != nil {
		t.Fatal(err)
	}

	a := New(Config{Dir: filepath.Join(dir, "crashes"), LogFile: logFile, ExtraDir: extra}, testLogger())
	a.now = func() time.Time { return time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC) }

	path, err := a.Capture(137)
	if err != nil {
		t.Fatal(err)
	}
	if base := filepath.Base(path); base != "crash-20260314-092653-exit137.tar.gz" {
		t.Fatalf("archive name = %q", base)
	}

	entries := listArchive(t, path)
	var names []string
	for n := range entries {
		names = append(names, n)
	}
	sort.Strings(names)
	want := []string{"gamelogs/chat.txt", "gamelogs/sub/err.txt", "server.log"}
	if len(names) != len(want) {
		t.Fatalf("entries = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("entries = %v, want %v", names, want)
		}
	}
	if entries["server.log"] != "boom\n" {
		t.Errorf("server.log content = %q", entries["server.log"])
	}
}

func TestCaptureSurvivesMissingInputs(t *testing.T) {
	dir := t.TempDir()
	a := New(Config{
		Dir:      filepath.Join(dir, "crashes"),
		LogFile:  filepath.Join(dir, "never-written.log"),
		ExtraDir: filepath.Join(dir, "no-such-dir"),
	}, testLogger())

	path, err := a.Capture(1)
	if err != nil {
		t.Fatalf("missing inputs must not fail capture: %v", err)
	}
	if len(listArchive(t, path)) != 0 {
		t.Error("archive unexpectedly non-empty")
	}
}

func TestCaptureFailsWhenDirUncreatable(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocked")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	a := New(Config{Dir: filepath.Join(blocker, "sub")}, testLogger())
	if _, err := a.Capture(1); err == nil {
		t.Fatal("expected error when archive dir cannot be created")
	} else if !strings.Contains(err.Error(), "archive") {
		t.Errorf("err = %v", err)
	}
}
