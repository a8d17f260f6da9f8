package logmirror

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Tailer follows an independently-written log file from its end and merges
// the bytes into a Mirror. Truncation and rotation are tolerated: a shrink
// rewinds to the start, a remove/rename waits for the file to reappear.
type Tailer struct {
	Path   string
	Source string
	Mirror *Mirror
	Logger *slog.Logger

	// Poll is the fallback interval when fsnotify delivers no events
	// (e.g. on filesystems without inotify support).
	Poll time.Duration
}

// Run blocks until ctx is cancelled. The final partial fragment is flushed
// on return.
func (t *Tailer) Run(ctx context.Context) {
	defer t.Mirror.Flush(t.Source)

	poll := t.Poll
	if poll <= 0 {
		poll = time.Second
	}

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer func() { _ = watcher.Close() }()
		// Watch the directory so create/rename of the file itself is seen.
		_ = watcher.Add(filepath.Dir(t.Path))
	} else {
		t.Logger.Warn("tail: fsnotify unavailable, polling only", "err", err)
		watcher = nil
	}

	var f *os.File
	var offset int64
	defer func() {
		if f != nil {
			_ = f.Close()
		}
	}()

	fromEnd := true
	buf := make([]byte, 32*1024)
	for {
		if f == nil {
			f, offset, err = t.open(fromEnd)
			if err != nil {
				if !t.wait(ctx, watcher, poll) {
					return
				}
				continue
			}
			fromEnd = false
		}

		n, err := f.Read(buf)
		if n > 0 {
			offset += int64(n)
			t.Mirror.Ingest(t.Source, buf[:n])
			continue
		}
		if err != nil && !errors.Is(err, io.EOF) {
			_ = f.Close()
			f = nil
			continue
		}

		st, serr := os.Stat(t.Path)
		cur, cerr := f.Stat()
		switch {
		case serr != nil:
			// Removed or renamed away; reopen from the start once recreated.
			_ = f.Close()
			f = nil
		case cerr != nil || !os.SameFile(st, cur):
			// Rotated by rename: the path now names a different file and
			// the open descriptor points at the moved-aside one.
			_ = f.Close()
			f = nil
		case st.Size() < offset:
			// Truncated in place.
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				_ = f.Close()
				f = nil
			}
			offset = 0
		}

		if !t.wait(ctx, watcher, poll) {
			return
		}
	}
}

func (t *Tailer) open(fromEnd bool) (*os.File, int64, error) {
	f, err := os.Open(t.Path)
	if err != nil {
		return nil, 0, err
	}
	var offset int64
	if fromEnd {
		offset, err = f.Seek(0, io.SeekEnd)
		if err != nil {
			_ = f.Close()
			return nil, 0, err
		}
	}
	return f, offset, nil
}

// wait blocks until there is a reason to re-read. Returns false when ctx
// is done.
func (t *Tailer) wait(ctx context.Context, watcher *fsnotify.Watcher, poll time.Duration) bool {
	timer := time.NewTimer(poll)
	defer timer.Stop()
	if watcher == nil {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		}
	}
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	case <-watcher.Events:
		return true
	case err := <-watcher.Errors:
		if err != nil {
			t.Logger.Debug("tail: watcher error", "err", err)
		}
		return true
	}
}
