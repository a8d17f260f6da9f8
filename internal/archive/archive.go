// Package archive bundles log material into a compressed snapshot when
// the child crashes, so the state at failure survives the log rotation
// that the next restart performs.
package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"
)

type Config struct {
	// Dir receives the finished archives.
	Dir string
	// LogFile is the wrapper-maintained child log.
	LogFile string
	// ExtraDir is an optional directory of server-written logs bundled
	// alongside LogFile.
	ExtraDir string
}

type Archiver struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

func New(cfg Config, logger *slog.Logger) *Archiver {
	return &Archiver{cfg: cfg, logger: logger, now: time.Now}
}

// Capture writes crash-<timestamp>-exit<code>.tar.gz into the archive
// directory and returns its path. Failures are reported but must never
// affect the restart decision; callers log and move on.
func (a *Archiver) Capture(exitCode int) (string, error) {
	if err := os.MkdirAll(a.cfg.Dir, 0o755); err != nil {
		return "", fmt.Errorf("archive: create dir: %w", err)
	}
	name := fmt.Sprintf("crash-%s-exit%d.tar.gz", a.now().Format("20060102-150405"), exitCode)
	path := filepath.Join(a.cfg.Dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("archive: create %s: %w", path, err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	if a.cfg.LogFile != "" {
		if err := addFile(tw, a.cfg.LogFile, filepath.Base(a.cfg.LogFile)); err != nil {
			a.logger.Warn("archive: skipping main log", "err", err)
		}
	}
	if a.cfg.ExtraDir != "" {
		if err := addTree(tw, a.cfg.ExtraDir); err != nil {
			a.logger.Warn("archive: skipping extra dir", "dir", a.cfg.ExtraDir, "err", err)
		}
	}

	if err := tw.Close(); err != nil {
		return "", fmt.Errorf("archive: finalize tar: %w", err)
	}
	if err := gz.Close(); err != nil {
		return "", fmt.Errorf("archive: finalize gzip: %w", err)
	}
	a.logger.Info("archive: crash snapshot written", "path", path)
	return path, nil
}

func addFile(tw *tar.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(st, "")
	if err != nil {
		return err
	}
	hdr.Name = name
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

// addTree walks dir and stores regular files under dir's base name.
func addTree(tw *tar.Writer, dir string) error {
	base := filepath.Base(dir)
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		return addFile(tw, path, filepath.Join(base, rel))
	})
}
