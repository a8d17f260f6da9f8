// Package child wraps the game-server OS process: direct spawn (no
// intermediate shell), liveness probing, and signal escalation against the
// whole process group.
package child

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"
)

var (
	// ErrExecutableMissing means argv[0] does not exist in the server dir.
	ErrExecutableMissing = errors.New("target executable missing")
	// ErrNotExecutable means argv[0] exists but has no execute bit.
	ErrNotExecutable = errors.New("target executable lacks execute permission")
)

// State of the child process handle.
type State int

const (
	StateStarting State = iota
	StateRunning
	StateExited
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	default:
		return "unknown"
	}
}

// Handle owns one spawned child. It is created by Spawn and discarded
// after Wait returns; the supervisor creates a fresh Handle per restart.
type Handle struct {
	mu        sync.Mutex
	cmd       *exec.Cmd
	state     State
	startedAt time.Time
	exitCode  int
	exitErr   error

	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	waitDone chan struct{}
}

// Spawn launches argv[0] from dir with the argument vector applied
// literally. No shell is involved, so no further token splitting can
// occur. The child gets its own process group so signal escalation
// reaches helpers it forks.
func Spawn(dir string, argvv []string) (*Handle, error) {
	if len(argvv) == 0 {
		return nil, errors.New("empty argument vector")
	}
	path := argvv[0]
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrExecutableMissing, path)
	}
	if st.Mode()&0o111 == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotExecutable, path)
	}

	cmd := exec.Command(path)
	cmd.Args = append([]string{path}, argvv[1:]...)
	cmd.Dir = dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExecutableMissing, err)
	}

	return &Handle{
		cmd:       cmd,
		state:     StateRunning,
		startedAt: time.Now(),
		stdin:     stdin,
		stdout:    stdout,
		stderr:    stderr,
		waitDone:  make(chan struct{}),
	}, nil
}

func (h *Handle) PID() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

func (h *Handle) StartedAt() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.startedAt
}

func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Handle) Stdin() io.Writer  { return h.stdin }
func (h *Handle) Stdout() io.Reader { return h.stdout }
func (h *Handle) Stderr() io.Reader { return h.stderr }

// Wait reaps the child exactly once and returns its exit code. Signal
// terminations map to the conventional 128+signal codes.
func (h *Handle) Wait() int {
	err := h.cmd.Wait()

	code := 0
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			if ws, ok := ee.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
				code = 128 + int(ws.Signal())
			} else {
				code = ee.ExitCode()
			}
		} else {
			code = 1
		}
	}

	h.mu.Lock()
	h.state = StateExited
	h.exitCode = code
	h.exitErr = err
	h.mu.Unlock()
	close(h.waitDone)
	return code
}

// ExitCode is valid after Wait has returned.
func (h *Handle) ExitCode() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode
}

// Done is closed once the child has been reaped.
func (h *Handle) Done() <-chan struct{} { return h.waitDone }

// Alive probes the OS process, treating a zombie as dead so a reaped-but-
// unwaited child does not count as progress.
func (h *Handle) Alive() bool {
	pid := h.PID()
	if pid == 0 {
		return false
	}
	select {
	case <-h.waitDone:
		return false
	default:
	}
	if isZombie(pid) {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

// Terminate requests a graceful stop of the whole process group.
func (h *Handle) Terminate() error {
	pid := h.PID()
	if pid == 0 {
		return nil
	}
	return syscall.Kill(-pid, syscall.SIGTERM)
}

// Kill forcibly ends the process group.
func (h *Handle) Kill() error {
	pid := h.PID()
	if pid == 0 {
		return nil
	}
	return syscall.Kill(-pid, syscall.SIGKILL)
}

// StopAndWait terminates gracefully, escalating to SIGKILL after grace.
// It relies on a concurrent Wait caller to reap; it only observes Done.
func (h *Handle) StopAndWait(grace time.Duration) {
	if !h.Alive() {
		return
	}
	_ = h.Terminate()
	select {
	case <-h.waitDone:
	case <-time.After(grace):
		_ = h.Kill()
		select {
		case <-h.waitDone:
		case <-time.After(2 * time.Second):
		}
	}
}

func isZombie(pid int) bool {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
}
