package watchdog

import (
	"context"
	"sync"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Indicator samples a monotonic progress value for the child. Any
// increase between samples counts as forward progress; the absolute
// value is meaningless.
type Indicator interface {
	Sample() (float64, error)
	Describe() string
}

// CPUTicks reports cumulative CPU time consumed by the child process.
// A hung-but-alive process stops accumulating ticks, which is exactly
// the condition OS exit status cannot reveal.
type CPUTicks struct {
	pid  int32
	mu   sync.Mutex
	proc *gopsproc.Process
}

func NewCPUTicks(pid int) *CPUTicks {
	return &CPUTicks{pid: int32(pid)}
}

func (c *CPUTicks) Sample() (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.proc == nil {
		p, err := gopsproc.NewProcess(c.pid)
		if err != nil {
			return 0, err
		}
		c.proc = p
	}
	times, err := c.proc.Times()
	if err != nil {
		return 0, err
	}
	return times.User + times.System, nil
}

func (c *CPUTicks) Describe() string { return "cpu-ticks" }

// Probe counts successful remote liveness round trips. Each success
// advances the value, so a server that stops answering stops progressing.
type Probe struct {
	Command string
	Send    func(ctx context.Context, command string) (string, error)
	Timeout time.Duration

	mu        sync.Mutex
	successes float64
}

func (p *Probe) Sample() (float64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.Timeout)
	defer cancel()
	if _, err := p.Send(ctx, p.Command); err != nil {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.successes, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.successes++
	return p.successes, nil
}

func (p *Probe) Describe() string { return "rcon-probe" }
