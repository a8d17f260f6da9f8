// Package planner runs recurring console tasks (periodic saves,
// announcements) by dispatching configured lines through the console
// bridge. Schedules support only the form "@every <duration>".
package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// Dispatch sends one console line, routed exactly as operator input.
type Dispatch func(ctx context.Context, line string) (string, error)

// Task is one scheduled console line. A tick is skipped while the
// previous dispatch of the same task is still in flight.
type Task struct {
	Name     string
	Schedule string
	Line     string

	running atomic.Bool
}

// parseEvery parses schedules of the form "@every <duration>".
func parseEvery(expr string) (time.Duration, error) {
	expr = strings.TrimSpace(expr)
	if !strings.HasPrefix(expr, "@every ") {
		return 0, fmt.Errorf("unsupported schedule: %s (only @every <duration> supported)", expr)
	}
	d, err := time.ParseDuration(strings.TrimSpace(strings.TrimPrefix(expr, "@every ")))
	if err != nil {
		return 0, fmt.Errorf("invalid @every duration: %w", err)
	}
	if d <= 0 {
		return 0, errors.New("@every duration must be > 0")
	}
	return d, nil
}

type Planner struct {
	dispatch Dispatch
	logger   *slog.Logger
	tasks    []*Task
	quit     chan struct{}
}

func New(dispatch Dispatch, logger *slog.Logger) *Planner {
	return &Planner{dispatch: dispatch, logger: logger}
}

func (p *Planner) Add(task *Task) error {
	if task.Name == "" || task.Schedule == "" || task.Line == "" {
		return errors.New("task requires name, schedule and line")
	}
	if _, err := parseEvery(task.Schedule); err != nil {
		return fmt.Errorf("task %s: %w", task.Name, err)
	}
	p.tasks = append(p.tasks, task)
	return nil
}

// Start launches one ticker loop per task. Call Stop to cancel.
func (p *Planner) Start() error {
	if p.quit != nil {
		return errors.New("planner already started")
	}
	p.quit = make(chan struct{})
	for _, t := range p.tasks {
		period, err := parseEvery(t.Schedule)
		if err != nil {
			return err
		}
		go p.runTask(t, period)
	}
	return nil
}

func (p *Planner) runTask(t *Task, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-p.quit:
			return
		case <-ticker.C:
			if !t.running.CompareAndSwap(false, true) {
				p.logger.Debug("planner: previous run still active, skipping tick", "task", t.Name)
				continue
			}
			go func(t *Task) {
				defer t.running.Store(false)
				ctx, cancel := context.WithTimeout(context.Background(), period)
				defer cancel()
				if _, err := p.dispatch(ctx, t.Line); err != nil {
					p.logger.Warn("planner: task dispatch failed", "task", t.Name, "err", err)
				}
			}(t)
		}
	}
}

// Stop cancels all task loops. Safe to call more than once.
func (p *Planner) Stop() {
	if p.quit == nil {
		return
	}
	select {
	case <-p.quit:
	default:
		close(p.quit)
	}
}
