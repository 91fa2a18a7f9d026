package store

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper drops expired entries and reports how many were removed.
type Sweeper interface {
	Sweep() int
}

type janitorTask struct {
	name string
	run  func(ctx context.Context) (int64, error)
}

// Janitor periodically prunes expired local state and old durable records.
type Janitor struct {
	interval time.Duration
	tasks    []janitorTask
	logger   *zap.Logger
}

func NewJanitor(interval time.Duration, logger *zap.Logger) *Janitor {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Janitor{interval: interval, logger: logger}
}

// AddSweeper schedules s.Sweep on every run.
func (j *Janitor) AddSweeper(name string, s Sweeper) {
	j.tasks = append(j.tasks, janitorTask{name: name, run: func(context.Context) (int64, error) {
		return int64(s.Sweep()), nil
	}})
}

// AddTask schedules fn on every run.
func (j *Janitor) AddTask(name string, fn func(ctx context.Context) (int64, error)) {
	j.tasks = append(j.tasks, janitorTask{name: name, run: fn})
}

// RunOnce runs every task and returns the removed count per task.
// A failing task is logged and does not stop the others.
func (j *Janitor) RunOnce(ctx context.Context) map[string]int64 {
	out := make(map[string]int64, len(j.tasks))
	for _, t := range j.tasks {
		n, err := t.run(ctx)
		if err != nil {
			j.logger.Warn("Janitor task failed", zap.String("task", t.name), zap.Error(err))
			continue
		}
		out[t.name] = n
		if n > 0 {
			j.logger.Debug("Expired entries removed", zap.String("task", t.name), zap.Int64("removed", n))
		}
	}
	return out
}

// Run blocks until ctx is done, running the tasks every interval.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.RunOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}
