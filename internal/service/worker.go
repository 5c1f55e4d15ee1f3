package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Workers runs the scheduler and poller on their own intervals. Each task has a single-flight
// lock shared with its run-once entry point, so a manual trigger never interleaves with a loop tick.
type Workers struct {
	Scheduler         *Scheduler
	Poller            *Poller
	SchedulerInterval time.Duration
	PollInterval      time.Duration
	Logger            zerolog.Logger

	schedulerMu sync.Mutex
	pollerMu    sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
}

func (w *Workers) RunSchedulerOnce(ctx context.Context) (SchedulerResult, error) {
	w.schedulerMu.Lock()
	defer w.schedulerMu.Unlock()
	return w.Scheduler.Tick(ctx)
}

func (w *Workers) RunPollerOnce(ctx context.Context) (PollerResult, error) {
	w.pollerMu.Lock()
	defer w.pollerMu.Unlock()
	return w.Poller.Tick(ctx)
}

// Start launches both loops. Calling Start twice without Stop is a no-op.
func (w *Workers) Start(parent context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.group != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	g, ctx := errgroup.WithContext(ctx)
	w.cancel = cancel
	w.group = g

	g.Go(func() error {
		w.loop(ctx, "scheduler", w.SchedulerInterval, func(ctx context.Context) error {
			_, err := w.RunSchedulerOnce(ctx)
			return err
		})
		return nil
	})
	g.Go(func() error {
		w.loop(ctx, "poller", w.PollInterval, func(ctx context.Context) error {
			_, err := w.RunPollerOnce(ctx)
			return err
		})
		return nil
	})
	w.Logger.Info().Dur("scheduler_interval", w.SchedulerInterval).Dur("poll_interval", w.PollInterval).Msg("background workers started")
}

// Stop cancels both loops and waits for any in-flight tick to finish.
func (w *Workers) Stop() {
	w.mu.Lock()
	cancel, g := w.cancel, w.group
	w.cancel, w.group = nil, nil
	w.mu.Unlock()
	if g == nil {
		return
	}
	cancel()
	_ = g.Wait()
	w.Logger.Info().Msg("background workers stopped")
}

func (w *Workers) loop(ctx context.Context, name string, interval time.Duration, tick func(context.Context) error) {
	if interval <= 0 {
		interval = time.Minute
	}
	for {
		if err := tick(ctx); err != nil && ctx.Err() == nil {
			w.Logger.Error().Err(err).Str("task", name).Msg("worker tick failed")
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
