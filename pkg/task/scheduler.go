// Package task runs the bot's periodic background jobs: the tempban expiry
// sweep and the hourly audit housekeeping.
package task

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/allthingslinux/tux/pkg/log"
)

// Task is one unit of periodic work. Errors are logged, never fatal; the
// next tick still fires.
type Task func(ctx context.Context) error

// Cancel stops a scheduled job.
type Cancel func()

// Scheduler owns a set of repeating jobs and stops them together.
type Scheduler struct {
	logger *slog.Logger

	mu      sync.Mutex
	cancels []Cancel
	wg      sync.WaitGroup
	closed  bool
}

func NewScheduler() *Scheduler {
	return &Scheduler{logger: log.Component("task")}
}

// ScheduleEvery runs t every interval until the job or the scheduler is
// stopped. The first run happens after one interval, not immediately.
func (s *Scheduler) ScheduleEvery(name string, interval time.Duration, t Task) Cancel {
	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return func() {}
	}
	s.cancels = append(s.cancels, Cancel(cancel))
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := t(ctx); err != nil {
					s.logger.Error("scheduled task failed", "task", name, "error", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return Cancel(cancel)
}

// ScheduleDailyAtUTC runs t at the next occurrence of hour:minute UTC and
// every 24 hours after that.
func (s *Scheduler) ScheduleDailyAtUTC(name string, hour, minute int, t Task) Cancel {
	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return func() {}
	}
	s.cancels = append(s.cancels, Cancel(cancel))
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()

		now := time.Now().UTC()
		target := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
		if !now.Before(target) {
			target = target.Add(24 * time.Hour)
		}

		timer := time.NewTimer(time.Until(target))
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return
		}

		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			if err := t(ctx); err != nil {
				s.logger.Error("scheduled task failed", "task", name, "error", err)
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()

	return Cancel(cancel)
}

// Stop cancels every job and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.closed = true
	cancels := s.cancels
	s.cancels = nil
	s.mu.Unlock()

	for _, c := range cancels {
		c()
	}
	s.wg.Wait()
}
