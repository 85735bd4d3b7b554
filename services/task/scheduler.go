package task

import (
	"context"
	"errors"
	"sync"
	"time"

	"feedshop-rewards/pkg/config"
	"feedshop-rewards/pkg/taskname"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultSweepInterval = 5 * time.Minute

type Scheduler struct {
	service       *Service
	loc           *time.Location
	sweepInterval time.Duration
	expiryHour    int
	birthdayHour  int
	now           func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(cfg *config.Config, svc *Service) *Scheduler {
	interval := cfg.Reward.PendingSweepInterval
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &Scheduler{
		service:       svc,
		loc:           cfg.RewardLocation(),
		sweepInterval: interval,
		expiryHour:    cfg.Scheduler.ExpiryHour,
		birthdayHour:  cfg.Scheduler.BirthdayHour,
		now:           time.Now,
	}
}

// StartScheduler runs the scheduling loops for the lifetime of the fx app.
func StartScheduler(lc fx.Lifecycle, s *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			s.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return s.Stop(ctx)
		},
	})
}

func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(3)
	go s.sweep(ctx)
	go s.daily(ctx, taskname.PointExpiryRun, s.expiryHour)
	go s.daily(ctx, taskname.RewardBirthdayRun, s.birthdayHour)
}

func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	defer s.wg.Done()

	zap.L().Info("[Scheduler] started pending reward sweep", zap.Duration("interval", s.sweepInterval))

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.enqueueUnique(ctx, taskname.RewardProcessPending, s.sweepInterval)
		case <-ctx.Done():
			zap.L().Info("[Scheduler] pending reward sweep stopped")
			return
		}
	}
}

func (s *Scheduler) daily(ctx context.Context, name string, hour int) {
	defer s.wg.Done()

	for {
		now := s.now().In(s.loc)
		next := nextRunTime(now, hour, 0)

		wait := next.Sub(now)
		zap.L().Info("[Scheduler] next run scheduled",
			zap.String("task", name),
			zap.Time("next_run", next),
			zap.Duration("sleep_for", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
			asOf := next
			s.enqueue(ctx, name, &asOf)
		case <-ctx.Done():
			timer.Stop()
			zap.L().Info("[Scheduler] stopped", zap.String("task", name))
			return
		}
	}
}

func (s *Scheduler) enqueue(ctx context.Context, name string, asOf *time.Time) {
	start := time.Now()
	job, err := s.service.Enqueue(ctx, name, asOf)
	if err != nil {
		zap.L().Error("[Scheduler] failed to enqueue task", zap.String("task", name), zap.Error(err))
		return
	}

	zap.L().Info("[Scheduler] enqueued task",
		zap.String("task", name),
		zap.String("job_id", job.ID),
		zap.Duration("duration", time.Since(start)),
	)
}

func (s *Scheduler) enqueueUnique(ctx context.Context, name string, ttl time.Duration) {
	err := s.service.EnqueueUnique(ctx, name, ttl)
	switch {
	case errors.Is(err, ErrAlreadyQueued):
		zap.L().Debug("[Scheduler] previous run still queued", zap.String("task", name))
	case err != nil:
		zap.L().Error("[Scheduler] failed to enqueue task", zap.String("task", name), zap.Error(err))
	}
}

// nextRunTime returns the next wall clock occurrence of hour:minute in now's location.
func nextRunTime(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = time.Date(now.Year(), now.Month(), now.Day()+1, hour, minute, 0, 0, now.Location())
	}
	return next
}
