package reward

import (
	"context"
	"time"

	"feedshop-rewards/pkg/errutil"
	"feedshop-rewards/pkg/logger"

	"go.uber.org/zap"
)

// ProcessPendingRewards settles reward rows whose ledger credit never completed, oldest first.
// Each row is claimed before settlement so overlapping sweeps and in-flight grants never settle it twice.
// A failing row is logged and counted, and keeps its lease so it backs off instead of holding the head of the queue.
func (s *Service) ProcessPendingRewards(ctx context.Context) (*ProcessResult, error) {
	ctx, span := tracer.Start(ctx, "reward.ProcessPendingRewards")
	defer span.End()

	log := logger.L(ctx)

	pending, err := s.histories.ListPending(ctx, s.now().UTC(), s.batchSize)
	if err != nil {
		log.Error("failed to list pending rewards", zap.Error(err))
		return nil, err
	}

	res := &ProcessResult{}
	for _, h := range pending {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		now := s.now().UTC()
		claimed, err := s.histories.Claim(ctx, h.ID, now, now.Add(leaseFor(h.Attempts+1)))
		if err != nil {
			res.Failed++
			log.Error("failed to claim pending reward", zap.String("history_id", h.ID), zap.Error(err))
			continue
		}
		if !claimed {
			res.Skipped++
			log.Debug("pending reward claimed elsewhere", zap.String("history_id", h.ID))
			continue
		}

		if err := s.settle(ctx, h); err != nil {
			res.Failed++
			log.Error("failed to settle pending reward",
				zap.String("history_id", h.ID),
				zap.String("user_id", h.UserID),
				zap.Int("attempt", h.Attempts+1),
				zap.Error(err),
			)
			continue
		}
		res.Processed++
	}

	if len(pending) > 0 {
		log.Info("pending reward sweep finished",
			zap.Int("processed", res.Processed),
			zap.Int("failed", res.Failed),
			zap.Int("skipped", res.Skipped),
		)
	}

	return res, nil
}

// RunBirthdayRewards grants the birthday reward to every user born on the month and day of on.
func (s *Service) RunBirthdayRewards(ctx context.Context, on time.Time) (*BirthdayResult, error) {
	ctx, span := tracer.Start(ctx, "reward.RunBirthdayRewards")
	defer span.End()

	on = on.In(s.loc)
	log := logger.L(ctx).With(zap.String("date", on.Format(time.DateOnly)))

	if _, err := s.validPolicy(ctx, Birthday, s.now()); err != nil {
		if errutil.IsReason(err, errutil.ReasonRewardPolicyNotFound) {
			log.Warn("no birthday reward policy, skipping run")
			return &BirthdayResult{}, nil
		}
		return nil, err
	}

	users, err := s.users.ListByBirthday(ctx, on.Month(), on.Day())
	if err != nil {
		log.Error("failed to list birthday users", zap.Error(err))
		return nil, err
	}

	res := &BirthdayResult{}
	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		h, err := s.GrantBirthdayReward(ctx, u.ID)
		switch {
		case err != nil:
			res.Failed++
			log.Error("failed to grant birthday reward", zap.String("user_id", u.ID), zap.Error(err))
		case h == nil:
			res.Skipped++
		default:
			res.Granted++
		}
	}

	log.Info("birthday rewards finished",
		zap.Int("granted", res.Granted),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
	)

	return res, nil
}
