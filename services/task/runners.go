package task

import (
	"context"
	"time"

	"feedshop-rewards/services/ledger"
	"feedshop-rewards/services/reward"
)

// Expirer writes EXPIRE entries for credit pools past their expiry date.
type Expirer interface {
	ExpirePoints(ctx context.Context, asOf time.Time) (*ledger.ExpiryResult, error)
}

// Rewards runs the reward batch operations.
type Rewards interface {
	ProcessPendingRewards(ctx context.Context) (*reward.ProcessResult, error)
	RunBirthdayRewards(ctx context.Context, on time.Time) (*reward.BirthdayResult, error)
}
