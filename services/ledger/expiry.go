package ledger

import (
	"context"
	"fmt"
	"time"

	"feedshop-rewards/pkg/db/option"
	"feedshop-rewards/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

func expiredPoolOptions(asOf time.Time) []option.QueryOption {
	return []option.QueryOption{
		option.ApplyOperator(option.Condition{Field: "remaining", Operator: option.GT, Value: 0}),
		option.ApplyOperator(option.Condition{Field: "expiry_date", Operator: option.LTE, Value: asOf}),
	}
}

// ExpirePoints writes one EXPIRE entry per user holding credit pools that expired at or before asOf.
// Users are processed in separate database transactions; a failing user is logged and counted.
func (s *Service) ExpirePoints(ctx context.Context, asOf time.Time) (*ExpiryResult, error) {
	ctx, span := tracer.Start(ctx, "ledger.ExpirePoints")
	defer span.End()

	asOf = asOf.UTC()
	log := logger.L(ctx).With(zap.Time("as_of", asOf))

	pools, err := s.pools.Find(ctx, nil, append(expiredPoolOptions(asOf),
		option.WithSortBy(option.QuerySortBy{SortBy: "user_id", OrderBy: "asc", Allow: map[string]bool{"user_id": true}}),
	)...)
	if err != nil {
		log.Error("failed to query expired credit pools", zap.Error(err))
		return nil, err
	}

	users := make([]string, 0)
	seen := make(map[string]struct{})
	for _, p := range pools {
		if _, ok := seen[p.UserID]; ok {
			continue
		}
		seen[p.UserID] = struct{}{}
		users = append(users, p.UserID)
	}

	res := &ExpiryResult{}
	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		expired, err := s.expireUser(ctx, userID, asOf)
		if err != nil {
			res.Failed++
			log.Error("failed to expire points", zap.String("user_id", userID), zap.Error(err))
			continue
		}
		if expired > 0 {
			res.Users++
			res.Points += expired
		}
	}

	log.Info("point expiry finished",
		zap.Int("users", res.Users),
		zap.Int64("points", res.Points),
		zap.Int("failed", res.Failed),
	)

	return res, nil
}

func (s *Service) expireUser(ctx context.Context, userID string, asOf time.Time) (int64, error) {
	code, err := s.nextCode(ctx)
	if err != nil {
		return 0, err
	}

	var expired int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		balance, err := s.lockBalance(ctx, tx, userID)
		if err != nil {
			return err
		}

		poolTx := s.pools.WithTrx(tx)
		pools, err := poolTx.Find(ctx, &CreditPool{UserID: userID},
			append(expiredPoolOptions(asOf), option.WithLockingUpdate())...,
		)
		if err != nil {
			return fmt.Errorf("lock expired credit pools: %w", err)
		}

		var sum int64
		allocations := make([]Allocation, 0, len(pools))
		now := s.timestamp()
		for _, p := range pools {
			sum += p.Remaining
			allocations = append(allocations, Allocation{CreditPoolID: p.ID, TransactionID: p.TransactionID, Amount: p.Remaining})
			if err := poolTx.Update(ctx, p.ID, map[string]any{"remaining": 0, "consumed_at": now}); err != nil {
				return fmt.Errorf("zero credit pool %s: %w", p.ID, err)
			}
		}

		amount := min(sum, balance.CurrentPoints)
		if amount <= 0 {
			return nil
		}

		previousHash, err := s.lastHash(ctx, tx, userID)
		if err != nil {
			return err
		}

		entry := &PointTransaction{
			ID:              s.node.Generate().String(),
			TransactionCode: code,
			UserID:          userID,
			Type:            Expire,
			Points:          amount,
			BalanceAfter:    balance.CurrentPoints - amount,
			Description:     "포인트 유효기간 만료",
			PreviousHash:    previousHash,
			Metadata:        sourcesMetadata(allocations),
			CreatedAt:       now,
		}
		entry.Hash = entry.GenerateHash()

		if err := s.transactions.WithTrx(tx).Create(ctx, entry); err != nil {
			return fmt.Errorf("create expire transaction: %w", err)
		}

		if err := s.balances.WithTrx(tx).Update(ctx, balance.ID, map[string]any{
			"current_points": entry.BalanceAfter,
			"updated_at":     now,
		}); err != nil {
			return fmt.Errorf("update balance: %w", err)
		}

		expired = amount
		return nil
	})

	return expired, err
}
