package ledger

import (
	"context"
	"fmt"
	"time"

	"feedshop-rewards/pkg/db/option"
	"feedshop-rewards/pkg/db/pagination"
	"feedshop-rewards/pkg/errutil"
	"feedshop-rewards/pkg/logger"

	"go.uber.org/zap"
)

// GetBalance returns the balance of userID, creating a zero balance on first access.
func (s *Service) GetBalance(ctx context.Context, userID string) (*PointBalance, error) {
	ctx, span := tracer.Start(ctx, "ledger.GetBalance")
	defer span.End()

	if userID == "" {
		return nil, errutil.BadRequest("user_id is required", nil)
	}

	balance, err := s.balances.FindOne(ctx, &PointBalance{UserID: userID})
	if err != nil {
		logger.L(ctx).Error("failed to query balance", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}
	if balance != nil {
		return balance, nil
	}

	now := s.timestamp()
	if _, err := s.balances.TryCreate(ctx, &PointBalance{
		ID:        s.node.Generate().String(),
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		logger.L(ctx).Error("failed to create balance", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}

	return s.balances.FindOne(ctx, &PointBalance{UserID: userID})
}

var transactionSortFields = map[string]bool{"created_at": true}

func (s *Service) ListTransactions(ctx context.Context, f TransactionFilter) (*pagination.Page[PointTransaction], error) {
	ctx, span := tracer.Start(ctx, "ledger.ListTransactions")
	defer span.End()

	if f.UserID == "" {
		return nil, errutil.BadRequest("user_id is required", nil)
	}
	if f.Type != "" && !f.Type.Valid() {
		return nil, errutil.BadRequest(fmt.Sprintf("unknown transaction type %s", f.Type), nil)
	}

	query := &PointTransaction{UserID: f.UserID, Type: f.Type}
	opts := []option.QueryOption{option.WithTimeRange("created_at", f.From, f.To)}
	if f.ReferenceID != "" {
		query.ReferenceID = &f.ReferenceID
	}

	total, err := s.transactions.Count(ctx, query, opts...)
	if err != nil {
		logger.L(ctx).Error("failed to count transactions", zap.String("user_id", f.UserID), zap.Error(err))
		return nil, err
	}

	req := pagination.PageRequest{Page: f.Page, Size: f.Size}.Normalize()
	items, err := s.transactions.Find(ctx, query, append(opts,
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc", Allow: transactionSortFields}),
		option.WithTieBreaker(true),
		option.ApplyPage(req),
	)...)
	if err != nil {
		logger.L(ctx).Error("failed to list transactions", zap.String("user_id", f.UserID), zap.Error(err))
		return nil, err
	}

	return pagination.NewPage(items, req, total), nil
}

// FindTransactionByReference returns nil, nil when userID has no entry with referenceID.
func (s *Service) FindTransactionByReference(ctx context.Context, userID, referenceID string) (*PointTransaction, error) {
	if userID == "" || referenceID == "" {
		return nil, nil
	}
	return s.transactions.FindOne(ctx, &PointTransaction{UserID: userID, ReferenceID: &referenceID},
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc"}),
		option.WithTieBreaker(true),
	)
}

// ExpiringPoints lists unspent credit pools expiring in (now, now+within]. within <= 0 uses the configured window.
func (s *Service) ExpiringPoints(ctx context.Context, userID string, within time.Duration) (*ExpiringPoints, error) {
	ctx, span := tracer.Start(ctx, "ledger.ExpiringPoints")
	defer span.End()

	if userID == "" {
		return nil, errutil.BadRequest("user_id is required", nil)
	}
	if within <= 0 {
		within = s.expiringSoonWindow
	}

	now := s.now().UTC()
	until := now.Add(within)

	pools, err := s.pools.Find(ctx, &CreditPool{UserID: userID},
		option.ApplyOperator(option.Condition{Field: "remaining", Operator: option.GT, Value: 0}),
		option.ApplyOperator(option.Condition{Field: "expiry_date", Operator: option.GT, Value: now}),
		option.ApplyOperator(option.Condition{Field: "expiry_date", Operator: option.LTE, Value: until}),
		option.WithSortBy(option.QuerySortBy{SortBy: "expiry_date", OrderBy: "asc"}),
		option.WithTieBreaker(false),
	)
	if err != nil {
		logger.L(ctx).Error("failed to query expiring points", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}

	out := &ExpiringPoints{UserID: userID, Until: until, Items: make([]*ExpiringPoint, 0, len(pools))}
	for _, p := range pools {
		out.Total += p.Remaining
		out.Items = append(out.Items, &ExpiringPoint{
			TransactionID: p.TransactionID,
			Remaining:     p.Remaining,
			ExpiryDate:    p.ExpiryDate,
		})
	}

	return out, nil
}

type typeTotal struct {
	Type  TransactionType
	Total int64
}

// Summary aggregates the ledger of userID per transaction type.
func (s *Service) Summary(ctx context.Context, userID string) (*PointSummary, error) {
	ctx, span := tracer.Start(ctx, "ledger.Summary")
	defer span.End()

	balance, err := s.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}

	var totals []typeTotal
	if err := s.db.WithContext(ctx).
		Model(&PointTransaction{}).
		Select("type, COALESCE(SUM(points), 0) AS total").
		Where("user_id = ?", userID).
		Group("type").
		Scan(&totals).Error; err != nil {
		logger.L(ctx).Error("failed to aggregate transactions", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}

	out := &PointSummary{UserID: userID, CurrentPoints: balance.CurrentPoints}
	for _, t := range totals {
		switch t.Type {
		case Earn:
			out.TotalEarned = t.Total
		case Use:
			out.TotalUsed = t.Total
		case Cancel:
			out.TotalCanceled = t.Total
		case Expire:
			out.TotalExpired = t.Total
		}
	}

	var valid int64
	if err := s.db.WithContext(ctx).
		Model(&CreditPool{}).
		Select("COALESCE(SUM(remaining), 0)").
		Where("user_id = ? AND remaining > 0 AND expiry_date > ?", userID, s.now().UTC()).
		Scan(&valid).Error; err != nil {
		return nil, err
	}
	out.ValidEarned = valid

	expiring, err := s.ExpiringPoints(ctx, userID, 0)
	if err != nil {
		return nil, err
	}
	out.ExpiringSoon = expiring.Total

	return out, nil
}

// VerifyChain replays the ledger of userID in creation order and checks the hash links,
// every balance_after and the final fold against the stored balance.
func (s *Service) VerifyChain(ctx context.Context, userID string) (*ChainVerification, error) {
	ctx, span := tracer.Start(ctx, "ledger.VerifyChain")
	defer span.End()

	if userID == "" {
		return nil, errutil.BadRequest("user_id is required", nil)
	}

	entries, err := s.transactions.Find(ctx, &PointTransaction{UserID: userID},
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "asc"}),
		option.WithTieBreaker(false),
	)
	if err != nil {
		logger.L(ctx).Error("failed to query transactions", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}

	balance, err := s.balances.FindOne(ctx, &PointBalance{UserID: userID})
	if err != nil {
		return nil, err
	}

	res := &ChainVerification{UserID: userID, Entries: len(entries)}
	if reason := verifyEntries(entries, &res.Balance); reason != "" {
		res.Reason = reason
		return res, nil
	}

	var stored int64
	if balance != nil {
		stored = balance.CurrentPoints
	}
	if stored != res.Balance {
		res.Reason = fmt.Sprintf("ledger folds to %d but balance is %d", res.Balance, stored)
		return res, nil
	}

	res.Valid = true
	return res, nil
}

func verifyEntries(entries []*PointTransaction, folded *int64) string {
	previous := genesisHash
	var running int64
	for _, e := range entries {
		if e.PreviousHash != previous {
			return fmt.Sprintf("transaction %s does not link to its predecessor", e.ID)
		}
		if e.Hash != e.GenerateHash() {
			return fmt.Sprintf("transaction %s hash mismatch", e.ID)
		}

		running += e.SignedPoints()
		if e.BalanceAfter != running {
			return fmt.Sprintf("transaction %s balance_after %d, expected %d", e.ID, e.BalanceAfter, running)
		}
		previous = e.Hash
	}
	*folded = running
	return ""
}
