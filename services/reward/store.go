package reward

import (
	"context"
	"fmt"
	"time"

	"feedshop-rewards/pkg/db/option"
	"feedshop-rewards/pkg/db/pagination"
	"feedshop-rewards/pkg/errutil"
	"feedshop-rewards/pkg/repository"

	"gorm.io/gorm"
)

type PolicyStore interface {
	// FindValid returns the valid policy for rewardType at now, or nil. When several qualify the newest wins.
	FindValid(ctx context.Context, rewardType RewardType, now time.Time) (*RewardPolicy, error)
	ListValid(ctx context.Context, now time.Time) ([]*RewardPolicy, error)
	Upsert(ctx context.Context, p *RewardPolicy) error
}

type HistoryStore interface {
	// TryInsert reports Conflict when (user_id, reward_type, reference_id) already exists.
	TryInsert(ctx context.Context, h *RewardHistory) (repository.InsertResult, error)
	MarkProcessed(ctx context.Context, id, transactionID string, at time.Time) error
	CountInWindow(ctx context.Context, userID string, rewardType RewardType, from, to time.Time) (int64, error)
	ListByUser(ctx context.Context, userID string, req pagination.PageRequest) ([]*RewardHistory, int64, error)
	// ListPending returns unprocessed rows whose settlement lease has lapsed at now, oldest first.
	ListPending(ctx context.Context, now time.Time, limit int) ([]*RewardHistory, error)
	// Claim takes the settlement lease on a pending row until the given time, bumping its attempt count.
	// It reports false when the row is processed or another worker holds an unexpired lease.
	Claim(ctx context.Context, id string, now, until time.Time) (bool, error)
}

type policyStore struct {
	repo repository.Repository[RewardPolicy]
}

func NewPolicyStore(db *gorm.DB) PolicyStore {
	return &policyStore{repo: repository.ProvideStore[RewardPolicy](db)}
}

func (s *policyStore) active(ctx context.Context, query *RewardPolicy) ([]*RewardPolicy, error) {
	return s.repo.Find(ctx, query,
		option.ApplyOperator(option.Condition{Field: "is_active", Operator: option.EQ, Value: true}),
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc"}),
		option.WithTieBreaker(true),
	)
}

func (s *policyStore) FindValid(ctx context.Context, rewardType RewardType, now time.Time) (*RewardPolicy, error) {
	policies, err := s.active(ctx, &RewardPolicy{RewardType: rewardType})
	if err != nil {
		return nil, err
	}
	for _, p := range policies {
		if p.IsValid(now) {
			return p, nil
		}
	}
	return nil, nil
}

func (s *policyStore) ListValid(ctx context.Context, now time.Time) ([]*RewardPolicy, error) {
	policies, err := s.active(ctx, nil)
	if err != nil {
		return nil, err
	}

	seen := make(map[RewardType]struct{}, len(policies))
	out := make([]*RewardPolicy, 0, len(policies))
	for _, p := range policies {
		if _, ok := seen[p.RewardType]; ok || !p.IsValid(now) {
			continue
		}
		seen[p.RewardType] = struct{}{}
		out = append(out, p)
	}
	return out, nil
}

// Upsert keys policies by reward type and overwrites the newest existing row.
func (s *policyStore) Upsert(ctx context.Context, p *RewardPolicy) error {
	if p.Points <= 0 {
		return errutil.ConfigurationError(fmt.Sprintf("%s policy points must be positive, got %d", p.RewardType, p.Points))
	}

	existing, err := s.repo.FindOne(ctx, &RewardPolicy{RewardType: p.RewardType},
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc"}),
	)
	if err != nil {
		return err
	}
	if existing == nil {
		return s.repo.Create(ctx, p)
	}

	p.ID = existing.ID
	return s.repo.Update(ctx, existing.ID, map[string]any{
		"points":         p.Points,
		"description":    p.Description,
		"is_active":      p.IsActive,
		"daily_limit":    p.DailyLimit,
		"monthly_limit":  p.MonthlyLimit,
		"valid_from":     p.ValidFrom,
		"valid_until":    p.ValidUntil,
		"condition_expr": p.Condition,
		"updated_at":     time.Now().UTC(),
	})
}

type historyStore struct {
	repo repository.Repository[RewardHistory]
}

func NewHistoryStore(db *gorm.DB) HistoryStore {
	return &historyStore{repo: repository.ProvideStore[RewardHistory](db)}
}

func (s *historyStore) TryInsert(ctx context.Context, h *RewardHistory) (repository.InsertResult, error) {
	res, err := s.repo.TryCreate(ctx, h)
	if err != nil {
		return res, fmt.Errorf("insert reward history: %w", err)
	}
	return res, nil
}

func (s *historyStore) MarkProcessed(ctx context.Context, id, transactionID string, at time.Time) error {
	return s.repo.Update(ctx, id, map[string]any{
		"is_processed":         true,
		"processed_at":         at,
		"point_transaction_id": transactionID,
	})
}

func (s *historyStore) CountInWindow(ctx context.Context, userID string, rewardType RewardType, from, to time.Time) (int64, error) {
	return s.repo.Count(ctx, &RewardHistory{UserID: userID, RewardType: rewardType},
		option.WithTimeRange("created_at", from, to),
	)
}

func (s *historyStore) ListByUser(ctx context.Context, userID string, req pagination.PageRequest) ([]*RewardHistory, int64, error) {
	query := &RewardHistory{UserID: userID}

	total, err := s.repo.Count(ctx, query)
	if err != nil {
		return nil, 0, err
	}

	items, err := s.repo.Find(ctx, query,
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc"}),
		option.WithTieBreaker(true),
		option.ApplyPage(req),
	)
	if err != nil {
		return nil, 0, err
	}

	return items, total, nil
}

func (s *historyStore) ListPending(ctx context.Context, now time.Time, limit int) ([]*RewardHistory, error) {
	return s.repo.Find(ctx, nil,
		option.ApplyOperator(option.Condition{Field: "is_processed", Operator: option.EQ, Value: false}),
		option.WithDue("next_attempt_at", now),
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "asc"}),
		option.WithTieBreaker(false),
		option.WithLimit(limit),
	)
}

func (s *historyStore) Claim(ctx context.Context, id string, now, until time.Time) (bool, error) {
	n, err := s.repo.UpdateWhere(ctx, id,
		map[string]any{
			"attempts":        gorm.Expr("attempts + 1"),
			"next_attempt_at": until,
		},
		option.ApplyOperator(option.Condition{Field: "is_processed", Operator: option.EQ, Value: false}),
		option.WithDue("next_attempt_at", now),
	)
	if err != nil {
		return false, fmt.Errorf("claim reward history %s: %w", id, err)
	}
	return n == 1, nil
}
