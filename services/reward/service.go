package reward

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"feedshop-rewards/pkg/celengine"
	"feedshop-rewards/pkg/config"
	"feedshop-rewards/pkg/db/pagination"
	"feedshop-rewards/pkg/errutil"
	"feedshop-rewards/pkg/eventbus"
	"feedshop-rewards/pkg/logger"
	"feedshop-rewards/pkg/repository"
	"feedshop-rewards/pkg/sideeffect"
	"feedshop-rewards/services/ledger"
	"feedshop-rewards/services/user"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultPendingBatchSize = 500

var tracer = otel.Tracer("feedshop-rewards/services/reward")

type Service struct {
	policies  PolicyStore
	histories HistoryStore
	ledger    Ledger
	users     user.Directory
	authz     user.Authorizer
	events    eventbus.Publisher
	effects   sideeffect.Dispatcher
	node      *snowflake.Node

	now       func() time.Time
	loc       *time.Location
	batchSize int
}

type ServiceParams struct {
	fx.In
	DB         *gorm.DB
	Node       *snowflake.Node
	Config     *config.Config `optional:"true"`
	Ledger     *ledger.Service
	Users      user.Directory
	Authorizer user.Authorizer
	Publisher  eventbus.Publisher    `optional:"true"`
	Effects    sideeffect.Dispatcher `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	s := &Service{
		policies:  NewPolicyStore(p.DB),
		histories: NewHistoryStore(p.DB),
		ledger:    p.Ledger,
		users:     p.Users,
		authz:     p.Authorizer,
		events:    p.Publisher,
		effects:   p.Effects,
		node:      p.Node,

		now:       time.Now,
		loc:       time.UTC,
		batchSize: defaultPendingBatchSize,
	}

	if p.Config != nil {
		s.loc = p.Config.RewardLocation()
		if p.Config.Reward.PendingBatchSize > 0 {
			s.batchSize = p.Config.Reward.PendingBatchSize
		}
	}
	if s.events == nil {
		s.events = eventbus.Nop{}
	}
	if s.effects == nil {
		s.effects = sideeffect.Inline{}
	}

	return s
}

type grantRequest struct {
	user        *user.User
	rewardType  RewardType
	points      int64
	description string
	referenceID string
	grantedBy   string
	metadata    map[string]any
}

// GrantPointsByAdmin credits amount to targetUserID without a policy lookup.
// The granter must hold the points:grant permission.
func (s *Service) GrantPointsByAdmin(ctx context.Context, granterUserID, targetUserID string, amount int64, description string) (*RewardHistory, error) {
	ctx, span := tracer.Start(ctx, "reward.GrantPointsByAdmin", trace.WithAttributes(
		attribute.String("granter_id", granterUserID),
		attribute.String("user_id", targetUserID),
	))
	defer span.End()

	granter, err := s.users.Get(ctx, granterUserID)
	if err != nil {
		return nil, err
	}

	allowed, err := s.authz.Can(ctx, granter, user.ObjectPoints, user.ActionGrant)
	if err != nil {
		return nil, errutil.Internal("failed to evaluate permission", err)
	}
	if !allowed {
		logger.L(ctx).Warn("admin grant denied", zap.String("granter_id", granterUserID), zap.String("role", string(granter.Role)))
		return nil, errutil.AccessDenied("only administrators can grant points")
	}

	target, err := s.users.Get(ctx, targetUserID)
	if err != nil {
		return nil, err
	}

	if amount <= 0 {
		return nil, errutil.InvalidAmount(amount)
	}

	if description == "" {
		description = "관리자 지급"
	}

	return s.grant(ctx, grantRequest{
		user:        target,
		rewardType:  AdminGrant,
		points:      amount,
		description: description,
		grantedBy:   granter.ID,
	})
}

// GrantReviewReward grants the review reward once per (user, review).
func (s *Service) GrantReviewReward(ctx context.Context, userID, reviewID string, reviewType ReviewType) (*RewardHistory, error) {
	ctx, span := tracer.Start(ctx, "reward.GrantReviewReward")
	defer span.End()

	if reviewID == "" {
		return nil, errutil.BadRequest("review_id is required", nil)
	}

	return s.grantByPolicy(ctx, userID, reviewType.RewardType(), reviewID, nil)
}

// GrantEventReward grants the event participation reward once per (user, event), subject to the policy caps.
// Other reward types have dedicated operations and are rejected.
func (s *Service) GrantEventReward(ctx context.Context, userID, eventID string, rewardType RewardType) (*RewardHistory, error) {
	ctx, span := tracer.Start(ctx, "reward.GrantEventReward")
	defer span.End()

	if rewardType == "" {
		rewardType = EventParticipation
	}
	if rewardType != EventParticipation {
		return nil, errutil.BadRequest(fmt.Sprintf("unsupported event reward type %s", rewardType), nil)
	}
	if eventID == "" {
		return nil, errutil.BadRequest("event_id is required", nil)
	}

	return s.grantByPolicy(ctx, userID, rewardType, eventID, map[string]any{"event_id": eventID})
}

// GrantBirthdayReward returns nil, nil when the user already received the birthday reward this calendar year.
func (s *Service) GrantBirthdayReward(ctx context.Context, userID string) (*RewardHistory, error) {
	ctx, span := tracer.Start(ctx, "reward.GrantBirthdayReward")
	defer span.End()

	u, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	policy, err := s.validPolicy(ctx, Birthday, now)
	if err != nil {
		return nil, err
	}

	local := now.In(s.loc)
	yearStart := time.Date(local.Year(), 1, 1, 0, 0, 0, 0, s.loc)
	count, err := s.histories.CountInWindow(ctx, u.ID, Birthday, yearStart.UTC(), yearStart.AddDate(1, 0, 0).UTC())
	if err != nil {
		return nil, err
	}
	if count > 0 {
		logger.L(ctx).Info("birthday reward already granted this year", zap.String("user_id", u.ID), zap.Int("year", local.Year()))
		return nil, nil
	}

	h, err := s.grantWithPolicy(ctx, u, policy, strconv.Itoa(local.Year()), nil)
	if errutil.IsReason(err, errutil.ReasonRewardAlreadyGranted) {
		return nil, nil
	}
	return h, err
}

// GrantFirstPurchaseReward grants the one-time first purchase bonus; orderID is informational.
func (s *Service) GrantFirstPurchaseReward(ctx context.Context, userID, orderID string) (*RewardHistory, error) {
	ctx, span := tracer.Start(ctx, "reward.GrantFirstPurchaseReward")
	defer span.End()

	return s.grantByPolicy(ctx, userID, FirstPurchase, firstPurchaseKey, map[string]any{"order_id": orderID})
}

func (s *Service) GetRewardHistory(ctx context.Context, userID string, page, size int) (*pagination.Page[RewardHistory], error) {
	req := pagination.PageRequest{Page: page, Size: size}.Normalize()

	items, total, err := s.histories.ListByUser(ctx, userID, req)
	if err != nil {
		logger.L(ctx).Error("failed to list reward history", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}

	return pagination.NewPage(items, req, total), nil
}

func (s *Service) GetRewardPolicies(ctx context.Context) ([]*RewardPolicy, error) {
	return s.policies.ListValid(ctx, s.now())
}

func (s *Service) validPolicy(ctx context.Context, rewardType RewardType, now time.Time) (*RewardPolicy, error) {
	policy, err := s.policies.FindValid(ctx, rewardType, now)
	if err != nil {
		return nil, err
	}
	if policy == nil {
		return nil, errutil.RewardPolicyNotFound(string(rewardType))
	}
	return policy, nil
}

func (s *Service) grantByPolicy(ctx context.Context, userID string, rewardType RewardType, referenceID string, metadata map[string]any) (*RewardHistory, error) {
	u, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	policy, err := s.validPolicy(ctx, rewardType, s.now())
	if err != nil {
		return nil, err
	}

	return s.grantWithPolicy(ctx, u, policy, referenceID, metadata)
}

func (s *Service) grantWithPolicy(ctx context.Context, u *user.User, policy *RewardPolicy, referenceID string, metadata map[string]any) (*RewardHistory, error) {
	if policy.Points <= 0 {
		logger.L(ctx).Error("reward policy has non positive points",
			zap.String("policy_id", policy.ID),
			zap.String("reward_type", string(policy.RewardType)),
			zap.Int64("points", policy.Points),
		)
		return nil, errutil.ConfigurationError(fmt.Sprintf("%s policy points must be positive, got %d", policy.RewardType, policy.Points))
	}
	if err := s.checkCondition(policy, u, referenceID); err != nil {
		return nil, err
	}
	if err := s.checkLimits(ctx, u.ID, policy); err != nil {
		return nil, err
	}

	return s.grant(ctx, grantRequest{
		user:        u,
		rewardType:  policy.RewardType,
		points:      policy.Points,
		description: policy.Description,
		referenceID: referenceID,
		metadata:    metadata,
	})
}

func (s *Service) checkCondition(policy *RewardPolicy, u *user.User, referenceID string) error {
	if policy.Condition == "" {
		return nil
	}

	ok, err := celengine.Check(policy.Condition, map[string]any{
		"user_id":      u.ID,
		"reward_type":  string(policy.RewardType),
		"reference_id": referenceID,
		"role":         string(u.Role),
	})
	if err != nil {
		return errutil.ConfigurationError(fmt.Sprintf("invalid condition on %s policy: %v", policy.RewardType, err))
	}
	if !ok {
		return errutil.RewardConditionNotMet(string(policy.RewardType))
	}
	return nil
}

// checkLimits counts grants of (user, type) in the current day, then month, of the reward timezone.
func (s *Service) checkLimits(ctx context.Context, userID string, policy *RewardPolicy) error {
	if policy.DailyLimit == nil && policy.MonthlyLimit == nil {
		return nil
	}

	local := s.now().In(s.loc)

	if policy.DailyLimit != nil {
		dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)
		count, err := s.histories.CountInWindow(ctx, userID, policy.RewardType, dayStart.UTC(), dayStart.AddDate(0, 0, 1).UTC())
		if err != nil {
			return err
		}
		if count >= int64(*policy.DailyLimit) {
			return errutil.DailyRewardLimitExceeded(string(policy.RewardType), *policy.DailyLimit)
		}
	}

	if policy.MonthlyLimit != nil {
		monthStart := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, s.loc)
		count, err := s.histories.CountInWindow(ctx, userID, policy.RewardType, monthStart.UTC(), monthStart.AddDate(0, 1, 0).UTC())
		if err != nil {
			return err
		}
		if count >= int64(*policy.MonthlyLimit) {
			return errutil.MonthlyRewardLimitExceeded(string(policy.RewardType), *policy.MonthlyLimit)
		}
	}

	return nil
}

// grant records the pending history row already holding the first settlement lease, credits the ledger
// and marks the row processed. A ledger failure leaves the row pending for ProcessPendingRewards once the
// lease lapses.
func (s *Service) grant(ctx context.Context, req grantRequest) (*RewardHistory, error) {
	log := logger.L(ctx).With(
		zap.String("user_id", req.user.ID),
		zap.String("reward_type", string(req.rewardType)),
	)

	now := s.now().UTC()
	until := now.Add(leaseFor(1))
	h := &RewardHistory{
		ID:            s.node.Generate().String(),
		UserID:        req.user.ID,
		RewardType:    req.rewardType,
		Points:        req.points,
		Description:   req.description,
		ReferenceID:   optionalString(req.referenceID),
		GrantedBy:     optionalString(req.grantedBy),
		Metadata:      jsonMetadata(req.metadata),
		Attempts:      1,
		NextAttemptAt: &until,
		CreatedAt:     now,
	}

	res, err := s.histories.TryInsert(ctx, h)
	if err != nil {
		log.Error("failed to record reward history", zap.Error(err))
		return nil, err
	}
	if res == repository.Conflict {
		log.Info("reward already granted", zap.String("reference_id", req.referenceID))
		return nil, errutil.RewardAlreadyGranted(string(req.rewardType))
	}

	if err := s.settle(ctx, h); err != nil {
		log.Error("reward recorded but ledger credit failed, left pending", zap.String("history_id", h.ID), zap.Error(err))
		return nil, err
	}

	log.Info("reward granted", zap.String("history_id", h.ID), zap.Int64("points", h.Points))
	return h, nil
}

// settle credits the ledger for h unless a transaction with its reference already exists, then marks h processed.
// The caller must hold the settlement lease on h. EarnPoints is idempotent on the reference, so a lease that
// lapses mid-settlement still yields a single credit. Marking failures are logged only.
func (s *Service) settle(ctx context.Context, h *RewardHistory) error {
	tx, err := s.ledger.FindTransactionByReference(ctx, h.UserID, h.LedgerReference())
	if err != nil {
		return err
	}
	if tx == nil {
		tx, err = s.ledger.EarnPoints(ctx, h.UserID, h.Points, h.Description, h.LedgerReference())
		if err != nil {
			return err
		}
	}

	at := s.now().UTC()
	if err := s.histories.MarkProcessed(ctx, h.ID, tx.ID, at); err != nil {
		logger.L(ctx).Error("failed to mark reward processed", zap.String("history_id", h.ID), zap.Error(err))
	} else {
		h.IsProcessed = true
		h.ProcessedAt = &at
		h.PointTransactionID = &tx.ID
	}

	event := eventbus.NewEvent(eventbus.RewardGranted, h.UserID, map[string]any{
		"history_id":     h.ID,
		"reward_type":    h.RewardType,
		"points":         h.Points,
		"transaction_id": tx.ID,
	})
	s.effects.Dispatch(ctx, "publish "+eventbus.RewardGranted, func(ctx context.Context) error {
		return s.events.Publish(ctx, event)
	})

	return nil
}

func jsonMetadata(m map[string]any) datatypes.JSON {
	if len(m) == 0 {
		return nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
