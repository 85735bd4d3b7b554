package badge

import (
	"context"
	"fmt"
	"time"

	"feedshop-rewards/pkg/db/option"
	"feedshop-rewards/pkg/errutil"
	"feedshop-rewards/pkg/eventbus"
	"feedshop-rewards/pkg/logger"
	"feedshop-rewards/pkg/repository"
	"feedshop-rewards/pkg/sideeffect"
	"feedshop-rewards/services/user"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("feedshop-rewards/services/badge")

type Service struct {
	node    *snowflake.Node
	users   user.Directory
	events  eventbus.Publisher
	effects sideeffect.Dispatcher
	now     func() time.Time

	badges repository.Repository[UserBadge]
}

type ServiceParams struct {
	fx.In
	DB        *gorm.DB
	Node      *snowflake.Node
	Users     user.Directory
	Publisher eventbus.Publisher    `optional:"true"`
	Effects   sideeffect.Dispatcher `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	s := &Service{
		node:    p.Node,
		users:   p.Users,
		events:  p.Publisher,
		effects: p.Effects,
		now:     time.Now,
		badges:  repository.ProvideStore[UserBadge](p.DB),
	}
	if s.events == nil {
		s.events = eventbus.Nop{}
	}
	if s.effects == nil {
		s.effects = sideeffect.Inline{}
	}
	return s
}

// AwardBadge gives badgeType to userID. A badge already held yields BADGE_ALREADY_OWNED.
func (s *Service) AwardBadge(ctx context.Context, userID string, badgeType Type) (*UserBadge, error) {
	ctx, span := tracer.Start(ctx, "badge.AwardBadge")
	defer span.End()

	if !badgeType.Valid() {
		return nil, errutil.BadRequest(fmt.Sprintf("unknown badge type %s", badgeType), nil)
	}

	ok, err := s.users.Exists(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errutil.UserNotFound(userID)
	}

	def := badgeType.Definition()
	b := &UserBadge{
		ID:          s.node.Generate().String(),
		UserID:      userID,
		BadgeType:   badgeType,
		BadgeName:   def.Name,
		Description: def.Description,
		AwardedAt:   s.now().UTC(),
	}

	res, err := s.badges.TryCreate(ctx, b)
	if err != nil {
		logger.L(ctx).Error("failed to award badge", zap.String("user_id", userID), zap.String("badge", string(badgeType)), zap.Error(err))
		return nil, err
	}
	if res == repository.Conflict {
		return nil, errutil.BadgeAlreadyOwned(string(badgeType))
	}

	logger.L(ctx).Info("badge awarded", zap.String("user_id", userID), zap.String("badge", string(badgeType)))

	event := eventbus.NewEvent(eventbus.BadgeAwarded, userID, map[string]any{
		"badge_type": badgeType,
		"badge_name": def.Name,
	})
	s.effects.Dispatch(ctx, "publish "+eventbus.BadgeAwarded, func(ctx context.Context) error {
		return s.events.Publish(ctx, event)
	})

	return b, nil
}

// CheckAndAwardReviewBadges awards the review milestones reached by totalReviews that userID does not hold yet.
func (s *Service) CheckAndAwardReviewBadges(ctx context.Context, userID string, totalReviews int64) ([]*UserBadge, error) {
	var due []Type
	if totalReviews >= 1 {
		due = append(due, FirstReview)
	}
	if totalReviews >= reviewMasterThreshold {
		due = append(due, ReviewMaster)
	}
	if totalReviews >= reviewLegendThreshold {
		due = append(due, ReviewLegend)
	}
	return s.awardMissing(ctx, userID, due)
}

func (s *Service) CheckAndAwardPurchaseBadges(ctx context.Context, userID string, totalPurchases, totalAmount int64) ([]*UserBadge, error) {
	var due []Type
	if totalPurchases >= 1 {
		due = append(due, FirstPurchase)
	}
	if totalPurchases >= loyalBuyerThreshold {
		due = append(due, LoyalBuyer)
	}
	if totalAmount >= bigSpenderAmount {
		due = append(due, BigSpender)
	}
	return s.awardMissing(ctx, userID, due)
}

func (s *Service) awardMissing(ctx context.Context, userID string, due []Type) ([]*UserBadge, error) {
	awarded := make([]*UserBadge, 0, len(due))
	if len(due) == 0 {
		return awarded, nil
	}

	held, err := s.held(ctx, userID)
	if err != nil {
		return nil, err
	}

	for _, t := range due {
		if _, ok := held[t]; ok {
			continue
		}
		b, err := s.AwardBadge(ctx, userID, t)
		if errutil.IsReason(err, errutil.ReasonBadgeAlreadyOwned) {
			continue
		}
		if err != nil {
			return awarded, err
		}
		awarded = append(awarded, b)
	}
	return awarded, nil
}

func (s *Service) held(ctx context.Context, userID string) (map[Type]struct{}, error) {
	owned, err := s.badges.Find(ctx, &UserBadge{UserID: userID})
	if err != nil {
		return nil, err
	}
	out := make(map[Type]struct{}, len(owned))
	for _, b := range owned {
		out[b.BadgeType] = struct{}{}
	}
	return out, nil
}

func (s *Service) ListUserBadges(ctx context.Context, userID string) ([]*UserBadge, error) {
	badges, err := s.badges.Find(ctx, &UserBadge{UserID: userID},
		option.WithSortBy(option.QuerySortBy{SortBy: "awarded_at", OrderBy: "asc", Allow: map[string]bool{"awarded_at": true}}),
		option.WithTieBreaker(false),
	)
	if err != nil {
		logger.L(ctx).Error("failed to list badges", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}
	if badges == nil {
		badges = []*UserBadge{}
	}
	return badges, nil
}
