package level

import (
	"context"
	"fmt"
	"time"

	"feedshop-rewards/pkg/db/option"
	"feedshop-rewards/pkg/db/pagination"
	"feedshop-rewards/pkg/errutil"
	"feedshop-rewards/pkg/eventbus"
	"feedshop-rewards/pkg/logger"
	"feedshop-rewards/pkg/repository"
	"feedshop-rewards/pkg/sideeffect"
	"feedshop-rewards/services/badge"
	"feedshop-rewards/services/user"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("feedshop-rewards/services/level")

type Service struct {
	db      *gorm.DB
	node    *snowflake.Node
	users   user.Directory
	badges  Badges
	events  eventbus.Publisher
	effects sideeffect.Dispatcher
	now     func() time.Time

	levels     *table
	stats      repository.Repository[UserStats]
	activities repository.Repository[UserActivity]
}

type ServiceParams struct {
	fx.In
	DB        *gorm.DB
	Node      *snowflake.Node
	Users     user.Directory
	Badges    *badge.Service
	Publisher eventbus.Publisher    `optional:"true"`
	Effects   sideeffect.Dispatcher `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	s := &Service{
		db:      p.DB,
		node:    p.Node,
		users:   p.Users,
		badges:  p.Badges,
		events:  p.Publisher,
		effects: p.Effects,
		now:     time.Now,

		levels:     newTable(repository.ProvideStore[UserLevel](p.DB), defaultLevelTTL),
		stats:      repository.ProvideStore[UserStats](p.DB),
		activities: repository.ProvideStore[UserActivity](p.DB),
	}
	if s.events == nil {
		s.events = eventbus.Nop{}
	}
	if s.effects == nil {
		s.effects = sideeffect.Inline{}
	}
	return s
}

// RecordActivity credits the experience of activityType to userID and recomputes the level.
// Replaying the same (referenceID, referenceType) pair is a no-op reported through ActivityResult.Duplicate.
// Badges for crossed level ranks are awarded after commit and never fail the call.
func (s *Service) RecordActivity(ctx context.Context, userID string, activityType ActivityType, description, referenceID, referenceType string) (*ActivityResult, error) {
	ctx, span := tracer.Start(ctx, "level.RecordActivity", trace.WithAttributes(
		attribute.String("user_id", userID),
		attribute.String("activity_type", string(activityType)),
	))
	defer span.End()

	log := logger.L(ctx).With(zap.String("user_id", userID), zap.String("activity_type", string(activityType)))

	if !activityType.Valid() {
		return nil, errutil.BadRequest(fmt.Sprintf("unknown activity type %s", activityType), nil)
	}

	ok, err := s.users.Exists(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errutil.UserNotFound(userID)
	}

	levels, err := s.levels.Levels(ctx)
	if err != nil {
		log.Error("failed to load level table", zap.Error(err))
		return nil, err
	}

	now := s.now().UTC()
	activity := &UserActivity{
		ID:           s.node.Generate().String(),
		UserID:       userID,
		ActivityType: activityType,
		Points:       activityType.Points(),
		Description:  description,
		CreatedAt:    now,
	}
	if referenceID != "" && referenceType != "" {
		activity.ReferenceID = &referenceID
		activity.ReferenceType = &referenceType
	}

	res := &ActivityResult{}
	var previousRank, currentRank int
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted, err := s.activities.WithTrx(tx).TryCreate(ctx, activity)
		if err != nil {
			return fmt.Errorf("insert activity: %w", err)
		}
		if inserted == repository.Conflict {
			res.Duplicate = true
			return nil
		}

		stats, err := s.lockStats(ctx, tx, userID, levels, now)
		if err != nil {
			return err
		}

		previousRank = rankOf(levels, stats.CurrentLevelID)
		currentRank = previousRank
		total := stats.TotalPoints + activity.Points

		updates := map[string]any{"total_points": total, "updated_at": now}
		if lvl, rank := levelFor(levels, total); rank > previousRank {
			updates["current_level_id"] = lvl.ID
			updates["level_updated_at"] = now
			stats.CurrentLevelID = lvl.ID
			stats.LevelUpdatedAt = &now
			currentRank = rank
		}

		if err := s.stats.WithTrx(tx).Update(ctx, stats.ID, updates); err != nil {
			return fmt.Errorf("update stats: %w", err)
		}

		stats.TotalPoints = total
		stats.UpdatedAt = now
		res.Activity, res.Stats = activity, stats
		return nil
	})
	if err != nil {
		if _, ok := errutil.As(err); !ok {
			log.Error("failed to record activity", zap.Error(err))
		}
		return nil, err
	}

	if res.Duplicate {
		log.Info("activity already recorded", zap.String("reference_id", referenceID), zap.String("reference_type", referenceType))
		return res, nil
	}

	res.Stats.CurrentLevel = levelByID(levels, res.Stats.CurrentLevelID)
	if currentRank > previousRank {
		res.LeveledUp = true
		s.onLevelUp(ctx, userID, levels, previousRank, currentRank)
	}

	log.Info("activity recorded",
		zap.Int64("points", activity.Points),
		zap.Int64("total_points", res.Stats.TotalPoints),
		zap.Bool("leveled_up", res.LeveledUp),
	)
	return res, nil
}

func (s *Service) onLevelUp(ctx context.Context, userID string, levels []*UserLevel, from, to int) {
	for rank := from + 1; rank <= to; rank++ {
		badgeType, ok := levelBadges[rank]
		if !ok {
			continue
		}
		s.effects.Dispatch(ctx, "award "+string(badgeType), func(ctx context.Context) error {
			_, err := s.badges.AwardBadge(ctx, userID, badgeType)
			if errutil.IsReason(err, errutil.ReasonBadgeAlreadyOwned) {
				return nil
			}
			return err
		})
	}

	payload := map[string]any{"to": levels[to-1].LevelName, "rank": to}
	if from > 0 {
		payload["from"] = levels[from-1].LevelName
	}
	event := eventbus.NewEvent(eventbus.LevelChanged, userID, payload)
	s.effects.Dispatch(ctx, "publish "+eventbus.LevelChanged, func(ctx context.Context) error {
		return s.events.Publish(ctx, event)
	})
}

// lockStats returns the stats row of userID under FOR UPDATE, creating it at the base level when missing.
func (s *Service) lockStats(ctx context.Context, tx *gorm.DB, userID string, levels []*UserLevel, now time.Time) (*UserStats, error) {
	statsTx := s.stats.WithTrx(tx)

	stats, err := statsTx.FindOne(ctx, &UserStats{UserID: userID}, option.WithLockingUpdate())
	if err != nil {
		return nil, fmt.Errorf("lock stats: %w", err)
	}
	if stats != nil {
		return stats, nil
	}

	if err := s.createStats(ctx, statsTx, userID, levels, now); err != nil {
		return nil, err
	}

	stats, err = statsTx.FindOne(ctx, &UserStats{UserID: userID}, option.WithLockingUpdate())
	if err != nil {
		return nil, fmt.Errorf("lock stats: %w", err)
	}
	if stats == nil {
		return nil, fmt.Errorf("stats for %s vanished after create", userID)
	}
	return stats, nil
}

func (s *Service) createStats(ctx context.Context, repo repository.Repository[UserStats], userID string, levels []*UserLevel, now time.Time) error {
	start, err := base(levels)
	if err != nil {
		logger.L(ctx).Error("level table has no base level", zap.String("user_id", userID))
		return err
	}

	if _, err := repo.TryCreate(ctx, &UserStats{
		ID:             s.node.Generate().String(),
		UserID:         userID,
		CurrentLevelID: start.ID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}); err != nil {
		return fmt.Errorf("create stats: %w", err)
	}
	return nil
}

// GetOrCreateUserStats returns the stats of userID, starting a new user at the zero-threshold level.
func (s *Service) GetOrCreateUserStats(ctx context.Context, userID string) (*UserStats, error) {
	ok, err := s.users.Exists(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errutil.UserNotFound(userID)
	}

	levels, err := s.levels.Levels(ctx)
	if err != nil {
		return nil, err
	}

	stats, err := s.stats.FindOne(ctx, &UserStats{UserID: userID})
	if err != nil {
		return nil, err
	}
	if stats == nil {
		if err := s.createStats(ctx, s.stats, userID, levels, s.now().UTC()); err != nil {
			return nil, err
		}
		if stats, err = s.stats.FindOne(ctx, &UserStats{UserID: userID}); err != nil {
			return nil, err
		}
	}

	stats.CurrentLevel = levelByID(levels, stats.CurrentLevelID)
	return stats, nil
}

// GetUserStats projects the level progress of userID. Users without stats get the zero projection.
func (s *Service) GetUserStats(ctx context.Context, userID string) (*StatsView, error) {
	ctx, span := tracer.Start(ctx, "level.GetUserStats")
	defer span.End()

	levels, err := s.levels.Levels(ctx)
	if err != nil {
		return nil, err
	}

	stats, err := s.stats.FindOne(ctx, &UserStats{UserID: userID})
	if err != nil {
		logger.L(ctx).Error("failed to query stats", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}

	view := &StatsView{UserID: userID}
	if stats == nil {
		start, err := base(levels)
		if err != nil {
			return nil, err
		}
		view.CurrentLevel = start
	} else {
		view.TotalPoints = stats.TotalPoints
		view.CurrentLevel = levelByID(levels, stats.CurrentLevelID)
		if view.CurrentLevel == nil {
			view.CurrentLevel, _ = levelFor(levels, stats.TotalPoints)
		}
	}

	if next := nextLevel(levels, view.TotalPoints); next != nil {
		view.NextLevel = next
		view.PointsToNextLevel = next.MinPointsRequired - view.TotalPoints
	}
	return view, nil
}

func (s *Service) ListLevels(ctx context.Context) ([]*UserLevel, error) {
	return s.levels.Levels(ctx)
}

// ListActivities pages the activities of userID newest first using an opaque cursor.
func (s *Service) ListActivities(ctx context.Context, userID string, p pagination.Pagination) ([]*UserActivity, *pagination.PageInfo, error) {
	opts := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc"}),
		option.WithTieBreaker(true),
		option.ApplyPagination(p),
	}

	if p.Cursor != "" {
		cursor, err := pagination.DecodeCursor(p.Cursor)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", err)
		}
		at, err := cursor.Time()
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", err)
		}
		opts = append(opts, option.WithCursorBefore(at, cursor.ID))
	}

	items, err := s.activities.Find(ctx, &UserActivity{UserID: userID}, opts...)
	if err != nil {
		logger.L(ctx).Error("failed to list activities", zap.String("user_id", userID), zap.Error(err))
		return nil, nil, err
	}

	limit := p.Limit
	if limit <= 0 {
		limit = pagination.DefaultLimit
	}

	items, info := pagination.BuildCursorPageInfo(items, limit, func(a *UserActivity) string {
		c, _ := pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: a.CreatedAt.UTC().Format(time.RFC3339Nano),
			ID:        a.ID,
		})
		return c
	})
	if items == nil {
		items = []*UserActivity{}
	}
	return items, info, nil
}

func levelByID(levels []*UserLevel, id string) *UserLevel {
	for _, l := range levels {
		if l.ID == id {
			return l
		}
	}
	return nil
}
