package level

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"feedshop-rewards/pkg/db/option"
	"feedshop-rewards/pkg/db/pagination"
	"feedshop-rewards/pkg/errutil"
	"feedshop-rewards/pkg/eventbus"
	"feedshop-rewards/pkg/repository"
	"feedshop-rewards/services/badge"
	"feedshop-rewards/services/level/levelmock"
	"feedshop-rewards/services/testutil"
	"feedshop-rewards/services/user"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var defaultLevels = []*UserLevel{
	{ID: "lv-1", LevelName: "새싹", MinPointsRequired: 0},
	{ID: "lv-2", LevelName: "성장", MinPointsRequired: 100, DiscountRate: 1},
	{ID: "lv-3", LevelName: "열매", MinPointsRequired: 300, DiscountRate: 2},
	{ID: "lv-4", LevelName: "단골", MinPointsRequired: 700, DiscountRate: 3},
	{ID: "lv-5", LevelName: "VIP", MinPointsRequired: 1500, DiscountRate: 5},
	{ID: "lv-6", LevelName: "레전드", MinPointsRequired: 3000, DiscountRate: 7},
}

type recordingPublisher struct {
	events []eventbus.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e eventbus.Event) error {
	p.events = append(p.events, e)
	return nil
}

type fixture struct {
	svc    *Service
	db     *gorm.DB
	badges *badge.Service
	pub    *recordingPublisher
	clock  time.Time
}

func newFixture(t *testing.T, levels []*UserLevel) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t, &user.User{}, &UserLevel{}, &UserStats{}, &UserActivity{}, &badge.UserBadge{})
	for _, l := range levels {
		copied := *l
		require.NoError(t, db.Create(&copied).Error)
	}

	users := user.NewStore(user.StoreParams{DB: db})
	for _, id := range []string{"u-1", "u-2"} {
		require.NoError(t, users.Save(context.Background(), &user.User{ID: id, LoginID: id, Role: user.RoleUser}))
	}

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	f := &fixture{
		db:     db,
		badges: badge.NewService(badge.ServiceParams{DB: db, Node: node, Users: users}),
		pub:    &recordingPublisher{},
		clock:  time.Date(2026, time.March, 10, 1, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(ServiceParams{DB: db, Node: node, Users: users, Badges: f.badges, Publisher: f.pub})
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) seedStats(t *testing.T, userID string, total int64, levelID string) {
	t.Helper()
	require.NoError(t, f.db.Create(&UserStats{
		ID:             "stats-" + userID,
		UserID:         userID,
		TotalPoints:    total,
		CurrentLevelID: levelID,
		CreatedAt:      f.clock,
		UpdatedAt:      f.clock,
	}).Error)
}

func (f *fixture) badgeTypes(t *testing.T, userID string) []badge.Type {
	t.Helper()
	held, err := f.badges.ListUserBadges(context.Background(), userID)
	require.NoError(t, err)
	out := make([]badge.Type, 0, len(held))
	for _, b := range held {
		out = append(out, b.BadgeType)
	}
	return out
}

func TestRecordActivityCrossesLevelOnce(t *testing.T) {
	f := newFixture(t, defaultLevels[:2])
	ctx := context.Background()
	f.seedStats(t, "u-1", 95, "lv-1")

	ctrl := gomock.NewController(t)
	badges := levelmock.NewMockBadges(ctrl)
	badges.EXPECT().AwardBadge(gomock.Any(), "u-1", badge.EarlyAdopter).Return(&badge.UserBadge{}, nil).Times(1)
	f.svc.badges = badges

	res, err := f.svc.RecordActivity(ctx, "u-1", ReviewCreation, "리뷰 작성", "review-1", "REVIEW")
	require.NoError(t, err)
	require.False(t, res.Duplicate)
	require.True(t, res.LeveledUp)
	require.Equal(t, int64(105), res.Stats.TotalPoints)
	require.Equal(t, "성장", res.Stats.CurrentLevel.LevelName)

	res, err = f.svc.RecordActivity(ctx, "u-1", ReviewCreation, "리뷰 작성", "review-1", "REVIEW")
	require.NoError(t, err)
	require.True(t, res.Duplicate)

	view, err := f.svc.GetUserStats(ctx, "u-1")
	require.NoError(t, err)
	require.Equal(t, int64(105), view.TotalPoints)
	require.Equal(t, "성장", view.CurrentLevel.LevelName)
	require.Nil(t, view.NextLevel)

	require.Len(t, f.pub.events, 1)
	require.Equal(t, eventbus.LevelChanged, f.pub.events[0].Type)
}

func TestRecordActivityAwardsEveryCrossedRank(t *testing.T) {
	f := newFixture(t, defaultLevels)
	ctx := context.Background()
	f.seedStats(t, "u-1", 290, "lv-1")

	_, err := f.badges.AwardBadge(ctx, "u-1", badge.EarlyAdopter)
	require.NoError(t, err)

	res, err := f.svc.RecordActivity(ctx, "u-1", Referral, "친구 추천", "", "")
	require.NoError(t, err)
	require.Equal(t, int64(490), res.Stats.TotalPoints)
	require.Equal(t, "열매", res.Stats.CurrentLevel.LevelName)

	require.ElementsMatch(t, []badge.Type{badge.EarlyAdopter, badge.ActiveMember}, f.badgeTypes(t, "u-1"))
}

func TestRecordActivityWithoutReferenceIsNotDeduplicated(t *testing.T) {
	f := newFixture(t, defaultLevels)
	ctx := context.Background()

	for range 3 {
		res, err := f.svc.RecordActivity(ctx, "u-1", DailyLogin, "출석", "", "")
		require.NoError(t, err)
		require.False(t, res.Duplicate)
	}

	stats, err := f.svc.GetOrCreateUserStats(ctx, "u-1")
	require.NoError(t, err)
	require.Equal(t, int64(3), stats.TotalPoints)
	require.Equal(t, "새싹", stats.CurrentLevel.LevelName)
}

func TestRecordActivityBadgeFailureIsSuppressed(t *testing.T) {
	f := newFixture(t, defaultLevels)
	ctrl := gomock.NewController(t)
	badges := levelmock.NewMockBadges(ctrl)
	badges.EXPECT().AwardBadge(gomock.Any(), "u-1", badge.EarlyAdopter).Return(nil, errors.New("badge store down"))
	f.svc.badges = badges

	res, err := f.svc.RecordActivity(context.Background(), "u-1", FirstPurchase, "첫 구매", "order-1", "ORDER")
	require.NoError(t, err)
	require.True(t, res.LeveledUp)
	require.Equal(t, int64(100), res.Stats.TotalPoints)
}

func TestRecordActivityErrors(t *testing.T) {
	f := newFixture(t, defaultLevels)
	ctx := context.Background()

	_, err := f.svc.RecordActivity(ctx, "u-1", ActivityType("SPAM"), "", "", "")
	be, ok := errutil.As(err)
	require.True(t, ok)
	require.Equal(t, errutil.StatusBadRequest, be.Code)

	_, err = f.svc.RecordActivity(ctx, "ghost", DailyLogin, "", "", "")
	require.True(t, errutil.IsReason(err, errutil.ReasonUserNotFound))
}

func TestMissingBaseLevelIsConfigurationError(t *testing.T) {
	f := newFixture(t, defaultLevels[1:])
	ctx := context.Background()

	_, err := f.svc.RecordActivity(ctx, "u-1", DailyLogin, "", "", "")
	require.True(t, errutil.IsReason(err, errutil.ReasonConfigurationError))

	_, err = f.svc.GetOrCreateUserStats(ctx, "u-1")
	require.True(t, errutil.IsReason(err, errutil.ReasonConfigurationError))

	_, err = f.svc.GetUserStats(ctx, "u-1")
	require.True(t, errutil.IsReason(err, errutil.ReasonConfigurationError))

	var activities int64
	require.NoError(t, f.db.Model(&UserActivity{}).Count(&activities).Error)
	require.Zero(t, activities)
}

func TestGetUserStatsZeroProjection(t *testing.T) {
	f := newFixture(t, defaultLevels)
	ctx := context.Background()

	view, err := f.svc.GetUserStats(ctx, "u-2")
	require.NoError(t, err)
	require.Zero(t, view.TotalPoints)
	require.Equal(t, "새싹", view.CurrentLevel.LevelName)
	require.Equal(t, "성장", view.NextLevel.LevelName)
	require.Equal(t, int64(100), view.PointsToNextLevel)

	var rows int64
	require.NoError(t, f.db.Model(&UserStats{}).Count(&rows).Error)
	require.Zero(t, rows)

	_, err = f.svc.RecordActivity(ctx, "u-2", ReviewCreation, "", "review-9", "REVIEW")
	require.NoError(t, err)

	view, err = f.svc.GetUserStats(ctx, "u-2")
	require.NoError(t, err)
	require.Equal(t, int64(90), view.PointsToNextLevel)
}

func TestListActivitiesCursor(t *testing.T) {
	f := newFixture(t, defaultLevels)
	ctx := context.Background()

	for _, ref := range []string{"r-1", "r-2", "r-3"} {
		_, err := f.svc.RecordActivity(ctx, "u-1", ReviewLiked, "", ref, "REVIEW")
		require.NoError(t, err)
		f.clock = f.clock.Add(time.Minute)
	}

	items, info, err := f.svc.ListActivities(ctx, "u-1", pagination.Pagination{Limit: 2})
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.True(t, info.HasMore)
	require.Equal(t, "r-3", *items[0].ReferenceID)

	items, info, err = f.svc.ListActivities(ctx, "u-1", pagination.Pagination{Limit: 2, Cursor: info.NextCursor})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.False(t, info.HasMore)
	require.Equal(t, "r-1", *items[0].ReferenceID)

	_, _, err = f.svc.ListActivities(ctx, "u-1", pagination.Pagination{Cursor: "%%%"})
	require.Error(t, err)
}

type levelRepoMock struct {
	repository.Repository[UserLevel]
	calls int
}

func (m *levelRepoMock) Find(ctx context.Context, query *UserLevel, opts ...option.QueryOption) ([]*UserLevel, error) {
	m.calls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return defaultLevels, nil
}

func TestLevelTableCachesUntilExpiry(t *testing.T) {
	repo := &levelRepoMock{}
	tbl := newTable(repo, time.Minute)
	now := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)
	tbl.now = func() time.Time { return now }
	ctx := context.Background()

	for range 3 {
		levels, err := tbl.Levels(ctx)
		require.NoError(t, err)
		require.Len(t, levels, 6)
	}
	require.Equal(t, 1, repo.calls)

	now = now.Add(2 * time.Minute)
	_, err := tbl.Levels(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, repo.calls)

	tbl.Invalidate()
	_, err = tbl.Levels(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, repo.calls)
}

func TestLevelTableLoadSurvivesCanceledCaller(t *testing.T) {
	repo := &levelRepoMock{}
	tbl := newTable(repo, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	levels, err := tbl.Levels(ctx)
	require.NoError(t, err)
	require.Len(t, levels, 6)

	levels, err = tbl.Levels(context.Background())
	require.NoError(t, err)
	require.Len(t, levels, 6)
	require.Equal(t, 1, repo.calls)
}

func TestLevelFor(t *testing.T) {
	l, rank := levelFor(defaultLevels, 0)
	require.Equal(t, "새싹", l.LevelName)
	require.Equal(t, 1, rank)

	l, rank = levelFor(defaultLevels, 1499)
	require.Equal(t, "단골", l.LevelName)
	require.Equal(t, 4, rank)

	l, rank = levelFor(defaultLevels, 10_000)
	require.Equal(t, "레전드", l.LevelName)
	require.Equal(t, 6, rank)

	require.Nil(t, nextLevel(defaultLevels, 3000))
}
