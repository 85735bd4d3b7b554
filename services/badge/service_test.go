package badge

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"feedshop-rewards/pkg/errutil"
	"feedshop-rewards/pkg/eventbus"
	"feedshop-rewards/services/testutil"
	"feedshop-rewards/services/user"
	"feedshop-rewards/services/user/usermock"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type recordingPublisher struct {
	events []eventbus.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e eventbus.Event) error {
	p.events = append(p.events, e)
	return nil
}

func newTestService(t *testing.T, users ...string) (*Service, *recordingPublisher) {
	t.Helper()

	db := testutil.NewTestDB(t, &user.User{}, &UserBadge{})
	store := user.NewStore(user.StoreParams{DB: db})
	for _, id := range users {
		require.NoError(t, store.Save(context.Background(), &user.User{ID: id, LoginID: id, Role: user.RoleUser}))
	}

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	pub := &recordingPublisher{}
	return NewService(ServiceParams{DB: db, Node: node, Users: store, Publisher: pub}), pub
}

func badgeTypes(badges []*UserBadge) []Type {
	out := make([]Type, 0, len(badges))
	for _, b := range badges {
		out = append(out, b.BadgeType)
	}
	return out
}

func TestAwardBadge(t *testing.T) {
	svc, pub := newTestService(t, "u-1")
	ctx := context.Background()

	b, err := svc.AwardBadge(ctx, "u-1", VIP)
	require.NoError(t, err)
	require.Equal(t, "VIP", b.BadgeName)
	require.Len(t, pub.events, 1)
	require.Equal(t, eventbus.BadgeAwarded, pub.events[0].Type)

	_, err = svc.AwardBadge(ctx, "u-1", VIP)
	require.True(t, errutil.IsReason(err, errutil.ReasonBadgeAlreadyOwned))
	require.Len(t, pub.events, 1)

	_, err = svc.AwardBadge(ctx, "u-1", Type("GOLDEN"))
	require.Error(t, err)

	_, err = svc.AwardBadge(ctx, "ghost", VIP)
	require.True(t, errutil.IsReason(err, errutil.ReasonUserNotFound))
}

func TestAwardBadgeUnknownUser(t *testing.T) {
	ctrl := gomock.NewController(t)
	dir := usermock.NewMockDirectory(ctrl)
	dir.EXPECT().Exists(gomock.Any(), "u-9").Return(false, nil)

	svc := &Service{users: dir}
	_, err := svc.AwardBadge(context.Background(), "u-9", FirstReview)
	require.True(t, errutil.IsReason(err, errutil.ReasonUserNotFound))
}

func TestCheckAndAwardReviewBadges(t *testing.T) {
	svc, _ := newTestService(t, "u-1")
	ctx := context.Background()

	awarded, err := svc.CheckAndAwardReviewBadges(ctx, "u-1", 0)
	require.NoError(t, err)
	require.Empty(t, awarded)

	awarded, err = svc.CheckAndAwardReviewBadges(ctx, "u-1", 1)
	require.NoError(t, err)
	require.Equal(t, []Type{FirstReview}, badgeTypes(awarded))

	awarded, err = svc.CheckAndAwardReviewBadges(ctx, "u-1", 50)
	require.NoError(t, err)
	require.Equal(t, []Type{ReviewMaster, ReviewLegend}, badgeTypes(awarded))

	awarded, err = svc.CheckAndAwardReviewBadges(ctx, "u-1", 51)
	require.NoError(t, err)
	require.Empty(t, awarded)
}

func TestCheckAndAwardPurchaseBadges(t *testing.T) {
	svc, _ := newTestService(t, "u-1")
	ctx := context.Background()

	awarded, err := svc.CheckAndAwardPurchaseBadges(ctx, "u-1", 3, 999_999)
	require.NoError(t, err)
	require.Equal(t, []Type{FirstPurchase}, badgeTypes(awarded))

	awarded, err = svc.CheckAndAwardPurchaseBadges(ctx, "u-1", 10, 1_000_000)
	require.NoError(t, err)
	require.Equal(t, []Type{LoyalBuyer, BigSpender}, badgeTypes(awarded))

	badges, err := svc.ListUserBadges(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, badges, 3)

	badges, err = svc.ListUserBadges(ctx, "u-2")
	require.NoError(t, err)
	require.Empty(t, badges)
}
