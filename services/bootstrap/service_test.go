package bootstrap

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"feedshop-rewards/pkg/config"
	"feedshop-rewards/services/level"
	"feedshop-rewards/services/reward"
	"feedshop-rewards/services/testutil"
	"feedshop-rewards/services/user"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T, adminID string) *Service {
	t.Helper()

	db := testutil.NewTestDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Bootstrap.AdminID = adminID

	svc := NewService(ServiceParams{DB: db, Node: node, Config: cfg})
	require.NoError(t, svc.Migrate(context.Background()))
	return svc
}

func TestSeedIsIdempotent(t *testing.T) {
	svc := newTestService(t, "admin-1")
	ctx := context.Background()

	res, err := svc.Seed(ctx, false)
	require.NoError(t, err)
	require.Equal(t, 6, res.Levels)
	require.Equal(t, 5, res.Policies)
	require.True(t, res.Admin)

	res, err = svc.Seed(ctx, false)
	require.NoError(t, err)
	require.Equal(t, 0, res.Levels)
	require.Equal(t, 0, res.Policies)
	require.False(t, res.Admin)

	levels, err := svc.levels.Find(ctx, nil)
	require.NoError(t, err)
	require.Len(t, levels, 6)

	admin, err := svc.users.Get(ctx, "admin-1")
	require.NoError(t, err)
	require.Equal(t, user.RoleAdmin, admin.Role)
}

func TestSeedOverwritePolicies(t *testing.T) {
	svc := newTestService(t, "")
	ctx := context.Background()

	_, err := svc.Seed(ctx, false)
	require.NoError(t, err)

	review, err := svc.policies.FindValid(ctx, reward.ReviewWrite, svc.now())
	require.NoError(t, err)
	require.NoError(t, svc.policies.Upsert(ctx, &reward.RewardPolicy{RewardType: reward.ReviewWrite, Points: 1, IsActive: true}))

	res, err := svc.Seed(ctx, true)
	require.NoError(t, err)
	require.Equal(t, 5, res.Policies)

	got, err := svc.policies.FindValid(ctx, reward.ReviewWrite, svc.now())
	require.NoError(t, err)
	require.Equal(t, review.ID, got.ID)
	require.Equal(t, int64(100), got.Points)
	require.Equal(t, 5, *got.DailyLimit)
}

func TestSeededLevelsStartAtZero(t *testing.T) {
	svc := newTestService(t, "")
	ctx := context.Background()

	_, err := svc.Seed(ctx, false)
	require.NoError(t, err)

	base, err := svc.levels.FindOne(ctx, &level.UserLevel{LevelName: "새싹"})
	require.NoError(t, err)
	require.NotNil(t, base)
	require.Equal(t, int64(0), base.MinPointsRequired)
}
