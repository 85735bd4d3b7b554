package reward

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"feedshop-rewards/pkg/db/pagination"
	"feedshop-rewards/pkg/errutil"
	"feedshop-rewards/pkg/eventbus"
	"feedshop-rewards/pkg/repository"
	"feedshop-rewards/pkg/sideeffect"
	"feedshop-rewards/services/ledger"
	"feedshop-rewards/services/reward/rewardmock"
	"feedshop-rewards/services/testutil"
	"feedshop-rewards/services/user"
	"feedshop-rewards/services/user/usermock"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var seoul = func() *time.Location {
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		panic(err)
	}
	return loc
}()

type fixture struct {
	svc    *Service
	db     *gorm.DB
	ledger *ledger.Service
	users  *user.Store
	clock  time.Time
}

func (f *fixture) advance(d time.Duration) {
	f.clock = f.clock.Add(d)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t,
		&user.User{},
		&RewardPolicy{}, &RewardHistory{},
		&ledger.PointBalance{}, &ledger.PointTransaction{}, &ledger.CreditPool{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	authz, err := user.NewAuthorizer(nil)
	require.NoError(t, err)

	f := &fixture{
		db:     db,
		ledger: ledger.NewService(ledger.ServiceParams{DB: db, Node: node}),
		users:  user.NewStore(user.StoreParams{DB: db}),
		clock:  time.Date(2026, time.March, 10, 10, 0, 0, 0, seoul),
	}
	f.svc = newService(t, db, f.ledger, f.users, authz)
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func newService(t *testing.T, db *gorm.DB, l Ledger, users user.Directory, authz user.Authorizer) *Service {
	t.Helper()

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	return &Service{
		policies:  NewPolicyStore(db),
		histories: NewHistoryStore(db),
		ledger:    l,
		users:     users,
		authz:     authz,
		events:    eventbus.Nop{},
		effects:   sideeffect.Inline{},
		node:      node,
		now:       time.Now,
		loc:       seoul,
		batchSize: defaultPendingBatchSize,
	}
}

func (f *fixture) addUser(t *testing.T, id string, role user.Role, birthDate *time.Time) {
	t.Helper()
	require.NoError(t, f.users.Save(context.Background(), &user.User{ID: id, LoginID: id, Role: role, BirthDate: birthDate}))
}

func addPolicy(t *testing.T, db *gorm.DB, p *RewardPolicy) {
	t.Helper()
	if p.ID == "" {
		p.ID = "policy-" + string(p.RewardType)
	}
	p.IsActive = true
	require.NoError(t, NewPolicyStore(db).Upsert(context.Background(), p))
}

func intPtr(v int) *int { return &v }

func (f *fixture) balance(t *testing.T, userID string) int64 {
	t.Helper()
	b, err := f.ledger.GetBalance(context.Background(), userID)
	require.NoError(t, err)
	return b.CurrentPoints
}

func TestGrantReviewRewardIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, "u-1", user.RoleUser, nil)
	addPolicy(t, f.db, &RewardPolicy{RewardType: ReviewWrite, Points: 100, Description: "리뷰 작성"})

	h, err := f.svc.GrantReviewReward(ctx, "u-1", "review-1", ReviewText)
	require.NoError(t, err)
	require.Equal(t, ReviewWrite, h.RewardType)
	require.True(t, h.IsProcessed)
	require.NotNil(t, h.PointTransactionID)

	tx, err := f.ledger.FindTransactionByReference(ctx, "u-1", h.LedgerReference())
	require.NoError(t, err)
	require.NotNil(t, tx)
	require.Equal(t, *h.PointTransactionID, tx.ID)

	_, err = f.svc.GrantReviewReward(ctx, "u-1", "review-1", ReviewText)
	require.True(t, errutil.IsReason(err, errutil.ReasonRewardAlreadyGranted))
	require.Equal(t, int64(100), f.balance(t, "u-1"))

	_, err = f.svc.GrantReviewReward(ctx, "u-1", "review-2", ReviewImage)
	require.True(t, errutil.IsReason(err, errutil.ReasonRewardPolicyNotFound))

	_, err = f.svc.GrantReviewReward(ctx, "ghost", "review-1", ReviewText)
	require.True(t, errutil.IsReason(err, errutil.ReasonUserNotFound))
}

func TestGrantEventRewardLimits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, "u-1", user.RoleUser, nil)
	addPolicy(t, f.db, &RewardPolicy{
		RewardType:   EventParticipation,
		Points:       30,
		Description:  "이벤트 참여",
		DailyLimit:   intPtr(2),
		MonthlyLimit: intPtr(3),
	})

	_, err := f.svc.GrantEventReward(ctx, "u-1", "event-1", EventParticipation)
	require.NoError(t, err)
	_, err = f.svc.GrantEventReward(ctx, "u-1", "event-2", "")
	require.NoError(t, err)

	_, err = f.svc.GrantEventReward(ctx, "u-1", "event-3", EventParticipation)
	require.True(t, errutil.IsReason(err, errutil.ReasonDailyRewardLimitExceeded))

	f.advance(24 * time.Hour)
	_, err = f.svc.GrantEventReward(ctx, "u-1", "event-3", EventParticipation)
	require.NoError(t, err)

	f.advance(24 * time.Hour)
	_, err = f.svc.GrantEventReward(ctx, "u-1", "event-4", EventParticipation)
	require.True(t, errutil.IsReason(err, errutil.ReasonMonthlyRewardLimitExceeded))

	require.Equal(t, int64(90), f.balance(t, "u-1"))

	_, err = f.svc.GrantEventReward(ctx, "u-1", "event-5", AdminGrant)
	be, ok := errutil.As(err)
	require.True(t, ok)
	require.Equal(t, errutil.StatusBadRequest, be.Code)
}

func TestGrantEventRewardOnlyParticipation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, "u-1", user.RoleUser, nil)
	for _, p := range []*RewardPolicy{
		{RewardType: Birthday, Points: 500},
		{RewardType: FirstPurchase, Points: 1000},
		{RewardType: ReviewWrite, Points: 100},
		{RewardType: ReviewPhoto, Points: 150},
	} {
		addPolicy(t, f.db, p)
	}

	for _, rt := range []RewardType{Birthday, FirstPurchase, ReviewWrite, ReviewPhoto, AdminGrant, "BOGUS"} {
		_, err := f.svc.GrantEventReward(ctx, "u-1", "event-"+string(rt), rt)
		be, ok := errutil.As(err)
		require.True(t, ok, rt)
		require.Equal(t, errutil.StatusBadRequest, be.Code, rt)
	}

	require.Equal(t, int64(0), f.balance(t, "u-1"))

	var count int64
	require.NoError(t, f.db.Model(&RewardHistory{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestGrantBirthdayRewardOncePerYear(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, "u-1", user.RoleUser, nil)

	_, err := f.svc.GrantBirthdayReward(ctx, "u-1")
	require.True(t, errutil.IsReason(err, errutil.ReasonRewardPolicyNotFound))

	addPolicy(t, f.db, &RewardPolicy{RewardType: Birthday, Points: 500, Description: "생일 축하"})

	h, err := f.svc.GrantBirthdayReward(ctx, "u-1")
	require.NoError(t, err)
	require.NotNil(t, h)
	require.Equal(t, "2026", *h.ReferenceID)

	f.advance(30 * 24 * time.Hour)
	h, err = f.svc.GrantBirthdayReward(ctx, "u-1")
	require.NoError(t, err)
	require.Nil(t, h)
	require.Equal(t, int64(500), f.balance(t, "u-1"))

	f.clock = time.Date(2027, time.March, 10, 10, 0, 0, 0, seoul)
	h, err = f.svc.GrantBirthdayReward(ctx, "u-1")
	require.NoError(t, err)
	require.NotNil(t, h)
}

func TestRunBirthdayRewards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	born := func(month time.Month, day int) *time.Time {
		d := time.Date(1990, month, day, 0, 0, 0, 0, time.UTC)
		return &d
	}
	f.addUser(t, "u-1", user.RoleUser, born(time.March, 10))
	f.addUser(t, "u-2", user.RoleUser, born(time.March, 10))
	f.addUser(t, "u-3", user.RoleUser, born(time.March, 11))

	res, err := f.svc.RunBirthdayRewards(ctx, f.clock)
	require.NoError(t, err)
	require.Equal(t, BirthdayResult{}, *res)

	addPolicy(t, f.db, &RewardPolicy{RewardType: Birthday, Points: 500, Description: "생일 축하"})

	res, err = f.svc.RunBirthdayRewards(ctx, f.clock)
	require.NoError(t, err)
	require.Equal(t, BirthdayResult{Granted: 2}, *res)

	res, err = f.svc.RunBirthdayRewards(ctx, f.clock)
	require.NoError(t, err)
	require.Equal(t, BirthdayResult{Skipped: 2}, *res)

	require.Equal(t, int64(0), f.balance(t, "u-3"))
}

func TestGrantFirstPurchaseReward(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, "u-1", user.RoleUser, nil)
	addPolicy(t, f.db, &RewardPolicy{RewardType: FirstPurchase, Points: 1000, Description: "첫 구매"})

	h, err := f.svc.GrantFirstPurchaseReward(ctx, "u-1", "order-1")
	require.NoError(t, err)

	var meta map[string]string
	require.NoError(t, json.Unmarshal(h.Metadata, &meta))
	require.Equal(t, "order-1", meta["order_id"])

	_, err = f.svc.GrantFirstPurchaseReward(ctx, "u-1", "order-2")
	require.True(t, errutil.IsReason(err, errutil.ReasonRewardAlreadyGranted))
	require.Equal(t, int64(1000), f.balance(t, "u-1"))
}

func TestPolicyCondition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, "u-1", user.RoleUser, nil)
	f.addUser(t, "admin", user.RoleAdmin, nil)
	addPolicy(t, f.db, &RewardPolicy{RewardType: ReviewWrite, Points: 100, Condition: `role == "ADMIN"`})

	_, err := f.svc.GrantReviewReward(ctx, "u-1", "review-1", ReviewText)
	require.True(t, errutil.IsReason(err, errutil.ReasonRewardConditionNotMet))

	_, err = f.svc.GrantReviewReward(ctx, "admin", "review-1", ReviewText)
	require.NoError(t, err)

	addPolicy(t, f.db, &RewardPolicy{RewardType: ReviewWrite, Points: 100, Condition: `role ==`})
	_, err = f.svc.GrantReviewReward(ctx, "admin", "review-2", ReviewText)
	require.True(t, errutil.IsReason(err, errutil.ReasonConfigurationError))
}

func TestGetRewardHistoryClampsPage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, "u-1", user.RoleUser, nil)
	addPolicy(t, f.db, &RewardPolicy{RewardType: ReviewWrite, Points: 10})

	for _, id := range []string{"r-1", "r-2", "r-3"} {
		_, err := f.svc.GrantReviewReward(ctx, "u-1", id, ReviewText)
		require.NoError(t, err)
		f.advance(time.Minute)
	}

	page, err := f.svc.GetRewardHistory(ctx, "u-1", -1, 0)
	require.NoError(t, err)
	require.Equal(t, 0, page.Page)
	require.Equal(t, 1, page.Size)
	require.Equal(t, int64(3), page.Total)
	require.Len(t, page.Items, 1)
	require.Equal(t, "r-3", *page.Items[0].ReferenceID)

	page, err = f.svc.GetRewardHistory(ctx, "u-1", 0, 500)
	require.NoError(t, err)
	require.Equal(t, pagination.MaxPageSize, page.Size)
	require.Len(t, page.Items, 3)

	policies, err := f.svc.GetRewardPolicies(ctx)
	require.NoError(t, err)
	require.Len(t, policies, 1)
}

func TestLedgerFailureLeavesGrantPending(t *testing.T) {
	ctrl := gomock.NewController(t)
	db := testutil.NewTestDB(t, &user.User{}, &RewardPolicy{}, &RewardHistory{})
	addPolicy(t, db, &RewardPolicy{RewardType: ReviewWrite, Points: 100, Description: "리뷰 작성"})

	dir := usermock.NewMockDirectory(ctrl)
	dir.EXPECT().Get(gomock.Any(), "u-1").Return(&user.User{ID: "u-1", Role: user.RoleUser}, nil)

	l := rewardmock.NewMockLedger(ctrl)
	l.EXPECT().FindTransactionByReference(gomock.Any(), "u-1", gomock.Any()).Return(nil, nil)
	l.EXPECT().EarnPoints(gomock.Any(), "u-1", int64(100), "리뷰 작성", gomock.Any()).Return(nil, errors.New("ledger down"))

	svc := newService(t, db, l, dir, nil)

	_, err := svc.GrantReviewReward(context.Background(), "u-1", "review-1", ReviewText)
	require.ErrorContains(t, err, "ledger down")

	pending, err := svc.histories.ListPending(context.Background(), time.Now().UTC(), 10)
	require.NoError(t, err)
	require.Empty(t, pending)

	pending, err = svc.histories.ListPending(context.Background(), time.Now().UTC().Add(settleLease), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.False(t, pending[0].IsProcessed)
	require.Equal(t, 1, pending[0].Attempts)
}

func TestProcessPendingRewardsContinuesPastFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	db := testutil.NewTestDB(t, &RewardHistory{})
	ctx := context.Background()

	t0 := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	histories := NewHistoryStore(db)
	for i, id := range []string{"h-1", "h-2"} {
		res, err := histories.TryInsert(ctx, &RewardHistory{
			ID:          id,
			UserID:      "u-" + id,
			RewardType:  ReviewWrite,
			Points:      100,
			Description: "리뷰 작성",
			ReferenceID: &id,
			CreatedAt:   t0.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
		require.Equal(t, repository.Inserted, res)
	}

	l := rewardmock.NewMockLedger(ctrl)
	gomock.InOrder(
		l.EXPECT().FindTransactionByReference(gomock.Any(), "u-h-1", "reward:h-1").Return(nil, nil),
		l.EXPECT().EarnPoints(gomock.Any(), "u-h-1", int64(100), "리뷰 작성", "reward:h-1").Return(nil, errors.New("deadlock")),
		l.EXPECT().FindTransactionByReference(gomock.Any(), "u-h-2", "reward:h-2").Return(&ledger.PointTransaction{ID: "tx-9"}, nil),
	)

	svc := newService(t, db, l, nil, nil)

	res, err := svc.ProcessPendingRewards(ctx)
	require.NoError(t, err)
	require.Equal(t, ProcessResult{Processed: 1, Failed: 1}, *res)

	pending, err := histories.ListPending(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	require.Empty(t, pending)

	pending, err = histories.ListPending(ctx, time.Now().UTC().Add(settleLease), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "h-1", pending[0].ID)

	var settled RewardHistory
	require.NoError(t, db.First(&settled, "id = ?", "h-2").Error)
	require.True(t, settled.IsProcessed)
	require.Equal(t, "tx-9", *settled.PointTransactionID)
}

func TestGrantPointsByAdmin(t *testing.T) {
	ctx := context.Background()
	admin := &user.User{ID: "admin", Role: user.RoleAdmin}
	member := &user.User{ID: "u-1", Role: user.RoleUser}

	t.Run("granter not found", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		dir := usermock.NewMockDirectory(ctrl)
		dir.EXPECT().Get(gomock.Any(), "ghost").Return(nil, errutil.UserNotFound("ghost"))

		svc := newService(t, testutil.NewTestDB(t, &RewardHistory{}), nil, dir, usermock.NewMockAuthorizer(ctrl))
		_, err := svc.GrantPointsByAdmin(ctx, "ghost", "u-1", 100, "")
		require.True(t, errutil.IsReason(err, errutil.ReasonUserNotFound))
	})

	t.Run("granter is not admin", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		dir := usermock.NewMockDirectory(ctrl)
		authz := usermock.NewMockAuthorizer(ctrl)
		dir.EXPECT().Get(gomock.Any(), "u-1").Return(member, nil)
		authz.EXPECT().Can(gomock.Any(), member, user.ObjectPoints, user.ActionGrant).Return(false, nil)

		svc := newService(t, testutil.NewTestDB(t, &RewardHistory{}), nil, dir, authz)
		_, err := svc.GrantPointsByAdmin(ctx, "u-1", "u-1", 100, "")
		require.True(t, errutil.IsReason(err, errutil.ReasonAccessDenied))
	})

	t.Run("target not found", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		dir := usermock.NewMockDirectory(ctrl)
		authz := usermock.NewMockAuthorizer(ctrl)
		dir.EXPECT().Get(gomock.Any(), "admin").Return(admin, nil)
		authz.EXPECT().Can(gomock.Any(), admin, user.ObjectPoints, user.ActionGrant).Return(true, nil)
		dir.EXPECT().Get(gomock.Any(), "ghost").Return(nil, errutil.UserNotFound("ghost"))

		svc := newService(t, testutil.NewTestDB(t, &RewardHistory{}), nil, dir, authz)
		_, err := svc.GrantPointsByAdmin(ctx, "admin", "ghost", 100, "")
		require.True(t, errutil.IsReason(err, errutil.ReasonUserNotFound))
	})

	t.Run("non positive amount", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		dir := usermock.NewMockDirectory(ctrl)
		authz := usermock.NewMockAuthorizer(ctrl)
		dir.EXPECT().Get(gomock.Any(), "admin").Return(admin, nil)
		authz.EXPECT().Can(gomock.Any(), admin, user.ObjectPoints, user.ActionGrant).Return(true, nil)
		dir.EXPECT().Get(gomock.Any(), "u-1").Return(member, nil)

		svc := newService(t, testutil.NewTestDB(t, &RewardHistory{}), nil, dir, authz)
		_, err := svc.GrantPointsByAdmin(ctx, "admin", "u-1", 0, "")
		require.True(t, errutil.IsReason(err, errutil.ReasonInvalidAmount))
	})

	t.Run("granted twice without reference", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		dir := usermock.NewMockDirectory(ctrl)
		authz := usermock.NewMockAuthorizer(ctrl)
		l := rewardmock.NewMockLedger(ctrl)

		dir.EXPECT().Get(gomock.Any(), "admin").Return(admin, nil).Times(2)
		dir.EXPECT().Get(gomock.Any(), "u-1").Return(member, nil).Times(2)
		authz.EXPECT().Can(gomock.Any(), admin, user.ObjectPoints, user.ActionGrant).Return(true, nil).Times(2)
		l.EXPECT().FindTransactionByReference(gomock.Any(), "u-1", gomock.Any()).Return(nil, nil).Times(2)
		l.EXPECT().EarnPoints(gomock.Any(), "u-1", int64(250), "보상 지급", gomock.Any()).
			Return(&ledger.PointTransaction{ID: "tx-1"}, nil).Times(2)

		svc := newService(t, testutil.NewTestDB(t, &RewardHistory{}), l, dir, authz)
		for range 2 {
			h, err := svc.GrantPointsByAdmin(ctx, "admin", "u-1", 250, "보상 지급")
			require.NoError(t, err)
			require.Equal(t, AdminGrant, h.RewardType)
			require.Nil(t, h.ReferenceID)
			require.Equal(t, "admin", *h.GrantedBy)
			require.True(t, h.IsProcessed)
		}
	})
}

func newMySQLMock(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	return db, mock
}

func TestStoresPropagateDatabaseErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("count in window", func(t *testing.T) {
		db, mock := newMySQLMock(t)
		mock.ExpectQuery("SELECT count\\(\\*\\) FROM `reward_histories`").
			WillReturnError(errors.New("connection reset"))

		_, err := NewHistoryStore(db).CountInWindow(ctx, "u-1", EventParticipation, time.Now().Add(-time.Hour), time.Now())
		require.ErrorContains(t, err, "connection reset")
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("pending sweep", func(t *testing.T) {
		db, mock := newMySQLMock(t)
		mock.ExpectQuery("SELECT \\* FROM `reward_histories` WHERE is_processed = \\?").
			WillReturnError(errors.New("connection reset"))

		svc := newService(t, db, nil, nil, nil)
		_, err := svc.ProcessPendingRewards(ctx)
		require.ErrorContains(t, err, "connection reset")
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("find valid policy", func(t *testing.T) {
		db, mock := newMySQLMock(t)
		mock.ExpectQuery("SELECT \\* FROM `reward_policies`").
			WillReturnRows(sqlmock.NewRows([]string{"id", "reward_type", "points", "is_active"}).
				AddRow("p-1", "BIRTHDAY", 500, true))

		p, err := NewPolicyStore(db).FindValid(ctx, Birthday, time.Now())
		require.NoError(t, err)
		require.Equal(t, int64(500), p.Points)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}
