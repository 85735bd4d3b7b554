package bootstrap

import (
	"context"
	"fmt"
	"time"

	"feedshop-rewards/pkg/config"
	"feedshop-rewards/pkg/errutil"
	"feedshop-rewards/pkg/repository"
	"feedshop-rewards/services/badge"
	"feedshop-rewards/services/ledger"
	"feedshop-rewards/services/level"
	"feedshop-rewards/services/reward"
	"feedshop-rewards/services/task"
	"feedshop-rewards/services/user"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	config   *config.Config
	levels   repository.Repository[level.UserLevel]
	policies reward.PolicyStore
	users    *user.Store
	now      func() time.Time
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Config *config.Config
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		config:   p.Config,
		levels:   repository.ProvideStore[level.UserLevel](p.DB),
		policies: reward.NewPolicyStore(p.DB),
		users:    user.NewStore(user.StoreParams{DB: p.DB}),
		now:      time.Now,
	}
}

// Models lists every table owned by the rewards system.
func Models() []any {
	return []any{
		&user.User{},
		&ledger.PointBalance{},
		&ledger.PointTransaction{},
		&ledger.CreditPool{},
		&reward.RewardPolicy{},
		&reward.RewardHistory{},
		&level.UserLevel{},
		&level.UserStats{},
		&level.UserActivity{},
		&badge.UserBadge{},
		&task.Job{},
	}
}

func (s *Service) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		zap.L().Error("[bootstrap] auto migrate failed", zap.Error(err))
		return errutil.Internal("failed to migrate schema", err)
	}
	zap.L().Info("[bootstrap] schema migrated", zap.Int("models", len(Models())))
	return nil
}

// Seed inserts the level table and the default reward policies. Existing policies are left untouched
// unless overwrite is set.
func (s *Service) Seed(ctx context.Context, overwrite bool) (*SeedResult, error) {
	res := &SeedResult{}

	for _, l := range defaultLevels() {
		l.ID = s.node.Generate().String()
		inserted, err := s.levels.TryCreate(ctx, l)
		if err != nil {
			return nil, errutil.Internal(fmt.Sprintf("failed to seed level %s", l.LevelName), err)
		}
		if inserted == repository.Inserted {
			res.Levels++
		}
	}

	now := s.now().UTC()
	for _, p := range defaultPolicies(now) {
		existing, err := s.policies.FindValid(ctx, p.RewardType, now)
		if err != nil {
			return nil, errutil.Internal(fmt.Sprintf("failed to check policy %s", p.RewardType), err)
		}
		if existing != nil && !overwrite {
			continue
		}

		p.ID = s.node.Generate().String()
		if err := s.policies.Upsert(ctx, p); err != nil {
			return nil, errutil.Internal(fmt.Sprintf("failed to seed policy %s", p.RewardType), err)
		}
		res.Policies++
	}

	if id := s.config.Bootstrap.AdminID; id != "" {
		created, err := s.ensureAdmin(ctx, id)
		if err != nil {
			return nil, err
		}
		res.Admin = created
	}

	zap.L().Info("[bootstrap] seed finished",
		zap.Int("levels", res.Levels),
		zap.Int("policies", res.Policies),
		zap.Bool("admin", res.Admin),
		zap.Bool("overwrite", overwrite),
	)
	return res, nil
}

func (s *Service) ensureAdmin(ctx context.Context, id string) (bool, error) {
	exists, err := s.users.Exists(ctx, id)
	if err != nil {
		return false, errutil.Internal("failed to check admin user", err)
	}
	if exists {
		return false, nil
	}

	if err := s.users.Save(ctx, &user.User{ID: id, LoginID: id, Name: "admin", Role: user.RoleAdmin}); err != nil {
		return false, errutil.Internal("failed to seed admin user", err)
	}
	return true, nil
}

type SeedResult struct {
	Levels   int  `json:"levels"`
	Policies int  `json:"policies"`
	Admin    bool `json:"admin"`
}
