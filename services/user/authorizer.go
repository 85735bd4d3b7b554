package user

import (
	"context"
	"fmt"

	"feedshop-rewards/pkg/config"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"go.uber.org/zap"
)

const (
	ObjectPoints     = "points"
	ObjectRewards    = "rewards"
	ObjectActivities = "activities"
	ObjectBadges     = "badges"

	ActionGrant   = "grant"
	ActionProcess = "process"
	ActionUse     = "use"
	ActionCancel  = "cancel"
	ActionIssue   = "issue"
	ActionRecord  = "record"
)

const defaultModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && r.obj == p.obj && r.act == p.act
`

// Source systems (order, review, event) run as SERVICE accounts; end users hold no write permission.
var defaultPolicies = [][]string{
	{string(RoleAdmin), ObjectPoints, ActionGrant},
	{string(RoleAdmin), ObjectPoints, ActionUse},
	{string(RoleAdmin), ObjectPoints, ActionCancel},
	{string(RoleAdmin), ObjectRewards, ActionProcess},
	{string(RoleAdmin), ObjectRewards, ActionIssue},
	{string(RoleAdmin), ObjectActivities, ActionRecord},
	{string(RoleAdmin), ObjectBadges, ActionIssue},
	{string(RoleService), ObjectPoints, ActionUse},
	{string(RoleService), ObjectPoints, ActionCancel},
	{string(RoleService), ObjectRewards, ActionIssue},
	{string(RoleService), ObjectActivities, ActionRecord},
	{string(RoleService), ObjectBadges, ActionIssue},
}

type CasbinAuthorizer struct {
	enforcer *casbin.Enforcer
}

// NewAuthorizer loads ACCESS_CONTROL.MODEL and ACCESS_CONTROL.POLICY when both are set,
// otherwise it uses the built-in role table.
func NewAuthorizer(cfg *config.Config) (*CasbinAuthorizer, error) {
	if cfg != nil && cfg.AccessControl.Model != "" && cfg.AccessControl.Policy != "" {
		e, err := casbin.NewEnforcer(cfg.AccessControl.Model, cfg.AccessControl.Policy)
		if err != nil {
			return nil, fmt.Errorf("load access control: %w", err)
		}
		zap.L().Info("access control loaded from files",
			zap.String("model", cfg.AccessControl.Model),
			zap.String("policy", cfg.AccessControl.Policy),
		)
		return &CasbinAuthorizer{enforcer: e}, nil
	}

	m, err := model.NewModelFromString(defaultModel)
	if err != nil {
		return nil, err
	}

	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, err
	}

	for _, p := range defaultPolicies {
		if _, err := e.AddPolicy(p[0], p[1], p[2]); err != nil {
			return nil, err
		}
	}

	return &CasbinAuthorizer{enforcer: e}, nil
}

func (a *CasbinAuthorizer) Can(ctx context.Context, u *User, obj, act string) (bool, error) {
	if u == nil {
		return false, nil
	}
	return a.enforcer.Enforce(string(u.Role), obj, act)
}
