package level

//go:generate mockgen -source=badges.go -destination=levelmock/badges.go -package=levelmock

import (
	"context"

	"feedshop-rewards/services/badge"
)

// Badges awards the badge tied to a level rank.
type Badges interface {
	AwardBadge(ctx context.Context, userID string, badgeType badge.Type) (*badge.UserBadge, error)
}
