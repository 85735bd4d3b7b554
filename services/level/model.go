package level

import (
	"time"

	"feedshop-rewards/services/badge"
)

type ActivityType string

const (
	DailyLogin         ActivityType = "DAILY_LOGIN"
	ReviewCreation     ActivityType = "REVIEW_CREATION"
	PhotoReview        ActivityType = "PHOTO_REVIEW"
	ReviewLiked        ActivityType = "REVIEW_LIKED"
	PurchaseCompletion ActivityType = "PURCHASE_COMPLETION"
	FirstPurchase      ActivityType = "FIRST_PURCHASE"
	EventParticipation ActivityType = "EVENT_PARTICIPATION"
	EventWin           ActivityType = "EVENT_WIN"
	Referral           ActivityType = "REFERRAL"
)

var activityPoints = map[ActivityType]int64{
	DailyLogin:         1,
	ReviewCreation:     10,
	PhotoReview:        15,
	ReviewLiked:        2,
	PurchaseCompletion: 50,
	FirstPurchase:      100,
	EventParticipation: 30,
	EventWin:           100,
	Referral:           200,
}

// Points is the experience credited for the activity, 0 for unknown types.
func (t ActivityType) Points() int64 {
	return activityPoints[t]
}

func (t ActivityType) Valid() bool {
	_, ok := activityPoints[t]
	return ok
}

// levelBadges maps a level rank (1 = lowest) to the badge awarded when it is reached.
var levelBadges = map[int]badge.Type{
	2: badge.EarlyAdopter,
	3: badge.ActiveMember,
	4: badge.LoyalCustomer,
	5: badge.VIP,
	6: badge.Legend,
}

type UserLevel struct {
	ID                string    `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	LevelName         string    `gorm:"column:level_name;uniqueIndex;type:varchar(50);not null" json:"level_name"`
	MinPointsRequired int64     `gorm:"column:min_points_required;uniqueIndex;not null" json:"min_points_required"`
	DiscountRate      float64   `gorm:"column:discount_rate;type:decimal(5,2);not null" json:"discount_rate"`
	Emoji             string    `gorm:"column:emoji;type:varchar(16)" json:"emoji"`
	RewardDescription string    `gorm:"column:reward_description;type:varchar(255)" json:"reward_description"`
	CreatedAt         time.Time `gorm:"column:created_at" json:"created_at"`
}

func (UserLevel) TableName() string {
	return "user_levels"
}

// UserStats holds the experience counter of a user. TotalPoints never decreases.
type UserStats struct {
	ID             string     `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	UserID         string     `gorm:"column:user_id;uniqueIndex;type:varchar(32);not null" json:"user_id"`
	TotalPoints    int64      `gorm:"column:total_points;not null" json:"total_points"`
	CurrentLevelID string     `gorm:"column:current_level_id;type:varchar(32);not null" json:"current_level_id"`
	CurrentLevel   *UserLevel `gorm:"foreignKey:CurrentLevelID" json:"current_level,omitempty"`
	LevelUpdatedAt *time.Time `gorm:"column:level_updated_at" json:"level_updated_at,omitempty"`
	CreatedAt      time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"column:updated_at" json:"updated_at"`
}

func (UserStats) TableName() string {
	return "user_stats"
}

type UserActivity struct {
	ID            string       `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	UserID        string       `gorm:"column:user_id;type:varchar(32);not null;uniqueIndex:ux_user_activity_ref,priority:1;index:idx_user_activity_user_created,priority:1" json:"user_id"`
	ActivityType  ActivityType `gorm:"column:activity_type;type:varchar(40);not null" json:"activity_type"`
	Points        int64        `gorm:"column:points;not null" json:"points"`
	Description   string       `gorm:"column:description;type:varchar(255)" json:"description"`
	ReferenceID   *string      `gorm:"column:reference_id;type:varchar(100);uniqueIndex:ux_user_activity_ref,priority:2" json:"reference_id,omitempty"`
	ReferenceType *string      `gorm:"column:reference_type;type:varchar(40);uniqueIndex:ux_user_activity_ref,priority:3" json:"reference_type,omitempty"`
	CreatedAt     time.Time    `gorm:"column:created_at;index:idx_user_activity_user_created,priority:2" json:"created_at"`
}

func (UserActivity) TableName() string {
	return "user_activities"
}

type ActivityResult struct {
	Activity  *UserActivity `json:"activity,omitempty"`
	Stats     *UserStats    `json:"stats,omitempty"`
	Duplicate bool          `json:"duplicate"`
	LeveledUp bool          `json:"leveled_up"`
}

// StatsView is the read projection returned to callers.
type StatsView struct {
	UserID            string     `json:"user_id"`
	TotalPoints       int64      `json:"total_points"`
	CurrentLevel      *UserLevel `json:"current_level"`
	NextLevel         *UserLevel `json:"next_level,omitempty"`
	PointsToNextLevel int64      `json:"points_to_next_level"`
}
