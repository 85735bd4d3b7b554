package reward

import (
	"time"

	"gorm.io/datatypes"
)

type RewardType string

const (
	ReviewWrite        RewardType = "REVIEW_WRITE"
	ReviewPhoto        RewardType = "REVIEW_PHOTO"
	EventParticipation RewardType = "EVENT_PARTICIPATION"
	Birthday           RewardType = "BIRTHDAY"
	FirstPurchase      RewardType = "FIRST_PURCHASE"
	AdminGrant         RewardType = "ADMIN_GRANT"
)

func (t RewardType) Valid() bool {
	switch t {
	case ReviewWrite, ReviewPhoto, EventParticipation, Birthday, FirstPurchase, AdminGrant:
		return true
	}
	return false
}

type ReviewType string

const (
	ReviewText  ReviewType = "TEXT"
	ReviewImage ReviewType = "PHOTO"
)

func (r ReviewType) RewardType() RewardType {
	if r == ReviewImage {
		return ReviewPhoto
	}
	return ReviewWrite
}

// firstPurchaseKey is the reference id of every first purchase grant, so a user holds at most one.
const firstPurchaseKey = "first-purchase"

type RewardPolicy struct {
	ID           string     `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	RewardType   RewardType `gorm:"column:reward_type;type:varchar(40);not null;index" json:"reward_type"`
	Points       int64      `gorm:"column:points;not null" json:"points"`
	Description  string     `gorm:"column:description;type:varchar(255)" json:"description"`
	IsActive     bool       `gorm:"column:is_active;not null" json:"is_active"`
	DailyLimit   *int       `gorm:"column:daily_limit" json:"daily_limit,omitempty"`
	MonthlyLimit *int       `gorm:"column:monthly_limit" json:"monthly_limit,omitempty"`
	ValidFrom    *time.Time `gorm:"column:valid_from" json:"valid_from,omitempty"`
	ValidUntil   *time.Time `gorm:"column:valid_until" json:"valid_until,omitempty"`
	Condition    string     `gorm:"column:condition_expr;type:text" json:"condition,omitempty"`
	CreatedAt    time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"column:updated_at" json:"updated_at"`
}

func (RewardPolicy) TableName() string {
	return "reward_policies"
}

// IsValid reports whether the policy is active and now falls inside its optional window.
func (p *RewardPolicy) IsValid(now time.Time) bool {
	if !p.IsActive {
		return false
	}
	if p.ValidFrom != nil && now.Before(*p.ValidFrom) {
		return false
	}
	if p.ValidUntil != nil && now.After(*p.ValidUntil) {
		return false
	}
	return true
}

type RewardHistory struct {
	ID                 string         `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	UserID             string         `gorm:"column:user_id;type:varchar(32);not null;uniqueIndex:ux_reward_history_grant,priority:1;index:idx_reward_history_user_created,priority:1" json:"user_id"`
	RewardType         RewardType     `gorm:"column:reward_type;type:varchar(40);not null;uniqueIndex:ux_reward_history_grant,priority:2" json:"reward_type"`
	Points             int64          `gorm:"column:points;not null" json:"points"`
	Description        string         `gorm:"column:description;type:varchar(255)" json:"description"`
	ReferenceID        *string        `gorm:"column:reference_id;type:varchar(100);uniqueIndex:ux_reward_history_grant,priority:3" json:"reference_id,omitempty"`
	IsProcessed        bool           `gorm:"column:is_processed;not null;index" json:"is_processed"`
	ProcessedAt        *time.Time     `gorm:"column:processed_at" json:"processed_at,omitempty"`
	PointTransactionID *string        `gorm:"column:point_transaction_id;type:varchar(32)" json:"point_transaction_id,omitempty"`
	GrantedBy          *string        `gorm:"column:granted_by;type:varchar(32)" json:"granted_by,omitempty"`
	Metadata           datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
	Attempts           int            `gorm:"column:attempts;not null;default:0" json:"-"`
	NextAttemptAt      *time.Time     `gorm:"column:next_attempt_at;index" json:"-"`
	CreatedAt          time.Time      `gorm:"column:created_at;index:idx_reward_history_user_created,priority:2" json:"created_at"`
}

func (RewardHistory) TableName() string {
	return "reward_histories"
}

// LedgerReference is the reference id of the point transaction that settles this grant.
func (h *RewardHistory) LedgerReference() string {
	return "reward:" + h.ID
}

const (
	settleLease    = time.Minute
	maxSettleLease = 6 * time.Hour
)

// leaseFor is how long a settlement attempt owns its row: settleLease doubling per prior attempt, capped.
func leaseFor(attempt int) time.Duration {
	lease := settleLease
	for i := 1; i < attempt && lease < maxSettleLease; i++ {
		lease *= 2
	}
	return min(lease, maxSettleLease)
}

type ProcessResult struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

type BirthdayResult struct {
	Granted int `json:"granted"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}
