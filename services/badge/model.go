package badge

import "time"

type Type string

const (
	FirstReview   Type = "FIRST_REVIEW"
	ReviewMaster  Type = "REVIEW_MASTER"
	ReviewLegend  Type = "REVIEW_LEGEND"
	FirstPurchase Type = "FIRST_PURCHASE"
	LoyalBuyer    Type = "LOYAL_BUYER"
	BigSpender    Type = "BIG_SPENDER"
	EarlyAdopter  Type = "EARLY_ADOPTER"
	ActiveMember  Type = "ACTIVE_MEMBER"
	LoyalCustomer Type = "LOYAL_CUSTOMER"
	VIP           Type = "VIP"
	Legend        Type = "LEGEND"
)

type Definition struct {
	Name        string
	Description string
}

var catalog = map[Type]Definition{
	FirstReview:   {Name: "첫 리뷰", Description: "첫 번째 리뷰를 작성했습니다"},
	ReviewMaster:  {Name: "리뷰 마스터", Description: "리뷰 10개를 작성했습니다"},
	ReviewLegend:  {Name: "리뷰 레전드", Description: "리뷰 50개를 작성했습니다"},
	FirstPurchase: {Name: "첫 구매", Description: "첫 구매를 완료했습니다"},
	LoyalBuyer:    {Name: "단골 구매자", Description: "10회 이상 구매했습니다"},
	BigSpender:    {Name: "큰손", Description: "누적 구매 금액 100만원을 달성했습니다"},
	EarlyAdopter:  {Name: "얼리 어답터", Description: "성장 레벨에 도달했습니다"},
	ActiveMember:  {Name: "활동 회원", Description: "열매 레벨에 도달했습니다"},
	LoyalCustomer: {Name: "충성 고객", Description: "단골 레벨에 도달했습니다"},
	VIP:           {Name: "VIP", Description: "VIP 레벨에 도달했습니다"},
	Legend:        {Name: "레전드", Description: "레전드 레벨에 도달했습니다"},
}

func (t Type) Valid() bool {
	_, ok := catalog[t]
	return ok
}

func (t Type) Definition() Definition {
	return catalog[t]
}

// Review and purchase milestones.
const (
	reviewMasterThreshold = 10
	reviewLegendThreshold = 50
	loyalBuyerThreshold   = 10
	bigSpenderAmount      = 1_000_000
)

// UserBadge is held at most once per (user, badge type).
type UserBadge struct {
	ID          string    `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	UserID      string    `gorm:"column:user_id;type:varchar(32);not null;uniqueIndex:ux_user_badges_type,priority:1" json:"user_id"`
	BadgeType   Type      `gorm:"column:badge_type;type:varchar(40);not null;uniqueIndex:ux_user_badges_type,priority:2" json:"badge_type"`
	BadgeName   string    `gorm:"column:badge_name;type:varchar(100)" json:"badge_name"`
	Description string    `gorm:"column:description;type:varchar(255)" json:"description"`
	AwardedAt   time.Time `gorm:"column:awarded_at" json:"awarded_at"`
}

func (UserBadge) TableName() string {
	return "user_badges"
}
