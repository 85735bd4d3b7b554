package bootstrap

import (
	"time"

	"feedshop-rewards/services/level"
	"feedshop-rewards/services/reward"
)

func defaultLevels() []*level.UserLevel {
	return []*level.UserLevel{
		{LevelName: "새싹", MinPointsRequired: 0, DiscountRate: 0, Emoji: "🌱", RewardDescription: "가입 환영"},
		{LevelName: "성장", MinPointsRequired: 100, DiscountRate: 1, Emoji: "🌿", RewardDescription: "1% 할인"},
		{LevelName: "열매", MinPointsRequired: 300, DiscountRate: 2, Emoji: "🍎", RewardDescription: "2% 할인"},
		{LevelName: "단골", MinPointsRequired: 700, DiscountRate: 3, Emoji: "🌳", RewardDescription: "3% 할인 + 무료배송 쿠폰"},
		{LevelName: "VIP", MinPointsRequired: 1500, DiscountRate: 5, Emoji: "💎", RewardDescription: "5% 할인 + 전용 이벤트"},
		{LevelName: "레전드", MinPointsRequired: 3000, DiscountRate: 7, Emoji: "👑", RewardDescription: "7% 할인 + 전담 상담"},
	}
}

func defaultPolicies(now time.Time) []*reward.RewardPolicy {
	limit := func(n int) *int { return &n }

	policies := []*reward.RewardPolicy{
		{RewardType: reward.ReviewWrite, Points: 100, Description: "리뷰 작성 보상", DailyLimit: limit(5)},
		{RewardType: reward.ReviewPhoto, Points: 150, Description: "포토 리뷰 작성 보상", DailyLimit: limit(5)},
		{RewardType: reward.EventParticipation, Points: 50, Description: "이벤트 참여 보상", MonthlyLimit: limit(10)},
		{RewardType: reward.Birthday, Points: 1000, Description: "생일 축하 포인트"},
		{RewardType: reward.FirstPurchase, Points: 500, Description: "첫 구매 축하 포인트"},
	}
	for _, p := range policies {
		p.IsActive = true
		p.CreatedAt = now
		p.UpdatedAt = now
	}
	return policies
}
