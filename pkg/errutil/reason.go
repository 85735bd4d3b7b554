package errutil

import "fmt"

// Reason identifies the business rule behind an error, independent of its transport class.
type Reason string

const (
	ReasonInvalidAmount              Reason = "INVALID_AMOUNT"
	ReasonInsufficientBalance        Reason = "INSUFFICIENT_BALANCE"
	ReasonUserNotFound               Reason = "USER_NOT_FOUND"
	ReasonAccessDenied               Reason = "ACCESS_DENIED"
	ReasonRewardPolicyNotFound       Reason = "REWARD_POLICY_NOT_FOUND"
	ReasonRewardAlreadyGranted       Reason = "REWARD_ALREADY_GRANTED"
	ReasonDailyRewardLimitExceeded   Reason = "DAILY_REWARD_LIMIT_EXCEEDED"
	ReasonMonthlyRewardLimitExceeded Reason = "MONTHLY_REWARD_LIMIT_EXCEEDED"
	ReasonRewardConditionNotMet      Reason = "REWARD_CONDITION_NOT_MET"
	ReasonBadgeAlreadyOwned          Reason = "BADGE_ALREADY_OWNED"
	ReasonConfigurationError         Reason = "CONFIGURATION_ERROR"
	ReasonReferenceConflict          Reason = "REFERENCE_CONFLICT"
)

// ReasonOf returns the reason carried by err, or "" when err is not a BaseError.
func ReasonOf(err error) Reason {
	if be, ok := As(err); ok {
		return be.Reason
	}
	return ""
}

func IsReason(err error, reason Reason) bool {
	return err != nil && ReasonOf(err) == reason
}

func InvalidAmount(amount int64) error {
	return BadRequest(fmt.Sprintf("amount must be greater than zero, got %d", amount), nil,
		WithReason(ReasonInvalidAmount),
		WithDetails(Detail{Field: "amount", Message: "must be > 0"}),
	)
}

func InsufficientBalance(requested, available int64) error {
	return UnprocessableEntity(fmt.Sprintf("insufficient points: requested=%d available=%d", requested, available), nil,
		WithReason(ReasonInsufficientBalance),
	)
}

func UserNotFound(userID string) error {
	return NotFound(fmt.Sprintf("user %s not found", userID), nil, WithReason(ReasonUserNotFound))
}

func AccessDenied(msg string) error {
	return Forbidden(msg, nil, WithReason(ReasonAccessDenied))
}

func RewardPolicyNotFound(rewardType string) error {
	return NotFound(fmt.Sprintf("no valid reward policy for %s", rewardType), nil, WithReason(ReasonRewardPolicyNotFound))
}

func RewardAlreadyGranted(rewardType string) error {
	return Conflict(fmt.Sprintf("%s reward already granted", rewardType), nil, WithReason(ReasonRewardAlreadyGranted))
}

func DailyRewardLimitExceeded(rewardType string, limit int) error {
	return TooManyRequest(fmt.Sprintf("daily limit of %d reached for %s", limit, rewardType), nil,
		WithReason(ReasonDailyRewardLimitExceeded),
	)
}

func MonthlyRewardLimitExceeded(rewardType string, limit int) error {
	return TooManyRequest(fmt.Sprintf("monthly limit of %d reached for %s", limit, rewardType), nil,
		WithReason(ReasonMonthlyRewardLimitExceeded),
	)
}

func RewardConditionNotMet(rewardType string) error {
	return UnprocessableEntity(fmt.Sprintf("reward conditions for %s are not met", rewardType), nil,
		WithReason(ReasonRewardConditionNotMet),
	)
}

func BadgeAlreadyOwned(badgeType string) error {
	return Conflict(fmt.Sprintf("badge %s already owned", badgeType), nil, WithReason(ReasonBadgeAlreadyOwned))
}

// ReferenceConflict means the reference id already settled a different amount for the same entry type.
func ReferenceConflict(txType, referenceID string) error {
	return Conflict(fmt.Sprintf("%s with reference %s already recorded with a different amount", txType, referenceID), nil,
		WithReason(ReasonReferenceConflict),
	)
}

// ConfigurationError signals broken seed data. Callers must not retry it.
func ConfigurationError(msg string) error {
	return Internal(msg, nil, WithReason(ReasonConfigurationError))
}
