package taskname

const (
	// Reward tasks
	RewardProcessPending = "reward:process_pending"
	RewardBirthdayRun    = "reward:birthday:run"

	// Point tasks
	PointExpiryRun = "point:expiry:run"
)
