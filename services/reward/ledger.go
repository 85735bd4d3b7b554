package reward

//go:generate mockgen -source=ledger.go -destination=rewardmock/ledger.go -package=rewardmock

import (
	"context"

	"feedshop-rewards/services/ledger"
)

// Ledger is the part of the point ledger a grant settles against.
type Ledger interface {
	EarnPoints(ctx context.Context, userID string, amount int64, description, referenceID string) (*ledger.PointTransaction, error)
	FindTransactionByReference(ctx context.Context, userID, referenceID string) (*ledger.PointTransaction, error)
}
