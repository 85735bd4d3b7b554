package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/datatypes"
)

type TransactionType string

const (
	Earn   TransactionType = "EARN"
	Use    TransactionType = "USE"
	Cancel TransactionType = "CANCEL"
	Expire TransactionType = "EXPIRE"
)

func (t TransactionType) Valid() bool {
	switch t {
	case Earn, Use, Cancel, Expire:
		return true
	}
	return false
}

// Sign is +1 for types that credit the balance and -1 for types that debit it.
func (t TransactionType) Sign() int64 {
	switch t {
	case Use, Expire:
		return -1
	default:
		return 1
	}
}

// Credits reports whether the type creates spendable points that need a credit pool.
func (t TransactionType) Credits() bool {
	return t == Earn || t == Cancel
}

const genesisHash = "GENESIS"

type PointBalance struct {
	ID            string    `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	UserID        string    `gorm:"column:user_id;uniqueIndex;type:varchar(32);not null" json:"user_id"`
	CurrentPoints int64     `gorm:"column:current_points;not null;default:0" json:"current_points"`
	CreatedAt     time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt     time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (PointBalance) TableName() string {
	return "point_balances"
}

// PointTransaction is an append-only ledger entry. Rows are chained per user through PreviousHash.
// A (user, type, reference) triple is recorded at most once.
type PointTransaction struct {
	ID              string          `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	TransactionCode string          `gorm:"column:transaction_code;uniqueIndex;type:varchar(40);not null" json:"transaction_code"`
	UserID          string          `gorm:"column:user_id;index:idx_point_tx_user_created,priority:1;uniqueIndex:ux_point_tx_reference,priority:1;type:varchar(32);not null" json:"user_id"`
	Type            TransactionType `gorm:"column:type;type:varchar(10);not null;index;uniqueIndex:ux_point_tx_reference,priority:2" json:"type"`
	Points          int64           `gorm:"column:points;not null" json:"points"`
	BalanceAfter    int64           `gorm:"column:balance_after;not null" json:"balance_after"`
	Description     string          `gorm:"column:description;type:varchar(255)" json:"description"`
	ReferenceID     *string         `gorm:"column:reference_id;index;uniqueIndex:ux_point_tx_reference,priority:3;type:varchar(100)" json:"reference_id,omitempty"`
	ExpiryDate      *time.Time      `gorm:"column:expiry_date" json:"expiry_date,omitempty"`
	PreviousHash    string          `gorm:"column:previous_hash;type:varchar(64)" json:"-"`
	Hash            string          `gorm:"column:hash;type:varchar(64)" json:"-"`
	Metadata        datatypes.JSON  `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt       time.Time       `gorm:"column:created_at;index:idx_point_tx_user_created,priority:2" json:"created_at"`
}

func (PointTransaction) TableName() string {
	return "point_transactions"
}

func (m *PointTransaction) HashFields() map[string]string {
	ref := ""
	if m.ReferenceID != nil {
		ref = *m.ReferenceID
	}
	return map[string]string{
		"id":               m.ID,
		"user_id":          m.UserID,
		"type":             string(m.Type),
		"points":           fmt.Sprintf("%d", m.Points),
		"balance_after":    fmt.Sprintf("%d", m.BalanceAfter),
		"transaction_code": m.TransactionCode,
		"reference_id":     ref,
		"description":      m.Description,
		"created_at":       m.CreatedAt.UTC().Format(time.RFC3339Nano),
		"previous_hash":    m.PreviousHash,
	}
}

func (m *PointTransaction) GenerateHash() string {
	fields := m.HashFields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}

	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:])
}

// SignedPoints is the effect of the transaction on the balance.
func (m *PointTransaction) SignedPoints() int64 {
	return m.Type.Sign() * m.Points
}

// CreditPool tracks the unspent part of one credited transaction. USE consumes pools in expiry order,
// EXPIRE zeroes pools past their expiry date.
type CreditPool struct {
	ID            string     `gorm:"column:id;primaryKey;type:varchar(32)"`
	TransactionID string     `gorm:"column:transaction_id;index;type:varchar(32);not null"`
	UserID        string     `gorm:"column:user_id;index:idx_credit_pool_user_expiry,priority:1;type:varchar(32);not null"`
	Amount        int64      `gorm:"column:amount;not null"`
	Remaining     int64      `gorm:"column:remaining;not null"`
	ExpiryDate    time.Time  `gorm:"column:expiry_date;index:idx_credit_pool_user_expiry,priority:2;not null"`
	CreatedAt     time.Time  `gorm:"column:created_at"`
	ConsumedAt    *time.Time `gorm:"column:consumed_at"`
}

func (CreditPool) TableName() string {
	return "point_credit_pools"
}

type Allocation struct {
	CreditPoolID  string `json:"credit_pool_id"`
	TransactionID string `json:"transaction_id"`
	Amount        int64  `json:"amount"`
}

type TransactionFilter struct {
	UserID      string
	Type        TransactionType
	ReferenceID string
	From        time.Time
	To          time.Time
	Page        int
	Size        int
}

type ExpiringPoint struct {
	TransactionID string    `json:"transaction_id"`
	Remaining     int64     `json:"remaining"`
	ExpiryDate    time.Time `json:"expiry_date"`
}

type ExpiringPoints struct {
	UserID string           `json:"user_id"`
	Until  time.Time        `json:"until"`
	Total  int64            `json:"total"`
	Items  []*ExpiringPoint `json:"items"`
}

type PointSummary struct {
	UserID        string `json:"user_id"`
	CurrentPoints int64  `json:"current_points"`
	TotalEarned   int64  `json:"total_earned"`
	TotalUsed     int64  `json:"total_used"`
	TotalCanceled int64  `json:"total_canceled"`
	TotalExpired  int64  `json:"total_expired"`
	ValidEarned   int64  `json:"valid_earned"`
	ExpiringSoon  int64  `json:"expiring_soon"`
}

type ChainVerification struct {
	UserID  string `json:"user_id"`
	Valid   bool   `json:"valid"`
	Entries int    `json:"entries"`
	Balance int64  `json:"balance"`
	Reason  string `json:"reason,omitempty"`
}

type ExpiryResult struct {
	Users  int   `json:"users"`
	Points int64 `json:"points"`
	Failed int   `json:"failed"`
}
