package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"feedshop-rewards/pkg/config"
	"feedshop-rewards/pkg/db/option"
	"feedshop-rewards/pkg/errutil"
	"feedshop-rewards/pkg/logger"
	"feedshop-rewards/pkg/repository"
	"feedshop-rewards/pkg/sequence"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultExpiryHorizon      = 365 * 24 * time.Hour
	defaultExpiringSoonWindow = 30 * 24 * time.Hour
)

var tracer = otel.Tracer("feedshop-rewards/services/ledger")

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	seq  sequence.Generator
	now  func() time.Time

	expiryHorizon      time.Duration
	expiringSoonWindow time.Duration

	transactions repository.Repository[PointTransaction]
	balances     repository.Repository[PointBalance]
	pools        repository.Repository[CreditPool]
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Config   *config.Config     `optional:"true"`
	Sequence sequence.Generator `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	s := &Service{
		db:   p.DB,
		node: p.Node,
		seq:  p.Sequence,
		now:  time.Now,

		expiryHorizon:      defaultExpiryHorizon,
		expiringSoonWindow: defaultExpiringSoonWindow,

		transactions: repository.ProvideStore[PointTransaction](p.DB),
		balances:     repository.ProvideStore[PointBalance](p.DB),
		pools:        repository.ProvideStore[CreditPool](p.DB),
	}

	if p.Config != nil {
		if p.Config.Points.ExpiryHorizon > 0 {
			s.expiryHorizon = p.Config.Points.ExpiryHorizon
		}
		if p.Config.Points.ExpiringSoonWindow > 0 {
			s.expiringSoonWindow = p.Config.Points.ExpiringSoonWindow
		}
	}

	return s
}

type mutation struct {
	userID      string
	txType      TransactionType
	amount      int64
	description string
	referenceID string
}

// EarnPoints credits amount with a fresh credit pool. Repeating a call with the same reference returns the
// entry already recorded instead of crediting twice.
func (s *Service) EarnPoints(ctx context.Context, userID string, amount int64, description, referenceID string) (*PointTransaction, error) {
	return s.apply(ctx, mutation{userID: userID, txType: Earn, amount: amount, description: description, referenceID: referenceID})
}

// UsePoints debits the balance and consumes credit pools in expiry order.
// The balance is left untouched when amount exceeds it.
func (s *Service) UsePoints(ctx context.Context, userID string, amount int64, description, referenceID string) (*PointTransaction, error) {
	return s.apply(ctx, mutation{userID: userID, txType: Use, amount: amount, description: description, referenceID: referenceID})
}

// CancelPoints credits amount back as a CANCEL entry. It never touches activity totals or levels.
func (s *Service) CancelPoints(ctx context.Context, userID string, amount int64, description, referenceID string) (*PointTransaction, error) {
	return s.apply(ctx, mutation{userID: userID, txType: Cancel, amount: amount, description: description, referenceID: referenceID})
}

func (s *Service) apply(ctx context.Context, m mutation) (*PointTransaction, error) {
	ctx, span := tracer.Start(ctx, "ledger."+string(m.txType),
		trace.WithAttributes(
			attribute.String("user_id", m.userID),
			attribute.Int64("amount", m.amount),
		),
	)
	defer span.End()

	log := logger.L(ctx).With(
		zap.String("user_id", m.userID),
		zap.String("type", string(m.txType)),
		zap.Int64("amount", m.amount),
	)

	if m.amount <= 0 {
		return nil, errutil.InvalidAmount(m.amount)
	}
	if m.userID == "" {
		return nil, errutil.BadRequest("user_id is required", nil)
	}

	code, err := s.nextCode(ctx)
	if err != nil {
		log.Error("failed to generate transaction code", zap.Error(err))
		return nil, err
	}

	var (
		out      *PointTransaction
		replayed bool
	)
	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		balance, err := s.lockBalance(ctx, tx, m.userID)
		if err != nil {
			return err
		}

		existing, err := s.findReplay(ctx, tx, m)
		if err != nil {
			return err
		}
		if existing != nil {
			out, replayed = existing, true
			return nil
		}

		previousHash, err := s.lastHash(ctx, tx, m.userID)
		if err != nil {
			return err
		}

		now := s.timestamp()
		entry := &PointTransaction{
			ID:              s.node.Generate().String(),
			TransactionCode: code,
			UserID:          m.userID,
			Type:            m.txType,
			Points:          m.amount,
			Description:     m.description,
			ReferenceID:     optionalString(m.referenceID),
			PreviousHash:    previousHash,
			CreatedAt:       now,
		}

		switch m.txType {
		case Earn, Cancel:
			entry.BalanceAfter = balance.CurrentPoints + m.amount
			if m.txType == Earn {
				expiry := now.Add(s.expiryHorizon)
				entry.ExpiryDate = &expiry
			}
		case Use:
			if m.amount > balance.CurrentPoints {
				return errutil.InsufficientBalance(m.amount, balance.CurrentPoints)
			}

			allocations, err := s.consumePools(ctx, tx, m.userID, m.amount, now)
			if err != nil {
				return err
			}
			entry.Metadata = sourcesMetadata(allocations)
			entry.BalanceAfter = balance.CurrentPoints - m.amount
		default:
			return errutil.BadRequest(fmt.Sprintf("unsupported transaction type %s", m.txType), nil)
		}

		entry.Hash = entry.GenerateHash()
		if err := s.transactions.WithTrx(tx).Create(ctx, entry); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) && m.referenceID != "" {
				return errutil.ReferenceConflict(string(m.txType), m.referenceID)
			}
			return fmt.Errorf("create point transaction: %w", err)
		}

		if m.txType.Credits() {
			if err := s.pools.WithTrx(tx).Create(ctx, &CreditPool{
				ID:            s.node.Generate().String(),
				TransactionID: entry.ID,
				UserID:        m.userID,
				Amount:        m.amount,
				Remaining:     m.amount,
				ExpiryDate:    now.Add(s.expiryHorizon),
				CreatedAt:     now,
			}); err != nil {
				return fmt.Errorf("create credit pool: %w", err)
			}
		}

		if err := s.balances.WithTrx(tx).Update(ctx, balance.ID, map[string]any{
			"current_points": entry.BalanceAfter,
			"updated_at":     now,
		}); err != nil {
			return fmt.Errorf("update balance: %w", err)
		}

		out = entry
		return nil
	}); err != nil {
		if _, ok := errutil.As(err); ok {
			log.Warn("point transaction rejected", zap.Error(err))
		} else {
			log.Error("failed to apply point transaction", zap.Error(err))
		}
		return nil, err
	}

	if replayed {
		log.Info("point transaction already recorded for reference",
			zap.String("transaction_id", out.ID),
			zap.String("reference_id", m.referenceID),
		)
		return out, nil
	}

	log.Info("point transaction recorded",
		zap.String("transaction_id", out.ID),
		zap.String("transaction_code", out.TransactionCode),
		zap.Int64("balance_after", out.BalanceAfter),
	)

	return out, nil
}

// lockBalance returns the balance row of userID under FOR UPDATE, creating it at zero when missing.
func (s *Service) lockBalance(ctx context.Context, tx *gorm.DB, userID string) (*PointBalance, error) {
	balanceTx := s.balances.WithTrx(tx)

	balance, err := balanceTx.FindOne(ctx, &PointBalance{UserID: userID}, option.WithLockingUpdate())
	if err != nil {
		return nil, fmt.Errorf("lock balance: %w", err)
	}
	if balance != nil {
		return balance, nil
	}

	now := s.timestamp()
	if _, err := balanceTx.TryCreate(ctx, &PointBalance{
		ID:        s.node.Generate().String(),
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("create balance: %w", err)
	}

	balance, err = balanceTx.FindOne(ctx, &PointBalance{UserID: userID}, option.WithLockingUpdate())
	if err != nil {
		return nil, fmt.Errorf("lock balance: %w", err)
	}
	if balance == nil {
		return nil, fmt.Errorf("balance for %s vanished after create", userID)
	}
	return balance, nil
}

// findReplay returns the entry m already produced, matched on (user, type, reference), or nil when m is new.
// The caller must hold the balance lock of m.userID.
func (s *Service) findReplay(ctx context.Context, tx *gorm.DB, m mutation) (*PointTransaction, error) {
	if m.referenceID == "" {
		return nil, nil
	}

	existing, err := s.transactions.WithTrx(tx).FindOne(ctx, &PointTransaction{
		UserID:      m.userID,
		Type:        m.txType,
		ReferenceID: &m.referenceID,
	})
	if err != nil {
		return nil, fmt.Errorf("find transaction by reference: %w", err)
	}
	if existing == nil {
		return nil, nil
	}
	if existing.Points != m.amount {
		return nil, errutil.ReferenceConflict(string(m.txType), m.referenceID)
	}
	return existing, nil
}

func (s *Service) lastHash(ctx context.Context, tx *gorm.DB, userID string) (string, error) {
	last, err := s.transactions.WithTrx(tx).FindOne(ctx, &PointTransaction{UserID: userID},
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc"}),
		option.WithTieBreaker(true),
	)
	if err != nil {
		return "", fmt.Errorf("find last transaction: %w", err)
	}
	if last == nil {
		return genesisHash, nil
	}
	return last.Hash, nil
}

// consumePools drains credit pools FIFO by expiry date until amount is covered.
func (s *Service) consumePools(ctx context.Context, tx *gorm.DB, userID string, amount int64, now time.Time) ([]Allocation, error) {
	poolTx := s.pools.WithTrx(tx)

	pools, err := poolTx.Find(ctx, &CreditPool{UserID: userID},
		option.ApplyOperator(option.Condition{Field: "remaining", Operator: option.GT, Value: 0}),
		option.WithSortBy(option.QuerySortBy{SortBy: "expiry_date", OrderBy: "asc"}),
		option.WithTieBreaker(false),
		option.WithLockingUpdate(),
	)
	if err != nil {
		return nil, fmt.Errorf("find credit pools: %w", err)
	}

	remaining := amount
	allocations := make([]Allocation, 0, len(pools))
	for _, pool := range pools {
		if remaining == 0 {
			break
		}

		take := min(pool.Remaining, remaining)
		if err := poolTx.Update(ctx, pool.ID, map[string]any{
			"remaining":   gorm.Expr("remaining - ?", take),
			"consumed_at": now,
		}); err != nil {
			return nil, fmt.Errorf("update credit pool %s: %w", pool.ID, err)
		}

		allocations = append(allocations, Allocation{
			CreditPoolID:  pool.ID,
			TransactionID: pool.TransactionID,
			Amount:        take,
		})
		remaining -= take
	}

	if remaining > 0 {
		logger.L(ctx).Warn("credit pools do not cover balance",
			zap.String("user_id", userID),
			zap.Int64("unallocated", remaining),
		)
	}

	return allocations, nil
}

func (s *Service) nextCode(ctx context.Context) (string, error) {
	if s.seq != nil {
		code, err := s.seq.NextTransactionCode(ctx)
		if err == nil {
			return code, nil
		}
		logger.L(ctx).Warn("sequence unavailable, falling back to random code", zap.Error(err))
	}
	return sequence.RandomCode(sequence.PrefixPointTransaction)
}

// timestamp is truncated to milliseconds so the hashed value survives a round trip through every dialect.
func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

func sourcesMetadata(allocations []Allocation) datatypes.JSON {
	b, err := json.Marshal(map[string]any{"sources": allocations})
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
