package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/bsknet/backend/internal/db"
	"github.com/bsknet/backend/internal/metrics"
	"github.com/bsknet/backend/internal/models"
)

var (
	// ErrInsufficientBalance is returned when a debit would drive the balance below zero.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrIdempotencyConflict is returned when a key is replayed with a different user, bucket or amount.
	ErrIdempotencyConflict = errors.New("idempotency key reused with different parameters")
	ErrInvalidRequest      = errors.New("invalid ledger request")
)

// Store is the persistence the ledger needs. Methods taking a pgx.Tx must run
// inside the caller's transaction.
type Store interface {
	LockBalance(ctx context.Context, tx pgx.Tx, userID uuid.UUID, balanceType string) (decimal.Decimal, error)
	GetEntryByKey(ctx context.Context, tx pgx.Tx, key string) (*models.LedgerEntry, error)
	InsertEntry(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) (bool, error)
	SetBalance(ctx context.Context, tx pgx.Tx, userID uuid.UUID, balanceType string, amount decimal.Decimal) error

	ListBalances(ctx context.Context, userID uuid.UUID) ([]*models.Balance, error)
	ListEntries(ctx context.Context, userID uuid.UUID, balanceType string, limit int) ([]*models.LedgerEntry, error)
	SumEntries(ctx context.Context, userID uuid.UUID, balanceType string) (decimal.Decimal, error)
	GetBalance(ctx context.Context, userID uuid.UUID, balanceType string) (decimal.Decimal, error)
}

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type ApplyRequest struct {
	UserID         uuid.UUID
	BalanceType    string
	Amount         decimal.Decimal
	IdempotencyKey string
	TxType         string
	TxSubtype      string
	Metadata       json.RawMessage
}

type ApplyResult struct {
	EntryID    uuid.UUID       `json:"entry_id"`
	NewBalance decimal.Decimal `json:"new_balance"`
	Duplicate  bool            `json:"duplicate"`
}

type ReconcileReport struct {
	UserID      uuid.UUID       `json:"user_id"`
	BalanceType string          `json:"balance_type"`
	Projected   decimal.Decimal `json:"projected"`
	LogSum      decimal.Decimal `json:"log_sum"`
	Consistent  bool            `json:"consistent"`
}

// Service is the only path through which BSK balances move.
type Service struct {
	pool TxBeginner
	repo Store
	log  *slog.Logger
}

func NewService(pool TxBeginner, repo Store, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{pool: pool, repo: repo, log: log}
}

func validate(req ApplyRequest) error {
	switch {
	case req.UserID == uuid.Nil:
		return fmt.Errorf("%w: user_id is required", ErrInvalidRequest)
	case !models.ValidBalanceType(req.BalanceType):
		return fmt.Errorf("%w: unknown balance type %q", ErrInvalidRequest, req.BalanceType)
	case strings.TrimSpace(req.IdempotencyKey) == "":
		return fmt.Errorf("%w: idempotency key is required", ErrInvalidRequest)
	case !models.ValidTxType(req.TxType):
		return fmt.Errorf("%w: unknown tx_type %q", ErrInvalidRequest, req.TxType)
	}
	return nil
}

// Apply runs ApplyTx in its own transaction, retrying transient conflicts.
func (s *Service) Apply(ctx context.Context, req ApplyRequest) (ApplyResult, error) {
	if err := validate(req); err != nil {
		return ApplyResult{}, err
	}
	var out ApplyResult
	op := func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		res, err := s.ApplyTx(ctx, tx, req)
		if err != nil {
			if db.IsRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		if err := tx.Commit(ctx); err != nil {
			if db.IsRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		out = res
		return nil
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 25 * time.Millisecond
	b.MaxElapsedTime = 2 * time.Second
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, 5), ctx)); err != nil {
		return ApplyResult{}, err
	}
	return out, nil
}

// ApplyTx applies a signed amount inside the caller's transaction. The balance
// row is locked first, so the idempotency lookup and the insert below cannot
// interleave with another apply on the same bucket.
func (s *Service) ApplyTx(ctx context.Context, tx pgx.Tx, req ApplyRequest) (ApplyResult, error) {
	if err := validate(req); err != nil {
		return ApplyResult{}, err
	}
	current, err := s.repo.LockBalance(ctx, tx, req.UserID, req.BalanceType)
	if err != nil {
		metrics.LedgerApplies.WithLabelValues(req.TxType, "error").Inc()
		return ApplyResult{}, fmt.Errorf("lock balance: %w", err)
	}

	existing, err := s.repo.GetEntryByKey(ctx, tx, req.IdempotencyKey)
	if err != nil {
		metrics.LedgerApplies.WithLabelValues(req.TxType, "error").Inc()
		return ApplyResult{}, fmt.Errorf("lookup idempotency key: %w", err)
	}
	if existing != nil {
		if existing.UserID != req.UserID || existing.BalanceType != req.BalanceType || !existing.AmountBSK.Equal(req.Amount) {
			metrics.LedgerApplies.WithLabelValues(req.TxType, "conflict").Inc()
			return ApplyResult{}, fmt.Errorf("%w: key %q", ErrIdempotencyConflict, req.IdempotencyKey)
		}
		metrics.LedgerApplies.WithLabelValues(req.TxType, "duplicate").Inc()
		return ApplyResult{EntryID: existing.ID, NewBalance: existing.BalanceAfter, Duplicate: true}, nil
	}

	next := current.Add(req.Amount)
	if next.IsNegative() {
		metrics.LedgerApplies.WithLabelValues(req.TxType, "insufficient").Inc()
		return ApplyResult{}, fmt.Errorf("%w: balance %s, amount %s", ErrInsufficientBalance, current, req.Amount)
	}

	entry := &models.LedgerEntry{
		ID:             uuid.New(),
		UserID:         req.UserID,
		BalanceType:    req.BalanceType,
		AmountBSK:      req.Amount,
		BalanceAfter:   next,
		IdempotencyKey: req.IdempotencyKey,
		TxType:         req.TxType,
		TxSubtype:      req.TxSubtype,
		Metadata:       req.Metadata,
	}
	inserted, err := s.repo.InsertEntry(ctx, tx, entry)
	if err != nil {
		metrics.LedgerApplies.WithLabelValues(req.TxType, "error").Inc()
		return ApplyResult{}, fmt.Errorf("insert ledger entry: %w", err)
	}
	if !inserted {
		// Same key claimed concurrently for another bucket.
		metrics.LedgerApplies.WithLabelValues(req.TxType, "conflict").Inc()
		return ApplyResult{}, fmt.Errorf("%w: key %q", ErrIdempotencyConflict, req.IdempotencyKey)
	}
	if err := s.repo.SetBalance(ctx, tx, req.UserID, req.BalanceType, next); err != nil {
		metrics.LedgerApplies.WithLabelValues(req.TxType, "error").Inc()
		return ApplyResult{}, fmt.Errorf("update balance: %w", err)
	}
	metrics.LedgerApplies.WithLabelValues(req.TxType, "applied").Inc()
	return ApplyResult{EntryID: entry.ID, NewBalance: next}, nil
}

func (s *Service) Balances(ctx context.Context, userID uuid.UUID) ([]*models.Balance, error) {
	return s.repo.ListBalances(ctx, userID)
}

func (s *Service) Entries(ctx context.Context, userID uuid.UUID, balanceType string, limit int) ([]*models.LedgerEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListEntries(ctx, userID, balanceType, limit)
}

// Reconcile compares the projected balance with the signed sum of the log.
func (s *Service) Reconcile(ctx context.Context, userID uuid.UUID, balanceType string) (ReconcileReport, error) {
	if !models.ValidBalanceType(balanceType) {
		return ReconcileReport{}, fmt.Errorf("%w: unknown balance type %q", ErrInvalidRequest, balanceType)
	}
	projected, err := s.repo.GetBalance(ctx, userID, balanceType)
	if err != nil {
		return ReconcileReport{}, err
	}
	sum, err := s.repo.SumEntries(ctx, userID, balanceType)
	if err != nil {
		return ReconcileReport{}, err
	}
	report := ReconcileReport{
		UserID:      userID,
		BalanceType: balanceType,
		Projected:   projected,
		LogSum:      sum,
		Consistent:  projected.Equal(sum),
	}
	if !report.Consistent {
		s.log.Error("ledger projection drift", "user_id", userID, "balance_type", balanceType, "projected", projected.String(), "log_sum", sum.String())
	}
	return report, nil
}
