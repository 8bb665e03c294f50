package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/bsknet/backend/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

// LockBalance creates the balance row if missing and locks it FOR UPDATE.
func (r *Repository) LockBalance(ctx context.Context, tx pgx.Tx, userID uuid.UUID, balanceType string) (decimal.Decimal, error) {
	if _, err := tx.Exec(ctx, `
		INSERT INTO balances (user_id, balance_type, amount)
		VALUES ($1, $2, 0)
		ON CONFLICT (user_id, balance_type) DO NOTHING
	`, userID, balanceType); err != nil {
		return decimal.Zero, err
	}
	var amount decimal.Decimal
	err := tx.QueryRow(ctx, `
		SELECT amount FROM balances WHERE user_id = $1 AND balance_type = $2 FOR UPDATE
	`, userID, balanceType).Scan(&amount)
	return amount, err
}

const entryColumns = `id, user_id, balance_type, amount_bsk, balance_after, idempotency_key, tx_type, tx_subtype, metadata, created_at`

func scanEntry(row pgx.Row) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	if err := row.Scan(&e.ID, &e.UserID, &e.BalanceType, &e.AmountBSK, &e.BalanceAfter, &e.IdempotencyKey, &e.TxType, &e.TxSubtype, &e.Metadata, &e.CreatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

// GetEntryByKey returns nil, nil when the key has not been used.
func (r *Repository) GetEntryByKey(ctx context.Context, tx pgx.Tx, key string) (*models.LedgerEntry, error) {
	e, err := scanEntry(tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE idempotency_key = $1`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

// InsertEntry returns false when the idempotency key already exists.
func (r *Repository) InsertEntry(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) (bool, error) {
	err := tx.QueryRow(ctx, `
		INSERT INTO ledger_entries (id, user_id, balance_type, amount_bsk, balance_after, idempotency_key, tx_type, tx_subtype, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING created_at
	`, e.ID, e.UserID, e.BalanceType, e.AmountBSK, e.BalanceAfter, e.IdempotencyKey, e.TxType, e.TxSubtype, nullJSON(e.Metadata)).Scan(&e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *Repository) SetBalance(ctx context.Context, tx pgx.Tx, userID uuid.UUID, balanceType string, amount decimal.Decimal) error {
	_, err := tx.Exec(ctx, `
		UPDATE balances SET amount = $3, updated_at = now()
		WHERE user_id = $1 AND balance_type = $2
	`, userID, balanceType, amount)
	return err
}

func (r *Repository) ListBalances(ctx context.Context, userID uuid.UUID) ([]*models.Balance, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id, balance_type, amount, updated_at
		FROM balances WHERE user_id = $1 ORDER BY balance_type
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Balance
	for rows.Next() {
		var b models.Balance
		if err := rows.Scan(&b.UserID, &b.BalanceType, &b.Amount, &b.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, &b)
	}
	return list, rows.Err()
}

func (r *Repository) ListEntries(ctx context.Context, userID uuid.UUID, balanceType string, limit int) ([]*models.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE user_id = $1 AND ($2 = '' OR balance_type = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`, userID, balanceType, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

func (r *Repository) SumEntries(ctx context.Context, userID uuid.UUID, balanceType string) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_bsk), 0) FROM ledger_entries WHERE user_id = $1 AND balance_type = $2
	`, userID, balanceType).Scan(&sum)
	return sum, err
}

func (r *Repository) GetBalance(ctx context.Context, userID uuid.UUID, balanceType string) (decimal.Decimal, error) {
	var amount decimal.Decimal
	err := r.pool.QueryRow(ctx, `
		SELECT amount FROM balances WHERE user_id = $1 AND balance_type = $2
	`, userID, balanceType).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	return amount, err
}

func nullJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
