package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bsknet/backend/internal/db"
)

// ErrReferralCodeTaken is returned when another user already owns the code.
var ErrReferralCodeTaken = errors.New("referral code already taken")

type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

// Create registers a user and the referral code others use to join under it.
func (r *UserRepo) Create(ctx context.Context, id uuid.UUID, referralCode string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (id, referral_code) VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING
	`, id, strings.ToUpper(strings.TrimSpace(referralCode)))
	if db.IsUniqueViolation(err) {
		return ErrReferralCodeTaken
	}
	return err
}

func (r *UserRepo) UserExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, id).Scan(&ok)
	return ok, err
}

func (r *UserRepo) FindUserByCode(ctx context.Context, code string) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, `SELECT id FROM users WHERE referral_code = $1`, code).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, nil
	}
	return id, err
}
