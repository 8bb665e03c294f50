package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bsknet/backend/internal/models"
)

const sponsorLinkColumns = `user_id, sponsor_id, locked_at, sponsor_code_used, capture_stage, created_at`

type SponsorRepo struct {
	pool *pgxpool.Pool
}

func NewSponsorRepo(pool *pgxpool.Pool) *SponsorRepo {
	return &SponsorRepo{pool: pool}
}

func scanLink(row pgx.Row) (*models.SponsorLink, error) {
	var l models.SponsorLink
	err := row.Scan(&l.UserID, &l.SponsorID, &l.LockedAt, &l.SponsorCodeUsed, &l.CaptureStage, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// GetLink returns nil, nil when the user has no link row.
func (r *SponsorRepo) GetLink(ctx context.Context, userID uuid.UUID) (*models.SponsorLink, error) {
	l, err := scanLink(r.pool.QueryRow(ctx, `SELECT `+sponsorLinkColumns+` FROM sponsor_links WHERE user_id = $1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return l, err
}

func (r *SponsorRepo) InsertLockedLink(ctx context.Context, tx pgx.Tx, link *models.SponsorLink) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO sponsor_links (user_id, sponsor_id, locked_at, sponsor_code_used, capture_stage)
		VALUES ($1, $2, now(), $3, $4)
		ON CONFLICT (user_id) DO NOTHING
	`, link.UserID, link.SponsorID, link.SponsorCodeUsed, link.CaptureStage)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// LockExistingLink is the compare-and-set: it only touches rows still unlocked.
func (r *SponsorRepo) LockExistingLink(ctx context.Context, tx pgx.Tx, link *models.SponsorLink) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE sponsor_links
		SET sponsor_id = $2, locked_at = now(), sponsor_code_used = $3, capture_stage = $4
		WHERE user_id = $1 AND locked_at IS NULL
	`, link.UserID, link.SponsorID, link.SponsorCodeUsed, link.CaptureStage)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *SponsorRepo) InsertCapturedLink(ctx context.Context, link *models.SponsorLink) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO sponsor_links (user_id, sponsor_id, sponsor_code_used, capture_stage)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO NOTHING
	`, link.UserID, link.SponsorID, link.SponsorCodeUsed, link.CaptureStage)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *SponsorRepo) ListDirectReferrals(ctx context.Context, sponsorID uuid.UUID, limit int) ([]*models.SponsorLink, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+sponsorLinkColumns+` FROM sponsor_links
		WHERE sponsor_id = $1 ORDER BY created_at, user_id LIMIT $2
	`, sponsorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.SponsorLink
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, l)
	}
	return list, rows.Err()
}

// ListLinkUserIDs pages link owners by user_id for the rebuild tool.
func (r *SponsorRepo) ListLinkUserIDs(ctx context.Context, after uuid.UUID, limit int, includeUnlocked bool) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id FROM sponsor_links
		WHERE user_id > $1 AND ($3 OR locked_at IS NOT NULL)
		ORDER BY user_id LIMIT $2
	`, after, limit, includeUnlocked)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}
