package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bsknet/backend/internal/models"
)

// TreeRepo reads sponsor links and writes the materialized referral_tree.
type TreeRepo struct {
	*SponsorRepo
	pool *pgxpool.Pool
}

func NewTreeRepo(pool *pgxpool.Pool) *TreeRepo {
	return &TreeRepo{SponsorRepo: NewSponsorRepo(pool), pool: pool}
}

func (r *TreeRepo) HasEdges(ctx context.Context, userID uuid.UUID) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM referral_tree WHERE user_id = $1)`, userID).Scan(&ok)
	return ok, err
}

func (r *TreeRepo) ReplaceEdges(ctx context.Context, tx pgx.Tx, userID uuid.UUID, edges []models.TreeEdge) error {
	if _, err := tx.Exec(ctx, `DELETE FROM referral_tree WHERE user_id = $1`, userID); err != nil {
		return err
	}
	if len(edges) == 0 {
		return nil
	}
	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{"referral_tree"},
		[]string{"user_id", "ancestor_id", "level", "path", "direct_sponsor_id"},
		pgx.CopyFromSlice(len(edges), func(i int) ([]any, error) {
			e := edges[i]
			return []any{e.UserID, e.AncestorID, e.Level, e.Path, e.DirectSponsorID}, nil
		}),
	)
	return err
}

func (r *TreeRepo) ListAncestors(ctx context.Context, userID uuid.UUID) ([]models.TreeEdge, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id, ancestor_id, level, path, direct_sponsor_id, created_at
		FROM referral_tree WHERE user_id = $1 ORDER BY level
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var edges []models.TreeEdge
	for rows.Next() {
		var e models.TreeEdge
		if err := rows.Scan(&e.UserID, &e.AncestorID, &e.Level, &e.Path, &e.DirectSponsorID, &e.CreatedAt); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// ListDescendants unions materialized descendants with direct referrals, so a
// user locked under userID before userID had edges is still found.
func (r *TreeRepo) ListDescendants(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id FROM referral_tree WHERE ancestor_id = $1
		UNION
		SELECT user_id FROM sponsor_links WHERE sponsor_id = $1
	`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}
