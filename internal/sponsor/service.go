package sponsor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bsknet/backend/internal/models"
)

var (
	ErrInvalidReferral = errors.New("referral code or sponsor id does not resolve to a user")
	ErrSelfReferral    = errors.New("a user cannot sponsor themselves")
	// ErrSponsorCycle is returned when the chosen sponsor already sits below the user.
	ErrSponsorCycle        = errors.New("sponsor chain would form a cycle")
	ErrInvalidCaptureStage = errors.New("unknown capture stage")
)

// captureStage defaults an empty stage and rejects unknown ones.
func captureStage(stage, fallback string) (string, error) {
	if stage == "" {
		return fallback, nil
	}
	if !models.ValidCaptureStage(stage) {
		return "", fmt.Errorf("%w: %q", ErrInvalidCaptureStage, stage)
	}
	return stage, nil
}

// Store persists sponsor links.
type Store interface {
	GetLink(ctx context.Context, userID uuid.UUID) (*models.SponsorLink, error)
	// InsertLockedLink inserts a pre-locked row; false when a row already exists.
	InsertLockedLink(ctx context.Context, tx pgx.Tx, link *models.SponsorLink) (bool, error)
	// LockExistingLink sets sponsor and locked_at only where locked_at IS NULL.
	LockExistingLink(ctx context.Context, tx pgx.Tx, link *models.SponsorLink) (bool, error)
	// InsertCapturedLink inserts an unlocked row; false when a row already exists.
	InsertCapturedLink(ctx context.Context, link *models.SponsorLink) (bool, error)
	ListDirectReferrals(ctx context.Context, sponsorID uuid.UUID, limit int) ([]*models.SponsorLink, error)
}

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// TreeBuildEnqueuer schedules a tree build in the same transaction as the
// lock. With downline set, the user's descendants are rebuilt after it.
type TreeBuildEnqueuer interface {
	EnqueueTreeBuild(ctx context.Context, tx pgx.Tx, userID uuid.UUID, force, downline bool) error
}

type LockRequest struct {
	UserID       uuid.UUID
	Referral     string
	CaptureStage string
}

type LockResult struct {
	SponsorID     *uuid.UUID `json:"sponsor_id"`
	AlreadyLocked bool       `json:"already_locked"`
}

type Service struct {
	pool     TxBeginner
	repo     Store
	resolver *Resolver
	enqueuer TreeBuildEnqueuer
	maxDepth int
	log      *slog.Logger
}

// NewService returns a sponsor service. enqueuer may be nil.
func NewService(pool TxBeginner, repo Store, resolver *Resolver, enqueuer TreeBuildEnqueuer, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{pool: pool, repo: repo, resolver: resolver, enqueuer: enqueuer, maxDepth: models.MaxReferralDepth, log: log}
}

func (s *Service) Get(ctx context.Context, userID uuid.UUID) (*models.SponsorLink, error) {
	return s.repo.GetLink(ctx, userID)
}

func (s *Service) DirectReferrals(ctx context.Context, sponsorID uuid.UUID, limit int) ([]*models.SponsorLink, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	return s.repo.ListDirectReferrals(ctx, sponsorID, limit)
}

// Capture records the first referral code seen for a user as an unlocked
// link. It is idempotent and never changes a row that already exists.
func (s *Service) Capture(ctx context.Context, userID uuid.UUID, referral, stage string) (*models.SponsorLink, error) {
	stage, err := captureStage(stage, models.CaptureStageSignup)
	if err != nil {
		return nil, err
	}
	sponsorID, err := s.resolveSponsor(ctx, userID, referral)
	if err != nil {
		return nil, err
	}
	link := &models.SponsorLink{
		UserID:          userID,
		SponsorID:       &sponsorID,
		SponsorCodeUsed: strings.TrimSpace(referral),
		CaptureStage:    stage,
	}
	if _, err := s.repo.InsertCapturedLink(ctx, link); err != nil {
		return nil, fmt.Errorf("capture sponsor link: %w", err)
	}
	return s.repo.GetLink(ctx, userID)
}

// Lock permanently links userID to the sponsor named by req.Referral. Once a
// link is locked, every later call returns the locked sponsor unchanged.
func (s *Service) Lock(ctx context.Context, req LockRequest) (LockResult, error) {
	stage, err := captureStage(req.CaptureStage, models.CaptureStageManual)
	if err != nil {
		return LockResult{}, err
	}
	req.CaptureStage = stage

	existing, err := s.repo.GetLink(ctx, req.UserID)
	if err != nil {
		return LockResult{}, fmt.Errorf("get sponsor link: %w", err)
	}
	if existing.Locked() {
		return LockResult{SponsorID: existing.SponsorID, AlreadyLocked: true}, nil
	}

	referral := strings.TrimSpace(req.Referral)
	if referral == "" && existing != nil && existing.SponsorID != nil {
		// Fall back to the code captured earlier in onboarding.
		referral = existing.SponsorID.String()
	}
	sponsorID, err := s.resolveSponsor(ctx, req.UserID, referral)
	if err != nil {
		return LockResult{}, err
	}
	if err := s.checkCycle(ctx, req.UserID, sponsorID); err != nil {
		return LockResult{}, err
	}

	codeUsed := strings.TrimSpace(req.Referral)
	if codeUsed == "" && existing != nil {
		codeUsed = existing.SponsorCodeUsed
	}
	link := &models.SponsorLink{
		UserID:          req.UserID,
		SponsorID:       &sponsorID,
		SponsorCodeUsed: codeUsed,
		CaptureStage:    req.CaptureStage,
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return LockResult{}, err
	}
	defer tx.Rollback(ctx)

	won, err := s.repo.InsertLockedLink(ctx, tx, link)
	if err != nil {
		return LockResult{}, fmt.Errorf("insert sponsor link: %w", err)
	}
	if !won {
		won, err = s.repo.LockExistingLink(ctx, tx, link)
		if err != nil {
			return LockResult{}, fmt.Errorf("lock sponsor link: %w", err)
		}
	}
	if !won {
		// Another caller locked first; report the winner's sponsor.
		_ = tx.Rollback(ctx)
		winner, err := s.repo.GetLink(ctx, req.UserID)
		if err != nil {
			return LockResult{}, fmt.Errorf("read locked sponsor link: %w", err)
		}
		if winner == nil {
			return LockResult{}, errors.New("sponsor link vanished after lock conflict")
		}
		return LockResult{SponsorID: winner.SponsorID, AlreadyLocked: true}, nil
	}

	if s.enqueuer != nil {
		// Users who locked under req.UserID earlier stopped their walk here;
		// the downline flag refreshes them now that the chain continues.
		if err := s.enqueuer.EnqueueTreeBuild(ctx, tx, req.UserID, true, true); err != nil {
			return LockResult{}, fmt.Errorf("enqueue tree build: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return LockResult{}, err
	}
	s.log.Info("sponsor locked", "user_id", req.UserID, "sponsor_id", sponsorID, "capture_stage", req.CaptureStage)
	return LockResult{SponsorID: &sponsorID}, nil
}

func (s *Service) resolveSponsor(ctx context.Context, userID uuid.UUID, referral string) (uuid.UUID, error) {
	sponsorID, err := s.resolver.Resolve(ctx, referral)
	if err != nil {
		return uuid.Nil, fmt.Errorf("resolve referral: %w", err)
	}
	if sponsorID == uuid.Nil {
		return uuid.Nil, ErrInvalidReferral
	}
	if sponsorID == userID {
		return uuid.Nil, ErrSelfReferral
	}
	return sponsorID, nil
}

// checkCycle walks the sponsor's own chain and rejects it when userID
// already appears there.
func (s *Service) checkCycle(ctx context.Context, userID, sponsorID uuid.UUID) error {
	cur := sponsorID
	for depth := 0; depth < s.maxDepth; depth++ {
		link, err := s.repo.GetLink(ctx, cur)
		if err != nil {
			return fmt.Errorf("walk sponsor chain: %w", err)
		}
		if link == nil || link.SponsorID == nil {
			return nil
		}
		if *link.SponsorID == userID {
			return ErrSponsorCycle
		}
		cur = *link.SponsorID
	}
	return nil
}
