package sponsor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bsknet/backend/internal/models"
	"github.com/bsknet/backend/internal/testutil"
)

type fakeUsers struct {
	mu      sync.Mutex
	ids     map[uuid.UUID]bool
	codes   map[string]uuid.UUID
	lookups atomic.Int64
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{ids: map[uuid.UUID]bool{}, codes: map[string]uuid.UUID{}}
}

func (f *fakeUsers) add(code string) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.ids[id] = true
	f.codes[code] = id
	return id
}

func (f *fakeUsers) UserExists(_ context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ids[id], nil
}

func (f *fakeUsers) FindUserByCode(_ context.Context, code string) (uuid.UUID, error) {
	f.lookups.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.codes[code], nil
}

type fakeLinks struct {
	mu    sync.Mutex
	links map[uuid.UUID]models.SponsorLink
}

func newFakeLinks() *fakeLinks { return &fakeLinks{links: map[uuid.UUID]models.SponsorLink{}} }

func (f *fakeLinks) GetLink(_ context.Context, userID uuid.UUID) (*models.SponsorLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.links[userID]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

func (f *fakeLinks) InsertLockedLink(_ context.Context, _ pgx.Tx, link *models.SponsorLink) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.links[link.UserID]; ok {
		return false, nil
	}
	now := time.Now()
	l := *link
	l.LockedAt = &now
	f.links[link.UserID] = l
	return true, nil
}

func (f *fakeLinks) LockExistingLink(_ context.Context, _ pgx.Tx, link *models.SponsorLink) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.links[link.UserID]
	if !ok || cur.LockedAt != nil {
		return false, nil
	}
	now := time.Now()
	cur.SponsorID = link.SponsorID
	cur.LockedAt = &now
	f.links[link.UserID] = cur
	return true, nil
}

func (f *fakeLinks) InsertCapturedLink(_ context.Context, link *models.SponsorLink) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.links[link.UserID]; ok {
		return false, nil
	}
	f.links[link.UserID] = *link
	return true, nil
}

func (f *fakeLinks) ListDirectReferrals(_ context.Context, sponsorID uuid.UUID, limit int) ([]*models.SponsorLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.SponsorLink
	for _, l := range f.links {
		if l.SponsorID != nil && *l.SponsorID == sponsorID && len(out) < limit {
			l := l
			out = append(out, &l)
		}
	}
	return out, nil
}

type countingEnqueuer struct {
	calls    atomic.Int64
	downline atomic.Bool
}

func (c *countingEnqueuer) EnqueueTreeBuild(_ context.Context, _ pgx.Tx, _ uuid.UUID, _, downline bool) error {
	c.calls.Add(1)
	c.downline.Store(downline)
	return nil
}

type fixture struct {
	users *fakeUsers
	links *fakeLinks
	enq   *countingEnqueuer
	svc   *Service
}

func newFixture() *fixture {
	f := &fixture{users: newFakeUsers(), links: newFakeLinks(), enq: &countingEnqueuer{}}
	f.svc = NewService(&testutil.Pool{}, f.links, NewResolver(f.users, 64, time.Minute), f.enq, nil)
	return f
}

func TestLock_ByCode(t *testing.T) {
	f := newFixture()
	sponsorID := f.users.add("ALPHA1")
	userID := f.users.add("BETA22")

	res, err := f.svc.Lock(context.Background(), LockRequest{UserID: userID, Referral: " alpha1 ", CaptureStage: models.CaptureStageSignup})
	require.NoError(t, err)
	require.NotNil(t, res.SponsorID)
	assert.Equal(t, sponsorID, *res.SponsorID)
	assert.False(t, res.AlreadyLocked)
	assert.EqualValues(t, 1, f.enq.calls.Load())
	assert.True(t, f.enq.downline.Load(), "lock must refresh the user's downline")

	link, _ := f.links.GetLink(context.Background(), userID)
	assert.True(t, link.Locked())
}

func TestLock_SecondCallKeepsFirstSponsor(t *testing.T) {
	f := newFixture()
	first := f.users.add("FIRST1")
	other := f.users.add("OTHER1")
	userID := f.users.add("USER01")
	ctx := context.Background()

	_, err := f.svc.Lock(ctx, LockRequest{UserID: userID, Referral: first.String()})
	require.NoError(t, err)

	res, err := f.svc.Lock(ctx, LockRequest{UserID: userID, Referral: other.String()})
	require.NoError(t, err)
	assert.True(t, res.AlreadyLocked)
	assert.Equal(t, first, *res.SponsorID)
	assert.EqualValues(t, 1, f.enq.calls.Load())
}

func TestLock_SelfReferral(t *testing.T) {
	f := newFixture()
	userID := f.users.add("SELF01")

	_, err := f.svc.Lock(context.Background(), LockRequest{UserID: userID, Referral: userID.String()})
	assert.ErrorIs(t, err, ErrSelfReferral)
	link, _ := f.links.GetLink(context.Background(), userID)
	assert.Nil(t, link)
}

func TestLock_InvalidReferral(t *testing.T) {
	f := newFixture()
	userID := f.users.add("USER01")

	for _, ref := range []string{"", "NOPE99", uuid.NewString()} {
		_, err := f.svc.Lock(context.Background(), LockRequest{UserID: userID, Referral: ref})
		assert.ErrorIs(t, err, ErrInvalidReferral, ref)
	}
	assert.Zero(t, f.enq.calls.Load())
}

func TestLockAndCapture_CaptureStage(t *testing.T) {
	f := newFixture()
	sponsorID := f.users.add("STAGE1")
	userID := f.users.add("USER01")
	ctx := context.Background()

	_, err := f.svc.Capture(ctx, userID, sponsorID.String(), "carrier-pigeon")
	assert.ErrorIs(t, err, ErrInvalidCaptureStage)
	_, err = f.svc.Lock(ctx, LockRequest{UserID: userID, Referral: sponsorID.String(), CaptureStage: "carrier-pigeon"})
	assert.ErrorIs(t, err, ErrInvalidCaptureStage)
	assert.Zero(t, f.enq.calls.Load())

	_, err = f.svc.Lock(ctx, LockRequest{UserID: userID, Referral: sponsorID.String()})
	require.NoError(t, err)
	link, _ := f.links.GetLink(ctx, userID)
	assert.Equal(t, models.CaptureStageManual, link.CaptureStage)
}

func TestLock_RejectsCycle(t *testing.T) {
	f := newFixture()
	a := f.users.add("AAAAAA")
	b := f.users.add("BBBBBB")
	c := f.users.add("CCCCCC")
	ctx := context.Background()

	// c -> b -> a
	_, err := f.svc.Lock(ctx, LockRequest{UserID: b, Referral: a.String()})
	require.NoError(t, err)
	_, err = f.svc.Lock(ctx, LockRequest{UserID: c, Referral: b.String()})
	require.NoError(t, err)

	_, err = f.svc.Lock(ctx, LockRequest{UserID: a, Referral: c.String()})
	assert.ErrorIs(t, err, ErrSponsorCycle)
}

func TestCaptureThenLockWithoutReferral(t *testing.T) {
	f := newFixture()
	sponsorID := f.users.add("CAPT01")
	userID := f.users.add("USER01")
	ctx := context.Background()

	link, err := f.svc.Capture(ctx, userID, "capt01", models.CaptureStageOnboarding)
	require.NoError(t, err)
	assert.False(t, link.Locked())
	assert.Equal(t, sponsorID, *link.SponsorID)

	res, err := f.svc.Lock(ctx, LockRequest{UserID: userID})
	require.NoError(t, err)
	assert.Equal(t, sponsorID, *res.SponsorID)

	locked, _ := f.links.GetLink(ctx, userID)
	assert.True(t, locked.Locked())
	assert.Equal(t, "capt01", locked.SponsorCodeUsed)
}

func TestLock_ConcurrentCallersAgree(t *testing.T) {
	f := newFixture()
	userID := f.users.add("USER01")
	sponsors := make([]uuid.UUID, 8)
	for i := range sponsors {
		sponsors[i] = f.users.add(uuid.NewString()[:6])
	}

	results := make([]LockResult, len(sponsors))
	var wg sync.WaitGroup
	for i := range sponsors {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.Lock(context.Background(), LockRequest{UserID: userID, Referral: sponsors[i].String()})
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	link, _ := f.links.GetLink(context.Background(), userID)
	require.True(t, link.Locked())
	winners := 0
	for _, r := range results {
		require.NotNil(t, r.SponsorID)
		assert.Equal(t, *link.SponsorID, *r.SponsorID)
		if !r.AlreadyLocked {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
	assert.EqualValues(t, 1, f.enq.calls.Load())
}

func TestResolver_CachesHits(t *testing.T) {
	users := newFakeUsers()
	id := users.add("CACHE1")
	r := NewResolver(users, 8, time.Minute)

	for i := 0; i < 3; i++ {
		got, err := r.Resolve(context.Background(), "cache1")
		require.NoError(t, err)
		assert.Equal(t, id, got)
	}
	assert.EqualValues(t, 1, users.lookups.Load())

	miss, err := r.Resolve(context.Background(), "MISSING")
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, miss)
}
