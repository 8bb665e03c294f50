package commission

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bsknet/backend/internal/badge"
	"github.com/bsknet/backend/internal/ledger"
	"github.com/bsknet/backend/internal/ledger/ledgertest"
	"github.com/bsknet/backend/internal/models"
	"github.com/bsknet/backend/internal/rewards"
	"github.com/bsknet/backend/internal/testutil"
)

type recordKey struct {
	earner, payer uuid.UUID
	level         int
	eventType     string
	eventID       string
	kind          string
}

type memStore struct {
	mu      sync.Mutex
	tree    *memTree
	events  []models.ValueEvent
	records map[recordKey]*models.CommissionRecord
}

func newMemStore(tree *memTree) *memStore {
	return &memStore{tree: tree, records: map[recordKey]*models.CommissionRecord{}}
}

func (m *memStore) RecordValueEvent(_ context.Context, ev *models.ValueEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if e.EventType == ev.EventType && e.EventID == ev.EventID && e.PayerID == ev.PayerID {
			return nil
		}
	}
	cp := *ev
	cp.CreatedAt = time.Now()
	m.events = append(m.events, cp)
	return nil
}

func (m *memStore) InsertRecord(_ context.Context, tx pgx.Tx, rec *models.CommissionRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := recordKey{rec.EarnerID, rec.PayerID, rec.Level, rec.EventType, rec.EventID, rec.RewardKind}
	if _, ok := m.records[k]; ok {
		return false, nil
	}
	cp := *rec
	m.records[k] = &cp
	testutil.Undo(tx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.records, k)
	})
	return true, nil
}

func (m *memStore) ListRecords(_ context.Context, f RecordFilter) ([]*models.CommissionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.CommissionRecord
	for _, r := range m.records {
		if f.EarnerID != nil && r.EarnerID != *f.EarnerID {
			continue
		}
		if f.PayerID != nil && r.PayerID != *f.PayerID {
			continue
		}
		if f.EventID != "" && r.EventID != f.EventID {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Level < out[j].Level })
	return out, nil
}

func (m *memStore) ListEarnerEvents(ctx context.Context, earnerID uuid.UUID, since time.Time, limit int) ([]EarnerEvent, error) {
	m.mu.Lock()
	events := append([]models.ValueEvent(nil), m.events...)
	m.mu.Unlock()
	var out []EarnerEvent
	for _, ev := range events {
		if ev.CreatedAt.Before(since) || len(out) >= limit {
			continue
		}
		edges, _ := m.tree.Ancestors(ctx, ev.PayerID)
		for _, e := range edges {
			if e.AncestorID == earnerID {
				out = append(out, EarnerEvent{Event: ev, Level: e.Level})
			}
		}
	}
	return out, nil
}

type memTree struct{ edges map[uuid.UUID][]models.TreeEdge }

// chain makes ids[0] the payer and ids[1..] its ancestors, closest first.
func (t *memTree) chain(n int) []uuid.UUID {
	ids := make([]uuid.UUID, n)
	for i := range ids {
		ids[i] = uuid.New()
	}
	for u := 0; u < n-1; u++ {
		var edges []models.TreeEdge
		for lvl := 1; u+lvl < n; lvl++ {
			edges = append(edges, models.TreeEdge{UserID: ids[u], AncestorID: ids[u+lvl], Level: lvl, DirectSponsorID: ids[u+1]})
		}
		t.edges[ids[u]] = edges
	}
	return ids
}

func (t *memTree) Ancestors(_ context.Context, userID uuid.UUID) ([]models.TreeEdge, error) {
	return t.edges[userID], nil
}

type memBadges struct{ holdings map[uuid.UUID]models.BadgeHolding }

func (m *memBadges) GetHolding(_ context.Context, id uuid.UUID) (*models.BadgeHolding, error) {
	h, ok := m.holdings[id]
	if !ok {
		return nil, nil
	}
	return &h, nil
}

func (m *memBadges) GetHoldings(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]models.BadgeHolding, error) {
	out := map[uuid.UUID]models.BadgeHolding{}
	for _, id := range ids {
		if h, ok := m.holdings[id]; ok {
			out[id] = h
		}
	}
	return out, nil
}

func (m *memBadges) UpsertHolding(_ context.Context, h *models.BadgeHolding) error {
	m.holdings[h.UserID] = *h
	return nil
}

type memRewards struct{ rows map[int]models.LevelReward }

func (m *memRewards) ListLevelRewards(context.Context) ([]models.LevelReward, error) {
	var out []models.LevelReward
	for _, r := range m.rows {
		out = append(out, r)
	}
	return out, nil
}

func (m *memRewards) UpsertLevelReward(_ context.Context, r *models.LevelReward) error {
	m.rows[r.Level] = *r
	return nil
}

type fixture struct {
	tree    *memTree
	store   *memStore
	badges  *memBadges
	resolve *badge.Resolver
	rewards *memRewards
	ledger  *ledgertest.MemStore
	engine  *Engine
}

func newFixture() *fixture {
	f := &fixture{
		tree:    &memTree{edges: map[uuid.UUID][]models.TreeEdge{}},
		badges:  &memBadges{holdings: map[uuid.UUID]models.BadgeHolding{}},
		rewards: &memRewards{rows: map[int]models.LevelReward{}},
		ledger:  ledgertest.NewMemStore(),
	}
	f.store = newMemStore(f.tree)
	f.resolve = badge.NewResolver(f.badges, 1)
	pool := &testutil.Pool{}
	rw := rewards.NewService(f.rewards, rewards.DirectPolicy{Percent: decimal.NewFromInt(10), BalanceType: models.BalanceWithdrawable})
	f.engine = NewEngine(pool, f.store, f.tree, f.resolve, rw, ledger.NewService(pool, f.ledger, nil), nil)
	return f
}

func (f *fixture) reward(level int, amount int64) {
	f.rewards.rows[level] = models.LevelReward{Level: level, BSKAmount: decimal.NewFromInt(amount), BalanceType: models.BalanceHolding, IsActive: true}
}

func (f *fixture) unlock(levels int, ids ...uuid.UUID) {
	for _, id := range ids {
		f.badges.holdings[id] = models.BadgeHolding{UserID: id, CurrentBadge: models.BadgeSilver, UnlockLevels: levels}
	}
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestDistribute_SignupScenario(t *testing.T) {
	f := newFixture()
	ids := f.tree.chain(6)
	u, s := ids[0], ids[1:]
	f.reward(1, 5)
	for lvl := 2; lvl <= 5; lvl++ {
		f.reward(lvl, 2)
	}
	f.unlock(5, s...)
	ctx := context.Background()
	ev := Event{Type: models.EventSignup, ID: "U-signup", PayerID: u, BaseAmount: decimal.Zero}

	res, err := f.engine.Distribute(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, 6, res.Records)
	assert.Equal(t, 5, res.PaidLevels)
	assert.True(t, res.TotalPaid.Equal(dec(13)), res.TotalPaid.String())
	assert.Empty(t, res.Failures)

	records, _ := f.engine.ListRecords(ctx, RecordFilter{PayerID: &u})
	require.Len(t, records, 6)
	kinds := map[string]int{}
	for _, r := range records {
		if r.EarnerID == s[0] {
			kinds[r.RewardKind]++
		}
	}
	assert.Equal(t, map[string]int{models.RewardLevel: 1, models.RewardDirectPercent: 1}, kinds)

	assert.True(t, f.ledger.Balance(s[0], models.BalanceHolding).Equal(dec(5)))
	assert.True(t, f.ledger.Balance(s[0], models.BalanceWithdrawable).IsZero())
	for _, id := range s[1:] {
		assert.True(t, f.ledger.Balance(id, models.BalanceHolding).Equal(dec(2)))
	}

	again, err := f.engine.Distribute(ctx, ev)
	require.NoError(t, err)
	assert.Zero(t, again.Records)
	assert.Equal(t, 6, again.Duplicates)
	assert.True(t, again.TotalPaid.IsZero())
	assert.True(t, f.ledger.Balance(s[0], models.BalanceHolding).Equal(dec(5)))
	assert.Equal(t, 5, f.ledger.EntryCount())
}

func TestDistribute_DirectPercentOfBase(t *testing.T) {
	f := newFixture()
	ids := f.tree.chain(2)
	f.reward(1, 5)
	f.unlock(1, ids[1])

	res, err := f.engine.Distribute(context.Background(), Event{Type: models.EventBadgePurchase, ID: "order-9", PayerID: ids[0], BaseAmount: dec(250)})
	require.NoError(t, err)
	assert.Equal(t, 1, res.PaidLevels)
	assert.True(t, res.TotalPaid.Equal(dec(30)))
	assert.True(t, f.ledger.Balance(ids[1], models.BalanceWithdrawable).Equal(dec(25)))
	assert.True(t, f.ledger.Balance(ids[1], models.BalanceHolding).Equal(dec(5)))
}

func TestDistribute_ConcurrentCallsPayOnce(t *testing.T) {
	f := newFixture()
	ids := f.tree.chain(4)
	for lvl := 1; lvl <= 3; lvl++ {
		f.reward(lvl, 3)
	}
	f.unlock(3, ids[1:]...)
	ev := Event{Type: models.EventKYCApproval, ID: "kyc-1", PayerID: ids[0]}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Distribute(context.Background(), ev)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	for _, id := range ids[1:] {
		assert.True(t, f.ledger.Balance(id, models.BalanceHolding).Equal(dec(3)))
	}
	records, _ := f.engine.ListRecords(context.Background(), RecordFilter{EventID: "kyc-1"})
	assert.Len(t, records, 4)
}

func TestDistribute_UnlockGatingAndBackfill(t *testing.T) {
	f := newFixture()
	ids := f.tree.chain(13)
	earner := ids[12]
	for lvl := 1; lvl <= 12; lvl++ {
		f.reward(lvl, 1)
	}
	f.unlock(10, ids[1:]...)
	ctx := context.Background()

	_, err := f.engine.Distribute(ctx, Event{Type: models.EventSignup, ID: "evt-old", PayerID: ids[0]})
	require.NoError(t, err)
	assert.True(t, f.ledger.Balance(earner, models.BalanceHolding).IsZero())
	recs, _ := f.engine.ListRecords(ctx, RecordFilter{EarnerID: &earner})
	assert.Empty(t, recs)

	_, err = f.resolve.Upgrade(ctx, earner, models.BadgeGold)
	require.NoError(t, err)

	// The old event is not paid retroactively by a new distribution.
	_, err = f.engine.Distribute(ctx, Event{Type: models.EventSignup, ID: "evt-new", PayerID: ids[0]})
	require.NoError(t, err)
	assert.True(t, f.ledger.Balance(earner, models.BalanceHolding).Equal(dec(1)))
	recs, _ = f.engine.ListRecords(ctx, RecordFilter{EarnerID: &earner})
	require.Len(t, recs, 1)
	assert.Equal(t, "evt-new", recs[0].EventID)
	assert.Equal(t, models.BadgeGold, recs[0].EarnerBadgeAtEvent)

	back, err := f.engine.Backfill(ctx, earner, time.Time{}, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, back.EventsScanned)
	assert.Equal(t, 1, back.Records)
	assert.Equal(t, 1, back.Duplicates)
	assert.True(t, f.ledger.Balance(earner, models.BalanceHolding).Equal(dec(2)))

	again, err := f.engine.Backfill(ctx, earner, time.Time{}, 0)
	require.NoError(t, err)
	assert.Zero(t, again.Records)
	assert.True(t, f.ledger.Balance(earner, models.BalanceHolding).Equal(dec(2)))
}

func TestDistribute_SkipsUnconfiguredLevels(t *testing.T) {
	f := newFixture()
	ids := f.tree.chain(4)
	f.reward(1, 4)
	f.reward(3, 4)
	f.rewards.rows[3] = models.LevelReward{Level: 3, BSKAmount: dec(4), BalanceType: models.BalanceHolding, IsActive: false}
	f.unlock(50, ids[1:]...)

	res, err := f.engine.Distribute(context.Background(), Event{Type: models.EventSignup, ID: "s-1", PayerID: ids[0]})
	require.NoError(t, err)
	assert.Equal(t, 1, res.PaidLevels)
	assert.True(t, f.ledger.Balance(ids[2], models.BalanceHolding).IsZero())
	assert.True(t, f.ledger.Balance(ids[3], models.BalanceHolding).IsZero())
}

func TestDistribute_PartialFailureContinues(t *testing.T) {
	f := newFixture()
	ids := f.tree.chain(4)
	for lvl := 1; lvl <= 3; lvl++ {
		f.reward(lvl, 2)
	}
	f.unlock(3, ids[1:]...)
	f.ledger.FailInsertFor[ids[2]] = errors.New("disk full")

	res, err := f.engine.Distribute(context.Background(), Event{Type: models.EventSignup, ID: "s-2", PayerID: ids[0]})
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, ids[2], res.Failures[0].EarnerID)
	assert.Equal(t, 2, res.Failures[0].Level)
	assert.Equal(t, 2, res.PaidLevels)
	assert.True(t, f.ledger.Balance(ids[1], models.BalanceHolding).Equal(dec(2)))
	assert.True(t, f.ledger.Balance(ids[3], models.BalanceHolding).Equal(dec(2)))

	// The failed line left neither a record nor a credit behind.
	ctx := context.Background()
	failed := ids[2]
	recs, _ := f.engine.ListRecords(ctx, RecordFilter{EarnerID: &failed})
	assert.Empty(t, recs)
	assert.True(t, f.ledger.Balance(failed, models.BalanceHolding).IsZero())

	delete(f.ledger.FailInsertFor, failed)
	ev := Event{Type: models.EventSignup, ID: "s-2", PayerID: ids[0]}
	retry, err := f.engine.Distribute(ctx, ev)
	require.NoError(t, err)
	assert.Empty(t, retry.Failures)
	assert.Equal(t, 1, retry.PaidLevels)
	assert.True(t, retry.TotalPaid.Equal(dec(2)))
	assert.Equal(t, 3, retry.Duplicates)
	assert.True(t, f.ledger.Balance(failed, models.BalanceHolding).Equal(dec(2)))
	recs, _ = f.engine.ListRecords(ctx, RecordFilter{EarnerID: &failed})
	assert.Len(t, recs, 1)

	again, err := f.engine.Distribute(ctx, ev)
	require.NoError(t, err)
	assert.Zero(t, again.Records)
	assert.True(t, f.ledger.Balance(failed, models.BalanceHolding).Equal(dec(2)))
	assert.Equal(t, 3, f.ledger.EntryCount())
}

func TestDistribute_TwoPayersShareEventID(t *testing.T) {
	f := newFixture()
	sponsor, p1, p2 := uuid.New(), uuid.New(), uuid.New()
	for _, p := range []uuid.UUID{p1, p2} {
		f.tree.edges[p] = []models.TreeEdge{{UserID: p, AncestorID: sponsor, Level: 1, Path: []uuid.UUID{p, sponsor}, DirectSponsorID: sponsor}}
	}
	f.reward(1, 5)
	f.unlock(1, sponsor)
	ctx := context.Background()

	for _, p := range []uuid.UUID{p1, p2} {
		res, err := f.engine.Distribute(ctx, Event{Type: models.EventSignup, ID: "batch-1", PayerID: p})
		require.NoError(t, err)
		assert.Empty(t, res.Failures)
		assert.True(t, res.TotalPaid.Equal(dec(5)), res.TotalPaid.String())
	}
	assert.True(t, f.ledger.Balance(sponsor, models.BalanceHolding).Equal(dec(10)))
	assert.Equal(t, 2, f.ledger.EntryCount())
}

func TestDistribute_TakenLedgerKeyFailsLine(t *testing.T) {
	f := newFixture()
	ids := f.tree.chain(2)
	f.reward(1, 5)
	f.unlock(1, ids[1])
	ctx := context.Background()
	key := IdempotencyKey(models.EventSignup, "k-1", ids[0], ids[1], 1, models.RewardLevel)
	_, err := ledger.NewService(&testutil.Pool{}, f.ledger, nil).Apply(ctx, ledger.ApplyRequest{
		UserID: ids[1], BalanceType: models.BalanceHolding, Amount: dec(1), IdempotencyKey: key, TxType: models.TxAdjustment,
	})
	require.NoError(t, err)

	res, err := f.engine.Distribute(ctx, Event{Type: models.EventSignup, ID: "k-1", PayerID: ids[0]})
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)
	assert.Contains(t, res.Failures[0].Error, ErrLedgerKeyTaken.Error())
	assert.True(t, f.ledger.Balance(ids[1], models.BalanceHolding).Equal(dec(1)))

	earner := ids[1]
	recs, _ := f.engine.ListRecords(ctx, RecordFilter{EarnerID: &earner})
	for _, r := range recs {
		assert.NotEqual(t, models.RewardLevel, r.RewardKind)
	}
}

func TestDistribute_RootPayerAndValidation(t *testing.T) {
	f := newFixture()
	res, err := f.engine.Distribute(context.Background(), Event{Type: models.EventSignup, ID: "r", PayerID: uuid.New()})
	require.NoError(t, err)
	assert.Zero(t, res.Records)

	bad := []Event{
		{ID: "x", PayerID: uuid.New()},
		{Type: models.EventSignup, PayerID: uuid.New()},
		{Type: models.EventSignup, ID: "x"},
		{Type: models.EventSignup, ID: "x", PayerID: uuid.New(), BaseAmount: dec(-1)},
	}
	for _, ev := range bad {
		_, err := f.engine.Distribute(context.Background(), ev)
		assert.ErrorIs(t, err, ErrInvalidEvent)
	}
}
