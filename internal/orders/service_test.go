package orders

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/orderdesk/backend/internal/contracts"
	"github.com/wonny/orderdesk/backend/pkg/config"
	"github.com/wonny/orderdesk/backend/pkg/logger"
	"github.com/wonny/orderdesk/backend/pkg/redis"
)

// memoryRepository is an in-memory Repository for service tests
type memoryRepository struct {
	mu     sync.Mutex
	nextID int64
	orders map[int64]*contracts.Order
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{orders: make(map[int64]*contracts.Order)}
}

func clone(o *contracts.Order) *contracts.Order {
	c := *o
	return &c
}

func (m *memoryRepository) alive() []*contracts.Order {
	out := make([]*contracts.Order, 0, len(m.orders))
	for _, o := range m.orders {
		if !o.IsDeleted() {
			out = append(out, clone(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (m *memoryRepository) List(ctx context.Context) ([]*contracts.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alive(), nil
}

func (m *memoryRepository) ListSyncable(ctx context.Context) ([]*contracts.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*contracts.Order, 0)
	for _, o := range m.alive() {
		if !o.Status.IsTerminal() {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *memoryRepository) Get(ctx context.Context, id int64) (*contracts.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok || o.IsDeleted() {
		return nil, ErrNotFound
	}
	return clone(o), nil
}

func (m *memoryRepository) GetByBrokerOrderID(ctx context.Context, brokerOrderID uuid.UUID) (*contracts.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, o := range m.alive() {
		if (o.AlpacaBuyOrderID != nil && *o.AlpacaBuyOrderID == brokerOrderID) ||
			(o.AlpacaSellOrderID != nil && *o.AlpacaSellOrderID == brokerOrderID) {
			return o, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memoryRepository) Create(ctx context.Context, o *contracts.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	o.ID = m.nextID
	o.CreatedAt = time.Now().UTC()
	o.UpdatedAt = o.CreatedAt
	m.orders[o.ID] = clone(o)
	return nil
}

func (m *memoryRepository) Update(ctx context.Context, o *contracts.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.orders[o.ID]
	if !ok || existing.IsDeleted() {
		return ErrNotFound
	}
	if !existing.UpdatedAt.Equal(o.UpdatedAt) {
		return ErrStaleOrder
	}
	next := time.Now().UTC()
	if !next.After(existing.UpdatedAt) {
		next = existing.UpdatedAt.Add(time.Microsecond)
	}
	o.UpdatedAt = next
	m.orders[o.ID] = clone(o)
	return nil
}

func (m *memoryRepository) SoftDelete(ctx context.Context, id int64, by string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok || o.IsDeleted() {
		return ErrNotFound
	}
	o.DeletedAt = &at
	return nil
}

// insert stores a raw record bypassing the service
func (m *memoryRepository) insert(o *contracts.Order) int64 {
	_ = m.Create(context.Background(), o)
	return o.ID
}

// gatedBroker parks the first GetOrder until proceed is closed
type gatedBroker struct {
	*MockBroker
	entered chan struct{}
	proceed chan struct{}
	once    sync.Once
	closes  int32
}

func newGatedBroker(b *MockBroker) *gatedBroker {
	return &gatedBroker{
		MockBroker: b,
		entered:    make(chan struct{}),
		proceed:    make(chan struct{}),
	}
}

func (g *gatedBroker) GetOrder(ctx context.Context, id uuid.UUID) (*contracts.BrokerOrder, error) {
	g.once.Do(func() {
		close(g.entered)
		<-g.proceed
	})
	return g.MockBroker.GetOrder(ctx, id)
}

func (g *gatedBroker) ClosePosition(ctx context.Context, symbol string) (*contracts.BrokerOrder, error) {
	atomic.AddInt32(&g.closes, 1)
	return g.MockBroker.ClosePosition(ctx, symbol)
}

type serviceFixture struct {
	svc    *Service
	repo   *memoryRepository
	broker *MockBroker
	now    time.Time
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	f := &serviceFixture{
		repo:   newMemoryRepository(),
		broker: NewMockBroker(),
		now:    time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC),
	}
	f.broker.Now = func() time.Time { return f.now }
	f.broker.SetPrice("AAPL", decimal.NewFromInt(200))

	f.svc = NewService(f.repo, f.broker, f.broker, logger.NewNop())
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *serviceFixture) create(t *testing.T, symbol string, amount int64) *contracts.Order {
	t.Helper()
	o, err := f.svc.Create(context.Background(), contracts.OrderCreate{Symbol: symbol, Amount: decimal.NewFromInt(amount)})
	require.NoError(t, err)
	return o
}

func TestService_CreateRejectsInvalid(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.Create(context.Background(), contracts.OrderCreate{Symbol: "aapl", Amount: decimal.NewFromInt(100)})
	require.Error(t, err)

	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.True(t, verrs.Has("symbol", ReasonSymbolFormat))
	assert.Equal(t, http.StatusUnprocessableEntity, StatusOf(err))

	orders, err := f.svc.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestService_Create(t *testing.T) {
	f := newServiceFixture(t)
	f.broker.FillImmediately = false

	o := f.create(t, "AAPL", 100)

	assert.NotZero(t, o.ID)
	assert.Equal(t, contracts.LifecycleBuyPendingNew, o.Status)
	require.NotNil(t, o.AlpacaBuyOrderID)
	require.NotNil(t, o.AlpacaClientOrderID)
	assert.Equal(t, contracts.DisplayActive, Classify(o))

	brokerOrder, err := f.broker.GetOrder(context.Background(), *o.AlpacaBuyOrderID)
	require.NoError(t, err)
	assert.Equal(t, *o.AlpacaClientOrderID, brokerOrder.ClientOrderID)
	assert.True(t, decimal.NewFromInt(100).Equal(*brokerOrder.Notional))
}

func TestService_SyncAcceptedThenFilled(t *testing.T) {
	f := newServiceFixture(t)
	f.broker.FillImmediately = false
	ctx := context.Background()

	o := f.create(t, "AAPL", 100)

	synced, err := f.svc.Sync(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.LifecycleBuyAccepted, synced.Status)

	require.NoError(t, f.broker.Fill(*o.AlpacaBuyOrderID))

	synced, err = f.svc.Sync(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.LifecycleBuyFilled, synced.Status)
	assert.Equal(t, contracts.DisplayBuyFilled, Classify(synced))
	assert.True(t, decimal.NewFromInt(200).Equal(*synced.BuyFilledAvgPrice))
	assert.True(t, decimal.RequireFromString("0.5").Equal(*synced.BuyFilledQty))

	// Mock clock closes at 20:00 UTC
	assert.Equal(t, time.Date(2026, 3, 2, 19, 30, 0, 0, time.UTC), *synced.ForceSellAt)
	assert.True(t, decimal.NewFromInt(210).Equal(*synced.TargetProfitPrice))
	assert.True(t, decimal.NewFromInt(190).Equal(*synced.StopLossPrice))

	stored, err := f.svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.LifecycleBuyFilled, stored.Status)
}

func TestService_ForceSellAfterDeadline(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	o := f.create(t, "AAPL", 100)

	synced, err := f.svc.Sync(ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, contracts.LifecycleBuyFilled, synced.Status)

	// Before the deadline nothing is sold
	f.now = time.Date(2026, 3, 2, 19, 0, 0, 0, time.UTC)
	synced, err = f.svc.Sync(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.LifecycleBuyFilled, synced.Status)

	f.now = time.Date(2026, 3, 2, 19, 31, 0, 0, time.UTC)
	synced, err = f.svc.Sync(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.LifecycleSellPendingNew, synced.Status)
	require.NotNil(t, synced.AlpacaSellOrderID)

	synced, err = f.svc.Sync(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.LifecycleSellFilled, synced.Status)
	assert.Equal(t, contracts.DisplayCompleted, Classify(synced))
	assert.True(t, decimal.RequireFromString("0.5").Equal(*synced.SellFilledQty))
}

func TestService_ForceSellRejected(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	o := f.create(t, "AAPL", 100)
	_, err := f.svc.Sync(ctx, o.ID)
	require.NoError(t, err)

	// Position closed elsewhere: the brokerage refuses the liquidation
	_, err = f.broker.ClosePosition(ctx, "AAPL")
	require.NoError(t, err)

	f.now = time.Date(2026, 3, 2, 19, 45, 0, 0, time.UTC)
	synced, err := f.svc.Sync(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.LifecycleSellFailed, synced.Status)
	require.NotNil(t, synced.ErrorMessage)
}

func TestService_SyncErrors(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.Sync(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, http.StatusNotFound, StatusOf(err))

	id := f.repo.insert(&contracts.Order{Symbol: "AAPL", Amount: decimal.NewFromInt(5), Status: contracts.LifecycleNew})
	_, err = f.svc.Sync(ctx, id)
	assert.ErrorIs(t, err, ErrNoBrokerOrder)
	assert.Equal(t, http.StatusInternalServerError, StatusOf(err))

	// Unknown brokerage order is a server-side failure, not a missing order
	missing := uuid.New()
	id = f.repo.insert(&contracts.Order{Symbol: "AAPL", Amount: decimal.NewFromInt(5), Status: contracts.LifecycleBuyPendingNew, AlpacaBuyOrderID: &missing})
	_, err = f.svc.Sync(ctx, id)
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, StatusOf(err))
}

func TestService_Delete(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	o := f.create(t, "AAPL", 100)

	require.NoError(t, f.svc.Delete(ctx, o.ID))

	_, err := f.svc.Get(ctx, o.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	err = f.svc.Delete(ctx, o.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	orders, err := f.svc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestService_ListNewestFirst(t *testing.T) {
	f := newServiceFixture(t)

	first := f.create(t, "AAPL", 100)
	second := f.create(t, "MSFT", 50)

	orders, err := f.svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, second.ID, orders[0].ID)
	assert.Equal(t, first.ID, orders[1].ID)
}

func TestService_ListWithDisabledCache(t *testing.T) {
	f := newServiceFixture(t)

	client, err := redis.New(context.Background(), &config.Config{})
	require.NoError(t, err)
	f.svc.WithCache(redis.NewCache(client, "test"))

	f.create(t, "AAPL", 100)

	orders, err := f.svc.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestService_SyncAll(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	f.create(t, "AAPL", 100)
	f.create(t, "MSFT", 100)

	// Broken record: no brokerage order
	f.repo.insert(&contracts.Order{Symbol: "TSLA", Amount: decimal.NewFromInt(5), Status: contracts.LifecycleNew})

	// Terminal record is skipped
	sold := uuid.New()
	f.repo.insert(&contracts.Order{Symbol: "NVDA", Amount: decimal.NewFromInt(5), Status: contracts.LifecycleSellFilled, AlpacaBuyOrderID: &sold})

	summary, err := f.svc.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.Synced)
	assert.Equal(t, 1, summary.Failed)
	assert.Len(t, summary.Errors, 1)

	orders, err := f.svc.List(ctx)
	require.NoError(t, err)
	filled := 0
	for _, o := range orders {
		if o.Status == contracts.LifecycleBuyFilled {
			filled++
		}
	}
	assert.Equal(t, 2, filled)
}

func TestService_SyncByBrokerOrder(t *testing.T) {
	f := newServiceFixture(t)
	f.broker.FillImmediately = false
	ctx := context.Background()

	o := f.create(t, "AAPL", 100)
	require.NoError(t, f.broker.Fill(*o.AlpacaBuyOrderID))

	synced, err := f.svc.SyncByBrokerOrder(ctx, *o.AlpacaBuyOrderID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, synced.ID)
	assert.Equal(t, contracts.LifecycleBuyFilled, synced.Status)

	_, err = f.svc.SyncByBrokerOrder(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_WithCoordinator(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	var refreshed int
	c := NewCoordinator(f.svc, logger.NewNop()).WithRefresher(func(ctx context.Context) {
		refreshed++
		f.svc.Invalidate(ctx)
	})

	o := f.create(t, "AAPL", 100)

	res, err := c.RequestSync(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, contracts.DisplayBuyFilled, Classify(res.Order))

	res, err = c.RequestSync(ctx, 12345)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, res.Outcome)

	res, err = c.RequestDelete(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)

	res, err = c.RequestDelete(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, res.Outcome)

	assert.Equal(t, 4, refreshed)
}

func TestService_SyncAllHoldsOrderAgainstCoordinator(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	o := f.create(t, "AAPL", 100)
	_, err := f.svc.Sync(ctx, o.ID)
	require.NoError(t, err)

	// Filled and past the force-sell time
	gated := newGatedBroker(f.broker)
	f.svc.broker = gated
	f.now = time.Date(2026, 3, 2, 19, 45, 0, 0, time.UTC)

	actions := NewActionSet()
	f.svc.WithActions(actions)
	c := NewCoordinator(f.svc, logger.NewNop()).WithActions(actions)

	done := make(chan *SyncSummary)
	go func() {
		summary, err := f.svc.SyncAll(ctx)
		assert.NoError(t, err)
		done <- summary
	}()

	<-gated.entered
	assert.Equal(t, ActionSyncing, c.IsBusy(o.ID))

	_, err = c.RequestSync(ctx, o.ID)
	assert.ErrorIs(t, err, ErrActionInFlight)

	close(gated.proceed)
	summary := <-done
	assert.Equal(t, 1, summary.Synced)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, ActionNone, c.IsBusy(o.ID))

	res, err := c.RequestSync(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, contracts.LifecycleSellFilled, res.Order.Status)
	assert.Nil(t, res.Order.ErrorMessage)

	// One liquidation only
	assert.Equal(t, int32(1), atomic.LoadInt32(&gated.closes))
}

func TestService_SyncAllSkipsBusyOrders(t *testing.T) {
	f := newServiceFixture(t)
	f.broker.FillImmediately = false
	ctx := context.Background()

	busy := f.create(t, "AAPL", 100)
	idle := f.create(t, "MSFT", 100)

	release, ok := f.svc.actions.TryAcquire(busy.ID, ActionDeleting)
	require.True(t, ok)

	summary, err := f.svc.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Synced)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 0, summary.Failed)

	stored, err := f.svc.Get(ctx, busy.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.LifecycleBuyPendingNew, stored.Status)

	stored, err = f.svc.Get(ctx, idle.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.LifecycleBuyAccepted, stored.Status)

	_, err = f.svc.SyncByBrokerOrder(ctx, *busy.AlpacaBuyOrderID)
	assert.ErrorIs(t, err, ErrActionInFlight)

	release()

	synced, err := f.svc.SyncByBrokerOrder(ctx, *busy.AlpacaBuyOrderID)
	require.NoError(t, err)
	assert.Equal(t, contracts.LifecycleBuyAccepted, synced.Status)
	assert.Equal(t, ActionNone, f.svc.actions.Busy(busy.ID))
}

func TestService_StaleWriterCannotOverwriteSell(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	o := f.create(t, "AAPL", 100)
	_, err := f.svc.Sync(ctx, o.ID)
	require.NoError(t, err)
	f.now = time.Date(2026, 3, 2, 19, 45, 0, 0, time.UTC)

	// A second process: same store and brokerage, its own action set
	gated := newGatedBroker(f.broker)
	other := NewService(f.repo, gated, f.broker, logger.NewNop())
	other.now = f.svc.now

	errc := make(chan error)
	go func() {
		_, err := other.Sync(ctx, o.ID)
		errc <- err
	}()
	<-gated.entered

	synced, err := f.svc.Sync(ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, contracts.LifecycleSellPendingNew, synced.Status)

	close(gated.proceed)
	assert.ErrorIs(t, <-errc, ErrStaleOrder)

	stored, err := f.repo.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.LifecycleSellPendingNew, stored.Status)
	assert.Nil(t, stored.ErrorMessage)
}

func TestMemoryRepository_RejectsStaleUpdate(t *testing.T) {
	repo := newMemoryRepository()
	ctx := context.Background()

	buyID := uuid.New()
	id := repo.insert(&contracts.Order{Symbol: "AAPL", Amount: decimal.NewFromInt(5), Status: contracts.LifecycleBuyPendingNew, AlpacaBuyOrderID: &buyID})

	first, err := repo.Get(ctx, id)
	require.NoError(t, err)
	second, err := repo.Get(ctx, id)
	require.NoError(t, err)

	require.NoError(t, BuyAccepted(first))
	require.NoError(t, repo.Update(ctx, first))

	require.NoError(t, BuyAccepted(second))
	assert.ErrorIs(t, repo.Update(ctx, second), ErrStaleOrder)

	// The winner can keep writing with its refreshed copy
	require.NoError(t, repo.Update(ctx, first))
}
