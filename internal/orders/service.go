package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wonny/orderdesk/backend/internal/contracts"
	"github.com/wonny/orderdesk/backend/pkg/logger"
	"github.com/wonny/orderdesk/backend/pkg/redis"
)

// Service is the order collaborator: list, create, sync and delete against the brokerage
// ⭐ SSOT: 주문 생성/동기화/삭제 비즈니스 로직은 여기서만
type Service struct {
	repo   Repository
	broker Broker
	clock  MarketClock
	cache  *redis.Cache
	policy ExitPolicy
	logger *logger.Logger
	now    func() time.Time

	// actions keeps bulk and stream syncs off ids a user action holds
	actions  *ActionSet
	recorder CreateRecorder
}

// CreateRecorder observes placed orders
type CreateRecorder interface {
	RecordOrderCreated()
}

// SyncSummary reports a SyncAll run
type SyncSummary struct {
	Total   int     `json:"total"`
	Synced  int     `json:"synced"`
	Failed  int     `json:"failed"`
	Skipped int     `json:"skipped"` // busy with another action
	Errors  []error `json:"-"`
}

// NewService creates a new order service
func NewService(repo Repository, broker Broker, clock MarketClock, log *logger.Logger) *Service {
	return &Service{
		repo:    repo,
		broker:  broker,
		clock:   clock,
		policy:  DefaultExitPolicy(),
		actions: NewActionSet(),
		logger:  log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithCache enables the order list cache
func (s *Service) WithCache(cache *redis.Cache) *Service {
	s.cache = cache
	return s
}

// WithExitPolicy overrides the default exit rules
func (s *Service) WithExitPolicy(policy ExitPolicy) *Service {
	s.policy = policy
	return s
}

// WithActions shares the coordinator's action set
func (s *Service) WithActions(set *ActionSet) *Service {
	s.actions = set
	return s
}

// WithRecorder sets the metrics recorder
func (s *Service) WithRecorder(r CreateRecorder) *Service {
	s.recorder = r
	return s
}

// List returns alive orders, newest first
func (s *Service) List(ctx context.Context) ([]*contracts.Order, error) {
	if s.cache == nil {
		orders, err := s.repo.List(ctx)
		return orders, internal("list orders", err)
	}

	var orders []*contracts.Order
	err := s.cache.GetOrSet(ctx, redis.OrderListKey(), &orders, redis.TTLShort, func() (interface{}, error) {
		return s.repo.List(ctx)
	})
	if err != nil {
		return nil, internal("list orders", err)
	}
	return orders, nil
}

// Invalidate drops the cached order list
func (s *Service) Invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, redis.OrderListKey()); err != nil {
		s.logger.WithError(err).Warn("Failed to invalidate order list cache")
	}
}

// Get returns one alive order
func (s *Service) Get(ctx context.Context, id int64) (*contracts.Order, error) {
	o, err := s.repo.Get(ctx, id)
	return o, internal("get order", err)
}

// Create validates the request, submits the buy to the brokerage, then stores the order
func (s *Service) Create(ctx context.Context, in contracts.OrderCreate) (*contracts.Order, error) {
	req, verrs := Revalidate(in)
	if len(verrs) > 0 {
		return nil, verrs
	}

	clientOrderID := uuid.NewString()
	brokerOrder, err := s.broker.SubmitNotionalBuy(ctx, req.Symbol, req.Amount, clientOrderID)
	if err != nil {
		return nil, internal("submit buy order", err)
	}

	o := &contracts.Order{
		Symbol: req.Symbol,
		Amount: req.Amount,
		Status: contracts.LifecycleNew,
	}
	if err := BuySubmitted(o, brokerOrder.ID, clientOrderID); err != nil {
		return nil, internal("record buy submission", err)
	}

	if err := s.repo.Create(ctx, o); err != nil {
		return nil, internal("store order", err)
	}
	s.Invalidate(ctx)
	if s.recorder != nil {
		s.recorder.RecordOrderCreated()
	}

	s.logger.WithOrder(o.ID).WithFields(map[string]interface{}{
		"symbol":          o.Symbol,
		"amount":          o.Amount.String(),
		"broker_order_id": brokerOrder.ID.String(),
	}).Info("Order created")

	return o, nil
}

// Sync reconciles one order with the brokerage and applies the sell rules.
// The caller holds the action for id (see Coordinator.RequestSync).
func (s *Service) Sync(ctx context.Context, id int64) (*contracts.Order, error) {
	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, internal("load order", err)
	}

	if err := s.syncOrder(ctx, o); err != nil {
		return nil, internal("sync order", err)
	}

	if err := s.repo.Update(ctx, o); err != nil {
		return nil, internal("save order", err)
	}
	s.Invalidate(ctx)

	return o, nil
}

// SyncByBrokerOrder syncs the order owning a brokerage order id.
// Returns ErrActionInFlight when another action holds the order.
func (s *Service) SyncByBrokerOrder(ctx context.Context, brokerOrderID uuid.UUID) (*contracts.Order, error) {
	o, err := s.repo.GetByBrokerOrderID(ctx, brokerOrderID)
	if err != nil {
		return nil, internal("find order by broker id", err)
	}

	release, ok := s.actions.TryAcquire(o.ID, ActionSyncing)
	if !ok {
		return nil, ErrActionInFlight
	}
	defer release()

	return s.Sync(ctx, o.ID)
}

// SyncAll syncs every open order, continuing past per-order failures.
// Orders busy with another action are skipped; each order is reloaded once held.
func (s *Service) SyncAll(ctx context.Context) (*SyncSummary, error) {
	open, err := s.repo.ListSyncable(ctx)
	if err != nil {
		return nil, internal("list syncable orders", err)
	}

	summary := &SyncSummary{Total: len(open)}
	for _, o := range open {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		release, ok := s.actions.TryAcquire(o.ID, ActionSyncing)
		if !ok {
			summary.Skipped++
			s.logger.WithOrder(o.ID).Debug("Order busy, skipped")
			continue
		}
		err := s.syncHeld(ctx, o.ID)
		release()

		if errors.Is(err, ErrNotFound) {
			// Deleted since listing
			summary.Skipped++
			continue
		}
		if err != nil {
			summary.Failed++
			summary.Errors = append(summary.Errors, fmt.Errorf("order %d: %w", o.ID, err))
			s.logger.WithOrder(o.ID).WithError(err).Warn("Order sync failed")
			continue
		}
		summary.Synced++
	}
	s.Invalidate(ctx)

	s.logger.WithFields(map[string]interface{}{
		"total":   summary.Total,
		"synced":  summary.Synced,
		"failed":  summary.Failed,
		"skipped": summary.Skipped,
	}).Info("Order sync completed")

	return summary, nil
}

// syncHeld reloads and syncs one order whose action the caller holds
func (s *Service) syncHeld(ctx context.Context, id int64) error {
	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.syncOrder(ctx, o); err != nil {
		return err
	}
	return s.repo.Update(ctx, o)
}

// Delete soft-deletes one order
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.repo.SoftDelete(ctx, id, "", s.now()); err != nil {
		return internal("delete order", err)
	}
	s.Invalidate(ctx)

	s.logger.WithOrder(id).Info("Order deleted")
	return nil
}

// syncOrder advances o in memory; the caller persists it
// NEW -> BUY_PENDING_NEW -> BUY_ACCEPTED -> BUY_FILLED -> SELL_PENDING_NEW -> SELL_ACCEPTED -> SELL_FILLED
func (s *Service) syncOrder(ctx context.Context, o *contracts.Order) error {
	if o.AlpacaBuyOrderID == nil {
		return ErrNoBrokerOrder
	}

	buyOrder, err := s.broker.GetOrder(ctx, *o.AlpacaBuyOrderID)
	if err != nil {
		return fmt.Errorf("fetch buy order: %w", err)
	}

	var sellOrder *contracts.BrokerOrder
	if o.AlpacaSellOrderID != nil {
		sellOrder, err = s.broker.GetOrder(ctx, *o.AlpacaSellOrderID)
		if err != nil {
			return fmt.Errorf("fetch sell order: %w", err)
		}
	}

	log := s.logger.WithOrder(o.ID)
	log.WithFields(map[string]interface{}{
		"status":        string(o.Status),
		"broker_status": string(buyOrder.Status),
		"has_sell":      sellOrder != nil,
	}).Debug("Syncing order")

	switch o.Status {
	case contracts.LifecycleBuyPendingNew, contracts.LifecycleBuyAccepted:
		if err := s.handleBuy(ctx, o, buyOrder); err != nil {
			return err
		}
	case contracts.LifecycleSellPendingNew, contracts.LifecycleSellAccepted:
		if err := s.handleSell(o, sellOrder); err != nil {
			return err
		}
	}

	return s.applySellRules(ctx, o)
}

func (s *Service) handleBuy(ctx context.Context, o *contracts.Order, buyOrder *contracts.BrokerOrder) error {
	switch {
	case buyOrder.IsFilled():
		if buyOrder.FilledAvgPrice == nil || buyOrder.FilledQty == nil {
			return fmt.Errorf("buy order %s filled without fill data", buyOrder.ID)
		}
		clock, err := s.clock.Clock(ctx)
		if err != nil {
			return fmt.Errorf("get market clock: %w", err)
		}
		s.logger.WithOrder(o.ID).Info("Buy filled")
		return BuyFilled(o, *buyOrder.FilledAvgPrice, *buyOrder.FilledQty, clock.NextClose, s.now(), s.policy)

	case buyOrder.Status.IsAccepted() && o.Status == contracts.LifecycleBuyPendingNew:
		return BuyAccepted(o)
	}

	// Still waiting for the fill
	return nil
}

func (s *Service) handleSell(o *contracts.Order, sellOrder *contracts.BrokerOrder) error {
	if sellOrder == nil {
		return fmt.Errorf("order in %s but no brokerage sell order", o.Status)
	}

	switch {
	case sellOrder.IsFilled():
		if sellOrder.FilledAvgPrice == nil || sellOrder.FilledQty == nil {
			return fmt.Errorf("sell order %s filled without fill data", sellOrder.ID)
		}
		s.logger.WithOrder(o.ID).Info("Sell filled")
		return SellFilled(o, *sellOrder.FilledAvgPrice, *sellOrder.FilledQty, s.now())

	case sellOrder.Status.IsAccepted() && o.Status == contracts.LifecycleSellPendingNew:
		return SellAccepted(o)
	}

	return nil
}

// applySellRules liquidates a filled position once the force-sell time has passed
func (s *Service) applySellRules(ctx context.Context, o *contracts.Order) error {
	if o.Status != contracts.LifecycleBuyFilled || o.ForceSellAt == nil {
		return nil
	}

	clock, err := s.clock.Clock(ctx)
	if err != nil {
		return fmt.Errorf("get market clock: %w", err)
	}
	if !clock.IsTimePassed(*o.ForceSellAt) {
		return nil
	}

	log := s.logger.WithOrder(o.ID).WithField("symbol", o.Symbol)

	sellOrder, err := s.broker.ClosePosition(ctx, o.Symbol)
	if err != nil {
		var apiErr StatusError
		if errors.As(err, &apiErr) {
			// Brokerage refused the liquidation
			log.WithError(err).Warn("Force sell rejected")
			return SellFailed(o, err.Error())
		}
		return fmt.Errorf("close position: %w", err)
	}

	log.WithField("broker_order_id", sellOrder.ID.String()).Info("Force sell submitted")
	return SellSubmitted(o, sellOrder.ID)
}
