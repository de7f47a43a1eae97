package orders

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wonny/orderdesk/backend/internal/contracts"
)

// Broker defines the brokerage operations the order service needs
// ⭐ SSOT: 증권사 연동 인터페이스는 여기서만 정의
type Broker interface {
	// SubmitNotionalBuy submits a market DAY buy for a dollar amount
	SubmitNotionalBuy(ctx context.Context, symbol string, notional decimal.Decimal, clientOrderID string) (*contracts.BrokerOrder, error)

	// GetOrder retrieves a brokerage order by id
	GetOrder(ctx context.Context, id uuid.UUID) (*contracts.BrokerOrder, error)

	// ClosePosition liquidates the whole position in symbol
	ClosePosition(ctx context.Context, symbol string) (*contracts.BrokerOrder, error)
}

// MarketClock provides the brokerage market clock
type MarketClock interface {
	Clock(ctx context.Context) (*contracts.MarketClock, error)
}

// MockBroker is an in-memory broker that fills every buy at a fixed price
// ⭐ 실제 운영에서는 Alpaca Broker 사용
type MockBroker struct {
	mu        sync.Mutex
	orders    map[uuid.UUID]*contracts.BrokerOrder
	positions map[string]decimal.Decimal
	prices    map[string]decimal.Decimal

	// FillImmediately fills buys on submission; otherwise they stay accepted until Fill
	FillImmediately bool
	// Now is the mock clock
	Now func() time.Time
}

// NewMockBroker creates a new mock broker
func NewMockBroker() *MockBroker {
	return &MockBroker{
		orders:          make(map[uuid.UUID]*contracts.BrokerOrder),
		positions:       make(map[string]decimal.Decimal),
		prices:          make(map[string]decimal.Decimal),
		FillImmediately: true,
		Now:             func() time.Time { return time.Now().UTC() },
	}
}

// SetPrice sets mock price for testing
func (b *MockBroker) SetPrice(symbol string, price decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prices[symbol] = price
}

func (b *MockBroker) price(symbol string) decimal.Decimal {
	if p, ok := b.prices[symbol]; ok {
		return p
	}
	// Default mock price
	return decimal.NewFromInt(100)
}

// SubmitNotionalBuy submits a buy order
func (b *MockBroker) SubmitNotionalBuy(ctx context.Context, symbol string, notional decimal.Decimal, clientOrderID string) (*contracts.BrokerOrder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.Now()
	order := &contracts.BrokerOrder{
		ID:            uuid.New(),
		ClientOrderID: clientOrderID,
		Symbol:        symbol,
		Side:          "buy",
		Status:        contracts.BrokerStatusAccepted,
		Notional:      &notional,
		SubmittedAt:   &now,
	}
	b.orders[order.ID] = order

	if b.FillImmediately {
		b.fill(order, now)
	}

	copied := *order
	return &copied, nil
}

// Fill fills an accepted order at the current mock price
func (b *MockBroker) Fill(id uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	order, ok := b.orders[id]
	if !ok {
		return &mockError{code: http.StatusNotFound, msg: "order not found"}
	}
	b.fill(order, b.Now())
	return nil
}

func (b *MockBroker) fill(order *contracts.BrokerOrder, now time.Time) {
	price := b.price(order.Symbol)
	var qty decimal.Decimal
	if order.Notional != nil {
		qty = order.Notional.Div(price).Round(4)
	} else {
		qty = b.positions[order.Symbol]
	}

	order.Status = contracts.BrokerStatusFilled
	order.FilledQty = &qty
	order.FilledAvgPrice = &price
	order.FilledAt = &now

	if order.Side == "buy" {
		b.positions[order.Symbol] = b.positions[order.Symbol].Add(qty)
	} else {
		delete(b.positions, order.Symbol)
	}
}

// GetOrder retrieves order status
func (b *MockBroker) GetOrder(ctx context.Context, id uuid.UUID) (*contracts.BrokerOrder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	order, ok := b.orders[id]
	if !ok {
		return nil, &mockError{code: http.StatusNotFound, msg: "order not found"}
	}
	copied := *order
	return &copied, nil
}

// ClosePosition sells the whole position; fails with 404 when flat
func (b *MockBroker) ClosePosition(ctx context.Context, symbol string) (*contracts.BrokerOrder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.positions[symbol]; !ok {
		return nil, &mockError{code: http.StatusNotFound, msg: "position does not exist"}
	}

	now := b.Now()
	order := &contracts.BrokerOrder{
		ID:          uuid.New(),
		Symbol:      symbol,
		Side:        "sell",
		Status:      contracts.BrokerStatusAccepted,
		SubmittedAt: &now,
	}
	b.orders[order.ID] = order
	b.fill(order, now)

	copied := *order
	return &copied, nil
}

// Clock returns a clock whose next close is 20:00 UTC today (or tomorrow once passed)
func (b *MockBroker) Clock(ctx context.Context) (*contracts.MarketClock, error) {
	now := b.Now().UTC()
	closeAt := time.Date(now.Year(), now.Month(), now.Day(), 20, 0, 0, 0, time.UTC)
	openAt := time.Date(now.Year(), now.Month(), now.Day(), 13, 30, 0, 0, time.UTC)
	if !now.Before(closeAt) {
		closeAt = closeAt.AddDate(0, 0, 1)
	}
	if !now.Before(openAt) {
		openAt = openAt.AddDate(0, 0, 1)
	}

	return &contracts.MarketClock{
		Timestamp: now,
		IsOpen:    closeAt.Sub(now) < 6*time.Hour+30*time.Minute,
		NextOpen:  openAt,
		NextClose: closeAt,
	}, nil
}

type mockError struct {
	code int
	msg  string
}

func (e *mockError) Error() string {
	return fmt.Sprintf("mock broker: %d %s", e.code, e.msg)
}

func (e *mockError) StatusCode() int {
	return e.code
}
