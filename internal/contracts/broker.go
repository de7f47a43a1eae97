package contracts

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BrokerOrderStatus is the brokerage-side order status
type BrokerOrderStatus string

const (
	BrokerStatusNew             BrokerOrderStatus = "new"
	BrokerStatusPendingNew      BrokerOrderStatus = "pending_new"
	BrokerStatusAccepted        BrokerOrderStatus = "accepted"
	BrokerStatusPartiallyFilled BrokerOrderStatus = "partially_filled"
	BrokerStatusFilled          BrokerOrderStatus = "filled"
	BrokerStatusCanceled        BrokerOrderStatus = "canceled"
	BrokerStatusExpired         BrokerOrderStatus = "expired"
	BrokerStatusRejected        BrokerOrderStatus = "rejected"
)

// IsAccepted reports whether the brokerage is working the order but it is not yet filled
func (s BrokerOrderStatus) IsAccepted() bool {
	switch s {
	case BrokerStatusNew, BrokerStatusAccepted, BrokerStatusPartiallyFilled:
		return true
	}
	return false
}

// BrokerOrder is an order as reported by the brokerage
// ⭐ SSOT: 브로커 → 주문 서비스 체결 정보 전달
type BrokerOrder struct {
	ID             uuid.UUID         `json:"id"`
	ClientOrderID  string            `json:"client_order_id"`
	Symbol         string            `json:"symbol"`
	Side           string            `json:"side"`
	Status         BrokerOrderStatus `json:"status"`
	Notional       *decimal.Decimal  `json:"notional,omitempty"`
	FilledQty      *decimal.Decimal  `json:"filled_qty,omitempty"`
	FilledAvgPrice *decimal.Decimal  `json:"filled_avg_price,omitempty"`
	SubmittedAt    *time.Time        `json:"submitted_at,omitempty"`
	FilledAt       *time.Time        `json:"filled_at,omitempty"`
}

// IsFilled checks if the order is fully filled
func (o *BrokerOrder) IsFilled() bool {
	return o.Status == BrokerStatusFilled
}

// MarketClock is the brokerage market clock, all times in UTC
type MarketClock struct {
	Timestamp time.Time `json:"timestamp"`
	IsOpen    bool      `json:"is_open"`
	NextOpen  time.Time `json:"next_open"`
	NextClose time.Time `json:"next_close"`
}

// IsTimePassed reports whether the clock has reached t
func (c *MarketClock) IsTimePassed(t time.Time) bool {
	return !c.Timestamp.Before(t)
}

// IsNextCloseToday reports whether the next close falls on the clock's current UTC date
func (c *MarketClock) IsNextCloseToday() bool {
	return sameDate(c.Timestamp.UTC(), c.NextClose.UTC())
}

// IsNextOpenToday reports whether the next open falls on the clock's current UTC date
func (c *MarketClock) IsNextOpenToday() bool {
	return sameDate(c.Timestamp.UTC(), c.NextOpen.UTC())
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
