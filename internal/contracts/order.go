package contracts

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order is one trading order as stored by the order service
// ⭐ SSOT: 주문 레코드의 정규 형태
type Order struct {
	ID     int64           `json:"id"`
	Symbol string          `json:"symbol"`
	Amount decimal.Decimal `json:"amount"` // dollars requested to invest

	Quantity *decimal.Decimal `json:"quantity,omitempty"` // shares actually acquired

	// Brokerage identifiers
	AlpacaBuyOrderID    *uuid.UUID `json:"alpaca_buy_order_id,omitempty"`
	AlpacaSellOrderID   *uuid.UUID `json:"alpaca_sell_order_id,omitempty"`
	AlpacaClientOrderID *string    `json:"alpaca_client_order_id,omitempty"`

	// Fills
	BuyFilledQty       *decimal.Decimal `json:"buy_filled_qty,omitempty"`
	BuyFilledAvgPrice  *decimal.Decimal `json:"buy_filled_avg_price,omitempty"`
	SellFilledQty      *decimal.Decimal `json:"sell_filled_qty,omitempty"`
	SellFilledAvgPrice *decimal.Decimal `json:"sell_filled_avg_price,omitempty"`

	// Exit rules, set on buy fill
	ForceSellAt       *time.Time       `json:"force_sell_at,omitempty"`
	TargetProfitPrice *decimal.Decimal `json:"target_profit_price,omitempty"`
	StopLossPrice     *decimal.Decimal `json:"stop_loss_price,omitempty"`

	Status       LifecycleStatus `json:"status"`
	ErrorMessage *string         `json:"error_message,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	FilledAt  *time.Time `json:"filled_at,omitempty"`
	SoldAt    *time.Time `json:"sold_at,omitempty"`

	// Soft delete
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	DeletedBy *string    `json:"deleted_by,omitempty"`
}

// IsDeleted reports whether the order was soft-deleted
func (o *Order) IsDeleted() bool {
	return o.DeletedAt != nil
}

// OrderCreate is a validated request to open a new order
type OrderCreate struct {
	Symbol string          `json:"symbol"`
	Amount decimal.Decimal `json:"amount"`
}

// LifecycleStatus is the persisted state of an order's buy/sell legs
type LifecycleStatus string

const (
	LifecycleNew            LifecycleStatus = "new"
	LifecycleBuyPendingNew  LifecycleStatus = "buy_pending_new"
	LifecycleBuyAccepted    LifecycleStatus = "buy_accepted"
	LifecycleBuyFilled      LifecycleStatus = "buy_filled"
	LifecycleSellPendingNew LifecycleStatus = "sell_pending_new"
	LifecycleSellAccepted   LifecycleStatus = "sell_accepted"
	LifecycleSellFilled     LifecycleStatus = "sell_filled"
	LifecycleSellFailed     LifecycleStatus = "sell_failed"
)

// IsTerminal reports whether no further sync can change the order
func (s LifecycleStatus) IsTerminal() bool {
	return s == LifecycleSellFilled || s == LifecycleSellFailed
}

// DisplayStatus is the user-facing status derived from fill fields
type DisplayStatus string

const (
	DisplayCompleted DisplayStatus = "Completed"
	DisplayBuyFilled DisplayStatus = "Buy Filled"
	DisplayActive    DisplayStatus = "Active"
	DisplayPending   DisplayStatus = "Pending"
)
