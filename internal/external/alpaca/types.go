package alpaca

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wonny/orderdesk/backend/internal/contracts"
)

// APIError is a non-2xx response from the Alpaca REST API
type APIError struct {
	Status  int    `json:"-"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("alpaca API error %d (code %d): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("alpaca API error %d: %s", e.Status, e.Message)
}

// StatusCode returns the HTTP status of the failed call
func (e *APIError) StatusCode() int {
	return e.Status
}

// orderRequest is the body of POST /v2/orders
type orderRequest struct {
	Symbol        string           `json:"symbol"`
	Notional      *decimal.Decimal `json:"notional,omitempty"`
	Qty           *decimal.Decimal `json:"qty,omitempty"`
	Side          string           `json:"side"`
	Type          string           `json:"type"`
	TimeInForce   string           `json:"time_in_force"`
	ClientOrderID string           `json:"client_order_id,omitempty"`
}

// Order is the Alpaca order entity
type Order struct {
	ID             uuid.UUID        `json:"id"`
	ClientOrderID  string           `json:"client_order_id"`
	Symbol         string           `json:"symbol"`
	Side           string           `json:"side"`
	Type           string           `json:"type"`
	Status         string           `json:"status"`
	Notional       *decimal.Decimal `json:"notional"`
	Qty            *decimal.Decimal `json:"qty"`
	FilledQty      *decimal.Decimal `json:"filled_qty"`
	FilledAvgPrice *decimal.Decimal `json:"filled_avg_price"`
	SubmittedAt    *time.Time       `json:"submitted_at"`
	FilledAt       *time.Time       `json:"filled_at"`
}

// fillScale is the precision kept for fill quantity and price
const fillScale = 4

// toContract converts to the shared broker order, rounding fills to 4 places
func (o *Order) toContract() *contracts.BrokerOrder {
	out := &contracts.BrokerOrder{
		ID:            o.ID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          o.Side,
		Status:        contracts.BrokerOrderStatus(o.Status),
		Notional:      o.Notional,
		SubmittedAt:   o.SubmittedAt,
		FilledAt:      o.FilledAt,
	}
	if o.FilledQty != nil {
		qty := o.FilledQty.Round(fillScale)
		out.FilledQty = &qty
	}
	if o.FilledAvgPrice != nil {
		price := o.FilledAvgPrice.Round(fillScale)
		out.FilledAvgPrice = &price
	}
	return out
}

// Clock is the response of GET /v2/clock
type Clock struct {
	Timestamp time.Time `json:"timestamp"`
	IsOpen    bool      `json:"is_open"`
	NextOpen  time.Time `json:"next_open"`
	NextClose time.Time `json:"next_close"`
}

func (c *Clock) toContract() *contracts.MarketClock {
	return &contracts.MarketClock{
		Timestamp: c.Timestamp.UTC(),
		IsOpen:    c.IsOpen,
		NextOpen:  c.NextOpen.UTC(),
		NextClose: c.NextClose.UTC(),
	}
}

// TradeUpdate is one event on the trade_updates stream
type TradeUpdate struct {
	Event       string           `json:"event"` // new, fill, partial_fill, canceled, expired, rejected...
	ExecutionID string           `json:"execution_id,omitempty"`
	Timestamp   *time.Time       `json:"timestamp,omitempty"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	Qty         *decimal.Decimal `json:"qty,omitempty"`
	Order       Order            `json:"order"`
}

// BrokerOrder returns the update's order in the shared form
func (u *TradeUpdate) BrokerOrder() *contracts.BrokerOrder {
	return u.Order.toContract()
}

// stream wire messages
type streamMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type authRequest struct {
	Action string `json:"action"`
	Key    string `json:"key"`
	Secret string `json:"secret"`
}

type authResponse struct {
	Status string `json:"status"`
	Action string `json:"action"`
}

type listenRequest struct {
	Action string     `json:"action"`
	Data   listenData `json:"data"`
}

type listenData struct {
	Streams []string `json:"streams"`
}
