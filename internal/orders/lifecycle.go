package orders

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wonny/orderdesk/backend/internal/contracts"
)

// lifecycle events
type event string

const (
	eventBuySubmitted  event = "buy_submitted"
	eventBuyAccepted   event = "buy_accepted"
	eventBuyFilled     event = "buy_filled"
	eventSellSubmitted event = "sell_submitted"
	eventSellAccepted  event = "sell_accepted"
	eventSellFilled    event = "sell_filled"
	eventSellFailed    event = "sell_failed"
)

// transitions: source status → event → destination status
// new → buy_pending_new → buy_accepted → buy_filled → sell_pending_new → sell_accepted → sell_filled
// buy_filled → sell_failed
var transitions = map[contracts.LifecycleStatus]map[event]contracts.LifecycleStatus{
	contracts.LifecycleNew: {
		eventBuySubmitted: contracts.LifecycleBuyPendingNew,
	},
	contracts.LifecycleBuyPendingNew: {
		eventBuyAccepted: contracts.LifecycleBuyAccepted,
	},
	contracts.LifecycleBuyAccepted: {
		eventBuyFilled: contracts.LifecycleBuyFilled,
	},
	contracts.LifecycleBuyFilled: {
		eventSellSubmitted: contracts.LifecycleSellPendingNew,
		eventSellFailed:    contracts.LifecycleSellFailed,
	},
	contracts.LifecycleSellPendingNew: {
		eventSellAccepted: contracts.LifecycleSellAccepted,
	},
	contracts.LifecycleSellAccepted: {
		eventSellFilled: contracts.LifecycleSellFilled,
	},
}

// next returns the destination for ev or ErrInvalidTransition
func next(o *contracts.Order, ev event) (contracts.LifecycleStatus, error) {
	status := o.Status
	if status == "" {
		status = contracts.LifecycleNew
	}
	dest, ok := transitions[status][ev]
	if !ok {
		return "", fmt.Errorf("%w: %s from %s", ErrInvalidTransition, ev, status)
	}
	return dest, nil
}

// ExitPolicy sets the sell rules applied when a buy fills
type ExitPolicy struct {
	ForceSellLead   time.Duration   // sell this long before market close
	TargetProfitPct decimal.Decimal // percent above the buy average
	StopLossPct     decimal.Decimal // percent below the buy average
}

// DefaultExitPolicy: force sell 30 minutes before close, ±5% targets
func DefaultExitPolicy() ExitPolicy {
	return ExitPolicy{
		ForceSellLead:   30 * time.Minute,
		TargetProfitPct: decimal.NewFromInt(5),
		StopLossPct:     decimal.NewFromInt(5),
	}
}

var hundred = decimal.NewFromInt(100)

// BuySubmitted records the brokerage buy order
func BuySubmitted(o *contracts.Order, brokerOrderID uuid.UUID, clientOrderID string) error {
	dest, err := next(o, eventBuySubmitted)
	if err != nil {
		return err
	}

	o.AlpacaBuyOrderID = &brokerOrderID
	if clientOrderID != "" {
		o.AlpacaClientOrderID = &clientOrderID
	}
	o.Status = dest
	return nil
}

// BuyAccepted records that the brokerage accepted the buy order
func BuyAccepted(o *contracts.Order) error {
	dest, err := next(o, eventBuyAccepted)
	if err != nil {
		return err
	}
	o.Status = dest
	return nil
}

// BuyFilled records the buy fill and derives the exit rules.
// From buy_pending_new the order passes through buy_accepted implicitly.
func BuyFilled(o *contracts.Order, avgPrice, qty decimal.Decimal, marketCloseAt, now time.Time, policy ExitPolicy) error {
	if o.AlpacaBuyOrderID == nil {
		return fmt.Errorf("%w: buy fill without brokerage buy order", ErrInvalidTransition)
	}
	if o.Status == contracts.LifecycleBuyPendingNew {
		if err := BuyAccepted(o); err != nil {
			return err
		}
	}

	dest, err := next(o, eventBuyFilled)
	if err != nil {
		return err
	}

	forceSellAt := marketCloseAt.Add(-policy.ForceSellLead)
	target := avgPrice.Mul(decimal.NewFromInt(1).Add(policy.TargetProfitPct.Div(hundred)))
	stop := avgPrice.Mul(decimal.NewFromInt(1).Sub(policy.StopLossPct.Div(hundred)))

	o.BuyFilledAvgPrice = &avgPrice
	o.BuyFilledQty = &qty
	o.Quantity = &qty
	o.ForceSellAt = &forceSellAt
	o.TargetProfitPrice = &target
	o.StopLossPrice = &stop
	o.FilledAt = &now
	o.Status = dest
	return nil
}

// SellSubmitted records the liquidation order
func SellSubmitted(o *contracts.Order, brokerOrderID uuid.UUID) error {
	dest, err := next(o, eventSellSubmitted)
	if err != nil {
		return err
	}

	o.AlpacaSellOrderID = &brokerOrderID
	o.Status = dest
	return nil
}

// SellAccepted records that the brokerage accepted the sell order
func SellAccepted(o *contracts.Order) error {
	dest, err := next(o, eventSellAccepted)
	if err != nil {
		return err
	}
	o.Status = dest
	return nil
}

// SellFilled records the sell fill.
// From sell_pending_new the order passes through sell_accepted implicitly.
func SellFilled(o *contracts.Order, avgPrice, qty decimal.Decimal, now time.Time) error {
	if o.BuyFilledQty == nil {
		return fmt.Errorf("%w: sell fill before buy fill", ErrInvalidTransition)
	}
	if o.Status == contracts.LifecycleSellPendingNew {
		if err := SellAccepted(o); err != nil {
			return err
		}
	}

	dest, err := next(o, eventSellFilled)
	if err != nil {
		return err
	}

	o.SellFilledAvgPrice = &avgPrice
	o.SellFilledQty = &qty
	o.SoldAt = &now
	o.Status = dest
	return nil
}

// SellFailed records a rejected liquidation
func SellFailed(o *contracts.Order, reason string) error {
	dest, err := next(o, eventSellFailed)
	if err != nil {
		return err
	}

	if reason != "" {
		o.ErrorMessage = &reason
	}
	o.Status = dest
	return nil
}
