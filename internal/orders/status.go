package orders

import "github.com/wonny/orderdesk/backend/internal/contracts"

// Classify derives the display status of an order from its fill fields.
// First match wins: fills take precedence over brokerage submission.
// A nil order is Pending.
func Classify(o *contracts.Order) contracts.DisplayStatus {
	if o == nil {
		return contracts.DisplayPending
	}

	switch {
	case o.BuyFilledQty != nil && o.SellFilledQty != nil:
		return contracts.DisplayCompleted
	case o.BuyFilledQty != nil:
		return contracts.DisplayBuyFilled
	case o.AlpacaBuyOrderID != nil:
		return contracts.DisplayActive
	default:
		return contracts.DisplayPending
	}
}
