package alpaca

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wonny/orderdesk/backend/internal/contracts"
)

// SubmitNotionalBuy submits a market DAY buy for a dollar amount.
// Submission is never retried; the client order id makes a manual retry safe.
func (c *Client) SubmitNotionalBuy(ctx context.Context, symbol string, notional decimal.Decimal, clientOrderID string) (*contracts.BrokerOrder, error) {
	body := orderRequest{
		Symbol:        symbol,
		Notional:      &notional,
		Side:          "buy",
		Type:          "market",
		TimeInForce:   "day",
		ClientOrderID: clientOrderID,
	}

	var order Order
	if err := c.request(ctx, "submit_order", http.MethodPost, "/v2/orders", body, true, &order); err != nil {
		return nil, err
	}

	c.logger.WithFields(map[string]interface{}{
		"symbol":          symbol,
		"notional":        notional.String(),
		"broker_order_id": order.ID.String(),
		"status":          order.Status,
	}).Info("Alpaca buy order submitted")

	return order.toContract(), nil
}

// GetOrder retrieves an order by id; fills are rounded to 4 decimal places
func (c *Client) GetOrder(ctx context.Context, id uuid.UUID) (*contracts.BrokerOrder, error) {
	var order Order
	if err := c.request(ctx, "get_order", http.MethodGet, "/v2/orders/"+id.String(), nil, false, &order); err != nil {
		return nil, err
	}
	return order.toContract(), nil
}

// ClosePosition liquidates the whole position in symbol with a market order
func (c *Client) ClosePosition(ctx context.Context, symbol string) (*contracts.BrokerOrder, error) {
	if symbol == "" {
		return nil, fmt.Errorf("close position: empty symbol")
	}

	var order Order
	path := "/v2/positions/" + url.PathEscape(symbol)
	if err := c.request(ctx, "close_position", http.MethodDelete, path, nil, true, &order); err != nil {
		return nil, err
	}

	c.logger.WithFields(map[string]interface{}{
		"symbol":          symbol,
		"broker_order_id": order.ID.String(),
	}).Info("Alpaca position close submitted")

	return order.toContract(), nil
}
