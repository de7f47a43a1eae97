package alpaca

import (
	"context"
	"net/http"

	"github.com/wonny/orderdesk/backend/internal/contracts"
)

// Clock returns the market clock in UTC
func (c *Client) Clock(ctx context.Context) (*contracts.MarketClock, error) {
	var clock Clock
	if err := c.request(ctx, "get_clock", http.MethodGet, "/v2/clock", nil, false, &clock); err != nil {
		return nil, err
	}
	return clock.toContract(), nil
}
