package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/wonny/orderdesk/backend/internal/contracts"
	"github.com/wonny/orderdesk/backend/internal/orders"
	"github.com/wonny/orderdesk/backend/pkg/httputil"
	"github.com/wonny/orderdesk/backend/pkg/logger"
)

// StatusError is a non-2xx reply from the order API
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("order api: status %d", e.Status)
	}
	return fmt.Sprintf("order api: status %d: %s", e.Status, e.Message)
}

// StatusCode implements orders.StatusError
func (e *StatusError) StatusCode() int {
	return e.Status
}

// Client talks to a running order API server.
// It is the remote collaborator behind the terminal view.
type Client struct {
	baseURL    string
	httpClient *httputil.Client
	logger     *logger.Logger
}

// New creates a new API client
func New(baseURL string, httpClient *httputil.Client, log *logger.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     log,
	}
}

// List returns alive orders, newest first
func (c *Client) List(ctx context.Context) ([]*contracts.Order, error) {
	var list []*contracts.Order
	if err := c.call(ctx, http.MethodGet, "/api/orders", nil, false, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Get returns one order
func (c *Client) Get(ctx context.Context, id int64) (*contracts.Order, error) {
	var o contracts.Order
	if err := c.call(ctx, http.MethodGet, fmt.Sprintf("/api/orders/%d", id), nil, false, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// Create places a new order; a 422 reply becomes orders.ValidationErrors
func (c *Client) Create(ctx context.Context, in contracts.OrderCreate) (*contracts.Order, error) {
	body := map[string]interface{}{
		"symbol": in.Symbol,
		"amount": json.Number(in.Amount.String()),
	}

	var o contracts.Order
	if err := c.call(ctx, http.MethodPost, "/api/orders", body, true, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// Sync asks the server to reconcile one order
func (c *Client) Sync(ctx context.Context, id int64) (*contracts.Order, error) {
	var resp struct {
		Order *contracts.Order `json:"order"`
	}
	if err := c.call(ctx, http.MethodPost, fmt.Sprintf("/api/orders/%d/sync", id), nil, true, &resp); err != nil {
		return nil, err
	}
	return resp.Order, nil
}

// Delete asks the server to delete one order
func (c *Client) Delete(ctx context.Context, id int64) error {
	return c.call(ctx, http.MethodDelete, fmt.Sprintf("/api/orders/%d", id), nil, true, nil)
}

// SyncAll asks the server to reconcile every open order
func (c *Client) SyncAll(ctx context.Context) (*orders.SyncSummary, error) {
	var summary orders.SyncSummary
	if err := c.call(ctx, http.MethodPost, "/api/orders/sync", nil, true, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// NextCloseDate returns the next market close date (YYYY-MM-DD)
func (c *Client) NextCloseDate(ctx context.Context) (string, error) {
	var resp struct {
		Date string `json:"date"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/market/next_close_date", nil, false, &resp); err != nil {
		return "", err
	}
	return resp.Date, nil
}

// IsNextCloseToday reports whether the market closes today
func (c *Client) IsNextCloseToday(ctx context.Context) (bool, error) {
	var today bool
	if err := c.call(ctx, http.MethodGet, "/api/market/is_next_close_today", nil, false, &today); err != nil {
		return false, err
	}
	return today, nil
}

// call sends one request; once disables retries for state-changing calls
func (c *Client) call(ctx context.Context, method, path string, body interface{}, once bool, out interface{}) error {
	url := c.baseURL + path

	var req *http.Request
	var err error
	if body != nil {
		req, err = httputil.NewJSONRequest(ctx, method, url, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, url, nil)
	}
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	var resp *http.Response
	if once {
		resp, err = c.httpClient.DoOnce(req)
	} else {
		resp, err = c.httpClient.Do(req)
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp.StatusCode, data)
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeError maps an error reply to ValidationErrors, ErrNotFound or *StatusError
func decodeError(status int, data []byte) error {
	var body struct {
		Error   string                  `json:"error"`
		Message string                  `json:"message"`
		Errors  orders.ValidationErrors `json:"errors"`
	}
	_ = json.Unmarshal(data, &body)

	if status == http.StatusUnprocessableEntity && len(body.Errors) > 0 {
		return body.Errors
	}

	msg := body.Error
	if msg == "" {
		msg = body.Message
	}
	if msg == "" {
		msg = strings.TrimSpace(string(data))
	}

	se := &StatusError{Status: status, Message: msg}
	if status == http.StatusNotFound {
		return fmt.Errorf("%w: %s", orders.ErrNotFound, se.Error())
	}
	return se
}
