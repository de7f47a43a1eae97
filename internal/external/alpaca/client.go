package alpaca

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/wonny/orderdesk/backend/pkg/config"
	"github.com/wonny/orderdesk/backend/pkg/httputil"
	"github.com/wonny/orderdesk/backend/pkg/logger"
)

// RequestRecorder observes every REST call
type RequestRecorder interface {
	RecordBrokerRequest(endpoint, status string, elapsed time.Duration)
}

// Client handles communication with the Alpaca trading API
// ⭐ SSOT: Alpaca API 호출은 이 클라이언트에서만
type Client struct {
	httpClient *httputil.Client
	logger     *logger.Logger
	cfg        config.AlpacaConfig
	recorder   RequestRecorder
}

// NewClient creates a new Alpaca API client.
// The http client is throttled to cfg.RateLimit requests per minute.
func NewClient(cfg config.AlpacaConfig, httpClient *httputil.Client, log *logger.Logger) *Client {
	if cfg.RateLimit > 0 {
		httpClient.WithRateLimiter(httputil.PerMinute(cfg.RateLimit))
	}
	return &Client{
		httpClient: httpClient,
		logger:     log,
		cfg:        cfg,
	}
}

// WithRecorder sets the request metrics recorder
func (c *Client) WithRecorder(r RequestRecorder) *Client {
	c.recorder = r
	return c
}

// request makes an authenticated request and decodes a JSON response into out.
// Non-2xx responses are returned as *APIError.
func (c *Client) request(ctx context.Context, endpoint, method, path string, body interface{}, once bool, out interface{}) error {
	url := strings.TrimRight(c.cfg.BaseURL, "/") + path

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

	// Set required headers
	req.Header.Set("APCA-API-KEY-ID", c.cfg.APIKey)
	req.Header.Set("APCA-API-SECRET-KEY", c.cfg.SecretKey)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	var resp *http.Response
	if once {
		resp, err = c.httpClient.DoOnce(req)
	} else {
		resp, err = c.httpClient.Do(req)
	}
	if err != nil {
		c.record(endpoint, "error", start)
		return fmt.Errorf("%s request: %w", endpoint, err)
	}
	defer resp.Body.Close()
	c.record(endpoint, strconv.Itoa(resp.StatusCode), start)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if jsonErr := json.Unmarshal(respBody, apiErr); jsonErr != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(respBody))
		}
		c.logger.WithFields(map[string]interface{}{
			"endpoint": endpoint,
			"status":   resp.StatusCode,
			"code":     apiErr.Code,
		}).Warn("Alpaca API error")
		return apiErr
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

func (c *Client) record(endpoint, status string, start time.Time) {
	if c.recorder != nil {
		c.recorder.RecordBrokerRequest(endpoint, status, time.Since(start))
	}
}
