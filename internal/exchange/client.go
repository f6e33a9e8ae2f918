// Package exchange implements the Kalshi trade-api/v2 REST client.
//
// The client covers the endpoints the bot needs:
//   - GetBalance:        GET    /portfolio/balance
//   - GetPositions:      GET    /portfolio/positions
//   - GetFills:          GET    /portfolio/fills
//   - GetMarket:         GET    /markets/{ticker}
//   - GetOrderbook:      GET    /markets/{ticker}/orderbook
//   - GetOrders:         GET    /portfolio/orders
//   - CreateOrder:       POST   /portfolio/orders
//   - CancelOrder:       DELETE /portfolio/orders/{id}
//   - BatchCancelOrders: DELETE /portfolio/orders/batched — up to 20 IDs
//
// Every request is rate-limited via per-category TokenBuckets, automatically
// retried on 5xx errors, and signed with RSA-PSS auth headers.
package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"kalshi-mm/pkg/types"
)

const apiPrefix = "/trade-api/v2"

// Client is the Kalshi REST API client.
// It wraps a resty HTTP client with rate limiting, retry, and auth.
type Client struct {
	http   *resty.Client
	auth   *Auth
	rl     *RateLimiter
	logger *slog.Logger
}

// NewClient creates a REST client with rate limiting and retry.
// baseURL is the API host without the /trade-api/v2 prefix.
func NewClient(baseURL string, auth *Auth, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL + apiPrefix).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   httpClient,
		auth:   auth,
		rl:     NewRateLimiter(),
		logger: logger,
	}
}

// request builds a signed request. path is relative to /trade-api/v2 and
// must not include a query string; the signature covers the prefixed path.
func (c *Client) request(ctx context.Context, method, path string) (*resty.Request, error) {
	headers, err := c.auth.Headers(method, apiPrefix+path)
	if err != nil {
		return nil, err
	}
	return c.http.R().SetContext(ctx).SetHeaders(headers), nil
}

func checkStatus(resp *resty.Response, op string) error {
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return fmt.Errorf("%s: status %d: %s", op, resp.StatusCode(), resp.String())
	}
	return nil
}

// GetBalance fetches the account's available balance and portfolio value.
func (c *Client) GetBalance(ctx context.Context) (*types.Balance, error) {
	if err := c.rl.Read.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := c.request(ctx, http.MethodGet, "/portfolio/balance")
	if err != nil {
		return nil, err
	}

	var result types.Balance
	resp, err := req.SetResult(&result).Get("/portfolio/balance")
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	if err := checkStatus(resp, "get balance"); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetPositions fetches all per-market positions.
func (c *Client) GetPositions(ctx context.Context) ([]types.MarketPosition, error) {
	if err := c.rl.Read.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := c.request(ctx, http.MethodGet, "/portfolio/positions")
	if err != nil {
		return nil, err
	}

	var result struct {
		MarketPositions []types.MarketPosition `json:"market_positions"`
	}
	resp, err := req.SetResult(&result).Get("/portfolio/positions")
	if err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}
	if err := checkStatus(resp, "get positions"); err != nil {
		return nil, err
	}
	return result.MarketPositions, nil
}

// GetFills fetches recent fills, newest first. minTS is an epoch-seconds
// lower bound; zero means no bound. limit caps the page size.
func (c *Client) GetFills(ctx context.Context, minTS int64, limit int) ([]types.Fill, error) {
	if err := c.rl.Read.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := c.request(ctx, http.MethodGet, "/portfolio/fills")
	if err != nil {
		return nil, err
	}
	if minTS > 0 {
		req.SetQueryParam("min_ts", strconv.FormatInt(minTS, 10))
	}
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}

	var result struct {
		Fills []types.Fill `json:"fills"`
	}
	resp, err := req.SetResult(&result).Get("/portfolio/fills")
	if err != nil {
		return nil, fmt.Errorf("get fills: %w", err)
	}
	if err := checkStatus(resp, "get fills"); err != nil {
		return nil, err
	}
	return result.Fills, nil
}

// GetMarket fetches the top-of-book snapshot for one market.
func (c *Client) GetMarket(ctx context.Context, ticker string) (*types.Market, error) {
	if err := c.rl.Read.Wait(ctx); err != nil {
		return nil, err
	}
	path := "/markets/" + ticker
	req, err := c.request(ctx, http.MethodGet, path)
	if err != nil {
		return nil, err
	}

	var result struct {
		Market types.Market `json:"market"`
	}
	resp, err := req.SetResult(&result).Get(path)
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", ticker, err)
	}
	if err := checkStatus(resp, "get market"); err != nil {
		return nil, err
	}
	return &result.Market, nil
}

// GetOrderbook fetches the order book for one market to the given depth.
func (c *Client) GetOrderbook(ctx context.Context, ticker string, depth int) (*types.Orderbook, error) {
	if err := c.rl.Read.Wait(ctx); err != nil {
		return nil, err
	}
	path := "/markets/" + ticker + "/orderbook"
	req, err := c.request(ctx, http.MethodGet, path)
	if err != nil {
		return nil, err
	}
	if depth > 0 {
		req.SetQueryParam("depth", strconv.Itoa(depth))
	}

	var result struct {
		Orderbook types.Orderbook `json:"orderbook"`
	}
	resp, err := req.SetResult(&result).Get(path)
	if err != nil {
		return nil, fmt.Errorf("get orderbook %s: %w", ticker, err)
	}
	if err := checkStatus(resp, "get orderbook"); err != nil {
		return nil, err
	}
	return &result.Orderbook, nil
}

// GetOrders fetches the account's orders, optionally filtered by ticker and
// status ("resting" for open orders).
func (c *Client) GetOrders(ctx context.Context, ticker, status string) ([]types.Order, error) {
	if err := c.rl.Read.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := c.request(ctx, http.MethodGet, "/portfolio/orders")
	if err != nil {
		return nil, err
	}
	if ticker != "" {
		req.SetQueryParam("ticker", ticker)
	}
	if status != "" {
		req.SetQueryParam("status", status)
	}

	var result struct {
		Orders []types.Order `json:"orders"`
	}
	resp, err := req.SetResult(&result).Get("/portfolio/orders")
	if err != nil {
		return nil, fmt.Errorf("get orders: %w", err)
	}
	if err := checkStatus(resp, "get orders"); err != nil {
		return nil, err
	}
	return result.Orders, nil
}

// CreateOrder places a single limit order.
func (c *Client) CreateOrder(ctx context.Context, order types.OrderRequest) (*types.Order, error) {
	if err := c.rl.Order.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := c.request(ctx, http.MethodPost, "/portfolio/orders")
	if err != nil {
		return nil, err
	}

	var result struct {
		Order types.Order `json:"order"`
	}
	resp, err := req.SetBody(order).SetResult(&result).Post("/portfolio/orders")
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	if err := checkStatus(resp, "create order"); err != nil {
		return nil, err
	}

	c.logger.Info("order placed",
		"order_id", result.Order.OrderID,
		"ticker", order.Ticker,
		"action", order.Action,
		"side", order.Side,
		"count", order.Count)
	return &result.Order, nil
}

// CancelOrder cancels a single order by ID.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}
	path := "/portfolio/orders/" + orderID
	req, err := c.request(ctx, http.MethodDelete, path)
	if err != nil {
		return err
	}

	resp, err := req.Delete(path)
	if err != nil {
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	if err := checkStatus(resp, "cancel order"); err != nil {
		return err
	}
	return nil
}

// BatchCancelOrders cancels up to 20 orders in one request.
// Larger sets must be chunked by the caller.
func (c *Client) BatchCancelOrders(ctx context.Context, orderIDs []string) error {
	if len(orderIDs) == 0 {
		return nil
	}
	if len(orderIDs) > 20 {
		return fmt.Errorf("batch cancel limit is 20 orders, got %d", len(orderIDs))
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}
	req, err := c.request(ctx, http.MethodDelete, "/portfolio/orders/batched")
	if err != nil {
		return err
	}

	payload := struct {
		IDs []string `json:"ids"`
	}{IDs: orderIDs}

	resp, err := req.SetBody(payload).Delete("/portfolio/orders/batched")
	if err != nil {
		return fmt.Errorf("batch cancel: %w", err)
	}
	if err := checkStatus(resp, "batch cancel"); err != nil {
		return err
	}

	c.logger.Info("orders cancelled", "count", len(orderIDs))
	return nil
}
