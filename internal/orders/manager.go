// Package orders is the thin order-management layer between the quoter and
// the exchange client.
//
// The exchange is the source of truth for order state; the Manager keeps only
// a small cache of orders it placed, used as a fallback when the orders
// endpoint lags behind a just-placed order (eventual consistency).
package orders

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"kalshi-mm/pkg/types"
)

const (
	batchCancelLimit = 20

	// Eventual-consistency retry schedule for the orders endpoint.
	refreshAttempts    = 3
	refreshInitialWait = 500 * time.Millisecond
	refreshBackoff     = 1.5
)

// ExchangeClient is the slice of the REST client the manager needs.
type ExchangeClient interface {
	CreateOrder(ctx context.Context, order types.OrderRequest) (*types.Order, error)
	CancelOrder(ctx context.Context, orderID string) error
	BatchCancelOrders(ctx context.Context, orderIDs []string) error
	GetOrders(ctx context.Context, ticker, status string) ([]types.Order, error)
}

// Manager places and cancels orders. It enforces no risk — callers gate
// before placing.
type Manager struct {
	client ExchangeClient
	logger *slog.Logger

	mu     sync.Mutex
	placed map[string]types.Order // orders this process placed, by order ID
}

// NewManager creates an order manager over client.
func NewManager(client ExchangeClient, logger *slog.Logger) *Manager {
	return &Manager{
		client: client,
		logger: logger.With("component", "orders"),
		placed: make(map[string]types.Order),
	}
}

// Place submits a limit order and returns the exchange-assigned order ID.
// The price is on the order's own side: yes_price for YES, no_price for NO.
func (m *Manager) Place(ctx context.Context, ticker string, action types.Action, side types.Side, priceCents, count int) (string, error) {
	req := types.OrderRequest{
		Ticker:        ticker,
		ClientOrderID: uuid.NewString(),
		Action:        action,
		Side:          side,
		Type:          types.OrderTypeLimit,
		Count:         count,
	}
	if side == types.SideYes {
		req.YesPrice = priceCents
	} else {
		req.NoPrice = priceCents
	}

	order, err := m.client.CreateOrder(ctx, req)
	if err != nil {
		return "", fmt.Errorf("place order: %w", err)
	}

	m.mu.Lock()
	m.placed[order.OrderID] = *order
	m.mu.Unlock()
	return order.OrderID, nil
}

// Cancel cancels a single order. Double-cancel surfaces as an error from the
// exchange but leaves equivalent state; the local cache entry is dropped
// either way.
func (m *Manager) Cancel(ctx context.Context, orderID string) error {
	m.mu.Lock()
	delete(m.placed, orderID)
	m.mu.Unlock()

	if err := m.client.CancelOrder(ctx, orderID); err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	return nil
}

// CancelBatch cancels orders in groups of at most 20. A failed group fails
// the whole call; there is no partial-success accounting.
func (m *Manager) CancelBatch(ctx context.Context, orderIDs []string) error {
	m.mu.Lock()
	for _, id := range orderIDs {
		delete(m.placed, id)
	}
	m.mu.Unlock()

	for start := 0; start < len(orderIDs); start += batchCancelLimit {
		end := min(start+batchCancelLimit, len(orderIDs))
		if err := m.client.BatchCancelOrders(ctx, orderIDs[start:end]); err != nil {
			return fmt.Errorf("batch cancel [%d:%d]: %w", start, end, err)
		}
	}
	return nil
}

// Refresh returns the resting orders for a ticker.
//
// The orders endpoint can lag a just-placed order: if it returns empty while
// the local cache expects resting orders, retry with backoff and finally fall
// back to the cache.
func (m *Manager) Refresh(ctx context.Context, ticker string) ([]types.Order, error) {
	wait := refreshInitialWait
	for attempt := 1; ; attempt++ {
		orders, err := m.client.GetOrders(ctx, ticker, string(types.StatusResting))
		if err != nil {
			return nil, fmt.Errorf("refresh orders: %w", err)
		}

		if len(orders) > 0 || !m.expectsOrders(ticker) {
			m.reconcile(ticker, orders)
			return orders, nil
		}
		if attempt >= refreshAttempts {
			cached := m.cachedOrders(ticker)
			m.logger.Warn("orders endpoint empty, using local cache",
				"ticker", ticker, "cached", len(cached))
			return cached, nil
		}

		m.logger.Debug("orders endpoint empty, retrying",
			"ticker", ticker, "attempt", attempt, "wait", wait)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		wait = time.Duration(float64(wait) * refreshBackoff)
	}
}

// CancelAll cancels every resting order on the ticker.
func (m *Manager) CancelAll(ctx context.Context, ticker string) error {
	orders, err := m.Refresh(ctx, ticker)
	if err != nil {
		return err
	}
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	for i, o := range orders {
		ids[i] = o.OrderID
	}
	m.logger.Info("cancelling all orders", "ticker", ticker, "count", len(ids))
	return m.CancelBatch(ctx, ids)
}

func (m *Manager) expectsOrders(ticker string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.placed {
		if o.Ticker == ticker {
			return true
		}
	}
	return false
}

func (m *Manager) cachedOrders(ticker string) []types.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Order
	for _, o := range m.placed {
		if o.Ticker == ticker {
			out = append(out, o)
		}
	}
	return out
}

// reconcile drops cache entries the exchange no longer reports as resting.
func (m *Manager) reconcile(ticker string, resting []types.Order) {
	alive := make(map[string]bool, len(resting))
	for _, o := range resting {
		alive[o.OrderID] = true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, o := range m.placed {
		if o.Ticker == ticker && !alive[id] {
			delete(m.placed, id)
		}
	}
}
