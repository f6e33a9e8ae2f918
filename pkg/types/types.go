// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the bot — order and fill records,
// market metadata, balance snapshots — mapped 1:1 to the Kalshi trade-api/v2
// JSON shapes. It has no dependencies on internal packages, so it can be
// imported by any layer.
package types

import (
	"time"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side is the contract side of a binary market: YES or NO.
// A YES contract at price p pays 100c on YES; a NO contract at 100−p is the
// economic opposite.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// Action is the direction of an order or fill: buy or sell.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
)

// OrderType enumerates the supported order types. Only limit orders are used.
type OrderType string

const (
	OrderTypeLimit OrderType = "limit"
)

// OrderStatus is the lifecycle state of an order. Kalshi reports open orders
// as "resting"; some responses use "open" — the two are equivalent here.
type OrderStatus string

const (
	StatusPending  OrderStatus = "pending"
	StatusResting  OrderStatus = "resting"
	StatusOpen     OrderStatus = "open"
	StatusFilled   OrderStatus = "filled"
	StatusCanceled OrderStatus = "canceled"
	StatusRejected OrderStatus = "rejected"
)

// IsOpen reports whether the status counts as an open (resting) order.
func (s OrderStatus) IsOpen() bool {
	return s == StatusResting || s == StatusOpen
}

// Market status values as reported by GET /markets/{ticker}.
const (
	MarketActive = "active"
	MarketClosed = "closed"
)

// ————————————————————————————————————————————————————————————————————————
// Market data
// ————————————————————————————————————————————————————————————————————————

// Market is the top-of-book snapshot for a single binary market, from
// GET /markets/{ticker}. Prices are integer cents in [1, 99].
type Market struct {
	Ticker    string `json:"ticker"`
	Status    string `json:"status"` // "active", "closed", ...
	YesBid    int    `json:"yes_bid"`
	YesAsk    int    `json:"yes_ask"`
	NoBid     int    `json:"no_bid"`
	NoAsk     int    `json:"no_ask"`
	LastPrice int    `json:"last_price"`
	Volume    int64  `json:"volume"`
	Volume24h int64  `json:"volume_24h"`
	CloseTime string `json:"close_time"`
}

// HasBook reports whether both touches are present (quotable market).
func (m Market) HasBook() bool {
	return m.YesBid > 0 && m.YesAsk > 0
}

// OrderbookLevel is a single (price_cents, contracts) level.
type OrderbookLevel [2]int

// Price returns the level's price in cents.
func (l OrderbookLevel) Price() int { return l[0] }

// Count returns the number of resting contracts at the level.
func (l OrderbookLevel) Count() int { return l[1] }

// Orderbook is the depth view from GET /markets/{ticker}/orderbook.
// Both sides are expressed as bids: Yes holds YES bids, No holds NO bids
// (a NO bid at q implies a YES ask at 100−q). Used by the dashboard only;
// quoting decisions read the Market top-of-book.
type Orderbook struct {
	Yes []OrderbookLevel `json:"yes"`
	No  []OrderbookLevel `json:"no"`
}

// ————————————————————————————————————————————————————————————————————————
// Portfolio
// ————————————————————————————————————————————————————————————————————————

// Balance is the account balance snapshot from GET /portfolio/balance.
// Both fields are integer cents.
type Balance struct {
	Balance        int64 `json:"balance"`
	PortfolioValue int64 `json:"portfolio_value"`
}

// BalanceDollars returns the available balance in dollars.
func (b Balance) BalanceDollars() float64 { return float64(b.Balance) / 100 }

// PortfolioValueDollars returns the portfolio value in dollars.
func (b Balance) PortfolioValueDollars() float64 { return float64(b.PortfolioValue) / 100 }

// MarketPosition is a per-market position row from GET /portfolio/positions.
// Position is net contracts: positive = long YES, negative = long NO.
type MarketPosition struct {
	Ticker         string `json:"ticker"`
	Position       int    `json:"position"`
	MarketExposure int64  `json:"market_exposure"`
	RealizedPnL    int64  `json:"realized_pnl"`
	TotalTraded    int    `json:"total_traded"`
	FeesPaid       int64  `json:"fees_paid"`
}

// Fill is a single executed trade from GET /portfolio/fills.
// Fills arrive newest-first. The position delta is derived from Action only:
// Kalshi's book mechanics can report Side from the counterparty's perspective
// for taker fills, so Side is informational.
type Fill struct {
	FillID      string    `json:"fill_id"`
	OrderID     string    `json:"order_id"`
	Ticker      string    `json:"ticker"`
	Side        Side      `json:"side"`
	Action      Action    `json:"action"`
	Count       int       `json:"count"`
	YesPrice    int       `json:"yes_price"`
	NoPrice     int       `json:"no_price"`
	IsTaker     bool      `json:"is_taker"`
	CreatedTime time.Time `json:"created_time"`
}

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

// Order is an order as returned by the Kalshi API or tracked locally.
type Order struct {
	OrderID        string      `json:"order_id"`
	ClientOrderID  string      `json:"client_order_id,omitempty"`
	Ticker         string      `json:"ticker"`
	Action         Action      `json:"action"`
	Side           Side        `json:"side"`
	Type           OrderType   `json:"type"`
	YesPrice       int         `json:"yes_price,omitempty"`
	NoPrice        int         `json:"no_price,omitempty"`
	Count          int         `json:"count"`
	RemainingCount int         `json:"remaining_count"`
	Status         OrderStatus `json:"status"`
	CreatedTime    time.Time   `json:"created_time,omitempty"`
}

// PriceCents returns the limit price on the order's own side.
func (o Order) PriceCents() int {
	if o.Side == SideNo {
		if o.NoPrice > 0 {
			return o.NoPrice
		}
		return 100 - o.YesPrice
	}
	return o.YesPrice
}

// FilledCount returns how many contracts have executed.
func (o Order) FilledCount() int { return o.Count - o.RemainingCount }

// IsOpen reports whether the order is still resting on the book.
func (o Order) IsOpen() bool { return o.Status.IsOpen() }

// OrderRequest is the body for POST /portfolio/orders. Exactly one of
// YesPrice/NoPrice is set, matching Side.
type OrderRequest struct {
	Ticker        string    `json:"ticker"`
	ClientOrderID string    `json:"client_order_id"`
	Action        Action    `json:"action"`
	Side          Side      `json:"side"`
	Type          OrderType `json:"type"`
	Count         int       `json:"count"`
	YesPrice      int       `json:"yes_price,omitempty"`
	NoPrice       int       `json:"no_price,omitempty"`
}
