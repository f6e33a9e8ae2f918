// Package api serves the web dashboard: an HTTP snapshot endpoint plus a
// WebSocket stream of engine events. The dashboard is read-only.
package api

import (
	"time"

	"kalshi-mm/pkg/types"
)

// DashboardEvent is the envelope for everything pushed over the WebSocket.
type DashboardEvent struct {
	Type      string    `json:"type"` // "snapshot", "fill", "quote", "error"
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// PositionView is the ledger position flattened for display.
type PositionView struct {
	Ticker        string  `json:"ticker"`
	NetContracts  int     `json:"net_contracts"`
	Side          string  `json:"side"`
	AvgEntryPrice string  `json:"avg_entry_price"` // cents, decimal string
	RealizedPnL   float64 `json:"realized_pnl"`    // dollars
	ExposureUSD   float64 `json:"exposure_usd"`
}

// QuoteView is the quoter state for display.
type QuoteView struct {
	State        string  `json:"state"` // empty, long_leg, short_leg, quoted
	BidPrice     int     `json:"bid_price,omitempty"`
	AskPrice     int     `json:"ask_price,omitempty"`
	LastMidpoint float64 `json:"last_midpoint,omitempty"`
	Skew         int     `json:"skew"`
}

// FillView is one executed trade for the fills panel.
type FillView struct {
	FillID   string    `json:"fill_id"`
	Action   string    `json:"action"`
	Count    int       `json:"count"`
	YesPrice int       `json:"yes_price"`
	Time     time.Time `json:"time"`
}

// DashboardSnapshot is the full dashboard state, sent on connect and on
// every control-loop tick.
type DashboardSnapshot struct {
	Ticker      string           `json:"ticker"`
	Market      *types.Market    `json:"market,omitempty"`
	Orderbook   *types.Orderbook `json:"orderbook,omitempty"`
	Balance     *types.Balance   `json:"balance,omitempty"`
	Position    PositionView     `json:"position"`
	Quotes      QuoteView        `json:"quotes"`
	RecentFills []FillView       `json:"recent_fills"`
	UptimeSec   float64          `json:"uptime_sec"`
}

// SnapshotProvider is what the server needs from the engine.
type SnapshotProvider interface {
	Snapshot() DashboardSnapshot
	DashboardEvents() <-chan DashboardEvent
}

// NewFillEvent wraps a fill for the event stream.
func NewFillEvent(f types.Fill) DashboardEvent {
	return DashboardEvent{
		Type:      "fill",
		Timestamp: time.Now(),
		Data: FillView{
			FillID:   f.FillID,
			Action:   string(f.Action),
			Count:    f.Count,
			YesPrice: f.YesPrice,
			Time:     f.CreatedTime,
		},
	}
}

// NewErrorEvent wraps an error message for the notification area. The other
// panels keep their last good values.
func NewErrorEvent(msg string) DashboardEvent {
	return DashboardEvent{
		Type:      "error",
		Timestamp: time.Now(),
		Data:      map[string]string{"error": msg},
	}
}

// NewSnapshotEvent wraps a full snapshot.
func NewSnapshotEvent(s DashboardSnapshot) DashboardEvent {
	return DashboardEvent{Type: "snapshot", Timestamp: time.Now(), Data: s}
}
