// Package quoter implements the stateful two-sided quoting engine.
//
// The quoter prices a bid and an ask around the market midpoint, shifted
// against current inventory, and keeps at most one resting order per leg.
// It owns a small state machine over the two legs:
//
//	Empty     — no resting quotes
//	LongLeg   — bid only
//	ShortLeg  — ask only
//	Quoted    — both legs resting
//
// The ask leg is a YES sell at the ask price, so an ask fill books as a
// negative position delta; its exposure is gated at the NO-side cost 100−ask.
// Both leg prices are stored on the YES axis.
package quoter

import (
	"context"
	"log/slog"
	"math"
	"sync"

	"kalshi-mm/internal/config"
	"kalshi-mm/internal/ledger"
	"kalshi-mm/internal/risk"
	"kalshi-mm/pkg/types"
)

// OrderPlacer is the slice of the order manager the quoter needs.
type OrderPlacer interface {
	Place(ctx context.Context, ticker string, action types.Action, side types.Side, priceCents, count int) (string, error)
	Cancel(ctx context.Context, orderID string) error
	CancelBatch(ctx context.Context, orderIDs []string) error
}

// State is the quoter's resting-quote snapshot. A zero order ID means the
// leg is absent.
type State struct {
	BidOrderID   string
	AskOrderID   string
	BidPrice     int // cents, YES axis; 0 = absent
	AskPrice     int
	LastMidpoint float64
}

// Name reports the state-machine label for logging and the dashboard.
func (s State) Name() string {
	switch {
	case s.BidOrderID != "" && s.AskOrderID != "":
		return "quoted"
	case s.BidOrderID != "":
		return "long_leg"
	case s.AskOrderID != "":
		return "short_leg"
	default:
		return "empty"
	}
}

// Empty reports whether no legs are resting.
func (s State) Empty() bool { return s.BidOrderID == "" && s.AskOrderID == "" }

// CalculateQuotes prices both legs from the touch and the inventory skew.
// Positive skew (long inventory) shifts both quotes down, encouraging a sale.
// Results are clamped to [1, 99] and never cross.
func CalculateQuotes(bestBid, bestAsk, spreadWidth, skew int) (bid, ask int) {
	mid := float64(bestBid+bestAsk) / 2
	half := float64(spreadWidth) / 2

	bid = clampPrice(int(math.Round(mid - half - float64(skew))))
	ask = clampPrice(int(math.Round(mid + half - float64(skew))))

	// Large skew can push the rounded legs together or through each other;
	// fall back to a minimal straddle of the midpoint.
	if bid >= ask {
		bid = clampPrice(int(math.Floor(mid)) - 1)
		ask = clampPrice(int(math.Floor(mid)) + 1)
	}
	return bid, ask
}

func clampPrice(p int) int {
	if p < 1 {
		return 1
	}
	if p > 99 {
		return 99
	}
	return p
}

// Quoter maintains a two-sided quote on one market.
type Quoter struct {
	ticker string
	cfg    config.StrategyConfig
	placer OrderPlacer
	gate   *risk.Gate
	ledger *ledger.Ledger
	logger *slog.Logger

	mu    sync.Mutex
	state State
}

// New creates a quoter for one ticker.
func New(ticker string, cfg config.StrategyConfig, placer OrderPlacer, gate *risk.Gate, l *ledger.Ledger, logger *slog.Logger) *Quoter {
	return &Quoter{
		ticker: ticker,
		cfg:    cfg,
		placer: placer,
		gate:   gate,
		ledger: l,
		logger: logger.With("component", "quoter", "ticker", ticker),
	}
}

// State returns a copy of the current quote state.
func (q *Quoter) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// ShouldRequote decides whether the resting quotes need replacing given the
// current touch and skew. Returns the triggering reason for logging.
func (q *Quoter) ShouldRequote(bestBid, bestAsk, skew int) (bool, string) {
	q.mu.Lock()
	s := q.state
	q.mu.Unlock()

	if s.Empty() {
		return true, "no quotes"
	}

	newBid, newAsk := CalculateQuotes(bestBid, bestAsk, q.cfg.SpreadWidth, skew)
	if newBid != s.BidPrice || newAsk != s.AskPrice {
		return true, "calculated quotes differ"
	}
	if s.BidPrice > bestBid {
		return true, "bid through the market"
	}
	if s.AskPrice < bestAsk {
		return true, "ask through the market"
	}
	if s.BidPrice >= s.AskPrice {
		return true, "quotes crossed"
	}
	return false, ""
}

// PlaceQuotes attempts both legs. A blocked or failed leg does not prevent
// the other; if exactly one leg lands and it would worsen the current
// inventory, it is cancelled rather than left naked.
func (q *Quoter) PlaceQuotes(ctx context.Context, bestBid, bestAsk, skew int) error {
	bid, ask := CalculateQuotes(bestBid, bestAsk, q.cfg.SpreadWidth, skew)
	size := q.cfg.QuoteSize

	var bidID, askID string

	if allowed, reason := q.gate.CanAdd(q.ticker, types.SideYes, size, bid); allowed {
		id, err := q.placer.Place(ctx, q.ticker, types.ActionBuy, types.SideYes, bid, size)
		if err != nil {
			q.logger.Warn("bid placement failed", "price", bid, "error", err)
		} else {
			bidID = id
		}
	} else {
		q.logger.Info("bid blocked by risk", "price", bid, "reason", reason)
	}

	// Selling YES accrues NO exposure, so the gate prices the leg at the
	// NO-side cost 100−ask. The order itself goes out as a YES sell: the
	// fill's action must carry the negative position delta.
	if allowed, reason := q.gate.CanAdd(q.ticker, types.SideNo, size, 100-ask); allowed {
		id, err := q.placer.Place(ctx, q.ticker, types.ActionSell, types.SideYes, ask, size)
		if err != nil {
			q.logger.Warn("ask placement failed", "price", ask, "error", err)
		} else {
			askID = id
		}
	} else {
		q.logger.Info("ask blocked by risk", "price", ask, "reason", reason)
	}

	// One-sided cleanup: keep a lone leg only if it reduces inventory. A leg
	// whose cancel fails stays tracked so a later pass retries it.
	net := q.ledger.Get(q.ticker).NetContracts
	if bidID != "" && askID == "" && net >= 0 {
		q.logger.Info("cancelling lone bid", "net", net)
		if err := q.placer.Cancel(ctx, bidID); err != nil {
			q.logger.Warn("lone bid cancel failed", "order_id", bidID, "error", err)
		} else {
			bidID = ""
		}
	}
	if askID != "" && bidID == "" && net <= 0 {
		q.logger.Info("cancelling lone ask", "net", net)
		if err := q.placer.Cancel(ctx, askID); err != nil {
			q.logger.Warn("lone ask cancel failed", "order_id", askID, "error", err)
		} else {
			askID = ""
		}
	}

	q.mu.Lock()
	q.state = State{LastMidpoint: float64(bestBid+bestAsk) / 2}
	if bidID != "" {
		q.state.BidOrderID = bidID
		q.state.BidPrice = bid
	}
	if askID != "" {
		q.state.AskOrderID = askID
		q.state.AskPrice = ask
	}
	s := q.state
	q.mu.Unlock()

	q.logger.Info("quotes placed",
		"state", s.Name(), "bid", s.BidPrice, "ask", s.AskPrice, "skew", skew)
	return nil
}

// CancelQuotes cancels all resting legs. On API failure the state is kept so
// the next tick retries, unless forceClear is set (shutdown, closed market),
// in which case local state is cleared regardless.
func (q *Quoter) CancelQuotes(ctx context.Context, forceClear bool, reason string) error {
	q.mu.Lock()
	var ids []string
	if q.state.BidOrderID != "" {
		ids = append(ids, q.state.BidOrderID)
	}
	if q.state.AskOrderID != "" {
		ids = append(ids, q.state.AskOrderID)
	}
	q.mu.Unlock()

	if len(ids) == 0 {
		return nil
	}

	err := q.placer.CancelBatch(ctx, ids)
	if err != nil && !forceClear {
		q.logger.Warn("cancel failed, keeping state", "reason", reason, "error", err)
		return err
	}
	if err != nil {
		q.logger.Warn("cancel failed, clearing state anyway", "reason", reason, "error", err)
	}

	q.mu.Lock()
	q.state = State{}
	q.mu.Unlock()
	q.logger.Info("quotes cancelled", "count", len(ids), "reason", reason)
	return err
}

// UpdateQuotes replaces the resting quotes with a fresh pair.
func (q *Quoter) UpdateQuotes(ctx context.Context, bestBid, bestAsk, skew int) error {
	if err := q.CancelQuotes(ctx, false, "requote"); err != nil {
		return err
	}
	return q.PlaceQuotes(ctx, bestBid, bestAsk, skew)
}

// HandleFill invalidates the leg whose order was filled. The other leg is
// untouched; the next control tick observes the partial state and requotes.
func (q *Quoter) HandleFill(f types.Fill) {
	q.mu.Lock()
	defer q.mu.Unlock()

	switch f.OrderID {
	case "":
		return
	case q.state.BidOrderID:
		q.logger.Info("bid filled", "fill_id", f.FillID, "price", q.state.BidPrice)
		q.state.BidOrderID = ""
		q.state.BidPrice = 0
	case q.state.AskOrderID:
		q.logger.Info("ask filled", "fill_id", f.FillID, "price", q.state.AskPrice)
		q.state.AskOrderID = ""
		q.state.AskPrice = 0
	}
}
