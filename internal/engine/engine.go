// Package engine is the central orchestrator of the market-making bot.
//
// It wires together all subsystems for a single market:
//
//  1. The fill poller reconciles executed trades into the position ledger
//     and notifies the quoter so a filled leg is invalidated immediately.
//  2. The control loop ticks every LOOP_INTERVAL: fetch the top of book,
//     compute the inventory skew, and requote (or cancel on an inactive
//     market).
//  3. On shutdown — normal, error, or signal — all resting quotes are
//     cancelled with force_clear before the process exits.
//
// Lifecycle: New() → Start() → [runs until SIGINT or MaxRuntime] → Stop()
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"kalshi-mm/internal/api"
	"kalshi-mm/internal/config"
	"kalshi-mm/internal/exchange"
	"kalshi-mm/internal/ledger"
	"kalshi-mm/internal/orders"
	"kalshi-mm/internal/quoter"
	"kalshi-mm/internal/risk"
	"kalshi-mm/pkg/types"
)

// orderbookDepth is the depth fetched for the dashboard panel.
const orderbookDepth = 10

// Engine orchestrates the control loop and fill poller for one market.
type Engine struct {
	cfg    *config.Config
	client *exchange.Client
	ledger *ledger.Ledger
	poller *ledger.Poller
	gate   *risk.Gate
	orders *orders.Manager
	quoter *quoter.Quoter
	logger *slog.Logger

	// dashboardEvents is nil when the dashboard is disabled.
	dashboardEvents chan api.DashboardEvent

	// lastMarket/lastBook hold the most recent good market data for the
	// dashboard snapshot. Protected by snapMu.
	snapMu     sync.RWMutex
	lastMarket *types.Market
	lastBook   *types.Orderbook

	startTime time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

// New creates and wires all engine components.
func New(cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	auth, err := exchange.NewAuth(cfg.API.KeyID, cfg.API.PrivateKeyPEM)
	if err != nil {
		return nil, err
	}
	client := exchange.NewClient(cfg.API.BaseURL, auth, logger)

	led := ledger.New()
	poller := ledger.NewPoller(client, led, cfg.Loop.FillPollInterval, cfg.Loop.FillPollLimit, logger)
	gate := risk.NewGate(cfg.Risk, led)
	mgr := orders.NewManager(client, logger)
	q := quoter.New(cfg.Market.Ticker, cfg.Strategy, mgr, gate, led, logger)

	ctx, cancel := context.WithCancel(context.Background())

	var dashEvents chan api.DashboardEvent
	if cfg.Dashboard.Enabled {
		dashEvents = make(chan api.DashboardEvent, 100)
	}

	e := &Engine{
		cfg:             cfg,
		client:          client,
		ledger:          led,
		poller:          poller,
		gate:            gate,
		orders:          mgr,
		quoter:          q,
		logger:          logger.With("component", "engine"),
		dashboardEvents: dashEvents,
		ctx:             ctx,
		cancel:          cancel,
		done:            make(chan struct{}),
	}

	// Fill dispatch: invalidate the filled leg, then mirror to the dashboard.
	poller.OnFill(q.HandleFill)
	poller.OnFill(func(f types.Fill) {
		e.emitDashboardEvent(api.NewFillEvent(f))
	})

	return e, nil
}

// Start bootstraps state from the exchange and launches the fill poller and
// control loop.
func (e *Engine) Start() error {
	e.startTime = time.Now()

	if err := e.bootstrap(e.ctx); err != nil {
		return err
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.poller.Run(e.ctx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(e.done)
		e.run()
	}()

	return nil
}

// bootstrap seeds the ledger from the portfolio endpoints and sets the fill
// watermark so historical fills are not replayed.
func (e *Engine) bootstrap(ctx context.Context) error {
	positions, err := e.client.GetPositions(ctx)
	if err != nil {
		return err
	}
	for _, mp := range positions {
		if mp.Position == 0 {
			continue
		}
		var avg decimal.Decimal
		if mp.MarketExposure > 0 {
			// Recover an approximate entry price from reported exposure.
			exp := decimal.NewFromInt(mp.MarketExposure)
			count := decimal.NewFromInt(int64(abs(mp.Position)))
			per := exp.Div(count)
			if mp.Position > 0 {
				avg = per
			} else {
				avg = decimal.NewFromInt(100).Sub(per)
			}
		}
		e.ledger.SetPosition(mp.Ticker, mp.Position, avg)
		e.logger.Info("position restored", "ticker", mp.Ticker, "net", mp.Position)
	}

	if err := e.poller.Bootstrap(ctx); err != nil {
		return err
	}

	if bal, ok := e.ledger.Balance(); ok {
		e.logger.Info("bootstrap complete",
			"balance", bal.BalanceDollars(),
			"positions", len(positions))
	}
	return nil
}

// run is the control loop: one tick per LOOP_INTERVAL, bounded by MaxRuntime.
func (e *Engine) run() {
	ticker := time.NewTicker(e.cfg.Loop.Interval)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if e.cfg.Loop.MaxRuntime > 0 {
		t := time.NewTimer(e.cfg.Loop.MaxRuntime)
		defer t.Stop()
		deadline = t.C
	}

	e.logger.Info("control loop started",
		"ticker", e.cfg.Market.Ticker,
		"interval", e.cfg.Loop.Interval,
		"max_runtime", e.cfg.Loop.MaxRuntime)

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-deadline:
			e.logger.Info("max runtime reached")
			return
		case <-ticker.C:
			e.tick()
		}
	}
}

// tick runs one control-loop iteration. All errors are logged and surfaced
// to the dashboard; the loop never aborts on a tick failure.
func (e *Engine) tick() {
	market, err := e.client.GetMarket(e.ctx, e.cfg.Market.Ticker)
	if err != nil {
		if e.ctx.Err() != nil {
			return
		}
		e.logger.Error("market fetch failed", "error", err)
		e.emitDashboardEvent(api.NewErrorEvent(err.Error()))
		return
	}

	// Depth is dashboard-only; failure does not affect quoting.
	book, err := e.client.GetOrderbook(e.ctx, e.cfg.Market.Ticker, orderbookDepth)
	if err != nil {
		e.logger.Warn("orderbook fetch failed", "error", err)
		book = nil
	}

	e.snapMu.Lock()
	e.lastMarket = market
	if book != nil {
		e.lastBook = book
	}
	e.snapMu.Unlock()

	net := e.ledger.Get(e.cfg.Market.Ticker).NetContracts
	skew := net * e.cfg.Strategy.InventorySkewPerContract

	if market.Status == types.MarketActive && market.HasBook() {
		if should, reason := e.quoter.ShouldRequote(market.YesBid, market.YesAsk, skew); should {
			e.logger.Info("requoting",
				"reason", reason,
				"best_bid", market.YesBid,
				"best_ask", market.YesAsk,
				"net", net,
				"skew", skew)
			if err := e.quoter.UpdateQuotes(e.ctx, market.YesBid, market.YesAsk, skew); err != nil {
				e.logger.Error("requote failed", "error", err)
				e.emitDashboardEvent(api.NewErrorEvent(err.Error()))
			}
		}
	} else if !e.quoter.State().Empty() {
		force := market.Status == types.MarketClosed
		if err := e.quoter.CancelQuotes(e.ctx, force, "market inactive"); err != nil {
			e.logger.Error("cancel on inactive market failed", "error", err)
		}
	}

	e.emitDashboardEvent(api.NewSnapshotEvent(e.Snapshot()))
}

// Done is closed when the control loop exits (cancellation or MaxRuntime).
func (e *Engine) Done() <-chan struct{} { return e.done }

// Stop shuts the engine down: stops the loops, then cancels every resting
// quote. The cancel-all runs on a fresh context so it completes even though
// the engine context is already cancelled.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.logger.Info("shutting down...")
		e.cancel()
		e.wg.Wait()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := e.quoter.CancelQuotes(shutdownCtx, true, "shutdown"); err != nil {
			e.logger.Error("shutdown cancel failed", "error", err)
		}
		// Belt and braces: cancel anything the quoter lost track of.
		if err := e.orders.CancelAll(shutdownCtx, e.cfg.Market.Ticker); err != nil {
			e.logger.Error("shutdown cancel-all failed", "error", err)
		}

		pos := e.ledger.Get(e.cfg.Market.Ticker)
		bal, _ := e.ledger.Balance()
		e.logger.Info("final state",
			"net", pos.NetContracts,
			"avg_entry", pos.AvgEntryPrice,
			"realized_pnl_cents", pos.RealizedPnLCents(),
			"balance", bal.BalanceDollars())

		if e.dashboardEvents != nil {
			close(e.dashboardEvents)
		}
		e.logger.Info("shutdown complete")
	})
}

// DashboardEvents returns the dashboard event channel (may be nil).
func (e *Engine) DashboardEvents() <-chan api.DashboardEvent {
	return e.dashboardEvents
}

// Snapshot assembles the full dashboard state.
func (e *Engine) Snapshot() api.DashboardSnapshot {
	ticker := e.cfg.Market.Ticker

	e.snapMu.RLock()
	market := e.lastMarket
	book := e.lastBook
	e.snapMu.RUnlock()

	pos := e.ledger.Get(ticker)
	qs := e.quoter.State()

	snap := api.DashboardSnapshot{
		Ticker:    ticker,
		Market:    market,
		Orderbook: book,
		Position: api.PositionView{
			Ticker:        ticker,
			NetContracts:  pos.NetContracts,
			Side:          pos.Side(),
			AvgEntryPrice: pos.AvgEntryPrice.StringFixed(2),
			RealizedPnL:   float64(pos.RealizedPnLCents()) / 100,
			ExposureUSD:   float64(pos.ExposureCents()) / 100,
		},
		Quotes: api.QuoteView{
			State:        qs.Name(),
			BidPrice:     qs.BidPrice,
			AskPrice:     qs.AskPrice,
			LastMidpoint: qs.LastMidpoint,
			Skew:         pos.NetContracts * e.cfg.Strategy.InventorySkewPerContract,
		},
		UptimeSec: time.Since(e.startTime).Seconds(),
	}

	if bal, ok := e.ledger.Balance(); ok {
		snap.Balance = &bal
	}
	for _, f := range e.ledger.RecentFills(20) {
		snap.RecentFills = append(snap.RecentFills, api.FillView{
			FillID:   f.FillID,
			Action:   string(f.Action),
			Count:    f.Count,
			YesPrice: f.YesPrice,
			Time:     f.CreatedTime,
		})
	}
	return snap
}

// emitDashboardEvent sends an event to the dashboard (non-blocking).
func (e *Engine) emitDashboardEvent(evt api.DashboardEvent) {
	if e.dashboardEvents == nil {
		return
	}
	select {
	case e.dashboardEvents <- evt:
	default:
		// Dashboard can't keep up, drop event
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
