// Package demo is the interactive order-management check run against the
// live exchange.
//
// It walks the order lifecycle step by step: place a passive bid, list open
// orders, cancel it by id, verify, place a passive ask, cancel all, verify
// the book is clean. Prices are caller-supplied and must sit safely outside
// the touch so nothing executes. Each step waits for Enter before running;
// nonstop runs straight through.
package demo

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"

	"kalshi-mm/internal/exchange"
	"kalshi-mm/internal/orders"
	"kalshi-mm/pkg/types"
)

// Demo runs the order lifecycle check.
type Demo struct {
	client *exchange.Client
	orders *orders.Manager
	ticker string
	input  *bufio.Reader
	logger *slog.Logger

	stepNum int
	nonstop bool
}

// New creates a demo runner for one ticker. input feeds the step prompts
// (normally os.Stdin).
func New(client *exchange.Client, mgr *orders.Manager, ticker string, input io.Reader, logger *slog.Logger) *Demo {
	return &Demo{
		client: client,
		orders: mgr,
		ticker: ticker,
		input:  bufio.NewReader(input),
		logger: logger.With("component", "demo"),
	}
}

// step announces the next action and waits for Enter unless nonstop.
func (d *Demo) step(description string) {
	d.stepNum++
	if d.nonstop {
		d.logger.Info("step", "n", d.stepNum, "action", description)
		return
	}
	fmt.Printf("\n[step %d] %s (Enter to run)", d.stepNum, description)
	if _, err := d.input.ReadString('\n'); err != nil {
		// Input closed: run the remaining steps without pausing
		d.nonstop = true
	}
}

// Run executes the order-management scenario. safeBid and safeAsk are
// YES-axis prices; the run aborts before placing anything if either could
// execute against the book.
func (d *Demo) Run(ctx context.Context, safeBid, safeAsk int, nonstop bool) error {
	if safeBid < 1 || safeAsk > 99 || safeBid >= safeAsk {
		return fmt.Errorf("invalid demo prices: bid=%d ask=%d", safeBid, safeAsk)
	}
	d.nonstop = nonstop
	d.stepNum = 0

	market, err := d.client.GetMarket(ctx, d.ticker)
	if err != nil {
		return fmt.Errorf("fetch market: %w", err)
	}
	d.logger.Info("market",
		"ticker", market.Ticker,
		"status", market.Status,
		"yes_bid", market.YesBid,
		"yes_ask", market.YesAsk)

	if !market.HasBook() {
		return fmt.Errorf("market %s has no two-sided book", d.ticker)
	}
	if safeBid >= market.YesBid {
		return fmt.Errorf("bid %d is not below best bid %d, would rest at or inside the touch", safeBid, market.YesBid)
	}
	if safeAsk <= market.YesAsk {
		return fmt.Errorf("ask %d is not above best ask %d, would rest at or inside the touch", safeAsk, market.YesAsk)
	}

	d.step(fmt.Sprintf("place passive bid: buy 1 yes @ %dc", safeBid))
	bidID, err := d.orders.Place(ctx, d.ticker, types.ActionBuy, types.SideYes, safeBid, 1)
	if err != nil {
		return fmt.Errorf("place bid: %w", err)
	}
	d.logger.Info("bid placed", "order_id", bidID)

	d.step("query open orders")
	resting, err := d.orders.Refresh(ctx, d.ticker)
	if err != nil {
		return fmt.Errorf("refresh orders: %w", err)
	}
	d.logger.Info("open orders", "count", len(resting))

	d.step("cancel the bid by id")
	if err := d.orders.Cancel(ctx, bidID); err != nil {
		return fmt.Errorf("cancel bid: %w", err)
	}

	d.step("verify the bid is gone")
	resting, err = d.orders.Refresh(ctx, d.ticker)
	if err != nil {
		return fmt.Errorf("refresh orders: %w", err)
	}
	for _, o := range resting {
		if o.OrderID == bidID {
			return fmt.Errorf("order %s still resting after cancel", bidID)
		}
	}

	// A sell, not a NO buy: if this ever fills, position books as -1
	d.step(fmt.Sprintf("place passive ask: sell 1 yes @ %dc", safeAsk))
	askID, err := d.orders.Place(ctx, d.ticker, types.ActionSell, types.SideYes, safeAsk, 1)
	if err != nil {
		return fmt.Errorf("place ask: %w", err)
	}
	d.logger.Info("ask placed", "order_id", askID)

	d.step("cancel all orders")
	if err := d.orders.CancelAll(ctx, d.ticker); err != nil {
		return fmt.Errorf("cancel all: %w", err)
	}

	d.step("verify the book is clean")
	resting, err = d.orders.Refresh(ctx, d.ticker)
	if err != nil {
		return fmt.Errorf("refresh orders: %w", err)
	}
	if len(resting) > 0 {
		return fmt.Errorf("%d order(s) still resting after cancel-all", len(resting))
	}

	d.logger.Info("all steps passed", "steps", d.stepNum)
	return nil
}
