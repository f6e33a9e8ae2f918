package quoter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"

	"github.com/shopspring/decimal"

	"kalshi-mm/internal/config"
	"kalshi-mm/internal/ledger"
	"kalshi-mm/internal/risk"
	"kalshi-mm/pkg/types"
)

type fakePlacer struct {
	placed     []placedOrder
	cancelled  []string
	batches    [][]string
	failAction types.Action // placements with this action fail
	cancelErr  error
	nextID     int
}

type placedOrder struct {
	action types.Action
	side   types.Side
	price  int
	count  int
}

func (p *fakePlacer) Place(ctx context.Context, ticker string, action types.Action, side types.Side, price, count int) (string, error) {
	if action == p.failAction {
		return "", errors.New("placement rejected")
	}
	p.nextID++
	p.placed = append(p.placed, placedOrder{action, side, price, count})
	return fmt.Sprintf("ord-%d", p.nextID), nil
}

func (p *fakePlacer) Cancel(ctx context.Context, id string) error {
	if p.cancelErr != nil {
		return p.cancelErr
	}
	p.cancelled = append(p.cancelled, id)
	return nil
}

func (p *fakePlacer) CancelBatch(ctx context.Context, ids []string) error {
	p.batches = append(p.batches, ids)
	return nil
}

type failingCanceller struct{ fakePlacer }

func (p *failingCanceller) CancelBatch(ctx context.Context, ids []string) error {
	return errors.New("cancel failed")
}

func newTestQuoter(t *testing.T, placer OrderPlacer, maxPos int, maxExposure float64) (*Quoter, *ledger.Ledger) {
	t.Helper()
	l := ledger.New()
	gate := risk.NewGate(config.RiskConfig{MaxPositionSize: maxPos, MaxTotalExposure: maxExposure}, l)
	cfg := config.StrategyConfig{SpreadWidth: 6, QuoteSize: 1, InventorySkewPerContract: 1}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return New("T", cfg, placer, gate, l, logger), l
}

func TestCalculateQuotes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name             string
		bb, ba, sw, skew int
		wantBid, wantAsk int
	}{
		{"symmetric", 50, 52, 6, 0, 48, 54},
		{"wide market", 45, 55, 6, 0, 47, 53},
		{"skewed long", 50, 52, 6, 2, 46, 52},
		{"skewed short", 50, 52, 6, -2, 50, 56},
		{"clamped low", 2, 4, 6, 0, 1, 6},
		{"clamped high", 96, 98, 6, 0, 94, 99},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			bid, ask := CalculateQuotes(tt.bb, tt.ba, tt.sw, tt.skew)
			if bid != tt.wantBid || ask != tt.wantAsk {
				t.Errorf("CalculateQuotes(%d, %d, %d, %d) = (%d, %d), want (%d, %d)",
					tt.bb, tt.ba, tt.sw, tt.skew, bid, ask, tt.wantBid, tt.wantAsk)
			}
		})
	}
}

// Quotes must stay in [1, 99] and never cross for any touch and any
// plausible skew.
func TestCalculateQuotesBounds(t *testing.T) {
	t.Parallel()

	for bb := 1; bb < 99; bb += 7 {
		for ba := bb + 1; ba <= 99; ba += 5 {
			for skew := -50; skew <= 50; skew += 10 {
				bid, ask := CalculateQuotes(bb, ba, 6, skew)
				if bid < 1 || ask > 99 || bid >= ask {
					t.Fatalf("CalculateQuotes(%d, %d, 6, %d) = (%d, %d): out of bounds or crossed",
						bb, ba, skew, bid, ask)
				}
			}
		}
	}
}

func TestPlaceQuotesBothLegs(t *testing.T) {
	t.Parallel()
	placer := &fakePlacer{}
	q, _ := newTestQuoter(t, placer, 10, 100)

	if err := q.PlaceQuotes(context.Background(), 50, 52, 0); err != nil {
		t.Fatalf("PlaceQuotes: %v", err)
	}

	if len(placer.placed) != 2 {
		t.Fatalf("placed %d orders, want 2", len(placer.placed))
	}
	// Bid: buy YES at 48. Ask: sell YES at 54.
	if placer.placed[0].action != types.ActionBuy || placer.placed[0].side != types.SideYes || placer.placed[0].price != 48 {
		t.Errorf("bid leg = %+v, want buy yes @48", placer.placed[0])
	}
	if placer.placed[1].action != types.ActionSell || placer.placed[1].side != types.SideYes || placer.placed[1].price != 54 {
		t.Errorf("ask leg = %+v, want sell yes @54", placer.placed[1])
	}

	s := q.State()
	if s.Name() != "quoted" {
		t.Errorf("state = %q, want quoted", s.Name())
	}
	if s.BidPrice != 48 || s.AskPrice != 54 {
		t.Errorf("stored prices = (%d, %d), want (48, 54)", s.BidPrice, s.AskPrice)
	}
	if s.LastMidpoint != 51 {
		t.Errorf("last midpoint = %v, want 51", s.LastMidpoint)
	}
}

// A lone bid at flat inventory would only add long exposure; it must be
// cancelled rather than left resting.
func TestPlaceQuotesLoneBidCancelled(t *testing.T) {
	t.Parallel()
	// Cap 50c: bid 1@48 fits, ask leg (NO exposure 54c) is blocked
	placer := &fakePlacer{}
	q, _ := newTestQuoter(t, placer, 10, 0.50)

	if err := q.PlaceQuotes(context.Background(), 50, 52, 0); err != nil {
		t.Fatal(err)
	}

	if len(placer.cancelled) != 1 {
		t.Fatalf("cancelled %d orders, want 1 (the lone bid)", len(placer.cancelled))
	}
	if !q.State().Empty() {
		t.Errorf("state = %q, want empty", q.State().Name())
	}
}

// An ask fill must book a short: the exchange echoes the order's action on
// the fill, and the ledger signs the delta by action alone, so the resting
// ask has to be a YES sell for the filled inventory to come out negative.
func TestAskFillBooksShortPosition(t *testing.T) {
	t.Parallel()
	placer := &fakePlacer{}
	q, l := newTestQuoter(t, placer, 10, 100)

	if err := q.PlaceQuotes(context.Background(), 50, 52, 0); err != nil {
		t.Fatal(err)
	}
	s := q.State()

	ask := placer.placed[1]
	fill := types.Fill{
		FillID:   "f1",
		OrderID:  s.AskOrderID,
		Ticker:   "T",
		Action:   ask.action,
		Side:     ask.side,
		Count:    1,
		YesPrice: ask.price,
	}
	pos, applied := l.ApplyFill(fill)
	if !applied {
		t.Fatal("fill not applied")
	}
	if pos.NetContracts != -1 {
		t.Fatalf("net after ask fill = %d, want -1 (short one YES)", pos.NetContracts)
	}
}

// A lone ask while long reduces inventory and is kept.
func TestPlaceQuotesLoneAskKeptWhenLong(t *testing.T) {
	t.Parallel()
	placer := &fakePlacer{}
	q, l := newTestQuoter(t, placer, 3, 1000)
	l.SetPosition("T", 3, decimal.NewFromInt(50)) // at position limit: bid blocked

	if err := q.PlaceQuotes(context.Background(), 50, 52, 0); err != nil {
		t.Fatal(err)
	}

	if len(placer.cancelled) != 0 {
		t.Errorf("cancelled %d orders, want 0", len(placer.cancelled))
	}
	s := q.State()
	if s.Name() != "short_leg" {
		t.Errorf("state = %q, want short_leg", s.Name())
	}
}

// When the lone-leg cancel itself fails the order may still be resting, so
// the leg stays in quote state and a later pass retries the cancel.
func TestPlaceQuotesLoneLegCancelFailureKeepsLeg(t *testing.T) {
	t.Parallel()
	// Cap 50c blocks the ask leg; cancelling the lone bid fails
	placer := &fakePlacer{cancelErr: errors.New("cancel rejected")}
	q, _ := newTestQuoter(t, placer, 10, 0.50)

	if err := q.PlaceQuotes(context.Background(), 50, 52, 0); err != nil {
		t.Fatal(err)
	}

	s := q.State()
	if s.Name() != "long_leg" {
		t.Fatalf("state = %q, want long_leg (bid still tracked)", s.Name())
	}
	if s.BidOrderID == "" || s.BidPrice != 48 {
		t.Errorf("bid leg lost: %+v", s)
	}

	// The next pass still wants a requote, which retries the cancel
	if got, _ := q.ShouldRequote(50, 52, 0); !got {
		t.Error("partial state should trigger requote")
	}
}

func TestPlaceQuotesFailedLegDoesNotBlockOther(t *testing.T) {
	t.Parallel()
	placer := &fakePlacer{failAction: types.ActionBuy}
	q, l := newTestQuoter(t, placer, 10, 100)
	l.SetPosition("T", 2, decimal.NewFromInt(50)) // long, lone ask is kept

	if err := q.PlaceQuotes(context.Background(), 50, 52, 0); err != nil {
		t.Fatal(err)
	}

	if q.State().Name() != "short_leg" {
		t.Errorf("state = %q, want short_leg after bid failure", q.State().Name())
	}
}

func TestShouldRequote(t *testing.T) {
	t.Parallel()
	placer := &fakePlacer{}
	q, _ := newTestQuoter(t, placer, 10, 100)

	if got, reason := q.ShouldRequote(50, 52, 0); !got || reason != "no quotes" {
		t.Errorf("empty state: got (%v, %q), want (true, no quotes)", got, reason)
	}

	if err := q.PlaceQuotes(context.Background(), 50, 52, 0); err != nil {
		t.Fatal(err)
	}

	// Same inputs: quotes are stable
	if got, reason := q.ShouldRequote(50, 52, 0); got {
		t.Errorf("stable quotes flagged for requote: %q", reason)
	}

	// Midpoint moved: calculated quotes differ
	if got, _ := q.ShouldRequote(45, 55, 0); !got {
		t.Error("midpoint move should trigger requote")
	}

	// Skew changed: calculated quotes differ
	if got, _ := q.ShouldRequote(50, 52, 3); !got {
		t.Error("skew change should trigger requote")
	}
}

func TestShouldRequoteThroughMarket(t *testing.T) {
	t.Parallel()
	placer := &fakePlacer{}
	q, _ := newTestQuoter(t, placer, 10, 100)

	// Wide market: quotes land inside the touch at (47, 53)
	if err := q.PlaceQuotes(context.Background(), 45, 55, 0); err != nil {
		t.Fatal(err)
	}

	// Market tightens above our bid: bid 47 > new best bid 44
	if got, reason := q.ShouldRequote(44, 55, 0); !got {
		t.Errorf("bid through market not flagged: %q", reason)
	}
}

func TestHandleFillInvalidatesLeg(t *testing.T) {
	t.Parallel()
	placer := &fakePlacer{}
	q, _ := newTestQuoter(t, placer, 10, 100)

	if err := q.PlaceQuotes(context.Background(), 50, 52, 0); err != nil {
		t.Fatal(err)
	}
	s := q.State()

	q.HandleFill(types.Fill{FillID: "f1", OrderID: s.BidOrderID})

	s = q.State()
	if s.BidOrderID != "" || s.BidPrice != 0 {
		t.Errorf("bid leg not cleared: %+v", s)
	}
	if s.AskOrderID == "" {
		t.Error("ask leg should be untouched")
	}
	if got, _ := q.ShouldRequote(50, 52, 0); !got {
		t.Error("partial state should trigger requote")
	}
}

func TestHandleFillUnknownOrderIgnored(t *testing.T) {
	t.Parallel()
	placer := &fakePlacer{}
	q, _ := newTestQuoter(t, placer, 10, 100)

	if err := q.PlaceQuotes(context.Background(), 50, 52, 0); err != nil {
		t.Fatal(err)
	}

	q.HandleFill(types.Fill{FillID: "f1", OrderID: "someone-else"})
	if q.State().Name() != "quoted" {
		t.Errorf("state = %q, want quoted", q.State().Name())
	}
}

func TestCancelQuotes(t *testing.T) {
	t.Parallel()
	placer := &fakePlacer{}
	q, _ := newTestQuoter(t, placer, 10, 100)

	if err := q.PlaceQuotes(context.Background(), 50, 52, 0); err != nil {
		t.Fatal(err)
	}
	if err := q.CancelQuotes(context.Background(), false, "test"); err != nil {
		t.Fatalf("CancelQuotes: %v", err)
	}

	if !q.State().Empty() {
		t.Errorf("state = %q, want empty", q.State().Name())
	}
	if len(placer.batches) != 1 || len(placer.batches[0]) != 2 {
		t.Errorf("unexpected batches: %v", placer.batches)
	}
}

func TestCancelQuotesFailureKeepsState(t *testing.T) {
	t.Parallel()
	placer := &failingCanceller{}
	q, _ := newTestQuoter(t, placer, 10, 100)

	if err := q.PlaceQuotes(context.Background(), 50, 52, 0); err != nil {
		t.Fatal(err)
	}

	if err := q.CancelQuotes(context.Background(), false, "test"); err == nil {
		t.Fatal("expected error")
	}
	if q.State().Empty() {
		t.Error("state should be kept on cancel failure without force_clear")
	}

	// force_clear wipes local state even though the API call failed
	_ = q.CancelQuotes(context.Background(), true, "shutdown")
	if !q.State().Empty() {
		t.Error("force_clear should clear state despite API failure")
	}
}
