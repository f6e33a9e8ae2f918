package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"kalshi-mm/pkg/types"
)

type fakeProvider struct {
	snapshot DashboardSnapshot
	events   chan DashboardEvent
}

func (p *fakeProvider) Snapshot() DashboardSnapshot            { return p.snapshot }
func (p *fakeProvider) DashboardEvents() <-chan DashboardEvent { return p.events }

func newTestHandlers() (*Handlers, *fakeProvider) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	provider := &fakeProvider{
		snapshot: DashboardSnapshot{
			Ticker:   "INXD-TEST",
			Market:   &types.Market{Ticker: "INXD-TEST", YesBid: 48, YesAsk: 52},
			Position: PositionView{Ticker: "INXD-TEST", NetContracts: 2, Side: "yes"},
			Quotes:   QuoteView{State: "quoted", BidPrice: 47, AskPrice: 53},
		},
	}
	return NewHandlers(provider, NewHub(logger), logger), provider
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandlers()

	rec := httptest.NewRecorder()
	h.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want ok", body["status"])
	}
}

func TestHandleSnapshot(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandlers()

	rec := httptest.NewRecorder()
	h.HandleSnapshot(rec, httptest.NewRequest(http.MethodGet, "/api/snapshot", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var snap DashboardSnapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Ticker != "INXD-TEST" {
		t.Errorf("ticker = %q, want INXD-TEST", snap.Ticker)
	}
	if snap.Quotes.State != "quoted" || snap.Quotes.BidPrice != 47 {
		t.Errorf("unexpected quotes: %+v", snap.Quotes)
	}
	if snap.Position.NetContracts != 2 {
		t.Errorf("net = %d, want 2", snap.Position.NetContracts)
	}
}
