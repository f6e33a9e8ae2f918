package exchange

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"kalshi-mm/pkg/types"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	_, pemStr := testKeyPEM(t, true)
	auth, err := NewAuth("test-key", pemStr)
	if err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewClient(srv.URL, auth, logger), srv
}

func TestGetMarket(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/trade-api/v2/markets/INXD-TEST" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("KALSHI-ACCESS-KEY") != "test-key" {
			t.Error("missing access key header")
		}
		if r.Header.Get("KALSHI-ACCESS-SIGNATURE") == "" {
			t.Error("missing signature header")
		}
		json.NewEncoder(w).Encode(map[string]any{
			"market": map[string]any{
				"ticker": "INXD-TEST", "status": "active",
				"yes_bid": 48, "yes_ask": 52,
			},
		})
	}))

	m, err := c.GetMarket(context.Background(), "INXD-TEST")
	if err != nil {
		t.Fatalf("GetMarket: %v", err)
	}
	if m.Ticker != "INXD-TEST" || m.YesBid != 48 || m.YesAsk != 52 {
		t.Errorf("unexpected market: %+v", m)
	}
}

func TestGetFillsQueryParams(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("min_ts") != "1700000000" {
			t.Errorf("min_ts = %q", q.Get("min_ts"))
		}
		if q.Get("limit") != "100" {
			t.Errorf("limit = %q", q.Get("limit"))
		}
		json.NewEncoder(w).Encode(map[string]any{
			"fills": []map[string]any{
				{"fill_id": "f1", "ticker": "INXD-TEST", "action": "buy", "side": "yes", "count": 2, "yes_price": 49},
			},
		})
	}))

	fills, err := c.GetFills(context.Background(), 1700000000, 100)
	if err != nil {
		t.Fatalf("GetFills: %v", err)
	}
	if len(fills) != 1 || fills[0].FillID != "f1" || fills[0].Count != 2 {
		t.Errorf("unexpected fills: %+v", fills)
	}
}

func TestCreateOrderBody(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		body, _ := io.ReadAll(r.Body)
		var req types.OrderRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Fatalf("unmarshal body: %v", err)
		}
		if req.Side != types.SideYes || req.YesPrice != 48 || req.Count != 5 {
			t.Errorf("unexpected request: %+v", req)
		}
		if req.NoPrice != 0 {
			t.Errorf("no_price should be omitted for yes orders, got %d", req.NoPrice)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"order": map[string]any{"order_id": "ord-1", "status": "resting", "count": 5, "remaining_count": 5},
		})
	}))

	order, err := c.CreateOrder(context.Background(), types.OrderRequest{
		Ticker: "INXD-TEST", ClientOrderID: "c1",
		Action: types.ActionBuy, Side: types.SideYes, Type: types.OrderTypeLimit,
		Count: 5, YesPrice: 48,
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if order.OrderID != "ord-1" || !order.IsOpen() {
		t.Errorf("unexpected order: %+v", order)
	}
}

func TestCancelOrderPath(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %s", r.Method)
		}
		if r.URL.Path != "/trade-api/v2/portfolio/orders/ord-9" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))

	if err := c.CancelOrder(context.Background(), "ord-9"); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
}

func TestBatchCancelOrdersLimit(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no HTTP request expected for oversized batch")
	}))

	ids := make([]string, 21)
	for i := range ids {
		ids[i] = "ord"
	}
	if err := c.BatchCancelOrders(context.Background(), ids); err == nil {
		t.Error("expected error for batch of 21")
	}
}

func TestBatchCancelOrdersEmpty(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no HTTP request expected for empty batch")
	}))

	if err := c.BatchCancelOrders(context.Background(), nil); err != nil {
		t.Errorf("BatchCancelOrders(nil) = %v, want nil", err)
	}
}

func TestGetOrdersFilters(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("ticker") != "INXD-TEST" || q.Get("status") != "resting" {
			t.Errorf("query = %v", q)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"orders": []map[string]any{
				{"order_id": "a", "status": "resting"},
				{"order_id": "b", "status": "resting"},
			},
		})
	}))

	orders, err := c.GetOrders(context.Background(), "INXD-TEST", "resting")
	if err != nil {
		t.Fatalf("GetOrders: %v", err)
	}
	if len(orders) != 2 {
		t.Errorf("got %d orders, want 2", len(orders))
	}
}

func TestErrorStatusSurfaced(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"insufficient_balance"}`))
	}))

	_, err := c.GetBalance(context.Background())
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
}
