// poller.go polls the fills endpoint and feeds the ledger.
//
// The poller keeps a (timestamp, fill_id) watermark. Each poll requests fills
// with min_ts at the watermark, walks the newest-first response until it hits
// the already-seen fill, applies the new ones, and dispatches each applied
// fill to registered subscribers. Fills are delivered at most once.
package ledger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"kalshi-mm/pkg/types"
)

// bootstrapFillLimit is how many historical fills set the initial watermark.
const bootstrapFillLimit = 10

// FillSource is the slice of the exchange client the poller needs.
type FillSource interface {
	GetFills(ctx context.Context, minTS int64, limit int) ([]types.Fill, error)
	GetBalance(ctx context.Context) (*types.Balance, error)
}

// Poller is the background fill reconciler.
type Poller struct {
	src      FillSource
	ledger   *Ledger
	interval time.Duration
	limit    int
	logger   *slog.Logger

	mu          sync.Mutex
	subscribers []func(types.Fill)
	lastFillTS  int64 // epoch seconds
	lastFillID  string
}

// NewPoller creates a fill poller over src writing into ledger.
func NewPoller(src FillSource, ledger *Ledger, interval time.Duration, limit int, logger *slog.Logger) *Poller {
	return &Poller{
		src:      src,
		ledger:   ledger,
		interval: interval,
		limit:    limit,
		logger:   logger.With("component", "fill_poller"),
	}
}

// OnFill registers a callback invoked synchronously for each applied fill.
// Register before Run; registration is not synchronized against delivery.
func (p *Poller) OnFill(fn func(types.Fill)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers = append(p.subscribers, fn)
}

// Bootstrap sets the watermark from the most recent historical fills without
// applying them — they predate process start and are already reflected in the
// positions endpoint. Also primes the balance cache.
func (p *Poller) Bootstrap(ctx context.Context) error {
	fills, err := p.src.GetFills(ctx, 0, bootstrapFillLimit)
	if err != nil {
		return err
	}
	if len(fills) > 0 {
		newest := fills[0]
		p.mu.Lock()
		p.lastFillTS = newest.CreatedTime.Unix()
		p.lastFillID = newest.FillID
		p.mu.Unlock()
		p.logger.Info("fill watermark set",
			"fill_id", newest.FillID,
			"ts", newest.CreatedTime)
	}

	bal, err := p.src.GetBalance(ctx)
	if err != nil {
		return err
	}
	p.ledger.SetBalance(*bal)
	return nil
}

// Run polls for new fills until ctx is cancelled. Errors are logged and the
// next tick retries from the same watermark.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("fill poller started", "interval", p.interval)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("fill poller stopped")
			return
		case <-ticker.C:
			if err := p.poll(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				p.logger.Error("fill poll failed", "error", err)
			}
		}
	}
}

// poll runs one fetch-and-apply cycle.
func (p *Poller) poll(ctx context.Context) error {
	p.mu.Lock()
	minTS := p.lastFillTS
	lastID := p.lastFillID
	p.mu.Unlock()

	fills, err := p.src.GetFills(ctx, minTS, p.limit)
	if err != nil {
		return err
	}

	// Response is newest-first; everything before the watermark fill is new.
	fresh := fills
	for i, f := range fills {
		if f.FillID == lastID {
			fresh = fills[:i]
			break
		}
	}
	if len(fresh) == 0 {
		return nil
	}

	p.mu.Lock()
	subs := make([]func(types.Fill), len(p.subscribers))
	copy(subs, p.subscribers)
	p.mu.Unlock()

	applied := 0
	for _, f := range fresh {
		pos, ok := p.ledger.ApplyFill(f)
		if !ok {
			continue
		}
		applied++
		p.logger.Info("fill applied",
			"fill_id", f.FillID,
			"ticker", f.Ticker,
			"action", f.Action,
			"count", f.Count,
			"yes_price", f.YesPrice,
			"net", pos.NetContracts)
		for _, fn := range subs {
			fn(f)
		}
	}

	newest := fresh[0]
	p.mu.Lock()
	p.lastFillTS = newest.CreatedTime.Unix()
	p.lastFillID = newest.FillID
	p.mu.Unlock()

	if applied > 0 {
		if bal, err := p.src.GetBalance(ctx); err != nil {
			p.logger.Warn("balance refresh failed", "error", err)
		} else {
			p.ledger.SetBalance(*bal)
		}
	}
	return nil
}
