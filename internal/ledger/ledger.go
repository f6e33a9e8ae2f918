// Package ledger maintains the authoritative local view of positions built
// from executed fills.
//
// The Ledger maps ticker → Position and is the ground truth that gates new
// orders: net contracts, average entry price, and realized P&L per market.
// Positions are created lazily as zero and mutated only by ApplyFill (plus a
// one-time bootstrap from the portfolio endpoint at startup).
//
// All prices are expressed on the YES axis: a negative net position is short
// YES, economically long NO at 100 − avg_entry.
package ledger

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"kalshi-mm/pkg/types"
)

// fillTailSize bounds the retained fill history (dashboard display only).
const fillTailSize = 50

var hundred = decimal.NewFromInt(100)

// Position is the net state for one market.
// NetContracts is positive for long YES, negative for long NO.
type Position struct {
	Ticker        string
	NetContracts  int
	AvgEntryPrice decimal.Decimal // cents, YES axis
	RealizedPnL   decimal.Decimal // cents
	LastFillID    string
	LastUpdated   time.Time
}

// Side reports which side the position is long: "yes", "no", or "flat".
func (p Position) Side() string {
	switch {
	case p.NetContracts > 0:
		return string(types.SideYes)
	case p.NetContracts < 0:
		return string(types.SideNo)
	default:
		return "flat"
	}
}

// ExposureCents is the maximum loss in cents if the outcome resolves against
// the position: contracts·price for long YES, contracts·(100−price) for long NO.
func (p Position) ExposureCents() int64 {
	if p.NetContracts == 0 {
		return 0
	}
	count := decimal.NewFromInt(int64(abs(p.NetContracts)))
	if p.NetContracts > 0 {
		return p.AvgEntryPrice.Mul(count).Round(0).IntPart()
	}
	return hundred.Sub(p.AvgEntryPrice).Mul(count).Round(0).IntPart()
}

// RealizedPnLCents returns realized P&L rounded to whole cents.
func (p Position) RealizedPnLCents() int64 {
	return p.RealizedPnL.Round(0).IntPart()
}

// Ledger tracks positions across markets. Safe for concurrent use; the fill
// poller writes, the control loop and dashboard read.
type Ledger struct {
	mu        sync.RWMutex
	positions map[string]*Position
	fills     []types.Fill
	balance   types.Balance
	hasBal    bool
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{positions: make(map[string]*Position)}
}

func (l *Ledger) pos(ticker string) *Position {
	p, ok := l.positions[ticker]
	if !ok {
		p = &Position{Ticker: ticker}
		l.positions[ticker] = p
	}
	return p
}

// Get returns a copy of the position for ticker (zero if never traded).
func (l *Ledger) Get(ticker string) Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if p, ok := l.positions[ticker]; ok {
		return *p
	}
	return Position{Ticker: ticker}
}

// All returns a snapshot of every non-zero position.
func (l *Ledger) All() []Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Position, 0, len(l.positions))
	for _, p := range l.positions {
		if p.NetContracts != 0 {
			out = append(out, *p)
		}
	}
	return out
}

// SetPosition seeds a position from the portfolio endpoint at startup.
// avgEntry may be zero when the API does not report an entry price.
func (l *Ledger) SetPosition(ticker string, netContracts int, avgEntry decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p := l.pos(ticker)
	p.NetContracts = netContracts
	p.AvgEntryPrice = avgEntry
	p.LastUpdated = time.Now()
}

// ApplyFill applies one executed fill to the ledger and returns the updated
// position. The position delta is signed by the fill's action alone: buys add
// contracts, sells remove them, regardless of the reported side. Reapplying
// the fill most recently applied is a no-op (applied=false).
func (l *Ledger) ApplyFill(f types.Fill) (Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p := l.pos(f.Ticker)
	if f.FillID != "" && f.FillID == p.LastFillID {
		return *p, false
	}

	delta := f.Count
	if f.Action == types.ActionSell {
		delta = -f.Count
	}

	old := p.NetContracts
	newNet := old + delta
	price := decimal.NewFromInt(int64(f.YesPrice))

	switch {
	case old == 0 || sameSign(old, delta):
		// Opening or adding: weighted average entry over the new size.
		oldAbs := decimal.NewFromInt(int64(abs(old)))
		addAbs := decimal.NewFromInt(int64(abs(delta)))
		newAbs := decimal.NewFromInt(int64(abs(newNet)))
		p.AvgEntryPrice = p.AvgEntryPrice.Mul(oldAbs).Add(price.Mul(addAbs)).Div(newAbs)

	default:
		// Reducing or flipping: realize P&L on the closed contracts.
		closed := decimal.NewFromInt(int64(min(abs(old), abs(delta))))
		if old > 0 {
			p.RealizedPnL = p.RealizedPnL.Add(price.Sub(p.AvgEntryPrice).Mul(closed))
		} else {
			p.RealizedPnL = p.RealizedPnL.Add(p.AvgEntryPrice.Sub(price).Mul(closed))
		}
		if newNet == 0 {
			p.AvgEntryPrice = decimal.Zero
		} else if !sameSign(newNet, old) {
			// Sign flip: the remainder opens a fresh position at the fill price.
			p.AvgEntryPrice = price
		}
	}

	p.NetContracts = newNet
	p.LastFillID = f.FillID
	if !f.CreatedTime.IsZero() {
		p.LastUpdated = f.CreatedTime
	} else {
		p.LastUpdated = time.Now()
	}

	l.fills = append(l.fills, f)
	if len(l.fills) > fillTailSize {
		l.fills = l.fills[len(l.fills)-fillTailSize:]
	}

	return *p, true
}

// TotalExposureCents sums exposure across all positions.
func (l *Ledger) TotalExposureCents() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var total int64
	for _, p := range l.positions {
		total += p.ExposureCents()
	}
	return total
}

// SetBalance caches the latest balance snapshot.
func (l *Ledger) SetBalance(b types.Balance) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balance = b
	l.hasBal = true
}

// Balance returns the cached balance and whether one has been set.
func (l *Ledger) Balance() (types.Balance, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balance, l.hasBal
}

// RecentFills returns up to n of the most recently applied fills, newest last.
func (l *Ledger) RecentFills(n int) []types.Fill {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n > len(l.fills) {
		n = len(l.fills)
	}
	out := make([]types.Fill, n)
	copy(out, l.fills[len(l.fills)-n:])
	return out
}

func sameSign(a, b int) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
