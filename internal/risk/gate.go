// Package risk enforces pre-trade limits.
//
// The Gate is side-effect-free: it reads the ledger and the configured
// limits, and answers two questions for a candidate order — may it be
// placed, and how large could it be. A rejected order is a decision, not
// an error.
package risk

import (
	"fmt"

	"kalshi-mm/internal/config"
	"kalshi-mm/internal/ledger"
	"kalshi-mm/pkg/types"
)

// Gate applies position and exposure limits to candidate orders.
type Gate struct {
	maxPosition int
	maxExposure int64 // cents
	ledger      *ledger.Ledger
}

// NewGate creates a risk gate over the ledger.
func NewGate(cfg config.RiskConfig, l *ledger.Ledger) *Gate {
	return &Gate{
		maxPosition: cfg.MaxPositionSize,
		maxExposure: cfg.MaxTotalExposureCents(),
		ledger:      l,
	}
}

// signedDelta converts a buy of `contracts` on a side into a net-position
// delta on the YES axis.
func signedDelta(side types.Side, contracts int) int {
	if side == types.SideNo {
		return -contracts
	}
	return contracts
}

// costPerContract is the capital at risk per contract at the given YES price.
func costPerContract(side types.Side, priceCents int) int {
	if side == types.SideNo {
		return 100 - priceCents
	}
	return priceCents
}

// CanAdd reports whether a candidate order is allowed.
//
// Risk-reducing orders — those that move |net| strictly toward zero — are
// always allowed: closing risk is never blocked by caps. Otherwise the order
// must keep |net| within the position limit and total exposure within the
// exposure limit.
func (g *Gate) CanAdd(ticker string, side types.Side, contracts, priceCents int) (bool, string) {
	if contracts <= 0 {
		return false, "contracts must be positive"
	}
	if priceCents < 1 || priceCents > 99 {
		return false, fmt.Sprintf("price %d out of range [1, 99]", priceCents)
	}

	cur := g.ledger.Get(ticker).NetContracts
	delta := signedDelta(side, contracts)
	newPos := cur + delta

	if cur != 0 && sign(cur) != sign(delta) && abs(newPos) < abs(cur) {
		return true, "risk-reducing"
	}

	if abs(newPos) > g.maxPosition {
		return false, fmt.Sprintf("position %d would exceed limit %d", abs(newPos), g.maxPosition)
	}

	// Hypothetical exposure: the new position at the proposed price, plus
	// every other ticker's current exposure.
	var hypothetical int64
	if newPos > 0 {
		hypothetical = int64(newPos) * int64(priceCents)
	} else if newPos < 0 {
		hypothetical = int64(-newPos) * int64(100-priceCents)
	}
	others := g.ledger.TotalExposureCents() - g.ledger.Get(ticker).ExposureCents()
	if total := hypothetical + others; total > g.maxExposure {
		return false, fmt.Sprintf("exposure %dc would exceed limit %dc", total, g.maxExposure)
	}

	return true, ""
}

// MaxSize returns the largest order on (side, priceCents) that passes all
// limits: position headroom, exposure headroom, and available balance.
func (g *Gate) MaxSize(ticker string, side types.Side, priceCents int) int {
	if priceCents < 1 || priceCents > 99 {
		return 0
	}

	cur := g.ledger.Get(ticker).NetContracts
	var headroom int
	if side == types.SideYes {
		headroom = g.maxPosition - cur
	} else {
		headroom = g.maxPosition + cur
	}
	if headroom < 0 {
		headroom = 0
	}

	cost := int64(costPerContract(side, priceCents))
	remaining := g.maxExposure - g.ledger.TotalExposureCents()
	if remaining < 0 {
		remaining = 0
	}
	byExposure := int(remaining / cost)

	size := min(headroom, byExposure)
	if bal, ok := g.ledger.Balance(); ok {
		size = min(size, int(bal.Balance/cost))
	}
	return size
}

func sign(n int) int {
	switch {
	case n > 0:
		return 1
	case n < 0:
		return -1
	default:
		return 0
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
