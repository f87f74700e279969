package identity

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// RejectReason explains why Guard.Check rejected a tick.
type RejectReason string

const (
	RejectNone          RejectReason = ""
	RejectCrossedBook   RejectReason = "ask_below_bid"
	RejectOutOfBounds   RejectReason = "mid_out_of_plausibility_bounds"
	RejectSpreadTooWide RejectReason = "spread_ratio_exceeded"
	RejectMidJump       RejectReason = "mid_jump_exceeded_window_ratio"
)

type lastValid struct {
	mid decimal.Decimal
	at  time.Time
}

// Guard implements the price-plausibility check of §4.1/§8 invariant 8: rejecting a tick must
// never write to the last-valid mid cache (idempotent rejection).
type Guard struct {
	mu   sync.Mutex
	last map[string]lastValid
	now  func() time.Time
}

// NewGuard creates a plausibility guard. nowFn is injectable for deterministic tests; pass nil
// to use time.Now.
func NewGuard(nowFn func() time.Time) *Guard {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Guard{last: make(map[string]lastValid), now: nowFn}
}

// Check validates bid/ask for canonical against the plausibility bounds, book-crossing, spread
// ratio, and the 1-hour mid-jump window (§4.1). On acceptance it updates the last-valid-mid
// cache for canonical; on rejection the cache is left untouched.
func (g *Guard) Check(canonical string, bid, ask decimal.Decimal) RejectReason {
	if ask.LessThan(bid) {
		return RejectCrossedBook
	}
	mid := bid.Add(ask).Div(decimal.NewFromInt(2))
	if mid.IsZero() {
		return RejectOutOfBounds
	}

	low, high := PlausibilityBounds(canonical)
	if mid.LessThan(low) || mid.GreaterThan(high) {
		return RejectOutOfBounds
	}

	spreadRatio := ask.Sub(bid).Div(mid)
	if spreadRatio.GreaterThan(MaxSpreadRatio(canonical)) {
		return RejectSpreadTooWide
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if prev, ok := g.last[canonical]; ok && g.now().Sub(prev.at) <= time.Hour && !prev.mid.IsZero() {
		ratio := mid.Div(prev.mid)
		if ratio.LessThan(decimal.NewFromInt(1)) {
			ratio = decimal.NewFromInt(1).Div(ratio)
		}
		if ratio.GreaterThan(MaxMidRatio(canonical)) {
			return RejectMidJump
		}
	}

	g.last[canonical] = lastValid{mid: mid, at: g.now()}
	return RejectNone
}
