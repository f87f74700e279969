// Package logring provides the bot's bounded structured log ring and its deep status snapshot
// (C14, §4.11). Every decision point (analysis, trade, skip, error, news) writes one immutable
// entry; no entry is ever mutated after being appended.
//
// Grounded on the teacher's internal/execution/order_manager.go (mu-guarded append-only history
// keyed by order id) and risk_manager.go (bounded trade-history tracking), generalized into a
// single generic ring via pkg/utils.Ring[T]. Library: github.com/google/uuid for entry ids.
package logring

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atlas-desktop/fleet-orchestrator/pkg/types"
	"github.com/atlas-desktop/fleet-orchestrator/pkg/utils"
)

const (
	ringCapacity    = 500
	statusTailLen   = 30
	statusErrorsLen = 5
)

// Ring is a bot's bounded, append-only structured log (last 500 entries, §4.11).
type Ring struct {
	mu     sync.Mutex
	all    *utils.Ring[types.LogEntry]
	errors *utils.Ring[types.LogEntry]
	now    func() time.Time
}

// New builds an empty log ring. nowFn is injectable for tests; nil uses time.Now.
func New(nowFn func() time.Time) *Ring {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Ring{
		all:    utils.NewRing[types.LogEntry](ringCapacity),
		errors: utils.NewRing[types.LogEntry](statusErrorsLen),
		now:    nowFn,
	}
}

// Append writes one immutable entry to the ring (and to the error sub-ring when it is an error).
func (r *Ring) Append(entryType types.LogEntryType, symbol, message string, details map[string]any) types.LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := types.LogEntry{
		ID:        uuid.NewString(),
		Timestamp: r.now(),
		Symbol:    symbol,
		Type:      entryType,
		Message:   message,
		Details:   details,
	}
	r.all.Push(entry)
	if entryType == types.LogError {
		r.errors.Push(entry)
	}
	return entry
}

// Info, Analysis, Trade, Skip, Error, and News are convenience wrappers over Append.
func (r *Ring) Info(symbol, message string)     { r.Append(types.LogInfo, symbol, message, nil) }
func (r *Ring) Analysis(symbol, message string) { r.Append(types.LogAnalysis, symbol, message, nil) }
func (r *Ring) Trade(symbol, message string, details map[string]any) {
	r.Append(types.LogTrade, symbol, message, details)
}
func (r *Ring) Skip(symbol, reason string)   { r.Append(types.LogSkip, symbol, reason, nil) }
func (r *Ring) Error(symbol, message string) { r.Append(types.LogError, symbol, message, nil) }
func (r *Ring) News(symbol, message string)  { r.Append(types.LogNews, symbol, message, nil) }

// Tail returns the most recent n entries, oldest first.
func (r *Ring) Tail(n int) []types.LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.all.Last(n)
}

// RecentErrors returns up to the last 5 error entries, oldest first.
func (r *Ring) RecentErrors() []types.LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errors.Last(statusErrorsLen)
}

// StatusSnapshot is the bot's deep snapshot returned by Bot.Status() (§4.11): lifecycle, today
// counters, open positions, last 30 log entries, last 5 errors.
type StatusSnapshot struct {
	AccountID      string              `json:"accountId"`
	State          string              `json:"state"`
	TradesToday    int                 `json:"tradesToday"`
	LossToday      float64             `json:"lossTodayPercent"`
	OpenPositions  []types.TradeRecord `json:"openPositions"`
	RecentLog      []types.LogEntry    `json:"recentLog"`
	RecentErrors   []types.LogEntry    `json:"recentErrors"`
	LastAnalysisAt time.Time           `json:"lastAnalysisAt"`
}

// Snapshot assembles the deep status view this ring contributes (log tail + recent errors); the
// caller fills in the remaining lifecycle/counters/positions fields it alone owns.
func (r *Ring) Snapshot() (recentLog, recentErrors []types.LogEntry) {
	return r.Tail(statusTailLen), r.RecentErrors()
}
