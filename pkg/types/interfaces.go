package types

import "context"

// AIOracle is the opaque multi-model analysis contract (§6, §9). It never raises; a failed
// per-model call surfaces as an Opinion{Direction: HOLD, Confidence: 0, Error: <text>}.
type AIOracle interface {
	// Analyze runs one model against one symbol/timeframe/mode.
	Analyze(ctx context.Context, symbol string, tf Timeframe, mode AnalysisMode, model string) Opinion
	// AnalyzeAll dispatches every enabled model in parallel and joins the results; the oracle
	// is responsible for deduplicating any shared market-data prefetch across models.
	AnalyzeAll(ctx context.Context, symbol string, tf Timeframe, mode AnalysisMode, models []string) []Opinion
}

// NewsOracle is the economic-calendar blackout contract (§6).
type NewsOracle interface {
	// ShouldAvoidTrading reports whether canonicalSymbol is currently inside a blackout window,
	// and the triggering event if so.
	ShouldAvoidTrading(ctx context.Context, canonicalSymbol string, cfg NewsFilterConfig) (bool, *NewsEvent)
	// FetchEvents refreshes the oracle's internal calendar. Callers invoke this at most hourly.
	FetchEvents(ctx context.Context) error
}

// NotificationSink is a best-effort fire-and-forget text sink; failures must never propagate.
type NotificationSink interface {
	Notify(text string)
}

// AccountStore is the external persistence collaborator for the Manager (§6).
type AccountStore interface {
	LoadAccounts(ctx context.Context) ([]*Account, error)
	GetAccount(ctx context.Context, id string) (*Account, error)
	UpdateConnected(ctx context.Context, id string, connected bool) error
}
