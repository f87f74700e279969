// Package scheduler evaluates the bot main loop's gating conditions: trading-hours window,
// weekend gate, daily trade/loss limits, and the hourly news-refresh-due check (C15, §4.8).
//
// Grounded on the teacher's internal/autonomous/agent.go isWithinTradingHours weekday/time.Parse
// pattern, generalized from a fixed trade-days list to the spec's UTC [start_hour, end_hour)
// window plus the AlwaysOn escape hatch. No pack library models trading calendars — a bare UTC
// hour-of-day comparison against time.Time is simpler and more auditable than reaching for a
// calendar library for a single inequality, so this package is stdlib-only by design (§1B).
package scheduler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/fleet-orchestrator/pkg/types"
)

// InTradingWindow reports whether now falls inside [start_hour, end_hour) UTC, or true
// unconditionally when cfg.AlwaysOn is set (Open Question decision, §9).
func InTradingWindow(cfg types.BotConfig, now time.Time) bool {
	if cfg.AlwaysOn {
		return true
	}
	hour := now.UTC().Hour()
	return hour >= cfg.TradingStartHour && hour < cfg.TradingEndHour
}

// IsWeekend reports whether now (UTC) falls on Saturday or Sunday.
func IsWeekend(now time.Time) bool {
	d := now.UTC().Weekday()
	return d == time.Saturday || d == time.Sunday
}

// DailyLimitsReached reports whether the day's trade count or loss has hit its configured cap.
func DailyLimitsReached(cfg types.BotConfig, tradesToday int, lossPercentToday decimal.Decimal) bool {
	if cfg.MaxDailyTrades > 0 && tradesToday >= cfg.MaxDailyTrades {
		return true
	}
	if cfg.MaxDailyLossPercent.IsPositive() && lossPercentToday.GreaterThanOrEqual(cfg.MaxDailyLossPercent) {
		return true
	}
	return false
}

// NewsRefreshDue reports whether at least one hour has elapsed since lastFetchedAt (§4.8
// "refresh_news_calendar_if_due // hourly").
func NewsRefreshDue(lastFetchedAt time.Time, now time.Time) bool {
	return lastFetchedAt.IsZero() || now.Sub(lastFetchedAt) >= time.Hour
}

// ShouldRun combines the trading-window, weekend, and daily-limit gates into the single decision
// the main loop needs before it does any per-symbol work. tradeOnWeekends bypasses the weekend
// gate for markets that trade around the clock.
func ShouldRun(cfg types.BotConfig, now time.Time, tradesToday int, lossPercentToday decimal.Decimal) (ok bool, sleepHint time.Duration) {
	if !InTradingWindow(cfg, now) {
		return false, 60 * time.Second
	}
	if !cfg.TradeOnWeekends && IsWeekend(now) {
		return false, 60 * time.Second
	}
	if DailyLimitsReached(cfg, tradesToday, lossPercentToday) {
		return false, 300 * time.Second
	}
	return true, 0
}
