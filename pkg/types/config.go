// Package types provides configuration types for the fleet orchestrator.
package types

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// SmartExitConfig controls the position supervisor's retrace-exit logic (§4.7).
type SmartExitConfig struct {
	Enabled         bool            `json:"enabled"`
	MinRR           decimal.Decimal `json:"minRr"`
	DrawdownPercent decimal.Decimal `json:"drawdownPercent"` // stored 0-100, divided by 100 at use
}

// NewsFilterConfig controls the news-blackout gate.
type NewsFilterConfig struct {
	Enabled       bool   `json:"enabled"`
	MinutesBefore int    `json:"minutesBefore"`
	MinutesAfter  int    `json:"minutesAfter"`
	MinImpact     string `json:"minImpact"` // HIGH, MEDIUM, LOW
}

// CredentialBundle holds adapter-agnostic credentials for exactly one account. A bundle
// resolved for one account must never be shared with another bot's adapter instance (§4.10).
type CredentialBundle struct {
	BrokerType BrokerType `json:"brokerType"`

	// Gateway-REST (MetaTrader)
	AccessToken string `json:"accessToken,omitempty"`
	AccountID   string `json:"accountId,omitempty"`

	// OANDA v20
	OandaAPIToken string `json:"oandaApiToken,omitempty"`
	OandaEnv      string `json:"oandaEnv,omitempty"` // "practice" | "live"

	// Platform-REST (generic: cTrader / DXtrade / MatchTrader)
	PlatformKind string `json:"platformKind,omitempty"`
	BaseURL      string `json:"baseUrl,omitempty"`
	Login        string `json:"login,omitempty"`
	Password     string `json:"password,omitempty"`

	// Terminal bridge (in-process MT4/MT5)
	TerminalHost string `json:"terminalHost,omitempty"`
	TerminalPort int    `json:"terminalPort,omitempty"`
}

// BotConfig is the mutable-only-via-configure() configuration of one account's bot.
type BotConfig struct {
	WatchList           []string         `json:"watchList"`
	AnalysisMode        AnalysisMode     `json:"analysisMode"`
	IntervalSeconds     int              `json:"intervalSeconds"`
	EnabledModels       []string         `json:"enabledModels"`
	MinConfidence       decimal.Decimal  `json:"minConfidence"`
	MinModelsAgree      int              `json:"minModelsAgree"`
	MinConfluence       decimal.Decimal  `json:"minConfluence"`
	RiskPerTradePercent decimal.Decimal  `json:"riskPerTradePercent"`
	MaxOpenPositions    int              `json:"maxOpenPositions"`
	MaxDailyTrades      int              `json:"maxDailyTrades"`
	MaxDailyLossPercent decimal.Decimal  `json:"maxDailyLossPercent"`
	TradingStartHour    int              `json:"tradingStartHour"` // UTC, [0,24)
	TradingEndHour      int              `json:"tradingEndHour"`   // UTC, (start,24]
	AlwaysOn            bool             `json:"alwaysOn"`
	TradeOnWeekends     bool             `json:"tradeOnWeekends"`
	MinRiskReward       decimal.Decimal  `json:"minRiskReward"`
	MaxRiskReward       decimal.Decimal  `json:"maxRiskReward"`
	SmartExit           SmartExitConfig  `json:"smartExit"`
	NewsFilter          NewsFilterConfig `json:"newsFilter"`
	Credentials         CredentialBundle `json:"credentials"`
}

// Validate enforces the invariants of §3: min_risk_reward ≤ max_risk_reward,
// 0 ≤ start_hour < end_hour ≤ 24 (wrap not allowed, unless AlwaysOn), interval_seconds ≥ 60,
// risk_per_trade_percent ≤ 10, smart_exit_drawdown_percent ∈ [0,100].
func (c *BotConfig) Validate() error {
	if c.MinRiskReward.GreaterThan(c.MaxRiskReward) {
		return fmt.Errorf("min_risk_reward %s exceeds max_risk_reward %s", c.MinRiskReward, c.MaxRiskReward)
	}
	if !c.AlwaysOn {
		if c.TradingStartHour < 0 || c.TradingEndHour > 24 || c.TradingStartHour >= c.TradingEndHour {
			return fmt.Errorf("trading window [%d,%d) invalid: require 0 <= start < end <= 24", c.TradingStartHour, c.TradingEndHour)
		}
	}
	if c.IntervalSeconds < 60 {
		return fmt.Errorf("interval_seconds %d below minimum 60", c.IntervalSeconds)
	}
	if c.RiskPerTradePercent.GreaterThan(decimal.NewFromInt(10)) || c.RiskPerTradePercent.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("risk_per_trade_percent %s out of range (0,10]", c.RiskPerTradePercent)
	}
	if c.SmartExit.Enabled {
		if c.SmartExit.DrawdownPercent.LessThan(decimal.Zero) || c.SmartExit.DrawdownPercent.GreaterThan(decimal.NewFromInt(100)) {
			return fmt.Errorf("smart_exit drawdown_percent %s out of range [0,100]", c.SmartExit.DrawdownPercent)
		}
	}
	return nil
}

// Account is the persisted row the Manager reloads on every start() (§4.10, §6).
type Account struct {
	ID                  string           `json:"id"`
	Name                string           `json:"name"`
	BrokerType          BrokerType       `json:"brokerType"`
	Credentials         CredentialBundle `json:"credentials"`
	WatchList           []string         `json:"watchList"`
	AnalysisMode        AnalysisMode     `json:"analysisMode"`
	IntervalSeconds     int              `json:"intervalSeconds"`
	MinConfidence       decimal.Decimal  `json:"minConfidence"`
	MinModelsAgree      int              `json:"minModelsAgree"`
	RiskPerTradePercent decimal.Decimal  `json:"riskPerTradePercent"`
	MaxOpenPositions    int              `json:"maxOpenPositions"`
	MaxDailyTrades      int              `json:"maxDailyTrades"`
	MaxDailyLossPercent decimal.Decimal  `json:"maxDailyLossPercent"`
	TradingStartHour    int              `json:"tradingStartHour"`
	TradingEndHour      int              `json:"tradingEndHour"`
	TradeOnWeekends     bool             `json:"tradeOnWeekends"`
	EnabledModels       []string         `json:"enabledModels"`
	PlatformID          string           `json:"platformId,omitempty"`
	Enabled             bool             `json:"enabled"`
}

// ToBotConfig projects an Account row into the bot configuration shape, filling in defaults
// that the Account row does not carry (min/max risk-reward, smart exit, news filter) the way
// the Manager does on every reload.
func (a *Account) ToBotConfig(minRR, maxRR decimal.Decimal, smartExit SmartExitConfig, newsFilter NewsFilterConfig) *BotConfig {
	return &BotConfig{
		WatchList:           a.WatchList,
		AnalysisMode:        a.AnalysisMode,
		IntervalSeconds:     a.IntervalSeconds,
		EnabledModels:       a.EnabledModels,
		MinConfidence:       a.MinConfidence,
		MinModelsAgree:      a.MinModelsAgree,
		RiskPerTradePercent: a.RiskPerTradePercent,
		MaxOpenPositions:    a.MaxOpenPositions,
		MaxDailyTrades:      a.MaxDailyTrades,
		MaxDailyLossPercent: a.MaxDailyLossPercent,
		TradingStartHour:    a.TradingStartHour,
		TradingEndHour:      a.TradingEndHour,
		TradeOnWeekends:     a.TradeOnWeekends,
		MinRiskReward:       minRR,
		MaxRiskReward:       maxRR,
		SmartExit:           smartExit,
		NewsFilter:          newsFilter,
		Credentials:         a.Credentials,
	}
}
