// Package types provides shared type definitions for the fleet orchestrator.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the trade direction a consensus or opinion can resolve to.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
	DirectionHold  Direction = "HOLD"
)

// AnalysisMode controls how much AI budget a bot spends per tick.
type AnalysisMode string

const (
	AnalysisModeQuick    AnalysisMode = "quick"
	AnalysisModeStandard AnalysisMode = "standard"
	AnalysisModePremium  AnalysisMode = "premium"
	AnalysisModeUltra    AnalysisMode = "ultra"
)

// Timeframe codes accepted throughout the orchestrator.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe30m Timeframe = "30m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

// TradeStatus is the lifecycle state of a TradeRecord.
type TradeStatus string

const (
	TradeStatusOpen            TradeStatus = "open"
	TradeStatusClosedTP        TradeStatus = "closed_tp"
	TradeStatusClosedSL        TradeStatus = "closed_sl"
	TradeStatusClosedManual    TradeStatus = "closed_manual"
	TradeStatusClosedBE        TradeStatus = "closed_be"
	TradeStatusClosedSmartExit TradeStatus = "closed_smart_exit"
)

// BrokerType identifies which concrete adapter a CredentialBundle targets.
type BrokerType string

const (
	BrokerGatewayRest  BrokerType = "gateway_rest"
	BrokerOandaV20     BrokerType = "oanda_v20"
	BrokerPlatformRest BrokerType = "platform_rest"
	BrokerTerminal     BrokerType = "terminal_bridge"
)

// Tick is a single bid/ask quote.
type Tick struct {
	Symbol    string          `json:"symbol"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Timestamp time.Time       `json:"timestamp"`
}

// Mid returns the midpoint price of the tick.
func (t Tick) Mid() decimal.Decimal {
	return t.Bid.Add(t.Ask).Div(decimal.NewFromInt(2))
}

// Spread returns ask-bid.
func (t Tick) Spread() decimal.Decimal {
	return t.Ask.Sub(t.Bid)
}

// OHLCV is a single candlestick.
type OHLCV struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// InstrumentSpec carries broker-reported contract parameters for one canonical symbol.
// Any field may be its zero value when the broker did not report it; the pipeline applies
// conservative fallbacks rather than treating a zero field as a crash condition.
type InstrumentSpec struct {
	Symbol       string          `json:"symbol"`
	PointSize    decimal.Decimal `json:"pointSize"`
	TickSize     decimal.Decimal `json:"tickSize"`
	TickValue    decimal.Decimal `json:"tickValue"`
	ContractSize decimal.Decimal `json:"contractSize"`
	MinVolume    decimal.Decimal `json:"minVolume"`
	MaxVolume    decimal.Decimal `json:"maxVolume"`
	VolumeStep   decimal.Decimal `json:"volumeStep"`
	StopsLevel   decimal.Decimal `json:"stopsLevel"`
	FreezeLevel  decimal.Decimal `json:"freezeLevel"`
	FillingModes []string        `json:"fillingModes"`
	TradeMode    string          `json:"tradeMode"` // "FULL", "DISABLED", "CLOSE_ONLY", ...
	FetchedAt    time.Time       `json:"fetchedAt"`
}

// OrderRequest describes an order the pipeline asks an adapter to place.
type OrderRequest struct {
	Symbol     string          `json:"symbol"`
	Direction  Direction       `json:"direction"`
	Volume     decimal.Decimal `json:"volume"`
	StopLoss   decimal.Decimal `json:"stopLoss"`
	TakeProfit decimal.Decimal `json:"takeProfit"`
	Comment    string          `json:"comment,omitempty"`
	ClientTag  string          `json:"clientTag,omitempty"`
}

// OrderStatus is the broker-facing outcome of an order submission.
type OrderStatus string

const (
	OrderStatusFilled   OrderStatus = "filled"
	OrderStatusRejected OrderStatus = "rejected"
	OrderStatusPartial  OrderStatus = "partial"
	OrderStatusPending  OrderStatus = "pending"
)

// OrderResult is the outcome of an adapter order operation. It is always returned, never raised;
// a failed submission carries Status=Rejected with ErrorMessage/Message/Retcode populated.
// ErrorMessage carries the ErrKind taxonomy string (types.ErrKind(result.ErrorMessage) recovers
// it); Message carries the broker's own rejection text verbatim, for logs and user display (§7).
type OrderResult struct {
	OrderID      string          `json:"orderId"`
	Status       OrderStatus     `json:"status"`
	FilledPrice  decimal.Decimal `json:"filledPrice"`
	FilledVolume decimal.Decimal `json:"filledVolume"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	Message      string          `json:"message,omitempty"`
	Retcode      int             `json:"retcode,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

// AccountInfo is the broker account snapshot used for sizing and margin checks.
type AccountInfo struct {
	Balance          decimal.Decimal `json:"balance"`
	Equity           decimal.Decimal `json:"equity"`
	MarginUsed       decimal.Decimal `json:"marginUsed"`
	MarginAvailable  decimal.Decimal `json:"marginAvailable"`
	UnrealizedPnL    decimal.Decimal `json:"unrealizedPnl"`
	RealizedPnLToday decimal.Decimal `json:"realizedPnlToday"`
	Currency         string          `json:"currency"`
	Leverage         decimal.Decimal `json:"leverage"`
}

// Position is a broker-reported open position, as returned by Adapter.Positions.
type Position struct {
	Symbol       string          `json:"symbol"`
	Direction    Direction       `json:"direction"`
	Volume       decimal.Decimal `json:"volume"`
	EntryPrice   decimal.Decimal `json:"entryPrice"`
	CurrentPrice decimal.Decimal `json:"currentPrice"`
	StopLoss     decimal.Decimal `json:"stopLoss"`
	TakeProfit   decimal.Decimal `json:"takeProfit"`
}

// TradeRecord is the orchestrator's in-memory record of a trade it opened, owned by the bot
// state and mutated exclusively by the position supervisor or by reconciliation.
type TradeRecord struct {
	ID                 string          `json:"id"` // broker order id
	Symbol             string          `json:"symbol"`
	Direction          Direction       `json:"direction"`
	EntryPrice         decimal.Decimal `json:"entryPrice"`
	InitialStopLoss    decimal.Decimal `json:"initialStopLoss"`
	StopLoss           decimal.Decimal `json:"stopLoss"`
	TakeProfit         decimal.Decimal `json:"takeProfit"`
	Units              decimal.Decimal `json:"units"`
	OpenedAt           time.Time       `json:"openedAt"`
	Confidence         decimal.Decimal `json:"confidence"`
	TimeframesAnalyzed []Timeframe     `json:"timeframesAnalyzed"`
	ModelsAgreed       int             `json:"modelsAgreed"`
	TotalModels        int             `json:"totalModels"`
	Status             TradeStatus     `json:"status"`
	ExitPrice          decimal.Decimal `json:"exitPrice"`
	ExitTimestamp      time.Time       `json:"exitTimestamp"`
	ProfitLoss         decimal.Decimal `json:"profitLoss"`
	BreakEvenTrigger   decimal.Decimal `json:"breakEvenTrigger"`
	TrailingStopPips   decimal.Decimal `json:"trailingStopPips"`
	PartialTPPercent   decimal.Decimal `json:"partialTpPercent"`
	IsBreakEven        bool            `json:"isBreakEven"`
	ExtremePrice       decimal.Decimal `json:"extremePrice"`
	MaxFavorableRR     decimal.Decimal `json:"maxFavorableRr"`
}

// IsLong reports whether the trade direction is LONG.
func (t *TradeRecord) IsLong() bool { return t.Direction == DirectionLong }

// Opinion is one AI model's analysis of a symbol. Errors surface as a HOLD opinion carrying
// a non-empty Error field; the oracle never raises.
type Opinion struct {
	Model            string          `json:"model"`
	Direction        Direction       `json:"direction"`
	Confidence       decimal.Decimal `json:"confidence"`
	Entry            decimal.Decimal `json:"entry"`
	StopLoss         decimal.Decimal `json:"stopLoss"`
	TakeProfit       decimal.Decimal `json:"takeProfit"`
	BreakEvenTrigger decimal.Decimal `json:"breakEvenTrigger"`
	TrailingStopPips decimal.Decimal `json:"trailingStopPips"`
	Timeframe        Timeframe       `json:"timeframe"`
	StyleTag         string          `json:"styleTag,omitempty"`
	IndicatorTags    []string        `json:"indicatorTags,omitempty"`
	Reasoning        string          `json:"reasoning,omitempty"`
	Error            string          `json:"error,omitempty"`
}

// HasError reports whether the opinion is an error-carrying HOLD.
func (o Opinion) HasError() bool { return o.Error != "" }

// Consensus is the aggregated outcome of N Opinions for one symbol.
type Consensus struct {
	Symbol             string          `json:"symbol"`
	Direction          Direction       `json:"direction"`
	MeanConfidence     decimal.Decimal `json:"meanConfidence"`
	ModelsAgreed       int             `json:"modelsAgreed"`
	TotalValid         int             `json:"totalValid"`
	Entry              decimal.Decimal `json:"entry"`
	StopLoss           decimal.Decimal `json:"stopLoss"`
	TakeProfit         decimal.Decimal `json:"takeProfit"`
	BreakEvenTrigger   decimal.Decimal `json:"breakEvenTrigger"`
	TrailingStopPips   decimal.Decimal `json:"trailingStopPips"`
	IsStrongSignal     bool            `json:"isStrongSignal"`
	TimeframeAlignment decimal.Decimal `json:"timeframeAlignment"`
	IsAligned          bool            `json:"isAligned"`
}

// LogEntryType classifies an observability log ring entry.
type LogEntryType string

const (
	LogInfo     LogEntryType = "info"
	LogAnalysis LogEntryType = "analysis"
	LogTrade    LogEntryType = "trade"
	LogSkip     LogEntryType = "skip"
	LogError    LogEntryType = "error"
	LogNews     LogEntryType = "news"
)

// LogEntry is one immutable structured observability record.
type LogEntry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Symbol    string         `json:"symbol,omitempty"`
	Type      LogEntryType   `json:"type"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
}

// NewsEvent is a single economic-calendar event as reported by the News Blackout Oracle.
type NewsEvent struct {
	Title     string    `json:"title"`
	Currency  string    `json:"currency"`
	Impact    string    `json:"impact"` // HIGH, MEDIUM, LOW
	EventTime time.Time `json:"eventTime"`
}
