// Package broker defines the uniform adapter contract (C2, §4.2) implemented by every
// concrete broker driver in internal/broker/adapters.
//
// Grounded on the teacher's internal/execution/executor.go ExchangeAdapter interface, expanded
// with the additional operations (candles, can_trade_symbol, modify_position) the spec requires.
package broker

import (
	"context"

	"github.com/atlas-desktop/fleet-orchestrator/pkg/types"
)

// Adapter is the uniform contract every concrete broker driver implements (§4.2).
type Adapter interface {
	Name() string

	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error // idempotent

	AccountInfo(ctx context.Context) (types.AccountInfo, error)
	Instruments(ctx context.Context) ([]string, error)
	SymbolSpec(ctx context.Context, canonical string) (types.InstrumentSpec, error)

	CurrentPrice(ctx context.Context, canonical string) (types.Tick, error)
	Prices(ctx context.Context, canonicals []string) (map[string]types.Tick, error)
	// StreamPrices emits ticks on the returned channel until ctx is cancelled. The channel is
	// closed when the stream ends. The polling adapters keep polling through transient errors;
	// the OANDA stream ends on its first read error and is not reconnected.
	StreamPrices(ctx context.Context, canonicals []string) (<-chan types.Tick, error)

	Candles(ctx context.Context, canonical string, tf types.Timeframe, count int) ([]types.OHLCV, error)

	PlaceOrder(ctx context.Context, req types.OrderRequest) types.OrderResult
	CancelOrder(ctx context.Context, orderID string) bool
	GetOrder(ctx context.Context, orderID string) (*types.OrderResult, error)
	OpenOrders(ctx context.Context, canonical string) ([]types.OrderResult, error)

	Positions(ctx context.Context) ([]types.Position, error)
	Position(ctx context.Context, canonical string) (*types.Position, error)
	ClosePosition(ctx context.Context, canonical string, partialVolume *types.OrderRequest) (types.OrderResult, error)
	ModifyPosition(ctx context.Context, canonical string, sl, tp *types.OrderRequest) bool

	// CanTradeSymbol reports tradability and the resolved broker-native symbol. On a transient
	// internal failure it returns (true, "transient lookup failure", native), native being the
	// resolved broker symbol, rather than blocking trading on an infra hiccup (§4.3).
	CanTradeSymbol(ctx context.Context, canonical string, direction types.Direction) (bool, string, string)
}

// Factory constructs an Adapter from a credential bundle. New broker types register under a
// string key (§9 "dynamic pluggable broker adapters").
type Factory func(bundle types.CredentialBundle) (Adapter, error)

var registry = map[types.BrokerType]Factory{}

// Register adds a broker-type factory to the global registry. Called from adapter package
// init()s.
func Register(brokerType types.BrokerType, f Factory) {
	registry[brokerType] = f
}

// New constructs an adapter for the given credential bundle's broker type.
func New(bundle types.CredentialBundle) (Adapter, error) {
	f, ok := registry[bundle.BrokerType]
	if !ok {
		return nil, &UnknownBrokerTypeError{BrokerType: bundle.BrokerType}
	}
	return f(bundle)
}

// UnknownBrokerTypeError is returned by New when no factory is registered for a broker type.
type UnknownBrokerTypeError struct {
	BrokerType types.BrokerType
}

func (e *UnknownBrokerTypeError) Error() string {
	return "broker: no adapter registered for broker type " + string(e.BrokerType)
}
