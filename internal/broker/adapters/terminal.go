package adapters

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/fleet-orchestrator/internal/broker"
	"github.com/atlas-desktop/fleet-orchestrator/internal/resolver"
	"github.com/atlas-desktop/fleet-orchestrator/pkg/types"
)

func init() {
	broker.Register(types.BrokerTerminal, newTerminalAdapter)
}

// terminalRetcodes maps the native MT4/MT5 terminal return codes (TRADE_RETCODE_*) the bridge
// forwards verbatim into the closed taxonomy (§4.3).
var terminalRetcodes = map[int]types.ErrKind{
	10004: types.ErrRateLimited,        // TRADE_RETCODE_REQUOTE
	10006: types.ErrCancelled,          // TRADE_RETCODE_REJECT
	10013: types.ErrInvalidStops,       // TRADE_RETCODE_INVALID
	10015: types.ErrInvalidStops,       // TRADE_RETCODE_INVALID_PRICE
	10016: types.ErrInvalidStops,       // TRADE_RETCODE_INVALID_STOPS
	10018: types.ErrSymbolNotTradable,  // TRADE_RETCODE_MARKET_CLOSED
	10019: types.ErrInsufficientMargin, // TRADE_RETCODE_NO_MONEY
	10021: types.ErrPricePlausibility,  // TRADE_RETCODE_PRICE_CHANGED
	10027: types.ErrSymbolNotTradable,  // TRADE_RETCODE_TRADE_DISABLED
	10030: types.ErrInvalidFilling,     // TRADE_RETCODE_INVALID_FILL
}

// terminalAdapter bridges to a locally running MT4/MT5 terminal process over a line-delimited
// JSON TCP protocol, mirroring the same broker.Adapter contract as the REST-based adapters so
// the rest of the pipeline never branches on transport (§4.3).
type terminalAdapter struct {
	host string
	port int

	resolver *resolver.Resolver

	mu        sync.Mutex
	conn      net.Conn
	reader    *bufio.Reader
	sessionID string
}

func newTerminalAdapter(bundle types.CredentialBundle) (broker.Adapter, error) {
	if bundle.TerminalHost == "" || bundle.TerminalPort == 0 {
		return nil, types.NewOrderError(types.ErrConfigError, "terminal bridge requires terminalHost and terminalPort", 0)
	}
	return &terminalAdapter{host: bundle.TerminalHost, port: bundle.TerminalPort, resolver: resolver.New(nil)}, nil
}

func (a *terminalAdapter) Name() string { return "terminal" }

// terminalRequest/terminalResponse are the bridge's line-delimited JSON envelope: one request,
// one response, no multiplexing — the local terminal process handles one command at a time.
type terminalRequest struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params,omitempty"`
}

type terminalResponse struct {
	OK      bool            `json:"ok"`
	Retcode int             `json:"retcode,omitempty"`
	Error   string          `json:"error,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

func (a *terminalAdapter) Connect(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", a.host, a.port))
	if err != nil {
		return types.NewOrderError(types.ErrConnectionFailed, err.Error(), 0)
	}
	a.mu.Lock()
	a.conn = conn
	a.reader = bufio.NewReader(conn)
	a.sessionID = uuid.New().String()
	a.mu.Unlock()

	resp, err := a.call(ctx, "hello", map[string]any{"session": a.sessionID})
	if err != nil {
		a.Disconnect(ctx)
		return err
	}
	if !resp.OK {
		a.Disconnect(ctx)
		return types.NewOrderError(types.ErrConnectionFailed, resp.Error, 0)
	}
	if symbols, err := a.Instruments(ctx); err == nil {
		a.resolver.IndexSymbols(symbols)
	}
	return nil
}

func (a *terminalAdapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return nil
	}
	err := a.conn.Close()
	a.conn = nil
	a.reader = nil
	return err
}

// call sends one request and reads exactly one response line; the bridge protocol is strictly
// request/response so there is no need for a separate read-loop goroutine here.
func (a *terminalAdapter) call(ctx context.Context, command string, params map[string]any) (*terminalResponse, error) {
	a.mu.Lock()
	conn, reader := a.conn, a.reader
	a.mu.Unlock()
	if conn == nil {
		return nil, types.NewOrderError(types.ErrConnectionFailed, "terminal bridge not connected", 0)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(15 * time.Second))
	}

	line, err := json.Marshal(terminalRequest{Command: command, Params: params})
	if err != nil {
		return nil, fmt.Errorf("terminal: encode request: %w", err)
	}
	if _, err := conn.Write(append(line, '\n')); err != nil {
		return nil, types.NewOrderError(types.ErrTransport, err.Error(), 0)
	}

	raw, err := reader.ReadBytes('\n')
	if err != nil {
		return nil, types.NewOrderError(types.ErrTransport, err.Error(), 0)
	}
	var resp terminalResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("terminal: decode response: %w", err)
	}
	return &resp, nil
}

func (a *terminalAdapter) AccountInfo(ctx context.Context) (types.AccountInfo, error) {
	resp, err := a.call(ctx, "account_info", nil)
	if err != nil {
		return types.AccountInfo{}, err
	}
	if !resp.OK {
		return types.AccountInfo{}, types.NewOrderError(types.ErrUnknown, resp.Error, resp.Retcode)
	}
	var payload struct {
		Balance, Equity, MarginUsed, MarginFree, ProfitUnrealized, ProfitToday, Leverage float64
		Currency                                                                         string
	}
	if err := json.Unmarshal(resp.Result, &payload); err != nil {
		return types.AccountInfo{}, fmt.Errorf("terminal: decode account_info: %w", err)
	}
	return types.AccountInfo{
		Balance: decimal.NewFromFloat(payload.Balance), Equity: decimal.NewFromFloat(payload.Equity),
		MarginUsed: decimal.NewFromFloat(payload.MarginUsed), MarginAvailable: decimal.NewFromFloat(payload.MarginFree),
		UnrealizedPnL: decimal.NewFromFloat(payload.ProfitUnrealized), RealizedPnLToday: decimal.NewFromFloat(payload.ProfitToday),
		Currency: payload.Currency, Leverage: decimal.NewFromFloat(payload.Leverage),
	}, nil
}

func (a *terminalAdapter) Instruments(ctx context.Context) ([]string, error) {
	resp, err := a.call(ctx, "symbols", nil)
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, types.NewOrderError(types.ErrUnknown, resp.Error, resp.Retcode)
	}
	var symbols []string
	if err := json.Unmarshal(resp.Result, &symbols); err != nil {
		return nil, fmt.Errorf("terminal: decode symbols: %w", err)
	}
	return symbols, nil
}

func (a *terminalAdapter) SymbolSpec(ctx context.Context, canonical string) (types.InstrumentSpec, error) {
	resp, err := a.call(ctx, "symbol_spec", map[string]any{"symbol": canonical})
	if err != nil {
		return types.InstrumentSpec{}, err
	}
	if !resp.OK {
		return types.InstrumentSpec{}, types.NewOrderError(types.ErrSymbolNotFound, resp.Error, resp.Retcode)
	}
	var payload struct {
		Point, TickSize, TickValue, ContractSize, VolumeMin, VolumeMax, VolumeStep, StopsLevel, FreezeLevel float64
		FillingModes                                                                                        []string
		TradeMode                                                                                           string
	}
	if err := json.Unmarshal(resp.Result, &payload); err != nil {
		return types.InstrumentSpec{}, fmt.Errorf("terminal: decode symbol_spec: %w", err)
	}
	return types.InstrumentSpec{
		Symbol: canonical, PointSize: decimal.NewFromFloat(payload.Point), TickSize: decimal.NewFromFloat(payload.TickSize),
		TickValue: decimal.NewFromFloat(payload.TickValue), ContractSize: decimal.NewFromFloat(payload.ContractSize),
		MinVolume: decimal.NewFromFloat(payload.VolumeMin), MaxVolume: decimal.NewFromFloat(payload.VolumeMax),
		VolumeStep: decimal.NewFromFloat(payload.VolumeStep), StopsLevel: decimal.NewFromFloat(payload.StopsLevel),
		FreezeLevel: decimal.NewFromFloat(payload.FreezeLevel), FillingModes: payload.FillingModes, TradeMode: payload.TradeMode,
	}, nil
}

func (a *terminalAdapter) CurrentPrice(ctx context.Context, canonical string) (types.Tick, error) {
	prices, err := a.Prices(ctx, []string{canonical})
	if err != nil {
		return types.Tick{}, err
	}
	tick, ok := prices[canonical]
	if !ok {
		return types.Tick{}, types.NewOrderError(types.ErrSymbolNotFound, "no price for "+canonical, 0)
	}
	return tick, nil
}

func (a *terminalAdapter) Prices(ctx context.Context, canonicals []string) (map[string]types.Tick, error) {
	resp, err := a.call(ctx, "prices", map[string]any{"symbols": canonicals})
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, types.NewOrderError(types.ErrUnknown, resp.Error, resp.Retcode)
	}
	var raw map[string]struct{ Bid, Ask float64 }
	if err := json.Unmarshal(resp.Result, &raw); err != nil {
		return nil, fmt.Errorf("terminal: decode prices: %w", err)
	}
	out := make(map[string]types.Tick, len(raw))
	now := time.Now()
	for sym, q := range raw {
		out[sym] = types.Tick{Symbol: sym, Bid: decimal.NewFromFloat(q.Bid), Ask: decimal.NewFromFloat(q.Ask), Timestamp: now}
	}
	return out, nil
}

// StreamPrices polls the bridge on a short interval; the terminal protocol is request/response
// only and has no native push channel to multiplex alongside order calls on the same socket.
func (a *terminalAdapter) StreamPrices(ctx context.Context, canonicals []string) (<-chan types.Tick, error) {
	ch := make(chan types.Tick)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				prices, err := a.Prices(ctx, canonicals)
				if err != nil {
					continue
				}
				for _, tick := range prices {
					select {
					case ch <- tick:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return ch, nil
}

func (a *terminalAdapter) Candles(ctx context.Context, canonical string, tf types.Timeframe, count int) ([]types.OHLCV, error) {
	resp, err := a.call(ctx, "candles", map[string]any{"symbol": canonical, "timeframe": string(tf), "count": count})
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, types.NewOrderError(types.ErrUnknown, resp.Error, resp.Retcode)
	}
	var raw []struct {
		Time                           int64
		Open, High, Low, Close, Volume float64
	}
	if err := json.Unmarshal(resp.Result, &raw); err != nil {
		return nil, fmt.Errorf("terminal: decode candles: %w", err)
	}
	out := make([]types.OHLCV, len(raw))
	for i, c := range raw {
		out[i] = types.OHLCV{
			Timestamp: time.Unix(c.Time, 0), Open: decimal.NewFromFloat(c.Open), High: decimal.NewFromFloat(c.High),
			Low: decimal.NewFromFloat(c.Low), Close: decimal.NewFromFloat(c.Close), Volume: decimal.NewFromFloat(c.Volume),
		}
	}
	return out, nil
}

func (a *terminalAdapter) PlaceOrder(ctx context.Context, req types.OrderRequest) types.OrderResult {
	resp, err := a.call(ctx, "order_send", map[string]any{
		"symbol": req.Symbol, "direction": req.Direction, "volume": req.Volume.String(),
		"sl": req.StopLoss.String(), "tp": req.TakeProfit.String(), "comment": req.Comment,
	})
	if err != nil {
		if oe, ok := err.(*types.OrderError); ok {
			return rejected(oe.Kind, oe.Message, oe.Retcode)
		}
		return rejected(types.ErrTransport, err.Error(), 0)
	}
	if !resp.OK {
		kind, known := terminalRetcodes[resp.Retcode]
		if !known {
			kind = types.ErrUnknown
		}
		return rejected(kind, resp.Error, resp.Retcode)
	}
	var payload struct {
		OrderID string
		Price   float64
		Volume  float64
	}
	if err := json.Unmarshal(resp.Result, &payload); err != nil {
		return rejected(types.ErrUnknown, "decode order_send result: "+err.Error(), 0)
	}
	return types.OrderResult{
		OrderID: payload.OrderID, Status: types.OrderStatusFilled,
		FilledPrice: decimal.NewFromFloat(payload.Price), FilledVolume: decimal.NewFromFloat(payload.Volume), Timestamp: time.Now(),
	}
}

func (a *terminalAdapter) CancelOrder(ctx context.Context, orderID string) bool {
	resp, err := a.call(ctx, "order_cancel", map[string]any{"orderId": orderID})
	if err != nil {
		return false
	}
	return resp.OK
}

func (a *terminalAdapter) GetOrder(ctx context.Context, orderID string) (*types.OrderResult, error) {
	resp, err := a.call(ctx, "order_get", map[string]any{"orderId": orderID})
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, types.NewOrderError(types.ErrUnknown, resp.Error, resp.Retcode)
	}
	var result types.OrderResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("terminal: decode order_get: %w", err)
	}
	return &result, nil
}

func (a *terminalAdapter) OpenOrders(ctx context.Context, canonical string) ([]types.OrderResult, error) {
	resp, err := a.call(ctx, "orders_open", map[string]any{"symbol": canonical})
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, types.NewOrderError(types.ErrUnknown, resp.Error, resp.Retcode)
	}
	var results []types.OrderResult
	if err := json.Unmarshal(resp.Result, &results); err != nil {
		return nil, fmt.Errorf("terminal: decode orders_open: %w", err)
	}
	return results, nil
}

func (a *terminalAdapter) Positions(ctx context.Context) ([]types.Position, error) {
	resp, err := a.call(ctx, "positions", nil)
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, types.NewOrderError(types.ErrUnknown, resp.Error, resp.Retcode)
	}
	var positions []types.Position
	if err := json.Unmarshal(resp.Result, &positions); err != nil {
		return nil, fmt.Errorf("terminal: decode positions: %w", err)
	}
	return positions, nil
}

func (a *terminalAdapter) Position(ctx context.Context, canonical string) (*types.Position, error) {
	positions, err := a.Positions(ctx)
	if err != nil {
		return nil, err
	}
	for i := range positions {
		if positions[i].Symbol == canonical {
			return &positions[i], nil
		}
	}
	return nil, nil
}

func (a *terminalAdapter) ClosePosition(ctx context.Context, canonical string, partialVolume *types.OrderRequest) (types.OrderResult, error) {
	params := map[string]any{"symbol": canonical}
	if partialVolume != nil {
		params["volume"] = partialVolume.Volume.String()
	}
	resp, err := a.call(ctx, "position_close", params)
	if err != nil {
		return types.OrderResult{}, err
	}
	if !resp.OK {
		return types.OrderResult{}, types.NewOrderError(types.ErrUnknown, resp.Error, resp.Retcode)
	}
	var result types.OrderResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return types.OrderResult{}, fmt.Errorf("terminal: decode position_close: %w", err)
	}
	return result, nil
}

func (a *terminalAdapter) ModifyPosition(ctx context.Context, canonical string, sl, tp *types.OrderRequest) bool {
	params := map[string]any{"symbol": canonical}
	if sl != nil {
		params["sl"] = sl.StopLoss.String()
	}
	if tp != nil {
		params["tp"] = tp.TakeProfit.String()
	}
	resp, err := a.call(ctx, "position_modify", params)
	if err != nil {
		return false
	}
	return resp.OK
}

func (a *terminalAdapter) CanTradeSymbol(ctx context.Context, canonical string, direction types.Direction) (bool, string, string) {
	if a.resolver.IsNegativelyCached(canonical, direction) {
		return false, "symbol resolution negatively cached", ""
	}
	native, ok := a.resolver.Resolve(canonical)
	if !ok {
		a.resolver.MarkNegative(canonical, direction)
		return false, "no broker-native spelling found for " + canonical, ""
	}
	spec, err := a.SymbolSpec(ctx, native)
	if err != nil {
		return true, "transient lookup failure", native
	}
	if spec.TradeMode != "" && spec.TradeMode != "FULL" {
		a.resolver.MarkNegative(canonical, direction)
		return false, "trade_mode=" + spec.TradeMode, native
	}
	return true, "", native
}
