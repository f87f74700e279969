package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/fleet-orchestrator/internal/broker"
	"github.com/atlas-desktop/fleet-orchestrator/internal/cache"
	"github.com/atlas-desktop/fleet-orchestrator/pkg/types"
)

func init() {
	broker.Register(types.BrokerOandaV20, newOandaAdapter)
}

// oandaSymbols is the static compile-time canonical->OANDA instrument map (§4.3: "symbol map
// static"). New instruments are added here, not resolved dynamically.
var oandaSymbols = map[string]string{
	"EUR_USD": "EUR_USD", "GBP_USD": "GBP_USD", "USD_JPY": "USD_JPY", "AUD_USD": "AUD_USD",
	"USD_CAD": "USD_CAD", "USD_CHF": "USD_CHF", "NZD_USD": "NZD_USD", "XAU_USD": "XAU_USD",
}

// oandaTimeframes is the static Timeframe->OANDA granularity table (§4.3).
var oandaTimeframes = map[types.Timeframe]string{
	types.Timeframe1m: "M1", types.Timeframe5m: "M5", types.Timeframe15m: "M15",
	types.Timeframe30m: "M30", types.Timeframe1h: "H1", types.Timeframe4h: "H4", types.Timeframe1d: "D",
}

// oandaAdapter talks to the OANDA v20 REST API plus its streaming pricing endpoint, read over a
// persistent gorilla/websocket connection; each message is split on newlines and every line is
// decoded as one JSON object (§4.3).
type oandaAdapter struct {
	log       *zap.Logger
	http      *http.Client
	cache     *cache.Cache
	baseURL   string
	streamURL string
	token     string
	accountID string
}

func newOandaAdapter(bundle types.CredentialBundle) (broker.Adapter, error) {
	if bundle.OandaAPIToken == "" {
		return nil, types.NewOrderError(types.ErrCredentialError, "oanda_v20 requires oandaApiToken", 0)
	}
	env := bundle.OandaEnv
	if env == "" {
		env = "practice"
	}
	base := "https://api-fxpractice.oanda.com/v3"
	stream := "wss://stream-fxpractice.oanda.com/v3"
	if env == "live" {
		base = "https://api-fxtrade.oanda.com/v3"
		stream = "wss://stream-fxtrade.oanda.com/v3"
	}
	log := zap.NewNop()
	return &oandaAdapter{
		log: log, http: newHTTPClient(log, 30*time.Second), cache: newCache(nil),
		baseURL: base, streamURL: stream, token: bundle.OandaAPIToken, accountID: bundle.AccountID,
	}, nil
}

func (a *oandaAdapter) Name() string { return "oanda_v20" }

func (a *oandaAdapter) Connect(ctx context.Context) error {
	_, err := a.doJSON(ctx, http.MethodGet, "/accounts/"+a.accountID, nil)
	return err
}

func (a *oandaAdapter) Disconnect(ctx context.Context) error { return nil }

func (a *oandaAdapter) AccountInfo(ctx context.Context) (types.AccountInfo, error) {
	if v, fresh, _ := a.cache.Get(classAccountInfo); fresh {
		return v.(types.AccountInfo), nil
	}
	body, err := a.doJSON(ctx, http.MethodGet, "/accounts/"+a.accountID+"/summary", nil)
	if err != nil {
		if oe, ok := err.(*types.OrderError); ok && oe.Kind == types.ErrRateLimited {
			if v, _, stale := a.cache.Get(classAccountInfo); stale {
				return v.(types.AccountInfo), nil
			}
		}
		return types.AccountInfo{}, err
	}
	var payload struct {
		Account struct {
			Balance, NAV, MarginUsed, MarginAvailable, UnrealizedPL, PL float64 `json:",string"`
			Currency                                                    string
			MarginRate                                                  float64 `json:",string"`
		} `json:"account"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return types.AccountInfo{}, fmt.Errorf("oanda_v20: decode account summary: %w", err)
	}
	leverage := decimal.NewFromInt(1)
	if payload.Account.MarginRate > 0 {
		leverage = decimal.NewFromFloat(1 / payload.Account.MarginRate)
	}
	info := types.AccountInfo{
		Balance: decimal.NewFromFloat(payload.Account.Balance), Equity: decimal.NewFromFloat(payload.Account.NAV),
		MarginUsed: decimal.NewFromFloat(payload.Account.MarginUsed), MarginAvailable: decimal.NewFromFloat(payload.Account.MarginAvailable),
		UnrealizedPnL: decimal.NewFromFloat(payload.Account.UnrealizedPL), RealizedPnLToday: decimal.NewFromFloat(payload.Account.PL),
		Currency: payload.Account.Currency, Leverage: leverage,
	}
	a.cache.Set(classAccountInfo, info, classTTLs[classAccountInfo])
	return info, nil
}

func (a *oandaAdapter) Instruments(ctx context.Context) ([]string, error) {
	out := make([]string, 0, len(oandaSymbols))
	for canonical := range oandaSymbols {
		out = append(out, canonical)
	}
	return out, nil
}

func (a *oandaAdapter) SymbolSpec(ctx context.Context, canonical string) (types.InstrumentSpec, error) {
	native, ok := oandaSymbols[canonical]
	if !ok {
		return types.InstrumentSpec{}, types.NewOrderError(types.ErrSymbolNotFound, canonical, 0)
	}
	body, err := a.doJSON(ctx, http.MethodGet, "/accounts/"+a.accountID+"/instruments?instruments="+native, nil)
	if err != nil {
		return types.InstrumentSpec{}, err
	}
	var payload struct {
		Instruments []struct {
			PipLocation      int
			MinimumTradeSize string `json:"minimumTradeSize"`
			MarginRate       string
		}
	}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.Instruments) == 0 {
		return types.InstrumentSpec{}, fmt.Errorf("oanda_v20: decode instrument spec: %w", err)
	}
	inst := payload.Instruments[0]
	pip := decimal.New(1, int32(inst.PipLocation))
	minVol, _ := decimal.NewFromString(inst.MinimumTradeSize)
	return types.InstrumentSpec{
		Symbol: canonical, PointSize: pip, TickSize: pip, TickValue: decimal.NewFromInt(1),
		ContractSize: decimal.NewFromInt(1), MinVolume: minVol, MaxVolume: decimal.NewFromInt(100000000),
		VolumeStep: decimal.NewFromInt(1), TradeMode: "FULL", FetchedAt: time.Now(),
	}, nil
}

func (a *oandaAdapter) CurrentPrice(ctx context.Context, canonical string) (types.Tick, error) {
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

func (a *oandaAdapter) Prices(ctx context.Context, canonicals []string) (map[string]types.Tick, error) {
	natives := make([]string, 0, len(canonicals))
	for _, c := range canonicals {
		if n, ok := oandaSymbols[c]; ok {
			natives = append(natives, n)
		}
	}
	if !a.cache.Allow(classPrices) {
		return staleOrEmptyPrices(a.cache, a.log, classPrices), nil
	}
	body, err := a.doJSON(ctx, http.MethodGet, "/accounts/"+a.accountID+"/pricing?instruments="+strings.Join(natives, ","), nil)
	if err != nil {
		if oe, ok := err.(*types.OrderError); ok && oe.Kind == types.ErrRateLimited {
			return staleOrEmptyPrices(a.cache, a.log, classPrices), nil
		}
		return nil, err
	}
	var payload struct {
		Prices []struct {
			Instrument string
			Bids       []struct{ Price string }
			Asks       []struct{ Price string }
		}
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("oanda_v20: decode pricing: %w", err)
	}
	out := make(map[string]types.Tick, len(payload.Prices))
	now := time.Now()
	for _, p := range payload.Prices {
		if len(p.Bids) == 0 || len(p.Asks) == 0 {
			continue
		}
		bid, _ := decimal.NewFromString(p.Bids[0].Price)
		ask, _ := decimal.NewFromString(p.Asks[0].Price)
		out[p.Instrument] = types.Tick{Symbol: p.Instrument, Bid: bid, Ask: ask, Timestamp: now}
	}
	a.cache.Set(classPrices, out, classTTLs[classPrices])
	return out, nil
}

// StreamPrices opens OANDA's streaming pricing channel over a persistent websocket connection
// and decodes one JSON object per line of each message — only type=PRICE objects are emitted;
// HEARTBEAT objects are discarded (§4.3). Grounded on the teacher's Binance ticker stream (dialer with a
// handshake timeout, a dedicated read loop goroutine, reconnect-on-error left to the caller).
func (a *oandaAdapter) StreamPrices(ctx context.Context, canonicals []string) (<-chan types.Tick, error) {
	natives := make([]string, 0, len(canonicals))
	for _, c := range canonicals {
		if n, ok := oandaSymbols[c]; ok {
			natives = append(natives, n)
		}
	}
	url := a.streamURL + "/accounts/" + a.accountID + "/pricing/stream?instruments=" + strings.Join(natives, ",")

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := http.Header{"Authorization": {"Bearer " + a.token}}
	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, types.NewOrderError(types.ErrConnectionFailed, err.Error(), 0)
	}

	ch := make(chan types.Tick)
	go func() {
		defer close(ch)
		defer conn.Close()
		for {
			if ctxDone(ctx) {
				return
			}
			_, message, err := conn.ReadMessage()
			if err != nil {
				a.log.Warn("oanda price stream ended", zap.Error(err))
				return
			}
			for _, line := range bytes.Split(message, []byte("\n")) {
				tick, ok := decodeOandaStreamLine(line)
				if !ok {
					continue
				}
				select {
				case ch <- tick:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}

func decodeOandaStreamLine(line []byte) (types.Tick, bool) {
	var msg struct {
		Type       string
		Instrument string
		Bids       []struct{ Price string }
		Asks       []struct{ Price string }
		Time       string
	}
	if err := json.Unmarshal(bytes.TrimSpace(line), &msg); err != nil {
		return types.Tick{}, false
	}
	if msg.Type != "PRICE" || len(msg.Bids) == 0 || len(msg.Asks) == 0 {
		return types.Tick{}, false
	}
	bid, _ := decimal.NewFromString(msg.Bids[0].Price)
	ask, _ := decimal.NewFromString(msg.Asks[0].Price)
	ts, err := time.Parse(time.RFC3339Nano, msg.Time)
	if err != nil {
		ts = time.Now()
	}
	return types.Tick{Symbol: msg.Instrument, Bid: bid, Ask: ask, Timestamp: ts}, true
}

func (a *oandaAdapter) Candles(ctx context.Context, canonical string, tf types.Timeframe, count int) ([]types.OHLCV, error) {
	native, ok := oandaSymbols[canonical]
	if !ok {
		return nil, types.NewOrderError(types.ErrSymbolNotFound, canonical, 0)
	}
	granularity, ok := oandaTimeframes[tf]
	if !ok {
		granularity = "H1"
	}
	path := fmt.Sprintf("/instruments/%s/candles?granularity=%s&count=%d&price=M", native, granularity, count)
	body, err := a.doJSON(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Candles []struct {
			Time   string
			Mid    struct{ O, H, L, C string }
			Volume int64
		}
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("oanda_v20: decode candles: %w", err)
	}
	out := make([]types.OHLCV, 0, len(payload.Candles))
	for _, c := range payload.Candles {
		ts, _ := time.Parse(time.RFC3339Nano, c.Time)
		o, _ := decimal.NewFromString(c.Mid.O)
		h, _ := decimal.NewFromString(c.Mid.H)
		l, _ := decimal.NewFromString(c.Mid.L)
		cl, _ := decimal.NewFromString(c.Mid.C)
		out = append(out, types.OHLCV{Timestamp: ts, Open: o, High: h, Low: l, Close: cl, Volume: decimal.NewFromInt(c.Volume)})
	}
	return out, nil
}

func (a *oandaAdapter) PlaceOrder(ctx context.Context, req types.OrderRequest) types.OrderResult {
	native, ok := oandaSymbols[req.Symbol]
	if !ok {
		return rejected(types.ErrSymbolNotFound, req.Symbol, 0)
	}
	units := req.Volume
	if req.Direction == types.DirectionShort {
		units = units.Neg()
	}
	payload := map[string]any{
		"order": map[string]any{
			"type": "MARKET", "instrument": native, "units": units.String(), "timeInForce": "FOK",
			"stopLossOnFill":   map[string]any{"price": req.StopLoss.String()},
			"takeProfitOnFill": map[string]any{"price": req.TakeProfit.String()},
		},
	}
	body, err := a.doJSON(ctx, http.MethodPost, "/accounts/"+a.accountID+"/orders", payload)
	if err != nil {
		if oe, ok := err.(*types.OrderError); ok {
			return rejected(oe.Kind, oe.Message, oe.Retcode)
		}
		return rejected(types.ErrTransport, err.Error(), 0)
	}
	var result struct {
		OrderFillTransaction *struct {
			Price       string
			TradeOpened struct {
				Units   string
				TradeID string
			}
		}
		OrderRejectTransaction *struct{ RejectReason string }
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return rejected(types.ErrUnknown, "decode order response: "+err.Error(), 0)
	}
	if result.OrderRejectTransaction != nil {
		return rejected(oandaRejectReasonKind(result.OrderRejectTransaction.RejectReason), result.OrderRejectTransaction.RejectReason, 0)
	}
	if result.OrderFillTransaction == nil {
		return rejected(types.ErrUnknown, "order neither filled nor rejected", 0)
	}
	price, _ := decimal.NewFromString(result.OrderFillTransaction.Price)
	filledUnits, _ := decimal.NewFromString(result.OrderFillTransaction.TradeOpened.Units)
	return types.OrderResult{
		OrderID: result.OrderFillTransaction.TradeOpened.TradeID, Status: types.OrderStatusFilled,
		FilledPrice: price, FilledVolume: filledUnits.Abs(), Timestamp: time.Now(),
	}
}

func oandaRejectReasonKind(reason string) types.ErrKind {
	switch {
	case strings.Contains(reason, "MARGIN"):
		return types.ErrInsufficientMargin
	case strings.Contains(reason, "PRICE_BOUND") || strings.Contains(reason, "STOP_LOSS") || strings.Contains(reason, "TAKE_PROFIT"):
		return types.ErrInvalidStops
	case strings.Contains(reason, "INSTRUMENT"):
		return types.ErrSymbolNotTradable
	default:
		return types.ErrUnknown
	}
}

func (a *oandaAdapter) CancelOrder(ctx context.Context, orderID string) bool {
	_, err := a.doJSON(ctx, http.MethodPut, "/accounts/"+a.accountID+"/orders/"+orderID+"/cancel", nil)
	return err == nil
}

func (a *oandaAdapter) GetOrder(ctx context.Context, orderID string) (*types.OrderResult, error) {
	body, err := a.doJSON(ctx, http.MethodGet, "/accounts/"+a.accountID+"/orders/"+orderID, nil)
	if err != nil {
		return nil, err
	}
	var result types.OrderResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("oanda_v20: decode order: %w", err)
	}
	return &result, nil
}

func (a *oandaAdapter) OpenOrders(ctx context.Context, canonical string) ([]types.OrderResult, error) {
	native := oandaSymbols[canonical]
	body, err := a.doJSON(ctx, http.MethodGet, "/accounts/"+a.accountID+"/orders?instrument="+native, nil)
	if err != nil {
		return nil, err
	}
	var results []types.OrderResult
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, fmt.Errorf("oanda_v20: decode open orders: %w", err)
	}
	return results, nil
}

func (a *oandaAdapter) Positions(ctx context.Context) ([]types.Position, error) {
	if v, fresh, _ := a.cache.Get(classPositions); fresh {
		return v.([]types.Position), nil
	}
	body, err := a.doJSON(ctx, http.MethodGet, "/accounts/"+a.accountID+"/openTrades", nil)
	if err != nil {
		if oe, ok := err.(*types.OrderError); ok && oe.Kind == types.ErrRateLimited {
			if v, _, stale := a.cache.Get(classPositions); stale {
				return v.([]types.Position), nil
			}
		}
		return nil, err
	}
	var payload struct {
		Trades []struct {
			Instrument, CurrentUnits, Price, UnrealizedPL string
			StopLossOrder                                 *struct{ Price string }
			TakeProfitOrder                               *struct{ Price string }
		}
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("oanda_v20: decode open trades: %w", err)
	}
	out := make([]types.Position, 0, len(payload.Trades))
	for _, t := range payload.Trades {
		units, _ := decimal.NewFromString(t.CurrentUnits)
		dir := types.DirectionLong
		if units.IsNegative() {
			dir = types.DirectionShort
		}
		entry, _ := decimal.NewFromString(t.Price)
		pos := types.Position{Symbol: t.Instrument, Direction: dir, Volume: units.Abs(), EntryPrice: entry}
		if t.StopLossOrder != nil {
			pos.StopLoss, _ = decimal.NewFromString(t.StopLossOrder.Price)
		}
		if t.TakeProfitOrder != nil {
			pos.TakeProfit, _ = decimal.NewFromString(t.TakeProfitOrder.Price)
		}
		out = append(out, pos)
	}
	a.cache.Set(classPositions, out, classTTLs[classPositions])
	return out, nil
}

func (a *oandaAdapter) Position(ctx context.Context, canonical string) (*types.Position, error) {
	positions, err := a.Positions(ctx)
	if err != nil {
		return nil, err
	}
	native := oandaSymbols[canonical]
	for i := range positions {
		if positions[i].Symbol == native {
			return &positions[i], nil
		}
	}
	return nil, nil
}

func (a *oandaAdapter) ClosePosition(ctx context.Context, canonical string, partialVolume *types.OrderRequest) (types.OrderResult, error) {
	native := oandaSymbols[canonical]
	payload := map[string]any{"units": "ALL"}
	if partialVolume != nil {
		payload["units"] = partialVolume.Volume.String()
	}
	body, err := a.doJSON(ctx, http.MethodPut, "/accounts/"+a.accountID+"/positions/"+native+"/close", payload)
	if err != nil {
		return types.OrderResult{}, err
	}
	var result types.OrderResult
	if err := json.Unmarshal(body, &result); err != nil {
		return types.OrderResult{}, fmt.Errorf("oanda_v20: decode close: %w", err)
	}
	return result, nil
}

func (a *oandaAdapter) ModifyPosition(ctx context.Context, canonical string, sl, tp *types.OrderRequest) bool {
	payload := map[string]any{}
	if sl != nil {
		payload["stopLoss"] = map[string]any{"price": sl.StopLoss.String()}
	}
	if tp != nil {
		payload["takeProfit"] = map[string]any{"price": tp.TakeProfit.String()}
	}
	native := oandaSymbols[canonical]
	_, err := a.doJSON(ctx, http.MethodPut, "/accounts/"+a.accountID+"/trades/"+native+"/orders", payload)
	return err == nil
}

func (a *oandaAdapter) CanTradeSymbol(ctx context.Context, canonical string, direction types.Direction) (bool, string, string) {
	native, ok := oandaSymbols[canonical]
	if !ok {
		return false, "not in static symbol map", ""
	}
	return true, "", native
}

func (a *oandaAdapter) doJSON(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("oanda_v20: encode request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("oanda_v20: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, types.NewOrderError(types.ErrTransport, err.Error(), 0)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		until := blackoutFromRetryAfter(resp, time.Now())
		a.cache.Blackout(classPrices, until)
		a.cache.Blackout(classAccountInfo, until)
		a.cache.Blackout(classPositions, until)
		return nil, types.NewOrderError(types.ErrRateLimited, "oanda returned 429", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("oanda_v20: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, types.NewOrderError(types.ErrTransport, fmt.Sprintf("oanda status %d: %s", resp.StatusCode, body), resp.StatusCode)
	}
	return body, nil
}
