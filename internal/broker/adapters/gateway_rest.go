package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/fleet-orchestrator/internal/broker"
	"github.com/atlas-desktop/fleet-orchestrator/internal/cache"
	"github.com/atlas-desktop/fleet-orchestrator/internal/resolver"
	"github.com/atlas-desktop/fleet-orchestrator/pkg/types"
)

func init() {
	broker.Register(types.BrokerGatewayRest, newGatewayRestAdapter)
}

// gatewayRetcodes maps the gateway's broker-native return codes into the closed taxonomy
// (§7). Codes are illustrative of a MetaTrader-style bridge, not any one vendor's exact set.
var gatewayRetcodes = map[int]types.ErrKind{
	10019: types.ErrInsufficientMargin,
	10016: types.ErrInvalidStops,
	10018: types.ErrSymbolNotTradable,
	10021: types.ErrInvalidFilling,
	10030: types.ErrInvalidFilling,
}

// gatewayRestAdapter talks to a MetaTrader-bridging gateway over plain REST, authenticated with
// a bearer access token scoped to one account id (§4.3).
type gatewayRestAdapter struct {
	log       *zap.Logger
	http      *http.Client
	cache     *cache.Cache
	resolver  *resolver.Resolver
	baseURL   string
	token     string
	accountID string
}

// defaultGatewayBaseURL is used when a bundle does not name a self-hosted gateway instance.
const defaultGatewayBaseURL = "https://gateway.internal/api/v1"

func newGatewayRestAdapter(bundle types.CredentialBundle) (broker.Adapter, error) {
	if bundle.AccessToken == "" || bundle.AccountID == "" {
		return nil, types.NewOrderError(types.ErrCredentialError, "gateway-rest requires accessToken and accountId", 0)
	}
	baseURL := bundle.BaseURL
	if baseURL == "" {
		baseURL = defaultGatewayBaseURL
	}
	log := zap.NewNop()
	return &gatewayRestAdapter{
		log:       log,
		http:      newHTTPClient(log, 30*time.Second),
		cache:     newCache(nil),
		resolver:  resolver.New(nil),
		baseURL:   baseURL,
		token:     bundle.AccessToken,
		accountID: bundle.AccountID,
	}, nil
}

func (a *gatewayRestAdapter) Name() string { return "gateway_rest" }

func (a *gatewayRestAdapter) Connect(ctx context.Context) error {
	if _, err := a.doJSON(ctx, http.MethodGet, "/accounts/"+a.accountID, nil); err != nil {
		return err
	}
	if symbols, err := a.Instruments(ctx); err == nil {
		a.resolver.IndexSymbols(symbols)
	}
	return nil
}

func (a *gatewayRestAdapter) Disconnect(ctx context.Context) error { return nil }

func (a *gatewayRestAdapter) AccountInfo(ctx context.Context) (types.AccountInfo, error) {
	if v, fresh, _ := a.cache.Get(classAccountInfo); fresh {
		return v.(types.AccountInfo), nil
	}
	if !a.cache.Allow(classAccountInfo) {
		if v, _, stale := a.cache.Get(classAccountInfo); stale {
			return v.(types.AccountInfo), nil
		}
		return types.AccountInfo{}, types.NewOrderError(types.ErrRateLimited, "account_info blacked out", 0)
	}
	body, err := a.doJSON(ctx, http.MethodGet, "/accounts/"+a.accountID, nil)
	if err != nil {
		return types.AccountInfo{}, err
	}
	var payload struct {
		Balance, Equity, MarginUsed, MarginFree, Leverage float64
		Currency                                          string
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return types.AccountInfo{}, fmt.Errorf("gateway_rest: decode account info: %w", err)
	}
	info := types.AccountInfo{
		Balance:         decimal.NewFromFloat(payload.Balance),
		Equity:          decimal.NewFromFloat(payload.Equity),
		MarginUsed:      decimal.NewFromFloat(payload.MarginUsed),
		MarginAvailable: decimal.NewFromFloat(payload.MarginFree),
		Currency:        payload.Currency,
		Leverage:        decimal.NewFromFloat(payload.Leverage),
	}
	a.cache.Set(classAccountInfo, info, classTTLs[classAccountInfo])
	return info, nil
}

func (a *gatewayRestAdapter) Instruments(ctx context.Context) ([]string, error) {
	body, err := a.doJSON(ctx, http.MethodGet, "/symbols", nil)
	if err != nil {
		return nil, err
	}
	var symbols []string
	if err := json.Unmarshal(body, &symbols); err != nil {
		return nil, fmt.Errorf("gateway_rest: decode symbols: %w", err)
	}
	return symbols, nil
}

func (a *gatewayRestAdapter) SymbolSpec(ctx context.Context, canonical string) (types.InstrumentSpec, error) {
	body, err := a.doJSON(ctx, http.MethodGet, "/symbols/"+canonical+"/spec", nil)
	if err != nil {
		return types.InstrumentSpec{}, err
	}
	var payload struct {
		Point, TickSize, TickValue, ContractSize                  float64
		VolumeMin, VolumeMax, VolumeStep, StopsLevel, FreezeLevel float64
		FillingModes                                              []string
		TradeMode                                                 string
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return types.InstrumentSpec{}, fmt.Errorf("gateway_rest: decode spec: %w", err)
	}
	return types.InstrumentSpec{
		Symbol: canonical, PointSize: decimal.NewFromFloat(payload.Point),
		TickSize: decimal.NewFromFloat(payload.TickSize), TickValue: decimal.NewFromFloat(payload.TickValue),
		ContractSize: decimal.NewFromFloat(payload.ContractSize), MinVolume: decimal.NewFromFloat(payload.VolumeMin),
		MaxVolume: decimal.NewFromFloat(payload.VolumeMax), VolumeStep: decimal.NewFromFloat(payload.VolumeStep),
		StopsLevel: decimal.NewFromFloat(payload.StopsLevel), FreezeLevel: decimal.NewFromFloat(payload.FreezeLevel),
		FillingModes: payload.FillingModes, TradeMode: payload.TradeMode, FetchedAt: time.Now(),
	}, nil
}

func (a *gatewayRestAdapter) CurrentPrice(ctx context.Context, canonical string) (types.Tick, error) {
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

func (a *gatewayRestAdapter) Prices(ctx context.Context, canonicals []string) (map[string]types.Tick, error) {
	if !a.cache.Allow(classPrices) {
		if a.cache.Blocked(classPrices) {
			return staleOrEmptyPrices(a.cache, a.log, classPrices), nil
		}
	}
	body, err := a.doJSON(ctx, http.MethodPost, "/prices/batch", canonicals)
	if err != nil {
		if oe, ok := err.(*types.OrderError); ok && oe.Kind == types.ErrRateLimited {
			return staleOrEmptyPrices(a.cache, a.log, classPrices), nil
		}
		return nil, err
	}
	var raw map[string]struct{ Bid, Ask float64 }
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("gateway_rest: decode prices: %w", err)
	}
	out := make(map[string]types.Tick, len(raw))
	now := time.Now()
	for sym, q := range raw {
		out[sym] = types.Tick{Symbol: sym, Bid: decimal.NewFromFloat(q.Bid), Ask: decimal.NewFromFloat(q.Ask), Timestamp: now}
	}
	a.cache.Set(classPrices, out, classTTLs[classPrices])
	return out, nil
}

func (a *gatewayRestAdapter) StreamPrices(ctx context.Context, canonicals []string) (<-chan types.Tick, error) {
	ch := make(chan types.Tick)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(2 * time.Second)
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

func (a *gatewayRestAdapter) Candles(ctx context.Context, canonical string, tf types.Timeframe, count int) ([]types.OHLCV, error) {
	body, err := a.doJSON(ctx, http.MethodGet, fmt.Sprintf("/symbols/%s/candles?tf=%s&count=%d", canonical, tf, count), nil)
	if err != nil {
		return nil, err
	}
	var raw []struct {
		Time                           int64
		Open, High, Low, Close, Volume float64
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("gateway_rest: decode candles: %w", err)
	}
	out := make([]types.OHLCV, len(raw))
	for i, c := range raw {
		out[i] = types.OHLCV{
			Timestamp: time.UnixMilli(c.Time), Open: decimal.NewFromFloat(c.Open), High: decimal.NewFromFloat(c.High),
			Low: decimal.NewFromFloat(c.Low), Close: decimal.NewFromFloat(c.Close), Volume: decimal.NewFromFloat(c.Volume),
		}
	}
	return out, nil
}

func (a *gatewayRestAdapter) PlaceOrder(ctx context.Context, req types.OrderRequest) types.OrderResult {
	payload := map[string]any{
		"symbol": req.Symbol, "side": req.Direction, "volume": req.Volume.String(),
		"stopLoss": req.StopLoss.String(), "takeProfit": req.TakeProfit.String(), "comment": req.Comment,
	}
	body, err := a.doJSON(ctx, http.MethodPost, "/orders", payload)
	if err != nil {
		if oe, ok := err.(*types.OrderError); ok {
			return rejected(oe.Kind, oe.Message, oe.Retcode)
		}
		return rejected(types.ErrTransport, err.Error(), 0)
	}
	var result struct {
		OrderID string
		Status  string
		Price   float64
		Volume  float64
		Retcode int
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return rejected(types.ErrUnknown, "decode order response: "+err.Error(), 0)
	}
	if kind, ok := gatewayRetcodes[result.Retcode]; ok && result.Status != "FILLED" {
		return rejected(kind, fmt.Sprintf("gateway retcode %d", result.Retcode), result.Retcode)
	}
	return types.OrderResult{
		OrderID: result.OrderID, Status: types.OrderStatusFilled,
		FilledPrice: decimal.NewFromFloat(result.Price), FilledVolume: decimal.NewFromFloat(result.Volume),
		Timestamp: time.Now(),
	}
}

func (a *gatewayRestAdapter) CancelOrder(ctx context.Context, orderID string) bool {
	_, err := a.doJSON(ctx, http.MethodDelete, "/orders/"+orderID, nil)
	return err == nil
}

func (a *gatewayRestAdapter) GetOrder(ctx context.Context, orderID string) (*types.OrderResult, error) {
	body, err := a.doJSON(ctx, http.MethodGet, "/orders/"+orderID, nil)
	if err != nil {
		return nil, err
	}
	var result types.OrderResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("gateway_rest: decode order: %w", err)
	}
	return &result, nil
}

func (a *gatewayRestAdapter) OpenOrders(ctx context.Context, canonical string) ([]types.OrderResult, error) {
	body, err := a.doJSON(ctx, http.MethodGet, "/orders?symbol="+canonical, nil)
	if err != nil {
		return nil, err
	}
	var results []types.OrderResult
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, fmt.Errorf("gateway_rest: decode open orders: %w", err)
	}
	return results, nil
}

func (a *gatewayRestAdapter) Positions(ctx context.Context) ([]types.Position, error) {
	if v, fresh, _ := a.cache.Get(classPositions); fresh {
		return v.([]types.Position), nil
	}
	if !a.cache.Allow(classPositions) {
		if v, _, stale := a.cache.Get(classPositions); stale {
			return v.([]types.Position), nil
		}
		return nil, nil
	}
	body, err := a.doJSON(ctx, http.MethodGet, "/positions?account="+a.accountID, nil)
	if err != nil {
		return nil, err
	}
	var positions []types.Position
	if err := json.Unmarshal(body, &positions); err != nil {
		return nil, fmt.Errorf("gateway_rest: decode positions: %w", err)
	}
	a.cache.Set(classPositions, positions, classTTLs[classPositions])
	return positions, nil
}

func (a *gatewayRestAdapter) Position(ctx context.Context, canonical string) (*types.Position, error) {
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

func (a *gatewayRestAdapter) ClosePosition(ctx context.Context, canonical string, partialVolume *types.OrderRequest) (types.OrderResult, error) {
	payload := map[string]any{"symbol": canonical}
	if partialVolume != nil {
		payload["volume"] = partialVolume.Volume.String()
	}
	body, err := a.doJSON(ctx, http.MethodPost, "/positions/close", payload)
	if err != nil {
		return types.OrderResult{}, err
	}
	var result types.OrderResult
	if err := json.Unmarshal(body, &result); err != nil {
		return types.OrderResult{}, fmt.Errorf("gateway_rest: decode close: %w", err)
	}
	return result, nil
}

func (a *gatewayRestAdapter) ModifyPosition(ctx context.Context, canonical string, sl, tp *types.OrderRequest) bool {
	payload := map[string]any{"symbol": canonical}
	if sl != nil {
		payload["stopLoss"] = sl.StopLoss.String()
	}
	if tp != nil {
		payload["takeProfit"] = tp.TakeProfit.String()
	}
	_, err := a.doJSON(ctx, http.MethodPost, "/positions/modify", payload)
	return err == nil
}

func (a *gatewayRestAdapter) CanTradeSymbol(ctx context.Context, canonical string, direction types.Direction) (bool, string, string) {
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

// doJSON issues a request against the gateway and returns the raw response body, translating
// HTTP 429 into a blackout + ErrRateLimited and any other non-2xx into ErrTransport.
func (a *gatewayRestAdapter) doJSON(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("gateway_rest: encode request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("gateway_rest: build request: %w", err)
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
		a.cache.Blackout(classOrders, until)
		return nil, types.NewOrderError(types.ErrRateLimited, "gateway returned 429", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("gateway_rest: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, types.NewOrderError(types.ErrTransport, fmt.Sprintf("gateway status %d: %s", resp.StatusCode, body), resp.StatusCode)
	}
	return body, nil
}
