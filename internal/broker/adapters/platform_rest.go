package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/fleet-orchestrator/internal/broker"
	"github.com/atlas-desktop/fleet-orchestrator/internal/cache"
	"github.com/atlas-desktop/fleet-orchestrator/internal/resolver"
	"github.com/atlas-desktop/fleet-orchestrator/pkg/types"
	"github.com/atlas-desktop/fleet-orchestrator/pkg/utils"
)

func init() {
	broker.Register(types.BrokerPlatformRest, newPlatformRestAdapter)
}

// bearerTokenPaths is the list of acceptable response paths a platform-REST login may return
// the bearer token under (§4.3) — cTrader, DXtrade and MatchTrader each use a different one.
var bearerTokenPaths = []string{"access_token", "token", "jwt", "data.access_token", "data.token", "result.token", "result.jwt"}

// platformRestAdapter talks to a generic REST platform (cTrader / DXtrade / MatchTrader) whose
// endpoint shapes are close enough to share one driver, parameterized by endpoint templates
// and a login-response token path list (§4.3).
type platformRestAdapter struct {
	log      *zap.Logger
	http     *http.Client
	cache    *cache.Cache
	resolver *resolver.Resolver
	baseURL  string
	login    string
	password string
	kind     string

	mu    sync.Mutex
	token string
}

func newPlatformRestAdapter(bundle types.CredentialBundle) (broker.Adapter, error) {
	if bundle.BaseURL == "" || bundle.Login == "" {
		return nil, types.NewOrderError(types.ErrCredentialError, "platform_rest requires baseUrl and login", 0)
	}
	log := zap.NewNop()
	return &platformRestAdapter{
		log: log, http: newHTTPClient(log, 30*time.Second), cache: newCache(nil), resolver: resolver.New(nil),
		baseURL: bundle.BaseURL, login: bundle.Login, password: bundle.Password, kind: bundle.PlatformKind,
	}, nil
}

func (a *platformRestAdapter) Name() string { return "platform_rest:" + a.kind }

// authenticate obtains a bearer token from whichever of bearerTokenPaths the platform's login
// response uses (§4.3), and is idempotent: callers invoke it whenever the held token is empty
// or has just been cleared after a 401/403.
func (a *platformRestAdapter) authenticate(ctx context.Context) error {
	payload := map[string]any{"login": a.login, "password": a.password}
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("platform_rest: encode login: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/login", bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("platform_rest: build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.http.Do(req)
	if err != nil {
		return types.NewOrderError(types.ErrTransport, err.Error(), 0)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("platform_rest: read login response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return types.NewOrderError(types.ErrCredentialError, fmt.Sprintf("login status %d: %s", resp.StatusCode, body), resp.StatusCode)
	}
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return fmt.Errorf("platform_rest: decode login response: %w", err)
	}
	token, ok := utils.PickString(decoded, bearerTokenPaths...)
	if !ok {
		return types.NewOrderError(types.ErrCredentialError, "no bearer token at any known path in login response", 0)
	}
	a.mu.Lock()
	a.token = token
	a.mu.Unlock()
	return nil
}

func (a *platformRestAdapter) Connect(ctx context.Context) error {
	if err := a.authenticate(ctx); err != nil {
		return err
	}
	if symbols, err := a.Instruments(ctx); err == nil {
		a.resolver.IndexSymbols(symbols)
	}
	return nil
}

func (a *platformRestAdapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	a.token = ""
	a.mu.Unlock()
	return nil
}

func (a *platformRestAdapter) AccountInfo(ctx context.Context) (types.AccountInfo, error) {
	if v, fresh, _ := a.cache.Get(classAccountInfo); fresh {
		return v.(types.AccountInfo), nil
	}
	body, err := a.doJSON(ctx, http.MethodGet, "/accounts/me", nil)
	if err != nil {
		return types.AccountInfo{}, err
	}
	var payload struct {
		Balance, Equity, MarginUsed, MarginFree, Leverage float64
		Currency                                          string
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return types.AccountInfo{}, fmt.Errorf("platform_rest: decode account info: %w", err)
	}
	info := types.AccountInfo{
		Balance: decimal.NewFromFloat(payload.Balance), Equity: decimal.NewFromFloat(payload.Equity),
		MarginUsed: decimal.NewFromFloat(payload.MarginUsed), MarginAvailable: decimal.NewFromFloat(payload.MarginFree),
		Currency: payload.Currency, Leverage: decimal.NewFromFloat(payload.Leverage),
	}
	a.cache.Set(classAccountInfo, info, classTTLs[classAccountInfo])
	return info, nil
}

func (a *platformRestAdapter) Instruments(ctx context.Context) ([]string, error) {
	body, err := a.doJSON(ctx, http.MethodGet, "/symbols", nil)
	if err != nil {
		return nil, err
	}
	var symbols []string
	if err := json.Unmarshal(body, &symbols); err != nil {
		return nil, fmt.Errorf("platform_rest: decode symbols: %w", err)
	}
	return symbols, nil
}

func (a *platformRestAdapter) SymbolSpec(ctx context.Context, canonical string) (types.InstrumentSpec, error) {
	body, err := a.doJSON(ctx, http.MethodGet, "/symbols/"+canonical, nil)
	if err != nil {
		return types.InstrumentSpec{}, err
	}
	var payload struct {
		TickSize, TickValue, ContractSize, MinVolume, MaxVolume, VolumeStep, StopsLevel float64
		TradeMode                                                                       string
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return types.InstrumentSpec{}, fmt.Errorf("platform_rest: decode spec: %w", err)
	}
	return types.InstrumentSpec{
		Symbol: canonical, PointSize: decimal.NewFromFloat(payload.TickSize), TickSize: decimal.NewFromFloat(payload.TickSize),
		TickValue: decimal.NewFromFloat(payload.TickValue), ContractSize: decimal.NewFromFloat(payload.ContractSize),
		MinVolume: decimal.NewFromFloat(payload.MinVolume), MaxVolume: decimal.NewFromFloat(payload.MaxVolume),
		VolumeStep: decimal.NewFromFloat(payload.VolumeStep), StopsLevel: decimal.NewFromFloat(payload.StopsLevel),
		TradeMode: payload.TradeMode, FetchedAt: time.Now(),
	}, nil
}

func (a *platformRestAdapter) CurrentPrice(ctx context.Context, canonical string) (types.Tick, error) {
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

func (a *platformRestAdapter) Prices(ctx context.Context, canonicals []string) (map[string]types.Tick, error) {
	if !a.cache.Allow(classPrices) {
		return staleOrEmptyPrices(a.cache, a.log, classPrices), nil
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
		return nil, fmt.Errorf("platform_rest: decode prices: %w", err)
	}
	out := make(map[string]types.Tick, len(raw))
	now := time.Now()
	for sym, q := range raw {
		out[sym] = types.Tick{Symbol: sym, Bid: decimal.NewFromFloat(q.Bid), Ask: decimal.NewFromFloat(q.Ask), Timestamp: now}
	}
	a.cache.Set(classPrices, out, classTTLs[classPrices])
	return out, nil
}

func (a *platformRestAdapter) StreamPrices(ctx context.Context, canonicals []string) (<-chan types.Tick, error) {
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

func (a *platformRestAdapter) Candles(ctx context.Context, canonical string, tf types.Timeframe, count int) ([]types.OHLCV, error) {
	body, err := a.doJSON(ctx, http.MethodGet, fmt.Sprintf("/symbols/%s/candles?tf=%s&count=%d", canonical, tf, count), nil)
	if err != nil {
		return nil, err
	}
	var raw []struct {
		Time                           int64
		Open, High, Low, Close, Volume float64
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("platform_rest: decode candles: %w", err)
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

func (a *platformRestAdapter) PlaceOrder(ctx context.Context, req types.OrderRequest) types.OrderResult {
	payload := map[string]any{
		"symbol": req.Symbol, "side": req.Direction, "volume": req.Volume.String(),
		"stopLoss": req.StopLoss.String(), "takeProfit": req.TakeProfit.String(),
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
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return rejected(types.ErrUnknown, "decode order response: "+err.Error(), 0)
	}
	if result.Status != "FILLED" {
		return rejected(types.ErrUnknown, "platform reported status "+result.Status, 0)
	}
	return types.OrderResult{
		OrderID: result.OrderID, Status: types.OrderStatusFilled,
		FilledPrice: decimal.NewFromFloat(result.Price), FilledVolume: decimal.NewFromFloat(result.Volume), Timestamp: time.Now(),
	}
}

func (a *platformRestAdapter) CancelOrder(ctx context.Context, orderID string) bool {
	_, err := a.doJSON(ctx, http.MethodDelete, "/orders/"+orderID, nil)
	return err == nil
}

func (a *platformRestAdapter) GetOrder(ctx context.Context, orderID string) (*types.OrderResult, error) {
	body, err := a.doJSON(ctx, http.MethodGet, "/orders/"+orderID, nil)
	if err != nil {
		return nil, err
	}
	var result types.OrderResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("platform_rest: decode order: %w", err)
	}
	return &result, nil
}

func (a *platformRestAdapter) OpenOrders(ctx context.Context, canonical string) ([]types.OrderResult, error) {
	body, err := a.doJSON(ctx, http.MethodGet, "/orders?symbol="+canonical, nil)
	if err != nil {
		return nil, err
	}
	var results []types.OrderResult
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, fmt.Errorf("platform_rest: decode open orders: %w", err)
	}
	return results, nil
}

func (a *platformRestAdapter) Positions(ctx context.Context) ([]types.Position, error) {
	if v, fresh, _ := a.cache.Get(classPositions); fresh {
		return v.([]types.Position), nil
	}
	body, err := a.doJSON(ctx, http.MethodGet, "/positions", nil)
	if err != nil {
		return nil, err
	}
	var positions []types.Position
	if err := json.Unmarshal(body, &positions); err != nil {
		return nil, fmt.Errorf("platform_rest: decode positions: %w", err)
	}
	a.cache.Set(classPositions, positions, classTTLs[classPositions])
	return positions, nil
}

func (a *platformRestAdapter) Position(ctx context.Context, canonical string) (*types.Position, error) {
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

func (a *platformRestAdapter) ClosePosition(ctx context.Context, canonical string, partialVolume *types.OrderRequest) (types.OrderResult, error) {
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
		return types.OrderResult{}, fmt.Errorf("platform_rest: decode close: %w", err)
	}
	return result, nil
}

func (a *platformRestAdapter) ModifyPosition(ctx context.Context, canonical string, sl, tp *types.OrderRequest) bool {
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

func (a *platformRestAdapter) CanTradeSymbol(ctx context.Context, canonical string, direction types.Direction) (bool, string, string) {
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

// doJSON issues an authenticated request, retrying exactly once after a fresh login if the
// platform returns 401/403 against a token we previously held (§4.3).
func (a *platformRestAdapter) doJSON(ctx context.Context, method, path string, payload any) ([]byte, error) {
	body, status, err := a.rawRequest(ctx, method, path, payload)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		a.mu.Lock()
		hadToken := a.token != ""
		a.token = ""
		a.mu.Unlock()
		if !hadToken {
			return nil, types.NewOrderError(types.ErrCredentialError, fmt.Sprintf("platform status %d with no prior token", status), status)
		}
		if err := a.authenticate(ctx); err != nil {
			return nil, err
		}
		body, status, err = a.rawRequest(ctx, method, path, payload)
		if err != nil {
			return nil, err
		}
	}
	if status >= 300 {
		return nil, types.NewOrderError(types.ErrTransport, fmt.Sprintf("platform status %d: %s", status, body), status)
	}
	return body, nil
}

func (a *platformRestAdapter) rawRequest(ctx context.Context, method, path string, payload any) ([]byte, int, error) {
	a.mu.Lock()
	token := a.token
	a.mu.Unlock()
	if token == "" {
		if err := a.authenticate(ctx); err != nil {
			return nil, 0, err
		}
		a.mu.Lock()
		token = a.token
		a.mu.Unlock()
	}

	var reqBody io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("platform_rest: encode request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("platform_rest: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, 0, types.NewOrderError(types.ErrTransport, err.Error(), 0)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		until := blackoutFromRetryAfter(resp, time.Now())
		a.cache.Blackout(classPrices, until)
		a.cache.Blackout(classAccountInfo, until)
		a.cache.Blackout(classPositions, until)
		return nil, 0, types.NewOrderError(types.ErrRateLimited, "platform returned 429", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("platform_rest: read response: %w", err)
	}
	return body, resp.StatusCode, nil
}
