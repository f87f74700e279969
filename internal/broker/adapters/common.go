// Package adapters provides the four concrete broker drivers behind the internal/broker.Adapter
// contract (C3, §4.3): gateway-REST (MetaTrader), OANDA v20, generic platform-REST, and an
// in-process terminal bridge. Every adapter registers its factory in an init() against the
// internal/broker global registry.
//
// Grounded on the teacher's internal/execution/adapters/binance.go (HTTP client setup, HMAC
// request signing shape, rate limiter, websocket streaming loop) — kept the REST+streaming
// texture, replaced the crypto-exchange wire format with each FX/CFD broker's own, and replaced
// the hand-rolled retry/rate-limit pair with go-retryablehttp + internal/cache (§1B, §4.5).
package adapters

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/atlas-desktop/fleet-orchestrator/internal/cache"
	"github.com/atlas-desktop/fleet-orchestrator/pkg/types"
)

// Cache classes shared by the TTL/rate-limit layer (§4.3, §4.5). Every gateway-REST-family
// adapter (gateway-REST, platform-REST) wires its cache the same way; OANDA and the terminal
// bridge only use a subset.
const (
	classAccountInfo cache.Class = "account_info"
	classPositions   cache.Class = "positions"
	classPrices      cache.Class = "prices"
	classOrders      cache.Class = "orders"
)

// TTLs match §4.3: 30s/15s/8s/10s for account_info/positions/prices/orders.
var classTTLs = map[cache.Class]time.Duration{
	classAccountInfo: 30 * time.Second,
	classPositions:   15 * time.Second,
	classPrices:      8 * time.Second,
	classOrders:      10 * time.Second,
}

// newCache builds a Cache with every class rate-limited at a conservative default: enough burst
// to serve one immediate poll per symbol in a watchlist without starving the bucket.
func newCache(nowFn func() time.Time) *cache.Cache {
	c := cache.New(nowFn)
	c.SetLimit(classAccountInfo, 1.0/3, 2)
	c.SetLimit(classPositions, 1.0/2, 3)
	c.SetLimit(classPrices, 2, 5)
	c.SetLimit(classOrders, 1, 3)
	return c
}

// newHTTPClient builds the shared go-retryablehttp client every REST adapter uses: transport-
// level retry only (connection errors, 5xx), capped at 2 attempts, independent of and beneath
// the order pipeline's own semantic retry (§4.6).
func newHTTPClient(logger *zap.Logger, timeout time.Duration) *http.Client {
	rc := retryablehttp.NewClient()
	rc.Logger = nil // zap bridges via RequestLogHook below rather than retryablehttp's own leveled.Logger
	rc.RetryMax = 1
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = timeout
	rc.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			logger.Warn("retrying broker request",
				zap.String("method", req.Method), zap.String("url", req.URL.Path), zap.Int("attempt", attempt))
		}
	}
	return rc.StandardClient()
}

// blackoutFromRetryAfter parses a 429 response's Retry-After header (seconds or HTTP-date) into
// an absolute instant, falling back to a 30s blackout when the header is absent or unparsable.
func blackoutFromRetryAfter(resp *http.Response, now time.Time) time.Time {
	h := resp.Header.Get("Retry-After")
	if h == "" {
		return now.Add(30 * time.Second)
	}
	if secs, err := strconv.Atoi(h); err == nil {
		return now.Add(time.Duration(secs) * time.Second)
	}
	if when, err := http.ParseTime(h); err == nil {
		return when
	}
	return now.Add(30 * time.Second)
}

// rejected builds the standard OrderResult the pipeline expects on a broker-side order
// rejection: ErrorMessage carries the literal ErrKind string so internal/pipeline can recover
// the taxonomy with types.ErrKind(result.ErrorMessage); Message carries the broker's own
// rejection text verbatim (§4.2, §7) rather than discarding it in favor of the taxonomy code.
func rejected(kind types.ErrKind, message string, retcode int) types.OrderResult {
	return types.OrderResult{
		Status:       types.OrderStatusRejected,
		ErrorMessage: string(kind),
		Message:      message,
		Retcode:      retcode,
		Timestamp:    time.Now(),
	}
}

// staleOrEmptyPrices returns a cached (possibly stale) price map on RateLimited, or an empty map
// when nothing was ever cached — callers degrade gracefully rather than raising (§4.5).
func staleOrEmptyPrices(c *cache.Cache, logger *zap.Logger, class cache.Class) map[string]types.Tick {
	if v, _, stale := c.Get(class); stale {
		if prices, ok := v.(map[string]types.Tick); ok {
			logger.Warn("serving stale prices during blackout", zap.String("class", string(class)))
			return prices
		}
	}
	return map[string]types.Tick{}
}

// ctxDone is a tiny helper so streaming loops can select on cancellation without repeating the
// same three-line pattern in every adapter's readLoop.
func ctxDone(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
