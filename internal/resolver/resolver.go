// Package resolver maps canonical symbols to broker-native spellings and caches instrument
// specs per adapter session (C4, §3, §4.4).
//
// Grounded on the teacher's caching idiom in internal/execution/adapters/binance.go (ticker
// cache with expiry), generalized into a typed spec cache; the multi-strategy symbol
// resolution itself has no direct teacher equivalent and is new domain logic per §3.
package resolver

import (
	"strings"
	"sync"
	"time"

	"github.com/atlas-desktop/fleet-orchestrator/pkg/types"
)

// suffixVariants are the "tradeable suffix" forms tried after a direct/alias miss (§3).
var suffixVariants = []string{"+", "m", ".", ".raw", ".pro", ".stp"}

const negativeCacheTTL = 10 * time.Minute
const specCacheTTL = 5 * time.Minute

type negativeKey struct {
	canonical string
	side      types.Direction
}

// Resolver memoizes canonical→broker-native symbol mappings for the lifetime of one broker
// session, and caches instrument specs with a ≥5-minute TTL (§4.4).
type Resolver struct {
	mu sync.RWMutex

	brokerSymbols map[string]bool           // full symbol list fetched once at session start
	aliases       map[string]string         // canonical -> known alias broker symbol
	resolved      map[string]string         // canonical -> broker-native, memoized
	negative      map[negativeKey]time.Time // (canonical,side) -> cached-negative-until

	specs  map[string]types.InstrumentSpec
	specAt map[string]time.Time

	now func() time.Time
}

// New creates an empty resolver. nowFn is injectable for tests; nil uses time.Now.
func New(nowFn func() time.Time) *Resolver {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Resolver{
		brokerSymbols: make(map[string]bool),
		aliases:       make(map[string]string),
		resolved:      make(map[string]string),
		negative:      make(map[negativeKey]time.Time),
		specs:         make(map[string]types.InstrumentSpec),
		specAt:        make(map[string]time.Time),
		now:           nowFn,
	}
}

// IndexSymbols loads the full broker symbol list once, at broker-session start (§4.4).
func (r *Resolver) IndexSymbols(symbols []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range symbols {
		r.brokerSymbols[s] = true
	}
}

// SetAlias registers a known alias for canonical (e.g. operator-curated mapping table).
func (r *Resolver) SetAlias(canonical, brokerSymbol string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[canonical] = brokerSymbol
}

// IsNegativelyCached reports whether (canonical, side) was recently marked untradable/unresolvable
// and the negative result has not yet expired (§4.4, §7 SymbolNotTradable).
func (r *Resolver) IsNegativelyCached(canonical string, side types.Direction) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	until, ok := r.negative[negativeKey{canonical, side}]
	return ok && r.now().Before(until)
}

// MarkNegative caches a resolution/tradability failure for 10 minutes (§4.4, §7).
func (r *Resolver) MarkNegative(canonical string, side types.Direction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.negative[negativeKey{canonical, side}] = r.now().Add(negativeCacheTTL)
}

// Resolve maps a canonical symbol to its broker-native spelling, trying in order: direct hit,
// known alias, tradeable-suffix variants, prefix/substring fuzzy match, bracket-stripped match
// (§3). The first successful resolution is memoized for the session lifetime.
func (r *Resolver) Resolve(canonical string) (string, bool) {
	r.mu.RLock()
	if native, ok := r.resolved[canonical]; ok {
		r.mu.RUnlock()
		return native, true
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Direct hit.
	if r.brokerSymbols[canonical] {
		r.resolved[canonical] = canonical
		return canonical, true
	}

	// Known alias.
	if alias, ok := r.aliases[canonical]; ok && r.brokerSymbols[alias] {
		r.resolved[canonical] = alias
		return alias, true
	}

	// Tradeable suffix variants.
	bare := strings.ReplaceAll(canonical, "_", "")
	for _, suffix := range suffixVariants {
		candidate := bare + suffix
		if r.brokerSymbols[candidate] {
			r.resolved[canonical] = candidate
			return candidate, true
		}
	}

	// Prefix/substring fuzzy match.
	for sym := range r.brokerSymbols {
		if strings.HasPrefix(sym, bare) || strings.Contains(sym, bare) {
			r.resolved[canonical] = sym
			return sym, true
		}
	}

	// Bracket-stripped match (some brokers wrap symbols like "[EURUSD]").
	for sym := range r.brokerSymbols {
		stripped := strings.Trim(sym, "[]")
		if stripped == bare {
			r.resolved[canonical] = sym
			return sym, true
		}
	}

	return "", false
}

// SpecFor returns the cached instrument spec for canonical if present and fresh (§3, TTL ≥5min).
func (r *Resolver) SpecFor(canonical string) (types.InstrumentSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[canonical]
	if !ok {
		return types.InstrumentSpec{}, false
	}
	if r.now().Sub(r.specAt[canonical]) > specCacheTTL {
		return spec, false
	}
	return spec, true
}

// CacheSpec stores a freshly-fetched instrument spec.
func (r *Resolver) CacheSpec(canonical string, spec types.InstrumentSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs[canonical] = spec
	r.specAt[canonical] = r.now()
}
