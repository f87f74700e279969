// Package identity canonicalizes instrument symbols across broker-native spellings and
// classifies their price geometry (pip size, decimals, plausibility bounds). Grounded on the
// teacher's pkg/utils.FormatSymbol/ParseSymbol pair, generalized from crypto pair notation to
// the FX/metals/indices canonical form required by §3/§4.1.
package identity

import (
	"strings"

	"github.com/shopspring/decimal"
)

var jpyPairs = map[string]bool{
	"USD_JPY": true, "EUR_JPY": true, "GBP_JPY": true, "AUD_JPY": true,
	"NZD_JPY": true, "CAD_JPY": true, "CHF_JPY": true,
}

var fxCurrencies = map[string]bool{
	"USD": true, "EUR": true, "GBP": true, "JPY": true, "AUD": true,
	"NZD": true, "CAD": true, "CHF": true, "SEK": true, "NOK": true,
	"TRY": true, "ZAR": true, "MXN": true, "SGD": true, "HKD": true,
	"PLN": true, "CZK": true, "HUF": true, "DKK": true,
}

var indexSymbols = map[string]bool{
	"US30": true, "NAS100": true, "US500": true, "DE40": true, "UK100": true,
	"JP225": true, "FRA40": true, "AUS200": true, "SPX500": true,
}

// Canonicalize normalizes any of "EUR/USD", "EURUSD", "EUR_USD", "eur-usd" into "EUR_USD" for
// 6-letter FX pairs. Indices and commodity codes are uppercased and returned as-is. Whitespace
// and separator characters are stripped before classification (§4.1).
func Canonicalize(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.NewReplacer(" ", "", "/", "", "_", "", "-", "", ".", "").Replace(s)

	if isSixLetterFX(s) {
		return s[:3] + "_" + s[3:]
	}
	return s
}

func isSixLetterFX(s string) bool {
	if len(s) != 6 {
		return false
	}
	base, quote := s[:3], s[3:]
	return fxCurrencies[base] && fxCurrencies[quote]
}

// symbolClass classifies a canonical symbol for pip/decimals/plausibility purposes.
type symbolClass int

const (
	classFX symbolClass = iota
	classFXJPYQuote
	classXAU
	classXAG
	classOil
	classIndex
	classOther
)

func classify(canonical string) symbolClass {
	switch {
	case jpyPairs[canonical]:
		return classFXJPYQuote
	case strings.HasPrefix(canonical, "XAU"):
		return classXAU
	case strings.HasPrefix(canonical, "XAG"):
		return classXAG
	case strings.HasPrefix(canonical, "WTI"), strings.HasPrefix(canonical, "BRENT"), strings.HasPrefix(canonical, "OIL"):
		return classOil
	case indexSymbols[canonical]:
		return classIndex
	case isSixLetterFXCanonical(canonical):
		return classFX
	default:
		return classOther
	}
}

func isSixLetterFXCanonical(canonical string) bool {
	parts := strings.Split(canonical, "_")
	if len(parts) != 2 || len(parts[0]) != 3 || len(parts[1]) != 3 {
		return false
	}
	return fxCurrencies[parts[0]] && fxCurrencies[parts[1]]
}

// PipSize returns the unit price increment for the given canonical symbol (§4.1).
func PipSize(canonical string) decimal.Decimal {
	switch classify(canonical) {
	case classFXJPYQuote:
		return decimal.NewFromFloat(0.01)
	case classFX:
		return decimal.NewFromFloat(0.0001)
	case classXAU:
		return decimal.NewFromFloat(0.10)
	case classXAG:
		return decimal.NewFromFloat(0.01)
	case classOil:
		return decimal.NewFromFloat(0.01)
	case classIndex:
		return decimal.NewFromInt(1)
	default:
		return decimal.NewFromFloat(0.0001)
	}
}

// Decimals returns the canonical number of decimal places used to display/round this symbol's
// price (§4.1).
func Decimals(canonical string) int32 {
	switch classify(canonical) {
	case classFXJPYQuote:
		return 3
	case classXAU:
		return 2
	case classIndex:
		return 1
	case classFX:
		return 5
	default:
		return 5
	}
}

// PlausibilityBounds returns the (low, high) mid-price bounds a tick must fall within to be
// accepted, per symbol class (§4.1).
func PlausibilityBounds(canonical string) (low, high decimal.Decimal) {
	switch classify(canonical) {
	case classFX:
		return decimal.NewFromFloat(0.02), decimal.NewFromFloat(10.0)
	case classFXJPYQuote:
		return decimal.NewFromFloat(10), decimal.NewFromFloat(500)
	case classXAU:
		return decimal.NewFromInt(100), decimal.NewFromInt(10000)
	case classXAG:
		return decimal.NewFromFloat(1), decimal.NewFromInt(500)
	case classOil:
		return decimal.NewFromFloat(1), decimal.NewFromInt(500)
	case classIndex:
		return decimal.NewFromInt(10), decimal.NewFromInt(200000)
	default:
		return decimal.NewFromFloat(0.00001), decimal.NewFromInt(1000000)
	}
}

// MaxMidRatio returns the maximum allowed ratio between a new tick's mid and the last-valid
// mid observed within the 1-hour plausibility window (§4.1): 3x for FX, 6x otherwise.
func MaxMidRatio(canonical string) decimal.Decimal {
	switch classify(canonical) {
	case classFX, classFXJPYQuote:
		return decimal.NewFromInt(3)
	default:
		return decimal.NewFromInt(6)
	}
}

// MaxSpreadRatio returns the maximum allowed spread/mid ratio: 5% for FX, 20% otherwise (§4.1).
func MaxSpreadRatio(canonical string) decimal.Decimal {
	switch classify(canonical) {
	case classFX, classFXJPYQuote:
		return decimal.NewFromFloat(0.05)
	default:
		return decimal.NewFromFloat(0.20)
	}
}

// IsFX reports whether the canonical symbol is a 6-letter FX pair (any quote currency).
func IsFX(canonical string) bool {
	c := classify(canonical)
	return c == classFX || c == classFXJPYQuote
}
