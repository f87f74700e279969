// Package utils provides small helpers shared across the fleet orchestrator.
package utils

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RoundToTickSize rounds a price down to the nearest tick size.
func RoundToTickSize(price, tickSize decimal.Decimal) decimal.Decimal {
	if tickSize.IsZero() {
		return price
	}
	return price.Div(tickSize).Floor().Mul(tickSize)
}

// RoundToStepSize rounds a volume down to the nearest step size, never below min.
func RoundToStepSize(qty, stepSize, min decimal.Decimal) decimal.Decimal {
	if stepSize.IsZero() {
		return qty
	}
	rounded := qty.Div(stepSize).Floor().Mul(stepSize)
	if rounded.LessThan(min) {
		return min
	}
	return rounded
}

// ClampDecimal clamps a value between min and max.
func ClampDecimal(value, min, max decimal.Decimal) decimal.Decimal {
	if value.LessThan(min) {
		return min
	}
	if value.GreaterThan(max) {
		return max
	}
	return value
}

// MinDecimal returns the minimum of two decimals.
func MinDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// MaxDecimal returns the maximum of two decimals.
func MaxDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// RetryConfig mirrors the exponential-backoff shape used across the adapters for the
// transport-level (not order-semantic) retry layer.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryConfig returns sane defaults for a transport-level retry.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}
}

// Retry retries fn with exponential backoff up to config.MaxAttempts.
func Retry[T any](config RetryConfig, fn func() (T, error)) (T, error) {
	var result T
	var err error
	delay := config.InitialDelay

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		result, err = fn()
		if err == nil {
			return result, nil
		}
		if attempt == config.MaxAttempts {
			break
		}
		time.Sleep(delay)
		delay = time.Duration(float64(delay) * config.Multiplier)
		if delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}

	return result, fmt.Errorf("after %d attempts: %w", config.MaxAttempts, err)
}

// Pick walks a list of dot-separated paths into a map[string]any payload and returns the
// first one present, regardless of camelCase/snake_case key spelling at each segment. This
// is the shared extraction contract referenced by §4.3/§9 for heterogeneous broker payloads
// (some respond with "access_token", others with "data.token" or "result.jwt").
func Pick(payload map[string]any, paths ...string) (any, bool) {
	for _, path := range paths {
		segments := strings.Split(path, ".")
		var cur any = payload
		found := true
		for _, seg := range segments {
			m, ok := cur.(map[string]any)
			if !ok {
				found = false
				break
			}
			v, ok := m[seg]
			if !ok {
				found = false
				break
			}
			cur = v
		}
		if found {
			return cur, true
		}
	}
	return nil, false
}

// PickString is Pick narrowed to a string result.
func PickString(payload map[string]any, paths ...string) (string, bool) {
	v, ok := Pick(payload, paths...)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Ring is a fixed-capacity, drop-oldest ring buffer (§9 "ring buffers for logs/errors").
type Ring[T any] struct {
	items []T
	cap   int
}

// NewRing creates a ring buffer with the given capacity.
func NewRing[T any](capacity int) *Ring[T] {
	return &Ring[T]{items: make([]T, 0, capacity), cap: capacity}
}

// Push appends an item, dropping the oldest entry if the ring is at capacity.
func (r *Ring[T]) Push(item T) {
	r.items = append(r.items, item)
	if len(r.items) > r.cap {
		r.items = r.items[len(r.items)-r.cap:]
	}
}

// Last returns up to n most recent items, newest last.
func (r *Ring[T]) Last(n int) []T {
	if n > len(r.items) {
		n = len(r.items)
	}
	out := make([]T, n)
	copy(out, r.items[len(r.items)-n:])
	return out
}

// All returns every item currently held, newest last.
func (r *Ring[T]) All() []T {
	out := make([]T, len(r.items))
	copy(out, r.items)
	return out
}

// Len returns the current number of items held.
func (r *Ring[T]) Len() int { return len(r.items) }
