// Package oracle provides the AI Oracle contract (C8, §6) and a deterministic stub
// implementation used for tests and for wiring a minimal cmd/ entrypoint. The actual model
// inference calls are an explicit external collaborator (§1) — this package never calls out to
// a real model.
package oracle

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/fleet-orchestrator/pkg/types"
)

// Stub is a deterministic AIOracle: it returns a pre-programmed Opinion per (symbol, model),
// falling back to a HOLD opinion with OracleUnavailable semantics when nothing was programmed.
type Stub struct {
	mu        sync.RWMutex
	responses map[string]types.Opinion // key: symbol+"|"+model
}

// NewStub creates an empty deterministic oracle.
func NewStub() *Stub {
	return &Stub{responses: make(map[string]types.Opinion)}
}

// Program registers the Opinion the stub returns for (symbol, model).
func (s *Stub) Program(symbol, model string, opinion types.Opinion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[symbol+"|"+model] = opinion
}

// Analyze returns the programmed opinion for (symbol, model), or a HOLD/error opinion if the
// caller's context was already cancelled or nothing was programmed (§6: "errors surface as
// Opinion{direction=HOLD, confidence=0, error=<text>} — never raised").
func (s *Stub) Analyze(ctx context.Context, symbol string, tf types.Timeframe, mode types.AnalysisMode, model string) types.Opinion {
	if err := ctx.Err(); err != nil {
		return types.Opinion{Model: model, Direction: types.DirectionHold, Error: err.Error()}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if op, ok := s.responses[symbol+"|"+model]; ok {
		op.Model = model
		op.Timeframe = tf
		return op
	}
	return types.Opinion{
		Model:      model,
		Direction:  types.DirectionHold,
		Confidence: decimal.Zero,
		Timeframe:  tf,
		Error:      "oracle_unavailable: no programmed response",
	}
}

// AnalyzeAll dispatches every model in parallel and joins the results, matching the real
// oracle's fan-out contract (§5 "AI parallelism").
func (s *Stub) AnalyzeAll(ctx context.Context, symbol string, tf types.Timeframe, mode types.AnalysisMode, models []string) []types.Opinion {
	results := make([]types.Opinion, len(models))
	var wg sync.WaitGroup
	for i, model := range models {
		wg.Add(1)
		go func(i int, model string) {
			defer wg.Done()
			results[i] = s.Analyze(ctx, symbol, tf, mode, model)
		}(i, model)
	}
	wg.Wait()
	return results
}
