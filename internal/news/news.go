// Package news provides the News Blackout Oracle contract (C9, §6) and a deterministic stub.
// The real economic-calendar data source is an explicit external collaborator (§1); this
// package models only the is_blocked(symbol) contract and its stub.
package news

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/atlas-desktop/fleet-orchestrator/pkg/types"
)

// Stub is a deterministic NewsOracle backed by a manually-seeded event list.
type Stub struct {
	mu        sync.RWMutex
	events    []types.NewsEvent
	fetchedAt time.Time
	now       func() time.Time
}

// NewStub creates an empty deterministic news oracle. nowFn is injectable for tests; nil uses
// time.Now.
func NewStub(nowFn func() time.Time) *Stub {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Stub{now: nowFn}
}

// SeedEvents replaces the oracle's event list (test/ops setup).
func (s *Stub) SeedEvents(events []types.NewsEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = events
}

// FetchEvents is a no-op for the stub beyond recording the call time; a real implementation
// would refresh from an economic-calendar provider here, at most hourly (§6).
func (s *Stub) FetchEvents(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchedAt = s.now()
	return nil
}

// LastFetchedAt returns the time of the most recent FetchEvents call.
func (s *Stub) LastFetchedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fetchedAt
}

var impactRank = map[string]int{"LOW": 1, "MEDIUM": 2, "HIGH": 3}

// ShouldAvoidTrading reports whether canonicalSymbol is inside a blackout window around any
// seeded event whose currency appears in the symbol and whose impact meets cfg.MinImpact
// (§4.8, §S4).
func (s *Stub) ShouldAvoidTrading(ctx context.Context, canonicalSymbol string, cfg types.NewsFilterConfig) (bool, *types.NewsEvent) {
	if !cfg.Enabled {
		return false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	minRank := impactRank[strings.ToUpper(cfg.MinImpact)]
	if minRank == 0 {
		minRank = 1
	}

	for i := range s.events {
		ev := s.events[i]
		if !strings.Contains(canonicalSymbol, ev.Currency) {
			continue
		}
		if impactRank[strings.ToUpper(ev.Impact)] < minRank {
			continue
		}
		before := ev.EventTime.Add(-time.Duration(cfg.MinutesBefore) * time.Minute)
		after := ev.EventTime.Add(time.Duration(cfg.MinutesAfter) * time.Minute)
		if !now.Before(before) && !now.After(after) {
			evCopy := ev
			return true, &evCopy
		}
	}
	return false, nil
}
