package logring_test

import (
	"testing"
	"time"

	"github.com/atlas-desktop/fleet-orchestrator/internal/logring"
	"github.com/atlas-desktop/fleet-orchestrator/pkg/types"
)

func TestAppendAndTailOrdering(t *testing.T) {
	r := logring.New(nil)
	r.Info("EUR_USD", "first")
	r.Info("EUR_USD", "second")
	r.Info("EUR_USD", "third")

	tail := r.Tail(2)
	if len(tail) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(tail))
	}
	if tail[0].Message != "second" || tail[1].Message != "third" {
		t.Fatalf("expected [second, third] oldest-first, got %+v", tail)
	}
}

func TestCapacityDropsOldest(t *testing.T) {
	r := logring.New(nil)
	for i := 0; i < 600; i++ {
		r.Info("EUR_USD", "entry")
	}
	all := r.Tail(1000)
	if len(all) != 500 {
		t.Fatalf("expected ring capped at 500, got %d", len(all))
	}
}

func TestRecentErrorsTracksOnlyErrorType(t *testing.T) {
	r := logring.New(nil)
	r.Info("EUR_USD", "ok")
	r.Error("EUR_USD", "boom")
	r.Skip("EUR_USD", "spread too wide")
	r.Error("GBP_USD", "timeout")

	errs := r.RecentErrors()
	if len(errs) != 2 {
		t.Fatalf("expected 2 error entries, got %d", len(errs))
	}
	for _, e := range errs {
		if e.Type != types.LogError {
			t.Fatalf("expected only error entries, got %s", e.Type)
		}
	}
}

func TestEntriesAreImmutableAfterAppend(t *testing.T) {
	fixed := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	r := logring.New(func() time.Time { return fixed })
	entry := r.Append(types.LogTrade, "EUR_USD", "opened", map[string]any{"lot": "0.5"})
	if !entry.Timestamp.Equal(fixed) {
		t.Fatalf("expected fixed timestamp, got %s", entry.Timestamp)
	}
	tail := r.Tail(1)
	if tail[0].ID != entry.ID {
		t.Fatalf("expected stored entry to retain its id")
	}
}
