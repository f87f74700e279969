package adapters

import (
	"testing"

	"github.com/atlas-desktop/fleet-orchestrator/pkg/types"
)

func TestOandaRejectReasonKind(t *testing.T) {
	cases := []struct {
		reason string
		want   types.ErrKind
	}{
		{"INSUFFICIENT_MARGIN", types.ErrInsufficientMargin},
		{"PRICE_BOUND_EXCEEDED", types.ErrInvalidStops},
		{"TAKE_PROFIT_ON_FILL_LOSS", types.ErrInvalidStops},
		{"INSTRUMENT_CLOSED_FOR_TRADING", types.ErrSymbolNotTradable},
		{"SOMETHING_ELSE_ENTIRELY", types.ErrUnknown},
	}
	for _, c := range cases {
		if got := oandaRejectReasonKind(c.reason); got != c.want {
			t.Errorf("oandaRejectReasonKind(%q) = %s, want %s", c.reason, got, c.want)
		}
	}
}

func TestNewOandaAdapterRequiresToken(t *testing.T) {
	if _, err := newOandaAdapter(types.CredentialBundle{}); err == nil {
		t.Fatal("expected error for missing oandaApiToken")
	}
}

func TestNewOandaAdapterDefaultsToPracticeEnv(t *testing.T) {
	a, err := newOandaAdapter(types.CredentialBundle{OandaAPIToken: "tok"})
	if err != nil {
		t.Fatalf("newOandaAdapter: %v", err)
	}
	oa := a.(*oandaAdapter)
	if oa.baseURL != "https://api-fxpractice.oanda.com/v3" {
		t.Errorf("baseURL = %s, want practice endpoint", oa.baseURL)
	}
	if oa.streamURL != "wss://stream-fxpractice.oanda.com/v3" {
		t.Errorf("streamURL = %s, want practice stream endpoint", oa.streamURL)
	}
}

func TestNewOandaAdapterLiveEnv(t *testing.T) {
	a, err := newOandaAdapter(types.CredentialBundle{OandaAPIToken: "tok", OandaEnv: "live"})
	if err != nil {
		t.Fatalf("newOandaAdapter: %v", err)
	}
	oa := a.(*oandaAdapter)
	if oa.baseURL != "https://api-fxtrade.oanda.com/v3" {
		t.Errorf("baseURL = %s, want live endpoint", oa.baseURL)
	}
}
