package adapters_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	_ "github.com/atlas-desktop/fleet-orchestrator/internal/broker/adapters"

	"github.com/atlas-desktop/fleet-orchestrator/internal/broker"
	"github.com/atlas-desktop/fleet-orchestrator/pkg/types"
	"github.com/shopspring/decimal"
)

func newGatewayRestBundle(ts *httptest.Server) types.CredentialBundle {
	return types.CredentialBundle{
		BrokerType:  types.BrokerGatewayRest,
		AccessToken: "test-token",
		AccountID:   "acc-1",
		BaseURL:     ts.URL,
	}
}

func TestGatewayRestAccountInfo(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/accounts/acc-1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"balance": 10000.0, "equity": 10250.5, "marginUsed": 120.0, "marginFree": 10130.5,
			"currency": "USD", "leverage": 100.0,
		})
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	adapter, err := broker.New(newGatewayRestBundle(ts))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	info, err := adapter.AccountInfo(context.Background())
	if err != nil {
		t.Fatalf("AccountInfo: %v", err)
	}
	if !info.Balance.Equal(decimal.NewFromFloat(10000.0)) {
		t.Errorf("balance = %s, want 10000", info.Balance)
	}
	if info.Currency != "USD" {
		t.Errorf("currency = %s, want USD", info.Currency)
	}
}

func TestGatewayRestPlaceOrderRejectsOnKnownRetcode(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"retcode": 10019, "message": "not enough money"})
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	adapter, err := broker.New(newGatewayRestBundle(ts))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result := adapter.PlaceOrder(context.Background(), types.OrderRequest{Symbol: "EURUSD", Direction: types.DirectionLong})
	if result.Status != types.OrderStatusRejected {
		t.Fatalf("status = %s, want rejected", result.Status)
	}
	if result.ErrorMessage != string(types.ErrInsufficientMargin) {
		t.Errorf("errorMessage = %s, want %s", result.ErrorMessage, types.ErrInsufficientMargin)
	}
}

func TestGatewayRestMissingCredentialsRejected(t *testing.T) {
	_, err := broker.New(types.CredentialBundle{BrokerType: types.BrokerGatewayRest})
	if err == nil {
		t.Fatal("expected error for missing access token / account id")
	}
}

func TestGatewayRestCanTradeSymbolResolvesBrokerSuffix(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/accounts/acc-1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{})
	})
	mux.HandleFunc("/symbols", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]string{"EURUSD+", "GBPUSD+"})
	})
	mux.HandleFunc("/symbols/EURUSD+/spec", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"tradeMode": "FULL"})
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	adapter, err := broker.New(newGatewayRestBundle(ts))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := adapter.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	tradable, reason, brokerSymbol := adapter.CanTradeSymbol(context.Background(), "EURUSD", types.DirectionLong)
	if !tradable {
		t.Fatalf("CanTradeSymbol(EURUSD) = false, %q, want true", reason)
	}
	if brokerSymbol != "EURUSD+" {
		t.Errorf("brokerSymbol = %s, want EURUSD+ (broker-native resolved spelling)", brokerSymbol)
	}
}

func TestGatewayRestCanTradeSymbolUnresolvedIsRejected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/accounts/acc-1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{})
	})
	mux.HandleFunc("/symbols", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]string{"GBPUSD+"})
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	adapter, err := broker.New(newGatewayRestBundle(ts))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := adapter.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	tradable, _, brokerSymbol := adapter.CanTradeSymbol(context.Background(), "USDJPY", types.DirectionLong)
	if tradable {
		t.Fatalf("CanTradeSymbol(USDJPY) = true, want false (no broker-native spelling indexed)")
	}
	if brokerSymbol != "" {
		t.Errorf("brokerSymbol = %s, want empty", brokerSymbol)
	}
}
