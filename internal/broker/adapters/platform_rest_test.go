package adapters_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	_ "github.com/atlas-desktop/fleet-orchestrator/internal/broker/adapters"

	"github.com/atlas-desktop/fleet-orchestrator/internal/broker"
	"github.com/atlas-desktop/fleet-orchestrator/pkg/types"
)

func TestPlatformRestLoginTokenPaths(t *testing.T) {
	cases := []struct {
		name string
		body map[string]any
	}{
		{"flat_access_token", map[string]any{"access_token": "tok-1"}},
		{"flat_token", map[string]any{"token": "tok-2"}},
		{"nested_data_token", map[string]any{"data": map[string]any{"token": "tok-3"}}},
		{"nested_result_jwt", map[string]any{"result": map[string]any{"jwt": "tok-4"}}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(c.body)
			})
			mux.HandleFunc("/accounts/me", func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("Authorization") == "" {
					t.Error("expected Authorization header on authenticated request")
				}
				json.NewEncoder(w).Encode(map[string]any{"balance": 500.0, "currency": "USD"})
			})
			ts := httptest.NewServer(mux)
			defer ts.Close()

			adapter, err := broker.New(types.CredentialBundle{
				BrokerType: types.BrokerPlatformRest, BaseURL: ts.URL, Login: "u", Password: "p", PlatformKind: "ctrader",
			})
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if _, err := adapter.AccountInfo(context.Background()); err != nil {
				t.Fatalf("AccountInfo: %v", err)
			}
		})
	}
}

func TestPlatformRestReauthenticatesOn401(t *testing.T) {
	var logins int32
	var accountCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&logins, 1)
		json.NewEncoder(w).Encode(map[string]any{"access_token": "tok"})
	})
	mux.HandleFunc("/accounts/me", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&accountCalls, 1)
		if n == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"balance": 1000.0, "currency": "USD"})
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	adapter, err := broker.New(types.CredentialBundle{
		BrokerType: types.BrokerPlatformRest, BaseURL: ts.URL, Login: "u", Password: "p", PlatformKind: "dxtrade",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	info, err := adapter.AccountInfo(context.Background())
	if err != nil {
		t.Fatalf("AccountInfo after reauth: %v", err)
	}
	if !info.Balance.IsPositive() {
		t.Errorf("balance = %s, want positive", info.Balance)
	}
	if atomic.LoadInt32(&logins) != 2 {
		t.Errorf("logins = %d, want 2 (initial + reauth after 401)", logins)
	}
}

func TestPlatformRestMissingLoginRejected(t *testing.T) {
	_, err := broker.New(types.CredentialBundle{BrokerType: types.BrokerPlatformRest, BaseURL: "http://example.invalid"})
	if err == nil {
		t.Fatal("expected error for missing login")
	}
}
