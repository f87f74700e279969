package adapters_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	_ "github.com/atlas-desktop/fleet-orchestrator/internal/broker/adapters"

	"github.com/atlas-desktop/fleet-orchestrator/internal/broker"
	"github.com/atlas-desktop/fleet-orchestrator/pkg/types"
)

// fakeTerminalRequest/fakeTerminalResponse mirror the bridge's line-delimited JSON envelope so
// the fake server below can decode requests without importing the adapter's unexported types.
type fakeTerminalRequest struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params,omitempty"`
}

type fakeTerminalResponse struct {
	OK      bool            `json:"ok"`
	Retcode int             `json:"retcode,omitempty"`
	Error   string          `json:"error,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

// startFakeTerminal runs a single-connection line-delimited JSON server standing in for a local
// MT4/MT5 terminal process, dispatching each command through handlers.
func startFakeTerminal(t *testing.T, handlers map[string]func(params map[string]any) fakeTerminalResponse) (host string, port int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		reader := bufio.NewReader(conn)
		for {
			line, err := reader.ReadBytes('\n')
			if err != nil {
				return
			}
			var req fakeTerminalRequest
			if err := json.Unmarshal(line, &req); err != nil {
				return
			}
			h, ok := handlers[req.Command]
			var resp fakeTerminalResponse
			if ok {
				resp = h(req.Params)
			} else {
				resp = fakeTerminalResponse{OK: true}
			}
			out, _ := json.Marshal(resp)
			conn.Write(append(out, '\n'))
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

func TestTerminalBridgeConnectAndAccountInfo(t *testing.T) {
	host, port := startFakeTerminal(t, map[string]func(map[string]any) fakeTerminalResponse{
		"account_info": func(params map[string]any) fakeTerminalResponse {
			result, _ := json.Marshal(map[string]any{"balance": 5000.0, "equity": 5100.0, "currency": "USD"})
			return fakeTerminalResponse{OK: true, Result: result}
		},
	})

	adapter, err := broker.New(types.CredentialBundle{
		BrokerType: types.BrokerTerminal, TerminalHost: host, TerminalPort: port,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := adapter.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer adapter.Disconnect(ctx)

	info, err := adapter.AccountInfo(ctx)
	if err != nil {
		t.Fatalf("AccountInfo: %v", err)
	}
	if info.Currency != "USD" {
		t.Errorf("currency = %s, want USD", info.Currency)
	}
}

func TestTerminalBridgePlaceOrderMapsKnownRetcode(t *testing.T) {
	host, port := startFakeTerminal(t, map[string]func(map[string]any) fakeTerminalResponse{
		"order_send": func(params map[string]any) fakeTerminalResponse {
			return fakeTerminalResponse{OK: false, Retcode: 10019, Error: "no money"}
		},
	})

	adapter, err := broker.New(types.CredentialBundle{
		BrokerType: types.BrokerTerminal, TerminalHost: host, TerminalPort: port,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := adapter.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer adapter.Disconnect(ctx)

	result := adapter.PlaceOrder(ctx, types.OrderRequest{Symbol: "EURUSD", Direction: types.DirectionLong})
	if result.Status != types.OrderStatusRejected {
		t.Fatalf("status = %s, want rejected", result.Status)
	}
	if result.ErrorMessage != string(types.ErrInsufficientMargin) {
		t.Errorf("errorMessage = %s, want %s", result.ErrorMessage, types.ErrInsufficientMargin)
	}
	if result.Retcode != 10019 {
		t.Errorf("retcode = %d, want 10019", result.Retcode)
	}
}

func TestTerminalBridgeMissingHostRejected(t *testing.T) {
	_, err := broker.New(types.CredentialBundle{BrokerType: types.BrokerTerminal})
	if err == nil {
		t.Fatal("expected error for missing terminalHost/terminalPort")
	}
}
