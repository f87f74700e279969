package accountstore_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/atlas-desktop/fleet-orchestrator/internal/accountstore"
	"github.com/atlas-desktop/fleet-orchestrator/pkg/types"
)

func writeRoster(t *testing.T, accounts []*types.Account) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "accounts.json")
	data, err := json.Marshal(accounts)
	if err != nil {
		t.Fatalf("marshal roster: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write roster: %v", err)
	}
	return path
}

func TestLoadAccountsReturnsFileOrder(t *testing.T) {
	path := writeRoster(t, []*types.Account{
		{ID: "acct-b", Name: "Second"},
		{ID: "acct-a", Name: "First"},
	})
	store := accountstore.New(nil, path)

	accounts, err := store.LoadAccounts(context.Background())
	if err != nil {
		t.Fatalf("LoadAccounts: %v", err)
	}
	if len(accounts) != 2 || accounts[0].ID != "acct-b" || accounts[1].ID != "acct-a" {
		t.Fatalf("unexpected order: %+v", accounts)
	}
}

func TestGetAccountUnknownErrors(t *testing.T) {
	path := writeRoster(t, []*types.Account{{ID: "acct-a"}})
	store := accountstore.New(nil, path)

	if _, err := store.GetAccount(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for unknown account id")
	}
	if a, err := store.GetAccount(context.Background(), "acct-a"); err != nil || a.ID != "acct-a" {
		t.Fatalf("GetAccount(acct-a) = %+v, %v", a, err)
	}
}

func TestMissingRosterFileIsEmptyNotError(t *testing.T) {
	store := accountstore.New(nil, filepath.Join(t.TempDir(), "does-not-exist.json"))

	accounts, err := store.LoadAccounts(context.Background())
	if err != nil {
		t.Fatalf("LoadAccounts on missing file: %v", err)
	}
	if len(accounts) != 0 {
		t.Fatalf("expected empty roster, got %d accounts", len(accounts))
	}
}

func TestSaveRoundTrips(t *testing.T) {
	path := writeRoster(t, []*types.Account{{ID: "acct-a", Name: "First"}})
	store := accountstore.New(nil, path)
	if _, err := store.LoadAccounts(context.Background()); err != nil {
		t.Fatalf("LoadAccounts: %v", err)
	}
	if err := store.Save(context.Background()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded := accountstore.New(nil, path)
	accounts, err := reloaded.LoadAccounts(context.Background())
	if err != nil {
		t.Fatalf("reloaded LoadAccounts: %v", err)
	}
	if len(accounts) != 1 || accounts[0].ID != "acct-a" {
		t.Fatalf("unexpected roster after save/reload: %+v", accounts)
	}
}

func TestUpdateConnectedUnknownAccountErrors(t *testing.T) {
	path := writeRoster(t, []*types.Account{{ID: "acct-a"}})
	store := accountstore.New(nil, path)

	if err := store.UpdateConnected(context.Background(), "missing", true); err == nil {
		t.Fatal("expected error for unknown account id")
	}
	if err := store.UpdateConnected(context.Background(), "acct-a", true); err != nil {
		t.Fatalf("UpdateConnected: %v", err)
	}
}
