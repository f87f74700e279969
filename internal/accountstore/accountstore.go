// Package accountstore provides the JSON-file-backed implementation of types.AccountStore
// (§6) used by cmd/fleetd: one file holding the full fleet, loaded once and served from memory.
// Connection state changes are logged, not written to the file.
//
// Grounded on the teacher's internal/data.Store (NewStore(logger, dir) pattern, os.ReadFile/
// os.WriteFile persistence, an in-memory cache guarded by a mutex) adapted from OHLCV bars on
// disk to one account-roster JSON document.
package accountstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/atlas-desktop/fleet-orchestrator/pkg/types"
)

// Store is a JSON-file-backed types.AccountStore. Reads are served from an in-memory cache
// populated on first LoadAccounts/GetAccount; UpdateConnected only logs, and Save is the one
// method that writes to disk.
type Store struct {
	mu       sync.Mutex
	log      *zap.Logger
	path     string
	accounts map[string]*types.Account
	order    []string
	loaded   bool
}

// New builds a Store reading/writing the given file path. The file is created empty on first
// write if it does not yet exist; it is not required to exist at construction time.
func New(log *zap.Logger, path string) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{log: log.Named("accountstore"), path: path, accounts: make(map[string]*types.Account)}
}

func (s *Store) ensureLoaded() error {
	if s.loaded {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.loaded = true
			return nil
		}
		return fmt.Errorf("accountstore: read %s: %w", s.path, err)
	}
	var accounts []*types.Account
	if err := json.Unmarshal(data, &accounts); err != nil {
		return fmt.Errorf("accountstore: decode %s: %w", s.path, err)
	}
	for _, a := range accounts {
		s.accounts[a.ID] = a
		s.order = append(s.order, a.ID)
	}
	s.loaded = true
	s.log.Info("loaded fleet roster", zap.Int("accounts", len(accounts)), zap.String("path", s.path))
	return nil
}

// LoadAccounts returns the full fleet roster in file order.
func (s *Store) LoadAccounts(ctx context.Context) ([]*types.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	out := make([]*types.Account, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.accounts[id])
	}
	return out, nil
}

// GetAccount returns one account by id, or an error if it is not on the roster.
func (s *Store) GetAccount(ctx context.Context, id string) (*types.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	a, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("accountstore: unknown account %q", id)
	}
	return a, nil
}

// UpdateConnected is currently a no-op write-through point: connection state is transient and
// owned by the Manager's in-memory instances, not persisted to the roster file. It exists so
// the Manager's broker-connect path has somewhere to report state changes for future auditing.
func (s *Store) UpdateConnected(ctx context.Context, id string, connected bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return err
	}
	if _, ok := s.accounts[id]; !ok {
		return fmt.Errorf("accountstore: unknown account %q", id)
	}
	s.log.Debug("account connection state changed", zap.String("account_id", id), zap.Bool("connected", connected))
	return nil
}

// Save writes the current roster back to disk, creating parent directories as needed. Used by
// operator tooling that edits the roster programmatically; the fleet daemon itself only reads.
func (s *Store) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("accountstore: mkdir: %w", err)
	}
	out := make([]*types.Account, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.accounts[id])
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("accountstore: encode: %w", err)
	}
	return os.WriteFile(s.path, data, 0o644)
}
