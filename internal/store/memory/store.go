// Package memory keeps Accounts and bans in process memory. It backs local runs and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"marketgate.org/internal/identity"
)

// Store implements identity.AccountStore and identity.BanStore.
type Store struct {
	mu       sync.RWMutex
	accounts map[string]identity.Account
	byOrigin map[string]string
	bans     map[string]identity.BanRecord
}

var (
	_ identity.AccountStore = (*Store)(nil)
	_ identity.BanStore     = (*Store)(nil)
)

func New() *Store {
	return &Store{
		accounts: make(map[string]identity.Account),
		byOrigin: make(map[string]string),
		bans:     make(map[string]identity.BanRecord),
	}
}

func (s *Store) CreateIfAbsent(_ context.Context, acct identity.Account) (identity.Account, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byOrigin[acct.BoundOrigin]; ok {
		return s.accounts[id], false, nil
	}
	s.accounts[acct.ID] = acct
	s.byOrigin[acct.BoundOrigin] = acct.ID
	return acct, true, nil
}

func (s *Store) Get(_ context.Context, id string) (identity.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[id]
	if !ok {
		return identity.Account{}, identity.ErrNotFound
	}
	return acct, nil
}

func (s *Store) FindByOrigin(_ context.Context, origin string) (identity.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byOrigin[origin]
	if !ok {
		return identity.Account{}, identity.ErrNotFound
	}
	return s.accounts[id], nil
}

func (s *Store) Approve(_ context.Context, id string, at time.Time) (identity.Account, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[id]
	if !ok {
		return identity.Account{}, false, identity.ErrNotFound
	}
	if acct.Approved {
		return acct, false, nil
	}
	acct.Approved = true
	acct.ApprovedAt = at
	s.accounts[id] = acct
	return acct, true, nil
}

func (s *Store) ListPending(_ context.Context, limit int) ([]identity.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []identity.Account
	for _, acct := range s.accounts {
		if !acct.Approved {
			res = append(res, acct)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

// Count returns the number of stored Accounts.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accounts)
}

func (s *Store) Find(_ context.Context, identifier string) (identity.BanRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ban, ok := s.bans[identifier]
	if !ok {
		return identity.BanRecord{}, identity.ErrNotFound
	}
	return ban, nil
}

func (s *Store) Put(_ context.Context, ban identity.BanRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bans[ban.Identifier] = ban
	return nil
}

func (s *Store) Delete(_ context.Context, identifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bans[identifier]; !ok {
		return identity.ErrNotFound
	}
	delete(s.bans, identifier)
	return nil
}

func (s *Store) List(_ context.Context) ([]identity.BanRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]identity.BanRecord, 0, len(s.bans))
	for _, b := range s.bans {
		res = append(res, b)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Identifier < res[j].Identifier })
	return res, nil
}
