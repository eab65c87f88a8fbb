// Package memory holds process-local stores. They are meant for tests and
// local development: nothing survives a restart.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/anatolio-deb/joinbot/internal/ledger"
)

type LedgerStore struct {
	mu   sync.Mutex
	subs map[int64]ledger.Subscription
}

func NewLedgerStore() *LedgerStore {
	return &LedgerStore{subs: make(map[int64]ledger.Subscription)}
}

func (s *LedgerStore) Get(_ context.Context, principalID int64) (ledger.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[principalID]
	if !ok {
		return ledger.Subscription{}, ledger.ErrNotFound
	}
	return sub, nil
}

func (s *LedgerStore) Update(_ context.Context, principalID int64, fn ledger.UpdateFunc) (*ledger.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cur *ledger.Subscription
	if sub, ok := s.subs[principalID]; ok {
		cur = &sub
	}
	next, err := fn(cur)
	if err != nil {
		return nil, err
	}
	if next == nil {
		delete(s.subs, principalID)
		return nil, nil
	}
	next.PrincipalID = principalID
	s.subs[principalID] = *next
	out := *next
	return &out, nil
}

func (s *LedgerStore) List(_ context.Context) ([]ledger.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ledger.Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PrincipalID < out[j].PrincipalID })
	return out, nil
}
