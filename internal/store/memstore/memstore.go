// Package memstore is an in-memory store.Store used by tests and local
// development, following msageha-maestro_v2's pattern of fake in-memory
// collaborators standing in for daemon dependencies in unit tests.
package memstore

import (
	"context"
	"sort"
	"sync"

	"quel-drawcore/internal/model"
	"quel-drawcore/internal/store"
)

// Store is a mutex-guarded map-backed store.Store.
type Store struct {
	mu       sync.RWMutex
	tasks    map[string]*model.Task
	accounts map[string]*model.Account
	domain   []*model.KeywordSet
	banned   []*model.KeywordSet
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		tasks:    make(map[string]*model.Task),
		accounts: make(map[string]*model.Account),
	}
}

var _ store.Store = (*Store)(nil)

func (s *Store) GetTask(_ context.Context, id string) (*model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *Store) SaveTask(_ context.Context, t *model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.tasks[t.ID] = &cp
	return nil
}

func (s *Store) DeleteTask(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	return nil
}

func (s *Store) ListTasks(_ context.Context, f store.Filter, orderBy string, asc bool, limit int) ([]*model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Task
	for _, t := range s.tasks {
		if !matches(t, f) {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if asc {
			return out[i].SubmitTime.Before(out[j].SubmitTime)
		}
		return out[i].SubmitTime.After(out[j].SubmitTime)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CountTasks(_ context.Context, f store.Filter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, t := range s.tasks {
		if matches(t, f) {
			n++
		}
	}
	return n, nil
}

func matches(t *model.Task, f store.Filter) bool {
	if f.ID != "" && t.ID != f.ID {
		return false
	}
	if f.ParentID != "" && t.ParentID != f.ParentID {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.InstanceID != "" && t.InstanceID != f.InstanceID {
		return false
	}
	if f.SubInstanceID != "" && t.SubInstanceID != f.SubInstanceID {
		return false
	}
	if f.Action != "" && t.Action != f.Action {
		return false
	}
	if f.BackendFamily != "" && t.BackendFamily != f.BackendFamily {
		return false
	}
	if f.Nonce != "" && t.Properties.Nonce != f.Nonce {
		return false
	}
	if f.MessageID != "" && t.Properties.MessageID != f.MessageID {
		return false
	}
	return true
}

// PutAccount seeds an account for tests/local runs.
func (s *Store) PutAccount(a *model.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ChannelID] = a
}

func (s *Store) ListAccounts(_ context.Context) ([]*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	return out, nil
}

func (s *Store) GetAccount(_ context.Context, channelID string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[channelID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return a, nil
}

// PutDomainKeywords/PutBannedKeywords seed the dictionaries for tests.
func (s *Store) PutDomainKeywords(ks []*model.KeywordSet) { s.domain = ks }
func (s *Store) PutBannedKeywords(ks []*model.KeywordSet) { s.banned = ks }

func (s *Store) ListDomainKeywords(_ context.Context) ([]*model.KeywordSet, error) {
	return s.domain, nil
}

func (s *Store) ListBannedKeywords(_ context.Context) ([]*model.KeywordSet, error) {
	return s.banned, nil
}
