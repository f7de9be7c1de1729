// Package registry is the in-memory view of accounts (C2): health, capacity
// and the sub-channel reverse-lookup map.
package registry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"quel-drawcore/internal/model"
	"quel-drawcore/internal/store"
)

const subChannelTTL = 30 * time.Minute

// Registry holds the live account set plus derived indexes.
type Registry struct {
	log   *zap.Logger
	store store.AccountStore
	clock func() time.Time

	mu               sync.RWMutex
	accounts         map[string]*model.Account
	subChannelIndex  map[string]string // subChannel -> channel
	subChannelBuilt  time.Time
	pollCounter      map[string]uint64 // for Polling selection policy, keyed by a policy bucket id
}

// New builds an empty registry; call Refresh to load accounts.
func New(log *zap.Logger, st store.AccountStore) *Registry {
	return &Registry{
		log:         log,
		store:       st,
		clock:       time.Now,
		accounts:    make(map[string]*model.Account),
		pollCounter: make(map[string]uint64),
	}
}

// Refresh reloads the account set from the store and rebuilds the
// sub-channel index unconditionally, as any account mutation must.
func (r *Registry) Refresh(ctx context.Context) error {
	accts, err := r.store.ListAccounts(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts = make(map[string]*model.Account, len(accts))
	for _, a := range accts {
		r.accounts[a.ChannelID] = a
	}
	r.rebuildSubChannelIndexLocked()
	return nil
}

// Set installs a fixed account set directly, bypassing the store — used by
// tests and by callers that already have accounts in hand (e.g. seeded from
// config rather than a database).
func (r *Registry) Set(accts []*model.Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts = make(map[string]*model.Account, len(accts))
	for _, a := range accts {
		r.accounts[a.ChannelID] = a
	}
	r.rebuildSubChannelIndexLocked()
}

func (r *Registry) rebuildSubChannelIndexLocked() {
	idx := make(map[string]string)
	for _, a := range r.accounts {
		for sub, owner := range a.SubChannels {
			idx[sub] = owner
		}
	}
	r.subChannelIndex = idx
	r.subChannelBuilt = r.clock()
}

// All returns every known account.
func (r *Registry) All() []*model.Account {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.Account, 0, len(r.accounts))
	for _, a := range r.accounts {
		out = append(out, a)
	}
	return out
}

// Alive returns accounts that are transport-connected, not sleeping, and
// inside their work hours. The per-bot Enabled map is not checked here.
func (r *Registry) Alive() []*model.Account {
	now := r.clock()
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.Account
	for _, a := range r.accounts {
		if a.Connected && !a.Sleeping && a.InWorkHours(now) {
			out = append(out, a)
		}
	}
	return out
}

// ByChannel looks up an account by its own channel id.
func (r *Registry) ByChannel(id string) (*model.Account, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.accounts[id]
	return a, ok
}

// BySubChannel resolves a sub-channel id to its owning account, rebuilding
// the derived index if it has expired its 30-minute TTL.
func (r *Registry) BySubChannel(id string) (*model.Account, bool) {
	r.mu.RLock()
	stale := r.clock().Sub(r.subChannelBuilt) > subChannelTTL
	r.mu.RUnlock()
	if stale {
		r.mu.Lock()
		if r.clock().Sub(r.subChannelBuilt) > subChannelTTL {
			r.rebuildSubChannelIndexLocked()
		}
		r.mu.Unlock()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	channelID, ok := r.subChannelIndex[id]
	if !ok {
		return nil, false
	}
	a, ok := r.accounts[channelID]
	return a, ok
}

// NextPollIndex returns and advances the monotonic round-robin counter for
// the Polling selection policy, scoped by bucket (e.g. a capability+bot
// family key) so unrelated selections don't perturb each other's rotation.
func (r *Registry) NextPollIndex(bucket string, mod int) int {
	if mod <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.pollCounter[bucket]
	r.pollCounter[bucket] = n + 1
	return int(n % uint64(mod))
}
