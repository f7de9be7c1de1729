// Package domaincache holds the two time-bounded derived views over the
// keyword-set store (C7): domain keyword sets used to steer selection, and
// the banned-word dictionary used by the orchestrator's preflight scan.
package domaincache

import (
	"context"
	"strings"
	"sync"
	"time"

	"quel-drawcore/internal/model"
	"quel-drawcore/internal/store"
)

const ttl = 30 * time.Minute

// Cache lazily rebuilds its two views on first read after expiry or an
// explicit Clear call.
type Cache struct {
	store store.KeywordStore
	clock func() time.Time

	mu           sync.RWMutex
	domain       []*model.KeywordSet
	domainBuilt  time.Time
	banned       []*model.KeywordSet
	bannedBuilt  time.Time
}

// New builds an empty, unpopulated cache.
func New(st store.KeywordStore) *Cache {
	return &Cache{store: st, clock: time.Now}
}

// ClearDomain evicts the domain view immediately (admin surfaces call this).
func (c *Cache) ClearDomain() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.domain = nil
	c.domainBuilt = time.Time{}
}

// ClearBanned evicts the banned-word view immediately.
func (c *Cache) ClearBanned() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.banned = nil
	c.bannedBuilt = time.Time{}
}

// Domain returns every stored domain keyword set (disabled ones included;
// DomainMatch skips them), rebuilding from the store
// if the view is missing or older than the 30-minute TTL.
func (c *Cache) Domain(ctx context.Context) ([]*model.KeywordSet, error) {
	c.mu.RLock()
	fresh := !c.domainBuilt.IsZero() && c.clock().Sub(c.domainBuilt) < ttl
	sets := c.domain
	c.mu.RUnlock()
	if fresh {
		return sets, nil
	}

	loaded, err := c.store.ListDomainKeywords(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.domain = loaded
	c.domainBuilt = c.clock()
	c.mu.Unlock()
	return loaded, nil
}

// Banned returns every stored banned-word set (disabled ones included;
// ScanBanned skips them), same freshness rule as Domain.
func (c *Cache) Banned(ctx context.Context) ([]*model.KeywordSet, error) {
	c.mu.RLock()
	fresh := !c.bannedBuilt.IsZero() && c.clock().Sub(c.bannedBuilt) < ttl
	sets := c.banned
	c.mu.RUnlock()
	if fresh {
		return sets, nil
	}

	loaded, err := c.store.ListBannedKeywords(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.banned = loaded
	c.bannedBuilt = c.clock()
	c.mu.Unlock()
	return loaded, nil
}

// ScanBanned runs a word-boundary, lower-cased scan of prompt against every
// enabled banned keyword. It returns the first offending substring found, in
// its original casing from prompt, or "" if clean.
func ScanBanned(prompt string, sets []*model.KeywordSet) string {
	lower := strings.ToLower(prompt)
	words := splitWords(lower)
	origWords := splitWords(prompt)

	for _, set := range sets {
		if !set.Enabled {
			continue
		}
		for _, kw := range set.Keywords {
			kwLower := strings.ToLower(strings.TrimSpace(kw))
			if kwLower == "" {
				continue
			}
			for i, w := range words {
				if w == kwLower {
					return origWords[i]
				}
			}
		}
	}
	return ""
}

// DomainMatch tokenizes prompt (IMAGINE preflight, spec.md §4.6) and returns
// the set of domain ids whose keyword set matches any token or its plural
// (token+"s"). If none match, ok is false and selection should proceed
// without domain routing.
func DomainMatch(prompt string, sets []*model.KeywordSet) (ids []string, ok bool) {
	lower := strings.ToLower(prompt)
	tokens := splitWords(lower)
	tokenSet := make(map[string]bool, len(tokens)*2)
	for _, t := range tokens {
		tokenSet[t] = true
		tokenSet[t+"s"] = true
	}

	seen := make(map[string]bool)
	for _, set := range sets {
		if !set.Enabled {
			continue
		}
		for _, kw := range set.Keywords {
			kwLower := strings.ToLower(strings.TrimSpace(kw))
			if kwLower == "" {
				continue
			}
			if tokenSet[kwLower] {
				if !seen[set.ID] {
					seen[set.ID] = true
					ids = append(ids, set.ID)
				}
				break
			}
		}
	}
	return ids, len(ids) > 0
}

// splitWords splits on comma, period, hyphen and whitespace, per spec.md
// §4.6's tokenization rule for the IMAGINE domain preflight and the banned
// word scan.
func splitWords(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		switch r {
		case ',', '.', '-', ' ', '\t', '\n', '\r':
			return true
		default:
			return false
		}
	})
}
