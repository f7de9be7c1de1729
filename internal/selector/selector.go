// Package selector implements the load balancer (C4): a pure function over
// the account registry that picks an eligible upstream instance.
package selector

import (
	"math/rand"

	"quel-drawcore/internal/model"
	"quel-drawcore/internal/registry"
)

// Policy is the account-choose-rule config key (spec.md §6).
type Policy string

const (
	PolicyBestWaitIdle Policy = "BestWaitIdle"
	PolicyRandom       Policy = "Random"
	PolicyWeight       Policy = "Weight"
	PolicyPolling      Policy = "Polling"
)

// Requirements narrows the candidate account set (spec.md §4.4).
type Requirements struct {
	IsNewTask          bool
	BotFamily          model.BotFamily
	NeedBlend          bool
	NeedDescribe       bool
	NeedShorten        bool
	PreferredMode      model.Mode
	IsDomain           bool
	DomainIDs          []string
	Whitelist          []string
	RequireBackend     model.BackendFamily // "" means any
}

// InstanceView is the subset of live instance state the selector needs; it
// is implemented by internal/instance.Instance so the selector stays a pure
// function over data rather than depending on the instance package's
// concurrency machinery.
type InstanceView interface {
	Account() *model.Account
	AcceptsNewTask() bool
	Queued(mode model.Mode) int
	Running() int
	IdleBias() float64
}

// Selector chooses among the live instances the registry+caller supply.
type Selector struct {
	registry *registry.Registry
	policy   Policy
	rand     *rand.Rand
}

// New builds a Selector for the given global policy.
func New(reg *registry.Registry, policy Policy, rng *rand.Rand) *Selector {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Selector{registry: reg, policy: policy, rand: rng}
}

// Choose runs the four-step policy from spec.md §4.4 over the supplied
// instance views (normally "all live instances", but callers may narrow
// this, e.g. to a single sharded subset).
func (s *Selector) Choose(instances []InstanceView, req Requirements) InstanceView {
	candidates := s.filterCapability(instances, req)
	if len(candidates) == 0 {
		return nil
	}

	if req.IsDomain && len(req.DomainIDs) > 0 {
		domainCandidates := filterDomain(candidates, req.DomainIDs)
		if len(domainCandidates) == 0 {
			return nil // caller retries once with IsDomain=false, per spec.md §7
		}
		candidates = domainCandidates
	}

	return s.applyPolicy(candidates)
}

func (s *Selector) filterCapability(instances []InstanceView, req Requirements) []InstanceView {
	var out []InstanceView
	for _, inst := range instances {
		a := inst.Account()
		if req.IsNewTask && !inst.AcceptsNewTask() {
			continue
		}
		if req.NeedBlend && !a.CapabilityBlend {
			continue
		}
		if req.NeedDescribe && !a.CapabilityDescribe {
			continue
		}
		if req.NeedShorten && !a.CapabilityShorten {
			continue
		}
		if req.BotFamily != "" && !a.SupportsBot(req.BotFamily) {
			continue
		}
		if len(req.Whitelist) > 0 && !contains(req.Whitelist, a.ChannelID) {
			continue
		}
		if req.RequireBackend != "" && a.BackendFamily != req.RequireBackend {
			continue
		}
		if req.PreferredMode != "" && !a.SupportsMode(req.PreferredMode) {
			continue
		}
		out = append(out, inst)
	}
	return out
}

func filterDomain(instances []InstanceView, domainIDs []string) []InstanceView {
	var out []InstanceView
	for _, inst := range instances {
		a := inst.Account()
		if !a.VerticalDomain {
			continue
		}
		for _, want := range domainIDs {
			if contains(a.DomainIDs, want) {
				out = append(out, inst)
				break
			}
		}
	}
	return out
}

func (s *Selector) applyPolicy(candidates []InstanceView) InstanceView {
	switch s.policy {
	case PolicyRandom:
		return candidates[s.rand.Intn(len(candidates))]
	case PolicyWeight:
		return s.weighted(candidates)
	case PolicyPolling:
		idx := s.registry.NextPollIndex("selector", len(candidates))
		return candidates[idx]
	case PolicyBestWaitIdle:
		fallthrough
	default:
		return bestWaitIdle(candidates)
	}
}

// bestWaitIdle minimizes (queued+running - coreSize*idleBias), tie-breaking
// by (-weight, sort) ascending, per spec.md §4.4.
func bestWaitIdle(candidates []InstanceView) InstanceView {
	best := candidates[0]
	bestScore := scoreOf(best)
	for _, c := range candidates[1:] {
		score := scoreOf(c)
		if score < bestScore || (score == bestScore && lessTieBreak(c, best)) {
			best = c
			bestScore = score
		}
	}
	return best
}

func scoreOf(inst InstanceView) float64 {
	a := inst.Account()
	total := 0
	for _, m := range []model.Mode{model.ModeFast, model.ModeRelax, model.ModeTurbo} {
		total += inst.Queued(m)
	}
	return float64(total+inst.Running()) - float64(a.CoreSize)*inst.IdleBias()
}

func lessTieBreak(a, b InstanceView) bool {
	aa, ba := a.Account(), b.Account()
	if aa.Weight != ba.Weight {
		return aa.Weight > ba.Weight // -weight ascending == weight descending
	}
	return aa.Sort < ba.Sort
}

func (s *Selector) weighted(candidates []InstanceView) InstanceView {
	total := 0
	for _, c := range candidates {
		w := c.Account().Weight
		if w <= 0 {
			w = 1
		}
		total += w
	}
	if total <= 0 {
		return candidates[s.rand.Intn(len(candidates))]
	}
	r := s.rand.Intn(total)
	for _, c := range candidates {
		w := c.Account().Weight
		if w <= 0 {
			w = 1
		}
		if r < w {
			return c
		}
		r -= w
	}
	return candidates[len(candidates)-1]
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
