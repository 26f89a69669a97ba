package rules

import (
	"sync/atomic"

	"ionmandns/pkg/logging"
)

// Engine is the lock-free Rule Engine. Classify is called on the Front
// Proxy's hot path; Publish is called once per
// reload cycle by the Hot-reload Supervisor. The two never block each
// other: readers always see a complete, internally-consistent Snapshot
// (the one most recently published), never a partially-built one.
type Engine struct {
	current atomic.Pointer[Snapshot]
	logger  *logging.Logger
}

// New creates an Engine with an empty, all-allow snapshot. Classify is safe
// to call before the first Publish.
func New(logger *logging.Logger) *Engine {
	e := &Engine{logger: logger}
	e.current.Store(BuildSnapshot(nil, nil, nil))
	return e
}

// Publish atomically swaps in a newly built snapshot. Readers already in
// Classify keep using the snapshot they loaded; no lock is taken on either
// side.
func (e *Engine) Publish(snap *Snapshot) {
	if snap == nil {
		return
	}
	e.current.Store(snap)
	if e.logger != nil {
		e.logger.Info("rule engine snapshot published",
			"peers", len(snap.peerByAddr),
			"categories", len(snap.categories),
			"games", len(snap.games))
	}
}

// Current returns the snapshot currently in effect.
func (e *Engine) Current() *Snapshot {
	return e.current.Load()
}

// Classify decides whether qname should be blocked for a client at
// clientAddr, and the category name responsible for the decision (empty
// when no category is responsible - default allow).
//
// Precedence, in order: whitelist, game-allowance override, per-peer/group
// exact blocklist (category "blocklist"), categories (scanned in snapshot
// order, which LoadCategories sorts by key; peer rule beats group rule beats
// global default; the first matching category that blocks wins), adult/porn
// heuristic (only once the "porn"
// category is itself enabled for this peer or globally; returns category
// "porn"), default allow.
func (e *Engine) Classify(clientAddr, qname string) (blocked bool, category string) {
	snap := e.current.Load()
	qname = normalizeDomain(qname)
	if qname == "" {
		return false, ""
	}

	peer, hasPeer := snap.peerByAddr[normalizeAddr(clientAddr)]

	if snap.isWhitelisted(qname, hasPeer, peer) {
		return false, ""
	}

	if _, allowed, matched := snap.gameAllowanceOverride(qname, hasPeer, peer); matched && allowed {
		return false, ""
	}

	if hasPeer {
		if _, ok := anyDomainMatches(qname, snap.blocklistPeer[peer.ID]); ok {
			return true, "blocklist"
		}
	}
	if hasPeer && peer.HasGroup {
		if _, ok := anyDomainMatches(qname, snap.blocklistGroup[peer.GroupID]); ok {
			return true, "blocklist"
		}
	}

	for _, cat := range snap.categories {
		if _, ok := anyDomainMatches(qname, cat.Domains); !ok {
			continue
		}

		if cat.AlwaysOn {
			if snap.categoryDefault[cat.Key] {
				return true, cat.Key
			}
			continue
		}

		if snap.categoryEffectiveBlock(cat.Key, hasPeer, peer) {
			return true, cat.Key
		}
		// Matched but allowed by override: keep scanning remaining
		// categories in case a later one also covers this domain and
		// blocks it.
	}

	if looksAdult(qname) && snap.categoryEffectiveBlock("porn", hasPeer, peer) {
		return true, "porn"
	}

	return false, ""
}

