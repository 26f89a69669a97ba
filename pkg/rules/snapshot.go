package rules

import (
	"strings"
	"time"

	"ionmandns/pkg/storage"
)

// Snapshot is the Rule Engine's fully-resolved, read-only view of the rule
// set. It is built once per reload cycle from a storage.Snapshot plus the
// hot-reloaded category/game definitions, and then published atomically -
// every field below is immutable once a Snapshot is built.
type Snapshot struct {
	categories []Category // order preserved as passed in (LoadCategories sorts by key)
	games      map[string]Game

	peerByAddr map[string]storage.Peer

	whitelistGlobal []string
	whitelistPeer   map[int64][]string
	whitelistGroup  map[int64][]string

	blocklistPeer  map[int64][]string
	blocklistGroup map[int64][]string

	categoryOverridePeer  map[int64]map[string]bool // peerID -> category -> block?
	categoryOverrideGroup map[int64]map[string]bool
	categoryDefault       map[string]bool // category -> block? (from settings block_<category>)

	gamePeerBlocked  map[int64]map[string]bool // peerID -> game -> blocked?
	gameGlobalBlocked map[string]bool           // from settings port_block_<game>

	fetchedAt time.Time
}

// BuildSnapshot resolves a raw store projection plus the current
// category/game definitions into the form Classify consults. It never
// mutates its inputs and never fails: malformed rows are skipped, never
// rejected, so a single bad row can't take down the whole snapshot.
func BuildSnapshot(store *storage.Snapshot, categories []Category, games []Game) *Snapshot {
	s := &Snapshot{
		categories:            categories,
		games:                 make(map[string]Game, len(games)),
		peerByAddr:            make(map[string]storage.Peer),
		whitelistPeer:         make(map[int64][]string),
		whitelistGroup:        make(map[int64][]string),
		blocklistPeer:         make(map[int64][]string),
		blocklistGroup:        make(map[int64][]string),
		categoryOverridePeer:  make(map[int64]map[string]bool),
		categoryOverrideGroup: make(map[int64]map[string]bool),
		categoryDefault:       make(map[string]bool),
		gamePeerBlocked:       make(map[int64]map[string]bool),
		gameGlobalBlocked:     make(map[string]bool),
		fetchedAt:             time.Now(),
	}

	for _, g := range games {
		s.games[g.Key] = g
	}

	if store == nil {
		return s
	}

	for _, p := range store.Peers {
		s.peerByAddr[normalizeAddr(p.TunnelAddress)] = p
	}

	for _, w := range store.Whitelist {
		domain := normalizeDomain(w.Domain)
		if domain == "" {
			continue
		}
		switch {
		case w.Global:
			s.whitelistGlobal = append(s.whitelistGlobal, domain)
		case w.Scope == storage.ScopePeer:
			s.whitelistPeer[w.ScopeID] = append(s.whitelistPeer[w.ScopeID], domain)
		case w.Scope == storage.ScopeGroup:
			s.whitelistGroup[w.ScopeID] = append(s.whitelistGroup[w.ScopeID], domain)
		}
	}

	for _, r := range store.Rules {
		switch r.Type {
		case storage.RuleBlocklist:
			domain := normalizeDomain(r.Domain)
			if domain == "" {
				continue
			}
			switch r.Scope {
			case storage.ScopePeer:
				s.blocklistPeer[r.ScopeID] = append(s.blocklistPeer[r.ScopeID], domain)
			case storage.ScopeGroup:
				s.blocklistGroup[r.ScopeID] = append(s.blocklistGroup[r.ScopeID], domain)
			}
		case storage.RuleCategory:
			if r.Category == "" {
				continue
			}
			switch r.Scope {
			case storage.ScopePeer:
				m, ok := s.categoryOverridePeer[r.ScopeID]
				if !ok {
					m = make(map[string]bool)
					s.categoryOverridePeer[r.ScopeID] = m
				}
				m[r.Category] = r.Block
			case storage.ScopeGroup:
				m, ok := s.categoryOverrideGroup[r.ScopeID]
				if !ok {
					m = make(map[string]bool)
					s.categoryOverrideGroup[r.ScopeID] = m
				}
				m[r.Category] = r.Block
			}
		}
	}

	for _, st := range store.Settings {
		if category, ok := strings.CutPrefix(st.Key, "block_"); ok {
			s.categoryDefault[category] = st.Value == "1" || strings.EqualFold(st.Value, "true")
			continue
		}
		if game, ok := strings.CutPrefix(st.Key, "port_block_"); ok {
			s.gameGlobalBlocked[game] = st.Value == "1" || strings.EqualFold(st.Value, "true")
		}
	}

	for _, pr := range store.PortRules {
		m, ok := s.gamePeerBlocked[pr.ScopeID]
		if !ok {
			m = make(map[string]bool)
			s.gamePeerBlocked[pr.ScopeID] = m
		}
		m[pr.Game] = pr.Blocked
	}

	return s
}

// Categories returns the category definitions this snapshot was built
// with, for a reload cycle that needs to fall back to the previous
// definitions when the on-disk file is temporarily unavailable.
func (s *Snapshot) Categories() []Category {
	return s.categories
}

// Games returns the game definitions this snapshot was built with, for the
// same fallback purpose as Categories.
func (s *Snapshot) Games() []Game {
	games := make([]Game, 0, len(s.games))
	for _, g := range s.games {
		games = append(games, g)
	}
	return games
}

func normalizeDomain(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	return strings.TrimSuffix(d, ".")
}

// normalizeAddr reduces a stored WireGuard allowed_ips value (e.g.
// "10.0.0.7/32") or a bare client address to the plain IP string both sides
// key lookups on. The adapter, not the store, is responsible for stripping
// the prefix length: the persisted tunnel_address column holds the
// allowed_ips value and carries one.
func normalizeAddr(a string) string {
	a = strings.TrimSpace(a)
	if host, _, ok := strings.Cut(a, "/"); ok {
		return host
	}
	return a
}
