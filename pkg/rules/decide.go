package rules

import "ionmandns/pkg/storage"

// isWhitelisted checks the global whitelist and, when the client is a known
// peer, its peer-scoped and group-scoped whitelist entries.
func (s *Snapshot) isWhitelisted(qname string, hasPeer bool, peer storage.Peer) bool {
	if _, ok := anyDomainMatches(qname, s.whitelistGlobal); ok {
		return true
	}
	if !hasPeer {
		return false
	}
	if _, ok := anyDomainMatches(qname, s.whitelistPeer[peer.ID]); ok {
		return true
	}
	if peer.HasGroup {
		if _, ok := anyDomainMatches(qname, s.whitelistGroup[peer.GroupID]); ok {
			return true
		}
	}
	return false
}

// gameAllowanceOverride reports whether qname belongs to a known game's
// domain set, and if so whether that game is effectively allowed for this
// client (peer rule beats global setting beats the game's own default).
func (s *Snapshot) gameAllowanceOverride(qname string, hasPeer bool, peer storage.Peer) (gameKey string, allowed bool, matched bool) {
	for key, game := range s.games {
		if _, ok := anyDomainMatches(qname, game.Domains); !ok {
			continue
		}
		blocked := s.gameEffectiveBlocked(key, game, hasPeer, peer)
		return key, !blocked, true
	}
	return "", false, false
}

// gameEffectiveBlocked resolves the per-(client,game) decision: per-peer
// rule beats global setting beats the game's own default.
func (s *Snapshot) gameEffectiveBlocked(key string, game Game, hasPeer bool, peer storage.Peer) bool {
	if hasPeer {
		if m, ok := s.gamePeerBlocked[peer.ID]; ok {
			if v, ok := m[key]; ok {
				return v
			}
		}
	}
	if v, ok := s.gameGlobalBlocked[key]; ok {
		return v
	}
	return game.DefaultBlocked
}

// categoryEffectiveBlock resolves the per-(client,category) decision for a
// non-always-on category: peer rule beats group rule beats the global
// default (absent a default, the category is allowed).
func (s *Snapshot) categoryEffectiveBlock(category string, hasPeer bool, peer storage.Peer) bool {
	if hasPeer {
		if m, ok := s.categoryOverridePeer[peer.ID]; ok {
			if v, ok := m[category]; ok {
				return v
			}
		}
		if peer.HasGroup {
			if m, ok := s.categoryOverrideGroup[peer.GroupID]; ok {
				if v, ok := m[category]; ok {
					return v
				}
			}
		}
	}
	if v, ok := s.categoryDefault[category]; ok {
		return v
	}
	return false
}
