// Package portrules implements the Port Rule Compiler: a pure function from
// a rule snapshot to a deterministic list of firewall drop rules for the
// gaming port-blocking feature.
package portrules

import (
	"sort"
	"strings"

	"ionmandns/pkg/rules"
	"ionmandns/pkg/storage"
)

// Action is always "drop" in this core; kept as a field for forward
// compatibility with the firewall installer's rule shape.
type Action string

const ActionDrop Action = "drop"

// Rule is one emitted firewall rule.
type Rule struct {
	Action  Action
	Client  string
	Game    string
	Proto   string
	Low     uint16
	High    uint16
	CIDR    string // empty for port rules
	Comment string
}

// Compile computes the deterministic rule set for the given clients, game
// definitions, per-peer port rule overrides and global settings. Identical
// inputs always produce a byte-identical (field-identical) output sequence.
func Compile(clients []string, games []rules.Game, portRules []storage.PortRule, peerByAddr map[string]storage.Peer, settings []storage.Setting) []Rule {
	globalBlocked := globalGameSettings(settings)
	peerOverride := peerGameOverrides(portRules, peerByAddr)

	sortedClients := append([]string(nil), clients...)
	sort.Strings(sortedClients)

	var out []Rule
	for _, client := range sortedClients {
		blockedGames := blockedGamesFor(client, games, globalBlocked, peerOverride)

		// Ports before CIDRs; within each, owning-game order follows the
		// definition order passed in (games slice order).
		for _, g := range games {
			if !blockedGames[g.Key] {
				continue
			}
			for _, pr := range g.Ports {
				if portCoveredByAnAllowedGame(pr, g.Key, games, client, blockedGames) {
					continue
				}
				out = append(out, Rule{
					Action:  ActionDrop,
					Client:  client,
					Game:    g.Key,
					Proto:   pr.Proto,
					Low:     pr.Low,
					High:    pr.High,
					Comment: comment(g.Key, client, ""),
				})
			}
		}
		for _, g := range games {
			if !blockedGames[g.Key] {
				continue
			}
			for _, cidr := range g.CIDRs {
				out = append(out, Rule{
					Action:  ActionDrop,
					Client:  client,
					Game:    g.Key,
					CIDR:    cidr,
					Comment: comment(g.Key, client, cidr),
				})
			}
		}
	}

	return out
}

func comment(game, client, ip string) string {
	if ip == "" {
		return "ionman:" + game + ":" + client
	}
	return "ionman:" + game + ":" + client + ":" + ip
}

// blockedGamesFor resolves the effective per-(client, game) decision: a
// per-peer rule beats the global setting beats the game's own default.
func blockedGamesFor(client string, games []rules.Game, globalBlocked map[string]bool, peerOverride map[string]map[string]bool) map[string]bool {
	result := make(map[string]bool, len(games))
	for _, g := range games {
		if ov, ok := peerOverride[client]; ok {
			if v, ok := ov[g.Key]; ok {
				result[g.Key] = v
				continue
			}
		}
		if v, ok := globalBlocked[g.Key]; ok {
			result[g.Key] = v
			continue
		}
		result[g.Key] = g.DefaultBlocked
	}
	return result
}

// portCoveredByAnAllowedGame reports whether pr should stay open for client
// because some other game sharing an overlapping (proto, range) is allowed.
// A port is dropped only if every conflicting game is blocked for this
// client.
func portCoveredByAnAllowedGame(pr rules.PortRange, owner string, games []rules.Game, client string, blockedGames map[string]bool) bool {
	for _, g := range games {
		if g.Key == owner {
			continue
		}
		for _, other := range g.Ports {
			if other.Proto != pr.Proto {
				continue
			}
			if !overlaps(pr, other) {
				continue
			}
			if !blockedGames[g.Key] {
				return true
			}
		}
	}
	return false
}

func overlaps(a, b rules.PortRange) bool {
	return a.Low <= b.High && b.Low <= a.High
}

// globalGameSettings parses "port_block_<game>" settings into a bool map.
func globalGameSettings(settings []storage.Setting) map[string]bool {
	out := make(map[string]bool)
	for _, s := range settings {
		if key, ok := strings.CutPrefix(s.Key, "port_block_"); ok {
			out[key] = s.Value == "1"
		}
	}
	return out
}

// peerGameOverrides indexes per-peer port rules by the peer's tunnel
// address (the client identifier used throughout this package).
func peerGameOverrides(portRules []storage.PortRule, peerByAddr map[string]storage.Peer) map[string]map[string]bool {
	idToAddr := make(map[int64]string, len(peerByAddr))
	for addr, p := range peerByAddr {
		idToAddr[p.ID] = addr
	}

	out := make(map[string]map[string]bool)
	for _, pr := range portRules {
		addr, ok := idToAddr[pr.ScopeID]
		if !ok {
			continue
		}
		if out[addr] == nil {
			out[addr] = make(map[string]bool)
		}
		out[addr][pr.Game] = pr.Blocked
	}
	return out
}
