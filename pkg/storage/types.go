// Package storage contains the pluggable persistence layer backing the rule
// store adapter, the query logger and the resolver log.
package storage

import "time"

// Peer is a WireGuard-style client the rule engine classifies traffic for.
// TunnelAddress is the stored tunnel address, which may carry a prefix
// length (e.g. "10.0.0.7/32"); the Rule Engine strips the prefix before
// keying per-peer lookups on it.
type Peer struct {
	Name          string
	TunnelAddress string
	ID            int64
	GroupID       int64
	HasGroup      bool
}

// Group is a named collection of peers that share group-scoped rules.
type Group struct {
	Name string
	ID   int64
}

// RuleScope is who a Rule or PortRule applies to.
type RuleScope string

const (
	ScopePeer  RuleScope = "peer"
	ScopeGroup RuleScope = "group"
)

// RuleType distinguishes the two domain-rule shapes the engine consults.
type RuleType string

const (
	RuleCategory  RuleType = "category"
	RuleBlocklist RuleType = "blocklist"
)

// Rule is a row of the blocking_rules table: either a per-scope override of
// a category's default action, or an exact-domain blocklist entry.
type Rule struct {
	Category string
	Domain   string
	Type     RuleType
	Scope    RuleScope
	ScopeID  int64
	Block    bool
}

// PortRule is a row of the port_blocking_rules table: a per-peer override of
// a game's default port-blocking behavior.
type PortRule struct {
	Game    string
	ScopeID int64
	Blocked bool
}

// Setting is a row of the settings table. Recognized keys are
// "block_<category>" (global category default) and "port_block_<game>"
// (global game default).
type Setting struct {
	Key   string
	Value string
}

// WhitelistEntry unconditionally suppresses blocking for a domain, either
// globally, for a single peer, or for a group.
type WhitelistEntry struct {
	Domain  string
	Scope   RuleScope
	ScopeID int64
	Global  bool
}

// Snapshot is the raw projection the Rule Store Adapter hands to callers.
// It never mixes rows from two different reads: the adapter assembles it
// inside a single transaction.
type Snapshot struct {
	Peers      []Peer
	Groups     []Group
	Rules      []Rule
	PortRules  []PortRule
	Settings   []Setting
	Whitelist  []WhitelistEntry
	FetchedAt  time.Time
}

// QueryEvent is one Front Proxy decision, destined for the query_log table.
type QueryEvent struct {
	Timestamp time.Time
	ClientIP  string
	Domain    string
	QType     string
	Category  string
	Blocked   bool
}

// ResolverEvent is one Recursive Resolver decision, destined for the
// resolver_log table.
type ResolverEvent struct {
	Timestamp  time.Time
	ClientIP   string
	Domain     string
	QType      string
	Result     string // answered, cached, nxdomain, error
	Upstream   string
	DurationMs int64
}
