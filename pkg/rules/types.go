// Package rules implements the Rule Engine: a lock-free, atomically
// swappable classifier that decides whether a client's DNS query should be
// blocked, and under which category.
package rules

// Category is an always-reloaded grouping of domains, sourced from the
// hot-reloaded categories.json file. The "ads" category is always-on: its
// block decision can never be overridden by a peer or group rule, and it
// blocks only while the global block_ads setting is on.
type Category struct {
	Key      string
	Label    string
	AlwaysOn bool
	Domains  []string
}

// PortRange is an inclusive [Low, High] port range for one transport
// protocol, as used by a Game's port list and by the Port Rule Compiler.
type PortRange struct {
	Proto string // "tcp" or "udp"
	Low   uint16
	High  uint16
}

// Game is a gaming-category entry sourced from the hot-reloaded games.json
// file. Domains are the registrable roots the Rule Engine's game-allowance
// override matches against; Ports and CIDRs are consumed by the Port Rule
// Compiler.
type Game struct {
	Key            string
	Label          string
	DefaultBlocked bool
	Domains        []string
	Ports          []PortRange
	CIDRs          []string
}
