package rules

import (
	"testing"

	"github.com/stretchr/testify/require"

	"ionmandns/pkg/storage"
)

func baseCategories() []Category {
	return []Category{
		{Key: "ads", Label: "Ads", AlwaysOn: true, Domains: []string{"ads.example.com"}},
		{Key: "social", Label: "Social Media", Domains: []string{"social.example.com"}},
	}
}

func TestClassifyDefaultAllow(t *testing.T) {
	e := New(nil)
	blocked, cat := e.Classify("10.0.0.1", "example.com")
	require.False(t, blocked)
	require.Empty(t, cat)
}

func TestClassifyAlwaysOnCategoryCannotBeOverridden(t *testing.T) {
	store := &storage.Snapshot{
		Peers: []storage.Peer{{ID: 1, TunnelAddress: "10.0.0.1"}},
		Rules: []storage.Rule{
			{Scope: storage.ScopePeer, ScopeID: 1, Type: storage.RuleCategory, Category: "ads", Block: false},
		},
		Settings: []storage.Setting{{Key: "block_ads", Value: "1"}},
	}
	snap := BuildSnapshot(store, baseCategories(), nil)
	e := New(nil)
	e.Publish(snap)

	blocked, cat := e.Classify("10.0.0.1", "ads.example.com")
	require.True(t, blocked, "a peer-scoped rule can never turn off an always-on category")
	require.Equal(t, "ads", cat)
}

func TestClassifyAlwaysOnCategoryOffWhenGlobalFlagDisabled(t *testing.T) {
	snap := BuildSnapshot(&storage.Snapshot{}, baseCategories(), nil)
	e := New(nil)
	e.Publish(snap)

	blocked, _ := e.Classify("10.0.0.1", "ads.example.com")
	require.False(t, blocked, "an always-on category only fires once the global enable flag turns it on")
}

func TestClassifyWhitelistBeatsEverything(t *testing.T) {
	store := &storage.Snapshot{
		Whitelist: []storage.WhitelistEntry{{Domain: "ads.example.com", Global: true}},
	}
	snap := BuildSnapshot(store, baseCategories(), nil)
	e := New(nil)
	e.Publish(snap)

	blocked, _ := e.Classify("10.0.0.1", "ads.example.com")
	require.False(t, blocked)
}

func TestClassifySuffixMatchingAnchorsOnLabelBoundary(t *testing.T) {
	categories := []Category{{Key: "test", Domains: []string{"evil.com"}}}
	snap := BuildSnapshot(&storage.Snapshot{
		Settings: []storage.Setting{{Key: "block_test", Value: "1"}},
	}, categories, nil)
	e := New(nil)
	e.Publish(snap)

	blocked, _ := e.Classify("10.0.0.1", "sub.evil.com")
	require.True(t, blocked)

	blocked, _ = e.Classify("10.0.0.1", "notevil.com")
	require.False(t, blocked)

	blocked, _ = e.Classify("10.0.0.1", "evil.com")
	require.True(t, blocked)
}

func TestClassifyPeerBlocklistBeatsCategoryAllow(t *testing.T) {
	store := &storage.Snapshot{
		Peers: []storage.Peer{{ID: 1, TunnelAddress: "10.0.0.1"}},
		Rules: []storage.Rule{
			{Scope: storage.ScopePeer, ScopeID: 1, Type: storage.RuleBlocklist, Domain: "gambling.example.com"},
		},
	}
	snap := BuildSnapshot(store, nil, nil)
	e := New(nil)
	e.Publish(snap)

	blocked, _ := e.Classify("10.0.0.1", "gambling.example.com")
	require.True(t, blocked)

	// A different, unrelated client is unaffected by a peer-scoped rule.
	blocked, _ = e.Classify("10.0.0.2", "gambling.example.com")
	require.False(t, blocked)
}

func TestClassifyMatchesPeerStoredWithAllowedIPsPrefix(t *testing.T) {
	// The persisted tunnel_address column holds the WireGuard allowed_ips
	// value, which carries a prefix length (e.g. "10.0.0.1/32"); the adapter
	// must strip it so the
	// bare client address used at query time still resolves to the peer.
	store := &storage.Snapshot{
		Peers: []storage.Peer{{ID: 1, TunnelAddress: "10.0.0.1/32"}},
		Rules: []storage.Rule{
			{Scope: storage.ScopePeer, ScopeID: 1, Type: storage.RuleBlocklist, Domain: "gambling.example.com"},
		},
	}
	snap := BuildSnapshot(store, nil, nil)
	e := New(nil)
	e.Publish(snap)

	blocked, cat := e.Classify("10.0.0.1", "gambling.example.com")
	require.True(t, blocked, "peer lookup must match despite the stored allowed_ips prefix")
	require.Equal(t, "blocklist", cat)
}

func TestClassifyGameAllowanceOverride(t *testing.T) {
	games := []Game{{Key: "fortnite", DefaultBlocked: true, Domains: []string{"epicgames.com"}}}
	store := &storage.Snapshot{
		Peers:     []storage.Peer{{ID: 1, TunnelAddress: "10.0.0.1"}},
		PortRules: []storage.PortRule{{ScopeID: 1, Game: "fortnite", Blocked: false}},
	}
	snap := BuildSnapshot(store, nil, games)
	e := New(nil)
	e.Publish(snap)

	blocked, cat := e.Classify("10.0.0.1", "cdn.epicgames.com")
	require.False(t, blocked)
	require.Empty(t, cat, "a game allowance is not a category decision")

	// Another peer without the override inherits the game's own default.
	blocked, _ = e.Classify("10.0.0.2", "cdn.epicgames.com")
	require.False(t, blocked) // no category covers it and it isn't a known peer
}

func TestClassifyAdultHeuristicOffByDefault(t *testing.T) {
	e := New(nil)
	blocked, cat := e.Classify("10.0.0.1", "www.pornhub.com")
	require.False(t, blocked, "the porn heuristic must not fire until the porn category is enabled")
	require.Empty(t, cat)
}

func TestClassifyAdultHeuristicFiresOnlyWhenPornCategoryEnabled(t *testing.T) {
	snap := BuildSnapshot(&storage.Snapshot{
		Settings: []storage.Setting{{Key: "block_porn", Value: "1"}},
	}, baseCategories(), nil)
	e := New(nil)
	e.Publish(snap)

	blocked, cat := e.Classify("10.0.0.1", "www.pornhub.com")
	require.True(t, blocked)
	require.Equal(t, "porn", cat)
}

func TestClassifyPeerBlocklistHitReturnsBlocklistCategory(t *testing.T) {
	store := &storage.Snapshot{
		Peers: []storage.Peer{{ID: 1, TunnelAddress: "10.0.0.1"}},
		Rules: []storage.Rule{
			{Scope: storage.ScopePeer, ScopeID: 1, Type: storage.RuleBlocklist, Domain: "gambling.example.com"},
		},
	}
	snap := BuildSnapshot(store, nil, nil)
	e := New(nil)
	e.Publish(snap)

	blocked, cat := e.Classify("10.0.0.1", "gambling.example.com")
	require.True(t, blocked)
	require.Equal(t, "blocklist", cat)
}
