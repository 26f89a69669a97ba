package portrules

import (
	"testing"

	"github.com/stretchr/testify/require"

	"ionmandns/pkg/rules"
	"ionmandns/pkg/storage"
)

func TestCompileOverlappingPortStaysOpenIfOtherGameAllowed(t *testing.T) {
	games := []rules.Game{
		{Key: "minecraft", DefaultBlocked: false, Ports: []rules.PortRange{
			{Proto: "tcp", Low: 25565, High: 25565},
			{Proto: "udp", Low: 19132, High: 19132},
		}},
		{Key: "minecraft-bedrock", DefaultBlocked: false, Ports: []rules.PortRange{
			{Proto: "udp", Low: 19132, High: 19132},
		}},
	}
	peerByAddr := map[string]storage.Peer{"10.0.0.7": {ID: 1, TunnelAddress: "10.0.0.7"}}
	portRules := []storage.PortRule{{ScopeID: 1, Game: "minecraft", Blocked: true}}

	out := Compile([]string{"10.0.0.7"}, games, portRules, peerByAddr, nil)

	var hasTCPDrop, hasUDPDrop bool
	for _, r := range out {
		if r.Proto == "tcp" && r.Low == 25565 {
			hasTCPDrop = true
		}
		if r.Proto == "udp" && r.Low == 19132 {
			hasUDPDrop = true
		}
	}
	require.True(t, hasTCPDrop, "tcp 25565 must be dropped: minecraft is the only game on that port and it is blocked")
	require.False(t, hasUDPDrop, "udp 19132 must stay open: minecraft-bedrock shares it and is allowed")
}

func TestCompileIsDeterministicAcrossRuns(t *testing.T) {
	games := []rules.Game{
		{Key: "fortnite", DefaultBlocked: true, Ports: []rules.PortRange{{Proto: "udp", Low: 9000, High: 9100}}, CIDRs: []string{"10.1.0.0/16"}},
	}
	peerByAddr := map[string]storage.Peer{
		"10.0.0.2": {ID: 2, TunnelAddress: "10.0.0.2"},
		"10.0.0.1": {ID: 1, TunnelAddress: "10.0.0.1"},
	}

	a := Compile([]string{"10.0.0.2", "10.0.0.1"}, games, nil, peerByAddr, nil)
	b := Compile([]string{"10.0.0.1", "10.0.0.2"}, games, nil, peerByAddr, nil)

	require.Equal(t, a, b)
	require.Equal(t, "10.0.0.1", a[0].Client, "clients are emitted in sorted address order")
}

func TestCompileGlobalSettingBeatsDefault(t *testing.T) {
	games := []rules.Game{{Key: "fortnite", DefaultBlocked: false, CIDRs: []string{"10.1.0.0/16"}}}
	settings := []storage.Setting{{Key: "port_block_fortnite", Value: "1"}}

	out := Compile([]string{"10.0.0.1"}, games, nil, nil, settings)
	require.Len(t, out, 1)
	require.Equal(t, "10.1.0.0/16", out[0].CIDR)
}

func TestCompilePeerOverrideBeatsGlobalSetting(t *testing.T) {
	games := []rules.Game{{Key: "fortnite", DefaultBlocked: false, CIDRs: []string{"10.1.0.0/16"}}}
	settings := []storage.Setting{{Key: "port_block_fortnite", Value: "1"}}
	peerByAddr := map[string]storage.Peer{"10.0.0.1": {ID: 1, TunnelAddress: "10.0.0.1"}}
	portRules := []storage.PortRule{{ScopeID: 1, Game: "fortnite", Blocked: false}}

	out := Compile([]string{"10.0.0.1"}, games, portRules, peerByAddr, settings)
	require.Empty(t, out, "peer override unblocks fortnite even though the global setting blocks it")
}

func TestCompileCommentFormat(t *testing.T) {
	games := []rules.Game{{Key: "fortnite", DefaultBlocked: true, CIDRs: []string{"10.1.0.0/16"}}}
	out := Compile([]string{"10.0.0.1"}, games, nil, nil, nil)
	require.Len(t, out, 1)
	require.Equal(t, "ionman:fortnite:10.0.0.1:10.1.0.0/16", out[0].Comment)
}
