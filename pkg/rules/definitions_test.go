package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadCategoriesParsesObjectKeyedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "categories.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"ads": {"label": "Advertising", "domains": ["doubleclick.net"]},
		"porn": {"label": "Adult", "domains": ["example-adult.com"]}
	}`), 0o600))

	cats, err := LoadCategories(path)
	require.NoError(t, err)
	require.Len(t, cats, 2)
	require.Equal(t, "ads", cats[0].Key, "keys are sorted for deterministic reload order")
	require.True(t, cats[0].AlwaysOn, "ads is always-on even if the file omits the flag")
}

func TestLoadGamesParsesPortRanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "games.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"minecraft": {
			"label": "Minecraft",
			"default_blocked": false,
			"domains": ["minecraft.net"],
			"ports": [{"proto": "tcp", "range": "25565"}, {"proto": "udp", "range": "19130-19133"}],
			"server_ips": ["10.1.0.0/16"]
		}
	}`), 0o600))

	games, err := LoadGames(path)
	require.NoError(t, err)
	require.Len(t, games, 1)
	g := games[0]
	require.Equal(t, "minecraft", g.Key)
	require.Len(t, g.Ports, 2)
	require.Equal(t, PortRange{Proto: "tcp", Low: 25565, High: 25565}, g.Ports[0])
	require.Equal(t, PortRange{Proto: "udp", Low: 19130, High: 19133}, g.Ports[1])
	require.Equal(t, []string{"10.1.0.0/16"}, g.CIDRs)
}

func TestLoadGamesSkipsMalformedPortRange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "games.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"fortnite": {"ports": [{"proto": "tcp", "range": "not-a-number"}]}
	}`), 0o600))

	games, err := LoadGames(path)
	require.NoError(t, err)
	require.Empty(t, games[0].Ports)
}

func TestLoadCategoriesMissingFileErrors(t *testing.T) {
	_, err := LoadCategories(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}
