package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// categoryFile and gameFile mirror the on-disk JSON shapes of
// categories.json and games.json: both are objects keyed by the entry's
// key, not arrays.
type categoryFile struct {
	Label    string   `json:"label"`
	AlwaysOn bool     `json:"always_on"`
	Domains  []string `json:"domains"`
}

type portRangeFile struct {
	Proto string `json:"proto"`
	Range string `json:"range"` // "N" or "N-M"
}

type gameFile struct {
	Label          string          `json:"label"`
	DefaultBlocked bool            `json:"default_blocked"`
	Domains        []string        `json:"domains"`
	Ports          []portRangeFile `json:"ports"`
	ServerIPs      []string        `json:"server_ips"`
}

// LoadCategories reads and parses the hot-reloaded categories.json file.
// Keys are sorted so that insertion order - the tie-break order Classify
// uses when more than one category could match - is deterministic across
// reloads of the same file.
func LoadCategories(path string) ([]Category, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rules: read categories file: %w", err)
	}

	files := make(map[string]categoryFile)
	if err := json.Unmarshal(raw, &files); err != nil {
		return nil, fmt.Errorf("rules: parse categories file: %w", err)
	}

	keys := make([]string, 0, len(files))
	for k := range files {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Category, 0, len(keys))
	for _, k := range keys {
		f := files[k]
		out = append(out, Category{
			Key:      k,
			Label:    f.Label,
			AlwaysOn: f.AlwaysOn || k == "ads",
			Domains:  f.Domains,
		})
	}
	return out, nil
}

// LoadGames reads and parses the hot-reloaded games.json file.
func LoadGames(path string) ([]Game, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rules: read games file: %w", err)
	}

	files := make(map[string]gameFile)
	if err := json.Unmarshal(raw, &files); err != nil {
		return nil, fmt.Errorf("rules: parse games file: %w", err)
	}

	keys := make([]string, 0, len(files))
	for k := range files {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Game, 0, len(keys))
	for _, k := range keys {
		f := files[k]
		ports := make([]PortRange, 0, len(f.Ports))
		for _, p := range f.Ports {
			low, high, err := parsePortRange(p.Range)
			if err != nil {
				continue
			}
			ports = append(ports, PortRange{Proto: p.Proto, Low: low, High: high})
		}
		out = append(out, Game{
			Key:            k,
			Label:          f.Label,
			DefaultBlocked: f.DefaultBlocked,
			Domains:        f.Domains,
			Ports:          ports,
			CIDRs:          f.ServerIPs,
		})
	}
	return out, nil
}

// parsePortRange parses "N" or "N-M" into an inclusive [low, high] range.
func parsePortRange(s string) (uint16, uint16, error) {
	s = strings.TrimSpace(s)
	if before, after, ok := strings.Cut(s, "-"); ok {
		low, err := strconv.ParseUint(before, 10, 16)
		if err != nil {
			return 0, 0, err
		}
		high, err := strconv.ParseUint(after, 10, 16)
		if err != nil {
			return 0, 0, err
		}
		return uint16(low), uint16(high), nil
	}
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, 0, err
	}
	return uint16(n), uint16(n), nil
}
