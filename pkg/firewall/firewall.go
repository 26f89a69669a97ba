// Package firewall installs the Port Rule Compiler's output into the
// kernel's packet filter. The nftables backend is grounded on the same
// payload/bitwise/cmp expression shapes used elsewhere in the pack for
// IP/port matching; it owns one dedicated chain, hooked once into the
// forward path, that holds nothing but drop rules.
package firewall

import (
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/google/nftables"
	"github.com/google/nftables/expr"

	"ionmandns/pkg/portrules"
)

const (
	protoTCP = 6
	protoUDP = 17
)

// Installer is the Port Rule Compiler's atomic install target: ensure the
// chain exists and is hooked, flush it, then append the computed rules.
type Installer interface {
	Sync(rules []portrules.Rule) error
}

// NFTables is the reference Installer backed by google/nftables.
type NFTables struct {
	conn  *nftables.Conn
	table *nftables.Table
	chain *nftables.Chain

	tableName string
	chainName string

	mu sync.Mutex
}

// NewNFTables creates an installer targeting the given table/chain names,
// defaulting to "ionman"/"port_block" when empty.
func NewNFTables(tableName, chainName string) (*NFTables, error) {
	conn, err := nftables.New()
	if err != nil {
		return nil, fmt.Errorf("firewall: connect to nftables: %w", err)
	}
	if tableName == "" {
		tableName = "ionman"
	}
	if chainName == "" {
		chainName = "port_block"
	}
	return &NFTables{conn: conn, tableName: tableName, chainName: chainName}, nil
}

// ensureChain creates the table/chain if absent, hooking the chain exactly
// once at the top of the forward path with an accept policy (only explicit
// drop rules inside it remove traffic).
func (f *NFTables) ensureChain() error {
	f.table = &nftables.Table{Family: nftables.TableFamilyINet, Name: f.tableName}
	f.conn.AddTable(f.table)

	policy := nftables.ChainPolicyAccept
	f.chain = &nftables.Chain{
		Name:     f.chainName,
		Table:    f.table,
		Type:     nftables.ChainTypeFilter,
		Hooknum:  nftables.ChainHookForward,
		Priority: nftables.ChainPriorityFilter,
		Policy:   &policy,
	}
	f.conn.AddChain(f.chain)

	return f.conn.Flush()
}

// Sync implements the atomic install protocol: ensure+hook, flush, append.
// Errors on individual rule inserts are logged by the caller (the
// supervisor) and do not abort the run; the next cycle re-synchronizes from
// scratch.
func (f *NFTables) Sync(rules []portrules.Rule) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.ensureChain(); err != nil {
		return fmt.Errorf("firewall: ensure chain: %w", err)
	}

	if err := f.flush(); err != nil {
		return fmt.Errorf("firewall: flush chain: %w", err)
	}

	var firstErr error
	for _, r := range rules {
		nftRule := f.buildRule(r)
		if nftRule == nil {
			continue
		}
		f.conn.AddRule(nftRule)
		if err := f.conn.Flush(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("firewall: install rule %q: %w", r.Comment, err)
		}
	}

	return firstErr
}

func (f *NFTables) flush() error {
	existing, err := f.conn.GetRules(f.table, f.chain)
	if err != nil {
		return err
	}
	for _, r := range existing {
		f.conn.DelRule(r)
	}
	return f.conn.Flush()
}

// buildRule translates one compiled Rule into an nftables rule. When
// r.Client is an IPv4 address (a prefix length, if any, is ignored) the rule
// matches it as the source address. Port rules match protocol + destination
// port range; CIDR rules match destination network. Both end in an
// unconditional drop verdict.
func (f *NFTables) buildRule(r portrules.Rule) *nftables.Rule {
	var exprs []expr.Any

	clientHost, _, _ := strings.Cut(r.Client, "/")
	if src := net.ParseIP(clientHost).To4(); src != nil {
		exprs = append(exprs,
			&expr.Payload{DestRegister: 1, Base: expr.PayloadBaseNetworkHeader, Offset: 12, Len: 4},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: src},
		)
	}

	if r.CIDR != "" {
		_, ipnet, err := net.ParseCIDR(r.CIDR)
		if err != nil {
			return nil
		}
		ones, _ := ipnet.Mask.Size()
		exprs = append(exprs,
			&expr.Payload{DestRegister: 1, Base: expr.PayloadBaseNetworkHeader, Offset: 16, Len: 4},
			&expr.Bitwise{SourceRegister: 1, DestRegister: 1, Len: 4, Mask: net.CIDRMask(ones, 32), Xor: []byte{0, 0, 0, 0}},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: ipnet.IP.To4()},
		)
	} else {
		var proto byte
		switch r.Proto {
		case "tcp":
			proto = protoTCP
		case "udp":
			proto = protoUDP
		default:
			return nil
		}

		exprs = append(exprs,
			&expr.Payload{DestRegister: 1, Base: expr.PayloadBaseNetworkHeader, Offset: 9, Len: 1},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: []byte{proto}},
			&expr.Payload{DestRegister: 1, Base: expr.PayloadBaseTransportHeader, Offset: 2, Len: 2},
		)

		if r.High != r.Low {
			exprs = append(exprs,
				&expr.Cmp{Op: expr.CmpOpGte, Register: 1, Data: []byte{byte(r.Low >> 8), byte(r.Low)}},
				&expr.Cmp{Op: expr.CmpOpLte, Register: 1, Data: []byte{byte(r.High >> 8), byte(r.High)}},
			)
		} else {
			exprs = append(exprs,
				&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: []byte{byte(r.Low >> 8), byte(r.Low)}},
			)
		}
	}

	exprs = append(exprs, &expr.Verdict{Kind: expr.VerdictDrop})

	return &nftables.Rule{
		Table:    f.table,
		Chain:    f.chain,
		Exprs:    exprs,
		UserData: []byte(r.Comment),
	}
}
