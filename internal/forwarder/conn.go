// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package forwarder

import (
	"net"

	"github.com/google/nftables"
	"github.com/google/nftables/expr"
)

// RuleHandle is an opaque reference to one inserted nftables rule,
// precise enough to delete exactly that rule later. It never leaks
// outside this package.
type RuleHandle struct {
	table *nftables.Table
	chain *nftables.Chain
	rule  *nftables.Rule
}

// Conn is the narrow contract insfleetd needs from a packet-filter
// backend: ensure the NAT-prerouting and filter-forward tables and
// chains exist, insert one rule at a time with a stable comment
// (carrying the mw1/mw2/mw3 tag), and delete by handle. It is
// deliberately smaller than *nftables.Conn so it can be swapped for a
// FakeConn in tests without touching kernel netlink.
type Conn interface {
	EnsureFilterForwardChain() (*nftables.Table, *nftables.Chain, error)
	EnsureNATPreroutingChain() (*nftables.Table, *nftables.Chain, error)
	InsertDNAT(table *nftables.Table, chain *nftables.Chain, port uint16, dest net.IP, comment string) (RuleHandle, error)
	InsertFilterAcceptPort(table *nftables.Table, chain *nftables.Chain, port uint16, comment string) (RuleHandle, error)
	InsertFilterAcceptEstablished(table *nftables.Table, chain *nftables.Chain, comment string) (RuleHandle, error)
	DeleteRule(h RuleHandle) error
}

// RealConn implements Conn against a live *nftables.Conn. Rule handles
// are resolved by listing the chain immediately after each insert and
// flush, since the kernel only assigns a Handle once the rule is
// committed — google/nftables' InsertRule return value carries no
// handle until then.
type RealConn struct {
	nft *nftables.Conn

	filterTable *nftables.Table
	filterChain *nftables.Chain
	natTable    *nftables.Table
	natChain    *nftables.Chain
}

// NewRealConn opens a netlink connection to the kernel's nftables
// subsystem. Requires CAP_NET_ADMIN.
func NewRealConn() (*RealConn, error) {
	c, err := nftables.New()
	if err != nil {
		return nil, err
	}
	return &RealConn{nft: c}, nil
}

const (
	tableName       = "insfleetd"
	filterChainName = "forward"
	natChainName    = "prerouting"
)

func (r *RealConn) EnsureFilterForwardChain() (*nftables.Table, *nftables.Chain, error) {
	if r.filterTable != nil && r.filterChain != nil {
		return r.filterTable, r.filterChain, nil
	}
	t := r.nft.AddTable(&nftables.Table{Family: nftables.TableFamilyINet, Name: tableName})
	priority := *nftables.ChainPriorityFilter
	ct := nftables.ChainTypeFilter
	c := r.nft.AddChain(&nftables.Chain{
		Name:     filterChainName,
		Table:    t,
		Type:     ct,
		Hooknum:  nftables.ChainHookForward,
		Priority: &priority,
	})
	if err := r.nft.Flush(); err != nil {
		return nil, nil, err
	}
	r.filterTable, r.filterChain = t, c
	return t, c, nil
}

func (r *RealConn) EnsureNATPreroutingChain() (*nftables.Table, *nftables.Chain, error) {
	if r.natTable != nil && r.natChain != nil {
		return r.natTable, r.natChain, nil
	}
	t := r.nft.AddTable(&nftables.Table{Family: nftables.TableFamilyIPv4, Name: tableName + "_nat"})
	priority := *nftables.ChainPriorityNATDest
	ct := nftables.ChainTypeNAT
	c := r.nft.AddChain(&nftables.Chain{
		Name:     natChainName,
		Table:    t,
		Type:     ct,
		Hooknum:  nftables.ChainHookPrerouting,
		Priority: &priority,
	})
	if err := r.nft.Flush(); err != nil {
		return nil, nil, err
	}
	r.natTable, r.natChain = t, c
	return t, c, nil
}

func (r *RealConn) InsertDNAT(table *nftables.Table, chain *nftables.Chain, port uint16, dest net.IP, comment string) (RuleHandle, error) {
	dest4 := dest.To4()
	if dest4 == nil {
		return RuleHandle{}, errUnsupportedFamily
	}
	exprs := []expr.Any{
		&expr.Meta{Key: expr.MetaKeyL4PROTO, Register: 1},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: []byte{unix_IPPROTO_TCP}},
		&expr.Payload{DestRegister: 1, Base: expr.PayloadBaseTransportHeader, Offset: 2, Len: 2},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: portBytes(port)},
		&expr.Immediate{Register: 1, Data: dest4},
		&expr.NAT{Type: expr.NATTypeDestNAT, Family: unix_AF_INET, RegAddrMin: 1, RegProtoMin: 0},
	}
	rule := r.nft.InsertRule(&nftables.Rule{
		Table:    table,
		Chain:    chain,
		Exprs:    exprs,
		UserData: []byte(comment),
	})
	return r.commitAndResolve(table, chain, rule)
}

func (r *RealConn) InsertFilterAcceptPort(table *nftables.Table, chain *nftables.Chain, port uint16, comment string) (RuleHandle, error) {
	exprs := []expr.Any{
		&expr.Meta{Key: expr.MetaKeyL4PROTO, Register: 1},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: []byte{unix_IPPROTO_TCP}},
		&expr.Payload{DestRegister: 1, Base: expr.PayloadBaseTransportHeader, Offset: 2, Len: 2},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: portBytes(port)},
		&expr.Verdict{Kind: expr.VerdictAccept},
	}
	rule := r.nft.InsertRule(&nftables.Rule{
		Table:    table,
		Chain:    chain,
		Exprs:    exprs,
		UserData: []byte(comment),
	})
	return r.commitAndResolve(table, chain, rule)
}

func (r *RealConn) InsertFilterAcceptEstablished(table *nftables.Table, chain *nftables.Chain, comment string) (RuleHandle, error) {
	exprs := []expr.Any{
		&expr.Ct{Key: expr.CtKeySTATE, Register: 1},
		&expr.Bitwise{SourceRegister: 1, DestRegister: 1, Len: 4,
			Mask: binaryLE(ctStateEstablished | ctStateRelated), Xor: binaryLE(0)},
		&expr.Cmp{Op: expr.CmpOpNeq, Register: 1, Data: binaryLE(0)},
		&expr.Verdict{Kind: expr.VerdictAccept},
	}
	rule := r.nft.InsertRule(&nftables.Rule{
		Table:    table,
		Chain:    chain,
		Exprs:    exprs,
		UserData: []byte(comment),
	})
	return r.commitAndResolve(table, chain, rule)
}

// commitAndResolve flushes the pending insert, then lists the chain to
// recover the kernel-assigned Handle for the rule we just added,
// matched by its UserData comment (unique per forwarder activation).
func (r *RealConn) commitAndResolve(table *nftables.Table, chain *nftables.Chain, rule *nftables.Rule) (RuleHandle, error) {
	if err := r.nft.Flush(); err != nil {
		return RuleHandle{}, err
	}
	rules, err := r.nft.GetRules(table, chain)
	if err != nil {
		return RuleHandle{}, err
	}
	for _, got := range rules {
		if string(got.UserData) == string(rule.UserData) {
			return RuleHandle{table: table, chain: chain, rule: got}, nil
		}
	}
	return RuleHandle{}, errRuleNotFound
}

func (r *RealConn) DeleteRule(h RuleHandle) error {
	if err := r.nft.DelRule(h.rule); err != nil {
		return err
	}
	return r.nft.Flush()
}

func portBytes(p uint16) []byte { return []byte{byte(p >> 8), byte(p)} }

func binaryLE(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

const (
	unix_IPPROTO_TCP     = 6
	unix_AF_INET         = 2
	ctStateEstablished   = 1 << 3
	ctStateRelated       = 1 << 4
)
