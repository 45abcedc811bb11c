// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package forwarder

import (
	"fmt"
	"net"

	"github.com/google/nftables"
)

// FakeConn is an in-memory Conn used by tests, so forwarder activation
// can be exercised without CAP_NET_ADMIN.
type FakeConn struct {
	nextHandle uint64
	rules      map[uint64]struct{}

	// FailOn, if set, makes the insert of the named rule kind fail
	// (one of "dnat", "accept_port", "accept_established").
	FailOn string
}

func NewFakeConn() *FakeConn {
	return &FakeConn{rules: make(map[uint64]struct{})}
}

func (f *FakeConn) EnsureFilterForwardChain() (*nftables.Table, *nftables.Chain, error) {
	t := &nftables.Table{Family: nftables.TableFamilyINet, Name: tableName}
	c := &nftables.Chain{Name: filterChainName, Table: t}
	return t, c, nil
}

func (f *FakeConn) EnsureNATPreroutingChain() (*nftables.Table, *nftables.Chain, error) {
	t := &nftables.Table{Family: nftables.TableFamilyIPv4, Name: tableName + "_nat"}
	c := &nftables.Chain{Name: natChainName, Table: t}
	return t, c, nil
}

func (f *FakeConn) insert(kind string) (RuleHandle, error) {
	if f.FailOn == kind {
		return RuleHandle{}, fmt.Errorf("fakeconn: simulated failure inserting %s rule", kind)
	}
	f.nextHandle++
	h := f.nextHandle
	f.rules[h] = struct{}{}
	return RuleHandle{rule: &nftables.Rule{Handle: h}}, nil
}

func (f *FakeConn) InsertDNAT(table *nftables.Table, chain *nftables.Chain, port uint16, dest net.IP, comment string) (RuleHandle, error) {
	return f.insert("dnat")
}

func (f *FakeConn) InsertFilterAcceptPort(table *nftables.Table, chain *nftables.Chain, port uint16, comment string) (RuleHandle, error) {
	return f.insert("accept_port")
}

func (f *FakeConn) InsertFilterAcceptEstablished(table *nftables.Table, chain *nftables.Chain, comment string) (RuleHandle, error) {
	return f.insert("accept_established")
}

func (f *FakeConn) DeleteRule(h RuleHandle) error {
	if h.rule == nil {
		return fmt.Errorf("fakeconn: nil rule handle")
	}
	if _, ok := f.rules[h.rule.Handle]; !ok {
		return fmt.Errorf("fakeconn: unknown handle %d", h.rule.Handle)
	}
	delete(f.rules, h.rule.Handle)
	return nil
}

// InstalledCount returns how many rules are currently tracked as installed.
func (f *FakeConn) InstalledCount() int { return len(f.rules) }
