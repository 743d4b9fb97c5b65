// Package topotest builds the exercise topologies used across the planner
// tests.
package topotest

import (
	"fmt"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"Multipath/pkg/topology"
)

// Chain builds h1 - r1 - ... - rN - h2 with one path named "chain". All
// addresses are left to the planner.
func Chain(tb testing.TB, routers int) *topology.Topology {
	tb.Helper()
	t := topology.New()
	ids := []string{"h1"}
	for i := 1; i <= routers; i++ {
		ids = append(ids, fmt.Sprintf("r%d", i))
	}
	ids = append(ids, "h2")

	for _, id := range ids {
		role := topology.Router
		if id[0] == 'h' {
			role = topology.Host
		}
		_, err := t.AddNode(id, role)
		require.NoError(tb, err)
	}
	for i := 0; i+1 < len(ids); i++ {
		_, err := t.AddLink(ids[i], -1, ids[i+1], -1)
		require.NoError(tb, err)
	}
	_, err := t.DeclarePath("chain", ids...)
	require.NoError(tb, err)
	return t
}

// MultiHomed builds three disjoint router chains between h1 and h2, each
// endpoint having one interface per chain. Paths are p1 (r1-r3), p2 (r4-r6)
// and p3 (r7-r9); addresses are left to the planner.
func MultiHomed(tb testing.TB) *topology.Topology {
	tb.Helper()
	t := topology.New()
	add(tb, t, topology.Host, "h1", "h2")
	for i := 1; i <= 9; i++ {
		add(tb, t, topology.Router, fmt.Sprintf("r%d", i))
	}
	for p := 0; p < 3; p++ {
		r := func(k int) string { return fmt.Sprintf("r%d", 3*p+k) }
		nodes := []string{"h1", r(1), r(2), r(3), "h2"}
		for i := 0; i+1 < len(nodes); i++ {
			_, err := t.AddLink(nodes[i], -1, nodes[i+1], -1)
			require.NoError(tb, err)
		}
		_, err := t.DeclarePath(fmt.Sprintf("p%d", p+1), nodes...)
		require.NoError(tb, err)
	}
	return t
}

// Switched builds the switched three-path exercise with its original
// addresses: h1 behind s1 with r1, r4 and r7 on 192.168.1.0/24, h2 behind s2
// with r3, r6 and r9 on 192.168.2.0/24. Paths are udp_path, tcp_path and
// other_path.
func Switched(tb testing.TB) *topology.Topology {
	tb.Helper()
	t := topology.New()
	add(tb, t, topology.Host, "h1", "h2")
	add(tb, t, topology.Switch, "s1", "s2")
	for i := 1; i <= 9; i++ {
		add(tb, t, topology.Router, fmt.Sprintf("r%d", i))
	}

	link(tb, t, "h1", "s1", "192.168.1.1/24", "")
	link(tb, t, "s1", "r1", "", "192.168.1.101/24")
	link(tb, t, "s1", "r4", "", "192.168.1.104/24")
	link(tb, t, "s1", "r7", "", "192.168.1.107/24")
	link(tb, t, "r1", "r2", "10.0.1.1/24", "10.0.1.2/24")
	link(tb, t, "r2", "r3", "10.0.2.1/24", "10.0.2.2/24")
	link(tb, t, "r4", "r5", "10.0.3.1/24", "10.0.3.2/24")
	link(tb, t, "r5", "r6", "10.0.4.1/24", "10.0.4.2/24")
	link(tb, t, "r7", "r8", "10.0.5.1/24", "10.0.5.2/24")
	link(tb, t, "r8", "r9", "10.0.6.1/24", "10.0.6.2/24")
	link(tb, t, "r3", "s2", "192.168.2.103/24", "")
	link(tb, t, "r6", "s2", "192.168.2.106/24", "")
	link(tb, t, "r9", "s2", "192.168.2.109/24", "")
	link(tb, t, "s2", "h2", "", "192.168.2.1/24")

	declare(tb, t, "udp_path", "h1", "s1", "r1", "r2", "r3", "s2", "h2")
	declare(tb, t, "tcp_path", "h1", "s1", "r4", "r5", "r6", "s2", "h2")
	declare(tb, t, "other_path", "h1", "s1", "r7", "r8", "r9", "s2", "h2")
	return t
}

// Star builds h1 with one router toward each of two hosts: to-h2 runs
// h1-r1-h2 and to-h3 runs h1-r2-h3.
func Star(tb testing.TB) *topology.Topology {
	tb.Helper()
	t := topology.New()
	add(tb, t, topology.Host, "h1", "h2", "h3")
	add(tb, t, topology.Router, "r1", "r2")
	for _, l := range [][2]string{{"h1", "r1"}, {"r1", "h2"}, {"h1", "r2"}, {"r2", "h3"}} {
		_, err := t.AddLink(l[0], -1, l[1], -1)
		require.NoError(tb, err)
	}
	declare(tb, t, "to-h2", "h1", "r1", "h2")
	declare(tb, t, "to-h3", "h1", "r2", "h3")
	return t
}

func add(tb testing.TB, t *topology.Topology, role topology.Role, ids ...string) {
	tb.Helper()
	for _, id := range ids {
		_, err := t.AddNode(id, role)
		require.NoError(tb, err)
	}
}

func link(tb testing.TB, t *topology.Topology, a, b, addrA, addrB string) {
	tb.Helper()
	_, err := t.AddLink(a, -1, b, -1, topology.WithAddresses(prefix(addrA), prefix(addrB)))
	require.NoError(tb, err)
}

func declare(tb testing.TB, t *topology.Topology, name string, ids ...string) {
	tb.Helper()
	_, err := t.DeclarePath(name, ids...)
	require.NoError(tb, err)
}

func prefix(s string) netip.Prefix {
	if s == "" {
		return netip.Prefix{}
	}
	return netip.MustParsePrefix(s)
}

// Addr parses an address, for terse assertions.
func Addr(s string) netip.Addr { return netip.MustParseAddr(s) }

// Prefix parses a prefix, for terse assertions.
func Prefix(s string) netip.Prefix { return netip.MustParsePrefix(s) }
