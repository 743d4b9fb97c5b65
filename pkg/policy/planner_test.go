package policy

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Multipath/pkg/address"
	"Multipath/pkg/errs"
	"Multipath/pkg/topology"
	"Multipath/pkg/topology/topotest"
)

func allocate(t *testing.T, topo *topology.Topology) *address.Addressing {
	t.Helper()
	a, err := address.NewPlanner(address.DefaultPool, address.DefaultBlockBits).Allocate(topo)
	require.NoError(t, err)
	return a
}

func multiHomedClasses() []TrafficClass {
	return []TrafficClass{
		{Name: "udp", Protocol: UDP, Path: "p1"},
		{Name: "tcp", Protocol: TCP, Path: "p2"},
		{Name: "other", Protocol: Else, Path: "p3"},
	}
}

func TestPlanOrigin(t *testing.T) {
	topo := topotest.MultiHomed(t)
	p, err := Build(topo, allocate(t, topo), multiHomedClasses())
	require.NoError(t, err)
	assert.Empty(t, p.Warnings)

	h1 := p.Node("h1")
	require.NotNil(t, h1)
	require.Len(t, h1.Tables, 3)

	want := []struct {
		name string
		via  string
		dev  string
	}{
		{"udp_table", "10.0.0.2", "h1-eth0"},
		{"tcp_table", "10.0.4.2", "h1-eth1"},
		{"other_table", "10.0.8.2", "h1-eth2"},
	}
	for i, w := range want {
		tbl := h1.Tables[i]
		assert.Equal(t, i+1, tbl.ID)
		assert.Equal(t, w.name, tbl.Name)
		require.Len(t, tbl.Routes, 1)
		assert.True(t, tbl.Routes[0].IsDefault())
		assert.Equal(t, topotest.Addr(w.via), tbl.Routes[0].Via)
		assert.Equal(t, w.dev, tbl.Routes[0].Dev)
		assert.Equal(t, i+1, tbl.Routes[0].Table)
	}

	for i, r := range h1.Rules {
		assert.Equal(t, uint32(i+1), r.Mark)
		assert.Equal(t, i+1, r.Table)
		assert.Equal(t, RulePriorityBase+i, r.Priority)
		assert.Equal(t, "h1", r.Node)
	}
	assert.Equal(t, []Protocol{UDP, TCP, Else}, []Protocol{h1.Marks[0].Protocol, h1.Marks[1].Protocol, h1.Marks[2].Protocol})
}

func TestPlanReturnRules(t *testing.T) {
	topo := topotest.MultiHomed(t)
	p, err := Build(topo, allocate(t, topo), multiHomedClasses())
	require.NoError(t, err)

	h2 := p.Node("h2")
	require.NotNil(t, h2)
	assert.Empty(t, h2.Marks)
	require.Len(t, h2.Rules, 3)

	for i, src := range []string{"10.0.3.2", "10.0.7.2", "10.0.11.2"} {
		r := h2.Rules[i]
		assert.Zero(t, r.Mark)
		assert.Equal(t, topotest.Addr(src), r.Source)
		assert.Equal(t, i+1, r.Table)
		assert.Equal(t, RulePriorityBase+i, r.Priority)
	}

	tbl := h2.Table(1)
	require.NotNil(t, tbl)
	assert.Equal(t, "p1_return", tbl.Name)
	assert.Equal(t, "default via 10.0.3.1 dev h2-eth0 table 1", tbl.Routes[0].String())
	assert.Equal(t, "100: from 10.0.3.2 lookup 1", h2.Rules[0].String())

	assert.Equal(t, []*NodePolicy{p.Node("h1"), h2}, p.Nodes())
}

func TestPlanReturnRulesPrecedeMarks(t *testing.T) {
	topo := topotest.MultiHomed(t)
	_, err := topo.DeclarePath("back", "h2", "r3", "r2", "r1", "h1")
	require.NoError(t, err)
	classes := append(multiHomedClasses(), TrafficClass{Name: "any", Protocol: Else, Path: "back"})
	p, err := Build(topo, allocate(t, topo), classes)
	require.NoError(t, err)

	h2 := p.Node("h2")
	require.NotNil(t, h2)
	var got []string
	for _, r := range h2.Rules {
		got = append(got, r.String())
	}
	assert.Equal(t, []string{
		"100: from 10.0.3.2 lookup 2",
		"101: from 10.0.7.2 lookup 3",
		"102: from 10.0.11.2 lookup 4",
		"103: from all fwmark 0x1 lookup 1",
	}, got)

	// a TCP reply from h2-eth1 keeps its path despite the catch-all mark
	d, ok := p.Lookup("h2", Packet{Protocol: TCP, Src: topotest.Addr("10.0.7.2"), Dst: topotest.Addr("10.0.4.1")})
	require.True(t, ok)
	assert.Equal(t, 3, d.Table.ID)
	assert.Equal(t, "h2-eth1", d.Route.Dev)

	h1 := p.Node("h1")
	require.NotNil(t, h1)
	require.Len(t, h1.Rules, 4)
	assert.Equal(t, "100: from 10.0.0.1 lookup 4", h1.Rules[0].String())
	assert.Equal(t, "back_return", h1.Table(4).Name)
	for i, r := range h1.Rules[1:] {
		assert.Equal(t, uint32(i+1), r.Mark)
		assert.Equal(t, RulePriorityBase+i+1, r.Priority)
	}
}

func TestPlanSharedReturnAddress(t *testing.T) {
	topo := topotest.Switched(t)
	p, err := Build(topo, allocate(t, topo), []TrafficClass{
		{Name: "udp", Protocol: UDP, Path: "udp_path"},
		{Name: "tcp", Protocol: TCP, Path: "tcp_path"},
		{Name: "other", Protocol: Else, Path: "other_path"},
	})
	require.NoError(t, err)

	h1 := p.Node("h1")
	require.NotNil(t, h1)
	for i, via := range []string{"192.168.1.101", "192.168.1.104", "192.168.1.107"} {
		assert.Equal(t, topotest.Addr(via), h1.Tables[i].Routes[0].Via)
		assert.Equal(t, "h1-eth0", h1.Tables[i].Routes[0].Dev)
	}

	// h2 has a single address, so only the first path gets its replies back
	h2 := p.Node("h2")
	require.NotNil(t, h2)
	require.Len(t, h2.Rules, 1)
	assert.Equal(t, topotest.Addr("192.168.2.1"), h2.Rules[0].Source)
	assert.Equal(t, "udp_path_return", h2.Tables[0].Name)
	assert.Equal(t, topotest.Addr("192.168.2.103"), h2.Tables[0].Routes[0].Via)

	require.Len(t, p.Warnings, 2)
	for i, path := range []string{"tcp_path", "other_path"} {
		w := p.Warnings[i]
		assert.Equal(t, CodeAsymmetricPathRisk, w.Code)
		assert.Equal(t, "h2", w.Node)
		assert.Equal(t, path, w.Path)
		assert.Contains(t, w.Message, "udp_path")
	}
}

func TestPlanUnboundPath(t *testing.T) {
	topo := topotest.MultiHomed(t)
	p, err := Build(topo, allocate(t, topo), []TrafficClass{
		{Name: "udp", Protocol: UDP, Path: "p1"},
		{Name: "other", Protocol: Else, Path: "p3"},
	})
	require.NoError(t, err)

	require.Len(t, p.Warnings, 1)
	assert.Equal(t, "p2", p.Warnings[0].Path)
	assert.Equal(t, "h2", p.Warnings[0].Node)
	assert.Len(t, p.Node("h2").Rules, 2)
}

func TestPlanInvalidClasses(t *testing.T) {
	tests := []struct {
		name    string
		classes []TrafficClass
		code    error
	}{
		{
			name: "same protocol twice",
			classes: []TrafficClass{
				{Name: "a", Protocol: UDP, Path: "p1"},
				{Name: "b", Protocol: UDP, Path: "p2"},
				{Name: "c", Protocol: Else, Path: "p3"},
			},
			code: errs.ErrAmbiguousTrafficClass,
		},
		{
			name: "two catch-alls",
			classes: []TrafficClass{
				{Name: "a", Protocol: Else, Path: "p1"},
				{Name: "b", Protocol: Else, Path: "p2"},
			},
			code: errs.ErrAmbiguousTrafficClass,
		},
		{
			name: "no catch-all",
			classes: []TrafficClass{
				{Name: "a", Protocol: UDP, Path: "p1"},
				{Name: "b", Protocol: TCP, Path: "p2"},
			},
			code: errs.ErrAmbiguousTrafficClass,
		},
		{
			name: "undeclared path",
			classes: []TrafficClass{
				{Name: "a", Protocol: Else, Path: "p9"},
			},
			code: errs.ErrUnknownPath,
		},
	}
	topo := topotest.MultiHomed(t)
	a := allocate(t, topo)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(topo, a, tt.classes)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.code), err.Error())
			assert.True(t, errs.IsPlanning(err))
		})
	}
}

func TestPlanNoClasses(t *testing.T) {
	topo := topotest.Chain(t, 2)
	p, err := Build(topo, allocate(t, topo), nil)
	require.NoError(t, err)
	assert.Empty(t, p.Nodes())
	assert.Empty(t, p.Warnings)
}

func TestLookup(t *testing.T) {
	topo := topotest.MultiHomed(t)
	p, err := Build(topo, allocate(t, topo), multiHomedClasses())
	require.NoError(t, err)

	dst := topotest.Addr("10.0.3.2")
	for proto, table := range map[Protocol]int{UDP: 1, TCP: 2, ICMP: 3, Else: 3} {
		d, ok := p.Lookup("h1", Packet{Protocol: proto, Dst: dst})
		require.True(t, ok, proto.String())
		assert.Equal(t, uint32(table), d.Mark, proto.String())
		assert.Equal(t, table, d.Table.ID, proto.String())
	}

	d, ok := p.Lookup("h2", Packet{Protocol: UDP, Src: topotest.Addr("10.0.7.2"), Dst: topotest.Addr("10.0.4.1")})
	require.True(t, ok)
	assert.Equal(t, 2, d.Table.ID)
	assert.Equal(t, "h2-eth1", d.Route.Dev)

	_, ok = p.Lookup("h2", Packet{Protocol: UDP, Src: topotest.Addr("10.0.99.9"), Dst: topotest.Addr("10.0.4.1")})
	assert.False(t, ok)

	_, ok = p.Lookup("r1", Packet{Protocol: UDP, Dst: dst})
	assert.False(t, ok)
}

func TestLookupCatchAllAbsorbsUnboundProtocol(t *testing.T) {
	topo := topotest.MultiHomed(t)
	p, err := Build(topo, allocate(t, topo), []TrafficClass{
		{Name: "udp", Protocol: UDP, Path: "p1"},
		{Name: "other", Protocol: Else, Path: "p3"},
	})
	require.NoError(t, err)

	d, ok := p.Lookup("h1", Packet{Protocol: TCP, Dst: topotest.Addr("10.0.11.2")})
	require.True(t, ok)
	assert.Equal(t, "other_table", d.Table.Name)
	assert.Equal(t, topotest.Addr("10.0.8.2"), d.Route.Via)
}

func TestParseProtocol(t *testing.T) {
	for in, want := range map[string]Protocol{"udp": UDP, "TCP": TCP, "icmp": ICMP, "else": Else, "other": Else} {
		got, err := ParseProtocol(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseProtocol("sctp")
	assert.Error(t, err)

	assert.Equal(t, uint8(17), UDP.Number())
	assert.Equal(t, uint8(0), Else.Number())
}
