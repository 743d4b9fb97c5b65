package pkg

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Multipath/api"
	"Multipath/pkg/apply"
	"Multipath/pkg/policy"
	"Multipath/pkg/topology"
)

const twoHop = `
nodes:
  - name: h1
  - name: h2
  - name: r1
    role: router
    forwarding: false
    image: frr:v8
links:
  - srcNode: h1
    dstNode: r1
    srcIntf: 3
    properties:
      latency: 5
  - srcNode: r1
    dstNode: h2
    subnet: 172.16.0.0/30
paths:
  - name: direct
    nodes: [h1, r1, h2]
classes:
  - name: any
    protocol: else
    path: direct
`

func TestParseTopoConfig(t *testing.T) {
	cfg, err := ParseTopoConfig([]byte(twoHop))
	require.NoError(t, err)
	require.Len(t, cfg.Nodes, 3)
	require.NotNil(t, cfg.Nodes[2].Forwarding)
	assert.False(t, *cfg.Nodes[2].Forwarding)
	assert.Equal(t, "frr:v8", cfg.Nodes[2].Image)
	require.NotNil(t, cfg.Links[0].SrcIntf)
	assert.Equal(t, 3, *cfg.Links[0].SrcIntf)
	assert.Nil(t, cfg.Links[0].DstIntf)
	assert.Equal(t, uint32(5), cfg.Links[0].Properties.Latency)
	assert.Equal(t, []string{"h1", "r1", "h2"}, cfg.Paths[0].Nodes)

	_, err = ParseTopoConfig([]byte("nodes: [name: h1"))
	assert.Error(t, err)
}

func TestBuildTopology(t *testing.T) {
	cfg, err := ParseTopoConfig([]byte(twoHop))
	require.NoError(t, err)

	topo, classes, err := BuildTopology(cfg)
	require.NoError(t, err)
	assert.Equal(t, topology.Router, topo.Node("r1").Role)
	assert.False(t, topo.Node("r1").Forwarding)
	assert.NotNil(t, topo.Node("h1").Interface(3))
	assert.Equal(t, "172.16.0.0/30", topo.Links()[1].Subnet.String())
	assert.Equal(t, []policy.TrafficClass{{Name: "any", Protocol: policy.Else, Path: "direct"}}, classes)
}

func TestBuildTopologyErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  api.TopoConfig
	}{
		{"bad role", api.TopoConfig{Nodes: []api.Node{{Name: "x", Role: "firewall"}}}},
		{"network address", api.TopoConfig{
			Nodes: []api.Node{{Name: "a"}, {Name: "b"}},
			Links: []api.Link{{SrcNode: "a", DstNode: "b", SrcIP: "10.0.0.0/24"}},
		}},
		{"bad subnet", api.TopoConfig{
			Nodes: []api.Node{{Name: "a"}, {Name: "b"}},
			Links: []api.Link{{SrcNode: "a", DstNode: "b", Subnet: "10.0.0.0/99"}},
		}},
		{"unknown link end", api.TopoConfig{
			Nodes: []api.Node{{Name: "a"}},
			Links: []api.Link{{SrcNode: "a", DstNode: "b"}},
		}},
		{"bad protocol", api.TopoConfig{
			Classes: []api.TrafficClass{{Name: "c", Protocol: "sctp"}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			_, _, err := BuildTopology(&cfg)
			assert.Error(t, err)
		})
	}
}

func TestPlanExamples(t *testing.T) {
	c := NewCalculator(nil, nil, Options{})
	for _, f := range []string{"exercise01.yaml", "exercise02.yaml", "exercise03_01.yaml", "exercise03_02.yaml"} {
		t.Run(f, func(t *testing.T) {
			p, err := c.Plan("../example/" + f)
			require.NoError(t, err)
			assert.True(t, p.Emittable())
		})
	}

	_, err := c.Plan("../example/missing.yaml")
	assert.Error(t, err)
}

func TestShow(t *testing.T) {
	c := NewCalculator(nil, nil, Options{})

	p, err := c.Plan("../example/exercise02.yaml")
	require.NoError(t, err)

	var buf bytes.Buffer
	ShowRoutes(&buf, p)
	assert.Contains(t, buf.String(), "Node: r2\n  10.0.4.0/24 via 10.0.3.2 dev r2-eth1\n  10.0.1.0/24 via 10.0.2.1 dev r2-eth0\n")

	buf.Reset()
	ShowNodes(&buf, p)
	assert.Contains(t, buf.String(), "Node: r1, Role: router, Forwarding: true\n")
	assert.Contains(t, buf.String(), "  Interface: h1-eth0, IPv4: 10.0.1.100/24, Peer: r1-eth0\n")

	p, err = c.Plan("../example/exercise03_02.yaml")
	require.NoError(t, err)

	buf.Reset()
	ShowLinks(&buf, p)
	assert.Contains(t, buf.String(), "Link: r1-eth1<->r2-eth0, Subnet: 10.0.1.0/24, Bw: 10Mbps, Delay: 0ms, Loss: 0.00\n")

	buf.Reset()
	ShowRules(&buf, p)
	assert.Contains(t, buf.String(), "  mark udp -> 1 (udp)\n")
	assert.Contains(t, buf.String(), "  100: from all fwmark 0x1 lookup 1\n")
	assert.Contains(t, buf.String(), "  [3 p3_return] default via 10.0.11.1 dev h2-eth2 table 3\n")

	buf.Reset()
	ShowPaths(&buf, p)
	assert.Contains(t, buf.String(), "Path: p2(h1-r4-r5-r6-h2)\n  h1-eth1 -> r4-eth0 (10.0.4.0/24)\n")

	buf.Reset()
	ShowFindings(&buf, p)
	assert.Empty(t, buf.String())
}

func TestInterfacesOnSwitches(t *testing.T) {
	p, err := NewCalculator(nil, nil, Options{}).Plan("../example/exercise01.yaml")
	require.NoError(t, err)

	byName := make(map[string]api.NodeInterface)
	for _, ni := range Interfaces(p) {
		byName[ni.Name] = ni
	}
	assert.Equal(t, "10.0.0.10/24", byName["h1-eth0"].Ipv4)
	assert.Equal(t, "s1", byName["h1-eth0"].BrName)
	assert.Equal(t, "s1", byName["s1-eth0"].BrName)
	assert.Empty(t, byName["s1-eth0"].Ipv4)
	assert.Equal(t, "10.0.0.20/24", byName["h2-eth0"].Ipv4)
}

func TestApplyTopoConfigDryRun(t *testing.T) {
	d := apply.NewDryRunHost(nil)
	c := NewCalculator(d, nil, Options{Workers: 2})

	results, err := c.ApplyTopoConfig(context.Background(), "../example/exercise03_02.yaml")
	require.NoError(t, err)
	assert.NotEmpty(t, results)
	assert.Empty(t, apply.Failed(results))

	assert.Contains(t, d.Lines("h1"), "create host h1")
	assert.Contains(t, d.Lines("h1"), "ip rule add fwmark 1 table 1 priority 100")
	assert.Contains(t, d.Lines("h2"), "ip rule add from 10.0.3.2 table 1 priority 100")
	assert.Contains(t, d.Calls(), ": link r1-eth1 <-> r2-eth0 rate 10 latency 0ms loss 0.00%")

	_, err = NewCalculator(nil, nil, Options{}).ApplyTopoConfig(context.Background(), "../example/exercise01.yaml")
	assert.Error(t, err)
}
