package topology_test

import (
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Multipath/pkg/errs"
	"Multipath/pkg/topology"
	"Multipath/pkg/topology/topotest"
)

func TestAddNode(t *testing.T) {
	topo := topology.New()

	r, err := topo.AddNode("r1", topology.Router)
	require.NoError(t, err)
	assert.True(t, r.Forwarding)

	h, err := topo.AddNode("h1", topology.Host)
	require.NoError(t, err)
	assert.False(t, h.Forwarding)

	_, err = topo.AddNode("r1", topology.Host)
	assert.True(t, errors.Is(err, errs.ErrDuplicateNode))
	assert.True(t, errs.IsStructural(err))

	require.NoError(t, topo.SetForwarding("h1", true))
	assert.True(t, topo.Node("h1").Forwarding)
	assert.True(t, errors.Is(topo.SetForwarding("x", true), errs.ErrUnknownNode))

	assert.Equal(t, []*topology.Node{r, h}, topo.Nodes())
}

func TestAddLink(t *testing.T) {
	topo := topology.New()
	for _, id := range []string{"h1", "r1", "r2"} {
		_, err := topo.AddNode(id, topology.Router)
		require.NoError(t, err)
	}

	l, err := topo.AddLink("h1", -1, "r1", -1)
	require.NoError(t, err)
	assert.Equal(t, "h1-eth0", l.A.Name())
	assert.Equal(t, "r1-eth0", l.B.Name())
	assert.Equal(t, l.B, l.A.Peer())

	l, err = topo.AddLink("r1", 5, "r2", -1)
	require.NoError(t, err)
	assert.Equal(t, "r1-eth5", l.A.Name())
	assert.Equal(t, "r2-eth0", l.B.Name())

	// next free index follows the highest one in use
	l, err = topo.AddLink("r1", -1, "h1", -1)
	require.NoError(t, err)
	assert.Equal(t, "r1-eth6", l.A.Name())
	assert.Equal(t, "h1-eth1", l.B.Name())

	_, err = topo.AddLink("r1", 0, "r2", -1)
	assert.True(t, errors.Is(err, errs.ErrDuplicateLink))

	_, err = topo.AddLink("r1", -1, "r1", -1)
	assert.True(t, errors.Is(err, errs.ErrDuplicateLink))

	_, err = topo.AddLink("r1", -1, "nope", -1)
	assert.True(t, errors.Is(err, errs.ErrUnknownNode))

	assert.Len(t, topo.Links(), 3)
}

func TestDeclarePath(t *testing.T) {
	topo := topotest.Chain(t, 2)

	p := topo.Path("chain")
	require.NotNil(t, p)
	assert.Equal(t, "h1", p.Source().ID)
	assert.Equal(t, "h2", p.Destination().ID)
	assert.Len(t, p.Links, 3)
	assert.Equal(t, "chain(h1-r1-r2-h2)", p.String())

	_, err := topo.DeclarePath("chain", "h1", "r1")
	assert.True(t, errors.Is(err, errs.ErrDuplicatePath))

	_, err = topo.DeclarePath("skip", "h1", "r2")
	assert.True(t, errors.Is(err, errs.ErrDisconnectedPath))

	_, err = topo.DeclarePath("short", "h1")
	assert.True(t, errors.Is(err, errs.ErrDisconnectedPath))

	_, err = topo.DeclarePath("ghost", "h1", "r9")
	assert.True(t, errors.Is(err, errs.ErrUnknownNode))

	back, err := topo.DeclarePath("back", "h2", "r2", "r1", "h1")
	require.NoError(t, err)
	assert.Equal(t, []*topology.Path{p, back}, topo.Paths())
	assert.Equal(t, []*topology.Path{p}, topo.PathsFrom(topo.Node("h1")))
	assert.Len(t, topo.PathsTouching(topo.Node("h1")), 2)
}

func TestDeclarePathRejectsSwitchEndpoint(t *testing.T) {
	topo := topology.New()
	_, err := topo.AddNode("h1", topology.Host)
	require.NoError(t, err)
	_, err = topo.AddNode("s1", topology.Switch)
	require.NoError(t, err)
	_, err = topo.AddLink("h1", -1, "s1", -1)
	require.NoError(t, err)

	_, err = topo.DeclarePath("p", "h1", "s1")
	assert.True(t, errors.Is(err, errs.ErrDisconnectedPath))
}

func TestSegments(t *testing.T) {
	topo := topotest.Switched(t)

	segs := topo.Segments()
	// 2 switched segments plus one per router-router link
	require.Len(t, segs, 8)

	entry := segs[0]
	assert.Equal(t, 0, entry.ID)
	assert.Len(t, entry.Links, 4)
	var names []string
	for _, i := range entry.Interfaces() {
		names = append(names, i.Name())
	}
	assert.Equal(t, []string{"h1-eth0", "r1-eth0", "r4-eth0", "r7-eth0"}, names)
	assert.Equal(t, "r4-eth0", entry.Attached(topo.Node("r4")).Name())
	assert.Nil(t, entry.Attached(topo.Node("r2")))

	exit := topo.SegmentOf(topo.Links()[13])
	assert.Equal(t, 10, exit.ID)
	assert.Same(t, exit, topo.SegmentOf(topo.Links()[10]))

	assert.Len(t, topo.SegmentsOf(topo.Node("r1")), 2)
}

func TestSegmentsFollowAddLink(t *testing.T) {
	topo := topology.New()
	assert.Empty(t, topo.Segments())
	for _, id := range []string{"h1", "s1", "h2"} {
		role := topology.Host
		if id == "s1" {
			role = topology.Switch
		}
		_, err := topo.AddNode(id, role)
		require.NoError(t, err)
	}
	first, err := topo.AddLink("h1", -1, "s1", -1)
	require.NoError(t, err)
	require.Len(t, topo.Segments(), 1)

	second, err := topo.AddLink("s1", -1, "h2", -1)
	require.NoError(t, err)
	require.Len(t, topo.Segments(), 1)
	assert.Same(t, topo.SegmentOf(first), topo.SegmentOf(second))
}

func TestSegmentsConcurrentReaders(t *testing.T) {
	topo := topotest.Switched(t)
	want := topo.Segments()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, l := range topo.Links() {
				assert.NotNil(t, topo.SegmentOf(l))
			}
			assert.Len(t, topo.SegmentsOf(topo.Node("r1")), 2)
			assert.Equal(t, want, topo.Segments())
		}()
	}
	wg.Wait()
}

func TestPathHops(t *testing.T) {
	topo := topotest.Switched(t)
	p := topo.Path("tcp_path")
	require.NotNil(t, p)

	hops := p.Hops()
	require.Len(t, hops, 4)

	assert.Equal(t, "h1", hops[0].From.ID)
	assert.Equal(t, "r4", hops[0].To.ID)
	assert.Equal(t, "h1-eth0", hops[0].Egress.Name())
	assert.Equal(t, "r4-eth0", hops[0].Ingress.Name())
	assert.Equal(t, 0, hops[0].Segment.ID)

	assert.Equal(t, "r6", hops[3].From.ID)
	assert.Equal(t, "h2", hops[3].To.ID)
	assert.Equal(t, "r6-eth1", hops[3].Egress.Name())
	assert.Equal(t, "h2-eth0", hops[3].Ingress.Name())
	assert.Equal(t, 10, hops[3].Segment.ID)

	var ids []string
	for _, n := range p.Intermediates() {
		ids = append(ids, n.ID)
	}
	assert.Equal(t, []string{"r4", "r5", "r6"}, ids)
	assert.True(t, p.Contains(topo.Node("s1")))
	assert.False(t, p.Contains(topo.Node("r1")))
}

func TestParseRole(t *testing.T) {
	for in, want := range map[string]topology.Role{
		"":       topology.Host,
		"host":   topology.Host,
		"Switch": topology.Switch,
		"router": topology.Router,
	} {
		got, err := topology.ParseRole(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := topology.ParseRole("firewall")
	assert.Error(t, err)
}
