package route

import (
	"net/netip"

	"Multipath/pkg/address"
	"Multipath/pkg/errs"
	"Multipath/pkg/topology"
)

// Plan holds the main-table routes of every node.
type Plan struct {
	routes    map[string][]Entry
	multipath map[string]bool
	// multiTo[node][far] is set when node reaches far over several first hops
	multiTo map[string]map[string]bool
}

func (p *Plan) Routes(node string) []Entry { return p.routes[node] }

// MultiPath reports whether node is an endpoint with two or more paths to
// the same destination leaving through different first hops. Such a node
// gets no main-table default route; its traffic toward that destination is
// steered by policy tables instead.
func (p *Plan) MultiPath(node string) bool { return p.multipath[node] }

func (p *Plan) Lookup(node string, dst netip.Addr) (Entry, bool) {
	return Lookup(p.routes[node], dst)
}

func (p *Plan) add(e Entry) {
	for _, x := range p.routes[e.Node] {
		if x.Dst == e.Dst {
			return
		}
	}
	p.routes[e.Node] = append(p.routes[e.Node], e)
}

// Build derives the static routes that make every declared path reachable
// end to end. Intermediate hops get one route per subnet beyond their
// neighbour. An endpoint with a single first hop gets a default route
// through it; one with several gets routes to each far endpoint's subnets.
func Build(t *topology.Topology, a *address.Addressing) (*Plan, error) {
	p := &Plan{
		routes:    make(map[string][]Entry),
		multipath: make(map[string]bool),
		multiTo:   make(map[string]map[string]bool),
	}

	for _, path := range t.Paths() {
		hops := path.Hops()
		l3 := path.L3Nodes()
		for i := 1; i < len(l3)-1; i++ {
			n := l3[i]
			local := connected(a, n)

			forward := beyond(a, hops[i+1:], l3[len(l3)-1])
			via, _ := a.Address(hops[i].Ingress)
			for _, dst := range forward {
				if !local[dst] {
					p.add(Entry{Node: n.ID, Dst: dst, Via: via, Dev: hops[i].Egress.Name()})
				}
			}

			backward := beyond(a, hops[:i-1], l3[0])
			via, _ = a.Address(hops[i-1].Egress)
			for _, dst := range backward {
				if !local[dst] {
					p.add(Entry{Node: n.ID, Dst: dst, Via: via, Dev: hops[i-1].Ingress.Name()})
				}
			}
		}
	}

	for _, n := range t.Nodes() {
		p.endpoint(a, n, endpointHops(t, n))
	}

	if err := p.checkReachable(t, a); err != nil {
		return nil, err
	}
	return p, nil
}

// beyond lists the subnets of the given hops plus every subnet attached to
// the far endpoint.
func beyond(a *address.Addressing, hops []topology.Hop, far *topology.Node) []netip.Prefix {
	var out []netip.Prefix
	seen := make(map[netip.Prefix]bool)
	push := func(s *address.Subnet) {
		if s != nil && !seen[s.Prefix] {
			seen[s.Prefix] = true
			out = append(out, s.Prefix)
		}
	}
	for _, h := range hops {
		push(a.SubnetOf(h.Segment))
	}
	for _, s := range a.SubnetsOf(far) {
		push(s)
	}
	return out
}

func connected(a *address.Addressing, n *topology.Node) map[netip.Prefix]bool {
	out := make(map[netip.Prefix]bool)
	for _, s := range a.SubnetsOf(n) {
		out[s.Prefix] = true
	}
	return out
}

type firstHop struct {
	egress *topology.Interface
	peer   *topology.Interface
	far    *topology.Node
	rest   []topology.Hop // hops past the first segment
}

// endpointHops returns the first hop of every path n is an endpoint of,
// outbound for paths it originates and toward the last router for paths
// that end at it.
func endpointHops(t *topology.Topology, n *topology.Node) []firstHop {
	var out []firstHop
	for _, path := range t.PathsTouching(n) {
		hops := path.Hops()
		if len(hops) == 1 {
			// both endpoints share a segment, the connected route suffices
			continue
		}
		if path.Source() == n {
			out = append(out, firstHop{egress: hops[0].Egress, peer: hops[0].Ingress, far: path.Destination(), rest: hops[1:]})
		} else {
			last := hops[len(hops)-1]
			out = append(out, firstHop{egress: last.Ingress, peer: last.Egress, far: path.Source(), rest: hops[:len(hops)-1]})
		}
	}
	return out
}

// endpoint routes n toward the far ends of its paths. Far ends reached over
// more than one first hop are left to policy routing.
func (p *Plan) endpoint(a *address.Addressing, n *topology.Node, hops []firstHop) {
	if len(hops) == 0 {
		return
	}
	peers := make(map[*topology.Interface]bool)
	byFar := make(map[*topology.Node]map[*topology.Interface]bool)
	for _, h := range hops {
		peers[h.peer] = true
		if byFar[h.far] == nil {
			byFar[h.far] = make(map[*topology.Interface]bool)
		}
		byFar[h.far][h.peer] = true
	}
	for far, ps := range byFar {
		if len(ps) > 1 {
			p.multipath[n.ID] = true
			if p.multiTo[n.ID] == nil {
				p.multiTo[n.ID] = make(map[string]bool)
			}
			p.multiTo[n.ID][far.ID] = true
		}
	}

	if len(peers) == 1 {
		h := hops[0]
		via, _ := a.Address(h.peer)
		p.add(Entry{Node: n.ID, Via: via, Dev: h.egress.Name()})
		return
	}
	local := connected(a, n)
	for _, h := range hops {
		if p.multiTo[n.ID][h.far.ID] {
			continue
		}
		via, _ := a.Address(h.peer)
		for _, dst := range beyond(a, h.rest, h.far) {
			if !local[dst] {
				p.add(Entry{Node: n.ID, Dst: dst, Via: via, Dev: h.egress.Name()})
			}
		}
	}
}

// checkReachable verifies that every subnet on a path is routable from every
// other L3 node of that path. An endpoint reaching the far end over several
// first hops is left to the policy planner and skipped here.
func (p *Plan) checkReachable(t *topology.Topology, a *address.Addressing) error {
	for _, path := range t.Paths() {
		var subnets []*address.Subnet
		for _, h := range path.Hops() {
			s := a.SubnetOf(h.Segment)
			if s == nil {
				return errs.New(errs.ErrUnreachableSubnet, path.Name, "segment of %s has no subnet", h.Egress.Link)
			}
			subnets = append(subnets, s)
		}
		for _, n := range path.L3Nodes() {
			if n == path.Source() && p.multiTo[n.ID][path.Destination().ID] {
				continue
			}
			if n == path.Destination() && p.multiTo[n.ID][path.Source().ID] {
				continue
			}
			local := connected(a, n)
			for _, s := range subnets {
				if local[s.Prefix] {
					continue
				}
				if _, ok := p.Lookup(n.ID, s.Prefix.Addr()); !ok {
					return errs.New(errs.ErrUnreachableSubnet, n.ID, "no route to %s on path %s", s.Prefix, path.Name)
				}
			}
		}
	}
	return nil
}
