package topology

import "strings"

// Path is an ordered node sequence from a source to a destination endpoint.
// Links[i] joins Nodes[i] and Nodes[i+1].
type Path struct {
	Name  string
	Nodes []*Node
	Links []*Link

	topo *Topology
}

func (p *Path) Source() *Node      { return p.Nodes[0] }
func (p *Path) Destination() *Node { return p.Nodes[len(p.Nodes)-1] }

func (p *Path) String() string {
	ids := make([]string, len(p.Nodes))
	for i, n := range p.Nodes {
		ids[i] = n.ID
	}
	return p.Name + "(" + strings.Join(ids, "-") + ")"
}

// Hop is one L3 step of a path. Switches in between are folded into the
// segment the two interfaces share.
type Hop struct {
	From, To *Node
	Egress   *Interface // on From
	Ingress  *Interface // on To
	Segment  *Segment
}

// Hops returns the L3 hops of the path from source to destination.
func (p *Path) Hops() []Hop {
	var hops []Hop
	var from *Node
	var egress *Interface
	for i, l := range p.Links {
		if p.Nodes[i].Role != Switch {
			from = p.Nodes[i]
			egress = l.End(from)
		}
		next := p.Nodes[i+1]
		if next.Role == Switch {
			continue
		}
		hops = append(hops, Hop{
			From:    from,
			To:      next,
			Egress:  egress,
			Ingress: l.End(next),
			Segment: p.topo.SegmentOf(l),
		})
	}
	return hops
}

// L3Nodes returns the non-switch nodes of the path in order.
func (p *Path) L3Nodes() []*Node {
	var out []*Node
	for _, n := range p.Nodes {
		if n.Role != Switch {
			out = append(out, n)
		}
	}
	return out
}

// Intermediates returns the L3 nodes strictly between source and destination.
func (p *Path) Intermediates() []*Node {
	l3 := p.L3Nodes()
	return l3[1 : len(l3)-1]
}

// Contains reports whether n is on the path.
func (p *Path) Contains(n *Node) bool {
	for _, x := range p.Nodes {
		if x == n {
			return true
		}
	}
	return false
}
