package trace

import (
	"fmt"
	"net/netip"

	"Multipath/pkg/address"
	"Multipath/pkg/policy"
	"Multipath/pkg/route"
	"Multipath/pkg/topology"
)

// Reason explains why a trace stopped before delivery.
type Reason string

const (
	Delivered        Reason = ""
	NoRoute          Reason = "no route"
	Loop             Reason = "routing loop"
	NotForwarding    Reason = "forwarding disabled"
	UnknownNextHop   Reason = "next hop not on link"
	UnknownInterface Reason = "egress interface does not exist"
)

// Hop is one L3 step: From sends on Egress toward NextHop, which To owns.
type Hop struct {
	From    string
	To      string
	Egress  string
	NextHop netip.Addr
	Table   int
	Segment int
}

func (h Hop) String() string {
	tbl := "main"
	if h.Table != 0 {
		tbl = fmt.Sprintf("table %d", h.Table)
	}
	return fmt.Sprintf("%s -> %s via %s dev %s (%s)", h.From, h.To, h.NextHop, h.Egress, tbl)
}

type Result struct {
	Hops   []Hop
	Reason Reason
	At     string // node where the trace stopped
}

func (r Result) Delivered() bool { return r.Reason == Delivered }

// Segments returns the segment ids the packet crossed, in order.
func (r Result) Segments() []int {
	out := make([]int, len(r.Hops))
	for i, h := range r.Hops {
		out[i] = h.Segment
	}
	return out
}

// Tracer simulates forwarding over a composed plan. Policy rules are only
// consulted on the originating node, where marks are applied to locally
// generated packets; every other node forwards by its main table.
type Tracer struct {
	topo   *topology.Topology
	addrs  *address.Addressing
	routes *route.Plan
	policy *policy.Plan
}

func New(t *topology.Topology, a *address.Addressing, r *route.Plan, p *policy.Plan) *Tracer {
	return &Tracer{topo: t, addrs: a, routes: r, policy: p}
}

func (tr *Tracer) Run(from string, pkt policy.Packet) (Result, error) {
	cur := tr.topo.Node(from)
	if cur == nil {
		return Result{}, fmt.Errorf("unknown node %s", from)
	}
	var res Result
	visited := make(map[string]bool)
	for first := true; ; first = false {
		res.At = cur.ID
		if tr.owns(cur, pkt.Dst) {
			return res, nil
		}
		if !first && !cur.Forwarding {
			res.Reason = NotForwarding
			return res, nil
		}
		if visited[cur.ID] {
			res.Reason = Loop
			return res, nil
		}
		visited[cur.ID] = true

		e, ok := tr.lookup(cur, pkt, first)
		if !ok {
			res.Reason = NoRoute
			return res, nil
		}
		egress := tr.iface(cur, e.Dev)
		if egress == nil {
			res.Reason = UnknownInterface
			return res, nil
		}
		next := e.Via
		if !next.IsValid() {
			next = pkt.Dst
		}
		owner := tr.addrs.Owner(next)
		seg := tr.topo.SegmentOf(egress.Link)
		if owner == nil || tr.topo.SegmentOf(owner.Link) != seg {
			res.Reason = UnknownNextHop
			return res, nil
		}
		res.Hops = append(res.Hops, Hop{
			From:    cur.ID,
			To:      owner.Node.ID,
			Egress:  e.Dev,
			NextHop: next,
			Table:   e.Table,
			Segment: seg.ID,
		})
		cur = owner.Node
	}
}

func (tr *Tracer) owns(n *topology.Node, addr netip.Addr) bool {
	for _, i := range n.Interfaces {
		if a, ok := tr.addrs.Address(i); ok && a == addr {
			return true
		}
	}
	return false
}

func (tr *Tracer) iface(n *topology.Node, name string) *topology.Interface {
	for _, i := range n.Interfaces {
		if i.Name() == name {
			return i
		}
	}
	return nil
}

// lookup applies policy rules first, then connected subnets, then the main table.
func (tr *Tracer) lookup(n *topology.Node, pkt policy.Packet, local bool) (route.Entry, bool) {
	if local && tr.policy != nil {
		if d, ok := tr.policy.Lookup(n.ID, pkt); ok {
			return d.Route, true
		}
	}
	for _, i := range n.Interfaces {
		s := tr.addrs.SubnetOfIface(i)
		if s != nil && s.Prefix.Contains(pkt.Dst) {
			return route.Entry{Node: n.ID, Dst: s.Prefix, Dev: i.Name()}, true
		}
	}
	return tr.routes.Lookup(n.ID, pkt.Dst)
}
