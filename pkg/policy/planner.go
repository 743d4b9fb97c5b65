package policy

import (
	"fmt"
	"net/netip"
	"sort"

	"Multipath/pkg/address"
	"Multipath/pkg/errs"
	"Multipath/pkg/route"
	"Multipath/pkg/topology"
)

// RulePriorityBase is the priority of the first rule on a node, well before
// the main table rule at 32766.
const RulePriorityBase = 100

// Plan is the set of marks, rules and tables per node.
type Plan struct {
	nodes    map[string]*NodePolicy
	order    []string
	Warnings []Warning
}

func (p *Plan) Node(id string) *NodePolicy { return p.nodes[id] }

// Nodes returns the node policies in the order they were first planned.
func (p *Plan) Nodes() []*NodePolicy {
	out := make([]*NodePolicy, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.nodes[id])
	}
	return out
}

func (p *Plan) node(id string) *NodePolicy {
	np, ok := p.nodes[id]
	if !ok {
		np = &NodePolicy{Node: id}
		p.nodes[id] = np
		p.order = append(p.order, id)
	}
	return np
}

func (np *NodePolicy) nextTable() int {
	return len(np.Tables) + 1
}

func (np *NodePolicy) addRule(r Rule) {
	r.Node = np.Node
	r.Priority = RulePriorityBase + len(np.Rules)
	np.Rules = append(np.Rules, r)
}

// sourceFirst moves source-address rules ahead of fwmark rules. The
// catch-all mark lands on every locally generated packet, replies included,
// so a source rule behind the fwmark rules would never match.
func (np *NodePolicy) sourceFirst() {
	sort.SliceStable(np.Rules, func(i, j int) bool {
		return np.Rules[i].Mark == 0 && np.Rules[j].Mark != 0
	})
	for i := range np.Rules {
		np.Rules[i].Priority = RulePriorityBase + i
	}
}

type bound struct {
	class TrafficClass
	path  *topology.Path
}

// Build plans the policy routing of every origin that has traffic classes,
// plus the source-based mirror on the far endpoints so replies go back the
// way they came.
func Build(t *topology.Topology, a *address.Addressing, classes []TrafficClass) (*Plan, error) {
	p := &Plan{nodes: make(map[string]*NodePolicy)}

	var origins []*topology.Node
	byOrigin := make(map[*topology.Node][]bound)
	for _, c := range classes {
		path := t.Path(c.Path)
		if path == nil {
			return nil, errs.New(errs.ErrUnknownPath, c.Name, "path %q is not declared", c.Path)
		}
		o := path.Source()
		if _, ok := byOrigin[o]; !ok {
			origins = append(origins, o)
		}
		byOrigin[o] = append(byOrigin[o], bound{class: c, path: path})
	}

	for _, o := range origins {
		ordered, err := order(o, byOrigin[o])
		if err != nil {
			return nil, err
		}
		byOrigin[o] = ordered
		np := p.node(o.ID)
		for _, b := range ordered {
			hop := b.path.Hops()[0]
			via, _ := a.Address(hop.Ingress)
			id := np.nextTable()
			np.Tables = append(np.Tables, &Table{
				ID:     id,
				Name:   b.class.Name + "_table",
				Path:   b.path.Name,
				Routes: []route.Entry{{Node: o.ID, Via: via, Dev: hop.Egress.Name(), Table: id}},
			})
			np.Marks = append(np.Marks, Marking{Node: o.ID, Protocol: b.class.Protocol, Mark: uint32(id), Class: b.class.Name})
			np.addRule(Rule{Mark: uint32(id), Table: id, Class: b.class.Name, Path: b.path.Name})
		}
	}

	claimed := make(map[string]map[netip.Addr]string)
	withClass := make(map[string]bool)
	for _, o := range origins {
		for _, b := range byOrigin[o] {
			p.mirror(a, b, claimed)
			withClass[b.path.Name] = true
		}
	}

	for _, id := range p.order {
		p.nodes[id].sourceFirst()
	}

	for _, path := range t.Paths() {
		dst := path.Destination()
		if withClass[path.Name] || p.nodes[dst.ID] == nil {
			continue
		}
		p.warn(dst.ID, path.Name, "no traffic class is bound, replies follow other rules or the main table")
	}
	return p, nil
}

// order checks that the classes of one origin are pairwise disjoint and
// jointly exhaustive, and returns them specific first with Else last.
func order(o *topology.Node, bs []bound) ([]bound, error) {
	seen := make(map[Protocol]string)
	var out []bound
	var catchAll *bound
	for i, b := range bs {
		if prev, dup := seen[b.class.Protocol]; dup {
			return nil, errs.New(errs.ErrAmbiguousTrafficClass, o.ID,
				"classes %s and %s both match %s", prev, b.class.Name, b.class.Protocol)
		}
		seen[b.class.Protocol] = b.class.Name
		if b.class.Protocol == Else {
			catchAll = &bs[i]
			continue
		}
		out = append(out, b)
	}
	if catchAll == nil {
		return nil, errs.New(errs.ErrAmbiguousTrafficClass, o.ID, "no catch-all class, traffic classes are not exhaustive")
	}
	return append(out, *catchAll), nil
}

// mirror installs on the destination a source-address rule whose table
// sends replies back along b's path. A source address can select only one
// table, so later paths sharing it are reported as asymmetric.
func (p *Plan) mirror(a *address.Addressing, b bound, claimed map[string]map[netip.Addr]string) {
	dst := b.path.Destination()
	hops := b.path.Hops()
	last := hops[len(hops)-1]
	src, ok := a.Address(last.Ingress)
	if !ok {
		p.warn(dst.ID, b.path.Name, "destination-side interface %s has no address", last.Ingress.Name())
		return
	}
	if claimed[dst.ID] == nil {
		claimed[dst.ID] = make(map[netip.Addr]string)
	}
	if owner, taken := claimed[dst.ID][src]; taken {
		if owner != b.path.Name {
			p.warn(dst.ID, b.path.Name, "replies from %s already return along path %s", src, owner)
		}
		return
	}
	claimed[dst.ID][src] = b.path.Name

	via, _ := a.Address(last.Egress)
	np := p.node(dst.ID)
	id := np.nextTable()
	np.Tables = append(np.Tables, &Table{
		ID:     id,
		Name:   b.path.Name + "_return",
		Path:   b.path.Name,
		Routes: []route.Entry{{Node: dst.ID, Via: via, Dev: last.Ingress.Name(), Table: id}},
	})
	np.addRule(Rule{Source: src, Table: id, Class: b.class.Name, Path: b.path.Name})
}

func (p *Plan) warn(node, path, format string, args ...interface{}) {
	p.Warnings = append(p.Warnings, Warning{
		Code:    CodeAsymmetricPathRisk,
		Node:    node,
		Path:    path,
		Message: fmt.Sprintf(format, args...),
	})
}

// Lookup resolves which rule and table a locally generated packet hits on
// node. It reports false when no policy rule applies and the main table
// decides.
func (p *Plan) Lookup(node string, pkt Packet) (Decision, bool) {
	np := p.nodes[node]
	if np == nil {
		return Decision{}, false
	}
	var mark uint32
	for _, m := range np.Marks {
		if m.Protocol != Else && m.Protocol == pkt.Protocol {
			mark = m.Mark
		}
	}
	if mark == 0 {
		for _, m := range np.Marks {
			if m.Protocol == Else {
				mark = m.Mark
			}
		}
	}
	for _, r := range np.Rules {
		if r.Mark != 0 && r.Mark != mark {
			continue
		}
		if r.Mark == 0 && r.Source != pkt.Src {
			continue
		}
		tbl := np.Table(r.Table)
		if tbl == nil {
			continue
		}
		if e, ok := route.Lookup(tbl.Routes, pkt.Dst); ok {
			return Decision{Mark: mark, Rule: r, Table: tbl, Route: e}, true
		}
	}
	return Decision{}, false
}
