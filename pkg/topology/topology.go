package topology

import (
	"fmt"
	"net/netip"
	"sort"
	"strings"

	"Multipath/api"
	"Multipath/pkg/errs"
)

type Role int

const (
	Host Role = iota
	Switch
	Router
)

func (r Role) String() string {
	switch r {
	case Host:
		return "host"
	case Switch:
		return "switch"
	case Router:
		return "router"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "host":
		return Host, nil
	case "switch":
		return Switch, nil
	case "router":
		return Router, nil
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

// Node is a host, switch or router. Interfaces are kept sorted by index.
type Node struct {
	ID         string
	Role       Role
	Forwarding bool
	Interfaces []*Interface
}

// Interface returns the interface with the given index, or nil.
func (n *Node) Interface(idx int) *Interface {
	for _, i := range n.Interfaces {
		if i.Index == idx {
			return i
		}
	}
	return nil
}

func (n *Node) nextIndex() int {
	if len(n.Interfaces) == 0 {
		return 0
	}
	return n.Interfaces[len(n.Interfaces)-1].Index + 1
}

func (n *Node) attach(idx int) *Interface {
	i := &Interface{Node: n, Index: idx}
	n.Interfaces = append(n.Interfaces, i)
	sort.Slice(n.Interfaces, func(a, b int) bool { return n.Interfaces[a].Index < n.Interfaces[b].Index })
	return i
}

// Interface is one attachment point of a node. It is patched into exactly
// one link at creation time.
type Interface struct {
	Node    *Node
	Index   int
	Address netip.Prefix // explicit address, invalid when the planner picks one
	Link    *Link
}

func (i *Interface) Name() string {
	return fmt.Sprintf("%s-eth%d", i.Node.ID, i.Index)
}

// Peer returns the interface at the other end of the link.
func (i *Interface) Peer() *Interface {
	if i.Link.A == i {
		return i.Link.B
	}
	return i.Link.A
}

// Link is an undirected point-to-point link. Seq is its declaration order.
type Link struct {
	Seq        int
	A, B       *Interface
	Subnet     netip.Prefix // explicit subnet, optional
	Properties api.LinkProperties
}

// End returns the interface of l that belongs to n, or nil.
func (l *Link) End(n *Node) *Interface {
	switch n {
	case l.A.Node:
		return l.A
	case l.B.Node:
		return l.B
	}
	return nil
}

func (l *Link) Joins(a, b *Node) bool {
	return (l.A.Node == a && l.B.Node == b) || (l.A.Node == b && l.B.Node == a)
}

func (l *Link) String() string {
	return l.A.Name() + "<->" + l.B.Name()
}

type LinkOption func(*Link)

// WithAddresses pins the addresses of both ends. An invalid prefix leaves
// that end to the planner.
func WithAddresses(a, b netip.Prefix) LinkOption {
	return func(l *Link) {
		l.A.Address = a
		l.B.Address = b
	}
}

func WithSubnet(p netip.Prefix) LinkOption {
	return func(l *Link) { l.Subnet = p }
}

func WithProperties(p api.LinkProperties) LinkOption {
	return func(l *Link) { l.Properties = p }
}

// Topology is the declared network. It is built once and then handed by
// reference to the planners, which only read it.
type Topology struct {
	nodes    map[string]*Node
	order    []*Node
	links    []*Link
	paths    []*Path
	segments []*Segment
	segOf    map[*Link]*Segment
}

func New() *Topology {
	return &Topology{nodes: make(map[string]*Node)}
}

func (t *Topology) AddNode(id string, role Role) (*Node, error) {
	if id == "" {
		return nil, errs.New(errs.ErrUnknownNode, id, "empty node id")
	}
	if _, existed := t.nodes[id]; existed {
		return nil, errs.New(errs.ErrDuplicateNode, id, "")
	}
	n := &Node{ID: id, Role: role, Forwarding: role == Router}
	t.nodes[id] = n
	t.order = append(t.order, n)
	return n, nil
}

// SetForwarding turns IP forwarding on or off, e.g. for a host acting as a router.
func (t *Topology) SetForwarding(id string, on bool) error {
	n, ok := t.nodes[id]
	if !ok {
		return errs.New(errs.ErrUnknownNode, id, "")
	}
	n.Forwarding = on
	return nil
}

// AddLink patches interface ifaceA of nodeA to interface ifaceB of nodeB.
// A negative index picks the next free index on that node.
func (t *Topology) AddLink(nodeA string, ifaceA int, nodeB string, ifaceB int, opts ...LinkOption) (*Link, error) {
	a, ok := t.nodes[nodeA]
	if !ok {
		return nil, errs.New(errs.ErrUnknownNode, nodeA, "")
	}
	b, ok := t.nodes[nodeB]
	if !ok {
		return nil, errs.New(errs.ErrUnknownNode, nodeB, "")
	}
	if a == b {
		return nil, errs.New(errs.ErrDuplicateLink, nodeA, "node cannot be linked to itself")
	}
	if ifaceA < 0 {
		ifaceA = a.nextIndex()
	}
	if ifaceB < 0 {
		ifaceB = b.nextIndex()
	}
	if i := a.Interface(ifaceA); i != nil {
		return nil, errs.New(errs.ErrDuplicateLink, i.Name(), "interface already patched into %s", i.Link)
	}
	if i := b.Interface(ifaceB); i != nil {
		return nil, errs.New(errs.ErrDuplicateLink, i.Name(), "interface already patched into %s", i.Link)
	}

	ia := a.attach(ifaceA)
	ib := b.attach(ifaceB)
	l := &Link{Seq: len(t.links), A: ia, B: ib}
	ia.Link = l
	ib.Link = l
	for _, opt := range opts {
		opt(l)
	}
	t.links = append(t.links, l)
	t.buildSegments()
	return l, nil
}

// DeclarePath records an ordered node sequence between two L3 endpoints.
// Every consecutive pair must be directly linked.
func (t *Topology) DeclarePath(name string, ids ...string) (*Path, error) {
	if t.Path(name) != nil {
		return nil, errs.New(errs.ErrDuplicatePath, name, "")
	}
	if len(ids) < 2 {
		return nil, errs.New(errs.ErrDisconnectedPath, name, "a path needs at least two nodes")
	}
	p := &Path{Name: name, topo: t}
	for _, id := range ids {
		n, ok := t.nodes[id]
		if !ok {
			return nil, errs.New(errs.ErrUnknownNode, id, "in path %s", name)
		}
		p.Nodes = append(p.Nodes, n)
	}
	if p.Source().Role == Switch || p.Destination().Role == Switch {
		return nil, errs.New(errs.ErrDisconnectedPath, name, "path endpoints must not be switches")
	}
	for i := 0; i+1 < len(p.Nodes); i++ {
		l := t.linkBetween(p.Nodes[i], p.Nodes[i+1])
		if l == nil {
			return nil, errs.New(errs.ErrDisconnectedPath, name, "%s and %s are not linked", p.Nodes[i].ID, p.Nodes[i+1].ID)
		}
		p.Links = append(p.Links, l)
	}
	t.paths = append(t.paths, p)
	return p, nil
}

func (t *Topology) linkBetween(a, b *Node) *Link {
	for _, l := range t.links {
		if l.Joins(a, b) {
			return l
		}
	}
	return nil
}

func (t *Topology) Node(id string) *Node { return t.nodes[id] }

// Nodes returns the nodes in declaration order.
func (t *Topology) Nodes() []*Node { return t.order }

func (t *Topology) Links() []*Link { return t.links }

func (t *Topology) Paths() []*Path { return t.paths }

func (t *Topology) Path(name string) *Path {
	for _, p := range t.paths {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// PathsFrom returns the declared paths whose source is n.
func (t *Topology) PathsFrom(n *Node) []*Path {
	var out []*Path
	for _, p := range t.paths {
		if p.Source() == n {
			out = append(out, p)
		}
	}
	return out
}

// PathsTouching returns the declared paths that start or end at n.
func (t *Topology) PathsTouching(n *Node) []*Path {
	var out []*Path
	for _, p := range t.paths {
		if p.Source() == n || p.Destination() == n {
			out = append(out, p)
		}
	}
	return out
}
