package emit

import (
	"fmt"
	"net/netip"
	"strings"

	"Multipath/pkg/errs"
	"Multipath/pkg/plan"
	"Multipath/pkg/policy"
	"Multipath/pkg/route"
	"Multipath/pkg/topology"
	"Multipath/pkg/validate"
)

type Kind int

const (
	KindAddress Kind = iota
	KindForwarding
	KindRoute
	KindTableRoute
	KindMark
	KindRule
)

func (k Kind) String() string {
	switch k {
	case KindAddress:
		return "address"
	case KindForwarding:
		return "forwarding"
	case KindRoute:
		return "route"
	case KindTableRoute:
		return "table-route"
	case KindMark:
		return "mark"
	case KindRule:
		return "rule"
	}
	return "unknown"
}

// Command is one configuration step on a node. Line is the shell form; the
// payload matching Kind is set for backends that program the kernel
// directly.
type Command struct {
	Node string
	Kind Kind
	Line string

	Iface  string
	Prefix netip.Prefix
	Route  *route.Entry
	Mark   *policy.Marking
	Rule   *policy.Rule
}

func (c Command) String() string { return c.Line }

// Script holds the ordered commands of every node that needs configuring.
type Script struct {
	order  []string
	byNode map[string][]Command
}

func (s *Script) Nodes() []string { return s.order }

func (s *Script) Commands(node string) []Command { return s.byNode[node] }

func (s *Script) Len() int {
	n := 0
	for _, cmds := range s.byNode {
		n += len(cmds)
	}
	return n
}

// Lines returns the shell lines of node in order.
func (s *Script) Lines(node string) []string {
	cmds := s.byNode[node]
	out := make([]string, len(cmds))
	for i, c := range cmds {
		out[i] = c.Line
	}
	return out
}

func (s *Script) String() string {
	var sb strings.Builder
	for i, n := range s.order {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "# %s\n", n)
		for _, c := range s.byNode[n] {
			sb.WriteString(c.Line)
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

func (s *Script) push(c Command) {
	if _, ok := s.byNode[c.Node]; !ok {
		s.order = append(s.order, c.Node)
	}
	s.byNode[c.Node] = append(s.byNode[c.Node], c)
}

// Emit renders p into per-node commands. Plans with Error findings are
// refused.
func Emit(p *plan.Plan) (*Script, error) {
	if validate.HasErrors(p.Findings) {
		var codes []string
		for _, f := range p.Findings {
			if f.Severity == validate.Error {
				codes = append(codes, f.String())
			}
		}
		return nil, errs.New(errs.ErrPlanInvalid, "plan", "%s", strings.Join(codes, "; "))
	}

	s := &Script{byNode: make(map[string][]Command)}
	for _, n := range p.Topology.Nodes() {
		if n.Role == topology.Switch {
			continue
		}
		for _, i := range n.Interfaces {
			pfx := p.Addressing.Prefix(i)
			if !pfx.IsValid() {
				continue
			}
			s.push(Command{
				Node:   n.ID,
				Kind:   KindAddress,
				Line:   fmt.Sprintf("ip addr add %s dev %s", pfx, i.Name()),
				Iface:  i.Name(),
				Prefix: pfx,
			})
		}
		if n.Forwarding {
			s.push(Command{Node: n.ID, Kind: KindForwarding, Line: "sysctl -w net.ipv4.ip_forward=1"})
		}
		for _, e := range p.Routes.Routes(n.ID) {
			e := e
			s.push(Command{Node: n.ID, Kind: KindRoute, Line: "ip route add " + e.String(), Route: &e})
		}

		np := p.Policy.Node(n.ID)
		if np == nil {
			continue
		}
		for _, t := range np.Tables {
			for _, e := range t.Routes {
				e := e
				s.push(Command{Node: n.ID, Kind: KindTableRoute, Line: "ip route add " + e.String(), Route: &e})
			}
		}
		for _, m := range np.Marks {
			m := m
			s.push(Command{Node: n.ID, Kind: KindMark, Line: MarkLine(m), Mark: &m})
		}
		for _, r := range np.Rules {
			r := r
			s.push(Command{Node: n.ID, Kind: KindRule, Line: RuleLine(r), Rule: &r})
		}
	}
	return s, nil
}

// MarkLine renders a marking as an iptables mangle rule on locally generated
// traffic.
func MarkLine(m policy.Marking) string {
	if m.Protocol == policy.Else {
		return fmt.Sprintf("iptables -t mangle -A OUTPUT -m mark --mark 0 -j MARK --set-mark %d", m.Mark)
	}
	return fmt.Sprintf("iptables -t mangle -A OUTPUT -p %s -j MARK --set-mark %d", m.Protocol, m.Mark)
}

func RuleLine(r policy.Rule) string {
	if r.Mark != 0 {
		return fmt.Sprintf("ip rule add fwmark %d table %d priority %d", r.Mark, r.Table, r.Priority)
	}
	return fmt.Sprintf("ip rule add from %s table %d priority %d", r.Source, r.Table, r.Priority)
}
