package validate

import (
	"fmt"
	"net/netip"

	"Multipath/pkg/address"
	"Multipath/pkg/policy"
	"Multipath/pkg/route"
	"Multipath/pkg/topology"
	"Multipath/pkg/trace"
)

type Severity int

const (
	Error Severity = iota
	Warning
)

func (s Severity) String() string {
	if s == Error {
		return "error"
	}
	return "warning"
}

const (
	CodeOverlappingSubnets = "OverlappingSubnets"
	CodeNoTerminatingRoute = "NoTerminatingRoute"
	CodeDanglingRule       = "DanglingRule"
	CodeForwardingDisabled = "ForwardingDisabled"
	CodeAsymmetricPathRisk = policy.CodeAsymmetricPathRisk
	CodeUnusedTable        = "UnusedTable"
)

type Finding struct {
	Severity Severity
	Code     string
	Node     string
	Subnet   netip.Prefix
	Message  string
}

func (f Finding) String() string {
	where := f.Node
	if f.Subnet.IsValid() {
		if where != "" {
			where += " "
		}
		where += f.Subnet.String()
	}
	return fmt.Sprintf("%s %s [%s]: %s", f.Severity, f.Code, where, f.Message)
}

func HasErrors(findings []Finding) bool {
	for _, f := range findings {
		if f.Severity == Error {
			return true
		}
	}
	return false
}

// Validate checks a composed plan. It never modifies its inputs and can be
// run any number of times.
func Validate(t *topology.Topology, a *address.Addressing, rp *route.Plan, pp *policy.Plan) []Finding {
	var out []Finding
	out = append(out, overlapping(a)...)
	out = append(out, forwarding(t)...)
	out = append(out, terminating(t, a, rp, pp)...)
	out = append(out, tables(pp)...)
	for _, w := range pp.Warnings {
		out = append(out, Finding{Severity: Warning, Code: w.Code, Node: w.Node, Message: fmt.Sprintf("path %s: %s", w.Path, w.Message)})
	}
	return out
}

func overlapping(a *address.Addressing) []Finding {
	var out []Finding
	subs := a.Subnets()
	for i := range subs {
		for j := i + 1; j < len(subs); j++ {
			if subs[i].Prefix.Overlaps(subs[j].Prefix) {
				out = append(out, Finding{
					Severity: Error,
					Code:     CodeOverlappingSubnets,
					Subnet:   subs[j].Prefix,
					Message:  fmt.Sprintf("overlaps %s", subs[i].Prefix),
				})
			}
		}
	}
	return out
}

func forwarding(t *topology.Topology) []Finding {
	var out []Finding
	seen := make(map[*topology.Node]bool)
	for _, p := range t.Paths() {
		for _, n := range p.Intermediates() {
			if n.Forwarding || seen[n] {
				continue
			}
			seen[n] = true
			out = append(out, Finding{
				Severity: Error,
				Code:     CodeForwardingDisabled,
				Node:     n.ID,
				Message:  fmt.Sprintf("%s %s relays path %s but does not forward", n.Role, n.ID, p.Name),
			})
		}
	}
	return out
}

// terminating traces every path in both directions. Forwarding problems are
// reported by forwarding and not repeated here.
func terminating(t *topology.Topology, a *address.Addressing, rp *route.Plan, pp *policy.Plan) []Finding {
	var out []Finding
	tr := trace.New(t, a, rp, pp)
	asymmetric := make(map[string]bool)
	for _, w := range pp.Warnings {
		asymmetric[w.Path] = true
	}
	for _, p := range t.Paths() {
		hops := p.Hops()
		srcAddr, okS := a.Address(hops[0].Egress)
		dstAddr, okD := a.Address(hops[len(hops)-1].Ingress)
		if !okS || !okD {
			continue
		}
		proto := protocolOf(pp, p)
		legs := []struct {
			from string
			pkt  policy.Packet
		}{
			{p.Source().ID, policy.Packet{Protocol: proto, Dst: dstAddr}},
			{p.Destination().ID, policy.Packet{Protocol: proto, Src: dstAddr, Dst: srcAddr}},
		}
		if asymmetric[p.Name] {
			// the return leg is already reported as a warning
			legs = legs[:1]
		}
		for _, leg := range legs {
			res, err := tr.Run(leg.from, leg.pkt)
			if err != nil || res.Reason == trace.NotForwarding || res.Delivered() {
				continue
			}
			out = append(out, Finding{
				Severity: Error,
				Code:     CodeNoTerminatingRoute,
				Node:     res.At,
				Subnet:   netip.PrefixFrom(leg.pkt.Dst, 32),
				Message:  fmt.Sprintf("path %s: %s from %s stops at %s: %s", p.Name, leg.pkt.Protocol, leg.from, res.At, res.Reason),
			})
		}
	}
	return out
}

// protocolOf returns the protocol of the first class bound to p, so the
// trace exercises the table that class selects.
func protocolOf(pp *policy.Plan, p *topology.Path) policy.Protocol {
	np := pp.Node(p.Source().ID)
	if np == nil {
		return policy.Else
	}
	for _, r := range np.Rules {
		if r.Mark == 0 || r.Path != p.Name {
			continue
		}
		for _, m := range np.Marks {
			if m.Mark == r.Mark {
				return m.Protocol
			}
		}
	}
	return policy.Else
}

func tables(pp *policy.Plan) []Finding {
	var out []Finding
	for _, np := range pp.Nodes() {
		used := make(map[int]bool)
		for _, r := range np.Rules {
			used[r.Table] = true
			tbl := np.Table(r.Table)
			if tbl == nil || len(tbl.Routes) == 0 {
				out = append(out, Finding{
					Severity: Error,
					Code:     CodeDanglingRule,
					Node:     np.Node,
					Message:  fmt.Sprintf("rule %q selects table %d which has no routes", r, r.Table),
				})
			}
		}
		for _, tbl := range np.Tables {
			if !used[tbl.ID] {
				out = append(out, Finding{
					Severity: Warning,
					Code:     CodeUnusedTable,
					Node:     np.Node,
					Message:  fmt.Sprintf("table %d (%s) is not selected by any rule", tbl.ID, tbl.Name),
				})
			}
		}
	}
	return out
}
