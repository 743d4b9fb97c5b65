package policy

import (
	"fmt"
	"net/netip"
	"strings"

	"Multipath/pkg/route"
)

// Protocol is the transport predicate of a traffic class. Else matches
// whatever no other class of the same origin matched.
type Protocol int

const (
	Else Protocol = iota
	TCP
	UDP
	ICMP
)

func (p Protocol) String() string {
	switch p {
	case Else:
		return "else"
	case TCP:
		return "tcp"
	case UDP:
		return "udp"
	case ICMP:
		return "icmp"
	}
	return fmt.Sprintf("proto(%d)", int(p))
}

// Number returns the IP protocol number, 0 for Else.
func (p Protocol) Number() uint8 {
	switch p {
	case TCP:
		return 6
	case UDP:
		return 17
	case ICMP:
		return 1
	}
	return 0
}

func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "else", "other", "any", "":
		return Else, nil
	case "tcp":
		return TCP, nil
	case "udp":
		return UDP, nil
	case "icmp":
		return ICMP, nil
	}
	return 0, fmt.Errorf("unknown protocol %q", s)
}

// TrafficClass binds a protocol predicate to a declared path.
type TrafficClass struct {
	Name     string
	Protocol Protocol
	Path     string
}

// Marking sets Mark on locally generated packets of Protocol. The Else
// marking only touches packets that are still unmarked.
type Marking struct {
	Node     string
	Protocol Protocol
	Mark     uint32
	Class    string
}

// Rule selects Table for packets carrying Mark, or for packets whose source
// address is Source when Mark is zero.
type Rule struct {
	Node     string
	Priority int
	Mark     uint32
	Source   netip.Addr
	Table    int
	Class    string
	Path     string
}

func (r Rule) String() string {
	if r.Mark != 0 {
		return fmt.Sprintf("%d: from all fwmark 0x%x lookup %d", r.Priority, r.Mark, r.Table)
	}
	return fmt.Sprintf("%d: from %s lookup %d", r.Priority, r.Source, r.Table)
}

// Table is a policy routing table and the routes it holds.
type Table struct {
	ID     int
	Name   string
	Path   string
	Routes []route.Entry
}

// NodePolicy is everything the planner decided for one node.
type NodePolicy struct {
	Node   string
	Marks  []Marking
	Rules  []Rule
	Tables []*Table
}

func (np *NodePolicy) Table(id int) *Table {
	for _, t := range np.Tables {
		if t.ID == id {
			return t
		}
	}
	return nil
}

const CodeAsymmetricPathRisk = "AsymmetricPathRisk"

// Warning is a non-fatal planner diagnostic.
type Warning struct {
	Code    string
	Node    string
	Path    string
	Message string
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s (path %s): %s", w.Code, w.Node, w.Path, w.Message)
}

// Packet is the subset of header fields policy routing looks at.
type Packet struct {
	Protocol Protocol
	Src      netip.Addr
	Dst      netip.Addr
}

// Decision is the outcome of a policy lookup.
type Decision struct {
	Mark  uint32
	Rule  Rule
	Table *Table
	Route route.Entry
}
