package address

import (
	"net/netip"

	"go4.org/netipx"

	"Multipath/pkg/errs"
	"Multipath/pkg/topology"
)

// Subnet is the address block of one segment and the interfaces it addresses.
type Subnet struct {
	Prefix     netip.Prefix
	Segment    *topology.Segment
	Interfaces []*topology.Interface
}

// Addressing is the immutable result of Allocate.
type Addressing struct {
	subnets []*Subnet
	bySeg   map[*topology.Segment]*Subnet
	addrs   map[*topology.Interface]netip.Addr
	owners  map[netip.Addr]*topology.Interface
}

func newAddressing() *Addressing {
	return &Addressing{
		bySeg:  make(map[*topology.Segment]*Subnet),
		addrs:  make(map[*topology.Interface]netip.Addr),
		owners: make(map[netip.Addr]*topology.Interface),
	}
}

func (a *Addressing) addSubnet(s *topology.Segment, pfx netip.Prefix, ifaces []*topology.Interface) error {
	sub := &Subnet{Prefix: pfx, Segment: s}

	used := make(map[netip.Addr]bool)
	for _, i := range ifaces {
		if i.Address.IsValid() {
			used[i.Address.Addr()] = true
		}
	}
	next, last := firstHost(pfx), lastHost(pfx)
	for _, i := range ifaces {
		addr := i.Address.Addr()
		if !i.Address.IsValid() {
			for next.IsValid() && used[next] {
				next = next.Next()
			}
			if !next.IsValid() || next.Compare(last) > 0 {
				return errs.New(errs.ErrAddressSpaceExhausted, pfx.String(), "no host address left for %s", i.Name())
			}
			addr = next
			used[addr] = true
		}
		sub.Interfaces = append(sub.Interfaces, i)
		a.addrs[i] = addr
		a.owners[addr] = i
	}
	a.subnets = append(a.subnets, sub)
	a.bySeg[s] = sub
	return nil
}

func firstHost(p netip.Prefix) netip.Addr {
	if p.Bits() >= 31 {
		return p.Addr()
	}
	return p.Addr().Next()
}

func lastHost(p netip.Prefix) netip.Addr {
	last := netipx.PrefixLastIP(p)
	if p.Bits() >= 31 {
		return last
	}
	return last.Prev()
}

// Subnets returns every allocated subnet in segment order.
func (a *Addressing) Subnets() []*Subnet { return a.subnets }

func (a *Addressing) SubnetOf(s *topology.Segment) *Subnet { return a.bySeg[s] }

func (a *Addressing) SubnetOfIface(i *topology.Interface) *Subnet {
	for _, s := range a.subnets {
		for _, x := range s.Interfaces {
			if x == i {
				return s
			}
		}
	}
	return nil
}

// Address returns the host address of an L3 interface.
func (a *Addressing) Address(i *topology.Interface) (netip.Addr, bool) {
	addr, ok := a.addrs[i]
	return addr, ok
}

// Prefix returns the interface address with the subnet's prefix length,
// as it is configured on the interface.
func (a *Addressing) Prefix(i *topology.Interface) netip.Prefix {
	addr, ok := a.addrs[i]
	if !ok {
		return netip.Prefix{}
	}
	return netip.PrefixFrom(addr, a.SubnetOfIface(i).Prefix.Bits())
}

// Owner returns the interface holding addr, or nil.
func (a *Addressing) Owner(addr netip.Addr) *topology.Interface { return a.owners[addr] }

// SubnetsOf returns the subnets n is attached to, in interface order.
func (a *Addressing) SubnetsOf(n *topology.Node) []*Subnet {
	var out []*Subnet
	seen := make(map[*Subnet]bool)
	for _, i := range n.Interfaces {
		s := a.SubnetOfIface(i)
		if s != nil && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
