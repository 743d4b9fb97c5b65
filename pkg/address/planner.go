package address

import (
	"net/netip"

	"go4.org/netipx"

	"Multipath/pkg/errs"
	"Multipath/pkg/topology"
)

const DefaultBlockBits = 24

var DefaultPool = netip.MustParsePrefix("10.0.0.0/16")

// Planner hands out one subnet per segment from a pool of fixed-size blocks.
type Planner struct {
	pool      netip.Prefix
	blockBits int
}

func NewPlanner(pool netip.Prefix, blockBits int) *Planner {
	if !pool.IsValid() {
		pool = DefaultPool
	}
	if blockBits <= 0 {
		blockBits = DefaultBlockBits
	}
	return &Planner{pool: pool.Masked(), blockBits: blockBits}
}

func (p *Planner) Pool() netip.Prefix { return p.pool }

// Allocate assigns a subnet to every segment and an address to every L3
// interface. Explicit addresses are reserved first, the remaining segments
// draw blocks from the pool in declaration order. The topology is not modified.
func (p *Planner) Allocate(t *topology.Topology) (*Addressing, error) {
	a := newAddressing()
	segs := t.Segments()

	if p.blockBits < p.pool.Bits() || p.blockBits > 30 {
		return nil, errs.New(errs.ErrAddressSpaceExhausted, p.pool.String(), "block size /%d does not fit the pool", p.blockBits)
	}

	explicit := make(map[*topology.Segment]netip.Prefix)
	var b netipx.IPSetBuilder
	b.AddPrefix(p.pool)
	for _, s := range segs {
		pfx, err := explicitSubnet(s)
		if err != nil {
			return nil, err
		}
		if !pfx.IsValid() {
			continue
		}
		for _, other := range segs {
			if q, ok := explicit[other]; ok && q.Overlaps(pfx) {
				return nil, errs.New(errs.ErrConflictingAssignment, pfx.String(),
					"overlaps %s on %s", q, other.Links[0])
			}
		}
		explicit[s] = pfx
		b.RemovePrefix(pfx)
	}
	free, err := b.IPSet()
	if err != nil {
		return nil, errs.New(errs.ErrAddressSpaceExhausted, p.pool.String(), "%v", err)
	}

	cursor := netip.PrefixFrom(p.pool.Addr(), p.blockBits)
	for _, s := range segs {
		ifaces := s.Interfaces()
		if len(ifaces) == 0 {
			continue
		}
		pfx, ok := explicit[s]
		if !ok {
			for {
				if !cursor.IsValid() || !p.pool.Contains(cursor.Addr()) {
					return nil, errs.New(errs.ErrAddressSpaceExhausted, p.pool.String(),
						"no free /%d left for %s", p.blockBits, s.Links[0])
				}
				if free.ContainsPrefix(cursor) {
					pfx = cursor
				}
				cursor = nextBlock(cursor)
				if pfx.IsValid() {
					break
				}
			}
		}
		if err := a.addSubnet(s, pfx, ifaces); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func nextBlock(p netip.Prefix) netip.Prefix {
	next := netipx.PrefixLastIP(p).Next()
	if !next.IsValid() {
		return netip.Prefix{}
	}
	return netip.PrefixFrom(next, p.Bits())
}

// explicitSubnet returns the subnet a segment's declaration pins, or an
// invalid prefix if it pins none.
func explicitSubnet(s *topology.Segment) (netip.Prefix, error) {
	var pfx netip.Prefix
	var from string
	agree := func(q netip.Prefix, who string) error {
		q = q.Masked()
		if !pfx.IsValid() {
			pfx, from = q, who
			return nil
		}
		if pfx != q {
			return errs.New(errs.ErrConflictingAssignment, who, "%s disagrees with %s from %s", q, pfx, from)
		}
		return nil
	}

	seen := make(map[netip.Addr]string)
	for _, l := range s.Links {
		if l.Subnet.IsValid() {
			if err := agree(l.Subnet, l.String()); err != nil {
				return netip.Prefix{}, err
			}
		}
		for _, i := range []*topology.Interface{l.A, l.B} {
			if !i.Address.IsValid() {
				continue
			}
			if i.Node.Role == topology.Switch {
				return netip.Prefix{}, errs.New(errs.ErrConflictingAssignment, i.Name(), "switch interfaces carry no address")
			}
			if owner, dup := seen[i.Address.Addr()]; dup {
				return netip.Prefix{}, errs.New(errs.ErrConflictingAssignment, i.Name(), "%s already assigned to %s", i.Address.Addr(), owner)
			}
			if err := hostAddress(i); err != nil {
				return netip.Prefix{}, err
			}
			seen[i.Address.Addr()] = i.Name()
			if err := agree(i.Address, i.Name()); err != nil {
				return netip.Prefix{}, err
			}
		}
	}
	return pfx, nil
}

// hostAddress rejects the network and broadcast addresses of blocks wider
// than /31.
func hostAddress(i *topology.Interface) error {
	pfx := i.Address.Masked()
	if pfx.Bits() >= 31 {
		return nil
	}
	switch i.Address.Addr() {
	case pfx.Addr():
		return errs.New(errs.ErrConflictingAssignment, i.Name(), "%s is the network address of %s", i.Address.Addr(), pfx)
	case netipx.PrefixLastIP(pfx):
		return errs.New(errs.ErrConflictingAssignment, i.Name(), "%s is the broadcast address of %s", i.Address.Addr(), pfx)
	}
	return nil
}
