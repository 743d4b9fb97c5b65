package address

import (
	"net/netip"

	"Multipath/pkg/topology"
)

// Assign gives the segments of t the prefixes in order, with no overlap
// checks, so tests can build addressings Allocate would refuse.
func Assign(t *topology.Topology, prefixes ...netip.Prefix) (*Addressing, error) {
	a := newAddressing()
	for i, s := range t.Segments() {
		if err := a.addSubnet(s, prefixes[i], s.Interfaces()); err != nil {
			return nil, err
		}
	}
	return a, nil
}
