package util

import (
	"fmt"
	"net"
	"net/netip"
	"regexp"

	"go4.org/netipx"
)

var ipv4CIDR = regexp.MustCompile(`^([0-9]{1,3}\.){3}[0-9]{1,3}/([8-9]|1[0-9]|2[0-9]|3[0-2])$`)

// ParseInterfacePrefix parses an interface address such as 192.168.1.1/24.
// Only IPv4 with a prefix length between 8 and 32 is accepted, and the
// address must not be the network or broadcast address of its subnet.
func ParseInterfacePrefix(s string) (netip.Prefix, error) {
	if !ipv4CIDR.MatchString(s) {
		return netip.Prefix{}, fmt.Errorf("invalid interface address %q", s)
	}
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid interface address %q: %v", s, err)
	}
	if p.Bits() < 31 {
		if p.Addr() == p.Masked().Addr() {
			return netip.Prefix{}, fmt.Errorf("%s is a network address", s)
		}
		if p.Addr() == netipx.PrefixLastIP(p) {
			return netip.Prefix{}, fmt.Errorf("%s is a broadcast address", s)
		}
	}
	return p, nil
}

// ParseSubnet parses a subnet and returns it in canonical (masked) form.
func ParseSubnet(s string) (netip.Prefix, error) {
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid subnet %q: %v", s, err)
	}
	if !p.Addr().Is4() {
		return netip.Prefix{}, fmt.Errorf("only IPv4 subnets are supported: %s", s)
	}
	return p.Masked(), nil
}

// ToIPNet converts a prefix to the net.IPNet form netlink expects. The
// address is kept as given, so interface prefixes keep their host part.
func ToIPNet(p netip.Prefix) *net.IPNet {
	return &net.IPNet{
		IP:   net.IP(p.Addr().AsSlice()),
		Mask: net.CIDRMask(p.Bits(), p.Addr().BitLen()),
	}
}
