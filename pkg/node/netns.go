package node

import (
	"net"
	"net/netip"

	"github.com/containernetworking/plugins/pkg/ip"
	"github.com/containernetworking/plugins/pkg/ns"
	"github.com/pkg/errors"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"Multipath/pkg/policy"
	"Multipath/pkg/route"
	"Multipath/pkg/util"
)

// Do runs fn inside the network namespace of node.
func (cm *ContainerManager) Do(name string, fn func(ns.NetNS) error) error {
	path := cm.NetNs(name)
	if path == "" {
		return errors.Errorf("node %s has no network namespace", name)
	}
	netns, err := ns.GetNS(path)
	if err != nil {
		return errors.Wrapf(err, "failed to get namespace of %s", name)
	}
	defer netns.Close()
	return netns.Do(fn)
}

// AddrAdd assigns prefix to iface and brings it up.
func (cm *ContainerManager) AddrAdd(name, iface string, prefix netip.Prefix) error {
	return cm.Do(name, func(_ ns.NetNS) error {
		link, err := netlink.LinkByName(iface)
		if err != nil {
			return errors.Wrapf(err, "failed to find %s", iface)
		}
		if err = netlink.AddrAdd(link, &netlink.Addr{IPNet: util.ToIPNet(prefix)}); err != nil {
			return errors.Wrapf(err, "failed to add %s to %s", prefix, iface)
		}
		return netlink.LinkSetUp(link)
	})
}

func (cm *ContainerManager) EnableForwarding(name string) error {
	return cm.Do(name, func(_ ns.NetNS) error {
		return errors.Wrap(ip.EnableIP4Forward(), "failed to enable forwarding")
	})
}

// RouteAdd installs e in the main table or in e.Table.
func (cm *ContainerManager) RouteAdd(name string, e route.Entry) error {
	return cm.Do(name, func(_ ns.NetNS) error {
		link, err := netlink.LinkByName(e.Dev)
		if err != nil {
			return errors.Wrapf(err, "failed to find %s", e.Dev)
		}
		r := &netlink.Route{
			LinkIndex: link.Attrs().Index,
			Table:     e.Table,
			Scope:     netlink.SCOPE_UNIVERSE,
		}
		if !e.IsDefault() {
			r.Dst = util.ToIPNet(e.Dst)
		}
		if e.Via.IsValid() {
			r.Gw = net.IP(e.Via.AsSlice())
		} else {
			r.Scope = netlink.SCOPE_LINK
		}
		if err = netlink.RouteAdd(r); err != nil {
			return errors.Wrapf(err, "failed to add route %s", e)
		}
		return nil
	})
}

// RuleAdd installs a policy rule keyed on fwmark or on source address.
func (cm *ContainerManager) RuleAdd(name string, r policy.Rule) error {
	return cm.Do(name, func(_ ns.NetNS) error {
		rule := netlink.NewRule()
		rule.Family = unix.AF_INET
		rule.Table = r.Table
		rule.Priority = r.Priority
		if r.Mark != 0 {
			rule.Mark = r.Mark
		} else {
			rule.Src = util.ToIPNet(netip.PrefixFrom(r.Source, 32))
		}
		if err := netlink.RuleAdd(rule); err != nil {
			return errors.Wrapf(err, "failed to add rule %s", r)
		}
		return nil
	})
}
