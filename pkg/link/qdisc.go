package link

import (
	"github.com/containernetworking/plugins/pkg/ns"
	"github.com/pkg/errors"
	"github.com/vishvananda/netlink"
	"go.uber.org/zap"

	"Multipath/api"
)

// Shape limits the egress of iface in the namespace netns.
//
//	tc qdisc add dev eth0 root handle 1: htb default 1
//	tc class add dev eth0 parent 1: classid 1:1 htb rate 10mbit burst 10000
//	tc qdisc add dev eth0 parent 1:1 handle 10: netem delay 100ms loss 1%
//
// Without a rate the netem qdisc is installed at the root instead.
func (lm *LinkManager) Shape(netns, iface string, p api.LinkProperties) error {
	if !p.Shaped() {
		return nil
	}
	apply := func() error {
		link, err := netlink.LinkByName(iface)
		if err != nil {
			return errors.Wrapf(err, "failed to find %s", iface)
		}
		idx := link.Attrs().Index

		netemParent := uint32(netlink.HANDLE_ROOT)
		if p.Rate > 0 {
			root := netlink.NewHtb(netlink.QdiscAttrs{
				LinkIndex: idx,
				Handle:    netlink.MakeHandle(1, 0),
				Parent:    netlink.HANDLE_ROOT,
			})
			root.Defcls = 1
			if err = netlink.QdiscAdd(root); err != nil {
				return errors.Wrapf(err, "failed to add htb root qdisc on %s", iface)
			}

			class := netlink.NewHtbClass(
				netlink.ClassAttrs{
					LinkIndex: idx,
					Handle:    netlink.MakeHandle(1, 1),
					Parent:    netlink.MakeHandle(1, 0),
				},
				netlink.HtbClassAttrs{
					Rate:   p.Rate * 1000 * 1000, // mbit
					Buffer: 10000,
					Prio:   1,
				},
			)
			if err = netlink.ClassAdd(class); err != nil {
				return errors.Wrapf(err, "failed to add htb class on %s", iface)
			}
			netemParent = netlink.MakeHandle(1, 1)
		}

		if p.Latency == 0 && p.Loss == 0 {
			return nil
		}
		netem := netlink.NewNetem(netlink.QdiscAttrs{
			LinkIndex: idx,
			Parent:    netemParent,
			Handle:    netlink.MakeHandle(10, 0),
		}, netlink.NetemQdiscAttrs{
			Latency: p.Latency * 1000, // ms -> us
			Loss:    p.Loss,
			Limit:   300000,
		})
		if err = netlink.QdiscAdd(netem); err != nil {
			return errors.Wrapf(err, "failed to add netem qdisc on %s", iface)
		}
		return nil
	}

	lm.logger.Debug("shaping link",
		zap.String("iface", iface),
		zap.Uint64("rate_mbit", p.Rate),
		zap.Uint32("latency_ms", p.Latency),
		zap.Float32("loss_pct", p.Loss))

	if netns == "" {
		return apply()
	}
	target, err := ns.GetNS(netns)
	if err != nil {
		return errors.Wrapf(err, "failed to get namespace %s", netns)
	}
	defer target.Close()
	return target.Do(func(_ ns.NetNS) error { return apply() })
}
