package link

import (
	"net"

	"github.com/containernetworking/plugins/pkg/ns"
	"github.com/pkg/errors"
	"github.com/vishvananda/netlink"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"Multipath/pkg/ovs"
)

// End is one side of a veth pair. An end with NetNs is moved into that
// namespace; an end with Bridge stays in the root namespace and is plugged
// into the bridge.
type End struct {
	Name   string
	NetNs  string
	Bridge string
}

type LinkManager struct {
	om     *ovs.OvsManager
	logger *zap.Logger
}

func NewLinkManager(o *ovs.OvsManager, logger *zap.Logger) *LinkManager {
	return &LinkManager{om: o, logger: logger}
}

// CreateLink creates a veth pair named after both ends and places each end.
func (lm *LinkManager) CreateLink(a, b End) error {
	for _, e := range []End{a, b} {
		if len(e.Name) >= unix.IFNAMSIZ {
			return errors.Errorf("interface name %s is longer than %d bytes", e.Name, unix.IFNAMSIZ-1)
		}
	}

	linkAttr := netlink.NewLinkAttrs()
	linkAttr.Name = a.Name
	linkAttr.MTU = 1500
	linkAttr.Flags = net.FlagUp
	veth := &netlink.Veth{
		LinkAttrs: linkAttr,
		PeerName:  b.Name,
	}
	if err := netlink.LinkAdd(veth); err != nil {
		return errors.Wrapf(err, "failed to create veth pair %s/%s", a.Name, b.Name)
	}

	for _, e := range []End{a, b} {
		if err := lm.place(e); err != nil {
			return err
		}
	}
	lm.logger.Debug("veth created", zap.String("a", a.Name), zap.String("b", b.Name))
	return nil
}

func (lm *LinkManager) place(e End) error {
	if e.Bridge != "" {
		return lm.om.AddPort(e.Bridge, e.Name)
	}

	link, err := netlink.LinkByName(e.Name)
	if err != nil {
		return errors.Wrapf(err, "failed to find %s", e.Name)
	}
	if e.NetNs == "" {
		return netlink.LinkSetUp(link)
	}

	target, err := ns.GetNS(e.NetNs)
	if err != nil {
		return errors.Wrapf(err, "failed to get namespace %s", e.NetNs)
	}
	defer target.Close()

	if err = netlink.LinkSetNsFd(link, int(target.Fd())); err != nil {
		return errors.Wrapf(err, "failed to move %s into %s", e.Name, e.NetNs)
	}
	return target.Do(func(_ ns.NetNS) error {
		inner, err := netlink.LinkByName(e.Name)
		if err != nil {
			return errors.Wrapf(err, "failed to find %s in container namespace", e.Name)
		}
		return netlink.LinkSetUp(inner)
	})
}
