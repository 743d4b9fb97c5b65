package ovs

import (
	"sync"

	"github.com/digitalocean/go-openvswitch/ovs"
	"github.com/pkg/errors"
	"github.com/vishvananda/netlink"
	"go.uber.org/zap"
)

// OvsManager keeps one bridge per switch node. Every bridge carries a single
// NORMAL flow so it behaves as a learning switch.
type OvsManager struct {
	oClient *ovs.Client
	logger  *zap.Logger

	mu      sync.Mutex
	bridges []string
}

func NewOvsManager(logger *zap.Logger) *OvsManager {
	return &OvsManager{oClient: ovs.New(), logger: logger}
}

func (om *OvsManager) CreateBridge(bridge string) error {
	if err := om.oClient.VSwitch.AddBridge(bridge); err != nil {
		return errors.Wrapf(err, "failed to add bridge %s", bridge)
	}
	om.mu.Lock()
	om.bridges = append(om.bridges, bridge)
	om.mu.Unlock()

	if err := om.oClient.OpenFlow.AddFlow(bridge, &ovs.Flow{
		Priority: 0,
		Actions:  []ovs.Action{ovs.Normal()},
	}); err != nil {
		return errors.Wrapf(err, "failed to add normal flow to %s", bridge)
	}

	link, err := netlink.LinkByName(bridge)
	if err != nil {
		return errors.Wrapf(err, "failed to find bridge interface %s", bridge)
	}
	if err = netlink.LinkSetUp(link); err != nil {
		return errors.Wrapf(err, "failed to bring up bridge %s", bridge)
	}
	om.logger.Debug("bridge created", zap.String("bridge", bridge))
	return nil
}

func (om *OvsManager) DeleteBridge(bridge string) error {
	if err := om.oClient.VSwitch.DeleteBridge(bridge); err != nil {
		return errors.Wrapf(err, "failed to delete bridge %s", bridge)
	}
	return nil
}

// AddPort brings up the host side of a veth pair and plugs it into bridge.
func (om *OvsManager) AddPort(bridge, veth string) error {
	link, err := netlink.LinkByName(veth)
	if err != nil {
		return errors.Wrapf(err, "failed to find veth interface %s", veth)
	}
	if err = netlink.LinkSetUp(link); err != nil {
		return errors.Wrapf(err, "failed to bring up veth interface %s", veth)
	}
	if err = om.oClient.VSwitch.AddPort(bridge, veth); err != nil {
		return errors.Wrapf(err, "failed to add %s to bridge %s", veth, bridge)
	}
	return nil
}

// Bridges returns the bridges created so far.
func (om *OvsManager) Bridges() []string {
	om.mu.Lock()
	defer om.mu.Unlock()
	return append([]string(nil), om.bridges...)
}

// DeleteAll removes every bridge this manager created and reports the first
// failure.
func (om *OvsManager) DeleteAll() error {
	var first error
	for _, br := range om.Bridges() {
		if err := om.DeleteBridge(br); err != nil {
			om.logger.Warn("bridge not removed", zap.String("bridge", br), zap.Error(err))
			if first == nil {
				first = err
			}
		}
	}
	om.mu.Lock()
	om.bridges = nil
	om.mu.Unlock()
	return first
}
