package pkg

import (
	"context"
	"fmt"
	"net/netip"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"Multipath/api"
	"Multipath/pkg/apply"
	"Multipath/pkg/emit"
	"Multipath/pkg/link"
	"Multipath/pkg/node"
	"Multipath/pkg/ovs"
	"Multipath/pkg/topology"
)

// Manager realizes a topology on the local machine: containers for hosts and
// routers, OVS bridges for switches, veth pairs for links. It implements
// apply.NativeHost.
type Manager struct {
	om     *ovs.OvsManager
	lm     *link.LinkManager
	cm     *node.ContainerManager
	logger *zap.Logger

	mu     sync.Mutex
	roles  map[string]topology.Role
	images map[string]string
}

var _ apply.NativeHost = (*Manager)(nil)

func NewManager(image string, logger *zap.Logger) (*Manager, error) {
	om := ovs.NewOvsManager(logger)
	cm, err := node.NewContainerManager(image, logger)
	if err != nil {
		return nil, err
	}
	return &Manager{
		om:     om,
		lm:     link.NewLinkManager(om, logger),
		cm:     cm,
		logger: logger,
		roles:  make(map[string]topology.Role),
		images: make(map[string]string),
	}, nil
}

// SetImage overrides the container image of one node. It must be called
// before the node is created.
func (m *Manager) SetImage(id, image string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.images[id] = image
}

func (m *Manager) role(id string) (topology.Role, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[id]
	return r, ok
}

func (m *Manager) CreateNode(ctx context.Context, id string, role topology.Role) error {
	if _, existed := m.role(id); existed {
		return errors.Errorf("node %s already exists", id)
	}
	var err error
	if role == topology.Switch {
		err = m.om.CreateBridge(id)
	} else {
		m.mu.Lock()
		image := m.images[id]
		m.mu.Unlock()
		err = m.cm.AddNode(ctx, id, image)
	}
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.roles[id] = role
	m.mu.Unlock()
	return nil
}

func (m *Manager) end(id string, idx int) (link.End, error) {
	role, ok := m.role(id)
	if !ok {
		return link.End{}, errors.Errorf("node %s not found", id)
	}
	e := link.End{Name: fmt.Sprintf("%s-eth%d", id, idx)}
	if role == topology.Switch {
		e.Bridge = id
	} else {
		e.NetNs = m.cm.NetNs(id)
	}
	return e, nil
}

// CreateLink wires a veth pair between two nodes and shapes the egress of
// every non-switch end.
func (m *Manager) CreateLink(ctx context.Context, a string, ia int, b string, ib int, props api.LinkProperties) error {
	ea, err := m.end(a, ia)
	if err != nil {
		return err
	}
	eb, err := m.end(b, ib)
	if err != nil {
		return err
	}
	if err = m.lm.CreateLink(ea, eb); err != nil {
		return err
	}
	for _, e := range []link.End{ea, eb} {
		if e.Bridge != "" {
			continue
		}
		if err = m.lm.Shape(e.NetNs, e.Name, props); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) SetInterfaceAddress(ctx context.Context, id, iface string, prefix netip.Prefix) error {
	return m.cm.AddrAdd(id, iface, prefix)
}

func (m *Manager) EnableForwarding(ctx context.Context, id string) error {
	return m.cm.EnableForwarding(id)
}

func (m *Manager) RunCommand(ctx context.Context, id, line string) (apply.Output, error) {
	out, code, err := m.cm.Exec(ctx, id, line)
	return apply.Output{Stdout: out, ExitCode: code}, err
}

// ApplyNative programs routes, rules and marks through netlink and nftables.
func (m *Manager) ApplyNative(ctx context.Context, c emit.Command) (bool, error) {
	switch c.Kind {
	case emit.KindRoute, emit.KindTableRoute:
		return true, m.cm.RouteAdd(c.Node, *c.Route)
	case emit.KindRule:
		return true, m.cm.RuleAdd(c.Node, *c.Rule)
	case emit.KindMark:
		return true, m.cm.MarkAdd(c.Node, *c.Mark)
	}
	return false, nil
}

// Destroy removes every container and bridge created by this manager.
func (m *Manager) Destroy(ctx context.Context) error {
	cerr := m.cm.DeleteAll(ctx)
	berr := m.om.DeleteAll()
	m.mu.Lock()
	m.roles = make(map[string]topology.Role)
	m.mu.Unlock()
	if cerr != nil {
		return cerr
	}
	return berr
}
