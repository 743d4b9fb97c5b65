package apply

import (
	"context"
	"fmt"
	"net/netip"
	"sync"

	"go.uber.org/zap"

	"Multipath/api"
	"Multipath/pkg/topology"
)

// DryRunHost records every call instead of touching the system.
type DryRunHost struct {
	logger *zap.Logger

	mu    sync.Mutex
	calls []string
	lines map[string][]string
}

func NewDryRunHost(logger *zap.Logger) *DryRunHost {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DryRunHost{logger: logger, lines: make(map[string][]string)}
}

func (d *DryRunHost) record(node, line string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, node+": "+line)
	if node != "" {
		d.lines[node] = append(d.lines[node], line)
	}
	d.logger.Info("[DRY-RUN]", zap.String("node", node), zap.String("command", line))
}

func (d *DryRunHost) CreateNode(_ context.Context, id string, role topology.Role) error {
	d.record(id, fmt.Sprintf("create %s %s", role, id))
	return nil
}

func (d *DryRunHost) CreateLink(_ context.Context, a string, ia int, b string, ib int, props api.LinkProperties) error {
	line := fmt.Sprintf("link %s-eth%d <-> %s-eth%d", a, ia, b, ib)
	if props.Shaped() {
		line += fmt.Sprintf(" rate %d latency %dms loss %.2f%%", props.Rate, props.Latency, props.Loss)
	}
	d.record("", line)
	return nil
}

func (d *DryRunHost) SetInterfaceAddress(_ context.Context, node, iface string, prefix netip.Prefix) error {
	d.record(node, fmt.Sprintf("ip addr add %s dev %s", prefix, iface))
	return nil
}

func (d *DryRunHost) EnableForwarding(_ context.Context, node string) error {
	d.record(node, "sysctl -w net.ipv4.ip_forward=1")
	return nil
}

func (d *DryRunHost) RunCommand(_ context.Context, node, line string) (Output, error) {
	d.record(node, line)
	return Output{}, nil
}

// Calls returns every recorded call in order, prefixed with the node.
func (d *DryRunHost) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

// Lines returns the commands recorded for node.
func (d *DryRunHost) Lines(node string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.lines[node]...)
}
